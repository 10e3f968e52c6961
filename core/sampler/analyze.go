package sampler

import (
	"reflect"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/unipanel/backend/core/schema"
)

const (
	maxExamples     = 5
	maxUniqueValues = 10
)

// Analyze builds raw per-field statistics from sampled documents. Nested
// documents contribute dot-separated paths ("address.city"). The result
// feeds schema.Normalize.
func Analyze(documents []bson.M) map[string]schema.RawField {
	types := make(map[string]map[schema.FieldType]int)
	stats := make(map[string]*schema.FieldStats)

	for _, doc := range documents {
		analyzeDocument(doc, "", types, stats)
	}

	raw := make(map[string]schema.RawField, len(types))
	for name, histogram := range types {
		// null values do not count as occurrences: required-ness means
		// every sampled document had a non-null value
		occurrences := 0
		for t, count := range histogram {
			if t != schema.TypeNull {
				occurrences += count
			}
		}
		raw[name] = schema.RawField{
			Types:       histogram,
			Occurrences: occurrences,
			TotalDocs:   len(documents),
			Stats:       stats[name],
		}
	}
	return raw
}

func analyzeDocument(doc bson.M, prefix string, types map[string]map[schema.FieldType]int, stats map[string]*schema.FieldStats) {
	for key, value := range doc {
		name := key
		if prefix != "" {
			name = prefix + "." + key
		}

		if types[name] == nil {
			types[name] = make(map[schema.FieldType]int)
		}
		if stats[name] == nil {
			stats[name] = &schema.FieldStats{}
		}

		types[name][valueType(value)]++
		collectStats(value, stats[name])

		if nested, ok := asDocument(value); ok {
			analyzeDocument(nested, name, types, stats)
		}
	}
}

func asDocument(value interface{}) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]interface{}:
		return bson.M(v), true
	}
	return nil, false
}

// valueType maps a BSON value to its schema field type
func valueType(value interface{}) schema.FieldType {
	if value == nil {
		return schema.TypeNull
	}
	switch v := value.(type) {
	case string, primitive.ObjectID:
		return schema.TypeString
	case int, int32, int64, float32, float64:
		return schema.TypeNumber
	case bool:
		return schema.TypeBoolean
	case primitive.DateTime, time.Time:
		return schema.TypeDate
	case []interface{}, primitive.A:
		return schema.TypeArray
	case bson.M, map[string]interface{}:
		return schema.TypeObject
	case primitive.Binary:
		return schema.TypeBinary
	default:
		if rt := reflect.TypeOf(v); rt != nil && rt.Kind() == reflect.Slice {
			return schema.TypeArray
		}
		return schema.TypeMixed
	}
}

func collectStats(value interface{}, stats *schema.FieldStats) {
	switch v := value.(type) {
	case string:
		length := len(v)
		updateIntBound(&stats.MinLength, length, less)
		updateIntBound(&stats.MaxLength, length, greater)
		updateAverage(&stats.AvgLength, float64(length))
		appendLimited(&stats.UniqueValues, v, maxUniqueValues)
		appendLimited(&stats.Examples, v, maxExamples)
		if pattern := detectPattern(v); pattern != "" {
			stats.Pattern = pattern
		}

	case int, int32, int64, float32, float64:
		val := toFloat64(v)
		updateFloatBound(&stats.MinValue, val, less)
		updateFloatBound(&stats.MaxValue, val, greater)
		updateAverage(&stats.AvgValue, val)

	case []interface{}:
		if len(v) > 0 {
			stats.ArrayItems = string(valueType(v[0]))
		}
	case primitive.A:
		if len(v) > 0 {
			stats.ArrayItems = string(valueType(v[0]))
		}

	case primitive.ObjectID:
		appendLimited(&stats.Examples, v.Hex(), maxExamples)
	}
}

type ordering bool

const (
	less    ordering = true
	greater ordering = false
)

func updateIntBound(bound **int, value int, ord ordering) {
	if *bound == nil || (ord == less && value < **bound) || (ord == greater && value > **bound) {
		v := value
		*bound = &v
	}
}

func updateFloatBound(bound **float64, value float64, ord ordering) {
	if *bound == nil || (ord == less && value < **bound) || (ord == greater && value > **bound) {
		v := value
		*bound = &v
	}
}

// updateAverage keeps a running average over the observed values
func updateAverage(avg **float64, value float64) {
	if *avg == nil {
		v := value
		*avg = &v
		return
	}
	**avg = (**avg + value) / 2
}

func appendLimited(list *[]string, value string, limit int) {
	if len(*list) >= limit {
		return
	}
	for _, existing := range *list {
		if existing == value {
			return
		}
	}
	*list = append(*list, value)
}

var patterns = []struct {
	regex *regexp.Regexp
	name  string
}{
	{regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`), "email"},
	{regexp.MustCompile(`^https?://`), "url"},
	{regexp.MustCompile(`^[+]?[1-9][\d]{0,15}$`), "phone"},
	{regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`), "date"},
	{regexp.MustCompile(`^[A-Z]{2,3}\d{4,}$`), "code"},
}

// detectPattern reports a common string pattern, or "" if none matches
func detectPattern(value string) string {
	for _, p := range patterns {
		if p.regex.MatchString(value) {
			return p.name
		}
	}
	return ""
}

func toFloat64(value interface{}) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case float64:
		return v
	}
	return 0
}
