package schema

import "time"

// Normalize converts the sampler's raw per-field statistics into a schema
// with provenance "database".
//
// The type of each field is the most frequently observed type. A field is
// required only when every sampled document carried a value for it; one
// missing occurrence makes it optional. The identity field is dropped, it
// is implicit and never form-editable. An empty sampling result yields an
// empty schema, not an error.
func Normalize(raw map[string]RawField, now time.Time) Schema {
	s := make(Schema, len(raw))
	for name, rf := range raw {
		if name == IdentityField {
			continue
		}
		t := dominantType(rf.Types)
		frequency := 0.0
		if rf.TotalDocs > 0 {
			frequency = float64(rf.Occurrences) / float64(rf.TotalDocs)
		}
		s[name] = Field{
			Type:           t,
			Occurrences:    rf.Occurrences,
			TotalDocs:      rf.TotalDocs,
			Frequency:      frequency,
			AllTypes:       rf.Types,
			Required:       rf.TotalDocs > 0 && rf.Occurrences == rf.TotalDocs,
			FormType:       DeriveFormType(name, t),
			Stats:          rf.Stats,
			Provenance:     ProvenanceDatabase,
			LastAnalyzedAt: now,
		}
	}
	return s
}

// dominantType returns the most frequent type of the histogram. Ties are
// broken towards the lexicographically smaller type name so that the
// result is deterministic.
func dominantType(types map[FieldType]int) FieldType {
	best := TypeMixed
	bestCount := 0
	for t, count := range types {
		if count > bestCount || (count == bestCount && bestCount > 0 && t < best) {
			best = t
			bestCount = count
		}
	}
	return best
}
