/*Package schema implements the field-schema model of the universal panel.

A Schema maps field names to inferred or manually declared fields. Schemas
are produced by normalizing raw sampling statistics (Normalize), refreshed
against an earlier snapshot (Merge) and edited through share links (Apply).
*/
package schema

import (
	"strings"
	"time"
)

// IdentityField is the reserved name of the document identity field. It is
// never part of a schema and never offered as an editable form field.
const IdentityField = "_id"

// FieldType is the inferred value type of a schema field
type FieldType string

// all field types observed by the sampler
const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
	TypeNull    FieldType = "null"
	TypeBinary  FieldType = "binary"
	// TypeMixed is used when no single type could be established
	TypeMixed FieldType = "mixed"
)

// Provenance records where a schema field came from
type Provenance string

const (
	// ProvenanceDatabase marks fields produced by the last sampling pass
	ProvenanceDatabase Provenance = "database"
	// ProvenanceManual marks fields declared by a developer or by a
	// client through a share link
	ProvenanceManual Provenance = "manual"
)

// FormType is the widget hint for client-facing data entry forms
type FormType string

// all form widget hints
const (
	FormText     FormType = "text"
	FormEmail    FormType = "email"
	FormTel      FormType = "tel"
	FormNumber   FormType = "number"
	FormDate     FormType = "date"
	FormCheckbox FormType = "checkbox"
	FormArray    FormType = "array"
)

// FieldStats carries derived per-field statistics from the sampler. They
// are used for placeholder text and diagnostics, they are not authoritative.
type FieldStats struct {
	Examples     []string `json:"examples,omitempty"`
	UniqueValues []string `json:"unique_values,omitempty"`
	Pattern      string   `json:"pattern,omitempty"`
	MinLength    *int     `json:"min_length,omitempty"`
	MaxLength    *int     `json:"max_length,omitempty"`
	AvgLength    *float64 `json:"avg_length,omitempty"`
	MinValue     *float64 `json:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty"`
	AvgValue     *float64 `json:"avg_value,omitempty"`
	ArrayItems   string   `json:"array_items,omitempty"`
}

// Field is one inferred or manually declared field of a collection's
// schema. The field name is the schema map key.
type Field struct {
	Type        FieldType         `json:"type"`
	Occurrences int               `json:"occurrences"`
	TotalDocs   int               `json:"total_docs"`
	Frequency   float64           `json:"frequency"`
	AllTypes    map[FieldType]int `json:"all_types,omitempty"`
	Required    bool              `json:"required"`
	FormType    FormType          `json:"form_type"`
	Stats       *FieldStats       `json:"stats,omitempty"`
	Provenance  Provenance        `json:"provenance"`

	LastAnalyzedAt time.Time `json:"last_analyzed_at,omitempty"`
	AddedAt        time.Time `json:"added_at,omitempty"`
}

// Schema maps field names to fields. There is exactly one field per name
// per snapshot. Order is irrelevant.
type Schema map[string]Field

// Clone returns a copy of the schema. Mutating the clone's map never
// affects the original.
func (s Schema) Clone() Schema {
	c := make(Schema, len(s))
	for name, field := range s {
		c[name] = field
	}
	return c
}

// RawField is the per-field raw statistics record returned by the field
// sampler: a histogram of observed types plus derived statistics.
type RawField struct {
	Types       map[FieldType]int `json:"types"`
	Occurrences int               `json:"occurrences"`
	TotalDocs   int               `json:"total_docs"`
	Stats       *FieldStats       `json:"stats,omitempty"`
}

// DeriveFormType maps a field name and type to a form widget hint.
// Naming heuristics win over the type: a string field called
// "contact_email" renders as an email input. First match wins.
func DeriveFormType(name string, t FieldType) FormType {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "email"):
		return FormEmail
	case strings.Contains(lower, "phone"), strings.Contains(lower, "tel"):
		return FormTel
	case t == TypeNumber:
		return FormNumber
	case t == TypeBoolean:
		return FormCheckbox
	case t == TypeDate:
		return FormDate
	case t == TypeArray:
		return FormArray
	}
	return FormText
}
