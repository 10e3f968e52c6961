package share

import (
	"sort"
	"strings"

	"github.com/unipanel/backend/core/schema"
)

// FormField is a UI-agnostic descriptor of one input field for the
// client-facing data entry form.
type FormField struct {
	Name        string          `json:"name"`
	Label       string          `json:"label"`
	FormType    schema.FormType `json:"form_type"`
	Required    bool            `json:"required"`
	Placeholder string          `json:"placeholder,omitempty"`
}

// FormFields renders the schema into form-field descriptors, one per
// non-identity field, ordered by field name. It requires the insert
// permission since the descriptors exist solely to build insertion forms.
func FormFields(s schema.Schema, p Permissions) ([]FormField, error) {
	if !p.CanInsert {
		return nil, ErrPermissionDenied
	}

	fields := make([]FormField, 0, len(s))
	for name, field := range s {
		if name == schema.IdentityField {
			continue
		}
		descriptor := FormField{
			Name:     name,
			Label:    labelFor(name),
			FormType: field.FormType,
			Required: field.Required,
		}
		if field.Stats != nil && len(field.Stats.Examples) > 0 {
			descriptor.Placeholder = field.Stats.Examples[0]
		}
		fields = append(fields, descriptor)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields, nil
}

// labelFor turns a field name into a human readable label,
// "contact_email" becomes "Contact Email".
func labelFor(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || r == '.'
	})
	for i, part := range parts {
		if len(part) > 0 {
			parts[i] = strings.ToUpper(part[:1]) + part[1:]
		}
	}
	return strings.Join(parts, " ")
}
