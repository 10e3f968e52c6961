package schema

import (
	"errors"
	"fmt"
	"time"
)

// errors returned by Apply
var (
	// ErrDuplicateField is returned when a field with the requested
	// name already exists, regardless of its provenance
	ErrDuplicateField = errors.New("duplicate field")
	// ErrFieldNotFound is returned when the requested field does not exist
	ErrFieldNotFound = errors.New("field not found")
	// ErrProtectedField is returned for edits touching the identity field
	ErrProtectedField = errors.New("protected field")
)

// Edit is a single schema modification, either AddField or RemoveField.
type Edit interface {
	isEdit()
}

// AddField declares a new manual field
type AddField struct {
	Name     string
	Type     FieldType
	Required bool
}

func (AddField) isEdit() {}

// RemoveField deletes a field. Removal is provenance-blind: manual and
// database-observed fields are equally removable, only the identity field
// is protected.
type RemoveField struct {
	Name string
}

func (RemoveField) isEdit() {}

// Apply performs one edit on the schema and returns the edited copy. The
// input schema is never mutated, callers decide whether and where to
// persist the result.
func Apply(s Schema, edit Edit, now time.Time) (Schema, error) {
	switch e := edit.(type) {
	case AddField:
		// the identity field implicitly exists in every schema
		if e.Name == IdentityField {
			return nil, fmt.Errorf("cannot add %q: %w", e.Name, ErrDuplicateField)
		}
		if _, ok := s[e.Name]; ok {
			return nil, fmt.Errorf("cannot add %q: %w", e.Name, ErrDuplicateField)
		}
		edited := s.Clone()
		edited[e.Name] = Field{
			Type:       e.Type,
			Required:   e.Required,
			FormType:   DeriveFormType(e.Name, e.Type),
			Provenance: ProvenanceManual,
			AddedAt:    now,
		}
		return edited, nil

	case RemoveField:
		if e.Name == IdentityField {
			return nil, fmt.Errorf("cannot remove %q: %w", e.Name, ErrProtectedField)
		}
		if _, ok := s[e.Name]; !ok {
			return nil, fmt.Errorf("cannot remove %q: %w", e.Name, ErrFieldNotFound)
		}
		edited := s.Clone()
		delete(edited, e.Name)
		return edited, nil
	}
	return nil, fmt.Errorf("unknown edit %T", edit)
}
