package schema

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Validator validates submitted documents against a compiled schema
type Validator struct {
	compiled *gojsonschema.Schema
}

// jsonSchemaTypes maps field types to JSON schema type names. Date values
// arrive as ISO strings on the wire, mixed and binary fields are not
// constrained.
var jsonSchemaTypes = map[FieldType]string{
	TypeString:  "string",
	TypeNumber:  "number",
	TypeBoolean: "boolean",
	TypeDate:    "string",
	TypeArray:   "array",
	TypeObject:  "object",
	TypeNull:    "null",
}

// Compile renders the schema into a JSON schema document and compiles it.
// Required fields become the required list, email fields get the email
// format, and unknown properties are rejected. The identity field is
// always permitted because stores report it back on updates.
func Compile(s Schema) (*Validator, error) {
	properties := map[string]interface{}{
		IdentityField: map[string]interface{}{},
	}
	required := []string{}

	for name, field := range s {
		property := map[string]interface{}{}
		if t, ok := jsonSchemaTypes[field.Type]; ok {
			property["type"] = t
		}
		if field.FormType == FormEmail && field.Type == TypeString {
			property["format"] = "email"
		}
		properties[name] = property
		if field.Required {
			required = append(required, name)
		}
	}

	document := map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		document["required"] = required
	}

	raw, err := json.Marshal(document)
	if err != nil {
		return nil, err
	}
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("cannot compile schema: %w", err)
	}
	return &Validator{compiled: compiled}, nil
}

// ValidateDocument validates one submitted document. If no error is
// returned, the document conforms to the schema.
func (v *Validator) ValidateDocument(doc map[string]interface{}) error {
	result, err := v.compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("cannot validate document: %w", err)
	}
	if !result.Valid() {
		msg := "the document is not valid:\n"
		for _, e := range result.Errors() {
			msg += fmt.Sprintf("- %s\n", e)
		}
		return errors.New(msg)
	}
	return nil
}
