package core

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Operation represents an operation a caller can request on a project's
// collection, one of View, Insert, Update, Delete, ModifySchema
type Operation string

// all supported collection operations
const (
	OperationView         Operation = "view"
	OperationInsert       Operation = "insert"
	OperationUpdate       Operation = "update"
	OperationDelete       Operation = "delete"
	OperationModifySchema Operation = "modify_schema"
)

// UnmarshalJSON is a custom JSON unmarshaller
func (o *Operation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*o = Operation(s)
	switch *o {
	case OperationView, OperationInsert, OperationUpdate, OperationDelete, OperationModifySchema:
		return nil
	default:
		return fmt.Errorf("%s is not a valid Operation", s)
	}
}

// Notifier is an interface to receive backend notifications
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte)
}
