/*Package docstore performs document CRUD against a project's connected
collection. Like the sampler it comes in two flavours, a direct MongoDB
implementation and a remote one that delegates to a deployed access
service.
*/
package docstore

import (
	"context"
	"errors"

	"github.com/unipanel/backend/core/sampler"
)

// errors returned by stores
var (
	// ErrDocumentNotFound is returned when the document id matches nothing
	ErrDocumentNotFound = errors.New("document not found")
	// ErrStoreUnavailable wraps connectivity failures with the target store
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// Page is one page of listed documents
type Page struct {
	Documents []map[string]interface{} `json:"documents"`
	Total     int64                    `json:"total"`
	Limit     int64                    `json:"limit"`
	Skip      int64                    `json:"skip"`
	HasMore   bool                     `json:"has_more"`
}

// Store reads and writes documents of a target collection
type Store interface {
	Insert(ctx context.Context, target sampler.Target, doc map[string]interface{}) (string, error)
	List(ctx context.Context, target sampler.Target, limit, skip int64) (Page, error)
	Update(ctx context.Context, target sampler.Target, id string, doc map[string]interface{}) error
	Delete(ctx context.Context, target sampler.Target, id string) error
}
