/*Package sampler provides the field sampler: it inspects documents of a
connected collection and returns per-field raw type statistics for schema
inference.

Two implementations exist. Mongo talks to the document store directly with
the official driver, Remote delegates to a deployed access service over
HTTP. Both are stateless, callers inject the one that fits the deployment.
*/
package sampler

import (
	"context"
	"errors"

	"github.com/unipanel/backend/core/schema"
)

// ErrSamplingFailed wraps every sampler failure. The core never retries,
// the caller decides.
var ErrSamplingFailed = errors.New("sampling failed")

// DefaultSampleSize is the number of documents inspected per analysis
// pass when the target does not specify one.
const DefaultSampleSize = 100

// Target identifies the collection to sample or operate on.
type Target struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
	// SampleSize limits the analysis pass, 0 means DefaultSampleSize
	SampleSize int64 `json:"sample_size,omitempty"`
}

func (t Target) sampleSize() int64 {
	if t.SampleSize > 0 {
		return t.SampleSize
	}
	return DefaultSampleSize
}

// Sampler inspects sample documents of the target collection and returns
// raw per-field statistics ready for schema.Normalize.
type Sampler interface {
	Sample(ctx context.Context, target Target) (map[string]schema.RawField, error)
}
