package sampler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/unipanel/backend/core/schema"
)

// Remote delegates sampling to a deployed access service that owns the
// store connection. It speaks the access service's method-3 API.
type Remote struct {
	client *resty.Client
}

// NewRemote creates a remote sampler for the access service at baseURL
func NewRemote(baseURL string) Remote {
	return Remote{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
}

type analysisRequest struct {
	MongoURI       string `json:"mongo_uri"`
	DatabaseName   string `json:"database_name"`
	CollectionName string `json:"collection_name"`
	SampleSize     int64  `json:"sample_size,omitempty"`
}

type analysisResponse struct {
	Message     string                     `json:"message"`
	Schema      map[string]schema.RawField `json:"schema"`
	SampleCount int                        `json:"sample_count"`
	TotalFields int                        `json:"total_fields"`
}

// Sample requests a schema analysis from the access service
func (r Remote) Sample(ctx context.Context, target Target) (map[string]schema.RawField, error) {
	var result analysisResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(analysisRequest{
			MongoURI:       target.URI,
			DatabaseName:   target.Database,
			CollectionName: target.Collection,
			SampleSize:     target.SampleSize,
		}).
		SetResult(&result).
		Post("/method3/schema-analysis")
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSamplingFailed, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: access service returned %s", ErrSamplingFailed, resp.Status())
	}
	return result.Schema, nil
}
