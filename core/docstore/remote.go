package docstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/unipanel/backend/core/sampler"
)

// Remote delegates document operations to a deployed access service.
type Remote struct {
	client *resty.Client
}

// NewRemote creates a remote store for the access service at baseURL
func NewRemote(baseURL string) Remote {
	return Remote{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
}

type remoteRequest struct {
	MongoURI       string                 `json:"mongo_uri"`
	DatabaseName   string                 `json:"database_name"`
	CollectionName string                 `json:"collection_name"`
	Data           map[string]interface{} `json:"data,omitempty"`
	DocumentID     string                 `json:"document_id,omitempty"`
	Limit          int64                  `json:"limit,omitempty"`
	Skip           int64                  `json:"skip,omitempty"`
}

type remoteInsertResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
}

type remoteListResponse struct {
	Data    []map[string]interface{} `json:"data"`
	Total   int64                    `json:"total"`
	Message string                   `json:"message"`
}

func remoteError(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusNotFound {
		return ErrDocumentNotFound
	}
	return fmt.Errorf("access service returned %s", resp.Status())
}

// Insert adds one document through the access service
func (r Remote) Insert(ctx context.Context, target sampler.Target, doc map[string]interface{}) (string, error) {
	var result remoteInsertResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			MongoURI:       target.URI,
			DatabaseName:   target.Database,
			CollectionName: target.Collection,
			Data:           doc,
		}).
		SetResult(&result).
		Post("/method3/data-insert")
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if resp.IsError() {
		return "", remoteError(resp)
	}
	return result.DocumentID, nil
}

// List returns one page of documents through the access service
func (r Remote) List(ctx context.Context, target sampler.Target, limit, skip int64) (Page, error) {
	if limit <= 0 {
		limit = 50
	}
	var result remoteListResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			MongoURI:       target.URI,
			DatabaseName:   target.Database,
			CollectionName: target.Collection,
			Limit:          limit,
			Skip:           skip,
		}).
		SetResult(&result).
		Post("/method3/data-retrieve")
	if err != nil {
		return Page{}, fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if resp.IsError() {
		return Page{}, remoteError(resp)
	}
	return Page{
		Documents: result.Data,
		Total:     result.Total,
		Limit:     limit,
		Skip:      skip,
		HasMore:   skip+int64(len(result.Data)) < result.Total,
	}, nil
}

// Update replaces the document's fields through the access service
func (r Remote) Update(ctx context.Context, target sampler.Target, id string, doc map[string]interface{}) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			MongoURI:       target.URI,
			DatabaseName:   target.Database,
			CollectionName: target.Collection,
			DocumentID:     id,
			Data:           doc,
		}).
		Post("/method3/data-update")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if resp.IsError() {
		return remoteError(resp)
	}
	return nil
}

// Delete removes one document through the access service
func (r Remote) Delete(ctx context.Context, target sampler.Target, id string) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(remoteRequest{
			MongoURI:       target.URI,
			DatabaseName:   target.Database,
			CollectionName: target.Collection,
			DocumentID:     id,
		}).
		Post("/method3/data-delete")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
	}
	if resp.IsError() {
		return remoteError(resp)
	}
	return nil
}
