/*Package client provides easy and fast in-process access to the panel's
REST api.

Instead of marshalling HTTP, the client talks directly to the mux router.
It is perfectly suited for unit tests.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/unipanel/backend/core/access"
)

// Client provides easy access to the REST API through the mux router.
type Client struct {
	router *mux.Router
	token  string
	auth   *access.Authorization
	ctx    context.Context
}

// NewWithRouter creates a client to make pseudo-REST requests to the
// backend through the mux router.
//
// WithAuthorization() adds an authorization to the request context.
// WithToken() adds a bearer token header instead.
func NewWithRouter(router *mux.Router) Client {
	return Client{router: router}
}

// WithToken returns a new client that sends the bearer token
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAuthorization returns a new client with a specific authorization
// injected directly into the request context, bypassing token validation
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

func (c Client) context() context.Context {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = c.auth.ContextWithAuthorization(ctx)
	}
	return ctx
}

// Get gets the path and decodes the JSON response into result
func (c Client) Get(path string, result interface{}) (int, error) {
	return c.do(http.MethodGet, path, nil, result)
}

// Post posts body to the path and decodes the JSON response into result
func (c Client) Post(path string, body interface{}, result interface{}) (int, error) {
	return c.doJSON(http.MethodPost, path, body, result)
}

// Put puts body to the path and decodes the JSON response into result
func (c Client) Put(path string, body interface{}, result interface{}) (int, error) {
	return c.doJSON(http.MethodPut, path, body, result)
}

// Delete deletes the path
func (c Client) Delete(path string) (int, error) {
	return c.do(http.MethodDelete, path, nil, nil)
}

func (c Client) doJSON(method, path string, body interface{}, result interface{}) (int, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	return c.do(method, path, encoded, result)
}

func (c Client) do(method, path string, body []byte, result interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(c.context(), method, path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	recorder := httptest.NewRecorder()
	c.router.ServeHTTP(recorder, request)

	response := recorder.Result()
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return response.StatusCode, err
	}
	if response.StatusCode >= http.StatusBadRequest {
		return response.StatusCode, fmt.Errorf("%s %s: %s (%s)",
			method, path, response.Status, bytes.TrimSpace(payload))
	}
	if result != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, result); err != nil {
			return response.StatusCode, fmt.Errorf("%s %s: cannot decode response: %s", method, path, err)
		}
	}
	return response.StatusCode, nil
}
