/*Package access provides utilities for developer access control.

An Authorization identifies the authenticated developer. It is added to
the request context by the JWT middleware and retrieved by handlers with
AuthorizationFromContext.
*/
package access

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAuthorization contextKey = "_authorization_"

// Authorization is a context object identifying the authenticated
// developer.
type Authorization struct {
	DeveloperID uuid.UUID `json:"developer_id"`
	Email       string    `json:"email,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
}

// HasRole returns true if the authorization contains the requested role
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization
// added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}
