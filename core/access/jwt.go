package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/unipanel/backend/core/logger"
)

// developerClaims are the claims of a developer bearer token
type developerClaims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken mints a signed HS256 bearer token for a developer. The
// subject is the developer id.
func IssueToken(secret []byte, developerID uuid.UUID, email string, roles []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := developerClaims{
		Email: email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   developerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates a bearer token and returns the authorization it
// carries.
func ParseToken(secret []byte, tokenString string) (*Authorization, error) {
	claims := &developerClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	developerID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("invalid subject: %s", err)
	}
	return &Authorization{
		DeveloperID: developerID,
		Email:       claims.Email,
		Roles:       claims.Roles,
	}, nil
}

// NewJwtMiddleware returns a middleware handler that validates
// "Authorization: Bearer" developer tokens and injects the resulting
// authorization into the request context.
//
// Requests without a bearer token pass through unauthorized: the public
// share routes authenticate with the share token instead, and handlers
// for developer routes reject requests lacking an authorization.
func NewJwtMiddleware(secret []byte) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				h.ServeHTTP(w, r)
				return
			}
			auth, err := ParseToken(secret, strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.FromContext(r.Context()).Infoln("rejected bearer token:", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := auth.ContextWithAuthorization(r.Context())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.DeveloperID.String())
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
