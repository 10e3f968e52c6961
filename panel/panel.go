/*Package panel implements the universal panel's REST backend: developer
routes for projects and share links, and public routes for clients
arriving with a bearer share token.

The backend persists its metadata (projects, shared links, client
entries) in Postgres and talks to the connected document stores through
an injected sampler and docstore, so tests can substitute fakes.
*/
package panel

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"

	"github.com/unipanel/backend/core"
	"github.com/unipanel/backend/core/csql"
	"github.com/unipanel/backend/core/docstore"
	"github.com/unipanel/backend/core/logger"
	"github.com/unipanel/backend/core/registry"
	"github.com/unipanel/backend/core/sampler"
	"github.com/unipanel/backend/core/share"
)

// schemaWriteAttempts bounds the read-modify-write retry loop for schema
// edits racing on the same project
const schemaWriteAttempts = 3

// Backend is the universal panel backend
type Backend struct {
	store    *store
	sampler  sampler.Sampler
	docs     docstore.Store
	notifier core.Notifier
	router   *mux.Router

	// Registry is the JSON object registry of this backend's database
	Registry registry.Registry

	// Now returns the current time, replaceable in tests
	Now func() time.Time
}

// Builder is a builder helper for the Backend
type Builder struct {
	// DB is the postgres database for panel metadata. This is mandatory.
	DB *csql.DB
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Sampler inspects the connected document stores. This is mandatory.
	Sampler sampler.Sampler
	// Docs performs document CRUD on the connected stores. This is mandatory.
	Docs docstore.Store
	// Notifier receives backend notifications. This is optional.
	Notifier core.Notifier
}

// New realizes the backend. It creates the sql tables if they do not
// exist and adds all routes to the router.
func New(bb *Builder) (*Backend, error) {
	if bb.DB == nil {
		return nil, errors.New("DB is missing")
	}
	if bb.Router == nil {
		return nil, errors.New("Router is missing")
	}
	if bb.Sampler == nil {
		return nil, errors.New("Sampler is missing")
	}
	if bb.Docs == nil {
		return nil, errors.New("Docs is missing")
	}

	s, err := newStore(bb.DB)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(bb.DB)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		store:    s,
		sampler:  bb.Sampler,
		docs:     bb.Docs,
		notifier: bb.Notifier,
		router:   bb.Router,
		Registry: reg,
		Now:      time.Now,
	}

	logger.AddRequestID(b.router)
	b.handleCORS()
	b.handleVersion()
	b.handleProjectRoutes()
	b.handleSharedRoutes()
	b.recordDeployment()
	return b, nil
}

// MustNew realizes the backend and panics on failure
func MustNew(bb *Builder) *Backend {
	b, err := New(bb)
	if err != nil {
		panic(err)
	}
	return b
}

func (b *Backend) handleCORS() {
	b.router.Use(func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			h.ServeHTTP(w, r)
		})
	})
}

// notify sends a notification if a notifier is configured
func (b *Backend) notify(resource string, operation core.Operation, payload interface{}) {
	if b.notifier == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Default().Errorln("cannot marshal notification payload:", err)
		return
	}
	b.notifier.Notify(resource, operation, raw)
}

// writeJSON writes the object as a JSON response
func writeJSON(w http.ResponseWriter, status int, object interface{}) {
	raw, err := json.Marshal(object)
	if err != nil {
		http.Error(w, "cannot marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}

// shareError translates share authorization failures into responses.
// Expired and revoked links produce the identical body so that a prober
// cannot learn whether a token was ever valid; the audit log keeps the
// distinction.
func shareError(w http.ResponseWriter, r *http.Request, err error) {
	rlog := logger.FromContext(r.Context())
	switch {
	case errors.Is(err, share.ErrLinkExpired):
		rlog.Infoln("share access denied: link expired")
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, share.ErrLinkRevoked):
		rlog.Infoln("share access denied: link revoked")
		http.Error(w, "access denied", http.StatusForbidden)
	case errors.Is(err, share.ErrPermissionDenied):
		rlog.Infoln("share access denied: missing permission")
		http.Error(w, "this link does not allow the requested operation", http.StatusForbidden)
	default:
		rlog.Errorln("share request failed:", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
