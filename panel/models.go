package panel

import (
	"time"

	"github.com/google/uuid"

	"github.com/unipanel/backend/core/sampler"
	"github.com/unipanel/backend/core/schema"
	"github.com/unipanel/backend/core/share"
)

// Project connects the panel to one collection of an external document
// store and owns the inferred schema for it.
type Project struct {
	ProjectID   uuid.UUID `json:"project_id"`
	DeveloperID uuid.UUID `json:"developer_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`

	StoreURI       string `json:"store_uri"`
	DatabaseName   string `json:"database_name"`
	CollectionName string `json:"collection_name"`

	Schema schema.Schema `json:"schema"`
	// SchemaRevision increments on every schema write and guards
	// read-modify-write cycles against lost updates
	SchemaRevision int64 `json:"schema_revision"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Target returns the sampling/docstore target of the project
func (p *Project) Target() sampler.Target {
	return sampler.Target{
		URI:        p.StoreURI,
		Database:   p.DatabaseName,
		Collection: p.CollectionName,
	}
}

// SharedLink is a bearer capability scoped to one project. The token is
// the sole credential.
type SharedLink struct {
	LinkID    uuid.UUID  `json:"link_id"`
	ProjectID uuid.UUID  `json:"project_id"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`

	Permissions share.Permissions `json:"permissions"`

	// CustomSchema, when set, overrides the project schema for this link
	CustomSchema schema.Schema `json:"custom_schema,omitempty"`
	// SchemaRevision guards custom schema writes, like the project's
	SchemaRevision int64 `json:"schema_revision"`

	CreatedAt time.Time `json:"created_at"`
}

// Status derives the link's lifecycle state at the given time
func (l *SharedLink) Status(now time.Time) share.Status {
	return share.StatusOf(l.IsActive, l.ExpiresAt, now)
}

// EffectiveSchema returns the schema this link exposes: its own override
// if set, else the project's schema.
func (l *SharedLink) EffectiveSchema(p *Project) schema.Schema {
	if l.CustomSchema != nil {
		return l.CustomSchema
	}
	return p.Schema
}

// ClientEntry is the audit record of one data insertion performed through
// a shared link. Append-only.
type ClientEntry struct {
	EntryID    uuid.UUID              `json:"entry_id"`
	ProjectID  uuid.UUID              `json:"project_id"`
	LinkID     uuid.UUID              `json:"link_id"`
	DocumentID string                 `json:"document_id"`
	Payload    map[string]interface{} `json:"payload"`
	CreatedAt  time.Time              `json:"created_at"`
}
