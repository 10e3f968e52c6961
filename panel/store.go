package panel

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/goccy/go-json"

	"github.com/google/uuid"

	"github.com/unipanel/backend/core/csql"
	"github.com/unipanel/backend/core/schema"
)

// errors returned by the store
var (
	// ErrNotFound is returned when the requested record does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a schema write lost the race against
	// a concurrent writer. Callers re-read and retry.
	ErrConflict = errors.New("conflict")
)

// store persists projects, shared links and client entries in Postgres
type store struct {
	db *csql.DB
}

func newStore(db *csql.DB) (*store, error) {
	_, err := db.Exec(`CREATE table IF NOT EXISTS ` + db.Schema + `."project"
(project_id uuid NOT NULL DEFAULT uuid_generate_v4(),
developer_id uuid NOT NULL,
name varchar NOT NULL,
description varchar NOT NULL DEFAULT '',
store_uri varchar NOT NULL,
database_name varchar NOT NULL,
collection_name varchar NOT NULL,
schema json NOT NULL DEFAULT '{}',
schema_revision integer NOT NULL DEFAULT 0,
is_active boolean NOT NULL DEFAULT true,
created_at timestamp NOT NULL DEFAULT now(),
updated_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(project_id)
);
CREATE table IF NOT EXISTS ` + db.Schema + `."shared_link"
(link_id uuid NOT NULL DEFAULT uuid_generate_v4(),
project_id uuid NOT NULL REFERENCES ` + db.Schema + `."project"(project_id),
token varchar NOT NULL UNIQUE,
expires_at timestamp,
is_active boolean NOT NULL DEFAULT true,
permissions json NOT NULL,
custom_schema json,
schema_revision integer NOT NULL DEFAULT 0,
created_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(link_id)
);
CREATE table IF NOT EXISTS ` + db.Schema + `."client_entry"
(entry_id uuid NOT NULL DEFAULT uuid_generate_v4(),
project_id uuid NOT NULL,
link_id uuid NOT NULL,
document_id varchar NOT NULL,
payload json NOT NULL,
created_at timestamp NOT NULL DEFAULT now(),
PRIMARY KEY(entry_id)
);
CREATE INDEX IF NOT EXISTS client_entry_project_idx ON ` + db.Schema + `."client_entry"(project_id);
`)
	if err != nil {
		return nil, err
	}
	return &store{db: db}, nil
}

// newShareToken creates a random URL-safe bearer token. The token is the
// link's sole credential, a short entropy read must never go undetected.
func newShareToken() (string, error) {
	raw := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("cannot generate share token: %s", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

func (s *store) createProject(p *Project) error {
	schemaJSON, err := json.Marshal(p.Schema)
	if err != nil {
		return err
	}
	return s.db.QueryRow(
		`INSERT INTO `+s.db.Schema+`."project"
(developer_id,name,description,store_uri,database_name,collection_name,schema)
VALUES($1,$2,$3,$4,$5,$6,$7)
RETURNING project_id, schema_revision, is_active, created_at, updated_at;`,
		p.DeveloperID, p.Name, p.Description, p.StoreURI, p.DatabaseName, p.CollectionName, string(schemaJSON),
	).Scan(&p.ProjectID, &p.SchemaRevision, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
}

func (s *store) scanProject(row *sql.Row) (*Project, error) {
	var (
		p          Project
		schemaJSON []byte
	)
	err := row.Scan(&p.ProjectID, &p.DeveloperID, &p.Name, &p.Description,
		&p.StoreURI, &p.DatabaseName, &p.CollectionName,
		&schemaJSON, &p.SchemaRevision, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == csql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(schemaJSON, &p.Schema); err != nil {
		return nil, fmt.Errorf("corrupt schema for project %s: %s", p.ProjectID, err)
	}
	return &p, nil
}

const projectColumns = `project_id,developer_id,name,description,store_uri,database_name,collection_name,schema,schema_revision,is_active,created_at,updated_at`

func (s *store) projectByID(projectID uuid.UUID) (*Project, error) {
	return s.scanProject(s.db.QueryRow(
		`SELECT `+projectColumns+` FROM `+s.db.Schema+`."project" WHERE project_id=$1 AND is_active;`,
		projectID))
}

func (s *store) projectsByDeveloper(developerID uuid.UUID) ([]Project, error) {
	rows, err := s.db.Query(
		`SELECT `+projectColumns+` FROM `+s.db.Schema+`."project"
WHERE developer_id=$1 AND is_active ORDER BY created_at DESC;`, developerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var (
			p          Project
			schemaJSON []byte
		)
		err := rows.Scan(&p.ProjectID, &p.DeveloperID, &p.Name, &p.Description,
			&p.StoreURI, &p.DatabaseName, &p.CollectionName,
			&schemaJSON, &p.SchemaRevision, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(schemaJSON, &p.Schema); err != nil {
			return nil, fmt.Errorf("corrupt schema for project %s: %s", p.ProjectID, err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// updateProjectSchema writes the schema if and only if the stored
// revision still matches the revision the caller read. A failed check
// returns ErrConflict and writes nothing.
func (s *store) updateProjectSchema(projectID uuid.UUID, sch schema.Schema, expectedRevision int64) error {
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE `+s.db.Schema+`."project"
SET schema=$1, schema_revision=schema_revision+1, updated_at=now()
WHERE project_id=$2 AND schema_revision=$3 AND is_active;`,
		string(schemaJSON), projectID, expectedRevision)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		// either a concurrent writer won or the project is gone, the
		// caller re-reads and finds out
		return ErrConflict
	}
	return nil
}

// softDeleteProject marks the project inactive. Nothing is purged.
func (s *store) softDeleteProject(projectID, developerID uuid.UUID) error {
	result, err := s.db.Exec(
		`UPDATE `+s.db.Schema+`."project" SET is_active=false, updated_at=now()
WHERE project_id=$1 AND developer_id=$2 AND is_active;`, projectID, developerID)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *store) createSharedLink(l *SharedLink) error {
	permissionsJSON, err := json.Marshal(l.Permissions)
	if err != nil {
		return err
	}
	var customSchemaJSON interface{}
	if l.CustomSchema != nil {
		raw, err := json.Marshal(l.CustomSchema)
		if err != nil {
			return err
		}
		customSchemaJSON = string(raw)
	}
	token, err := newShareToken()
	if err != nil {
		return err
	}
	l.Token = token
	return s.db.QueryRow(
		`INSERT INTO `+s.db.Schema+`."shared_link"
(project_id,token,expires_at,is_active,permissions,custom_schema)
VALUES($1,$2,$3,$4,$5,$6)
RETURNING link_id, schema_revision, created_at;`,
		l.ProjectID, l.Token, l.ExpiresAt, l.IsActive, string(permissionsJSON), customSchemaJSON,
	).Scan(&l.LinkID, &l.SchemaRevision, &l.CreatedAt)
}

const linkColumns = `link_id,project_id,token,expires_at,is_active,permissions,custom_schema,schema_revision,created_at`

func scanSharedLink(scan func(...interface{}) error) (*SharedLink, error) {
	var (
		l                SharedLink
		expiresAt        sql.NullTime
		permissionsJSON  []byte
		customSchemaJSON []byte
	)
	err := scan(&l.LinkID, &l.ProjectID, &l.Token, &expiresAt, &l.IsActive,
		&permissionsJSON, &customSchemaJSON, &l.SchemaRevision, &l.CreatedAt)
	if err == csql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	if err := json.Unmarshal(permissionsJSON, &l.Permissions); err != nil {
		return nil, fmt.Errorf("corrupt permissions for link %s: %s", l.LinkID, err)
	}
	if customSchemaJSON != nil {
		var custom schema.Schema
		if err := json.Unmarshal(customSchemaJSON, &custom); err != nil {
			return nil, fmt.Errorf("corrupt custom schema for link %s: %s", l.LinkID, err)
		}
		l.CustomSchema = custom
	}
	return &l, nil
}

func (s *store) sharedLinkByToken(token string) (*SharedLink, error) {
	row := s.db.QueryRow(
		`SELECT `+linkColumns+` FROM `+s.db.Schema+`."shared_link" WHERE token=$1;`, token)
	return scanSharedLink(row.Scan)
}

func (s *store) sharedLinkByID(linkID uuid.UUID) (*SharedLink, error) {
	row := s.db.QueryRow(
		`SELECT `+linkColumns+` FROM `+s.db.Schema+`."shared_link" WHERE link_id=$1;`, linkID)
	return scanSharedLink(row.Scan)
}

func (s *store) sharedLinksByProject(projectID uuid.UUID) ([]SharedLink, error) {
	rows, err := s.db.Query(
		`SELECT `+linkColumns+` FROM `+s.db.Schema+`."shared_link"
WHERE project_id=$1 ORDER BY created_at DESC;`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	links := []SharedLink{}
	for rows.Next() {
		l, err := scanSharedLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		links = append(links, *l)
	}
	return links, rows.Err()
}

func (s *store) setSharedLinkActive(linkID uuid.UUID, isActive bool) error {
	result, err := s.db.Exec(
		`UPDATE `+s.db.Schema+`."shared_link" SET is_active=$1 WHERE link_id=$2;`,
		isActive, linkID)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotFound
	}
	return nil
}

// updateLinkCustomSchema writes the link's schema override with the same
// compare-and-swap discipline as updateProjectSchema.
func (s *store) updateLinkCustomSchema(linkID uuid.UUID, sch schema.Schema, expectedRevision int64) error {
	schemaJSON, err := json.Marshal(sch)
	if err != nil {
		return err
	}
	result, err := s.db.Exec(
		`UPDATE `+s.db.Schema+`."shared_link"
SET custom_schema=$1, schema_revision=schema_revision+1
WHERE link_id=$2 AND schema_revision=$3;`,
		string(schemaJSON), linkID, expectedRevision)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrConflict
	}
	return nil
}

func (s *store) insertClientEntry(e *ClientEntry) error {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return s.db.QueryRow(
		`INSERT INTO `+s.db.Schema+`."client_entry"
(project_id,link_id,document_id,payload)
VALUES($1,$2,$3,$4)
RETURNING entry_id, created_at;`,
		e.ProjectID, e.LinkID, e.DocumentID, string(payloadJSON),
	).Scan(&e.EntryID, &e.CreatedAt)
}

func (s *store) clientEntriesByProject(projectID uuid.UUID) ([]ClientEntry, error) {
	rows, err := s.db.Query(
		`SELECT entry_id,project_id,link_id,document_id,payload,created_at
FROM `+s.db.Schema+`."client_entry" WHERE project_id=$1 ORDER BY created_at DESC;`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ClientEntry{}
	for rows.Next() {
		var (
			e           ClientEntry
			payloadJSON []byte
		)
		if err := rows.Scan(&e.EntryID, &e.ProjectID, &e.LinkID, &e.DocumentID, &payloadJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payloadJSON, &e.Payload); err != nil {
			return nil, fmt.Errorf("corrupt payload for entry %s: %s", e.EntryID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
