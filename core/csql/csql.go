// Package csql wraps the panel's Postgres database with a named schema.
package csql

import (
	"database/sql"

	_ "github.com/lib/pq" // load database driver for postgres

	"github.com/unipanel/backend/core/logger"
)

// DB encapsulates a standard sql.DB with a schema
type DB struct {
	*sql.DB
	Schema string
}

// ErrNoRows is returned by Scan when QueryRow doesn't return a row.
var ErrNoRows = sql.ErrNoRows

// OpenWithSchema opens the panel's postgres database with a schema. The
// schema gets created if it does not exist yet, together with the
// uuid-ossp extension.
func OpenWithSchema(dataSourceName, schema string) (*DB, error) {
	rlog := logger.Default()
	rlog.Infoln("connecting to postgres database")
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	if len(schema) == 0 {
		schema = "public"
	} else {
		rlog.Infoln("selected database schema:", schema)
		_, err = db.Exec(`CREATE extension IF NOT EXISTS "uuid-ossp";
CREATE schema IF NOT EXISTS ` + schema + `;
`)
		if err != nil {
			return nil, err
		}
	}
	return &DB{DB: db, Schema: schema}, nil
}

// MustOpenWithSchema opens the database and panics on failure. Intended
// for service mains and tests.
func MustOpenWithSchema(dataSourceName, schema string) *DB {
	db, err := OpenWithSchema(dataSourceName, schema)
	if err != nil {
		panic(err)
	}
	return db
}

// ClearSchema clears all the data contained in the database's schema by
// dropping and recreating it.
func (db *DB) ClearSchema() {
	if db.Schema == "public" {
		panic("refuse to drop public schema")
	}
	_, err := db.Exec(`DROP SCHEMA ` + db.Schema + ` CASCADE;
	CREATE schema IF NOT EXISTS ` + db.Schema + `;`)
	if err != nil {
		logger.Default().Errorln("clear schema error:", db.Schema, err.Error())
	}
}
