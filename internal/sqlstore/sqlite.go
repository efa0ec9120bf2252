// Package sqlstore is the concrete catalog.Store backed by
// modernc.org/sqlite, the pure-Go SQLite driver also used by
// xlc-dev/nova and pixie-sh/pixie-cli in the retrieval pack. It gives the
// core a real transactional persistence authority (foreign keys, unique
// indexes, cascading deletes) without requiring a server process.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/devops-wiz/apiflow/internal/catalog"
)

// Store wraps a *sql.DB and implements catalog.Store.
type Store struct {
	db *sql.DB
	dbOps
}

// Open creates (or attaches to) a SQLite database at dsn and applies the
// catalog schema. dsn may be "file::memory:?cache=shared" for ephemeral
// use, matching what unit tests want, or a file path for a durable store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single shared in-memory connection must be serialized to avoid
	// SQLITE_BUSY under the level-parallel executor; the store itself adds
	// no further locking beyond what database/sql provides.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db, dbOps: dbOps{q: db}}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(schemaDDL)
	return err
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	owner_ref TEXT
);

CREATE TABLE IF NOT EXISTS api_specs (
	id TEXT PRIMARY KEY,
	project_ref TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	version TEXT,
	spec_hash TEXT NOT NULL,
	src_ref TEXT,
	UNIQUE(project_ref, spec_hash)
);

CREATE TABLE IF NOT EXISTS apis (
	id TEXT PRIMARY KEY,
	project_ref TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	op_id TEXT,
	summary TEXT,
	auth_scheme TEXT,
	UNIQUE(project_ref, method, path)
);

CREATE TABLE IF NOT EXISTS api_requests (
	api_ref TEXT PRIMARY KEY REFERENCES apis(id) ON DELETE CASCADE,
	body_schema BLOB,
	query_params_map BLOB,
	path_params_map BLOB,
	headers_map BLOB
);

CREATE TABLE IF NOT EXISTS api_responses (
	id TEXT PRIMARY KEY,
	api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	status_code INTEGER NOT NULL,
	schema BLOB,
	UNIQUE(api_ref, status_code)
);

CREATE TABLE IF NOT EXISTS variables (
	id TEXT PRIMARY KEY,
	api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	location TEXT NOT NULL,
	var_type TEXT NOT NULL,
	data_type TEXT NOT NULL,
	required INTEGER NOT NULL,
	ai_confidence REAL,
	UNIQUE(api_ref, name, location)
);

CREATE TABLE IF NOT EXISTS dependency_candidates (
	id TEXT PRIMARY KEY,
	project_ref TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	source_api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	target_api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	mapping BLOB,
	confidence REAL NOT NULL,
	origin TEXT NOT NULL,
	reason TEXT
);

CREATE TABLE IF NOT EXISTS api_dependencies (
	id TEXT PRIMARY KEY,
	source_api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	target_api_ref TEXT NOT NULL REFERENCES apis(id) ON DELETE CASCADE,
	mapping BLOB,
	is_required INTEGER NOT NULL,
	UNIQUE(source_api_ref, target_api_ref)
);

CREATE TABLE IF NOT EXISTS test_runs (
	id TEXT PRIMARY KEY,
	project_ref TEXT REFERENCES projects(id) ON DELETE SET NULL,
	environment TEXT NOT NULL,
	trigger_source TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	status TEXT
);

CREATE TABLE IF NOT EXISTS test_executions (
	id TEXT PRIMARY KEY,
	run_ref TEXT NOT NULL REFERENCES test_runs(id),
	api_ref TEXT,
	status TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	UNIQUE(run_ref, api_ref)
);

CREATE TABLE IF NOT EXISTS execution_artifacts (
	id TEXT PRIMARY KEY,
	exec_ref TEXT NOT NULL REFERENCES test_executions(id) ON DELETE CASCADE,
	request_data BLOB,
	response_data BLOB,
	response_time_ms INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
`

// newID generates a uuid-v4 string id; every entity in the catalog is
// keyed this way rather than an auto-increment integer so ids are stable
// across the store's WithTx boundary and safe to reference from
// concurrently-running goroutines in the executor.
func newID() string { return uuid.NewString() }

// --- Tx plumbing -----------------------------------------------------

// queryer is the common subset of *sql.DB and *sql.Tx used by the catalog
// read/write helpers, letting the same method bodies run identically
// inside or outside an explicit transaction.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dbOps implements the full catalog.Catalog/Projects/Runs surface against
// whatever queryer it holds. Store embeds one bound to *sql.DB for
// non-transactional reads; WithTx hands out one bound to the live *sql.Tx
// so ingestion can write through the same method set atomically.
type dbOps struct {
	q queryer
}

func (s *Store) WithTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&dbOps{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func marshalJSON(v any) []byte {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

type mappingDTO struct {
	Keys   []string          `json:"keys"`
	Values map[string]string `json:"values"`
}

func encodeMapping(m catalog.Mapping) []byte {
	return marshalJSON(mappingDTO{Keys: m.Keys, Values: m.Values})
}

func decodeMapping(b []byte) catalog.Mapping {
	if len(b) == 0 {
		return catalog.NewMapping()
	}
	var dto mappingDTO
	if err := json.Unmarshal(b, &dto); err != nil {
		return catalog.NewMapping()
	}
	if dto.Values == nil {
		dto.Values = map[string]string{}
	}
	return catalog.Mapping{Keys: dto.Keys, Values: dto.Values}
}
