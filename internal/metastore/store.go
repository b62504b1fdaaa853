package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store wraps the SQLite database and exposes typed repositories.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	// locks serialize per-entity critical sections (per document, per
	// session) that span more than one transaction.
	locks sync.Map
}

// Open opens (and migrates) the metadata store at path.
// Use ":memory:" for tests.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening metastore %s: %w", path, err)
	}
	// SQLite writers are serialized; a single connection avoids
	// SQLITE_BUSY churn under concurrent workers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("metastore opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Lock returns the mutex serializing operations on the given entity key
// (e.g. "doc:<id>" or "session:<id>").
func (s *Store) Lock(key string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing tx: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS collections (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	name TEXT NOT NULL,
	name_key TEXT NOT NULL,
	privacy TEXT NOT NULL,
	namespace TEXT NOT NULL,
	chunk_size INTEGER NOT NULL,
	overlap INTEGER NOT NULL,
	embedding_model TEXT NOT NULL,
	status TEXT NOT NULL,
	document_count INTEGER NOT NULL DEFAULT 0,
	total_size INTEGER NOT NULL DEFAULT 0,
	last_indexed_at TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_collections_owner_name
	ON collections(owner_id, name_key) WHERE status != 'deleted';

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	collection_id TEXT NOT NULL REFERENCES collections(id),
	filename TEXT NOT NULL,
	content_address TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size INTEGER NOT NULL,
	status TEXT NOT NULL,
	processing_error TEXT NOT NULL DEFAULT '',
	chunk_count INTEGER NOT NULL DEFAULT 0,
	page_count INTEGER NOT NULL DEFAULT 0,
	policy_hash TEXT NOT NULL DEFAULT '',
	uploaded_at TIMESTAMP NOT NULL,
	processed_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_collection_address
	ON documents(collection_id, content_address);

CREATE TABLE IF NOT EXISTS chunks (
	document_id TEXT NOT NULL REFERENCES documents(id),
	ordinal INTEGER NOT NULL,
	text TEXT NOT NULL,
	page INTEGER NOT NULL DEFAULT 0,
	token_count INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (document_id, ordinal)
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	collection_id TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	context_window_tokens INTEGER NOT NULL,
	max_messages INTEGER NOT NULL,
	message_count INTEGER NOT NULL DEFAULT 0,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	last_active_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id),
	ordinal INTEGER NOT NULL,
	role TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (session_id, ordinal)
);

CREATE TABLE IF NOT EXISTS summaries (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id),
	strategy TEXT NOT NULL,
	first_ordinal INTEGER NOT NULL,
	last_ordinal INTEGER NOT NULL,
	text TEXT NOT NULL,
	tokens_saved INTEGER NOT NULL DEFAULT 0,
	superseded INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS llm_parameters (
	user_id TEXT PRIMARY KEY,
	temperature REAL NOT NULL,
	max_new_tokens INTEGER NOT NULL,
	top_p REAL NOT NULL,
	top_k INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS prompt_templates (
	user_id TEXT NOT NULL,
	name TEXT NOT NULL,
	template TEXT NOT NULL,
	PRIMARY KEY (user_id, name)
);

CREATE TABLE IF NOT EXISTS pipelines (
	user_id TEXT PRIMARY KEY,
	preset TEXT NOT NULL,
	is_default INTEGER NOT NULL DEFAULT 1
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating schema: %w", err)
	}
	return nil
}
