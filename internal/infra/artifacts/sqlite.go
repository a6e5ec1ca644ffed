package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	id           TEXT PRIMARY KEY,
	content_type TEXT NOT NULL DEFAULT '',
	data         BLOB NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLiteStore keeps artifacts in an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

var _ ports.ArtifactStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens path, creating the artifacts table when missing.
// path may be ":memory:".
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create artifacts table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Put inserts or replaces artifact.
func (s *SQLiteStore) Put(ctx context.Context, artifact execution.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	data := artifact.Data
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, content_type, data) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content_type = excluded.content_type, data = excluded.data`,
		artifact.ID, artifact.ContentType, data,
	)
	if err != nil {
		return fmt.Errorf("store artifact %q: %w", artifact.ID, err)
	}
	return nil
}

// Get loads the artifact stored under id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (execution.Artifact, error) {
	artifact := execution.Artifact{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data FROM artifacts WHERE id = ?`, id,
	).Scan(&artifact.ContentType, &artifact.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return execution.Artifact{}, fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, id)
	}
	if err != nil {
		return execution.Artifact{}, fmt.Errorf("load artifact %q: %w", id, err)
	}
	return artifact, nil
}

// Delete removes id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete artifact %q: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
