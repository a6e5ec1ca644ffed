package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

// Supported store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverSQLite = "sqlite"
)

// Store is an ArtifactStore that can also be written by the host.
type Store interface {
	ports.ArtifactStore
	Put(ctx context.Context, artifact execution.Artifact) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// Config selects and configures a store driver.
type Config struct {
	Driver string
	Redis  RedisConfig
	// Path is the SQLite database file.
	Path string
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "tradexec-artifacts.db"
		}
		return NewSQLiteStore(ctx, path)
	default:
		return nil, fmt.Errorf("unsupported artifact store driver %q", cfg.Driver)
	}
}

// PutFile stores the file at path under id. The content type is guessed
// from the extension.
func PutFile(ctx context.Context, store Store, id, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact file: %w", err)
	}
	return store.Put(ctx, execution.Artifact{
		ID:          id,
		ContentType: contentType(path),
		Data:        data,
	})
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".tsv":
		return "text/tab-separated-values"
	default:
		return "text/plain"
	}
}
