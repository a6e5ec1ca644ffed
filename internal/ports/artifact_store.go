package ports

import (
	"context"
	"errors"

	"tradexec/internal/domain/execution"
)

// ErrArtifactNotFound is returned by stores for unknown artifact IDs.
var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore resolves artifact IDs to their content. The engine only reads.
type ArtifactStore interface {
	Get(ctx context.Context, id string) (execution.Artifact, error)
}
