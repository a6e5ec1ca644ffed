// Package artifacts holds the ArtifactStore implementations the engine can
// stage data from.
package artifacts

import (
	"context"
	"fmt"
	"sync"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

// MemoryStore keeps artifacts in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]execution.Artifact
}

var _ ports.ArtifactStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]execution.Artifact)}
}

// Put stores artifact, replacing any previous artifact with the same ID.
func (s *MemoryStore) Put(ctx context.Context, artifact execution.Artifact) error {
	if artifact.ID == "" {
		return fmt.Errorf("artifact id is required")
	}
	artifact.Data = append([]byte(nil), artifact.Data...)

	s.mu.Lock()
	s.artifacts[artifact.ID] = artifact
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the artifact stored under id.
func (s *MemoryStore) Get(ctx context.Context, id string) (execution.Artifact, error) {
	s.mu.RLock()
	artifact, ok := s.artifacts[id]
	s.mu.RUnlock()
	if !ok {
		return execution.Artifact{}, fmt.Errorf("%w: %s", ports.ErrArtifactNotFound, id)
	}
	artifact.Data = append([]byte(nil), artifact.Data...)
	return artifact, nil
}

// Delete removes id. Deleting a missing artifact is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.artifacts, id)
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
