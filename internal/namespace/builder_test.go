package namespace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

type stubStore struct {
	mu        sync.Mutex
	artifacts map[string]execution.Artifact
	failOn    string
	requested []string
}

func (s *stubStore) Get(ctx context.Context, id string) (execution.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requested = append(s.requested, id)
	if id == s.failOn {
		return execution.Artifact{}, errors.New("connection refused")
	}
	artifact, ok := s.artifacts[id]
	if !ok {
		return execution.Artifact{}, ports.ErrArtifactNotFound
	}
	return artifact, nil
}

func newStubStore() *stubStore {
	return &stubStore{artifacts: map[string]execution.Artifact{
		"shipments": {ID: "shipments", Data: []byte("id,sumOfUsd\n1,10\n")},
		"secret":    {ID: "secret", Data: []byte("id,sumOfUsd\n9,999\n")},
		"empty":     {ID: "empty"},
	}}
}

func TestBuildStagesOnlyGrantedArtifacts(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	builder := NewBuilder(store, nil)

	ns, err := builder.Build(context.Background(), execution.Request{
		ID:             "req-1",
		ArtifactAccess: []string{"shipments", "missing", "empty"},
		PreloadHelpers: true,
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"shipments": "id,sumOfUsd\n1,10\n"}, ns.Artifacts)
	assert.ElementsMatch(t, []string{"missing", "empty"}, ns.Skipped)
	assert.NotContains(t, store.requested, "secret")
	assert.Equal(t, []string{"shipments", "missing", "empty"}, store.requested)
}

func TestBuildStoreFailureAborts(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	store.failOn = "shipments"

	_, err := NewBuilder(store, nil).Build(context.Background(), execution.Request{
		ArtifactAccess: []string{"shipments"},
	})
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected staging error, got %v", err)
	}
}

func TestBuildHelpersOnlyWhenPreloaded(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(nil, nil)

	with, err := builder.Build(context.Background(), execution.Request{PreloadHelpers: true})
	require.NoError(t, err)
	assert.Contains(t, with.Helpers, "def load_trade_data(")
	assert.Contains(t, with.Helpers, "def calculate_trade_metrics(")

	without, err := builder.Build(context.Background(), execution.Request{})
	require.NoError(t, err)
	assert.Empty(t, without.Helpers)
}

func TestBuildReturnsFreshNamespaces(t *testing.T) {
	t.Parallel()

	builder := NewBuilder(newStubStore(), nil)
	req := execution.Request{ArtifactAccess: []string{"shipments"}}

	first, err := builder.Build(context.Background(), req)
	require.NoError(t, err)
	first.Artifacts["injected"] = "x"

	second, err := builder.Build(context.Background(), req)
	require.NoError(t, err)
	assert.NotContains(t, second.Artifacts, "injected")
}

func TestGlobalsMergesIdentifierKeys(t *testing.T) {
	t.Parallel()

	ns := &Namespace{
		Artifacts: map[string]string{"a": "x"},
		Context: map[string]any{
			"country":         "DE",
			"not an ident":    1,
			"load_trade_data": "shadow",
			ContextVar:        "clobber",
			"__builtins__":    "clobber",
			"__name__":        "clobber",
			"_sandbox_stdout": "clobber",
			"print":           "clobber",
			"_private":        "kept",
		},
		PreloadHelpers: true,
	}

	globals := ns.Globals()

	assert.Equal(t, "DE", globals["country"])
	assert.NotContains(t, globals, "not an ident")
	assert.NotContains(t, globals, "load_trade_data")
	for _, key := range []string{"__builtins__", "__name__", "_sandbox_stdout", "print"} {
		assert.NotContains(t, globals, key)
	}
	assert.Equal(t, "kept", globals["_private"])
	assert.Equal(t, map[string]any{"a": "x"}, globals[ArtifactsVar])

	ctxVar, ok := globals[ContextVar].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, ctxVar["not an ident"])
}
