package executor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradexec/internal/domain/execution"
)

type stubExecutor struct {
	executeFn func(ctx context.Context, req execution.Request) *execution.Result
	last      execution.Request
}

func (s *stubExecutor) Execute(ctx context.Context, req execution.Request) *execution.Result {
	s.last = req
	if s.executeFn != nil {
		return s.executeFn(ctx, req)
	}
	return &execution.Result{Status: execution.StatusSuccess}
}

func TestToolCallBuildsRequest(t *testing.T) {
	t.Parallel()

	stub := &stubExecutor{}
	NewTool(stub).Call(context.Background(), "print(1)", 40, []string{"a1"})

	assert.Equal(t, "print(1)", stub.last.Code)
	assert.Equal(t, 40*time.Second, stub.last.Limits.Timeout)
	assert.Equal(t, 15*time.Second, stub.last.Limits.CPUTime)
	assert.Equal(t, int64(5*1024*1024), stub.last.Limits.MaxOutputBytes)
	assert.Equal(t, []string{"a1"}, stub.last.ArtifactAccess)
	assert.True(t, stub.last.PreloadHelpers)
}

func TestToolCallDefaultsTimeout(t *testing.T) {
	t.Parallel()

	stub := &stubExecutor{}
	NewTool(stub).Call(context.Background(), "pass", 0, nil)

	assert.Equal(t, execution.DefaultTimeout, stub.last.Limits.Timeout)
}

func TestToolResponseShape(t *testing.T) {
	t.Parallel()

	stub := &stubExecutor{executeFn: func(ctx context.Context, req execution.Request) *execution.Result {
		return &execution.Result{
			Status:        execution.StatusTimeout,
			Kind:          execution.KindTimeout,
			Stdout:        "partial",
			Error:         "execution exceeded timeout of 2s",
			ExecutionTime: 2500 * time.Millisecond,
			MemoryUsed:    1024,
			Backend:       "subprocess",
			Metadata:      map[string]any{"pid": 42},
		}
	}}

	resp := NewTool(stub).Call(context.Background(), "while True: pass", 2, nil)

	assert.False(t, resp.Success)
	assert.Equal(t, "timeout", resp.Status)
	assert.Equal(t, 2.5, resp.ExecutionTime)
	assert.Equal(t, []string{}, resp.GeneratedFiles)
	assert.Equal(t, "timeout", resp.Metadata["kind"])
	assert.Equal(t, "subprocess", resp.Metadata["backend"])
	assert.Equal(t, 42, resp.Metadata["pid"])

	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	for _, key := range []string{
		"success", "status", "stdout", "stderr", "error", "execution_time",
		"memory_used", "return_value", "generated_files", "metadata",
	} {
		assert.Contains(t, decoded, key)
	}
	assert.Nil(t, decoded["return_value"])
}

func TestNewResponseHandlesNilResult(t *testing.T) {
	t.Parallel()

	resp := NewResponse(nil)
	assert.False(t, resp.Success)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "internal_error", resp.Metadata["kind"])
}
