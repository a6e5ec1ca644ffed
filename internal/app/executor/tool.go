package executor

import (
	"context"
	"time"

	"tradexec/internal/domain/execution"
)

// Executor runs a single request.
type Executor interface {
	Execute(ctx context.Context, req execution.Request) *execution.Result
}

// Response is the map returned to the agent tool layer.
type Response struct {
	Success        bool           `json:"success"`
	Status         string         `json:"status"`
	Stdout         string         `json:"stdout"`
	Stderr         string         `json:"stderr"`
	Error          string         `json:"error"`
	ExecutionTime  float64        `json:"execution_time"`
	MemoryUsed     int64          `json:"memory_used"`
	ReturnValue    any            `json:"return_value"`
	GeneratedFiles []string       `json:"generated_files"`
	Metadata       map[string]any `json:"metadata"`
}

// Tool adapts an Executor to the tool-call signature used by agents.
type Tool struct {
	executor Executor
}

// NewTool wraps executor.
func NewTool(executor Executor) *Tool {
	return &Tool{executor: executor}
}

// Call runs code with the helper library preloaded. A non-positive
// timeoutSeconds uses the default timeout.
func (t *Tool) Call(ctx context.Context, code string, timeoutSeconds int, artifactsAccess []string) Response {
	req := execution.Request{
		Code:           code,
		Language:       execution.LanguagePython,
		Limits:         execution.ToolLimits(time.Duration(timeoutSeconds) * time.Second),
		ArtifactAccess: artifactsAccess,
		PreloadHelpers: true,
	}
	return NewResponse(t.executor.Execute(ctx, req))
}

// NewResponse flattens a Result into the tool response shape.
func NewResponse(result *execution.Result) Response {
	if result == nil {
		result = execution.Internal("execution produced no result")
	}

	metadata := make(map[string]any, len(result.Metadata)+3)
	for k, v := range result.Metadata {
		metadata[k] = v
	}
	metadata["kind"] = string(result.Kind)
	metadata["backend"] = result.Backend
	if len(result.Plots) > 0 {
		metadata["plots"] = result.Plots
	}

	files := result.GeneratedFiles
	if files == nil {
		files = []string{}
	}

	return Response{
		Success:        result.Success(),
		Status:         string(result.Status),
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		Error:          result.Error,
		ExecutionTime:  result.Seconds(),
		MemoryUsed:     result.MemoryUsed,
		ReturnValue:    result.ReturnValue,
		GeneratedFiles: files,
		Metadata:       metadata,
	}
}
