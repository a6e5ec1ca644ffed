package execution

import (
	"fmt"
	"time"
)

// Plot is an image produced by the script, typically a matplotlib figure.
type Plot struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Result captures the normalized outcome of executing a request.
//
// Results are values, never errors: every failure mode is folded into
// Status and Kind with a human-readable Error.
type Result struct {
	Status Status
	Kind   Kind

	Stdout string
	Stderr string
	Error  string

	// ExecutionTime spans engine entry to result, including validation and
	// context staging.
	ExecutionTime time.Duration
	// MemoryUsed is a best-effort figure in bytes. Zero means unknown.
	MemoryUsed int64

	ReturnValue    any
	GeneratedFiles []string
	Plots          []Plot
	Metadata       map[string]any

	Backend string
}

// Success reports whether the execution completed without error.
func (r *Result) Success() bool {
	return r != nil && r.Status == StatusSuccess
}

// Retryable reports whether resubmitting the same request may succeed.
// Only engine-side failures qualify; verdicts about the code itself do not.
func (r *Result) Retryable() bool {
	return r != nil && r.Kind == KindInternalError
}

// Seconds returns ExecutionTime as fractional seconds.
func (r *Result) Seconds() float64 {
	if r == nil {
		return 0
	}
	return r.ExecutionTime.Seconds()
}

// SetMetadata records a metadata entry, allocating the map on first use.
func (r *Result) SetMetadata(key string, value any) {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
}

// NewFailure builds a Result for the given kind with a formatted error message.
func NewFailure(kind Kind, format string, args ...any) *Result {
	return &Result{
		Status: StatusFor(kind),
		Kind:   kind,
		Error:  fmt.Sprintf(format, args...),
	}
}

// Internal builds an internal_error Result.
func Internal(format string, args ...any) *Result {
	return NewFailure(KindInternalError, format, args...)
}
