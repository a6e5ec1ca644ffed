package runtime

import (
	"context"

	"tradexec/internal/domain/execution"
	"tradexec/internal/namespace"
)

// Capabilities describes what isolation guarantees a backend provides.
type Capabilities struct {
	// PreemptiveCancel is true when a running execution can be stopped
	// at its deadline. Backends without it only label overruns afterwards.
	PreemptiveCancel bool
	// ProcessIsolation is true when code runs outside the host process.
	ProcessIsolation bool
	// StreamingOutputCap is true when the output limit is enforced while
	// the code is still producing output.
	StreamingOutputCap bool
	// Priority orders backends during selection; higher wins.
	Priority int
}

// Backend executes validated code inside a staged namespace.
//
// Execute is total: every outcome, including the backend's own failures,
// is returned as a Result and never as an error or panic.
type Backend interface {
	Name() string
	Setup(ctx context.Context) error
	Execute(ctx context.Context, req execution.Request, ns *namespace.Namespace) *execution.Result
	Cleanup() error
	Available() bool
	Capabilities() Capabilities
}
