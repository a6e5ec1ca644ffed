package execution

import "time"

// Default resource boundaries applied when a request leaves a field unset.
const (
	DefaultTimeout        = 30 * time.Second
	DefaultCPUTime        = 10 * time.Second
	DefaultMemoryBytes    = 256 * 1024 * 1024
	DefaultMaxOutputBytes = 10 * 1024 * 1024
)

// Limits describes the resource boundaries for a single execution.
//
// A zero field means "not set" and is filled from the defaults by Merge.
type Limits struct {
	// Timeout caps wall-clock time spent in the backend. Time queued for a
	// concurrency slot is bounded separately by the engine.
	Timeout time.Duration
	// CPUTime caps user plus system CPU time. Backends without an OS level
	// mechanism treat it as advisory.
	CPUTime time.Duration
	// MemoryBytes caps the address space of the executing process.
	MemoryBytes int64
	// MaxOutputBytes caps stdout and stderr combined.
	MaxOutputBytes int64

	AllowNetwork    bool
	AllowFileSystem bool
}

// DefaultLimits returns the limits used when nothing else is configured.
func DefaultLimits() Limits {
	return Limits{
		Timeout:        DefaultTimeout,
		CPUTime:        DefaultCPUTime,
		MemoryBytes:    DefaultMemoryBytes,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Normalize clamps negative values to zero.
func (l Limits) Normalize() Limits {
	if l.Timeout < 0 {
		l.Timeout = 0
	}
	if l.CPUTime < 0 {
		l.CPUTime = 0
	}
	if l.MemoryBytes < 0 {
		l.MemoryBytes = 0
	}
	if l.MaxOutputBytes < 0 {
		l.MaxOutputBytes = 0
	}
	return l
}

// Merge returns l with every positive field of overrides applied on top.
// Permission flags are only ever widened by an override.
func (l Limits) Merge(overrides Limits) Limits {
	effective := l.Normalize()
	overrides = overrides.Normalize()

	if overrides.Timeout > 0 {
		effective.Timeout = overrides.Timeout
	}
	if overrides.CPUTime > 0 {
		effective.CPUTime = overrides.CPUTime
	}
	if overrides.MemoryBytes > 0 {
		effective.MemoryBytes = overrides.MemoryBytes
	}
	if overrides.MaxOutputBytes > 0 {
		effective.MaxOutputBytes = overrides.MaxOutputBytes
	}
	effective.AllowNetwork = effective.AllowNetwork || overrides.AllowNetwork
	effective.AllowFileSystem = effective.AllowFileSystem || overrides.AllowFileSystem

	return effective
}

// ToolLimits derives the limits used by the caller-facing tool entry point:
// CPU time is min(timeout, 15s) and output is capped at 5 MiB.
func ToolLimits(timeout time.Duration) Limits {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cpu := timeout
	if cpu > 15*time.Second {
		cpu = 15 * time.Second
	}
	return Limits{
		Timeout:        timeout,
		CPUTime:        cpu,
		MemoryBytes:    DefaultMemoryBytes,
		MaxOutputBytes: 5 * 1024 * 1024,
	}
}
