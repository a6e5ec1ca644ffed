package runtime

import "errors"

// Cancellation causes shared by the engine and backends.
var (
	ErrDeadline    = errors.New("wall-clock limit exceeded")
	ErrOutputLimit = errors.New("output limit exceeded")
)
