package ports

import (
	"context"

	"tradexec/internal/domain/execution"
)

// RequestSource yields execution requests one at a time and returns io.EOF
// once it is exhausted.
type RequestSource interface {
	NextRequest(ctx context.Context) (execution.Request, error)
}
