package ports

import (
	"context"

	"tradexec/internal/domain/execution"
)

// ResultPublisher publishes execution reports to an external system.
type ResultPublisher interface {
	PublishResult(ctx context.Context, report execution.Report) error
	Close() error
}
