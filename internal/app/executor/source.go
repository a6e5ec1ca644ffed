package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

// ExecuteFromSource pulls requests from source and runs them with bounded
// parallelism.
//
// If maxRequests is greater than zero the loop stops after that many
// requests have been dispatched. Otherwise it keeps consuming until the
// context is cancelled or the source signals completion via io.EOF.
//
// When onResult is provided it is invoked after every execution with the
// corresponding report.
func (e *Engine) ExecuteFromSource(
	ctx context.Context,
	source ports.RequestSource,
	maxRequests int,
	maxParallel int,
	onResult func(execution.Report),
) error {
	return runFromSource(ctx, e, source, maxRequests, maxParallel, onResult)
}

func runFromSource(
	ctx context.Context,
	executor Executor,
	source ports.RequestSource,
	maxRequests int,
	maxParallel int,
	onResult func(execution.Report),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)
	processed := 0

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		if maxRequests > 0 && processed >= maxRequests {
			return finish(nil)
		}

		req, err := source.NextRequest(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			return finish(fmt.Errorf("get next request: %w", err))
		}

		sem <- struct{}{}
		wg.Add(1)
		processed++
		go func(req execution.Request) {
			defer wg.Done()
			defer func() { <-sem }()

			req = req.Normalize()
			result := executor.Execute(ctx, req)
			if onResult != nil {
				onResult(execution.Report{Request: req, Result: result})
			}
		}(req)
	}
}
