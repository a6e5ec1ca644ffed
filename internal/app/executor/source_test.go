package executor

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"tradexec/internal/domain/execution"
)

func TestExecuteFromSourceRespectsMaxParallel(t *testing.T) {
	t.Parallel()

	requests := []execution.Request{
		{ID: "r1", Code: "pass"},
		{ID: "r2", Code: "pass"},
		{ID: "r3", Code: "pass"},
		{ID: "r4", Code: "pass"},
	}

	maxParallel := 2
	startCh := make(chan struct{}, len(requests))
	releaseCh := make(chan struct{})
	tracker := &concurrencyTracker{}

	stub := &blockingExecutor{fn: func(ctx context.Context, req execution.Request) *execution.Result {
		done := tracker.enter()
		defer done()
		select {
		case startCh <- struct{}{}:
		default:
		}
		select {
		case <-releaseCh:
		case <-ctx.Done():
			return execution.Internal("cancelled")
		}
		return &execution.Result{Status: execution.StatusSuccess}
	}}

	source := &sequenceSource{requests: requests}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	var mu sync.Mutex
	var reports []execution.Report

	go func() {
		errCh <- runFromSource(ctx, stub, source, 0, maxParallel, func(report execution.Report) {
			mu.Lock()
			reports = append(reports, report)
			mu.Unlock()
		})
	}()

	for range requests {
		select {
		case <-startCh:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for request to start")
		}
		releaseCh <- struct{}{}
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runFromSource error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("runFromSource did not finish")
	}

	if tracker.maxActive > maxParallel {
		t.Fatalf("expected max %d concurrent runs, got %d", maxParallel, tracker.maxActive)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(reports) != len(requests) {
		t.Fatalf("expected %d reports, got %d", len(requests), len(reports))
	}
}

func TestExecuteFromSourceStopsAtMaxRequests(t *testing.T) {
	t.Parallel()

	source := &sequenceSource{requests: []execution.Request{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	var count int
	var mu sync.Mutex

	err := runFromSource(context.Background(), &stubExecutor{}, source, 2, 1, func(report execution.Report) {
		mu.Lock()
		count++
		mu.Unlock()
		if report.Result == nil || report.Request.ID == "" {
			t.Errorf("incomplete report %+v", report)
		}
	})
	if err != nil {
		t.Fatalf("runFromSource error: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 reports, got %d", count)
	}
}

func TestExecuteFromSourceSourceError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("source failed")
	err := runFromSource(context.Background(), &stubExecutor{}, errorSource{err: wantErr}, 0, 1, nil)
	if err == nil {
		t.Fatalf("expected error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected error wrapping %v, got %v", wantErr, err)
	}
}

func TestEngineExecuteFromSourceRunsThroughEngine(t *testing.T) {
	t.Parallel()

	spy := &spyBackend{name: "spy"}
	engine := newSpyEngine(t, Config{}, spy, nil)
	source := &sequenceSource{requests: []execution.Request{
		{ID: "good", Code: "x = 1\n"},
		{ID: "bad", Code: "import subprocess\n"},
	}}

	var mu sync.Mutex
	statuses := map[string]execution.Status{}
	err := engine.ExecuteFromSource(context.Background(), source, 0, 2, func(report execution.Report) {
		mu.Lock()
		statuses[report.Request.ID] = report.Result.Status
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("ExecuteFromSource error: %v", err)
	}

	if statuses["good"] != execution.StatusSuccess || statuses["bad"] != execution.StatusSecurityViolation {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if spy.calls.Load() != 1 {
		t.Fatalf("expected one backend call, got %d", spy.calls.Load())
	}
}

type blockingExecutor struct {
	fn func(ctx context.Context, req execution.Request) *execution.Result
}

func (b *blockingExecutor) Execute(ctx context.Context, req execution.Request) *execution.Result {
	return b.fn(ctx, req)
}

type sequenceSource struct {
	requests []execution.Request
	index    int
	mu       sync.Mutex
}

func (s *sequenceSource) NextRequest(ctx context.Context) (execution.Request, error) {
	select {
	case <-ctx.Done():
		return execution.Request{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.index >= len(s.requests) {
		return execution.Request{}, io.EOF
	}

	req := s.requests[s.index]
	s.index++
	return req, nil
}

type errorSource struct {
	err error
}

func (s errorSource) NextRequest(ctx context.Context) (execution.Request, error) {
	return execution.Request{}, s.err
}
