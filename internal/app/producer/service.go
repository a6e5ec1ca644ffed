// Package producer provides a fixed, in-memory request source.
package producer

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"tradexec/internal/domain/execution"
	"tradexec/internal/ports"
)

// Service implements ports.RequestSource over a fixed request list.
type Service struct {
	mu       sync.Mutex
	requests []execution.Request
	index    int
}

var _ ports.RequestSource = (*Service)(nil)

// NewService builds a source yielding requests in order, then io.EOF.
func NewService(requests ...execution.Request) *Service {
	s := &Service{}
	for _, req := range requests {
		s.AddRequest(req)
	}
	return s
}

// NewDemoService returns a source with a small catalogue of trade analyses
// that exercise the helper library.
func NewDemoService() *Service {
	return NewService(
		execution.Request{
			ID:   "hello",
			Code: "print('Hello from the trade sandbox')\n",
		},
		execution.Request{
			ID:             "concentration",
			PreloadHelpers: true,
			Code: "shares = [0.5, 0.3, 0.2]\n" +
				"result = {'hhi': hhi(shares), 'gini': gini(shares)}\n" +
				"print(result['hhi'])\n",
		},
	)
}

// NextRequest returns the next queued request.
func (s *Service) NextRequest(ctx context.Context) (execution.Request, error) {
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

// AddRequest appends req, assigning an ID when it has none.
func (s *Service) AddRequest(req execution.Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
}

// Len reports how many requests have been queued in total.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}
