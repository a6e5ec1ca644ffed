package subprocess

import (
	"bytes"
	"io"
	"sync"
)

// outputSink enforces one byte budget shared by stdout and stderr while the
// process is still writing. The first write past the budget is truncated,
// later writes are discarded and onExceed fires once.
type outputSink struct {
	mu       sync.Mutex
	limit    int64
	used     int64
	exceeded bool
	onExceed func()
	stdout   bytes.Buffer
	stderr   bytes.Buffer
}

func newOutputSink(limit int64, onExceed func()) *outputSink {
	return &outputSink{limit: limit, onExceed: onExceed}
}

type streamWriter struct {
	sink *outputSink
	buf  *bytes.Buffer
}

func (s *outputSink) Stdout() io.Writer { return streamWriter{sink: s, buf: &s.stdout} }
func (s *outputSink) Stderr() io.Writer { return streamWriter{sink: s, buf: &s.stderr} }

// Write always reports the full length so the copying goroutine keeps
// draining the pipe until the process group is gone.
func (w streamWriter) Write(p []byte) (int, error) {
	s := w.sink
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exceeded {
		return len(p), nil
	}
	if s.limit > 0 && s.used+int64(len(p)) > s.limit {
		room := s.limit - s.used
		w.buf.Write(p[:room])
		s.used = s.limit
		s.exceeded = true
		if s.onExceed != nil {
			s.onExceed()
		}
		return len(p), nil
	}

	w.buf.Write(p)
	s.used += int64(len(p))
	return len(p), nil
}

func (s *outputSink) Exceeded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exceeded
}

func (s *outputSink) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

func (s *outputSink) Strings() (stdout, stderr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stdout.String(), s.stderr.String()
}
