package inprocess

import (
	goruntime "runtime"
	"sync"
)

// allocMeter attributes heap allocation to one execution. The Go heap is
// shared, so a figure is only reported when no other execution on the same
// backend overlapped the measured span.
type allocMeter struct {
	mu       sync.Mutex
	active   int
	overlaps uint64
}

type allocSpan struct {
	alone    bool
	overlaps uint64
	before   uint64
}

func (m *allocMeter) begin() allocSpan {
	m.mu.Lock()
	m.active++
	if m.active > 1 {
		m.overlaps++
	}
	span := allocSpan{alone: m.active == 1, overlaps: m.overlaps}
	m.mu.Unlock()

	var stats goruntime.MemStats
	goruntime.ReadMemStats(&stats)
	span.before = stats.TotalAlloc
	return span
}

// end returns the bytes allocated during span, or 0 when the span was
// shared with another execution.
func (m *allocMeter) end(span allocSpan) int64 {
	var stats goruntime.MemStats
	goruntime.ReadMemStats(&stats)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active--
	if !span.alone || m.overlaps != span.overlaps {
		return 0
	}
	return int64(stats.TotalAlloc - span.before)
}
