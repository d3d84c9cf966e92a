package core

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// RangeTracker proves row-range ownership when writers are issued: a range
// must lie inside [0, total) and must not overlap any range already issued.
// It is consulted once per partition, never on the write path.
type RangeTracker struct {
	mu     sync.Mutex
	total  int
	issued [][2]int
}

// NewRangeTracker returns a tracker for total rows.
func NewRangeTracker(total int) *RangeTracker {
	return &RangeTracker{total: total}
}

// Claim records [start, end) as owned, or returns an ErrorTypeOutOfRange error.
func (t *RangeTracker) Claim(start, end int) error {
	if start < 0 || end < start || end > t.total {
		return errors.Newf(errors.ErrorTypeOutOfRange, "row range [%d, %d) outside [0, %d)", start, end, t.total)
	}

	// empty ranges own no rows
	if start == end {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	i := sort.Search(len(t.issued), func(i int) bool { return t.issued[i][0] >= start })
	if i < len(t.issued) && t.issued[i][0] < end {
		return overlap(start, end, t.issued[i])
	}
	if i > 0 && t.issued[i-1][1] > start {
		return overlap(start, end, t.issued[i-1])
	}
	t.issued = append(t.issued, [2]int{})
	copy(t.issued[i+1:], t.issued[i:])
	t.issued[i] = [2]int{start, end}
	return nil
}

// Claimed returns the number of rows covered by issued ranges.
func (t *RangeTracker) Claimed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.issued {
		n += r[1] - r[0]
	}
	return n
}

func overlap(start, end int, other [2]int) error {
	return errors.Newf(errors.ErrorTypeOutOfRange, "row range [%d, %d) overlaps issued range [%d, %d)",
		start, end, other[0], other[1])
}

// Lifecycle tracks the allocate → finalize/abort progression of a
// destination. The abort flag is read on every write, so it is atomic.
type Lifecycle struct {
	allocated atomic.Bool
	finalized atomic.Bool
	aborted   atomic.Bool
	cause     atomic.Value
}

// BeginAllocate fails if Allocate already ran.
func (l *Lifecycle) BeginAllocate() error {
	if l.aborted.Load() {
		return l.abortedError()
	}
	if !l.allocated.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeState, "destination already allocated")
	}
	return nil
}

// Allocated reports whether Allocate ran.
func (l *Lifecycle) Allocated() bool { return l.allocated.Load() }

// BeginFinalize fails unless allocated, not aborted and not finalized.
func (l *Lifecycle) BeginFinalize() error {
	if l.aborted.Load() {
		return l.abortedError()
	}
	if !l.allocated.Load() {
		return errors.New(errors.ErrorTypeState, "destination finalized before allocate")
	}
	if !l.finalized.CompareAndSwap(false, true) {
		return errors.New(errors.ErrorTypeState, "destination already finalized")
	}
	return nil
}

// Abort sets the abort flag. The first cause wins.
func (l *Lifecycle) Abort(cause error) {
	if cause != nil {
		l.cause.CompareAndSwap(nil, causeBox{cause})
	}
	l.aborted.Store(true)
}

// Aborted reports whether Abort was called.
func (l *Lifecycle) Aborted() bool { return l.aborted.Load() }

// CheckWrite returns an ErrorTypeAborted error once aborted.
func (l *Lifecycle) CheckWrite() error {
	if l.aborted.Load() {
		return l.abortedError()
	}
	return nil
}

// Flag exposes the abort flag so writers can poll it without an extra
// indirection through the lifecycle.
func (l *Lifecycle) Flag() *atomic.Bool { return &l.aborted }

func (l *Lifecycle) abortedError() error {
	if c, ok := l.cause.Load().(causeBox); ok {
		return errors.Wrap(c.err, errors.ErrorTypeAborted, "destination aborted")
	}
	return errors.New(errors.ErrorTypeAborted, "destination aborted")
}

// causeBox gives atomic.Value a single concrete type.
type causeBox struct{ err error }
