package testutil

import (
	"sync"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// RecordingDestination wraps a destination and records lifecycle calls.
type RecordingDestination struct {
	core.Destination

	mu        sync.Mutex
	allocs    []int
	ranges    [][2]int
	aborts    []error
	finalizes int
}

// Record wraps dst.
func Record(dst core.Destination) *RecordingDestination {
	return &RecordingDestination{Destination: dst}
}

// Allocate records totalRows and delegates.
func (d *RecordingDestination) Allocate(schema types.Schema, totalRows int) error {
	d.mu.Lock()
	d.allocs = append(d.allocs, totalRows)
	d.mu.Unlock()
	return d.Destination.Allocate(schema, totalRows)
}

// WriterFor records the range and delegates.
func (d *RecordingDestination) WriterFor(start, end int) (core.Writer, error) {
	d.mu.Lock()
	d.ranges = append(d.ranges, [2]int{start, end})
	d.mu.Unlock()
	return d.Destination.WriterFor(start, end)
}

// Abort records the cause and delegates.
func (d *RecordingDestination) Abort(cause error) {
	d.mu.Lock()
	d.aborts = append(d.aborts, cause)
	d.mu.Unlock()
	d.Destination.Abort(cause)
}

// Finalize counts the call and delegates.
func (d *RecordingDestination) Finalize() (core.Result, error) {
	d.mu.Lock()
	d.finalizes++
	d.mu.Unlock()
	return d.Destination.Finalize()
}

// Allocations returns the row totals passed to Allocate.
func (d *RecordingDestination) Allocations() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.allocs...)
}

// Ranges returns every requested writer range.
func (d *RecordingDestination) Ranges() [][2]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][2]int(nil), d.ranges...)
}

// Aborts returns every abort cause.
func (d *RecordingDestination) Aborts() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.aborts...)
}

// Finalizes returns the number of Finalize calls.
func (d *RecordingDestination) Finalizes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finalizes
}
