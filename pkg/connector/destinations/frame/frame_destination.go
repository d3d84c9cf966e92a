// Package frame implements a destination that materialises native Go
// columns. It backs the host-runtime binding, where each column is handed
// over as a typed slice.
package frame

import (
	"github.com/ajitpratap0/quarry/pkg/columnar"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Family is the registry name of the frame destination.
const Family = "frame"

// FrameDestination fills a columnar store and finalizes it into a Frame.
type FrameDestination struct {
	columnar.Buffers
}

var _ core.Destination = (*FrameDestination)(nil)

// NewFrameDestination creates an unallocated frame destination.
func NewFrameDestination() *FrameDestination {
	return &FrameDestination{}
}

// Family returns "frame".
func (d *FrameDestination) Family() string { return Family }

// Mapping returns the frame type names.
func (d *FrameDestination) Mapping() *types.Mapping { return types.FrameMapping }

// Check verifies that every column type has a frame layout.
func (d *FrameDestination) Check(schema types.Schema) error {
	return columnar.CheckSchema(types.FrameMapping, schema)
}

// Allocate preallocates one column per schema entry.
func (d *FrameDestination) Allocate(schema types.Schema, totalRows int) error {
	if err := d.Check(schema); err != nil {
		return err
	}
	return d.Buffers.Allocate(schema, totalRows)
}

// Finalize returns the filled Frame. It fails if aborted, unallocated or
// already finalized.
func (d *FrameDestination) Finalize() (core.Result, error) {
	store, err := d.Seal()
	if err != nil {
		return nil, err
	}
	return &Frame{store: store}, nil
}

// Frame is the read-only result of a frame destination.
type Frame struct {
	store *columnar.Store
}

var _ core.Result = (*Frame)(nil)

// NumRows returns the row count.
func (f *Frame) NumRows() int { return f.store.NumRows() }

// Schema returns the column layout.
func (f *Frame) Schema() types.Schema { return f.store.Schema() }

// TypeNames returns the frame spelling of each column type.
func (f *Frame) TypeNames() []string {
	schema := f.store.Schema()
	out := make([]string, len(schema))
	for i, c := range schema {
		out[i] = types.FrameMapping.Name(c.Type)
	}
	return out
}

// Column returns column i.
func (f *Frame) Column(i int) *columnar.Column { return f.store.Column(i) }

// ColumnByName returns the named column, or nil.
func (f *Frame) ColumnByName(name string) *columnar.Column { return f.store.ColumnByName(name) }

// Row returns row i, with nil for nulls.
func (f *Frame) Row(i int) []any { return f.store.Row(i) }

// Rows returns every row in order.
func (f *Frame) Rows() [][]any {
	out := make([][]any, f.store.NumRows())
	for i := range out {
		out[i] = f.store.Row(i)
	}
	return out
}

// Value returns cell (row, col) as a canonical Value.
func (f *Frame) Value(row, col int) types.Value { return f.store.Column(col).Value(row) }

// MemoryUsage estimates the bytes held by the frame.
func (f *Frame) MemoryUsage() int64 { return f.store.MemoryUsage() }
