package columnar

import (
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Buffers implements the allocate, write and seal half of core.Destination
// on top of a Store. Destinations embed it and add Check, Mapping and
// Finalize.
type Buffers struct {
	lc      core.Lifecycle
	store   *Store
	tracker *core.RangeTracker
}

// Allocate preallocates the store. It succeeds at most once.
func (b *Buffers) Allocate(schema types.Schema, totalRows int) error {
	if err := b.lc.BeginAllocate(); err != nil {
		return err
	}
	store, err := NewStore(schema, totalRows)
	if err != nil {
		return err
	}
	b.store = store
	b.tracker = core.NewRangeTracker(totalRows)
	return nil
}

// WriterFor claims [start, end) and returns a writer over it.
func (b *Buffers) WriterFor(start, end int) (core.Writer, error) {
	if err := b.lc.CheckWrite(); err != nil {
		return nil, err
	}
	if !b.lc.Allocated() || b.store == nil {
		return nil, errors.New(errors.ErrorTypeState, "writer requested before allocate")
	}
	if err := b.tracker.Claim(start, end); err != nil {
		return nil, err
	}
	return b.store.Writer(start, end-start, &b.lc), nil
}

// Abort rejects every later write and Finalize.
func (b *Buffers) Abort(cause error) { b.lc.Abort(cause) }

// Aborted reports whether Abort was called.
func (b *Buffers) Aborted() bool { return b.lc.Aborted() }

// Seal marks the buffers finalized and returns the filled store.
func (b *Buffers) Seal() (*Store, error) {
	if err := b.lc.BeginFinalize(); err != nil {
		return nil, err
	}
	return b.store, nil
}

// CheckSchema reports an ErrorTypeSchema error for any column whose type
// has no column layout.
func CheckSchema(m *types.Mapping, schema types.Schema) error {
	for _, c := range schema {
		if !c.Type.Kind.Valid() {
			return errors.Newf(errors.ErrorTypeSchema, "%s destination cannot hold column %q of type %s",
				m.Backend(), c.Name, c.Type)
		}
	}
	return nil
}
