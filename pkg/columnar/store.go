package columnar

import (
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Store is a fixed-size set of columns laid out by a schema.
type Store struct {
	schema  types.Schema
	columns []*Column
	rows    int
}

// NewStore preallocates every column of schema for rows rows.
func NewStore(schema types.Schema, rows int) (*Store, error) {
	if rows < 0 {
		return nil, errors.Newf(errors.ErrorTypeOutOfRange, "negative row count %d", rows)
	}
	s := &Store{
		schema:  schema.Clone(),
		columns: make([]*Column, len(schema)),
		rows:    rows,
	}
	for i, c := range schema {
		col, err := NewColumn(c.Type, rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeSchema, "cannot allocate column "+c.Name)
		}
		s.columns[i] = col
	}
	return s, nil
}

// Schema returns the store layout.
func (s *Store) Schema() types.Schema { return s.schema }

// NumRows returns the number of preallocated rows.
func (s *Store) NumRows() int { return s.rows }

// NumColumns returns the number of columns.
func (s *Store) NumColumns() int { return len(s.columns) }

// Column returns column i.
func (s *Store) Column(i int) *Column { return s.columns[i] }

// ColumnByName returns the named column, or nil.
func (s *Store) ColumnByName(name string) *Column {
	if i := s.schema.Index(name); i >= 0 {
		return s.columns[i]
	}
	return nil
}

// Row returns row i as Go values.
func (s *Store) Row(i int) []interface{} {
	out := make([]interface{}, len(s.columns))
	for c, col := range s.columns {
		out[c] = col.Get(i)
	}
	return out
}

// MemoryUsage sums the memory usage of every column.
func (s *Store) MemoryUsage() int64 {
	var total int64
	for _, c := range s.columns {
		total += c.MemoryUsage()
	}
	return total
}

// Writer returns a cursor over rows [start, start+n). Ownership of the range
// is the caller's responsibility; see core.RangeTracker. Every write checks
// the lifecycle's abort flag and the range bounds.
func (s *Store) Writer(start, n int, lc *core.Lifecycle) *Writer {
	return &Writer{store: s, start: start, n: n, lc: lc}
}

// Writer implements core.Writer over one row range of a Store.
type Writer struct {
	store *Store
	start int
	n     int
	lc    *core.Lifecycle
}

var _ core.Writer = (*Writer)(nil)

// Start returns the absolute first row of the range.
func (w *Writer) Start() int { return w.start }

// Len returns the number of rows in the range.
func (w *Writer) Len() int { return w.n }

func (w *Writer) cell(row, col int, kind types.Kind) (*Column, int, error) {
	if w.lc != nil {
		if err := w.lc.CheckWrite(); err != nil {
			return nil, 0, err
		}
	}
	if row < 0 || row >= w.n {
		return nil, 0, errors.Newf(errors.ErrorTypeOutOfRange,
			"row %d outside writer range [%d, %d)", w.start+row, w.start, w.start+w.n)
	}
	if col < 0 || col >= len(w.store.columns) {
		return nil, 0, errors.Newf(errors.ErrorTypeOutOfRange, "column %d outside %d columns", col, len(w.store.columns))
	}
	c := w.store.columns[col]
	if kind != types.KindInvalid && c.dt.Kind != kind {
		return nil, 0, errors.Newf(errors.ErrorTypeSchema, "column %d holds %s, not %s", col, c.dt, kind)
	}
	return c, w.start + row, nil
}

// PutU64 writes a u64 cell.
func (w *Writer) PutU64(row, col int, v uint64) error {
	c, i, err := w.cell(row, col, types.KindU64)
	if err != nil {
		return err
	}
	c.u64s[i] = v
	if c.valid != nil {
		c.valid[i] = true
	}
	return nil
}

// PutF64 writes an f64 cell.
func (w *Writer) PutF64(row, col int, v float64) error {
	c, i, err := w.cell(row, col, types.KindF64)
	if err != nil {
		return err
	}
	c.f64s[i] = v
	if c.valid != nil {
		c.valid[i] = true
	}
	return nil
}

// PutBool writes a bool cell.
func (w *Writer) PutBool(row, col int, v bool) error {
	c, i, err := w.cell(row, col, types.KindBool)
	if err != nil {
		return err
	}
	c.bools[i] = v
	if c.valid != nil {
		c.valid[i] = true
	}
	return nil
}

// PutString writes a string cell.
func (w *Writer) PutString(row, col int, v string) error {
	c, i, err := w.cell(row, col, types.KindString)
	if err != nil {
		return err
	}
	c.strings[i] = v
	if c.valid != nil {
		c.valid[i] = true
	}
	return nil
}

// PutNull marks a cell null. Non-nullable columns reject it.
func (w *Writer) PutNull(row, col int) error {
	c, i, err := w.cell(row, col, types.KindInvalid)
	if err != nil {
		return err
	}
	if c.valid == nil {
		return errors.Newf(errors.ErrorTypeData, "NULL written to non-nullable column %d", col)
	}
	c.valid[i] = false
	return nil
}
