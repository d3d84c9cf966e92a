// Package arrow implements a destination that finalizes into Apache Arrow
// record batches.
//
// U64 and F64 columns are handed to Arrow without copying: the preallocated
// Go slices become the value buffers. Bool columns are bit-packed and String
// columns are assembled with builders, both at finalize, after every writer
// has returned.
package arrow

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/bitutil"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/ajitpratap0/quarry/pkg/columnar"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Family is the registry name of the arrow destination.
const Family = "arrow"

// ArrowDestination fills a columnar store and finalizes it into one record.
type ArrowDestination struct {
	columnar.Buffers
	allocator memory.Allocator
}

var _ core.Destination = (*ArrowDestination)(nil)

// NewArrowDestination creates an unallocated arrow destination. A nil
// allocator selects memory.DefaultAllocator.
func NewArrowDestination(allocator memory.Allocator) *ArrowDestination {
	if allocator == nil {
		allocator = memory.DefaultAllocator
	}
	return &ArrowDestination{allocator: allocator}
}

// Family returns "arrow".
func (d *ArrowDestination) Family() string { return Family }

// Mapping returns the arrow type names.
func (d *ArrowDestination) Mapping() *types.Mapping { return types.ArrowMapping }

// Check verifies that every column type has an arrow layout.
func (d *ArrowDestination) Check(schema types.Schema) error {
	return columnar.CheckSchema(types.ArrowMapping, schema)
}

// Allocate preallocates one column per schema entry.
func (d *ArrowDestination) Allocate(schema types.Schema, totalRows int) error {
	if err := d.Check(schema); err != nil {
		return err
	}
	return d.Buffers.Allocate(schema, totalRows)
}

// Finalize builds the record. It fails if aborted, unallocated or already
// finalized.
func (d *ArrowDestination) Finalize() (core.Result, error) {
	store, err := d.Seal()
	if err != nil {
		return nil, err
	}

	schema := ArrowSchema(store.Schema())
	cols := make([]arrow.Array, store.NumColumns())
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i := range cols {
		col, err := d.buildColumn(store.Column(i))
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build arrow column "+schema.Field(i).Name)
		}
		cols[i] = col
	}

	record := array.NewRecord(schema, cols, int64(store.NumRows()))
	return &Result{schema: store.Schema(), record: record}, nil
}

func (d *ArrowDestination) buildColumn(c *columnar.Column) (arrow.Array, error) {
	n := c.Len()
	switch c.Type().Kind {
	case types.KindU64:
		values := memory.NewBufferBytes(arrow.Uint64Traits.CastToBytes(c.Uint64s()))
		return primitive(arrow.PrimitiveTypes.Uint64, n, values, c.Validity()), nil
	case types.KindF64:
		values := memory.NewBufferBytes(arrow.Float64Traits.CastToBytes(c.Float64s()))
		return primitive(arrow.PrimitiveTypes.Float64, n, values, c.Validity()), nil
	case types.KindBool:
		b := array.NewBooleanBuilder(d.allocator)
		defer b.Release()
		b.AppendValues(c.Bools(), c.Validity())
		return b.NewArray(), nil
	case types.KindString:
		b := array.NewStringBuilder(d.allocator)
		defer b.Release()
		b.AppendValues(c.Strings(), c.Validity())
		return b.NewArray(), nil
	}
	return nil, errors.Newf(errors.ErrorTypeSchema, "no arrow layout for %s", c.Type())
}

// primitive wraps a fixed-width value buffer, packing the validity bytes
// into an arrow bitmap.
func primitive(dt arrow.DataType, n int, values *memory.Buffer, valid []bool) arrow.Array {
	var nullBitmap *memory.Buffer
	nulls := 0
	if valid != nil {
		bits := make([]byte, bitutil.BytesForBits(int64(n)))
		for i, ok := range valid {
			if ok {
				bitutil.SetBit(bits, i)
			} else {
				nulls++
			}
		}
		nullBitmap = memory.NewBufferBytes(bits)
	}
	data := array.NewData(dt, n, []*memory.Buffer{nullBitmap, values}, nil, nulls, 0)
	defer data.Release()
	return array.MakeFromData(data)
}

// ArrowType returns the arrow type for a canonical kind.
func ArrowType(k types.Kind) arrow.DataType {
	switch k {
	case types.KindU64:
		return arrow.PrimitiveTypes.Uint64
	case types.KindF64:
		return arrow.PrimitiveTypes.Float64
	case types.KindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema converts a canonical schema. Field nullability follows the
// column DataType.
func ArrowSchema(schema types.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(schema))
	for i, c := range schema {
		fields[i] = arrow.Field{Name: c.Name, Type: ArrowType(c.Type.Kind), Nullable: c.Type.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// Result is the finalized output of an arrow destination.
type Result struct {
	schema types.Schema
	record arrow.Record
}

var _ core.Result = (*Result)(nil)

// NumRows returns the row count.
func (r *Result) NumRows() int { return int(r.record.NumRows()) }

// Schema returns the canonical column layout.
func (r *Result) Schema() types.Schema { return r.schema }

// Record returns the record. The result keeps its own reference; callers
// that outlive the result must Retain it.
func (r *Result) Record() arrow.Record { return r.record }

// Records returns the record batches in row order.
func (r *Result) Records() []arrow.Record { return []arrow.Record{r.record} }

// Release drops the result's reference to the record.
func (r *Result) Release() { r.record.Release() }
