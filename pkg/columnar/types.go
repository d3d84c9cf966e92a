// Package columnar provides preallocated typed column storage that many
// goroutines fill concurrently, each through a writer over its own row range.
package columnar

import (
	"fmt"

	"github.com/ajitpratap0/quarry/pkg/types"
)

// Column holds one schema column. Exactly one value slice is non-nil,
// matching the column kind. Nullable columns carry one validity byte per
// row; a packed bitmap would make neighbouring partitions share bytes.
type Column struct {
	dt      types.DataType
	u64s    []uint64
	f64s    []float64
	bools   []bool
	strings []string
	valid   []bool
}

// NewColumn preallocates a column of n rows.
func NewColumn(dt types.DataType, n int) (*Column, error) {
	c := &Column{dt: dt}
	switch dt.Kind {
	case types.KindU64:
		c.u64s = make([]uint64, n)
	case types.KindF64:
		c.f64s = make([]float64, n)
	case types.KindBool:
		c.bools = make([]bool, n)
	case types.KindString:
		c.strings = make([]string, n)
	default:
		return nil, fmt.Errorf("unsupported column type %s", dt)
	}
	if dt.Nullable {
		c.valid = make([]bool, n)
	}
	return c, nil
}

// Type returns the column's DataType.
func (c *Column) Type() types.DataType { return c.dt }

// Len returns the number of rows.
func (c *Column) Len() int {
	switch c.dt.Kind {
	case types.KindU64:
		return len(c.u64s)
	case types.KindF64:
		return len(c.f64s)
	case types.KindBool:
		return len(c.bools)
	case types.KindString:
		return len(c.strings)
	}
	return 0
}

// IsNull reports whether row i is null. Non-nullable columns are never null.
func (c *Column) IsNull(i int) bool {
	return c.valid != nil && !c.valid[i]
}

// Get returns row i as a Go value, or nil when null.
func (c *Column) Get(i int) interface{} {
	if c.IsNull(i) {
		return nil
	}
	switch c.dt.Kind {
	case types.KindU64:
		return c.u64s[i]
	case types.KindF64:
		return c.f64s[i]
	case types.KindBool:
		return c.bools[i]
	case types.KindString:
		return c.strings[i]
	}
	return nil
}

// Value returns row i as a canonical Value.
func (c *Column) Value(i int) types.Value {
	if c.IsNull(i) {
		return types.Null(c.dt.Kind)
	}
	switch c.dt.Kind {
	case types.KindU64:
		return types.U64Value(c.u64s[i])
	case types.KindF64:
		return types.F64Value(c.f64s[i])
	case types.KindBool:
		return types.BoolValue(c.bools[i])
	default:
		return types.StringValue(c.strings[i])
	}
}

// Uint64s returns the backing slice of a U64 column.
func (c *Column) Uint64s() []uint64 { return c.u64s }

// Float64s returns the backing slice of an F64 column.
func (c *Column) Float64s() []float64 { return c.f64s }

// Bools returns the backing slice of a Bool column.
func (c *Column) Bools() []bool { return c.bools }

// Strings returns the backing slice of a String column.
func (c *Column) Strings() []string { return c.strings }

// Validity returns the per-row validity, or nil for non-nullable columns.
func (c *Column) Validity() []bool { return c.valid }

// NullCount counts null rows.
func (c *Column) NullCount() int {
	n := 0
	for _, ok := range c.valid {
		if !ok {
			n++
		}
	}
	return n
}

// MemoryUsage estimates the bytes held by the column.
func (c *Column) MemoryUsage() int64 {
	total := int64(len(c.valid))
	switch c.dt.Kind {
	case types.KindU64:
		total += int64(len(c.u64s) * 8)
	case types.KindF64:
		total += int64(len(c.f64s) * 8)
	case types.KindBool:
		total += int64(len(c.bools))
	case types.KindString:
		for _, s := range c.strings {
			total += int64(len(s)) + 16 // string header overhead
		}
	}
	return total
}
