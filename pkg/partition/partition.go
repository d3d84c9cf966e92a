// Package partition binds queries to destination row ranges and splits a
// single query into column-range sub-queries.
package partition

import (
	"context"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/query"
)

// Partition is one query bound to destination rows [Start, End). It is owned
// by exactly one worker for the duration of a pass.
type Partition struct {
	Index int
	Query query.Query
	Start int
	End   int
}

// Rows returns End - Start.
func (p Partition) Rows() int { return p.End - p.Start }

// FromQueries creates one unassigned partition per query, in order.
func FromQueries(qs []query.Query) []Partition {
	parts := make([]Partition, len(qs))
	for i, q := range qs {
		parts[i] = Partition{Index: i, Query: q}
	}
	return parts
}

// Assign lays partitions out back to back using counts and returns the
// total row count. Partition i receives rows [sum(counts[:i]), sum(counts[:i+1])).
func Assign(parts []Partition, counts []int) (int, error) {
	if len(counts) != len(parts) {
		return 0, errors.Newf(errors.ErrorTypeConfig, "%d row counts for %d partitions", len(counts), len(parts))
	}
	total := 0
	for i, n := range counts {
		if n < 0 {
			return 0, errors.Newf(errors.ErrorTypeData, "partition %d has negative row count %d", i, n)
		}
		parts[i].Start = total
		total += n
		parts[i].End = total
	}
	return total, nil
}

// Spec describes a column-range split of one query. Min and Max are probed
// from the source when nil.
type Spec struct {
	Column string
	Num    int
	Min    *int64
	Max    *int64
}

// Split divides [lo, hi] into at most num contiguous sub-queries of q. The
// last range is inclusive of hi.
func Split(style query.Style, q query.Query, column string, lo, hi int64, num int) ([]query.Query, error) {
	if num <= 0 {
		return nil, errors.Newf(errors.ErrorTypeConfig, "partition count must be positive, got %d", num)
	}
	if hi < lo {
		return nil, errors.Newf(errors.ErrorTypeConfig, "partition range [%d, %d] is empty", lo, hi)
	}
	// width is hi-lo, which overflows int64 for wide ranges but not uint64.
	width := uint64(hi) - uint64(lo)
	if width < uint64(num-1) {
		num = int(width) + 1
	}
	if num == 1 {
		return []query.Query{style.Range(q, column, lo, hi, true)}, nil
	}
	step := width/uint64(num) + 1

	out := make([]query.Query, 0, num)
	var off uint64
	for i := 0; i < num; i++ {
		start := int64(uint64(lo) + off)
		if i == num-1 || width-off < step {
			out = append(out, style.Range(q, column, start, hi, true))
			break
		}
		out = append(out, style.Range(q, column, start, int64(uint64(lo)+off+step), false))
		off += step
	}
	return out, nil
}

// Expand splits q according to spec, probing missing bounds through the
// builder's RangeProber capability on a single connection.
func Expand(ctx context.Context, builder core.SourceBuilder, q query.Query, spec Spec) ([]query.Query, error) {
	if spec.Column == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "partition column is required")
	}
	if spec.Min == nil || spec.Max == nil {
		prober, ok := builder.(core.RangeProber)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"%s source cannot probe partition bounds; supply min and max", builder.Family())
		}
		conn, err := builder.Connect(ctx)
		if err != nil {
			return nil, err
		}
		lo, hi, err := prober.ProbeRange(ctx, conn, q, spec.Column)
		if cerr := conn.Close(); cerr != nil {
			logger.FromContext(ctx, nil).Debug("range connection close failed",
				zap.String("column", spec.Column), zap.Error(cerr))
		}
		if err != nil {
			return nil, err
		}
		if spec.Min == nil {
			spec.Min = &lo
		}
		if spec.Max == nil {
			spec.Max = &hi
		}
	}
	return Split(builder.Style(), q, spec.Column, *spec.Min, *spec.Max, spec.Num)
}
