// Package core defines the capability contracts shared by every source and
// destination family: how a source connects and yields canonical rows, and
// how a destination preallocates buffers and hands out row-range writers.
package core

import (
	"context"

	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// SourceBuilder owns a source's connection pool and protocol decoding.
// It is shared by all partitions of a run; every method must be safe for
// concurrent use.
type SourceBuilder interface {
	// Family names the source family, e.g. "postgresql". Transports are
	// registered per (source family, destination family) pair.
	Family() string
	// Dialect translates the source's native type names.
	Dialect() *types.Dialect
	// Style describes how to wrap queries for counting and probing.
	Style() query.Style
	// Produces lists every DataType this source can emit.
	Produces() []types.DataType
	// MaxConns is the number of simultaneous connections the source allows.
	MaxConns() int
	// Connect opens a connection used by exactly one partition.
	Connect(ctx context.Context) (SourceConn, error)
	// Close releases the pool.
	Close() error
}

// SourceConn is one exclusive connection.
type SourceConn interface {
	// Fetch executes q and decodes its rows into the given schema.
	Fetch(ctx context.Context, q query.Query, schema types.Schema) (Rows, error)
	// Close returns the connection to the pool.
	Close() error
}

// Rows iterates decoded rows. Scan fills dst, which has one slot per schema
// column, in schema order.
type Rows interface {
	Next() bool
	Scan(dst []types.Value) error
	Err() error
	Close()
}

// Counter is implemented by sources that can count a query's rows without
// fetching them.
type Counter interface {
	Count(ctx context.Context, conn SourceConn, q query.Query) (int, error)
}

// SchemaProber is implemented by sources that can infer a query's schema.
type SchemaProber interface {
	ProbeSchema(ctx context.Context, conn SourceConn, q query.Query) (types.Schema, error)
}

// RangeProber is implemented by sources that can report the bounds of an
// integer column, used for column-range partitioning.
type RangeProber interface {
	ProbeRange(ctx context.Context, conn SourceConn, q query.Query, column string) (lo, hi int64, err error)
}

// Destination owns the output buffer layout. Allocate and Finalize each run
// once, outside the parallel phase; WriterFor may be called concurrently.
type Destination interface {
	// Family names the destination family, e.g. "arrow".
	Family() string
	// Mapping names DataTypes for this destination.
	Mapping() *types.Mapping
	// Check reports an ErrorTypeSchema error if any column type cannot be held.
	Check(schema types.Schema) error
	// Allocate preallocates buffers for totalRows rows.
	Allocate(schema types.Schema, totalRows int) error
	// WriterFor returns a cursor over rows [start, end).
	WriterFor(start, end int) (Writer, error)
	// Abort rejects every later write and Finalize.
	Abort(cause error)
	// Aborted reports whether Abort was called.
	Aborted() bool
	// Finalize materialises the read-only result.
	Finalize() (Result, error)
}

// Writer accepts cell writes for one row range. Rows are relative to the
// range start. Implementations bounds-check every write.
type Writer interface {
	Start() int
	Len() int
	PutU64(row, col int, v uint64) error
	PutF64(row, col int, v float64) error
	PutBool(row, col int, v bool) error
	PutString(row, col int, v string) error
	PutNull(row, col int) error
}

// Result is the finalized, read-only output of a run.
type Result interface {
	NumRows() int
	Schema() types.Schema
}
