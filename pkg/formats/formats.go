// Package formats writes finalized Arrow record batches to files: JSON
// lines, Arrow IPC, Parquet and Avro.
package formats

import (
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Format is an output file format.
type Format string

const (
	// JSON is newline-delimited JSON objects, one per row
	JSON Format = "json"
	// Arrow is the Arrow IPC file format
	Arrow Format = "arrow"
	// Parquet is Apache Parquet
	Parquet Format = "parquet"
	// Avro is an Avro object container file
	Avro Format = "avro"
)

// Formats lists every supported format.
var Formats = []Format{JSON, Arrow, Parquet, Avro}

// Writer writes record batches sharing one schema.
type Writer interface {
	// Write appends one record batch
	Write(rec arrow.Record) error
	// Close flushes buffered data and writes any footer. It never closes
	// the underlying io.Writer.
	Close() error
	// Format returns the output format
	Format() Format
	// RowsWritten returns the number of rows written
	RowsWritten() int64
}

// WriterConfig configures a Writer.
type WriterConfig struct {
	Format Format
	Schema *arrow.Schema
	// Compression is the format-internal codec: snappy, zstd, gzip or none
	// for Parquet; zstd, lz4 or none for Arrow; snappy, deflate or none for
	// Avro. JSON ignores it.
	Compression string
	// RowGroupSize bounds Parquet row groups
	RowGroupSize int64
}

// DefaultWriterConfig returns defaults for format.
func DefaultWriterConfig(format Format, schema *arrow.Schema) *WriterConfig {
	return &WriterConfig{
		Format:       format,
		Schema:       schema,
		Compression:  "snappy",
		RowGroupSize: 128 * 1024,
	}
}

// Parse resolves a format name.
func Parse(name string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case "jsonl", "ndjson":
		return JSON, nil
	case "ipc", "feather":
		return Arrow, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown output format %q", name)
}

// Extension returns the conventional file suffix, including the dot.
func (f Format) Extension() string {
	switch f {
	case JSON:
		return ".jsonl"
	case Arrow:
		return ".arrow"
	case Parquet:
		return ".parquet"
	case Avro:
		return ".avro"
	default:
		return ""
	}
}

// NewWriter creates a writer for cfg.Format.
func NewWriter(w io.Writer, cfg *WriterConfig) (Writer, error) {
	if cfg == nil || cfg.Schema == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "writer needs a schema")
	}
	switch cfg.Format {
	case JSON:
		return newJSONWriter(w, cfg), nil
	case Arrow:
		return newArrowWriter(w, cfg)
	case Parquet:
		return newParquetWriter(w, cfg)
	case Avro:
		return newAvroWriter(w, cfg)
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown output format %q", cfg.Format)
	}
}

// WriteAll writes records in format to w and closes the writer.
func WriteAll(w io.Writer, format Format, schema *arrow.Schema, records []arrow.Record) (int64, error) {
	fw, err := NewWriter(w, DefaultWriterConfig(format, schema))
	if err != nil {
		return 0, err
	}
	for _, rec := range records {
		if err := fw.Write(rec); err != nil {
			_ = fw.Close()
			return fw.RowsWritten(), err
		}
	}
	if err := fw.Close(); err != nil {
		return fw.RowsWritten(), err
	}
	return fw.RowsWritten(), nil
}

// checkSchema rejects a record whose schema differs from the writer's.
func checkSchema(want *arrow.Schema, rec arrow.Record) error {
	if !want.Equal(rec.Schema()) {
		return errors.Newf(errors.ErrorTypeSchema, "record schema %s does not match writer schema %s", rec.Schema(), want)
	}
	return nil
}

// value returns the Go value of one cell, or nil for null.
func value(col arrow.Array, row int) (any, error) {
	if col.IsNull(row) {
		return nil, nil
	}
	switch a := col.(type) {
	case *array.Uint64:
		return a.Value(row), nil
	case *array.Float64:
		return a.Value(row), nil
	case *array.Boolean:
		return a.Value(row), nil
	case *array.String:
		return a.Value(row), nil
	default:
		return nil, errors.Newf(errors.ErrorTypeUnsupportedType, "unsupported arrow type %s", col.DataType())
	}
}

// nopCloser keeps encoders that close their sink away from the caller's
// writer.
type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
