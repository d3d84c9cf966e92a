package formats

import (
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// parquetWriter writes one row group per RowGroupSize rows.
type parquetWriter struct {
	fw   *pqarrow.FileWriter
	rows int64
}

func newParquetWriter(w io.Writer, cfg *WriterConfig) (*parquetWriter, error) {
	codec, err := parquetCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	opts := []parquet.WriterProperty{parquet.WithCompression(codec)}
	if cfg.RowGroupSize > 0 {
		opts = append(opts, parquet.WithMaxRowGroupLength(cfg.RowGroupSize))
	}

	fw, err := pqarrow.NewFileWriter(cfg.Schema, nopCloser{w}, parquet.NewWriterProperties(opts...),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create parquet writer")
	}
	return &parquetWriter{fw: fw}, nil
}

func (pw *parquetWriter) Write(rec arrow.Record) error {
	if err := pw.fw.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to write record batch")
	}
	pw.rows += rec.NumRows()
	return nil
}

func (pw *parquetWriter) Close() error {
	if err := pw.fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close parquet writer")
	}
	return nil
}

func (pw *parquetWriter) Format() Format     { return Parquet }
func (pw *parquetWriter) RowsWritten() int64 { return pw.rows }

func parquetCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf(errors.ErrorTypeConfig, "unsupported parquet compression %q", name)
	}
}
