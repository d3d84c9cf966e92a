package formats

import (
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// arrowWriter writes the Arrow IPC file format.
type arrowWriter struct {
	fw   *ipc.FileWriter
	rows int64
}

func newArrowWriter(w io.Writer, cfg *WriterConfig) (*arrowWriter, error) {
	opts := []ipc.Option{ipc.WithSchema(cfg.Schema)}
	switch strings.ToLower(cfg.Compression) {
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	}
	fw, err := ipc.NewFileWriter(w, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create arrow writer")
	}
	return &arrowWriter{fw: fw}, nil
}

func (aw *arrowWriter) Write(rec arrow.Record) error {
	if err := aw.fw.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeSchema, "failed to write record batch")
	}
	aw.rows += rec.NumRows()
	return nil
}

func (aw *arrowWriter) Close() error {
	if err := aw.fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to close arrow writer")
	}
	return nil
}

func (aw *arrowWriter) Format() Format     { return Arrow }
func (aw *arrowWriter) RowsWritten() int64 { return aw.rows }
