package formats

import (
	"bufio"
	"io"
	"math"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	json "github.com/goccy/go-json"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// jsonWriter writes one object per row with keys in column order.
// Non-finite floats are written as the strings "NaN", "+Inf" and "-Inf".
type jsonWriter struct {
	w      *bufio.Writer
	schema *arrow.Schema
	keys   [][]byte
	rows   int64
}

func newJSONWriter(w io.Writer, cfg *WriterConfig) *jsonWriter {
	keys := make([][]byte, cfg.Schema.NumFields())
	for i, f := range cfg.Schema.Fields() {
		// marshalling a string cannot fail
		keys[i], _ = json.Marshal(f.Name)
	}
	return &jsonWriter{w: bufio.NewWriter(w), schema: cfg.Schema, keys: keys}
}

func (jw *jsonWriter) Write(rec arrow.Record) error {
	if err := checkSchema(jw.schema, rec); err != nil {
		return err
	}
	buf := make([]byte, 0, 256)
	for row := 0; row < int(rec.NumRows()); row++ {
		buf = append(buf[:0], '{')
		for i := range jw.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			buf = append(buf, jw.keys[i]...)
			buf = append(buf, ':')
			v, err := value(rec.Column(i), row)
			if err != nil {
				return err
			}
			if buf, err = appendJSON(buf, v); err != nil {
				return err
			}
		}
		buf = append(buf, '}', '\n')
		if _, err := jw.w.Write(buf); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to write json row")
		}
		jw.rows++
	}
	return nil
}

func appendJSON(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, "null"...), nil
	case uint64:
		return strconv.AppendUint(buf, x, 10), nil
	case float64:
		switch {
		case math.IsNaN(x):
			return append(buf, `"NaN"`...), nil
		case math.IsInf(x, 1):
			return append(buf, `"+Inf"`...), nil
		case math.IsInf(x, -1):
			return append(buf, `"-Inf"`...), nil
		}
		return strconv.AppendFloat(buf, x, 'g', -1, 64), nil
	case bool:
		return strconv.AppendBool(buf, x), nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode json value")
		}
		return append(buf, b...), nil
	}
}

func (jw *jsonWriter) Close() error {
	if err := jw.w.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to flush json output")
	}
	return nil
}

func (jw *jsonWriter) Format() Format     { return JSON }
func (jw *jsonWriter) RowsWritten() int64 { return jw.rows }
