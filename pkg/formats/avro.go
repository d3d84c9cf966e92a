package formats

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	json "github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

var invalidAvroName = regexp.MustCompile(`[^A-Za-z0-9_]`)

// AvroName converts a column name into a valid Avro field name.
func AvroName(name string) string {
	n := invalidAvroName.ReplaceAllString(name, "_")
	if n == "" || (n[0] >= '0' && n[0] <= '9') {
		n = "_" + n
	}
	return n
}

type avroField struct {
	Name    string `json:"name"`
	Type    any    `json:"type"`
	Default any    `json:"default,omitempty"`
}

// AvroSchema returns the Avro record schema for an Arrow schema. Unsigned
// integers are written as long; nullable fields are unions with null.
func AvroSchema(schema *arrow.Schema) (string, []string, error) {
	fields := make([]avroField, schema.NumFields())
	branches := make([]string, schema.NumFields())
	seen := make(map[string]bool, schema.NumFields())
	for i, f := range schema.Fields() {
		var t string
		switch f.Type.ID() {
		case arrow.UINT64:
			t = "long"
		case arrow.FLOAT64:
			t = "double"
		case arrow.BOOL:
			t = "boolean"
		case arrow.STRING:
			t = "string"
		default:
			return "", nil, errors.Newf(errors.ErrorTypeUnsupportedType, "column %s: unsupported arrow type %s", f.Name, f.Type)
		}
		name := AvroName(f.Name)
		if seen[name] {
			return "", nil, errors.Newf(errors.ErrorTypeSchema, "column %s collides with another column as avro field %s", f.Name, name)
		}
		seen[name] = true
		fields[i] = avroField{Name: name, Type: t}
		if f.Nullable {
			fields[i].Type = []string{"null", t}
		}
		branches[i] = t
	}
	doc, err := json.Marshal(map[string]any{
		"type":   "record",
		"name":   "Row",
		"fields": fields,
	})
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode avro schema")
	}
	return string(doc), branches, nil
}

// avroWriter writes an Avro object container file.
type avroWriter struct {
	ocf      *goavro.OCFWriter
	schema   *arrow.Schema
	names    []string
	branches []string
	rows     int64
}

func newAvroWriter(w io.Writer, cfg *WriterConfig) (*avroWriter, error) {
	doc, branches, err := AvroSchema(cfg.Schema)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(doc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create avro codec")
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: avroCompression(cfg.Compression),
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create avro writer")
	}
	names := make([]string, cfg.Schema.NumFields())
	for i, f := range cfg.Schema.Fields() {
		names[i] = AvroName(f.Name)
	}
	return &avroWriter{ocf: ocf, schema: cfg.Schema, names: names, branches: branches}, nil
}

func (aw *avroWriter) Write(rec arrow.Record) error {
	if err := checkSchema(aw.schema, rec); err != nil {
		return err
	}
	if rec.NumRows() == 0 {
		return nil
	}
	batch := make([]any, 0, rec.NumRows())
	for row := 0; row < int(rec.NumRows()); row++ {
		native := make(map[string]any, len(aw.names))
		for i, name := range aw.names {
			v, err := value(rec.Column(i), row)
			if err != nil {
				return err
			}
			if u, ok := v.(uint64); ok {
				if u > math.MaxInt64 {
					return errors.Newf(errors.ErrorTypeData, "column %s: value %d exceeds the avro long range", name, u)
				}
				v = int64(u)
			}
			if v != nil && aw.schema.Field(i).Nullable {
				v = goavro.Union(aw.branches[i], v)
			}
			native[name] = v
		}
		batch = append(batch, native)
	}
	if err := aw.ocf.Append(batch); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("failed to append %d avro rows", len(batch)))
	}
	aw.rows += int64(len(batch))
	return nil
}

// Close is a no-op; every Append writes a complete block.
func (aw *avroWriter) Close() error { return nil }

func (aw *avroWriter) Format() Format     { return Avro }
func (aw *avroWriter) RowsWritten() int64 { return aw.rows }

func avroCompression(name string) string {
	switch strings.ToLower(name) {
	case "snappy":
		return goavro.CompressionSnappyLabel
	case "deflate":
		return goavro.CompressionDeflateLabel
	default:
		return goavro.CompressionNullLabel
	}
}
