package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Mapping names DataTypes for one destination backend. Name is total and
// injective, and Parse is its inverse, so nullability survives a round trip
// through the name alone.
type Mapping struct {
	backend string
	names   map[DataType]string
	types   map[string]DataType
}

// NewMapping builds a mapping. It panics if the table is not total over All
// or if two DataTypes share a name; mappings are package-level values, so a
// bad table is a programming error.
func NewMapping(backend string, table map[DataType]string) *Mapping {
	m := &Mapping{
		backend: backend,
		names:   make(map[DataType]string, len(table)),
		types:   make(map[string]DataType, len(table)),
	}
	for _, dt := range All {
		name, ok := table[dt]
		if !ok {
			panic(fmt.Sprintf("types: %s mapping has no name for %s", backend, dt))
		}
		if prev, dup := m.types[name]; dup {
			panic(fmt.Sprintf("types: %s mapping uses %q for both %s and %s", backend, name, prev, dt))
		}
		m.names[dt] = name
		m.types[name] = dt
	}
	return m
}

// Backend returns the destination backend this mapping names types for.
func (m *Mapping) Backend() string { return m.backend }

// Name returns the backend spelling of dt.
func (m *Mapping) Name(dt DataType) string {
	if name, ok := m.names[dt]; ok {
		return name
	}
	return dt.String()
}

// Parse returns the DataType spelled by name. Names are case-sensitive
// because some backends distinguish nullability by case alone.
func (m *Mapping) Parse(name string) (DataType, error) {
	if dt, ok := m.types[strings.TrimSpace(name)]; ok {
		return dt, nil
	}
	return DataType{}, errors.Newf(errors.ErrorTypeUnknownType, "unknown %s type %q", m.backend, name).
		WithDetail("backend", m.backend)
}

// ParseAll parses a list of names in order.
func (m *Mapping) ParseAll(names []string) ([]DataType, error) {
	out := make([]DataType, len(names))
	for i, n := range names {
		dt, err := m.Parse(n)
		if err != nil {
			return nil, err
		}
		out[i] = dt
	}
	return out, nil
}

// Names returns every backend spelling, sorted.
func (m *Mapping) Names() []string {
	out := make([]string, 0, len(m.types))
	for n := range m.types {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// FrameMapping names types the way dataframe runtimes do: lower-case numpy
// dtypes for non-null columns and extension dtypes for nullable ones.
var FrameMapping = NewMapping("frame", map[DataType]string{
	U64:        "uint64",
	NullU64:    "UInt64",
	F64:        "float64",
	NullF64:    "Float64",
	Bool:       "bool",
	NullBool:   "boolean",
	String:     "str",
	NullString: "string",
})

// ArrowMapping uses Arrow type names, suffixed with " not null" for
// non-nullable fields.
var ArrowMapping = NewMapping("arrow", map[DataType]string{
	U64:        "uint64 not null",
	NullU64:    "uint64",
	F64:        "float64 not null",
	NullF64:    "float64",
	Bool:       "bool not null",
	NullBool:   "bool",
	String:     "utf8 not null",
	NullString: "utf8",
})
