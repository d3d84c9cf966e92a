// Package types defines the closed set of canonical value kinds that flow
// between sources and destinations, the schema built from them, and the name
// tables that translate dialect-specific and destination-specific type names.
package types

import (
	"fmt"
	"strings"
)

// Kind is one of the canonical value kinds.
type Kind uint8

const (
	// KindInvalid is the zero Kind and never appears in a valid schema
	KindInvalid Kind = iota
	// KindU64 is an unsigned 64-bit integer
	KindU64
	// KindF64 is a 64-bit float
	KindF64
	// KindBool is a boolean
	KindBool
	// KindString is a UTF-8 string
	KindString
)

// Kinds lists every valid kind in declaration order.
var Kinds = []Kind{KindU64, KindF64, KindBool, KindString}

func (k Kind) String() string {
	switch k {
	case KindU64:
		return "u64"
	case KindF64:
		return "f64"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is one of the canonical kinds.
func (k Kind) Valid() bool {
	return k >= KindU64 && k <= KindString
}

// DataType is a Kind plus a nullability flag. It is comparable and used as a
// map key by transports.
type DataType struct {
	Kind     Kind
	Nullable bool
}

// Shorthand constructors.
var (
	U64        = DataType{Kind: KindU64}
	F64        = DataType{Kind: KindF64}
	Bool       = DataType{Kind: KindBool}
	String     = DataType{Kind: KindString}
	NullU64    = DataType{Kind: KindU64, Nullable: true}
	NullF64    = DataType{Kind: KindF64, Nullable: true}
	NullBool   = DataType{Kind: KindBool, Nullable: true}
	NullString = DataType{Kind: KindString, Nullable: true}
)

// All lists every DataType: each kind in its non-null then nullable form.
var All = []DataType{U64, NullU64, F64, NullF64, Bool, NullBool, String, NullString}

// WithNullable returns dt with the given nullability.
func (dt DataType) WithNullable(nullable bool) DataType {
	dt.Nullable = nullable
	return dt
}

func (dt DataType) String() string {
	if dt.Nullable {
		return dt.Kind.String() + "?"
	}
	return dt.Kind.String()
}

// Column is one named, typed column of a schema.
type Column struct {
	Name string
	Type DataType
}

// Schema is the ordered column layout shared by every partition of a run.
type Schema []Column

// NewSchema pairs names with types. Both slices must have the same length.
func NewSchema(names []string, dts []DataType) (Schema, error) {
	if len(names) != len(dts) {
		return nil, fmt.Errorf("schema has %d names but %d types", len(names), len(dts))
	}
	s := make(Schema, len(names))
	for i := range names {
		s[i] = Column{Name: names[i], Type: dts[i]}
	}
	return s, nil
}

// Types returns the column types in order.
func (s Schema) Types() []DataType {
	out := make([]DataType, len(s))
	for i, c := range s {
		out[i] = c.Type
	}
	return out
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	out := make([]string, len(s))
	for i, c := range s {
		out[i] = c.Name
	}
	return out
}

// Index returns the position of the named column, or -1.
func (s Schema) Index(name string) int {
	for i, c := range s {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Clone returns a copy that the caller may modify.
func (s Schema) Clone() Schema {
	if s == nil {
		return nil
	}
	out := make(Schema, len(s))
	copy(out, s)
	return out
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.Name + " " + c.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
