package types

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Dialect translates a source's native type names into canonical kinds.
// Nullability is never encoded in a dialect name; sources decide it from
// catalog metadata or default to nullable.
type Dialect struct {
	name  string
	kinds map[string]Kind
}

// NewDialect builds a dialect from a name → kind table. Keys are matched
// case-insensitively.
func NewDialect(name string, table map[string]Kind) *Dialect {
	kinds := make(map[string]Kind, len(table))
	for k, v := range table {
		kinds[strings.ToLower(k)] = v
	}
	return &Dialect{name: name, kinds: kinds}
}

// Name returns the dialect name.
func (d *Dialect) Name() string { return d.name }

// Parse maps a dialect type name to a Kind. Length, precision and array
// suffixes are stripped, so "varchar(255)" and "NUMBER(38,0)" resolve to
// their base names.
func (d *Dialect) Parse(name string) (Kind, error) {
	base := normalizeTypeName(name)
	if k, ok := d.kinds[base]; ok {
		return k, nil
	}
	return KindInvalid, errors.Newf(errors.ErrorTypeUnknownType, "unknown %s type %q", d.name, name).
		WithDetail("dialect", d.name)
}

// ParseExternalType maps a dialect type name to a DataType with the given
// nullability.
func (d *Dialect) ParseExternalType(name string, nullable bool) (DataType, error) {
	k, err := d.Parse(name)
	if err != nil {
		return DataType{}, err
	}
	return DataType{Kind: k, Nullable: nullable}, nil
}

// Names returns the recognised names, sorted.
func (d *Dialect) Names() []string {
	out := make([]string, 0, len(d.kinds))
	for k := range d.kinds {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeTypeName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(s, '('); i >= 0 {
		rest := ""
		if j := strings.IndexByte(s[i:], ')'); j >= 0 {
			rest = s[i+j+1:]
		}
		s = strings.TrimSpace(s[:i]) + rest
	}
	s = strings.TrimSuffix(s, "[]")
	return strings.Join(strings.Fields(s), " ")
}

// Postgres names as reported by pgtype and information_schema.
var Postgres = NewDialect("postgresql", map[string]Kind{
	"int2": KindU64, "int4": KindU64, "int8": KindU64,
	"smallint": KindU64, "integer": KindU64, "bigint": KindU64,
	"serial": KindU64, "bigserial": KindU64, "oid": KindU64,
	"float4": KindF64, "float8": KindF64, "real": KindF64,
	"double precision": KindF64, "numeric": KindF64, "decimal": KindF64,
	"bool": KindBool, "boolean": KindBool,
	"text": KindString, "varchar": KindString, "character varying": KindString,
	"bpchar": KindString, "char": KindString, "character": KindString,
	"name": KindString, "uuid": KindString, "json": KindString, "jsonb": KindString,
	"date": KindString, "time": KindString, "timetz": KindString,
	"timestamp": KindString, "timestamptz": KindString,
	"timestamp without time zone": KindString, "timestamp with time zone": KindString,
	"interval": KindString, "inet": KindString,
})

// MySQL names as reported by go-sql-driver/mysql ColumnTypes.
var MySQL = NewDialect("mysql", map[string]Kind{
	"tinyint": KindU64, "smallint": KindU64, "mediumint": KindU64,
	"int": KindU64, "integer": KindU64, "bigint": KindU64, "year": KindU64,
	"unsigned tinyint": KindU64, "unsigned smallint": KindU64, "unsigned mediumint": KindU64,
	"unsigned int": KindU64, "unsigned bigint": KindU64,
	"float": KindF64, "double": KindF64, "decimal": KindF64, "numeric": KindF64,
	"bit": KindBool, "bool": KindBool, "boolean": KindBool,
	"char": KindString, "varchar": KindString, "text": KindString, "tinytext": KindString,
	"mediumtext": KindString, "longtext": KindString, "enum": KindString, "set": KindString,
	"json": KindString, "date": KindString, "datetime": KindString,
	"timestamp": KindString, "time": KindString,
})

// SQLite declared column types.
var SQLite = NewDialect("sqlite", map[string]Kind{
	"integer": KindU64, "int": KindU64, "bigint": KindU64, "smallint": KindU64,
	"tinyint": KindU64, "unsigned big int": KindU64,
	"real": KindF64, "double": KindF64, "double precision": KindF64,
	"float": KindF64, "numeric": KindF64, "decimal": KindF64,
	"boolean": KindBool, "bool": KindBool,
	"text": KindString, "varchar": KindString, "char": KindString, "clob": KindString,
	"date": KindString, "datetime": KindString, "timestamp": KindString,
})

// Snowflake names as reported by gosnowflake.
var Snowflake = NewDialect("snowflake", map[string]Kind{
	"fixed": KindU64, "number": KindU64, "int": KindU64, "integer": KindU64, "bigint": KindU64,
	"real": KindF64, "float": KindF64, "double": KindF64, "decimal": KindF64,
	"boolean": KindBool,
	"text": KindString, "varchar": KindString, "string": KindString,
	"date": KindString, "time": KindString, "timestamp_ntz": KindString,
	"timestamp_ltz": KindString, "timestamp_tz": KindString, "variant": KindString,
	"object": KindString, "array": KindString,
})

// BigQuery standard and legacy field type names.
var BigQuery = NewDialect("bigquery", map[string]Kind{
	"integer": KindU64, "int64": KindU64,
	"float": KindF64, "float64": KindF64, "numeric": KindF64, "bignumeric": KindF64,
	"boolean": KindBool, "bool": KindBool,
	"string": KindString, "bytes": KindString, "date": KindString, "time": KindString,
	"datetime": KindString, "timestamp": KindString, "json": KindString,
	"geography": KindString,
})
