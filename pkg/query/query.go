// Package query wraps executable query strings and builds the derived
// queries used for counting, probing and range partitioning. Queries are
// wrapped as subqueries and never parsed.
package query

import (
	"fmt"
	"strings"
)

// Origin records where a query came from.
type Origin uint8

const (
	// OriginRaw is a query supplied by the caller
	OriginRaw Origin = iota
	// OriginPartition is a range sub-query derived from a raw query
	OriginPartition
	// OriginCount is a row-count query
	OriginCount
	// OriginProbe is a schema probe query
	OriginProbe
	// OriginRange is a min/max probe over a partition column
	OriginRange
)

func (o Origin) String() string {
	switch o {
	case OriginRaw:
		return "raw"
	case OriginPartition:
		return "partition"
	case OriginCount:
		return "count"
	case OriginProbe:
		return "probe"
	case OriginRange:
		return "range"
	}
	return "unknown"
}

// Query is an immutable executable query string with its origin.
type Query struct {
	sql    string
	origin Origin
}

// Raw wraps a caller-supplied query.
func Raw(sql string) Query {
	return Query{sql: strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";")), origin: OriginRaw}
}

// RawAll wraps every query string in order.
func RawAll(sqls []string) []Query {
	out := make([]Query, len(sqls))
	for i, s := range sqls {
		out[i] = Raw(s)
	}
	return out
}

// New wraps sql with an explicit origin.
func New(sql string, origin Origin) Query {
	return Query{sql: sql, origin: origin}
}

// SQL returns the query text.
func (q Query) SQL() string { return q.sql }

// Origin returns where the query came from.
func (q Query) Origin() Origin { return q.origin }

func (q Query) String() string { return q.sql }

// Style captures the small syntax differences between dialects that matter
// when wrapping a query as a subquery.
type Style struct {
	// Quote quotes an identifier
	Quote func(string) string
	// Limit1 builds a single-row probe; nil selects "... LIMIT 1"
	Limit1 func(inner string) string
}

// DoubleQuoted is ANSI identifier quoting (PostgreSQL, SQLite, Snowflake).
func DoubleQuoted(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// Backticked is MySQL and BigQuery identifier quoting.
func Backticked(id string) string {
	return "`" + strings.ReplaceAll(id, "`", "``") + "`"
}

// Standard styles.
var (
	ANSI     = Style{Quote: DoubleQuoted}
	Backtick = Style{Quote: Backticked}
)

// Count returns SELECT COUNT(*) over q.
func (s Style) Count(q Query) Query {
	return New(fmt.Sprintf("SELECT COUNT(*) FROM (%s) AS QUARRY_COUNT", q.sql), OriginCount)
}

// Probe returns a single-row query over q used to discover its schema.
func (s Style) Probe(q Query) Query {
	if s.Limit1 != nil {
		return New(s.Limit1(q.sql), OriginProbe)
	}
	return New(fmt.Sprintf("SELECT * FROM (%s) AS QUARRY_PROBE LIMIT 1", q.sql), OriginProbe)
}

// MinMax returns SELECT MIN(col), MAX(col) over q.
func (s Style) MinMax(q Query, column string) Query {
	col := s.quote(column)
	return New(fmt.Sprintf("SELECT MIN(%s), MAX(%s) FROM (%s) AS QUARRY_RANGE", col, col, q.sql), OriginRange)
}

// Range returns the rows of q whose column lies in [lo, hi), or [lo, hi]
// when inclusive is set.
func (s Style) Range(q Query, column string, lo, hi int64, inclusive bool) Query {
	op := "<"
	if inclusive {
		op = "<="
	}
	col := s.quote(column)
	return New(fmt.Sprintf("SELECT * FROM (%s) AS QUARRY_PART WHERE %s >= %d AND %s %s %d",
		q.sql, col, lo, col, op, hi), OriginPartition)
}

func (s Style) quote(id string) string {
	if s.Quote == nil {
		return id
	}
	return s.Quote(id)
}
