package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRaw(t *testing.T) {
	q := Raw("  SELECT id FROM t;  ")
	assert.Equal(t, "SELECT id FROM t", q.SQL())
	assert.Equal(t, OriginRaw, q.Origin())
}

func TestStyleWrapping(t *testing.T) {
	q := Raw("SELECT * FROM t")

	c := ANSI.Count(q)
	assert.Equal(t, "SELECT COUNT(*) FROM (SELECT * FROM t) AS QUARRY_COUNT", c.SQL())
	assert.Equal(t, OriginCount, c.Origin())

	p := ANSI.Probe(q)
	assert.Equal(t, "SELECT * FROM (SELECT * FROM t) AS QUARRY_PROBE LIMIT 1", p.SQL())

	m := Backtick.MinMax(q, "id")
	assert.Equal(t, "SELECT MIN(`id`), MAX(`id`) FROM (SELECT * FROM t) AS QUARRY_RANGE", m.SQL())

	r := ANSI.Range(q, "id", 0, 10, false)
	assert.Equal(t, `SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 0 AND "id" < 10`, r.SQL())
	assert.Equal(t, OriginPartition, r.Origin())

	last := ANSI.Range(q, "id", 10, 20, true)
	assert.Contains(t, last.SQL(), `"id" <= 20`)
}

func TestCustomLimit(t *testing.T) {
	s := Style{Quote: DoubleQuoted, Limit1: func(inner string) string { return "SELECT TOP 1 * FROM (" + inner + ") q" }}
	assert.Equal(t, "SELECT TOP 1 * FROM (SELECT 1) q", s.Probe(Raw("SELECT 1")).SQL())
}

func TestQuoting(t *testing.T) {
	assert.Equal(t, `"a""b"`, DoubleQuoted(`a"b`))
	assert.Equal(t, "`a``b`", Backticked("a`b"))
}
