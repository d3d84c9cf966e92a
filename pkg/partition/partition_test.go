package partition

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/testutil"
)

func TestAssign(t *testing.T) {
	parts := FromQueries(query.RawAll([]string{"a", "b", "c"}))
	total, err := Assign(parts, []int{4, 0, 3})
	require.NoError(t, err)
	assert.Equal(t, 7, total)

	assert.Equal(t, [2]int{0, 4}, [2]int{parts[0].Start, parts[0].End})
	assert.Equal(t, [2]int{4, 4}, [2]int{parts[1].Start, parts[1].End})
	assert.Equal(t, [2]int{4, 7}, [2]int{parts[2].Start, parts[2].End})
	assert.Equal(t, 3, parts[2].Rows())
	assert.Equal(t, 2, parts[2].Index)

	_, err = Assign(parts, []int{1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = Assign(parts, []int{1, -1, 0})
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestSplit(t *testing.T) {
	q := query.Raw("SELECT * FROM t")

	tests := []struct {
		name   string
		lo, hi int64
		num    int
		want   []string
	}{
		{
			name: "even", lo: 0, hi: 9, num: 2,
			want: []string{
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 0 AND "id" < 5`,
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 5 AND "id" <= 9`,
			},
		},
		{
			name: "uneven", lo: 1, hi: 7, num: 3,
			want: []string{
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 1 AND "id" < 4`,
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 4 AND "id" < 7`,
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 7 AND "id" <= 7`,
			},
		},
		{
			name: "more partitions than values", lo: 3, hi: 4, num: 8,
			want: []string{
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 3 AND "id" < 4`,
				`SELECT * FROM (SELECT * FROM t) AS QUARRY_PART WHERE "id" >= 4 AND "id" <= 4`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := Split(query.ANSI, q, "id", tt.lo, tt.hi, tt.num)
			require.NoError(t, err)
			got := make([]string, len(qs))
			for i, q := range qs {
				got[i] = q.SQL()
				assert.Equal(t, query.OriginPartition, q.Origin())
			}
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Split(query.ANSI, q, "id", 0, 10, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	_, err = Split(query.ANSI, q, "id", 5, 4, 2)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

var rangeBounds = regexp.MustCompile(`"id" >= (-?\d+) AND "id" (<=?) (-?\d+)$`)

func TestSplitWideRanges(t *testing.T) {
	q := query.Raw("SELECT * FROM t")

	tests := []struct {
		name   string
		lo, hi int64
		num    int
	}{
		{name: "full range single", lo: math.MinInt64, hi: math.MaxInt64, num: 1},
		{name: "full range halves", lo: math.MinInt64, hi: math.MaxInt64, num: 2},
		{name: "full range quarters", lo: math.MinInt64, hi: math.MaxInt64, num: 4},
		{name: "near full range", lo: math.MinInt64 + 1, hi: math.MaxInt64, num: 3},
		{name: "negative to max", lo: -10, hi: math.MaxInt64, num: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qs, err := Split(query.ANSI, q, "id", tt.lo, tt.hi, tt.num)
			require.NoError(t, err)
			require.Len(t, qs, tt.num)

			next := tt.lo
			for i, q := range qs {
				m := rangeBounds.FindStringSubmatch(q.SQL())
				require.NotNil(t, m, q.SQL())
				start, err := strconv.ParseInt(m[1], 10, 64)
				require.NoError(t, err)
				end, err := strconv.ParseInt(m[3], 10, 64)
				require.NoError(t, err)

				assert.Equal(t, next, start, "partition %d is not contiguous", i)
				if i == len(qs)-1 {
					assert.Equal(t, "<=", m[2])
					assert.Equal(t, tt.hi, end)
					break
				}
				assert.Equal(t, "<", m[2])
				assert.Less(t, start, end, "partition %d is empty", i)
				next = end
			}
		})
	}

	qs, err := Split(query.ANSI, q, "id", math.MinInt64, math.MaxInt64, 2)
	require.NoError(t, err)
	assert.Contains(t, qs[0].SQL(), `"id" < 0`)
	assert.Contains(t, qs[1].SQL(), `"id" >= 0 AND "id" <= 9223372036854775807`)
}

type rangeSource struct {
	*testutil.MockSource
	lo, hi int64
	probed []string
}

func (r *rangeSource) ProbeRange(_ context.Context, _ core.SourceConn, q query.Query, column string) (int64, int64, error) {
	r.probed = append(r.probed, q.SQL()+"|"+column)
	return r.lo, r.hi, nil
}

func TestExpand(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src := &rangeSource{MockSource: testutil.NewMockSource(nil, nil), lo: 0, hi: 99}
	qs, err := Expand(ctx, src, query.Raw("SELECT * FROM t"), Spec{Column: "id", Num: 4})
	require.NoError(t, err)
	assert.Len(t, qs, 4)
	assert.Equal(t, []string{"SELECT * FROM t|id"}, src.probed)
	assert.Equal(t, 0, src.Open(), "bound connection returned")

	hi := int64(9)
	qs, err = Expand(ctx, src, query.Raw("SELECT * FROM t"), Spec{Column: "id", Num: 2, Max: &hi})
	require.NoError(t, err)
	assert.Contains(t, qs[1].SQL(), `"id" <= 9`)

	lo := int64(0)
	plain := testutil.NewMockSource(nil, nil)
	_, err = Expand(ctx, plain, query.Raw("SELECT 1"), Spec{Column: "id", Num: 2})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "no RangeProber")
	qs, err = Expand(ctx, plain, query.Raw("SELECT 1"), Spec{Column: "id", Num: 2, Min: &lo, Max: &hi})
	require.NoError(t, err)
	assert.Len(t, qs, 2)
	assert.Equal(t, 0, plain.Connects())

	_, err = Expand(ctx, plain, query.Raw("SELECT 1"), Spec{Num: 2})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestExpandLogsCloseFailure(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	obs, logs := observer.New(zapcore.DebugLevel)
	prev := logger.Get()
	logger.Set(zap.New(obs))
	t.Cleanup(func() { logger.Set(prev) })

	src := &rangeSource{MockSource: testutil.NewMockSource(nil, nil), lo: 0, hi: 9}
	src.CloseErr = fmt.Errorf("broken pipe")
	qs, err := Expand(ctx, src, query.Raw("SELECT * FROM t"), Spec{Column: "id", Num: 2})
	require.NoError(t, err)
	assert.Len(t, qs, 2)

	entries := logs.FilterMessage("range connection close failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "broken pipe", entries[0].ContextMap()["error"])
}
