package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/destinations/frame"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/transport"
	"github.com/ajitpratap0/quarry/pkg/types"
)

const (
	qLow  = "SELECT id FROM t WHERE id < 5"
	qHigh = "SELECT id FROM t WHERE id >= 5"
)

var idSchema = types.Schema{{Name: "id", Type: types.U64}}

type DispatcherSuite struct {
	suite.Suite
	ctx    context.Context
	cancel context.CancelFunc
	src    *testutil.MockSource
	dst    *testutil.RecordingDestination
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	s.ctx, s.cancel = testutil.TestContext(s.T())
	s.src = testutil.NewMockSource(idSchema, map[string][][]types.Value{
		qLow:  testutil.U64Rows(0, 1, 2, 3),
		qHigh: testutil.U64Rows(5, 6, 7),
	})
	s.dst = testutil.Record(frame.NewFrameDestination())
}

func (s *DispatcherSuite) TearDownTest() {
	s.cancel()
}

func (s *DispatcherSuite) newDispatcher(schema types.Schema, opts ...Option) *Dispatcher {
	opts = append([]Option{WithLogger(testutil.TestLogger(s.T()))}, opts...)
	d, err := New(s.src, s.dst, []string{qLow, qHigh}, schema, opts...)
	s.Require().NoError(err)
	return d
}

func ids(res core.Result) []uint64 {
	return res.(*frame.Frame).Column(0).Uint64s()
}

func (s *DispatcherSuite) TestTwoPartitionScenario() {
	d := s.newDispatcher(idSchema)
	s.Require().NoError(d.Run(s.ctx))

	res := d.Result()
	s.Require().NotNil(res)
	s.Equal(7, res.NumRows())
	s.Equal([]uint64{0, 1, 2, 3, 5, 6, 7}, ids(res))
	s.Equal(StateCommitted, d.State())
	s.Equal([]int{7}, s.dst.Allocations())
	s.Equal(1, s.dst.Finalizes())

	parts := d.Partitions()
	s.Equal([2]int{0, 4}, [2]int{parts[0].Start, parts[0].End})
	s.Equal([2]int{4, 7}, [2]int{parts[1].Start, parts[1].End})
}

func (s *DispatcherSuite) TestOrderIndependentOfCompletion() {
	s.src.RowDelay = time.Millisecond
	s.src.Rows[qLow] = testutil.U64Rows(0, 1, 2, 3, 4, 10, 11, 12, 13, 14)
	d := s.newDispatcher(idSchema, WithParallelism(2))

	res, err := d.RunChecked(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uint64{0, 1, 2, 3, 4, 10, 11, 12, 13, 14, 5, 6, 7}, ids(res))
}

func (s *DispatcherSuite) TestRunTwiceFails() {
	d := s.newDispatcher(idSchema)
	s.Require().NoError(d.Run(s.ctx))

	err := d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeState))
	s.Equal(1, s.dst.Finalizes())
}

func (s *DispatcherSuite) TestIdempotentRuns() {
	var results [][]uint64
	for i := 0; i < 3; i++ {
		dst := frame.NewFrameDestination()
		d, err := New(s.src, dst, []string{qLow, qHigh}, idSchema, WithParallelism(2))
		s.Require().NoError(err)
		res, err := d.RunChecked(s.ctx)
		s.Require().NoError(err)
		results = append(results, ids(res))
	}
	s.Equal(results[0], results[1])
	s.Equal(results[1], results[2])
}

func (s *DispatcherSuite) TestSchemaProbed() {
	d := s.newDispatcher(nil)
	s.Nil(d.Schema())
	s.Require().NoError(d.Run(s.ctx))
	s.Equal(idSchema, d.Schema())
	s.Equal(7, d.Result().NumRows())
}

func (s *DispatcherSuite) TestTwoPassUsesIdenticalQueries() {
	d := s.newDispatcher(idSchema)
	s.Require().NoError(d.Run(s.ctx))

	s.ElementsMatch(sqls(s.src.Counted()), sqls(s.src.Fetched()))
	s.ElementsMatch([]string{qLow, qHigh}, sqls(s.src.Counted()))
	s.Equal(4, s.src.Connects(), "one connection per partition per pass")
	s.Equal(0, s.src.Open())
}

func (s *DispatcherSuite) TestFullScanCountFallback() {
	d, err := New(testutil.Uncounted{MockSource: s.src}, s.dst, []string{qLow, qHigh}, idSchema)
	s.Require().NoError(err)
	s.Require().NoError(d.Run(s.ctx))

	s.Empty(s.src.Counted())
	fetched := sqls(s.src.Fetched())
	sort.Strings(fetched)
	s.Equal([]string{qLow, qLow, qHigh, qHigh}, fetched, "count pass scans the fetch queries")
	s.Equal([]uint64{0, 1, 2, 3, 5, 6, 7}, ids(d.Result()))
}

func (s *DispatcherSuite) TestKnownRowCountsSkipCountPass() {
	d := s.newDispatcher(idSchema, WithRowCounts([]int{4, 3}))
	s.Require().NoError(d.Run(s.ctx))
	s.Empty(s.src.Counted())
	s.Equal(2, s.src.Connects())
}

func (s *DispatcherSuite) TestUnsupportedTypeBeforeConnect() {
	table := transport.Standard()
	delete(table, types.U64)
	_, err := New(s.src, s.dst, []string{qLow}, idSchema, WithTransport(transport.New(testutil.MockFamily, frame.Family, table)))

	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeUnsupportedType))
	s.Equal(0, s.src.Connects())
}

func (s *DispatcherSuite) TestSchemaErrorBeforeConnect() {
	_, err := New(s.src, s.dst, []string{qLow}, types.Schema{{Name: "bad", Type: types.DataType{}}})
	s.Require().Error(err)
	s.Equal(0, s.src.Connects())
}

func (s *DispatcherSuite) TestPartialFailureNeverFinalizes() {
	s.src.RowErrs = map[string]testutil.RowError{qHigh: {Rows: 2, Err: fmt.Errorf("connection reset")}}
	d := s.newDispatcher(idSchema)

	err := d.Run(s.ctx)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeQuery))
	s.Contains(err.Error(), "connection reset")
	s.Equal(StateAborted, d.State())
	s.Nil(d.Result())
	s.Equal(0, s.dst.Finalizes())
	s.True(s.dst.Aborted())
	s.Equal(0, s.src.Open(), "connections released")
}

func (s *DispatcherSuite) TestRunCheckedFailureReturnsNoResult() {
	s.src.QueryErrs = map[string]error{qLow: fmt.Errorf("relation t does not exist")}
	d := s.newDispatcher(idSchema, WithRowCounts([]int{4, 3}))

	res, err := d.RunChecked(s.ctx)
	s.Nil(res)
	s.True(errors.IsType(err, errors.ErrorTypeQuery))
	s.Equal(0, s.dst.Finalizes())
}

func (s *DispatcherSuite) TestFewerRowsThanCounted() {
	s.src.CountOverride = map[string]int{qHigh: 5}
	d := s.newDispatcher(idSchema)

	err := d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeData), "got %v", err)
	s.Equal(0, s.dst.Finalizes())
}

func (s *DispatcherSuite) TestMoreRowsThanCounted() {
	d := s.newDispatcher(idSchema, WithRowCounts([]int{2, 3}))

	err := d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeOutOfRange), "got %v", err)
	s.Equal(0, s.dst.Finalizes())
}

func (s *DispatcherSuite) TestNullInNonNullableColumn() {
	s.src.Rows[qHigh] = [][]types.Value{{types.Null(types.KindU64)}}
	d := s.newDispatcher(idSchema)

	err := d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeData))
}

func (s *DispatcherSuite) TestConnectionFailure() {
	s.src.ConnectErr = fmt.Errorf("dial tcp: connection refused")
	d := s.newDispatcher(idSchema)

	err := d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeConnection))
	s.True(errors.IsRetryable(err))
	s.Empty(s.dst.Allocations(), "count pass failed before allocate")
}

func (s *DispatcherSuite) TestCancellation() {
	s.src.RowDelay = 50 * time.Millisecond
	d := s.newDispatcher(idSchema, WithRowCounts([]int{4, 3}), WithBatchSize(1))

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	err := d.Run(ctx)
	s.Require().Error(err)
	s.True(errors.IsType(err, errors.ErrorTypeAborted), "got %v", err)
	s.Equal(0, s.dst.Finalizes())
	s.True(s.dst.Aborted())
}

func (s *DispatcherSuite) TestConnectionCap() {
	rows := map[string][][]types.Value{}
	queries := make([]string, 8)
	for i := range queries {
		queries[i] = fmt.Sprintf("SELECT id FROM t%d", i)
		rows[queries[i]] = testutil.U64Rows(uint64(i))
	}
	src := testutil.NewMockSource(idSchema, rows)
	src.RowDelay = 5 * time.Millisecond

	d, err := New(src, frame.NewFrameDestination(), queries, idSchema, WithParallelism(8), WithMaxConnections(2))
	s.Require().NoError(err)
	res, err := d.RunChecked(s.ctx)
	s.Require().NoError(err)
	s.Equal([]uint64{0, 1, 2, 3, 4, 5, 6, 7}, ids(res))
	s.LessOrEqual(src.MaxOpen(), 2)
}

func (s *DispatcherSuite) TestRowsWrittenExcludesFailedPartitions() {
	s.src.RowErrs = map[string]testutil.RowError{qHigh: {Rows: 2, Err: fmt.Errorf("connection reset")}}
	written := metrics.RowsWritten.WithLabelValues(s.src.Family(), s.dst.Family())
	before := promtest.ToFloat64(written)

	// one worker runs qLow to completion before qHigh starts
	d := s.newDispatcher(idSchema, WithRowCounts([]int{4, 3}), WithParallelism(1))
	s.Require().Error(d.Run(s.ctx))
	s.Equal(before+4, promtest.ToFloat64(written))
}

func (s *DispatcherSuite) TestOnlyOriginatingFailureIsWarned() {
	rows := map[string][][]types.Value{}
	queries := make([]string, 6)
	counts := make([]int, len(queries))
	for i := range queries {
		queries[i] = fmt.Sprintf("SELECT id FROM t%d", i)
		rows[queries[i]] = testutil.U64Rows(1, 2, 3)
		counts[i] = 3
	}
	src := testutil.NewMockSource(idSchema, rows)
	src.QueryErrs = map[string]error{queries[0]: fmt.Errorf("relation t0 does not exist")}
	src.RowDelay = 50 * time.Millisecond

	obs, logs := observer.New(zapcore.DebugLevel)
	d, err := New(src, frame.NewFrameDestination(), queries, idSchema,
		WithLogger(zap.New(obs)), WithRowCounts(counts), WithParallelism(len(queries)), WithBatchSize(1))
	s.Require().NoError(err)

	err = d.Run(s.ctx)
	s.True(errors.IsType(err, errors.ErrorTypeQuery), "got %v", err)

	failed := logs.FilterMessage("partition failed").All()
	s.Require().Len(failed, 1)
	s.Equal(int64(0), failed[0].ContextMap()["partition"])
	s.Equal(zapcore.WarnLevel, failed[0].Level)
	for _, e := range logs.FilterMessage("partition cancelled").All() {
		s.Equal(zapcore.DebugLevel, e.Level)
	}
}

func sqls(qs []query.Query) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.SQL()
	}
	return out
}

func TestNewValidation(t *testing.T) {
	src := testutil.NewMockSource(idSchema, nil)
	dst := frame.NewFrameDestination()

	tests := []struct {
		name    string
		queries []string
		opts    []Option
	}{
		{"no queries", nil, nil},
		{"negative parallelism", []string{qLow}, []Option{WithParallelism(-1)}},
		{"zero batch", []string{qLow}, []Option{WithBatchSize(0)}},
		{"negative connections", []string{qLow}, []Option{WithMaxConnections(-1)}},
		{"row count mismatch", []string{qLow, qHigh}, []Option{WithRowCounts([]int{1})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(src, dst, tt.queries, idSchema, tt.opts...)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}

	_, err := New(&unknownFamily{src}, dst, []string{qLow}, idSchema)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedType), "no registered transport")
}

type unknownFamily struct{ *testutil.MockSource }

func (unknownFamily) Family() string { return "unregistered" }

func TestWorkers(t *testing.T) {
	o := defaultOptions()
	assert.Equal(t, 1, o.workers(1))
	assert.LessOrEqual(t, o.workers(1000), DefaultConcurrencyLimit)

	o.parallelism = 100
	o.concurrencyLimit = 8
	assert.Equal(t, 8, o.workers(3))
}

func TestRunIDDefaults(t *testing.T) {
	src := testutil.NewMockSource(idSchema, nil)
	d, err := New(src, frame.NewFrameDestination(), []string{qLow}, idSchema)
	require.NoError(t, err)
	assert.Len(t, d.RunID(), 36)

	d, err = New(src, frame.NewFrameDestination(), []string{qLow}, idSchema, WithRunID("run-7"))
	require.NoError(t, err)
	assert.Equal(t, "run-7", d.RunID())
}
