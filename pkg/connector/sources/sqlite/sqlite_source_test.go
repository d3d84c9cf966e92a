package sqlite

import (
	"database/sql"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/connector/destinations/arrow"
	"github.com/ajitpratap0/quarry/pkg/connector/destinations/frame"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/dispatcher"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/partition"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/testutil"
	"github.com/ajitpratap0/quarry/pkg/types"
)

type SQLiteSuite struct {
	testutil.IntegrationTestSuite
	path string
}

func TestSQLiteSuite(t *testing.T) {
	testutil.IntegrationTest(t)
	suite.Run(t, new(SQLiteSuite))
}

func (s *SQLiteSuite) SetupSuite() {
	s.IntegrationTestSuite.SetupSuite()
	s.path = s.TempPath("events.db")

	db, err := sql.Open(Driver, s.path)
	s.Require().NoError(err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE events (id INTEGER NOT NULL, kind TEXT, weight REAL)`)
	s.Require().NoError(err)

	tx, err := db.Begin()
	s.Require().NoError(err)
	stmt, err := tx.Prepare(`INSERT INTO events VALUES (?, ?, ?)`)
	s.Require().NoError(err)
	for i := 0; i < 100; i++ {
		var kind any = "click"
		if i%10 == 0 {
			kind = nil
		}
		_, err = stmt.Exec(i, kind, float64(i)/4)
		s.Require().NoError(err)
	}
	s.Require().NoError(stmt.Close())
	s.Require().NoError(tx.Commit())
}

func (s *SQLiteSuite) open() core.SourceBuilder {
	b, err := registry.OpenSource(s.Context(), "sqlite://"+s.path, nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { b.Close() })
	return b
}

func (s *SQLiteSuite) TestPartitionedLoadIntoFrame() {
	b := s.open()
	queries := []string{
		"SELECT id, kind, weight FROM events WHERE id < 50 ORDER BY id",
		"SELECT id, kind, weight FROM events WHERE id >= 50 ORDER BY id",
	}
	d, err := dispatcher.New(b, frame.NewFrameDestination(), queries, nil,
		dispatcher.WithParallelism(2), dispatcher.WithLogger(testutil.TestLogger(s.T())))
	s.Require().NoError(err)

	res, err := d.RunChecked(s.Context())
	s.Require().NoError(err)
	f := res.(*frame.Frame)
	s.Equal(100, f.NumRows())
	s.Equal([]string{"id", "kind", "weight"}, f.Schema().Names())

	ids := f.Column(0).Uint64s()
	for i, id := range ids {
		s.Equal(uint64(i), id)
	}
	s.Equal(10, f.ColumnByName("kind").NullCount())
	s.Equal(types.F64Value(2.5), f.Value(10, 2))
}

func (s *SQLiteSuite) TestRangePartitionedLoadIntoArrow() {
	b := s.open()
	parts, err := partition.Expand(s.Context(), b, query.Raw("SELECT id, weight FROM events"), partition.Spec{Column: "id", Num: 3})
	s.Require().NoError(err)
	s.Len(parts, 3)

	schema := types.Schema{{Name: "id", Type: types.U64}, {Name: "weight", Type: types.F64}}
	dst := arrow.NewArrowDestination(nil)
	d, err := dispatcher.NewWithQueries(b, dst, parts, schema, dispatcher.WithLogger(testutil.TestLogger(s.T())))
	s.Require().NoError(err)

	res, err := d.RunChecked(s.Context())
	s.Require().NoError(err)
	out := res.(*arrow.Result)
	defer out.Release()
	s.Equal(100, out.NumRows())
	s.EqualValues(100, out.Record().NumRows())
	s.Equal(2, int(out.Record().NumCols()))
}

func (s *SQLiteSuite) TestTwoPassMatchesKnownCounts() {
	b := s.open()
	queries := []string{"SELECT id FROM events WHERE id % 2 = 0", "SELECT id FROM events WHERE id % 2 = 1"}
	schema := types.Schema{{Name: "id", Type: types.U64}}

	twoPass, err := dispatcher.New(b, frame.NewFrameDestination(), queries, schema)
	s.Require().NoError(err)
	s.Require().NoError(twoPass.Run(s.Context()))

	onePass, err := dispatcher.New(b, frame.NewFrameDestination(), queries, schema, dispatcher.WithRowCounts([]int{50, 50}))
	s.Require().NoError(err)
	s.Require().NoError(onePass.Run(s.Context()))

	s.Equal(twoPass.Result().(*frame.Frame).Rows(), onePass.Result().(*frame.Frame).Rows())
}

func (s *SQLiteSuite) TestQueryFailureAborts() {
	b := s.open()
	dst := testutil.Record(frame.NewFrameDestination())
	d, err := dispatcher.New(b, dst, []string{"SELECT id FROM events", "SELECT id FROM nowhere"},
		types.Schema{{Name: "id", Type: types.U64}})
	s.Require().NoError(err)

	err = d.Run(s.Context())
	s.True(errors.IsType(err, errors.ErrorTypeQuery), "got %v", err)
	s.Equal(0, dst.Finalizes())
}

func (s *SQLiteSuite) TestMissingFile() {
	_, err := registry.OpenSource(s.Context(), "sqlite://"+s.TempPath("absent.db"), nil)
	s.True(errors.IsType(err, errors.ErrorTypeFileNotFound), "got %v", err)
}

func (s *SQLiteSuite) TestMemory() {
	b, err := OpenMemory(s.Context(), testutil.TestLogger(s.T()))
	s.Require().NoError(err)
	defer b.Close()
	s.Equal(1, b.MaxConns())

	_, err = b.DB().ExecContext(s.Context(), `CREATE TABLE m (v INTEGER); INSERT INTO m VALUES (1), (2)`)
	s.Require().NoError(err)

	d, err := dispatcher.New(b, frame.NewFrameDestination(), []string{"SELECT v FROM m"}, nil)
	s.Require().NoError(err)
	s.Require().NoError(d.Run(s.Context()))
	s.Equal([]uint64{1, 2}, d.Result().(*frame.Frame).Column(0).Uint64s())
}

func TestPath(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"sqlite:///var/data/app.db", "/var/data/app.db"},
		{"sqlite://data/app.db", "data/app.db"},
		{"sqlite:app.db", "app.db"},
		{"sqlite::memory:", Memory},
	}
	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		if !assert.NoError(t, err, tt.raw) {
			continue
		}
		got, err := Path(u)
		assert.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	_, err := Path(&url.URL{Scheme: "sqlite"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeParse))
}

func TestOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Performance.MaxConnections = 6

	assert.Equal(t, 6, Options("app.db", cfg, nil).MaxConns)
	assert.Equal(t, 1, Options(Memory, cfg, nil).MaxConns)
	assert.Equal(t, 1, Options("file:x?mode=memory&cache=shared", cfg, nil).MaxConns)
	assert.Equal(t, cfg.Timeouts.Connect, Options("app.db", cfg, nil).ConnectTimeout)
}
