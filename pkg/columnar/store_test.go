package columnar

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func testSchema() types.Schema {
	return types.Schema{
		{Name: "id", Type: types.U64},
		{Name: "score", Type: types.NullF64},
		{Name: "active", Type: types.Bool},
		{Name: "name", Type: types.NullString},
	}
}

func TestStoreWrites(t *testing.T) {
	store, err := NewStore(testSchema(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, store.NumRows())
	assert.Equal(t, 4, store.NumColumns())

	var lc core.Lifecycle
	w := store.Writer(2, 2, &lc)
	require.NoError(t, w.PutU64(0, 0, 7))
	require.NoError(t, w.PutF64(0, 1, 1.5))
	require.NoError(t, w.PutBool(0, 2, true))
	require.NoError(t, w.PutString(0, 3, "a"))
	require.NoError(t, w.PutU64(1, 0, 8))
	require.NoError(t, w.PutNull(1, 1))
	require.NoError(t, w.PutNull(1, 3))

	assert.Equal(t, []interface{}{uint64(7), 1.5, true, "a"}, store.Row(2))
	assert.Equal(t, []interface{}{uint64(8), nil, false, nil}, store.Row(3))
	assert.True(t, store.ColumnByName("name").IsNull(0), "unwritten nullable rows read as null")
	assert.Equal(t, 3, store.Column(1).NullCount())
	assert.Nil(t, store.ColumnByName("missing"))
	assert.Equal(t, types.F64Value(1.5), store.Column(1).Value(2))
	assert.Equal(t, types.Null(types.KindString), store.Column(3).Value(3))
}

func TestWriterRejects(t *testing.T) {
	store, err := NewStore(testSchema(), 4)
	require.NoError(t, err)
	var lc core.Lifecycle
	w := store.Writer(1, 2, &lc)

	tests := []struct {
		name    string
		write   func() error
		errType errors.ErrorType
	}{
		{"row past range", func() error { return w.PutU64(2, 0, 1) }, errors.ErrorTypeOutOfRange},
		{"negative row", func() error { return w.PutU64(-1, 0, 1) }, errors.ErrorTypeOutOfRange},
		{"column past schema", func() error { return w.PutU64(0, 4, 1) }, errors.ErrorTypeOutOfRange},
		{"wrong kind", func() error { return w.PutString(0, 0, "x") }, errors.ErrorTypeSchema},
		{"null into non-nullable", func() error { return w.PutNull(0, 0) }, errors.ErrorTypeData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.write()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
		})
	}

	lc.Abort(fmt.Errorf("boom"))
	err = w.PutU64(0, 0, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAborted))
}

func TestConcurrentDisjointWriters(t *testing.T) {
	const rows, parts = 1000, 10
	store, err := NewStore(types.Schema{{Name: "v", Type: types.NullU64}}, rows)
	require.NoError(t, err)

	var lc core.Lifecycle
	var wg sync.WaitGroup
	for p := 0; p < parts; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			w := store.Writer(p*rows/parts, rows/parts, &lc)
			for r := 0; r < w.Len(); r++ {
				if r%2 == 0 {
					assert.NoError(t, w.PutNull(r, 0))
					continue
				}
				assert.NoError(t, w.PutU64(r, 0, uint64(w.Start()+r)))
			}
		}(p)
	}
	wg.Wait()

	col := store.Column(0)
	for i := 0; i < rows; i++ {
		if i%2 == 0 {
			assert.True(t, col.IsNull(i))
		} else {
			assert.Equal(t, uint64(i), col.Uint64s()[i])
		}
	}
	assert.Equal(t, rows/2, col.NullCount())
}

func TestNewStoreInvalid(t *testing.T) {
	_, err := NewStore(types.Schema{{Name: "bad", Type: types.DataType{}}}, 1)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))

	_, err = NewStore(testSchema(), -1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
}
