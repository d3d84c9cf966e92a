package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/columnar"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func TestSeededPairs(t *testing.T) {
	for _, src := range SourceFamilies {
		for _, dst := range DestinationFamilies {
			tr, err := Lookup(src, dst)
			require.NoError(t, err, "%s -> %s", src, dst)
			for _, dt := range types.All {
				assert.True(t, tr.Supports(dt), "%s lacks %s", tr.Pair(), dt)
			}
		}
	}

	_, err := Lookup("postgresql", "parquet")
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedType))
}

func TestBindUnsupported(t *testing.T) {
	table := Standard()
	delete(table, types.NullString)
	tr := New("src", "dst", table)

	schema := types.Schema{{Name: "id", Type: types.U64}}
	convs, err := tr.Bind(schema, []types.DataType{types.U64})
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	_, err = tr.Bind(types.Schema{{Name: "name", Type: types.NullString}}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedType))

	_, err = tr.Bind(schema, []types.DataType{types.U64, types.NullString})
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnsupportedType), "producible type without conversion")
}

func TestStandardConversions(t *testing.T) {
	schema := types.Schema{
		{Name: "u", Type: types.U64},
		{Name: "f", Type: types.NullF64},
		{Name: "b", Type: types.Bool},
		{Name: "s", Type: types.NullString},
	}
	store, err := columnar.NewStore(schema, 2)
	require.NoError(t, err)
	w := store.Writer(0, 2, nil)

	convs, err := New("src", "dst", Standard()).Bind(schema, types.All)
	require.NoError(t, err)

	rows := [][]types.Value{
		{types.U64Value(1), types.F64Value(1.5), types.BoolValue(true), types.StringValue("x")},
		{types.U64Value(2), types.Null(types.KindF64), types.BoolValue(false), types.Null(types.KindString)},
	}
	for r, row := range rows {
		for c, v := range row {
			require.NoError(t, convs[c](w, r, c, v))
		}
	}
	assert.Equal(t, []interface{}{uint64(1), 1.5, true, "x"}, store.Row(0))
	assert.Equal(t, []interface{}{uint64(2), nil, false, nil}, store.Row(1))

	err = convs[0](w, 0, 0, types.Null(types.KindU64))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData), "NULL into non-nullable")
	err = convs[0](w, 0, 0, types.StringValue("1"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeData), "kind mismatch")
}

func TestRegisterReplaces(t *testing.T) {
	pair := Pair{Source: "test-src", Destination: "test-dst"}
	Register(pair, Table{})
	tr, err := Lookup(pair.Source, pair.Destination)
	require.NoError(t, err)
	assert.False(t, tr.Supports(types.U64))

	Register(pair, Standard())
	tr, err = Lookup(pair.Source, pair.Destination)
	require.NoError(t, err)
	assert.True(t, tr.Supports(types.U64))
	assert.Contains(t, Registered(), pair)
}
