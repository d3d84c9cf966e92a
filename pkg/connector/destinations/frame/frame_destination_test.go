package frame

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

func schema() types.Schema {
	return types.Schema{
		{Name: "id", Type: types.U64},
		{Name: "label", Type: types.NullString},
	}
}

func TestFrameDestinationLifecycle(t *testing.T) {
	d := NewFrameDestination()
	_, err := d.WriterFor(0, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeState), "writer before allocate")

	require.NoError(t, d.Allocate(schema(), 3))
	assert.True(t, errors.IsType(d.Allocate(schema(), 3), errors.ErrorTypeState), "second allocate")

	w1, err := d.WriterFor(0, 2)
	require.NoError(t, err)
	w2, err := d.WriterFor(2, 3)
	require.NoError(t, err)

	_, err = d.WriterFor(1, 3)
	assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange), "overlapping writer")

	require.NoError(t, w1.PutU64(0, 0, 1))
	require.NoError(t, w1.PutString(0, 1, "a"))
	require.NoError(t, w1.PutU64(1, 0, 2))
	require.NoError(t, w1.PutNull(1, 1))
	require.NoError(t, w2.PutU64(0, 0, 3))
	require.NoError(t, w2.PutString(0, 1, "c"))

	res, err := d.Finalize()
	require.NoError(t, err)
	f := res.(*Frame)
	assert.Equal(t, 3, f.NumRows())
	assert.Equal(t, [][]any{{uint64(1), "a"}, {uint64(2), nil}, {uint64(3), "c"}}, f.Rows())
	assert.Equal(t, []string{"uint64", "string"}, f.TypeNames())
	assert.Equal(t, []uint64{1, 2, 3}, f.ColumnByName("id").Uint64s())
	assert.Equal(t, types.Null(types.KindString), f.Value(1, 1))

	_, err = d.Finalize()
	assert.True(t, errors.IsType(err, errors.ErrorTypeState), "second finalize")
}

func TestFrameDestinationAbort(t *testing.T) {
	d := NewFrameDestination()
	require.NoError(t, d.Allocate(schema(), 2))
	w, err := d.WriterFor(0, 2)
	require.NoError(t, err)
	require.NoError(t, w.PutU64(0, 0, 1))

	d.Abort(fmt.Errorf("partition failed"))
	assert.True(t, d.Aborted())
	assert.True(t, errors.IsType(w.PutU64(1, 0, 2), errors.ErrorTypeAborted))

	_, err = d.WriterFor(0, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAborted))

	_, err = d.Finalize()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAborted))
}

func TestFrameDestinationCheck(t *testing.T) {
	d := NewFrameDestination()
	assert.NoError(t, d.Check(schema()))

	err := d.Check(types.Schema{{Name: "x", Type: types.DataType{}}})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchema))
	assert.True(t, errors.IsType(d.Allocate(types.Schema{{Name: "x"}}, 1), errors.ErrorTypeSchema))
}
