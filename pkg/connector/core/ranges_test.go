package core

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

func TestRangeTrackerClaim(t *testing.T) {
	tr := NewRangeTracker(10)

	require.NoError(t, tr.Claim(0, 4))
	require.NoError(t, tr.Claim(7, 10))
	require.NoError(t, tr.Claim(4, 7))
	require.NoError(t, tr.Claim(5, 5), "empty ranges never conflict")
	assert.Equal(t, 10, tr.Claimed())

	tests := []struct {
		name       string
		start, end int
	}{
		{"overlaps left neighbour", 3, 5},
		{"overlaps right neighbour", 6, 8},
		{"duplicate", 0, 4},
		{"outside total", 8, 11},
		{"negative start", -1, 2},
		{"inverted", 5, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tr.Claim(tt.start, tt.end)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeOutOfRange))
		})
	}
}

func TestRangeTrackerConcurrentClaims(t *testing.T) {
	tr := NewRangeTracker(1000)

	var wg sync.WaitGroup
	errs := make(chan error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- tr.Claim(i*10, i*10+10)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1000, tr.Claimed())
}

func TestLifecycle(t *testing.T) {
	t.Run("allocate once then finalize once", func(t *testing.T) {
		var l Lifecycle
		require.Error(t, l.BeginFinalize(), "finalize before allocate")
		require.NoError(t, l.BeginAllocate())
		assert.True(t, errors.IsType(l.BeginAllocate(), errors.ErrorTypeState))
		require.NoError(t, l.BeginFinalize())
		assert.True(t, errors.IsType(l.BeginFinalize(), errors.ErrorTypeState))
	})

	t.Run("abort rejects writes and finalize", func(t *testing.T) {
		var l Lifecycle
		require.NoError(t, l.BeginAllocate())
		require.NoError(t, l.CheckWrite())

		l.Abort(fmt.Errorf("partition 2 failed"))
		l.Abort(fmt.Errorf("second cause ignored"))

		err := l.CheckWrite()
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeAborted))
		assert.Contains(t, err.Error(), "partition 2 failed")

		assert.True(t, errors.IsType(l.BeginFinalize(), errors.ErrorTypeAborted))
		assert.True(t, l.Flag().Load())
	})
}
