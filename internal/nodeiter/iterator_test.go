package nodeiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"object-proxy/internal/errorlimiter"
	"object-proxy/internal/ring"
)

func buildRing(t *testing.T) (*ring.Ring, int, []ring.Device) {
	t.Helper()
	devices := []ring.Device{
		{ID: "d0", Zone: 0, IP: "10.0.0.1", Port: 6000},
		{ID: "d1", Zone: 1, IP: "10.0.0.2", Port: 6000},
		{ID: "d2", Zone: 2, IP: "10.0.0.3", Port: 6000},
		{ID: "d3", Zone: 3, IP: "10.0.0.4", Port: 6000},
	}
	assignments := [][]string{{"d0"}, {"d1"}, {"d2"}}
	r, err := ring.New(0, "seed", devices, assignments)
	require.NoError(t, err)
	partition, primaries := r.Lookup("a", "c", "o")
	return r, partition, primaries
}

func TestIteratorYieldsPrimariesFirst(t *testing.T) {
	r, partition, primaries := buildRing(t)
	it := New(r, errorlimiter.New(3, time.Minute), partition, primaries, false, nil)

	for _, want := range primaries {
		got, ok := it.Next()
		require.True(t, ok)
		assert.Equal(t, want.ID, got.ID)
	}
}

func TestIteratorSkipsSuppressedPrimary(t *testing.T) {
	r, partition, primaries := buildRing(t)
	limiter := errorlimiter.New(0, time.Minute)
	limiter.Record(primaries[0].ID, errorlimiter.WeightFatal)

	it := New(r, limiter, partition, primaries, false, nil)
	got, ok := it.Next()
	require.True(t, ok)
	assert.NotEqual(t, primaries[0].ID, got.ID)
}

func TestIteratorFallsBackToHandoffs(t *testing.T) {
	r, partition, primaries := buildRing(t)
	it := New(r, errorlimiter.New(100, time.Minute), partition, primaries, false, nil)

	seen := map[string]bool{}
	for i := 0; i < len(primaries); i++ {
		d, ok := it.Next()
		require.True(t, ok)
		seen[d.ID] = true
	}
	handoff, ok := it.Next()
	require.True(t, ok)
	assert.False(t, seen[handoff.ID], "handoff must not repeat a primary")
	assert.Equal(t, 1, it.HandoffsUsed())
}

func TestIteratorInvokesHandoffCallback(t *testing.T) {
	r, partition, primaries := buildRing(t)
	var warned []ring.Device
	it := New(r, errorlimiter.New(100, time.Minute), partition, primaries, true, func(d ring.Device) {
		warned = append(warned, d)
	})
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
	}
	assert.NotEmpty(t, warned)
}

func TestIteratorRespectsTryCap(t *testing.T) {
	r, partition, primaries := buildRing(t)
	it := New(r, errorlimiter.New(100, time.Minute), partition, primaries, false, nil)

	count := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		count++
	}
	assert.LessOrEqual(t, count, len(primaries)*maxHandoffsMultiplier)
}
