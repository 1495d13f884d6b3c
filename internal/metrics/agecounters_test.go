// ABOUTME: Tests for bucketed age counters.
// ABOUTME: Covers period parsing, bucket ordering, boundary semantics, and gauge reporting.

package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const day = 24 * time.Hour

type gaugeCall struct {
	labels map[string]string
	count  float64
}

type recordingSink struct {
	calls []gaugeCall
}

func (s *recordingSink) Set(labels map[string]string, value float64) {
	s.calls = append(s.calls, gaugeCall{labels: labels, count: value})
}

func counts(t *testing.T, ac *AgeCounters) map[string]uint64 {
	t.Helper()
	out := make(map[string]uint64)
	for _, b := range ac.Snapshot() {
		out[b.Period] = b.Count
	}
	return out
}

func TestNewAgeCounters_Defaults(t *testing.T) {
	ac, err := NewAgeCounters(nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"1h", "1d", "7d", "all"}, ac.Periods())
	assert.Equal(t, []time.Duration{time.Hour, day, 7 * day}, ac.Thresholds())
	assert.Len(t, ac.Snapshot(), 4)
}

func TestNewAgeCounters_GivenPeriods(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h", "2d", "5d", "3w"})
	require.NoError(t, err)

	assert.Equal(t, []string{"1h", "2d", "5d", "3w", "all"}, ac.Periods())
	assert.Equal(t, []time.Duration{time.Hour, 2 * day, 5 * day, 21 * day}, ac.Thresholds())
}

func TestNewAgeCounters_SortsAscending(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1w", "2h", "3d"})
	require.NoError(t, err)

	assert.Equal(t, []string{"2h", "3d", "1w", "all"}, ac.Periods())
}

func TestNewAgeCounters_Empty(t *testing.T) {
	ac, err := NewAgeCounters([]string{})
	require.NoError(t, err)

	assert.Equal(t, []string{"all"}, ac.Periods())
	assert.Len(t, ac.Snapshot(), 1)
}

func TestNewAgeCounters_InvalidPeriods(t *testing.T) {
	for _, periods := range [][]string{
		{"cats", "dogs"},
		{"5"},
		{"h"},
		{"1x"},
		{"-1h"},
		{"0h"},
		{"1.5h"},
		{"1h "},
		{""},
		{"1h", ""},
		{"99999999999999999999w"},
	} {
		_, err := NewAgeCounters(periods)
		assert.ErrorIs(t, err, ErrInvalidPeriod, "periods %q", periods)
	}
}

func TestNewAgeCounters_DuplicateThresholds(t *testing.T) {
	_, err := NewAgeCounters([]string{"1d", "24h"})
	assert.ErrorIs(t, err, ErrDuplicatePeriod)
}

func TestNewAgeCounters_Repeatable(t *testing.T) {
	periods := []string{"1d", "1w", "4w"}
	_, err := NewAgeCounters(periods)
	require.NoError(t, err)
	_, err = NewAgeCounters(periods)
	require.NoError(t, err)
	assert.Equal(t, []string{"1d", "1w", "4w"}, periods, "input must not be modified")
}

func TestBump_SmallAgeGoesInAllSlots(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h", "2d", "5d"})
	require.NoError(t, err)

	ac.Bump(1200 * time.Second)

	assert.Equal(t, map[string]uint64{"1h": 1, "2d": 1, "5d": 1, "all": 1}, counts(t, ac))
}

func TestBump_MiddlingAgeOnlyGoesInSome(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h", "2d", "5d"})
	require.NoError(t, err)

	// Exactly two days is not strictly below the 2d threshold.
	ac.Bump(2 * day)

	assert.Equal(t, map[string]uint64{"1h": 0, "2d": 0, "5d": 1, "all": 1}, counts(t, ac))
}

func TestBump_LargeAgeOnlyGoesInAll(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h", "2d", "5d"})
	require.NoError(t, err)

	ac.Bump(1200000 * time.Second)

	assert.Equal(t, map[string]uint64{"1h": 0, "2d": 0, "5d": 0, "all": 1}, counts(t, ac))
}

func TestBump_Concurrent(t *testing.T) {
	ac, err := NewAgeCounters(nil)
	require.NoError(t, err)

	const numGoroutines = 50
	const bumpsPerGoroutine = 100
	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < bumpsPerGoroutine; j++ {
				ac.Bump(time.Minute)
			}
		}()
	}
	wg.Wait()

	for _, b := range ac.Snapshot() {
		assert.Equal(t, uint64(numGoroutines*bumpsPerGoroutine), b.Count, "bucket %s", b.Period)
	}
}

func TestCount(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h"})
	require.NoError(t, err)
	ac.Bump(time.Minute)

	n, ok := ac.Count("1h")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), n)

	_, ok = ac.Count("1w")
	assert.False(t, ok)
}

func TestSetGauge_ReportsContents(t *testing.T) {
	ac, err := NewAgeCounters([]string{"1h", "2d", "5d"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ac.Bump(1200 * time.Second)
	}
	for i := 0; i < 3; i++ {
		ac.Bump(day)
	}
	for i := 0; i < 7; i++ {
		ac.Bump(7 * day)
	}

	sink := &recordingSink{}
	ac.SetGauge(sink, map[string]string{"aLabel": "42"})

	require.Len(t, sink.calls, 4)
	assert.Equal(t, gaugeCall{labels: map[string]string{"age": "1h", "aLabel": "42"}, count: 5}, sink.calls[0])
	assert.Equal(t, gaugeCall{labels: map[string]string{"age": "2d", "aLabel": "42"}, count: 8}, sink.calls[1])
	assert.Equal(t, gaugeCall{labels: map[string]string{"age": "5d", "aLabel": "42"}, count: 8}, sink.calls[2])
	assert.Equal(t, gaugeCall{labels: map[string]string{"age": "all", "aLabel": "42"}, count: 15}, sink.calls[3])
}

func TestSetGauge_DoesNotMutate(t *testing.T) {
	ac, err := NewAgeCounters(nil)
	require.NoError(t, err)
	ac.Bump(time.Second)

	extra := map[string]string{"type": "matrix"}
	before := ac.Snapshot()
	ac.SetGauge(&recordingSink{}, extra)
	ac.SetGauge(&recordingSink{}, extra)

	assert.Equal(t, before, ac.Snapshot())
	assert.Equal(t, map[string]string{"type": "matrix"}, extra)
}

func TestParsePeriod(t *testing.T) {
	d, err := ParsePeriod("3w")
	require.NoError(t, err)
	assert.Equal(t, 21*day, d)

	d, err = ParsePeriod("12h")
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, d)
}
