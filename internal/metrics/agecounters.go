// ABOUTME: Bucketed age counters for rolling-window activity metrics.
// ABOUTME: Classifies ages into 1h/1d/7d-style buckets plus an unbounded "all" bucket.

package metrics

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

// AllPeriod labels the unbounded bucket that counts every bumped age.
const AllPeriod = "all"

var (
	// ErrInvalidPeriod is returned for a period string that is not a positive
	// integer followed by h, d or w.
	ErrInvalidPeriod = errors.New("invalid counter period")

	// ErrDuplicatePeriod is returned when two periods resolve to the same threshold.
	ErrDuplicatePeriod = errors.New("duplicate counter period")
)

// DefaultPeriods are used when NewAgeCounters is given a nil slice.
var DefaultPeriods = []string{"1h", "1d", "7d"}

var periodPattern = regexp.MustCompile(`^([0-9]+)([hdw])$`)

var periodUnits = map[string]time.Duration{
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
}

// GaugeSink receives one value per bucket from AgeCounters.SetGauge.
type GaugeSink interface {
	Set(labels map[string]string, value float64)
}

// Bucket is a point-in-time view of a single counter.
type Bucket struct {
	Period    string
	Threshold time.Duration // zero for the "all" bucket
	Count     uint64
}

// AgeCounters counts ages into ascending buckets. A bump lands in every
// bucket whose threshold is strictly greater than the age, and always in "all".
type AgeCounters struct {
	mu         sync.Mutex
	periods    []string        // ascending, without "all"
	thresholds []time.Duration // parallel to periods
	counts     []uint64        // len(periods)+1, "all" last
}

// NewAgeCounters parses periods such as "1h", "2d" or "3w". A nil slice
// selects DefaultPeriods; an empty slice leaves only the "all" bucket.
func NewAgeCounters(periods []string) (*AgeCounters, error) {
	if periods == nil {
		periods = DefaultPeriods
	}

	type bucket struct {
		period    string
		threshold time.Duration
	}
	buckets := make([]bucket, 0, len(periods))
	for _, p := range periods {
		threshold, err := ParsePeriod(p)
		if err != nil {
			return nil, err
		}
		buckets = append(buckets, bucket{period: p, threshold: threshold})
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].threshold < buckets[j].threshold
	})

	ac := &AgeCounters{
		periods:    make([]string, len(buckets)),
		thresholds: make([]time.Duration, len(buckets)),
		counts:     make([]uint64, len(buckets)+1),
	}
	for i, b := range buckets {
		if i > 0 && b.threshold == buckets[i-1].threshold {
			return nil, fmt.Errorf("%w: %q and %q are both %v", ErrDuplicatePeriod, buckets[i-1].period, b.period, b.threshold)
		}
		ac.periods[i] = b.period
		ac.thresholds[i] = b.threshold
	}
	return ac, nil
}

// ParsePeriod converts a period string into its duration.
func ParsePeriod(period string) (time.Duration, error) {
	m := periodPattern.FindStringSubmatch(period)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q must have a positive magnitude", ErrInvalidPeriod, period)
	}
	unit := periodUnits[m[2]]
	if n > int64(1<<63-1)/int64(unit) {
		return 0, fmt.Errorf("%w: %q is too large", ErrInvalidPeriod, period)
	}
	return time.Duration(n) * unit, nil
}

// Periods returns the bucket labels in ascending order, ending with "all".
func (ac *AgeCounters) Periods() []string {
	out := make([]string, 0, len(ac.periods)+1)
	out = append(out, ac.periods...)
	return append(out, AllPeriod)
}

// Thresholds returns the finite bucket thresholds in ascending order.
func (ac *AgeCounters) Thresholds() []time.Duration {
	return append([]time.Duration(nil), ac.thresholds...)
}

// Bump records one observation of the given age.
func (ac *AgeCounters) Bump(age time.Duration) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	for i, threshold := range ac.thresholds {
		if age < threshold {
			ac.counts[i]++
		}
	}
	ac.counts[len(ac.counts)-1]++
}

// Count returns the current value of the bucket labelled period.
func (ac *AgeCounters) Count(period string) (uint64, bool) {
	for _, b := range ac.Snapshot() {
		if b.Period == period {
			return b.Count, true
		}
	}
	return 0, false
}

// Snapshot returns every bucket in ascending order with "all" last.
func (ac *AgeCounters) Snapshot() []Bucket {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	out := make([]Bucket, 0, len(ac.counts))
	for i, p := range ac.periods {
		out = append(out, Bucket{Period: p, Threshold: ac.thresholds[i], Count: ac.counts[i]})
	}
	return append(out, Bucket{Period: AllPeriod, Count: ac.counts[len(ac.counts)-1]})
}

// SetGauge reports every bucket to sink in ascending order. The labels passed
// for each bucket are extraLabels plus age=<period>.
func (ac *AgeCounters) SetGauge(sink GaugeSink, extraLabels map[string]string) {
	for _, b := range ac.Snapshot() {
		labels := make(map[string]string, len(extraLabels)+1)
		for k, v := range extraLabels {
			labels[k] = v
		}
		labels["age"] = b.Period
		sink.Set(labels, float64(b.Count))
	}
}
