// ABOUTME: Tracks the last activity time of bridged rooms.
// ABOUTME: Reports how many rooms were active within each age window on every scrape.

package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// RoomActivity remembers when each room last saw an event.
type RoomActivity struct {
	mu         sync.Mutex
	lastActive map[string]time.Time
	periods    []string
	clock      clock.Clock
}

// NewRoomActivity validates periods up front so a bad configuration fails at
// startup rather than on the first scrape. A nil clock uses the wall clock.
func NewRoomActivity(periods []string, clk clock.Clock) (*RoomActivity, error) {
	if _, err := NewAgeCounters(periods); err != nil {
		return nil, fmt.Errorf("room activity periods: %w", err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &RoomActivity{
		lastActive: make(map[string]time.Time),
		periods:    periods,
		clock:      clk,
	}, nil
}

// Touch records activity in roomID at the given time. Older timestamps never
// replace newer ones, so out-of-order delivery is harmless.
func (a *RoomActivity) Touch(roomID string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if prev, ok := a.lastActive[roomID]; ok && !at.After(prev) {
		return
	}
	a.lastActive[roomID] = at
}

// Forget stops tracking roomID.
func (a *RoomActivity) Forget(roomID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.lastActive, roomID)
}

// Len returns the number of tracked rooms.
func (a *RoomActivity) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.lastActive)
}

// Counters buckets every tracked room by the time since its last activity.
func (a *RoomActivity) Counters() *AgeCounters {
	// Periods were validated in NewRoomActivity.
	counters, _ := NewAgeCounters(a.periods)

	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, at := range a.lastActive {
		age := now.Sub(at)
		if age < 0 {
			age = 0
		}
		counters.Bump(age)
	}
	return counters
}

// Report writes the current bucket counts to sink.
func (a *RoomActivity) Report(sink GaugeSink, labels map[string]string) {
	a.Counters().SetGauge(sink, labels)
}
