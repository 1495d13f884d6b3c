// ABOUTME: Tests for appservice event dispatch
// ABOUTME: Covers routing of tombstones and bot invites and the room activity bookkeeping

package matrix

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bridge/internal/metrics"
)

const testBot = id.UserID("@bridge:example.org")

type fakeUpgrades struct {
	mu         sync.Mutex
	tombstones []id.RoomID
	invites    []id.RoomID
	inviteOK   bool
}

func (f *fakeUpgrades) OnTombstone(ctx context.Context, evt *event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tombstones = append(f.tombstones, evt.RoomID)
	return true
}

func (f *fakeUpgrades) OnInvite(ctx context.Context, evt *event.Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invites = append(f.invites, evt.RoomID)
	return f.inviteOK
}

func memberEvent(roomID id.RoomID, target id.UserID, membership event.Membership) *event.Event {
	stateKey := target.String()
	return &event.Event{
		Type:     event.StateMember,
		RoomID:   roomID,
		Sender:   "@admin:example.org",
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.MemberEventContent{Membership: membership}},
	}
}

func tombstoneEvent(roomID, replacement id.RoomID) *event.Event {
	stateKey := ""
	return &event.Event{
		Type:     event.StateTombstone,
		RoomID:   roomID,
		Sender:   "@admin:example.org",
		StateKey: &stateKey,
		Content:  event.Content{Parsed: &event.TombstoneEventContent{ReplacementRoom: replacement}},
	}
}

func TestDispatcher_RoutesTombstone(t *testing.T) {
	upgrades := &fakeUpgrades{}
	d := NewDispatcher(testBot, upgrades, nil)

	d.HandleEvent(context.Background(), tombstoneEvent("!old:example.org", "!new:example.org"))

	assert.Equal(t, []id.RoomID{"!old:example.org"}, upgrades.tombstones)
	assert.Empty(t, upgrades.invites)
}

func TestDispatcher_RoutesBotInvite(t *testing.T) {
	upgrades := &fakeUpgrades{inviteOK: true}
	d := NewDispatcher(testBot, upgrades, nil)

	d.HandleEvent(context.Background(), memberEvent("!new:example.org", testBot, event.MembershipInvite))

	assert.Equal(t, []id.RoomID{"!new:example.org"}, upgrades.invites)
}

func TestDispatcher_IgnoresOtherMembership(t *testing.T) {
	upgrades := &fakeUpgrades{}
	d := NewDispatcher(testBot, upgrades, nil)
	ctx := context.Background()

	d.HandleEvent(ctx, memberEvent("!room:example.org", "@alice:example.org", event.MembershipInvite))
	d.HandleEvent(ctx, memberEvent("!room:example.org", testBot, event.MembershipJoin))
	d.HandleEvent(ctx, &event.Event{Type: event.EventMessage, RoomID: "!room:example.org"})

	assert.Empty(t, upgrades.invites)
	assert.Empty(t, upgrades.tombstones)
}

func TestDispatcher_IgnoresEventsWithoutRoom(t *testing.T) {
	upgrades := &fakeUpgrades{}
	d := NewDispatcher(testBot, upgrades, nil)

	d.HandleEvent(context.Background(), tombstoneEvent("", "!new:example.org"))
	d.HandleEvent(context.Background(), nil)

	assert.Empty(t, upgrades.tombstones)
}

func TestDispatcher_TouchesActivityWithEventTime(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	activity, err := metrics.NewRoomActivity(nil, mock)
	require.NoError(t, err)

	d := NewDispatcher(testBot, &fakeUpgrades{}, nil, WithActivity(activity), WithDispatcherClock(mock))

	evt := &event.Event{
		Type:      event.EventMessage,
		RoomID:    "!room:example.org",
		Timestamp: mock.Now().Add(-2 * time.Hour).UnixMilli(),
	}
	d.HandleEvent(context.Background(), evt)

	counters := activity.Counters()
	hour, _ := counters.Count("1h")
	day, _ := counters.Count("1d")
	assert.Equal(t, uint64(0), hour)
	assert.Equal(t, uint64(1), day)
}

func TestDispatcher_TouchesActivityWithClockWhenNoTimestamp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	activity, err := metrics.NewRoomActivity(nil, mock)
	require.NoError(t, err)

	d := NewDispatcher(testBot, &fakeUpgrades{}, nil, WithActivity(activity), WithDispatcherClock(mock))
	d.HandleEvent(context.Background(), &event.Event{Type: event.EventMessage, RoomID: "!room:example.org"})

	hour, _ := activity.Counters().Count("1h")
	assert.Equal(t, uint64(1), hour)
}

func TestDispatcher_ForgetsRoomWhenBotLeaves(t *testing.T) {
	activity, err := metrics.NewRoomActivity(nil, nil)
	require.NoError(t, err)

	d := NewDispatcher(testBot, &fakeUpgrades{}, nil, WithActivity(activity))
	ctx := context.Background()

	d.HandleEvent(ctx, &event.Event{Type: event.EventMessage, RoomID: "!room:example.org"})
	require.Equal(t, 1, activity.Len())

	d.HandleEvent(ctx, memberEvent("!room:example.org", testBot, event.MembershipLeave))
	assert.Equal(t, 0, activity.Len())
}
