// ABOUTME: Routes appservice events to the room upgrade handler
// ABOUTME: Sends tombstones and bot invites to the handler and records room activity for every event

package matrix

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/2389/coven-bridge/internal/metrics"
)

// UpgradeHandler is what the dispatcher needs from the room upgrade handler.
type UpgradeHandler interface {
	OnTombstone(ctx context.Context, evt *event.Event) bool
	OnInvite(ctx context.Context, evt *event.Event) bool
}

// DispatchedTypes lists the event types the dispatcher should be registered for.
var DispatchedTypes = []event.Type{
	event.StateTombstone,
	event.StateMember,
	event.EventMessage,
	event.EventReaction,
	event.EventEncrypted,
}

// Dispatcher handles incoming appservice events.
type Dispatcher struct {
	bot      id.UserID
	upgrades UpgradeHandler
	activity *metrics.RoomActivity
	profiles *ProfileCache
	clock    clock.Clock
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithActivity records the last activity of every room an event arrives in.
func WithActivity(a *metrics.RoomActivity) DispatcherOption {
	return func(d *Dispatcher) { d.activity = a }
}

// WithProfiles labels upgrade log lines with sender display names.
func WithProfiles(p *ProfileCache) DispatcherOption {
	return func(d *Dispatcher) { d.profiles = p }
}

// WithDispatcherClock replaces the wall clock used for events without a timestamp.
func WithDispatcherClock(c clock.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = c }
}

// NewDispatcher creates a dispatcher for the bot user.
func NewDispatcher(bot id.UserID, upgrades UpgradeHandler, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		bot:      bot,
		upgrades: upgrades,
		clock:    clock.New(),
		logger:   logger.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleEvent processes one event. Its signature matches the appservice
// event processor's handler type.
func (d *Dispatcher) HandleEvent(ctx context.Context, evt *event.Event) {
	if evt == nil || evt.RoomID == "" {
		return
	}
	d.touch(evt)

	switch evt.Type.Type {
	case event.StateTombstone.Type:
		d.handleTombstone(ctx, evt)
	case event.StateMember.Type:
		d.handleMember(ctx, evt)
	}
}

func (d *Dispatcher) touch(evt *event.Event) {
	if d.activity == nil {
		return
	}
	at := d.clock.Now()
	if evt.Timestamp > 0 {
		at = time.UnixMilli(evt.Timestamp)
	}
	d.activity.Touch(evt.RoomID.String(), at)
}

func (d *Dispatcher) handleTombstone(ctx context.Context, evt *event.Event) {
	if d.profiles != nil {
		d.logger.Info("room upgraded", "room", evt.RoomID, "by", d.profiles.DisplayName(ctx, evt.Sender))
	}
	if !d.upgrades.OnTombstone(ctx, evt) {
		d.logger.Warn("room upgrade not handled", "room", evt.RoomID)
	}
}

func (d *Dispatcher) handleMember(ctx context.Context, evt *event.Event) {
	if evt.GetStateKey() != d.bot.String() {
		return
	}
	content := evt.Content.AsMember()

	switch content.Membership {
	case event.MembershipInvite:
		if d.upgrades.OnInvite(ctx, evt) {
			return
		}
		d.logger.Debug("ignoring invite", "room", evt.RoomID, "sender", evt.Sender)
	case event.MembershipLeave, event.MembershipBan:
		if d.activity != nil {
			d.activity.Forget(evt.RoomID.String())
		}
		d.logger.Info("bot removed from room", "room", evt.RoomID, "membership", content.Membership)
	}
}
