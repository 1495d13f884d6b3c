// ABOUTME: Room upgrade handling for the bridge
// ABOUTME: Follows m.room.tombstone to the replacement room, waiting for an invite when the join is refused

package upgrade

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ErrUpgradeFailed is returned by JoinNewRoom for any join failure other than
// M_FORBIDDEN. The underlying error is logged, not returned.
var ErrUpgradeFailed = errors.New("failed to handle upgrade")

// Intent performs room actions as one Matrix user.
type Intent interface {
	JoinRoom(ctx context.Context, roomID id.RoomID, via []string) error
	LeaveRoom(ctx context.Context, roomID id.RoomID) error
}

// Bridge is the slice of the bridge the handler needs.
type Bridge interface {
	// BotIntent returns the intent of the bridge bot.
	BotIntent() Intent
	// GhostIntent returns the intent of a puppeted remote user.
	GhostIntent(userID id.UserID) Intent
	// JoinedMembers lists the users currently joined to roomID.
	JoinedMembers(ctx context.Context, roomID id.RoomID) ([]id.UserID, error)
	// IsGhost reports whether userID is in the bridge's user namespace.
	IsGhost(userID id.UserID) bool
}

// RoomStore persists the bridge's links between Matrix rooms and remote rooms.
type RoomStore interface {
	MigrateRoomLinks(ctx context.Context, oldRoomID, newRoomID string) (int64, error)
}

// Options controls what is migrated once the bridge is in the new room.
// Nil flags default to true.
type Options struct {
	MigrateGhosts       *bool `yaml:"migrate_ghosts" toml:"migrate_ghosts"`
	MigrateStoreEntries *bool `yaml:"migrate_store_entries" toml:"migrate_store_entries"`

	// OnRoomMigrated runs after the migration steps, if set.
	OnRoomMigrated func(ctx context.Context, oldRoomID, newRoomID id.RoomID) `yaml:"-" toml:"-"`
}

// Settings is Options with defaults applied.
type Settings struct {
	MigrateGhosts       bool
	MigrateStoreEntries bool
}

// Resolve applies defaults to unset options.
func (o Options) Resolve() Settings {
	s := Settings{MigrateGhosts: true, MigrateStoreEntries: true}
	if o.MigrateGhosts != nil {
		s.MigrateGhosts = *o.MigrateGhosts
	}
	if o.MigrateStoreEntries != nil {
		s.MigrateStoreEntries = *o.MigrateStoreEntries
	}
	return s
}

// Handler reacts to room upgrades. When the bot may not join a replacement
// room yet, the room is remembered until an invite to it arrives.
type Handler struct {
	settings       Settings
	onRoomMigrated func(ctx context.Context, oldRoomID, newRoomID id.RoomID)
	bridge         Bridge
	store          RoomStore
	logger         *slog.Logger

	// onJoinedNewRoom runs after a successful join; replaced in tests.
	onJoinedNewRoom func(ctx context.Context, oldRoomID, newRoomID id.RoomID) error

	mu               sync.Mutex
	waitingForInvite map[id.RoomID]id.RoomID // replacement room -> original room

	locks roomLocks
}

// New creates a handler. store may be nil when the bridge keeps no room links.
func New(opts Options, bridge Bridge, store RoomStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		settings:         opts.Resolve(),
		onRoomMigrated:   opts.OnRoomMigrated,
		bridge:           bridge,
		store:            store,
		logger:           logger.With("component", "upgrade"),
		waitingForInvite: make(map[id.RoomID]id.RoomID),
	}
	h.onJoinedNewRoom = h.migrate
	return h
}

// Settings returns the effective options.
func (h *Handler) Settings() Settings {
	return h.settings
}

// PendingInvites returns a copy of the replacement rooms still waiting for an invite.
func (h *Handler) PendingInvites() map[id.RoomID]id.RoomID {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make(map[id.RoomID]id.RoomID, len(h.waitingForInvite))
	for k, v := range h.waitingForInvite {
		out[k] = v
	}
	return out
}

// OnTombstone handles an m.room.tombstone event. It reports whether the
// upgrade was handled: joined and migrated, or deferred until an invite.
func (h *Handler) OnTombstone(ctx context.Context, evt *event.Event) bool {
	content, ok := evt.Content.Parsed.(*event.TombstoneEventContent)
	if !ok || content.ReplacementRoom == "" {
		h.logger.Warn("ignoring tombstone without replacement room", "room", evt.RoomID)
		return false
	}
	oldRoomID := evt.RoomID
	newRoomID := content.ReplacementRoom

	h.logger.Info("got tombstone event", "room", oldRoomID, "replacement", newRoomID, "sender", evt.Sender)

	var via []string
	if _, server, err := evt.Sender.Parse(); err == nil && server != "" {
		via = []string{server}
	}

	unlock := h.locks.lock(newRoomID)
	joined, err := h.JoinNewRoom(ctx, newRoomID, oldRoomID, via...)
	if err != nil {
		unlock()
		h.logger.Error("failed to handle room upgrade", "room", oldRoomID, "replacement", newRoomID)
		return false
	}
	if !joined {
		h.mu.Lock()
		h.waitingForInvite[newRoomID] = oldRoomID
		h.mu.Unlock()
		unlock()
		h.logger.Info("waiting for invite to replacement room", "room", oldRoomID, "replacement", newRoomID)
		return true
	}
	unlock()

	if err := h.onJoinedNewRoom(ctx, oldRoomID, newRoomID); err != nil {
		h.logger.Error("failed to migrate upgraded room", "room", oldRoomID, "replacement", newRoomID, "error", err)
		return false
	}
	return true
}

// OnInvite handles an invite of the bot. It reports false for invites that
// are not for a replacement room the bridge is waiting on.
func (h *Handler) OnInvite(ctx context.Context, evt *event.Event) bool {
	newRoomID := evt.RoomID

	unlock := h.locks.lock(newRoomID)
	h.mu.Lock()
	oldRoomID, ok := h.waitingForInvite[newRoomID]
	delete(h.waitingForInvite, newRoomID)
	h.mu.Unlock()
	if !ok {
		unlock()
		return false
	}

	h.logger.Info("got invite to replacement room", "room", oldRoomID, "replacement", newRoomID)

	joined, err := h.JoinNewRoom(ctx, newRoomID, oldRoomID)
	unlock()
	if err != nil {
		h.logger.Error("failed to join replacement room after invite", "room", oldRoomID, "replacement", newRoomID)
		return true
	}
	if !joined {
		h.logger.Warn("still forbidden from replacement room after invite", "room", oldRoomID, "replacement", newRoomID)
		return true
	}

	if err := h.onJoinedNewRoom(ctx, oldRoomID, newRoomID); err != nil {
		h.logger.Error("failed to migrate upgraded room", "room", oldRoomID, "replacement", newRoomID, "error", err)
	}
	return true
}

// JoinNewRoom joins the bot to newRoomID. It returns false when the
// homeserver answers M_FORBIDDEN and ErrUpgradeFailed for any other failure.
func (h *Handler) JoinNewRoom(ctx context.Context, newRoomID, oldRoomID id.RoomID, via ...string) (bool, error) {
	err := h.bridge.BotIntent().JoinRoom(ctx, newRoomID, via)
	if err == nil {
		return true, nil
	}
	if IsForbidden(err) {
		h.logger.Debug("not allowed to join replacement room yet", "room", oldRoomID, "replacement", newRoomID)
		return false, nil
	}
	h.logger.Debug("join of replacement room failed", "room", oldRoomID, "replacement", newRoomID, "error", err)
	return false, ErrUpgradeFailed
}

// IsForbidden reports whether err carries the M_FORBIDDEN error code.
func IsForbidden(err error) bool {
	return errors.Is(err, mautrix.MForbidden)
}

// roomLocks hands out one mutex per room ID, dropping it once unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[id.RoomID]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

// lock blocks until roomID is free and returns the matching unlock.
func (l *roomLocks) lock(roomID id.RoomID) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[id.RoomID]*roomLock)
	}
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}
