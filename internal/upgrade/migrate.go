// ABOUTME: Post-join migration of bridge state from an upgraded room to its replacement
// ABOUTME: Moves room links in the store and ghost memberships, then notifies the owner

package upgrade

import (
	"context"
	"errors"
	"fmt"

	"maunium.net/go/mautrix/id"
)

// migrate runs once the bot has joined newRoomID. Each step runs even if an
// earlier one failed; the failures are returned together.
func (h *Handler) migrate(ctx context.Context, oldRoomID, newRoomID id.RoomID) error {
	var errs []error

	if h.settings.MigrateStoreEntries {
		if err := h.migrateStoreEntries(ctx, oldRoomID, newRoomID); err != nil {
			errs = append(errs, err)
		}
	}

	if h.settings.MigrateGhosts {
		if err := h.migrateGhosts(ctx, oldRoomID, newRoomID); err != nil {
			errs = append(errs, err)
		}
	}

	if h.onRoomMigrated != nil {
		h.onRoomMigrated(ctx, oldRoomID, newRoomID)
	}

	h.logger.Info("migrated upgraded room", "room", oldRoomID, "replacement", newRoomID, "failures", len(errs))
	return errors.Join(errs...)
}

// migrateStoreEntries points every room link of oldRoomID at newRoomID.
func (h *Handler) migrateStoreEntries(ctx context.Context, oldRoomID, newRoomID id.RoomID) error {
	if h.store == nil {
		return nil
	}
	n, err := h.store.MigrateRoomLinks(ctx, oldRoomID.String(), newRoomID.String())
	if err != nil {
		return fmt.Errorf("migrating store entries: %w", err)
	}
	h.logger.Debug("migrated room links", "room", oldRoomID, "replacement", newRoomID, "count", n)
	return nil
}

// migrateGhosts moves every joined ghost from oldRoomID to newRoomID.
// A ghost that fails to move does not stop the others.
func (h *Handler) migrateGhosts(ctx context.Context, oldRoomID, newRoomID id.RoomID) error {
	members, err := h.bridge.JoinedMembers(ctx, oldRoomID)
	if err != nil {
		return fmt.Errorf("listing members of %s: %w", oldRoomID, err)
	}

	var errs []error
	moved := 0
	for _, userID := range members {
		if !h.bridge.IsGhost(userID) {
			continue
		}
		intent := h.bridge.GhostIntent(userID)
		if err := intent.LeaveRoom(ctx, oldRoomID); err != nil {
			h.logger.Warn("ghost failed to leave old room", "user", userID, "room", oldRoomID, "error", err)
		}
		if err := intent.JoinRoom(ctx, newRoomID, nil); err != nil {
			errs = append(errs, fmt.Errorf("joining %s to %s: %w", userID, newRoomID, err))
			continue
		}
		moved++
	}

	h.logger.Debug("migrated ghosts", "room", oldRoomID, "replacement", newRoomID, "count", moved)
	return errors.Join(errs...)
}
