// Package upgrade follows Matrix room upgrades on behalf of the bridge.
//
// When a bridged room is replaced, the homeserver sends an m.room.tombstone
// state event naming the replacement room. The handler joins the bridge bot to
// the replacement and then migrates bridge state:
//
//   - room links in the store are re-pointed at the new room (MigrateStoreEntries)
//   - ghosts joined to the old room leave it and join the new one (MigrateGhosts)
//   - Options.OnRoomMigrated is called, if set
//
// # Deferred Joins
//
// The replacement room may not be joinable yet, for example when it is
// invite-only. If the join fails with M_FORBIDDEN the handler records the
// replacement room and reports the tombstone as handled. When an invite to
// that room later reaches the bot, OnInvite retries the join and runs the
// migration. Any other join failure is reported as ErrUpgradeFailed, without
// the homeserver's error details.
//
// Each replacement room is guarded by its own lock, so a tombstone and an
// invite for the same room never interleave.
package upgrade
