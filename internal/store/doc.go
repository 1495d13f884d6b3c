// Package store persists the bridge's links between Matrix rooms and rooms on
// the remote network.
//
// # Data Model
//
// A RoomLink pairs one Matrix room ID with one remote room ID, plus free-form
// bridge data kept as JSON. A Matrix room may link to several remote rooms and
// a remote room may be bridged into several Matrix rooms, but each pair is
// stored once.
//
// When a Matrix room is upgraded, MigrateRoomLinks re-points every link of the
// old room at its replacement. Links the replacement already has are dropped.
//
// # SQLite Configuration
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// The schema is created on open.
//
// # Error Handling
//
//   - ErrNotFound: requested link does not exist
//   - ErrDuplicateLink: the pair is already linked
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	links := store.NewMockStore()
//	// links implements RoomStore
package store
