// ABOUTME: Behavioural tests shared by every RoomStore implementation
// ABOUTME: Runs the same room link cases against SQLiteStore and MockStore

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	t.Cleanup(func() {
		store.Close()
	})

	return store
}

// forEachStore runs fn against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s RoomStore)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, setupTestStore(t))
	})
	t.Run("mock", func(t *testing.T) {
		fn(t, NewMockStore())
	})
}

func TestRoomLink_CreateAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		link := &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"}

		require.NoError(t, s.CreateRoomLink(ctx, link))
		assert.NotEmpty(t, link.ID, "empty ID should be filled in")
		assert.False(t, link.CreatedAt.IsZero())

		got, err := s.GetRoomLink(ctx, link.ID)
		require.NoError(t, err)
		assert.Equal(t, link.ID, got.ID)
		assert.Equal(t, "!a:example.org", got.MatrixRoomID)
		assert.Equal(t, "remote-1", got.RemoteRoomID)
	})
}

func TestRoomLink_KeepsGivenID(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		link := &RoomLink{ID: "link-1", MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"}

		require.NoError(t, s.CreateRoomLink(ctx, link))
		assert.Equal(t, "link-1", link.ID)

		_, err := s.GetRoomLink(ctx, "link-1")
		require.NoError(t, err)
	})
}

func TestRoomLink_GetNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		_, err := s.GetRoomLink(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRoomLink_Duplicate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"}))

		err := s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"})
		assert.ErrorIs(t, err, ErrDuplicateLink)

		// Same remote room in another Matrix room is fine
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!b:example.org", RemoteRoomID: "remote-1"}))
	})
}

func TestRoomLink_Lookups(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-2"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!b:example.org", RemoteRoomID: "remote-1"}))

		byMatrix, err := s.GetRoomLinksByMatrixRoom(ctx, "!a:example.org")
		require.NoError(t, err)
		require.Len(t, byMatrix, 2)
		assert.Equal(t, "remote-1", byMatrix[0].RemoteRoomID)
		assert.Equal(t, "remote-2", byMatrix[1].RemoteRoomID)

		byRemote, err := s.GetRoomLinksByRemoteRoom(ctx, "remote-1")
		require.NoError(t, err)
		require.Len(t, byRemote, 2)
		assert.Equal(t, "!a:example.org", byRemote[0].MatrixRoomID)
		assert.Equal(t, "!b:example.org", byRemote[1].MatrixRoomID)

		all, err := s.ListRoomLinks(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		none, err := s.GetRoomLinksByMatrixRoom(ctx, "!nothing:example.org")
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestRoomLink_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		link := &RoomLink{MatrixRoomID: "!a:example.org", RemoteRoomID: "remote-1"}
		require.NoError(t, s.CreateRoomLink(ctx, link))

		require.NoError(t, s.DeleteRoomLink(ctx, link.ID))

		_, err := s.GetRoomLink(ctx, link.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.DeleteRoomLink(ctx, link.ID), ErrNotFound)
	})
}

func TestRoomLink_Migrate(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!old:example.org", RemoteRoomID: "remote-1"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!old:example.org", RemoteRoomID: "remote-2"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!other:example.org", RemoteRoomID: "remote-3"}))

		n, err := s.MigrateRoomLinks(ctx, "!old:example.org", "!new:example.org")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		old, err := s.GetRoomLinksByMatrixRoom(ctx, "!old:example.org")
		require.NoError(t, err)
		assert.Empty(t, old)

		moved, err := s.GetRoomLinksByMatrixRoom(ctx, "!new:example.org")
		require.NoError(t, err)
		require.Len(t, moved, 2)
		assert.Equal(t, "remote-1", moved[0].RemoteRoomID)
		assert.Equal(t, "remote-2", moved[1].RemoteRoomID)

		other, err := s.GetRoomLinksByMatrixRoom(ctx, "!other:example.org")
		require.NoError(t, err)
		assert.Len(t, other, 1)
	})
}

func TestRoomLink_MigrateDropsDuplicates(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		ctx := context.Background()
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!old:example.org", RemoteRoomID: "remote-1"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!old:example.org", RemoteRoomID: "remote-2"}))
		require.NoError(t, s.CreateRoomLink(ctx, &RoomLink{MatrixRoomID: "!new:example.org", RemoteRoomID: "remote-1"}))

		n, err := s.MigrateRoomLinks(ctx, "!old:example.org", "!new:example.org")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		all, err := s.ListRoomLinks(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		for _, l := range all {
			assert.Equal(t, "!new:example.org", l.MatrixRoomID)
		}
	})
}

func TestRoomLink_MigrateNothing(t *testing.T) {
	forEachStore(t, func(t *testing.T, s RoomStore) {
		n, err := s.MigrateRoomLinks(context.Background(), "!old:example.org", "!new:example.org")
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
