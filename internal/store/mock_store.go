// ABOUTME: Mock RoomStore implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory RoomStore implementation for testing.
type MockStore struct {
	mu    sync.RWMutex
	links map[string]*RoomLink // keyed by link ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		links: make(map[string]*RoomLink),
	}
}

// CreateRoomLink stores a new room link.
func (m *MockStore) CreateRoomLink(ctx context.Context, link *RoomLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, l := range m.links {
		if l.MatrixRoomID == link.MatrixRoomID && l.RemoteRoomID == link.RemoteRoomID {
			return ErrDuplicateLink
		}
	}

	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = now
	}

	// Make a copy to avoid external modification
	l := *link
	m.links[l.ID] = &l
	return nil
}

// GetRoomLink retrieves a room link by ID.
func (m *MockStore) GetRoomLink(ctx context.Context, id string) (*RoomLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	l, ok := m.links[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *l
	return &result, nil
}

// GetRoomLinksByMatrixRoom returns every link of a Matrix room.
func (m *MockStore) GetRoomLinksByMatrixRoom(ctx context.Context, matrixRoomID string) ([]*RoomLink, error) {
	return m.filter(func(l *RoomLink) bool { return l.MatrixRoomID == matrixRoomID }), nil
}

// GetRoomLinksByRemoteRoom returns every link of a remote room.
func (m *MockStore) GetRoomLinksByRemoteRoom(ctx context.Context, remoteRoomID string) ([]*RoomLink, error) {
	return m.filter(func(l *RoomLink) bool { return l.RemoteRoomID == remoteRoomID }), nil
}

// ListRoomLinks returns all room links.
func (m *MockStore) ListRoomLinks(ctx context.Context) ([]*RoomLink, error) {
	return m.filter(func(*RoomLink) bool { return true }), nil
}

func (m *MockStore) filter(match func(*RoomLink) bool) []*RoomLink {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*RoomLink
	for _, l := range m.links {
		if match(l) {
			c := *l
			result = append(result, &c)
		}
	}

	// Same ordering as the SQLite store
	sort.Slice(result, func(i, j int) bool {
		if result[i].MatrixRoomID != result[j].MatrixRoomID {
			return result[i].MatrixRoomID < result[j].MatrixRoomID
		}
		return result[i].RemoteRoomID < result[j].RemoteRoomID
	})
	return result
}

// DeleteRoomLink removes a room link.
func (m *MockStore) DeleteRoomLink(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.links[id]; !ok {
		return ErrNotFound
	}
	delete(m.links, id)
	return nil
}

// MigrateRoomLinks re-points the links of oldMatrixRoomID at newMatrixRoomID.
func (m *MockStore) MigrateRoomLinks(ctx context.Context, oldMatrixRoomID, newMatrixRoomID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := make(map[string]bool)
	for _, l := range m.links {
		if l.MatrixRoomID == newMatrixRoomID {
			existing[l.RemoteRoomID] = true
		}
	}

	var n int64
	now := time.Now().UTC()
	for id, l := range m.links {
		if l.MatrixRoomID != oldMatrixRoomID {
			continue
		}
		if existing[l.RemoteRoomID] {
			delete(m.links, id)
			continue
		}
		l.MatrixRoomID = newMatrixRoomID
		l.UpdatedAt = now
		n++
	}
	return n, nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements RoomStore interface
var _ RoomStore = (*MockStore)(nil)
