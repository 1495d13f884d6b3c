// ABOUTME: Store interface and data types for bridge persistence
// ABOUTME: Defines RoomLink and the RoomStore interface linking Matrix rooms to remote rooms

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateLink is returned when a Matrix room is already linked to the same remote room
var ErrDuplicateLink = errors.New("room link already exists")

// RoomLink connects a Matrix room to a room on the remote network.
// A Matrix room may be linked to several remote rooms and vice versa.
type RoomLink struct {
	ID           string
	MatrixRoomID string
	RemoteRoomID string
	Data         map[string]any // bridge-specific metadata, stored as JSON
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RoomStore defines operations on room links
type RoomStore interface {
	// CreateRoomLink stores a new link. An empty ID is filled in.
	CreateRoomLink(ctx context.Context, link *RoomLink) error

	// GetRoomLink retrieves a link by ID
	GetRoomLink(ctx context.Context, id string) (*RoomLink, error)

	// GetRoomLinksByMatrixRoom returns every link of a Matrix room
	GetRoomLinksByMatrixRoom(ctx context.Context, matrixRoomID string) ([]*RoomLink, error)

	// GetRoomLinksByRemoteRoom returns every link of a remote room
	GetRoomLinksByRemoteRoom(ctx context.Context, remoteRoomID string) ([]*RoomLink, error)

	// ListRoomLinks returns all links ordered by Matrix room then remote room
	ListRoomLinks(ctx context.Context) ([]*RoomLink, error)

	// DeleteRoomLink removes a link by ID
	DeleteRoomLink(ctx context.Context, id string) error

	// MigrateRoomLinks re-points every link of oldMatrixRoomID at newMatrixRoomID
	// and returns how many links moved. Links that would duplicate an existing
	// link of the new room are dropped.
	MigrateRoomLinks(ctx context.Context, oldMatrixRoomID, newMatrixRoomID string) (int64, error)

	// Close releases resources
	Close() error
}
