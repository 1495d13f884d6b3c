// ABOUTME: SQLite implementation of the RoomStore interface using modernc.org/sqlite
// ABOUTME: Provides room link persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the RoomStore interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS room_links (
			id TEXT PRIMARY KEY,
			matrix_room_id TEXT NOT NULL,
			remote_room_id TEXT NOT NULL,
			data_json TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_room_links_pair
			ON room_links(matrix_room_id, remote_room_id);

		CREATE INDEX IF NOT EXISTS idx_room_links_remote
			ON room_links(remote_room_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateRoomLink inserts a new room link.
// Returns ErrDuplicateLink if the same Matrix room and remote room are already linked.
func (s *SQLiteStore) CreateRoomLink(ctx context.Context, link *RoomLink) error {
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	now := time.Now().UTC().Truncate(time.Second)
	if link.CreatedAt.IsZero() {
		link.CreatedAt = now
	}
	if link.UpdatedAt.IsZero() {
		link.UpdatedAt = now
	}

	data, err := encodeData(link.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO room_links (id, matrix_room_id, remote_room_id, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		link.ID,
		link.MatrixRoomID,
		link.RemoteRoomID,
		data,
		link.CreatedAt.UTC().Format(time.RFC3339),
		link.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateLink
		}
		return fmt.Errorf("inserting room link: %w", err)
	}

	s.logger.Debug("created room link", "id", link.ID, "matrix_room", link.MatrixRoomID, "remote_room", link.RemoteRoomID)
	return nil
}

// isConstraintViolation checks if the error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed")
}

const roomLinkColumns = `id, matrix_room_id, remote_room_id, data_json, created_at, updated_at`

// GetRoomLink retrieves a room link by ID.
// Returns ErrNotFound if no link exists.
func (s *SQLiteStore) GetRoomLink(ctx context.Context, id string) (*RoomLink, error) {
	query := `SELECT ` + roomLinkColumns + ` FROM room_links WHERE id = ?`

	link, err := scanRoomLink(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying room link: %w", err)
	}
	return link, nil
}

// GetRoomLinksByMatrixRoom returns all links of a Matrix room.
func (s *SQLiteStore) GetRoomLinksByMatrixRoom(ctx context.Context, matrixRoomID string) ([]*RoomLink, error) {
	query := `SELECT ` + roomLinkColumns + ` FROM room_links WHERE matrix_room_id = ? ORDER BY remote_room_id`
	return s.queryRoomLinks(ctx, query, matrixRoomID)
}

// GetRoomLinksByRemoteRoom returns all links of a remote room.
func (s *SQLiteStore) GetRoomLinksByRemoteRoom(ctx context.Context, remoteRoomID string) ([]*RoomLink, error) {
	query := `SELECT ` + roomLinkColumns + ` FROM room_links WHERE remote_room_id = ? ORDER BY matrix_room_id`
	return s.queryRoomLinks(ctx, query, remoteRoomID)
}

// ListRoomLinks returns all room links.
func (s *SQLiteStore) ListRoomLinks(ctx context.Context) ([]*RoomLink, error) {
	query := `SELECT ` + roomLinkColumns + ` FROM room_links ORDER BY matrix_room_id, remote_room_id`
	return s.queryRoomLinks(ctx, query)
}

func (s *SQLiteStore) queryRoomLinks(ctx context.Context, query string, args ...any) ([]*RoomLink, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying room links: %w", err)
	}
	defer rows.Close()

	var links []*RoomLink
	for rows.Next() {
		link, err := scanRoomLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning room link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating room link rows: %w", err)
	}
	return links, nil
}

// DeleteRoomLink removes a room link.
// Returns ErrNotFound if the link doesn't exist.
func (s *SQLiteStore) DeleteRoomLink(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM room_links WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting room link: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted room link", "id", id)
	return nil
}

// MigrateRoomLinks moves every link of oldMatrixRoomID to newMatrixRoomID in
// one transaction. Links the new room already has are dropped from the old one.
func (s *SQLiteStore) MigrateRoomLinks(ctx context.Context, oldMatrixRoomID, newMatrixRoomID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		DELETE FROM room_links
		WHERE matrix_room_id = ?
		  AND remote_room_id IN (SELECT remote_room_id FROM room_links WHERE matrix_room_id = ?)
	`, oldMatrixRoomID, newMatrixRoomID)
	if err != nil {
		return 0, fmt.Errorf("dropping duplicate room links: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE room_links SET matrix_room_id = ?, updated_at = ?
		WHERE matrix_room_id = ?
	`, newMatrixRoomID, time.Now().UTC().Format(time.RFC3339), oldMatrixRoomID)
	if err != nil {
		return 0, fmt.Errorf("updating room links: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing migration: %w", err)
	}

	s.logger.Info("migrated room links", "from", oldMatrixRoomID, "to", newMatrixRoomID, "count", n)
	return n, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoomLink(row rowScanner) (*RoomLink, error) {
	var link RoomLink
	var data sql.NullString
	var createdAtStr, updatedAtStr string

	if err := row.Scan(&link.ID, &link.MatrixRoomID, &link.RemoteRoomID, &data, &createdAtStr, &updatedAtStr); err != nil {
		return nil, err
	}

	var err error
	link.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	link.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	if data.Valid && data.String != "" {
		if err := json.Unmarshal([]byte(data.String), &link.Data); err != nil {
			return nil, fmt.Errorf("decoding room link data: %w", err)
		}
	}
	return &link, nil
}

func encodeData(data map[string]any) (any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding room link data: %w", err)
	}
	return string(b), nil
}

// Ensure SQLiteStore implements RoomStore interface
var _ RoomStore = (*SQLiteStore)(nil)
