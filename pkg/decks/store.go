package decks

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fastlane-games/fastlane-client/pkg/game/types"
	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
)

// Snapshot is the persisted per-room deck state: every deck's piles plus
// the session-wide owned card set.
type Snapshot struct {
	Decks        map[string]PileSnapshot `json:"decks"`
	OwnedCardIDs []string                `json:"ownedCardIds"`
}

// PileSnapshot holds one deck's piles.
type PileSnapshot struct {
	Draw    []types.Card `json:"draw"`
	Discard []types.Card `json:"discard"`
}

// ErrNotFound is returned when no snapshot exists for a room.
type ErrNotFound struct {
	RoomID string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no deck snapshot for room %s", e.RoomID)
}

// Store persists deck snapshots keyed by room id.
type Store interface {
	Save(ctx context.Context, roomID string, snapshot *Snapshot) error
	Load(ctx context.Context, roomID string) (*Snapshot, error)
	Delete(ctx context.Context, roomID string) error
	Close() error
}

// SQLiteStore persists snapshots in a local SQLite database, one row per
// room, with the payload compressed with zstd.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the snapshot database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	q := `
	CREATE TABLE IF NOT EXISTS deck_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return nil, fmt.Errorf("failed to create deck_snapshots table: %v", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, roomID string, snapshot *Snapshot) error {
	b, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %v", err)
	}
	compressed, err := compress(b)
	if err != nil {
		return err
	}

	q := `
	INSERT OR REPLACE INTO deck_snapshots (room_id, snapshot, updated_at)
	VALUES (?, ?, ?);
	`
	if _, err := s.db.ExecContext(ctx, q, roomID, compressed, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to save snapshot: %v", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, roomID string) (*Snapshot, error) {
	q := `
	SELECT snapshot FROM deck_snapshots WHERE room_id = ?;
	`
	var compressed []byte
	if err := s.db.QueryRowContext(ctx, q, roomID).Scan(&compressed); err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{RoomID: roomID}
		}
		return nil, fmt.Errorf("failed to scan snapshot: %v", err)
	}

	b, err := decompress(compressed)
	if err != nil {
		return nil, err
	}
	snapshot := &Snapshot{}
	if err := json.Unmarshal(b, snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %v", err)
	}
	return snapshot, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, roomID string) error {
	q := `
	DELETE FROM deck_snapshots WHERE room_id = ?;
	`
	if _, err := s.db.ExecContext(ctx, q, roomID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %v", err)
	}
	return nil
}

func compress(b []byte) ([]byte, error) {
	compressed := bytes.NewBuffer(nil)
	compWriter, err := zstd.NewWriter(compressed, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %v", err)
	}
	if _, err := compWriter.Write(b); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %v", err)
	}
	if err := compWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %v", err)
	}
	return compressed.Bytes(), nil
}

func decompress(b []byte) ([]byte, error) {
	compReader, err := zstd.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %v", err)
	}
	defer compReader.Close()
	out, err := io.ReadAll(compReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read decompressed snapshot: %v", err)
	}
	return out, nil
}
