package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// TurnRecord is a persisted conversation turn.
type TurnRecord struct {
	ID        string
	Kind      string
	Content   string
	Chunks    []backend.Chunk
	CreatedAt time.Time
}

// AppendTurn persists one conversation turn. It implements chat.Sink.
func (s *Store) AppendTurn(turn chat.Turn) error {
	chunks := turn.Chunks
	if chunks == nil {
		chunks = []backend.Chunk{}
	}
	chunksJSON, err := json.Marshal(chunks)
	if err != nil {
		return fmt.Errorf("encoding chunks: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO turns (id, kind, content, chunks, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		turn.ID, string(turn.Kind), turn.Text(), string(chunksJSON),
		turn.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting turn %s: %w", turn.ID, err)
	}
	return nil
}

// ListTurns returns up to limit persisted turns in insertion order. A limit
// of 0 or less returns everything.
func (s *Store) ListTurns(limit int) ([]TurnRecord, error) {
	query := `SELECT id, kind, content, chunks, created_at FROM turns ORDER BY seq ASC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var records []TurnRecord
	for rows.Next() {
		var r TurnRecord
		var chunksJSON, createdAt string
		if err := rows.Scan(&r.ID, &r.Kind, &r.Content, &chunksJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		if err := json.Unmarshal([]byte(chunksJSON), &r.Chunks); err != nil {
			return nil, fmt.Errorf("decoding chunks for turn %s: %w", r.ID, err)
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at for turn %s: %w", r.ID, err)
		}
		r.CreatedAt = t
		records = append(records, r)
	}
	return records, rows.Err()
}

// GetTurn returns one persisted turn by ID.
func (s *Store) GetTurn(id string) (TurnRecord, error) {
	var r TurnRecord
	var chunksJSON, createdAt string
	err := s.db.QueryRow(`SELECT id, kind, content, chunks, created_at FROM turns WHERE id = ?`, id).
		Scan(&r.ID, &r.Kind, &r.Content, &chunksJSON, &createdAt)
	if err == sql.ErrNoRows {
		return TurnRecord{}, ErrNotFound
	}
	if err != nil {
		return TurnRecord{}, err
	}
	if err := json.Unmarshal([]byte(chunksJSON), &r.Chunks); err != nil {
		return TurnRecord{}, fmt.Errorf("decoding chunks for turn %s: %w", id, err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return TurnRecord{}, fmt.Errorf("parsing created_at for turn %s: %w", id, err)
	}
	r.CreatedAt = t
	return r, nil
}

// CountTurns returns the number of persisted turns.
func (s *Store) CountTurns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
