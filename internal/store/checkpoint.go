package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrCorruptCheckpoint is returned when a stored checkpoint cannot be
// decoded. Fatal for resume only; callers may still start a fresh run after
// clearing the record.
var ErrCorruptCheckpoint = errors.New("corrupt checkpoint")

// Cursor tracks progress within one container's item sequence: the index of
// the next unprocessed item in the snapshot order.
type Cursor struct {
	ContainerID string `json:"container_id"`
	Position    int    `json:"position"`
	Done        bool   `json:"done"`
}

// Checkpoint is the durable progress record for one operation. It is owned
// exclusively by the command running that signature and overwritten
// atomically on every successful batch.
//
// Distribute keeps one independent cursor per destination; consolidate one
// per source; dedupe a single cursor for its container.
type Checkpoint struct {
	Signature  string    `json:"signature"`
	Kind       string    `json:"kind"`
	Sources    []string  `json:"sources"`
	Cursors    []Cursor  `json:"cursors"`
	TotalItems int       `json:"total_items"`
	Processed  int       `json:"processed"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Counted lists containers already folded into TotalItems, so a resumed
	// run does not count them again.
	Counted []string `json:"counted,omitempty"`
}

// Cursor returns the cursor for a container, or nil if untracked.
func (c *Checkpoint) Cursor(containerID string) *Cursor {
	for i := range c.Cursors {
		if c.Cursors[i].ContainerID == containerID {
			return &c.Cursors[i]
		}
	}
	return nil
}

// LoadCheckpoint returns the checkpoint for a signature, or (nil, nil) if
// none exists. A record that cannot be decoded returns ErrCorruptCheckpoint.
func (s *Store) LoadCheckpoint(ctx context.Context, signature string) (*Checkpoint, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM checkpoints WHERE signature = ?
	`, signature).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal([]byte(payload), &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return &cp, nil
}

// SaveCheckpoint upserts the checkpoint for its signature; latest write
// wins. The write is durable when this returns, which is what lets the
// engine acknowledge the batch afterwards.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("save checkpoint: marshal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (signature, kind, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, cp.Signature, cp.Kind, string(payload), cp.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// ClearCheckpoint removes the checkpoint for a signature. Called only on
// full completion or explicit abandonment. Clearing an absent signature is
// a no-op.
func (s *Store) ClearCheckpoint(ctx context.Context, signature string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM checkpoints WHERE signature = ?
	`, signature); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// ListCheckpoints returns all stored checkpoints ordered by most recent
// write. Corrupt rows are skipped rather than failing the listing.
func (s *Store) ListCheckpoints(ctx context.Context) ([]Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM checkpoints ORDER BY updated_at DESC, signature ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("list checkpoints: %w", err)
		}
		var cp Checkpoint
		if err := json.Unmarshal([]byte(payload), &cp); err != nil {
			continue
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}
