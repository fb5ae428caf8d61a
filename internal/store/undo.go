package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrNothingToUndo is returned by ConsumeUndo when no record exists for the
// signature.
var ErrNothingToUndo = errors.New("nothing to undo")

// UndoOp is the kind of a single inverse action.
type UndoOp string

const (
	// UndoAdd re-adds an item to a container (appending).
	UndoAdd UndoOp = "add"

	// UndoRemove removes an item from a container.
	UndoRemove UndoOp = "remove"

	// UndoInsertAt re-inserts an item at a recorded position. Position
	// restoration is best-effort: if the container shifted under external
	// edits, positions past the end simply append.
	UndoInsertAt UndoOp = "insert_at"
)

// UndoAction is one inverse action. A move's inverse is remove-then-add
// back; a copy's inverse is remove from destination; dedupe's inverse is
// insert-at the recorded original position.
type UndoAction struct {
	Op          UndoOp `json:"op"`
	ContainerID string `json:"container_id"`
	ItemID      string `json:"item_id"`
	Position    int    `json:"position,omitempty"`
}

// RecordUndo appends inverse actions to the undo record for a signature,
// creating the record if absent. Called after each successful batch, so the
// ledger grows as the operation progresses and is complete whenever the
// operation is.
func (s *Store) RecordUndo(ctx context.Context, signature string, actions []UndoAction) error {
	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record undo: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing string
	err = tx.QueryRowContext(ctx, `
		SELECT actions FROM undo_records WHERE signature = ?
	`, signature).Scan(&existing)

	var all []UndoAction
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First batch for this signature.
	case err != nil:
		return fmt.Errorf("record undo: %w", err)
	default:
		if uerr := json.Unmarshal([]byte(existing), &all); uerr != nil {
			return fmt.Errorf("record undo: decode existing: %w", uerr)
		}
	}
	all = append(all, actions...)

	payload, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("record undo: marshal: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO undo_records (signature, id, actions, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(signature) DO UPDATE SET actions = excluded.actions
	`, signature, uuid.NewString(), string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record undo: %w", err)
	}

	return tx.Commit()
}

// PeekUndo returns the recorded inverse actions for a signature without
// consuming them, or (nil, nil) when none exist.
func (s *Store) PeekUndo(ctx context.Context, signature string) ([]UndoAction, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT actions FROM undo_records WHERE signature = ?
	`, signature).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek undo: %w", err)
	}

	var actions []UndoAction
	if err := json.Unmarshal([]byte(payload), &actions); err != nil {
		return nil, fmt.Errorf("peek undo: decode: %w", err)
	}
	return actions, nil
}

// ConsumeUndo atomically returns the full action list for a signature and
// deletes the record, enforcing applies-once semantics. Returns
// ErrNothingToUndo when no record exists.
func (s *Store) ConsumeUndo(ctx context.Context, signature string) ([]UndoAction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("consume undo: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var payload string
	err = tx.QueryRowContext(ctx, `
		SELECT actions FROM undo_records WHERE signature = ?
	`, signature).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNothingToUndo
	}
	if err != nil {
		return nil, fmt.Errorf("consume undo: %w", err)
	}

	var actions []UndoAction
	if err := json.Unmarshal([]byte(payload), &actions); err != nil {
		return nil, fmt.Errorf("consume undo: decode: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM undo_records WHERE signature = ?
	`, signature); err != nil {
		return nil, fmt.Errorf("consume undo: delete: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("consume undo: commit: %w", err)
	}
	return actions, nil
}
