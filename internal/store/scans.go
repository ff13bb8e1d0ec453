package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matejg/zaloga/internal/model"
)

// Scan processing bounds.
const (
	MaxScanDelta = 100 // |delta| per event
	MaxScanBatch = 500 // events per submission
)

// ScanInput is one client scan event to apply.
type ScanInput struct {
	EventID   string `json:"event_id"`
	Barcode   string `json:"barcode"`
	Delta     int    `json:"delta"`
	ItemID    string `json:"item_id,omitempty"` // explicit disambiguation, bypasses resolution
	ScannedAt *int64 `json:"scanned_at,omitempty"`
}

// ScanOutcome is the per-event result. For duplicate, Reason names the
// originally recorded status and Item/Candidates reflect the original
// outcome's shape.
type ScanOutcome struct {
	EventID    string       `json:"event_id"`
	Status     string       `json:"status"`
	Item       *model.Item  `json:"item,omitempty"`
	Candidates []model.Item `json:"items,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

// ApplyScanBatch processes events in order. Each event is independently
// atomic; one event's failure never aborts the batch. A batch is not one
// atomic unit: idempotency makes partial application safe to retry.
func ApplyScanBatch(ctx context.Context, db *sql.DB, inputs []ScanInput) []ScanOutcome {
	outcomes := make([]ScanOutcome, 0, len(inputs))
	for _, in := range inputs {
		outcome, err := ApplyScan(ctx, db, in)
		if err != nil {
			outcomes = append(outcomes, ScanOutcome{
				EventID: in.EventID,
				Status:  model.ScanError,
				Reason:  "internal error applying scan",
			})
			continue
		}
		outcomes = append(outcomes, *outcome)
	}
	return outcomes
}

// ApplyScan applies one scan event exactly once. The idempotency check, the
// barcode resolution, the quantity change, and the log insert all run inside
// one transaction, so concurrent submissions of the same event id cannot
// both apply.
func ApplyScan(ctx context.Context, db *sql.DB, in ScanInput) (*ScanOutcome, error) {
	if reason := validateScan(in); reason != "" {
		// Deterministic rejection: not recorded, a retry fails identically.
		return &ScanOutcome{EventID: in.EventID, Status: model.ScanError, Reason: reason}, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	// Replay safety: an already-recorded event id returns the recorded
	// outcome and never mutates quantity again.
	prior, err := getScanEvent(ctx, tx, in.EventID)
	if err != nil {
		return nil, err
	}
	if prior != nil {
		outcome, err := duplicateOutcome(ctx, tx, prior)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing scan replay: %w", err)
		}
		return outcome, nil
	}

	var outcome *ScanOutcome
	if in.ItemID != "" {
		outcome, err = applyToItem(ctx, tx, in, in.ItemID)
	} else {
		outcome, err = applyByBarcode(ctx, tx, in)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing scan: %w", err)
	}
	return outcome, nil
}

func validateScan(in ScanInput) string {
	if in.EventID == "" {
		return "event_id required"
	}
	if in.Delta == 0 {
		return "delta must be nonzero"
	}
	if in.Delta > MaxScanDelta || in.Delta < -MaxScanDelta {
		return fmt.Sprintf("delta magnitude exceeds %d", MaxScanDelta)
	}
	if in.Barcode == "" && in.ItemID == "" {
		return "barcode required"
	}
	return ""
}

// applyByBarcode resolves the barcode to candidates and applies the delta if
// exactly one matches. Multiple candidates are terminal for this event id:
// the client must mint a new event id with an explicit item_id.
func applyByBarcode(ctx context.Context, tx *sql.Tx, in ScanInput) (*ScanOutcome, error) {
	candidates, err := resolveBarcode(ctx, tx, in.Barcode)
	if err != nil {
		return nil, err
	}

	switch len(candidates) {
	case 0:
		if err := recordScan(ctx, tx, in, model.ScanNotFound, "", nil, "no item matches barcode"); err != nil {
			return nil, err
		}
		return &ScanOutcome{EventID: in.EventID, Status: model.ScanNotFound, Reason: "no item matches barcode"}, nil
	case 1:
		return applyDelta(ctx, tx, in, &candidates[0])
	default:
		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		if err := recordScan(ctx, tx, in, model.ScanAmbiguous, "", ids, ""); err != nil {
			return nil, err
		}
		return &ScanOutcome{EventID: in.EventID, Status: model.ScanAmbiguous, Candidates: candidates}, nil
	}
}

// applyToItem applies the delta directly to an explicitly chosen item,
// bypassing barcode resolution.
func applyToItem(ctx context.Context, tx *sql.Tx, in ScanInput, itemID string) (*ScanOutcome, error) {
	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ? AND deleted = 0`, itemID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		if err := recordScan(ctx, tx, in, model.ScanNotFound, "", nil, "item does not exist"); err != nil {
			return nil, err
		}
		return &ScanOutcome{EventID: in.EventID, Status: model.ScanNotFound, Reason: "item does not exist"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting item for scan: %w", err)
	}
	return applyDelta(ctx, tx, in, item)
}

func applyDelta(ctx context.Context, tx *sql.Tx, in ScanInput, item *model.Item) (*ScanOutcome, error) {
	item.Quantity += in.Delta
	if item.Quantity < 0 {
		item.Quantity = 0
	}
	item.LastModified = bumpAfter(item.LastModified)

	_, err := tx.ExecContext(ctx,
		`UPDATE items SET quantity = ?, last_modified = ? WHERE id = ?`,
		item.Quantity, item.LastModified, item.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("applying scan delta: %w", err)
	}

	if err := recordScan(ctx, tx, in, model.ScanApplied, item.ID, nil, ""); err != nil {
		return nil, err
	}
	return &ScanOutcome{EventID: in.EventID, Status: model.ScanApplied, Item: item}, nil
}

func recordScan(ctx context.Context, tx *sql.Tx, in ScanInput, status, itemID string, candidateIDs []string, reason string) error {
	var candidates any
	if len(candidateIDs) > 0 {
		data, err := json.Marshal(candidateIDs)
		if err != nil {
			return fmt.Errorf("encoding candidates: %w", err)
		}
		candidates = string(data)
	}

	var scannedAt any
	if in.ScannedAt != nil {
		scannedAt = *in.ScannedAt
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO scan_events (event_id, barcode, item_id, delta, status, candidates, reason, scanned_at, applied_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.EventID, in.Barcode, nullable(itemID), in.Delta, status, candidates, nullable(reason), scannedAt, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("recording scan event: %w", err)
	}
	return nil
}

func getScanEvent(ctx context.Context, q querier, eventID string) (*model.ScanEvent, error) {
	ev := &model.ScanEvent{}
	var itemID, candidates, reason sql.NullString
	var scannedAt sql.NullInt64
	err := q.QueryRowContext(ctx,
		`SELECT event_id, barcode, item_id, delta, status, candidates, reason, scanned_at, applied_at
		 FROM scan_events WHERE event_id = ?`, eventID,
	).Scan(&ev.EventID, &ev.Barcode, &itemID, &ev.Delta, &ev.Status, &candidates, &reason, &scannedAt, &ev.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting scan event: %w", err)
	}
	ev.ItemID = itemID.String
	ev.Reason = reason.String
	if scannedAt.Valid {
		v := scannedAt.Int64
		ev.ScannedAt = &v
	}
	if candidates.Valid && candidates.String != "" {
		if err := json.Unmarshal([]byte(candidates.String), &ev.CandidateIDs); err != nil {
			return nil, fmt.Errorf("decoding candidates: %w", err)
		}
	}
	return ev, nil
}

// duplicateOutcome reconstructs the recorded outcome for a replayed event
// id. Item state is read fresh so the caller sees the post-application copy.
func duplicateOutcome(ctx context.Context, tx *sql.Tx, prior *model.ScanEvent) (*ScanOutcome, error) {
	outcome := &ScanOutcome{
		EventID: prior.EventID,
		Status:  model.ScanDuplicate,
		Reason:  prior.Status,
	}

	if prior.Status == model.ScanApplied && prior.ItemID != "" {
		item, err := scanItem(tx.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM items WHERE id = ?`, prior.ItemID,
		))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("getting item for replay: %w", err)
		}
		if err == nil {
			outcome.Item = item
		}
	}

	if prior.Status == model.ScanAmbiguous {
		for _, id := range prior.CandidateIDs {
			item, err := scanItem(tx.QueryRowContext(ctx,
				`SELECT `+itemColumns+` FROM items WHERE id = ?`, id,
			))
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting candidate for replay: %w", err)
			}
			outcome.Candidates = append(outcome.Candidates, *item)
		}
	}

	return outcome, nil
}

// ListScanEvents returns the most recent scan log entries, newest first.
func ListScanEvents(ctx context.Context, db *sql.DB, limit int) ([]model.ScanEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT event_id FROM scan_events ORDER BY applied_at DESC, event_id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing scan events: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning event id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	events := make([]model.ScanEvent, 0, len(ids))
	for _, id := range ids {
		ev, err := getScanEvent(ctx, db, id)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
	return events, nil
}
