package model

// Scan event statuses. Duplicate is never stored in the log: it is the
// replay outcome for an event id that was already recorded.
const (
	ScanApplied   = "applied"
	ScanNotFound  = "not_found"
	ScanAmbiguous = "ambiguous"
	ScanDuplicate = "duplicate"
	ScanError     = "error"
)

// ScanEvent is a write-once log entry for one processed scan. EventID is the
// client-chosen idempotency key; once recorded, resubmission returns the
// recorded outcome instead of applying the delta again.
type ScanEvent struct {
	EventID      string   `json:"event_id"`
	Barcode      string   `json:"barcode"`
	ItemID       string   `json:"item_id,omitempty"`
	Delta        int      `json:"delta"`
	Status       string   `json:"status"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	ScannedAt    *int64   `json:"scanned_at,omitempty"` // client clock, unix ms
	AppliedAt    int64    `json:"applied_at"`           // server clock, unix ms
}
