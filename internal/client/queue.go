package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// Pending operation types.
const (
	OpScan       = "scan"
	OpItemCreate = "item_create"
	OpItemUpdate = "item_update"
	OpItemDelete = "item_delete"
)

// Queue retry/backoff defaults. Scans are best-effort: past the retry cap
// they are dropped permanently. Item mutations retry indefinitely.
const (
	DefaultMaxScanRetries = 10
	DefaultBaseDelay      = 2 * time.Second
	DefaultMaxDelay       = 5 * time.Minute
	enqueueFlushDelay     = 50 * time.Millisecond
)

const (
	opPrefix = "op/"
	seqKey   = "meta/opseq"
)

// PendingOp is one durably queued operation awaiting confirmed delivery.
type PendingOp struct {
	Key        string          `json:"-"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	RetryCount int             `json:"retry_count"`
	Conflict   bool            `json:"conflict,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Submitter is the network surface the queue flushes against. *API
// implements it; tests substitute failures.
type Submitter interface {
	SubmitScans(ctx context.Context, events []store.ScanInput) (*ScanResponse, error)
	CreateItem(ctx context.Context, p CreateItemPayload) (*model.Item, error)
	UpdateItem(ctx context.Context, p UpdateItemPayload) (*model.Item, error)
	DeleteItem(ctx context.Context, id string) error
}

// Queue is the durable offline operation queue. Enqueue is safe during a
// flush (append-only); new entries are picked up by the next flush. Only
// one flush runs at a time.
type Queue struct {
	kv     KV
	remote Submitter

	MaxScanRetries int
	BaseDelay      time.Duration
	MaxDelay       time.Duration

	mu       sync.Mutex
	flushing bool
	rearm    bool
	timer    *time.Timer
}

// NewQueue creates a queue over the given storage and network transport.
func NewQueue(kv KV, remote Submitter) *Queue {
	return &Queue{
		kv:             kv,
		remote:         remote,
		MaxScanRetries: DefaultMaxScanRetries,
		BaseDelay:      DefaultBaseDelay,
		MaxDelay:       DefaultMaxDelay,
	}
}

// Enqueue durably appends an operation and triggers a near-immediate flush
// attempt, so connectivity recovery is not purely timer-driven.
func (q *Queue) Enqueue(opType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	seq, err := q.nextSeq()
	if err != nil {
		return err
	}

	op := PendingOp{
		Key:       fmt.Sprintf("%s%012d", opPrefix, seq),
		Type:      opType,
		Payload:   data,
		CreatedAt: time.Now().UnixMilli(),
	}
	if err := q.saveOp(op); err != nil {
		return err
	}

	q.scheduleFlush(enqueueFlushDelay)
	return nil
}

// Pending returns the number of queued operations.
func (q *Queue) Pending() (int, error) {
	ops, err := q.loadOps()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// Flush submits all pending operations. If a flush is already running the
// call returns immediately and the running flush re-arms the timer when it
// finishes. Network failures are swallowed into "retain for retry"; the
// returned error only reports broken local storage.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.flushing {
		// An op enqueued mid-flush may have missed this pass; have the
		// running flush schedule a follow-up when it finishes.
		q.rearm = true
		q.mu.Unlock()
		return nil
	}
	q.flushing = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.flushing = false
		rearm := q.rearm
		q.rearm = false
		q.mu.Unlock()
		if rearm {
			q.scheduleFlush(enqueueFlushDelay)
		}
	}()

	ops, err := q.loadOps()
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	var scans, others []PendingOp
	for _, op := range ops {
		if op.Type == OpScan {
			scans = append(scans, op)
		} else {
			others = append(others, op)
		}
	}

	// Non-scan operations submit individually, in enqueue order. One
	// operation's failure never blocks the others.
	for _, op := range others {
		if err := q.submitOne(ctx, &op); err != nil {
			op.RetryCount++
			if saveErr := q.saveOp(op); saveErr != nil {
				return saveErr
			}
			slog.Debug("operation retained for retry", "op", op.Key, "type", op.Type, "retries", op.RetryCount, "error", err)
			continue
		}
		if err := q.kv.Delete(op.Key); err != nil {
			return err
		}
	}

	// All pending scans go out as one network call.
	if len(scans) > 0 {
		if err := q.flushScans(ctx, scans); err != nil {
			return err
		}
	}

	remaining, maxRetry, err := q.pendingStats()
	if err != nil {
		return err
	}
	if remaining > 0 {
		q.scheduleFlush(q.backoffDelay(maxRetry))
	}
	return nil
}

func (q *Queue) flushScans(ctx context.Context, scans []PendingOp) error {
	events := make([]store.ScanInput, 0, len(scans))
	for _, op := range scans {
		var in store.ScanInput
		if err := json.Unmarshal(op.Payload, &in); err != nil {
			// Unreadable payload can never succeed; drop it.
			slog.Warn("dropping malformed scan payload", "op", op.Key)
			if delErr := q.kv.Delete(op.Key); delErr != nil {
				return delErr
			}
			continue
		}
		events = append(events, in)
	}
	if len(events) == 0 {
		return nil
	}

	if _, err := q.remote.SubmitScans(ctx, events); err != nil {
		// Failure keeps every scan unless it exceeded the retry cap,
		// in which case it is dropped permanently (best-effort).
		for _, op := range scans {
			op.RetryCount++
			if op.RetryCount > q.MaxScanRetries {
				slog.Warn("dropping scan past retry cap", "op", op.Key, "retries", op.RetryCount)
				if delErr := q.kv.Delete(op.Key); delErr != nil {
					return delErr
				}
				continue
			}
			if saveErr := q.saveOp(op); saveErr != nil {
				return saveErr
			}
		}
		return nil
	}

	// The server recorded every event (idempotently); clear them all.
	for _, op := range scans {
		if err := q.kv.Delete(op.Key); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) submitOne(ctx context.Context, op *PendingOp) error {
	switch op.Type {
	case OpItemCreate:
		var p CreateItemPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		_, err := q.remote.CreateItem(ctx, p)
		return err
	case OpItemUpdate:
		var p UpdateItemPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		_, err := q.remote.UpdateItem(ctx, p)
		if IsConflict(err) {
			// Retained for retry, flagged so the UI can surface it.
			op.Conflict = true
		}
		return err
	case OpItemDelete:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return err
		}
		err := q.remote.DeleteItem(ctx, p.ID)
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == 404 {
			// Already gone server-side; the delete is done.
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// pendingStats returns the queue depth and the maximum retry count present,
// which keys the backoff delay.
func (q *Queue) pendingStats() (int, int, error) {
	ops, err := q.loadOps()
	if err != nil {
		return 0, 0, err
	}
	maxRetry := 0
	for _, op := range ops {
		if op.RetryCount > maxRetry {
			maxRetry = op.RetryCount
		}
	}
	return len(ops), maxRetry, nil
}

func (q *Queue) backoffDelay(maxRetry int) time.Duration {
	delay := q.BaseDelay
	for i := 0; i < maxRetry; i++ {
		delay *= 2
		if delay >= q.MaxDelay {
			return q.MaxDelay
		}
	}
	if delay > q.MaxDelay {
		return q.MaxDelay
	}
	return delay
}

// scheduleFlush arms (or re-arms) the flush timer.
func (q *Queue) scheduleFlush(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
	}
	q.timer = time.AfterFunc(d, func() {
		if err := q.Flush(context.Background()); err != nil {
			slog.Error("scheduled flush failed", "error", err)
		}
	})
}

// Stop disarms the flush timer.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) nextSeq() (uint64, error) {
	data, ok, err := q.kv.Get(seqKey)
	if err != nil {
		return 0, err
	}
	var seq uint64
	if ok {
		seq, err = strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence counter: %w", err)
		}
	}
	seq++
	if err := q.kv.Put(seqKey, []byte(strconv.FormatUint(seq, 10))); err != nil {
		return 0, err
	}
	return seq, nil
}

func (q *Queue) saveOp(op PendingOp) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding operation: %w", err)
	}
	return q.kv.Put(op.Key, data)
}

func (q *Queue) loadOps() ([]PendingOp, error) {
	entries, err := q.kv.List(opPrefix)
	if err != nil {
		return nil, err
	}
	ops := make([]PendingOp, 0, len(entries))
	for _, e := range entries {
		var op PendingOp
		if err := json.Unmarshal(e.Value, &op); err != nil {
			return nil, fmt.Errorf("decoding operation %q: %w", e.Key, err)
		}
		op.Key = e.Key
		ops = append(ops, op)
	}
	return ops, nil
}
