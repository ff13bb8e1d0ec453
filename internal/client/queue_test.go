package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// fakeRemote is a scriptable Submitter. Every call is recorded; failures
// are injected per method.
type fakeRemote struct {
	mu sync.Mutex

	failScans   bool
	failCreates bool
	updateErr   error
	deleteErr   error
	errorEvents map[string]bool

	scanBatches [][]store.ScanInput
	created     []CreateItemPayload
	updated     []UpdateItemPayload
	deleted     []string
}

var errOffline = errors.New("connection refused")

func (f *fakeRemote) SubmitScans(_ context.Context, events []store.ScanInput) (*ScanResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failScans {
		return nil, errOffline
	}
	batch := make([]store.ScanInput, len(events))
	copy(batch, events)
	f.scanBatches = append(f.scanBatches, batch)

	resp := &ScanResponse{ServerTime: 1}
	for _, ev := range events {
		if f.errorEvents[ev.EventID] {
			resp.Results = append(resp.Results, store.ScanOutcome{
				EventID: ev.EventID,
				Status:  model.ScanError,
				Reason:  "database is locked",
			})
			continue
		}
		resp.Results = append(resp.Results, store.ScanOutcome{
			EventID: ev.EventID,
			Status:  model.ScanApplied,
			Item:    &model.Item{ID: "item-" + ev.EventID, Quantity: ev.Delta, LastModified: 10},
		})
	}
	return resp, nil
}

func (f *fakeRemote) CreateItem(_ context.Context, p CreateItemPayload) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates {
		return nil, errOffline
	}
	f.created = append(f.created, p)
	return &model.Item{ID: "srv-" + p.Name, Name: p.Name, Quantity: p.Quantity, LastModified: 10}, nil
}

func (f *fakeRemote) UpdateItem(_ context.Context, p UpdateItemPayload) (*model.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updated = append(f.updated, p)
	return &model.Item{ID: p.ID, LastModified: p.LastModified + 1}, nil
}

func (f *fakeRemote) DeleteItem(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func newTestQueue(t *testing.T, remote Submitter) *Queue {
	t.Helper()
	q := NewQueue(NewMemKV(), remote)
	t.Cleanup(q.Stop)
	return q
}

func mustPending(t *testing.T, q *Queue, want int) {
	t.Helper()
	n, err := q.Pending()
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if n != want {
		t.Fatalf("expected %d pending, got %d", want, n)
	}
}

func TestFlushDeliversAndClears(t *testing.T) {
	remote := &fakeRemote{}
	q := newTestQueue(t, remote)

	q.Enqueue(OpScan, store.ScanInput{EventID: "e1", Barcode: "B", Delta: 1})
	q.Enqueue(OpScan, store.ScanInput{EventID: "e2", Barcode: "B", Delta: 2})
	q.Enqueue(OpItemCreate, CreateItemPayload{Name: "Widget"})
	q.Stop()
	mustPending(t, q, 3)

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mustPending(t, q, 0)

	// All scans traveled as one batch, in enqueue order.
	if len(remote.scanBatches) != 1 {
		t.Fatalf("expected 1 scan batch, got %d", len(remote.scanBatches))
	}
	if batch := remote.scanBatches[0]; len(batch) != 2 || batch[0].EventID != "e1" || batch[1].EventID != "e2" {
		t.Errorf("unexpected batch: %v", batch)
	}
	if len(remote.created) != 1 {
		t.Errorf("expected 1 create, got %d", len(remote.created))
	}
}

func TestFailedFlushRetainsEverything(t *testing.T) {
	remote := &fakeRemote{failScans: true, failCreates: true}
	q := newTestQueue(t, remote)

	q.Enqueue(OpScan, store.ScanInput{EventID: "e1", Barcode: "B", Delta: 1})
	q.Enqueue(OpItemCreate, CreateItemPayload{Name: "Widget"})
	q.Stop()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mustPending(t, q, 2)

	ops, _ := q.loadOps()
	for _, op := range ops {
		if op.RetryCount != 1 {
			t.Errorf("op %s: expected retry count 1, got %d", op.Key, op.RetryCount)
		}
	}

	// Connectivity returns: the retained operations deliver.
	remote.mu.Lock()
	remote.failScans = false
	remote.failCreates = false
	remote.mu.Unlock()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	mustPending(t, q, 0)
}

func TestScanDroppedPastRetryCap(t *testing.T) {
	remote := &fakeRemote{failScans: true, failCreates: true}
	q := newTestQueue(t, remote)
	q.MaxScanRetries = 2

	q.Enqueue(OpScan, store.ScanInput{EventID: "e1", Barcode: "B", Delta: 1})
	q.Enqueue(OpItemCreate, CreateItemPayload{Name: "Widget"})
	q.Stop()

	for i := 0; i < 3; i++ {
		if err := q.Flush(context.Background()); err != nil {
			t.Fatalf("Flush %d: %v", i, err)
		}
	}

	// The scan is dropped permanently; the item create retries forever.
	ops, _ := q.loadOps()
	if len(ops) != 1 || ops[0].Type != OpItemCreate {
		t.Fatalf("expected only the create retained, got %v", ops)
	}
	if ops[0].RetryCount != 3 {
		t.Errorf("expected create retried 3 times, got %d", ops[0].RetryCount)
	}
}

func TestOneFailureDoesNotBlockOthers(t *testing.T) {
	remote := &fakeRemote{updateErr: errOffline}
	q := newTestQueue(t, remote)

	q.Enqueue(OpItemUpdate, UpdateItemPayload{ID: "a", LastModified: 1})
	q.Enqueue(OpItemDelete, map[string]string{"id": "b"})
	q.Stop()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// The update stays; the delete behind it went through.
	ops, _ := q.loadOps()
	if len(ops) != 1 || ops[0].Type != OpItemUpdate {
		t.Fatalf("expected only the update retained, got %v", ops)
	}
	if len(remote.deleted) != 1 || remote.deleted[0] != "b" {
		t.Errorf("expected delete delivered, got %v", remote.deleted)
	}
}

func TestConflictRetainedAndFlagged(t *testing.T) {
	remote := &fakeRemote{updateErr: &APIError{Status: http.StatusConflict, Code: "conflict"}}
	q := newTestQueue(t, remote)

	q.Enqueue(OpItemUpdate, UpdateItemPayload{ID: "a", LastModified: 1})
	q.Stop()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	ops, _ := q.loadOps()
	if len(ops) != 1 {
		t.Fatalf("expected conflicting update retained, got %d ops", len(ops))
	}
	if !ops[0].Conflict {
		t.Error("expected conflict flag set")
	}
}

func TestDeleteOfMissingItemCounted(t *testing.T) {
	remote := &fakeRemote{deleteErr: &APIError{Status: http.StatusNotFound, Code: "not_found"}}
	q := newTestQueue(t, remote)

	q.Enqueue(OpItemDelete, map[string]string{"id": "gone"})
	q.Stop()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Already gone server-side means done, not an error.
	mustPending(t, q, 0)
}

func TestFlushDuringFlushRearmsTimer(t *testing.T) {
	q := newTestQueue(t, &fakeRemote{})

	// A timer-driven flush colliding with a running one must not strand
	// operations enqueued mid-flush.
	q.mu.Lock()
	q.flushing = true
	q.mu.Unlock()

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	q.mu.Lock()
	rearm := q.rearm
	q.flushing = false
	q.mu.Unlock()
	if !rearm {
		t.Fatal("expected follow-up flush requested")
	}

	// When the running flush finishes it arms the timer for the missed
	// pass.
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	q.mu.Lock()
	armed := q.timer != nil
	q.mu.Unlock()
	if !armed {
		t.Error("expected flush timer armed for the missed pass")
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	q := newTestQueue(t, &fakeRemote{})

	if d := q.backoffDelay(0); d != q.BaseDelay {
		t.Errorf("retry 0: expected base delay, got %v", d)
	}
	if d := q.backoffDelay(2); d != 4*q.BaseDelay {
		t.Errorf("retry 2: expected 4x base, got %v", d)
	}
	if d := q.backoffDelay(30); d != q.MaxDelay {
		t.Errorf("retry 30: expected ceiling, got %v", d)
	}
}
