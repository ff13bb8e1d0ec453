package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/matejg/zaloga/internal/model"
	"github.com/matejg/zaloga/internal/store"
)

// Local cache key layout. Items, categories and locations are cached as
// JSON under id-suffixed keys; meta/ keys track sync progress.
const (
	itemPrefix = "item/"
	catPrefix  = "cat/"
	locPrefix  = "loc/"

	bootstrappedKey = "meta/bootstrapped"
	hwmKey          = "meta/hwm"
)

// Remote is the full server surface the syncer needs. *API implements it.
type Remote interface {
	Submitter
	Ping(ctx context.Context) error
	GetSnapshot(ctx context.Context) (*model.Snapshot, error)
	ListItems(ctx context.Context, since int64, includeDeleted bool) (*ItemList, error)
	ListCategories(ctx context.Context) ([]model.Category, error)
	ListLocations(ctx context.Context) ([]model.Location, error)
}

// Syncer keeps the local cache converged with the server: it bootstraps
// from a snapshot, pushes queued mutations, and pulls changes since the
// last seen modification time.
type Syncer struct {
	kv     KV
	remote Remote
	queue  *Queue

	// Interval between periodic cycles in Run.
	Interval time.Duration
}

// NewSyncer builds a syncer sharing the given queue's storage.
func NewSyncer(kv KV, remote Remote, queue *Queue) *Syncer {
	return &Syncer{
		kv:       kv,
		remote:   remote,
		queue:    queue,
		Interval: time.Minute,
	}
}

// Cycle runs one full synchronization pass. Network failures in any phase
// are logged and the pass moves on; only broken local storage returns an
// error. The first successful cycle is a snapshot bootstrap and does
// nothing else.
func (s *Syncer) Cycle(ctx context.Context) error {
	boot, err := s.bootstrapped()
	if err != nil {
		return err
	}
	if !boot {
		return s.bootstrap(ctx)
	}

	if err := s.pushItems(ctx); err != nil {
		return err
	}
	if err := s.pushScans(ctx); err != nil {
		return err
	}
	if err := s.pullItems(ctx); err != nil {
		return err
	}
	if err := s.refreshTaxonomy(ctx); err != nil {
		return err
	}
	return nil
}

// Run cycles periodically until ctx is cancelled. When the server is
// unreachable the cycle is skipped; the first tick after connectivity
// returns runs immediately.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	online := true
	for {
		if err := s.remote.Ping(ctx); err != nil {
			if online {
				slog.Info("server unreachable, sync paused", "error", err)
			}
			online = false
		} else {
			if !online {
				slog.Info("server reachable again, resuming sync")
			}
			online = true
			if err := s.Cycle(ctx); err != nil {
				slog.Error("sync cycle failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// bootstrap replaces the whole local cache with a server snapshot and
// records the high-water mark for subsequent delta pulls.
func (s *Syncer) bootstrap(ctx context.Context) error {
	snap, err := s.remote.GetSnapshot(ctx)
	if err != nil {
		slog.Warn("bootstrap snapshot unavailable", "error", err)
		return nil
	}

	for _, prefix := range []string{itemPrefix, catPrefix, locPrefix} {
		if err := s.clearPrefix(prefix); err != nil {
			return err
		}
	}

	var hwm int64
	for _, item := range snap.Items {
		if err := s.putJSON(itemPrefix+item.ID, item); err != nil {
			return err
		}
		if item.LastModified > hwm {
			hwm = item.LastModified
		}
	}
	for _, cat := range snap.Categories {
		if err := s.putJSON(catPrefix+cat.ID, cat); err != nil {
			return err
		}
	}
	for _, loc := range snap.Locations {
		if err := s.putJSON(locPrefix+loc.ID, loc); err != nil {
			return err
		}
	}

	if err := s.setHWM(hwm); err != nil {
		return err
	}
	if err := s.kv.Put(bootstrappedKey, []byte("1")); err != nil {
		return err
	}
	slog.Info("bootstrapped from snapshot", "items", len(snap.Items), "hwm", hwm)
	return nil
}

// pushItems submits queued item mutations in enqueue order. Successful
// creates and updates replace the cached copy with the server's canonical
// one. A rejected update stays queued, flagged as a conflict.
func (s *Syncer) pushItems(ctx context.Context) error {
	ops, err := s.queue.loadOps()
	if err != nil {
		return err
	}
	for _, op := range ops {
		if op.Type == OpScan {
			continue
		}
		item, localID, err := s.pushOne(ctx, &op)
		if err != nil {
			op.RetryCount++
			if saveErr := s.queue.saveOp(op); saveErr != nil {
				return saveErr
			}
			slog.Warn("push retained for retry", "op", op.Key, "type", op.Type, "error", err)
			continue
		}
		if localID != "" {
			if delErr := s.kv.Delete(itemPrefix + localID); delErr != nil {
				return delErr
			}
		}
		if item != nil {
			if putErr := s.putJSON(itemPrefix+item.ID, item); putErr != nil {
				return putErr
			}
		}
		if delErr := s.kv.Delete(op.Key); delErr != nil {
			return delErr
		}
	}
	return nil
}

// pushOne submits a single non-scan operation and returns the canonical
// item (if any) and the optimistic local id to evict from the cache.
func (s *Syncer) pushOne(ctx context.Context, op *PendingOp) (*model.Item, string, error) {
	switch op.Type {
	case OpItemCreate:
		var p CreateItemPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, "", err
		}
		item, err := s.remote.CreateItem(ctx, p)
		if err != nil {
			return nil, "", err
		}
		return item, p.LocalID, nil
	case OpItemUpdate:
		var p UpdateItemPayload
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, "", err
		}
		item, err := s.remote.UpdateItem(ctx, p)
		if IsConflict(err) {
			op.Conflict = true
		}
		if err != nil {
			return nil, "", err
		}
		return item, "", nil
	case OpItemDelete:
		var p struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(op.Payload, &p); err != nil {
			return nil, "", err
		}
		err := s.remote.DeleteItem(ctx, p.ID)
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == 404 {
			err = nil
		}
		if err != nil {
			return nil, "", err
		}
		return nil, p.ID, nil
	default:
		return nil, "", fmt.Errorf("unknown operation type %q", op.Type)
	}
}

// pushScans submits all queued scans as one batch and folds the per-event
// results back into the cache. Events the server reported as errored are
// not recorded server-side and stay queued for the next batch.
func (s *Syncer) pushScans(ctx context.Context) error {
	ops, err := s.queue.loadOps()
	if err != nil {
		return err
	}
	var scans []PendingOp
	events := make([]store.ScanInput, 0)
	for _, op := range ops {
		if op.Type != OpScan {
			continue
		}
		var in store.ScanInput
		if err := json.Unmarshal(op.Payload, &in); err != nil {
			slog.Warn("dropping malformed scan payload", "op", op.Key)
			if delErr := s.kv.Delete(op.Key); delErr != nil {
				return delErr
			}
			continue
		}
		scans = append(scans, op)
		events = append(events, in)
	}
	if len(events) == 0 {
		return nil
	}

	resp, err := s.remote.SubmitScans(ctx, events)
	if err != nil {
		slog.Warn("scan batch not delivered", "count", len(events), "error", err)
		for _, op := range scans {
			op.RetryCount++
			if op.RetryCount > s.queue.MaxScanRetries {
				slog.Warn("dropping scan past retry cap", "op", op.Key)
				if delErr := s.kv.Delete(op.Key); delErr != nil {
					return delErr
				}
				continue
			}
			if saveErr := s.queue.saveOp(op); saveErr != nil {
				return saveErr
			}
		}
		return nil
	}

	statuses := make(map[string]string, len(resp.Results))
	for _, out := range resp.Results {
		statuses[out.EventID] = out.Status
		if out.Item == nil {
			continue
		}
		if out.Status == model.ScanApplied || out.Status == model.ScanDuplicate {
			if err := s.putJSON(itemPrefix+out.Item.ID, out.Item); err != nil {
				return err
			}
		}
	}
	for i, op := range scans {
		status, ok := statuses[events[i].EventID]
		if ok && status != model.ScanError {
			if err := s.kv.Delete(op.Key); err != nil {
				return err
			}
			continue
		}
		// The server rolled this event back without recording it, so a
		// later batch can still apply it.
		op.RetryCount++
		if op.RetryCount > s.queue.MaxScanRetries {
			slog.Warn("dropping scan past retry cap", "op", op.Key)
			if delErr := s.kv.Delete(op.Key); delErr != nil {
				return delErr
			}
			continue
		}
		if saveErr := s.queue.saveOp(op); saveErr != nil {
			return saveErr
		}
	}
	return nil
}

// pullItems fetches everything modified after the high-water mark and
// merges it into the cache by id. Server-side deletions evict the cached
// copy.
func (s *Syncer) pullItems(ctx context.Context) error {
	hwm, err := s.getHWM()
	if err != nil {
		return err
	}
	list, err := s.remote.ListItems(ctx, hwm, true)
	if err != nil {
		slog.Warn("delta pull unavailable", "error", err)
		return nil
	}

	for _, item := range list.Items {
		if err := s.putJSON(itemPrefix+item.ID, item); err != nil {
			return err
		}
		if item.LastModified > hwm {
			hwm = item.LastModified
		}
	}
	for _, id := range list.Deleted {
		if err := s.kv.Delete(itemPrefix + id); err != nil {
			return err
		}
	}
	return s.setHWM(hwm)
}

// refreshTaxonomy replaces the category and location caches wholesale;
// both sets are small enough that delta tracking is not worth it.
func (s *Syncer) refreshTaxonomy(ctx context.Context) error {
	cats, err := s.remote.ListCategories(ctx)
	if err != nil {
		slog.Warn("category refresh unavailable", "error", err)
		return nil
	}
	locs, err := s.remote.ListLocations(ctx)
	if err != nil {
		slog.Warn("location refresh unavailable", "error", err)
		return nil
	}

	if err := s.clearPrefix(catPrefix); err != nil {
		return err
	}
	for _, cat := range cats {
		if err := s.putJSON(catPrefix+cat.ID, cat); err != nil {
			return err
		}
	}
	if err := s.clearPrefix(locPrefix); err != nil {
		return err
	}
	for _, loc := range locs {
		if err := s.putJSON(locPrefix+loc.ID, loc); err != nil {
			return err
		}
	}
	return nil
}

// CachedItems returns every item in the local cache.
func (s *Syncer) CachedItems() ([]model.Item, error) {
	entries, err := s.kv.List(itemPrefix)
	if err != nil {
		return nil, err
	}
	items := make([]model.Item, 0, len(entries))
	for _, e := range entries {
		var item model.Item
		if err := json.Unmarshal(e.Value, &item); err != nil {
			return nil, fmt.Errorf("decoding cached item %q: %w", e.Key, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Syncer) bootstrapped() (bool, error) {
	_, ok, err := s.kv.Get(bootstrappedKey)
	return ok, err
}

func (s *Syncer) getHWM() (int64, error) {
	data, ok, err := s.kv.Get(hwmKey)
	if err != nil || !ok {
		return 0, err
	}
	hwm, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt high-water mark: %w", err)
	}
	return hwm, nil
}

func (s *Syncer) setHWM(hwm int64) error {
	return s.kv.Put(hwmKey, []byte(strconv.FormatInt(hwm, 10)))
}

func (s *Syncer) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %q: %w", key, err)
	}
	return s.kv.Put(key, data)
}

func (s *Syncer) clearPrefix(prefix string) error {
	entries, err := s.kv.List(prefix)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := s.kv.Delete(e.Key); err != nil {
			return err
		}
	}
	return nil
}
