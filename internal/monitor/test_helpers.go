package monitor

import (
	"context"
	"sync"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
)

// fakeStore is a canned-response EventStore for handler tests. Queue-status
// mutation is just enough for a manual dispatch run to complete.
type fakeStore struct {
	mu sync.Mutex

	stats    *storage.Stats
	statsErr error

	queryEvents []*v1.Event
	queryTotal  int64
	queryErr    error
	lastFilter  storage.Filter

	pending []*v1.Event

	cleanupDays     int
	cleanupPreserve []string
	cleanupDeleted  int64
	cleanupErr      error

	deleteAllDeleted int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{stats: &storage.Stats{}}
}

func (f *fakeStore) Create(ctx context.Context, event *v1.Event) error {
	return nil
}

func (f *fakeStore) UpdateQueueStatus(ctx context.Context, ids []string, status v1.QueueStatus, errMsg string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var updated []string
	for _, evt := range f.pending {
		for _, id := range ids {
			if evt.ID != id {
				continue
			}
			evt.QueueStatus = v1.QueueStatusPtr(status)
			if status == v1.QueueCompleted {
				now := time.Now().UTC()
				evt.ProcessedAt = &now
			}
			updated = append(updated, id)
		}
	}
	return updated, nil
}

func (f *fakeStore) SelectPendingBatch(ctx context.Context, limit, retryCeiling int) ([]*v1.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var batch []*v1.Event
	for _, evt := range f.pending {
		if len(batch) >= limit {
			break
		}
		if evt.QueueStatus != nil && *evt.QueueStatus == v1.QueuePending {
			clone := *evt
			batch = append(batch, &clone)
		}
	}
	return batch, nil
}

func (f *fakeStore) Query(ctx context.Context, filter storage.Filter) ([]*v1.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastFilter = filter
	if f.queryErr != nil {
		return nil, 0, f.queryErr
	}
	return f.queryEvents, f.queryTotal, nil
}

func (f *fakeStore) Stats(ctx context.Context) (*storage.Stats, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	return f.stats, nil
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThanDays int, preserveEventNames []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cleanupErr != nil {
		return 0, f.cleanupErr
	}
	f.cleanupDays = olderThanDays
	f.cleanupPreserve = preserveEventNames
	return f.cleanupDeleted, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, confirm string) (int64, error) {
	if confirm != storage.DeleteAllConfirmation {
		return 0, storage.ErrConfirmationRequired
	}
	return f.deleteAllDeleted, nil
}
