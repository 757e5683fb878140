package dispatch

import (
	"context"
	"sync"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
)

// fakeStore is an in-memory EventStore with real queue-status semantics so
// dispatcher tests can assert status transitions and retry bookkeeping.
type fakeStore struct {
	mu     sync.Mutex
	events map[string]*v1.Event
	order  []string

	selectErr   error
	updateErr   error
	selectCount int

	cleanupDays     int
	cleanupPreserve []string
	cleanupResult   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{events: make(map[string]*v1.Event)}
}

func (f *fakeStore) add(events ...*v1.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, evt := range events {
		clone := *evt
		f.events[evt.ID] = &clone
		f.order = append(f.order, evt.ID)
	}
}

func (f *fakeStore) get(id string) *v1.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *f.events[id]
	return &clone
}

func (f *fakeStore) Create(ctx context.Context, event *v1.Event) error {
	f.add(event)
	return nil
}

func (f *fakeStore) UpdateQueueStatus(ctx context.Context, ids []string, status v1.QueueStatus, errMsg string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}

	var updated []string
	for _, id := range ids {
		evt, ok := f.events[id]
		if !ok || evt.QueueStatus == nil {
			continue
		}
		switch status {
		case v1.QueueCompleted:
			evt.QueueStatus = v1.QueueStatusPtr(v1.QueueCompleted)
			now := time.Now().UTC()
			evt.ProcessedAt = &now
			evt.ErrorMessage = ""
		case v1.QueueFailed:
			evt.QueueStatus = v1.QueueStatusPtr(v1.QueueFailed)
			evt.RetryCount++
			evt.ErrorMessage = errMsg
		case v1.QueuePending:
			evt.QueueStatus = v1.QueueStatusPtr(v1.QueuePending)
			evt.ErrorMessage = ""
		}
		updated = append(updated, id)
	}
	return updated, nil
}

func (f *fakeStore) countByStatus(status v1.QueueStatus) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, evt := range f.events {
		if evt.QueueStatus != nil && *evt.QueueStatus == status {
			count++
		}
	}
	return count
}

func (f *fakeStore) selectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selectCount
}

func (f *fakeStore) SelectPendingBatch(ctx context.Context, limit, retryCeiling int) ([]*v1.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCount++
	if f.selectErr != nil {
		return nil, f.selectErr
	}

	var batch []*v1.Event
	for _, id := range f.order {
		if len(batch) >= limit {
			break
		}
		evt := f.events[id]
		if evt.QueueStatus == nil {
			continue
		}
		switch *evt.QueueStatus {
		case v1.QueuePending:
		case v1.QueueFailed:
			if evt.RetryCount >= retryCeiling {
				continue
			}
		default:
			continue
		}
		clone := *evt
		batch = append(batch, &clone)
	}
	return batch, nil
}

func (f *fakeStore) Query(ctx context.Context, filter storage.Filter) ([]*v1.Event, int64, error) {
	return nil, 0, nil
}

func (f *fakeStore) Stats(ctx context.Context) (*storage.Stats, error) {
	return &storage.Stats{}, nil
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThanDays int, preserveEventNames []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupDays = olderThanDays
	f.cleanupPreserve = preserveEventNames
	return f.cleanupResult, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, confirm string) (int64, error) {
	if confirm != storage.DeleteAllConfirmation {
		return 0, storage.ErrConfirmationRequired
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	deleted := int64(len(f.events))
	f.events = make(map[string]*v1.Event)
	f.order = nil
	return deleted, nil
}
