package intake

import (
	"context"
	"errors"
	"fmt"
	"sync"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
)

// errContrived simulates a storage outage in tests.
var errContrived = errors.New("contrived storage failure")

// fakeStore is an in-memory EventStore for handler tests.
type fakeStore struct {
	mu        sync.Mutex
	events    []*v1.Event
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{}
}

func (f *fakeStore) Create(ctx context.Context, event *v1.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if err := event.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidEvent, err)
	}
	clone := *event
	f.events = append(f.events, &clone)
	return nil
}

func (f *fakeStore) UpdateQueueStatus(ctx context.Context, ids []string, status v1.QueueStatus, errMsg string) ([]string, error) {
	return nil, nil
}

func (f *fakeStore) SelectPendingBatch(ctx context.Context, limit, retryCeiling int) ([]*v1.Event, error) {
	return nil, nil
}

func (f *fakeStore) Query(ctx context.Context, filter storage.Filter) ([]*v1.Event, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events, int64(len(f.events)), nil
}

func (f *fakeStore) Stats(ctx context.Context) (*storage.Stats, error) {
	return &storage.Stats{}, nil
}

func (f *fakeStore) Cleanup(ctx context.Context, olderThanDays int, preserveEventNames []string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) DeleteAll(ctx context.Context, confirm string) (int64, error) {
	return 0, nil
}

func (f *fakeStore) stored() []*v1.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*v1.Event, len(f.events))
	copy(out, f.events)
	return out
}
