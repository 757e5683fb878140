package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/config"
	"github.com/beacon-lab/project-beacon/internal/core/crypto"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
	gobreaker "github.com/sony/gobreaker/v2"
)

const lockReleaseTimeout = 10 * time.Second

// Result summarizes one dispatch run for its invoker.
type Result struct {
	// Skipped is true when another run held the lock; nothing was done.
	Skipped bool `json:"skipped"`

	Selected  int `json:"selected"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Processor drains the pending event queue in bounded batches. A run is the
// only operation in the system requiring mutual exclusion; the Lock
// serializes runs across all invokers (scheduler ticks, manual triggers,
// other instances).
type Processor struct {
	store    storage.EventStore
	settings config.Provider
	lock     Lock
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[any]
}

// NewProcessor wires a queue processor. Pipeline settings are re-read from
// the provider at the start of every run.
func NewProcessor(store storage.EventStore, settings config.Provider, lock Lock) *Processor {
	if store == nil {
		panic("dispatch: store must not be nil")
	}
	if settings == nil {
		panic("dispatch: settings provider must not be nil")
	}
	if lock == nil {
		panic("dispatch: lock must not be nil")
	}

	return &Processor{
		store:    store,
		settings: settings,
		lock:     lock,
		client:   &http.Client{},
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:     "event-sink",
			Interval: time.Minute,
			Timeout:  30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Run executes one pass of the queue state machine: claim the lock, select a
// batch, forward it to the sink, reconcile statuses, release the lock. The
// lock release sits in a defer so no exit path can leave it held.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	settings := p.settings.Pipeline()

	acquired, err := p.lock.Acquire(ctx, settings.LockTTLDuration())
	if err != nil {
		return nil, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	if !acquired {
		slog.Info("[Dispatch] Run already in progress, skipping")
		return &Result{Skipped: true}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), lockReleaseTimeout)
		defer cancel()
		if err := p.lock.Release(releaseCtx); err != nil {
			slog.Error("[Dispatch] Failed to release lock", "error", err)
		}
	}()

	batch, err := p.store.SelectPendingBatch(ctx, settings.BatchSize, settings.RetryCeiling)
	if err != nil {
		return nil, fmt.Errorf("failed to select batch: %w", err)
	}
	if len(batch) == 0 {
		slog.Debug("[Dispatch] Queue empty, nothing to do")
		return &Result{}, nil
	}

	slog.Info("[Dispatch] Processing batch",
		"selected", len(batch),
		"method", settings.TransmissionMethod,
		"batch_size_limit", settings.BatchSize)

	outbound, sendable, undecryptable := p.prepareOutbound(batch, settings)

	result := &Result{Selected: len(batch)}

	if len(undecryptable) > 0 {
		// These can never be forwarded; fail them so retries count up
		// toward the ceiling instead of clogging every batch forever.
		failed, err := p.store.UpdateQueueStatus(ctx, undecryptable, v1.QueueFailed, "payload decryption failed")
		if err != nil {
			return result, fmt.Errorf("failed to mark undecryptable events: %w", err)
		}
		result.Failed += len(failed)
	}

	if len(sendable) == 0 {
		return result, nil
	}

	sink, err := NewSink(settings, p.client)
	if err != nil {
		return result, err
	}

	sendErr := p.send(ctx, sink, outbound, settings.SinkTimeoutDuration())
	if sendErr != nil {
		slog.Warn("[Dispatch] Sink rejected batch",
			"sink", sink.Name(),
			"events", len(sendable),
			"error", sendErr)
		failed, err := p.store.UpdateQueueStatus(ctx, sendable, v1.QueueFailed, sendErr.Error())
		if err != nil {
			return result, fmt.Errorf("failed to mark batch failed: %w", err)
		}
		result.Failed += len(failed)
		return result, nil
	}

	completed, err := p.store.UpdateQueueStatus(ctx, sendable, v1.QueueCompleted, "")
	if err != nil {
		return result, fmt.Errorf("failed to mark batch completed: %w", err)
	}
	result.Completed = len(completed)

	slog.Info("[Dispatch] Batch complete",
		"sink", sink.Name(),
		"completed", result.Completed,
		"failed", result.Failed)
	return result, nil
}

// send performs the batch POST with a bounded timeout behind the circuit
// breaker. A tripped breaker fails fast without contacting the sink.
func (p *Processor) send(ctx context.Context, sink Sink, events []SinkEvent, timeout time.Duration) error {
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := p.breaker.Execute(func() (any, error) {
		return nil, sink.Send(sendCtx, events)
	})
	return err
}

// prepareOutbound converts stored records into sink events, decrypting
// payloads where needed. Returns the outbound events, the ids they came
// from, and the ids whose payloads could not be decrypted.
func (p *Processor) prepareOutbound(batch []*v1.Event, settings config.PipelineConfig) ([]SinkEvent, []string, []string) {
	var cipher *crypto.PayloadCipher
	if settings.EncryptionKey != "" {
		c, err := crypto.NewPayloadCipher(settings.EncryptionKey)
		if err != nil {
			slog.Error("[Dispatch] Encryption key unusable", "error", err)
		} else {
			cipher = c
		}
	}

	var outbound []SinkEvent
	var sendable, undecryptable []string
	for _, evt := range batch {
		payload := evt.Payload
		if evt.FinalPayloadEncrypted {
			if cipher == nil {
				undecryptable = append(undecryptable, evt.ID)
				continue
			}
			plain, err := cipher.Decrypt(payload)
			if err != nil {
				slog.Warn("[Dispatch] Dropping undecryptable payload", "event_id", evt.ID, "error", err)
				undecryptable = append(undecryptable, evt.ID)
				continue
			}
			payload = plain
		}

		var decoded struct {
			Name   string                 `json:"name"`
			Params map[string]interface{} `json:"params"`
		}
		if err := json.Unmarshal([]byte(payload), &decoded); err != nil || decoded.Name == "" {
			decoded.Name = evt.Name
		}

		outbound = append(outbound, SinkEvent{
			Name:         decoded.Name,
			Params:       decoded.Params,
			ConsentGiven: evt.ConsentGiven,
			ClientIP:     evt.ClientIP,
		})
		sendable = append(sendable, evt.ID)
	}
	return outbound, sendable, undecryptable
}

// CleanupOldEvents deletes records older than the configured retention,
// keeping protected event names regardless of age.
func (p *Processor) CleanupOldEvents(ctx context.Context, days int) (int64, error) {
	settings := p.settings.Pipeline()
	if days <= 0 {
		days = settings.RetentionDays
	}

	deleted, err := p.store.Cleanup(ctx, days, settings.PreserveEventNames)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return deleted, nil
}
