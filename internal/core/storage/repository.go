package storage

import (
	"context"
	"errors"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/shopspring/decimal"
)

// DeleteAllConfirmation is the token a caller must supply to wipe the event
// table regardless of age. Guards against accidental bulk deletes from the
// monitor surface.
const DeleteAllConfirmation = "DELETE_ALL_EVENTS"

var (
	// ErrInvalidEvent is returned when a record violates storage constraints
	// (missing id or event name).
	ErrInvalidEvent = errors.New("invalid event record")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("event not found")

	// ErrConfirmationRequired is returned by DeleteAll without the exact
	// confirmation token.
	ErrConfirmationRequired = errors.New("delete all requires confirmation token")
)

// Filter narrows a Query. Zero values mean "no constraint".
type Filter struct {
	MonitorStatus v1.MonitorStatus
	QueueStatus   v1.QueueStatus
	EventName     string

	// SearchText matches case-insensitively against event name, client IP,
	// error message, and the stored payload.
	SearchText string

	// LastHours is a relative date-range preset ("last N hours"); when set
	// it takes precedence over From/To.
	LastHours int
	From      time.Time
	To        time.Time

	Limit  int
	Offset int
}

// EventNameCount is one entry of the top-event-names breakdown.
type EventNameCount struct {
	Name  string `json:"event_name"`
	Count int64  `json:"count"`
}

// Stats aggregates the counters shown on monitoring dashboards.
type Stats struct {
	Total       int64 `json:"total"`
	Pending     int64 `json:"pending"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Allowed     int64 `json:"allowed"`
	Denied      int64 `json:"denied"`
	BotDetected int64 `json:"bot_detected"`
	Error       int64 `json:"error"`
	Last1h      int64 `json:"last_1h"`
	Last24h     int64 `json:"last_24h"`

	TopEventNames []EventNameCount `json:"top_event_names"`

	// PurchaseRevenue is the decimal sum of params.value across plaintext
	// purchase payloads. Encrypted payloads are skipped.
	PurchaseRevenue decimal.Decimal `json:"purchase_revenue"`
}

// EventStore is the durable record of events and the only shared mutable
// resource in the pipeline; intake, dispatch, and the monitor surface all
// coordinate through its status fields.
type EventStore interface {
	// Create inserts a new event record. Returns ErrInvalidEvent when the
	// record fails Validate.
	Create(ctx context.Context, event *v1.Event) error

	// UpdateQueueStatus transitions the queue status of the given ids in
	// bulk. Idempotent: re-applying the current status is a no-op success.
	// Completed sets processed_at; failed increments retry_count and
	// records errMsg. Returns the ids actually updated so partial bulk
	// failures are reportable.
	UpdateQueueStatus(ctx context.Context, ids []string, status v1.QueueStatus, errMsg string) ([]string, error)

	// SelectPendingBatch returns up to limit dispatchable records, oldest
	// first: pending records plus failed records whose retry_count is
	// still below retryCeiling.
	SelectPendingBatch(ctx context.Context, limit, retryCeiling int) ([]*v1.Event, error)

	// Query returns matching records plus the total match count for
	// pagination.
	Query(ctx context.Context, f Filter) ([]*v1.Event, int64, error)

	Stats(ctx context.Context) (*Stats, error)

	// Cleanup deletes records older than the cutoff, skipping any whose
	// event name is in preserveEventNames regardless of age.
	Cleanup(ctx context.Context, olderThanDays int, preserveEventNames []string) (int64, error)

	// DeleteAll wipes the table. confirm must equal DeleteAllConfirmation.
	DeleteAll(ctx context.Context, confirm string) (int64, error)
}
