package v1

import (
	"fmt"
	"time"
)

// MonitorStatus classifies what happened to an inbound event at intake time.
type MonitorStatus string

const (
	MonitorAllowed     MonitorStatus = "allowed"
	MonitorDenied      MonitorStatus = "denied"
	MonitorBotDetected MonitorStatus = "bot_detected"
	MonitorError       MonitorStatus = "error"
)

// QueueStatus is the lifecycle state of an accepted event in the dispatch queue.
// Only events with MonitorAllowed ever carry a queue status; denied and bot
// records are never enqueued.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueCompleted QueueStatus = "completed"
	QueueFailed    QueueStatus = "failed"
)

// Valid reports whether s is one of the known monitor statuses.
func (s MonitorStatus) Valid() bool {
	switch s {
	case MonitorAllowed, MonitorDenied, MonitorBotDetected, MonitorError:
		return true
	}
	return false
}

// Valid reports whether s is one of the known queue statuses.
func (s QueueStatus) Valid() bool {
	switch s {
	case QueuePending, QueueCompleted, QueueFailed:
		return true
	}
	return false
}

// TransmissionMethod names the sink an event is (or would be) forwarded to.
type TransmissionMethod string

const (
	TransmissionCloudflare TransmissionMethod = "cloudflare"
	TransmissionGA4Direct  TransmissionMethod = "ga4_direct"
	TransmissionTestMode   TransmissionMethod = "test_mode"
)

// Event is the atomic unit of the system: one analytics event as recorded at
// intake. The payload is the full inbound event JSON (possibly ciphertext at
// rest); everything else is envelope bookkeeping for the queue.
type Event struct {
	// ID is assigned by the intake service at creation and is immutable.
	ID string `json:"id"`

	// Name is the analytics event name (e.g. "page_view", "purchase").
	// Required; intake rejects events with an empty name.
	Name string `json:"event_name"`

	// Payload is the canonical event JSON. When FinalPayloadEncrypted is
	// true this holds AES-GCM ciphertext rather than plaintext.
	Payload string `json:"payload"`

	// Headers is the allow-listed subset of the inbound request headers.
	// Sensitive headers (Authorization, Cookie) are never stored.
	Headers map[string]string `json:"headers,omitempty"`

	// ClientIP is the originating client address, first hop of
	// X-Forwarded-For when present.
	ClientIP string `json:"client_ip,omitempty"`

	MonitorStatus MonitorStatus `json:"monitor_status"`

	// QueueStatus is nil for records that were never enqueued.
	QueueStatus *QueueStatus `json:"queue_status,omitempty"`

	// RetryCount is incremented on every failed dispatch attempt.
	// It is monotonically non-decreasing for a given record.
	RetryCount int `json:"retry_count"`

	// ConsentGiven is the consent tri-state: true when both ad_user_data
	// and ad_personalization were GRANTED, false when either was DENIED,
	// nil when the submission carried no consent signals.
	ConsentGiven *bool `json:"consent_given,omitempty"`

	// WasOriginallyEncrypted records whether the inbound payload arrived
	// encrypted; FinalPayloadEncrypted whether it is encrypted at rest.
	WasOriginallyEncrypted bool `json:"was_originally_encrypted"`
	FinalPayloadEncrypted  bool `json:"final_payload_encrypted"`

	TransmissionMethod TransmissionMethod `json:"transmission_method"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`

	// ErrorMessage is populated when a dispatch attempt or intake step failed.
	ErrorMessage string `json:"error_message,omitempty"`
}

// Validate ensures the record satisfies the storage constraints.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}
	if e.Name == "" {
		return fmt.Errorf("event_name is required")
	}
	if e.MonitorStatus == "" {
		return fmt.Errorf("monitor_status is required")
	}
	if e.QueueStatus != nil && (e.MonitorStatus == MonitorDenied || e.MonitorStatus == MonitorBotDetected) {
		return fmt.Errorf("%s events must not carry a queue status", e.MonitorStatus)
	}
	return nil
}

// Enqueued reports whether the record is part of the dispatch queue.
func (e *Event) Enqueued() bool {
	return e.QueueStatus != nil
}

// QueueStatusPtr is a convenience for building records and filters.
func QueueStatusPtr(s QueueStatus) *QueueStatus { return &s }

// BoolPtr is a convenience for the consent tri-state.
func BoolPtr(b bool) *bool { return &b }
