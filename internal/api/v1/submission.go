package v1

import "encoding/json"

// Consent mode signal values as sent by client-side consent managers.
const (
	ConsentGranted = "GRANTED"
	ConsentDenied  = "DENIED"
)

// Consent carries the consent-mode signals attached to a submission.
type Consent struct {
	AdUserData        string `json:"ad_user_data,omitempty"`
	AdPersonalization string `json:"ad_personalization,omitempty"`
}

// Given derives the consent tri-state: true only when both signals are
// GRANTED, false when either is DENIED, nil when the signals are absent
// or unrecognized.
func (c *Consent) Given() *bool {
	if c == nil {
		return nil
	}
	if c.AdUserData == ConsentDenied || c.AdPersonalization == ConsentDenied {
		return BoolPtr(false)
	}
	if c.AdUserData == ConsentGranted && c.AdPersonalization == ConsentGranted {
		return BoolPtr(true)
	}
	return nil
}

// SubmittedEvent is one analytics event as it appears inside a submission.
type SubmittedEvent struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// SubmissionKind tags which of the three accepted wire shapes a submission
// used: the single-event envelope, the multi-event batch envelope, or the
// legacy flat shape with event fields at the root.
type SubmissionKind string

const (
	SubmissionSingle SubmissionKind = "single"
	SubmissionBatch  SubmissionKind = "batch"
	SubmissionLegacy SubmissionKind = "legacy"
)

// Submission is the normalized view of an inbound request body. All three
// wire shapes decode into it; business logic only ever sees Events.
type Submission struct {
	Kind    SubmissionKind
	Events  []SubmittedEvent
	Consent *Consent
}

// submissionEnvelope mirrors the raw wire fields of all three shapes so a
// single decode pass can classify the submission.
type submissionEnvelope struct {
	Event   *SubmittedEvent        `json:"event,omitempty"`
	Events  []SubmittedEvent       `json:"events,omitempty"`
	Batch   bool                   `json:"batch,omitempty"`
	Consent *Consent               `json:"consent,omitempty"`
	Name    string                 `json:"name,omitempty"`
	Params  map[string]interface{} `json:"params,omitempty"`
}

// IntakeResponse is the synchronous result returned to intake callers.
type IntakeResponse struct {
	Success      bool   `json:"success"`
	EventsQueued int    `json:"events_queued"`
	EventsFailed int    `json:"events_failed"`
	Message      string `json:"message,omitempty"`
}

// ParseSubmission decodes a request body into a tagged Submission.
// Classification precedence: explicit batch envelope, then single-event
// envelope, then the legacy flat shape. Returns ok=false when the body is
// valid JSON but matches none of the shapes.
func ParseSubmission(body []byte) (*Submission, bool) {
	var env submissionEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, false
	}

	switch {
	case env.Batch || env.Events != nil:
		return &Submission{Kind: SubmissionBatch, Events: env.Events, Consent: env.Consent}, true
	case env.Event != nil:
		return &Submission{Kind: SubmissionSingle, Events: []SubmittedEvent{*env.Event}, Consent: env.Consent}, true
	case env.Name != "":
		legacy := SubmittedEvent{Name: env.Name, Params: env.Params}
		return &Submission{Kind: SubmissionLegacy, Events: []SubmittedEvent{legacy}, Consent: env.Consent}, true
	default:
		return nil, false
	}
}
