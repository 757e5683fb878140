package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	"github.com/beacon-lab/project-beacon/internal/core/config"
	"github.com/beacon-lab/project-beacon/internal/core/crypto"
	httperr "github.com/beacon-lab/project-beacon/internal/core/errors"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest = "Invalid request data"
	msgEmptyEvents    = "Empty events array"
	msgBotBlocked     = "Request blocked"
	msgRateLimited    = "Rate limit exceeded"
	msgStorageFailed  = "Failed to store events"
)

// intakeError carries the structured HTTP error shape from a pipeline step
// back to the handler. Steps return this instead of writing to gin.Context
// directly, keeping them decoupled from HTTP.
type intakeError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *intakeError) Error() string {
	return e.message
}

// Service validates, classifies, and enqueues inbound analytics events.
type Service struct {
	store            storage.EventStore
	settings         config.Provider
	bots             *BotDetector
	limiter          *RateLimiter
	maxBodySizeBytes int
}

// NewService wires the intake pipeline. The rate limiter is seeded from the
// current settings and re-tuned on every submission so threshold edits take
// effect without a restart.
func NewService(store storage.EventStore, settings config.Provider, bots *BotDetector, maxBodySizeMB int) *Service {
	if store == nil {
		panic("intake: store must not be nil")
	}
	if settings == nil {
		panic("intake: settings provider must not be nil")
	}
	if bots == nil {
		panic("intake: bot detector must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1
	}
	return &Service{
		store:            store,
		settings:         settings,
		bots:             bots,
		limiter:          NewRateLimiter(settings.Pipeline().RateLimitPerMinute),
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// Process runs the full intake pipeline for one request body:
// parse/validate, rate limit, bot detection, consent evaluation, header
// filtering, optional encryption at rest, then storage as allowed+pending.
func (s *Service) Process(ctx context.Context, body []byte, headers http.Header, remoteAddr string) (*v1.IntakeResponse, *intakeError) {
	settings := s.settings.Pipeline()
	s.limiter.SetLimit(settings.RateLimitPerMinute)

	clientIP := clientIPFrom(headers, remoteAddr)
	filteredHeaders := filterHeaders(headers)
	wasEncrypted := inboundEncrypted(headers, body)

	var cipher *crypto.PayloadCipher
	if settings.EncryptionEnabled {
		var err error
		cipher, err = crypto.NewPayloadCipher(settings.EncryptionKey)
		if err != nil {
			// Fail open to plaintext storage rather than dropping events.
			slog.Error("[Intake] Encryption unavailable, storing plaintext", "error", err)
			cipher = nil
		}
	}

	// Inbound-encrypted bodies are decrypted with the shared key before
	// parsing. A body we cannot decrypt falls through to shape validation,
	// which rejects it like any other unparseable payload.
	if wasEncrypted && cipher != nil {
		if plain, err := cipher.Decrypt(strings.TrimSpace(string(body))); err == nil {
			body = []byte(plain)
		} else {
			slog.Warn("[Intake] Failed to decrypt inbound payload", "client_ip", clientIP, "error", err)
		}
	}

	sub, ierr := parseAndValidate(body)
	if ierr != nil {
		if settings.VerboseLogging {
			s.recordRejection(ctx, settings, "_invalid", string(body), filteredHeaders, clientIP, v1.MonitorError, ierr.message)
		}
		return nil, ierr
	}

	if !s.limiter.Allow(clientIP) {
		slog.Warn("[Intake] Rate limit exceeded", "client_ip", clientIP, "limit_per_minute", settings.RateLimitPerMinute)
		s.recordRejection(ctx, settings, sub.Events[0].Name, string(body), filteredHeaders, clientIP, v1.MonitorError, msgRateLimited)
		return nil, &intakeError{
			statusCode: http.StatusTooManyRequests,
			errorType:  httperr.HttpRateLimitedError,
			message:    msgRateLimited,
		}
	}

	if userAgent := headers.Get("User-Agent"); s.bots.IsBot(userAgent) {
		slog.Info("[Intake] Bot detected", "client_ip", clientIP, "user_agent", userAgent)
		for _, evt := range sub.Events {
			payload, _ := json.Marshal(evt)
			s.recordRejection(ctx, settings, evt.Name, string(payload), filteredHeaders, clientIP, v1.MonitorBotDetected, "Bot user agent: "+userAgent)
		}
		return nil, &intakeError{
			statusCode: http.StatusForbidden,
			errorType:  httperr.HttpBotDetectedError,
			message:    msgBotBlocked,
		}
	}

	consent := sub.Consent.Given()

	queued, failed := 0, 0
	for _, evt := range sub.Events {
		record, err := s.buildRecord(evt, settings, cipher, consent, filteredHeaders, clientIP, wasEncrypted)
		if err == nil {
			err = s.store.Create(ctx, record)
		}
		if err != nil {
			slog.Error("[Intake] Failed to store event", "event_name", evt.Name, "error", err)
			failed++
			continue
		}
		queued++
	}

	if queued == 0 && failed > 0 {
		return nil, &intakeError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpStorageError,
			message:    msgStorageFailed,
		}
	}

	slog.Info("[Intake] Submission accepted",
		"kind", sub.Kind,
		"events_queued", queued,
		"events_failed", failed,
		"client_ip", clientIP)

	return &v1.IntakeResponse{
		Success:      true,
		EventsQueued: queued,
		EventsFailed: failed,
		Message:      fmt.Sprintf("Queued %d event(s)", queued),
	}, nil
}

// parseAndValidate decodes the body into a tagged submission and applies the
// shape rules: non-empty payload, non-empty batch, named events.
func parseAndValidate(body []byte) (*v1.Submission, *intakeError) {
	invalid := &intakeError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpValidationError,
		message:    msgInvalidRequest,
	}

	if len(body) == 0 {
		return nil, invalid
	}
	sub, ok := v1.ParseSubmission(body)
	if !ok {
		return nil, invalid
	}

	if sub.Kind == v1.SubmissionBatch && len(sub.Events) == 0 {
		return nil, &intakeError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpValidationError,
			message:    msgEmptyEvents,
		}
	}

	for i, evt := range sub.Events {
		if evt.Name == "" {
			return nil, &intakeError{
				statusCode: http.StatusBadRequest,
				errorType:  httperr.HttpValidationError,
				message:    fmt.Sprintf("Missing event name at index %d", i),
				details:    map[string]interface{}{"index": i},
			}
		}
	}

	return sub, nil
}

// buildRecord turns one submitted event into the canonical stored record
// with monitor_status=allowed and queue_status=pending.
func (s *Service) buildRecord(
	evt v1.SubmittedEvent,
	settings config.PipelineConfig,
	cipher *crypto.PayloadCipher,
	consent *bool,
	headers map[string]string,
	clientIP string,
	wasEncrypted bool,
) (*v1.Event, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	stored := string(payload)
	finalEncrypted := false
	if cipher != nil {
		sealed, err := cipher.Encrypt(stored)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt payload: %w", err)
		}
		stored = sealed
		finalEncrypted = true
	}

	return &v1.Event{
		ID:                     uuid.NewString(),
		Name:                   evt.Name,
		Payload:                stored,
		Headers:                headers,
		ClientIP:               clientIP,
		MonitorStatus:          v1.MonitorAllowed,
		QueueStatus:            v1.QueueStatusPtr(v1.QueuePending),
		ConsentGiven:           consent,
		WasOriginallyEncrypted: wasEncrypted,
		FinalPayloadEncrypted:  finalEncrypted,
		TransmissionMethod:     settings.Method(),
		CreatedAt:              time.Now().UTC(),
	}, nil
}

// recordRejection best-effort stores a non-queued record for the monitor
// surface. Storage failures here are logged, never surfaced: the rejection
// response to the caller matters more than its audit row.
func (s *Service) recordRejection(
	ctx context.Context,
	settings config.PipelineConfig,
	name, payload string,
	headers map[string]string,
	clientIP string,
	status v1.MonitorStatus,
	errMsg string,
) {
	record := &v1.Event{
		ID:                 uuid.NewString(),
		Name:               name,
		Payload:            payload,
		Headers:            headers,
		ClientIP:           clientIP,
		MonitorStatus:      status,
		TransmissionMethod: settings.Method(),
		CreatedAt:          time.Now().UTC(),
		ErrorMessage:       errMsg,
	}
	if err := s.store.Create(ctx, record); err != nil {
		slog.Error("[Intake] Failed to record rejection", "monitor_status", status, "error", err)
	}
}
