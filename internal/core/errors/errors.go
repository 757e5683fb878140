package errors

const (
	HttpInternalError    = "internal_error"
	HttpInvalidJsonError = "invalid_json"
	HttpValidationError  = "validation_failed"
	HttpBotDetectedError = "bot_detected"
	HttpRateLimitedError = "rate_limited"
	HttpStorageError     = "storage_failed"
	HttpBadConfirmError  = "confirmation_required"
)

// ErrorResponse is the error response body for intake and monitor errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
