package intake

import (
	"io"
	"log/slog"
	"net/http"

	httperr "github.com/beacon-lab/project-beacon/internal/core/errors"
	"github.com/gin-gonic/gin"
)

// CollectHandler handles HTTP POST requests for event submission.
func (s *Service) CollectHandler(c *gin.Context) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	body, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("[Intake] Failed to read request body", "error", err)
		writeError(c, &intakeError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    "Failed to read request body",
		})
		return
	}

	if int64(len(body)) > maxBytes {
		slog.Warn("[Intake] Request body exceeds maximum size", "size", len(body), "max", maxBytes)
		writeError(c, &intakeError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		})
		return
	}

	resp, ierr := s.Process(c.Request.Context(), body, c.Request.Header, c.Request.RemoteAddr)
	if ierr != nil {
		writeError(c, ierr)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the intake service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/collect", s.CollectHandler)

	// Compatibility alias for clients posting to the generic events path.
	r.POST("/v1/events", s.CollectHandler)
}

// writeError serializes an intakeError as the JSON HTTP response.
func writeError(c *gin.Context, err *intakeError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
