package monitor

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	v1 "github.com/beacon-lab/project-beacon/internal/api/v1"
	httperr "github.com/beacon-lab/project-beacon/internal/core/errors"
	"github.com/beacon-lab/project-beacon/internal/core/storage"
	"github.com/beacon-lab/project-beacon/internal/dispatch"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Handler serves the monitoring surface: stats, event browsing, manual queue
// processing, and the two destructive maintenance operations.
type Handler struct {
	store     storage.EventStore
	processor *dispatch.Processor
}

func NewHandler(store storage.EventStore, processor *dispatch.Processor) *Handler {
	if store == nil {
		panic("monitor: store must not be nil")
	}
	if processor == nil {
		panic("monitor: processor must not be nil")
	}
	return &Handler{store: store, processor: processor}
}

// EventListResponse is the response body for GET /v1/monitor/events.
type EventListResponse struct {
	Events []*v1.Event `json:"events"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// RequeueRequest is the request body for POST /v1/monitor/queue/requeue.
type RequeueRequest struct {
	IDs []string `json:"ids"`
}

// RequeueResponse reports which records were reset to pending.
type RequeueResponse struct {
	Requeued []string `json:"requeued"`
}

// CleanupRequest is the request body for POST /v1/monitor/cleanup. Days <= 0
// falls back to the configured retention window.
type CleanupRequest struct {
	Days int `json:"days"`
}

// DeleteAllRequest is the request body for DELETE /v1/monitor/events.
type DeleteAllRequest struct {
	Confirm string `json:"confirm"`
}

// DeletedResponse reports how many records a maintenance operation removed.
type DeletedResponse struct {
	Deleted int64 `json:"deleted"`
}

// HandleStats handles GET /v1/monitor/stats.
func (h *Handler) HandleStats(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		slog.Error("[Monitor] Failed to compute stats", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageError,
			Message:   "Failed to compute event statistics",
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// HandleListEvents handles GET /v1/monitor/events.
func (h *Handler) HandleListEvents(c *gin.Context) {
	filter, ferr := filterFromQuery(c)
	if ferr != "" {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   ferr,
		})
		return
	}

	events, total, err := h.store.Query(c.Request.Context(), filter)
	if err != nil {
		slog.Error("[Monitor] Event query failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageError,
			Message:   "Failed to query events",
		})
		return
	}
	if events == nil {
		events = []*v1.Event{}
	}

	c.JSON(http.StatusOK, EventListResponse{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	})
}

// HandleProcessQueue handles POST /v1/monitor/queue/process: one manual
// dispatch run, serialized against scheduled runs through the same lock.
func (h *Handler) HandleProcessQueue(c *gin.Context) {
	result, err := h.processor.Run(c.Request.Context())
	if err != nil {
		slog.Error("[Monitor] Manual queue processing failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Queue processing failed",
			Details:   map[string]interface{}{"error": err.Error()},
		})
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleRequeue handles POST /v1/monitor/queue/requeue: an operator reset
// of failed records back to pending, clearing their error message. The next
// dispatch run picks them up regardless of retry count.
func (h *Handler) HandleRequeue(c *gin.Context) {
	var req RequeueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid requeue request body",
		})
		return
	}
	if len(req.IDs) == 0 {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpValidationError,
			Message:   "At least one event id is required",
		})
		return
	}

	requeued, err := h.store.UpdateQueueStatus(c.Request.Context(), req.IDs, v1.QueuePending, "")
	if err != nil {
		slog.Error("[Monitor] Requeue failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageError,
			Message:   "Failed to requeue events",
		})
		return
	}
	if requeued == nil {
		requeued = []string{}
	}

	slog.Info("[Monitor] Events requeued", "requested", len(req.IDs), "requeued", len(requeued))
	c.JSON(http.StatusOK, RequeueResponse{Requeued: requeued})
}

// HandleCleanup handles POST /v1/monitor/cleanup.
func (h *Handler) HandleCleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid cleanup request body",
		})
		return
	}

	deleted, err := h.processor.CleanupOldEvents(c.Request.Context(), req.Days)
	if err != nil {
		slog.Error("[Monitor] Cleanup failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageError,
			Message:   "Cleanup failed",
		})
		return
	}

	slog.Info("[Monitor] Cleanup completed", "deleted", deleted, "requested_days", req.Days)
	c.JSON(http.StatusOK, DeletedResponse{Deleted: deleted})
}

// HandleDeleteAll handles DELETE /v1/monitor/events. The literal
// confirmation token guards against an accidental full wipe.
func (h *Handler) HandleDeleteAll(c *gin.Context) {
	var req DeleteAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid delete request body",
		})
		return
	}

	deleted, err := h.store.DeleteAll(c.Request.Context(), req.Confirm)
	if err != nil {
		if err == storage.ErrConfirmationRequired {
			c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
				ErrorType: httperr.HttpBadConfirmError,
				Message:   "Confirmation token required to delete all events",
				Details:   map[string]interface{}{"expected": storage.DeleteAllConfirmation},
			})
			return
		}
		slog.Error("[Monitor] Delete all failed", "error", err)
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpStorageError,
			Message:   "Failed to delete events",
		})
		return
	}

	slog.Warn("[Monitor] All events deleted", "deleted", deleted)
	c.JSON(http.StatusOK, DeletedResponse{Deleted: deleted})
}

// RegisterRoutes registers the monitoring routes.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/monitor/stats", h.HandleStats)
	r.GET("/v1/monitor/events", h.HandleListEvents)
	r.POST("/v1/monitor/queue/process", h.HandleProcessQueue)
	r.POST("/v1/monitor/queue/requeue", h.HandleRequeue)
	r.POST("/v1/monitor/cleanup", h.HandleCleanup)
	r.DELETE("/v1/monitor/events", h.HandleDeleteAll)
}

// filterFromQuery parses the list-endpoint query string. Returns a non-empty
// message on the first invalid parameter.
func filterFromQuery(c *gin.Context) (storage.Filter, string) {
	var f storage.Filter

	if s := c.Query("monitor_status"); s != "" {
		status := v1.MonitorStatus(s)
		if !status.Valid() {
			return f, "invalid monitor_status value"
		}
		f.MonitorStatus = status
	}
	if s := c.Query("queue_status"); s != "" {
		status := v1.QueueStatus(s)
		if !status.Valid() {
			return f, "invalid queue_status value"
		}
		f.QueueStatus = status
	}
	f.EventName = c.Query("event_name")
	f.SearchText = c.Query("search")

	if s := c.Query("last_hours"); s != "" {
		hours, err := strconv.Atoi(s)
		if err != nil || hours < 0 {
			return f, "last_hours must be a non-negative integer"
		}
		f.LastHours = hours
	}
	if s := c.Query("from"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, "from must be an RFC 3339 timestamp"
		}
		f.From = ts
	}
	if s := c.Query("to"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return f, "to must be an RFC 3339 timestamp"
		}
		f.To = ts
	}

	f.Limit = defaultPageSize
	if s := c.Query("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return f, "limit must be a positive integer"
		}
		if limit > maxPageSize {
			limit = maxPageSize
		}
		f.Limit = limit
	}
	if s := c.Query("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return f, "offset must be a non-negative integer"
		}
		f.Offset = offset
	}

	return f, ""
}
