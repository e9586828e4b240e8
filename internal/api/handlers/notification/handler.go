package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/respond"
	"github.com/aliskhannn/notification-dispatcher/internal/config"
	"github.com/aliskhannn/notification-dispatcher/internal/middlewares"
	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/ratelimit"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
	notifsvc "github.com/aliskhannn/notification-dispatcher/internal/service/notification"
)

// notificationService defines the interface that the Handler depends on.
//
//go:generate mockgen -source=handler.go -destination=../../../mocks/api/handlers/notification/mock.go -package=mocks
type notificationService interface {
	CreateNotification(ctx context.Context, strategy retry.Strategy, in notifsvc.CreateInput) (model.Notification, error)
	CreateBatch(ctx context.Context, strategy retry.Strategy, items []notifsvc.CreateInput, correlationID string) (notifsvc.BatchResult, error)
	GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error)
	ListNotifications(ctx context.Context, f notifrepo.Filter) ([]model.Notification, int, error)
	CancelNotification(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error)
}

// Handler handles HTTP requests related to notifications.
type Handler struct {
	service   notificationService
	validator *validator.Validate
	cfg       *config.Config
}

// NewHandler creates a new Handler instance.
func NewHandler(
	s notificationService,
	v *validator.Validate,
	cfg *config.Config,
) *Handler {
	return &Handler{service: s, validator: v, cfg: cfg}
}

// CreateRequest represents the JSON body of a notification creation request.
type CreateRequest struct {
	To             string `json:"to" validate:"required,max=255"`
	Channel        string `json:"channel" validate:"required"`
	Content        string `json:"content" validate:"required"`
	Priority       string `json:"priority"`
	IdempotencyKey string `json:"idempotency_key" validate:"omitempty,max=128"`
	ScheduledAt    string `json:"scheduled_at"`
}

// toInput validates the channel-dependent fields and converts the request into
// a service input. Content length bounds depend on the channel, so they cannot
// be expressed as a static validator tag.
func (r CreateRequest) toInput(now time.Time) (notifsvc.CreateInput, error) {
	channel := model.Channel(r.Channel)
	if !channel.IsValid() {
		return notifsvc.CreateInput{}, fmt.Errorf("channel must be one of sms, email, push")
	}

	if len(r.Content) > channel.MaxContentLen() {
		return notifsvc.CreateInput{}, fmt.Errorf("content exceeds %d characters for channel %s", channel.MaxContentLen(), channel)
	}

	priority := model.PriorityNormal
	if r.Priority != "" {
		priority = model.Priority(r.Priority)
		if !priority.IsValid() {
			return notifsvc.CreateInput{}, fmt.Errorf("priority must be one of high, normal, low")
		}
	}

	in := notifsvc.CreateInput{
		To:             r.To,
		Channel:        channel,
		Content:        r.Content,
		Priority:       priority,
		IdempotencyKey: r.IdempotencyKey,
	}

	if r.ScheduledAt != "" {
		scheduledAt, err := time.Parse(time.RFC3339, r.ScheduledAt)
		if err != nil {
			return notifsvc.CreateInput{}, fmt.Errorf("invalid scheduled_at format, expected RFC3339")
		}
		if !scheduledAt.After(now) {
			return notifsvc.CreateInput{}, fmt.Errorf("scheduled_at must be in the future")
		}

		in.ScheduledAt = &scheduledAt
	}

	return in, nil
}

// CreateResponse is the body returned for an accepted creation request.
type CreateResponse struct {
	ID        uuid.UUID    `json:"id"`
	BatchID   *uuid.UUID   `json:"batch_id"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// Create handles POST requests to create a new notification.
//
// The request is accepted with 202 and delivered asynchronously; delivery-time
// failures are observable only through the notification's status.
func (h *Handler) Create(c *ginext.Context) {
	var req CreateRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusUnprocessableEntity, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	in, err := req.toInput(time.Now())
	if err != nil {
		zlog.Logger.Warn().Err(err).Msg("invalid create request")
		respond.Fail(c.Writer, http.StatusUnprocessableEntity, err)
		return
	}

	in.TraceID = c.GetString(middlewares.ContextKeyCorrelationID)

	n, err := h.service.CreateNotification(c.Request.Context(), h.cfg.Retry, in)
	if err != nil {
		var limitErr *ratelimit.LimitExceededError
		if errors.As(err, &limitErr) {
			respond.Fail(c.Writer, http.StatusTooManyRequests, limitErr)
			return
		}

		zlog.Logger.Error().Err(err).Str("to", in.To).Msg("failed to create notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.Accepted(c.Writer, CreateResponse{
		ID:        n.ID,
		BatchID:   n.BatchID,
		Status:    n.Status,
		CreatedAt: n.CreatedAt,
	})
}

// BatchRequest represents the JSON body of a batch creation request.
type BatchRequest struct {
	Notifications []CreateRequest `json:"notifications" validate:"required,min=1,max=1000"`
}

// BatchItemResponse is one member of a batch creation response.
type BatchItemResponse struct {
	ID        uuid.UUID    `json:"id"`
	Status    model.Status `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// BatchResponse is the body returned for an accepted batch request.
type BatchResponse struct {
	BatchID       uuid.UUID           `json:"batch_id"`
	Count         int                 `json:"count"`
	Notifications []BatchItemResponse `json:"notifications"`
}

// CreateBatch handles POST requests to create a cohort of notifications
// sharing one batch identifier. The batch is all-or-nothing: an oversized
// batch or any over-limit channel rejects it with zero rows persisted.
func (h *Handler) CreateBatch(c *ginext.Context) {
	var req BatchRequest

	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to decode request body")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid request body"))
		return
	}

	if err := h.validator.Struct(req); err != nil {
		zlog.Logger.Warn().Err(err).Msg("failed to validate request body")
		respond.Fail(c.Writer, http.StatusUnprocessableEntity, fmt.Errorf("validation error: %s", err.Error()))
		return
	}

	now := time.Now()
	items := make([]notifsvc.CreateInput, 0, len(req.Notifications))

	for i, item := range req.Notifications {
		if err := h.validator.Struct(item); err != nil {
			respond.Fail(c.Writer, http.StatusUnprocessableEntity, fmt.Errorf("notifications[%d]: validation error: %s", i, err.Error()))
			return
		}

		in, err := item.toInput(now)
		if err != nil {
			respond.Fail(c.Writer, http.StatusUnprocessableEntity, fmt.Errorf("notifications[%d]: %s", i, err.Error()))
			return
		}

		items = append(items, in)
	}

	correlationID := c.GetString(middlewares.ContextKeyCorrelationID)

	result, err := h.service.CreateBatch(c.Request.Context(), h.cfg.Retry, items, correlationID)
	if err != nil {
		if errors.Is(err, notifsvc.ErrBatchTooLarge) {
			respond.Fail(c.Writer, http.StatusUnprocessableEntity, err)
			return
		}

		var limitErr *ratelimit.LimitExceededError
		if errors.As(err, &limitErr) {
			respond.Fail(c.Writer, http.StatusTooManyRequests, limitErr)
			return
		}

		zlog.Logger.Error().Err(err).Int("count", len(items)).Msg("failed to create batch")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	members := make([]BatchItemResponse, 0, len(result.Notifications))
	for _, n := range result.Notifications {
		members = append(members, BatchItemResponse{ID: n.ID, Status: n.Status, CreatedAt: n.CreatedAt})
	}

	respond.Accepted(c.Writer, BatchResponse{
		BatchID:       result.BatchID,
		Count:         len(members),
		Notifications: members,
	})
}

// GetByID handles GET requests for a single notification.
func (h *Handler) GetByID(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", c.Param("id")).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	n, err := h.service.GetNotificationByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found"))
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to get notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, n)
}

// ListResponse is the paginated body of a list request.
type ListResponse struct {
	Data []model.Notification `json:"data"`
	Meta ListMeta             `json:"meta"`
}

// ListMeta carries pagination details.
type ListMeta struct {
	CurrentPage int `json:"current_page"`
	LastPage    int `json:"last_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
}

// List handles GET requests for a filtered, paginated notification listing.
//
// Supported filters: batch_id, status (repeatable), channel, from/to creation
// time bounds (RFC3339). Pagination via page and per_page (default 15, max 100).
func (h *Handler) List(c *ginext.Context) {
	var f notifrepo.Filter

	if v := c.Query("batch_id"); v != "" {
		batchID, err := uuid.Parse(v)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid batch_id"))
			return
		}
		f.BatchID = &batchID
	}

	for _, v := range c.QueryArray("status") {
		f.Statuses = append(f.Statuses, model.Status(v))
	}

	if v := c.Query("channel"); v != "" {
		f.Channel = model.Channel(v)
	}

	if v := c.Query("from"); v != "" {
		from, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid from, expected RFC3339"))
			return
		}
		f.From = &from
	}

	if v := c.Query("to"); v != "" {
		to, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid to, expected RFC3339"))
			return
		}
		f.To = &to
	}

	f.Page = atoiDefault(c.Query("page"), 1)
	f.PerPage = atoiDefault(c.Query("per_page"), 15)

	notifications, total, err := h.service.ListNotifications(c.Request.Context(), f)
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to list notifications")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	perPage := f.PerPage
	if perPage < 1 {
		perPage = 15
	}
	if perPage > 100 {
		perPage = 100
	}

	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	if notifications == nil {
		notifications = []model.Notification{}
	}

	respond.OK(c.Writer, ListResponse{
		Data: notifications,
		Meta: ListMeta{
			CurrentPage: f.Page,
			LastPage:    lastPage,
			PerPage:     perPage,
			Total:       total,
		},
	})
}

// CancelResponse is the body returned for a successful cancellation.
type CancelResponse struct {
	ID     uuid.UUID    `json:"id"`
	Status model.Status `json:"status"`
}

// Cancel handles DELETE requests to cancel a pending notification.
//
// A notification that is unknown or no longer pending is reported as not found.
func (h *Handler) Cancel(c *ginext.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		zlog.Logger.Warn().Err(err).Str("id", c.Param("id")).Msg("failed to parse id")
		respond.Fail(c.Writer, http.StatusBadRequest, fmt.Errorf("invalid id"))
		return
	}

	n, err := h.service.CancelNotification(c.Request.Context(), h.cfg.Retry, id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			respond.Fail(c.Writer, http.StatusNotFound, fmt.Errorf("notification not found or cannot be cancelled"))
			return
		}

		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cancel notification")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, CancelResponse{ID: n.ID, Status: n.Status})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}

	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}

	return n
}
