package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/api/respond"
	notifsvc "github.com/aliskhannn/notification-dispatcher/internal/service/notification"
)

type metricsService interface {
	CollectMetrics(ctx context.Context) (notifsvc.Metrics, error)
}

// Check pings one dependency, returning an error when it is unhealthy.
type Check func(ctx context.Context) error

// Handler serves the metrics and health endpoints.
type Handler struct {
	service metricsService
	checks  map[string]Check
}

func NewHandler(svc metricsService, checks map[string]Check) *Handler {
	return &Handler{service: svc, checks: checks}
}

// MetricsResponse is the body of the metrics endpoint.
type MetricsResponse struct {
	Notifications notifsvc.Metrics `json:"notifications"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Metrics handles GET requests for notification outcome metrics.
func (h *Handler) Metrics(c *ginext.Context) {
	m, err := h.service.CollectMetrics(c.Request.Context())
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to collect metrics")
		respond.Fail(c.Writer, http.StatusInternalServerError, fmt.Errorf("internal server error"))
		return
	}

	respond.OK(c.Writer, MetricsResponse{Notifications: m, Timestamp: time.Now()})
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health handles GET requests reporting dependency health.
func (h *Handler) Health(c *ginext.Context) {
	resp := HealthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	code := http.StatusOK

	for name, check := range h.checks {
		if err := check(c.Request.Context()); err != nil {
			zlog.Logger.Error().Err(err).Str("check", name).Msg("health check failed")
			resp.Checks[name] = "error"
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}

		resp.Checks[name] = "ok"
	}

	respond.JSON(c.Writer, code, resp)
}
