package notification

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
	notifsvc "github.com/aliskhannn/notification-dispatcher/internal/service/notification"
)

// retryDelay is the pause before re-attempting a transiently failed delivery.
const retryDelay = 5 * time.Second

//go:generate mockgen -source=handler.go -destination=../../../mocks/rabbitmq/handlers/notification/mock.go -package=mocks
type deliveryService interface {
	Attempt(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error
}

type taskRequeuer interface {
	PublishRetry(task queue.DeliveryTask, strategy retry.Strategy) error
}

// Handler consumes delivery tasks and applies the retry/backoff policy by
// re-enqueuing tasks the service reports as retryable.
type Handler struct {
	service deliveryService
	queue   taskRequeuer
}

func NewHandler(svc deliveryService, q taskRequeuer) *Handler {
	return &Handler{
		service: svc,
		queue:   q,
	}
}

func (h *Handler) HandleTask(ctx context.Context, task queue.DeliveryTask, strategy retry.Strategy) {
	// Tasks surfacing before their activation time are parked for another
	// retry-queue cycle.
	if !task.NotBefore.IsZero() && time.Now().Before(task.NotBefore) {
		if err := h.queue.PublishRetry(task, strategy); err != nil {
			zlog.Logger.Error().Err(err).Str("id", task.NotificationID.String()).Msg("failed to park scheduled task")
		}
		return
	}

	err := h.service.Attempt(ctx, strategy, task.NotificationID)
	if err == nil {
		return
	}

	var retryLater *notifsvc.RetryLaterError
	if errors.As(err, &retryLater) {
		task.NotBefore = time.Now().Add(retryLater.Cooldown)
		if pubErr := h.queue.PublishRetry(task, strategy); pubErr != nil {
			zlog.Logger.Error().Err(pubErr).Str("id", task.NotificationID.String()).Msg("failed to re-enqueue rate limited task")
		}
		return
	}

	var retryable *notifsvc.RetryableError
	if errors.As(err, &retryable) {
		task.NotBefore = time.Now().Add(retryDelay)
		if pubErr := h.queue.PublishRetry(task, strategy); pubErr != nil {
			zlog.Logger.Error().Err(pubErr).Str("id", task.NotificationID.String()).Msg("failed to re-enqueue failed task")
		}
		return
	}

	zlog.Logger.Error().Err(err).Str("id", task.NotificationID.String()).Msg("delivery task failed")
}
