package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
	"github.com/aliskhannn/notification-dispatcher/pkg/provider"
)

const (
	// MaxRetries is the maximum number of counted delivery attempts before a
	// notification is marked failed.
	MaxRetries = 4

	// MaxBatchSize is the largest batch createBatch accepts.
	MaxBatchSize = 1000
)

// ErrBatchTooLarge reports a batch exceeding MaxBatchSize. No item is persisted.
var ErrBatchTooLarge = fmt.Errorf("batch size cannot exceed %d", MaxBatchSize)

//go:generate mockgen -source=service.go -destination=../../mocks/service/notification/mock.go -package=mocks

type notificationRepository interface {
	CreateNotification(context.Context, model.Notification) (model.Notification, error)
	GetNotificationByID(context.Context, uuid.UUID) (model.Notification, error)
	GetNotificationByIdempotencyKey(context.Context, string) (model.Notification, error)
	UpdateStatusIfActive(context.Context, uuid.UUID, model.Status) error
	CancelNotification(context.Context, uuid.UUID) (model.Notification, error)
	MarkSent(context.Context, uuid.UUID, string, time.Time) error
	IncrementRetry(context.Context, uuid.UUID, int) (int, error)
	ListNotifications(context.Context, notifrepo.Filter) ([]model.Notification, int, error)
	CountByStatus(context.Context) (map[model.Status]int, error)
	AvgSendLatency(context.Context, time.Time) (sql.NullFloat64, error)
}

type taskPublisher interface {
	Publish(task queue.DeliveryTask, strategy retry.Strategy) error
	PublishRetry(task queue.DeliveryTask, strategy retry.Strategy) error
}

type admissionLimiter interface {
	Admit(ctx context.Context, counts map[model.Channel]int) error
}

type deliverer interface {
	Deliver(ctx context.Context, to, channel, content string) (*provider.Acceptance, error)
}

type cache interface {
	SetWithRetry(ctx context.Context, strategy retry.Strategy, key string, value interface{}) error
}

// Service implements the dispatch engine: idempotent creation, per-channel
// admission, batch orchestration, cancellation and the delivery state machine.
type Service struct {
	repo     notificationRepository
	queue    taskPublisher
	limiter  admissionLimiter
	provider deliverer
	cache    cache
}

func NewService(
	repo notificationRepository,
	queue taskPublisher,
	limiter admissionLimiter,
	provider deliverer,
	cache cache,
) *Service {
	return &Service{repo: repo, queue: queue, limiter: limiter, provider: provider, cache: cache}
}

// CreateInput carries the fields of one creation request.
type CreateInput struct {
	To             string
	Channel        model.Channel
	Content        string
	Priority       model.Priority
	IdempotencyKey string
	ScheduledAt    *time.Time
	BatchID        *uuid.UUID
	TraceID        string
}

// CreateNotification runs the single-create path: idempotency guard, rate-limit
// admission, persistence as pending, enqueue into the priority partition.
//
// A duplicate idempotency key returns the existing record verbatim without
// consuming rate-limit budget or enqueuing a second task.
func (s *Service) CreateNotification(ctx context.Context, strategy retry.Strategy, in CreateInput) (model.Notification, error) {
	if in.IdempotencyKey != "" {
		existing, err := s.repo.GetNotificationByIdempotencyKey(ctx, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, notifrepo.ErrNotificationNotFound) {
			return model.Notification{}, fmt.Errorf("idempotency lookup: %w", err)
		}
	}

	if err := s.limiter.Admit(ctx, map[model.Channel]int{in.Channel: 1}); err != nil {
		return model.Notification{}, err
	}

	return s.createAdmitted(ctx, strategy, in)
}

// BatchResult is the outcome of one batch call.
type BatchResult struct {
	BatchID       uuid.UUID
	Notifications []model.Notification
}

// CreateBatch creates a cohort of notifications sharing one batch identifier.
//
// The whole batch passes per-channel admission before any item is persisted;
// any over-limit channel rejects the entire batch with zero rows written.
func (s *Service) CreateBatch(ctx context.Context, strategy retry.Strategy, items []CreateInput, correlationID string) (BatchResult, error) {
	if len(items) > MaxBatchSize {
		return BatchResult{}, ErrBatchTooLarge
	}

	counts := make(map[model.Channel]int)
	for _, item := range items {
		counts[item.Channel]++
	}

	if err := s.limiter.Admit(ctx, counts); err != nil {
		return BatchResult{}, err
	}

	batchID := uuid.New()
	notifications := make([]model.Notification, 0, len(items))

	for _, item := range items {
		item.BatchID = &batchID
		item.TraceID = correlationID

		if item.IdempotencyKey != "" {
			existing, err := s.repo.GetNotificationByIdempotencyKey(ctx, item.IdempotencyKey)
			if err == nil {
				notifications = append(notifications, existing)
				continue
			}
			if !errors.Is(err, notifrepo.ErrNotificationNotFound) {
				return BatchResult{}, fmt.Errorf("idempotency lookup: %w", err)
			}
		}

		created, err := s.createAdmitted(ctx, strategy, item)
		if err != nil {
			return BatchResult{}, err
		}

		notifications = append(notifications, created)
	}

	return BatchResult{BatchID: batchID, Notifications: notifications}, nil
}

// createAdmitted persists an already-admitted notification and enqueues its
// delivery task.
func (s *Service) createAdmitted(ctx context.Context, strategy retry.Strategy, in CreateInput) (model.Notification, error) {
	n := model.Notification{
		ID:             uuid.New(),
		BatchID:        in.BatchID,
		Recipient:      in.To,
		Channel:        in.Channel,
		Content:        in.Content,
		Priority:       in.Priority,
		Status:         model.StatusPending,
		IdempotencyKey: in.IdempotencyKey,
		ScheduledAt:    in.ScheduledAt,
		TraceID:        in.TraceID,
	}

	if n.Priority == "" {
		n.Priority = model.PriorityNormal
	}

	created, err := s.repo.CreateNotification(ctx, n)
	if err != nil {
		// A concurrent duplicate won the insert race: the uniqueness constraint
		// converged both requests onto one row.
		if errors.Is(err, notifrepo.ErrIdempotencyConflict) && in.IdempotencyKey != "" {
			existing, getErr := s.repo.GetNotificationByIdempotencyKey(ctx, in.IdempotencyKey)
			if getErr != nil {
				return model.Notification{}, fmt.Errorf("idempotency lookup after conflict: %w", getErr)
			}

			return existing, nil
		}

		return model.Notification{}, fmt.Errorf("create notification: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, created.ID.String(), string(created.Status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", created.ID.String()).Msg("failed to cache notification status")
	}

	task := queue.DeliveryTask{
		NotificationID: created.ID,
		Priority:       created.Priority,
		TraceID:        created.TraceID,
	}
	if created.ScheduledAt != nil {
		task.NotBefore = *created.ScheduledAt
	}

	if err := s.queue.Publish(task, strategy); err != nil {
		zlog.Logger.Error().Err(err).Str("id", created.ID.String()).Msg("failed to publish delivery task")
	}

	return created, nil
}

// GetNotificationByID retrieves a single notification.
func (s *Service) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("get notification: %w", err)
	}

	return n, nil
}

// ListNotifications retrieves notifications matching the filter with pagination.
func (s *Service) ListNotifications(ctx context.Context, f notifrepo.Filter) ([]model.Notification, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 15
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}

	notifications, total, err := s.repo.ListNotifications(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}

	return notifications, total, nil
}

// CancelNotification cancels a pending notification. A notification in any
// other status, or an unknown id, is reported as not found.
func (s *Service) CancelNotification(ctx context.Context, strategy retry.Strategy, id uuid.UUID) (model.Notification, error) {
	n, err := s.repo.CancelNotification(ctx, id)
	if err != nil {
		return model.Notification{}, fmt.Errorf("cancel notification: %w", err)
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(model.StatusCancelled)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}

	return n, nil
}

// Metrics summarizes notification outcomes for the observability endpoint.
type Metrics struct {
	Total                 int                  `json:"total"`
	ByStatus              map[model.Status]int `json:"by_status"`
	SuccessRatePercent    *float64             `json:"success_rate_percent"`
	FailureRatePercent    *float64             `json:"failure_rate_percent"`
	AvgSendLatencySeconds *float64             `json:"avg_send_latency_seconds"`
}

// CollectMetrics gathers status counts, success/failure rates over terminal
// outcomes and the average send latency over the last 24 hours.
func (s *Service) CollectMetrics(ctx context.Context) (Metrics, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("count by status: %w", err)
	}

	m := Metrics{ByStatus: counts}
	for _, c := range counts {
		m.Total += c
	}

	completed := counts[model.StatusSent] + counts[model.StatusFailed] + counts[model.StatusCancelled]
	if completed > 0 {
		success := round2(float64(counts[model.StatusSent]) / float64(completed) * 100)
		failure := round2(float64(counts[model.StatusFailed]) / float64(completed) * 100)
		m.SuccessRatePercent = &success
		m.FailureRatePercent = &failure
	}

	latency, err := s.repo.AvgSendLatency(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to get average send latency")
	} else if latency.Valid {
		avg := round2(latency.Float64)
		m.AvgSendLatencySeconds = &avg
	}

	return m, nil
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
