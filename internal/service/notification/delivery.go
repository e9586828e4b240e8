package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"
	"github.com/aliskhannn/notification-dispatcher/pkg/provider"
)

// cooldown429 is the backoff ladder applied after a provider rate-limit signal
// without a retry-after hint, indexed by the current retry count.
var cooldown429 = []time.Duration{
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
	15 * time.Second,
}

// RetryLaterError asks the caller to re-enqueue the task after the cooldown.
// The attempt is not counted toward the retry budget.
type RetryLaterError struct {
	Cooldown time.Duration
}

func (e *RetryLaterError) Error() string {
	return fmt.Sprintf("provider rate limited, retry in %s", e.Cooldown)
}

// RetryableError asks the caller to re-enqueue the task for another counted
// attempt after a transient failure.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("delivery attempt failed: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Attempt executes one delivery attempt for a notification.
//
// It re-reads the record first, so a concurrent cancel or a duplicate task for
// an already-terminal notification is a safe no-op. A nil return means the
// notification reached a terminal outcome or needs no further work; the two
// retry error types tell the caller how to re-enqueue.
func (s *Service) Attempt(ctx context.Context, strategy retry.Strategy, id uuid.UUID) error {
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			zlog.Logger.Warn().Str("id", id.String()).Msg("delivery task skipped: notification not found")
			return nil
		}

		return &RetryableError{Err: fmt.Errorf("load notification: %w", err)}
	}

	if n.Status.IsTerminal() {
		zlog.Logger.Info().
			Str("id", id.String()).
			Str("status", string(n.Status)).
			Msg("delivery task skipped: notification already terminal")
		return nil
	}

	if n.RetryCount >= MaxRetries {
		s.setStatus(ctx, strategy, id, model.StatusFailed)
		zlog.Logger.Info().
			Str("id", id.String()).
			Int("retry_count", n.RetryCount).
			Msg("delivery task done: max retries reached")
		return nil
	}

	acc, err := s.provider.Deliver(ctx, n.Recipient, string(n.Channel), n.Content)
	if err != nil {
		var rle *provider.RateLimitError
		if errors.As(err, &rle) {
			cooldown := rle.RetryAfter
			if cooldown <= 0 {
				cooldown = cooldownFor(n.RetryCount)
			}

			zlog.Logger.Warn().
				Str("id", id.String()).
				Dur("cooldown", cooldown).
				Msg("provider rate limited, re-enqueuing")

			return &RetryLaterError{Cooldown: cooldown}
		}

		return s.recordFailedAttempt(ctx, strategy, id, err)
	}

	sentAt := acc.Timestamp
	if sentAt.IsZero() {
		sentAt = time.Now()
	}

	if err := s.repo.MarkSent(ctx, id, acc.MessageID, sentAt); err != nil {
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			// The row went terminal between the state re-read and the update.
			zlog.Logger.Info().Str("id", id.String()).Msg("notification terminal before sent could be recorded")
			return nil
		}

		return &RetryableError{Err: fmt.Errorf("mark sent: %w", err)}
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(model.StatusSent)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}

	zlog.Logger.Info().
		Str("id", id.String()).
		Str("provider_message_id", acc.MessageID).
		Msg("notification sent")

	return nil
}

// recordFailedAttempt counts a transient failure or an unrecognized provider
// response against the retry budget, failing the notification at the maximum.
func (s *Service) recordFailedAttempt(ctx context.Context, strategy retry.Strategy, id uuid.UUID, cause error) error {
	count, err := s.repo.IncrementRetry(ctx, id, MaxRetries)
	if err != nil {
		// A concurrent task already spent the budget, or the row went terminal
		// between the re-read and the increment. Close out the active case.
		if errors.Is(err, notifrepo.ErrNotificationNotFound) {
			s.setStatus(ctx, strategy, id, model.StatusFailed)
			return nil
		}

		return &RetryableError{Err: fmt.Errorf("increment retry count: %w", err)}
	}

	if count >= MaxRetries {
		s.setStatus(ctx, strategy, id, model.StatusFailed)
		zlog.Logger.Warn().
			Err(cause).
			Str("id", id.String()).
			Int("retry_count", count).
			Msg("delivery failed: retries exhausted")
		return nil
	}

	s.setStatus(ctx, strategy, id, model.StatusProcessing)
	zlog.Logger.Warn().
		Err(cause).
		Str("id", id.String()).
		Int("retry_count", count).
		Msg("delivery attempt failed, will retry")

	return &RetryableError{Err: cause}
}

func (s *Service) setStatus(ctx context.Context, strategy retry.Strategy, id uuid.UUID, status model.Status) {
	if err := s.repo.UpdateStatusIfActive(ctx, id, status); err != nil {
		if !errors.Is(err, notifrepo.ErrNotificationNotFound) {
			zlog.Logger.Error().Err(err).Str("id", id.String()).Msgf("failed to set status=%s", status)
		}
		return
	}

	if err := s.cache.SetWithRetry(ctx, strategy, id.String(), string(status)); err != nil {
		zlog.Logger.Error().Err(err).Str("id", id.String()).Msg("failed to cache notification status")
	}
}

func cooldownFor(retryCount int) time.Duration {
	if retryCount >= len(cooldown429) {
		return cooldown429[len(cooldown429)-1]
	}

	return cooldown429[retryCount]
}
