package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
	"github.com/aliskhannn/notification-dispatcher/internal/rabbitmq/queue"
	"github.com/aliskhannn/notification-dispatcher/internal/ratelimit"
	notifrepo "github.com/aliskhannn/notification-dispatcher/internal/repository/notification"

	mocks "github.com/aliskhannn/notification-dispatcher/internal/mocks/service/notification"
)

type serviceMocks struct {
	repo     *mocks.MocknotificationRepository
	queue    *mocks.MocktaskPublisher
	limiter  *mocks.MockadmissionLimiter
	provider *mocks.Mockdeliverer
	cache    *mocks.Mockcache
}

func setupService(t *testing.T) (*Service, serviceMocks) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	m := serviceMocks{
		repo:     mocks.NewMocknotificationRepository(ctrl),
		queue:    mocks.NewMocktaskPublisher(ctrl),
		limiter:  mocks.NewMockadmissionLimiter(ctrl),
		provider: mocks.NewMockdeliverer(ctrl),
		cache:    mocks.NewMockcache(ctrl),
	}

	svc := NewService(m.repo, m.queue, m.limiter, m.provider, m.cache)

	return svc, m
}

func TestService_CreateNotification(t *testing.T) {
	svc, m := setupService(t)

	strategy := retry.Strategy{}
	in := CreateInput{
		To:       "+15551234567",
		Channel:  model.ChannelSMS,
		Content:  "Hi",
		Priority: model.PriorityNormal,
	}

	m.limiter.EXPECT().
		Admit(gomock.Any(), map[model.Channel]int{model.ChannelSMS: 1}).
		Return(nil)
	m.repo.EXPECT().
		CreateNotification(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n model.Notification) (model.Notification, error) {
			assert.Equal(t, model.StatusPending, n.Status)
			assert.Equal(t, 0, n.RetryCount)
			return n, nil
		})
	m.cache.EXPECT().
		SetWithRetry(gomock.Any(), strategy, gomock.Any(), string(model.StatusPending)).
		Return(nil)
	m.queue.EXPECT().
		Publish(gomock.Any(), strategy).
		DoAndReturn(func(task queue.DeliveryTask, _ retry.Strategy) error {
			assert.Equal(t, model.PriorityNormal, task.Priority)
			assert.True(t, task.NotBefore.IsZero())
			return nil
		})

	n, err := svc.CreateNotification(context.Background(), strategy, in)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusPending, n.Status)
	assert.NotEqual(t, uuid.Nil, n.ID)
}

func TestService_CreateNotification_DuplicateKeyReturnsExisting(t *testing.T) {
	svc, m := setupService(t)

	strategy := retry.Strategy{}
	existing := model.Notification{
		ID:             uuid.New(),
		Recipient:      "+15551234567",
		Channel:        model.ChannelSMS,
		Content:        "Hi",
		Status:         model.StatusSent,
		IdempotencyKey: "k1",
	}

	// A duplicate consumes no rate-limit budget and enqueues nothing.
	m.repo.EXPECT().
		GetNotificationByIdempotencyKey(gomock.Any(), "k1").
		Return(existing, nil)

	n, err := svc.CreateNotification(context.Background(), strategy, CreateInput{
		To:             existing.Recipient,
		Channel:        existing.Channel,
		Content:        existing.Content,
		IdempotencyKey: "k1",
	})
	assert.NoError(t, err)
	assert.Equal(t, existing, n)
}

func TestService_CreateNotification_ConvergesOnInsertRace(t *testing.T) {
	svc, m := setupService(t)

	strategy := retry.Strategy{}
	winner := model.Notification{
		ID:             uuid.New(),
		Status:         model.StatusPending,
		IdempotencyKey: "k1",
	}

	gomock.InOrder(
		m.repo.EXPECT().
			GetNotificationByIdempotencyKey(gomock.Any(), "k1").
			Return(model.Notification{}, notifrepo.ErrNotificationNotFound),
		m.limiter.EXPECT().
			Admit(gomock.Any(), map[model.Channel]int{model.ChannelSMS: 1}).
			Return(nil),
		m.repo.EXPECT().
			CreateNotification(gomock.Any(), gomock.Any()).
			Return(model.Notification{}, notifrepo.ErrIdempotencyConflict),
		m.repo.EXPECT().
			GetNotificationByIdempotencyKey(gomock.Any(), "k1").
			Return(winner, nil),
	)

	n, err := svc.CreateNotification(context.Background(), strategy, CreateInput{
		To:             "+15551234567",
		Channel:        model.ChannelSMS,
		Content:        "Hi",
		IdempotencyKey: "k1",
	})
	assert.NoError(t, err)
	assert.Equal(t, winner, n)
}

func TestService_CreateNotification_RateLimited(t *testing.T) {
	svc, m := setupService(t)

	m.limiter.EXPECT().
		Admit(gomock.Any(), map[model.Channel]int{model.ChannelEmail: 1}).
		Return(&ratelimit.LimitExceededError{Limit: 100})

	_, err := svc.CreateNotification(context.Background(), retry.Strategy{}, CreateInput{
		To:      "user@example.com",
		Channel: model.ChannelEmail,
		Content: "Hello",
	})

	var limitErr *ratelimit.LimitExceededError
	assert.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 100, limitErr.Limit)
}

func TestService_CreateBatch_TooLarge(t *testing.T) {
	svc, _ := setupService(t)

	items := make([]CreateInput, MaxBatchSize+1)
	for i := range items {
		items[i] = CreateInput{To: "+15551234567", Channel: model.ChannelSMS, Content: "Hi"}
	}

	_, err := svc.CreateBatch(context.Background(), retry.Strategy{}, items, "")
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestService_CreateBatch_RejectedBeforePersisting(t *testing.T) {
	svc, m := setupService(t)

	items := []CreateInput{
		{To: "+1", Channel: model.ChannelSMS, Content: "a"},
		{To: "+2", Channel: model.ChannelSMS, Content: "b"},
		{To: "u@example.com", Channel: model.ChannelEmail, Content: "c"},
	}

	// Any over-limit channel rejects the whole batch: zero rows persisted.
	m.limiter.EXPECT().
		Admit(gomock.Any(), map[model.Channel]int{model.ChannelSMS: 2, model.ChannelEmail: 1}).
		Return(&ratelimit.LimitExceededError{Limit: 2})

	_, err := svc.CreateBatch(context.Background(), retry.Strategy{}, items, "")

	var limitErr *ratelimit.LimitExceededError
	assert.True(t, errors.As(err, &limitErr))
}

func TestService_CreateBatch_SharesBatchIDAndTrace(t *testing.T) {
	svc, m := setupService(t)

	strategy := retry.Strategy{}
	items := []CreateInput{
		{To: "+1", Channel: model.ChannelSMS, Content: "a", Priority: model.PriorityHigh},
		{To: "+2", Channel: model.ChannelSMS, Content: "b", Priority: model.PriorityLow},
	}

	m.limiter.EXPECT().
		Admit(gomock.Any(), map[model.Channel]int{model.ChannelSMS: 2}).
		Return(nil)

	var created []model.Notification
	m.repo.EXPECT().
		CreateNotification(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, n model.Notification) (model.Notification, error) {
			created = append(created, n)
			return n, nil
		}).
		Times(2)
	m.cache.EXPECT().
		SetWithRetry(gomock.Any(), strategy, gomock.Any(), string(model.StatusPending)).
		Return(nil).
		Times(2)
	m.queue.EXPECT().
		Publish(gomock.Any(), strategy).
		Return(nil).
		Times(2)

	result, err := svc.CreateBatch(context.Background(), strategy, items, "trace-1")
	assert.NoError(t, err)
	assert.Len(t, result.Notifications, 2)
	assert.Len(t, created, 2)

	for _, n := range created {
		assert.NotNil(t, n.BatchID)
		assert.Equal(t, result.BatchID, *n.BatchID)
		assert.Equal(t, "trace-1", n.TraceID)
	}
}

func TestService_CancelNotification(t *testing.T) {
	svc, m := setupService(t)

	strategy := retry.Strategy{}
	id := uuid.New()
	cancelled := model.Notification{ID: id, Status: model.StatusCancelled}

	m.repo.EXPECT().
		CancelNotification(gomock.Any(), id).
		Return(cancelled, nil)
	m.cache.EXPECT().
		SetWithRetry(gomock.Any(), strategy, id.String(), string(model.StatusCancelled)).
		Return(nil)

	n, err := svc.CancelNotification(context.Background(), strategy, id)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, n.Status)
}

func TestService_CancelNotification_NotPending(t *testing.T) {
	svc, m := setupService(t)

	id := uuid.New()

	m.repo.EXPECT().
		CancelNotification(gomock.Any(), id).
		Return(model.Notification{}, notifrepo.ErrNotificationNotFound)

	_, err := svc.CancelNotification(context.Background(), retry.Strategy{}, id)
	assert.ErrorIs(t, err, notifrepo.ErrNotificationNotFound)
}

func TestService_ListNotifications_ClampsPagination(t *testing.T) {
	svc, m := setupService(t)

	m.repo.EXPECT().
		ListNotifications(gomock.Any(), notifrepo.Filter{Page: 1, PerPage: 100}).
		Return([]model.Notification{}, 0, nil)

	_, _, err := svc.ListNotifications(context.Background(), notifrepo.Filter{Page: 0, PerPage: 500})
	assert.NoError(t, err)
}
