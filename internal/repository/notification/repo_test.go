package notification

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to open mock db: %v", err)
	}

	wrappedDB := &dbpg.DB{Master: db}
	repo := NewRepository(wrappedDB)

	return repo, mock
}

var notifCols = []string{
	"uuid", "batch_id", "recipient", "channel", "content", "priority", "status",
	"idempotency_key", "scheduled_at", "sent_at", "provider_message_id",
	"retry_count", "trace_id", "created_at", "updated_at",
}

func notifRow(n model.Notification) *sqlmock.Rows {
	var batchID interface{}
	if n.BatchID != nil {
		batchID = *n.BatchID
	}

	return sqlmock.NewRows(notifCols).AddRow(
		n.ID, batchID, n.Recipient, n.Channel, n.Content, n.Priority, n.Status,
		nullString(n.IdempotencyKey), n.ScheduledAt, n.SentAt, nullString(n.ProviderMessageID),
		n.RetryCount, nullString(n.TraceID), n.CreatedAt, n.UpdatedAt,
	)
}

func TestCreateNotification(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := model.Notification{
		ID:        uuid.New(),
		Recipient: "+15551234567",
		Channel:   model.ChannelSMS,
		Content:   "Hi",
		Priority:  model.PriorityNormal,
		Status:    model.StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}

	mock.ExpectQuery("INSERT INTO notifications").
		WithArgs(
			n.ID, nil, n.Recipient, n.Channel, n.Content, n.Priority, n.Status,
			nullString(""), nil, 0, nullString(""),
		).
		WillReturnRows(notifRow(n))

	created, err := repo.CreateNotification(context.Background(), n)
	assert.NoError(t, err)
	assert.Equal(t, n.ID, created.ID)
	assert.Equal(t, model.StatusPending, created.Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNotification_IdempotencyConflict(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := model.Notification{
		ID:             uuid.New(),
		Recipient:      "user@example.com",
		Channel:        model.ChannelEmail,
		Content:        "Hello",
		Priority:       model.PriorityNormal,
		Status:         model.StatusPending,
		IdempotencyKey: "k1",
	}

	mock.ExpectQuery("INSERT INTO notifications").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := repo.CreateNotification(context.Background(), n)
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotificationByID(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := model.Notification{
		ID:        uuid.New(),
		Recipient: "+15551234567",
		Channel:   model.ChannelSMS,
		Content:   "Hi",
		Priority:  model.PriorityHigh,
		Status:    model.StatusSent,
	}

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs(n.ID).
		WillReturnRows(notifRow(n))

	got, err := repo.GetNotificationByID(context.Background(), n.ID)
	assert.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, model.StatusSent, got.Status)

	mock.ExpectQuery("SELECT (.+) FROM notifications").
		WithArgs(n.ID).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetNotificationByID(context.Background(), n.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotificationByIdempotencyKey(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := model.Notification{
		ID:             uuid.New(),
		Recipient:      "user@example.com",
		Channel:        model.ChannelEmail,
		Content:        "Hello",
		Priority:       model.PriorityNormal,
		Status:         model.StatusPending,
		IdempotencyKey: "k1",
	}

	mock.ExpectQuery("WHERE idempotency_key = ").
		WithArgs("k1").
		WillReturnRows(notifRow(n))

	got, err := repo.GetNotificationByIdempotencyKey(context.Background(), "k1")
	assert.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)
	assert.Equal(t, "k1", got.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusIfActive(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectExec("UPDATE notifications").
		WithArgs(model.StatusProcessing, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatusIfActive(context.Background(), id, model.StatusProcessing)
	assert.NoError(t, err)

	// Terminal rows are untouched and reported as not found.
	mock.ExpectExec("UPDATE notifications").
		WithArgs(model.StatusProcessing, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.UpdateStatusIfActive(context.Background(), id, model.StatusProcessing)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelNotification(t *testing.T) {
	repo, mock := setupMockDB(t)

	n := model.Notification{
		ID:        uuid.New(),
		Recipient: "+15551234567",
		Channel:   model.ChannelSMS,
		Content:   "Hi",
		Priority:  model.PriorityNormal,
		Status:    model.StatusCancelled,
	}

	mock.ExpectQuery("UPDATE notifications").
		WithArgs(n.ID).
		WillReturnRows(notifRow(n))

	got, err := repo.CancelNotification(context.Background(), n.ID)
	assert.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)

	// A non-pending notification matches no row.
	mock.ExpectQuery("UPDATE notifications").
		WithArgs(n.ID).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.CancelNotification(context.Background(), n.ID)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSent(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()
	sentAt := time.Now()

	mock.ExpectExec("UPDATE notifications").
		WithArgs(nullString("msg-1"), sentAt, id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSent(context.Background(), id, "msg-1", sentAt)
	assert.NoError(t, err)

	mock.ExpectExec("UPDATE notifications").
		WithArgs(nullString("msg-1"), sentAt, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.MarkSent(context.Background(), id, "msg-1", sentAt)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementRetry(t *testing.T) {
	repo, mock := setupMockDB(t)

	id := uuid.New()

	mock.ExpectQuery("SET retry_count = retry_count \\+ 1").
		WithArgs(id, 4).
		WillReturnRows(sqlmock.NewRows([]string{"retry_count"}).AddRow(3))

	count, err := repo.IncrementRetry(context.Background(), id, 4)
	assert.NoError(t, err)
	assert.Equal(t, 3, count)

	// Maxed-out or terminal rows do not match the guarded update.
	mock.ExpectQuery("retry_count < \\$2").
		WithArgs(id, 4).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.IncrementRetry(context.Background(), id, 4)
	assert.ErrorIs(t, err, ErrNotificationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListNotifications(t *testing.T) {
	repo, mock := setupMockDB(t)

	n1 := model.Notification{
		ID:        uuid.New(),
		Recipient: "a@example.com",
		Channel:   model.ChannelEmail,
		Content:   "msg1",
		Priority:  model.PriorityNormal,
		Status:    model.StatusPending,
	}
	n2 := model.Notification{
		ID:        uuid.New(),
		Recipient: "+15551234567",
		Channel:   model.ChannelSMS,
		Content:   "msg2",
		Priority:  model.PriorityHigh,
		Status:    model.StatusSent,
	}

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM notifications").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	rows := notifRow(n1)
	rows.AddRow(
		n2.ID, nil, n2.Recipient, n2.Channel, n2.Content, n2.Priority, n2.Status,
		nullString(""), nil, nil, nullString(""), 0, nullString(""), n2.CreatedAt, n2.UpdatedAt,
	)

	// id breaks ties between equal timestamps so pages never shuffle.
	mock.ExpectQuery("ORDER BY created_at DESC, id DESC").
		WithArgs(15, 0).
		WillReturnRows(rows)

	notifications, total, err := repo.ListNotifications(context.Background(), Filter{Page: 1, PerPage: 15})
	assert.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, notifications, 2)
	assert.Equal(t, n1.ID, notifications[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByStatus(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectQuery("GROUP BY status").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("sent", 8).
			AddRow("failed", 2))

	counts, err := repo.CountByStatus(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 8, counts[model.StatusSent])
	assert.Equal(t, 2, counts[model.StatusFailed])
	assert.NoError(t, mock.ExpectationsWereMet())
}
