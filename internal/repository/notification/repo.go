package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	ErrIdempotencyConflict  = errors.New("idempotency key already exists")
)

const notificationColumns = `
	uuid, batch_id, recipient, channel, content, priority, status,
	idempotency_key, scheduled_at, sent_at, provider_message_id,
	retry_count, trace_id, created_at, updated_at`

// Filter narrows down the result set of ListNotifications.
type Filter struct {
	BatchID  *uuid.UUID
	Statuses []model.Status
	Channel  model.Channel
	From     *time.Time
	To       *time.Time
	Page     int
	PerPage  int
}

// Repository provides methods to interact with the notifications table.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new notification repository.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// CreateNotification inserts a new notification and returns the stored row.
//
// A duplicate idempotency key is reported as ErrIdempotencyConflict so the
// caller can converge on the row that won the race.
func (r *Repository) CreateNotification(ctx context.Context, n model.Notification) (model.Notification, error) {
	query := `
		INSERT INTO notifications (
		    uuid, batch_id, recipient, channel, content, priority, status,
		    idempotency_key, scheduled_at, retry_count, trace_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + notificationColumns + `;
    `

	row := r.db.QueryRowContext(
		ctx, query,
		n.ID, n.BatchID, n.Recipient, n.Channel, n.Content, n.Priority, n.Status,
		nullString(n.IdempotencyKey), n.ScheduledAt, n.RetryCount, nullString(n.TraceID),
	)

	created, err := scanNotification(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.Notification{}, ErrIdempotencyConflict
		}

		return model.Notification{}, fmt.Errorf("failed to create notification: %w", err)
	}

	return created, nil
}

// GetNotificationByID retrieves a notification by its client-facing identifier.
func (r *Repository) GetNotificationByID(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE uuid = $1;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification: %w", err)
	}

	return n, nil
}

// GetNotificationByIdempotencyKey retrieves a notification by its idempotency key.
func (r *Repository) GetNotificationByIdempotencyKey(ctx context.Context, key string) (model.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE idempotency_key = $1;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to get notification by idempotency key: %w", err)
	}

	return n, nil
}

// UpdateStatusIfActive updates the status of a notification unless it is
// already terminal. Terminal rows are left untouched and reported as not found.
func (r *Repository) UpdateStatusIfActive(ctx context.Context, id uuid.UUID, status model.Status) error {
	query := `
		UPDATE notifications
		SET status = $1, updated_at = now()
		WHERE uuid = $2 AND status NOT IN ('sent', 'failed', 'cancelled');
    `

	res, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update notification status: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// CancelNotification moves a pending notification to cancelled.
//
// Any other status (including an unknown id) is reported as not found, so the
// caller cannot cancel a notification that is already being delivered.
func (r *Repository) CancelNotification(ctx context.Context, id uuid.UUID) (model.Notification, error) {
	query := `
		UPDATE notifications
		SET status = 'cancelled', updated_at = now()
		WHERE uuid = $1 AND status = 'pending'
		RETURNING ` + notificationColumns + `;
    `

	n, err := scanNotification(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Notification{}, ErrNotificationNotFound
		}

		return model.Notification{}, fmt.Errorf("failed to cancel notification: %w", err)
	}

	return n, nil
}

// MarkSent records a successful delivery unless the row is already terminal.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, sentAt time.Time) error {
	query := `
		UPDATE notifications
		SET status = 'sent', provider_message_id = $1, sent_at = $2, updated_at = now()
		WHERE uuid = $3 AND status NOT IN ('sent', 'failed', 'cancelled');
    `

	res, err := r.db.ExecContext(ctx, query, nullString(providerMessageID), sentAt, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	rows, _ := res.RowsAffected()

	if rows == 0 {
		return ErrNotificationNotFound
	}

	return nil
}

// IncrementRetry atomically increments retry_count and returns the new value.
// Terminal rows and rows already at max are left untouched and reported as not
// found, so duplicate tasks cannot push the count past the budget.
func (r *Repository) IncrementRetry(ctx context.Context, id uuid.UUID, max int) (int, error) {
	query := `
		UPDATE notifications
		SET retry_count = retry_count + 1, updated_at = now()
		WHERE uuid = $1 AND retry_count < $2
		  AND status NOT IN ('sent', 'failed', 'cancelled')
		RETURNING retry_count;
    `

	var count int
	err := r.db.QueryRowContext(ctx, query, id, max).Scan(&count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotificationNotFound
		}

		return 0, fmt.Errorf("failed to increment retry count: %w", err)
	}

	return count, nil
}

// ListNotifications retrieves notifications matching the filter, newest first,
// together with the total number of matching rows.
func (r *Repository) ListNotifications(ctx context.Context, f Filter) ([]model.Notification, int, error) {
	var (
		conds []string
		args  []interface{}
	)

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.BatchID != nil {
		conds = append(conds, "batch_id = "+arg(*f.BatchID))
	}
	if len(f.Statuses) > 0 {
		conds = append(conds, "status = ANY("+arg(pq.Array(statusStrings(f.Statuses)))+")")
	}
	if f.Channel != "" {
		conds = append(conds, "channel = "+arg(f.Channel))
	}
	if f.From != nil {
		conds = append(conds, "created_at >= "+arg(*f.From))
	}
	if f.To != nil {
		conds = append(conds, "created_at <= "+arg(*f.To))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	countQuery := "SELECT count(*) FROM notifications " + where + ";"
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM notifications
		%s
		ORDER BY created_at DESC, id DESC
		LIMIT %s OFFSET %s;
    `, notificationColumns, where, arg(f.PerPage), arg((f.Page-1)*f.PerPage))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, err
		}

		notifications = append(notifications, n)
	}

	return notifications, total, nil
}

// CountByStatus returns the number of notifications per status.
func (r *Repository) CountByStatus(ctx context.Context) (map[model.Status]int, error) {
	query := `
		SELECT status, count(*)
		FROM notifications
		GROUP BY status;
    `

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count notifications by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Status]int)
	for rows.Next() {
		var (
			status model.Status
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}

		counts[status] = count
	}

	return counts, nil
}

// AvgSendLatency returns the average seconds from created_at to sent_at over
// notifications sent since the given time. The result is invalid when no rows match.
func (r *Repository) AvgSendLatency(ctx context.Context, since time.Time) (sql.NullFloat64, error) {
	query := `
		SELECT AVG(EXTRACT(EPOCH FROM sent_at - created_at))
		FROM notifications
		WHERE status = 'sent' AND sent_at IS NOT NULL AND created_at >= $1;
    `

	var avg sql.NullFloat64
	if err := r.db.QueryRowContext(ctx, query, since).Scan(&avg); err != nil {
		return sql.NullFloat64{}, fmt.Errorf("failed to get average send latency: %w", err)
	}

	return avg, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (model.Notification, error) {
	var (
		n           model.Notification
		batchID     uuid.NullUUID
		idemKey     sql.NullString
		scheduledAt sql.NullTime
		sentAt      sql.NullTime
		providerID  sql.NullString
		traceID     sql.NullString
	)

	err := row.Scan(
		&n.ID, &batchID, &n.Recipient, &n.Channel, &n.Content, &n.Priority, &n.Status,
		&idemKey, &scheduledAt, &sentAt, &providerID,
		&n.RetryCount, &traceID, &n.CreatedAt, &n.UpdatedAt,
	)
	if err != nil {
		return model.Notification{}, err
	}

	if batchID.Valid {
		n.BatchID = &batchID.UUID
	}
	n.IdempotencyKey = idemKey.String
	if scheduledAt.Valid {
		t := scheduledAt.Time
		n.ScheduledAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	n.ProviderMessageID = providerID.String
	n.TraceID = traceID.String

	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func statusStrings(statuses []model.Status) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, string(s))
	}

	return out
}
