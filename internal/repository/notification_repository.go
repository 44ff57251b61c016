package repository

import (
	"context"
	"fmt"

	"github.com/edwork/tutorhub/internal/model"
	"github.com/edwork/tutorhub/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

const notificationColumns = "id, recipient_id, type, title, message, details, read, created_at, read_at"

type NotificationRepository struct {
	*base.Repository
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{Repository: base.NewRepository(pool)}
}

// Create создаёт уведомление
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	query := `
		INSERT INTO notifications (id, recipient_id, type, title, message, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	details := n.Details
	if len(details) == 0 {
		details = []byte("{}")
	}

	err := r.QueryRow(
		ctx, query,
		n.ID,
		n.RecipientID,
		n.Type,
		n.Title,
		n.Message,
		details,
	).Scan(&n.CreatedAt)

	if err != nil {
		return fmt.Errorf("create notification: %w", err)
	}

	return nil
}

// GetByID получает уведомление по ID
func (r *NotificationRepository) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	query := fmt.Sprintf("SELECT %s FROM notifications WHERE id = $1", notificationColumns)

	var n model.Notification
	err := r.QueryRow(ctx, query, id).Scan(
		&n.ID,
		&n.RecipientID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.Details,
		&n.Read,
		&n.CreatedAt,
		&n.ReadAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification by id: %w", err)
	}

	return &n, nil
}

// ListUnread получает непрочитанные уведомления получателя, свежие сверху
func (r *NotificationRepository) ListUnread(ctx context.Context, recipientKeys []string) ([]*model.Notification, error) {
	if len(recipientKeys) == 0 {
		return nil, nil
	}

	// NULLS LAST: записи без created_at уходят в конец списка
	query := fmt.Sprintf(`
		SELECT %s FROM notifications
		WHERE recipient_id = ANY($1) AND NOT read
		ORDER BY created_at DESC NULLS LAST
	`, notificationColumns)

	rows, err := r.Query(ctx, query, recipientKeys)
	if err != nil {
		return nil, fmt.Errorf("list unread notifications: %w", err)
	}
	defer rows.Close()

	var list []*model.Notification
	for rows.Next() {
		var n model.Notification
		err := rows.Scan(
			&n.ID,
			&n.RecipientID,
			&n.Type,
			&n.Title,
			&n.Message,
			&n.Details,
			&n.Read,
			&n.CreatedAt,
			&n.ReadAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		list = append(list, &n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}

	return list, nil
}

// MarkRead помечает уведомление прочитанным. Повторная отметка не меняет
// состояние (read_at остаётся временем первого прочтения).
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	query := `
		UPDATE notifications
		SET read = true, read_at = now()
		WHERE id = $1 AND NOT read
	`

	_, err := r.ExecAffected(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}
