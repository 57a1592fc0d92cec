package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

type NotificationRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

// Create вставляет уведомление и заполняет ID и CreatedAt.
func (r *NotificationRepository) Create(ctx context.Context, n *model.Notification) error {
	defer logger.DeferLogDuration("notification.Create", time.Now())()
	if n.Type == "" {
		n.Type = model.NotificationInfo
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO notifications (user_id, title, message, type, link)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		 RETURNING id, is_read, created_at`,
		n.UserID, n.Title, n.Message, string(n.Type), n.Link,
	).Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return fmt.Errorf("notificationRepo.Create: %w", classify(err))
	}
	return nil
}

func (r *NotificationRepository) ListForUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	defer logger.DeferLogDuration("notification.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, title, message, type, COALESCE(link, ''), is_read, created_at
		 FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("notificationRepo.ListForUser query: %w", err)
	}
	defer rows.Close()
	out := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		var typ string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &typ, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("notificationRepo.ListForUser scan: %w", err)
		}
		n.Type = model.NotificationType(typ)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("notificationRepo.ListForUser rows: %w", err)
	}
	return out, nil
}

// MarkRead помечает уведомление прочитанным. ErrNotFound, если оно не принадлежит пользователю.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	defer logger.DeferLogDuration("notification.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = true WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("notificationRepo.MarkRead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
