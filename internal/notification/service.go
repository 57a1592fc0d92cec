// Package notification создаёт уведомления пользователей и передаёт их в web push.
package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/push"
)

const pushTimeout = 5 * time.Second

var ErrInvalid = errors.New("notification: user_id and title are required")

type Store interface {
	Create(ctx context.Context, n *model.Notification) error
}

type Pusher interface {
	Notify(ctx context.Context, userID string, p push.Payload) error
}

type Service struct {
	store  Store
	pusher Pusher
}

// NewService: pusher может быть nil, тогда уведомления только сохраняются.
func NewService(store Store, pusher Pusher) *Service {
	return &Service{store: store, pusher: pusher}
}

// Create сохраняет уведомление (change feed разошлёт его подписчикам) и просит доставить web push.
// Ошибка push не считается ошибкой создания.
func (s *Service) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	if n.UserID == "" || n.Title == "" {
		return model.Notification{}, ErrInvalid
	}
	if n.Type == "" {
		n.Type = model.NotificationInfo
	}
	if err := s.store.Create(ctx, &n); err != nil {
		return model.Notification{}, fmt.Errorf("notification.Create: %w", err)
	}
	if s.pusher != nil {
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := s.pusher.Notify(pushCtx, n.UserID, push.FromNotification(n)); err != nil {
			logger.Errorf("notification: push to %s: %v", n.UserID, err)
		}
	}
	return n, nil
}

// Notify — Create без результата, для отправителей, которым важен только факт ошибки.
func (s *Service) Notify(ctx context.Context, n model.Notification) error {
	_, err := s.Create(ctx, n)
	return err
}
