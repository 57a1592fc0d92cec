package storage

import (
	"context"

	"github.com/tradehub/internal/model"
)

// SubscriptionStore — подписки web push по пользователям.
// Реализации: redis.Client, memory.Client (для -dev и тестов без Redis).
type SubscriptionStore interface {
	AddSubscription(ctx context.Context, userID string, sub model.PushSubscription) error
	ListSubscriptions(ctx context.Context, userID string) ([]model.PushSubscription, error)
	RemoveSubscription(ctx context.Context, userID, endpoint string) error
	Close() error
}
