package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/repository"
)

// Remedy — способ повторить неудавшуюся вставку: необязательный ремонт и payload для повтора.
type Remedy struct {
	Name    string
	Repair  func(ctx context.Context) error
	Payload model.NewMessage
}

// Strategy решает, можно ли исправить ошибку вставки. false — стратегия не подходит.
type Strategy func(payload model.NewMessage, err error) (Remedy, bool)

const (
	RemedyHealProfile    = "heal-profile"
	RemedyMinimalPayload = "minimal-payload"
)

// HealMissingProfile: нарушение внешнего ключа значит, что профиля отправителя нет.
// Профиль пересоздаётся из локальных полей, payload повторяется без изменений.
func HealMissingProfile(self model.Profile, store Store) Strategy {
	return func(payload model.NewMessage, err error) (Remedy, bool) {
		if !errors.Is(err, repository.ErrForeignKey) {
			return Remedy{}, false
		}
		return Remedy{
			Name: RemedyHealProfile,
			Repair: func(ctx context.Context) error {
				if err := store.UpsertProfile(ctx, model.MinimalProfile(self)); err != nil {
					return fmt.Errorf("recreate profile %s: %w", self.ID, err)
				}
				return nil
			},
			Payload: payload,
		}, true
	}
}

// MinimalPayload: при неизвестной колонке повторяем с базовыми полями.
func MinimalPayload(payload model.NewMessage, err error) (Remedy, bool) {
	if !errors.Is(err, repository.ErrUnknownColumn) || payload.IsMinimal() {
		return Remedy{}, false
	}
	return Remedy{Name: RemedyMinimalPayload, Payload: payload.Minimal()}, true
}

// DefaultStrategies — порядок, в котором пробуются стратегии.
func DefaultStrategies(self model.Profile, store Store) []Strategy {
	return []Strategy{HealMissingProfile(self, store), MinimalPayload}
}
