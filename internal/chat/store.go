package chat

import (
	"context"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/model"
	"github.com/tradehub/internal/repository"
)

// Store — удалённое хранилище сообщений и профилей.
type Store interface {
	MessagesBetween(ctx context.Context, senderID, receiverID string) ([]model.Message, error)
	MessagesBySender(ctx context.Context, userID string, limit int) ([]model.Message, error)
	MessagesByReceiver(ctx context.Context, userID string, limit int) ([]model.Message, error)
	ConversationSummaries(ctx context.Context, userID string) ([]model.ConversationSummary, error)
	Profiles(ctx context.Context, ids []string) ([]model.Profile, error)
	InsertMessage(ctx context.Context, n model.NewMessage) (model.Message, error)
	UpsertProfile(ctx context.Context, p model.Profile) error
}

// Uploader кладёт файл в объектное хранилище и возвращает публичный URL.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) (string, error)
}

// Notifier создаёт уведомление получателю.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// RepoStore — Store поверх pgx-репозиториев.
type RepoStore struct {
	messages      *repository.MessageRepository
	profiles      *repository.ProfileRepository
	conversations *repository.ConversationRepository
}

func NewRepoStore(pool *pgxpool.Pool) *RepoStore {
	return &RepoStore{
		messages:      repository.NewMessageRepository(pool),
		profiles:      repository.NewProfileRepository(pool),
		conversations: repository.NewConversationRepository(pool),
	}
}

func (s *RepoStore) MessagesBetween(ctx context.Context, senderID, receiverID string) ([]model.Message, error) {
	return s.messages.Between(ctx, senderID, receiverID)
}

func (s *RepoStore) MessagesBySender(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	return s.messages.BySender(ctx, userID, limit)
}

func (s *RepoStore) MessagesByReceiver(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	return s.messages.ByReceiver(ctx, userID, limit)
}

func (s *RepoStore) ConversationSummaries(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	return s.conversations.Summaries(ctx, userID)
}

func (s *RepoStore) Profiles(ctx context.Context, ids []string) ([]model.Profile, error) {
	return s.profiles.ListByIDs(ctx, ids)
}

func (s *RepoStore) InsertMessage(ctx context.Context, n model.NewMessage) (model.Message, error) {
	return s.messages.Insert(ctx, n)
}

func (s *RepoStore) UpsertProfile(ctx context.Context, p model.Profile) error {
	return s.profiles.Upsert(ctx, p)
}
