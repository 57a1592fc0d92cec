package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Summaries вызывает серверную функцию get_user_conversations: по строке на собеседника,
// последний разговор первым.
func (r *ConversationRepository) Summaries(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	defer logger.DeferLogDuration("conversation.Summaries", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT partner_id, COALESCE(username, ''), COALESCE(avatar_url, ''), COALESCE(last_message, ''), last_message_time
		 FROM get_user_conversations($1)`, userID)
	if err != nil {
		return nil, fmt.Errorf("conversationRepo.Summaries query: %w", err)
	}
	defer rows.Close()
	var out []model.ConversationSummary
	for rows.Next() {
		var s model.ConversationSummary
		if err := rows.Scan(&s.PartnerID, &s.Username, &s.AvatarURL, &s.LastMessage, &s.LastMessageTime); err != nil {
			return nil, fmt.Errorf("conversationRepo.Summaries scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversationRepo.Summaries rows: %w", err)
	}
	return out, nil
}
