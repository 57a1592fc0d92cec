package repository

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/logger"
	"github.com/tradehub/internal/model"
)

const messageColumns = `id, sender_id, receiver_id, text, type, COALESCE(file_url, ''), COALESCE(file_name, ''), is_read, created_at`

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Insert вставляет сообщение. type, file_url и file_name попадают в INSERT только если заданы,
// поэтому минимальный черновик пишет и читает обратно лишь базовые колонки.
func (r *MessageRepository) Insert(ctx context.Context, n model.NewMessage) (model.Message, error) {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	query, args, returning := buildInsert(n, time.Now().UTC())
	m, err := scanInserted(r.pool.QueryRow(ctx, query, args...), returning)
	if err != nil {
		return model.Message{}, fmt.Errorf("msgRepo.Insert: %w", classify(err))
	}
	return m, nil
}

var baseReturning = []string{"id", "sender_id", "receiver_id", "text", "is_read", "created_at"}

// buildInsert собирает INSERT ... RETURNING. RETURNING называет только базовые колонки и те
// необязательные, что вставляются: схема без file_url должна принять минимальный черновик.
func buildInsert(n model.NewMessage, now time.Time) (query string, args []any, returning []string) {
	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	cols := []string{"sender_id", "receiver_id", "text", "created_at"}
	args = []any{n.SenderID, n.ReceiverID, n.Text, createdAt}
	returning = append([]string(nil), baseReturning...)
	add := func(col string, v any) {
		cols = append(cols, col)
		args = append(args, v)
		returning = append(returning, col)
	}
	if n.Kind != "" && n.Kind != model.MessageKindText {
		add("type", string(n.Kind))
	}
	if n.FileURL != "" {
		add("file_url", n.FileURL)
	}
	if n.FileName != "" {
		add("file_name", n.FileName)
	}
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	query = `INSERT INTO messages (` + strings.Join(cols, ", ") + `) VALUES (` + strings.Join(placeholders, ", ") +
		`) RETURNING ` + strings.Join(returning, ", ")
	return query, args, returning
}

// scanInserted читает строку RETURNING в порядке returning. Невозвращённый type считается text.
func scanInserted(row interface{ Scan(dest ...any) error }, returning []string) (model.Message, error) {
	var m model.Message
	var kind string
	dest := make([]any, len(returning))
	for i, col := range returning {
		switch col {
		case "id":
			dest[i] = &m.ID
		case "sender_id":
			dest[i] = &m.SenderID
		case "receiver_id":
			dest[i] = &m.ReceiverID
		case "text":
			dest[i] = &m.Text
		case "is_read":
			dest[i] = &m.IsRead
		case "created_at":
			dest[i] = &m.CreatedAt
		case "type":
			dest[i] = &kind
		case "file_url":
			dest[i] = &m.FileURL
		case "file_name":
			dest[i] = &m.FileName
		default:
			return model.Message{}, fmt.Errorf("scanInserted: unexpected column %q", col)
		}
	}
	if err := row.Scan(dest...); err != nil {
		return model.Message{}, err
	}
	m.Kind = model.MessageKindText
	if kind != "" {
		m.Kind = model.MessageKind(kind)
	}
	return m, nil
}

// Between — сообщения одного направления sender -> receiver, по возрастанию времени.
func (r *MessageRepository) Between(ctx context.Context, senderID, receiverID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.Between", time.Now())()
	return r.list(ctx, "msgRepo.Between",
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 AND receiver_id = $2 ORDER BY created_at ASC`,
		senderID, receiverID)
}

// BySender — последние сообщения, отправленные пользователем (новые первыми).
func (r *MessageRepository) BySender(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.BySender", time.Now())()
	return r.list(ctx, "msgRepo.BySender",
		`SELECT `+messageColumns+` FROM messages WHERE sender_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

// ByReceiver — последние сообщения, полученные пользователем (новые первыми).
func (r *MessageRepository) ByReceiver(ctx context.Context, userID string, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ByReceiver", time.Now())()
	return r.list(ctx, "msgRepo.ByReceiver",
		`SELECT `+messageColumns+` FROM messages WHERE receiver_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

// MarkRead помечает прочитанными все входящие от partnerID. Возвращает число строк.
func (r *MessageRepository) MarkRead(ctx context.Context, receiverID, partnerID string) (int64, error) {
	defer logger.DeferLogDuration("msg.MarkRead", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE messages SET is_read = true WHERE receiver_id = $1 AND sender_id = $2 AND NOT is_read`,
		receiverID, partnerID)
	if err != nil {
		return 0, fmt.Errorf("msgRepo.MarkRead: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) list(ctx context.Context, op, query string, args ...any) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", op, err)
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s scan: %w", op, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", op, err)
	}
	return out, nil
}

func scanMessage(row interface{ Scan(dest ...any) error }) (model.Message, error) {
	var m model.Message
	var kind string
	err := row.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.Text, &kind, &m.FileURL, &m.FileName, &m.IsRead, &m.CreatedAt)
	m.Kind = model.MessageKind(kind)
	return m, err
}
