package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tradehub/internal/logger"
)

// NotifyChannel — канал pg_notify, в который пишет триггер notify_row_insert.
const NotifyChannel = "row_inserts"

// participantColumns — колонки строки, чьим владельцам рассылается вставка.
var participantColumns = map[string][]string{
	"messages":      {"sender_id", "receiver_id"},
	"notifications": {"user_id"},
}

type rowInsert struct {
	Table string          `json:"table"`
	Row   json.RawMessage `json:"row"`
}

// Route возвращает каналы realtime:<table>:<user> для всех участников строки без повторов.
func Route(table string, row json.RawMessage) ([]string, error) {
	cols, ok := participantColumns[table]
	if !ok {
		return nil, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(row, &fields); err != nil {
		return nil, fmt.Errorf("decode %s row: %w", table, err)
	}
	seen := make(map[string]struct{}, len(cols))
	var out []string
	for _, col := range cols {
		id, _ := fields[col].(string)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, TableChannel(table, id))
	}
	return out, nil
}

// Listener слушает LISTEN row_inserts на выделенном соединении и переиздаёт строки
// событием INSERT в каналы участников.
type Listener struct {
	pool   *pgxpool.Pool
	broker Broker
}

func NewListener(pool *pgxpool.Pool, broker Broker) *Listener {
	return &Listener{pool: pool, broker: broker}
}

// Run блокируется до отмены ctx. Потеря соединения — переподключение с паузой до 30s;
// вставки за время разрыва не повторяются.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("changefeed: %v, reconnect in %v", err, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxReconnectBackoff {
			backoff *= 2
		}
	}
}

const maxReconnectBackoff = 30 * time.Second

func (l *Listener) listen(ctx context.Context) error {
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	// соединение в состоянии LISTEN не возвращаем в пул
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Infof("changefeed: listening on %s", NotifyChannel)
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait: %w", err)
		}
		if err := l.Dispatch(ctx, n.Payload); err != nil {
			logger.Errorf("changefeed: %v", err)
		}
	}
}

// Dispatch разбирает одно уведомление и публикует строку в каналы участников.
func (l *Listener) Dispatch(ctx context.Context, payload string) error {
	var ins rowInsert
	if err := json.Unmarshal([]byte(payload), &ins); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}
	channels, err := Route(ins.Table, ins.Row)
	if err != nil {
		return err
	}
	for _, name := range channels {
		env := Envelope{Channel: name, Event: EventInsert, Payload: ins.Row, SentAt: time.Now().UTC()}
		if err := l.broker.Publish(ctx, name, env); err != nil {
			logger.Errorf("changefeed publish %s: %v", name, err)
		}
	}
	return nil
}
