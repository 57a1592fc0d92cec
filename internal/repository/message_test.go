package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tradehub/internal/model"
)

func TestBuildInsert_MinimalDraftNamesOnlyBaseColumns(t *testing.T) {
	full := model.NewMessage{
		SenderID:   "a",
		ReceiverID: "b",
		Text:       "devis",
		Kind:       model.MessageKindFile,
		FileURL:    "https://cdn/x.pdf",
		FileName:   "x.pdf",
	}
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	query, args, returning := buildInsert(full.Minimal(), now)
	assert.Equal(t,
		`INSERT INTO messages (sender_id, receiver_id, text, created_at) VALUES ($1, $2, $3, $4) `+
			`RETURNING id, sender_id, receiver_id, text, is_read, created_at`, query)
	for _, col := range []string{"type", "file_url", "file_name", "COALESCE"} {
		assert.NotContains(t, query, col)
	}
	assert.Equal(t, []any{"a", "b", "devis", now}, args)
	assert.Equal(t, baseReturning, returning)

	query, args, returning = buildInsert(full, now)
	assert.Contains(t, query, `(sender_id, receiver_id, text, created_at, type, file_url, file_name) VALUES ($1, $2, $3, $4, $5, $6, $7)`)
	assert.Contains(t, query, `RETURNING id, sender_id, receiver_id, text, is_read, created_at, type, file_url, file_name`)
	assert.Len(t, args, 7)
	assert.Len(t, returning, 9)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, v := range r.values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *bool:
			*d = v.(bool)
		case *time.Time:
			*d = v.(time.Time)
		}
	}
	return nil
}

func TestScanInserted(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	m, err := scanInserted(fakeRow{values: []any{"m1", "a", "b", "salut", false, at}}, baseReturning)
	require.NoError(t, err)
	assert.Equal(t, model.Message{ID: "m1", SenderID: "a", ReceiverID: "b", Text: "salut", Kind: model.MessageKindText, CreatedAt: at}, m)

	cols := append(append([]string(nil), baseReturning...), "type", "file_url")
	m, err = scanInserted(fakeRow{values: []any{"m2", "a", "b", "", false, at, "image", "https://cdn/p.png"}}, cols)
	require.NoError(t, err)
	assert.Equal(t, model.MessageKindImage, m.Kind)
	assert.Equal(t, "https://cdn/p.png", m.FileURL)

	_, err = scanInserted(fakeRow{}, []string{"id", "avatar"})
	assert.Error(t, err)
}
