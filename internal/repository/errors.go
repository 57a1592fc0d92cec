package repository

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrForeignKey — нарушение ссылочной целостности (например, нет строки profiles для sender_id).
	ErrForeignKey = errors.New("foreign key violation")
	// ErrUnknownColumn — схема не знает колонку из запроса.
	ErrUnknownColumn = errors.New("unknown column")
)

// missingColumn — текст ошибки 42703, когда код SQLSTATE потерян при обёртке.
var missingColumn = regexp.MustCompile(`column "?[\w.]+"?( of relation "?[\w.]+"?)? does not exist`)

const (
	pgForeignKeyViolation = "23503"
	pgUndefinedColumn     = "42703"
)

// classify добавляет к ошибке Postgres доменный sentinel; errors.Is работает для обоих.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %w", ErrForeignKey, err)
		case pgUndefinedColumn:
			return fmt.Errorf("%w: %w", ErrUnknownColumn, err)
		}
		return err
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "foreign key"):
		return fmt.Errorf("%w: %w", ErrForeignKey, err)
	case missingColumn.MatchString(msg):
		return fmt.Errorf("%w: %w", ErrUnknownColumn, err)
	}
	return err
}
