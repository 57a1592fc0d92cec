package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify_PgCodes(t *testing.T) {
	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23503", Message: "violates foreign key constraint"})
	err := classify(fk)
	assert.True(t, errors.Is(err, ErrForeignKey))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))

	col := &pgconn.PgError{Code: "42703", Message: `column "file_name" does not exist`}
	assert.True(t, errors.Is(classify(col), ErrUnknownColumn))

	other := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err = classify(other)
	assert.False(t, errors.Is(err, ErrForeignKey))
	assert.False(t, errors.Is(err, ErrUnknownColumn))
}

func TestClassify_MessageFallback(t *testing.T) {
	assert.True(t, errors.Is(classify(errors.New("insert or update violates foreign key")), ErrForeignKey))
	assert.True(t, errors.Is(classify(errors.New(`ERROR: column "file_url" of relation "messages" does not exist`)), ErrUnknownColumn))
	assert.True(t, errors.Is(classify(errors.New(`column "type" does not exist`)), ErrUnknownColumn))
	for _, msg := range []string{
		"can't scan into dest[4] (col: type): cannot scan NULL into *string",
		"number of field descriptions must equal number of destinations, got 9 and 6",
		"column index out of range",
	} {
		assert.False(t, errors.Is(classify(errors.New(msg)), ErrUnknownColumn), msg)
	}
	assert.Nil(t, classify(nil))
	plain := errors.New("timeout")
	assert.Equal(t, plain, classify(plain))
}
