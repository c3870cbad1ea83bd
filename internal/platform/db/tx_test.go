package db

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	plain := errors.New("boom")
	require.Equal(t, plain, classify(plain))

	serial := &pgconn.PgError{Code: "40001"}
	err := classify(serial)
	require.ErrorIs(t, err, ErrSerialization)
	require.ErrorAs(t, err, new(*pgconn.PgError))

	require.ErrorIs(t, classify(&pgconn.PgError{Code: "40P01"}), ErrSerialization)
	require.NotErrorIs(t, classify(&pgconn.PgError{Code: "23505"}), ErrSerialization)
}
