package recpg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryablePGTxError(t *testing.T) {
	assert.True(t, isRetryablePGTxError(&pgconn.PgError{Code: "40001"}))
	assert.True(t, isRetryablePGTxError(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, isRetryablePGTxError(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, isRetryablePGTxError(errors.New("connection refused")))
}

func TestWithTxRetry(t *testing.T) {
	calls := 0
	err := withTxRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40P01"}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	permanent := &pgconn.PgError{Code: "42601"}
	err = withTxRetry(context.Background(), func() error { calls++; return permanent })
	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)

	calls = 0
	err = withTxRetry(context.Background(), func() error { calls++; return &pgconn.PgError{Code: "40001"} })
	require.Error(t, err)
	assert.Equal(t, maxTxAttempts, calls)
}

func TestWithTxRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withTxRetry(ctx, func() error { return &pgconn.PgError{Code: "40001"} })
	require.ErrorIs(t, err, context.Canceled)
}
