package services

import (
	"context"
	"testing"
	"time"

	"fleet-console-backend/db/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerIsSingleFlight(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, ErrUploadInProgress)

	other, err := l.TryLock(ctx, "other", time.Minute)
	require.NoError(t, err)
	other()

	unlock()
	unlock()

	again, err := l.TryLock(ctx, "k", time.Minute)
	require.NoError(t, err)
	again()
}

func TestLockKeyScope(t *testing.T) {
	a := NewSession(models.Principal{Email: "ops@example.com"})
	b := NewSession(models.Principal{Email: "ops@example.com"})

	assert.NotEqual(t, lockKey(LockPerSession, a), lockKey(LockPerSession, b))
	assert.Equal(t, lockKey(LockPerOperator, a), lockKey(LockPerOperator, b))
}
