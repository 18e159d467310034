package token

import (
	"strings"
	"testing"
	"time"

	"fleet-console-backend/db/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "12345678901234567890123456789012"

func TestPasetoMakerRoundTrip(t *testing.T) {
	maker, err := NewPasetoMaker(testKey)
	require.NoError(t, err)

	customerID := 7
	principal := models.Principal{Email: "client@example.com", Role: models.RoleCustomer, CustomerID: &customerID}

	token, err := maker.CreateToken(principal, time.Minute)
	require.NoError(t, err)

	payload, err := maker.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, principal, payload.Principal())
	assert.WithinDuration(t, time.Now(), payload.IssuedAt, time.Second)
	assert.WithinDuration(t, payload.IssuedAt.Add(time.Minute), payload.ExpiredAt, time.Millisecond)
}

func TestPasetoMakerRejects(t *testing.T) {
	_, err := NewPasetoMaker("short")
	assert.Error(t, err)

	maker, err := NewPasetoMaker(testKey)
	require.NoError(t, err)

	_, err = maker.VerifyToken("not-a-token")
	assert.Error(t, err)

	other, err := NewPasetoMaker(strings.Repeat("x", 32))
	require.NoError(t, err)
	token, err := other.CreateToken(models.Principal{Email: "ops@example.com", Role: models.RoleStaff}, time.Minute)
	require.NoError(t, err)
	_, err = maker.VerifyToken(token)
	assert.Error(t, err)
}

func TestExpiredToken(t *testing.T) {
	payload, err := NewPayload(models.Principal{Email: "ops@example.com", Role: models.RoleStaff}, time.Minute)
	require.NoError(t, err)
	payload.ExpiredAt = time.Now().UTC().Add(-time.Second)

	assert.ErrorIs(t, payload.Valid(), ErrExpired)
}

func TestNewPayloadRequiresIdentity(t *testing.T) {
	_, err := NewPayload(models.Principal{Role: models.RoleStaff}, time.Minute)
	assert.Error(t, err)
	_, err = NewPayload(models.Principal{Email: "ops@example.com"}, time.Minute)
	assert.Error(t, err)
	_, err = NewPayload(models.Principal{Email: "ops@example.com", Role: models.RoleStaff}, 0)
	assert.Error(t, err)
}
