package token

import (
	"errors"
	"fmt"
	"time"

	"fleet-console-backend/db/models"

	"github.com/google/uuid"
)

var ErrExpired = errors.New("token has expired")

type Payload struct {
	ID         uuid.UUID   `json:"id"`
	Email      string      `json:"email"`
	Role       models.Role `json:"role"`
	CustomerID *int        `json:"customer_id,omitempty"`
	IssuedAt   time.Time   `json:"issued_at"`
	ExpiredAt  time.Time   `json:"expired_at"`
}

func NewPayload(principal models.Principal, duration time.Duration) (*Payload, error) {
	if principal.Email == "" {
		return nil, errors.New("email cannot be empty")
	}
	if principal.Role == "" {
		return nil, errors.New("role cannot be empty")
	}
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}

	tokenID, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}

	issuedAt := time.Now().UTC()
	return &Payload{
		ID:         tokenID,
		Email:      principal.Email,
		Role:       principal.Role,
		CustomerID: principal.CustomerID,
		IssuedAt:   issuedAt,
		ExpiredAt:  issuedAt.Add(duration),
	}, nil
}

func (payload *Payload) Valid() error {
	if time.Now().UTC().After(payload.ExpiredAt) {
		return ErrExpired
	}
	return nil
}

// Principal is the operator the token was issued to.
func (payload *Payload) Principal() models.Principal {
	return models.Principal{
		Email:      payload.Email,
		Role:       payload.Role,
		CustomerID: payload.CustomerID,
	}
}

func (p *Payload) String() string {
	return fmt.Sprintf("ID: %s, Email: %s, Role: %s, IssuedAt: %s, ExpiredAt: %s", p.ID, p.Email, p.Role, p.IssuedAt, p.ExpiredAt)
}
