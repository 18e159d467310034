package token

import (
	"time"

	"fleet-console-backend/db/models"
)

// Maker creates and verifies access tokens for console operators.
type Maker interface {
	CreateToken(principal models.Principal, duration time.Duration) (string, error)

	VerifyToken(token string) (*Payload, error)
}
