package middleware

import (
	"fleet-console-backend/token"

	"go.uber.org/zap"
)

// AppContext bundles the dependencies shared by the middleware.
type AppContext struct {
	PasetoMaker token.Maker
	Logger      *zap.Logger
}
