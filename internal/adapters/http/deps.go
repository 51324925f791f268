package http

import (
	"github.com/nats-io/nats.go"

	"github.com/rcondori/haultrack/internal/adapters/postgres"
	"github.com/rcondori/haultrack/internal/adapters/valkey"
	"github.com/rcondori/haultrack/internal/core/usecases"
)

// Dependencies holds the services the HTTP layer needs. Any field may be nil
// in tests; handlers that need an absent dependency degrade gracefully.
type Dependencies struct {
	Tracking *usecases.TrackingService
	DB       *postgres.DB
	NATS     *nats.Conn
	Cache    *valkey.Cache
}
