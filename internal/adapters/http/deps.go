package http

import (
	"github.com/nats-io/nats.go"

	"github.com/samirrijal/wilusmap/internal/adapters/postgres"
	"github.com/samirrijal/wilusmap/internal/adapters/valkey"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
)

// Dependencies holds all services needed by HTTP handlers.
// DB is nil when locations come from Supabase.
type Dependencies struct {
	Map   *usecases.MapService
	NATS  *nats.Conn
	DB    *postgres.DB
	Cache *valkey.Cache

	// Export names the properties of features served by the GeoJSON export.
	Export geometry.FeatureKeys
}
