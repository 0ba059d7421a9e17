package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/wilusmap/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

func withTimeout(h fiber.Handler) fiber.Handler {
	return timeout.NewWithContext(h, requestTimeout)
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies) {
	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	// Response compression (gzip); GeoJSON exports get large
	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	// Map interaction is chatty: 600 requests per minute per IP
	app.Use(limiter.New(limiter.Config{
		Max:        600,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
		},
	}))

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	v1 := app.Group("/v1")

	// Locations
	v1.Get("/groups", withTimeout(ListGroupsHandler(deps)))
	v1.Get("/locations.geojson", withTimeout(GeoJSONHandler(deps)))
	v1.Post("/reload", withTimeout(ReloadHandler(deps)))

	// Map sessions
	v1.Post("/sessions", withTimeout(CreateSessionHandler(deps)))
	v1.Delete("/sessions/:id", withTimeout(DeleteSessionHandler(deps)))
	v1.Get("/sessions/:id/map", withTimeout(MapStateHandler(deps)))
	v1.Post("/sessions/:id/map/click", withTimeout(MapClickHandler(deps, false)))
	v1.Post("/sessions/:id/map/dblclick", withTimeout(MapClickHandler(deps, true)))
	v1.Get("/sessions/:id/sidebar", withTimeout(SidebarHandler(deps)))
	v1.Post("/sessions/:id/sidebar/:entry/click", withTimeout(ClickEntryHandler(deps)))
	v1.Post("/sessions/:id/contains", withTimeout(ContainsHandler(deps)))

	// GraphQL
	app.Post("/graphql", GraphQLHandler(deps))

	// API documentation (Swagger UI)
	SetupDocs(app)

	// WebSocket relay of map events
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
