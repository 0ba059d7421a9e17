package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/wilusmap/internal/adapters/http"
	natsadapter "github.com/samirrijal/wilusmap/internal/adapters/nats"
	"github.com/samirrijal/wilusmap/internal/adapters/postgres"
	"github.com/samirrijal/wilusmap/internal/adapters/supabase"
	"github.com/samirrijal/wilusmap/internal/adapters/valkey"
	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/ports"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
	"github.com/samirrijal/wilusmap/internal/pkg/config"
	"github.com/samirrijal/wilusmap/internal/pkg/logging"
	"github.com/samirrijal/wilusmap/internal/pkg/telemetry"
)

func main() {
	cfg, err := config.Load("wilusmap-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Location store
	var (
		repo ports.LocationRepository
		db   *postgres.DB
	)
	attrs := cfg.Repository.AttributeLabels()
	cols := cfg.Repository.Columns
	switch cfg.Repository.Source {
	case config.SourceSupabase:
		repo = supabase.New(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Repository.Table, supabase.Columns{
			ID:           cols.ID,
			Organization: cols.Organization,
			Name:         cols.Name,
			Geometry:     cols.Geometry,
			Attributes:   attrs,
		}, time.Duration(cfg.Supabase.Timeout)*time.Second)
		slog.Info("reading locations from supabase", "url", cfg.Supabase.URL, "table", cfg.Repository.Table)
	default:
		db, err = postgres.New(ctx, cfg.Database.DSN())
		if err != nil {
			log.Fatalf("database: %v", err)
		}
		defer db.Close()
		go db.ReportPoolMetrics(ctx, 15*time.Second)

		repo = postgres.NewLocationRepo(db, cfg.Repository.Table, postgres.LocationColumns{
			ID:           cols.ID,
			Organization: cols.Organization,
			Name:         cols.Name,
			Geometry:     cols.Geometry,
			Legacy:       cols.Legacy,
			Attributes:   attrs,
		})
		slog.Info("reading locations from postgres", "table", cfg.Repository.Table)
	}

	// Cache
	var cacheSvc ports.CacheService
	cache, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.KeyPrefix)
	if err != nil {
		slog.Warn("valkey unavailable, reading locations uncached", "error", err)
		cache = nil
	} else {
		defer cache.Close()
		cacheSvc = cache
	}
	cached := usecases.NewCachedRepository(repo, cacheSvc, cfg.Repository.CacheTTL)

	// NATS
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, map events disabled", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	svc := usecases.NewMapService(cached, publisher, mapOptions(cfg.Map), usecases.WithSessionLimits(usecases.SessionLimits{
		IdleTTL: time.Duration(cfg.Map.SessionIdleTTL) * time.Second,
		Max:     cfg.Map.MaxSessions,
	}))
	defer svc.Close()
	go svc.RunJanitor(ctx, time.Minute)

	loadCtx, loadCancel := context.WithTimeout(ctx, 30*time.Second)
	snap := svc.Load(loadCtx)
	loadCancel()
	if snap.Err != nil {
		slog.Error("initial location load failed, serving an empty map", "error", snap.Err)
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats subscriber unavailable, live reload disabled", "error", err)
	} else {
		defer sub.Close()
		if err := svc.WatchChanges(ctx, sub); err != nil {
			slog.Warn("watch location changes failed", "error", err)
		}
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
		natsConn = nil
	} else {
		defer natsConn.Close()
	}

	deps := &http.Dependencies{
		Map:   svc,
		NATS:  natsConn,
		DB:    db,
		Cache: cache,
		Export: geometry.FeatureKeys{
			ID:           cols.ID,
			Organization: cols.Organization,
			Name:         cols.Name,
			Attributes:   attrs,
		},
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "Wilus Map API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     "GET,POST,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "ETag, Link, Location",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "locations", len(snap.Records))
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// mapOptions turns the map section of the config into surface options.
func mapOptions(c config.MapConfig) mapsurface.Options {
	return mapsurface.Options{
		Center:      domain.GeoPoint{Lat: c.CenterLat, Lon: c.CenterLon},
		Zoom:        c.Zoom,
		MinZoom:     c.MinZoom,
		MaxZoom:     c.MaxZoom,
		ZoomSnap:    c.ZoomSnap,
		FocusZoom:   c.FocusZoom,
		Padding:     c.Padding,
		Width:       c.Width,
		Height:      c.Height,
		Containment: mapsurface.ContainmentMode(c.Containment),
		PolygonStyle: mapsurface.PolygonStyle{
			Color:       c.PolygonColor,
			FillColor:   c.FillColor,
			FillOpacity: c.FillOpacity,
		},
		Icon: mapsurface.MarkerIcon{URL: c.MarkerIcon, Size: c.MarkerSize},
	}
}
