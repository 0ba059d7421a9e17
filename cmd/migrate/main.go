package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/samirrijal/wilusmap/internal/adapters/postgres"
	"github.com/samirrijal/wilusmap/internal/pkg/config"
	"github.com/samirrijal/wilusmap/internal/pkg/logging"
)

var (
	upFiles = []string{
		"migrations/001_init_extensions.sql",
		"migrations/002_locations.sql",
	}
	downFiles = []string{
		"migrations/002_locations.down.sql",
	}
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: migrate <up|down>")
	}

	cfg, err := config.Load("wilusmap-migrate")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, "text", cfg.Telemetry.ServiceName)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	switch os.Args[1] {
	case "up":
		run(ctx, db, upFiles)
	case "down":
		run(ctx, db, downFiles)
	default:
		log.Fatalf("unknown command: %s", os.Args[1])
	}
}

func run(ctx context.Context, db *postgres.DB, files []string) {
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			log.Fatalf("read %s: %v", f, err)
		}
		if _, err := db.Pool.Exec(ctx, string(data)); err != nil {
			log.Fatalf("exec %s: %v", f, err)
		}
		slog.Info("migration applied", "file", f)
	}
	slog.Info("migrations done", "count", len(files))
}
