// Command seed imports a GeoJSON FeatureCollection into the locations table
// and tells running API instances to reload.
//
//	seed [-batch 500] [-no-notify] locations.geojson
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/paulmach/orb/geojson"

	natsadapter "github.com/samirrijal/wilusmap/internal/adapters/nats"
	"github.com/samirrijal/wilusmap/internal/adapters/postgres"
	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/geometry"
	"github.com/samirrijal/wilusmap/internal/core/ports"
	"github.com/samirrijal/wilusmap/internal/pkg/config"
	"github.com/samirrijal/wilusmap/internal/pkg/logging"
)

func main() {
	batchSize := flag.Int("batch", 500, "rows per insert batch")
	noNotify := flag.Bool("no-notify", false, "do not publish locations.changed")
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("usage: seed [-batch n] [-no-notify] <features.geojson>")
	}

	cfg, err := config.Load("wilusmap-seed")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Telemetry.ServiceName)

	if cfg.Repository.Source != config.SourcePostgres {
		log.Fatalf("seed writes to postgres, repository.source is %q", cfg.Repository.Source)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	records, skipped, err := readFeatures(flag.Arg(0), cfg.Repository)
	if err != nil {
		log.Fatalf("read %s: %v", flag.Arg(0), err)
	}
	slog.Info("features read", "file", flag.Arg(0), "valid", len(records), "skipped", skipped)

	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	cols := cfg.Repository.Columns
	repo := postgres.NewLocationRepo(db, cfg.Repository.Table, postgres.LocationColumns{
		ID:           cols.ID,
		Organization: cols.Organization,
		Name:         cols.Name,
		Geometry:     cols.Geometry,
		Legacy:       cols.Legacy,
		Attributes:   cfg.Repository.AttributeLabels(),
	})

	if err := upsertAll(ctx, repo, records, *batchSize); err != nil {
		log.Fatalf("upsert: %v", err)
	}
	slog.Info("locations stored", "table", cfg.Repository.Table, "rows", len(records))

	if *noNotify {
		return
	}
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, running APIs will not reload", "error", err)
		return
	}
	defer pub.Close()
	if err := pub.PublishLocationsChanged(ctx); err != nil {
		slog.Warn("publish locations.changed failed", "error", err)
	}
}

// readFeatures parses a FeatureCollection and keeps the features that
// normalize. Skipped features are logged with their reason.
func readFeatures(path string, rc config.RepositoryConfig) ([]domain.RawLocationRecord, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, 0, fmt.Errorf("parse geojson: %w", err)
	}

	raw, err := geometry.RecordsFromFeatures(fc, geometry.FeatureKeys{
		ID:           rc.Columns.ID,
		Organization: rc.Columns.Organization,
		Name:         rc.Columns.Name,
		Attributes:   rc.AttributeLabels(),
	})
	if err != nil {
		return nil, 0, err
	}

	out := raw[:0]
	skipped := 0
	for _, rec := range raw {
		if _, err := geometry.NormalizeRecord(rec); err != nil {
			slog.Warn("skipping feature", "id", rec.ID, "reason", geometry.Reason(err), "error", err)
			skipped++
			continue
		}
		if rec.Geometry.Legacy != "" {
			slog.Warn("skipping feature", "id", rec.ID, "reason", "legacy geometry")
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped, nil
}

func upsertAll(ctx context.Context, w ports.LocationWriter, records []domain.RawLocationRecord, size int) error {
	if size <= 0 {
		return errors.New("batch size must be positive")
	}
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		if err := w.UpsertBatch(ctx, records[start:end]); err != nil {
			return fmt.Errorf("rows %d-%d: %w", start, end-1, err)
		}
		slog.Debug("batch stored", "rows", end-start)
	}
	return nil
}
