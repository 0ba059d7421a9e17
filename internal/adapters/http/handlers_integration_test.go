//go:build integration
// +build integration

package http_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samirrijal/wilusmap/internal/adapters/http"
	"github.com/samirrijal/wilusmap/internal/adapters/postgres"
	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
	"github.com/samirrijal/wilusmap/internal/pkg/config"
)

// setupTestDB connects to the database named by the WILUSMAP_DATABASE_*
// settings. The locations table must already be migrated.
func setupTestDB(t *testing.T) (*postgres.DB, *config.Config) {
	cfg, err := config.Load("wilusmap-test")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	return db, cfg
}

func testRepo(db *postgres.DB, cfg *config.Config) *postgres.LocationRepo {
	cols := cfg.Repository.Columns
	return postgres.NewLocationRepo(db, cfg.Repository.Table, postgres.LocationColumns{
		ID:           cols.ID,
		Organization: cols.Organization,
		Name:         cols.Name,
		Geometry:     cols.Geometry,
		Attributes:   cfg.Repository.AttributeLabels(),
	})
}

// setupTestDeps seeds two locations and returns loaded dependencies, no cache.
func setupTestDeps(t *testing.T) *http.Dependencies {
	db, cfg := setupTestDB(t)
	repo := testRepo(db, cfg)
	ctx := context.Background()

	seed := []domain.RawLocationRecord{
		{
			ID: "it-1", Organization: "PT Integration", Name: "Gardu",
			Geometry:   &domain.RawGeometry{Type: "Point", Coordinates: []byte(`[106.8,-6.2]`)},
			Attributes: map[string]string{"PLN UID": "UID-IT-1"},
		},
		{
			ID: "it-2", Organization: "PT Integration", Name: "Area",
			Geometry: &domain.RawGeometry{Type: "Polygon", Coordinates: []byte(square)},
		},
	}
	if err := repo.UpsertBatch(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}
	t.Cleanup(func() {
		_, _ = db.Pool.Exec(context.Background(), `DELETE FROM locations WHERE id LIKE 'it-%'`)
	})

	svc := usecases.NewMapService(repo, nil, mapsurface.DefaultOptions())
	t.Cleanup(svc.Close)
	if snap := svc.Load(ctx); snap.Err != nil {
		t.Fatalf("load: %v", snap.Err)
	}
	return &http.Dependencies{Map: svc, DB: db}
}

func TestIntegration_Ready(t *testing.T) {
	app := setupApp(setupTestDeps(t))

	resp, body := do(t, app, httptest.NewRequest("GET", "/v1/ready", nil))
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"database":"ok"`) {
		t.Errorf("expected database ok, got %s", body)
	}
}

func TestIntegration_GroupsFromDatabase(t *testing.T) {
	app := setupApp(setupTestDeps(t))

	_, body := do(t, app, httptest.NewRequest("GET", "/v1/groups?limit=500", nil))
	var res struct {
		Data []struct {
			Organization string `json:"organization"`
			Size         int    `json:"size"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, g := range res.Data {
		if g.Organization == "PT Integration" {
			if g.Size != 2 {
				t.Errorf("expected 2 seeded members, got %d", g.Size)
			}
			return
		}
	}
	t.Errorf("seeded organization missing from %s", body)
}

func TestIntegration_ContainsAgainstStoredPolygon(t *testing.T) {
	app := setupApp(setupTestDeps(t))
	id := createSession(t, app)

	resp, body := do(t, app, formRequest("/v1/sessions/"+id+"/contains", "lat=-6.25&lng=106.85"))
	if resp.StatusCode != 200 || !strings.Contains(string(body), `"inside":true`) {
		t.Errorf("expected inside, got %d: %s", resp.StatusCode, body)
	}
}
