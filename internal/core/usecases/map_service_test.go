package usecases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
	"github.com/samirrijal/wilusmap/internal/core/usecases"
)

func newService(t *testing.T, repo *mockLocationRepo, pub *mockPublisher) *usecases.MapService {
	t.Helper()
	var svc *usecases.MapService
	if pub != nil {
		svc = usecases.NewMapService(repo, pub, mapsurface.DefaultOptions())
	} else {
		svc = usecases.NewMapService(repo, nil, mapsurface.DefaultOptions())
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestMapService_Load_SkipsInvalidRecords(t *testing.T) {
	repo := &mockLocationRepo{
		fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
			recs := exampleRecords()
			recs = append(recs,
				domain.RawLocationRecord{ID: "4", Organization: "C", Name: "no geometry"},
				rawPolygon("5", "C", "bad ring", `[[[106.8,-6.3],[106.9,-6.3]]]`),
				domain.RawLocationRecord{ID: "6", Organization: "", Name: "orphan", Geometry: recs[0].Geometry},
			)
			return recs, nil
		},
	}
	svc := newService(t, repo, nil)

	snap := svc.Load(context.Background())

	if snap.Err != nil {
		t.Fatalf("unexpected error: %v", snap.Err)
	}
	if snap.Fetched != 6 || len(snap.Records) != 3 || snap.Invalid != 3 {
		t.Errorf("expected 6 fetched / 3 valid / 3 invalid, got %d / %d / %d", snap.Fetched, len(snap.Records), snap.Invalid)
	}
	if snap.Index.Len() != len(snap.Records) {
		t.Errorf("group index holds %d records, want %d", snap.Index.Len(), len(snap.Records))
	}
	if svc.Snapshot() != snap {
		t.Error("loaded snapshot was not published")
	}
}

func TestMapService_Load_FetchFailureGivesEmptyMap(t *testing.T) {
	fail := false
	repo := &mockLocationRepo{
		fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
			if fail {
				return nil, errors.New("connection refused")
			}
			return exampleRecords(), nil
		},
	}
	svc := newService(t, repo, nil)
	ctx := context.Background()

	svc.Load(ctx)
	sess, _, err := svc.Attach(ctx, "map")
	if err != nil {
		t.Fatalf("attach: %v", err)
	}

	fail = true
	snap := svc.Load(ctx)
	if snap.Err == nil || len(snap.Records) != 0 || len(snap.Index.Groups) != 0 {
		t.Fatalf("expected empty snapshot with error, got %+v", snap)
	}

	st, err := sess.MapState(ctx)
	if err != nil {
		t.Fatalf("map state: %v", err)
	}
	if len(st.Shapes) != 0 || st.LoadError == "" {
		t.Errorf("expected empty map with load error, got %d shapes, error %q", len(st.Shapes), st.LoadError)
	}
	entries, _, _ := sess.Sidebar(ctx)
	if len(entries) != 0 {
		t.Errorf("expected empty sidebar, got %+v", entries)
	}
}

func TestMapService_Attach_Idempotent(t *testing.T) {
	repo := &mockLocationRepo{fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
		return exampleRecords(), nil
	}}
	svc := newService(t, repo, nil)
	ctx := context.Background()
	svc.Load(ctx)

	first, created, err := svc.Attach(ctx, "map")
	if err != nil || !created {
		t.Fatalf("first attach: created=%v err=%v", created, err)
	}
	second, created, err := svc.Attach(ctx, "map")
	if err != nil {
		t.Fatalf("second attach: %v", err)
	}
	if created || second != first {
		t.Error("second attach must return the existing session")
	}

	st, _ := first.MapState(ctx)
	if len(st.Shapes) != 3 {
		t.Errorf("expected 3 shapes (no duplicate render), got %d", len(st.Shapes))
	}

	other, created, _ := svc.Attach(ctx, "overview")
	if !created || other == first {
		t.Error("a different target gets its own session")
	}
}

func TestMapService_SessionLookup(t *testing.T) {
	svc := newService(t, &mockLocationRepo{}, nil)
	ctx := context.Background()

	sess, _, _ := svc.Attach(ctx, "map")
	got, err := svc.Session(sess.ID())
	if err != nil || got != sess {
		t.Fatalf("lookup failed: %v", err)
	}

	if err := svc.Detach(sess.ID()); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, err := svc.Session(sess.ID()); !errors.Is(err, usecases.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := sess.MapState(ctx); !errors.Is(err, usecases.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestMapService_ReloadRerendersSessions(t *testing.T) {
	recs := exampleRecords()[:1]
	repo := &mockLocationRepo{fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
		return recs, nil
	}}
	pub := &mockPublisher{}
	svc := newService(t, repo, pub)
	ctx := context.Background()

	svc.Load(ctx)
	sess, _, _ := svc.Attach(ctx, "map")
	if _, err := sess.MapClick(ctx, domain.GeoPoint{Lat: -6, Lon: 106}); err != nil {
		t.Fatalf("click: %v", err)
	}

	recs = exampleRecords()
	svc.Reload(ctx)

	st, _ := sess.MapState(ctx)
	if st.Locations != 3 {
		t.Errorf("expected 3 locations after reload, got %d", st.Locations)
	}
	// three records plus the transient marker
	if len(st.Shapes) != 4 || st.Transient == nil {
		t.Errorf("expected reload to keep the transient marker, got %d shapes", len(st.Shapes))
	}
	if got := len(pub.Events(domain.EventReloaded)); got != 2 {
		t.Errorf("expected 2 reload events, got %d", got)
	}
}

func TestMapService_WatchChangesReloads(t *testing.T) {
	repo := &mockLocationRepo{fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
		return exampleRecords(), nil
	}}
	cache := newMockCache()
	cached := usecases.NewCachedRepository(repo, cache, 60)
	svc := usecases.NewMapService(cached, nil, mapsurface.DefaultOptions())
	t.Cleanup(svc.Close)
	sub := &mockSubscriber{}
	ctx := context.Background()

	svc.Load(ctx)
	if err := svc.WatchChanges(ctx, sub); err != nil {
		t.Fatalf("watch: %v", err)
	}
	if sub.handler == nil {
		t.Fatal("no handler registered")
	}

	if err := sub.handler(ctx); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if repo.Calls() != 2 {
		t.Errorf("change notification must bypass the cache, repo called %d times", repo.Calls())
	}
}

func TestCachedRepository_ReadThrough(t *testing.T) {
	repo := &mockLocationRepo{fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
		recs := exampleRecords()
		recs = append(recs, domain.RawLocationRecord{
			ID: "legacy", Organization: "L", Name: "Legacy",
			Geometry: &domain.RawGeometry{Legacy: "-6.2,106.8"},
		})
		return recs, nil
	}}
	cache := newMockCache()
	cr := usecases.NewCachedRepository(repo, cache, 300)
	ctx := context.Background()

	first, err := cr.FetchLocations(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	second, err := cr.FetchLocations(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if repo.Calls() != 1 {
		t.Errorf("expected one store fetch, got %d", repo.Calls())
	}
	if len(second) != len(first) {
		t.Fatalf("cached result has %d records, want %d", len(second), len(first))
	}
	if second[3].Geometry.Legacy != "-6.2,106.8" {
		t.Errorf("legacy geometry lost in cache: %+v", second[3].Geometry)
	}
	if cache.ttls["locations:all"] != 300 {
		t.Errorf("expected ttl 300, got %d", cache.ttls["locations:all"])
	}

	if err := cr.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	_, _ = cr.FetchLocations(ctx)
	if repo.Calls() != 2 {
		t.Errorf("expected a store fetch after invalidation, got %d calls", repo.Calls())
	}
}

func TestCachedRepository_Disabled(t *testing.T) {
	repo := &mockLocationRepo{}
	cr := usecases.NewCachedRepository(repo, nil, 300)
	ctx := context.Background()

	_, _ = cr.FetchLocations(ctx)
	_, _ = cr.FetchLocations(ctx)
	if repo.Calls() != 2 {
		t.Errorf("expected every fetch to reach the store, got %d", repo.Calls())
	}
	if err := cr.Invalidate(ctx); err != nil {
		t.Errorf("invalidate without cache: %v", err)
	}
}

func newLimitedService(t *testing.T, limits usecases.SessionLimits) *usecases.MapService {
	t.Helper()
	repo := &mockLocationRepo{fetchFn: func(ctx context.Context) ([]domain.RawLocationRecord, error) {
		return exampleRecords(), nil
	}}
	svc := usecases.NewMapService(repo, nil, mapsurface.DefaultOptions(), usecases.WithSessionLimits(limits))
	t.Cleanup(svc.Close)
	svc.Load(context.Background())
	return svc
}

func TestMapService_EvictIdle(t *testing.T) {
	ttl := time.Minute
	svc := newLimitedService(t, usecases.SessionLimits{IdleTTL: ttl})
	ctx := context.Background()

	stale, _, err := svc.Attach(ctx, "stale")
	if err != nil {
		t.Fatalf("attach stale: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	fresh, _, err := svc.Attach(ctx, "fresh")
	if err != nil {
		t.Fatalf("attach fresh: %v", err)
	}

	before := stale.LastUsed()
	svc.Reload(ctx)
	if !stale.LastUsed().Equal(before) {
		t.Error("a reload must not count as viewer activity")
	}

	if n := svc.EvictIdle(fresh.LastUsed().Add(ttl - time.Millisecond)); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if _, err := svc.Session(stale.ID()); !errors.Is(err, usecases.ErrSessionNotFound) {
		t.Errorf("evicted session still registered: %v", err)
	}
	if _, err := stale.MapState(ctx); !errors.Is(err, usecases.ErrSessionClosed) {
		t.Errorf("evicted session loop still running: %v", err)
	}
	if _, err := svc.Session(fresh.ID()); err != nil {
		t.Errorf("recently used session evicted: %v", err)
	}

	_, created, err := svc.Attach(ctx, "stale")
	if err != nil || !created {
		t.Errorf("evicted target must be attachable again: created=%v err=%v", created, err)
	}
}

func TestMapService_EvictIdle_Disabled(t *testing.T) {
	svc := newLimitedService(t, usecases.SessionLimits{})
	sess, _, _ := svc.Attach(context.Background(), "map")

	if n := svc.EvictIdle(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Errorf("expected no eviction without a TTL, got %d", n)
	}
	if _, err := svc.Session(sess.ID()); err != nil {
		t.Errorf("session lost: %v", err)
	}
}

func TestMapService_SessionCap(t *testing.T) {
	svc := newLimitedService(t, usecases.SessionLimits{Max: 2})
	ctx := context.Background()

	a, _, _ := svc.Attach(ctx, "a")
	if _, _, err := svc.Attach(ctx, "b"); err != nil {
		t.Fatalf("attach b: %v", err)
	}
	if _, _, err := svc.Attach(ctx, "c"); !errors.Is(err, usecases.ErrSessionLimit) {
		t.Fatalf("expected ErrSessionLimit, got %v", err)
	}
	if _, created, err := svc.Attach(ctx, "a"); err != nil || created {
		t.Errorf("existing target must still resolve at the cap: created=%v err=%v", created, err)
	}

	if err := svc.Detach(a.ID()); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if _, _, err := svc.Attach(ctx, "c"); err != nil {
		t.Errorf("attach after detach: %v", err)
	}
	if got := len(svc.Sessions()); got != 2 {
		t.Errorf("expected 2 live sessions, got %d", got)
	}
}

func TestMapService_SessionCapEvictsIdleFirst(t *testing.T) {
	svc := newLimitedService(t, usecases.SessionLimits{Max: 1, IdleTTL: time.Millisecond})
	ctx := context.Background()

	old, _, _ := svc.Attach(ctx, "old")
	time.Sleep(5 * time.Millisecond)

	if _, created, err := svc.Attach(ctx, "new"); err != nil || !created {
		t.Fatalf("expected the idle session to make room: created=%v err=%v", created, err)
	}
	if _, err := svc.Session(old.ID()); !errors.Is(err, usecases.ErrSessionNotFound) {
		t.Errorf("idle session not evicted: %v", err)
	}
}
