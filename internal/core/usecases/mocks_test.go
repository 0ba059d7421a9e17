package usecases_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// --- Mock LocationRepository ---

type mockLocationRepo struct {
	mu      sync.Mutex
	calls   int
	fetchFn func(ctx context.Context) ([]domain.RawLocationRecord, error)
}

func (m *mockLocationRepo) FetchLocations(ctx context.Context) ([]domain.RawLocationRecord, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.fetchFn != nil {
		return m.fetchFn(ctx)
	}
	return nil, nil
}

func (m *mockLocationRepo) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- Mock CacheService ---

var errCacheMiss = errors.New("cache miss")

type mockCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]int
}

func newMockCache() *mockCache {
	return &mockCache{data: make(map[string][]byte), ttls: make(map[string]int)}
}

func (m *mockCache) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, errCacheMiss
	}
	return v, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value []byte, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.ttls[key] = ttlSeconds
	return nil
}

func (m *mockCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// --- Mock EventPublisher ---

type mockPublisher struct {
	mu     sync.Mutex
	events []domain.MapEvent
	err    error
}

func (m *mockPublisher) PublishMapEvent(ctx context.Context, event *domain.MapEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *mockPublisher) PublishLocationsChanged(ctx context.Context) error { return nil }

func (m *mockPublisher) Events(t domain.MapEventType) []domain.MapEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.MapEvent
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// --- Mock EventSubscriber ---

type mockSubscriber struct {
	handler func(ctx context.Context) error
}

func (m *mockSubscriber) SubscribeLocationChanges(ctx context.Context, handler func(ctx context.Context) error) error {
	m.handler = handler
	return nil
}

// --- Fixtures ---

func rawPoint(id, org, name string, lon, lat float64) domain.RawLocationRecord {
	return domain.RawLocationRecord{
		ID:           id,
		Organization: org,
		Name:         name,
		Geometry: &domain.RawGeometry{
			Type:        "Point",
			Coordinates: []byte(fmtPair(lon, lat)),
		},
	}
}

func rawPolygon(id, org, name, coords string) domain.RawLocationRecord {
	return domain.RawLocationRecord{
		ID:           id,
		Organization: org,
		Name:         name,
		Geometry:     &domain.RawGeometry{Type: "Polygon", Coordinates: []byte(coords)},
	}
}

func fmtPair(lon, lat float64) string {
	return fmt.Sprintf("[%g,%g]", lon, lat)
}

// exampleRecords is the A/B fixture: A has two points, B one.
func exampleRecords() []domain.RawLocationRecord {
	return []domain.RawLocationRecord{
		rawPoint("1", "A", "X1", 106.8, -6.2),
		rawPoint("2", "A", "X2", 106.9, -6.3),
		rawPoint("3", "B", "Y1", 107.0, -6.1),
	}
}

// areaPolygon has a bounding box of lat [-6.3,-6.2], lon [106.8,106.9] and a
// notch on its east side around (-6.25, 106.85).
const areaPolygon = `[[[106.8,-6.3],[106.9,-6.3],[106.9,-6.28],[106.82,-6.28],[106.82,-6.22],[106.9,-6.22],[106.9,-6.2],[106.8,-6.2],[106.8,-6.3]]]`
