package usecases

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/ports"
	"github.com/samirrijal/wilusmap/internal/pkg/metrics"
)

const locationsCacheKey = "locations:all"

// CachedRepository is a read-through cache in front of a LocationRepository.
// Raw records are cached, so validation always runs on the latest rules.
type CachedRepository struct {
	repo  ports.LocationRepository
	cache ports.CacheService
	ttl   int
}

// NewCachedRepository wraps repo. A nil cache or a non-positive ttl disables caching.
func NewCachedRepository(repo ports.LocationRepository, cache ports.CacheService, ttlSeconds int) *CachedRepository {
	return &CachedRepository{repo: repo, cache: cache, ttl: ttlSeconds}
}

func (r *CachedRepository) enabled() bool {
	return r.cache != nil && r.ttl > 0
}

// FetchLocations serves from cache when possible and fills it on a miss.
func (r *CachedRepository) FetchLocations(ctx context.Context) ([]domain.RawLocationRecord, error) {
	if r.enabled() {
		if data, err := r.cache.Get(ctx, locationsCacheKey); err == nil {
			var recs []domain.RawLocationRecord
			if err := json.Unmarshal(data, &recs); err == nil {
				metrics.CacheHits.WithLabelValues("locations").Inc()
				return recs, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("locations").Inc()
	}

	recs, err := r.repo.FetchLocations(ctx)
	if err != nil {
		return nil, err
	}

	if r.enabled() {
		if data, err := json.Marshal(recs); err == nil {
			if err := r.cache.Set(ctx, locationsCacheKey, data, r.ttl); err != nil {
				slog.Warn("cache locations", "error", err)
			}
		}
	}
	return recs, nil
}

// Invalidate drops the cached records so the next fetch hits the store.
func (r *CachedRepository) Invalidate(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, locationsCacheKey)
}
