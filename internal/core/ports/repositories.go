package ports

import (
	"context"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// LocationRepository supplies location records from a remote store.
type LocationRepository interface {
	// FetchLocations returns every record in store order. Records are not
	// validated; geometry may use either supported encoding.
	FetchLocations(ctx context.Context) ([]domain.RawLocationRecord, error)
}

// LocationWriter stores location records. Only the import tooling writes.
type LocationWriter interface {
	UpsertBatch(ctx context.Context, records []domain.RawLocationRecord) error
}
