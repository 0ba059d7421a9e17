package geometry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

var (
	// ErrInvalidRecord wraps every reason a raw record is left off the map.
	ErrInvalidRecord = errors.New("invalid record")

	ErrMissingOrganization = errors.New("missing organization")
	ErrMissingName         = errors.New("missing display name")
	ErrMissingGeometry     = errors.New("missing geometry")
)

// NormalizeRecord validates a raw record and normalizes its geometry.
// Any failure is returned wrapped in ErrInvalidRecord.
func NormalizeRecord(raw domain.RawLocationRecord) (domain.LocationRecord, error) {
	org := strings.TrimSpace(raw.Organization)
	if org == "" {
		return domain.LocationRecord{}, invalid(raw.ID, ErrMissingOrganization)
	}
	name := strings.TrimSpace(raw.Name)
	if name == "" {
		return domain.LocationRecord{}, invalid(raw.ID, ErrMissingName)
	}
	if raw.Geometry == nil || raw.Geometry.IsZero() {
		return domain.LocationRecord{}, invalid(raw.ID, ErrMissingGeometry)
	}

	geom, err := Normalize(*raw.Geometry)
	if err != nil {
		return domain.LocationRecord{}, invalid(raw.ID, err)
	}

	return domain.LocationRecord{
		ID:           raw.ID,
		Organization: org,
		Name:         name,
		Geometry:     geom,
		Attributes:   raw.Attributes,
	}, nil
}

func invalid(id string, cause error) error {
	return fmt.Errorf("%w %q: %w", ErrInvalidRecord, id, cause)
}

// Reason maps a normalization error to a short label for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingOrganization):
		return "missing_organization"
	case errors.Is(err, ErrMissingName):
		return "missing_name"
	case errors.Is(err, ErrMissingGeometry):
		return "missing_geometry"
	case errors.Is(err, ErrMissingCoordinates):
		return "missing_coordinates"
	case errors.Is(err, ErrInvalidPolygon):
		return "invalid_polygon"
	case errors.Is(err, ErrUnsupportedGeometry):
		return "unsupported_geometry"
	case errors.Is(err, ErrUndecodableGeometry):
		return "undecodable_geometry"
	default:
		return "other"
	}
}
