// Package geometry turns raw store geometries into render-ready shapes.
//
// Store coordinates are (longitude, latitude), as in GeoJSON. Everything
// returned from this package is (latitude, longitude); no other package
// transposes axes.
package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

var (
	ErrMissingCoordinates  = errors.New("missing coordinates")
	ErrInvalidPolygon      = errors.New("invalid polygon")
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	ErrUndecodableGeometry = errors.New("undecodable geometry")
)

// minRingPoints is the smallest outer ring that can be drawn as an area.
const minRingPoints = 3

// Normalize validates raw and returns it in canonical (lat, lon) form.
func Normalize(raw domain.RawGeometry) (domain.Geometry, error) {
	if raw.Undecodable != "" {
		return domain.Geometry{}, ErrUndecodableGeometry
	}
	if raw.Legacy != "" {
		return parseLegacy(raw.Legacy)
	}

	switch raw.Type {
	case "Point":
		return normalizePoint(raw.Coordinates)
	case "Polygon":
		return normalizePolygon(raw.Coordinates)
	case "":
		return domain.Geometry{}, ErrUnsupportedGeometry
	default:
		return domain.Geometry{}, fmt.Errorf("%w: %q", ErrUnsupportedGeometry, raw.Type)
	}
}

func normalizePoint(coords json.RawMessage) (domain.Geometry, error) {
	if isAbsent(coords) {
		return domain.Geometry{}, ErrMissingCoordinates
	}
	var pos []float64
	if err := json.Unmarshal(coords, &pos); err != nil {
		return domain.Geometry{}, fmt.Errorf("%w: %v", ErrMissingCoordinates, err)
	}
	p, ok := transpose(pos)
	if !ok {
		return domain.Geometry{}, ErrMissingCoordinates
	}
	return domain.Geometry{Kind: domain.GeometryPoint, Point: &p}, nil
}

func normalizePolygon(coords json.RawMessage) (domain.Geometry, error) {
	if isAbsent(coords) {
		return domain.Geometry{}, fmt.Errorf("%w: coordinates absent", ErrInvalidPolygon)
	}
	var rings [][][]float64
	if err := json.Unmarshal(coords, &rings); err != nil {
		return domain.Geometry{}, fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	if len(rings) == 0 {
		return domain.Geometry{}, fmt.Errorf("%w: no rings", ErrInvalidPolygon)
	}

	outer := rings[0]
	if len(outer) < minRingPoints {
		return domain.Geometry{}, fmt.Errorf("%w: outer ring has %d points", ErrInvalidPolygon, len(outer))
	}

	ring := make([]domain.GeoPoint, 0, len(outer))
	for i, pos := range outer {
		p, ok := transpose(pos)
		if !ok {
			return domain.Geometry{}, fmt.Errorf("%w: bad position %d", ErrInvalidPolygon, i)
		}
		ring = append(ring, p)
	}
	return domain.Geometry{Kind: domain.GeometryPolygon, Ring: ring}, nil
}

// transpose converts a GeoJSON position [lon, lat, (alt)] to a GeoPoint.
func transpose(pos []float64) (domain.GeoPoint, bool) {
	if len(pos) < 2 || !finite(pos[0]) || !finite(pos[1]) {
		return domain.GeoPoint{}, false
	}
	return domain.GeoPoint{Lat: pos[1], Lon: pos[0]}, true
}

// parseLegacy reads the "lat,lng" string encoding. It is already latitude
// first, so it is not transposed.
func parseLegacy(s string) (domain.Geometry, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return domain.Geometry{}, fmt.Errorf("%w: legacy value %q", ErrMissingCoordinates, s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || !finite(lat) {
		return domain.Geometry{}, fmt.Errorf("%w: legacy latitude %q", ErrMissingCoordinates, parts[0])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || !finite(lon) {
		return domain.Geometry{}, fmt.Errorf("%w: legacy longitude %q", ErrMissingCoordinates, parts[1])
	}
	p := domain.GeoPoint{Lat: lat, Lon: lon}
	return domain.Geometry{Kind: domain.GeometryPoint, Point: &p}, nil
}

// DecodeRaw parses a geometry value read from a store column. JSON objects and
// JSON strings are decoded as such; any other non-empty text is taken to be the
// legacy "lat,lng" encoding. A nil result means no geometry.
//
// On a decode error the returned geometry keeps the text in Undecodable, so
// that normalization rejects the record with ErrUndecodableGeometry.
func DecodeRaw(data []byte) (*domain.RawGeometry, error) {
	data = bytes.TrimSpace(data)
	if isAbsent(data) {
		return nil, nil
	}
	switch data[0] {
	case '{', '"':
		var g domain.RawGeometry
		if err := json.Unmarshal(data, &g); err != nil {
			return &domain.RawGeometry{Undecodable: string(data)}, fmt.Errorf("%w: %w", ErrUndecodableGeometry, err)
		}
		if g.IsZero() {
			return nil, nil
		}
		return &g, nil
	default:
		return &domain.RawGeometry{Legacy: string(data)}, nil
	}
}

func isAbsent(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) == 0 || bytes.Equal(data, []byte("null"))
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
