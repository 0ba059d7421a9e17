package domain

import (
	"bytes"
	"encoding/json"
	"time"
)

// RawGeometry is a geometry as the location store delivers it: either a
// GeoJSON-like object ({"type": ..., "coordinates": ...}) with coordinates in
// (longitude, latitude) order, or the legacy "lat,lng" string.
//
// The zero value means the geometry is absent.
type RawGeometry struct {
	Type        string          `json:"type,omitempty"`
	Coordinates json.RawMessage `json:"coordinates,omitempty"`

	// Legacy holds the delimited "lat,lng" encoding when the store used it.
	Legacy string `json:"-"`

	// Undecodable holds stored geometry text that could not be parsed.
	Undecodable string `json:"undecodable,omitempty"`
}

// IsZero reports whether no geometry was supplied.
func (g RawGeometry) IsZero() bool {
	return g.Type == "" && g.Legacy == "" && g.Undecodable == "" && len(g.Coordinates) == 0
}

// UnmarshalJSON accepts both the object and the string encoding.
func (g *RawGeometry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		*g = RawGeometry{}
		return json.Unmarshal(data, &g.Legacy)
	}
	type plain RawGeometry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*g = RawGeometry(p)
	return nil
}

// MarshalJSON writes the geometry back in the encoding it arrived in.
func (g RawGeometry) MarshalJSON() ([]byte, error) {
	if g.Legacy != "" {
		return json.Marshal(g.Legacy)
	}
	type plain RawGeometry
	return json.Marshal(plain(g))
}

// RawLocationRecord is one row from the location store, before validation.
type RawLocationRecord struct {
	ID           string            `json:"id"`
	Organization string            `json:"organization"`
	Name         string            `json:"name"`
	Geometry     *RawGeometry      `json:"geom,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// GeometryKind tags the variant held by a Geometry.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "point"
	GeometryPolygon GeometryKind = "polygon"
)

// Geometry is a render-ready shape. Coordinates are always (lat, lon).
// Point is set for GeometryPoint, Ring (the outer ring only) for GeometryPolygon.
type Geometry struct {
	Kind  GeometryKind `json:"kind"`
	Point *GeoPoint    `json:"point,omitempty"`
	Ring  []GeoPoint   `json:"ring,omitempty"`
}

// Bounds returns the bounding box of the geometry.
func (g Geometry) Bounds() Bounds {
	switch g.Kind {
	case GeometryPoint:
		if g.Point != nil {
			return Bounds{MinLat: g.Point.Lat, MinLon: g.Point.Lon, MaxLat: g.Point.Lat, MaxLon: g.Point.Lon}
		}
	case GeometryPolygon:
		return BoundsOf(g.Ring)
	}
	return Bounds{}
}

// LocationRecord is a validated location owned by an organization.
type LocationRecord struct {
	ID           string            `json:"id"`
	Organization string            `json:"organization"`
	Name         string            `json:"name"`
	Geometry     Geometry          `json:"geometry"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// MapEventType names things that happen on a viewer's map.
type MapEventType string

const (
	EventMarkerPlaced       MapEventType = "marker_placed"
	EventFocused            MapEventType = "focused"
	EventContainmentChecked MapEventType = "containment_checked"
	EventReloaded           MapEventType = "reloaded"
)

// MapEvent is published after a session mutates its map.
type MapEvent struct {
	SessionID  string       `json:"session_id,omitempty"`
	Type       MapEventType `json:"type"`
	Coordinate *GeoPoint    `json:"coordinate,omitempty"`
	Zoom       *float64     `json:"zoom,omitempty"`
	Inside     *bool        `json:"inside,omitempty"`
	Locations  int          `json:"locations,omitempty"`
	Time       time.Time    `json:"time"`
}
