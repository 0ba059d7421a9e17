package mapsurface

import "github.com/samirrijal/wilusmap/internal/core/domain"

// ContainmentMode selects how ContainsPoint tests polygons.
type ContainmentMode string

const (
	// ContainmentBBox tests polygon bounding boxes only.
	ContainmentBBox ContainmentMode = "bbox"
	// ContainmentExact additionally tests the outer ring.
	ContainmentExact ContainmentMode = "exact"
)

// PolygonStyle is the fill and stroke of drawn polygons.
type PolygonStyle struct {
	Color       string  `json:"color"`
	FillColor   string  `json:"fill_color"`
	FillOpacity float64 `json:"fill_opacity"`
}

// MarkerIcon describes the image used for markers.
type MarkerIcon struct {
	URL  string `json:"url"`
	Size int    `json:"size"`
}

// Options configures a Surface.
type Options struct {
	Center   domain.GeoPoint
	Zoom     float64
	MinZoom  float64
	MaxZoom  float64
	ZoomSnap float64

	// FocusZoom is the fixed zoom used when focusing a point.
	FocusZoom float64

	// Padding is kept clear on each side when fitting bounds, in pixels.
	Padding int

	// Width and Height are the assumed viewport size in pixels.
	Width  int
	Height int

	Containment  ContainmentMode
	PolygonStyle PolygonStyle
	Icon         MarkerIcon
}

// DefaultOptions opens over Jakarta at zoom 6, wide enough to show the
// mapped areas.
func DefaultOptions() Options {
	return Options{
		Center:      domain.GeoPoint{Lat: -6.2088, Lon: 106.8456},
		Zoom:        6,
		MinZoom:     0,
		MaxZoom:     18,
		ZoomSnap:    0.5,
		FocusZoom:   14,
		Padding:     20,
		Width:       1024,
		Height:      768,
		Containment: ContainmentBBox,
		PolygonStyle: PolygonStyle{
			Color:       "blue",
			FillColor:   "blue",
			FillOpacity: 0.3,
		},
		Icon: MarkerIcon{URL: "images/marker.png", Size: 40},
	}
}
