// Package mapsurface models the rendered map: the shapes drawn on it, the
// transient marker, and the viewport.
//
// A Surface is not safe for concurrent use. It is owned by exactly one
// session, which serializes every call.
package mapsurface

import (
	"errors"
	"fmt"
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/pkg/geospatial"
)

var (
	ErrAlreadyAttached = errors.New("map surface already attached")
	ErrUnknownShape    = errors.New("unknown shape")
)

// ShapeHandle addresses a shape on one Surface. The zero handle is never issued.
type ShapeHandle uint64

// ShapeKind distinguishes the drawable shapes.
type ShapeKind string

const (
	ShapeMarker    ShapeKind = "marker"
	ShapePolygon   ShapeKind = "polygon"
	ShapeTransient ShapeKind = "transient"
)

// Shape is one marker or polygon currently drawn on the surface.
type Shape struct {
	Handle   ShapeHandle       `json:"handle"`
	Kind     ShapeKind         `json:"kind"`
	RecordID string            `json:"record_id,omitempty"`
	Point    *domain.GeoPoint  `json:"point,omitempty"`
	Ring     []domain.GeoPoint `json:"ring,omitempty"`
	Bounds   domain.Bounds     `json:"bounds"`
	Popup    Popup             `json:"popup"`
	Style    *PolygonStyle     `json:"style,omitempty"`
	Icon     *MarkerIcon       `json:"icon,omitempty"`

	ring orb.Ring
}

// Viewport is what the map currently shows. Bounds is set when the view was
// fitted to a shape rather than centered at a fixed zoom.
type Viewport struct {
	Center  domain.GeoPoint `json:"center"`
	Zoom    float64         `json:"zoom"`
	Bounds  *domain.Bounds  `json:"bounds,omitempty"`
	Padding int             `json:"padding,omitempty"`
}

// Surface holds the shapes of one rendered map.
type Surface struct {
	opts     Options
	target   string
	next     ShapeHandle
	shapes   map[ShapeHandle]*Shape
	order    []ShapeHandle
	byRecord map[string][]ShapeHandle

	transient ShapeHandle
	viewport  Viewport
}

// New creates an empty, unattached surface showing the initial view.
func New(opts Options) *Surface {
	return &Surface{
		opts:     opts,
		shapes:   make(map[ShapeHandle]*Shape),
		byRecord: make(map[string][]ShapeHandle),
		viewport: Viewport{Center: opts.Center, Zoom: opts.Zoom},
	}
}

// Attach binds the surface to a viewport target. A surface attaches once;
// later calls return ErrAlreadyAttached and change nothing.
func (s *Surface) Attach(target string) error {
	if s.target != "" {
		return fmt.Errorf("%w to %q", ErrAlreadyAttached, s.target)
	}
	s.target = target
	return nil
}

// Target returns the viewport target the surface is attached to.
func (s *Surface) Target() string { return s.target }

// AddPoint draws a marker. The same record may be added more than once;
// each call yields an independent shape.
func (s *Surface) AddPoint(coord domain.GeoPoint, meta Metadata) ShapeHandle {
	p := coord
	icon := s.opts.Icon
	return s.add(&Shape{
		Kind:     ShapeMarker,
		RecordID: meta.RecordID,
		Point:    &p,
		Bounds:   domain.BoundsOf([]domain.GeoPoint{coord}),
		Popup:    PopupFor(meta),
		Icon:     &icon,
	})
}

// AddPolygon draws a filled polygon from a (lat, lon) ring.
func (s *Surface) AddPolygon(ring []domain.GeoPoint, meta Metadata) ShapeHandle {
	style := s.opts.PolygonStyle
	return s.add(&Shape{
		Kind:     ShapePolygon,
		RecordID: meta.RecordID,
		Ring:     slices.Clone(ring),
		Bounds:   domain.BoundsOf(ring),
		Popup:    PopupFor(meta),
		Style:    &style,
		ring:     toOrbRing(ring),
	})
}

// AddGeometry draws a record's geometry as a marker or a polygon.
func (s *Surface) AddGeometry(g domain.Geometry, meta Metadata) (ShapeHandle, error) {
	switch {
	case g.Kind == domain.GeometryPoint && g.Point != nil:
		return s.AddPoint(*g.Point, meta), nil
	case g.Kind == domain.GeometryPolygon:
		return s.AddPolygon(g.Ring, meta), nil
	default:
		return 0, fmt.Errorf("cannot draw geometry kind %q", g.Kind)
	}
}

func (s *Surface) add(sh *Shape) ShapeHandle {
	s.next++
	sh.Handle = s.next
	s.shapes[sh.Handle] = sh
	s.order = append(s.order, sh.Handle)
	if sh.RecordID != "" {
		s.byRecord[sh.RecordID] = append(s.byRecord[sh.RecordID], sh.Handle)
	}
	return sh.Handle
}

// Remove deletes a shape. It reports whether the handle was drawn.
func (s *Surface) Remove(h ShapeHandle) bool {
	sh, ok := s.shapes[h]
	if !ok {
		return false
	}
	delete(s.shapes, h)
	s.order = slices.DeleteFunc(s.order, func(o ShapeHandle) bool { return o == h })

	if sh.RecordID != "" {
		rest := slices.DeleteFunc(s.byRecord[sh.RecordID], func(o ShapeHandle) bool { return o == h })
		if len(rest) == 0 {
			delete(s.byRecord, sh.RecordID)
		} else {
			s.byRecord[sh.RecordID] = rest
		}
	}
	if s.transient == h {
		s.transient = 0
	}
	return true
}

// Clear removes every shape except the transient marker.
func (s *Surface) Clear() {
	for _, h := range slices.Clone(s.order) {
		if h != s.transient {
			s.Remove(h)
		}
	}
}

// Lookup returns the most recently drawn shape for a record.
func (s *Surface) Lookup(recordID string) (ShapeHandle, bool) {
	hs := s.byRecord[recordID]
	if len(hs) == 0 {
		return 0, false
	}
	return hs[len(hs)-1], true
}

// Shape returns a copy of the shape behind h.
func (s *Surface) Shape(h ShapeHandle) (Shape, bool) {
	sh, ok := s.shapes[h]
	if !ok {
		return Shape{}, false
	}
	return *sh, true
}

// Shapes returns copies of all shapes in drawing order.
func (s *Surface) Shapes() []Shape {
	out := make([]Shape, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, *s.shapes[h])
	}
	return out
}

// Len is the number of shapes drawn, the transient marker included.
func (s *Surface) Len() int { return len(s.order) }

// PlaceTransientMarker replaces the transient marker with one at coord.
func (s *Surface) PlaceTransientMarker(coord domain.GeoPoint) ShapeHandle {
	if s.transient != 0 {
		s.Remove(s.transient)
	}
	p := coord
	icon := s.opts.Icon
	h := s.add(&Shape{
		Kind:   ShapeTransient,
		Point:  &p,
		Bounds: domain.BoundsOf([]domain.GeoPoint{coord}),
		Popup:  Popup{Title: coord.String()},
		Icon:   &icon,
	})
	s.transient = h
	return h
}

// TransientMarker returns the current transient marker, if any.
func (s *Surface) TransientMarker() (Shape, bool) {
	if s.transient == 0 {
		return Shape{}, false
	}
	return s.Shape(s.transient)
}

// ContainsPoint reports whether coord falls inside the bounding box of at
// least one drawn polygon. This is an approximation: a point in a concave
// notch of a polygon, inside its box, counts as contained. With
// ContainmentExact the outer ring itself is tested as well.
func (s *Surface) ContainsPoint(coord domain.GeoPoint) bool {
	for _, h := range s.order {
		sh := s.shapes[h]
		if sh.Kind != ShapePolygon || !sh.Bounds.Contains(coord) {
			continue
		}
		if s.opts.Containment == ContainmentExact && !planar.RingContains(sh.ring, toOrbPoint(coord)) {
			continue
		}
		return true
	}
	return false
}

// FocusOn centers the view on coord at a fixed zoom.
func (s *Surface) FocusOn(coord domain.GeoPoint, zoom float64) Viewport {
	zoom = geospatial.SnapZoom(zoom, 0, s.opts.MinZoom, s.opts.MaxZoom)
	s.viewport = Viewport{Center: coord, Zoom: zoom}
	return s.viewport
}

// FitBounds fits the view to b, keeping Padding pixels clear on each side.
func (s *Surface) FitBounds(b domain.Bounds) Viewport {
	w := float64(s.opts.Width - 2*s.opts.Padding)
	h := float64(s.opts.Height - 2*s.opts.Padding)

	zoom, ok := geospatial.BoundsZoom(b.MinLat, b.MinLon, b.MaxLat, b.MaxLon, w, h)
	if !ok {
		zoom = s.opts.MaxZoom
	}
	zoom = geospatial.SnapZoom(zoom, s.opts.ZoomSnap, s.opts.MinZoom, s.opts.MaxZoom)

	fitted := b
	s.viewport = Viewport{Center: b.Center(), Zoom: zoom, Bounds: &fitted, Padding: s.opts.Padding}
	return s.viewport
}

// FocusShape focuses a drawn shape: markers at zoom, polygons fitted.
func (s *Surface) FocusShape(h ShapeHandle, zoom float64) (Viewport, error) {
	sh, ok := s.shapes[h]
	if !ok {
		return Viewport{}, fmt.Errorf("%w: %d", ErrUnknownShape, h)
	}
	if sh.Kind == ShapePolygon {
		return s.FitBounds(sh.Bounds), nil
	}
	return s.FocusOn(*sh.Point, zoom), nil
}

// Viewport returns the current view.
func (s *Surface) Viewport() Viewport { return s.viewport }

// orb works in X=lon, Y=lat.
func toOrbPoint(p domain.GeoPoint) orb.Point {
	return orb.Point{p.Lon, p.Lat}
}

func toOrbRing(ring []domain.GeoPoint) orb.Ring {
	r := make(orb.Ring, len(ring))
	for i, p := range ring {
		r[i] = toOrbPoint(p)
	}
	return r
}
