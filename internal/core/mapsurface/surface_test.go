package mapsurface_test

import (
	"errors"
	"testing"

	"github.com/samirrijal/wilusmap/internal/core/domain"
	"github.com/samirrijal/wilusmap/internal/core/mapsurface"
)

// notched is a concave "C" shape spanning lat [-6.3,-6.2], lon [106.8,106.9]
// whose notch covers the middle of the east side.
var notched = []domain.GeoPoint{
	{Lat: -6.3, Lon: 106.8},
	{Lat: -6.3, Lon: 106.9},
	{Lat: -6.28, Lon: 106.9},
	{Lat: -6.28, Lon: 106.82},
	{Lat: -6.22, Lon: 106.82},
	{Lat: -6.22, Lon: 106.9},
	{Lat: -6.2, Lon: 106.9},
	{Lat: -6.2, Lon: 106.8},
	{Lat: -6.3, Lon: 106.8},
}

func newSurface() *mapsurface.Surface {
	return mapsurface.New(mapsurface.DefaultOptions())
}

func TestSurface_InitialViewport(t *testing.T) {
	vp := newSurface().Viewport()
	if vp.Center.Lat != -6.2088 || vp.Center.Lon != 106.8456 || vp.Zoom != 6 {
		t.Errorf("unexpected initial viewport %+v", vp)
	}
}

func TestSurface_AddAndLookup(t *testing.T) {
	s := newSurface()
	h := s.AddPoint(domain.GeoPoint{Lat: -6.2, Lon: 106.8}, mapsurface.Metadata{RecordID: "r1", Name: "X1", Organization: "A"})

	got, ok := s.Lookup("r1")
	if !ok || got != h {
		t.Fatalf("expected lookup to return %d, got %d (%v)", h, got, ok)
	}
	sh, _ := s.Shape(h)
	if sh.Kind != mapsurface.ShapeMarker || sh.Popup.Title != "X1" {
		t.Errorf("unexpected shape %+v", sh)
	}
}

func TestSurface_NoDeduplication(t *testing.T) {
	s := newSurface()
	meta := mapsurface.Metadata{RecordID: "r1", Name: "X1"}
	h1 := s.AddPoint(domain.GeoPoint{Lat: 1, Lon: 2}, meta)
	h2 := s.AddPoint(domain.GeoPoint{Lat: 1, Lon: 2}, meta)

	if h1 == h2 {
		t.Fatal("expected two independent handles")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 shapes, got %d", s.Len())
	}

	s.Remove(h2)
	if got, _ := s.Lookup("r1"); got != h1 {
		t.Errorf("expected lookup to fall back to %d, got %d", h1, got)
	}
	s.Remove(h1)
	if _, ok := s.Lookup("r1"); ok {
		t.Error("expected no shape for r1")
	}
	if s.Remove(h1) {
		t.Error("removing twice must report false")
	}
}

func TestSurface_TransientMarkerReplaced(t *testing.T) {
	s := newSurface()
	first := s.PlaceTransientMarker(domain.GeoPoint{Lat: -6.1, Lon: 106.7})
	second := s.PlaceTransientMarker(domain.GeoPoint{Lat: -6.123456789, Lon: 106.987654321})

	if _, ok := s.Shape(first); ok {
		t.Error("first transient marker should have been removed")
	}

	count := 0
	for _, sh := range s.Shapes() {
		if sh.Kind == mapsurface.ShapeTransient {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one transient marker, got %d", count)
	}

	tm, ok := s.TransientMarker()
	if !ok || tm.Handle != second {
		t.Fatalf("expected transient marker %d, got %+v", second, tm)
	}
	if tm.Popup.Title != "-6.12346, 106.98765" {
		t.Errorf("unexpected popup %q", tm.Popup.Title)
	}
}

func TestSurface_ClearKeepsTransient(t *testing.T) {
	s := newSurface()
	s.AddPoint(domain.GeoPoint{Lat: 1, Lon: 1}, mapsurface.Metadata{RecordID: "a"})
	s.AddPolygon(notched, mapsurface.Metadata{RecordID: "b"})
	tm := s.PlaceTransientMarker(domain.GeoPoint{Lat: 2, Lon: 2})

	s.Clear()

	if s.Len() != 1 {
		t.Fatalf("expected only the transient marker, got %d shapes", s.Len())
	}
	if _, ok := s.Shape(tm); !ok {
		t.Error("transient marker was cleared")
	}
}

func TestSurface_ContainsPointBoundingBox(t *testing.T) {
	s := newSurface()
	s.AddPolygon(notched, mapsurface.Metadata{RecordID: "area"})

	// Inside the notch: outside the real boundary, inside the box.
	if !s.ContainsPoint(domain.GeoPoint{Lat: -6.25, Lon: 106.85}) {
		t.Error("bounding-box containment should report the notch as contained")
	}
	if !s.ContainsPoint(domain.GeoPoint{Lat: -6.3, Lon: 106.9}) {
		t.Error("box edges are inclusive")
	}
	if s.ContainsPoint(domain.GeoPoint{Lat: -6.1, Lon: 106.85}) {
		t.Error("point north of the box must not be contained")
	}
}

func TestSurface_ContainsPointIgnoresMarkers(t *testing.T) {
	s := newSurface()
	p := domain.GeoPoint{Lat: -6.25, Lon: 106.85}
	s.AddPoint(p, mapsurface.Metadata{RecordID: "m"})
	s.PlaceTransientMarker(p)

	if s.ContainsPoint(p) {
		t.Error("markers are not areas")
	}
}

func TestSurface_ContainsPointExact(t *testing.T) {
	opts := mapsurface.DefaultOptions()
	opts.Containment = mapsurface.ContainmentExact
	s := mapsurface.New(opts)
	s.AddPolygon(notched, mapsurface.Metadata{RecordID: "area"})

	if s.ContainsPoint(domain.GeoPoint{Lat: -6.25, Lon: 106.85}) {
		t.Error("exact mode must reject the notch")
	}
	if !s.ContainsPoint(domain.GeoPoint{Lat: -6.25, Lon: 106.81}) {
		t.Error("exact mode must accept the spine of the shape")
	}
}

func TestSurface_FocusPointUsesFixedZoom(t *testing.T) {
	s := newSurface()
	h := s.AddPoint(domain.GeoPoint{Lat: -6.2, Lon: 106.8}, mapsurface.Metadata{RecordID: "p"})

	vp, err := s.FocusShape(h, 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vp.Zoom != 14 || vp.Bounds != nil {
		t.Errorf("expected fixed zoom 14 without bounds, got %+v", vp)
	}
	if vp.Center.Lat != -6.2 || vp.Center.Lon != 106.8 {
		t.Errorf("unexpected center %+v", vp.Center)
	}
}

func TestSurface_FocusPolygonFitsBounds(t *testing.T) {
	s := newSurface()
	small := s.AddPolygon([]domain.GeoPoint{{Lat: -6.21, Lon: 106.80}, {Lat: -6.21, Lon: 106.81}, {Lat: -6.20, Lon: 106.81}}, mapsurface.Metadata{})
	large := s.AddPolygon([]domain.GeoPoint{{Lat: -8, Lon: 105}, {Lat: -8, Lon: 108}, {Lat: -5, Lon: 108}}, mapsurface.Metadata{})

	vs, _ := s.FocusShape(small, 14)
	vl, _ := s.FocusShape(large, 14)

	if vs.Bounds == nil || vl.Bounds == nil {
		t.Fatal("polygon focus must fit bounds")
	}
	if vs.Zoom <= vl.Zoom {
		t.Errorf("small polygon should zoom in further: small=%v large=%v", vs.Zoom, vl.Zoom)
	}
	if vl.Padding != 20 {
		t.Errorf("expected padding 20, got %d", vl.Padding)
	}
	if half := vs.Zoom * 2; half != float64(int(half)) {
		t.Errorf("zoom %v not snapped to 0.5", vs.Zoom)
	}
}

func TestSurface_FocusUnknownShape(t *testing.T) {
	_, err := newSurface().FocusShape(99, 14)
	if !errors.Is(err, mapsurface.ErrUnknownShape) {
		t.Errorf("expected ErrUnknownShape, got %v", err)
	}
}

func TestSurface_AttachOnce(t *testing.T) {
	s := newSurface()
	if err := s.Attach("map"); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := s.Attach("map"); !errors.Is(err, mapsurface.ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
	if s.Target() != "map" {
		t.Errorf("expected target map, got %s", s.Target())
	}
}

func TestPopupFor(t *testing.T) {
	p := mapsurface.PopupFor(mapsurface.Metadata{
		Name:         "Gardu Induk Cawang",
		Organization: "PT PLN",
		Attributes:   map[string]string{"UID": "UID-JAYA", "Area": "", "Code": "C1"},
	})
	if p.Title != "Gardu Induk Cawang" {
		t.Errorf("unexpected title %q", p.Title)
	}
	want := []mapsurface.PopupField{
		{Label: "Company", Value: "PT PLN"},
		{Label: "Code", Value: "C1"},
		{Label: "UID", Value: "UID-JAYA"},
	}
	if len(p.Fields) != len(want) {
		t.Fatalf("expected %d fields, got %+v", len(want), p.Fields)
	}
	for i := range want {
		if p.Fields[i] != want[i] {
			t.Errorf("field %d: expected %+v, got %+v", i, want[i], p.Fields[i])
		}
	}
}
