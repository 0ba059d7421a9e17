package geospatial

import "math"

const (
	// tileSize is the pixel width of one Web Mercator tile at zoom 0.
	tileSize = 256.0

	// maxMercatorLat is where Web Mercator is cut off.
	maxMercatorLat = 85.0511287798
)

// MercatorY projects a latitude in degrees onto the Web Mercator y axis
// (radians of the projected plane, unscaled).
func MercatorY(lat float64) float64 {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	r := toRad(lat)
	return math.Log(math.Tan(math.Pi/4 + r/2))
}

// BoundsZoom returns the largest zoom level at which the box fits into a
// width x height pixel viewport. ok is false when the box has no extent on
// either axis, so any zoom fits.
func BoundsZoom(minLat, minLon, maxLat, maxLon float64, width, height float64) (zoom float64, ok bool) {
	zoom = math.Inf(1)

	if lonSpan := (maxLon - minLon) / 360; lonSpan > 0 && width > 0 {
		zoom = math.Min(zoom, math.Log2(width/(tileSize*lonSpan)))
		ok = true
	}
	if latSpan := (MercatorY(maxLat) - MercatorY(minLat)) / (2 * math.Pi); latSpan > 0 && height > 0 {
		zoom = math.Min(zoom, math.Log2(height/(tileSize*latSpan)))
		ok = true
	}
	if !ok {
		return 0, false
	}
	return zoom, true
}

// SnapZoom rounds zoom down to a multiple of step and clamps it to [min, max].
func SnapZoom(zoom, step, min, max float64) float64 {
	if step > 0 {
		zoom = math.Floor(zoom/step) * step
	}
	return math.Max(min, math.Min(max, zoom))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
