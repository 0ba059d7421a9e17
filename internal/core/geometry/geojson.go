package geometry

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// FeatureKeys names the feature properties used when converting between
// location records and GeoJSON features.
type FeatureKeys struct {
	// ID is read when a feature has no top-level id.
	ID           string
	Organization string
	Name         string
	// Attributes maps property names to attribute labels.
	Attributes map[string]string
}

// ToOrb converts a normalized geometry to orb. orb points are (lon, lat).
func ToOrb(g domain.Geometry) orb.Geometry {
	switch g.Kind {
	case domain.GeometryPoint:
		if g.Point != nil {
			return orb.Point{g.Point.Lon, g.Point.Lat}
		}
	case domain.GeometryPolygon:
		ring := make(orb.Ring, len(g.Ring))
		for i, p := range g.Ring {
			ring[i] = orb.Point{p.Lon, p.Lat}
		}
		return orb.Polygon{ring}
	}
	return nil
}

// FeatureCollection exports records as GeoJSON features in record order.
func FeatureCollection(records []domain.LocationRecord, keys FeatureKeys) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, rec := range records {
		g := ToOrb(rec.Geometry)
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		f.ID = rec.ID
		f.Properties[keys.Organization] = rec.Organization
		f.Properties[keys.Name] = rec.Name
		for prop, label := range keys.Attributes {
			if v, ok := rec.Attributes[label]; ok {
				f.Properties[prop] = v
			}
		}
		fc.Append(f)
	}
	return fc
}

// RecordsFromFeatures reads raw records out of a feature collection. The
// records are not validated; every feature must carry an ID.
func RecordsFromFeatures(fc *geojson.FeatureCollection, keys FeatureKeys) ([]domain.RawLocationRecord, error) {
	out := make([]domain.RawLocationRecord, 0, len(fc.Features))
	for i, f := range fc.Features {
		rec := domain.RawLocationRecord{
			ID:           scalar(f.ID),
			Organization: scalar(f.Properties[keys.Organization]),
			Name:         scalar(f.Properties[keys.Name]),
		}
		if rec.ID == "" && keys.ID != "" {
			rec.ID = scalar(f.Properties[keys.ID])
		}
		if rec.ID == "" {
			return nil, fmt.Errorf("feature %d: missing id", i)
		}

		if f.Geometry != nil {
			data, err := geojson.NewGeometry(f.Geometry).MarshalJSON()
			if err != nil {
				return nil, fmt.Errorf("feature %q: encode geometry: %w", rec.ID, err)
			}
			if rec.Geometry, err = DecodeRaw(data); err != nil {
				return nil, fmt.Errorf("feature %q: %w", rec.ID, err)
			}
		}

		for prop, label := range keys.Attributes {
			if v := scalar(f.Properties[prop]); v != "" {
				if rec.Attributes == nil {
					rec.Attributes = make(map[string]string)
				}
				rec.Attributes[label] = v
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func scalar(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}
