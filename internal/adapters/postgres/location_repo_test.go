package postgres

import (
	"strings"
	"testing"
)

func TestSelectQuery(t *testing.T) {
	cols := LocationColumns{
		ID:           "id",
		Organization: "Pemegang Wilus",
		Name:         "Nama Lokasi",
		Geometry:     "geom",
	}
	q := selectQuery("locations", cols, []string{"UID"})

	for _, want := range []string{
		`COALESCE("Pemegang Wilus"::text, '')`,
		`COALESCE("Nama Lokasi"::text, '')`,
		`ST_AsGeoJSON("geom")`,
		`COALESCE("UID"::text, '')`,
		`FROM "locations" ORDER BY "id"`,
	} {
		if !strings.Contains(q, want) {
			t.Errorf("expected %q in query:\n%s", want, q)
		}
	}
}

func TestSelectQuery_LegacyColumn(t *testing.T) {
	cols := LocationColumns{ID: "id", Organization: "org", Name: "name", Geometry: "geom", Legacy: "coords"}
	q := selectQuery("locations", cols, nil)

	if !strings.Contains(q, `COALESCE(ST_AsGeoJSON("geom"), "coords"::text)`) {
		t.Errorf("legacy fallback missing:\n%s", q)
	}
}

func TestSelectQuery_QuotesHostileNames(t *testing.T) {
	cols := LocationColumns{ID: "id", Organization: `org"; DROP TABLE x; --`, Name: "name", Geometry: "geom"}
	q := selectQuery("locations", cols, nil)

	if !strings.Contains(q, `"org""; DROP TABLE x; --"`) {
		t.Errorf("identifier not escaped:\n%s", q)
	}
}

func TestAttributes_UseLabels(t *testing.T) {
	r := &LocationRepo{
		cols:     LocationColumns{Attributes: map[string]string{"UID": "PLN UID", "Kode": "Kode"}},
		attrCols: []string{"Kode", "UID"},
	}
	got := r.attributes([]string{"", "UID-JAYA"})

	if len(got) != 1 || got["PLN UID"] != "UID-JAYA" {
		t.Errorf("unexpected attributes %v", got)
	}
}
