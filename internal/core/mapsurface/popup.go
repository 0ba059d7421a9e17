package mapsurface

import (
	"sort"

	"github.com/samirrijal/wilusmap/internal/core/domain"
)

// Metadata is what a shape's popup is built from.
type Metadata struct {
	RecordID     string
	Name         string
	Organization string
	Attributes   map[string]string
}

// MetadataFor extracts popup metadata from a location.
func MetadataFor(rec domain.LocationRecord) Metadata {
	return Metadata{
		RecordID:     rec.ID,
		Name:         rec.Name,
		Organization: rec.Organization,
		Attributes:   rec.Attributes,
	}
}

// Popup is structured popup content; the presenter decides the markup.
type Popup struct {
	Title  string       `json:"title"`
	Fields []PopupField `json:"fields,omitempty"`
}

// PopupField is one labeled line of a popup.
type PopupField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// PopupFor builds popup content: the display name as title, then the owning
// company, then identifier attributes sorted by name. Empty values are left out.
func PopupFor(meta Metadata) Popup {
	p := Popup{Title: meta.Name}
	if meta.Organization != "" {
		p.Fields = append(p.Fields, PopupField{Label: "Company", Value: meta.Organization})
	}

	keys := make([]string, 0, len(meta.Attributes))
	for k, v := range meta.Attributes {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		p.Fields = append(p.Fields, PopupField{Label: k, Value: meta.Attributes[k]})
	}
	return p
}
