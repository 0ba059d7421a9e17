// Package sidebar groups locations by owning organization and derives the
// navigable, filterable tree a presenter renders next to the map.
package sidebar

import "github.com/samirrijal/wilusmap/internal/core/domain"

// Group is one organization and its locations in fetch order.
type Group struct {
	Organization string                  `json:"organization"`
	Members      []domain.LocationRecord `json:"members"`
}

// GroupIndex holds groups ordered by first occurrence of their organization.
// It is rebuilt from scratch on every load and never patched.
type GroupIndex struct {
	Groups []Group

	byOrg map[string]int
}

// Build groups records by organization. Records that are not renderable are
// skipped. Build is deterministic: groups appear in order of first
// occurrence and members keep their input order.
func Build(records []domain.LocationRecord) GroupIndex {
	idx := GroupIndex{byOrg: make(map[string]int)}
	for _, rec := range records {
		if !renderable(rec) {
			continue
		}
		i, ok := idx.byOrg[rec.Organization]
		if !ok {
			i = len(idx.Groups)
			idx.byOrg[rec.Organization] = i
			idx.Groups = append(idx.Groups, Group{Organization: rec.Organization})
		}
		idx.Groups[i].Members = append(idx.Groups[i].Members, rec)
	}
	return idx
}

func renderable(rec domain.LocationRecord) bool {
	if rec.Organization == "" || rec.Name == "" {
		return false
	}
	switch rec.Geometry.Kind {
	case domain.GeometryPoint:
		return rec.Geometry.Point != nil
	case domain.GeometryPolygon:
		return len(rec.Geometry.Ring) >= 3
	}
	return false
}

// Len is the number of records across all groups.
func (g GroupIndex) Len() int {
	n := 0
	for _, grp := range g.Groups {
		n += len(grp.Members)
	}
	return n
}

// Group returns the group for an organization.
func (g GroupIndex) Group(org string) (Group, bool) {
	i, ok := g.byOrg[org]
	if !ok {
		return Group{}, false
	}
	return g.Groups[i], true
}

// Member returns the record at a group/member position.
func (g GroupIndex) Member(group, member int) (domain.LocationRecord, bool) {
	if group < 0 || group >= len(g.Groups) {
		return domain.LocationRecord{}, false
	}
	members := g.Groups[group].Members
	if member < 0 || member >= len(members) {
		return domain.LocationRecord{}, false
	}
	return members[member], true
}

// Records returns every grouped record, group by group.
func (g GroupIndex) Records() []domain.LocationRecord {
	out := make([]domain.LocationRecord, 0, g.Len())
	for _, grp := range g.Groups {
		out = append(out, grp.Members...)
	}
	return out
}
