package sidebar

import "strings"

// Visibility assigns a visible flag to every group and member of an index,
// by position.
type Visibility struct {
	Query       string   `json:"query"`
	Groups      []bool   `json:"groups"`
	Members     [][]bool `json:"members"`
	Placeholder bool     `json:"placeholder"`
}

// VisibleGroups counts the groups left visible.
func (v Visibility) VisibleGroups() int {
	n := 0
	for _, ok := range v.Groups {
		if ok {
			n++
		}
	}
	return n
}

// Filter matches query case-insensitively as a substring of organization or
// display names. A group is visible when it or any member matches; a member
// is visible when it or its group matches. The empty query shows everything
// and never yields the placeholder, even over an empty index.
func Filter(idx GroupIndex, query string) Visibility {
	q := strings.ToLower(strings.TrimSpace(query))
	vis := Visibility{
		Query:   query,
		Groups:  make([]bool, len(idx.Groups)),
		Members: make([][]bool, len(idx.Groups)),
	}

	for i, grp := range idx.Groups {
		groupHit := matches(grp.Organization, q)
		members := make([]bool, len(grp.Members))
		anyMember := false
		for j, rec := range grp.Members {
			hit := matches(rec.Name, q)
			anyMember = anyMember || hit
			members[j] = hit || groupHit
		}
		vis.Groups[i] = groupHit || anyMember
		vis.Members[i] = members
	}

	vis.Placeholder = q != "" && vis.VisibleGroups() == 0
	return vis
}

func matches(s, lowered string) bool {
	if lowered == "" {
		return true
	}
	return strings.Contains(strings.ToLower(s), lowered)
}
