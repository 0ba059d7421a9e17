package sidebar

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// EntryKind distinguishes sidebar entries.
type EntryKind string

const (
	KindGroup       EntryKind = "group"
	KindLeaf        EntryKind = "leaf"
	KindPlaceholder EntryKind = "placeholder"
)

// PlaceholderID is the ID of the "no matches" entry.
const PlaceholderID = "none"

// PlaceholderLabel is shown when a filter hides every group.
const PlaceholderLabel = "No matches"

var ErrUnknownEntry = errors.New("unknown sidebar entry")

// Entry is one node of the declarative sidebar tree.
type Entry struct {
	ID           string    `json:"id"`
	Kind         EntryKind `json:"kind"`
	Label        string    `json:"label"`
	Organization string    `json:"organization,omitempty"`
	RecordID     string    `json:"record_id,omitempty"`
	Collapsible  bool      `json:"collapsible"`
	Expanded     bool      `json:"expanded"`
	Visible      bool      `json:"visible"`
	Children     []Entry   `json:"children,omitempty"`
}

// GroupID is the entry ID of the group at position i.
func GroupID(i int) string { return "g" + strconv.Itoa(i) }

// MemberID is the entry ID of member j of group i. A single-member group's
// flat entry uses MemberID(i, 0).
func MemberID(i, j int) string { return GroupID(i) + "." + strconv.Itoa(j) }

// ParseEntryID splits an entry ID into its group and member positions.
// member is -1 for group entries.
func ParseEntryID(id string) (group, member int, err error) {
	rest, ok := strings.CutPrefix(id, "g")
	if !ok {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownEntry, id)
	}
	gs, ms, hasMember := strings.Cut(rest, ".")
	group, err = strconv.Atoi(gs)
	if err != nil || group < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownEntry, id)
	}
	if !hasMember {
		return group, -1, nil
	}
	member, err = strconv.Atoi(ms)
	if err != nil || member < 0 {
		return 0, 0, fmt.Errorf("%w: %q", ErrUnknownEntry, id)
	}
	return group, member, nil
}

// Tree renders the index as sidebar entries. Single-member groups become one
// flat leaf labeled "organization — name"; larger groups become collapsible
// parents, expanded only when their organization is in expanded.
func Tree(idx GroupIndex, expanded map[string]bool) []Entry {
	out := make([]Entry, 0, len(idx.Groups))
	for i, grp := range idx.Groups {
		if len(grp.Members) == 1 {
			rec := grp.Members[0]
			out = append(out, Entry{
				ID:           MemberID(i, 0),
				Kind:         KindLeaf,
				Label:        rec.Organization + " — " + rec.Name,
				Organization: grp.Organization,
				RecordID:     rec.ID,
				Visible:      true,
			})
			continue
		}

		parent := Entry{
			ID:           GroupID(i),
			Kind:         KindGroup,
			Label:        grp.Organization,
			Organization: grp.Organization,
			Collapsible:  true,
			Expanded:     expanded[grp.Organization],
			Visible:      true,
			Children:     make([]Entry, 0, len(grp.Members)),
		}
		for j, rec := range grp.Members {
			parent.Children = append(parent.Children, Entry{
				ID:           MemberID(i, j),
				Kind:         KindLeaf,
				Label:        rec.Name,
				Organization: grp.Organization,
				RecordID:     rec.ID,
				Visible:      true,
			})
		}
		out = append(out, parent)
	}
	return out
}

// View is Tree with a filter applied: hidden entries carry Visible=false and
// a placeholder entry is appended when nothing matches.
func View(idx GroupIndex, expanded map[string]bool, query string) []Entry {
	entries := Tree(idx, expanded)
	vis := Filter(idx, query)
	for i := range entries {
		entries[i].Visible = vis.Groups[i]
		for j := range entries[i].Children {
			entries[i].Children[j].Visible = vis.Members[i][j]
		}
	}
	if vis.Placeholder {
		entries = append(entries, Entry{
			ID:      PlaceholderID,
			Kind:    KindPlaceholder,
			Label:   PlaceholderLabel,
			Visible: true,
		})
	}
	return entries
}
