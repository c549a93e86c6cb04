// Package roles reconciles guild role membership with application status.
package roles

import (
	"sort"
)

// Set is a deduplicated set of role ids. Empty ids are dropped, so an
// unconfigured role simply never appears in a change.
type Set []string

// NewSet builds a Set from ids, keeping first-seen order.
func NewSet(ids ...string) Set {
	seen := make(map[string]bool, len(ids))
	out := make(Set, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s Set) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Sorted returns a sorted copy, for stable logging.
func (s Set) Sorted() []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

// Change is a declarative role transition.
type Change struct {
	Add    Set
	Remove Set
}

// Empty reports whether the change has nothing to do.
func (c Change) Empty() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0
}

// Catalog holds the configured role ids and enumerates the transitions of
// the lifecycle. A role never appears in both sets of the same change.
type Catalog struct {
	Candidate string
	Whitelist string
	Blacklist string
}

// OnSubmit grants the candidate role.
func (c Catalog) OnSubmit() Change {
	return Change{Add: NewSet(c.Candidate)}
}

// OnApprove grants the whitelist role and drops the candidate and blacklist roles.
func (c Catalog) OnApprove() Change {
	return Change{
		Add:    NewSet(c.Whitelist),
		Remove: NewSet(c.Candidate, c.Blacklist),
	}
}

// OnReject grants the blacklist role and drops the whitelist and candidate roles.
func (c Catalog) OnReject() Change {
	return Change{
		Add:    NewSet(c.Blacklist),
		Remove: NewSet(c.Whitelist, c.Candidate),
	}
}

// OnUnreject only lifts the blacklist role; nothing is re-granted.
func (c Catalog) OnUnreject() Change {
	return Change{Remove: NewSet(c.Blacklist)}
}
