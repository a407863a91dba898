// Package visibility decides which users may observe each other's presence.
//
// A Relation maps a restricted username to the usernames allowed to see it.
// Usernames absent from the relation are visible to everyone. The relation is
// built once at startup and never mutated, so it is safe for concurrent reads.
package visibility

import "sort"

// Relation is an immutable restricted-user table.
type Relation struct {
	allowed map[string]map[string]struct{}
}

// NewRelation copies restricted into a Relation. Each key is a hidden
// username and its value lists the usernames allowed to see it.
func NewRelation(restricted map[string][]string) *Relation {
	r := &Relation{allowed: make(map[string]map[string]struct{}, len(restricted))}
	for target, viewers := range restricted {
		set := make(map[string]struct{}, len(viewers))
		for _, v := range viewers {
			set[v] = struct{}{}
		}
		r.allowed[target] = set
	}
	return r
}

// CanSee reports whether viewer may observe target. A nil Relation
// restricts nobody.
func (r *Relation) CanSee(viewer, target string) bool {
	if r == nil {
		return true
	}
	set, restricted := r.allowed[target]
	if !restricted {
		return true
	}
	_, ok := set[viewer]
	return ok
}

// Restricted returns the sorted list of restricted usernames.
func (r *Relation) Restricted() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.allowed))
	for name := range r.allowed {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of restricted usernames.
func (r *Relation) Len() int {
	if r == nil {
		return 0
	}
	return len(r.allowed)
}
