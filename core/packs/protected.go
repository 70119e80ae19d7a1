package packs

import (
	"sort"
	"strings"
)

// DefaultProtectedPacks are the system packs that can never be deregistered.
var DefaultProtectedPacks = []string{"chatops", "core", "default", "linux", "packs"}

// ProtectedSet is an immutable set of reserved pack names.
type ProtectedSet struct {
	names map[string]struct{}
}

// NewProtectedSet builds a protected set. Blank names are dropped.
func NewProtectedSet(names ...string) ProtectedSet {
	set := ProtectedSet{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set.names[name] = struct{}{}
	}
	return set
}

// Contains reports whether name is protected.
func (p ProtectedSet) Contains(name string) bool {
	_, ok := p.names[name]
	return ok
}

// Intersect returns the protected names present in names, sorted and de-duplicated.
func (p ProtectedSet) Intersect(names []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, name := range names {
		if !p.Contains(name) {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Names returns the protected names in sorted order.
func (p ProtectedSet) Names() []string {
	out := make([]string, 0, len(p.names))
	for name := range p.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
