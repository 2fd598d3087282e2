package dtu

import (
	"slices"
	"sort"
)

// Store holds DTUs addressed by id in two mappings: the authoritative
// canonical mapping and a shadow mapping of non-canonical copies.
//
// Shadow entries are visible to reads but never targeted by writes that go
// through governance. There is no delete.
type Store struct {
	canonical map[string]*DTU
	shadow    map[string]*DTU
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		canonical: make(map[string]*DTU),
		shadow:    make(map[string]*DTU),
	}
}

// Put inserts or replaces a canonical DTU. The store keeps its own copy.
func (s *Store) Put(d DTU) {
	c := d.Clone()
	s.canonical[d.ID] = &c
}

// PutShadow inserts or replaces a shadow DTU.
func (s *Store) PutShadow(d DTU) {
	c := d.Clone()
	s.shadow[d.ID] = &c
}

// Get returns a copy of the canonical DTU with id.
func (s *Store) Get(id string) (DTU, bool) {
	d, ok := s.canonical[id]
	if !ok {
		return DTU{}, false
	}
	return d.Clone(), true
}

// Lookup checks canonical then shadow storage and returns a copy tagged
// with its source.
func (s *Store) Lookup(id string) (DTU, Source, bool) {
	if d, ok := s.canonical[id]; ok {
		return d.Clone(), SourceCanonical, true
	}
	if d, ok := s.shadow[id]; ok {
		return d.Clone(), SourceShadow, true
	}
	return DTU{}, "", false
}

// Mutate runs fn against the stored canonical DTU in place.
// Returns false if id is not canonical.
func (s *Store) Mutate(id string, fn func(d *DTU)) bool {
	d, ok := s.canonical[id]
	if !ok {
		return false
	}
	fn(d)
	return true
}

// Has reports whether id is canonical.
func (s *Store) Has(id string) bool {
	_, ok := s.canonical[id]
	return ok
}

// Exists reports whether id is canonical or shadow.
func (s *Store) Exists(id string) bool {
	if s.Has(id) {
		return true
	}
	_, ok := s.shadow[id]
	return ok
}

// Len returns the canonical count.
func (s *Store) Len() int {
	return len(s.canonical)
}

// ShadowLen returns the shadow count.
func (s *Store) ShadowLen() int {
	return len(s.shadow)
}

// IDs returns canonical ids in sorted order.
func (s *Store) IDs() []string {
	ids := make([]string, 0, len(s.canonical))
	for id := range s.canonical {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Filter narrows a canonical scan. Zero values match everything.
type Filter struct {
	// Tags must all be present on a match.
	Tags         []string
	Tier         Tier
	MinResonance float64
	MinCoherence float64
}

// Matches reports whether d satisfies f.
func (f Filter) Matches(d *DTU) bool {
	if f.Tier != "" && d.Tier != f.Tier {
		return false
	}
	if d.Resonance < f.MinResonance || d.Coherence < f.MinCoherence {
		return false
	}
	for _, tag := range f.Tags {
		if !slices.Contains(d.Tags, tag) {
			return false
		}
	}
	return true
}

// Query returns copies of canonical DTUs matching f, ordered by id, at most
// limit entries. limit <= 0 means no limit.
func (s *Store) Query(f Filter, limit int) []DTU {
	out := []DTU{}
	for _, id := range s.IDs() {
		d := s.canonical[id]
		if !f.Matches(d) {
			continue
		}
		out = append(out, d.Clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Scan calls fn for every canonical DTU in id order. fn must not retain d.
func (s *Store) Scan(fn func(d *DTU)) {
	for _, id := range s.IDs() {
		fn(s.canonical[id])
	}
}
