// Package edge implements typed, weighted relations between DTUs.
//
// Edges are directed and indexed bidirectionally. The indices hold edge ids
// only, never pointers to DTUs, so the node arena (dtu.Store) and the edge
// arena can be owned independently.
//
// A Graph is not safe for concurrent use; lattice.Lattice serializes access.
package edge

import (
	"slices"
	"time"
)

// Type is the closed set of relation kinds.
type Type string

const (
	TypeSupports    Type = "supports"
	TypeContradicts Type = "contradicts"
	TypeDerives     Type = "derives"
	TypeCauses      Type = "causes"
	TypeRequires    Type = "requires"
	TypeReferences  Type = "references"
	TypeRefines     Type = "refines"
	TypeSimilar     Type = "similar"
	TypeSupersedes  Type = "supersedes"
)

// validTypes lists every accepted edge type in declaration order.
var validTypes = []Type{
	TypeSupports, TypeContradicts, TypeDerives, TypeCauses, TypeRequires,
	TypeReferences, TypeRefines, TypeSimilar, TypeSupersedes,
}

// Types returns the accepted edge types in declaration order.
func Types() []Type {
	return slices.Clone(validTypes)
}

// Valid reports whether t is one of the known edge types.
func (t Type) Valid() bool {
	return slices.Contains(validTypes, t)
}

// Default attribute values applied when an Input leaves them unset.
const (
	DefaultWeight     = 0.5
	DefaultConfidence = 0.5
)

// Edge is a directed relation from Source to Target.
//
// Weight and Confidence are always in [0, 1]. Evidence is a set that only
// grows through Update.
type Edge struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Target     string    `json:"target"`
	Type       Type      `json:"type"`
	Weight     float64   `json:"weight"`
	Confidence float64   `json:"confidence"`
	Evidence   []string  `json:"evidence"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// clone returns an independent copy.
func (e *Edge) clone() Edge {
	c := *e
	c.Evidence = slices.Clone(e.Evidence)
	return c
}

// Input describes an edge to create. Nil Weight or Confidence takes the
// package default.
type Input struct {
	Source     string   `json:"source" yaml:"source"`
	Target     string   `json:"target" yaml:"target"`
	Type       Type     `json:"type" yaml:"type"`
	Weight     *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Evidence   []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	CreatedBy  string   `json:"created_by,omitempty" yaml:"created_by,omitempty"`
}

// Update adjusts an existing edge. Nil fields are left unchanged; Evidence
// is unioned into the existing set.
type Update struct {
	Weight     *float64 `json:"weight,omitempty" yaml:"weight,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Evidence   []string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

// Filter narrows Query. Zero values match everything.
type Filter struct {
	Source        string
	Target        string
	Type          Type
	MinWeight     float64
	MinConfidence float64
}

func (f Filter) matches(e *Edge) bool {
	if f.Source != "" && e.Source != f.Source {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	return e.Weight >= f.MinWeight && e.Confidence >= f.MinConfidence
}

// Neighborhood is the one-hop view of a node.
type Neighborhood struct {
	NodeID   string `json:"node_id"`
	Outgoing []Edge `json:"outgoing"`
	Incoming []Edge `json:"incoming"`
	Total    int    `json:"total"`
}

// Metrics counts edge lifecycle operations.
type Metrics struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
	Active  int `json:"active"`
}

// Path is a sequence of node ids from start to end.
type Path []string

// Hops returns the number of edges in the path.
func (p Path) Hops() int {
	if len(p) == 0 {
		return 0
	}
	return len(p) - 1
}
