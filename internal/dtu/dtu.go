// Package dtu defines the knowledge node of the lattice and the store that
// holds canonical and shadow copies.
//
// The store is not safe for concurrent use. It is owned by a lattice.Lattice,
// which serializes access.
package dtu

import (
	"maps"
	"reflect"
	"slices"
	"time"
)

// Tier is the quality class of a DTU.
type Tier string

const (
	TierRegular   Tier = "regular"
	TierMega      Tier = "mega"
	TierHyper     Tier = "hyper"
	TierShadow    Tier = "shadow"
	TierArchetype Tier = "archetype"
)

// Source labels where a read value came from.
type Source string

const (
	SourceCanonical Source = "canonical"
	SourceShadow    Source = "shadow"
)

// DTU is a knowledge node.
//
// ID, OwnerID and CreatedAt are immutable once stored. Tags and RelatedIDs
// are sets: order carries no meaning and duplicates are removed on write.
type DTU struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	Summary    string         `json:"summary"`
	Tags       []string       `json:"tags"`
	Tier       Tier           `json:"tier"`
	Resonance  float64        `json:"resonance"`
	Coherence  float64        `json:"coherence"`
	Stability  float64        `json:"stability"`
	RelatedIDs []string       `json:"related_ids"`
	OwnerID    string         `json:"owner_id"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	Meta       map[string]any `json:"meta"`
}

// Clone returns a deep, independent copy. Mutating the copy (including
// nested meta maps and slices) never affects d.
func (d *DTU) Clone() DTU {
	c := *d
	c.Tags = slices.Clone(d.Tags)
	c.RelatedIDs = slices.Clone(d.RelatedIDs)
	c.Meta = CloneMeta(d.Meta)
	return c
}

// HasTag reports whether the DTU carries tag.
func (d *DTU) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// AddRelated unions id into RelatedIDs. Returns true if it was new.
func (d *DTU) AddRelated(id string) bool {
	if id == "" || id == d.ID || slices.Contains(d.RelatedIDs, id) {
		return false
	}
	d.RelatedIDs = append(d.RelatedIDs, id)
	return true
}

// CloneMeta deep-copies a metadata map. Maps and slices of any element type
// are copied recursively; other values are treated as immutable scalars.
func CloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMeta(val)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = cloneValue(item)
		}
		return items
	case []string:
		return slices.Clone(val)
	case map[string]string:
		return maps.Clone(val)
	case nil:
		return nil
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

// cloneReflect copies slices and maps of arbitrary element types, such as
// []float64 or []map[string]any.
func cloneReflect(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		for i := range rv.Len() {
			setCloned(out.Index(i), rv.Index(i))
		}
		return out
	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			elem := reflect.New(rv.Type().Elem()).Elem()
			setCloned(elem, iter.Value())
			out.SetMapIndex(iter.Key(), elem)
		}
		return out
	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := range rv.Len() {
			setCloned(out.Index(i), rv.Index(i))
		}
		return out
	}
	return rv
}

// setCloned stores a deep copy of src into dst, which has src's static type.
func setCloned(dst, src reflect.Value) {
	if src.Kind() == reflect.Interface {
		if src.IsNil() {
			return
		}
		dst.Set(reflect.ValueOf(cloneValue(src.Interface())))
		return
	}
	dst.Set(cloneReflect(src))
}

// UnionStrings appends every value of add not already present in base and
// returns the result. Empty strings are skipped. Order of base is kept.
func UnionStrings(base, add []string) []string {
	out := slices.Clone(base)
	for _, v := range add {
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// Clamp01 clamps v into [0, 1]. NaN clamps to 0.
func Clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
