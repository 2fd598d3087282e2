// Package merge reconciles field-level edits against canonical DTUs.
//
// Each patch field falls into one class:
//
//	immutable  id, createdAt, ownerId: dropped and reported
//	additive   tags, relatedIds: unioned into the existing set
//	object     meta: deep-merged, patch keys win
//	scalar     title, content, summary, tier, resonance, coherence, stability:
//	           last write wins, with a concurrent-edit report
//
// Conflicts never fail a merge. The call reports OK and lists what was
// dropped or contested; callers decide what to do with the list.
//
// A Merger is not safe for concurrent use; lattice.Lattice serializes access.
package merge

import (
	"sort"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/ir"
)

// DefaultConcurrentWindow is how recent a different actor's write must be
// for a scalar overwrite to be reported as concurrent.
const DefaultConcurrentWindow = 5 * time.Second

// Kind is the merge class of a field.
type Kind string

const (
	KindImmutable Kind = "immutable"
	KindAdditive  Kind = "additive"
	KindObject    Kind = "object"
	KindScalar    Kind = "scalar"
	KindUnknown   Kind = "unknown"
)

// ConflictType labels an entry in a DTU's conflict history.
type ConflictType string

const (
	ConflictImmutable      ConflictType = "immutable"
	ConflictConcurrentEdit ConflictType = "concurrent_edit"
	ConflictUnknownField   ConflictType = "unknown_field"
	ConflictTypeMismatch   ConflictType = "type_mismatch"
	ConflictResolved       ConflictType = "resolved"
)

// Conflict records one contested or rejected field write.
type Conflict struct {
	DTUID         string       `json:"dtu_id"`
	Field         string       `json:"field"`
	Type          ConflictType `json:"type"`
	Actor         string       `json:"actor"`
	PreviousActor string       `json:"previous_actor,omitempty"`
	Value         any          `json:"value,omitempty"`
	At            time.Time    `json:"at"`
}

// FieldStamp is the last writer of a field.
type FieldStamp struct {
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
}

// Result reports the outcome of FieldLevelMerge.
type Result struct {
	OK        bool       `json:"ok"`
	DTUID     string     `json:"dtu_id"`
	Applied   []string   `json:"applied"`
	Conflicts []Conflict `json:"conflicts"`
}

type field struct {
	name string
	kind Kind
}

// fields maps accepted patch keys (camelCase and snake_case) to their
// canonical name and class.
var fields = map[string]field{
	"id":          {"id", KindImmutable},
	"createdAt":   {"createdAt", KindImmutable},
	"created_at":  {"createdAt", KindImmutable},
	"timestamp":   {"createdAt", KindImmutable},
	"ownerId":     {"ownerId", KindImmutable},
	"owner_id":    {"ownerId", KindImmutable},
	"tags":        {"tags", KindAdditive},
	"relatedIds":  {"relatedIds", KindAdditive},
	"related_ids": {"relatedIds", KindAdditive},
	"meta":        {"meta", KindObject},
	"title":       {"title", KindScalar},
	"content":     {"content", KindScalar},
	"summary":     {"summary", KindScalar},
	"tier":        {"tier", KindScalar},
	"resonance":   {"resonance", KindScalar},
	"coherence":   {"coherence", KindScalar},
	"stability":   {"stability", KindScalar},
}

// Classify returns the merge class of a patch key.
func Classify(key string) Kind {
	if f, ok := fields[key]; ok {
		return f.kind
	}
	return KindUnknown
}

// Merger applies patches to a dtu.Store and keeps per-field stamps and
// conflict history.
type Merger struct {
	store   *dtu.Store
	stamps  map[string]map[string]FieldStamp
	history map[string][]Conflict
	now     func() time.Time
	window  time.Duration
}

// Option configures a Merger.
type Option func(*Merger)

// WithClock sets the wall clock used for stamps and the concurrent window.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) {
		if now != nil {
			m.now = now
		}
	}
}

// WithConcurrentWindow overrides DefaultConcurrentWindow. Non-positive
// values disable concurrent-edit reporting.
func WithConcurrentWindow(d time.Duration) Option {
	return func(m *Merger) {
		m.window = d
	}
}

// New creates a Merger over store.
func New(store *dtu.Store, opts ...Option) *Merger {
	m := &Merger{
		store:   store,
		stamps:  make(map[string]map[string]FieldStamp),
		history: make(map[string][]Conflict),
		now:     time.Now,
		window:  DefaultConcurrentWindow,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// FieldLevelMerge applies patch to the canonical DTU dtuID on behalf of
// actorID. Keys are processed in sorted order so the conflict list is
// deterministic. Returns not_found if the DTU is not canonical.
func (m *Merger) FieldLevelMerge(dtuID string, patch map[string]any, actorID string) (Result, error) {
	if !m.store.Has(dtuID) {
		return Result{}, ir.NotFound("dtu", dtuID)
	}

	now := m.now()
	res := Result{OK: true, DTUID: dtuID, Applied: []string{}, Conflicts: []Conflict{}}
	conflict := func(key string, typ ConflictType, value any, prev string) {
		res.Conflicts = append(res.Conflicts, Conflict{
			DTUID: dtuID, Field: key, Type: typ, Actor: actorID,
			PreviousActor: prev, Value: value, At: now,
		})
	}

	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	m.store.Mutate(dtuID, func(d *dtu.DTU) {
		for _, key := range keys {
			value := patch[key]
			f, known := fields[key]
			switch {
			case !known:
				conflict(key, ConflictUnknownField, value, "")
				continue
			case f.kind == KindImmutable:
				conflict(f.name, ConflictImmutable, value, "")
				continue
			}

			prev, stamped := m.stamps[dtuID][f.name]
			concurrent := f.kind == KindScalar && stamped && m.window > 0 &&
				prev.Actor != actorID && now.Sub(prev.At) < m.window

			if !apply(d, f, value, false) {
				conflict(f.name, ConflictTypeMismatch, value, "")
				continue
			}
			if concurrent {
				conflict(f.name, ConflictConcurrentEdit, value, prev.Actor)
			}
			res.Applied = append(res.Applied, f.name)
			m.stamp(dtuID, f.name, actorID, now)
		}
		if len(res.Applied) > 0 {
			d.UpdatedAt = now
		}
	})

	sortConflicts(res.Conflicts)
	m.history[dtuID] = append(m.history[dtuID], res.Conflicts...)
	return res, nil
}

// ResolveConflict force-sets field to value regardless of recent writers and
// records actorID as the resolver. Additive and object fields are replaced,
// not merged. Immutable and unknown fields are rejected with invalid_input.
func (m *Merger) ResolveConflict(dtuID, key string, value any, actorID string) (Conflict, error) {
	if !m.store.Has(dtuID) {
		return Conflict{}, ir.NotFound("dtu", dtuID)
	}
	f, known := fields[key]
	if !known || f.kind == KindImmutable {
		return Conflict{}, ir.NewError(ir.CodeInvalidInput, "field %q cannot be resolved", key).
			WithDetail("field", key)
	}

	now := m.now()
	var ok bool
	m.store.Mutate(dtuID, func(d *dtu.DTU) {
		ok = apply(d, f, value, true)
		if ok {
			d.UpdatedAt = now
		}
	})
	if !ok {
		return Conflict{}, ir.NewError(ir.CodeInvalidInput, "value for %q has the wrong type", key).
			WithDetail("field", key)
	}

	var prev string
	if s, had := m.stamps[dtuID][f.name]; had {
		prev = s.Actor
	}
	m.stamp(dtuID, f.name, actorID, now)
	c := Conflict{DTUID: dtuID, Field: f.name, Type: ConflictResolved, Actor: actorID, PreviousActor: prev, Value: value, At: now}
	m.history[dtuID] = append(m.history[dtuID], c)
	return c, nil
}

// FieldTimestamps returns a copy of the per-field stamps of dtuID.
func (m *Merger) FieldTimestamps(dtuID string) map[string]FieldStamp {
	out := make(map[string]FieldStamp, len(m.stamps[dtuID]))
	for k, v := range m.stamps[dtuID] {
		out[k] = v
	}
	return out
}

// Conflicts returns the accumulated conflict history of dtuID, oldest first.
func (m *Merger) Conflicts(dtuID string) []Conflict {
	return append([]Conflict{}, m.history[dtuID]...)
}

// ConflictCount returns the total number of history entries across DTUs.
func (m *Merger) ConflictCount() int {
	n := 0
	for _, h := range m.history {
		n += len(h)
	}
	return n
}

func (m *Merger) stamp(dtuID, name, actor string, at time.Time) {
	s, ok := m.stamps[dtuID]
	if !ok {
		s = make(map[string]FieldStamp)
		m.stamps[dtuID] = s
	}
	s[name] = FieldStamp{Actor: actor, At: at}
}

// apply writes value into d. replace forces set semantics for additive and
// object fields. Returns false on a type mismatch.
func apply(d *dtu.DTU, f field, value any, replace bool) bool {
	switch f.name {
	case "tags", "relatedIds":
		vals, ok := toStrings(value)
		if !ok {
			return false
		}
		target := &d.Tags
		if f.name == "relatedIds" {
			target = &d.RelatedIDs
		}
		if replace {
			*target = dtu.UnionStrings(nil, vals)
		} else {
			*target = dtu.UnionStrings(*target, vals)
		}
		if f.name == "relatedIds" {
			d.RelatedIDs = removeString(d.RelatedIDs, d.ID)
		}
	case "meta":
		patch, ok := value.(map[string]any)
		if !ok {
			return false
		}
		if replace || d.Meta == nil {
			d.Meta = dtu.CloneMeta(patch)
			if d.Meta == nil {
				d.Meta = map[string]any{}
			}
		} else {
			deepMerge(d.Meta, patch)
		}
	case "title", "content", "summary", "tier":
		s, ok := value.(string)
		if !ok {
			return false
		}
		switch f.name {
		case "title":
			d.Title = s
		case "content":
			d.Content = s
		case "summary":
			d.Summary = s
		case "tier":
			d.Tier = dtu.Tier(s)
		}
	case "resonance", "coherence", "stability":
		v, ok := toFloat(value)
		if !ok {
			return false
		}
		v = dtu.Clamp01(v)
		switch f.name {
		case "resonance":
			d.Resonance = v
		case "coherence":
			d.Coherence = v
		case "stability":
			d.Stability = v
		}
	default:
		return false
	}
	return true
}

// deepMerge copies src into dst. Nested maps merge recursively; any other
// value overwrites.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
			dst[k] = dtu.CloneMeta(sm)
			continue
		}
		dst[k] = dtu.CloneMeta(map[string]any{k: v})[k] // deep copy of slices
	}
}

func toStrings(v any) ([]string, bool) {
	switch val := v.(type) {
	case []string:
		return val, true
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	default:
		return 0, false
	}
}

func removeString(in []string, s string) []string {
	out := in[:0]
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func sortConflicts(cs []Conflict) {
	sort.SliceStable(cs, func(i, j int) bool { return cs[i].Field < cs[j].Field })
}
