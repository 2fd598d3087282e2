// Package journal is the append-only event log of the lattice.
//
// Events are stamped by a logical Clock and indexed by type, entity and
// session. Compaction rolls the oldest events into a Snapshot and drops
// them; retained events keep their original sequence numbers.
//
// A Journal is not safe for concurrent use; lattice.Lattice serializes access.
package journal

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/ir"
)

// DefaultRecent is the number of events Recent returns for n <= 0.
const DefaultRecent = 20

// Journal holds the retained event tail, its indices and the snapshots
// produced by compaction.
type Journal struct {
	events    []Event
	bySeq     map[int64]int
	byType    map[EventType][]int
	byEntity  map[string][]int
	bySession map[string][]int
	snapshots []Snapshot

	clock *Clock
	now   func() time.Time
	ids   ir.IDGenerator
}

// Option configures a Journal.
type Option func(*Journal)

// WithClock sets the wall clock used for event timestamps. Ordering always
// uses the logical clock.
func WithClock(now func() time.Time) Option {
	return func(j *Journal) {
		if now != nil {
			j.now = now
		}
	}
}

// WithIDGenerator sets the generator for snapshot ids.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(j *Journal) {
		if g != nil {
			j.ids = g
		}
	}
}

// New creates an empty journal.
func New(opts ...Option) *Journal {
	j := &Journal{
		clock: NewClock(),
		now:   time.Now,
		ids:   ir.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(j)
	}
	j.reindex()
	return j
}

// Restore rebuilds a journal from archived events and snapshots.
// Events must have valid types and strictly increasing seq numbers; the
// logical clock resumes after the highest seq seen in either input.
func Restore(events []Event, snapshots []Snapshot, opts ...Option) (*Journal, error) {
	j := New(opts...)

	var last int64
	for _, s := range snapshots {
		last = max(last, s.ToSeq)
	}
	for i, e := range events {
		if !e.Type.Valid() {
			return nil, ir.NewError(ir.CodeInvalidEventType, "event %d has unknown type %q", e.Seq, e.Type)
		}
		if i > 0 && e.Seq <= events[i-1].Seq {
			return nil, ir.NewError(ir.CodeInvalidInput,
				"event seq %d does not follow %d", e.Seq, events[i-1].Seq)
		}
		j.events = append(j.events, e.clone())
		last = max(last, e.Seq)
	}
	j.snapshots = cloneSnapshots(snapshots)
	j.clock.ResumeAfter(last)
	j.reindex()
	return j, nil
}

// Append records an event. Actor, entity and session ids are derived from
// the payload; see actorKeys, entityKeys and sessionKeys. String entries of
// payload["refs"] index the event under additional entities.
//
// The payload is deep-copied in, and every read hands out deep copies, so
// stored events never change after Append.
//
// Unknown types fail with invalid_event_type and consume no seq.
func (j *Journal) Append(t EventType, payload map[string]any) (Event, error) {
	if !t.Valid() {
		return Event{}, ir.NewError(ir.CodeInvalidEventType, "unknown event type %q", t)
	}
	payload = dtu.CloneMeta(payload)
	if payload == nil {
		payload = map[string]any{}
	}

	e := Event{
		Seq:       j.clock.Next(),
		Type:      t,
		Payload:   payload,
		ActorID:   firstString(payload, actorKeys),
		EntityID:  firstString(payload, entityKeys),
		SessionID: firstString(payload, sessionKeys),
		Timestamp: j.now(),
	}
	j.events = append(j.events, e)
	j.index(len(j.events) - 1)
	return e.clone(), nil
}

// QueryByType returns retained events of type t in seq order.
func (j *Journal) QueryByType(t EventType) []Event {
	return j.collect(j.byType[t])
}

// QueryByEntity returns retained events referencing entityID in seq order.
func (j *Journal) QueryByEntity(entityID string) []Event {
	return j.collect(j.byEntity[entityID])
}

// QueryBySession returns retained events of sessionID in seq order.
func (j *Journal) QueryBySession(sessionID string) []Event {
	return j.collect(j.bySession[sessionID])
}

// Get returns the retained event with seq.
func (j *Journal) Get(seq int64) (Event, bool) {
	pos, ok := j.bySeq[seq]
	if !ok {
		return Event{}, false
	}
	return j.events[pos].clone(), true
}

// Recent returns the last n events, oldest first. n <= 0 uses DefaultRecent.
func (j *Journal) Recent(n int) []Event {
	if n <= 0 {
		n = DefaultRecent
	}
	start := max(0, len(j.events)-n)
	return j.copyRange(start, len(j.events))
}

// Events returns every retained event in seq order.
func (j *Journal) Events() []Event {
	return j.copyRange(0, len(j.events))
}

// Snapshots returns compaction snapshots, oldest first.
func (j *Journal) Snapshots() []Snapshot {
	return cloneSnapshots(j.snapshots)
}

func cloneSnapshots(in []Snapshot) []Snapshot {
	out := make([]Snapshot, len(in))
	for i, s := range in {
		s.CountsByType = maps.Clone(s.CountsByType)
		out[i] = s
	}
	return out
}

// Len returns the number of retained events.
func (j *Journal) Len() int {
	return len(j.events)
}

// LastSeq returns the highest seq ever assigned.
func (j *Journal) LastSeq() int64 {
	return j.clock.Current()
}

// Explanation is the replayed history of one DTU.
type Explanation struct {
	DTUID  string   `json:"dtu_id"`
	Events []Event  `json:"events"`
	Lines  []string `json:"lines"`
}

// ExplainDTU replays the events indexed under dtuID into readable lines.
// An id with no events yields an empty explanation.
func (j *Journal) ExplainDTU(dtuID string) Explanation {
	events := j.QueryByEntity(dtuID)
	lines := make([]string, 0, len(events))
	for _, e := range events {
		lines = append(lines, describe(e))
	}
	return Explanation{DTUID: dtuID, Events: events, Lines: lines}
}

// Compact rolls all but the newest keepLast events into a snapshot and
// rebuilds the indices over the retained tail. Returns nil when there are
// keepLast events or fewer.
func (j *Journal) Compact(keepLast int) (*Snapshot, error) {
	if keepLast < 0 {
		return nil, ir.NewError(ir.CodeInvalidInput, "keepLast must not be negative, got %d", keepLast)
	}
	if len(j.events) <= keepLast {
		return nil, nil
	}

	cut := len(j.events) - keepLast
	dropped := j.events[:cut]
	snap := Snapshot{
		ID:             j.ids.NewID("snap"),
		CompactedCount: len(dropped),
		FromSeq:        dropped[0].Seq,
		ToSeq:          dropped[len(dropped)-1].Seq,
		CountsByType:   make(map[EventType]int),
		CreatedAt:      j.now(),
	}
	for _, e := range dropped {
		snap.CountsByType[e.Type]++
	}

	j.events = slices.Clone(j.events[cut:])
	j.snapshots = append(j.snapshots, snap)
	j.reindex()

	out := snap
	out.CountsByType = maps.Clone(snap.CountsByType)
	return &out, nil
}

// CountsByType returns retained event counts per type.
func (j *Journal) CountsByType() map[EventType]int {
	out := make(map[EventType]int, len(j.byType))
	for t, idx := range j.byType {
		out[t] = len(idx)
	}
	return out
}

func (j *Journal) reindex() {
	j.bySeq = make(map[int64]int, len(j.events))
	j.byType = make(map[EventType][]int)
	j.byEntity = make(map[string][]int)
	j.bySession = make(map[string][]int)
	for i := range j.events {
		j.index(i)
	}
}

func (j *Journal) index(pos int) {
	e := j.events[pos]
	j.bySeq[e.Seq] = pos
	j.byType[e.Type] = append(j.byType[e.Type], pos)
	if e.SessionID != "" {
		j.bySession[e.SessionID] = append(j.bySession[e.SessionID], pos)
	}

	seen := map[string]bool{}
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		j.byEntity[id] = append(j.byEntity[id], pos)
	}
	add(e.EntityID)
	for _, ref := range refs(e.Payload) {
		add(ref)
	}
}

func (j *Journal) collect(positions []int) []Event {
	out := make([]Event, 0, len(positions))
	for _, pos := range positions {
		out = append(out, j.events[pos].clone())
	}
	return out
}

func (j *Journal) copyRange(from, to int) []Event {
	out := make([]Event, 0, to-from)
	for _, e := range j.events[from:to] {
		out = append(out, e.clone())
	}
	return out
}

func refs(payload map[string]any) []string {
	switch v := payload["refs"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func describe(e Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d %s %s", e.Seq, e.Timestamp.UTC().Format(time.RFC3339), e.Type)
	if e.ActorID != "" {
		fmt.Fprintf(&b, " by %s", e.ActorID)
	}
	switch e.Type {
	case EventDTUCreated:
		if title, ok := e.Payload["title"].(string); ok {
			fmt.Fprintf(&b, ": %q", title)
		}
	case EventDTUEdited:
		if fields := stringList(e.Payload["fields"]); len(fields) > 0 {
			fmt.Fprintf(&b, ": %s", strings.Join(fields, ", "))
		}
	case EventEdgeCreated, EventEdgeUpdated, EventEdgeRemoved:
		src, _ := e.Payload["source"].(string)
		dst, _ := e.Payload["target"].(string)
		typ, _ := e.Payload["type"].(string)
		if src != "" && dst != "" {
			fmt.Fprintf(&b, ": %s -[%s]-> %s", src, typ, dst)
		}
	case EventProposalCreated, EventProposalCommitted, EventProposalRejected, EventProposalConflict:
		if id, ok := e.Payload["proposalId"].(string); ok {
			fmt.Fprintf(&b, ": %s", id)
		}
		if reason, ok := e.Payload["reason"].(string); ok && reason != "" {
			fmt.Fprintf(&b, " (%s)", reason)
		}
	}
	if e.SessionID != "" {
		fmt.Fprintf(&b, " [session %s]", e.SessionID)
	}
	return b.String()
}

func stringList(v any) []string {
	out := slices.Clone(refs(map[string]any{"refs": v}))
	sort.Strings(out)
	return out
}
