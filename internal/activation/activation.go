// Package activation tracks per-session attention over DTUs.
//
// Every (session, DTU) pair carries a score in [0, 1]. Scores rise through
// Activate and Spread and fall through Decay. A global aggregate mirrors the
// strongest and most recent activation of each DTU across sessions.
//
// A Tracker is not safe for concurrent use; lattice.Lattice serializes access.
package activation

import (
	"sort"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
)

// Defaults for spreading and working sets.
const (
	DefaultHopDecay       = 0.5
	DefaultMinSpread      = 0.01
	DefaultWorkingSetSize = 10
	MaxSpreadHops         = 10
)

// Record is the activation state of one DTU within one session.
type Record struct {
	DTUID         string    `json:"dtu_id"`
	Score         float64   `json:"score"`
	Count         int       `json:"count"`
	Reason        string    `json:"reason"`
	LastActivated time.Time `json:"last_activated"`
}

// Global aggregates a DTU's activation across sessions.
type Global struct {
	DTUID         string    `json:"dtu_id"`
	MaxScore      float64   `json:"max_score"`
	LastScore     float64   `json:"last_score"`
	LastSession   string    `json:"last_session"`
	Count         int       `json:"count"`
	LastActivated time.Time `json:"last_activated"`
}

// Entry is one working-set member.
type Entry struct {
	DTUID string  `json:"dtu_id"`
	Score float64 `json:"score"`
}

// Reached is a node touched by a spread.
type Reached struct {
	DTUID  string  `json:"dtu_id"`
	Amount float64 `json:"amount"`
	Hops   int     `json:"hops"`
}

// SpreadResult reports what a spread touched, in visit order.
type SpreadResult struct {
	SessionID string    `json:"session_id"`
	SourceID  string    `json:"source_id"`
	Reached   []Reached `json:"reached"`
}

// Neighbors supplies outgoing edges for spreading. *edge.Graph satisfies it.
type Neighbors interface {
	Outgoing(nodeID string) []edge.Edge
}

// Tracker holds session activation maps and the global aggregate.
type Tracker struct {
	sessions  map[string]map[string]*Record
	global    map[string]*Global
	now       func() time.Time
	hopDecay  float64
	minSpread float64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the wall clock used for activation timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithHopDecay sets the per-hop attenuation applied on top of edge weight.
// Values outside (0, 1) are ignored: decay must shrink activation.
func WithHopDecay(decay float64) Option {
	return func(t *Tracker) {
		if decay > 0 && decay < 1 {
			t.hopDecay = decay
		}
	}
}

// WithMinSpread sets the amount below which propagation stops.
func WithMinSpread(v float64) Option {
	return func(t *Tracker) {
		if v >= 0 {
			t.minSpread = v
		}
	}
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		sessions:  make(map[string]map[string]*Record),
		global:    make(map[string]*Global),
		now:       time.Now,
		hopDecay:  DefaultHopDecay,
		minSpread: DefaultMinSpread,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Activate adds amount (clamped to [0, 1]) to the session score of dtuID,
// capping the result at 1.0, and updates the global aggregate.
func (t *Tracker) Activate(sessionID, dtuID string, amount float64, reason string) (Record, error) {
	if sessionID == "" || dtuID == "" {
		return Record{}, ir.NewError(ir.CodeInvalidInput, "session id and dtu id are required")
	}
	amount = dtu.Clamp01(amount)

	session, ok := t.sessions[sessionID]
	if !ok {
		session = make(map[string]*Record)
		t.sessions[sessionID] = session
	}
	rec, ok := session[dtuID]
	if !ok {
		rec = &Record{DTUID: dtuID}
		session[dtuID] = rec
	}

	now := t.now()
	rec.Score = min(1.0, rec.Score+amount)
	rec.Count++
	rec.Reason = reason
	rec.LastActivated = now

	g, ok := t.global[dtuID]
	if !ok {
		g = &Global{DTUID: dtuID}
		t.global[dtuID] = g
	}
	g.MaxScore = max(g.MaxScore, rec.Score)
	g.LastScore = rec.Score
	g.LastSession = sessionID
	g.Count++
	g.LastActivated = now

	return *rec, nil
}

// Spread propagates activation breadth-first along outgoing edges from a
// source already active in the session.
//
// A node first reached at hop h receives parent × edge.Weight × hopDecay.
// hopDecay < 1, so a node reached over more hops always receives strictly
// less than its parent. Each node receives at most once per spread and the
// source itself is never re-boosted.
func (t *Tracker) Spread(sessionID, sourceID string, maxHops int, g Neighbors) (SpreadResult, error) {
	result := SpreadResult{SessionID: sessionID, SourceID: sourceID, Reached: []Reached{}}

	src, ok := t.sessions[sessionID][sourceID]
	if !ok || src.Score <= 0 {
		return result, ir.NewError(ir.CodeSourceNotActivated,
			"dtu %q is not activated in session %q", sourceID, sessionID)
	}
	if g == nil {
		return result, nil
	}
	maxHops = max(1, min(maxHops, MaxSpreadHops))

	type frontier struct {
		id     string
		amount float64
		hops   int
	}
	visited := map[string]bool{sourceID: true}
	queue := []frontier{{id: sourceID, amount: src.Score}}
	reason := "spread:" + sourceID

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.hops >= maxHops {
			continue
		}
		for _, e := range g.Outgoing(cur.id) {
			if visited[e.Target] {
				continue
			}
			amount := cur.amount * e.Weight * t.hopDecay
			if amount < t.minSpread {
				continue
			}
			visited[e.Target] = true
			if _, err := t.Activate(sessionID, e.Target, amount, reason); err != nil {
				return result, err
			}
			result.Reached = append(result.Reached, Reached{DTUID: e.Target, Amount: amount, Hops: cur.hops + 1})
			queue = append(queue, frontier{id: e.Target, amount: amount, hops: cur.hops + 1})
		}
	}
	return result, nil
}

// WorkingSet returns the top-k entries of a session by descending score,
// ties broken by DTU id. k <= 0 uses DefaultWorkingSetSize. Unknown sessions
// yield an empty set.
func (t *Tracker) WorkingSet(sessionID string, k int) []Entry {
	if k <= 0 {
		k = DefaultWorkingSetSize
	}
	session := t.sessions[sessionID]
	entries := make([]Entry, 0, len(session))
	for id, rec := range session {
		entries = append(entries, Entry{DTUID: id, Score: rec.Score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].DTUID < entries[j].DTUID
	})
	if len(entries) > k {
		entries = entries[:k]
	}
	return entries
}

// Decay multiplies every score in the session by factor (clamped to [0, 1])
// and returns the number of records touched.
func (t *Tracker) Decay(sessionID string, factor float64) int {
	factor = dtu.Clamp01(factor)
	session := t.sessions[sessionID]
	for _, rec := range session {
		rec.Score *= factor
	}
	return len(session)
}

// Clear purges a session. Returns false if the session was unknown.
func (t *Tracker) Clear(sessionID string) bool {
	if _, ok := t.sessions[sessionID]; !ok {
		return false
	}
	delete(t.sessions, sessionID)
	return true
}

// Get returns the record for (sessionID, dtuID).
func (t *Tracker) Get(sessionID, dtuID string) (Record, bool) {
	rec, ok := t.sessions[sessionID][dtuID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Global returns the cross-session aggregate for dtuID.
func (t *Tracker) Global(dtuID string) (Global, bool) {
	g, ok := t.global[dtuID]
	if !ok {
		return Global{}, false
	}
	return *g, true
}

// Hot returns global aggregates whose MaxScore is at least threshold,
// ordered by DTU id.
func (t *Tracker) Hot(threshold float64) []Global {
	var out []Global
	for _, g := range t.global {
		if g.MaxScore >= threshold {
			out = append(out, *g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DTUID < out[j].DTUID })
	return out
}

// Sessions returns known session ids, sorted.
func (t *Tracker) Sessions() []string {
	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
