package lattice

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/lattice/internal/activation"
	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/merge"
)

// Lattice is the explicit state handle of the governed graph.
//
// Thread-safety: all exported methods are safe for concurrent use. See the
// package documentation for the locking model.
type Lattice struct {
	mu sync.RWMutex

	store      *dtu.Store
	edges      *edge.Graph
	activation *activation.Tracker
	merger     *merge.Merger
	journal    *journal.Journal

	proposals       map[string]*Proposal
	proposalOrder   []string // creation order
	stagedDTUs      map[string]DTUPayload
	stagedEdges     map[string]edge.Input
	stagedArtifacts map[string][]Artifact
	commitLog       []CommitRecord

	reads   atomic.Int64 // incremented under the read lock
	metrics Metrics

	limits Limits
	ids    ir.IDGenerator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Lattice.
type Option func(*Lattice)

// WithIDGenerator sets the generator for DTU, proposal and snapshot ids.
//
// Default: ir.UUIDv7Generator. Use ir.NewSequenceGenerator() for
// reproducible journals.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(l *Lattice) {
		if g != nil {
			l.ids = g
		}
	}
}

// WithClock sets the wall clock for every timestamp the lattice produces.
func WithClock(now func() time.Time) Option {
	return func(l *Lattice) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Lattice) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithLimits overrides input limits. Zero fields keep their defaults.
func WithLimits(limits Limits) Option {
	return func(l *Lattice) {
		l.limits = limits.withDefaults()
	}
}

// New creates an empty, independent lattice.
func New(opts ...Option) *Lattice {
	l := &Lattice{
		proposals:       make(map[string]*Proposal),
		stagedDTUs:      make(map[string]DTUPayload),
		stagedEdges:     make(map[string]edge.Input),
		stagedArtifacts: make(map[string][]Artifact),
		limits:          DefaultLimits(),
		ids:             ir.UUIDv7Generator{},
		now:             time.Now,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.store = dtu.NewStore()
	l.edges = edge.NewGraph(l.now)
	l.activation = activation.NewTracker(
		activation.WithClock(l.now),
		activation.WithHopDecay(l.limits.SpreadHopDecay),
	)
	l.merger = merge.New(l.store,
		merge.WithClock(l.now),
		merge.WithConcurrentWindow(l.limits.ConcurrentEditWindow),
	)
	l.journal = journal.New(
		journal.WithClock(l.now),
		journal.WithIDGenerator(l.ids),
	)
	return l
}

// Limits returns the effective input limits.
func (l *Lattice) Limits() Limits {
	return l.limits
}

// Now returns the lattice's wall clock reading. Collaborators such as the
// scheduler share it so budget cycles and deadlines line up with journal
// timestamps.
func (l *Lattice) Now() time.Time {
	return l.now()
}

// Metrics returns a value copy of the counters.
func (l *Lattice) Metrics() Metrics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	m := l.metrics
	m.Reads = l.reads.Load()
	m.DTUs = l.store.Len()
	m.Shadows = l.store.ShadowLen()
	m.Edges = l.edges.Len()
	m.Pending = l.pendingLocked()
	return m
}

// record appends an event, logging rather than failing when the type is
// rejected. Every caller passes a known constant.
func (l *Lattice) record(t journal.EventType, payload map[string]any) {
	if _, err := l.journal.Append(t, payload); err != nil {
		l.logger.Error("journal append failed", "type", t, "error", err)
	}
}

func (l *Lattice) pendingLocked() int {
	n := 0
	for _, p := range l.proposals {
		if p.Status == StatusPending {
			n++
		}
	}
	return n
}
