package scheduler

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
	"github.com/roach88/lattice/internal/testutil"
)

// fakeLattice is a scripted Lattice that records appended events.
type fakeLattice struct {
	mu             sync.Mutex
	clock          *testutil.FakeClock
	pending        int
	low, isolated  []string
	hot            []string
	contradictions []edge.Edge
	events         []journal.Event
}

func (f *fakeLattice) PendingCount() int               { return f.pending }
func (f *fakeLattice) LowCoherence(float64) []string   { return f.low }
func (f *fakeLattice) Isolated() []string              { return f.isolated }
func (f *fakeLattice) ContradictionEdges() []edge.Edge { return f.contradictions }
func (f *fakeLattice) HotNodes(float64) []string       { return f.hot }
func (f *fakeLattice) Now() time.Time                  { return f.clock.Now() }

func (f *fakeLattice) AppendEvent(t journal.EventType, payload map[string]any) (journal.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := journal.Event{Seq: int64(len(f.events) + 1), Type: t, Payload: payload}
	f.events = append(f.events, e)
	return e, nil
}

func (f *fakeLattice) count(t journal.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, roster Roster, opts ...Option) (*Scheduler, *fakeLattice) {
	t.Helper()
	lat := &fakeLattice{clock: testutil.NewFakeClock(time.Time{})}
	base := []Option{
		WithIDGenerator(ir.NewSequenceGenerator()),
		WithLogger(slog.New(slog.DiscardHandler)),
	}
	s, err := New(lat, roster, append(base, opts...)...)
	require.NoError(t, err)
	return s, lat
}

func analysts(n int) StaticRoster {
	var r StaticRoster
	for i := range n {
		r = append(r, Agent{ID: string(rune('a'+i)) + "_analyst", Role: RoleAnalyst})
	}
	return r
}

func lowConfidence(t *testing.T, s *Scheduler, n int) []WorkItem {
	t.Helper()
	var out []WorkItem
	for range n {
		w, err := s.CreateWorkItem(WorkItemInput{Type: WorkLowConfidence, Signals: Signals{Uncertainty: 1}})
		require.NoError(t, err)
		out = append(out, w)
	}
	return out
}

func queueIDs(items []WorkItem) []string {
	ids := make([]string, len(items))
	for i, w := range items {
		ids[i] = w.ID
	}
	return ids
}

func TestCreateWorkItem_RejectsUnknownType(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	_, err := s.CreateWorkItem(WorkItemInput{Type: "daydream"})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidWorkItemType))
	assert.Empty(t, s.Queue())
}

func TestCreateWorkItem_ClampsSignals(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	w, err := s.CreateWorkItem(WorkItemInput{
		Type:    WorkSynthesis,
		Signals: Signals{Impact: 9, Risk: -2, Effort: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, w.Signals.Impact)
	assert.Equal(t, 0.0, w.Signals.Risk)
	assert.Equal(t, 1.0, w.Signals.Effort)
	assert.InDelta(t, 0.15, w.Priority, 1e-9)
	assert.Equal(t, ItemQueued, w.Status)
	assert.Equal(t, "work_1", w.ID)
}

func TestQueue_SortedWithStableTies(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	tied := lowConfidence(t, s, 3)
	high, err := s.CreateWorkItem(WorkItemInput{Type: WorkContradiction, Signals: Signals{Risk: 1, ContradictionPressure: 1}})
	require.NoError(t, err)
	more := lowConfidence(t, s, 1)

	want := []string{high.ID, tied[0].ID, tied[1].ID, tied[2].ID, more[0].ID}
	assert.Equal(t, want, queueIDs(s.Queue()))
	assert.True(t, s.QueueSorted())

	s.RescoreQueue()
	assert.Equal(t, want, queueIDs(s.Queue()), "rescore keeps tie order")
}

func TestUpdateWeights_Resorts(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	a, _ := s.CreateWorkItem(WorkItemInput{Type: WorkSynthesis, Signals: Signals{Impact: 1}})
	b, _ := s.CreateWorkItem(WorkItemInput{Type: WorkSynthesis, Signals: Signals{Risk: 1}})
	assert.Equal(t, []string{a.ID, b.ID}, queueIDs(s.Queue()))

	require.NoError(t, s.UpdateWeights(Weights{Impact: 0.1, Risk: 0.9}))
	assert.Equal(t, []string{b.ID, a.ID}, queueIDs(s.Queue()))
	assert.True(t, s.QueueSorted())
	assert.Equal(t, 0.9, s.Weights().Risk)

	err := s.UpdateWeights(Weights{Impact: -1})
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))
	assert.Equal(t, 0.9, s.Weights().Risk, "rejected weights leave policy unchanged")
}

func TestDequeueItem(t *testing.T) {
	s, _ := newTestScheduler(t, nil)
	items := lowConfidence(t, s, 2)

	got, err := s.DequeueItem(items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, items[0].ID, got.ID)
	assert.Equal(t, []string{items[1].ID}, queueIDs(s.Queue()))

	_, err = s.DequeueItem(items[0].ID)
	assert.True(t, ir.IsCode(err, ir.CodeNotFound))
}

func TestExpireItems(t *testing.T) {
	s, lat := newTestScheduler(t, nil)
	soon := lat.clock.Now().Add(time.Minute)
	late := lat.clock.Now().Add(2 * time.Hour)

	expiring, _ := s.CreateWorkItem(WorkItemInput{Type: WorkStaleNode, Deadline: &soon})
	open, _ := s.CreateWorkItem(WorkItemInput{Type: WorkStaleNode})
	later, _ := s.CreateWorkItem(WorkItemInput{Type: WorkStaleNode, Deadline: &late})

	assert.Empty(t, s.ExpireItems())

	lat.clock.Advance(90 * time.Minute)
	expired := s.ExpireItems()
	require.Len(t, expired, 1)
	assert.Equal(t, expiring.ID, expired[0].ID)
	assert.Equal(t, ItemExpired, expired[0].Status)
	assert.ElementsMatch(t, []string{open.ID, later.ID}, queueIDs(s.Queue()))
}

func TestDeadlineRaisesPriority(t *testing.T) {
	s, lat := newTestScheduler(t, nil)
	far := lat.clock.Now().Add(3 * time.Hour)

	plain, _ := s.CreateWorkItem(WorkItemInput{Type: WorkSynthesis, Signals: Signals{Impact: 0.4}})
	due, _ := s.CreateWorkItem(WorkItemInput{Type: WorkSynthesis, Signals: Signals{Impact: 0.4}, Deadline: &far})
	assert.Equal(t, []string{plain.ID, due.ID}, queueIDs(s.Queue()))

	lat.clock.Advance(150 * time.Minute)
	s.RescoreQueue()
	q := s.Queue()
	assert.Equal(t, []string{due.ID, plain.ID}, queueIDs(q))
	assert.InDelta(t, 0.1+0.1, q[0].Priority, 1e-9)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	lat := &fakeLattice{clock: testutil.NewFakeClock(time.Time{})}
	_, err := New(lat, nil, WithConfig(Config{Weights: Weights{Impact: -1}}))
	assert.True(t, ir.IsCode(err, ir.CodeInvalidInput))

	_, err = New(lat, nil, WithConfig(Config{Affinity: map[WorkType]Affinity{"bogus": {Primary: RoleCritic}}}))
	assert.True(t, ir.IsCode(err, ir.CodeInvalidWorkItemType))
}

func TestConfig_WithDefaultsMergesAffinity(t *testing.T) {
	cfg := Config{
		MaxTurnsPerItem: 3,
		Affinity:        map[WorkType]Affinity{WorkSynthesis: {Primary: RoleCurator}},
	}.WithDefaults()

	assert.Equal(t, 3, cfg.MaxTurnsPerItem)
	assert.Equal(t, DefaultBudget(), cfg.Budget)
	assert.Equal(t, RoleCurator, cfg.Affinity[WorkSynthesis].Primary)
	assert.Equal(t, RoleCritic, cfg.Affinity[WorkContradiction].Primary)
	assert.Len(t, cfg.Affinity, len(WorkTypes()))
}
