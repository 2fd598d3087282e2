// Package scheduler turns lattice state into prioritized work and hands that
// work to teams of agents under a hard attention budget.
//
// Work items enter a single queue ordered by priority. Allocate pops the
// highest-priority items the budget allows, forms a team for each from the
// agent roster, and tracks the resulting allocation through its turns until
// CompleteAllocation moves it to a bounded history.
//
// Every method on Scheduler is safe for concurrent use. One mutex guards
// the queue, the budget and allocation state, so the budget check and its
// decrement happen as one step.
package scheduler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/journal"
)

// Lattice is the view of lattice state the scheduler scans and journals to.
// *lattice.Lattice satisfies it.
type Lattice interface {
	PendingCount() int
	LowCoherence(threshold float64) []string
	Isolated() []string
	ContradictionEdges() []edge.Edge
	HotNodes(threshold float64) []string
	AppendEvent(t journal.EventType, payload map[string]any) (journal.Event, error)
	Now() time.Time
}

// ScanThresholds control ScanAndCreateWorkItems.
type ScanThresholds struct {
	LowCoherence float64 `json:"lowCoherence" yaml:"lowCoherence"`
	Backlog      int     `json:"backlog" yaml:"backlog"`
	Hot          float64 `json:"hot" yaml:"hot"`
}

// Config is the scheduling policy. Zero fields take the DefaultConfig value.
type Config struct {
	Weights          Weights               `json:"weights"`
	Budget           Budget                `json:"budget"`
	MaxTurnsPerItem  int                   `json:"maxTurnsPerItem"`
	DeadlineBoost    float64               `json:"deadlineBoost"`
	DeadlineWindow   time.Duration         `json:"deadlineWindow"`
	CompletedHistory int                   `json:"completedHistory"`
	Affinity         map[WorkType]Affinity `json:"affinity"`
	Scan             ScanThresholds        `json:"scan"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Weights:          DefaultWeights(),
		Budget:           DefaultBudget(),
		MaxTurnsPerItem:  8,
		DeadlineBoost:    0.2,
		DeadlineWindow:   time.Hour,
		CompletedHistory: 200,
		Affinity:         DefaultAffinity(),
		Scan: ScanThresholds{
			LowCoherence: 0.3,
			Backlog:      5,
			Hot:          0.8,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig. Affinity entries are
// merged per work type, so a partial table keeps the remaining defaults.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.Budget.CycleDuration == 0 {
		c.Budget.CycleDuration = d.Budget.CycleDuration
	}
	if c.Budget.MaxItemsPerCycle == 0 {
		c.Budget.MaxItemsPerCycle = d.Budget.MaxItemsPerCycle
	}
	if c.Budget.MaxConcurrentSessions == 0 {
		c.Budget.MaxConcurrentSessions = d.Budget.MaxConcurrentSessions
	}
	if c.MaxTurnsPerItem == 0 {
		c.MaxTurnsPerItem = d.MaxTurnsPerItem
	}
	if c.DeadlineBoost == 0 {
		c.DeadlineBoost = d.DeadlineBoost
	}
	if c.DeadlineWindow == 0 {
		c.DeadlineWindow = d.DeadlineWindow
	}
	if c.CompletedHistory == 0 {
		c.CompletedHistory = d.CompletedHistory
	}
	merged := d.Affinity
	for t, a := range c.Affinity {
		merged[t] = a
	}
	c.Affinity = cloneAffinity(merged)
	if c.Scan.LowCoherence == 0 {
		c.Scan.LowCoherence = d.Scan.LowCoherence
	}
	if c.Scan.Backlog == 0 {
		c.Scan.Backlog = d.Scan.Backlog
	}
	if c.Scan.Hot == 0 {
		c.Scan.Hot = d.Scan.Hot
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if c.MaxTurnsPerItem <= 0 {
		return ir.NewError(ir.CodeInvalidInput, "max turns per item must be positive, got %d", c.MaxTurnsPerItem)
	}
	if c.DeadlineBoost < 0 || c.DeadlineBoost > 1 {
		return ir.NewError(ir.CodeInvalidInput, "deadline boost must be in [0, 1], got %v", c.DeadlineBoost)
	}
	if c.DeadlineWindow < 0 {
		return ir.NewError(ir.CodeInvalidInput, "deadline window must not be negative, got %s", c.DeadlineWindow)
	}
	if c.CompletedHistory < 0 {
		return ir.NewError(ir.CodeInvalidInput, "completed history must not be negative, got %d", c.CompletedHistory)
	}
	for t, a := range c.Affinity {
		if !t.Valid() {
			return ir.NewError(ir.CodeInvalidWorkItemType, "affinity for unknown work type %q", t)
		}
		if a.Primary == "" {
			return ir.NewError(ir.CodeInvalidInput, "affinity for %q has no primary role", t).
				WithDetail("type", string(t))
		}
	}
	return nil
}

// Scheduler owns the work queue, the attention budget and allocations.
type Scheduler struct {
	mu sync.Mutex

	lat    Lattice
	roster Roster
	cfg    Config

	queue  *workQueue
	budget *budgetTracker

	active    map[string]*Allocation
	order     []string // active allocation ids in creation order
	completed []Allocation

	now    func() time.Time
	ids    ir.IDGenerator
	logger *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithConfig replaces the policy. Zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(s *Scheduler) {
		s.cfg = cfg.WithDefaults()
	}
}

// WithClock overrides the wall clock. By default the scheduler shares the
// lattice clock.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator for work item and allocation ids.
func WithIDGenerator(g ir.IDGenerator) Option {
	return func(s *Scheduler) {
		if g != nil {
			s.ids = g
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a scheduler over lat drawing agents from roster.
//
// Returns an error if the configured policy is invalid.
func New(lat Lattice, roster Roster, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		lat:    lat,
		roster: roster,
		cfg:    DefaultConfig(),
		queue:  newWorkQueue(),
		active: make(map[string]*Allocation),
		now:    lat.Now,
		ids:    ir.UUIDv7Generator{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if s.roster == nil {
		s.roster = StaticRoster(nil)
	}
	s.budget = newBudgetTracker(s.cfg.Budget, s.now())
	return s, nil
}

// Config returns a copy of the active policy.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg
	c.Affinity = cloneAffinity(s.cfg.Affinity)
	return c
}

// CreateWorkItem validates, scores and enqueues a work item.
//
// Unknown types fail with invalid_work_item_type. Signals are clamped to
// [0, 1] before scoring.
func (s *Scheduler) CreateWorkItem(in WorkItemInput) (WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.createLocked(in)
	if err != nil {
		return WorkItem{}, err
	}
	return w.clone(), nil
}

func (s *Scheduler) createLocked(in WorkItemInput) (*WorkItem, error) {
	if !in.Type.Valid() {
		return nil, ir.NewError(ir.CodeInvalidWorkItemType, "unknown work item type %q", in.Type).
			WithDetail("type", string(in.Type))
	}
	now := s.now()
	w := &WorkItem{
		ID:          s.ids.NewID("work"),
		Type:        in.Type,
		Scope:       in.Scope,
		InputRefs:   append([]string{}, in.InputRefs...),
		CreatedBy:   in.CreatedBy,
		Description: in.Description,
		Signals:     in.Signals.clamp(),
		Status:      ItemQueued,
		CreatedAt:   now,
	}
	if in.Deadline != nil {
		d := *in.Deadline
		w.Deadline = &d
	}
	w.Priority = s.scoreLocked(w, now)
	s.queue.push(w)

	s.logger.Debug("work item queued",
		"id", w.ID,
		"type", w.Type,
		"priority", w.Priority,
		"queue_len", s.queue.len(),
	)
	return w, nil
}

func (s *Scheduler) scoreLocked(w *WorkItem, now time.Time) float64 {
	p := ComputePriority(w.Signals, s.cfg.Weights) +
		deadlineBoost(now, w.Deadline, s.cfg.DeadlineBoost, s.cfg.DeadlineWindow)
	return dtu.Clamp01(p)
}

// RescoreQueue recomputes every queued priority, including deadline
// boosts as of now, and re-sorts.
func (s *Scheduler) RescoreQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescoreLocked()
}

func (s *Scheduler) rescoreLocked() {
	now := s.now()
	for _, w := range s.queue.items {
		w.Priority = s.scoreLocked(w, now)
	}
	s.queue.resort()
}

// UpdateWeights replaces the weighting policy and rescores the queue.
// Negative weights are rejected with invalid_input.
func (s *Scheduler) UpdateWeights(w Weights) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Weights = w
	s.rescoreLocked()
	s.logger.Info("scheduler weights updated", "queue_len", s.queue.len())
	return nil
}

// Weights returns the current weighting policy.
func (s *Scheduler) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Weights
}

// DequeueItem removes a queued item. Returns not_found if it is not queued.
func (s *Scheduler) DequeueItem(id string) (WorkItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.queue.remove(id)
	if !ok {
		return WorkItem{}, ir.NotFound("work item", id)
	}
	return w.clone(), nil
}

// ExpireItems removes every queued item whose deadline has passed and
// returns them marked expired. Items without a deadline stay queued.
func (s *Scheduler) ExpireItems() []WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := s.queue.removeIf(func(w *WorkItem) bool {
		return w.Deadline != nil && w.Deadline.Before(now)
	})
	out := make([]WorkItem, len(removed))
	for i, w := range removed {
		w.Status = ItemExpired
		out[i] = w.clone()
	}
	if len(out) > 0 {
		s.logger.Info("work items expired", "count", len(out))
	}
	return out
}

// Queue returns queued items in priority order.
func (s *Scheduler) Queue() []WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.snapshot()
}

// QueueSorted reports whether the queue is in non-increasing priority order.
func (s *Scheduler) QueueSorted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.sorted()
}

// BudgetStatus returns the budget as of now, rolling the cycle over first
// if it has elapsed.
func (s *Scheduler) BudgetStatus() BudgetStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget.check(s.now())
}

// UpdateBudget overrides budget limits. Non-positive values are rejected
// with invalid_budget and leave the budget unchanged.
func (s *Scheduler) UpdateBudget(u BudgetUpdate) (BudgetStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.budget.update(u); err != nil {
		return BudgetStatus{}, err
	}
	s.cfg.Budget = s.budget.limits
	s.logger.Info("scheduler budget updated",
		"cycle", s.budget.limits.CycleDuration,
		"max_items", s.budget.limits.MaxItemsPerCycle,
		"max_sessions", s.budget.limits.MaxConcurrentSessions,
	)
	return s.budget.check(s.now()), nil
}

// journal appends a scheduler event through the lattice. Append failures
// are logged and do not fail the calling operation.
func (s *Scheduler) journal(t journal.EventType, payload map[string]any) {
	payload["actorId"] = "scheduler"
	if _, err := s.lat.AppendEvent(t, payload); err != nil {
		s.logger.Error("journal append failed", "type", t, "error", err)
	}
}
