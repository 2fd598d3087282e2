package scheduler

import (
	"time"

	"github.com/roach88/lattice/internal/ir"
)

// Budget limits for one attention cycle.
type Budget struct {
	CycleDuration         time.Duration `json:"cycleDuration" yaml:"cycleDuration"`
	MaxItemsPerCycle      int           `json:"maxItemsPerCycle" yaml:"maxItemsPerCycle"`
	MaxConcurrentSessions int           `json:"maxConcurrentSessions" yaml:"maxConcurrentSessions"`
}

// DefaultBudget returns a 60s cycle starting at most 10 items with 5
// concurrent sessions.
func DefaultBudget() Budget {
	return Budget{
		CycleDuration:         60 * time.Second,
		MaxItemsPerCycle:      10,
		MaxConcurrentSessions: 5,
	}
}

// Validate rejects non-positive limits with invalid_budget.
func (b Budget) Validate() error {
	switch {
	case b.CycleDuration <= 0:
		return ir.NewError(ir.CodeInvalidBudget, "cycle duration must be positive, got %s", b.CycleDuration)
	case b.MaxItemsPerCycle <= 0:
		return ir.NewError(ir.CodeInvalidBudget, "max items per cycle must be positive, got %d", b.MaxItemsPerCycle)
	case b.MaxConcurrentSessions <= 0:
		return ir.NewError(ir.CodeInvalidBudget, "max concurrent sessions must be positive, got %d", b.MaxConcurrentSessions)
	}
	return nil
}

// BudgetUpdate overrides selected limits. Nil fields are left unchanged.
type BudgetUpdate struct {
	CycleDuration         *time.Duration `json:"cycleDuration,omitempty" yaml:"cycleDuration,omitempty"`
	MaxItemsPerCycle      *int           `json:"maxItemsPerCycle,omitempty" yaml:"maxItemsPerCycle,omitempty"`
	MaxConcurrentSessions *int           `json:"maxConcurrentSessions,omitempty" yaml:"maxConcurrentSessions,omitempty"`
}

// BudgetStatus is a point-in-time view of the attention budget.
type BudgetStatus struct {
	Limits           Budget    `json:"limits"`
	CycleStart       time.Time `json:"cycle_start"`
	CycleEndsAt      time.Time `json:"cycle_ends_at"`
	StartedThisCycle int       `json:"started_this_cycle"`
	ActiveSessions   int       `json:"active_sessions"`
	Remaining        int       `json:"remaining"`
	Resets           int       `json:"resets"`
}

// budgetTracker enforces both caps of the attention budget.
//
// Two counters are tracked. started counts allocations begun in the current
// cycle and resets when the cycle rolls over. active counts allocations
// not yet completed and only falls through release.
//
// The ceiling is hard: remaining never reports more than either cap allows,
// and nothing increments past it.
type budgetTracker struct {
	limits     Budget
	cycleStart time.Time
	started    int
	active     int
	resets     int
}

func newBudgetTracker(limits Budget, now time.Time) *budgetTracker {
	return &budgetTracker{limits: limits, cycleStart: now}
}

// check rolls the cycle over if its duration has elapsed and returns the
// status as of now.
func (b *budgetTracker) check(now time.Time) BudgetStatus {
	if !now.Before(b.cycleStart.Add(b.limits.CycleDuration)) {
		b.cycleStart = now
		b.started = 0
		b.resets++
	}
	return b.status()
}

// remaining returns how many allocations may start right now.
func (b *budgetTracker) remaining() int {
	return max(0, min(
		b.limits.MaxItemsPerCycle-b.started,
		b.limits.MaxConcurrentSessions-b.active,
	))
}

// start consumes one unit of both caps. Callers check remaining first.
func (b *budgetTracker) start() {
	b.started++
	b.active++
}

// release frees one session slot.
func (b *budgetTracker) release() {
	if b.active > 0 {
		b.active--
	}
}

// update applies u after validating the merged limits.
func (b *budgetTracker) update(u BudgetUpdate) error {
	next := b.limits
	if u.CycleDuration != nil {
		next.CycleDuration = *u.CycleDuration
	}
	if u.MaxItemsPerCycle != nil {
		next.MaxItemsPerCycle = *u.MaxItemsPerCycle
	}
	if u.MaxConcurrentSessions != nil {
		next.MaxConcurrentSessions = *u.MaxConcurrentSessions
	}
	if err := next.Validate(); err != nil {
		return err
	}
	b.limits = next
	return nil
}

func (b *budgetTracker) status() BudgetStatus {
	return BudgetStatus{
		Limits:           b.limits,
		CycleStart:       b.cycleStart,
		CycleEndsAt:      b.cycleStart.Add(b.limits.CycleDuration),
		StartedThisCycle: b.started,
		ActiveSessions:   b.active,
		Remaining:        b.remaining(),
		Resets:           b.resets,
	}
}
