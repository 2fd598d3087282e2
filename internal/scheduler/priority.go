package scheduler

import (
	"math"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/ir"
)

// Weights scale each signal in ComputePriority. Effort is a penalty:
// its weighted value is subtracted.
type Weights struct {
	Impact                float64 `json:"impact" yaml:"impact"`
	Risk                  float64 `json:"risk" yaml:"risk"`
	Uncertainty           float64 `json:"uncertainty" yaml:"uncertainty"`
	Novelty               float64 `json:"novelty" yaml:"novelty"`
	ContradictionPressure float64 `json:"contradictionPressure" yaml:"contradictionPressure"`
	GovernancePressure    float64 `json:"governancePressure" yaml:"governancePressure"`
	Effort                float64 `json:"effort" yaml:"effort"`
}

// DefaultWeights returns the default weighting policy. The positive weights
// sum to 1 so a maximal item with no effort scores exactly 1.
func DefaultWeights() Weights {
	return Weights{
		Impact:                0.25,
		Risk:                  0.20,
		Uncertainty:           0.15,
		Novelty:               0.10,
		ContradictionPressure: 0.15,
		GovernancePressure:    0.15,
		Effort:                0.10,
	}
}

// Validate rejects negative weights. Non-negative weights keep
// ComputePriority monotonic in every signal.
func (w Weights) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"impact", w.Impact},
		{"risk", w.Risk},
		{"uncertainty", w.Uncertainty},
		{"novelty", w.Novelty},
		{"contradictionPressure", w.ContradictionPressure},
		{"governancePressure", w.GovernancePressure},
		{"effort", w.Effort},
	} {
		if f.v < 0 || math.IsNaN(f.v) {
			return ir.NewError(ir.CodeInvalidInput, "weight %s must be non-negative, got %v", f.name, f.v).
				WithDetail("weight", f.name)
		}
	}
	return nil
}

// ComputePriority is a pure function of (signals, weights):
//
//	clamp01( Σ w_i × s_i  −  w_effort × effort )
//
// over impact, risk, uncertainty, novelty, contradiction and governance
// pressure. Signals are clamped before weighting.
func ComputePriority(s Signals, w Weights) float64 {
	s = s.clamp()
	score := w.Impact*s.Impact +
		w.Risk*s.Risk +
		w.Uncertainty*s.Uncertainty +
		w.Novelty*s.Novelty +
		w.ContradictionPressure*s.ContradictionPressure +
		w.GovernancePressure*s.GovernancePressure -
		w.Effort*s.Effort
	return dtu.Clamp01(score)
}

// deadlineBoost returns the extra priority for a deadline within window:
// boost × (1 − remaining/window), or the full boost once the deadline has
// passed. Items without a deadline get nothing.
func deadlineBoost(now time.Time, deadline *time.Time, boost float64, window time.Duration) float64 {
	if deadline == nil || boost <= 0 || window <= 0 {
		return 0
	}
	remaining := deadline.Sub(now)
	switch {
	case remaining <= 0:
		return boost
	case remaining > window:
		return 0
	default:
		return boost * (1 - float64(remaining)/float64(window))
	}
}
