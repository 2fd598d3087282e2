package lattice

import (
	"time"

	"github.com/roach88/lattice/internal/activation"
	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/merge"
)

// Limits bounds inputs accepted at the PROPOSE and READ boundary.
type Limits struct {
	MaxTitleLen   int
	MaxContentLen int
	MaxSummaryLen int
	MaxTags       int
	MaxTagLen     int

	DefaultQueryLimit int
	MaxQueryLimit     int

	// DefaultTier is applied when a DTU proposal leaves Tier empty.
	DefaultTier dtu.Tier

	// DefaultMetric is applied to unset resonance, coherence and stability.
	// Nil means 0.5. An explicit 0 is kept.
	DefaultMetric *float64

	SpreadHopDecay       float64
	ConcurrentEditWindow time.Duration
}

// DefaultLimits returns the limits used when no WithLimits option is given.
func DefaultLimits() Limits {
	return Limits{
		MaxTitleLen:          500,
		MaxContentLen:        100000,
		MaxSummaryLen:        2000,
		MaxTags:              64,
		MaxTagLen:            64,
		DefaultQueryLimit:    50,
		MaxQueryLimit:        200,
		DefaultTier:          dtu.TierRegular,
		DefaultMetric:        metricPtr(0.5),
		SpreadHopDecay:       activation.DefaultHopDecay,
		ConcurrentEditWindow: merge.DefaultConcurrentWindow,
	}
}

// withDefaults fills zero fields from DefaultLimits.
func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTitleLen <= 0 {
		l.MaxTitleLen = d.MaxTitleLen
	}
	if l.MaxContentLen <= 0 {
		l.MaxContentLen = d.MaxContentLen
	}
	if l.MaxSummaryLen <= 0 {
		l.MaxSummaryLen = d.MaxSummaryLen
	}
	if l.MaxTags <= 0 {
		l.MaxTags = d.MaxTags
	}
	if l.MaxTagLen <= 0 {
		l.MaxTagLen = d.MaxTagLen
	}
	if l.DefaultQueryLimit <= 0 {
		l.DefaultQueryLimit = d.DefaultQueryLimit
	}
	if l.MaxQueryLimit <= 0 {
		l.MaxQueryLimit = d.MaxQueryLimit
	}
	if l.DefaultTier == "" {
		l.DefaultTier = d.DefaultTier
	}
	if l.DefaultMetric == nil {
		l.DefaultMetric = d.DefaultMetric
	} else {
		l.DefaultMetric = metricPtr(dtu.Clamp01(*l.DefaultMetric))
	}
	if l.SpreadHopDecay <= 0 || l.SpreadHopDecay >= 1 {
		l.SpreadHopDecay = d.SpreadHopDecay
	}
	if l.ConcurrentEditWindow <= 0 {
		l.ConcurrentEditWindow = d.ConcurrentEditWindow
	}
	return l
}

func metricPtr(v float64) *float64 { return &v }

// clampLimit applies the default for n <= 0 and the hard cap.
func (l Limits) clampLimit(n int) int {
	if n <= 0 {
		return l.DefaultQueryLimit
	}
	return min(n, l.MaxQueryLimit)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
