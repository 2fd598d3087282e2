// Package policy loads scheduler policy from CUE.
//
// A policy file holds one top-level "policy" struct:
//
//	policy: {
//		weights: { impact: 0.3, risk: 0.2, effort: 0.1 }
//		budget: { cycleDuration: "30s", maxItemsPerCycle: 4, maxConcurrentSessions: 2 }
//		maxTurnsPerItem: 6
//		deadlineBoost:   0.25
//		deadlineWindow:  "2h"
//		completedHistory: 100
//		affinity: contradiction: { primary: "critic", secondary: ["adversary"] }
//		scan: { lowCoherence: 0.25, backlog: 3, hot: 0.9 }
//	}
//
// Every field is optional. Unset fields, individual weights and affinity
// entries included, keep their scheduler.DefaultConfig values.
package policy

import (
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/lattice/internal/scheduler"
)

// CompileError is a policy error with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads and compiles the policy file at path.
func Load(path string) (scheduler.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("reading policy: %w", err)
	}
	return CompileBytes(data, path)
}

// CompileBytes compiles CUE source containing a top-level policy struct.
// filename is used for error positions only.
func CompileBytes(src []byte, filename string) (scheduler.Config, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return scheduler.Config{}, formatCUEError(err)
	}
	p := v.LookupPath(cue.ParsePath("policy"))
	if !p.Exists() {
		return scheduler.Config{}, &CompileError{Field: "policy", Message: "policy struct is required", Pos: v.Pos()}
	}
	return Compile(p)
}

// Compile converts a policy struct into a validated scheduler.Config.
func Compile(v cue.Value) (scheduler.Config, error) {
	cfg := scheduler.DefaultConfig()
	if err := v.Err(); err != nil {
		return cfg, formatCUEError(err)
	}

	err := eachField(v, "policy", func(name string, f cue.Value) error {
		switch name {
		case "weights":
			return compileWeights(f, &cfg.Weights)
		case "budget":
			return compileBudget(f, &cfg.Budget)
		case "maxTurnsPerItem":
			return positiveInt(f, name, &cfg.MaxTurnsPerItem)
		case "deadlineBoost":
			return unitFloat(f, name, &cfg.DeadlineBoost)
		case "deadlineWindow":
			return duration(f, name, &cfg.DeadlineWindow)
		case "completedHistory":
			return positiveInt(f, name, &cfg.CompletedHistory)
		case "affinity":
			return compileAffinity(f, cfg.Affinity)
		case "scan":
			return compileScan(f, &cfg.Scan)
		default:
			return unknownField(f, "policy."+name)
		}
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, &CompileError{Field: "policy", Message: err.Error(), Pos: v.Pos()}
	}
	return cfg, nil
}

func compileWeights(v cue.Value, w *scheduler.Weights) error {
	fields := map[string]*float64{
		"impact":                &w.Impact,
		"risk":                  &w.Risk,
		"uncertainty":           &w.Uncertainty,
		"novelty":               &w.Novelty,
		"contradictionPressure": &w.ContradictionPressure,
		"governancePressure":    &w.GovernancePressure,
		"effort":                &w.Effort,
	}
	return eachField(v, "weights", func(name string, f cue.Value) error {
		dst, ok := fields[name]
		if !ok {
			return unknownField(f, "weights."+name)
		}
		n, err := number(f, "weights."+name)
		if err != nil {
			return err
		}
		if n < 0 {
			return &CompileError{Field: "weights." + name, Message: "weight must be non-negative", Pos: f.Pos()}
		}
		*dst = n
		return nil
	})
}

func compileBudget(v cue.Value, b *scheduler.Budget) error {
	return eachField(v, "budget", func(name string, f cue.Value) error {
		field := "budget." + name
		switch name {
		case "cycleDuration":
			if err := duration(f, field, &b.CycleDuration); err != nil {
				return err
			}
			if b.CycleDuration <= 0 {
				return &CompileError{Field: field, Message: "must be positive", Pos: f.Pos()}
			}
			return nil
		case "maxItemsPerCycle":
			return positiveInt(f, field, &b.MaxItemsPerCycle)
		case "maxConcurrentSessions":
			return positiveInt(f, field, &b.MaxConcurrentSessions)
		default:
			return unknownField(f, field)
		}
	})
}

func compileAffinity(v cue.Value, table map[scheduler.WorkType]scheduler.Affinity) error {
	return eachField(v, "affinity", func(name string, f cue.Value) error {
		field := "affinity." + name
		t := scheduler.WorkType(name)
		if !t.Valid() {
			return &CompileError{Field: field, Message: fmt.Sprintf("unknown work type %q", name), Pos: f.Pos()}
		}
		var a scheduler.Affinity
		err := eachField(f, field, func(key string, kv cue.Value) error {
			switch key {
			case "primary":
				s, err := kv.String()
				if err != nil {
					return formatCUEError(err)
				}
				a.Primary = s
			case "secondary":
				iter, err := kv.List()
				if err != nil {
					return formatCUEError(err)
				}
				for iter.Next() {
					s, err := iter.Value().String()
					if err != nil {
						return formatCUEError(err)
					}
					a.Secondary = append(a.Secondary, s)
				}
			default:
				return unknownField(kv, field+"."+key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if a.Primary == "" {
			return &CompileError{Field: field + ".primary", Message: "primary role is required", Pos: f.Pos()}
		}
		table[t] = a
		return nil
	})
}

func compileScan(v cue.Value, s *scheduler.ScanThresholds) error {
	return eachField(v, "scan", func(name string, f cue.Value) error {
		field := "scan." + name
		switch name {
		case "lowCoherence":
			return unitFloat(f, field, &s.LowCoherence)
		case "hot":
			return unitFloat(f, field, &s.Hot)
		case "backlog":
			return positiveInt(f, field, &s.Backlog)
		default:
			return unknownField(f, field)
		}
	})
}

// eachField calls fn for every regular field of the struct v.
func eachField(v cue.Value, field string, fn func(name string, f cue.Value) error) error {
	iter, err := v.Fields()
	if err != nil {
		return &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	for iter.Next() {
		if err := fn(iter.Label(), iter.Value()); err != nil {
			return err
		}
	}
	return nil
}

func number(v cue.Value, field string) (float64, error) {
	n, err := v.Float64()
	if err != nil {
		return 0, &CompileError{Field: field, Message: "must be a number", Pos: v.Pos()}
	}
	return n, nil
}

func unitFloat(v cue.Value, field string, dst *float64) error {
	n, err := number(v, field)
	if err != nil {
		return err
	}
	if n < 0 || n > 1 {
		return &CompileError{Field: field, Message: fmt.Sprintf("must be in [0, 1], got %v", n), Pos: v.Pos()}
	}
	*dst = n
	return nil
}

func positiveInt(v cue.Value, field string, dst *int) error {
	n, err := v.Int64()
	if err != nil {
		return &CompileError{Field: field, Message: "must be an integer", Pos: v.Pos()}
	}
	if n <= 0 {
		return &CompileError{Field: field, Message: fmt.Sprintf("must be positive, got %d", n), Pos: v.Pos()}
	}
	*dst = int(n)
	return nil
}

// duration accepts a Go duration string such as "90s" or "1h30m".
func duration(v cue.Value, field string, dst *time.Duration) error {
	s, err := v.String()
	if err != nil {
		return &CompileError{Field: field, Message: "must be a duration string", Pos: v.Pos()}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	*dst = d
	return nil
}

func unknownField(v cue.Value, field string) error {
	return &CompileError{Field: field, Message: "unknown field", Pos: v.Pos()}
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
