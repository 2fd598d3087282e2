package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/lattice/internal/dtu"
	"github.com/roach88/lattice/internal/edge"
	"github.com/roach88/lattice/internal/ir"
	"github.com/roach88/lattice/internal/lattice"
	"github.com/roach88/lattice/internal/policy"
	"github.com/roach88/lattice/internal/scheduler"
	"github.com/roach88/lattice/internal/store"
	"github.com/roach88/lattice/internal/testutil"
)

// Harness is the execution state of one scenario run.
type Harness struct {
	lat     *lattice.Lattice
	sched   *scheduler.Scheduler
	clock   *testutil.FakeClock
	aliases map[string]string
	logger  *slog.Logger
}

// Option configures Run.
type Option func(*runConfig)

type runConfig struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the lattice and scheduler.
// The default discards everything.
func WithLogger(logger *slog.Logger) Option {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh lattice and scheduler sharing a fake clock that
// starts at testutil.Epoch and a sequence id generator, so ids and
// timestamps are identical across runs. After the steps, the journal is
// archived into an in-memory SQLite store and the trace is read back
// from it.
//
// A step that fails with an unexpected error is recorded and ends the
// flow; assertions are still evaluated. Malformed scenarios, unknown
// aliases and archive failures are returned as errors.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	cfg := runConfig{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&cfg)
	}

	h, err := newHarness(scenario, cfg.logger)
	if err != nil {
		return nil, err
	}

	result := NewResult()
	if err := h.executeSteps(scenario.Steps, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{
		Lattice:   h.lat,
		Scheduler: h.sched,
		Aliases:   h.aliases,
	}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}

	result.Events = h.lat.Events()
	result.Snapshots = h.lat.Snapshots()
	trace, err := archiveTrace(context.Background(), result)
	if err != nil {
		return nil, err
	}
	result.Trace = trace
	return result, nil
}

func newHarness(s *Scenario, logger *slog.Logger) (*Harness, error) {
	cfg := scheduler.DefaultConfig()
	var err error
	switch {
	case s.Policy != "":
		cfg, err = policy.CompileBytes([]byte(s.Policy), s.Name+".cue")
	case s.PolicyFile != "":
		cfg, err = policy.Load(s.PolicyFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to compile policy: %w", err)
	}

	roster := make(scheduler.StaticRoster, len(s.Agents))
	for i, a := range s.Agents {
		roster[i] = scheduler.Agent{ID: a.ID, Role: a.Role, Capabilities: a.Capabilities}
	}

	clock := testutil.NewFakeClock(time.Time{})
	ids := ir.NewSequenceGenerator()
	lat := lattice.New(
		lattice.WithClock(clock.Now),
		lattice.WithIDGenerator(ids),
		lattice.WithLogger(logger),
	)
	sched, err := scheduler.New(lat, roster,
		scheduler.WithConfig(cfg),
		scheduler.WithIDGenerator(ids),
		scheduler.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Harness{
		lat:     lat,
		sched:   sched,
		clock:   clock,
		aliases: map[string]string{},
		logger:  logger,
	}, nil
}

// archiveTrace writes the run's journal through the SQLite archive and
// reads it back, so traces reflect exactly what an archive would hold.
func archiveTrace(ctx context.Context, result *Result) ([]TraceEvent, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	if _, err := st.Archive(ctx, result.Events, result.Snapshots); err != nil {
		return nil, fmt.Errorf("failed to archive journal: %w", err)
	}
	events, err := st.ReadEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return traceOf(events), nil
}

// executeSteps runs the steps in order and checks expect_error clauses.
func (h *Harness) executeSteps(steps []Step, result *Result) error {
	for i, step := range steps {
		resolved, err := resolveAliases(map[string]any(step.Args), h.aliases)
		if err != nil {
			return fmt.Errorf("steps[%d] %s: %w", i, step.Op, err)
		}
		a := args(resolved.(map[string]any))

		id, opErr := h.execute(step.Op, a)
		var ae *argError
		if errors.As(opErr, &ae) {
			return fmt.Errorf("steps[%d] %s: %w", i, step.Op, ae)
		}

		outcome := StepOutcome{Index: i, Op: step.Op, ID: id}
		if opErr != nil {
			outcome.Error = string(ir.CodeOf(opErr))
		}
		result.Steps = append(result.Steps, outcome)

		if step.As != "" && id != "" {
			h.aliases[step.As] = id
			result.Aliases[step.As] = id
		}

		h.logger.Debug("step executed", "step", i, "op", step.Op, "id", id, "error", outcome.Error)

		switch {
		case step.ExpectError == "" && opErr != nil:
			result.AddError(fmt.Sprintf("steps[%d] %s: unexpected error: %v", i, step.Op, opErr))
			return nil
		case step.ExpectError != "" && opErr == nil:
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got success", i, step.Op, step.ExpectError))
		case step.ExpectError != "" && outcome.Error != step.ExpectError:
			result.AddError(fmt.Sprintf("steps[%d] %s: expected error %s, got %s (%v)",
				i, step.Op, step.ExpectError, outcome.Error, opErr))
		}
	}
	return nil
}

// execute dispatches one op. The returned id is what `as` binds.
func (h *Harness) execute(op string, a args) (string, error) {
	switch op {
	case OpProposeDTU:
		return h.proposeDTU(a)
	case OpProposeEdit:
		return h.proposeEdit(a)
	case OpProposeEdge:
		return h.proposeEdge(a)
	case OpCommit:
		return h.commit(a)
	case OpReject:
		return h.reject(a)
	case OpCreateEdge:
		in, err := edgeInput(a, "harness")
		if err != nil {
			return "", err
		}
		e, err := h.lat.CreateEdge(in)
		return e.ID, err
	case OpActivate:
		return h.activate(a)
	case OpSpread:
		return h.spread(a)
	case OpDecay:
		session, err := a.str("session")
		if err != nil {
			return "", err
		}
		factor, err := a.float("factor", 0.5)
		if err != nil {
			return "", err
		}
		h.lat.DecaySession(session, factor)
		return "", nil
	case OpResolveConflict:
		return h.resolveConflict(a)
	case OpAdvance:
		d, ok, err := a.duration("duration")
		if err != nil {
			return "", err
		}
		if !ok {
			return "", &argError{"duration", "is required"}
		}
		h.clock.Advance(d)
		return "", nil
	case OpCreateWorkItem:
		return h.createWorkItem(a)
	case OpScan:
		_, err := h.sched.ScanAndCreateWorkItems()
		return "", err
	case OpAllocate:
		return h.allocate(a)
	case OpRecordTurn:
		return h.recordTurn(a)
	case OpRecordProposal:
		alloc, err := a.str("allocation")
		if err != nil {
			return "", err
		}
		proposal, err := a.str("proposal")
		if err != nil {
			return "", err
		}
		_, err = h.sched.RecordProposal(alloc, proposal)
		return alloc, err
	case OpComplete:
		return h.complete(a)
	case OpUpdateWeights:
		w := h.sched.Weights()
		if err := a.decode("weights", &w); err != nil {
			return "", err
		}
		return "", h.sched.UpdateWeights(w)
	case OpUpdateBudget:
		return h.updateBudget(a)
	case OpDequeue:
		item, err := a.str("item")
		if err != nil {
			return "", err
		}
		w, err := h.sched.DequeueItem(item)
		return w.ID, err
	case OpExpire:
		h.sched.ExpireItems()
		return "", nil
	case OpCompact:
		keep, err := a.integer("keep_last", 0)
		if err != nil {
			return "", err
		}
		snap, err := h.lat.CompactJournal(keep)
		if err != nil || snap == nil {
			return "", err
		}
		return snap.ID, nil
	}
	return "", fmt.Errorf("unknown op %q", op)
}

func proposer(a args) (lattice.ProposerRef, error) {
	id, err := a.strOr("proposer", "agent")
	if err != nil {
		return lattice.ProposerRef{}, err
	}
	session, err := a.str("session")
	if err != nil {
		return lattice.ProposerRef{}, err
	}
	return lattice.ProposerRef{ProposerID: id, SessionID: session}, nil
}

func (h *Harness) proposeDTU(a args) (string, error) {
	by, err := proposer(a)
	if err != nil {
		return "", err
	}
	var in lattice.DTUInput
	if in.Title, err = a.str("title"); err != nil {
		return "", err
	}
	if in.Content, err = a.str("content"); err != nil {
		return "", err
	}
	if in.Summary, err = a.str("summary"); err != nil {
		return "", err
	}
	tier, err := a.str("tier")
	if err != nil {
		return "", err
	}
	in.Tier = dtu.Tier(tier)
	if in.Tags, err = a.strs("tags"); err != nil {
		return "", err
	}
	if in.RelatedIDs, err = a.strs("related"); err != nil {
		return "", err
	}
	if in.Meta, err = a.object("meta"); err != nil {
		return "", err
	}
	if in.Resonance, err = a.floatPtr("resonance"); err != nil {
		return "", err
	}
	if in.Coherence, err = a.floatPtr("coherence"); err != nil {
		return "", err
	}
	if in.Stability, err = a.floatPtr("stability"); err != nil {
		return "", err
	}

	p, err := h.lat.ProposeDTU(in, by)
	return p.ID, err
}

func (h *Harness) proposeEdit(a args) (string, error) {
	by, err := proposer(a)
	if err != nil {
		return "", err
	}
	target, err := a.str("target")
	if err != nil {
		return "", err
	}
	patch, err := a.object("patch")
	if err != nil {
		return "", err
	}
	p, err := h.lat.ProposeEdit(target, patch, by)
	return p.ID, err
}

func (h *Harness) proposeEdge(a args) (string, error) {
	by, err := proposer(a)
	if err != nil {
		return "", err
	}
	in, err := edgeInput(a, by.ProposerID)
	if err != nil {
		return "", err
	}
	p, err := h.lat.ProposeEdge(in, by)
	return p.ID, err
}

func edgeInput(a args, createdBy string) (edge.Input, error) {
	var in edge.Input
	var err error
	if in.Source, err = a.str("source"); err != nil {
		return in, err
	}
	if in.Target, err = a.str("target"); err != nil {
		return in, err
	}
	typ, err := a.str("type")
	if err != nil {
		return in, err
	}
	in.Type = edge.Type(typ)
	if in.Weight, err = a.floatPtr("weight"); err != nil {
		return in, err
	}
	if in.Confidence, err = a.floatPtr("confidence"); err != nil {
		return in, err
	}
	if in.Evidence, err = a.strs("evidence"); err != nil {
		return in, err
	}
	if in.CreatedBy, err = a.strOr("created_by", createdBy); err != nil {
		return in, err
	}
	return in, nil
}

// commit approves a proposal. Without a trace arg no gate trace is sent.
func (h *Harness) commit(a args) (string, error) {
	id, err := a.str("proposal")
	if err != nil {
		return "", err
	}
	in := lattice.CommitInput{}
	if in.CommittedBy, err = a.strOr("committed_by", "governance"); err != nil {
		return "", err
	}
	if a.has("trace") {
		trace, err := a.str("trace")
		if err != nil {
			return "", err
		}
		in.GateTrace = &lattice.GateTrace{TraceID: trace, Passed: true}
	}
	res, err := h.lat.CommitProposal(id, in)
	return res.ResultID, err
}

func (h *Harness) reject(a args) (string, error) {
	id, err := a.str("proposal")
	if err != nil {
		return "", err
	}
	reason, err := a.str("reason")
	if err != nil {
		return "", err
	}
	by, err := a.strOr("by", "governance")
	if err != nil {
		return "", err
	}
	p, err := h.lat.RejectProposal(id, reason, by)
	return p.ID, err
}

func (h *Harness) activate(a args) (string, error) {
	session, err := a.str("session")
	if err != nil {
		return "", err
	}
	id, err := a.str("dtu")
	if err != nil {
		return "", err
	}
	amount, err := a.float("amount", 1)
	if err != nil {
		return "", err
	}
	reason, err := a.strOr("reason", "harness")
	if err != nil {
		return "", err
	}
	rec, err := h.lat.Activate(session, id, amount, reason)
	return rec.DTUID, err
}

func (h *Harness) spread(a args) (string, error) {
	session, err := a.str("session")
	if err != nil {
		return "", err
	}
	source, err := a.str("source")
	if err != nil {
		return "", err
	}
	hops, err := a.integer("hops", 2)
	if err != nil {
		return "", err
	}
	res, err := h.lat.SpreadActivation(session, source, hops)
	return res.SourceID, err
}

func (h *Harness) resolveConflict(a args) (string, error) {
	id, err := a.str("dtu")
	if err != nil {
		return "", err
	}
	field, err := a.str("field")
	if err != nil {
		return "", err
	}
	by, err := a.strOr("by", "governance")
	if err != nil {
		return "", err
	}
	c, err := h.lat.ResolveConflict(id, field, a["value"], by)
	return c.DTUID, err
}

func (h *Harness) createWorkItem(a args) (string, error) {
	var in scheduler.WorkItemInput
	typ, err := a.str("type")
	if err != nil {
		return "", err
	}
	in.Type = scheduler.WorkType(typ)
	if in.Scope, err = a.str("scope"); err != nil {
		return "", err
	}
	if in.InputRefs, err = a.strs("refs"); err != nil {
		return "", err
	}
	if in.CreatedBy, err = a.strOr("created_by", "harness"); err != nil {
		return "", err
	}
	if in.Description, err = a.str("description"); err != nil {
		return "", err
	}
	if err := a.decode("signals", &in.Signals); err != nil {
		return "", err
	}
	d, ok, err := a.duration("deadline")
	if err != nil {
		return "", err
	}
	if ok {
		deadline := h.clock.Now().Add(d)
		in.Deadline = &deadline
	}
	w, err := h.sched.CreateWorkItem(in)
	return w.ID, err
}

func (h *Harness) allocate(a args) (string, error) {
	k, err := a.integer("k", 1)
	if err != nil {
		return "", err
	}
	res, err := h.sched.Allocate(k)
	if err != nil || len(res.Allocations) == 0 {
		return "", err
	}
	return res.Allocations[0].ID, nil
}

func (h *Harness) recordTurn(a args) (string, error) {
	id, err := a.str("allocation")
	if err != nil {
		return "", err
	}
	times, err := a.integer("times", 1)
	if err != nil {
		return "", err
	}
	for range times {
		if _, err := h.sched.RecordTurn(id); err != nil {
			return id, err
		}
	}
	return id, nil
}

func (h *Harness) complete(a args) (string, error) {
	id, err := a.str("allocation")
	if err != nil {
		return "", err
	}
	var in scheduler.CompleteInput
	if in.StopReason, err = a.strOr("stop_reason", scheduler.StopCompleted); err != nil {
		return "", err
	}
	if in.Description, err = a.str("description"); err != nil {
		return "", err
	}
	if in.ConfidenceLabels, err = a.strs("labels"); err != nil {
		return "", err
	}
	alloc, err := h.sched.CompleteAllocation(id, in)
	return alloc.ID, err
}

func (h *Harness) updateBudget(a args) (string, error) {
	var u scheduler.BudgetUpdate
	d, ok, err := a.duration("cycle_duration")
	if err != nil {
		return "", err
	}
	if ok {
		u.CycleDuration = &d
	}
	if u.MaxItemsPerCycle, err = a.intPtr("max_items"); err != nil {
		return "", err
	}
	if u.MaxConcurrentSessions, err = a.intPtr("max_sessions"); err != nil {
		return "", err
	}
	_, err = h.sched.UpdateBudget(u)
	return "", err
}
