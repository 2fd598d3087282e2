// Package harness runs YAML scenarios against a lattice and its scheduler.
//
// A scenario drives the public operations step by step, then checks the
// final state with assertions. Every run is deterministic: the clock
// starts at testutil.Epoch and only moves on `advance`, and ids come from
// a sequence generator (prop_1, dtu_2, work_3, ...).
//
// # Scenario Format
//
//	name: commit_requires_gate
//	description: "A proposal only becomes canonical with a gate trace"
//	policy: |
//	  policy: maxTurnsPerItem: 3
//	agents:
//	  - { id: critic_1, role: critic }
//	steps:
//	  - op: propose_dtu
//	    args: { title: "Entropy", tags: [physics], proposer: em_1, session: s1 }
//	    as: p1
//	  - op: commit
//	    args: { proposal: $p1 }
//	    expect_error: gate_trace_required
//	  - op: commit
//	    args: { proposal: $p1, trace: gt_1 }
//	    as: d1
//	assertions:
//	  - { type: dtu_count, count: 1 }
//	  - { type: tags_equal, dtu: $d1, tags: [physics] }
//
// String args of the form $name refer to the id bound by an earlier step's
// `as`. A step either succeeds or fails with the expect_error code; any
// other outcome fails the scenario.
//
// # Assertion Types
//
//   - dtu_count: number of canonical DTUs
//   - staging_empty: no staged DTUs, edges or artifacts remain
//   - proposal_status: a proposal's current status
//   - working_set_order: the top entries of a session working set, in order
//   - tags_equal: a DTU's tags compared as a set
//   - event_count: journal events of a type, optionally for one entity
//   - queue_sorted: the work queue is in priority order
//   - allocation_count: active or completed allocations
//
// # Golden Traces
//
// RunWithGolden archives the journal through an in-memory store, renders
// seq, type, entity, actor and session of every event as canonical JSON
// and compares it with testdata/golden/<name>.golden.
package harness
