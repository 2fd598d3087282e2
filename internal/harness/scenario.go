package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against a fresh lattice and scheduler.
// Steps execute in order; assertions are evaluated against the final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Policy is an inline CUE document with a top-level policy field.
	// Unset fields keep the scheduler defaults.
	Policy string `yaml:"policy,omitempty"`

	// PolicyFile is a path to a CUE policy, relative to the scenario file.
	// Mutually exclusive with Policy.
	PolicyFile string `yaml:"policy_file,omitempty"`

	// Agents is the scheduler roster.
	Agents []Agent `yaml:"agents,omitempty"`

	// Steps are the operations to execute.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Agent is one roster entry.
type Agent struct {
	ID           string   `yaml:"id"`
	Role         string   `yaml:"role"`
	Capabilities []string `yaml:"capabilities,omitempty"`
}

// Step is one operation. String args of the form "$name" are replaced by the
// id bound with `as: name` in an earlier step.
type Step struct {
	Op   string         `yaml:"op"`
	Args map[string]any `yaml:"args,omitempty"`

	// As binds the id produced by the step (proposal, DTU, edge, work item or
	// first allocation) to a name.
	As string `yaml:"as,omitempty"`

	// ExpectError is the error code the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates final state. Which fields apply depends on Type.
type Assertion struct {
	Type     string   `yaml:"type"`
	Count    *int     `yaml:"count,omitempty"`
	Proposal string   `yaml:"proposal,omitempty"`
	Status   string   `yaml:"status,omitempty"`
	Session  string   `yaml:"session,omitempty"`
	Order    []string `yaml:"order,omitempty"`
	DTU      string   `yaml:"dtu,omitempty"`
	Tags     []string `yaml:"tags,omitempty"`
	Event    string   `yaml:"event,omitempty"`
	Entity   string   `yaml:"entity,omitempty"`
}

// Assertion type constants.
const (
	AssertDTUCount        = "dtu_count"
	AssertStagingEmpty    = "staging_empty"
	AssertProposalStatus  = "proposal_status"
	AssertWorkingSetOrder = "working_set_order"
	AssertTagsEqual       = "tags_equal"
	AssertEventCount      = "event_count"
	AssertQueueSorted     = "queue_sorted"
	AssertAllocationCount = "allocation_count"
)

// Step op constants.
const (
	OpProposeDTU      = "propose_dtu"
	OpProposeEdit     = "propose_edit"
	OpProposeEdge     = "propose_edge"
	OpCommit          = "commit"
	OpReject          = "reject"
	OpCreateEdge      = "create_edge"
	OpActivate        = "activate"
	OpSpread          = "spread"
	OpDecay           = "decay"
	OpResolveConflict = "resolve_conflict"
	OpAdvance         = "advance"
	OpCreateWorkItem  = "create_work_item"
	OpScan            = "scan"
	OpAllocate        = "allocate"
	OpRecordTurn      = "record_turn"
	OpRecordProposal  = "record_proposal"
	OpComplete        = "complete"
	OpUpdateWeights   = "update_weights"
	OpUpdateBudget    = "update_budget"
	OpDequeue         = "dequeue"
	OpExpire          = "expire"
	OpCompact         = "compact"
)

var ops = []string{
	OpProposeDTU, OpProposeEdit, OpProposeEdge, OpCommit, OpReject,
	OpCreateEdge, OpActivate, OpSpread, OpDecay, OpResolveConflict, OpAdvance,
	OpCreateWorkItem, OpScan, OpAllocate, OpRecordTurn, OpRecordProposal, OpComplete,
	OpUpdateWeights, OpUpdateBudget, OpDequeue, OpExpire, OpCompact,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// A relative PolicyFile is resolved against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if scenario.PolicyFile != "" && !filepath.IsAbs(scenario.PolicyFile) {
		scenario.PolicyFile = filepath.Join(filepath.Dir(path), scenario.PolicyFile)
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if s.Policy != "" && s.PolicyFile != "" {
		return fmt.Errorf("policy and policy_file are mutually exclusive")
	}

	seen := map[string]bool{}
	for i, a := range s.Agents {
		if a.ID == "" || a.Role == "" {
			return fmt.Errorf("agents[%d]: id and role are required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("agents[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true
	}

	for i, step := range s.Steps {
		if step.Op == "" {
			return fmt.Errorf("steps[%d]: op is required", i)
		}
		if !slices.Contains(ops, step.Op) {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertDTUCount:
		return needCount()
	case AssertStagingEmpty, AssertQueueSorted:
	case AssertProposalStatus:
		if a.Proposal == "" || a.Status == "" {
			return fmt.Errorf("assertions[%d]: proposal and status are required for proposal_status", index)
		}
	case AssertWorkingSetOrder:
		if a.Session == "" {
			return fmt.Errorf("assertions[%d]: session is required for working_set_order", index)
		}
	case AssertTagsEqual:
		if a.DTU == "" {
			return fmt.Errorf("assertions[%d]: dtu is required for tags_equal", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		return needCount()
	case AssertAllocationCount:
		if a.Status != "active" && a.Status != "completed" {
			return fmt.Errorf("assertions[%d]: status must be active or completed for allocation_count", index)
		}
		return needCount()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
