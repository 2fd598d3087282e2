package scheduler

import (
	"maps"
	"slices"
	"sort"
)

// Agent roles known to the default affinity table.
const (
	RoleCritic      = "critic"
	RoleAdversary   = "adversary"
	RoleSynthesizer = "synthesizer"
	RoleAnalyst     = "analyst"
	RoleGovernor    = "governor"
	RoleLinker      = "linker"
	RoleValidator   = "validator"
	RoleCurator     = "curator"
	RoleExplorer    = "explorer"
)

// Affinity names the roles a work type needs. Primary is required;
// secondary roles join the team when a free agent fills them.
type Affinity struct {
	Primary   string   `json:"primary" yaml:"primary"`
	Secondary []string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
}

// DefaultAffinity returns the default role table for every work type.
func DefaultAffinity() map[WorkType]Affinity {
	return map[WorkType]Affinity{
		WorkContradiction:      {Primary: RoleCritic, Secondary: []string{RoleAdversary, RoleSynthesizer}},
		WorkLowConfidence:      {Primary: RoleAnalyst, Secondary: []string{RoleCritic}},
		WorkUserPrompt:         {Primary: RoleSynthesizer, Secondary: []string{RoleAnalyst}},
		WorkHotNode:            {Primary: RoleAnalyst, Secondary: []string{RoleSynthesizer}},
		WorkGovernanceBacklog:  {Primary: RoleGovernor, Secondary: []string{RoleCritic}},
		WorkMissingEdges:       {Primary: RoleLinker, Secondary: []string{RoleAnalyst}},
		WorkArtifactValidation: {Primary: RoleValidator, Secondary: []string{RoleCritic}},
		WorkStaleNode:          {Primary: RoleCurator, Secondary: []string{RoleAnalyst}},
		WorkSynthesis:          {Primary: RoleSynthesizer, Secondary: []string{RoleCritic}},
		WorkExploration:        {Primary: RoleExplorer, Secondary: []string{RoleSynthesizer}},
	}
}

func cloneAffinity(in map[WorkType]Affinity) map[WorkType]Affinity {
	out := maps.Clone(in)
	for k, a := range out {
		a.Secondary = slices.Clone(a.Secondary)
		out[k] = a
	}
	return out
}

// Agent is a roster entry. An agent fills a role when its Role matches or
// its Capabilities list the role.
type Agent struct {
	ID           string   `json:"id" yaml:"id"`
	Role         string   `json:"role" yaml:"role"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
}

func (a Agent) fills(role string) bool {
	return a.Role == role || slices.Contains(a.Capabilities, role)
}

// Roster supplies the agents currently registered.
type Roster interface {
	Agents() []Agent
}

// StaticRoster is a fixed Roster.
type StaticRoster []Agent

// Agents implements Roster.
func (r StaticRoster) Agents() []Agent {
	return slices.Clone(r)
}

// Member is one agent on an allocation's team.
type Member struct {
	AgentID string `json:"agent_id"`
	Role    string `json:"role"`
}

// formTeam picks the first free agent (by id) for the primary role, then
// one free agent per secondary role. Exact role matches are preferred over
// capability matches. ok is false when no free agent fills the primary role.
func formTeam(aff Affinity, agents []Agent, busy map[string]bool) (team []Member, ok bool) {
	if aff.Primary == "" {
		return nil, false
	}
	agents = slices.Clone(agents)
	sort.SliceStable(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })

	taken := make(map[string]bool, len(busy))
	for id := range busy {
		taken[id] = true
	}
	pick := func(role string) (Member, bool) {
		for _, exact := range []bool{true, false} {
			for _, a := range agents {
				if taken[a.ID] {
					continue
				}
				if (exact && a.Role == role) || (!exact && a.fills(role)) {
					taken[a.ID] = true
					return Member{AgentID: a.ID, Role: role}, true
				}
			}
		}
		return Member{}, false
	}

	primary, ok := pick(aff.Primary)
	if !ok {
		return nil, false
	}
	team = append(team, primary)
	for _, role := range aff.Secondary {
		if m, ok := pick(role); ok {
			team = append(team, m)
		}
	}
	return team, true
}
