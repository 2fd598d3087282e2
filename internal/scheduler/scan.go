package scheduler

import "fmt"

// scanActor is the CreatedBy of items emitted by ScanAndCreateWorkItems.
const scanActor = "scheduler"

// ScanAndCreateWorkItems inspects the lattice and enqueues work for what it
// finds:
//
//	coherence below Scan.LowCoherence     low_confidence per DTU
//	pending proposals >= Scan.Backlog     one governance_backlog
//	DTUs with no edges                    missing_edges per DTU
//	contradicts edges                     contradiction per edge
//	global activation >= Scan.Hot         hot_node per DTU
//
// Work already queued or active for the same type and inputs is skipped, so
// repeated scans are idempotent until the work completes.
func (s *Scheduler) ScanAndCreateWorkItems() ([]WorkItem, error) {
	// Lattice reads take the lattice lock; gather them before our own.
	cfg := s.Config().Scan
	lowCoherence := s.lat.LowCoherence(cfg.LowCoherence)
	pending := s.lat.PendingCount()
	isolated := s.lat.Isolated()
	contradictions := s.lat.ContradictionEdges()
	hot := s.lat.HotNodes(cfg.Hot)

	var inputs []WorkItemInput
	for _, id := range lowCoherence {
		inputs = append(inputs, WorkItemInput{
			Type:        WorkLowConfidence,
			Scope:       "dtu",
			InputRefs:   []string{id},
			Description: fmt.Sprintf("coherence of %s is below %.2f", id, cfg.LowCoherence),
			Signals:     Signals{Impact: 0.4, Uncertainty: 0.8, Effort: 0.2},
		})
	}
	if pending >= cfg.Backlog {
		inputs = append(inputs, WorkItemInput{
			Type:        WorkGovernanceBacklog,
			Scope:       "lattice",
			Description: fmt.Sprintf("%d proposals awaiting governance", pending),
			Signals: Signals{
				Impact:             0.5,
				GovernancePressure: float64(pending) / float64(2*cfg.Backlog),
				Effort:             0.3,
			},
		})
	}
	for _, id := range isolated {
		inputs = append(inputs, WorkItemInput{
			Type:        WorkMissingEdges,
			Scope:       "dtu",
			InputRefs:   []string{id},
			Description: fmt.Sprintf("%s has no edges", id),
			Signals:     Signals{Impact: 0.3, Novelty: 0.3, Effort: 0.3},
		})
	}
	for _, e := range contradictions {
		inputs = append(inputs, WorkItemInput{
			Type:        WorkContradiction,
			Scope:       "edge",
			InputRefs:   []string{e.Source, e.Target},
			Description: fmt.Sprintf("%s contradicts %s", e.Source, e.Target),
			Signals: Signals{
				Impact:                0.5,
				Risk:                  0.6,
				ContradictionPressure: e.Weight * e.Confidence,
				Effort:                0.4,
			},
		})
	}
	for _, id := range hot {
		inputs = append(inputs, WorkItemInput{
			Type:        WorkHotNode,
			Scope:       "dtu",
			InputRefs:   []string{id},
			Description: fmt.Sprintf("%s is highly activated", id),
			Signals:     Signals{Impact: 0.6, Novelty: 0.5, Effort: 0.2},
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := s.openKeysLocked()
	created := []WorkItem{}
	for _, in := range inputs {
		key := workKey(in.Type, in.InputRefs)
		if seen[key] {
			continue
		}
		seen[key] = true
		in.CreatedBy = scanActor
		w, err := s.createLocked(in)
		if err != nil {
			return created, err
		}
		created = append(created, w.clone())
	}
	if len(created) > 0 {
		s.logger.Info("lattice scan queued work", "created", len(created), "queue_len", s.queue.len())
	}
	return created, nil
}

// openKeysLocked returns the keys of queued and active work.
func (s *Scheduler) openKeysLocked() map[string]bool {
	keys := make(map[string]bool, s.queue.len()+len(s.active))
	for _, w := range s.queue.items {
		keys[w.key()] = true
	}
	for _, a := range s.active {
		keys[a.Item.key()] = true
	}
	return keys
}
