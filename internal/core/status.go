package core

import (
	"fmt"
	"time"

	"hypershard/internal/merkle"
	"hypershard/internal/plan"
)

// Status is the aggregate view of a plan's execution.
type Status struct {
	PlanID         string         `json:"plan_id"`
	PlanName       string         `json:"plan_name"`
	State          plan.PlanState `json:"state"`
	TotalShards    int            `json:"total_shards"`
	Pending        int            `json:"pending"`
	Claimed        int            `json:"claimed"`
	Running        int            `json:"running"`
	Done           int            `json:"done"`
	Failed         int            `json:"failed"`
	MerkleRoot     string         `json:"merkle_root,omitempty"`
	TruthCertified bool           `json:"truth_certified"`
	StartedAt      time.Time      `json:"started_at,omitempty"`
	FinishedAt     time.Time      `json:"finished_at,omitempty"`
	ETASeconds     float64        `json:"eta_seconds,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Report is the final plan report: status plus the root's sampled
// inclusion proofs.
type Report struct {
	Status
	ReportType   string          `json:"report_type"`
	SampleProofs []*merkle.Proof `json:"sample_proofs,omitempty"`
}

// GetStatus returns shard counts and, once aggregation has completed,
// the Merkle root. Works for in-process runs and, after a restart, for
// plans known only to the checkpoint store.
func (c *Core) GetStatus(planID string) (*Status, error) {
	c.mu.RLock()
	run, ok := c.runs[planID]
	c.mu.RUnlock()
	if ok {
		return c.statusFromRun(run)
	}
	return c.statusFromStore(planID)
}

func (c *Core) statusFromRun(run *planRun) (*Status, error) {
	// Stage ids are unique within a plan, not across plans, so counts
	// are scoped to this run's computed cas_ids.
	c.mu.RLock()
	casIDs := make([]string, 0, run.totalShards)
	for _, ids := range run.stageCAS {
		casIDs = append(casIDs, ids...)
	}
	c.mu.RUnlock()

	counts, err := c.store.PhaseCounts(casIDs)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	persisted := 0
	for _, n := range counts {
		persisted += n
	}
	status := &Status{
		PlanID:   run.plan.PlanID,
		PlanName: run.plan.Name,
		State:    run.state,
		// Shards skipped on resume never rewrite their checkpoint row,
		// so the partition count is authoritative for the total.
		TotalShards: run.totalShards,
		Pending:     counts[plan.PhasePending] + counts[plan.PhaseRetrying] + (run.totalShards - persisted),
		Claimed:     counts[plan.PhaseClaimed],
		Running:     counts[plan.PhaseRunning],
		Done:        counts[plan.PhaseDone],
		Failed:      counts[plan.PhaseFailed],
		StartedAt:   run.startedAt,
		FinishedAt:  run.finishedAt,
	}
	if status.Pending < 0 {
		status.Pending = 0
	}
	// Resumed shards counted done in the store belong to this run's
	// leaf set even though this run never dispatched them.
	if run.state == plan.StateComplete {
		status.MerkleRoot = run.tree.ComputeRoot()
		status.TruthCertified = run.certified
		status.Done = run.tree.Len()
		status.Pending = 0
	}
	if run.runErr != nil {
		status.Error = run.runErr.Error()
	}
	if !run.state.Terminal() && status.Done > 0 {
		elapsed := time.Since(run.startedAt).Seconds()
		remaining := status.TotalShards - status.Done - status.Failed
		status.ETASeconds = elapsed / float64(status.Done) * float64(remaining)
	}
	return status, nil
}

// statusFromStore reconstructs status for a plan with no in-process run,
// e.g. after a restart.
func (c *Core) statusFromStore(planID string) (*Status, error) {
	p, err := c.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}

	stageCAS, err := c.stageCASIDs(p)
	if err != nil {
		return nil, err
	}
	casIDs := make([]string, 0, len(stageCAS))
	for _, ids := range stageCAS {
		casIDs = append(casIDs, ids...)
	}
	counts, err := c.store.PhaseCounts(casIDs)
	if err != nil {
		return nil, err
	}

	status := &Status{
		PlanID:      p.PlanID,
		PlanName:    p.Name,
		TotalShards: len(casIDs),
		Pending:     counts[plan.PhasePending] + counts[plan.PhaseRetrying],
		Claimed:     counts[plan.PhaseClaimed],
		Running:     counts[plan.PhaseRunning],
		Done:        counts[plan.PhaseDone],
		Failed:      counts[plan.PhaseFailed],
	}

	switch {
	case status.Failed > 0:
		status.State = plan.StateFailed
	case status.TotalShards > 0 && status.Done == status.TotalShards:
		status.State = plan.StateComplete
		tree, err := c.rebuildTree(p, stageCAS)
		if err != nil {
			return nil, err
		}
		status.MerkleRoot = tree.ComputeRoot()
	default:
		status.State = plan.StateExecuting
	}
	return status, nil
}

// rebuildTree reconstructs a plan's Merkle tree from checkpointed
// results, keyed strictly by the plan's own cas_ids. The root is
// identical to the one computed during the run because leaves are
// re-sorted by cas_id either way.
func (c *Core) rebuildTree(p *plan.Plan, stageCAS map[string][]string) (*merkle.Tree, error) {
	tree := merkle.NewTree(p.PlanID)
	for _, ids := range stageCAS {
		for _, casID := range ids {
			result, err := c.store.GetResult(casID)
			if err != nil {
				return nil, err
			}
			if result != nil && result.Success {
				tree.AddLeaf(result)
			}
		}
	}
	return tree, nil
}

// Report returns the final report for a plan: status, root, truth
// certification, and a fresh proof sample.
func (c *Core) Report(planID string) (*Report, error) {
	status, err := c.GetStatus(planID)
	if err != nil {
		return nil, err
	}
	report := &Report{Status: *status, ReportType: "final"}

	tree, err := c.treeFor(planID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	proofs, err := tree.SampleProofs(c.proofSample)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	report.SampleProofs = proofs
	return report, nil
}

// Proof generates the inclusion proof for one shard of a plan.
func (c *Core) Proof(planID, casID string) (*merkle.Proof, error) {
	tree, err := c.treeFor(planID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return tree.GenerateProof(casID)
}

// VerifyProof checks a proof against its embedded root. A failure is an
// integrity violation and must be surfaced by the caller, never dropped.
func (c *Core) VerifyProof(proof *merkle.Proof) error {
	if !merkle.VerifyProof(proof) {
		return &plan.IntegrityError{CASID: proof.LeafCASID, Reason: "proof does not recompute to the stored root"}
	}
	return nil
}

// treeFor returns the live tree for an in-process run, or rebuilds one
// from the checkpoint store.
func (c *Core) treeFor(planID string) (*merkle.Tree, error) {
	c.mu.RLock()
	run, ok := c.runs[planID]
	c.mu.RUnlock()
	if ok {
		return run.tree, nil
	}
	p, err := c.store.GetPlan(planID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	stageCAS, err := c.stageCASIDs(p)
	if err != nil {
		return nil, err
	}
	return c.rebuildTree(p, stageCAS)
}
