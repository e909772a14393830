// Package core drives the Hypershard lifecycle: submit → partition →
// schedule → execute → checkpoint → aggregate → report. Shards dispatch
// concurrently; the checkpoint store is the only shared mutable resource
// between them, and a per-cas_id lease guarantees at most one in-flight
// execution per shard identity within the process.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hypershard/internal/checkpoint"
	"hypershard/internal/execute"
	"hypershard/internal/merkle"
	"hypershard/internal/partition"
	"hypershard/internal/plan"
	"hypershard/internal/schedule"
)

// ErrPlanNotFound reports a status or control request for an unknown plan.
var ErrPlanNotFound = errors.New("plan not found")

// ErrPlanRunning reports a re-submission of a plan that is still running.
var ErrPlanRunning = errors.New("plan is already running")

const (
	defaultMaxConcurrentShards = 8
	defaultProofSampleSize     = 10
)

// Options configures a Core. Zero values fall back to defaults.
type Options struct {
	Logger              *zap.Logger
	Sink                EventSink
	Executors           *execute.Registry
	MaxConcurrentShards int
	ProofSampleSize     int
}

// Core is the orchestrator.
type Core struct {
	mu sync.RWMutex

	store        *checkpoint.Store
	partitioners *partition.Registry
	schedulers   *schedule.Registry
	executors    *execute.Registry
	sink         EventSink
	logger       *zap.Logger

	maxConcurrent int
	proofSample   int

	leases *leaseTable
	runs   map[string]*planRun
}

// planRun tracks one in-process plan execution.
type planRun struct {
	plan        *plan.Plan
	state       plan.PlanState
	tree        *merkle.Tree
	partitions  map[string][]partition.Inputs
	stageCAS    map[string][]string
	failedStage map[string]bool
	totalShards int
	startedAt   time.Time
	finishedAt  time.Time
	certified   bool
	runErr      error
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a Core on top of a checkpoint store.
func New(store *checkpoint.Store, opts Options) *Core {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := opts.Sink
	if sink == nil {
		sink = nopSink{}
	}
	executors := opts.Executors
	if executors == nil {
		executors = execute.NewRegistry()
	}
	maxConcurrent := opts.MaxConcurrentShards
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentShards
	}
	proofSample := opts.ProofSampleSize
	if proofSample <= 0 {
		proofSample = defaultProofSampleSize
	}
	return &Core{
		store:         store,
		partitioners:  partition.NewRegistry(),
		schedulers:    schedule.NewRegistry(),
		executors:     executors,
		sink:          sink,
		logger:        logger,
		maxConcurrent: maxConcurrent,
		proofSample:   proofSample,
		leases:        newLeaseTable(),
		runs:          make(map[string]*planRun),
	}
}

// SubmitPlan validates a plan, persists it, and begins execution in the
// background. It rejects unknown strategy types with a ConfigurationError
// and over-limit shard counts with a ConstraintViolationError; in both
// cases zero shards have been persisted. Re-submitting a finished plan
// resumes it: shards already checkpointed as done are not re-executed.
func (c *Core) SubmitPlan(ctx context.Context, p *plan.Plan) (string, error) {
	if p.PlanID == "" {
		p.PlanID = uuid.NewString()
	}
	if err := p.Validate(); err != nil {
		return "", err
	}
	if err := c.validateStrategies(p); err != nil {
		return "", err
	}

	partitions, total, err := c.partitionAll(p)
	if err != nil {
		return "", err
	}

	p.SubmittedAt = time.Now().UTC()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &planRun{
		plan:        p,
		state:       plan.StateSubmitted,
		tree:        merkle.NewTree(p.PlanID),
		partitions:  partitions,
		stageCAS:    make(map[string][]string),
		failedStage: make(map[string]bool),
		totalShards: total,
		startedAt:   time.Now().UTC(),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	// Check and insert under one lock so concurrent submissions of the
	// same plan_id admit exactly one run.
	c.mu.Lock()
	if prev, ok := c.runs[p.PlanID]; ok && !prev.state.Terminal() {
		c.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %s", ErrPlanRunning, p.PlanID)
	}
	c.runs[p.PlanID] = run
	c.mu.Unlock()

	if err := c.store.SavePlan(p); err != nil {
		c.mu.Lock()
		delete(c.runs, p.PlanID)
		c.mu.Unlock()
		cancel()
		return "", err
	}

	c.publish(Event{Type: EventPlanSubmitted, PlanID: p.PlanID,
		Message: fmt.Sprintf("plan %q submitted with %d stages, %d shards", p.Name, len(p.Stages), total)})
	c.logger.Info("plan submitted",
		zap.String("plan_id", p.PlanID),
		zap.String("name", p.Name),
		zap.Int("stages", len(p.Stages)),
		zap.Int("shards", total))

	go c.runPlan(runCtx, run)
	return p.PlanID, nil
}

// validateStrategies rejects unknown partitioner/scheduler/executor tags
// before any shard work begins.
func (c *Core) validateStrategies(p *plan.Plan) error {
	for _, st := range p.Stages {
		if !c.partitioners.Known(st.Partitioner) {
			return &plan.ConfigurationError{StageID: st.ID, Field: "partitioner", Value: string(st.Partitioner), Reason: "unknown partitioner type"}
		}
		if !c.schedulers.Known(st.Scheduler) {
			return &plan.ConfigurationError{StageID: st.ID, Field: "scheduler", Value: string(st.Scheduler), Reason: "unknown scheduler type"}
		}
		if !c.executors.Known(st.Executor) {
			return &plan.ConfigurationError{StageID: st.ID, Field: "executor", Value: string(st.Executor), Reason: "unknown executor type"}
		}
	}
	return nil
}

// partitionAll partitions every stage up front so constraint checks run
// before anything is persisted. Partitioners are pure, so the result is
// identical to what the stage run would compute.
func (c *Core) partitionAll(p *plan.Plan) (map[string][]partition.Inputs, int, error) {
	maxShards := p.Constraints.EffectiveMaxShards()
	partitions := make(map[string][]partition.Inputs, len(p.Stages))
	total := 0
	for _, st := range p.Stages {
		partitioner, err := c.partitioners.Lookup(st.Partitioner)
		if err != nil {
			return nil, 0, err
		}
		inputs, err := partitioner.Partition(st)
		if err != nil {
			return nil, 0, err
		}
		if len(inputs) > maxShards {
			return nil, 0, &plan.ConstraintViolationError{
				PlanID: p.PlanID, StageID: st.ID, ShardCount: len(inputs), MaxShards: maxShards,
			}
		}
		partitions[st.ID] = inputs
		total += len(inputs)
	}
	return partitions, total, nil
}

// runPlan executes every stage in dependency order, then aggregates.
func (c *Core) runPlan(ctx context.Context, run *planRun) {
	defer close(run.done)

	c.setState(run, plan.StatePartitioning)

	order, err := run.plan.TopoOrder()
	if err != nil {
		c.failPlan(run, err)
		return
	}

	for _, stageID := range order {
		if ctx.Err() != nil {
			c.abortPlan(run)
			return
		}
		stage := run.plan.StageByID(stageID)
		start := time.Now()

		failedShards, err := c.runStage(ctx, run, stage)
		if err != nil {
			if ctx.Err() != nil {
				c.abortPlan(run)
				return
			}
			c.failPlan(run, err)
			return
		}

		if stage.SLOMillis > 0 {
			if elapsed := time.Since(start); elapsed > time.Duration(stage.SLOMillis)*time.Millisecond {
				// Cooperative signal only; nothing is preempted.
				c.publish(Event{Type: EventSLOBreach, PlanID: run.plan.PlanID, StageID: stage.ID,
					Message: fmt.Sprintf("stage overran slo_ms=%d", stage.SLOMillis),
					Data:    map[string]any{"elapsed_ms": elapsed.Milliseconds(), "slo_ms": stage.SLOMillis}})
			}
		}

		if failedShards > 0 {
			c.mu.Lock()
			run.failedStage[stage.ID] = true
			c.mu.Unlock()
			c.publish(Event{Type: EventStageFailed, PlanID: run.plan.PlanID, StageID: stage.ID,
				Message: fmt.Sprintf("%d shards failed", failedShards)})
		} else {
			c.publish(Event{Type: EventStageComplete, PlanID: run.plan.PlanID, StageID: stage.ID})
		}
	}

	c.aggregate(run)
}

// runStage partitions, schedules, and dispatches one stage. The returned
// count is failed shards; a non-nil error is fatal to the plan
// (persistence failure or abort), never an individual shard failure.
func (c *Core) runStage(ctx context.Context, run *planRun, stage *plan.Stage) (int, error) {
	c.setState(run, plan.StateScheduling)
	c.publish(Event{Type: EventStageStarted, PlanID: run.plan.PlanID, StageID: stage.ID})

	// Shard identity folds in the cas_ids of every shard of every
	// dependency stage, so downstream work re-keys when upstream changes.
	depCAS := c.dependencyCASIDs(run, stage)

	specs := make([]*plan.ShardSpec, 0, len(run.partitions[stage.ID]))
	casIDs := make([]string, 0, len(run.partitions[stage.ID]))
	for _, inputs := range run.partitions[stage.ID] {
		spec, err := plan.NewShardSpec(stage.ID, stage.Executor, inputs, depCAS)
		if err != nil {
			return 0, err
		}
		specs = append(specs, spec)
		casIDs = append(casIDs, spec.CASID)
	}
	c.mu.Lock()
	run.stageCAS[stage.ID] = casIDs
	c.mu.Unlock()

	// Checkpoint lookup: shards already done resume for free; failed
	// ones run again as an explicit retry with a bumped attempt count.
	toRun := make([]*plan.ShardSpec, 0, len(specs))
	for _, spec := range specs {
		prior, err := c.store.GetResult(spec.CASID)
		if err != nil {
			return 0, err
		}
		if prior != nil && prior.Success {
			if shard, err := c.store.GetShard(spec.CASID); err != nil {
				return 0, err
			} else if shard != nil && shard.Phase == plan.PhaseDone {
				c.logger.Debug("shard already done, skipping",
					zap.String("plan_id", run.plan.PlanID), zap.String("cas_id", spec.CASID))
				c.addLeaf(run, prior)
				continue
			}
		}
		if prior != nil && !prior.Success {
			spec.Attempt = prior.Attempt + 1
			spec.Phase = plan.PhaseRetrying
		}
		if err := c.store.SaveShard(spec); err != nil {
			return 0, err
		}
		toRun = append(toRun, spec)
	}
	if len(toRun) == 0 {
		return 0, nil
	}

	scheduler, err := c.schedulers.Lookup(stage.Scheduler)
	if err != nil {
		return 0, err
	}
	ordered := scheduler.Schedule(toRun)

	c.setState(run, plan.StateExecuting)

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxConcurrent)
	for _, spec := range ordered {
		spec := spec
		g.Go(func() error {
			return c.dispatchShard(gctx, run, spec, &failed)
		})
	}
	if err := g.Wait(); err != nil {
		return int(failed.Load()), err
	}
	return int(failed.Load()), nil
}

// dependencyCASIDs collects the cas_ids of all shards of a stage's
// dependency stages, in sorted order.
func (c *Core) dependencyCASIDs(run *planRun, stage *plan.Stage) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var depCAS []string
	for _, dep := range stage.Dependencies {
		depCAS = append(depCAS, run.stageCAS[dep]...)
	}
	sort.Strings(depCAS)
	return depCAS
}

// stageCASIDs recomputes every stage's shard cas_ids for a stored plan.
// Partitioners are pure, so this reproduces exactly what the run
// computed, including the dependency cas_ids folded into each identity.
func (c *Core) stageCASIDs(p *plan.Plan) (map[string][]string, error) {
	order, err := p.TopoOrder()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(p.Stages))
	for _, stageID := range order {
		st := p.StageByID(stageID)
		partitioner, err := c.partitioners.Lookup(st.Partitioner)
		if err != nil {
			return nil, err
		}
		inputs, err := partitioner.Partition(*st)
		if err != nil {
			return nil, err
		}
		var depCAS []string
		for _, dep := range st.Dependencies {
			depCAS = append(depCAS, out[dep]...)
		}
		sort.Strings(depCAS)

		ids := make([]string, 0, len(inputs))
		for _, in := range inputs {
			id, err := plan.ComputeCASID(st.ID, st.Executor, in, depCAS)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		out[st.ID] = ids
	}
	return out, nil
}

// dispatchShard executes one shard under its cas_id lease and records
// the result. Executor failures are recorded and isolated; only
// persistence failures and cancellation propagate.
func (c *Core) dispatchShard(ctx context.Context, run *planRun, spec *plan.ShardSpec, failed *atomic.Int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		acquired, holder := c.leases.TryAcquire(spec.CASID)
		if acquired {
			break
		}
		// Another dispatch owns this cas_id. Identical identities are
		// idempotent, so wait for the holder and consume its result
		// rather than executing twice or dropping the leaf.
		c.logger.Debug("cas_id lease held elsewhere, waiting for holder",
			zap.String("plan_id", run.plan.PlanID), zap.String("cas_id", spec.CASID))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-holder:
		}
		prior, err := c.store.GetResult(spec.CASID)
		if err != nil {
			return err
		}
		if prior != nil {
			if prior.Success {
				c.addLeaf(run, prior)
				return nil
			}
			failed.Add(1)
			c.publish(Event{Type: EventShardFailed, PlanID: run.plan.PlanID,
				StageID: spec.StageID, CASID: spec.CASID,
				Message: fmt.Sprintf("shard %s failed under another plan's dispatch", spec.CASID)})
			return nil
		}
		// The holder recorded nothing (aborted mid-flight); take the
		// lease and run the shard ourselves.
	}
	defer c.leases.Release(spec.CASID)

	// Recheck after taking the lease: a previous holder may have finished
	// this shard between the stage's resume check and now.
	if prior, err := c.store.GetResult(spec.CASID); err != nil {
		return err
	} else if prior != nil && prior.Success {
		c.addLeaf(run, prior)
		return nil
	}

	executor, err := c.executors.Lookup(spec.Executor)
	if err != nil {
		return err
	}

	spec.Phase = plan.PhaseClaimed
	if err := c.store.SaveShard(spec); err != nil {
		return err
	}
	spec.Phase = plan.PhaseRunning
	if err := c.store.SaveShard(spec); err != nil {
		return err
	}

	started := time.Now().UTC()
	receipt, execErr := executor.Execute(ctx, spec.Inputs)
	finished := time.Now().UTC()

	if execErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wrapped := &plan.ExecutionError{CASID: spec.CASID, Err: execErr}
		result := &plan.ShardResult{
			CASID:      spec.CASID,
			Success:    false,
			StartedAt:  started,
			FinishedAt: finished,
			Attempt:    spec.Attempt,
			Error:      execErr.Error(),
		}
		if err := c.store.SaveResult(result); err != nil {
			return err
		}
		spec.Phase = plan.PhaseFailed
		if err := c.store.SaveShard(spec); err != nil {
			return err
		}
		failed.Add(1)
		c.publish(Event{Type: EventShardFailed, PlanID: run.plan.PlanID,
			StageID: spec.StageID, CASID: spec.CASID, Message: wrapped.Error()})
		c.logger.Warn("shard failed",
			zap.String("plan_id", run.plan.PlanID),
			zap.String("cas_id", spec.CASID),
			zap.Int("attempt", spec.Attempt),
			zap.Error(execErr))
		return nil
	}

	result := &plan.ShardResult{
		CASID:        spec.CASID,
		Success:      true,
		OutputDigest: receipt.OutputDigest,
		StartedAt:    started,
		FinishedAt:   finished,
		Attempt:      spec.Attempt,
		Metadata:     receipt.Detail,
	}
	// Durable record first: a shard is never done unless its result
	// committed.
	if err := c.store.SaveResult(result); err != nil {
		return err
	}
	spec.Phase = plan.PhaseDone
	if err := c.store.SaveShard(spec); err != nil {
		return err
	}
	c.addLeaf(run, result)
	return nil
}

// aggregate computes the plan root and certifies it with sampled proofs.
func (c *Core) aggregate(run *planRun) {
	c.setState(run, plan.StateAggregating)

	c.mu.Lock()
	anyFailed := len(run.failedStage) > 0
	expected := 0
	for _, ids := range run.stageCAS {
		expected += len(ids)
	}
	leaves := run.tree.Len()
	c.mu.Unlock()
	if anyFailed {
		c.failPlan(run, fmt.Errorf("plan %s: one or more stages failed", run.plan.PlanID))
		return
	}
	// The root is final only once every computed cas_id contributed a
	// leaf; anything less must not certify.
	if leaves != expected {
		c.failPlan(run, &plan.IntegrityError{
			PlanID: run.plan.PlanID,
			Reason: fmt.Sprintf("aggregate covers %d of %d shards", leaves, expected),
		})
		return
	}

	c.mu.Lock()
	root := run.tree.ComputeRoot()
	proofs, err := run.tree.SampleProofs(c.proofSample)
	c.mu.Unlock()
	if err != nil {
		c.failPlan(run, err)
		return
	}
	for _, proof := range proofs {
		if !merkle.VerifyProof(proof) {
			c.failPlan(run, &plan.IntegrityError{
				PlanID: run.plan.PlanID, CASID: proof.LeafCASID,
				Reason: "sampled proof failed verification",
			})
			return
		}
	}

	c.mu.Lock()
	run.certified = true
	run.state = plan.StateComplete
	run.finishedAt = time.Now().UTC()
	c.mu.Unlock()

	c.publish(Event{Type: EventPlanComplete, PlanID: run.plan.PlanID,
		Message: fmt.Sprintf("merkle root %s", root)})
	c.logger.Info("plan complete",
		zap.String("plan_id", run.plan.PlanID),
		zap.String("merkle_root", root),
		zap.Int("leaves", run.tree.Len()))
}

// addLeaf feeds a successful result into the plan's Merkle tree.
func (c *Core) addLeaf(run *planRun, result *plan.ShardResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run.tree.AddLeaf(result)
}

// setState advances the plan state machine.
func (c *Core) setState(run *planRun, state plan.PlanState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run.state = state
}

// failPlan marks a run failed and surfaces the error through status.
func (c *Core) failPlan(run *planRun, err error) {
	c.mu.Lock()
	run.state = plan.StateFailed
	run.runErr = err
	run.finishedAt = time.Now().UTC()
	c.mu.Unlock()

	c.publish(Event{Type: EventPlanFailed, PlanID: run.plan.PlanID, Message: err.Error()})
	c.logger.Warn("plan failed", zap.String("plan_id", run.plan.PlanID), zap.Error(err))
}

// abortPlan marks a run aborted by caller request.
func (c *Core) abortPlan(run *planRun) {
	c.mu.Lock()
	run.state = plan.StateFailed
	run.runErr = context.Canceled
	run.finishedAt = time.Now().UTC()
	c.mu.Unlock()

	c.publish(Event{Type: EventPlanAborted, PlanID: run.plan.PlanID})
	c.logger.Info("plan aborted", zap.String("plan_id", run.plan.PlanID))
}

// Abort cancels a running plan between dispatches. Running executors are
// signalled through context, never preempted.
func (c *Core) Abort(planID string) error {
	c.mu.RLock()
	run, ok := c.runs[planID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	run.cancel()
	return nil
}

// AwaitPlan blocks until the plan reaches a terminal state or the
// context is done, returning the run error if the plan failed.
func (c *Core) AwaitPlan(ctx context.Context, planID string) error {
	c.mu.RLock()
	run, ok := c.runs[planID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, planID)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-run.done:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return run.runErr
}

// publish sends a lifecycle event, fire-and-forget.
func (c *Core) publish(e Event) {
	e.Timestamp = time.Now().UTC()
	c.sink.Publish(e)
}
