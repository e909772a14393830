// Package plan defines the Hypershard data model: plans, stages, shard
// specifications and results, the shard phase state machine, and the
// content-addressable identity function that everything else keys on.
package plan

import "time"

// ShardPhase tracks a shard through its lifecycle.
type ShardPhase string

const (
	PhasePending  ShardPhase = "pending"
	PhaseClaimed  ShardPhase = "claimed"
	PhaseRunning  ShardPhase = "running"
	PhaseDone     ShardPhase = "done"
	PhaseFailed   ShardPhase = "failed"
	PhaseRetrying ShardPhase = "retrying"
)

// Terminal reports whether the phase is an end state.
func (p ShardPhase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// PartitionerType selects the strategy that splits a stage into shards.
type PartitionerType string

const (
	ByFilesize    PartitionerType = "by_filesize"
	ByModule      PartitionerType = "by_module"
	ByDAGDepth    PartitionerType = "by_dag_depth"
	ByRouteMap    PartitionerType = "by_route_map"
	ByAssetBucket PartitionerType = "by_asset_bucket"
	BySQLBatch    PartitionerType = "by_sql_batch"
)

// ExecutorType selects the work unit that runs one shard.
type ExecutorType string

const (
	PackBackend  ExecutorType = "pack_backend"
	WarmRegistry ExecutorType = "warm_registry"
	IndexAssets  ExecutorType = "index_assets"
	PrimeCaches  ExecutorType = "prime_caches"
	DocsIndex    ExecutorType = "docs_index"
	SQLMigrate   ExecutorType = "sql_migrate"
)

// SchedulerType selects the strategy that orders shards before dispatch.
type SchedulerType string

const (
	FairRoundRobin    SchedulerType = "fair_round_robin"
	HotShardSplitter  SchedulerType = "hot_shard_splitter"
	BackpressureAware SchedulerType = "backpressure_aware"
)

// PlanState is the per-plan lifecycle state machine.
type PlanState string

const (
	StateSubmitted    PlanState = "SUBMITTED"
	StatePartitioning PlanState = "PARTITIONING"
	StateScheduling   PlanState = "SCHEDULING"
	StateExecuting    PlanState = "EXECUTING"
	StateAggregating  PlanState = "AGGREGATING"
	StateComplete     PlanState = "COMPLETE"
	StateFailed       PlanState = "FAILED"
)

// Terminal reports whether the plan state is an end state.
func (s PlanState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Constraints bound a plan's resource envelope.
type Constraints struct {
	MaxShards int `json:"max_shards,omitempty" yaml:"max_shards,omitempty"`
	TimeboxMS int `json:"timebox_ms,omitempty" yaml:"timebox_ms,omitempty"`
}

const (
	// DefaultMaxShards caps shard fan-out when a plan declares no limit.
	DefaultMaxShards = 1_000_000
	// DefaultTimeboxMS is the default overall time budget (10 minutes).
	DefaultTimeboxMS = 600_000
)

// EffectiveMaxShards returns the max_shards constraint or its default.
func (c Constraints) EffectiveMaxShards() int {
	if c.MaxShards > 0 {
		return c.MaxShards
	}
	return DefaultMaxShards
}

// EffectiveTimeboxMS returns the timebox_ms constraint or its default.
func (c Constraints) EffectiveTimeboxMS() int {
	if c.TimeboxMS > 0 {
		return c.TimeboxMS
	}
	return DefaultTimeboxMS
}

// Stage declares one phase of work inside a plan. A stage may not begin
// until every stage it depends on has reached a terminal phase.
type Stage struct {
	ID           string          `json:"id" yaml:"id"`
	Kind         string          `json:"kind" yaml:"kind"`
	SLOMillis    int             `json:"slo_ms" yaml:"slo_ms"`
	Partitioner  PartitionerType `json:"partitioner" yaml:"partitioner"`
	Executor     ExecutorType    `json:"executor" yaml:"executor"`
	Scheduler    SchedulerType   `json:"scheduler" yaml:"scheduler"`
	Dependencies []string        `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Config       map[string]any  `json:"config,omitempty" yaml:"config,omitempty"`
}

// Plan is the top-level orchestration unit. Immutable once submitted.
type Plan struct {
	PlanID      string      `json:"plan_id" yaml:"plan_id"`
	Name        string      `json:"name" yaml:"name"`
	Stages      []Stage     `json:"stages" yaml:"stages"`
	Constraints Constraints `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	SubmittedAt time.Time   `json:"submitted_at,omitempty" yaml:"submitted_at,omitempty"`
	SubmittedBy string      `json:"submitted_by,omitempty" yaml:"submitted_by,omitempty"`
}

// StageByID returns the stage with the given id, or nil.
func (p *Plan) StageByID(id string) *Stage {
	for i := range p.Stages {
		if p.Stages[i].ID == id {
			return &p.Stages[i]
		}
	}
	return nil
}

// ShardSpec is a content-addressed unit of work. The CASID is a pure
// function of (stage, executor, inputs, dependency cas_ids) and doubles
// as the idempotency key for execution and checkpointing.
type ShardSpec struct {
	CASID        string         `json:"cas_id"`
	StageID      string         `json:"stage_id"`
	Executor     ExecutorType   `json:"executor"`
	Inputs       map[string]any `json:"inputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Attempt      int            `json:"attempt"`
	Phase        ShardPhase     `json:"phase"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

// ShardResult records one execution outcome for a shard. The checkpoint
// store keeps the most recent result per cas_id.
type ShardResult struct {
	CASID        string         `json:"cas_id"`
	Success      bool           `json:"success"`
	OutputDigest string         `json:"output_digest"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Attempt      int            `json:"attempt"`
	Error        string         `json:"error,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}
