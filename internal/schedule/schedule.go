// Package schedule reorders shard lists before dispatch. Every strategy
// must return a permutation of its input: no shard added, dropped, or
// duplicated. Completion order is still unconstrained; scheduling only
// shapes the dispatch window.
package schedule

import (
	"sort"

	"hypershard/internal/plan"
)

// Scheduler orders a list of shards for dispatch.
type Scheduler interface {
	Type() plan.SchedulerType
	Schedule(shards []*plan.ShardSpec) []*plan.ShardSpec
}

// Registry maps scheduler tags to implementations, populated once at
// construction and immutable afterwards.
type Registry struct {
	byType map[plan.SchedulerType]Scheduler
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[plan.SchedulerType]Scheduler)}
	for _, s := range []Scheduler{
		&fairRoundRobin{},
		&hotShardSplitter{},
		&backpressureAware{},
	} {
		r.byType[s.Type()] = s
	}
	return r
}

// Known reports whether the tag resolves to a registered strategy.
func (r *Registry) Known(t plan.SchedulerType) bool {
	_, ok := r.byType[t]
	return ok
}

// Lookup resolves a scheduler tag, failing with a ConfigurationError for
// unrecognized types.
func (r *Registry) Lookup(t plan.SchedulerType) (Scheduler, error) {
	s, ok := r.byType[t]
	if !ok {
		return nil, &plan.ConfigurationError{Field: "scheduler", Value: string(t), Reason: "unknown scheduler type"}
	}
	return s, nil
}

// fairRoundRobin interleaves shards grouped by executor type so that no
// single executor type monopolizes a dispatch window.
type fairRoundRobin struct{}

func (*fairRoundRobin) Type() plan.SchedulerType { return plan.FairRoundRobin }

func (*fairRoundRobin) Schedule(shards []*plan.ShardSpec) []*plan.ShardSpec {
	groups := make(map[plan.ExecutorType][]*plan.ShardSpec)
	for _, s := range shards {
		groups[s.Executor] = append(groups[s.Executor], s)
	}

	types := make([]plan.ExecutorType, 0, len(groups))
	for t := range groups {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	out := make([]*plan.ShardSpec, 0, len(shards))
	for round := 0; len(out) < len(shards); round++ {
		for _, t := range types {
			if round < len(groups[t]) {
				out = append(out, groups[t][round])
			}
		}
	}
	return out
}

// hotShardSplitter is an extension point for splitting hotspot shards.
// It currently passes shards through unchanged, which trivially satisfies
// the permutation invariant.
type hotShardSplitter struct{}

func (*hotShardSplitter) Type() plan.SchedulerType { return plan.HotShardSplitter }

func (*hotShardSplitter) Schedule(shards []*plan.ShardSpec) []*plan.ShardSpec {
	out := make([]*plan.ShardSpec, len(shards))
	copy(out, shards)
	return out
}

// backpressureAware is an extension point for throttling against
// downstream load signals. It currently passes shards through unchanged.
type backpressureAware struct{}

func (*backpressureAware) Type() plan.SchedulerType { return plan.BackpressureAware }

func (*backpressureAware) Schedule(shards []*plan.ShardSpec) []*plan.ShardSpec {
	out := make([]*plan.ShardSpec, len(shards))
	copy(out, shards)
	return out
}
