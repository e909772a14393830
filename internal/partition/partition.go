// Package partition splits a stage's declared work into shard input sets.
// Every strategy is a pure, deterministic function of the stage config:
// identical config always yields the identical partition set in the
// identical order, which is what keeps cas_ids stable across submissions.
package partition

import (
	"hypershard/internal/plan"
)

// Inputs is one shard's input set as produced by a partitioner.
type Inputs = map[string]any

// Partitioner slices a stage into shard input sets.
type Partitioner interface {
	Type() plan.PartitionerType
	Partition(stage plan.Stage) ([]Inputs, error)
}

// Registry maps partitioner tags to implementations. It is populated once
// at construction and never mutated afterwards.
type Registry struct {
	byType map[plan.PartitionerType]Partitioner
}

// NewRegistry returns a registry holding every built-in strategy.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[plan.PartitionerType]Partitioner)}
	for _, p := range []Partitioner{
		&filesizePartitioner{},
		&modulePartitioner{},
		&dagDepthPartitioner{},
		&routeMapPartitioner{},
		&assetBucketPartitioner{},
		&sqlBatchPartitioner{},
	} {
		r.byType[p.Type()] = p
	}
	return r
}

// Known reports whether the tag resolves to a registered strategy.
func (r *Registry) Known(t plan.PartitionerType) bool {
	_, ok := r.byType[t]
	return ok
}

// Lookup resolves a partitioner tag, failing with a ConfigurationError
// for unrecognized types so bad plans die at validation time.
func (r *Registry) Lookup(t plan.PartitionerType) (Partitioner, error) {
	p, ok := r.byType[t]
	if !ok {
		return nil, &plan.ConfigurationError{Field: "partitioner", Value: string(t), Reason: "unknown partitioner type"}
	}
	return p, nil
}

// coerceInt normalizes the numeric types a YAML/JSON config can carry.
func coerceInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// stringSlice normalizes a config list into []string.
func stringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// mapSlice normalizes a config list into []map[string]any.
func mapSlice(v any) ([]map[string]any, bool) {
	switch list := v.(type) {
	case []map[string]any:
		return list, true
	case []any:
		out := make([]map[string]any, 0, len(list))
		for _, item := range list {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}

func configErr(stage plan.Stage, field, reason string) error {
	return &plan.ConfigurationError{StageID: stage.ID, Field: field, Value: string(stage.Partitioner), Reason: reason}
}
