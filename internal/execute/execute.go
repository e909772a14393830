// Package execute holds the per-shard work units. Executors are
// idempotent: re-running the same cas_id with the same inputs is safe and
// produces an equivalent receipt. They run concurrently with no ordering
// assumption relative to sibling shards, and failures are returned as
// errors, never swallowed.
package execute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"hypershard/internal/plan"
)

// Receipt is the structured status payload an executor hands back to the
// core. OutputDigest feeds the Merkle aggregator.
type Receipt struct {
	Status       string         `json:"status"`
	OutputDigest string         `json:"output_digest"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// Executor performs one shard's unit of work.
type Executor interface {
	Type() plan.ExecutorType
	Execute(ctx context.Context, inputs map[string]any) (*Receipt, error)
}

// Registry maps executor tags to implementations. Built at construction,
// immutable afterwards. Overrides let callers inject real work units in
// place of the built-in ones, keyed by the same tag.
type Registry struct {
	byType map[plan.ExecutorType]Executor
}

// NewRegistry returns a registry holding the built-in executors, with any
// overrides replacing the built-in of the same type.
func NewRegistry(overrides ...Executor) *Registry {
	r := &Registry{byType: make(map[plan.ExecutorType]Executor)}
	for _, e := range []Executor{
		&packBackend{},
		&warmRegistry{},
		&indexAssets{},
		&primeCaches{},
		&docsIndex{},
		&sqlMigrate{},
	} {
		r.byType[e.Type()] = e
	}
	for _, e := range overrides {
		r.byType[e.Type()] = e
	}
	return r
}

// Known reports whether the tag resolves to a registered executor.
func (r *Registry) Known(t plan.ExecutorType) bool {
	_, ok := r.byType[t]
	return ok
}

// Lookup resolves an executor tag, failing with a ConfigurationError for
// unrecognized types.
func (r *Registry) Lookup(t plan.ExecutorType) (Executor, error) {
	e, ok := r.byType[t]
	if !ok {
		return nil, &plan.ConfigurationError{Field: "executor", Value: string(t), Reason: "unknown executor type"}
	}
	return e, nil
}

// outputDigest derives a deterministic digest from an executor tag and
// the shard inputs, so re-execution of the same shard yields the same
// digest and the Merkle root stays reproducible.
func outputDigest(t plan.ExecutorType, inputs map[string]any) (string, error) {
	content, err := json.Marshal(map[string]any{"executor": string(t), "inputs": inputs})
	if err != nil {
		return "", fmt.Errorf("digest inputs: %w", err)
	}
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:]), nil
}

// receipt assembles the common receipt shape for the built-in executors.
func receipt(ctx context.Context, t plan.ExecutorType, inputs map[string]any, detail map[string]any) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest, err := outputDigest(t, inputs)
	if err != nil {
		return nil, err
	}
	return &Receipt{Status: "ok", OutputDigest: digest, Detail: detail}, nil
}

func countOf(inputs map[string]any, key string) int {
	switch v := inputs[key].(type) {
	case []string:
		return len(v)
	case []any:
		return len(v)
	}
	return 0
}
