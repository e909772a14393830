package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CASIDLength is the number of hex characters kept from the digest.
const CASIDLength = 16

// ComputeCASID derives the content-addressable id for a shard from its
// defining inputs. The serialization is canonical: map keys are emitted
// in sorted order and dependency ids are sorted, so semantically equal
// inputs always hash identically regardless of construction order.
func ComputeCASID(stageID string, executor ExecutorType, inputs map[string]any, deps []string) (string, error) {
	sortedDeps := make([]string, len(deps))
	copy(sortedDeps, deps)
	sort.Strings(sortedDeps)

	// encoding/json writes map keys in sorted order, which gives us the
	// canonical form for the nested inputs map as well.
	payload := map[string]any{
		"stage_id":     stageID,
		"executor":     string(executor),
		"inputs":       inputs,
		"dependencies": sortedDeps,
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("canonicalize shard identity: %w", err)
	}

	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])[:CASIDLength], nil
}

// NewShardSpec builds a pending ShardSpec with its CASID computed.
func NewShardSpec(stageID string, executor ExecutorType, inputs map[string]any, deps []string) (*ShardSpec, error) {
	casID, err := ComputeCASID(stageID, executor, inputs, deps)
	if err != nil {
		return nil, err
	}
	return &ShardSpec{
		CASID:        casID,
		StageID:      stageID,
		Executor:     executor,
		Inputs:       inputs,
		Dependencies: deps,
		Phase:        PhasePending,
	}, nil
}
