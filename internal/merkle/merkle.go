// Package merkle aggregates shard results into a single verifiable digest
// per plan and issues inclusion proofs for individual shards.
//
// Leaves are sorted by cas_id before the tree is built, so the root is
// independent of insertion order and therefore of shard completion order.
// Odd-length levels duplicate their last node, matching the checkpoint
// format of prior runs.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sort"

	"hypershard/internal/plan"
)

// ProofStep is one sibling hash on the path from a leaf to the root.
// Side names where the sibling sits relative to the running hash.
type ProofStep struct {
	Side string `json:"side"` // "left" or "right"
	Hash string `json:"hash"`
}

// Proof carries everything needed to verify a shard's inclusion without
// the rest of the result set.
type Proof struct {
	LeafCASID string      `json:"leaf_cas_id"`
	LeafHash  string      `json:"leaf_hash"`
	Path      []ProofStep `json:"path"`
	RootHash  string      `json:"root_hash"`
}

// LeafHash computes the digest of one shard result.
func LeafHash(result *plan.ShardResult) string {
	data := fmt.Sprintf("%s|%s|%d", result.CASID, result.OutputDigest, result.Attempt)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

// branchHash combines two child hashes.
func branchHash(left, right string) string {
	sum := sha256.Sum256([]byte(left + "|" + right))
	return hex.EncodeToString(sum[:])
}

// emptyRoot is the sentinel root of a tree with no leaves.
func emptyRoot() string {
	sum := sha256.Sum256([]byte("empty"))
	return hex.EncodeToString(sum[:])
}

type leaf struct {
	casID string
	hash  string
}

// Tree builds the per-plan aggregate. Not safe for concurrent use; the
// orchestrator serializes access.
type Tree struct {
	planID string
	leaves []leaf
	root   string
}

// NewTree returns an empty tree for the given plan.
func NewTree(planID string) *Tree {
	return &Tree{planID: planID}
}

// PlanID returns the plan this tree aggregates.
func (t *Tree) PlanID() string { return t.planID }

// Len returns the number of leaves.
func (t *Tree) Len() int { return len(t.leaves) }

// AddLeaf appends a shard result's digest and invalidates the cached
// root. Re-adding the same cas_id replaces the previous leaf, keeping
// result re-recording idempotent.
func (t *Tree) AddLeaf(result *plan.ShardResult) {
	h := LeafHash(result)
	for i := range t.leaves {
		if t.leaves[i].casID == result.CASID {
			t.leaves[i].hash = h
			t.root = ""
			return
		}
	}
	t.leaves = append(t.leaves, leaf{casID: result.CASID, hash: h})
	t.root = ""
}

// sorted returns the leaves ordered by cas_id.
func (t *Tree) sorted() []leaf {
	out := make([]leaf, len(t.leaves))
	copy(out, t.leaves)
	sort.Slice(out, func(i, j int) bool { return out[i].casID < out[j].casID })
	return out
}

// ComputeRoot builds the tree bottom-up and returns the root hash.
// Idempotent: repeated calls over the same leaf set return the same root.
func (t *Tree) ComputeRoot() string {
	if t.root != "" {
		return t.root
	}
	if len(t.leaves) == 0 {
		t.root = emptyRoot()
		return t.root
	}

	level := make([]string, 0, len(t.leaves))
	for _, l := range t.sorted() {
		level = append(level, l.hash)
	}
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left // duplicate the last node at odd-length levels
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, branchHash(left, right))
		}
		level = next
	}
	t.root = level[0]
	return t.root
}

// GenerateProof returns the inclusion proof for one shard, or an
// IntegrityError if the cas_id is not a leaf of this tree.
func (t *Tree) GenerateProof(casID string) (*Proof, error) {
	leaves := t.sorted()
	idx := -1
	for i, l := range leaves {
		if l.casID == casID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, &plan.IntegrityError{PlanID: t.planID, CASID: casID, Reason: "shard is not a leaf of this tree"}
	}

	proof := &Proof{
		LeafCASID: casID,
		LeafHash:  leaves[idx].hash,
		RootHash:  t.ComputeRoot(),
	}

	level := make([]string, len(leaves))
	for i, l := range leaves {
		level[i] = l.hash
	}
	for len(level) > 1 {
		if idx%2 == 0 {
			sibling := level[idx] // odd level end duplicates itself
			if idx+1 < len(level) {
				sibling = level[idx+1]
			}
			proof.Path = append(proof.Path, ProofStep{Side: "right", Hash: sibling})
		} else {
			proof.Path = append(proof.Path, ProofStep{Side: "left", Hash: level[idx-1]})
		}

		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, branchHash(left, right))
		}
		level = next
		idx /= 2
	}
	return proof, nil
}

// VerifyProof recomputes the root from a proof's leaf and sibling path
// and reports whether it matches the proof's stored root. Any single
// tampered byte in the leaf digest or path breaks the match.
func VerifyProof(proof *Proof) bool {
	current := proof.LeafHash
	for _, step := range proof.Path {
		if step.Side == "left" {
			current = branchHash(step.Hash, current)
		} else {
			current = branchHash(current, step.Hash)
		}
	}
	return current == proof.RootHash
}

// SampleProofs generates proofs for up to sampleSize randomly chosen
// leaves, for spot verification of the aggregate.
func (t *Tree) SampleProofs(sampleSize int) ([]*Proof, error) {
	if len(t.leaves) == 0 || sampleSize <= 0 {
		return nil, nil
	}
	leaves := t.sorted()
	perm := rand.Perm(len(leaves))
	if sampleSize > len(leaves) {
		sampleSize = len(leaves)
	}

	proofs := make([]*Proof, 0, sampleSize)
	for _, i := range perm[:sampleSize] {
		proof, err := t.GenerateProof(leaves[i].casID)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, proof)
	}
	return proofs, nil
}
