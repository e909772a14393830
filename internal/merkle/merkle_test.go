package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypershard/internal/plan"
)

func result(casID string) *plan.ShardResult {
	return &plan.ShardResult{
		CASID:        casID,
		Success:      true,
		OutputDigest: "digest-" + casID,
		Attempt:      1,
	}
}

func TestEmptyTreeSentinelRoot(t *testing.T) {
	sum := sha256.Sum256([]byte("empty"))
	tree := NewTree("p1")
	assert.Equal(t, hex.EncodeToString(sum[:]), tree.ComputeRoot())
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	r := result("aaaa")
	tree := NewTree("p1")
	tree.AddLeaf(r)
	assert.Equal(t, LeafHash(r), tree.ComputeRoot())

	proof, err := tree.GenerateProof("aaaa")
	require.NoError(t, err)
	assert.Empty(t, proof.Path)
	assert.True(t, VerifyProof(proof))
}

func TestRootIndependentOfInsertionOrder(t *testing.T) {
	ids := []string{"dddd", "aaaa", "cccc", "bbbb", "eeee"}

	forward := NewTree("p1")
	for _, id := range ids {
		forward.AddLeaf(result(id))
	}
	reverse := NewTree("p1")
	for i := len(ids) - 1; i >= 0; i-- {
		reverse.AddLeaf(result(ids[i]))
	}

	assert.Equal(t, forward.ComputeRoot(), reverse.ComputeRoot())
}

func TestComputeRootIdempotent(t *testing.T) {
	tree := NewTree("p1")
	for i := 0; i < 4; i++ {
		tree.AddLeaf(result(fmt.Sprintf("leaf-%d", i)))
	}
	first := tree.ComputeRoot()
	assert.Equal(t, first, tree.ComputeRoot())
}

func TestAddLeafReplacesExistingCASID(t *testing.T) {
	tree := NewTree("p1")
	tree.AddLeaf(result("aaaa"))
	tree.AddLeaf(result("bbbb"))
	rootBefore := tree.ComputeRoot()

	retried := result("aaaa")
	retried.Attempt = 2
	tree.AddLeaf(retried)

	assert.Equal(t, 2, tree.Len())
	assert.NotEqual(t, rootBefore, tree.ComputeRoot())
}

func TestProofRoundTripAllLeaves(t *testing.T) {
	// Odd leaf counts exercise the duplicated-node levels.
	for _, count := range []int{1, 2, 3, 5, 8, 13} {
		tree := NewTree("p1")
		for i := 0; i < count; i++ {
			tree.AddLeaf(result(fmt.Sprintf("leaf-%02d", i)))
		}
		root := tree.ComputeRoot()
		for i := 0; i < count; i++ {
			proof, err := tree.GenerateProof(fmt.Sprintf("leaf-%02d", i))
			require.NoError(t, err, "count=%d leaf=%d", count, i)
			assert.Equal(t, root, proof.RootHash)
			assert.True(t, VerifyProof(proof), "count=%d leaf=%d", count, i)
		}
	}
}

func TestVerifyProofDetectsTampering(t *testing.T) {
	tree := NewTree("p1")
	for i := 0; i < 5; i++ {
		tree.AddLeaf(result(fmt.Sprintf("leaf-%d", i)))
	}
	proof, err := tree.GenerateProof("leaf-2")
	require.NoError(t, err)
	require.True(t, VerifyProof(proof))

	tamperedLeaf := *proof
	tamperedLeaf.LeafHash = flipHex(proof.LeafHash)
	assert.False(t, VerifyProof(&tamperedLeaf))

	tamperedPath := *proof
	tamperedPath.Path = append([]ProofStep(nil), proof.Path...)
	tamperedPath.Path[0].Hash = flipHex(proof.Path[0].Hash)
	assert.False(t, VerifyProof(&tamperedPath))
}

// flipHex changes a single nibble of a hex digest.
func flipHex(h string) string {
	b := []byte(h)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}

func TestGenerateProofUnknownLeaf(t *testing.T) {
	tree := NewTree("p1")
	tree.AddLeaf(result("aaaa"))

	var intErr *plan.IntegrityError
	_, err := tree.GenerateProof("missing")
	require.ErrorAs(t, err, &intErr)
	assert.Equal(t, "p1", intErr.PlanID)
	assert.Equal(t, "missing", intErr.CASID)
}

func TestSampleProofs(t *testing.T) {
	tree := NewTree("p1")
	for i := 0; i < 6; i++ {
		tree.AddLeaf(result(fmt.Sprintf("leaf-%d", i)))
	}

	proofs, err := tree.SampleProofs(3)
	require.NoError(t, err)
	require.Len(t, proofs, 3)
	for _, p := range proofs {
		assert.True(t, VerifyProof(p))
	}

	// Sample larger than the leaf set clamps to the leaf count.
	proofs, err = tree.SampleProofs(100)
	require.NoError(t, err)
	assert.Len(t, proofs, 6)

	empty := NewTree("p2")
	proofs, err = empty.SampleProofs(3)
	require.NoError(t, err)
	assert.Nil(t, proofs)
}
