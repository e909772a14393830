package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"hypershard/internal/plan"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "checkpoint.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testShard(casID, stageID string, phase plan.ShardPhase) *plan.ShardSpec {
	return &plan.ShardSpec{
		CASID:    casID,
		StageID:  stageID,
		Executor: plan.PackBackend,
		Inputs:   map[string]any{"module": "auth"},
		Phase:    phase,
	}
}

func TestPlanRoundTrip(t *testing.T) {
	s := testStore(t)

	p := &plan.Plan{
		PlanID: "p1",
		Name:   "deploy",
		Stages: []plan.Stage{
			{ID: "pack", Kind: "deploy.pack", Partitioner: plan.ByModule, Executor: plan.PackBackend, Scheduler: plan.FairRoundRobin},
		},
	}
	require.NoError(t, s.SavePlan(p))

	got, err := s.GetPlan("p1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "deploy", got.Name)
	require.Len(t, got.Stages, 1)
	assert.Equal(t, "pack", got.Stages[0].ID)

	missing, err := s.GetPlan("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestShardUpsertLastWriterWins(t *testing.T) {
	s := testStore(t)

	shard := testShard("cas1", "pack", plan.PhasePending)
	require.NoError(t, s.SaveShard(shard))

	shard.Phase = plan.PhaseDone
	require.NoError(t, s.SaveShard(shard))

	got, err := s.GetShard("cas1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, plan.PhaseDone, got.Phase)
	assert.False(t, got.CreatedAt.IsZero())
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestGetShardsByStage(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveShard(testShard("cas-b", "pack", plan.PhasePending)))
	require.NoError(t, s.SaveShard(testShard("cas-a", "pack", plan.PhaseDone)))
	require.NoError(t, s.SaveShard(testShard("cas-c", "migrate", plan.PhasePending)))

	shards, err := s.GetShardsByStage("pack")
	require.NoError(t, err)
	require.Len(t, shards, 2)
	assert.Equal(t, "cas-a", shards[0].CASID)
	assert.Equal(t, "cas-b", shards[1].CASID)
}

func TestSaveResultRequiresShardRecord(t *testing.T) {
	s := testStore(t)

	result := &plan.ShardResult{CASID: "orphan", Success: true, OutputDigest: "d", Attempt: 1}

	var perr *plan.PersistenceError
	require.ErrorAs(t, s.SaveResult(result), &perr)
	assert.Equal(t, "save_result", perr.Op)

	require.NoError(t, s.SaveShard(testShard("orphan", "pack", plan.PhaseRunning)))
	require.NoError(t, s.SaveResult(result))

	got, err := s.GetResult("orphan")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Success)

	missing, err := s.GetResult("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResultUpsertKeepsLatestAttempt(t *testing.T) {
	s := testStore(t)
	require.NoError(t, s.SaveShard(testShard("cas1", "pack", plan.PhaseRunning)))

	require.NoError(t, s.SaveResult(&plan.ShardResult{CASID: "cas1", Success: false, Error: "boom", Attempt: 1}))
	require.NoError(t, s.SaveResult(&plan.ShardResult{CASID: "cas1", Success: true, OutputDigest: "d2", Attempt: 2}))

	got, err := s.GetResult("cas1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempt)
	assert.True(t, got.Success)
}

func TestPhaseCounts(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveShard(testShard("c1", "pack", plan.PhaseDone)))
	require.NoError(t, s.SaveShard(testShard("c2", "pack", plan.PhaseDone)))
	require.NoError(t, s.SaveShard(testShard("c3", "pack", plan.PhaseFailed)))
	require.NoError(t, s.SaveShard(testShard("c4", "migrate", plan.PhasePending)))
	require.NoError(t, s.SaveShard(testShard("c5", "pack", plan.PhaseDone)))

	// c5 shares the stage id but belongs to a different plan's shard
	// set; keying by cas_id keeps it out of the count.
	counts, err := s.PhaseCounts([]string{"c1", "c2", "c3", "c4"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts[plan.PhaseDone])
	assert.Equal(t, 1, counts[plan.PhaseFailed])
	assert.Equal(t, 1, counts[plan.PhasePending])

	empty, err := s.PhaseCounts(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestCompactPreservesRecords(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.SaveShard(testShard("cas1", "pack", plan.PhaseDone)))
	require.NoError(t, s.Compact())

	got, err := s.GetShard("cas1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, plan.PhaseDone, got.Phase)
}

func TestReopenSeesCommittedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.db")
	logger := zaptest.NewLogger(t)

	s, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.SaveShard(testShard("cas1", "pack", plan.PhaseDone)))
	require.NoError(t, s.SaveResult(&plan.ShardResult{CASID: "cas1", Success: true, OutputDigest: "d", Attempt: 1}))
	require.NoError(t, s.Close())

	reopened, err := Open(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	shard, err := reopened.GetShard("cas1")
	require.NoError(t, err)
	require.NotNil(t, shard)
	assert.Equal(t, plan.PhaseDone, shard.Phase)

	result, err := reopened.GetResult("cas1")
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.Success)
}
