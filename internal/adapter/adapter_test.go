package adapter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypershard/internal/plan"
)

const sampleDocument = `
plan_id: release-42
name: nightly deploy
submitted_by: ci
stages:
  - id: pack
    kind: deploy.pack
    config:
      files:
        - {path: a.go, size: 100}
  - id: migrate
    kind: deploy.migrate
    slo_ms: 15000
    dependencies: [pack]
    config:
      total_rows: 1000
constraints:
  max_shards: 500
`

func TestParseDocumentAppliesKindDefaults(t *testing.T) {
	p, err := ParseDocument([]byte(sampleDocument))
	require.NoError(t, err)

	assert.Equal(t, "release-42", p.PlanID)
	assert.Equal(t, "nightly deploy", p.Name)
	assert.Equal(t, "ci", p.SubmittedBy)
	assert.Equal(t, 500, p.Constraints.MaxShards)
	require.Len(t, p.Stages, 2)

	pack := p.Stages[0]
	assert.Equal(t, plan.ByFilesize, pack.Partitioner)
	assert.Equal(t, plan.PackBackend, pack.Executor)
	assert.Equal(t, plan.FairRoundRobin, pack.Scheduler)
	assert.Equal(t, 120_000, pack.SLOMillis)

	migrate := p.Stages[1]
	assert.Equal(t, plan.BySQLBatch, migrate.Partitioner)
	assert.Equal(t, plan.SQLMigrate, migrate.Executor)
	assert.Equal(t, 15_000, migrate.SLOMillis, "explicit slo_ms overrides the kind default")
	assert.Equal(t, []string{"pack"}, migrate.Dependencies)
}

func TestParseDocumentGeneratesPlanID(t *testing.T) {
	doc := []byte("name: x\nstages:\n  - {id: s1, kind: deploy.pack}\n")

	first, err := ParseDocument(doc)
	require.NoError(t, err)
	second, err := ParseDocument(doc)
	require.NoError(t, err)

	assert.NotEmpty(t, first.PlanID)
	assert.NotEqual(t, first.PlanID, second.PlanID)
}

func TestParseDocumentExplicitStrategiesWin(t *testing.T) {
	doc := []byte(`
name: x
stages:
  - id: s1
    kind: deploy.pack
    partitioner: by_module
    executor: warm_registry
    scheduler: backpressure_aware
`)
	p, err := ParseDocument(doc)
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)

	want := plan.Stage{
		ID:          "s1",
		Kind:        "deploy.pack",
		SLOMillis:   120_000,
		Partitioner: plan.ByModule,
		Executor:    plan.WarmRegistry,
		Scheduler:   plan.BackpressureAware,
	}
	if diff := cmp.Diff(want, p.Stages[0]); diff != "" {
		t.Errorf("stage mismatch (-want +got):\n%s", diff)
	}
}

func TestFromStageDocumentRequiresIDAndKind(t *testing.T) {
	var cfgErr *plan.ConfigurationError

	_, err := FromDocument(&Document{Name: "x", Stages: []StageDocument{{Kind: "deploy.pack"}}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "id", cfgErr.Field)

	_, err = FromDocument(&Document{Name: "x", Stages: []StageDocument{{ID: "s1"}}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "kind", cfgErr.Field)
}

func TestParseStageList(t *testing.T) {
	p, err := ParseStageList("quick", "pack, migrate,docs")
	require.NoError(t, err)
	require.Len(t, p.Stages, 3)

	assert.Equal(t, "quick", p.Name)
	assert.Equal(t, "deploy.pack", p.Stages[0].Kind)
	assert.Equal(t, "deploy.migrate", p.Stages[1].Kind)
	assert.Equal(t, "docs.index", p.Stages[2].Kind)
	assert.Equal(t, plan.ByRouteMap, p.Stages[2].Partitioner)
}

func TestParseStageListUnrecognizedNameFallsBack(t *testing.T) {
	p, err := ParseStageList("custom", "lint")
	require.NoError(t, err)
	require.Len(t, p.Stages, 1)
	assert.Equal(t, "deploy.lint", p.Stages[0].Kind)
	assert.Equal(t, plan.ByFilesize, p.Stages[0].Partitioner)
	assert.Equal(t, plan.PackBackend, p.Stages[0].Executor)
}

func TestParseStageListEmpty(t *testing.T) {
	_, err := ParseStageList("x", "  ")
	assert.Error(t, err)
}
