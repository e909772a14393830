package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlan() *Plan {
	return &Plan{
		PlanID: "p1",
		Name:   "deploy",
		Stages: []Stage{
			{ID: "pack", Kind: "deploy.pack", Partitioner: ByModule, Executor: PackBackend, Scheduler: FairRoundRobin},
			{ID: "migrate", Kind: "deploy.migrate", Partitioner: BySQLBatch, Executor: SQLMigrate, Scheduler: FairRoundRobin, Dependencies: []string{"pack"}},
		},
	}
}

func TestValidateAcceptsWellFormedPlan(t *testing.T) {
	require.NoError(t, validPlan().Validate())
}

func TestValidateRejectsDuplicateStageIDs(t *testing.T) {
	p := validPlan()
	p.Stages = append(p.Stages, Stage{ID: "pack", Kind: "deploy.pack"})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, p.Validate(), &cfgErr)
	assert.Equal(t, "pack", cfgErr.StageID)
}

func TestValidateRejectsUnknownDependency(t *testing.T) {
	p := validPlan()
	p.Stages[1].Dependencies = []string{"nope"}

	var cfgErr *ConfigurationError
	require.ErrorAs(t, p.Validate(), &cfgErr)
	assert.Equal(t, "dependencies", cfgErr.Field)
}

func TestValidateRejectsDependencyCycle(t *testing.T) {
	p := validPlan()
	p.Stages[0].Dependencies = []string{"migrate"}

	var cfgErr *ConfigurationError
	require.ErrorAs(t, p.Validate(), &cfgErr)
	assert.Contains(t, cfgErr.Reason, "cycle")
}

func TestTopoOrderRespectsDependencies(t *testing.T) {
	p := &Plan{
		PlanID: "p1",
		Name:   "chain",
		Stages: []Stage{
			{ID: "c", Kind: "k", Dependencies: []string{"b"}},
			{ID: "a", Kind: "k"},
			{ID: "b", Kind: "k", Dependencies: []string{"a"}},
		},
	}
	order, err := p.TopoOrder()
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, order)
}

func TestConstraintDefaults(t *testing.T) {
	var c Constraints
	assert.Equal(t, DefaultMaxShards, c.EffectiveMaxShards())
	assert.Equal(t, DefaultTimeboxMS, c.EffectiveTimeboxMS())

	c = Constraints{MaxShards: 100, TimeboxMS: 5000}
	assert.Equal(t, 100, c.EffectiveMaxShards())
	assert.Equal(t, 5000, c.EffectiveTimeboxMS())
}
