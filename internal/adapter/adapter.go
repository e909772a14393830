// Package adapter translates declarative plan inputs (YAML documents
// and short stage-list strings) into the Plan document the core
// consumes. Missing fields are filled from per-kind defaults so a
// caller can declare a stage with nothing but an id and a kind.
package adapter

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"hypershard/internal/plan"
)

// Document is the declarative plan input shape.
type Document struct {
	PlanID      string           `yaml:"plan_id,omitempty"`
	Name        string           `yaml:"name"`
	SubmittedBy string           `yaml:"submitted_by,omitempty"`
	Stages      []StageDocument  `yaml:"stages"`
	Constraints plan.Constraints `yaml:"constraints,omitempty"`
}

// StageDocument is one stage in a declarative plan. Strategy fields and
// slo_ms are optional; the kind's defaults apply when absent.
type StageDocument struct {
	ID           string         `yaml:"id"`
	Kind         string         `yaml:"kind"`
	SLOMillis    int            `yaml:"slo_ms,omitempty"`
	Partitioner  string         `yaml:"partitioner,omitempty"`
	Executor     string         `yaml:"executor,omitempty"`
	Scheduler    string         `yaml:"scheduler,omitempty"`
	Dependencies []string       `yaml:"dependencies,omitempty"`
	Config       map[string]any `yaml:"config,omitempty"`
}

// stageDefaults carries the per-kind fallback strategy selection.
type stageDefaults struct {
	sloMillis   int
	partitioner plan.PartitionerType
	executor    plan.ExecutorType
}

var kindDefaults = map[string]stageDefaults{
	"deploy.pack":    {sloMillis: 120_000, partitioner: plan.ByFilesize, executor: plan.PackBackend},
	"deploy.migrate": {sloMillis: 30_000, partitioner: plan.BySQLBatch, executor: plan.SQLMigrate},
	"deploy.prime":   {sloMillis: 45_000, partitioner: plan.ByModule, executor: plan.WarmRegistry},
	"assets.index":   {sloMillis: 60_000, partitioner: plan.ByAssetBucket, executor: plan.IndexAssets},
	"assets.stage":   {sloMillis: 60_000, partitioner: plan.ByAssetBucket, executor: plan.IndexAssets},
	"docs.index":     {sloMillis: 30_000, partitioner: plan.ByRouteMap, executor: plan.DocsIndex},
}

var fallbackDefaults = stageDefaults{
	sloMillis:   120_000,
	partitioner: plan.ByFilesize,
	executor:    plan.PackBackend,
}

// stageNameToKind maps the short names accepted in stage-list strings.
var stageNameToKind = map[string]string{
	"pack":    "deploy.pack",
	"migrate": "deploy.migrate",
	"prime":   "deploy.prime",
	"index":   "assets.index",
	"stage":   "assets.stage",
	"docs":    "docs.index",
}

// ParseDocument decodes a YAML plan document into a Plan, applying kind
// defaults and generating a plan_id when the document omits one.
func ParseDocument(data []byte) (*plan.Plan, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode plan document: %w", err)
	}
	return FromDocument(&doc)
}

// ParseFile reads and decodes a YAML plan document from disk.
func ParseFile(path string) (*plan.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan document: %w", err)
	}
	return ParseDocument(data)
}

// FromDocument translates a decoded document into a Plan.
func FromDocument(doc *Document) (*plan.Plan, error) {
	planID := doc.PlanID
	if planID == "" {
		planID = uuid.NewString()
	}

	stages := make([]plan.Stage, 0, len(doc.Stages))
	for _, sd := range doc.Stages {
		stage, err := fromStageDocument(sd)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	return &plan.Plan{
		PlanID:      planID,
		Name:        doc.Name,
		Stages:      stages,
		Constraints: doc.Constraints,
		SubmittedBy: doc.SubmittedBy,
	}, nil
}

func fromStageDocument(sd StageDocument) (plan.Stage, error) {
	if sd.ID == "" {
		return plan.Stage{}, &plan.ConfigurationError{Field: "id", Value: "", Reason: "stage id is required"}
	}
	if sd.Kind == "" {
		return plan.Stage{}, &plan.ConfigurationError{StageID: sd.ID, Field: "kind", Value: "", Reason: "stage kind is required"}
	}

	defaults, ok := kindDefaults[sd.Kind]
	if !ok {
		defaults = fallbackDefaults
	}

	stage := plan.Stage{
		ID:           sd.ID,
		Kind:         sd.Kind,
		SLOMillis:    sd.SLOMillis,
		Partitioner:  plan.PartitionerType(sd.Partitioner),
		Executor:     plan.ExecutorType(sd.Executor),
		Scheduler:    plan.SchedulerType(sd.Scheduler),
		Dependencies: sd.Dependencies,
		Config:       sd.Config,
	}
	if stage.SLOMillis <= 0 {
		stage.SLOMillis = defaults.sloMillis
	}
	if stage.Partitioner == "" {
		stage.Partitioner = defaults.partitioner
	}
	if stage.Executor == "" {
		stage.Executor = defaults.executor
	}
	if stage.Scheduler == "" {
		stage.Scheduler = plan.FairRoundRobin
	}
	return stage, nil
}

// ParseStageList builds a plan document from a short comma-separated
// stage list like "pack,migrate,prime". Unrecognized names become
// "deploy.<name>" and take the fallback defaults.
func ParseStageList(name, list string) (*plan.Plan, error) {
	if strings.TrimSpace(list) == "" {
		return nil, fmt.Errorf("stage list is empty")
	}
	doc := &Document{Name: name}
	for _, short := range strings.Split(list, ",") {
		short = strings.TrimSpace(short)
		if short == "" {
			continue
		}
		kind, ok := stageNameToKind[short]
		if !ok {
			kind = "deploy." + short
		}
		doc.Stages = append(doc.Stages, StageDocument{ID: short, Kind: kind})
	}
	return FromDocument(doc)
}
