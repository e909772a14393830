package execute

import (
	"context"

	"hypershard/internal/plan"
)

// The built-in executors stand in for real deployment work. They carry no
// artificial delays; real implementations are injected through
// NewRegistry overrides and only need to honor the same contract.

// packBackend packs a batch of backend files into an artifact.
type packBackend struct{}

func (*packBackend) Type() plan.ExecutorType { return plan.PackBackend }

func (*packBackend) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{"packed_files": countOf(inputs, "files")}
	if module, ok := inputs["module"].(string); ok {
		detail["module"] = module
	}
	return receipt(ctx, plan.PackBackend, inputs, detail)
}

// warmRegistry pre-warms a module registry entry.
type warmRegistry struct{}

func (*warmRegistry) Type() plan.ExecutorType { return plan.WarmRegistry }

func (*warmRegistry) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{"warmed": true}
	if module, ok := inputs["module"].(string); ok {
		detail["module"] = module
	}
	return receipt(ctx, plan.WarmRegistry, inputs, detail)
}

// indexAssets indexes one bucket of static assets.
type indexAssets struct{}

func (*indexAssets) Type() plan.ExecutorType { return plan.IndexAssets }

func (*indexAssets) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{"indexed_assets": countOf(inputs, "assets")}
	if bucket, ok := inputs["bucket"]; ok {
		detail["bucket"] = bucket
	}
	return receipt(ctx, plan.IndexAssets, inputs, detail)
}

// primeCaches primes caches for a route group or node set.
type primeCaches struct{}

func (*primeCaches) Type() plan.ExecutorType { return plan.PrimeCaches }

func (*primeCaches) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{
		"primed_routes": countOf(inputs, "routes"),
		"primed_nodes":  countOf(inputs, "nodes"),
	}
	return receipt(ctx, plan.PrimeCaches, inputs, detail)
}

// docsIndex rebuilds the documentation index for a route group.
type docsIndex struct{}

func (*docsIndex) Type() plan.ExecutorType { return plan.DocsIndex }

func (*docsIndex) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{"indexed_routes": countOf(inputs, "routes")}
	if prefix, ok := inputs["prefix"].(string); ok {
		detail["prefix"] = prefix
	}
	return receipt(ctx, plan.DocsIndex, inputs, detail)
}

// sqlMigrate applies one row-range batch of a migration.
type sqlMigrate struct{}

func (*sqlMigrate) Type() plan.ExecutorType { return plan.SQLMigrate }

func (*sqlMigrate) Execute(ctx context.Context, inputs map[string]any) (*Receipt, error) {
	detail := map[string]any{}
	if offset, ok := inputs["offset"]; ok {
		detail["offset"] = offset
	}
	if limit, ok := inputs["limit"]; ok {
		detail["migrated_rows"] = limit
	}
	if table, ok := inputs["table"].(string); ok {
		detail["table"] = table
	}
	return receipt(ctx, plan.SQLMigrate, inputs, detail)
}
