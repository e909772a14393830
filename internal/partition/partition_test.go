package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hypershard/internal/plan"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, typ := range []plan.PartitionerType{
		plan.ByFilesize, plan.ByModule, plan.ByDAGDepth,
		plan.ByRouteMap, plan.ByAssetBucket, plan.BySQLBatch,
	} {
		assert.True(t, r.Known(typ), string(typ))
		p, err := r.Lookup(typ)
		require.NoError(t, err)
		assert.Equal(t, typ, p.Type())
	}

	var cfgErr *plan.ConfigurationError
	_, err := r.Lookup("by_magic")
	require.ErrorAs(t, err, &cfgErr)
}

func partitionOf(t *testing.T, typ plan.PartitionerType, config map[string]any) []Inputs {
	t.Helper()
	p, err := NewRegistry().Lookup(typ)
	require.NoError(t, err)
	out, err := p.Partition(plan.Stage{ID: "s1", Kind: "k", Partitioner: typ, Config: config})
	require.NoError(t, err)
	return out
}

func TestFilesizeBatchesByCumulativeSize(t *testing.T) {
	shards := partitionOf(t, plan.ByFilesize, map[string]any{
		"max_bytes_per_shard": 100,
		"files": []any{
			map[string]any{"path": "c.go", "size": 60},
			map[string]any{"path": "a.go", "size": 60},
			map[string]any{"path": "b.go", "size": 30},
		},
	})

	// Sorted by path: a(60)+b(30) fit, c(60) overflows into its own shard.
	require.Len(t, shards, 2)
	assert.Equal(t, []string{"a.go", "b.go"}, shards[0]["files"])
	assert.Equal(t, 90, shards[0]["bytes"])
	assert.Equal(t, []string{"c.go"}, shards[1]["files"])
}

func TestFilesizeRejectsMalformedConfig(t *testing.T) {
	p, err := NewRegistry().Lookup(plan.ByFilesize)
	require.NoError(t, err)

	var cfgErr *plan.ConfigurationError
	_, err = p.Partition(plan.Stage{ID: "s1", Partitioner: plan.ByFilesize, Config: map[string]any{}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "s1", cfgErr.StageID)

	_, err = p.Partition(plan.Stage{ID: "s1", Partitioner: plan.ByFilesize, Config: map[string]any{
		"files": []any{map[string]any{"path": "a.go"}}, // size missing
	}})
	require.ErrorAs(t, err, &cfgErr)
}

func TestModuleEmitsOneShardPerModule(t *testing.T) {
	shards := partitionOf(t, plan.ByModule, map[string]any{
		"modules": []any{"auth", "billing", "search"},
	})
	require.Len(t, shards, 3)
	assert.Equal(t, "auth", shards[0]["module"])
	assert.Equal(t, "billing", shards[1]["module"])
	assert.Equal(t, "search", shards[2]["module"])
}

func TestDAGDepthGroupsByDepth(t *testing.T) {
	shards := partitionOf(t, plan.ByDAGDepth, map[string]any{
		"nodes": []any{
			map[string]any{"id": "n3", "depth": 1},
			map[string]any{"id": "n1", "depth": 0},
			map[string]any{"id": "n2", "depth": 0},
		},
	})
	require.Len(t, shards, 2)
	assert.Equal(t, 0, shards[0]["depth"])
	assert.Equal(t, []string{"n1", "n2"}, shards[0]["nodes"])
	assert.Equal(t, 1, shards[1]["depth"])
}

func TestRouteMapGroupsByTopSegment(t *testing.T) {
	shards := partitionOf(t, plan.ByRouteMap, map[string]any{
		"routes": []any{"/api/users", "/api/orders", "/docs/intro", "/"},
	})
	require.Len(t, shards, 3)
	assert.Equal(t, "/", shards[0]["prefix"])
	assert.Equal(t, "api", shards[1]["prefix"])
	assert.Equal(t, []string{"/api/orders", "/api/users"}, shards[1]["routes"])
	assert.Equal(t, "docs", shards[2]["prefix"])
}

func TestAssetBucketIsDeterministic(t *testing.T) {
	config := map[string]any{
		"buckets": 4,
		"assets":  []any{"logo.png", "app.js", "style.css", "font.woff2", "map.svg"},
	}
	first := partitionOf(t, plan.ByAssetBucket, config)
	second := partitionOf(t, plan.ByAssetBucket, config)
	assert.Equal(t, first, second)

	total := 0
	for _, shard := range first {
		total += len(shard["assets"].([]string))
	}
	assert.Equal(t, 5, total, "every asset lands in exactly one bucket")
}

func TestSQLBatchSlicesRowSpace(t *testing.T) {
	shards := partitionOf(t, plan.BySQLBatch, map[string]any{
		"total_rows": 1200,
		"batch_size": 500,
		"table":      "events",
	})
	require.Len(t, shards, 3)
	assert.Equal(t, 0, shards[0]["offset"])
	assert.Equal(t, 500, shards[0]["limit"])
	assert.Equal(t, 1000, shards[2]["offset"])
	assert.Equal(t, 200, shards[2]["limit"])
	assert.Equal(t, "events", shards[0]["table"])
}

func TestSQLBatchRejectsBadBatchSize(t *testing.T) {
	p, err := NewRegistry().Lookup(plan.BySQLBatch)
	require.NoError(t, err)

	var cfgErr *plan.ConfigurationError
	_, err = p.Partition(plan.Stage{ID: "s1", Partitioner: plan.BySQLBatch, Config: map[string]any{
		"total_rows": 100,
		"batch_size": 0,
	}})
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config.batch_size", cfgErr.Field)
}

func TestSQLBatchEmptyRowSpace(t *testing.T) {
	shards := partitionOf(t, plan.BySQLBatch, map[string]any{"total_rows": 0})
	assert.Empty(t, shards)
}
