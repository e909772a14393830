package partition

import (
	"fmt"
	"hash/fnv"
	"sort"

	"hypershard/internal/plan"
)

// defaultMaxBytesPerShard bounds a by_filesize shard when the stage
// config declares no max_bytes_per_shard.
const defaultMaxBytesPerShard = 1 << 20

// filesizePartitioner batches files into shards by cumulative size.
// Files are sorted by path first so the batching is order-independent
// of how the config listed them.
type filesizePartitioner struct{}

func (*filesizePartitioner) Type() plan.PartitionerType { return plan.ByFilesize }

func (*filesizePartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	raw, ok := stage.Config["files"]
	if !ok {
		return nil, configErr(stage, "config.files", "by_filesize requires a files list")
	}
	entries, ok := mapSlice(raw)
	if !ok {
		return nil, configErr(stage, "config.files", "files must be a list of {path, size} objects")
	}

	type file struct {
		path string
		size int
	}
	files := make([]file, 0, len(entries))
	for _, entry := range entries {
		path, _ := entry["path"].(string)
		size, okSize := coerceInt(entry["size"])
		if path == "" || !okSize {
			return nil, configErr(stage, "config.files", "each file needs a path and a size")
		}
		files = append(files, file{path: path, size: size})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })

	maxBytes := defaultMaxBytesPerShard
	if v, ok := coerceInt(stage.Config["max_bytes_per_shard"]); ok && v > 0 {
		maxBytes = v
	}

	var shards []Inputs
	var batch []string
	batchBytes := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		shards = append(shards, Inputs{"files": batch, "bytes": batchBytes})
		batch = nil
		batchBytes = 0
	}
	for _, f := range files {
		if batchBytes > 0 && batchBytes+f.size > maxBytes {
			flush()
		}
		batch = append(batch, f.path)
		batchBytes += f.size
	}
	flush()
	return shards, nil
}

// modulePartitioner emits one shard per listed module, in listed order.
type modulePartitioner struct{}

func (*modulePartitioner) Type() plan.PartitionerType { return plan.ByModule }

func (*modulePartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	raw, ok := stage.Config["modules"]
	if !ok {
		return nil, configErr(stage, "config.modules", "by_module requires a modules list")
	}
	modules, ok := stringSlice(raw)
	if !ok {
		return nil, configErr(stage, "config.modules", "modules must be a list of strings")
	}
	shards := make([]Inputs, 0, len(modules))
	for _, m := range modules {
		shards = append(shards, Inputs{"module": m})
	}
	return shards, nil
}

// dagDepthPartitioner groups declared nodes by depth and emits one shard
// per depth level, shallowest first.
type dagDepthPartitioner struct{}

func (*dagDepthPartitioner) Type() plan.PartitionerType { return plan.ByDAGDepth }

func (*dagDepthPartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	raw, ok := stage.Config["nodes"]
	if !ok {
		return nil, configErr(stage, "config.nodes", "by_dag_depth requires a nodes list")
	}
	entries, ok := mapSlice(raw)
	if !ok {
		return nil, configErr(stage, "config.nodes", "nodes must be a list of {id, depth} objects")
	}

	byDepth := make(map[int][]string)
	for _, entry := range entries {
		id, _ := entry["id"].(string)
		depth, okDepth := coerceInt(entry["depth"])
		if id == "" || !okDepth {
			return nil, configErr(stage, "config.nodes", "each node needs an id and a depth")
		}
		byDepth[depth] = append(byDepth[depth], id)
	}

	depths := make([]int, 0, len(byDepth))
	for d := range byDepth {
		depths = append(depths, d)
	}
	sort.Ints(depths)

	shards := make([]Inputs, 0, len(depths))
	for _, d := range depths {
		nodes := byDepth[d]
		sort.Strings(nodes)
		shards = append(shards, Inputs{"depth": d, "nodes": nodes})
	}
	return shards, nil
}

// routeMapPartitioner groups routes by their top-level segment and emits
// one shard per group.
type routeMapPartitioner struct{}

func (*routeMapPartitioner) Type() plan.PartitionerType { return plan.ByRouteMap }

func (*routeMapPartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	raw, ok := stage.Config["routes"]
	if !ok {
		return nil, configErr(stage, "config.routes", "by_route_map requires a routes list")
	}
	routes, ok := stringSlice(raw)
	if !ok {
		return nil, configErr(stage, "config.routes", "routes must be a list of strings")
	}

	groups := make(map[string][]string)
	for _, route := range routes {
		groups[topSegment(route)] = append(groups[topSegment(route)], route)
	}

	prefixes := make([]string, 0, len(groups))
	for prefix := range groups {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)

	shards := make([]Inputs, 0, len(prefixes))
	for _, prefix := range prefixes {
		group := groups[prefix]
		sort.Strings(group)
		shards = append(shards, Inputs{"prefix": prefix, "routes": group})
	}
	return shards, nil
}

// topSegment extracts the first path segment of a route ("/api/users"
// yields "api"); a bare "/" maps to the root group.
func topSegment(route string) string {
	i := 0
	for i < len(route) && route[i] == '/' {
		i++
	}
	start := i
	for i < len(route) && route[i] != '/' {
		i++
	}
	if start == i {
		return "/"
	}
	return route[start:i]
}

// assetBucketPartitioner hashes assets into a fixed bucket count and
// emits one shard per non-empty bucket.
type assetBucketPartitioner struct{}

func (*assetBucketPartitioner) Type() plan.PartitionerType { return plan.ByAssetBucket }

func (*assetBucketPartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	raw, ok := stage.Config["assets"]
	if !ok {
		return nil, configErr(stage, "config.assets", "by_asset_bucket requires an assets list")
	}
	assets, ok := stringSlice(raw)
	if !ok {
		return nil, configErr(stage, "config.assets", "assets must be a list of strings")
	}
	buckets := 8
	if v, ok := coerceInt(stage.Config["buckets"]); ok && v > 0 {
		buckets = v
	}

	grouped := make(map[int][]string)
	for _, asset := range assets {
		h := fnv.New32a()
		_, _ = h.Write([]byte(asset))
		grouped[int(h.Sum32())%buckets] = append(grouped[int(h.Sum32())%buckets], asset)
	}

	ids := make([]int, 0, len(grouped))
	for id := range grouped {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	shards := make([]Inputs, 0, len(ids))
	for _, id := range ids {
		group := grouped[id]
		sort.Strings(group)
		shards = append(shards, Inputs{"bucket": id, "assets": group})
	}
	return shards, nil
}

// sqlBatchPartitioner slices a row space into offset/limit batches.
type sqlBatchPartitioner struct{}

func (*sqlBatchPartitioner) Type() plan.PartitionerType { return plan.BySQLBatch }

func (*sqlBatchPartitioner) Partition(stage plan.Stage) ([]Inputs, error) {
	totalRows, ok := coerceInt(stage.Config["total_rows"])
	if !ok || totalRows < 0 {
		return nil, configErr(stage, "config.total_rows", "by_sql_batch requires a non-negative total_rows")
	}
	batchSize := 500
	if v, ok := coerceInt(stage.Config["batch_size"]); ok {
		if v <= 0 {
			return nil, configErr(stage, "config.batch_size", fmt.Sprintf("batch_size must be positive, got %d", v))
		}
		batchSize = v
	}

	var shards []Inputs
	for offset := 0; offset < totalRows; offset += batchSize {
		limit := batchSize
		if offset+limit > totalRows {
			limit = totalRows - offset
		}
		inputs := Inputs{"offset": offset, "limit": limit}
		if table, ok := stage.Config["table"].(string); ok && table != "" {
			inputs["table"] = table
		}
		shards = append(shards, inputs)
	}
	return shards, nil
}
