// Package checkpoint persists plans, shard specs, and shard results in
// SQLite so an orchestration run survives a crash or restart. Every write
// is an upsert keyed by plan_id or cas_id with last-writer-wins semantics;
// the design assumes at most one writer per cas_id at a time, which the
// core enforces with its lease table.
package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"hypershard/internal/plan"
)

// Store is the durable checkpoint store.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	path   string
	logger *zap.Logger
}

// Open initializes the SQLite database at path, creating the schema if
// needed.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &plan.PersistenceError{Op: "open", Err: fmt.Errorf("create directory %s: %w", dir, err)}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, &plan.PersistenceError{Op: "open", Err: err}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		// NORMAL is safe under WAL and much faster than FULL.
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("pragma failed", zap.String("pragma", pragma), zap.Error(err))
		}
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("checkpoint store ready", zap.String("path", path))
	return s, nil
}

// initialize creates the three checkpoint tables and their indexes.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plans (
		plan_id TEXT PRIMARY KEY,
		plan_data TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS shards (
		cas_id TEXT PRIMARY KEY,
		stage_id TEXT NOT NULL,
		shard_data TEXT NOT NULL,
		phase TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_shards_stage ON shards(stage_id);
	CREATE INDEX IF NOT EXISTS idx_shards_phase ON shards(phase);
	CREATE TABLE IF NOT EXISTS results (
		cas_id TEXT PRIMARY KEY,
		result_data TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return &plan.PersistenceError{Op: "initialize", Err: err}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.logger.Debug("closing checkpoint store", zap.String("path", s.path))
	return s.db.Close()
}

// SavePlan upserts a plan record.
func (s *Store) SavePlan(p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(p)
	if err != nil {
		return &plan.PersistenceError{Op: "save_plan", Err: err}
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO plans (plan_id, plan_data, created_at) VALUES (?, ?, ?)",
		p.PlanID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &plan.PersistenceError{Op: "save_plan", Err: err}
	}
	return nil
}

// GetPlan retrieves a plan by id; returns (nil, nil) when absent.
func (s *Store) GetPlan(planID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT plan_data FROM plans WHERE plan_id = ?", planID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &plan.PersistenceError{Op: "get_plan", Err: err}
	}
	var p plan.Plan
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, &plan.PersistenceError{Op: "get_plan", Err: err}
	}
	return &p, nil
}

// SaveShard upserts a shard spec record.
func (s *Store) SaveShard(shard *plan.ShardSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shard.UpdatedAt = time.Now().UTC()
	if shard.CreatedAt.IsZero() {
		shard.CreatedAt = shard.UpdatedAt
	}
	data, err := json.Marshal(shard)
	if err != nil {
		return &plan.PersistenceError{Op: "save_shard", Err: err}
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO shards (cas_id, stage_id, shard_data, phase, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		shard.CASID, shard.StageID, string(data), string(shard.Phase),
		shard.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return &plan.PersistenceError{Op: "save_shard", Err: err}
	}
	return nil
}

// GetShard retrieves a shard spec by cas_id; returns (nil, nil) when
// absent.
func (s *Store) GetShard(casID string) (*plan.ShardSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT shard_data FROM shards WHERE cas_id = ?", casID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &plan.PersistenceError{Op: "get_shard", Err: err}
	}
	var shard plan.ShardSpec
	if err := json.Unmarshal([]byte(data), &shard); err != nil {
		return nil, &plan.PersistenceError{Op: "get_shard", Err: err}
	}
	return &shard, nil
}

// GetShardsByStage returns every shard recorded for a stage.
func (s *Store) GetShardsByStage(stageID string) ([]*plan.ShardSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT shard_data FROM shards WHERE stage_id = ? ORDER BY cas_id", stageID)
	if err != nil {
		return nil, &plan.PersistenceError{Op: "get_shards_by_stage", Err: err}
	}
	defer rows.Close()

	var shards []*plan.ShardSpec
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, &plan.PersistenceError{Op: "get_shards_by_stage", Err: err}
		}
		var shard plan.ShardSpec
		if err := json.Unmarshal([]byte(data), &shard); err != nil {
			return nil, &plan.PersistenceError{Op: "get_shards_by_stage", Err: err}
		}
		shards = append(shards, &shard)
	}
	if err := rows.Err(); err != nil {
		return nil, &plan.PersistenceError{Op: "get_shards_by_stage", Err: err}
	}
	return shards, nil
}

// SaveResult upserts the most recent result for a cas_id. A result may
// only be recorded once a shard spec with the same cas_id exists.
func (s *Store) SaveResult(result *plan.ShardResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	err := s.db.QueryRow("SELECT COUNT(1) FROM shards WHERE cas_id = ?", result.CASID).Scan(&exists)
	if err != nil {
		return &plan.PersistenceError{Op: "save_result", Err: err}
	}
	if exists == 0 {
		return &plan.PersistenceError{Op: "save_result",
			Err: fmt.Errorf("no shard spec recorded for cas_id %s", result.CASID)}
	}

	data, err := json.Marshal(result)
	if err != nil {
		return &plan.PersistenceError{Op: "save_result", Err: err}
	}
	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO results (cas_id, result_data, created_at) VALUES (?, ?, ?)",
		result.CASID, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return &plan.PersistenceError{Op: "save_result", Err: err}
	}
	return nil
}

// GetResult retrieves the most recent result for a cas_id; returns
// (nil, nil) when absent.
func (s *Store) GetResult(casID string) (*plan.ShardResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	err := s.db.QueryRow("SELECT result_data FROM results WHERE cas_id = ?", casID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &plan.PersistenceError{Op: "get_result", Err: err}
	}
	var result plan.ShardResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil, &plan.PersistenceError{Op: "get_result", Err: err}
	}
	return &result, nil
}

// PhaseCounts aggregates shard counts per phase over a set of cas_ids.
// Keyed by cas_id rather than stage_id: stage ids are only unique within
// a plan, and plans may share a shards table.
func (s *Store) PhaseCounts(casIDs []string) (map[plan.ShardPhase]int, error) {
	counts := make(map[plan.ShardPhase]int)
	if len(casIDs) == 0 {
		return counts, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(casIDs)), ",")
	args := make([]any, len(casIDs))
	for i, id := range casIDs {
		args[i] = id
	}

	rows, err := s.db.Query(
		fmt.Sprintf("SELECT phase, COUNT(*) FROM shards WHERE cas_id IN (%s) GROUP BY phase", placeholders),
		args...,
	)
	if err != nil {
		return nil, &plan.PersistenceError{Op: "phase_counts", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var phase string
		var n int
		if err := rows.Scan(&phase, &n); err != nil {
			return nil, &plan.PersistenceError{Op: "phase_counts", Err: err}
		}
		counts[plan.ShardPhase(phase)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, &plan.PersistenceError{Op: "phase_counts", Err: err}
	}
	return counts, nil
}

// Compact reclaims space. Never destructive to committed records.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("VACUUM"); err != nil {
		return &plan.PersistenceError{Op: "compact", Err: err}
	}
	s.logger.Info("checkpoint store compacted", zap.String("path", s.path))
	return nil
}
