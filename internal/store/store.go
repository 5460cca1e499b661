package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/weft/pkg/api"
)

type (
	// Store persists finished run results to Redis. The engine itself
	// never touches storage; callers hand it the record map a run
	// returned
	Store struct {
		rdb    *redis.Client
		prefix string
	}

	// Config configures the Redis connection
	Config struct {
		Addr     string
		Password string
		DB       int
		Prefix   string
	}
)

const recentRunsLimit = 1000

var ErrRunNotFound = errors.New("run not found")

// New creates a run store over the given Redis endpoint
func New(cfg Config) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: cfg.Prefix,
	}
}

// Ping verifies connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	return s.rdb.Close()
}

// SaveRun computes aggregate stats for a finished run and persists the
// stats together with the full record map
func (s *Store) SaveRun(
	ctx context.Context, runID string, wf *api.Workflow,
	records map[api.NodeID]*api.Record,
) (*api.RunStats, error) {
	stats := ComputeStats(runID, wf, records)

	raw, err := json.Marshal(&api.StoredRun{
		Stats:   *stats,
		Records: records,
	})
	if err != nil {
		return nil, err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.runKey(runID), raw, 0)
	pipe.LPush(ctx, s.indexKey(), runID)
	pipe.LTrim(ctx, s.indexKey(), 0, recentRunsLimit-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetRun fetches a persisted run by ID
func (s *Store) GetRun(
	ctx context.Context, runID string,
) (*api.StoredRun, error) {
	raw, err := s.rdb.Get(ctx, s.runKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}

	var run api.StoredRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the most recent run IDs, newest first
func (s *Store) ListRuns(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > recentRunsLimit {
		limit = recentRunsLimit
	}
	return s.rdb.LRange(ctx, s.indexKey(), 0, int64(limit)-1).Result()
}

// ComputeStats aggregates per-node records into run-level counts. Nodes
// declared in the workflow but absent from the record map count as
// waiting; a halted run is only distinguishable by per-node status
func ComputeStats(
	runID string, wf *api.Workflow, records map[api.NodeID]*api.Record,
) *api.RunStats {
	stats := &api.RunStats{
		RunID: runID,
		Nodes: len(records),
	}
	if wf != nil {
		stats.WorkflowID = wf.ID
		stats.Waiting = max(len(wf.Nodes)-len(records), 0)
	}

	for _, rec := range records {
		switch rec.Status {
		case api.StatusSuccess:
			stats.Succeeded++
		case api.StatusFailed:
			stats.Failed++
		}

		if stats.StartedAt.IsZero() || rec.StartedAt.Before(stats.StartedAt) {
			stats.StartedAt = rec.StartedAt
		}
		if rec.FinishedAt.After(stats.FinishedAt) {
			stats.FinishedAt = rec.FinishedAt
		}
	}

	if !stats.StartedAt.IsZero() && !stats.FinishedAt.IsZero() {
		stats.DurationMs = stats.FinishedAt.Sub(stats.StartedAt).Milliseconds()
	}
	return stats
}

func (s *Store) runKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, runID)
}

func (s *Store) indexKey() string {
	return fmt.Sprintf("%s:runs", s.prefix)
}
