package store

import (
	"context"

	"github.com/XiaoConstantine/engram-go/pkg/episodic"
	"github.com/XiaoConstantine/engram-go/pkg/errors"
)

// Stats summarizes the whole database for dashboards and the CLI.
type Stats struct {
	EpisodeCount        int            `json:"episode_count"`
	StepCount           int            `json:"step_count"`
	DistillationCount   int            `json:"distillation_count"`
	ArchivedCount       int            `json:"archived_count"`
	PolicyCount         int            `json:"policy_count"`
	SuccessRate         float64        `json:"success_rate"`
	HighConfidenceCount int            `json:"high_confidence_count"`
	DistillationsByType map[string]int `json:"distillations_by_type"`
}

// HighConfidenceFloor is the confidence threshold counted as "high" in
// summary stats.
const HighConfidenceFloor = 0.7

// GetStats aggregates counts and ratios across every table.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{DistillationsByType: map[string]int{}}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM episodes`, &stats.EpisodeCount},
		{`SELECT COUNT(*) FROM steps`, &stats.StepCount},
		{`SELECT COUNT(*) FROM distillations`, &stats.DistillationCount},
		{`SELECT COUNT(*) FROM distillations_archive`, &stats.ArchivedCount},
		{`SELECT COUNT(*) FROM policies`, &stats.PolicyCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to count rows")
		}
	}

	// Success rate over terminated episodes only; in-progress ones say
	// nothing yet.
	var terminated, succeeded int
	err := s.db.QueryRowContext(ctx, `
    SELECT COUNT(*), COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0)
    FROM episodes WHERE outcome != ?`,
		string(episodic.OutcomeSuccess), string(episodic.OutcomeInProgress),
	).Scan(&terminated, &succeeded)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to compute success rate")
	}
	if terminated > 0 {
		stats.SuccessRate = float64(succeeded) / float64(terminated)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM distillations WHERE confidence >= ?`, HighConfidenceFloor,
	).Scan(&stats.HighConfidenceCount)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to count high-confidence distillations")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM distillations GROUP BY type`)
	if err != nil {
		return nil, errors.Wrap(err, errors.StorageFailed, "failed to count distillations by type")
	}
	defer rows.Close()
	for rows.Next() {
		var dtype string
		var n int
		if err := rows.Scan(&dtype, &n); err != nil {
			return nil, errors.Wrap(err, errors.StorageFailed, "failed to scan type count")
		}
		stats.DistillationsByType[dtype] = n
	}
	return stats, rows.Err()
}
