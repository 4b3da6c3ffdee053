package usecase

import "context"

// MetricsSummary represents aggregated verification insights.
type MetricsSummary struct {
	TotalSessions    int64   `json:"total_sessions"`
	ValidSessions    int64   `json:"valid_sessions"`
	RetrySessions    int64   `json:"retry_sessions"`
	ValidRate        float64 `json:"valid_rate"`
	AverageScore     float64 `json:"average_score"`
	AverageElapsedMs float64 `json:"average_elapsed_ms"`
}

// GetMetricsSummary aggregates decision metrics from persisted audit rows.
func (s *SessionService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSessions:    aggregation.TotalCount,
		ValidSessions:    aggregation.ValidCount,
		RetrySessions:    aggregation.RetryCount,
		AverageScore:     aggregation.AverageScore,
		AverageElapsedMs: aggregation.AverageElapsedMs,
	}

	if aggregation.TotalCount > 0 {
		summary.ValidRate = float64(aggregation.ValidCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
