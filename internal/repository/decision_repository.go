package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yekkaplan/tcidverify-sub000/internal/logging"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
)

// DecisionLog is one audit row: a captured document side or a completed
// session decision. Session-level rows leave Side empty. The unique
// (session_id, side) pair makes writes idempotent, so a retried completion
// cannot double-count in the metrics. Rows carry scores and error tags only,
// never document holder data.
type DecisionLog struct {
	ID        uint      `gorm:"primaryKey"`
	SessionID string    `gorm:"column:session_id;size:64;uniqueIndex:uniq_decision_session_side"`
	Side      string    `gorm:"column:side;size:8;uniqueIndex:uniq_decision_session_side"`
	Decision  string    `gorm:"column:decision;size:8"`
	Score     int       `gorm:"column:score"`
	Manual    bool      `gorm:"column:manual"`
	ErrorTags string    `gorm:"column:error_tags;type:text"`
	ElapsedMS int64     `gorm:"column:elapsed_ms"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (DecisionLog) TableName() string {
	return "decision_logs"
}

// JoinTags flattens an error tag list for the error_tags column.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// MetricsAggregation holds raw aggregates over session-level rows.
type MetricsAggregation struct {
	TotalCount       int64
	ValidCount       int64
	RetryCount       int64
	AverageScore     float64
	AverageElapsedMs float64
}

// DecisionRepository persists decision audit rows.
type DecisionRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewDecisionRepository creates a new repository instance.
func NewDecisionRepository(db *gorm.DB, logger *zap.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:             db,
		logger:         logger.Named("decision_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *DecisionRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&DecisionLog{})
}

// SaveLog persists one audit row. Conflicts on (session_id, side) are
// ignored so callers may safely retry.
func (r *DecisionRepository) SaveLog(ctx context.Context, log *DecisionLog) error {
	return r.executeWithRetry(ctx, "repository.save_log", log.SessionID, func() error {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(log).Error
	})
}

// AggregateMetrics summarizes completed sessions. Side rows are excluded so
// each session counts once.
func (r *DecisionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&DecisionLog{}).
			Where("side = ''").
			Select(
				"COUNT(*) AS total_count, "+
					"COALESCE(SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END), 0) AS valid_count, "+
					"COALESCE(SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END), 0) AS retry_count, "+
					"COALESCE(AVG(score), 0) AS average_score, "+
					"COALESCE(AVG(elapsed_ms), 0) AS average_elapsed_ms",
				string(scoring.DecisionValid), string(scoring.DecisionRetry),
			).
			Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *DecisionRepository) executeWithRetry(ctx context.Context, operation, sessionID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
