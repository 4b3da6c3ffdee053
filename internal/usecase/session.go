package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/yekkaplan/tcidverify-sub000/internal/engine"
	"github.com/yekkaplan/tcidverify-sub000/internal/logging"
	"github.com/yekkaplan/tcidverify-sub000/internal/repository"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
)

// ErrNotOwner rejects access to a session created by another subject.
var ErrNotOwner = errors.New("session owned by another subject")

// DecisionRepository defines the persistence operations needed by the service.
type DecisionRepository interface {
	SaveLog(ctx context.Context, log *repository.DecisionLog) error
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// SessionService orchestrates the verification engine, the Redis snapshot
// cache, and the decision audit log. Extracted identity fields stay in
// memory and in the short-lived cache; only scores, decisions, and error
// tags reach durable storage.
type SessionService struct {
	engine         *engine.Engine
	repo           DecisionRepository
	cache          Cache
	logger         *zap.Logger
	snapshotTTL    time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewSessionService constructs a new service instance.
func NewSessionService(eng *engine.Engine, repo DecisionRepository, cache Cache, snapshotTTL time.Duration, logger *zap.Logger) *SessionService {
	if snapshotTTL <= 0 {
		snapshotTTL = 5 * time.Minute
	}
	return &SessionService{
		engine:         eng,
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("session_service"),
		snapshotTTL:    snapshotTTL,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// Journal consumes engine events and persists side-capture decisions. The
// completion row is written synchronously by Complete, so completion events
// pass through untouched. Run once, in its own goroutine; returns when ctx
// is cancelled.
func (s *SessionService) Journal(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.engine.Events():
			s.recordEvent(ctx, ev)
		}
	}
}

func (s *SessionService) recordEvent(ctx context.Context, ev engine.FrameEvent) {
	if ev.Result != nil || ev.SideResult == nil {
		return
	}
	sr := ev.SideResult
	row := &repository.DecisionLog{
		SessionID: ev.SessionID,
		Side:      string(sr.Side),
		Decision:  string(sr.Decision),
		Score:     sr.Score,
		Manual:    sr.Manual,
		ErrorTags: repository.JoinTags(sr.Best.Tags),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveLog(ctx, row); err != nil {
		logging.WithSession(s.logger, ev.SessionID, string(sr.Side)).
			Warn("failed to persist side decision", zap.Error(err))
	}
}

// Create opens a capture session owned by the authenticated subject.
func (s *SessionService) Create(ctx context.Context, owner string) (engine.Snapshot, error) {
	snap := s.engine.CreateSession(owner)
	s.cacheSnapshot(ctx, snap)
	return snap, nil
}

// SubmitFrame hands a decoded frame to the engine worker and returns the
// post-enqueue snapshot. accepted is false when the frame was dropped under
// the keep-only-latest policy.
func (s *SessionService) SubmitFrame(ctx context.Context, subject, sessionID string, side scoring.Side, frame image.Image) (engine.Snapshot, bool, error) {
	if err := s.authorize(sessionID, subject); err != nil {
		return engine.Snapshot{}, false, err
	}
	snap, accepted, err := s.engine.Submit(sessionID, side, frame, time.Now().UTC())
	if err != nil {
		return snap, accepted, err
	}
	s.cacheSnapshot(ctx, snap)
	return snap, accepted, nil
}

// Snapshot returns the live session status. Sessions already evicted from
// the engine remain readable from the cache until the TTL runs out.
func (s *SessionService) Snapshot(ctx context.Context, subject, sessionID string) (engine.Snapshot, error) {
	snap, err := s.engine.Snapshot(sessionID)
	if err == nil {
		if snap.Owner != subject {
			return engine.Snapshot{}, logging.NewOperationError("usecase.snapshot", sessionID, ErrNotOwner)
		}
		return snap, nil
	}
	if !errors.Is(err, engine.ErrSessionNotFound) {
		return engine.Snapshot{}, err
	}

	cached, cacheErr := s.withRedisGet(ctx, sessionID, "cache.get.snapshot", snapshotKey(sessionID))
	if cacheErr != nil {
		if !errors.Is(cacheErr, redis.Nil) {
			logging.WithSession(s.logger, sessionID, "").Warn("failed to read snapshot cache", zap.Error(cacheErr))
		}
		return engine.Snapshot{}, err
	}
	var stale engine.Snapshot
	if decodeErr := json.Unmarshal([]byte(cached), &stale); decodeErr != nil {
		logging.WithSession(s.logger, sessionID, "").Warn("failed to decode cached snapshot", zap.Error(decodeErr))
		return engine.Snapshot{}, err
	}
	if stale.Owner != subject {
		return engine.Snapshot{}, logging.NewOperationError("usecase.snapshot", sessionID, ErrNotOwner)
	}
	return stale, nil
}

// Capture evaluates the most recent processed frame of one side against the
// relaxed manual thresholds.
func (s *SessionService) Capture(ctx context.Context, subject, sessionID string, side scoring.Side) (engine.CaptureResult, error) {
	if err := s.authorize(sessionID, subject); err != nil {
		return engine.CaptureResult{}, err
	}
	res, err := s.engine.Capture(sessionID, side)
	if err != nil {
		return res, err
	}
	if snap, snapErr := s.engine.Snapshot(sessionID); snapErr == nil {
		s.cacheSnapshot(ctx, snap)
	}
	return res, nil
}

// Complete combines both captured sides into the final decision, audits it,
// and refreshes the cached snapshot so the result outlives engine eviction.
func (s *SessionService) Complete(ctx context.Context, subject, sessionID string) (*engine.Result, error) {
	if err := s.authorize(sessionID, subject); err != nil {
		return nil, err
	}
	res, err := s.engine.Complete(sessionID)
	if err != nil {
		return nil, err
	}

	row := &repository.DecisionLog{
		SessionID: res.SessionID,
		Decision:  string(res.Decision),
		Score:     res.Score,
		ErrorTags: repository.JoinTags(res.Tags),
		ElapsedMS: res.ElapsedMS,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.SaveLog(ctx, row); err != nil {
		wrapped := logging.NewOperationError("usecase.save_decision", sessionID, err)
		logging.WithSession(s.logger, sessionID, "").Error("failed to audit session decision", zap.Error(wrapped))
		return nil, wrapped
	}

	if snap, snapErr := s.engine.Snapshot(sessionID); snapErr == nil {
		s.cacheSnapshot(ctx, snap)
	}
	return res, nil
}

// Cancel discards the session and its cached snapshot.
func (s *SessionService) Cancel(ctx context.Context, subject, sessionID string) error {
	if err := s.authorize(sessionID, subject); err != nil {
		return err
	}
	if err := s.engine.Cancel(sessionID); err != nil {
		return err
	}
	if err := s.withRedisRetry(ctx, sessionID, "cache.del.snapshot", func() error {
		return s.cache.Del(ctx, snapshotKey(sessionID))
	}); err != nil {
		logging.WithSession(s.logger, sessionID, "").Warn("failed to drop cached snapshot", zap.Error(err))
	}
	return nil
}

func (s *SessionService) authorize(sessionID, subject string) error {
	owner, err := s.engine.Owner(sessionID)
	if err != nil {
		return err
	}
	if owner != subject {
		return logging.NewOperationError("usecase.authorize", sessionID, ErrNotOwner)
	}
	return nil
}

func snapshotKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// cacheSnapshot refreshes the cached status. Failures are logged and
// swallowed: the engine stays authoritative and the live flow must not
// stall on Redis.
func (s *SessionService) cacheSnapshot(ctx context.Context, snap engine.Snapshot) {
	serialized, err := json.Marshal(snap)
	if err != nil {
		logging.WithSession(s.logger, snap.SessionID, "").Warn("failed to serialize snapshot", zap.Error(err))
		return
	}
	if err := s.withRedisRetry(ctx, snap.SessionID, "cache.set.snapshot", func() error {
		return s.cache.Set(ctx, snapshotKey(snap.SessionID), string(serialized), s.snapshotTTL)
	}); err != nil {
		logging.WithSession(s.logger, snap.SessionID, "").Warn("failed to cache snapshot", zap.Error(err))
	}
}

func (s *SessionService) withRedisRetry(ctx context.Context, sessionID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, sessionID, err)
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, sessionID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, sessionID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if errors.Is(err, redis.Nil) {
			return err
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, sessionID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, sessionID, err)
}

func (s *SessionService) withRedisGet(ctx context.Context, sessionID, operation, cacheKey string) (string, error) {
	var result string
	err := s.withRedisRetry(ctx, sessionID, operation, func() error {
		value, err := s.cache.Get(ctx, cacheKey)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
