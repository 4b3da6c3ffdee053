// Package engine runs multi-frame verification sessions: it accepts frames
// under a keep-only-latest backpressure policy, pushes scored evidence into
// per-side buffers and decides when a side, and finally the session, is
// done.
package engine

import (
	"errors"
	"image"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yekkaplan/tcidverify-sub000/internal/mrz"
	"github.com/yekkaplan/tcidverify-sub000/internal/ocr"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionCompleted = errors.New("session already completed")
)

// eventBuffer bounds the observer channel. A slow consumer loses the oldest
// events, never the ordering of what it does see.
const eventBuffer = 64

// Config tunes one engine instance. Zero values fall back to defaults.
type Config struct {
	BufferCapacity    int
	RequiredFrames    int
	ConsistencyWindow int
	SessionTTL        time.Duration
	SweepInterval     time.Duration
	Recognizer        ocr.Recognizer
	Logger            *zap.Logger
}

// Engine owns every live capture session. All scoring state is in-memory;
// nothing extracted from a frame is persisted here.
type Engine struct {
	cfg    Config
	rec    ocr.Recognizer
	logger *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session

	events chan FrameEvent

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds an engine and starts its idle-session sweeper.
func New(cfg Config) *Engine {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 10 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.Recognizer == nil {
		cfg.Recognizer = &ocr.Static{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	e := &Engine{
		cfg:      cfg,
		rec:      cfg.Recognizer,
		logger:   cfg.Logger,
		sessions: make(map[string]*session),
		events:   make(chan FrameEvent, eventBuffer),
		stop:     make(chan struct{}),
	}
	e.wg.Add(1)
	go e.sweepLoop()
	return e
}

// Events exposes the observer channel: one event per processed frame in
// submission order, plus one completion event per session. The channel is
// never closed.
func (e *Engine) Events() <-chan FrameEvent {
	return e.events
}

// Close stops the sweeper and waits for in-flight frame workers.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
	e.wg.Wait()
}

// CreateSession registers a new capture session for an owner subject.
func (e *Engine) CreateSession(owner string) Snapshot {
	now := time.Now()
	s := &session{
		id:       uuid.NewString(),
		owner:    owner,
		created:  now,
		window:   e.cfg.ConsistencyWindow,
		lastSeen: now,
		state:    StateSearching,
		sides: map[scoring.Side]*sideState{
			scoring.SideFront: e.newSideState(),
			scoring.SideBack:  e.newSideState(),
		},
	}
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	e.logger.Info("session created", zap.String("session_id", s.id))
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (e *Engine) newSideState() *sideState {
	return &sideState{
		buffer: scoring.NewFrameBuffer(e.cfg.BufferCapacity, e.cfg.RequiredFrames),
		state:  StateSearching,
	}
}

func (e *Engine) get(id string) (*session, error) {
	e.mu.RLock()
	s, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Snapshot returns an immutable view of a session.
func (e *Engine) Snapshot(id string) (Snapshot, error) {
	s, err := e.get(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(), nil
}

// Owner reports the subject that created a session.
func (e *Engine) Owner(id string) (string, error) {
	s, err := e.get(id)
	if err != nil {
		return "", err
	}
	return s.owner, nil
}

// Submit hands one frame to the session's worker. While a frame is in
// flight newer arrivals are dropped, so the producer never blocks on
// processing. The returned snapshot reflects the post-enqueue state and the
// bool reports whether the frame was accepted.
func (e *Engine) Submit(id string, side scoring.Side, img image.Image, at time.Time) (Snapshot, bool, error) {
	s, err := e.get(id)
	if err != nil {
		return Snapshot{}, false, err
	}

	s.mu.Lock()
	if s.completed != nil {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, false, ErrSessionCompleted
	}
	s.lastSeen = time.Now()
	st := s.side(side)
	if s.inFlight {
		st.dropped++
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, false, nil
	}
	s.inFlight = true
	s.seq++
	job := frameJob{
		side:     side,
		seq:      s.seq,
		img:      img,
		at:       at,
		knownID:  s.knownNationalID,
		knownDoc: s.knownDocNumber,
		prevGray: st.lastGray,
	}
	if best, ok := s.side(side.Opposite()).buffer.Best(); ok {
		bd := best.Breakdown
		job.cross = &bd
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	e.wg.Add(1)
	go e.process(s, job)
	return snap, true, nil
}

// Capture forces evaluation of the most recently processed frame of one
// side against the relaxed manual thresholds, bypassing the multi-frame
// requirement.
func (e *Engine) Capture(id string, side scoring.Side) (CaptureResult, error) {
	s, err := e.get(id)
	if err != nil {
		return CaptureResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()

	st := s.side(side)
	threshold := scoring.ManualFrontThreshold
	if side == scoring.SideBack {
		threshold = scoring.ManualBackThreshold
	}

	last, ok := st.buffer.Last()
	if !ok {
		return CaptureResult{
			Side:      side,
			Threshold: threshold,
			Tags:      []string{scoring.TagInsufficientFrames},
		}, nil
	}

	got, possible := scoring.ManualScore(side, last.Breakdown)
	res := CaptureResult{
		Side:      side,
		Accepted:  scoring.ManualPass(side, last.Breakdown),
		Got:       got,
		Possible:  possible,
		Threshold: threshold,
		Evidence:  *copyEvidence(last),
	}
	if res.Accepted && !st.captured {
		st.captured = true
		st.manual = true
		st.capturedAt = time.Now()
		st.state = StateCaptured
		s.state = StateCaptured
		e.emit(FrameEvent{
			SessionID:  s.id,
			Side:       side,
			Seq:        s.seq,
			State:      StateCaptured,
			SideResult: s.sideResultLocked(side),
		})
	}
	return res, nil
}

// Complete combines both captured sides into the final decision: the mean
// of the side best scores against the usual thresholds, identity fields
// parsed from the corrected back MRZ with front corroboration of the
// document number and national id.
func (e *Engine) Complete(id string) (*Result, error) {
	s, err := e.get(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = time.Now()

	if s.completed != nil {
		return s.completed, nil
	}

	var missing []scoring.Side
	for _, side := range []scoring.Side{scoring.SideFront, scoring.SideBack} {
		if !s.side(side).captured {
			missing = append(missing, side)
		}
	}
	if len(missing) > 0 {
		return nil, &NotReadyError{Missing: missing}
	}

	front := s.sideResultLocked(scoring.SideFront)
	back := s.sideResultLocked(scoring.SideBack)
	score := (front.Score + back.Score + 1) / 2

	corrected := mrz.Correct(back.Best.Rows, s.knownNationalID, s.knownDocNumber)
	fields := mrz.Parse(corrected[:])

	var tags []string
	tags = append(tags, front.Best.Tags...)
	tags = append(tags, back.Best.Tags...)

	now := time.Now()
	res := &Result{
		SessionID: s.id,
		Decision:  scoring.Decide(score),
		Score:     score,
		Sides: map[scoring.Side]*SideResult{
			scoring.SideFront: front,
			scoring.SideBack:  back,
		},
		Fields:      fields,
		Tags:        tags,
		CompletedAt: now,
		ElapsedMS:   now.Sub(s.created).Milliseconds(),
	}
	s.completed = res
	s.state = StateCaptured

	e.logger.Info("session completed",
		zap.String("session_id", s.id),
		zap.String("decision", string(res.Decision)),
		zap.Int("score", res.Score))
	e.emit(FrameEvent{
		SessionID: s.id,
		Seq:       s.seq,
		State:     StateCaptured,
		Result:    res,
	})
	return res, nil
}

// Cancel discards a session and any in-flight work.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	s, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	e.logger.Info("session cancelled", zap.String("session_id", id))
	return nil
}

// Sweep evicts sessions idle past the TTL and reports how many went.
func (e *Engine) Sweep(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, s := range e.sessions {
		s.mu.Lock()
		idle := !s.inFlight && now.Sub(s.lastSeen) > e.cfg.SessionTTL
		if idle {
			s.cancelled = true
		}
		s.mu.Unlock()
		if idle {
			delete(e.sessions, id)
			removed++
		}
	}
	return removed
}

func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if n := e.Sweep(time.Now()); n > 0 {
				e.logger.Info("idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

// emit never blocks: when the observer lags, the oldest buffered event is
// dropped to make room.
func (e *Engine) emit(ev FrameEvent) {
	for {
		select {
		case e.events <- ev:
			return
		default:
			select {
			case <-e.events:
			default:
			}
		}
	}
}
