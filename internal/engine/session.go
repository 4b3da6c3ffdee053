package engine

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/yekkaplan/tcidverify-sub000/internal/mrz"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
	"github.com/yekkaplan/tcidverify-sub000/internal/vision"
)

// State is the live feedback tag reported to the presentation layer.
type State string

const (
	StateSearching State = "searching"
	StateAligning  State = "aligning"
	StateVerifying State = "verifying"
	StateCaptured  State = "captured"
	StateError     State = "error"
)

// FrameEvent is emitted once per processed frame, in submission order, and
// once more when the session result is assembled.
type FrameEvent struct {
	SessionID  string            `json:"session_id"`
	Side       scoring.Side      `json:"side"`
	Seq        int               `json:"seq"`
	State      State             `json:"state"`
	Quality    *vision.Metrics   `json:"quality,omitempty"`
	Evidence   *scoring.Evidence `json:"evidence,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	SideResult *SideResult       `json:"side_result,omitempty"`
	Result     *Result           `json:"result,omitempty"`
}

// SideResult is the decision record for one captured side.
type SideResult struct {
	Side           scoring.Side     `json:"side"`
	Decision       scoring.Decision `json:"decision"`
	Score          int              `json:"score"`
	Mean           float64          `json:"mean"`
	ScoreStability float64          `json:"score_stability"`
	Frames         int              `json:"frames"`
	Manual         bool             `json:"manual,omitempty"`
	Best           scoring.Evidence `json:"best"`
	CapturedAt     time.Time        `json:"captured_at"`
}

// Result is the combined front+back session decision. It is immutable once
// built.
type Result struct {
	SessionID   string                       `json:"session_id"`
	Decision    scoring.Decision             `json:"decision"`
	Score       int                          `json:"score"`
	Sides       map[scoring.Side]*SideResult `json:"sides"`
	Fields      mrz.Fields                   `json:"fields"`
	Tags        []string                     `json:"tags,omitempty"`
	CompletedAt time.Time                    `json:"completed_at"`
	ElapsedMS   int64                        `json:"elapsed_ms"`
}

// CaptureResult reports a manual capture attempt against the relaxed
// side-specific thresholds.
type CaptureResult struct {
	Side      scoring.Side     `json:"side"`
	Accepted  bool             `json:"accepted"`
	Got       int              `json:"got"`
	Possible  int              `json:"possible"`
	Threshold int              `json:"threshold"`
	Evidence  scoring.Evidence `json:"evidence"`
	Tags      []string         `json:"tags,omitempty"`
}

// Snapshot is an immutable copy of session progress for status reads.
type Snapshot struct {
	SessionID string                        `json:"session_id"`
	Owner     string                        `json:"owner,omitempty"`
	State     State                         `json:"state"`
	CreatedAt time.Time                     `json:"created_at"`
	LastSeen  time.Time                     `json:"last_seen"`
	Sides     map[scoring.Side]SideSnapshot `json:"sides"`
	Completed *Result                       `json:"completed,omitempty"`
}

// SideSnapshot is the per-side slice of a Snapshot. ScoreStability tracks
// the spread of buffered totals; ImageStability tracks frame-to-frame pixel
// motion of the rectified card.
type SideSnapshot struct {
	State             State             `json:"state"`
	Processed         int               `json:"processed"`
	Dropped           int               `json:"dropped"`
	Buffered          int               `json:"buffered"`
	Mean              float64           `json:"mean"`
	ScoreStability    float64           `json:"score_stability"`
	ImageStability    float64           `json:"image_stability"`
	ConsistentQuality bool              `json:"consistent_quality"`
	Captured          bool              `json:"captured"`
	Manual            bool              `json:"manual,omitempty"`
	Quality           *vision.Metrics   `json:"quality,omitempty"`
	Last              *scoring.Evidence `json:"last,omitempty"`
	Best              *scoring.Evidence `json:"best,omitempty"`
}

// NotReadyError rejects completion while sides are still collecting frames.
type NotReadyError struct {
	Missing []scoring.Side
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("session not ready: sides %v not captured", e.Missing)
}

// Tags returns the validation-error vocabulary for this failure.
func (e *NotReadyError) Tags() []string {
	return []string{scoring.TagInsufficientFrames}
}

// session state is guarded by mu. Heavy per-frame work happens outside the
// lock; only the single in-flight worker mutates side buffers.
type session struct {
	id      string
	owner   string
	created time.Time
	window  int

	mu              sync.Mutex
	lastSeen        time.Time
	seq             int
	inFlight        bool
	cancelled       bool
	state           State
	completed       *Result
	sides           map[scoring.Side]*sideState
	knownNationalID string
	knownDocNumber  string
}

type sideState struct {
	buffer         *scoring.FrameBuffer
	state          State
	processed      int
	dropped        int
	captured       bool
	manual         bool
	capturedAt     time.Time
	lastQuality    *vision.Metrics
	lastGray       *image.Gray
	imageStability float64
}

func (s *session) side(side scoring.Side) *sideState {
	return s.sides[side]
}

func (s *session) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID: s.id,
		Owner:     s.owner,
		State:     s.state,
		CreatedAt: s.created,
		LastSeen:  s.lastSeen,
		Sides:     make(map[scoring.Side]SideSnapshot, len(s.sides)),
		Completed: s.completed,
	}
	for side, st := range s.sides {
		ss := SideSnapshot{
			State:             st.state,
			Processed:         st.processed,
			Dropped:           st.dropped,
			Buffered:          st.buffer.Count(),
			Mean:              st.buffer.Mean(),
			ScoreStability:    st.buffer.Stability(),
			ImageStability:    st.imageStability,
			ConsistentQuality: st.buffer.ConsistentQuality(s.window),
			Captured:          st.captured,
			Manual:            st.manual,
			Quality:           copyMetrics(st.lastQuality),
		}
		if last, ok := st.buffer.Last(); ok {
			ss.Last = copyEvidence(last)
		}
		if best, ok := st.buffer.Best(); ok {
			ss.Best = copyEvidence(best)
		}
		snap.Sides[side] = ss
	}
	return snap
}

func (s *session) sideResultLocked(side scoring.Side) *SideResult {
	st := s.side(side)
	best, ok := st.buffer.Best()
	if !ok {
		return nil
	}
	return &SideResult{
		Side:           side,
		Decision:       scoring.Decide(best.Total),
		Score:          best.Total,
		Mean:           st.buffer.Mean(),
		ScoreStability: st.buffer.Stability(),
		Frames:         st.buffer.Count(),
		Manual:         st.manual,
		Best:           *copyEvidence(best),
		CapturedAt:     st.capturedAt,
	}
}

func copyEvidence(e scoring.Evidence) *scoring.Evidence {
	out := e
	out.Rows = append([]string(nil), e.Rows...)
	out.Tags = append([]string(nil), e.Tags...)
	return &out
}

func copyMetrics(m *vision.Metrics) *vision.Metrics {
	if m == nil {
		return nil
	}
	out := *m
	out.Failures = append([]string(nil), m.Failures...)
	return &out
}
