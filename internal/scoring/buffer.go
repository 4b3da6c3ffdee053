package scoring

import (
	"time"

	"github.com/yekkaplan/tcidverify-sub000/internal/mrz"
)

// Buffer defaults. Capacity bounds the FIFO; required is the minimum number
// of buffered frames before a side may be considered final.
const (
	DefaultBufferCapacity    = 10
	DefaultRequiredFrames    = 3
	DefaultConsistencyWindow = 3
)

// stabilityReferenceVariance normalizes score variance into [0,1]. A spread
// of half the score range (stddev 50) maps to zero stability.
const stabilityReferenceVariance = 2500.0

// Evidence is the scored outcome of one processed frame.
type Evidence struct {
	Total       int        `json:"total"`
	Breakdown   Breakdown  `json:"breakdown"`
	Timestamp   time.Time  `json:"timestamp"`
	QualityPass bool       `json:"quality_pass"`
	Rows        []string   `json:"rows,omitempty"`
	Fields      mrz.Fields `json:"fields"`
	NationalID  string     `json:"national_id,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}

// FrameBuffer is a bounded FIFO of Evidence for one document side. It is
// not safe for concurrent use: a single worker writes it and readers go
// through snapshot copies taken under the engine's lock.
type FrameBuffer struct {
	capacity int
	required int
	records  []Evidence
}

// NewFrameBuffer builds a buffer with the given capacity and minimum frame
// count, substituting defaults for non-positive values.
func NewFrameBuffer(capacity, required int) *FrameBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	if required <= 0 {
		required = DefaultRequiredFrames
	}
	return &FrameBuffer{
		capacity: capacity,
		required: required,
		records:  make([]Evidence, 0, capacity),
	}
}

// Push appends evidence, evicting the oldest record at capacity.
func (fb *FrameBuffer) Push(e Evidence) {
	if len(fb.records) == fb.capacity {
		copy(fb.records, fb.records[1:])
		fb.records = fb.records[:fb.capacity-1]
	}
	fb.records = append(fb.records, e)
}

// Count reports how many records are buffered.
func (fb *FrameBuffer) Count() int {
	return len(fb.records)
}

// Mean is the average total score over the buffer, 0 when empty.
func (fb *FrameBuffer) Mean() float64 {
	if len(fb.records) == 0 {
		return 0
	}
	sum := 0
	for _, e := range fb.records {
		sum += e.Total
	}
	return float64(sum) / float64(len(fb.records))
}

// Best returns the highest-scoring record. Ties keep the earliest.
func (fb *FrameBuffer) Best() (Evidence, bool) {
	if len(fb.records) == 0 {
		return Evidence{}, false
	}
	best := fb.records[0]
	for _, e := range fb.records[1:] {
		if e.Total > best.Total {
			best = e
		}
	}
	return best, true
}

// Last returns the most recently pushed record.
func (fb *FrameBuffer) Last() (Evidence, bool) {
	if len(fb.records) == 0 {
		return Evidence{}, false
	}
	return fb.records[len(fb.records)-1], true
}

// Stability maps the variance of buffered totals into [0,1]; identical
// scores give 1, a spread at the reference variance or beyond gives 0.
func (fb *FrameBuffer) Stability() float64 {
	n := len(fb.records)
	if n < 2 {
		return 1
	}
	mean := fb.Mean()
	var variance float64
	for _, e := range fb.records {
		d := float64(e.Total) - mean
		variance += d * d
	}
	variance /= float64(n)
	s := 1 - variance/stabilityReferenceVariance
	if s < 0 {
		return 0
	}
	return s
}

// ConsistentQuality reports whether the last k records all passed the
// quality gate. Fewer than k buffered records never count as consistent.
// Non-positive k uses the default window.
func (fb *FrameBuffer) ConsistentQuality(k int) bool {
	if k <= 0 {
		k = DefaultConsistencyWindow
	}
	if len(fb.records) < k {
		return false
	}
	for _, e := range fb.records[len(fb.records)-k:] {
		if !e.QualityPass {
			return false
		}
	}
	return true
}

// HasEnoughFrames reports whether the side can be considered final: at
// least the required number of frames buffered and the best record clear of
// the retry threshold. A single frame never commits a side.
func (fb *FrameBuffer) HasEnoughFrames() bool {
	if len(fb.records) < fb.required {
		return false
	}
	best, _ := fb.Best()
	return best.Total >= RetryThreshold
}

// Records returns a copy of the buffered evidence, oldest first.
func (fb *FrameBuffer) Records() []Evidence {
	out := make([]Evidence, len(fb.records))
	copy(out, fb.records)
	return out
}
