package engine

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/yekkaplan/tcidverify-sub000/internal/ocr"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
	"github.com/yekkaplan/tcidverify-sub000/internal/vision"
)

// syntheticFrame draws a 640x480 scene: dark background with a card-shaped
// rectangle at the ID-1 aspect ratio whose surface comes from fill.
func syntheticFrame(fill func(x, y int) uint8) *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			v := uint8(40)
			if x >= 80 && x < 560 && y >= 88 && y < 391 {
				v = fill(x, y)
			}
			frame.SetRGBA(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return frame
}

// cardFrame carries texture so the sharpness gate passes.
func cardFrame() *image.RGBA {
	return syntheticFrame(func(x, y int) uint8 {
		if ((x/8)+(y/8))%2 == 0 {
			return 100
		}
		return 160
	})
}

// uniformCardFrame is geometrically fine but has no detail, so it fails the
// blur gate.
func uniformCardFrame() *image.RGBA {
	return syntheticFrame(func(int, int) uint8 { return 130 })
}

func emptyFrame() *image.RGBA {
	frame := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			frame.SetRGBA(x, y, color.RGBA{40, 40, 40, 255})
		}
	}
	return frame
}

var specimenRows = []string{
	"I<TURA23C456781<<<<<<<<<<<<<<<",
	"9706040M3307157TUR100000001462",
	"YILMAZ<<MEHMET<CAN<<<<<<<<<<<<",
}

func staticRecognizer() *ocr.Static {
	return &ocr.Static{Lines: map[vision.RegionKind][]string{
		vision.RegionCard:      {"TÜRKİYE CUMHURİYETİ", "KİMLİK KARTI"},
		vision.RegionTCKN:      {"10000000146"},
		vision.RegionSurname:   {"YILMAZ"},
		vision.RegionName:      {"MEHMET CAN"},
		vision.RegionBirthDate: {"01.01.1990"},
		vision.RegionSerial:    {"A23C45678"},
		vision.RegionMRZ:       specimenRows,
	}}
}

type countingRecognizer struct {
	inner ocr.Recognizer
	calls int32
}

func (c *countingRecognizer) Recognize(ctx context.Context, req ocr.Request) ([]string, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.inner.Recognize(ctx, req)
}

type gatedRecognizer struct {
	inner   ocr.Recognizer
	release chan struct{}
}

func (g *gatedRecognizer) Recognize(ctx context.Context, req ocr.Request) ([]string, error) {
	<-g.release
	return g.inner.Recognize(ctx, req)
}

func newTestEngine(t *testing.T, rec ocr.Recognizer) *Engine {
	t.Helper()
	e := New(Config{
		RequiredFrames: 3,
		SessionTTL:     time.Hour,
		SweepInterval:  time.Hour,
		Recognizer:     rec,
	})
	t.Cleanup(e.Close)
	return e
}

func nextEvent(t *testing.T, e *Engine) FrameEvent {
	t.Helper()
	select {
	case ev := <-e.Events():
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a frame event")
		return FrameEvent{}
	}
}

func submitAndWait(t *testing.T, e *Engine, id string, side scoring.Side, img image.Image) FrameEvent {
	t.Helper()
	_, accepted, err := e.Submit(id, side, img, time.Now())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !accepted {
		t.Fatal("frame unexpectedly dropped")
	}
	return nextEvent(t, e)
}

func hasTag(tags []string, want string) bool {
	for _, tag := range tags {
		if tag == want {
			return true
		}
	}
	return false
}

func TestSessionEndToEnd(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")

	// Back side first: MRZ checksums carry most of the weight.
	var lastSeq int
	for i := 0; i < 3; i++ {
		ev := submitAndWait(t, e, sess.SessionID, scoring.SideBack, cardFrame())
		if ev.Side != scoring.SideBack {
			t.Fatalf("event side = %s, want back", ev.Side)
		}
		if ev.Seq <= lastSeq {
			t.Fatalf("event seq %d not increasing past %d", ev.Seq, lastSeq)
		}
		lastSeq = ev.Seq
		if ev.Evidence == nil {
			t.Fatalf("back frame %d carried no evidence (tags %v)", i, ev.Tags)
		}
		if ev.Evidence.Total < 95 {
			t.Fatalf("back frame total = %d, want near the ceiling (breakdown %+v, tags %v)",
				ev.Evidence.Total, ev.Evidence.Breakdown, ev.Tags)
		}
		if i < 2 && ev.State != StateVerifying {
			t.Errorf("back frame %d state = %s, want verifying", i, ev.State)
		}
		if i == 2 {
			if ev.State != StateCaptured {
				t.Errorf("third back frame state = %s, want captured", ev.State)
			}
			if ev.SideResult == nil || ev.SideResult.Decision != scoring.DecisionValid {
				t.Errorf("back side result = %+v, want VALID", ev.SideResult)
			}
		}
	}

	// Front frames now blend the captured back contribution.
	for i := 0; i < 3; i++ {
		ev := submitAndWait(t, e, sess.SessionID, scoring.SideFront, cardFrame())
		if ev.Evidence == nil || ev.Evidence.Total < 95 {
			t.Fatalf("front frame %d evidence = %+v, want blended total near the ceiling", i, ev.Evidence)
		}
	}

	res, err := e.Complete(sess.SessionID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Decision != scoring.DecisionValid {
		t.Fatalf("decision = %s (score %d), want VALID", res.Decision, res.Score)
	}
	if res.Score < 95 {
		t.Errorf("score = %d, want near 100", res.Score)
	}
	f := res.Fields
	if f.Surname != "YILMAZ" || f.GivenNames != "MEHMET CAN" {
		t.Errorf("name fields = %q %q", f.Surname, f.GivenNames)
	}
	if f.NationalID != "10000000146" || f.DocumentNumber != "A23C45678" {
		t.Errorf("id fields = %q %q", f.NationalID, f.DocumentNumber)
	}
	if f.BirthDate != "970604" || f.ExpiryDate != "330715" {
		t.Errorf("date fields = %q %q", f.BirthDate, f.ExpiryDate)
	}

	completion := nextEvent(t, e)
	if completion.Result == nil || completion.Result.Decision != scoring.DecisionValid {
		t.Errorf("completion event = %+v, want session result", completion)
	}

	snap, err := e.Snapshot(sess.SessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Completed == nil || snap.Completed.Score != res.Score {
		t.Errorf("snapshot completed = %+v, want the session result", snap.Completed)
	}
	if s := snap.Sides[scoring.SideBack]; s.ImageStability < 0.95 {
		t.Errorf("image stability = %f, want near 1 for identical frames", s.ImageStability)
	}

	// Completing again returns the same immutable result.
	again, err := e.Complete(sess.SessionID)
	if err != nil || again != res {
		t.Errorf("second Complete = %v, %v, want the cached result", again, err)
	}
}

func TestFrameWithoutCard(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")

	ev := submitAndWait(t, e, sess.SessionID, scoring.SideFront, emptyFrame())
	if ev.State != StateSearching {
		t.Errorf("state = %s, want searching", ev.State)
	}
	if !hasTag(ev.Tags, vision.TagGeometryNotFound) {
		t.Errorf("tags = %v, want %s", ev.Tags, vision.TagGeometryNotFound)
	}
	if ev.Evidence != nil {
		t.Error("no geometry must mean no evidence")
	}

	snap, _ := e.Snapshot(sess.SessionID)
	if s := snap.Sides[scoring.SideFront]; s.Processed != 1 || s.Buffered != 0 {
		t.Errorf("side snapshot = %+v, want processed=1 buffered=0", s)
	}
}

func TestQualityGateBlocksOCR(t *testing.T) {
	counting := &countingRecognizer{inner: staticRecognizer()}
	e := newTestEngine(t, counting)
	sess := e.CreateSession("tester")

	ev := submitAndWait(t, e, sess.SessionID, scoring.SideBack, uniformCardFrame())
	if ev.State != StateAligning {
		t.Errorf("state = %s, want aligning", ev.State)
	}
	if !hasTag(ev.Tags, vision.TagRejectBlur) {
		t.Errorf("tags = %v, want %s", ev.Tags, vision.TagRejectBlur)
	}
	if ev.Evidence == nil || ev.Evidence.QualityPass {
		t.Fatalf("evidence = %+v, want quality-failed record", ev.Evidence)
	}
	if ev.Evidence.Breakdown.Checksum != 0 || ev.Evidence.Breakdown.Structure != 0 {
		t.Errorf("gated frame must not earn text scores: %+v", ev.Evidence.Breakdown)
	}
	if n := atomic.LoadInt32(&counting.calls); n != 0 {
		t.Errorf("recognizer called %d times below the quality gate, want 0", n)
	}
}

func TestKeepOnlyLatestBackpressure(t *testing.T) {
	gated := &gatedRecognizer{inner: staticRecognizer(), release: make(chan struct{})}
	e := newTestEngine(t, gated)
	sess := e.CreateSession("tester")

	_, accepted, err := e.Submit(sess.SessionID, scoring.SideBack, cardFrame(), time.Now())
	if err != nil || !accepted {
		t.Fatalf("first submit accepted=%v err=%v", accepted, err)
	}

	// Worker is parked inside recognition; this frame must be dropped
	// without blocking.
	snap, accepted, err := e.Submit(sess.SessionID, scoring.SideBack, cardFrame(), time.Now())
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if accepted {
		t.Fatal("second frame accepted while one was in flight")
	}
	if d := snap.Sides[scoring.SideBack].Dropped; d != 1 {
		t.Errorf("dropped = %d, want 1", d)
	}

	close(gated.release)
	first := nextEvent(t, e)
	if first.Evidence == nil {
		t.Fatalf("in-flight frame lost: %+v", first)
	}

	_, accepted, err = e.Submit(sess.SessionID, scoring.SideBack, cardFrame(), time.Now())
	if err != nil || !accepted {
		t.Fatalf("post-release submit accepted=%v err=%v", accepted, err)
	}
	nextEvent(t, e)

	snap, _ = e.Snapshot(sess.SessionID)
	side := snap.Sides[scoring.SideBack]
	if side.Processed != 2 || side.Dropped != 1 {
		t.Errorf("processed=%d dropped=%d, want 2 and 1", side.Processed, side.Dropped)
	}
}

func TestManualCaptureFront(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")

	submitAndWait(t, e, sess.SessionID, scoring.SideFront, cardFrame())

	res, err := e.Capture(sess.SessionID, scoring.SideFront)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if !res.Accepted {
		t.Fatalf("capture rejected: %+v", res)
	}
	if res.Possible != 50 || res.Got < scoring.ManualFrontThreshold {
		t.Errorf("got %d of %d, want at least %d of 50", res.Got, res.Possible, scoring.ManualFrontThreshold)
	}

	captureEvent := nextEvent(t, e)
	if captureEvent.SideResult == nil || !captureEvent.SideResult.Manual {
		t.Errorf("capture event = %+v, want manual side result", captureEvent)
	}

	_, err = e.Complete(sess.SessionID)
	var notReady *NotReadyError
	if !errors.As(err, &notReady) {
		t.Fatalf("Complete with missing back = %v, want NotReadyError", err)
	}
	if len(notReady.Missing) != 1 || notReady.Missing[0] != scoring.SideBack {
		t.Errorf("missing sides = %v, want [back]", notReady.Missing)
	}
	if !hasTag(notReady.Tags(), scoring.TagInsufficientFrames) {
		t.Errorf("tags = %v, want %s", notReady.Tags(), scoring.TagInsufficientFrames)
	}
}

func TestManualCaptureWithoutFrames(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")

	res, err := e.Capture(sess.SessionID, scoring.SideBack)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if res.Accepted {
		t.Error("capture with no processed frames must not be accepted")
	}
	if !hasTag(res.Tags, scoring.TagInsufficientFrames) {
		t.Errorf("tags = %v, want %s", res.Tags, scoring.TagInsufficientFrames)
	}
}

func TestManualCaptureCompletion(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")

	submitAndWait(t, e, sess.SessionID, scoring.SideBack, cardFrame())
	if res, err := e.Capture(sess.SessionID, scoring.SideBack); err != nil || !res.Accepted {
		t.Fatalf("back capture = %+v, %v", res, err)
	}
	nextEvent(t, e) // capture event

	submitAndWait(t, e, sess.SessionID, scoring.SideFront, cardFrame())
	if res, err := e.Capture(sess.SessionID, scoring.SideFront); err != nil || !res.Accepted {
		t.Fatalf("front capture = %+v, %v", res, err)
	}
	nextEvent(t, e)

	res, err := e.Complete(sess.SessionID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Decision != scoring.DecisionValid {
		t.Errorf("decision = %s (score %d), want VALID", res.Decision, res.Score)
	}
	if !res.Sides[scoring.SideBack].Manual || !res.Sides[scoring.SideFront].Manual {
		t.Error("side results should record the manual capture")
	}
	nextEvent(t, e)

	_, accepted, err := e.Submit(sess.SessionID, scoring.SideFront, cardFrame(), time.Now())
	if !errors.Is(err, ErrSessionCompleted) || accepted {
		t.Errorf("submit after completion = %v accepted=%v, want ErrSessionCompleted", err, accepted)
	}
}

func TestOCRUnavailable(t *testing.T) {
	e := newTestEngine(t, &ocr.Static{Err: errors.New("recognizer down")})
	sess := e.CreateSession("tester")

	ev := submitAndWait(t, e, sess.SessionID, scoring.SideBack, cardFrame())
	if ev.State != StateError {
		t.Errorf("state = %s, want error", ev.State)
	}
	if !hasTag(ev.Tags, ocr.TagUnavailable) {
		t.Errorf("tags = %v, want %s", ev.Tags, ocr.TagUnavailable)
	}
	if ev.Evidence == nil || !ev.Evidence.QualityPass {
		t.Fatalf("evidence = %+v, want quality-passed record without text scores", ev.Evidence)
	}
	if ev.Evidence.Breakdown.Checksum != 0 {
		t.Errorf("checksum score without OCR = %d, want 0", ev.Evidence.Breakdown.Checksum)
	}
}

func TestCancelDiscardsInFlightWork(t *testing.T) {
	gated := &gatedRecognizer{inner: staticRecognizer(), release: make(chan struct{})}
	e := newTestEngine(t, gated)
	sess := e.CreateSession("tester")

	if _, accepted, err := e.Submit(sess.SessionID, scoring.SideBack, cardFrame(), time.Now()); err != nil || !accepted {
		t.Fatalf("submit accepted=%v err=%v", accepted, err)
	}
	if err := e.Cancel(sess.SessionID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(gated.release)
	e.Close()

	if _, err := e.Snapshot(sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Snapshot after cancel = %v, want ErrSessionNotFound", err)
	}
	if n := len(e.events); n != 0 {
		t.Errorf("%d events emitted for cancelled work, want 0", n)
	}
	if err := e.Cancel(sess.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Cancel = %v, want ErrSessionNotFound", err)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	e := New(Config{
		RequiredFrames: 3,
		SessionTTL:     time.Minute,
		SweepInterval:  time.Hour,
		Recognizer:     staticRecognizer(),
	})
	t.Cleanup(e.Close)

	fresh := e.CreateSession("tester")
	if n := e.Sweep(time.Now()); n != 0 {
		t.Errorf("fresh session swept: %d", n)
	}
	if n := e.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Errorf("swept %d sessions, want 1", n)
	}
	if _, err := e.Snapshot(fresh.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Snapshot after sweep = %v, want ErrSessionNotFound", err)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	e := newTestEngine(t, staticRecognizer())
	sess := e.CreateSession("tester")
	submitAndWait(t, e, sess.SessionID, scoring.SideBack, cardFrame())

	snap, err := e.Snapshot(sess.SessionID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	best := snap.Sides[scoring.SideBack].Best
	if best == nil || len(best.Rows) != 3 {
		t.Fatalf("best evidence = %+v, want corrected rows", best)
	}
	best.Rows[0] = "TAMPERED"

	again, _ := e.Snapshot(sess.SessionID)
	if got := again.Sides[scoring.SideBack].Best.Rows[0]; got == "TAMPERED" {
		t.Error("snapshot rows alias engine state")
	}
}
