package engine

import (
	"context"
	"image"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yekkaplan/tcidverify-sub000/internal/imaging"
	"github.com/yekkaplan/tcidverify-sub000/internal/mrz"
	"github.com/yekkaplan/tcidverify-sub000/internal/ocr"
	"github.com/yekkaplan/tcidverify-sub000/internal/scoring"
	"github.com/yekkaplan/tcidverify-sub000/internal/tckn"
	"github.com/yekkaplan/tcidverify-sub000/internal/vision"
)

var (
	frontReadKinds = []vision.RegionKind{
		vision.RegionTCKN,
		vision.RegionSurname,
		vision.RegionName,
		vision.RegionBirthDate,
		vision.RegionSerial,
	}
	backReadKinds = []vision.RegionKind{vision.RegionMRZ}

	// Serial shape of the document number as printed on the front. Only an
	// exact match is trusted enough to overwrite the MRZ read.
	serialRe = regexp.MustCompile(`^[A-Z][0-9]{2}[A-Z][0-9]{5}$`)
)

// frameJob carries one accepted frame plus the session context captured at
// submission time.
type frameJob struct {
	side     scoring.Side
	seq      int
	img      image.Image
	at       time.Time
	knownID  string
	knownDoc string
	prevGray *image.Gray
	cross    *scoring.Breakdown
}

type frameOutcome struct {
	state          State
	quality        *vision.Metrics
	evidence       *scoring.Evidence
	tags           []string
	cardGray       *image.Gray
	imageStability float64
	nationalID     string
	docNumber      string
}

// process runs the heavy pipeline outside the session lock, then applies
// the outcome. The single in-flight worker is the only writer of side
// state.
func (e *Engine) process(s *session, job frameJob) {
	defer e.wg.Done()
	out := e.evaluate(s.id, job)

	s.mu.Lock()
	if s.cancelled {
		s.inFlight = false
		s.mu.Unlock()
		return
	}
	st := s.side(job.side)
	st.processed++
	if out.quality != nil {
		st.lastQuality = out.quality
	}
	if out.cardGray != nil {
		st.lastGray = out.cardGray
		st.imageStability = out.imageStability
	}
	if out.evidence != nil {
		st.buffer.Push(*out.evidence)
	}
	if out.nationalID != "" {
		s.knownNationalID = out.nationalID
	}
	if out.docNumber != "" {
		s.knownDocNumber = out.docNumber
	}

	var sideResult *SideResult
	if st.captured {
		st.state = StateCaptured
	} else {
		st.state = out.state
		if out.evidence != nil && st.buffer.HasEnoughFrames() {
			st.captured = true
			st.capturedAt = time.Now()
			st.state = StateCaptured
			sideResult = s.sideResultLocked(job.side)
		}
	}
	s.state = st.state
	s.inFlight = false
	event := FrameEvent{
		SessionID:  s.id,
		Side:       job.side,
		Seq:        job.seq,
		State:      st.state,
		Quality:    out.quality,
		Evidence:   out.evidence,
		Tags:       out.tags,
		SideResult: sideResult,
	}
	s.mu.Unlock()
	e.emit(event)
}

func (e *Engine) evaluate(sessionID string, job frameJob) frameOutcome {
	gray := imaging.ToGray(job.img)
	det := vision.DetectCard(gray)
	if !det.Found {
		return frameOutcome{state: StateSearching, tags: []string{vision.TagGeometryNotFound}}
	}

	card, _, err := vision.Rectify(imaging.ToRGBA(job.img), det.Corners)
	if err != nil {
		return frameOutcome{state: StateSearching, tags: []string{vision.TagRectificationFailed}}
	}
	cardGray := imaging.ToGray(card)

	out := frameOutcome{
		cardGray:       cardGray,
		imageStability: vision.Stability(cardGray, job.prevGray),
	}
	metrics := vision.Assess(cardGray)
	out.quality = &metrics

	aspect, tags := scoring.AspectScore(det.Corners.NormalizedAspect())

	// The gate exists to avoid spending a recognition pass on unusable
	// input: no OCR below it.
	if !metrics.Pass {
		tags = append(tags, metrics.Failures...)
		b := scoring.Breakdown{Aspect: aspect}
		out.state = StateAligning
		out.tags = tags
		out.evidence = &scoring.Evidence{
			Total:     b.Total(),
			Breakdown: b,
			Timestamp: job.at,
			Tags:      tags,
		}
		return out
	}

	lines, err := e.readRegions(sessionID, job.side, card)
	if err != nil {
		tags = append(tags, ocr.TagUnavailable)
		b := scoring.Breakdown{Aspect: aspect}
		out.state = StateError
		out.tags = tags
		out.evidence = &scoring.Evidence{
			Total:       b.Total(),
			Breakdown:   b,
			Timestamp:   job.at,
			QualityPass: true,
			Tags:        tags,
		}
		return out
	}

	if job.side == scoring.SideBack {
		e.scoreBack(&out, job, lines, aspect, tags)
	} else {
		e.scoreFront(&out, job, lines, aspect, tags)
	}
	out.state = StateVerifying
	return out
}

func (e *Engine) scoreFront(out *frameOutcome, job frameJob, lines []string, aspect int, tags []string) {
	fr := scoring.FrontScore(lines)
	tags = append(tags, fr.Tags...)

	b := scoring.Breakdown{
		Aspect:     aspect,
		Front:      fr.Score,
		NationalID: scoring.NationalIDScore(fr.NationalID != ""),
	}
	if job.cross != nil {
		b = scoring.Merge(b, scoring.Breakdown{
			Structure:  job.cross.Structure,
			Checksum:   job.cross.Checksum,
			NationalID: job.cross.NationalID,
		})
	}
	out.nationalID = fr.NationalID
	out.docNumber = findSerial(lines)
	out.tags = tags
	out.evidence = &scoring.Evidence{
		Total:       b.Total(),
		Breakdown:   b,
		Timestamp:   job.at,
		QualityPass: true,
		NationalID:  fr.NationalID,
		Tags:        tags,
	}
}

func (e *Engine) scoreBack(out *frameOutcome, job frameJob, lines []string, aspect int, tags []string) {
	rows := mrzRows(lines)
	structure := mrz.AssessStructure(rows)
	corrected := mrz.Correct(rows, job.knownID, job.knownDoc)
	validation := mrz.Validate(corrected[:])
	fields := mrz.Parse(corrected[:])

	var nationalID string
	if tckn.Validate(fields.NationalID) {
		nationalID = fields.NationalID
	} else if ids := tckn.ExtractCandidates(fillersToSpaces(corrected[:])); len(ids) > 0 {
		// Some card series print the national id in row 1 as well.
		nationalID = ids[0]
	}

	tags = append(tags, structure.Tags...)
	tags = append(tags, validation.Tags...)
	if fields.NationalID != "" && nationalID == "" {
		tags = append(tags, tckn.TagAlgorithmFailed)
	}

	b := scoring.Breakdown{
		Aspect:     aspect,
		Structure:  scoring.StructureScore(structure),
		Checksum:   scoring.ChecksumScore(validation),
		NationalID: scoring.NationalIDScore(nationalID != ""),
	}
	if job.cross != nil {
		b = scoring.Merge(b, scoring.Breakdown{
			Front:      job.cross.Front,
			NationalID: job.cross.NationalID,
		})
	}
	out.tags = tags
	out.evidence = &scoring.Evidence{
		Total:       b.Total(),
		Breakdown:   b,
		Timestamp:   job.at,
		QualityPass: true,
		Rows:        corrected[:],
		Fields:      fields,
		NationalID:  nationalID,
		Tags:        tags,
	}
}

// readRegions feeds the side's text regions to the recognizer. The front
// additionally reads the whole binarized card so header text like the
// issuing-state title reaches the plausibility heuristics.
func (e *Engine) readRegions(sessionID string, side scoring.Side, card *image.RGBA) ([]string, error) {
	layout := vision.FrontRegions()
	kinds := frontReadKinds
	var lines []string

	if side == scoring.SideBack {
		layout = vision.BackRegions()
		kinds = backReadKinds
	} else {
		got, err := e.recognize(sessionID, vision.RegionCard, "", vision.BinarizeForOCR(card))
		if err != nil {
			return nil, err
		}
		lines = append(lines, got...)
	}

	for _, kind := range kinds {
		spec, ok := vision.RegionByKind(layout, kind)
		if !ok {
			continue
		}
		got, err := e.recognize(sessionID, kind, spec.Whitelist, vision.ExtractRegion(card, spec))
		if err != nil {
			return nil, err
		}
		lines = append(lines, got...)
	}
	return lines, nil
}

func (e *Engine) recognize(sessionID string, kind vision.RegionKind, whitelist string, crop *image.Gray) ([]string, error) {
	lines, err := e.rec.Recognize(context.Background(), ocr.Request{
		SessionID: sessionID,
		Region:    kind,
		Whitelist: whitelist,
		Image:     crop,
	})
	if err != nil {
		e.logger.Warn("region recognition failed",
			zap.String("session_id", sessionID),
			zap.String("region", string(kind)),
			zap.Error(err))
		return nil, err
	}
	return lines, nil
}

// mrzRows pulls candidate rows out of recognized lines: spaces stripped,
// fragments shorter than a third of a row discarded, and only the last
// three kept since the zone sits at the card bottom.
func mrzRows(lines []string) []string {
	var rows []string
	for _, line := range lines {
		clean := strings.Join(strings.Fields(line), "")
		if len(clean) >= mrz.RowLength/3 {
			rows = append(rows, clean)
		}
	}
	if len(rows) > mrz.RowCount {
		rows = rows[len(rows)-mrz.RowCount:]
	}
	return rows
}

func findSerial(lines []string) string {
	for _, line := range lines {
		candidate := strings.ToUpper(strings.Join(strings.Fields(line), ""))
		if serialRe.MatchString(candidate) {
			return candidate
		}
	}
	return ""
}

func fillersToSpaces(rows []string) string {
	return strings.ReplaceAll(strings.Join(rows, "\n"), string(rune(mrz.Filler)), " ")
}
