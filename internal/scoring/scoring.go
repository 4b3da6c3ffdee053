// Package scoring turns per-frame signals into bounded category scores and
// VALID/RETRY/INVALID decisions, and buffers evidence across frames per
// document side.
package scoring

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/yekkaplan/tcidverify-sub000/internal/mrz"
	"github.com/yekkaplan/tcidverify-sub000/internal/tckn"
	"github.com/yekkaplan/tcidverify-sub000/internal/vision"
)

// Category point budgets. The grand total 130 is clipped to MaxTotal.
const (
	AspectBudget     = 20
	FrontBudget      = 20
	StructureBudget  = 20
	ChecksumBudget   = mrz.ChecksumBudget
	NationalIDBudget = 10
	MaxTotal         = 100
)

// Decision thresholds over the clipped total.
const (
	ValidThreshold = 80
	RetryThreshold = 50
)

const (
	TagAspectOutOfTolerance = "aspect-ratio-out-of-tolerance"
	TagInsufficientFrames   = "insufficient-consistent-frames"
)

// Decision is the tri-state outcome for a side or a whole session.
type Decision string

const (
	DecisionValid   Decision = "VALID"
	DecisionRetry   Decision = "RETRY"
	DecisionInvalid Decision = "INVALID"
)

// Decide maps a clipped total score to a decision.
func Decide(total int) Decision {
	switch {
	case total >= ValidThreshold:
		return DecisionValid
	case total >= RetryThreshold:
		return DecisionRetry
	default:
		return DecisionInvalid
	}
}

// Side identifies which face of the document a frame shows.
type Side string

const (
	SideFront Side = "front"
	SideBack  Side = "back"
)

// ParseSide normalizes a query-string side value.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToLower(strings.TrimSpace(s))) {
	case SideFront:
		return SideFront, true
	case SideBack:
		return SideBack, true
	}
	return "", false
}

// Opposite returns the other document side.
func (s Side) Opposite() Side {
	if s == SideBack {
		return SideFront
	}
	return SideBack
}

// Breakdown carries the per-category scores of one frame.
type Breakdown struct {
	Aspect     int `json:"aspect"`
	Front      int `json:"front"`
	Structure  int `json:"mrz_structure"`
	Checksum   int `json:"mrz_checksum"`
	NationalID int `json:"national_id"`
}

// Total sums the categories and clips to MaxTotal.
func (b Breakdown) Total() int {
	t := b.Aspect + b.Front + b.Structure + b.Checksum + b.NationalID
	if t > MaxTotal {
		return MaxTotal
	}
	if t < 0 {
		return 0
	}
	return t
}

// Merge fuses two breakdowns, keeping the stronger signal per category. A
// single side can only fill its own categories, so frame totals blend in
// the opposite side's best-known contribution through this.
func Merge(a, b Breakdown) Breakdown {
	return Breakdown{
		Aspect:     maxInt(a.Aspect, b.Aspect),
		Front:      maxInt(a.Front, b.Front),
		Structure:  maxInt(a.Structure, b.Structure),
		Checksum:   maxInt(a.Checksum, b.Checksum),
		NationalID: maxInt(a.NationalID, b.NationalID),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// AspectScore bands the measured card aspect ratio against the ID-1
// standard: full marks within 1% deviation, stepped down at 2%, 3% and 4%,
// zero beyond. Out-of-tolerance ratios carry a tag.
func AspectScore(ratio float64) (int, []string) {
	if ratio <= 0 {
		return 0, []string{TagAspectOutOfTolerance}
	}
	dev := ratio/vision.TargetAspect - 1
	if dev < 0 {
		dev = -dev
	}
	switch {
	case dev <= 0.01:
		return AspectBudget, nil
	case dev <= 0.02:
		return 15, nil
	case dev <= 0.03:
		return 10, nil
	case dev <= 0.04:
		return 5, nil
	}
	return 0, []string{TagAspectOutOfTolerance}
}

// Front-side sub-point split. National-id presence is a hard gate for its
// own sub-points only; the text heuristics accrue independently.
const (
	frontLocalePoints    = 4
	frontNationalPoints  = 6
	frontUppercasePoints = 4
	frontNamePoints      = 3
	frontDatePoints      = 3
)

var (
	dateRe       = regexp.MustCompile(`[0-9]{2}[./-][0-9]{2}[./-][0-9]{4}`)
	digitShapeRe = regexp.MustCompile(`[0-9]{11}`)

	localeMarkers = []string{"TURKIYE", "CUMHURIYET", "KIMLIK", "IDENTITY CARD", "REPUBLIC"}
)

// FrontResult is the structural-plausibility assessment of recognized
// front-side text.
type FrontResult struct {
	Score          int      `json:"score"`
	LocaleMarker   bool     `json:"locale_marker"`
	NationalID     string   `json:"national_id,omitempty"`
	UppercaseRatio float64  `json:"uppercase_ratio"`
	NameLines      int      `json:"name_lines"`
	DateFound      bool     `json:"date_found"`
	Tags           []string `json:"tags,omitempty"`
}

// FrontScore rates recognized front-side text lines for structural
// plausibility: locale-marker text, a checksum-valid national id, the
// uppercase-letter ratio, name-like lines and date-like patterns. OCR
// correctness is not assumed anywhere.
func FrontScore(lines []string) FrontResult {
	var r FrontResult
	joined := strings.Join(lines, "\n")
	folded := foldTurkish(joined)

	for _, m := range localeMarkers {
		if strings.Contains(folded, m) {
			r.LocaleMarker = true
			r.Score += frontLocalePoints
			break
		}
	}

	if ids := tckn.ExtractCandidates(joined); len(ids) > 0 {
		r.NationalID = ids[0]
		r.Score += frontNationalPoints
	} else if digitShapeRe.MatchString(stripSeparators(joined)) {
		r.Tags = append(r.Tags, tckn.TagAlgorithmFailed)
	}

	r.UppercaseRatio = uppercaseRatio(joined)
	switch {
	case r.UppercaseRatio >= 0.60:
		r.Score += frontUppercasePoints
	case r.UppercaseRatio >= 0.40:
		r.Score += frontUppercasePoints / 2
	}

	for _, line := range lines {
		if nameLike(line) {
			r.NameLines++
		}
	}
	switch {
	case r.NameLines >= 2:
		r.Score += frontNamePoints
	case r.NameLines == 1:
		r.Score += 1
	}

	if dateRe.MatchString(joined) {
		r.DateFound = true
		r.Score += frontDatePoints
	}
	return r
}

// StructureScore grants an equal share of the structure budget per passing
// MRZ layout sub-check.
func StructureScore(st mrz.Structure) int {
	per := StructureBudget / 4
	score := 0
	if st.RowCountOK {
		score += per
	}
	if st.RowLengthOK {
		score += per
	}
	if st.CharsetOK {
		score += per
	}
	if st.FillerRatioOK {
		score += per
	}
	return score
}

// ChecksumScore is the field-checksum total from MRZ validation.
func ChecksumScore(v mrz.ValidationScore) int {
	return v.Total
}

// NationalIDScore is binary over the whole budget.
func NationalIDScore(valid bool) int {
	if valid {
		return NationalIDBudget
	}
	return 0
}

// Manual-capture thresholds: a single frame may be accepted on side-specific
// sub-scores alone, since the opposite side's contribution is not yet
// available. Front counts aspect + front text + national id out of 50; back
// counts MRZ structure + checksums out of 80.
const (
	ManualFrontThreshold = 18
	ManualBackThreshold  = 20
)

// ManualScore sums the sub-scores relevant to a manual capture of one side
// and reports the reachable maximum.
func ManualScore(side Side, b Breakdown) (got, possible int) {
	if side == SideBack {
		return b.Structure + b.Checksum, StructureBudget + ChecksumBudget
	}
	return b.Aspect + b.Front + b.NationalID, AspectBudget + FrontBudget + NationalIDBudget
}

// ManualPass applies the relaxed side threshold to a single frame.
func ManualPass(side Side, b Breakdown) bool {
	got, _ := ManualScore(side, b)
	if side == SideBack {
		return got >= ManualBackThreshold
	}
	return got >= ManualFrontThreshold
}

var turkishFold = strings.NewReplacer(
	"Ç", "C", "ç", "c",
	"Ğ", "G", "ğ", "g",
	"İ", "I", "ı", "i",
	"Ö", "O", "ö", "o",
	"Ş", "S", "ş", "s",
	"Ü", "U", "ü", "u",
)

func foldTurkish(s string) string {
	return strings.ToUpper(turkishFold.Replace(s))
}

func stripSeparators(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '.', '-', ':', '/', ',':
			return -1
		}
		return r
	}, s)
}

func uppercaseRatio(s string) float64 {
	var letters, upper int
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// nameLike accepts lines of mostly-uppercase letters and spaces, the way
// printed surname and given-name fields read.
func nameLike(line string) bool {
	var letters, upper int
	for _, r := range strings.TrimSpace(line) {
		switch {
		case unicode.IsDigit(r):
			return false
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		case r == ' ':
		default:
			return false
		}
	}
	return letters >= 4 && float64(upper) >= 0.8*float64(letters)
}
