package vision

import (
	"image"
	"math"

	"github.com/yekkaplan/tcidverify-sub000/internal/imaging"
)

// Recoverable condition tags reported alongside frame results.
const (
	TagGeometryNotFound    = "geometry-not-found"
	TagRectificationFailed = "rectification-failed"
	TagRejectBlur          = "quality-gate-reject:blur"
	TagRejectBrightness    = "quality-gate-reject:brightness"
	TagRejectGlare         = "quality-gate-reject:glare"
)

const (
	// Laplacian variance scaling and the reference that maps to 1.0.
	blurScale     = 20.0
	blurReference = 100.0

	// Accepted mean luminance band with a comfort margin inside it.
	brightnessMin     = 60.0
	brightnessMax     = 200.0
	brightnessComfort = 40.0

	// Max acceptable fraction of near-saturated pixels.
	glareCeiling   = 0.30
	glareSaturated = 240

	// Every sub-score must clear this floor for the gate to pass.
	subScoreFloor = 0.5

	// Share of each card edge trimmed before measuring. Contour tracing
	// runs along the outside of the card outline, so the outermost band of
	// a rectified card is background bleed, not card surface.
	assessInset = 0.04

	// Downsample size for frame-to-frame stability comparison.
	stabilityWidth  = 200
	stabilityHeight = 126
)

// Metrics captures the quality gate's verdict on one frame. Sub-scores are
// normalized to [0,1] with 1 best; Mean is diagnostic only and never gates.
type Metrics struct {
	Blur       float64  `json:"blur"`
	Brightness float64  `json:"brightness"`
	Glare      float64  `json:"glare"`
	Mean       float64  `json:"mean"`
	Pass       bool     `json:"pass"`
	Failures   []string `json:"failures,omitempty"`
}

// Assess scores sharpness, exposure and glare of a rectified card after
// trimming the border bleed. The gate passes only when every sub-score
// individually clears the floor; recognition must not be attempted on
// frames that fail.
func Assess(gray *image.Gray) Metrics {
	inner := interior(gray)
	m := Metrics{
		Blur:       blurScore(inner),
		Brightness: brightnessScore(imaging.MeanBrightness(inner)),
		Glare:      glareScore(imaging.FractionAbove(inner, glareSaturated)),
	}
	m.Mean = (m.Blur + m.Brightness + m.Glare) / 3

	if m.Blur < subScoreFloor {
		m.Failures = append(m.Failures, TagRejectBlur)
	}
	if m.Brightness < subScoreFloor {
		m.Failures = append(m.Failures, TagRejectBrightness)
	}
	if m.Glare < subScoreFloor {
		m.Failures = append(m.Failures, TagRejectGlare)
	}
	m.Pass = len(m.Failures) == 0
	return m
}

// interior crops away the rectification border. Images too small to trim
// are assessed whole.
func interior(gray *image.Gray) *image.Gray {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	ix := int(float64(w) * assessInset)
	iy := int(float64(h) * assessInset)
	if w-2*ix < 3 || h-2*iy < 3 {
		return gray
	}
	return imaging.CropGray(gray, image.Rect(ix, iy, w-ix, h-iy))
}

func blurScore(gray *image.Gray) float64 {
	scaled := math.Min(blurReference, imaging.LaplacianVariance(gray)*blurScale)
	return scaled / blurReference
}

// brightnessScore is 1 inside the comfortable band, tapers to the floor at
// the band edges and proportionally below it outside.
func brightnessScore(mean float64) float64 {
	lo, hi := brightnessMin+brightnessComfort, brightnessMax-brightnessComfort
	switch {
	case mean >= lo && mean <= hi:
		return 1
	case mean >= brightnessMin && mean < lo:
		return subScoreFloor + subScoreFloor*(mean-brightnessMin)/brightnessComfort
	case mean > hi && mean <= brightnessMax:
		return subScoreFloor + subScoreFloor*(brightnessMax-mean)/brightnessComfort
	case mean < brightnessMin:
		return subScoreFloor * mean / brightnessMin
	default:
		return math.Max(0, subScoreFloor*(255-mean)/(255-brightnessMax))
	}
}

// glareScore drops from 1 at no glare to the floor at the ceiling and keeps
// falling proportionally past it.
func glareScore(fraction float64) float64 {
	score := 1 - subScoreFloor*fraction/glareCeiling
	return math.Max(0, score)
}

// Stability compares consecutive rectified frames after downsampling and
// maps mean absolute difference onto [0,1], with 1 meaning identical.
func Stability(current, previous *image.Gray) float64 {
	if current == nil || previous == nil {
		return 0
	}
	cur := imaging.ResizeGray(current, stabilityWidth, stabilityHeight)
	prev := imaging.ResizeGray(previous, stabilityWidth, stabilityHeight)
	return 1 - imaging.MeanAbsDiff(cur, prev)/255
}
