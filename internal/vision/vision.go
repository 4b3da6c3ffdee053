// Package vision locates an ID-1 card in a camera frame and produces the
// canonical rectified views the recognition stages work on.
package vision

import (
	"image"
	"math"
	"sort"

	"github.com/yekkaplan/tcidverify-sub000/internal/imaging"
)

// Canonical rectified card size, ISO/IEC 7810 ID-1 at 10 px/mm.
const (
	TargetWidth  = 856
	TargetHeight = 540
)

// TargetAspect is the ID-1 landscape aspect ratio (85.60mm / 53.98mm).
const TargetAspect = 1.5858

const (
	cannyLow  = 30
	cannyHigh = 100
	// Candidate quads must cover at least this share of the frame.
	minAreaRatio = 0.05
	// Polygon simplification tolerance as a share of the perimeter.
	approxEpsRatio = 0.02
	// Accepted raw quad aspect range before orientation normalization.
	minQuadAspect = 0.2
	maxQuadAspect = 5.0
)

// Quad holds the card corners ordered top-left, top-right, bottom-right,
// bottom-left.
type Quad [4]imaging.Pointf

// Detection is the result of locating a card outline in a frame.
type Detection struct {
	Found      bool
	Corners    Quad
	Confidence float64
}

// DetectCard searches a grayscale frame for the largest convex quadrilateral
// and reports it with a confidence proportional to its frame coverage.
func DetectCard(gray *image.Gray) Detection {
	w, h := gray.Rect.Dx(), gray.Rect.Dy()
	if w == 0 || h == 0 {
		return Detection{}
	}

	blurred := imaging.GaussianBlur(gray, 5, 0)
	edges := imaging.Canny(blurred, cannyLow, cannyHigh)
	edges = imaging.Dilate(edges, 3, 2)

	frameArea := float64(w * h)
	minArea := frameArea * minAreaRatio

	var det Detection
	var bestArea float64
	for _, contour := range imaging.FindContours(edges) {
		area := imaging.ContourArea(contour)
		if area < minArea {
			continue
		}
		peri := imaging.ArcLength(contour, true)
		approx := imaging.ApproxPolyDP(contour, approxEpsRatio*peri)
		if len(approx) != 4 || !imaging.IsConvex(approx) {
			continue
		}
		quad := OrderCorners(approx)
		ratio := quad.AspectRatio()
		if ratio < minQuadAspect || ratio > maxQuadAspect {
			continue
		}
		if area > bestArea {
			bestArea = area
			det = Detection{
				Found:      true,
				Corners:    quad,
				Confidence: math.Min(1, area/(frameArea*0.5)),
			}
		}
	}
	return det
}

// OrderCorners arranges four polygon vertices as TL, TR, BR, BL.
func OrderCorners(pts imaging.Contour) Quad {
	var q Quad
	if len(pts) != 4 {
		return q
	}
	p := make([]imaging.Pointf, 4)
	for i, pt := range pts {
		p[i] = imaging.Pointf{X: float64(pt.X), Y: float64(pt.Y)}
	}
	sort.Slice(p, func(i, j int) bool { return p[i].Y < p[j].Y })
	if p[0].X > p[1].X {
		p[0], p[1] = p[1], p[0]
	}
	if p[2].X > p[3].X {
		p[2], p[3] = p[3], p[2]
	}
	q[0], q[1], q[2], q[3] = p[0], p[1], p[3], p[2]
	return q
}

func sideLen(a, b imaging.Pointf) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// AspectRatio returns average width over average height of the quad without
// orientation normalization.
func (q Quad) AspectRatio() float64 {
	avgW := (sideLen(q[0], q[1]) + sideLen(q[3], q[2])) / 2
	avgH := (sideLen(q[0], q[3]) + sideLen(q[1], q[2])) / 2
	if avgH < 1 {
		return 0
	}
	return avgW / avgH
}

// NormalizedAspect returns the aspect ratio folded into landscape form, so
// portrait and landscape captures compare against the same ideal.
func (q Quad) NormalizedAspect() float64 {
	r := q.AspectRatio()
	if r > 0 && r < 1 {
		return 1 / r
	}
	return r
}

// Rectify warps the detected quad onto the canonical 856x540 card. Portrait
// captures are warped to the swapped preset and rotated upright; the portrait
// flag reports that this happened.
func Rectify(frame *image.RGBA, q Quad) (card *image.RGBA, portrait bool, err error) {
	maxW := math.Max(sideLen(q[0], q[1]), sideLen(q[3], q[2]))
	maxH := math.Max(sideLen(q[0], q[3]), sideLen(q[1], q[2]))
	dstW, dstH := TargetWidth, TargetHeight
	if maxH > maxW {
		portrait = true
		dstW, dstH = TargetHeight, TargetWidth
	}

	dst := [4]imaging.Pointf{
		{X: 0, Y: 0},
		{X: float64(dstW - 1), Y: 0},
		{X: float64(dstW - 1), Y: float64(dstH - 1)},
		{X: 0, Y: float64(dstH - 1)},
	}
	h, err := imaging.ComputeHomography([4]imaging.Pointf(q), dst)
	if err != nil {
		return nil, portrait, err
	}
	card, err = imaging.WarpPerspective(frame, h, dstW, dstH)
	if err != nil {
		return nil, portrait, err
	}
	if portrait {
		card = imaging.Rotate90(card)
	}
	return card, portrait, nil
}

// BinarizeForOCR prepares a rectified card for full-card text recognition:
// contrast equalization, denoise, adaptive threshold, despeckle.
func BinarizeForOCR(card *image.RGBA) *image.Gray {
	gray := imaging.ToGray(card)
	enhanced := imaging.CLAHE(gray, 2.0, 8, 8)
	denoised := imaging.MedianFilter3(enhanced)
	binary := imaging.AdaptiveThreshold(denoised, 15, 10, false)
	return imaging.MedianFilter3(binary)
}
