package vision

import (
	"image"

	"github.com/yekkaplan/tcidverify-sub000/internal/imaging"
)

// RegionKind names a card region of interest.
type RegionKind string

const (
	// RegionCard stands for the whole rectified card, used when the full
	// binarized face is sent for recognition rather than a single field.
	RegionCard RegionKind = "card"

	RegionTCKN      RegionKind = "tckn"
	RegionSurname   RegionKind = "surname"
	RegionName      RegionKind = "name"
	RegionBirthDate RegionKind = "birth_date"
	RegionSerial    RegionKind = "serial"
	RegionPhoto     RegionKind = "photo"
	RegionHologram  RegionKind = "hologram"
	RegionMRZ       RegionKind = "mrz"
	RegionMRZLine1  RegionKind = "mrz_line1"
	RegionMRZLine2  RegionKind = "mrz_line2"
	RegionMRZLine3  RegionKind = "mrz_line3"
	RegionChip      RegionKind = "chip"
	RegionBarcode   RegionKind = "barcode"
)

// Recognition character whitelists per region.
const (
	WhitelistDigits       = "0123456789"
	WhitelistTurkishAlpha = "ABCÇDEFGĞHIİJKLMNOÖPRSŞTUÜVYZ "
	WhitelistMRZ          = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789<"
	WhitelistAlphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	WhitelistDate         = "0123456789."
)

// RegionSpec places a region on the canonical 856x540 card. Coordinates are
// fractions of the card size. Binarize selects threshold preprocessing;
// photo-like regions keep their tones.
type RegionSpec struct {
	Kind      RegionKind
	X, Y      float64
	W, H      float64
	Binarize  bool
	Invert    bool
	Block     int
	C         float64
	Whitelist string
}

// FrontRegions returns the region layout of the card's front side.
func FrontRegions() []RegionSpec {
	return []RegionSpec{
		{Kind: RegionTCKN, X: 0.03, Y: 0.20, W: 0.28, H: 0.12, Binarize: true, Block: 15, C: 8, Whitelist: WhitelistDigits},
		{Kind: RegionSurname, X: 0.03, Y: 0.38, W: 0.55, H: 0.10, Binarize: true, Block: 21, C: 5, Whitelist: WhitelistTurkishAlpha},
		{Kind: RegionName, X: 0.03, Y: 0.48, W: 0.55, H: 0.10, Binarize: true, Block: 21, C: 5, Whitelist: WhitelistTurkishAlpha},
		{Kind: RegionBirthDate, X: 0.03, Y: 0.58, W: 0.40, H: 0.10, Binarize: true, Block: 17, C: 6, Whitelist: WhitelistDate},
		{Kind: RegionSerial, X: 0.03, Y: 0.68, W: 0.35, H: 0.10, Binarize: true, Block: 15, C: 7, Whitelist: WhitelistAlphanumeric},
		{Kind: RegionPhoto, X: 0.68, Y: 0.18, W: 0.28, H: 0.45},
		{Kind: RegionHologram, X: 0.65, Y: 0.70, W: 0.32, H: 0.25},
	}
}

// BackRegions returns the region layout of the card's back side. The full
// MRZ band sits in the bottom 28%.
func BackRegions() []RegionSpec {
	return []RegionSpec{
		{Kind: RegionMRZ, X: 0, Y: 0.72, W: 1.0, H: 0.28, Binarize: true, Block: 13, C: 10, Whitelist: WhitelistMRZ},
		{Kind: RegionMRZLine1, X: 0.02, Y: 0.73, W: 0.96, H: 0.08, Binarize: true, Block: 13, C: 10, Whitelist: WhitelistMRZ},
		{Kind: RegionMRZLine2, X: 0.02, Y: 0.81, W: 0.96, H: 0.08, Binarize: true, Block: 13, C: 10, Whitelist: WhitelistMRZ},
		{Kind: RegionMRZLine3, X: 0.02, Y: 0.89, W: 0.96, H: 0.08, Binarize: true, Block: 13, C: 10, Whitelist: WhitelistMRZ},
		{Kind: RegionChip, X: 0.02, Y: 0.05, W: 0.20, H: 0.25},
		{Kind: RegionBarcode, X: 0.88, Y: 0.05, W: 0.10, H: 0.60},
	}
}

// RegionByKind looks a region up in a layout.
func RegionByKind(layout []RegionSpec, kind RegionKind) (RegionSpec, bool) {
	for _, spec := range layout {
		if spec.Kind == kind {
			return spec, true
		}
	}
	return RegionSpec{}, false
}

func (s RegionSpec) isMRZ() bool {
	switch s.Kind {
	case RegionMRZ, RegionMRZLine1, RegionMRZLine2, RegionMRZLine3:
		return true
	}
	return false
}

// ExtractRegion crops a region from the rectified card and applies its
// preprocessing. MRZ regions get only a light blur and threshold so thin
// filler strokes survive; other text regions get the heavier local-contrast
// pipeline; untyped regions come back as plain grayscale crops.
func ExtractRegion(card *image.RGBA, spec RegionSpec) *image.Gray {
	cw, ch := card.Rect.Dx(), card.Rect.Dy()
	x := clampInt(int(spec.X*float64(cw)), 0, cw-1)
	y := clampInt(int(spec.Y*float64(ch)), 0, ch-1)
	w := clampInt(int(spec.W*float64(cw)), 1, cw-x)
	h := clampInt(int(spec.H*float64(ch)), 1, ch-y)
	crop := imaging.CropRGBA(card, image.Rect(x, y, x+w, y+h))
	gray := imaging.ToGray(crop)

	if !spec.Binarize {
		return gray
	}
	if spec.isMRZ() {
		blurred := imaging.GaussianBlur(gray, 3, 0)
		return imaging.AdaptiveThreshold(blurred, spec.Block, spec.C, false)
	}

	enhanced := imaging.CLAHE(gray, 3.0, 4, 4)
	if spec.Invert {
		enhanced = imaging.Invert(enhanced)
	}
	if spec.Block >= 3 {
		return imaging.AdaptiveThreshold(enhanced, spec.Block, spec.C, false)
	}
	return imaging.OtsuThreshold(enhanced, false)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
