// Package imaging provides the grayscale pixel operations the verification
// pipeline is built from. All functions treat images as having a zero origin;
// the constructors here always return images whose bounds start at (0,0).
package imaging

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// ToGray converts an arbitrary image to 8-bit grayscale using the usual
// luma weights.
func ToGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			r, g, bl, _ := src.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum := (299*r + 587*g + 114*bl) / 1000
			out.SetGray(x, y, color.Gray{Y: uint8(lum >> 8)})
		}
	}
	return out
}

// ToRGBA converts an arbitrary image to RGBA with a zero origin.
func ToRGBA(src image.Image) *image.RGBA {
	if r, ok := src.(*image.RGBA); ok && r.Rect.Min == (image.Point{}) {
		return r
	}
	b := src.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(out, out.Bounds(), src, b.Min, xdraw.Src)
	return out
}

// Resize scales src to width x height using Catmull-Rom resampling.
func Resize(src image.Image, width, height int) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return out
}

// ResizeGray scales a grayscale image to width x height using Catmull-Rom
// resampling.
func ResizeGray(src *image.Gray, width, height int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(out, out.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return out
}

// CropGray returns a copy of the given region, clamped to the image bounds.
func CropGray(src *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(src.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		srcOff := (r.Min.Y+y-src.Rect.Min.Y)*src.Stride + (r.Min.X - src.Rect.Min.X)
		copy(out.Pix[y*out.Stride:y*out.Stride+r.Dx()], src.Pix[srcOff:srcOff+r.Dx()])
	}
	return out
}

// CropRGBA returns a copy of the given region, clamped to the image bounds.
func CropRGBA(src *image.RGBA, r image.Rectangle) *image.RGBA {
	r = r.Intersect(src.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	xdraw.Draw(out, out.Bounds(), src, r.Min, xdraw.Src)
	return out
}

// MeanBrightness returns the average pixel intensity in [0,255].
func MeanBrightness(g *image.Gray) float64 {
	if len(g.Pix) == 0 {
		return 0
	}
	w, h := g.Rect.Dx(), g.Rect.Dy()
	var sum uint64
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, p := range row {
			sum += uint64(p)
		}
	}
	return float64(sum) / float64(w*h)
}

// FractionAbove returns the fraction of pixels strictly brighter than the
// threshold. Used for specular highlight detection.
func FractionAbove(g *image.Gray, threshold uint8) float64 {
	w, h := g.Rect.Dx(), g.Rect.Dy()
	if w == 0 || h == 0 {
		return 0
	}
	var n int
	for y := 0; y < h; y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+w]
		for _, p := range row {
			if p > threshold {
				n++
			}
		}
	}
	return float64(n) / float64(w*h)
}

// MeanAbsDiff returns the mean absolute pixel difference between two images
// of identical size, in [0,255]. Images of differing sizes yield 255.
func MeanAbsDiff(a, b *image.Gray) float64 {
	w, h := a.Rect.Dx(), a.Rect.Dy()
	if w != b.Rect.Dx() || h != b.Rect.Dy() {
		return 255
	}
	if w == 0 || h == 0 {
		return 0
	}
	var sum uint64
	for y := 0; y < h; y++ {
		ra := a.Pix[y*a.Stride : y*a.Stride+w]
		rb := b.Pix[y*b.Stride : y*b.Stride+w]
		for x := 0; x < w; x++ {
			d := int(ra[x]) - int(rb[x])
			if d < 0 {
				d = -d
			}
			sum += uint64(d)
		}
	}
	return float64(sum) / float64(w*h)
}

// Rotate90 rotates the image a quarter turn clockwise.
func Rotate90(src *image.RGBA) *image.RGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			si := y*src.Stride + x*4
			di := x*out.Stride + (h-1-y)*4
			copy(out.Pix[di:di+4], src.Pix[si:si+4])
		}
	}
	return out
}

// Invert flips every pixel in place and returns the image.
func Invert(g *image.Gray) *image.Gray {
	for i, p := range g.Pix {
		g.Pix[i] = 255 - p
	}
	return g
}

func clampU8(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
