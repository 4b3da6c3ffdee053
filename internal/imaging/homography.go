package imaging

import (
	"errors"
	"image"
	"math"
)

// Pointf is a point with subpixel precision.
type Pointf struct {
	X, Y float64
}

// Homography is a 3x3 projective transform in row-major order with the
// bottom-right element fixed to 1.
type Homography [9]float64

// ErrDegenerateQuad is returned when the four correspondences do not
// determine a projective transform, typically because three corners are
// collinear.
var ErrDegenerateQuad = errors.New("imaging: degenerate quadrilateral")

// Apply maps a source point through the transform.
func (h Homography) Apply(x, y float64) (float64, float64) {
	d := h[6]*x + h[7]*y + h[8]
	if d == 0 {
		return 0, 0
	}
	return (h[0]*x + h[1]*y + h[2]) / d, (h[3]*x + h[4]*y + h[5]) / d
}

// Invert returns the inverse transform.
func (h Homography) Invert() (Homography, error) {
	det := h[0]*(h[4]*h[8]-h[5]*h[7]) -
		h[1]*(h[3]*h[8]-h[5]*h[6]) +
		h[2]*(h[3]*h[7]-h[4]*h[6])
	if math.Abs(det) < 1e-12 {
		return Homography{}, ErrDegenerateQuad
	}
	adj := Homography{
		h[4]*h[8] - h[5]*h[7], h[2]*h[7] - h[1]*h[8], h[1]*h[5] - h[2]*h[4],
		h[5]*h[6] - h[3]*h[8], h[0]*h[8] - h[2]*h[6], h[2]*h[3] - h[0]*h[5],
		h[3]*h[7] - h[4]*h[6], h[1]*h[6] - h[0]*h[7], h[0]*h[4] - h[1]*h[3],
	}
	var inv Homography
	for i := range adj {
		inv[i] = adj[i] / det
	}
	// Renormalize so the fixed element stays 1.
	if inv[8] != 0 {
		for i := range inv {
			inv[i] /= inv[8]
		}
	}
	return inv, nil
}

// ComputeHomography solves for the projective transform mapping the four
// source points onto the four destination points.
func ComputeHomography(src, dst [4]Pointf) (Homography, error) {
	// Two rows per correspondence in the 8x9 augmented system.
	var m [8][9]float64
	for i := 0; i < 4; i++ {
		x, y := src[i].X, src[i].Y
		u, v := dst[i].X, dst[i].Y
		m[2*i] = [9]float64{x, y, 1, 0, 0, 0, -x * u, -y * u, u}
		m[2*i+1] = [9]float64{0, 0, 0, x, y, 1, -x * v, -y * v, v}
	}

	// Gaussian elimination with partial pivoting.
	for col := 0; col < 8; col++ {
		pivot := col
		for r := col + 1; r < 8; r++ {
			if math.Abs(m[r][col]) > math.Abs(m[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(m[pivot][col]) < 1e-10 {
			return Homography{}, ErrDegenerateQuad
		}
		m[col], m[pivot] = m[pivot], m[col]
		for r := 0; r < 8; r++ {
			if r == col {
				continue
			}
			f := m[r][col] / m[col][col]
			for c := col; c < 9; c++ {
				m[r][c] -= f * m[col][c]
			}
		}
	}

	var h Homography
	for i := 0; i < 8; i++ {
		h[i] = m[i][8] / m[i][i]
	}
	h[8] = 1
	return h, nil
}

// WarpPerspective resamples src into a width x height image through the
// given source-to-destination transform, using Catmull-Rom interpolation.
// Destination pixels that map outside the source stay black.
func WarpPerspective(src *image.RGBA, h Homography, width, height int) (*image.RGBA, error) {
	inv, err := h.Invert()
	if err != nil {
		return nil, err
	}
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := inv.Apply(float64(x), float64(y))
			if sx < -1 || sy < -1 || sx > float64(sw) || sy > float64(sh) {
				continue
			}
			r, g, b := sampleCubicRGB(src, sx, sy)
			i := y*out.Stride + x*4
			out.Pix[i] = r
			out.Pix[i+1] = g
			out.Pix[i+2] = b
			out.Pix[i+3] = 255
		}
	}
	return out, nil
}

// catmullRom is the cubic interpolation kernel with a = -0.5.
func catmullRom(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t < 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	default:
		return 0
	}
}

func sampleCubicRGB(src *image.RGBA, fx, fy float64) (uint8, uint8, uint8) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	var r, g, b, wsum float64
	for dy := -1; dy <= 2; dy++ {
		sy := y0 + dy
		if sy < 0 {
			sy = 0
		} else if sy >= h {
			sy = h - 1
		}
		wy := catmullRom(fy - float64(y0+dy))
		if wy == 0 {
			continue
		}
		for dx := -1; dx <= 2; dx++ {
			sx := x0 + dx
			if sx < 0 {
				sx = 0
			} else if sx >= w {
				sx = w - 1
			}
			wx := catmullRom(fx - float64(x0+dx))
			if wx == 0 {
				continue
			}
			wgt := wx * wy
			i := sy*src.Stride + sx*4
			r += wgt * float64(src.Pix[i])
			g += wgt * float64(src.Pix[i+1])
			b += wgt * float64(src.Pix[i+2])
			wsum += wgt
		}
	}
	if wsum == 0 {
		return 0, 0, 0
	}
	return clampU8(r / wsum), clampU8(g / wsum), clampU8(b / wsum)
}
