package imaging

import (
	"image"
	"math"
)

// gaussianKernel builds a normalized 1-D Gaussian kernel of the given odd
// size. A sigma of zero selects one from the kernel size, matching the
// common convention sigma = 0.3*((ksize-1)*0.5 - 1) + 0.8.
func gaussianKernel(ksize int, sigma float64) []float64 {
	if ksize%2 == 0 {
		ksize++
	}
	if sigma <= 0 {
		sigma = 0.3*(float64(ksize-1)*0.5-1) + 0.8
	}
	k := make([]float64, ksize)
	half := ksize / 2
	var sum float64
	for i := range k {
		d := float64(i - half)
		k[i] = math.Exp(-d * d / (2 * sigma * sigma))
		sum += k[i]
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur smooths the image with a separable Gaussian of the given odd
// kernel size. Borders are handled by clamping coordinates.
func GaussianBlur(src *image.Gray, ksize int, sigma float64) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w == 0 || h == 0 || ksize <= 1 {
		return src
	}
	k := gaussianKernel(ksize, sigma)
	half := len(k) / 2

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				sx := x + i - half
				if sx < 0 {
					sx = 0
				} else if sx >= w {
					sx = w - 1
				}
				acc += kv * float64(row[sx])
			}
			tmp[y*w+x] = acc
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i, kv := range k {
				sy := y + i - half
				if sy < 0 {
					sy = 0
				} else if sy >= h {
					sy = h - 1
				}
				acc += kv * tmp[sy*w+x]
			}
			out.Pix[y*out.Stride+x] = clampU8(acc)
		}
	}
	return out
}

// MedianFilter3 applies a 3x3 median filter, removing salt and pepper noise
// left over from thresholding.
func MedianFilter3(src *image.Gray) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	var window [9]byte
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				sy := y + dy
				if sy < 0 {
					sy = 0
				} else if sy >= h {
					sy = h - 1
				}
				for dx := -1; dx <= 1; dx++ {
					sx := x + dx
					if sx < 0 {
						sx = 0
					} else if sx >= w {
						sx = w - 1
					}
					window[n] = src.Pix[sy*src.Stride+sx]
					n++
				}
			}
			out.Pix[y*out.Stride+x] = median9(window)
		}
	}
	return out
}

// median9 returns the median of nine bytes using a fixed sorting network.
func median9(v [9]byte) byte {
	swap := func(i, j int) {
		if v[i] > v[j] {
			v[i], v[j] = v[j], v[i]
		}
	}
	swap(1, 2)
	swap(4, 5)
	swap(7, 8)
	swap(0, 1)
	swap(3, 4)
	swap(6, 7)
	swap(1, 2)
	swap(4, 5)
	swap(7, 8)
	swap(0, 3)
	swap(5, 8)
	swap(4, 7)
	swap(3, 6)
	swap(1, 4)
	swap(2, 5)
	swap(4, 7)
	swap(4, 2)
	swap(6, 4)
	swap(4, 2)
	return v[4]
}
