package imaging

import "image"

// Sobel computes horizontal and vertical 3x3 Sobel derivatives. The returned
// slices are w*h row-major.
func Sobel(src *image.Gray) (gx, gy []int32, w, h int) {
	w, h = src.Rect.Dx(), src.Rect.Dy()
	gx = make([]int32, w*h)
	gy = make([]int32, w*h)
	at := func(x, y int) int32 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return int32(src.Pix[y*src.Stride+x])
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p00, p01, p02 := at(x-1, y-1), at(x, y-1), at(x+1, y-1)
			p10, p12 := at(x-1, y), at(x+1, y)
			p20, p21, p22 := at(x-1, y+1), at(x, y+1), at(x+1, y+1)
			gx[y*w+x] = (p02 + 2*p12 + p22) - (p00 + 2*p10 + p20)
			gy[y*w+x] = (p20 + 2*p21 + p22) - (p00 + 2*p01 + p02)
		}
	}
	return gx, gy, w, h
}

// Canny runs edge detection with the given hysteresis thresholds on an
// already smoothed image. Gradient magnitude uses the L1 norm. The result is
// a binary map with edges at 255.
func Canny(src *image.Gray, low, high int32) *image.Gray {
	gx, gy, w, h := Sobel(src)
	if w == 0 || h == 0 {
		return image.NewGray(image.Rect(0, 0, w, h))
	}
	mag := make([]int32, w*h)
	for i := range mag {
		ax, ay := gx[i], gy[i]
		if ax < 0 {
			ax = -ax
		}
		if ay < 0 {
			ay = -ay
		}
		mag[i] = ax + ay
	}

	// Non-maximum suppression along the quantized gradient direction.
	const (
		strong = 2
		weak   = 1
	)
	class := make([]byte, w*h)
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			m := mag[i]
			if m < low {
				continue
			}
			dx, dy := gx[i], gy[i]
			ax, ay := dx, dy
			if ax < 0 {
				ax = -ax
			}
			if ay < 0 {
				ay = -ay
			}
			var m1, m2 int32
			switch {
			case 2*ay < ax: // near horizontal gradient
				m1, m2 = mag[i-1], mag[i+1]
			case 2*ax < ay: // near vertical gradient
				m1, m2 = mag[i-w], mag[i+w]
			case (dx > 0) == (dy > 0): // 45 degrees
				m1, m2 = mag[i-w-1], mag[i+w+1]
			default: // 135 degrees
				m1, m2 = mag[i-w+1], mag[i+w-1]
			}
			if m < m1 || m < m2 {
				continue
			}
			if m >= high {
				class[i] = strong
			} else {
				class[i] = weak
			}
		}
	}

	// Hysteresis: keep weak edges connected to a strong one.
	out := image.NewGray(image.Rect(0, 0, w, h))
	stack := make([]int, 0, w+h)
	for i, c := range class {
		if c == strong {
			out.Pix[i/w*out.Stride+i%w] = 255
			stack = append(stack, i)
		}
	}
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx, ny := x+dx, y+dy
				if nx < 0 || ny < 0 || nx >= w || ny >= h {
					continue
				}
				j := ny*w + nx
				if class[j] == weak && out.Pix[ny*out.Stride+nx] == 0 {
					out.Pix[ny*out.Stride+nx] = 255
					stack = append(stack, j)
				}
			}
		}
	}
	return out
}

// Dilate grows foreground regions with a square kernel of the given size,
// repeated for the requested number of iterations.
func Dilate(src *image.Gray, ksize, iterations int) *image.Gray {
	out := src
	for it := 0; it < iterations; it++ {
		out = morphPass(out, ksize, true)
	}
	return out
}

// Erode shrinks foreground regions with a square kernel of the given size.
func Erode(src *image.Gray, ksize, iterations int) *image.Gray {
	out := src
	for it := 0; it < iterations; it++ {
		out = morphPass(out, ksize, false)
	}
	return out
}

// MorphClose performs a morphological closing, bridging small gaps inside
// foreground strokes.
func MorphClose(src *image.Gray, ksize int) *image.Gray {
	return Erode(Dilate(src, ksize, 1), ksize, 1)
}

func morphPass(src *image.Gray, ksize int, dilate bool) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	if ksize < 1 {
		ksize = 1
	}
	half := ksize / 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var best byte
			if !dilate {
				best = 255
			}
			for dy := -half; dy <= half; dy++ {
				sy := y + dy
				if sy < 0 || sy >= h {
					continue
				}
				for dx := -half; dx <= half; dx++ {
					sx := x + dx
					if sx < 0 || sx >= w {
						continue
					}
					p := src.Pix[sy*src.Stride+sx]
					if dilate {
						if p > best {
							best = p
						}
					} else if p < best {
						best = p
					}
				}
			}
			out.Pix[y*out.Stride+x] = best
		}
	}
	return out
}

// LaplacianVariance measures focus as the variance of the 3x3 Laplacian
// response. Sharp images produce high variance, defocused ones collapse
// toward zero.
func LaplacianVariance(src *image.Gray) float64 {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if w < 3 || h < 3 {
		return 0
	}
	n := float64((w - 2) * (h - 2))
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			c := int32(src.Pix[y*src.Stride+x])
			r := int32(src.Pix[y*src.Stride+x-1]) +
				int32(src.Pix[y*src.Stride+x+1]) +
				int32(src.Pix[(y-1)*src.Stride+x]) +
				int32(src.Pix[(y+1)*src.Stride+x]) - 4*c
			f := float64(r)
			sum += f
			sumSq += f * f
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean
}
