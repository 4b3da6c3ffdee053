package imaging

import (
	"image"
	"math"
)

// AdaptiveThreshold binarizes against a Gaussian-weighted local mean. Each
// pixel is compared to the blurred neighborhood value minus c; pixels above
// it become 255 (or 0 when inverted). blockSize is forced odd.
func AdaptiveThreshold(src *image.Gray, blockSize int, c float64, invert bool) *image.Gray {
	if blockSize < 3 {
		blockSize = 3
	}
	if blockSize%2 == 0 {
		blockSize++
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	mean := GaussianBlur(src, blockSize, 0)
	out := image.NewGray(image.Rect(0, 0, w, h))
	var on, off byte = 255, 0
	if invert {
		on, off = 0, 255
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := float64(mean.Pix[y*mean.Stride+x]) - c
			if float64(src.Pix[y*src.Stride+x]) > t {
				out.Pix[y*out.Stride+x] = on
			} else {
				out.Pix[y*out.Stride+x] = off
			}
		}
	}
	return out
}

// OtsuThreshold binarizes with the global threshold that maximizes
// between-class variance.
func OtsuThreshold(src *image.Gray, invert bool) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	total := w * h
	if total == 0 {
		return out
	}

	var hist [256]int
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w]
		for _, p := range row {
			hist[p]++
		}
	}

	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i) * float64(n)
	}
	var sumBg, wBg float64
	bestVar, threshold := -1.0, 0
	for t := 0; t < 256; t++ {
		wBg += float64(hist[t])
		if wBg == 0 {
			continue
		}
		wFg := float64(total) - wBg
		if wFg == 0 {
			break
		}
		sumBg += float64(t) * float64(hist[t])
		meanBg := sumBg / wBg
		meanFg := (sumAll - sumBg) / wFg
		between := wBg * wFg * (meanBg - meanFg) * (meanBg - meanFg)
		if between > bestVar {
			bestVar, threshold = between, t
		}
	}

	var on, off byte = 255, 0
	if invert {
		on, off = 0, 255
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if int(src.Pix[y*src.Stride+x]) > threshold {
				out.Pix[y*out.Stride+x] = on
			} else {
				out.Pix[y*out.Stride+x] = off
			}
		}
	}
	return out
}

// CLAHE applies contrast limited adaptive histogram equalization over a grid
// of tiles, interpolating mappings between tile centers. clipLimit is the
// usual multiple of the uniform bin height.
func CLAHE(src *image.Gray, clipLimit float64, tilesX, tilesY int) *image.Gray {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := image.NewGray(image.Rect(0, 0, w, h))
	if w == 0 || h == 0 {
		return out
	}
	if tilesX < 1 {
		tilesX = 1
	}
	if tilesY < 1 {
		tilesY = 1
	}
	if tilesX > w {
		tilesX = w
	}
	if tilesY > h {
		tilesY = h
	}

	// Per-tile clipped histograms and their equalization LUTs.
	luts := make([][256]uint8, tilesX*tilesY)
	counts := make([]int, tilesX*tilesY)
	hists := make([][256]int, tilesX*tilesY)
	for y := 0; y < h; y++ {
		ty := y * tilesY / h
		for x := 0; x < w; x++ {
			tx := x * tilesX / w
			ti := ty*tilesX + tx
			hists[ti][src.Pix[y*src.Stride+x]]++
			counts[ti]++
		}
	}
	for ti := range hists {
		n := counts[ti]
		if n == 0 {
			continue
		}
		clip := int(clipLimit * float64(n) / 256)
		if clip < 1 {
			clip = 1
		}
		excess := 0
		for b := 0; b < 256; b++ {
			if hists[ti][b] > clip {
				excess += hists[ti][b] - clip
				hists[ti][b] = clip
			}
		}
		share := excess / 256
		rem := excess % 256
		for b := 0; b < 256; b++ {
			hists[ti][b] += share
			if b < rem {
				hists[ti][b]++
			}
		}
		cdf := 0
		for b := 0; b < 256; b++ {
			cdf += hists[ti][b]
			luts[ti][b] = uint8(math.Round(float64(cdf) * 255 / float64(n)))
		}
	}

	// Bilinear interpolation between the four surrounding tile mappings.
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*float64(tilesY)/float64(h) - 0.5
		y0 := int(math.Floor(fy))
		wy := fy - float64(y0)
		y1 := y0 + 1
		if y0 < 0 {
			y0, wy = 0, 0
		}
		if y1 >= tilesY {
			y1 = tilesY - 1
		}
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*float64(tilesX)/float64(w) - 0.5
			x0 := int(math.Floor(fx))
			wx := fx - float64(x0)
			x1 := x0 + 1
			if x0 < 0 {
				x0, wx = 0, 0
			}
			if x1 >= tilesX {
				x1 = tilesX - 1
			}
			p := src.Pix[y*src.Stride+x]
			v00 := float64(luts[y0*tilesX+x0][p])
			v01 := float64(luts[y0*tilesX+x1][p])
			v10 := float64(luts[y1*tilesX+x0][p])
			v11 := float64(luts[y1*tilesX+x1][p])
			top := v00*(1-wx) + v01*wx
			bot := v10*(1-wx) + v11*wx
			out.Pix[y*out.Stride+x] = clampU8(top*(1-wy) + bot*wy)
		}
	}
	return out
}
