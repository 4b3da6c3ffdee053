package imaging

import (
	"image"
	"math"
)

// Contour is a closed boundary as an ordered pixel chain.
type Contour []image.Point

// Clockwise Moore neighborhood starting east.
var mooreDirs = [8]image.Point{
	{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1},
}

// FindContours traces the outer boundary of every 8-connected foreground
// component in a binary image. Foreground is any nonzero pixel.
func FindContours(bin *image.Gray) []Contour {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	if w == 0 || h == 0 {
		return nil
	}
	labels := make([]int32, w*h)
	var contours []Contour
	next := int32(1)

	fg := func(x, y int) bool {
		return x >= 0 && y >= 0 && x < w && y < h && bin.Pix[y*bin.Stride+x] != 0
	}

	queue := make([]image.Point, 0, 256)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !fg(x, y) || labels[y*w+x] != 0 {
				continue
			}
			// The first pixel of an unlabeled component in scan order is its
			// topmost-leftmost boundary pixel; trace the outline from there.
			contours = append(contours, traceBoundary(bin, image.Pt(x, y)))

			// Flood fill the component so inner pixels are not re-traced.
			label := next
			next++
			labels[y*w+x] = label
			queue = append(queue[:0], image.Pt(x, y))
			for len(queue) > 0 {
				p := queue[len(queue)-1]
				queue = queue[:len(queue)-1]
				for _, d := range mooreDirs {
					nx, ny := p.X+d.X, p.Y+d.Y
					if fg(nx, ny) && labels[ny*w+nx] == 0 {
						labels[ny*w+nx] = label
						queue = append(queue, image.Pt(nx, ny))
					}
				}
			}
		}
	}
	return contours
}

// traceBoundary walks the outer contour clockwise using Moore neighbor
// tracing, starting at the component's topmost-leftmost pixel.
func traceBoundary(bin *image.Gray, start image.Point) Contour {
	w, h := bin.Rect.Dx(), bin.Rect.Dy()
	fg := func(p image.Point) bool {
		return p.X >= 0 && p.Y >= 0 && p.X < w && p.Y < h && bin.Pix[p.Y*bin.Stride+p.X] != 0
	}

	contour := Contour{start}
	// Entered the start pixel from the west.
	backtrack := 4
	cur := start
	limit := 4 * (w*h + 1)
	for step := 0; step < limit; step++ {
		found := -1
		for i := 1; i <= 8; i++ {
			dir := (backtrack + i) % 8
			if fg(cur.Add(mooreDirs[dir])) {
				found = dir
				break
			}
		}
		if found < 0 {
			break // isolated pixel
		}
		cur = cur.Add(mooreDirs[found])
		// New backtrack points from the new pixel toward the last background
		// neighbor examined.
		backtrack = (found + 5) % 8
		if cur == start && len(contour) > 1 {
			break
		}
		contour = append(contour, cur)
	}
	return contour
}

// ContourArea returns the enclosed area computed with the shoelace formula.
func ContourArea(c Contour) float64 {
	if len(c) < 3 {
		return 0
	}
	var acc int64
	for i := range c {
		j := (i + 1) % len(c)
		acc += int64(c[i].X)*int64(c[j].Y) - int64(c[j].X)*int64(c[i].Y)
	}
	if acc < 0 {
		acc = -acc
	}
	return float64(acc) / 2
}

// ArcLength returns the contour perimeter.
func ArcLength(c Contour, closed bool) float64 {
	if len(c) < 2 {
		return 0
	}
	var total float64
	for i := 0; i < len(c)-1; i++ {
		total += dist(c[i], c[i+1])
	}
	if closed {
		total += dist(c[len(c)-1], c[0])
	}
	return total
}

func dist(a, b image.Point) float64 {
	dx, dy := float64(a.X-b.X), float64(a.Y-b.Y)
	return math.Hypot(dx, dy)
}

// ApproxPolyDP simplifies a closed contour with the Douglas-Peucker
// algorithm. Points farther than epsilon from the simplified outline are
// retained as vertices.
func ApproxPolyDP(c Contour, epsilon float64) Contour {
	if len(c) < 3 {
		return append(Contour(nil), c...)
	}
	// Split the closed curve at the two mutually farthest points so each
	// half is an open chain.
	far1 := 0
	for i := range c {
		if dist(c[i], c[0]) > dist(c[far1], c[0]) {
			far1 = i
		}
	}
	far2 := 0
	for i := range c {
		if dist(c[i], c[far1]) > dist(c[far2], c[far1]) {
			far2 = i
		}
	}
	if far1 > far2 {
		far1, far2 = far2, far1
	}
	if far1 == far2 {
		return Contour{c[far1]}
	}

	first := douglasPeucker(c[far1:far2+1], epsilon)
	second := douglasPeucker(append(append(Contour(nil), c[far2:]...), c[:far1+1]...), epsilon)

	out := append(Contour(nil), first...)
	if len(second) > 2 {
		out = append(out, second[1:len(second)-1]...)
	}
	return out
}

func douglasPeucker(chain Contour, epsilon float64) Contour {
	if len(chain) < 3 {
		return append(Contour(nil), chain...)
	}
	a, b := chain[0], chain[len(chain)-1]
	maxDist, maxIdx := 0.0, 0
	for i := 1; i < len(chain)-1; i++ {
		d := perpDistance(chain[i], a, b)
		if d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist <= epsilon {
		return Contour{a, b}
	}
	left := douglasPeucker(chain[:maxIdx+1], epsilon)
	right := douglasPeucker(chain[maxIdx:], epsilon)
	return append(left[:len(left)-1], right...)
}

func perpDistance(p, a, b image.Point) float64 {
	if a == b {
		return dist(p, a)
	}
	ax, ay := float64(a.X), float64(a.Y)
	bx, by := float64(b.X), float64(b.Y)
	px, py := float64(p.X), float64(p.Y)
	num := math.Abs((by-ay)*px - (bx-ax)*py + bx*ay - by*ax)
	return num / math.Hypot(bx-ax, by-ay)
}

// IsConvex reports whether the polygon turns in a single direction at every
// vertex. Collinear vertices are tolerated.
func IsConvex(poly Contour) bool {
	n := len(poly)
	if n < 3 {
		return false
	}
	sign := 0
	for i := 0; i < n; i++ {
		a, b, c := poly[i], poly[(i+1)%n], poly[(i+2)%n]
		cross := (b.X-a.X)*(c.Y-b.Y) - (b.Y-a.Y)*(c.X-b.X)
		if cross == 0 {
			continue
		}
		s := 1
		if cross < 0 {
			s = -1
		}
		if sign == 0 {
			sign = s
		} else if s != sign {
			return false
		}
	}
	return true
}

// BoundingRect returns the axis-aligned bounding box of a contour.
func BoundingRect(c Contour) image.Rectangle {
	if len(c) == 0 {
		return image.Rectangle{}
	}
	minX, minY := c[0].X, c[0].Y
	maxX, maxY := c[0].X, c[0].Y
	for _, p := range c[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}
