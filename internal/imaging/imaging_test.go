package imaging

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func uniformGray(w, h int, v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func fillRect(g *image.Gray, r image.Rectangle, v uint8) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			g.SetGray(x, y, color.Gray{Y: v})
		}
	}
}

func TestToGrayLuma(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.Set(0, 0, color.RGBA{R: 255, A: 255})
	src.Set(1, 0, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	g := ToGray(src)
	if got := g.GrayAt(0, 0).Y; got < 70 || got > 82 {
		t.Errorf("pure red luma = %d, want about 76", got)
	}
	if got := g.GrayAt(1, 0).Y; got < 254 {
		t.Errorf("white luma = %d, want 255", got)
	}
}

func TestMeanBrightnessAndFractionAbove(t *testing.T) {
	g := uniformGray(10, 10, 100)
	fillRect(g, image.Rect(0, 0, 5, 10), 250)

	if got := MeanBrightness(g); math.Abs(got-175) > 0.5 {
		t.Errorf("MeanBrightness = %.2f, want 175", got)
	}
	if got := FractionAbove(g, 240); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("FractionAbove = %.3f, want 0.5", got)
	}
}

func TestMeanAbsDiff(t *testing.T) {
	a := uniformGray(8, 8, 100)
	b := uniformGray(8, 8, 110)
	if got := MeanAbsDiff(a, b); math.Abs(got-10) > 1e-9 {
		t.Errorf("MeanAbsDiff = %.2f, want 10", got)
	}
	c := uniformGray(4, 4, 0)
	if got := MeanAbsDiff(a, c); got != 255 {
		t.Errorf("size mismatch diff = %.1f, want 255", got)
	}
}

func TestOtsuSeparatesBimodal(t *testing.T) {
	g := uniformGray(20, 20, 40)
	fillRect(g, image.Rect(0, 0, 20, 10), 210)

	bin := OtsuThreshold(g, false)
	if got := bin.GrayAt(5, 5).Y; got != 255 {
		t.Errorf("bright half = %d, want 255", got)
	}
	if got := bin.GrayAt(5, 15).Y; got != 0 {
		t.Errorf("dark half = %d, want 0", got)
	}

	inv := OtsuThreshold(g, true)
	if got := inv.GrayAt(5, 5).Y; got != 0 {
		t.Errorf("inverted bright half = %d, want 0", got)
	}
}

func TestAdaptiveThresholdLiftsInk(t *testing.T) {
	// Dark strokes on light paper; inverted output should make ink white.
	g := uniformGray(40, 40, 220)
	fillRect(g, image.Rect(10, 18, 30, 22), 30)

	bin := AdaptiveThreshold(g, 15, 10, true)
	if got := bin.GrayAt(20, 20).Y; got != 255 {
		t.Errorf("ink pixel = %d, want 255", got)
	}
	if got := bin.GrayAt(2, 2).Y; got != 0 {
		t.Errorf("paper pixel = %d, want 0", got)
	}
}

func TestLaplacianVarianceOrdersSharpness(t *testing.T) {
	flat := uniformGray(32, 32, 128)
	checker := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			if (x+y)%2 == 0 {
				checker.Pix[y*checker.Stride+x] = 255
			}
		}
	}

	if v := LaplacianVariance(flat); v != 0 {
		t.Errorf("flat variance = %.2f, want 0", v)
	}
	sharp := LaplacianVariance(checker)
	blurred := LaplacianVariance(GaussianBlur(checker, 5, 0))
	if sharp <= blurred {
		t.Errorf("sharp variance %.2f not above blurred %.2f", sharp, blurred)
	}
}

func TestMedianFilterRemovesSpeckle(t *testing.T) {
	g := uniformGray(9, 9, 200)
	g.SetGray(4, 4, color.Gray{Y: 0})

	out := MedianFilter3(g)
	if got := out.GrayAt(4, 4).Y; got != 200 {
		t.Errorf("speckle survived: %d, want 200", got)
	}
}

func TestDilateGrowsAndCloseBridges(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 20, 20))
	g.SetGray(10, 10, color.Gray{Y: 255})

	d := Dilate(g, 3, 2)
	if got := d.GrayAt(8, 8).Y; got != 255 {
		t.Errorf("dilated corner = %d, want 255", got)
	}

	// Two strokes separated by a one pixel gap close into one.
	gap := image.NewGray(image.Rect(0, 0, 20, 5))
	fillRect(gap, image.Rect(2, 2, 9, 3), 255)
	fillRect(gap, image.Rect(10, 2, 18, 3), 255)
	closed := MorphClose(gap, 3)
	if got := closed.GrayAt(9, 2).Y; got != 255 {
		t.Errorf("gap pixel = %d, want 255 after closing", got)
	}
}

func TestFindContoursRectangle(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 100, 80))
	fillRect(g, image.Rect(20, 15, 70, 55), 255)

	contours := FindContours(g)
	if len(contours) != 1 {
		t.Fatalf("contours = %d, want 1", len(contours))
	}
	c := contours[0]

	area := ContourArea(c)
	want := float64(49 * 39) // boundary runs through pixel centers
	if math.Abs(area-want) > want*0.05 {
		t.Errorf("area = %.0f, want about %.0f", area, want)
	}

	peri := ArcLength(c, true)
	approx := ApproxPolyDP(c, 0.02*peri)
	if len(approx) != 4 {
		t.Fatalf("approx vertices = %d, want 4: %v", len(approx), approx)
	}
	if !IsConvex(approx) {
		t.Error("rectangle approx not convex")
	}
	if r := BoundingRect(c); r != image.Rect(20, 15, 70, 55) {
		t.Errorf("bounding rect = %v", r)
	}
}

func TestFindContoursSeparatesComponents(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 60, 30))
	fillRect(g, image.Rect(5, 5, 15, 15), 255)
	fillRect(g, image.Rect(40, 10, 55, 25), 255)

	contours := FindContours(g)
	if len(contours) != 2 {
		t.Fatalf("contours = %d, want 2", len(contours))
	}
}

func TestComputeHomographyMapsCorners(t *testing.T) {
	src := [4]Pointf{{10, 10}, {90, 12}, {95, 70}, {8, 66}}
	dst := [4]Pointf{{0, 0}, {100, 0}, {100, 60}, {0, 60}}

	h, err := ComputeHomography(src, dst)
	if err != nil {
		t.Fatalf("ComputeHomography: %v", err)
	}
	for i := range src {
		x, y := h.Apply(src[i].X, src[i].Y)
		if math.Abs(x-dst[i].X) > 1e-6 || math.Abs(y-dst[i].Y) > 1e-6 {
			t.Errorf("corner %d mapped to (%.4f, %.4f), want (%.1f, %.1f)", i, x, y, dst[i].X, dst[i].Y)
		}
	}

	inv, err := h.Invert()
	if err != nil {
		t.Fatalf("Invert: %v", err)
	}
	x, y := inv.Apply(dst[2].X, dst[2].Y)
	if math.Abs(x-src[2].X) > 1e-6 || math.Abs(y-src[2].Y) > 1e-6 {
		t.Errorf("inverse mapped to (%.4f, %.4f), want (%.1f, %.1f)", x, y, src[2].X, src[2].Y)
	}
}

func TestComputeHomographyDegenerate(t *testing.T) {
	// Three collinear corners cannot pin down a projective transform.
	src := [4]Pointf{{0, 0}, {10, 0}, {20, 0}, {0, 10}}
	dst := [4]Pointf{{0, 0}, {100, 0}, {100, 60}, {0, 60}}
	if _, err := ComputeHomography(src, dst); err == nil {
		t.Fatal("expected error for collinear corners")
	}
}

func TestWarpPerspectiveTranslates(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 20, 20))
	for y := 5; y < 15; y++ {
		for x := 5; x < 15; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	h, err := ComputeHomography(
		[4]Pointf{{5, 5}, {15, 5}, {15, 15}, {5, 15}},
		[4]Pointf{{0, 0}, {10, 0}, {10, 10}, {0, 10}},
	)
	if err != nil {
		t.Fatalf("ComputeHomography: %v", err)
	}
	out, err := WarpPerspective(src, h, 10, 10)
	if err != nil {
		t.Fatalf("WarpPerspective: %v", err)
	}
	r, g, b, _ := out.At(5, 5).RGBA()
	if r>>8 < 190 || g>>8 < 90 || b>>8 < 40 {
		t.Errorf("warped center = (%d,%d,%d), want near (200,100,50)", r>>8, g>>8, b>>8)
	}
}

func TestCLAHEUniformHasNoSeams(t *testing.T) {
	// Identical tiles must interpolate to identical output; any seam would
	// show up as differing pixels.
	out := CLAHE(uniformGray(64, 64, 120), 2.0, 8, 8)
	first := out.Pix[0]
	for i, p := range out.Pix {
		if p != first {
			t.Fatalf("pixel %d = %d, want uniform %d", i, p, first)
		}
	}
}

func TestCLAHEPreservesOrdering(t *testing.T) {
	g := uniformGray(64, 64, 128)
	g.SetGray(10, 10, color.Gray{Y: 80})
	g.SetGray(11, 10, color.Gray{Y: 180})

	out := CLAHE(g, 2.0, 1, 1)
	lo := out.GrayAt(10, 10).Y
	hi := out.GrayAt(11, 10).Y
	if lo >= hi {
		t.Errorf("mapping lost ordering: %d -> %d, %d -> %d", 80, lo, 180, hi)
	}
}

func TestResizeAndCrop(t *testing.T) {
	g := uniformGray(100, 50, 77)
	small := ResizeGray(g, 50, 25)
	if small.Rect.Dx() != 50 || small.Rect.Dy() != 25 {
		t.Fatalf("resize bounds = %v", small.Rect)
	}
	if got := small.GrayAt(25, 12).Y; got != 77 {
		t.Errorf("resized uniform pixel = %d, want 77", got)
	}

	c := CropGray(g, image.Rect(90, 40, 120, 60))
	if c.Rect.Dx() != 10 || c.Rect.Dy() != 10 {
		t.Errorf("clamped crop bounds = %v", c.Rect)
	}
}
