package augment

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"gonum.org/v1/gonum/mat"

	"medaugment/internal/models"
)

// createTestPlane creates a single-channel plane filled by the given pattern
func createTestPlane(rows, cols int, pattern func(r, c int) float64) *models.Plane {
	data := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			data[r*cols+c] = pattern(r, c)
		}
	}
	return models.NewPlane(rows, cols, data)
}

// gradient is an image-like pattern with values in [0, 255]
func gradient(r, c int) float64 {
	return float64((r*7 + c*3) % 256)
}

// createRandomLabel creates a label plane with class IDs drawn from classes
func createRandomLabel(rows, cols int, classes []float64, seed uint64) *models.Plane {
	rng := rand.New(rand.NewPCG(seed, seed))
	return createTestPlane(rows, cols, func(r, c int) float64 {
		return classes[rng.IntN(len(classes))]
	})
}

// uniqueValues returns the set of values in the first channel of p
func uniqueValues(p *models.Plane) map[float64]bool {
	set := make(map[float64]bool)
	for _, v := range p.Values() {
		set[v] = true
	}
	return set
}

func newTestTransformer(t *testing.T) *Transformer {
	t.Helper()
	tr, err := NewTransformer(DefaultParams())
	if err != nil {
		t.Fatalf("Failed to create transformer: %v", err)
	}
	return tr
}

type pairOp func(image, label *models.Plane) (*models.Plane, *models.Plane, error)

func pairOps(tr *Transformer) map[string]pairOp {
	return map[string]pairOp{
		"normalize": tr.Normalize,
		"rotate":    tr.Rotate,
		"flip":      tr.Flip,
		"zoom":      tr.Zoom,
		"contrast":  tr.AdjustContrast,
		"denoise":   tr.Denoise,
	}
}

// TestPreconditions verifies that every pair operation rejects empty and
// mismatched inputs with the right error kind
func TestPreconditions(t *testing.T) {
	tr := newTestTransformer(t)
	valid := createTestPlane(100, 100, gradient)
	wide := createTestPlane(100, 101, gradient)

	for name, op := range pairOps(tr) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := op(nil, valid); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput for nil image, got %v", err)
			}
			if _, _, err := op(valid, models.NewPlane(0, 0, nil)); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Expected ErrInvalidInput for empty label, got %v", err)
			}
			if _, _, err := op(valid, wide); !errors.Is(err, ErrShapeMismatch) {
				t.Errorf("Expected ErrShapeMismatch for 100x100 vs 100x101, got %v", err)
			}
		})
	}
}

// TestNormalize verifies output size and the label resampling kernel
func TestNormalize(t *testing.T) {
	tr := newTestTransformer(t)
	image := createTestPlane(300, 200, gradient)
	label := createRandomLabel(300, 200, []float64{0, 1, 3}, 7)

	normImage, normLabel, err := tr.Normalize(image, label)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for _, p := range []*models.Plane{normImage, normLabel} {
		rows, cols := p.Dims()
		if rows != 512 || cols != 512 {
			t.Errorf("Expected 512x512, got %dx%d", rows, cols)
		}
	}

	allowed := uniqueValues(label)
	for v := range uniqueValues(normLabel) {
		if !allowed[v] {
			t.Errorf("Normalized label contains invented class value %g", v)
		}
	}
}

// TestNormalizeIdempotent verifies that 512x512 is a fixed point
func TestNormalizeIdempotent(t *testing.T) {
	for _, kind := range []Interpolation{Bilinear, Area} {
		t.Run(string(kind), func(t *testing.T) {
			params := DefaultParams()
			params.Interpolation = kind
			tr, err := NewTransformer(params)
			if err != nil {
				t.Fatalf("Failed to create transformer: %v", err)
			}

			image := createTestPlane(700, 640, gradient)
			label := createRandomLabel(700, 640, []float64{0, 2}, 3)

			once, onceLabel, err := tr.Normalize(image, label)
			if err != nil {
				t.Fatalf("First normalize failed: %v", err)
			}
			twice, twiceLabel, err := tr.Normalize(once, onceLabel)
			if err != nil {
				t.Fatalf("Second normalize failed: %v", err)
			}

			if !once.Equal(twice) {
				t.Error("Normalizing twice changed the image")
			}
			if !onceLabel.Equal(twiceLabel) {
				t.Error("Normalizing twice changed the label")
			}
		})
	}
}

// TestResizeIdentity verifies that resizing to the same size is exact for
// every kernel, independent of the Normalize fast path
func TestResizeIdentity(t *testing.T) {
	src := createTestPlane(17, 23, gradient).Channel(0)
	for _, kind := range []Interpolation{Nearest, Bilinear, Area} {
		dst := resize(src, 17, 23, kind)
		if !mat.Equal(src, dst) {
			t.Errorf("Resize with %s to the same size changed the data", kind)
		}
	}
}

// TestAreaDownscale verifies that area resampling averages covered pixels
func TestAreaDownscale(t *testing.T) {
	src := mat.NewDense(2, 2, []float64{0, 4, 8, 12})
	dst := resize(src, 1, 1, Area)
	if got := dst.At(0, 0); math.Abs(got-6) > 1e-12 {
		t.Errorf("Expected average 6, got %g", got)
	}
}

// TestGrayscale verifies pass-through, luma conversion and channel checks
func TestGrayscale(t *testing.T) {
	tr := newTestTransformer(t)

	t.Run("SingleChannel", func(t *testing.T) {
		p := createTestPlane(8, 8, gradient)
		out, err := tr.Grayscale(p)
		if err != nil {
			t.Fatalf("Grayscale failed: %v", err)
		}
		if out != p {
			t.Error("Expected single-channel plane to be passed through unchanged")
		}
	})

	t.Run("BGR", func(t *testing.T) {
		fill := func(v float64) *mat.Dense {
			data := make([]float64, 4)
			for i := range data {
				data[i] = v
			}
			return mat.NewDense(2, 2, data)
		}
		p, err := models.NewPlaneFromChannels(fill(10), fill(20), fill(30))
		if err != nil {
			t.Fatalf("Failed to create color plane: %v", err)
		}
		out, err := tr.Grayscale(p)
		if err != nil {
			t.Fatalf("Grayscale failed: %v", err)
		}
		if out.Channels() != 1 {
			t.Fatalf("Expected 1 channel, got %d", out.Channels())
		}
		want := 0.114*10 + 0.587*20 + 0.299*30
		if got := out.At(1, 1); math.Abs(got-want) > 1e-9 {
			t.Errorf("Expected luma %g, got %g", want, got)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		p, _ := models.NewPlaneFromChannels(mat.NewDense(2, 2, nil), mat.NewDense(2, 2, nil))
		if _, err := tr.Grayscale(p); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Expected ErrUnsupportedFormat, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := tr.Grayscale(nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Expected ErrInvalidInput, got %v", err)
		}
	})
}

// TestRotate verifies shape preservation and label class preservation
func TestRotate(t *testing.T) {
	tr := newTestTransformer(t)
	image := createTestPlane(64, 64, gradient)
	label := createRandomLabel(64, 64, []float64{1, 4}, 11)

	rotImage, rotLabel, err := tr.Rotate(image, label)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if !rotImage.SameShape(image) || !rotLabel.SameShape(label) {
		t.Fatal("Rotate changed the plane shape")
	}

	// Corners rotate in from outside the plane and become background.
	allowed := uniqueValues(label)
	allowed[0] = true
	for v := range uniqueValues(rotLabel) {
		if !allowed[v] {
			t.Errorf("Rotated label contains interpolated value %g", v)
		}
	}
	if rotLabel.At(0, 0) != 0 {
		t.Errorf("Expected corner to be background after rotation, got %g", rotLabel.At(0, 0))
	}
}

// TestRotateZeroAngle verifies that a zero rotation is the identity
func TestRotateZeroAngle(t *testing.T) {
	params := DefaultParams()
	params.Angle = 0
	tr, err := NewTransformer(params)
	if err != nil {
		t.Fatalf("Failed to create transformer: %v", err)
	}

	image := createTestPlane(32, 48, gradient)
	label := createRandomLabel(32, 48, []float64{0, 1}, 5)
	rotImage, rotLabel, err := tr.Rotate(image, label)
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if !rotImage.Equal(image) || !rotLabel.Equal(label) {
		t.Error("Zero-angle rotation changed the data")
	}
}

// TestFlip verifies the horizontal mirror
func TestFlip(t *testing.T) {
	tr := newTestTransformer(t)
	image := createTestPlane(5, 7, gradient)
	label := createTestPlane(5, 7, func(r, c int) float64 { return float64(c) })

	flipImage, flipLabel, err := tr.Flip(image, label)
	if err != nil {
		t.Fatalf("Flip failed: %v", err)
	}
	for r := 0; r < 5; r++ {
		for c := 0; c < 7; c++ {
			if flipImage.At(r, c) != image.At(r, 6-c) {
				t.Fatalf("Image pixel (%d,%d) not mirrored", r, c)
			}
			if flipLabel.At(r, c) != float64(6-c) {
				t.Fatalf("Label pixel (%d,%d) not mirrored", r, c)
			}
		}
	}

	back, _, err := tr.Flip(flipImage, flipLabel)
	if err != nil {
		t.Fatalf("Second flip failed: %v", err)
	}
	if !back.Equal(image) {
		t.Error("Flipping twice should restore the image")
	}
}

// TestZoomLabelSubset verifies that the zoomed label only contains classes
// present in the original crop
func TestZoomLabelSubset(t *testing.T) {
	tr := newTestTransformer(t)

	for seed := uint64(1); seed <= 3; seed++ {
		image := createTestPlane(512, 512, gradient)
		label := createRandomLabel(512, 512, []float64{0, 2, 5, 7}, seed)
		// Paint a class that only exists outside the crop window.
		label.Channel(0).Set(0, 0, 99)
		label.Channel(0).Set(511, 511, 99)

		zoomImage, zoomLabel, err := tr.Zoom(image, label)
		if err != nil {
			t.Fatalf("Zoom failed: %v", err)
		}
		if r, c := zoomImage.Dims(); r != 512 || c != 512 {
			t.Errorf("Expected zoomed image 512x512, got %dx%d", r, c)
		}

		crop := models.NewPlane(412, 412, nil)
		crop.Channel(0).Copy(label.Channel(0).Slice(50, 462, 50, 462))
		allowed := uniqueValues(crop)
		for v := range uniqueValues(zoomLabel) {
			if !allowed[v] {
				t.Errorf("Zoomed label contains value %g not present in the crop", v)
			}
		}
	}
}

// TestZoomTooSmall verifies that small planes are rejected without panicking
func TestZoomTooSmall(t *testing.T) {
	tr := newTestTransformer(t)
	image := createTestPlane(461, 500, gradient)
	label := createTestPlane(461, 500, func(r, c int) float64 { return 0 })

	if _, _, err := tr.Zoom(image, label); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput for 461x500 plane, got %v", err)
	}
}

// TestAdjustContrast verifies the saturated linear mapping and that the
// label is untouched
func TestAdjustContrast(t *testing.T) {
	tr := newTestTransformer(t)
	image := models.NewPlane(1, 4, []float64{100, 1000, -100, 1})
	label := createTestPlane(1, 4, func(r, c int) float64 { return float64(c % 2) })
	before := label.Clone()

	out, outLabel, err := tr.AdjustContrast(image, label)
	if err != nil {
		t.Fatalf("AdjustContrast failed: %v", err)
	}

	want := []float64{35, 255, 35, 0}
	for i, v := range out.Values() {
		if v != want[i] {
			t.Errorf("Pixel %d: expected %g, got %g", i, want[i], v)
		}
	}
	if outLabel != label || !outLabel.Equal(before) {
		t.Error("Expected label to be returned unmodified")
	}
}

// TestAdjustContrastNaN verifies that undefined intensities saturate to the
// lower bound
func TestAdjustContrastNaN(t *testing.T) {
	params := DefaultParams()
	params.ContrastMin = 10
	tr, err := NewTransformer(params)
	if err != nil {
		t.Fatalf("NewTransformer failed: %v", err)
	}
	image := models.NewPlane(1, 3, []float64{math.NaN(), 100, math.Inf(1)})
	label := models.NewPlane(1, 3, nil)

	out, _, err := tr.AdjustContrast(image, label)
	if err != nil {
		t.Fatalf("AdjustContrast failed: %v", err)
	}
	want := []float64{10, 35, 255}
	for i, v := range out.Values() {
		if v != want[i] {
			t.Errorf("Pixel %d: expected %g, got %g", i, want[i], v)
		}
	}
}

// TestDenoise verifies the fixed 5x5 kernel and label pass-through
func TestDenoise(t *testing.T) {
	tr := newTestTransformer(t)

	t.Run("Constant", func(t *testing.T) {
		image := createTestPlane(9, 9, func(r, c int) float64 { return 100 })
		label := createRandomLabel(9, 9, []float64{0, 3}, 2)
		before := label.Clone()

		out, outLabel, err := tr.Denoise(image, label)
		if err != nil {
			t.Fatalf("Denoise failed: %v", err)
		}
		if !out.Equal(image) {
			t.Error("Smoothing a constant plane should not change it")
		}
		if outLabel != label || !outLabel.Equal(before) {
			t.Error("Expected label to be returned unmodified")
		}
	})

	t.Run("Impulse", func(t *testing.T) {
		image := createTestPlane(9, 9, func(r, c int) float64 {
			if r == 4 && c == 4 {
				return 1
			}
			return 0
		})
		label := createTestPlane(9, 9, func(r, c int) float64 { return 0 })

		out, _, err := tr.Denoise(image, label)
		if err != nil {
			t.Fatalf("Denoise failed: %v", err)
		}
		if got := out.At(4, 4); math.Abs(got-0.375*0.375) > 1e-12 {
			t.Errorf("Expected center weight %g, got %g", 0.375*0.375, got)
		}
		if got := out.At(2, 4); math.Abs(got-0.0625*0.375) > 1e-12 {
			t.Errorf("Expected edge weight %g, got %g", 0.0625*0.375, got)
		}
	})
}

// TestGaussianKernel verifies normalization of derived kernels
func TestGaussianKernel(t *testing.T) {
	for _, size := range []int{1, 3, 5, 7, 9, 11} {
		k := gaussianKernel(size, 0)
		var sum float64
		for _, w := range k {
			sum += w
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("Kernel of size %d sums to %g", size, sum)
		}
	}
}

// TestReflect101 verifies border index mirroring
func TestReflect101(t *testing.T) {
	cases := []struct{ in, n, want int }{
		{-1, 5, 1},
		{-2, 5, 2},
		{5, 5, 3},
		{6, 5, 2},
		{-3, 2, 1},
		{4, 1, 0},
	}
	for _, tc := range cases {
		if got := reflect101(tc.in, tc.n); got != tc.want {
			t.Errorf("reflect101(%d, %d): expected %d, got %d", tc.in, tc.n, tc.want, got)
		}
	}
}

// TestParamsValidate verifies rejection of unusable parameters
func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("Default params should be valid: %v", err)
	}

	mutations := map[string]func(*Params){
		"ZeroSize":       func(p *Params) { p.Size = 0 },
		"NearestImage":   func(p *Params) { p.Interpolation = Nearest },
		"UnknownKernel":  func(p *Params) { p.Interpolation = "cubic" },
		"InvertedWindow": func(p *Params) { p.CropStart, p.CropEnd = 100, 50 },
		"WindowTooBig":   func(p *Params) { p.Size = 400 },
		"EvenKernel":     func(p *Params) { p.KernelSize = 4 },
		"InvertedRange":  func(p *Params) { p.ContrastMin, p.ContrastMax = 10, 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			p := DefaultParams()
			mutate(&p)
			if err := p.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
