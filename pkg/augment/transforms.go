// Package augment implements the fixed battery of geometric and photometric
// transforms applied to co-registered image and label planes.
//
// Every pair operation checks that both planes are present, non-empty and of
// identical shape before doing any work. Geometric transforms that resample
// (Normalize, Rotate, Zoom) use a smooth kernel for the image and
// nearest-neighbor for the label, so label planes never gain class values
// that were not present in the input. Photometric transforms (AdjustContrast,
// Denoise) return the label untouched.
package augment

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"medaugment/internal/models"
)

// BGR luma weights
const (
	lumaB = 0.114
	lumaG = 0.587
	lumaR = 0.299
)

// Transformer applies the transform battery with a fixed set of parameters.
// It holds no mutable state and is safe for concurrent use.
type Transformer struct {
	params Params
}

// NewTransformer creates a transformer with the provided parameters.
func NewTransformer(params Params) (*Transformer, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transform parameters: %w", err)
	}
	return &Transformer{params: params}, nil
}

// mapChannels applies fn to every channel of p and returns a new plane.
func mapChannels(p *models.Plane, fn func(*mat.Dense) *mat.Dense) *models.Plane {
	channels := make([]*mat.Dense, p.Channels())
	for i := range channels {
		channels[i] = fn(p.Channel(i))
	}
	// Every channel goes through the same fn, so dimensions always agree.
	out, _ := models.NewPlaneFromChannels(channels...)
	return out
}

// Normalize resizes both planes to Size x Size. The image uses the configured
// smooth kernel; the label uses nearest-neighbor. Planes already at the
// target size come back as unchanged copies.
func (t *Transformer) Normalize(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}

	size := t.params.Size
	if rows, cols := image.Dims(); rows == size && cols == size {
		return image.Clone(), label.Clone(), nil
	}

	normImage := mapChannels(image, func(ch *mat.Dense) *mat.Dense {
		return resize(ch, size, size, t.params.Interpolation)
	})
	normLabel := mapChannels(label, func(ch *mat.Dense) *mat.Dense {
		return resize(ch, size, size, Nearest)
	})
	return normImage, normLabel, nil
}

// Grayscale collapses a three-channel (B, G, R) plane to a single luma
// channel. A single-channel plane is returned as is.
func (t *Transformer) Grayscale(p *models.Plane) (*models.Plane, error) {
	if p.IsEmpty() {
		return nil, fmt.Errorf("%w: plane is empty or nil", ErrInvalidInput)
	}

	switch p.Channels() {
	case 1:
		return p, nil
	case 3:
		var gray, g, r mat.Dense
		gray.Scale(lumaB, p.Channel(0))
		g.Scale(lumaG, p.Channel(1))
		r.Scale(lumaR, p.Channel(2))
		gray.Add(&gray, &g)
		gray.Add(&gray, &r)
		out, err := models.NewPlaneFromChannels(&gray)
		if err != nil {
			return nil, err
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, p.Channels())
	}
}

// Rotate turns both planes about their center by the configured angle.
// Pixels rotated in from outside the plane are zero.
func (t *Transformer) Rotate(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}

	rows, cols := image.Dims()
	m := rotationMatrix(float64(cols)/2, float64(rows)/2, t.params.Angle)
	inv, err := invertAffine(m)
	if err != nil {
		return nil, nil, fmt.Errorf("invert rotation matrix: %w", err)
	}

	rotImage := mapChannels(image, func(ch *mat.Dense) *mat.Dense {
		return warpAffine(ch, inv, Bilinear)
	})
	rotLabel := mapChannels(label, func(ch *mat.Dense) *mat.Dense {
		return warpAffine(ch, inv, Nearest)
	})
	return rotImage, rotLabel, nil
}

// Flip mirrors both planes horizontally.
func (t *Transformer) Flip(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}
	return mapChannels(image, flipDense), mapChannels(label, flipDense), nil
}

func flipDense(src *mat.Dense) *mat.Dense {
	rows, cols := src.Dims()
	dst := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			dst.Set(r, c, src.At(r, cols-1-c))
		}
	}
	return dst
}

// Zoom crops the central window [CropStart:CropEnd] on both axes and resizes
// the crop back to Size x Size.
func (t *Transformer) Zoom(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}

	rows, cols := image.Dims()
	lo, hi := t.params.CropStart, t.params.CropEnd
	if rows < hi || cols < hi {
		return nil, nil, fmt.Errorf("%w: plane is %dx%d, zoom needs at least %dx%d",
			ErrInvalidInput, rows, cols, hi, hi)
	}

	size := t.params.Size
	zoomImage := mapChannels(image, func(ch *mat.Dense) *mat.Dense {
		return resize(ch.Slice(lo, hi, lo, hi), size, size, t.params.Interpolation)
	})
	zoomLabel := mapChannels(label, func(ch *mat.Dense) *mat.Dense {
		return resize(ch.Slice(lo, hi, lo, hi), size, size, Nearest)
	})
	return zoomImage, zoomLabel, nil
}

// AdjustContrast maps every image intensity x to |x*gain + offset|, rounded
// and saturated to [ContrastMin, ContrastMax]. NaN saturates to ContrastMin.
// The label is returned as is.
func (t *Transformer) AdjustContrast(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}

	p := t.params
	out := mapChannels(image, func(ch *mat.Dense) *mat.Dense {
		var dst mat.Dense
		dst.Apply(func(_, _ int, v float64) float64 {
			v = math.RoundToEven(math.Abs(v*p.ContrastGain + p.ContrastOffset))
			if math.IsNaN(v) {
				return p.ContrastMin
			}
			return math.Max(p.ContrastMin, math.Min(p.ContrastMax, v))
		}, ch)
		return &dst
	})
	return out, label, nil
}

// Denoise smooths the image with a separable Gaussian kernel using
// reflect-101 borders. The label is returned as is.
func (t *Transformer) Denoise(image, label *models.Plane) (*models.Plane, *models.Plane, error) {
	if err := ValidatePair(image, label); err != nil {
		return nil, nil, err
	}

	kernel := gaussianKernel(t.params.KernelSize, t.params.Sigma)
	rows, cols := image.Dims()
	rowTaps := convolveTaps(rows, kernel)
	colTaps := convolveTaps(cols, kernel)

	out := mapChannels(image, func(ch *mat.Dense) *mat.Dense {
		return applyTaps(ch, rowTaps, colTaps)
	})
	return out, label, nil
}
