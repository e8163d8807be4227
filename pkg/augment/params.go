package augment

import (
	"fmt"
)

// Interpolation selects the resampling kernel used when a plane is resized
// or warped.
type Interpolation string

const (
	// Nearest copies the closest source value. Labels always use it so that
	// no fractional class IDs are invented.
	Nearest Interpolation = "nearest"

	// Bilinear blends the four closest source values.
	Bilinear Interpolation = "bilinear"

	// Area averages the source pixels covered by each destination pixel when
	// shrinking and behaves like Bilinear when enlarging.
	Area Interpolation = "area"
)

// Params holds the fixed numeric parameters of the transform battery.
type Params struct {
	// Size is the edge length every plane is normalized to
	Size int

	// Interpolation is the smooth kernel used for image resizing. Rotation
	// always uses Bilinear for images.
	Interpolation Interpolation

	// Angle is the rotation angle in degrees, counter-clockwise
	Angle float64

	// CropStart and CropEnd bound the central zoom window on both axes,
	// as a half-open pixel range
	CropStart int
	CropEnd   int

	// ContrastGain and ContrastOffset define the linear intensity mapping
	ContrastGain   float64
	ContrastOffset float64

	// ContrastMin and ContrastMax bound the saturated output range
	ContrastMin float64
	ContrastMax float64

	// KernelSize is the edge length of the Gaussian denoising kernel
	KernelSize int

	// Sigma is the Gaussian standard deviation; zero or less derives it
	// from KernelSize
	Sigma float64
}

// DefaultParams returns the parameters of the reference augmentation battery.
func DefaultParams() Params {
	return Params{
		Size:           512,
		Interpolation:  Bilinear,
		Angle:          30,
		CropStart:      50,
		CropEnd:        462,
		ContrastGain:   0.35,
		ContrastOffset: 0,
		ContrastMin:    0,
		ContrastMax:    255,
		KernelSize:     5,
		Sigma:          0,
	}
}

// Validate checks that the parameters describe a usable transform battery.
func (p Params) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("size must be positive, got %d", p.Size)
	}
	switch p.Interpolation {
	case Bilinear, Area:
	case Nearest:
		return fmt.Errorf("nearest interpolation is reserved for labels")
	default:
		return fmt.Errorf("unknown interpolation %q", p.Interpolation)
	}
	if p.CropStart < 0 || p.CropEnd <= p.CropStart {
		return fmt.Errorf("invalid zoom window [%d:%d]", p.CropStart, p.CropEnd)
	}
	if p.CropEnd > p.Size {
		return fmt.Errorf("zoom window [%d:%d] exceeds normalized size %d", p.CropStart, p.CropEnd, p.Size)
	}
	if p.KernelSize <= 0 || p.KernelSize%2 == 0 {
		return fmt.Errorf("kernel size must be odd and positive, got %d", p.KernelSize)
	}
	if p.ContrastMin > p.ContrastMax {
		return fmt.Errorf("contrast range [%g, %g] is inverted", p.ContrastMin, p.ContrastMax)
	}
	return nil
}
