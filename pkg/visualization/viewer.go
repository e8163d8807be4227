// Package visualization renders volumes and augmentation sets as images for
// visual inspection.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/stat"

	"medaugment/internal/models"
)

// Viewer extracts orthogonal slices from a volume. Voxel (x, y, z) maps to
// row x, column y of plane z.
type Viewer struct {
	volume *models.Volume

	rows, cols, depth int

	// lo and hi bound the intensity window mapped to black and white
	lo, hi float64
}

// NewViewer creates a viewer windowed to the 1st and 99th percentile of the
// volume's intensities. Every plane must be non-empty with the same shape.
func NewViewer(vol *models.Volume) (*Viewer, error) {
	if vol.IsEmpty() {
		return nil, fmt.Errorf("volume has no slices")
	}
	rows, cols := vol.Dims()
	var values []float64
	for k, p := range vol.Planes {
		r, c := p.Dims()
		if r != rows || c != cols {
			return nil, fmt.Errorf("slice %d is %dx%d, want %dx%d", k, r, c, rows, cols)
		}
		values = append(values, p.Values()...)
	}

	sort.Float64s(values)
	v := &Viewer{
		volume: vol,
		rows:   rows,
		cols:   cols,
		depth:  vol.Depth(),
		lo:     stat.Quantile(0.01, stat.Empirical, values, nil),
		hi:     stat.Quantile(0.99, stat.Empirical, values, nil),
	}
	return v, nil
}

// Window returns the intensity range mapped to black and white.
func (v *Viewer) Window() (lo, hi float64) {
	return v.lo, v.hi
}

func (v *Viewer) gray(value float64) color.Gray16 {
	if v.hi <= v.lo {
		if value > v.lo {
			return color.Gray16{Y: 65535}
		}
		return color.Gray16{}
	}
	t := (value - v.lo) / (v.hi - v.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, t*65535)))}
}

// ExtractSlice extracts a 2D slice from the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.rows {
			return nil, fmt.Errorf("position %d exceeds x extent %d", position, v.rows)
		}
		img = image.NewGray16(image.Rect(0, 0, v.depth, v.cols))
		for z := 0; z < v.depth; z++ {
			p := v.volume.Slice(z)
			for y := 0; y < v.cols; y++ {
				img.SetGray16(z, y, v.gray(p.At(position, y)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.cols {
			return nil, fmt.Errorf("position %d exceeds y extent %d", position, v.cols)
		}
		img = image.NewGray16(image.Rect(0, 0, v.rows, v.depth))
		for z := 0; z < v.depth; z++ {
			p := v.volume.Slice(z)
			for x := 0; x < v.rows; x++ {
				img.SetGray16(x, z, v.gray(p.At(x, position)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds z extent %d", position, v.depth)
		}
		img = image.NewGray16(image.Rect(0, 0, v.rows, v.cols))
		p := v.volume.Slice(position)
		for y := 0; y < v.cols; y++ {
			for x := 0; x < v.rows; x++ {
				img.SetGray16(x, y, v.gray(p.At(x, y)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SavePNG writes an image as PNG, creating the parent directory
func SavePNG(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("error encoding %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// and returns the number of files written
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.rows
	case "y", "Y":
		maxPos = v.cols
	case "z", "Z":
		maxPos = v.depth
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SavePNG(img, filename); err != nil {
			return pos, err
		}
	}

	return maxPos, nil
}
