package augment

import (
	"math"

	"golang.org/x/image/math/f64"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// tap is one weighted source sample contributing to a destination pixel.
type tap struct {
	idx int
	w   float64
}

// resizeTaps returns, for every destination index, the source samples that
// contribute to it when an axis of length n is resampled to length m.
func resizeTaps(n, m int, kind Interpolation) [][]tap {
	scale := float64(n) / float64(m)
	taps := make([][]tap, m)

	switch {
	case kind == Nearest:
		for d := range taps {
			s := int(math.Floor(float64(d) * scale))
			if s > n-1 {
				s = n - 1
			}
			taps[d] = []tap{{idx: s, w: 1}}
		}

	case kind == Area && scale > 1:
		for d := range taps {
			start := float64(d) * scale
			end := start + scale
			var row []tap
			for s := int(math.Floor(start)); float64(s) < end && s < n; s++ {
				overlap := math.Min(end, float64(s+1)) - math.Max(start, float64(s))
				if overlap > 0 {
					row = append(row, tap{idx: s, w: overlap / scale})
				}
			}
			taps[d] = row
		}

	default:
		// Pixel centers are aligned, so an axis resized to its own length
		// maps every pixel onto itself with weight 1.
		for d := range taps {
			fx := (float64(d)+0.5)*scale - 0.5
			s := int(math.Floor(fx))
			f := fx - float64(s)
			if s < 0 {
				s, f = 0, 0
			}
			if s >= n-1 {
				s, f = n-1, 0
			}
			row := []tap{{idx: s, w: 1 - f}}
			if f > 0 {
				row = append(row, tap{idx: s + 1, w: f})
			}
			taps[d] = row
		}
	}
	return taps
}

// applyTaps runs a separable filter: colTaps along each row, then rowTaps
// along each column. The output has len(rowTaps) rows and len(colTaps)
// columns.
func applyTaps(src mat.Matrix, rowTaps, colTaps [][]tap) *mat.Dense {
	srcRows, _ := src.Dims()

	tmp := mat.NewDense(srcRows, len(colTaps), nil)
	for r := 0; r < srcRows; r++ {
		for c, taps := range colTaps {
			var sum float64
			for _, t := range taps {
				sum += t.w * src.At(r, t.idx)
			}
			tmp.Set(r, c, sum)
		}
	}

	dst := mat.NewDense(len(rowTaps), len(colTaps), nil)
	for r, taps := range rowTaps {
		for c := range colTaps {
			var sum float64
			for _, t := range taps {
				sum += t.w * tmp.At(t.idx, c)
			}
			dst.Set(r, c, sum)
		}
	}
	return dst
}

// resize resamples src to rows x cols.
func resize(src mat.Matrix, rows, cols int, kind Interpolation) *mat.Dense {
	srcRows, srcCols := src.Dims()
	return applyTaps(src, resizeTaps(srcRows, rows, kind), resizeTaps(srcCols, cols, kind))
}

// rotationMatrix returns the affine transform rotating by angle degrees
// (counter-clockwise on screen) about (cx, cy), mapping source to
// destination coordinates.
func rotationMatrix(cx, cy, angle float64) f64.Aff3 {
	rad := angle * math.Pi / 180
	alpha := math.Cos(rad)
	beta := math.Sin(rad)
	return f64.Aff3{
		alpha, beta, (1-alpha)*cx - beta*cy,
		-beta, alpha, beta*cx + (1-alpha)*cy,
	}
}

// invertAffine inverts a 2-D affine transform.
func invertAffine(m f64.Aff3) (f64.Aff3, error) {
	a := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[3], m[4], m[5],
		0, 0, 1,
	})
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return f64.Aff3{}, err
	}
	return f64.Aff3{
		inv.At(0, 0), inv.At(0, 1), inv.At(0, 2),
		inv.At(1, 0), inv.At(1, 1), inv.At(1, 2),
	}, nil
}

// warpAffine samples src through inv, which maps destination (x=col, y=row)
// coordinates back into the source. Samples falling outside src read as 0.
func warpAffine(src *mat.Dense, inv f64.Aff3, kind Interpolation) *mat.Dense {
	rows, cols := src.Dims()
	dst := mat.NewDense(rows, cols, nil)

	at := func(y, x int) float64 {
		if x < 0 || y < 0 || x >= cols || y >= rows {
			return 0
		}
		return src.At(y, x)
	}

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			fx, fy := float64(x), float64(y)
			sx := inv[0]*fx + inv[1]*fy + inv[2]
			sy := inv[3]*fx + inv[4]*fy + inv[5]

			if kind == Nearest {
				dst.Set(y, x, at(int(math.Round(sy)), int(math.Round(sx))))
				continue
			}

			x0 := int(math.Floor(sx))
			y0 := int(math.Floor(sy))
			ax := sx - float64(x0)
			ay := sy - float64(y0)
			top := (1-ax)*at(y0, x0) + ax*at(y0, x0+1)
			bottom := (1-ax)*at(y0+1, x0) + ax*at(y0+1, x0+1)
			dst.Set(y, x, (1-ay)*top+ay*bottom)
		}
	}
	return dst
}

// gaussianKernel returns a normalized 1-D Gaussian kernel. A non-positive
// sigma selects the fixed binomial kernels for sizes up to 7 and derives
// sigma from the size otherwise.
func gaussianKernel(size int, sigma float64) []float64 {
	if sigma <= 0 {
		switch size {
		case 1:
			return []float64{1}
		case 3:
			return []float64{0.25, 0.5, 0.25}
		case 5:
			return []float64{0.0625, 0.25, 0.375, 0.25, 0.0625}
		case 7:
			return []float64{0.03125, 0.109375, 0.21875, 0.28125, 0.21875, 0.109375, 0.03125}
		}
		sigma = 0.3*((float64(size)-1)*0.5-1) + 0.8
	}

	kernel := make([]float64, size)
	center := float64(size-1) / 2
	for i := range kernel {
		d := float64(i) - center
		kernel[i] = math.Exp(-d * d / (2 * sigma * sigma))
	}
	floats.Scale(1/floats.Sum(kernel), kernel)
	return kernel
}

// reflect101 mirrors an out-of-range index without repeating the edge
// sample: -1 maps to 1 and n maps to n-2.
func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		}
		if i >= n {
			i = 2*n - 2 - i
		}
	}
	return i
}

// convolveTaps expands a kernel into per-index taps over an axis of length n.
func convolveTaps(n int, kernel []float64) [][]tap {
	radius := len(kernel) / 2
	taps := make([][]tap, n)
	for d := range taps {
		row := make([]tap, len(kernel))
		for k, w := range kernel {
			row[k] = tap{idx: reflect101(d+k-radius, n), w: w}
		}
		taps[d] = row
	}
	return taps
}
