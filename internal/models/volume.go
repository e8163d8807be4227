package models

import (
	"fmt"
)

// Volume represents a 3-D scan as an ordered stack of planes along the
// slice axis. A label volume has the same shape as its image volume.
//
// Individual planes may be empty when a slice could not be decoded; such
// slices are skipped during augmentation rather than rejected up front.
type Volume struct {
	// Planes holds the slices in spatial order
	Planes []*Plane
}

// NewVolume creates a volume from planes in slice order.
func NewVolume(planes ...*Plane) *Volume {
	return &Volume{Planes: planes}
}

// NewVolumeFromData builds a volume from voxel data stored with the row index
// varying fastest, then the column index, then the slice index (the on-disk
// layout of NIfTI, where x maps to rows and y to columns).
func NewVolumeFromData(data []float64, rows, cols, depth int) (*Volume, error) {
	if rows <= 0 || cols <= 0 || depth <= 0 {
		return nil, fmt.Errorf("invalid volume dimensions %dx%dx%d", rows, cols, depth)
	}
	if len(data) != rows*cols*depth {
		return nil, fmt.Errorf("volume data has %d values, want %d", len(data), rows*cols*depth)
	}

	planes := make([]*Plane, depth)
	sliceSize := rows * cols
	for k := 0; k < depth; k++ {
		values := make([]float64, sliceSize)
		base := k * sliceSize
		for c := 0; c < cols; c++ {
			for r := 0; r < rows; r++ {
				values[r*cols+c] = data[base+c*rows+r]
			}
		}
		planes[k] = NewPlane(rows, cols, values)
	}
	return &Volume{Planes: planes}, nil
}

// Depth returns the number of slices in the volume.
func (v *Volume) Depth() int {
	if v == nil {
		return 0
	}
	return len(v.Planes)
}

// IsEmpty reports whether the volume is nil or has no slices.
func (v *Volume) IsEmpty() bool {
	return v.Depth() == 0
}

// Slice returns the plane at slice index k.
func (v *Volume) Slice(k int) *Plane {
	return v.Planes[k]
}

// Dims returns the per-slice dimensions taken from the first non-empty plane.
func (v *Volume) Dims() (rows, cols int) {
	if v == nil {
		return 0, 0
	}
	for _, p := range v.Planes {
		if !p.IsEmpty() {
			return p.Dims()
		}
	}
	return 0, 0
}

// Data flattens the volume back into the layout accepted by
// NewVolumeFromData. Every plane must be single-channel and share the same
// dimensions.
func (v *Volume) Data() (data []float64, rows, cols, depth int, err error) {
	if v.IsEmpty() {
		return nil, 0, 0, 0, fmt.Errorf("volume has no slices")
	}
	rows, cols = v.Dims()
	depth = v.Depth()
	if rows == 0 || cols == 0 {
		return nil, 0, 0, 0, fmt.Errorf("volume has no non-empty slices")
	}

	sliceSize := rows * cols
	data = make([]float64, sliceSize*depth)
	for k, p := range v.Planes {
		r, c := p.Dims()
		if r != rows || c != cols {
			return nil, 0, 0, 0, fmt.Errorf("slice %d is %dx%d, want %dx%d", k, r, c, rows, cols)
		}
		if p.Channels() != 1 {
			return nil, 0, 0, 0, fmt.Errorf("slice %d has %d channels, want 1", k, p.Channels())
		}
		raw := p.Channel(0).RawMatrix()
		base := k * sliceSize
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				data[base+x*rows+y] = raw.Data[y*raw.Stride+x]
			}
		}
	}
	return data, rows, cols, depth, nil
}

// Map returns a new volume with fn applied to every voxel of every
// single-channel plane. Empty planes are carried over unchanged.
func (v *Volume) Map(fn func(float64) float64) *Volume {
	planes := make([]*Plane, v.Depth())
	for k, p := range v.Planes {
		if p.IsEmpty() {
			planes[k] = p
			continue
		}
		rows, cols := p.Dims()
		values := p.Values()
		for i, val := range values {
			values[i] = fn(val)
		}
		planes[k] = NewPlane(rows, cols, values)
	}
	return &Volume{Planes: planes}
}
