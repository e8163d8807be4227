package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Plane represents a single 2-D slice of an image or a label mask.
//
// A plane holds one matrix per channel. Grayscale data and labels carry a
// single channel; color data carries three channels in B, G, R order. All
// channels share the same dimensions. Planes are treated as immutable once
// built: transforms always allocate new planes for their outputs.
type Plane struct {
	// channels holds the pixel data, one matrix per channel
	channels []*mat.Dense
}

// NewPlane creates a single-channel plane from row-major data.
// A nil data slice allocates a zero-filled plane; otherwise data must hold
// exactly rows*cols values. Non-positive dimensions yield an empty plane.
func NewPlane(rows, cols int, data []float64) *Plane {
	if rows <= 0 || cols <= 0 {
		return &Plane{}
	}
	return &Plane{channels: []*mat.Dense{mat.NewDense(rows, cols, data)}}
}

// NewPlaneFromChannels creates a plane from one matrix per channel.
// The matrices are used directly, not copied.
func NewPlaneFromChannels(channels ...*mat.Dense) (*Plane, error) {
	if len(channels) == 0 {
		return &Plane{}, nil
	}
	rows, cols := channels[0].Dims()
	for i, ch := range channels {
		if ch == nil {
			return nil, fmt.Errorf("channel %d is nil", i)
		}
		r, c := ch.Dims()
		if r != rows || c != cols {
			return nil, fmt.Errorf("channel %d is %dx%d, want %dx%d", i, r, c, rows, cols)
		}
	}
	return &Plane{channels: channels}, nil
}

// IsEmpty reports whether the plane is nil or holds no pixels.
func (p *Plane) IsEmpty() bool {
	return p == nil || len(p.channels) == 0 || p.channels[0] == nil || p.channels[0].IsEmpty()
}

// Dims returns the number of rows and columns of the plane.
func (p *Plane) Dims() (rows, cols int) {
	if p.IsEmpty() {
		return 0, 0
	}
	return p.channels[0].Dims()
}

// SameShape reports whether both planes have the same rows and columns.
func (p *Plane) SameShape(other *Plane) bool {
	r1, c1 := p.Dims()
	r2, c2 := other.Dims()
	return r1 == r2 && c1 == c2
}

// Channels returns the number of channels in the plane.
func (p *Plane) Channels() int {
	if p == nil {
		return 0
	}
	return len(p.channels)
}

// Channel returns the matrix backing channel i.
func (p *Plane) Channel(i int) *mat.Dense {
	return p.channels[i]
}

// At returns the value of the first channel at (row, col).
func (p *Plane) At(row, col int) float64 {
	return p.channels[0].At(row, col)
}

// Clone returns a deep copy of the plane.
func (p *Plane) Clone() *Plane {
	if p.IsEmpty() {
		return &Plane{}
	}
	channels := make([]*mat.Dense, len(p.channels))
	for i, ch := range p.channels {
		channels[i] = mat.DenseCopyOf(ch)
	}
	return &Plane{channels: channels}
}

// Values returns a row-major copy of the first channel.
func (p *Plane) Values() []float64 {
	if p.IsEmpty() {
		return nil
	}
	rows, cols := p.Dims()
	raw := p.channels[0].RawMatrix()
	out := make([]float64, 0, rows*cols)
	for r := 0; r < rows; r++ {
		out = append(out, raw.Data[r*raw.Stride:r*raw.Stride+cols]...)
	}
	return out
}

// Equal reports whether both planes hold the same channels and values.
func (p *Plane) Equal(other *Plane) bool {
	if p.IsEmpty() || other.IsEmpty() {
		return p.IsEmpty() && other.IsEmpty()
	}
	if p.Channels() != other.Channels() || !p.SameShape(other) {
		return false
	}
	for i := range p.channels {
		if !mat.Equal(p.channels[i], other.channels[i]) {
			return false
		}
	}
	return true
}
