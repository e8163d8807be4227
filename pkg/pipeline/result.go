package pipeline

import (
	"errors"
	"fmt"

	"medaugment/internal/models"
)

// SliceFailure records why one slice was left out of a volume result.
type SliceFailure struct {
	// Index is the slice position in the input volume
	Index int

	// Stage names the failing stage, or "validate" for rejected input
	Stage string

	// Err is the failure as returned by ProcessPlanePair
	Err error
}

func (f SliceFailure) Error() string {
	return fmt.Sprintf("slice %d: %v", f.Index, f.Err)
}

func (f SliceFailure) Unwrap() error {
	return f.Err
}

// VolumeResult holds the six augmented image and label volumes of one
// volume pair together with the slices that were skipped.
type VolumeResult struct {
	// Images and Labels are indexed by models.Variant
	Images [models.NumVariants]*models.Volume
	Labels [models.NumVariants]*models.Volume

	// Slices lists, in order, the input slice index behind each output slice
	Slices []int

	// Failures lists the skipped slices in input order
	Failures []SliceFailure

	// Depth is the slice count of the input volumes
	Depth int
}

func newVolumeResult(depth int) *VolumeResult {
	r := &VolumeResult{Depth: depth}
	for i := range r.Images {
		r.Images[i] = &models.Volume{Planes: make([]*models.Plane, 0, depth)}
		r.Labels[i] = &models.Volume{Planes: make([]*models.Plane, 0, depth)}
	}
	return r
}

// add appends every variant of one slice, keeping the six outputs aligned.
func (r *VolumeResult) add(index int, set *models.AugmentationSet) {
	r.Slices = append(r.Slices, index)
	for i := range r.Images {
		r.Images[i].Planes = append(r.Images[i].Planes, set.Images[i])
		r.Labels[i].Planes = append(r.Labels[i].Planes, set.Labels[i])
	}
}

// Pair returns the image and label volumes for a variant.
func (r *VolumeResult) Pair(v models.Variant) (image, label *models.Volume) {
	return r.Images[v], r.Labels[v]
}

// Err joins every slice failure, or returns nil if all slices survived.
func (r *VolumeResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// FailedIndices returns the indices of the skipped slices.
func (r *VolumeResult) FailedIndices() []int {
	out := make([]int, len(r.Failures))
	for i, f := range r.Failures {
		out[i] = f.Index
	}
	return out
}
