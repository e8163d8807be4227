package augment

import (
	"errors"
	"fmt"

	"medaugment/internal/models"
)

// Error kinds returned by the transform library and the pipeline. Callers
// match them with errors.Is.
var (
	// ErrInvalidInput reports a nil or empty plane or volume, or a plane too
	// small for the requested transform.
	ErrInvalidInput = errors.New("invalid input")

	// ErrShapeMismatch reports an image and label that differ in shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnsupportedFormat reports an unexpected channel count.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrStageFailure is matched by every *StageError.
	ErrStageFailure = errors.New("stage failure")

	// ErrEmptyResult reports a volume for which no slice survived.
	ErrEmptyResult = errors.New("empty result")
)

// StageError wraps a failure raised inside a named processing stage.
type StageError struct {
	// Stage is the name of the stage that failed, e.g. "normalize" or "zoom"
	Stage string

	// Err is the underlying cause
	Err error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is makes every StageError match ErrStageFailure.
func (e *StageError) Is(target error) bool {
	return target == ErrStageFailure
}

// ValidatePair checks the preconditions shared by every pair operation:
// both planes present and non-empty, and of identical shape.
func ValidatePair(image, label *models.Plane) error {
	if image.IsEmpty() || label.IsEmpty() {
		return fmt.Errorf("%w: image or label plane is empty or nil", ErrInvalidInput)
	}
	if !image.SameShape(label) {
		ir, ic := image.Dims()
		lr, lc := label.Dims()
		return fmt.Errorf("%w: image is %dx%d, label is %dx%d", ErrShapeMismatch, ir, ic, lr, lc)
	}
	return nil
}
