// Package pipeline applies the augmentation battery to single slices and to
// whole volumes, reassembling the transformed slices into six aligned output
// volumes.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"medaugment/internal/models"
	"medaugment/pkg/augment"
)

// Recorder receives per-slice and per-volume outcomes. Implementations must
// be safe for concurrent use.
type Recorder interface {
	SliceProcessed()
	SliceFailed(stage string)
	VolumeProcessed(kept, failed int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) SliceProcessed() {}
func (nopRecorder) SliceFailed(string) {}
func (nopRecorder) VolumeProcessed(int, int, time.Duration) {}

// Params holds the pipeline configuration.
type Params struct {
	// Transform configures the augmentation battery
	Transform augment.Params

	// NumWorkers bounds how many slices of a volume are processed at once.
	// Zero or less uses every available CPU.
	NumWorkers int

	// Logger receives slice failure reports and volume summaries.
	// Nil uses slog.Default().
	Logger *slog.Logger

	// Recorder receives processing outcomes; nil disables recording
	Recorder Recorder
}

// Pipeline runs the augmentation battery. It holds no per-call state and is
// safe for concurrent use.
type Pipeline struct {
	transformer *augment.Transformer
	workers     int
	logger      *slog.Logger
	recorder    Recorder
}

// stage is one transform applied to the normalized pair.
type stage struct {
	name    string
	variant models.Variant
	apply   func(image, label *models.Plane) (*models.Plane, *models.Plane, error)
}

// NewPipeline creates a pipeline with the provided parameters.
func NewPipeline(params *Params) (*Pipeline, error) {
	transformer, err := augment.NewTransformer(params.Transform)
	if err != nil {
		return nil, err
	}

	workers := params.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder Recorder = nopRecorder{}
	if params.Recorder != nil {
		recorder = params.Recorder
	}

	return &Pipeline{
		transformer: transformer,
		workers:     workers,
		logger:      logger,
		recorder:    recorder,
	}, nil
}

func (p *Pipeline) stages() []stage {
	t := p.transformer
	return []stage{
		{name: "rotate", variant: models.Rotated, apply: t.Rotate},
		{name: "flip", variant: models.Flipped, apply: t.Flip},
		{name: "zoom", variant: models.Zoomed, apply: t.Zoom},
		{name: "contrast", variant: models.Contrast, apply: t.AdjustContrast},
		{name: "denoise", variant: models.Denoised, apply: t.Denoise},
	}
}

// ProcessPlanePair produces the six-variant augmentation set of one slice.
//
// The image is normalized and converted to grayscale, the label is
// normalized with nearest-neighbor resampling, and every remaining transform
// runs against that normalized pair. Validation failures are returned as
// augment.ErrInvalidInput, augment.ErrShapeMismatch or
// augment.ErrUnsupportedFormat; anything failing afterwards is returned as a
// *augment.StageError naming the stage.
func (p *Pipeline) ProcessPlanePair(image, label *models.Plane) (*models.AugmentationSet, error) {
	if err := augment.ValidatePair(image, label); err != nil {
		return nil, err
	}
	if label.Channels() != 1 {
		return nil, fmt.Errorf("%w: label has %d channels, want 1", augment.ErrUnsupportedFormat, label.Channels())
	}

	normImage, normLabel, err := p.transformer.Normalize(image, label)
	if err != nil {
		return nil, &augment.StageError{Stage: "normalize", Err: err}
	}
	grayImage, err := p.transformer.Grayscale(normImage)
	if err != nil {
		return nil, &augment.StageError{Stage: "grayscale", Err: err}
	}

	set := &models.AugmentationSet{}
	set.Images[models.Normalized] = grayImage
	set.Labels[models.Normalized] = normLabel

	for _, s := range p.stages() {
		img, lbl, err := s.apply(grayImage, normLabel)
		if err != nil {
			return nil, &augment.StageError{Stage: s.name, Err: err}
		}
		set.Images[s.variant] = img
		set.Labels[s.variant] = lbl
	}
	return set, nil
}

// ProcessImage augments an image that has no segmentation. The label
// positions of the returned set hold all-background planes.
func (p *Pipeline) ProcessImage(image *models.Plane) (*models.AugmentationSet, error) {
	if image.IsEmpty() {
		return nil, fmt.Errorf("%w: image plane is empty or nil", augment.ErrInvalidInput)
	}
	rows, cols := image.Dims()
	return p.ProcessPlanePair(image, models.NewPlane(rows, cols, nil))
}

// ProcessVolumePair augments every slice of a volume pair and stacks the
// results into six image volumes and six label volumes.
//
// A slice that fails is logged, recorded in the result and left out of every
// output volume; the remaining slices keep their original order. The call
// fails with augment.ErrEmptyResult if no slice survives.
func (p *Pipeline) ProcessVolumePair(image, label *models.Volume) (*VolumeResult, error) {
	start := time.Now()
	if err := validateVolumes(image, label); err != nil {
		return nil, err
	}

	depth := image.Depth()
	sets := make([]*models.AugmentationSet, depth)
	errs := make([]error, depth)

	var g errgroup.Group
	g.SetLimit(p.workers)
	for k := 0; k < depth; k++ {
		g.Go(func() error {
			sets[k], errs[k] = p.processSlice(image.Slice(k), label.Slice(k))
			return nil
		})
	}
	_ = g.Wait()

	result := newVolumeResult(depth)
	for k := 0; k < depth; k++ {
		if errs[k] != nil {
			failure := SliceFailure{Index: k, Stage: FailedStage(errs[k]), Err: errs[k]}
			result.Failures = append(result.Failures, failure)
			p.logger.Warn("skipping slice", "slice", k, "stage", failure.Stage, "error", errs[k])
			p.recorder.SliceFailed(failure.Stage)
			continue
		}
		result.add(k, sets[k])
		p.recorder.SliceProcessed()
	}

	for _, v := range models.Variants() {
		if result.Images[v].Depth() == 0 || result.Labels[v].Depth() == 0 {
			return nil, fmt.Errorf("%w: no slice of %d survived for %s: %w",
				augment.ErrEmptyResult, depth, v, result.Err())
		}
	}

	elapsed := time.Since(start)
	p.recorder.VolumeProcessed(len(result.Slices), len(result.Failures), elapsed)
	p.logger.Info("volume augmented",
		"slices", depth,
		"kept", len(result.Slices),
		"failed", len(result.Failures),
		"elapsed", elapsed)
	return result, nil
}

// processSlice runs ProcessPlanePair, turning a panic into a stage failure so
// one corrupt slice cannot take down the whole volume.
func (p *Pipeline) processSlice(image, label *models.Plane) (set *models.AugmentationSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set = nil
			err = &augment.StageError{Stage: "slice", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return p.ProcessPlanePair(image, label)
}

// validateVolumes checks the volume-level contract. Slices where either
// plane is empty are left for the per-slice check so they are skipped rather
// than failing the whole volume.
func validateVolumes(image, label *models.Volume) error {
	if image.IsEmpty() || label.IsEmpty() {
		return fmt.Errorf("%w: image or label volume is empty or nil", augment.ErrInvalidInput)
	}
	if image.Depth() != label.Depth() {
		return fmt.Errorf("%w: image has %d slices, label has %d",
			augment.ErrShapeMismatch, image.Depth(), label.Depth())
	}
	for k := 0; k < image.Depth(); k++ {
		ip, lp := image.Slice(k), label.Slice(k)
		if ip.IsEmpty() || lp.IsEmpty() {
			continue
		}
		if !ip.SameShape(lp) {
			ir, ic := ip.Dims()
			lr, lc := lp.Dims()
			return fmt.Errorf("%w: slice %d image is %dx%d, label is %dx%d",
				augment.ErrShapeMismatch, k, ir, ic, lr, lc)
		}
	}
	return nil
}

// FailedStage returns the stage named by a *augment.StageError in err's
// chain, or "validate" for errors raised before any stage ran.
func FailedStage(err error) string {
	var se *augment.StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "validate"
}
