package models

// Variant identifies one position in an augmentation set
type Variant int

const (
	// Normalized is the resized, grayscale input pair
	Normalized Variant = iota
	Rotated
	Flipped
	Zoomed
	Contrast
	Denoised
)

// NumVariants is the fixed size of every augmentation set.
const NumVariants = 6

var variantNames = [NumVariants]string{
	"normalized",
	"rotated",
	"flipped",
	"zoomed",
	"contrast",
	"denoised",
}

// String returns the stable name used in logs and output file names.
func (v Variant) String() string {
	if v < 0 || int(v) >= NumVariants {
		return "unknown"
	}
	return variantNames[v]
}

// Variants returns every variant in set order.
func Variants() []Variant {
	out := make([]Variant, NumVariants)
	for i := range out {
		out[i] = Variant(i)
	}
	return out
}

// AugmentationSet holds the six transformed variants of one plane pair.
// Images[i] and Labels[i] always belong to the same variant and share shape.
//
// The label planes of the photometric variants (Contrast, Denoised) are the
// normalized label itself; the planes are immutable, so sharing is safe.
type AugmentationSet struct {
	Images [NumVariants]*Plane
	Labels [NumVariants]*Plane
}

// Pair returns the image and label planes for a variant.
func (s *AugmentationSet) Pair(v Variant) (image, label *Plane) {
	return s.Images[v], s.Labels[v]
}
