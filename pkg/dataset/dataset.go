// Package dataset organizes NIfTI volume/label pairs for training: pair
// discovery, label class isolation and a seeded train/validation/test split.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medaugment/internal/models"
)

const niftiExt = ".nii.gz"

// Pair is a volume file and its label file.
type Pair struct {
	Volume string
	Label  string
}

// DiscoverPairs returns the .nii.gz files in dir whose names start with
// volumePrefix and labelPrefix, paired in sorted order. Neither prefix may
// start with the other.
func DiscoverPairs(dir, volumePrefix, labelPrefix string) ([]Pair, error) {
	if volumePrefix == "" || labelPrefix == "" ||
		strings.HasPrefix(volumePrefix, labelPrefix) || strings.HasPrefix(labelPrefix, volumePrefix) {
		return nil, fmt.Errorf("ambiguous prefixes %q and %q", volumePrefix, labelPrefix)
	}
	return discover(dir,
		func(name string) bool { return strings.HasPrefix(name, volumePrefix) },
		func(name string) bool { return strings.HasPrefix(name, labelPrefix) })
}

// DiscoverAugmented returns the augmented volume/label pairs written into dir.
func DiscoverAugmented(dir string) ([]Pair, error) {
	return discover(dir,
		func(name string) bool { return strings.Contains(name, "_augmented_volume_") },
		func(name string) bool { return strings.Contains(name, "_augmented_label_") })
}

func discover(dir string, isVolume, isLabel func(string) bool) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading data directory: %w", err)
	}

	var volumes, labels []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, niftiExt) {
			continue
		}
		switch {
		case isVolume(name):
			volumes = append(volumes, filepath.Join(dir, name))
		case isLabel(name):
			labels = append(labels, filepath.Join(dir, name))
		}
	}
	if len(volumes) != len(labels) {
		return nil, fmt.Errorf("found %d volume files but %d label files", len(volumes), len(labels))
	}

	sort.Strings(volumes)
	sort.Strings(labels)
	pairs := make([]Pair, len(volumes))
	for i := range volumes {
		pairs[i] = Pair{Volume: volumes[i], Label: labels[i]}
	}
	return pairs, nil
}

// IsolateClass returns a binary label volume: voxels of the given class
// become 1, everything else 0. Values are truncated to integers first.
func IsolateClass(vol *models.Volume, class int) *models.Volume {
	return vol.Map(func(v float64) float64 {
		if int(v) == class {
			return 1
		}
		return 0
	})
}

// Split is a partition of pairs into training, validation and test groups.
type Split struct {
	Train []Pair
	Val   []Pair
	Test  []Pair
}

// Groups returns the groups keyed by their directory name.
func (s *Split) Groups() map[string][]Pair {
	return map[string][]Pair{"train": s.Train, "val": s.Val, "test": s.Test}
}

// NewSplit shuffles pairs with a PCG source seeded by seed and cuts them by
// the train, validation and test fractions in ratios. The held-out share is
// rounded up and the test share of it rounded up again, leaving at least one
// training pair. At least two pairs are required.
func NewSplit(pairs []Pair, ratios [3]float64, seed uint64) (*Split, error) {
	n := len(pairs)
	if n < 2 {
		return nil, fmt.Errorf("need at least 2 pairs to split, have %d", n)
	}
	train, val, test := ratios[0], ratios[1], ratios[2]
	if train <= 0 || val < 0 || test < 0 {
		return nil, fmt.Errorf("invalid split ratios %v", ratios)
	}
	total := train + val + test
	heldOut := (val + test) / total

	nHeld := ceil(heldOut * float64(n))
	if nHeld > n-1 {
		nHeld = n - 1
	}
	nTest := 0
	if val+test > 0 {
		nTest = ceil(test / (val + test) * float64(nHeld))
	}
	nVal := nHeld - nTest

	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)
	shuffled := make([]Pair, n)
	for i, j := range perm {
		shuffled[i] = pairs[j]
	}

	nTrain := n - nHeld
	return &Split{
		Train: shuffled[:nTrain],
		Val:   shuffled[nTrain : nTrain+nVal],
		Test:  shuffled[nTrain+nVal:],
	}, nil
}

// ceil rounds up, ignoring floating point noise below 1e-9.
func ceil(x float64) int {
	return int(math.Ceil(x - 1e-9))
}

// MoveSplit moves every pair into dir/train, dir/val and dir/test. A file that
// cannot be moved does not stop the others; the failures are returned joined.
func MoveSplit(dir string, s *Split) error {
	var errs []error
	for name, pairs := range s.Groups() {
		target := filepath.Join(dir, name)
		if err := os.MkdirAll(target, 0755); err != nil {
			errs = append(errs, fmt.Errorf("error creating %s: %w", target, err))
			continue
		}
		for _, p := range pairs {
			for _, path := range []string{p.Volume, p.Label} {
				if err := os.Rename(path, filepath.Join(target, filepath.Base(path))); err != nil {
					errs = append(errs, fmt.Errorf("error moving %s: %w", path, err))
				}
			}
		}
	}
	return errors.Join(errs...)
}
