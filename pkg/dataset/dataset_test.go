package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"medaugment/internal/models"
)

// touch creates empty files in dir
func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("Failed to create %s: %v", name, err)
		}
	}
}

// createPairs builds n pairs with distinct names
func createPairs(n int) []Pair {
	pairs := make([]Pair, n)
	for i := range pairs {
		pairs[i] = Pair{
			Volume: fmt.Sprintf("v%02d_augmented_volume_0.nii.gz", i),
			Label:  fmt.Sprintf("v%02d_augmented_label_0.nii.gz", i),
		}
	}
	return pairs
}

func TestDiscoverPairs(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "volume-10.nii.gz", "volume-2.nii.gz", "labels-10.nii.gz", "labels-2.nii.gz",
		"volume-3.nii", "readme.txt")

	pairs, err := DiscoverPairs(dir, "volume", "labels")
	if err != nil {
		t.Fatalf("DiscoverPairs failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d", len(pairs))
	}
	if filepath.Base(pairs[0].Volume) != "volume-10.nii.gz" || filepath.Base(pairs[0].Label) != "labels-10.nii.gz" {
		t.Errorf("Unexpected first pair %+v", pairs[0])
	}

	touch(t, dir, "volume-4.nii.gz")
	if _, err := DiscoverPairs(dir, "volume", "labels"); err == nil {
		t.Error("Expected an error for unmatched volume files")
	}
}

func TestDiscoverPairsOverlappingPrefixes(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "vol-1.nii.gz", "vollabel-1.nii.gz")

	for _, prefixes := range [][2]string{{"vol", "vollabel"}, {"vollabel", "vol"}, {"vol", ""}} {
		if _, err := DiscoverPairs(dir, prefixes[0], prefixes[1]); err == nil {
			t.Errorf("Expected an error for prefixes %q", prefixes)
		}
	}
}

func TestDiscoverAugmented(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"volume-0_augmented_volume_0.nii.gz", "volume-0_augmented_label_0.nii.gz",
		"volume-0_augmented_volume_1.nii.gz", "volume-0_augmented_label_1.nii.gz")

	pairs, err := DiscoverAugmented(dir)
	if err != nil {
		t.Fatalf("DiscoverAugmented failed: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Expected 2 pairs, got %d", len(pairs))
	}
	if filepath.Base(pairs[1].Label) != "volume-0_augmented_label_1.nii.gz" {
		t.Errorf("Unexpected pairing %+v", pairs[1])
	}
}

func TestIsolateClass(t *testing.T) {
	plane := models.NewPlane(2, 3, []float64{0, 3, 1, 3.7, 2, 3})
	vol := IsolateClass(models.NewVolume(plane, models.NewPlane(0, 0, nil)), 3)

	want := []float64{0, 1, 0, 1, 0, 1}
	got := vol.Slice(0).Values()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Voxel %d: expected %g, got %g", i, want[i], got[i])
		}
	}
	if !vol.Slice(1).IsEmpty() {
		t.Error("Expected the empty slice to be carried over")
	}
	if plane.At(0, 1) != 3 {
		t.Error("IsolateClass modified its input")
	}
}

func TestNewSplitProportions(t *testing.T) {
	ratios := [3]float64{0.7, 0.2, 0.1}
	tests := []struct {
		n                int
		train, val, test int
	}{
		{10, 7, 2, 1},
		{2, 1, 0, 1},
		{3, 2, 0, 1},
		{20, 14, 4, 2},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("N%d", tt.n), func(t *testing.T) {
			s, err := NewSplit(createPairs(tt.n), ratios, 42)
			if err != nil {
				t.Fatalf("NewSplit failed: %v", err)
			}
			if len(s.Train) != tt.train || len(s.Val) != tt.val || len(s.Test) != tt.test {
				t.Errorf("Expected %d/%d/%d, got %d/%d/%d", tt.train, tt.val, tt.test,
					len(s.Train), len(s.Val), len(s.Test))
			}

			seen := map[Pair]bool{}
			for _, group := range s.Groups() {
				for _, p := range group {
					if seen[p] {
						t.Errorf("Pair %v assigned twice", p)
					}
					seen[p] = true
				}
			}
			if len(seen) != tt.n {
				t.Errorf("Expected %d assigned pairs, got %d", tt.n, len(seen))
			}
		})
	}
}

func TestNewSplitDeterministic(t *testing.T) {
	pairs := createPairs(15)
	a, err := NewSplit(pairs, [3]float64{0.7, 0.2, 0.1}, 42)
	if err != nil {
		t.Fatalf("NewSplit failed: %v", err)
	}
	b, _ := NewSplit(pairs, [3]float64{0.7, 0.2, 0.1}, 42)
	for name, group := range a.Groups() {
		other := b.Groups()[name]
		for i := range group {
			if group[i] != other[i] {
				t.Fatalf("Group %s differs between runs with the same seed", name)
			}
		}
	}
}

func TestNewSplitErrors(t *testing.T) {
	if _, err := NewSplit(createPairs(1), [3]float64{0.7, 0.2, 0.1}, 42); err == nil {
		t.Error("Expected an error for a single pair")
	}
	if _, err := NewSplit(createPairs(5), [3]float64{0, 0.5, 0.5}, 42); err == nil {
		t.Error("Expected an error for an empty train share")
	}
}

func TestMoveSplit(t *testing.T) {
	dir := t.TempDir()
	var names []string
	for i := 0; i < 4; i++ {
		names = append(names,
			fmt.Sprintf("v%d_augmented_volume_0.nii.gz", i),
			fmt.Sprintf("v%d_augmented_label_0.nii.gz", i))
	}
	touch(t, dir, names...)

	pairs, err := DiscoverAugmented(dir)
	if err != nil {
		t.Fatalf("DiscoverAugmented failed: %v", err)
	}
	s, err := NewSplit(pairs, [3]float64{0.7, 0.2, 0.1}, 42)
	if err != nil {
		t.Fatalf("NewSplit failed: %v", err)
	}
	// A missing file is reported without stopping the move.
	if err := os.Remove(s.Train[0].Label); err != nil {
		t.Fatal(err)
	}

	if err := MoveSplit(dir, s); err == nil {
		t.Error("Expected an error for the missing label")
	}
	for name, group := range s.Groups() {
		for _, p := range group {
			if _, err := os.Stat(filepath.Join(dir, name, filepath.Base(p.Volume))); err != nil {
				t.Errorf("Volume %s was not moved to %s: %v", p.Volume, name, err)
			}
		}
	}
}
