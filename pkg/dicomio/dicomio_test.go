package dicomio

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"medaugment/internal/models"
)

// createSourceSlice builds an in-memory source slice with minimal patient
// and series elements
func createSourceSlice(t *testing.T, name string, instance int) *Slice {
	t.Helper()
	var elems []*dicom.Element
	for _, e := range []struct {
		t tag.Tag
		v any
	}{
		{tag.PatientName, []string{"Test^Patient"}},
		{tag.PatientID, []string{"P001"}},
		{tag.StudyInstanceUID, []string{"1.2.3"}},
		{tag.SeriesInstanceUID, []string{"1.2.3.4"}},
		{tag.Modality, []string{"CT"}},
		{tag.InstanceNumber, []string{strconv.Itoa(instance)}},
	} {
		elem, err := dicom.NewElement(e.t, e.v)
		if err != nil {
			t.Fatalf("Failed to create element: %v", err)
		}
		elems = append(elems, elem)
	}
	return &Slice{
		Path:           filepath.Join("source", name+".dcm"),
		Dataset:        dicom.Dataset{Elements: elems},
		InstanceNumber: instance,
	}
}

// createTestSet builds an augmentation set whose variant v holds values
// offset by v, with negative intensities in every plane
func createTestSet(rows, cols int) *models.AugmentationSet {
	set := &models.AugmentationSet{}
	for _, v := range models.Variants() {
		data := make([]float64, rows*cols)
		for i := range data {
			data[i] = float64(i%50) - 20 + float64(v)*100
		}
		set.Images[v] = models.NewPlane(rows, cols, data)
		set.Labels[v] = models.NewPlane(rows, cols, nil)
	}
	return set
}

// TestWriteAugmentedRoundTrip verifies naming, metadata and pixel values
func TestWriteAugmentedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := createSourceSlice(t, "IM0001", 7)
	set := createTestSet(8, 10)

	written, err := WriteAugmented(dir, src, set)
	if err != nil {
		t.Fatalf("WriteAugmented failed: %v", err)
	}
	if len(written) != models.NumVariants {
		t.Fatalf("Expected %d files, got %d", models.NumVariants, len(written))
	}

	uids := map[string]bool{}
	for _, v := range models.Variants() {
		path := filepath.Join(dir, "IM0001_"+v.String()+".dcm")
		s, err := LoadFile(path)
		if err != nil {
			t.Fatalf("LoadFile(%s) failed: %v", path, err)
		}
		if !s.Plane.Equal(set.Images[v]) {
			t.Errorf("Variant %s: pixel values changed on disk", v)
		}
		if s.InstanceNumber != 7 {
			t.Errorf("Variant %s: expected instance 7, got %d", v, s.InstanceNumber)
		}
		if name, _ := stringValue(s.Dataset, tag.PatientName); name != "Test^Patient" {
			t.Errorf("Variant %s: expected patient name to be kept, got %q", v, name)
		}
		uid, _ := stringValue(s.Dataset, tag.SOPInstanceUID)
		if !strings.HasPrefix(uid, "2.25.") || uids[uid] {
			t.Errorf("Variant %s: expected a fresh 2.25 UID, got %q", v, uid)
		}
		uids[uid] = true
	}
}

// TestLoadSeriesOrder verifies ordering by instance number
func TestLoadSeriesOrder(t *testing.T) {
	dir := t.TempDir()
	set := createTestSet(4, 4)
	for _, s := range []*Slice{
		createSourceSlice(t, "b", 3),
		createSourceSlice(t, "a", 12),
		createSourceSlice(t, "c", 1),
	} {
		if _, err := WriteAugmented(dir, s, set); err != nil {
			t.Fatalf("WriteAugmented failed: %v", err)
		}
	}
	// Unrelated and unreadable files.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.dcm"), []byte("not dicom"), 0644); err != nil {
		t.Fatal(err)
	}

	series, err := LoadSeries(dir)
	if err == nil {
		t.Error("Expected an error for the broken file")
	}
	if len(series) != 3*models.NumVariants {
		t.Fatalf("Expected %d slices, got %d", 3*models.NumVariants, len(series))
	}
	for i := 1; i < len(series); i++ {
		prev, cur := series[i-1], series[i]
		if prev.InstanceNumber > cur.InstanceNumber ||
			(prev.InstanceNumber == cur.InstanceNumber && prev.Path > cur.Path) {
			t.Fatalf("Series out of order at %d: %s (%d) before %s (%d)",
				i, prev.Path, prev.InstanceNumber, cur.Path, cur.InstanceNumber)
		}
	}
	if series[0].Name() != "c_contrast" {
		t.Errorf("Expected c_contrast first, got %s", series[0].Name())
	}

	vol := Volume(series)
	if vol.Depth() != len(series) {
		t.Errorf("Expected depth %d, got %d", len(series), vol.Depth())
	}
}

// TestWriteAugmentedRejectsColor verifies that only grayscale variants are written
func TestWriteAugmentedRejectsColor(t *testing.T) {
	set := createTestSet(4, 4)
	color, err := models.NewPlaneFromChannels(set.Images[0].Channel(0), set.Images[1].Channel(0))
	if err != nil {
		t.Fatalf("Failed to create plane: %v", err)
	}
	set.Images[models.Rotated] = color

	written, err := WriteAugmented(t.TempDir(), createSourceSlice(t, "x", 1), set)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("Expected ErrUnsupported, got %v", err)
	}
	if len(written) != models.NumVariants-1 {
		t.Errorf("Expected %d files, got %d", models.NumVariants-1, len(written))
	}
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	if a == b {
		t.Error("Expected distinct UIDs")
	}
	if len(a) > 64 {
		t.Errorf("UID %q exceeds 64 characters", a)
	}
	for _, r := range strings.TrimPrefix(a, "2.25.") {
		if r < '0' || r > '9' {
			t.Fatalf("UID %q has a non-digit suffix", a)
		}
	}
}
