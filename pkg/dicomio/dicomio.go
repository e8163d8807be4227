// Package dicomio loads DICOM slices into planes and writes augmented
// variants back as DICOM files derived from their source.
package dicomio

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/mat"

	"medaugment/internal/models"
)

const (
	explicitVRLittleEndian = "1.2.840.10008.1.2.1"
	secondaryCaptureClass  = "1.2.840.10008.5.1.4.1.1.7"
)

// ErrUnsupported is returned for pixel data this package cannot decode.
var ErrUnsupported = errors.New("dicomio: unsupported pixel data")

// Slice is one DICOM file decoded into a plane.
type Slice struct {
	// Path is the source file
	Path string

	// Dataset holds every element of the source file
	Dataset dicom.Dataset

	// Plane holds the modality values (rescale applied). Color images have
	// three channels in B, G, R order.
	Plane *models.Plane

	// InstanceNumber orders the slice within its series, 0 when absent
	InstanceNumber int
}

// Name returns the file name without the .dcm extension.
func (s *Slice) Name() string {
	return strings.TrimSuffix(filepath.Base(s.Path), filepath.Ext(s.Path))
}

// LoadFile reads one DICOM file.
func LoadFile(path string) (*Slice, error) {
	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("error parsing %s: %w", path, err)
	}

	plane, err := decodePlane(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	s := &Slice{Path: path, Dataset: ds, Plane: plane}
	if v, ok := stringValue(ds, tag.InstanceNumber); ok {
		s.InstanceNumber, _ = strconv.Atoi(v)
	}
	return s, nil
}

// LoadSeries reads every .dcm file in dir, ordered by instance number and
// then by file name. Files that cannot be read are skipped; their errors are
// returned joined alongside the slices that were loaded.
func LoadSeries(dir string) ([]*Slice, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("error reading DICOM directory: %w", err)
	}

	var series []*Slice
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".dcm") {
			continue
		}
		s, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		series = append(series, s)
	}

	slices.SortStableFunc(series, func(a, b *Slice) int {
		if c := cmp.Compare(a.InstanceNumber, b.InstanceNumber); c != 0 {
			return c
		}
		return cmp.Compare(a.Path, b.Path)
	})
	return series, errors.Join(errs...)
}

// Volume stacks the planes of a series in order.
func Volume(series []*Slice) *models.Volume {
	vol := &models.Volume{Planes: make([]*models.Plane, len(series))}
	for i, s := range series {
		vol.Planes[i] = s.Plane
	}
	return vol
}

func decodePlane(ds dicom.Dataset) (*models.Plane, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("%w: no pixel data", ErrUnsupported)
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if len(info.Frames) == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrUnsupported)
	}
	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return nil, fmt.Errorf("%w: encapsulated transfer syntax", ErrUnsupported)
	}

	nf := fr.NativeData
	rows, cols, spp := nf.Rows(), nf.Cols(), nf.SamplesPerPixel()
	if spp != 1 && spp != 3 {
		return nil, fmt.Errorf("%w: %d samples per pixel", ErrUnsupported, spp)
	}

	signed := intValue(ds, tag.PixelRepresentation, 0) == 1
	bits := intValue(ds, tag.BitsStored, nf.BitsPerSample())
	slope, intercept := 1.0, 0.0
	if v, ok := floatValue(ds, tag.RescaleSlope); ok && v != 0 {
		slope = v
	}
	if v, ok := floatValue(ds, tag.RescaleIntercept); ok {
		intercept = v
	}

	channels := make([]*mat.Dense, spp)
	for i := range channels {
		channels[i] = mat.NewDense(rows, cols, nil)
	}
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			px, err := nf.GetPixel(x, y)
			if err != nil {
				return nil, fmt.Errorf("error reading pixel (%d, %d): %w", x, y, err)
			}
			for s := 0; s < spp; s++ {
				v := px[s]
				if signed && bits > 0 && bits < 64 && v >= 1<<(bits-1) {
					v -= 1 << bits
				}
				// Color samples arrive as R, G, B; planes keep B, G, R.
				channels[spp-1-s].Set(y, x, float64(v)*slope+intercept)
			}
		}
	}
	return models.NewPlaneFromChannels(channels...)
}

// WriteAugmented writes every image variant of set as
// {name}_{variant}.dcm in dir, derived from src. Each file keeps the source
// elements except the pixel module, which describes 16-bit MONOCHROME2 data
// with a rescale intercept covering negative values, and a new SOP instance.
func WriteAugmented(dir string, src *Slice, set *models.AugmentationSet) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}

	var written []string
	var errs []error
	for _, v := range models.Variants() {
		path := filepath.Join(dir, fmt.Sprintf("%s_%s.dcm", src.Name(), v))
		ds, err := derive(src.Dataset, set.Images[v], v)
		if err == nil {
			err = writeDataset(path, ds)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s variant: %w", v, err))
			continue
		}
		written = append(written, path)
	}
	return written, errors.Join(errs...)
}

func writeDataset(path string, ds dicom.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, ds); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

// replaced lists the source elements rebuilt for every derived file.
var replaced = map[tag.Tag]bool{
	tag.FileMetaInformationGroupLength: true,
	tag.MediaStorageSOPClassUID:        true,
	tag.MediaStorageSOPInstanceUID:     true,
	tag.TransferSyntaxUID:              true,
	tag.SOPClassUID:                    true,
	tag.SOPInstanceUID:                 true,
	tag.InstanceCreationDate:           true,
	tag.InstanceCreationTime:           true,
	tag.DerivationDescription:          true,
	tag.SamplesPerPixel:                true,
	tag.PhotometricInterpretation:      true,
	tag.PlanarConfiguration:            true,
	tag.NumberOfFrames:                 true,
	tag.Rows:                           true,
	tag.Columns:                        true,
	tag.BitsAllocated:                  true,
	tag.BitsStored:                     true,
	tag.HighBit:                        true,
	tag.PixelRepresentation:            true,
	tag.RescaleIntercept:               true,
	tag.RescaleSlope:                   true,
	tag.WindowCenter:                   true,
	tag.WindowWidth:                    true,
	tag.PixelData:                      true,
}

func derive(src dicom.Dataset, plane *models.Plane, v models.Variant) (dicom.Dataset, error) {
	if plane.IsEmpty() || plane.Channels() != 1 {
		return dicom.Dataset{}, fmt.Errorf("%w: variant plane must be single-channel", ErrUnsupported)
	}
	rows, cols := plane.Dims()
	values := plane.Values()

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, x := range values {
		lo, hi = math.Min(lo, x), math.Max(hi, x)
	}
	intercept := 0.0
	if lo < 0 {
		intercept = math.Floor(lo)
	}

	nf := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
	for i, x := range values {
		nf.RawData[i] = uint16(math.Max(0, math.Min(math.MaxUint16, math.Round(x-intercept))))
	}
	pixels := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nf}},
	}

	classUID := secondaryCaptureClass
	if s, ok := stringValue(src, tag.SOPClassUID); ok && s != "" {
		classUID = s
	}
	instanceUID := NewUID()
	now := time.Now()
	center, width := (lo+hi)/2, math.Max(hi-lo, 1)

	elems := make([]*dicom.Element, 0, len(src.Elements)+len(replaced))
	for _, e := range src.Elements {
		if !replaced[e.Tag] {
			elems = append(elems, e)
		}
	}

	fresh := []struct {
		t tag.Tag
		v any
	}{
		{tag.MediaStorageSOPClassUID, []string{classUID}},
		{tag.MediaStorageSOPInstanceUID, []string{instanceUID}},
		{tag.TransferSyntaxUID, []string{explicitVRLittleEndian}},
		{tag.SOPClassUID, []string{classUID}},
		{tag.SOPInstanceUID, []string{instanceUID}},
		{tag.InstanceCreationDate, []string{now.Format("20060102")}},
		{tag.InstanceCreationTime, []string{now.Format("150405")}},
		{tag.DerivationDescription, []string{"augmented: " + v.String()}},
		{tag.SamplesPerPixel, []int{1}},
		{tag.PhotometricInterpretation, []string{"MONOCHROME2"}},
		{tag.Rows, []int{rows}},
		{tag.Columns, []int{cols}},
		{tag.BitsAllocated, []int{16}},
		{tag.BitsStored, []int{16}},
		{tag.HighBit, []int{15}},
		{tag.PixelRepresentation, []int{0}},
		{tag.WindowCenter, []string{formatDS(center)}},
		{tag.WindowWidth, []string{formatDS(width)}},
		{tag.RescaleIntercept, []string{formatDS(intercept)}},
		{tag.RescaleSlope, []string{"1"}},
		{tag.PixelData, pixels},
	}
	for _, f := range fresh {
		e, err := dicom.NewElement(f.t, f.v)
		if err != nil {
			return dicom.Dataset{}, fmt.Errorf("error creating element %v: %w", f.t, err)
		}
		elems = append(elems, e)
	}

	slices.SortStableFunc(elems, func(a, b *dicom.Element) int {
		if c := cmp.Compare(a.Tag.Group, b.Tag.Group); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag.Element, b.Tag.Element)
	})
	return dicom.Dataset{Elements: elems}, nil
}

// NewUID returns a UUID-derived DICOM UID under the 2.25 root.
func NewUID() string {
	u := uuid.New()
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}

func formatDS(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stringValue(ds dicom.Dataset, t tag.Tag) (string, bool) {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	strs, ok := e.Value.GetValue().([]string)
	if !ok || len(strs) == 0 {
		return "", false
	}
	return strings.TrimSpace(strs[0]), true
}

func floatValue(ds dicom.Dataset, t tag.Tag) (float64, bool) {
	s, ok := stringValue(ds, t)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func intValue(ds dicom.Dataset, t tag.Tag, fallback int) int {
	e, err := ds.FindElementByTag(t)
	if err != nil {
		return fallback
	}
	ints, ok := e.Value.GetValue().([]int)
	if !ok || len(ints) == 0 {
		return fallback
	}
	return ints[0]
}
