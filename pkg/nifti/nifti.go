// Package nifti reads and writes single-file NIfTI-1 volumes (.nii and
// .nii.gz) and carries the header fields that locate a volume in scanner
// space across augmentation.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"medaugment/internal/models"
	"medaugment/pkg/pipeline"
)

// ErrFormat is returned for files that are not readable NIfTI-1 images.
var ErrFormat = errors.New("nifti: invalid file")

// Image is a loaded NIfTI volume.
type Image struct {
	Header *Header

	// Volume holds the scaled voxel values with x along rows, y along
	// columns and z along the slice axis
	Volume *models.Volume
}

// Metadata is the subset of header fields reattached to augmented volumes.
// The quaternion parameters travel with QformCode.
type Metadata struct {
	Datatype  int16
	Dim       [8]int16
	Pixdim    [8]float32
	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QoffsetX  float32
	QoffsetY  float32
	QoffsetZ  float32
	SrowX     [4]float32
	SrowY     [4]float32
	SrowZ     [4]float32
	XyztUnits byte
}

// Metadata extracts the preserved header fields.
func (img *Image) Metadata() *Metadata {
	h := img.Header
	return &Metadata{
		Datatype:  h.Datatype,
		Dim:       h.Dim,
		Pixdim:    h.Pixdim,
		QformCode: h.QformCode,
		SformCode: h.SformCode,
		QuaternB:  h.QuaternB,
		QuaternC:  h.QuaternC,
		QuaternD:  h.QuaternD,
		QoffsetX:  h.QoffsetX,
		QoffsetY:  h.QoffsetY,
		QoffsetZ:  h.QoffsetZ,
		SrowX:     h.SrowX,
		SrowY:     h.SrowY,
		SrowZ:     h.SrowZ,
		XyztUnits: h.XyztUnits,
	}
}

// Load reads a NIfTI-1 file. Gzip compression is detected from the content.
func Load(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	var r io.Reader = br
	if magic, _ := br.Peek(2); len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("error opening %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}

	img, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

func decode(data []byte) (*Image, error) {
	h, order, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	rows, cols, depth, err := h.shape()
	if err != nil {
		return nil, err
	}
	info, ok := datatypes[h.Datatype]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported datatype %d", ErrFormat, h.Datatype)
	}

	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = voxOffset
	}
	n := rows * cols * depth
	size := int(info.bitpix / 8)
	if len(data) < offset+n*size {
		return nil, fmt.Errorf("%w: voxel data truncated, have %d bytes, want %d",
			ErrFormat, len(data)-offset, n*size)
	}

	values := decodeVoxels(data[offset:offset+n*size], h.Datatype, order, n)
	if slope, inter, ok := h.scaling(); ok {
		for i, v := range values {
			values[i] = v*slope + inter
		}
	}

	vol, err := models.NewVolumeFromData(values, rows, cols, depth)
	if err != nil {
		return nil, err
	}
	return &Image{Header: h, Volume: vol}, nil
}

func decodeVoxels(raw []byte, datatype int16, order binary.ByteOrder, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch datatype {
		case DTUint8:
			out[i] = float64(raw[i])
		case DTInt8:
			out[i] = float64(int8(raw[i]))
		case DTInt16:
			out[i] = float64(int16(order.Uint16(raw[2*i:])))
		case DTUint16:
			out[i] = float64(order.Uint16(raw[2*i:]))
		case DTInt32:
			out[i] = float64(int32(order.Uint32(raw[4*i:])))
		case DTUint32:
			out[i] = float64(order.Uint32(raw[4*i:]))
		case DTFloat32:
			out[i] = float64(math.Float32frombits(order.Uint32(raw[4*i:])))
		case DTInt64:
			out[i] = float64(int64(order.Uint64(raw[8*i:])))
		case DTUint64:
			out[i] = float64(order.Uint64(raw[8*i:]))
		case DTFloat64:
			out[i] = math.Float64frombits(order.Uint64(raw[8*i:]))
		}
	}
	return out
}

// Save writes vol to path, gzip-compressed when the name ends in ".gz".
//
// With nil meta the voxels are stored as float64 with an identity affine.
// Otherwise every metadata field is written unchanged except the dimensions,
// which follow vol, and the voxels are converted to meta.Datatype, rounding
// and clamping for integer types.
func Save(path string, vol *models.Volume, meta *Metadata) error {
	values, rows, cols, depth, err := vol.Data()
	if err != nil {
		return fmt.Errorf("error saving %s: %w", path, err)
	}
	if rows > math.MaxInt16 || cols > math.MaxInt16 || depth > math.MaxInt16 {
		return fmt.Errorf("error saving %s: volume %dx%dx%d exceeds NIfTI-1 limits", path, rows, cols, depth)
	}

	h := newHeader(rows, cols, depth)
	if meta == nil {
		h.SformCode = 2
		h.SrowX = [4]float32{1, 0, 0, 0}
		h.SrowY = [4]float32{0, 1, 0, 0}
		h.SrowZ = [4]float32{0, 0, 1, 0}
	} else {
		info, ok := datatypes[meta.Datatype]
		if !ok {
			return fmt.Errorf("error saving %s: unsupported datatype %d", path, meta.Datatype)
		}
		h.Datatype = meta.Datatype
		h.Bitpix = info.bitpix
		h.Pixdim = meta.Pixdim
		h.QformCode = meta.QformCode
		h.SformCode = meta.SformCode
		h.QuaternB, h.QuaternC, h.QuaternD = meta.QuaternB, meta.QuaternC, meta.QuaternD
		h.QoffsetX, h.QoffsetY, h.QoffsetZ = meta.QoffsetX, meta.QoffsetY, meta.QoffsetZ
		h.SrowX, h.SrowY, h.SrowZ = meta.SrowX, meta.SrowY, meta.SrowZ
		h.XyztUnits = meta.XyztUnits
	}

	var buf bytes.Buffer
	buf.Grow(voxOffset + len(values)*int(h.Bitpix/8))
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return fmt.Errorf("error encoding header: %w", err)
	}
	buf.Write([]byte{0, 0, 0, 0}) // no extensions
	buf.Write(encodeVoxels(values, h.Datatype))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error saving %s: %w", path, err)
	}

	if strings.HasSuffix(path, ".gz") {
		zw := gzip.NewWriter(f)
		if _, err := zw.Write(buf.Bytes()); err != nil {
			f.Close()
			return fmt.Errorf("error writing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			f.Close()
			return fmt.Errorf("error writing %s: %w", path, err)
		}
	} else if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return f.Close()
}

func encodeVoxels(values []float64, datatype int16) []byte {
	info := datatypes[datatype]
	size := int(info.bitpix / 8)
	out := make([]byte, len(values)*size)
	le := binary.LittleEndian
	for i, v := range values {
		if info.integer {
			v = clampRound(v, info.min, info.max)
		}
		switch datatype {
		case DTUint8:
			out[i] = uint8(v)
		case DTInt8:
			out[i] = byte(int8(v))
		case DTInt16:
			le.PutUint16(out[2*i:], uint16(int16(v)))
		case DTUint16:
			le.PutUint16(out[2*i:], uint16(v))
		case DTInt32:
			le.PutUint32(out[4*i:], uint32(int32(v)))
		case DTUint32:
			le.PutUint32(out[4*i:], uint32(v))
		case DTFloat32:
			le.PutUint32(out[4*i:], math.Float32bits(float32(v)))
		case DTInt64:
			le.PutUint64(out[8*i:], uint64(toInt64(v)))
		case DTUint64:
			le.PutUint64(out[8*i:], toUint64(v))
		case DTFloat64:
			le.PutUint64(out[8*i:], math.Float64bits(v))
		}
	}
	return out
}

func clampRound(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, math.RoundToEven(v)))
}

// toInt64 and toUint64 saturate at the type bounds, which float64 cannot
// represent exactly.
func toInt64(v float64) int64 {
	if v >= math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func toUint64(v float64) uint64 {
	if v >= math.MaxUint64 {
		return math.MaxUint64
	}
	return uint64(v)
}

// AugmentedNames returns the image and label file names of one variant.
func AugmentedNames(prefix string, v models.Variant) (image, label string) {
	return fmt.Sprintf("%s_augmented_volume_%d.nii.gz", prefix, int(v)),
		fmt.Sprintf("%s_augmented_label_%d.nii.gz", prefix, int(v))
}

// SaveAugmented writes the six variant pairs of result into dir. A file that
// fails to save does not stop the others; the failures are returned joined
// alongside the paths that were written.
func SaveAugmented(dir, prefix string, result *pipeline.VolumeResult, meta *Metadata) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating output directory: %w", err)
	}

	var written []string
	var errs []error
	for _, v := range models.Variants() {
		imageName, labelName := AugmentedNames(prefix, v)
		image, label := result.Pair(v)
		for _, out := range []struct {
			name string
			vol  *models.Volume
		}{{imageName, image}, {labelName, label}} {
			path := filepath.Join(dir, out.name)
			if err := Save(path, out.vol, meta); err != nil {
				errs = append(errs, fmt.Errorf("%s variant: %w", v, err))
				continue
			}
			written = append(written, path)
		}
	}
	return written, errors.Join(errs...)
}
