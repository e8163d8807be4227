package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	headerSize = 348

	// voxOffset is the data offset of a single-file image: the header plus
	// the four-byte extension flag.
	voxOffset = 352
)

var magicSingle = [4]byte{'n', '+', '1', 0}

// Datatype codes of the NIfTI-1 format.
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
	DTUint32  int16 = 768
	DTInt64   int16 = 1024
	DTUint64  int16 = 1280
)

// datatypeInfo describes one supported voxel type.
type datatypeInfo struct {
	name     string
	bitpix   int16
	integer  bool
	min, max float64
}

var datatypes = map[int16]datatypeInfo{
	DTUint8:   {"uint8", 8, true, 0, math.MaxUint8},
	DTInt16:   {"int16", 16, true, math.MinInt16, math.MaxInt16},
	DTInt32:   {"int32", 32, true, math.MinInt32, math.MaxInt32},
	DTFloat32: {"float32", 32, false, -math.MaxFloat32, math.MaxFloat32},
	DTFloat64: {"float64", 64, false, -math.MaxFloat64, math.MaxFloat64},
	DTInt8:    {"int8", 8, true, math.MinInt8, math.MaxInt8},
	DTUint16:  {"uint16", 16, true, 0, math.MaxUint16},
	DTUint32:  {"uint32", 32, true, 0, math.MaxUint32},
	DTInt64:   {"int64", 64, true, math.MinInt64, math.MaxInt64},
	DTUint64:  {"uint64", 64, true, 0, math.MaxUint64},
}

// DatatypeName returns the name of a datatype code, or "unknown".
func DatatypeName(code int16) string {
	if info, ok := datatypes[code]; ok {
		return info.name
	}
	return "unknown"
}

// Header is the 348-byte NIfTI-1 header.
type Header struct {
	SizeofHdr    int32
	DataType     [10]byte
	DbName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim        [8]int16
	IntentP1   float32
	IntentP2   float32
	IntentP3   float32
	IntentCode int16
	Datatype   int16
	Bitpix     int16
	SliceStart int16
	Pixdim     [8]float32
	VoxOffset  float32
	SclSlope   float32
	SclInter   float32
	SliceEnd   int16
	SliceCode  byte
	XyztUnits  byte
	CalMax     float32
	CalMin     float32

	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QformCode int16
	SformCode int16
	QuaternB  float32
	QuaternC  float32
	QuaternD  float32
	QoffsetX  float32
	QoffsetY  float32
	QoffsetZ  float32

	SrowX [4]float32
	SrowY [4]float32
	SrowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// readHeader decodes a header, detecting the byte order from sizeof_hdr.
func readHeader(data []byte) (*Header, binary.ByteOrder, error) {
	if len(data) < headerSize {
		return nil, nil, fmt.Errorf("%w: file is %d bytes, shorter than a header", ErrFormat, len(data))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(data) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(data) == headerSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: bad sizeof_hdr", ErrFormat)
	}

	h := &Header{}
	if err := binary.Read(bytes.NewReader(data[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if h.Magic != magicSingle {
		return nil, nil, fmt.Errorf("%w: unsupported magic %q, only single-file images are read", ErrFormat, h.Magic[:3])
	}
	return h, order, nil
}

// shape returns the spatial extent of the first volume in the file.
func (h *Header) shape() (rows, cols, depth int, err error) {
	n := int(h.Dim[0])
	if n < 2 || n > 7 {
		return 0, 0, 0, fmt.Errorf("%w: dim[0] is %d", ErrFormat, n)
	}
	for i := 4; i <= n; i++ {
		if h.Dim[i] > 1 {
			return 0, 0, 0, fmt.Errorf("%w: %d-D images are not supported", ErrFormat, n)
		}
	}
	rows, cols, depth = int(h.Dim[1]), int(h.Dim[2]), 1
	if n >= 3 {
		depth = int(h.Dim[3])
	}
	if rows <= 0 || cols <= 0 || depth <= 0 {
		return 0, 0, 0, fmt.Errorf("%w: invalid dimensions %v", ErrFormat, h.Dim)
	}
	return rows, cols, depth, nil
}

// scaling reports the intensity scaling to apply, if any.
func (h *Header) scaling() (slope, inter float64, ok bool) {
	slope, inter = float64(h.SclSlope), float64(h.SclInter)
	if slope == 0 || math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 1, 0, false
	}
	if math.IsNaN(inter) || math.IsInf(inter, 0) {
		inter = 0
	}
	return slope, inter, slope != 1 || inter != 0
}

func newHeader(rows, cols, depth int) *Header {
	h := &Header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  DTFloat64,
		Bitpix:    64,
		VoxOffset: voxOffset,
		SclSlope:  1,
		Magic:     magicSingle,
	}
	h.Dim = [8]int16{3, int16(rows), int16(cols), int16(depth), 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, 1, 1, 1, 0, 0, 0, 0}
	return h
}
