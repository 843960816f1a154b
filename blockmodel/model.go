// Package blockmodel defines the canonical 5-D data model shared by
// every component: axis order, dtype tags, regions of interest, and
// the cache/classifier descriptor encoding.
package blockmodel

import (
	"fmt"
	"strconv"
	"strings"
)

// NumAxes is the canonical dimensionality: (t, x, y, z, c).
const NumAxes = 5

// Axis indices into a Coord, in canonical order.
const (
	AxisT = 0
	AxisX = 1
	AxisY = 2
	AxisZ = 3
	AxisC = 4
)

// Coord is a point or extent in the canonical 5-D index space.
type Coord [NumAxes]int64

// Add returns a + b componentwise.
func (a Coord) Add(b Coord) Coord {
	var out Coord
	for i := range out {
		out[i] = a[i] + b[i]
	}
	return out
}

// Sub returns a - b componentwise.
func (a Coord) Sub(b Coord) Coord {
	var out Coord
	for i := range out {
		out[i] = a[i] - b[i]
	}
	return out
}

// String renders a Coord as underscore-joined integers, the wire
// format used in both HTTP query parameters and descriptor strings.
func (a Coord) String() string {
	parts := make([]string, NumAxes)
	for i, v := range a {
		parts[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(parts, "_")
}

// ParseCoord parses an underscore-joined 5-integer string.
func ParseCoord(s string) (Coord, error) {
	fields := strings.Split(s, "_")
	if len(fields) != NumAxes {
		return Coord{}, fmt.Errorf("blockmodel: expected %d underscore-joined components, got %d in %q", NumAxes, len(fields), s)
	}
	var out Coord
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return Coord{}, fmt.Errorf("blockmodel: component %d (%q) is not an integer: %w", i, f, err)
		}
		out[i] = v
	}
	return out, nil
}

// DType is the element type of a volume's raw buffer.
type DType string

const (
	DTypeUint8   DType = "uint8"
	DTypeUint16  DType = "uint16"
	DTypeFloat32 DType = "float32"
	DTypeInt32   DType = "int32"
)

// Size returns the byte width of one element of d.
func (d DType) Size() int {
	switch d {
	case DTypeUint8:
		return 1
	case DTypeUint16:
		return 2
	case DTypeFloat32, DTypeInt32:
		return 4
	default:
		return 0
	}
}

// Valid reports whether d is one of the four supported element types.
func (d DType) Valid() bool {
	return d.Size() > 0
}

// Dim is the spatial dimensionality of the volume: 2 or 3.
type Dim int

const (
	Dim2 Dim = 2
	Dim3 Dim = 3
)

// ROI is a region of interest: a half-open range [Begin, End) over the
// canonical 5-D index space.
type ROI struct {
	Begin Coord
	End   Coord
}

// Shape returns End - Begin.
func (r ROI) Shape() Coord { return r.End.Sub(r.Begin) }

// Validate checks the ROI invariants from §3: begin[i] < end[i] for
// every axis, and non-negative coordinates.
func (r ROI) Validate() error {
	for i := 0; i < NumAxes; i++ {
		if r.Begin[i] < 0 {
			return fmt.Errorf("blockmodel: begin[%d]=%d is negative", i, r.Begin[i])
		}
		if r.Begin[i] >= r.End[i] {
			return fmt.Errorf("blockmodel: begin[%d]=%d is not less than end[%d]=%d", i, r.Begin[i], i, r.End[i])
		}
	}
	return nil
}

// Descriptor encodes a cached block's shape and dtype as the
// underscore-joined string the cache stores as its sidecar value,
// e.g. "64_64_64_3_float32". DescriptorDummy is reserved for
// placeholders.
const DescriptorDummy = "dummy"

// EncodeDescriptor renders shape and dtype as the cache's descriptor
// string.
func EncodeDescriptor(shape Coord, dtype DType) string {
	return shape.String() + "_" + string(dtype)
}

// DecodeDescriptor parses a descriptor string produced by
// EncodeDescriptor. A malformed descriptor is reported as an error;
// cache.Client.Get returns that error as a cache protocol violation.
// It does not treat the entry as absent, and it does not re-insert a
// placeholder.
func DecodeDescriptor(s string) (shape Coord, dtype DType, err error) {
	fields := strings.Split(s, "_")
	if len(fields) != NumAxes+1 {
		return Coord{}, "", fmt.Errorf("blockmodel: descriptor %q does not have %d fields", s, NumAxes+1)
	}
	dtype = DType(fields[NumAxes])
	if !dtype.Valid() {
		return Coord{}, "", fmt.Errorf("blockmodel: descriptor %q has unknown dtype %q", s, fields[NumAxes])
	}
	var shapeCoord Coord
	for i := 0; i < NumAxes; i++ {
		v, perr := strconv.ParseInt(fields[i], 10, 64)
		if perr != nil {
			return Coord{}, "", fmt.Errorf("blockmodel: descriptor %q has non-integer shape component %d: %w", s, i, perr)
		}
		shapeCoord[i] = v
	}
	return shapeCoord, dtype, nil
}

// Payload is one block's buffer plus the descriptor it was stored
// with: the dense byte buffer in canonical axis order, its shape, and
// its element type.
type Payload struct {
	Shape Coord
	DType DType
	Bytes []byte
}

// NumElements returns the product of the shape's axes.
func (p Payload) NumElements() int64 {
	n := int64(1)
	for _, v := range p.Shape {
		n *= v
	}
	return n
}
