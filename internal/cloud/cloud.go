// Package cloud defines the generic point-cloud container shared by the
// file readers and writers in this module.
//
// A Cloud is a packed binary buffer of fixed-width point records plus the
// ordered field schema describing one record. The layout deliberately
// mirrors the sensor-message shape used by most point-cloud tooling:
// little-endian scalar fields at fixed offsets, one record per point,
// Width×Height records in row-major order. Unorganised clouds use
// Height == 1.
package cloud

import (
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// FieldType identifies the scalar type of one schema field.
type FieldType uint8

// Scalar field types supported in point records. All multi-byte types are
// stored little-endian in the payload.
const (
	Int8 FieldType = iota + 1
	UInt8
	Int16
	UInt16
	Int32
	UInt32
	Float32
	Float64
)

// Size returns the width of the type in bytes, or 0 for an unknown type.
func (t FieldType) Size() int {
	switch t {
	case Int8, UInt8:
		return 1
	case Int16, UInt16:
		return 2
	case Int32, UInt32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// String returns the conventional short name of the type.
func (t FieldType) String() string {
	switch t {
	case Int8:
		return "int8"
	case UInt8:
		return "uint8"
	case Int16:
		return "int16"
	case UInt16:
		return "uint16"
	case Int32:
		return "int32"
	case UInt32:
		return "uint32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("fieldtype(%d)", uint8(t))
	}
}

// Field describes one entry of a point record schema: a named value of a
// scalar type, repeated Count times, starting at Offset bytes into the
// record. Schemas are ordered; the order defines the left-to-right token
// mapping when parsing text input.
type Field struct {
	Name   string
	Type   FieldType
	Count  int
	Offset int
}

// Width returns the total byte width of the field (type size × count).
func (f Field) Width() int {
	return f.Type.Size() * f.Count
}

// Layout is implemented by point types that can describe their own record
// schema. It replaces compile-time introspection: a self-describing point
// type simply enumerates its fields in record order. Offsets in the
// returned slice may be zero; they are recomputed from field order by
// NormalizeFields.
type Layout interface {
	PointFields() []Field
}

// NormalizeFields validates a schema and assigns sequential, packed
// offsets from field order. It returns the normalised copy and the record
// stride. Fields with an unknown type, an empty name, or a non-positive
// repeat count are rejected.
func NormalizeFields(fields []Field) ([]Field, int, error) {
	if len(fields) == 0 {
		return nil, 0, fmt.Errorf("schema has no fields")
	}
	out := make([]Field, len(fields))
	offset := 0
	for i, f := range fields {
		if f.Name == "" {
			return nil, 0, fmt.Errorf("field %d has no name", i)
		}
		if f.Type.Size() == 0 {
			return nil, 0, fmt.Errorf("field %q has unknown type %d", f.Name, f.Type)
		}
		if f.Count <= 0 {
			return nil, 0, fmt.Errorf("field %q has non-positive count %d", f.Name, f.Count)
		}
		f.Offset = offset
		out[i] = f
		offset += f.Width()
	}
	return out, offset, nil
}

// Stride returns the record stride implied by a schema: the sum of each
// field's type size × count.
func Stride(fields []Field) int {
	total := 0
	for _, f := range fields {
		total += f.Width()
	}
	return total
}

// TokensPerRecord returns the number of text tokens one record consumes
// when rendered as delimited ASCII (the sum of repeat counts).
func TokensPerRecord(fields []Field) int {
	total := 0
	for _, f := range fields {
		total += f.Count
	}
	return total
}

// Cloud is a packed point-cloud buffer: Width×Height records of Stride
// bytes each, laid out according to Fields.
type Cloud struct {
	Fields []Field
	Width  int
	Height int
	Stride int
	Data   []byte
}

// New allocates a cloud for the given normalised schema and point count.
// The cloud is unorganised (Height == 1).
func New(fields []Field, points int) *Cloud {
	stride := Stride(fields)
	return &Cloud{
		Fields: fields,
		Width:  points,
		Height: 1,
		Stride: stride,
		Data:   make([]byte, points*stride),
	}
}

// Points returns the number of point records in the cloud.
func (c *Cloud) Points() int {
	return c.Width * c.Height
}

// Record returns the byte slice holding record i. The slice aliases the
// cloud payload.
func (c *Cloud) Record(i int) []byte {
	return c.Data[i*c.Stride : (i+1)*c.Stride]
}

// FieldByName returns the schema entry with the given name.
func (c *Cloud) FieldByName(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Value decodes element elem of the named field of record i as a float64.
// Integer types widen losslessly; Float32 widens through its exact bit
// pattern. This is the access path tests and text rendering use.
func (c *Cloud) Value(i int, name string, elem int) (float64, error) {
	f, ok := c.FieldByName(name)
	if !ok {
		return 0, fmt.Errorf("no field %q in schema", name)
	}
	if elem < 0 || elem >= f.Count {
		return 0, fmt.Errorf("field %q element %d out of range (count %d)", name, elem, f.Count)
	}
	rec := c.Record(i)
	at := f.Offset + elem*f.Type.Size()
	switch f.Type {
	case Int8:
		return float64(int8(rec[at])), nil
	case UInt8:
		return float64(rec[at]), nil
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(rec[at:]))), nil
	case UInt16:
		return float64(binary.LittleEndian.Uint16(rec[at:])), nil
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(rec[at:]))), nil
	case UInt32:
		return float64(binary.LittleEndian.Uint32(rec[at:])), nil
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[at:]))), nil
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(rec[at:])), nil
	default:
		return 0, fmt.Errorf("field %q has unknown type %d", name, f.Type)
	}
}

// Pose is the sensor pose associated with a capture: acquisition origin
// and orientation.
type Pose struct {
	Origin      r3.Vec
	Orientation quat.Number
}

// IdentityPose returns the zero-origin, identity-orientation pose used
// for formats that carry no viewpoint information.
func IdentityPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}
