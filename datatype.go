// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package kompute

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DataType is the element type of a tensor or constant list.
type DataType uint8

// Element types.
const (
	DataTypeBool DataType = iota
	DataTypeInt32
	DataTypeUint32
	DataTypeFloat32
	DataTypeFloat64
	DataTypeFloat16
	DataTypeBFloat16
	// DataTypeCustom is an opaque fixed-size record. Its element size is
	// given explicitly when the tensor is created.
	DataTypeCustom
)

// Size returns the element size in bytes, or 0 for DataTypeCustom.
func (t DataType) Size() uint32 {
	switch t {
	case DataTypeBool:
		return 1
	case DataTypeFloat16, DataTypeBFloat16:
		return 2
	case DataTypeInt32, DataTypeUint32, DataTypeFloat32:
		return 4
	case DataTypeFloat64:
		return 8
	default:
		return 0
	}
}

// String returns the type name.
func (t DataType) String() string {
	switch t {
	case DataTypeBool:
		return "bool"
	case DataTypeInt32:
		return "int32"
	case DataTypeUint32:
		return "uint32"
	case DataTypeFloat32:
		return "float32"
	case DataTypeFloat64:
		return "float64"
	case DataTypeFloat16:
		return "float16"
	case DataTypeBFloat16:
		return "bfloat16"
	case DataTypeCustom:
		return "custom"
	default:
		return fmt.Sprintf("DataType(%d)", uint8(t))
	}
}

// Scalar is the set of Go types that map directly onto a DataType.
type Scalar interface {
	bool | int32 | uint32 | float32 | float64
}

// dataTypeOf returns the DataType of T.
func dataTypeOf[T Scalar]() DataType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return DataTypeBool
	case int32:
		return DataTypeInt32
	case uint32:
		return DataTypeUint32
	case float32:
		return DataTypeFloat32
	default:
		return DataTypeFloat64
	}
}

// encode packs values little-endian.
func encode[T Scalar](vals []T) []byte {
	dt := dataTypeOf[T]()
	size := int(dt.Size())
	b := make([]byte, len(vals)*size)
	for i, v := range vals {
		off := i * size
		switch x := any(v).(type) {
		case bool:
			if x {
				b[off] = 1
			}
		case int32:
			binary.LittleEndian.PutUint32(b[off:], uint32(x)) //nolint:gosec // bit reinterpretation
		case uint32:
			binary.LittleEndian.PutUint32(b[off:], x)
		case float32:
			binary.LittleEndian.PutUint32(b[off:], math.Float32bits(x))
		case float64:
			binary.LittleEndian.PutUint64(b[off:], math.Float64bits(x))
		}
	}
	return b
}

// decode unpacks little-endian values.
func decode[T Scalar](b []byte) []T {
	dt := dataTypeOf[T]()
	size := int(dt.Size())
	out := make([]T, len(b)/size)
	for i := range out {
		off := i * size
		var v any
		switch dt {
		case DataTypeBool:
			v = b[off] != 0
		case DataTypeInt32:
			v = int32(binary.LittleEndian.Uint32(b[off:])) //nolint:gosec // bit reinterpretation
		case DataTypeUint32:
			v = binary.LittleEndian.Uint32(b[off:])
		case DataTypeFloat32:
			v = math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
		default:
			v = math.Float64frombits(binary.LittleEndian.Uint64(b[off:]))
		}
		out[i] = v.(T)
	}
	return out
}

// encodeFloat16 converts float32 values to IEEE 754 half precision.
func encodeFloat16(vals []float32) []byte {
	b := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(b[i*2:], float16.Fromfloat32(v).Bits())
	}
	return b
}

func decodeFloat16(b []byte) []float32 {
	out := make([]float32, len(b)/2)
	for i := range out {
		out[i] = float16.Frombits(binary.LittleEndian.Uint16(b[i*2:])).Float32()
	}
	return out
}

// encodeBFloat16 converts float32 values to bfloat16.
func encodeBFloat16(vals []float32) []byte {
	return bfloat16.EncodeFloat32(vals)
}

func decodeBFloat16(b []byte) []float32 {
	return bfloat16.DecodeFloat32(b)
}

// Constants is an ordered, type-erased list of numeric values used for
// push and specialization constants. Element order and count must match
// the constant block the shader declares.
//
// The zero value is an empty list.
type Constants struct {
	dtype DataType
	count int
	data  []byte
}

// ConstantsOf builds a constant list from vals.
//
// Example:
//
//	push := kompute.ConstantsOf[float32](0.1, 0.2, 0.3)
func ConstantsOf[T Scalar](vals ...T) Constants {
	return Constants{dtype: dataTypeOf[T](), count: len(vals), data: encode(vals)}
}

// Len returns the number of values.
func (c Constants) Len() int { return c.count }

// DataType returns the element type.
func (c Constants) DataType() DataType { return c.dtype }

// ByteSize returns the packed size in bytes.
func (c Constants) ByteSize() uint32 { return uint32(len(c.data)) } //nolint:gosec // constant blocks are small

// Bytes returns a copy of the packed values.
func (c Constants) Bytes() []byte { return append([]byte(nil), c.data...) }

// ConstantValues returns the values of c as T. It fails when T does not
// match the list's element type.
func ConstantValues[T Scalar](c Constants) ([]T, error) {
	if c.count == 0 {
		return nil, nil
	}
	if want := dataTypeOf[T](); c.dtype != want {
		return nil, fmt.Errorf("%w: constants are %s, not %s", ErrConfiguration, c.dtype, want)
	}
	return decode[T](c.data), nil
}
