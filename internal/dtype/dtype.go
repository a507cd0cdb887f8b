// Package dtype defines the closed set of scalar primitive types that flow
// through the ALU IR and the frontend array handles.
package dtype

import (
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Type is one of the primitive scalar dtypes every ALU node is tagged with.
type Type uint8

const (
	Bool Type = iota
	I32
	U32
	F16
	F32
	F64
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "bool"
	case I32:
		return "i32"
	case U32:
		return "u32"
	case F16:
		return "f16"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(t))
	}
}

// Size returns the in-memory size in bytes of one element of t.
func (t Type) Size() int {
	switch t {
	case Bool:
		return 1
	case I32, U32, F32:
		return 4
	case F16:
		return 2
	case F64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether t is one of the floating-point dtypes.
func (t Type) IsFloat() bool {
	return t == F16 || t == F32 || t == F64
}

// IsInt reports whether t is one of the integer dtypes (bool excluded).
func (t Type) IsInt() bool {
	return t == I32 || t == U32
}

// ZeroValue returns 0 for every dtype. Per-op reduction identities come
// from kernel.ReductionOp.Identity.
func (t Type) ZeroValue() float64 { return 0 }

// CastFloat64 converts an untyped float64 constant into the nearest
// representable value of t, matching the lossy behaviour the reference
// backend and constant folding must agree on.
func CastFloat64(t Type, v float64) float64 {
	switch t {
	case Bool:
		if v != 0 {
			return 1
		}
		return 0
	case I32:
		return float64(int32(v))
	case U32:
		return float64(uint32(v))
	case F16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case F32:
		return float64(float32(v))
	case F64:
		return v
	default:
		return v
	}
}

// EncodeF16 packs a float32 into the IEEE-754 binary16 bit pattern.
func EncodeF16(v float32) uint16 {
	return uint16(float16.Fromfloat32(v))
}

// DecodeF16 is the inverse of EncodeF16.
func DecodeF16(bits uint16) float32 {
	return float16.Frombits(bits).Float32()
}

// IsFinite reports whether v would survive a round-trip through t without
// becoming NaN/Inf outside of an explicit divide-by-zero; used to validate
// "non-finite constant where integral required" usage errors.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CanRepresentInteger reports whether dtype t can hold integral value v
// exactly, used when validating shapes/axes/sizes supplied as dtype-typed
// constants.
func CanRepresentInteger(t Type, v int64) bool {
	switch t {
	case I32:
		return v >= math.MinInt32 && v <= math.MaxInt32
	case U32:
		return v >= 0 && v <= math.MaxUint32
	case Bool:
		return v == 0 || v == 1
	default:
		return true
	}
}
