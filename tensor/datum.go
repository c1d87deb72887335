// Package tensor holds the datum types and the immutable constant values (tensors) manipulated by the graphs.
//
// Plain numeric datum types are tagged by the GoMLX dtypes.DType enum. On top of those, a DatumType
// can be a symbolic dimension (TDim) or a quantized fixed-point type (QI8, QU8, QI32), which carries
// its zero-point and scale.
//
// Tensors are shared by pointer across graph outlets and must never be modified once they are
// published: operations always create new tensors for their results.
package tensor

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/dtypes"
	"github.com/gomlx/gomlx/pkg/core/dtypes/bfloat16"
	"github.com/gomlx/typedgraph/tdim"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// DatumType is the element type of a tensor. It is comparable, so == can be used.
type DatumType struct {
	// DType is the storage type of the elements. It is dtypes.InvalidDType for TDim.
	DType dtypes.DType

	dim       bool
	quantized bool
	zeroPoint int32
	scale     float32
}

// Plain datum types.
var (
	Invalid = DatumType{}
	Bool    = DatumType{DType: dtypes.Bool}
	I8      = DatumType{DType: dtypes.Int8}
	I16     = DatumType{DType: dtypes.Int16}
	I32     = DatumType{DType: dtypes.Int32}
	I64     = DatumType{DType: dtypes.Int64}
	U8      = DatumType{DType: dtypes.Uint8}
	U16     = DatumType{DType: dtypes.Uint16}
	U32     = DatumType{DType: dtypes.Uint32}
	U64     = DatumType{DType: dtypes.Uint64}
	F16     = DatumType{DType: dtypes.Float16}
	BF16    = DatumType{DType: dtypes.BFloat16}
	F32     = DatumType{DType: dtypes.Float32}
	F64     = DatumType{DType: dtypes.Float64}

	// TDim holds symbolic dimensions, typically shapes and slicing bounds.
	TDim = DatumType{dim: true}
)

// MaxDatumTypes is the size of tables indexed by DatumType.Index.
const MaxDatumTypes = 33

// tdimIndex is the table index reserved for TDim.
const tdimIndex = MaxDatumTypes - 1

// QI8 returns a quantized signed 8 bits datum type: real = (stored - zeroPoint) * scale.
func QI8(zeroPoint int32, scale float32) DatumType {
	return DatumType{DType: dtypes.Int8, quantized: true, zeroPoint: zeroPoint, scale: scale}
}

// QU8 returns a quantized unsigned 8 bits datum type: real = (stored - zeroPoint) * scale.
func QU8(zeroPoint int32, scale float32) DatumType {
	return DatumType{DType: dtypes.Uint8, quantized: true, zeroPoint: zeroPoint, scale: scale}
}

// QI32 returns a quantized signed 32 bits datum type, usually used for accumulators.
func QI32(zeroPoint int32, scale float32) DatumType {
	return DatumType{DType: dtypes.Int32, quantized: true, zeroPoint: zeroPoint, scale: scale}
}

// Supported enumerates the Go types that can be stored in a tensor.
type Supported interface {
	bool | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 |
		float16.Float16 | bfloat16.BFloat16 | float32 | float64 | tdim.Dim
}

// Of returns the plain DatumType for the Go type T.
func Of[T Supported]() DatumType {
	var zero T
	switch any(zero).(type) {
	case bool:
		return Bool
	case int8:
		return I8
	case int16:
		return I16
	case int32:
		return I32
	case int64:
		return I64
	case uint8:
		return U8
	case uint16:
		return U16
	case uint32:
		return U32
	case uint64:
		return U64
	case float16.Float16:
		return F16
	case bfloat16.BFloat16:
		return BF16
	case float32:
		return F32
	case float64:
		return F64
	case tdim.Dim:
		return TDim
	}
	return Invalid
}

// IsTDim returns whether dt holds symbolic dimensions.
func (dt DatumType) IsTDim() bool { return dt.dim }

// IsQuantized returns whether dt is a quantized fixed-point type.
func (dt DatumType) IsQuantized() bool { return dt.quantized }

// QParams returns the zero-point and scale of a quantized type. For other types it returns (0, 1).
func (dt DatumType) QParams() (zeroPoint int32, scale float32) {
	if !dt.quantized {
		return 0, 1
	}
	return dt.zeroPoint, dt.scale
}

// Unquantized returns the storage type of dt, without the quantization parameters.
func (dt DatumType) Unquantized() DatumType {
	return DatumType{DType: dt.DType, dim: dt.dim}
}

// IsFloat returns whether dt is a plain floating point type.
func (dt DatumType) IsFloat() bool {
	return !dt.dim && !dt.quantized && dt.DType.IsFloat()
}

// IsInteger returns whether dt is a plain integer type. Quantized types, TDim and Bool are not integers.
func (dt DatumType) IsInteger() bool {
	return !dt.dim && !dt.quantized && dt.DType.IsInt()
}

// IsUnsigned returns whether dt is a plain unsigned integer.
func (dt DatumType) IsUnsigned() bool {
	return dt.IsInteger() && dt.DType.IsUnsigned()
}

// IsBool returns whether dt is the boolean type.
func (dt DatumType) IsBool() bool { return !dt.dim && dt.DType == dtypes.Bool }

// IsValid returns whether dt is a usable type.
func (dt DatumType) IsValid() bool { return dt.dim || dt.DType != dtypes.InvalidDType }

// Size returns the number of bytes used per element. TDim elements are accounted as 8 bytes.
func (dt DatumType) Size() int {
	if dt.dim {
		return 8
	}
	return dt.DType.Size()
}

// Index returns a small integer unique to the storage type, used to index kernel tables.
func (dt DatumType) Index() int {
	if dt.dim {
		return tdimIndex
	}
	return int(dt.DType)
}

// Equal implements equality, including the quantization parameters.
func (dt DatumType) Equal(other DatumType) bool { return dt == other }

// String implements fmt.Stringer.
func (dt DatumType) String() string {
	switch {
	case dt.dim:
		return "TDim"
	case dt.quantized:
		return fmt.Sprintf("Q%s(zp=%d,scale=%g)", dt.DType, dt.zeroPoint, dt.scale)
	case dt.DType == dtypes.InvalidDType:
		return "Invalid"
	}
	return dt.DType.String()
}

// PromotionConfig controls how mixed datum types are reconciled by binary operators.
type PromotionConfig struct {
	// AllowPromotion enables automatic promotion to the higher priority type. If false,
	// any mismatch (other than integers mixed with TDim) is an error.
	AllowPromotion bool

	// PrioritizeFloat16 prefers Float16 over Float32 when promoting.
	// Only applies when AllowPromotion is true.
	PrioritizeFloat16 bool
}

// DefaultPromotion is the PromotionConfig used by SuperType.
var DefaultPromotion = PromotionConfig{AllowPromotion: true}

// SuperType returns the datum type both a and b can be represented in, using DefaultPromotion.
func SuperType(a, b DatumType) (DatumType, error) {
	return DefaultPromotion.SuperType(a, b)
}

// SuperType returns the datum type both a and b can be represented in.
//
// TDim absorbs plain integers, quantized types only combine with themselves, and otherwise
// the type with the higher priority (Float64 > Float32 > Float16 > Int64 > ...) wins.
func (c PromotionConfig) SuperType(a, b DatumType) (DatumType, error) {
	if a == b {
		return a, nil
	}
	if a.quantized || b.quantized {
		return Invalid, errors.Errorf("cannot mix quantized datum types %s and %s", a, b)
	}
	if a.dim || b.dim {
		other := a
		if a.dim {
			other = b
		}
		if other.IsInteger() {
			return TDim, nil
		}
		return Invalid, errors.Errorf("cannot mix %s with symbolic dimensions", other)
	}
	if !c.AllowPromotion {
		return Invalid, errors.Errorf("datum type mismatch: %s vs %s (promotion disabled)", a, b)
	}
	if c.PrioritizeFloat16 {
		if (a == F16 && b == F32) || (a == F32 && b == F16) {
			return F16, nil
		}
	}
	if dtypePriority(b.DType) > dtypePriority(a.DType) {
		return b, nil
	}
	return a, nil
}

// dtypePriority returns a priority value for dtype promotion.
// Higher values are preferred in mixed-type operations.
func dtypePriority(dt dtypes.DType) int {
	switch dt {
	case dtypes.Float64:
		return 100
	case dtypes.Float32:
		return 90
	case dtypes.Float16, dtypes.BFloat16:
		return 80
	case dtypes.Int64:
		return 70
	case dtypes.Int32:
		return 60
	case dtypes.Int16:
		return 50
	case dtypes.Int8:
		return 40
	case dtypes.Uint64:
		return 35
	case dtypes.Uint32:
		return 30
	case dtypes.Uint16:
		return 25
	case dtypes.Uint8:
		return 20
	case dtypes.Bool:
		return 10
	default:
		return 0
	}
}
