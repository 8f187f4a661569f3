package mlir

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// MemorySpace tags a memref type with the target memory it lives in.
type MemorySpace int

const (
	// MemorySpaceNone leaves the memref without a memory-space attribute.
	MemorySpaceNone MemorySpace = iota

	// VMEM is the fast on-chip vector memory.
	VMEM

	// SMEM is the scalar/control memory, used e.g. for scalar-prefetch operands.
	SMEM
)

// String implements fmt.Stringer.
func (m MemorySpace) String() string {
	switch m {
	case VMEM:
		return "vmem"
	case SMEM:
		return "smem"
	default:
		return "none"
	}
}

// Attribute returns the memory space rendered as a tpu-dialect attribute.
func (m MemorySpace) Attribute() string {
	return fmt.Sprintf("#tpu.memory_space<%s>", m)
}

// TypeKind discriminates the variants of Type.
type TypeKind int

const (
	InvalidType TypeKind = iota

	// ScalarType is a plain element type, e.g. `f32` or `i1`.
	ScalarType

	// VectorType is a fixed-shape vector register type, e.g. `vector<8x128xf32>`.
	VectorType

	// MemRefType is a memory-region type with an optional memory-space
	// attribute, e.g. `memref<8x128xf32, #tpu.memory_space<vmem>>`.
	MemRefType

	// IndexType is the MLIR `index` type used for memory subscripts.
	IndexType
)

// Type is a minimalistic model of the MLIR types the lowering produces.
//
// It is defined by its kind, a DType (the element type) and, for vectors and
// memrefs, the dimensions on each axis. Memrefs additionally carry a
// MemorySpace.
type Type struct {
	Kind       TypeKind
	DType      dtypes.DType
	Dimensions []int
	Space      MemorySpace
}

// Scalar returns a scalar type of the given dtype.
func Scalar(dtype dtypes.DType) Type {
	return Type{Kind: ScalarType, DType: dtype}
}

// Vector returns a vector type with the given dimensions.
//
// The dimensions must be >= 0; a rank-0 vector is accepted since the vector
// dialect allows `vector<f32>`.
func Vector(dtype dtypes.DType, dimensions ...int) Type {
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("mlir.Vector(%s, %v): dimensions must be non-negative", dtype, dimensions)
		}
	}
	return Type{Kind: VectorType, DType: dtype, Dimensions: slices.Clone(dimensions)}
}

// MemRef returns a memref type with the given memory space and dimensions.
func MemRef(dtype dtypes.DType, space MemorySpace, dimensions ...int) Type {
	for _, dim := range dimensions {
		if dim < 0 {
			exceptions.Panicf("mlir.MemRef(%s, %v): dimensions must be non-negative", dtype, dimensions)
		}
	}
	return Type{Kind: MemRefType, DType: dtype, Dimensions: slices.Clone(dimensions), Space: space}
}

// Index returns the MLIR `index` type.
func Index() Type {
	return Type{Kind: IndexType}
}

// IsValid reports whether the type was properly constructed.
func (t Type) IsValid() bool { return t.Kind != InvalidType }

// IsIndex reports whether this is the `index` type.
func (t Type) IsIndex() bool { return t.Kind == IndexType }

// IsMemRef reports whether this is a memref type.
func (t Type) IsMemRef() bool { return t.Kind == MemRefType }

// IsVector reports whether this is a vector type.
func (t Type) IsVector() bool { return t.Kind == VectorType }

// Rank returns the number of axes. Scalars and index have rank 0.
func (t Type) Rank() int { return len(t.Dimensions) }

// Equal reports whether two types are identical.
func (t Type) Equal(o Type) bool {
	return t.Kind == o.Kind && t.DType == o.DType && t.Space == o.Space &&
		slices.Equal(t.Dimensions, o.Dimensions)
}

// DTypeToMLIR returns the MLIR rendering of a dtype: MLIR integers are
// signless, so signed and unsigned map to the same `i<bits>` type.
func DTypeToMLIR(dtype dtypes.DType) string {
	switch dtype {
	case dtypes.F64:
		return "f64"
	case dtypes.F32:
		return "f32"
	case dtypes.Float16:
		return "f16"
	case dtypes.BFloat16:
		return "bf16"
	case dtypes.S64, dtypes.U64:
		return "i64"
	case dtypes.S32, dtypes.U32:
		return "i32"
	case dtypes.S16, dtypes.U16:
		return "i16"
	case dtypes.S8, dtypes.U8:
		return "i8"
	case dtypes.Bool:
		return "i1"
	default:
		return fmt.Sprintf("unknown_dtype<%s>", dtype.String())
	}
}

// String implements fmt.Stringer and returns the MLIR rendering of the type.
func (t Type) String() string {
	var sb strings.Builder
	_ = t.WriteMLIR(&sb)
	return sb.String()
}

// WriteMLIR writes the MLIR rendering of the type to the given writer.
func (t Type) WriteMLIR(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	switch t.Kind {
	case IndexType:
		w("index")
	case ScalarType:
		w("%s", DTypeToMLIR(t.DType))
	case VectorType:
		w("vector<")
		for _, dim := range t.Dimensions {
			w("%dx", dim)
		}
		w("%s>", DTypeToMLIR(t.DType))
	case MemRefType:
		w("memref<")
		for _, dim := range t.Dimensions {
			w("%dx", dim)
		}
		w("%s", DTypeToMLIR(t.DType))
		if t.Space != MemorySpaceNone {
			w(", %s", t.Space.Attribute())
		}
		w(">")
	default:
		w("<invalid type>")
	}
	return err
}
