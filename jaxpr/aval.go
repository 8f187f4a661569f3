package jaxpr

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
)

// AbstractValue is the compile-time shape+dtype descriptor attached to each
// variable of a Program. It is created by the upstream tracer and consumed
// read-only by the lowering engine.
//
// The two variants are ShapedArray (an immutable array value) and Ref (a
// mutable memory cell).
type AbstractValue interface {
	// Shape returns the dimensions of the value. Scalars have an empty shape.
	Shape() []int

	// DType returns the primitive element type.
	DType() dtypes.DType

	fmt.Stringer
}

// ShapedArray is the AbstractValue of an immutable array (or scalar) value.
type ShapedArray struct {
	Dims  []int
	Dtype dtypes.DType
}

// ShapedScalar returns the abstract value of a scalar of the given dtype.
func ShapedScalar(dtype dtypes.DType) ShapedArray {
	return ShapedArray{Dtype: dtype}
}

// Array returns the abstract value of an array with the given dimensions.
//
// The dimensions must be non-negative.
func Array(dtype dtypes.DType, dims ...int) ShapedArray {
	for _, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("jaxpr.Array(%s, %v): dimensions must be non-negative", dtype, dims)
		}
	}
	return ShapedArray{Dims: slices.Clone(dims), Dtype: dtype}
}

// Shape implements AbstractValue.
func (a ShapedArray) Shape() []int { return a.Dims }

// DType implements AbstractValue.
func (a ShapedArray) DType() dtypes.DType { return a.Dtype }

// IsScalar reports whether the array has rank 0.
func (a ShapedArray) IsScalar() bool { return len(a.Dims) == 0 }

// Update returns a copy of the abstract value with the shape replaced.
func (a ShapedArray) Update(dims ...int) ShapedArray {
	return ShapedArray{Dims: slices.Clone(dims), Dtype: a.Dtype}
}

// String implements fmt.Stringer.
func (a ShapedArray) String() string {
	return fmt.Sprintf("%s%s", a.Dtype, dimsString(a.Dims))
}

// Ref is the AbstractValue of a mutable memory region: the "reference" kind.
// References are indexed, loaded from and stored to; they are never carried
// by value.
type Ref struct {
	Dims  []int
	Dtype dtypes.DType
}

// MakeRef returns the abstract value of a memory region with the given
// dimensions.
func MakeRef(dtype dtypes.DType, dims ...int) Ref {
	for _, dim := range dims {
		if dim < 0 {
			exceptions.Panicf("jaxpr.MakeRef(%s, %v): dimensions must be non-negative", dtype, dims)
		}
	}
	return Ref{Dims: slices.Clone(dims), Dtype: dtype}
}

// Shape implements AbstractValue.
func (r Ref) Shape() []int { return r.Dims }

// DType implements AbstractValue.
func (r Ref) DType() dtypes.DType { return r.Dtype }

// String implements fmt.Stringer.
func (r Ref) String() string {
	return fmt.Sprintf("Ref{%s%s}", r.Dtype, dimsString(r.Dims))
}

// ShapeEqual reports whether two abstract values have identical shape, dtype
// and kind.
func ShapeEqual(a, b AbstractValue) bool {
	if _, aIsRef := a.(Ref); aIsRef != isRef(b) {
		return false
	}
	return a.DType() == b.DType() && slices.Equal(a.Shape(), b.Shape())
}

func isRef(a AbstractValue) bool {
	_, ok := a.(Ref)
	return ok
}

func dimsString(dims []int) string {
	parts := make([]string, len(dims))
	for i, dim := range dims {
		parts[i] = fmt.Sprintf("%d", dim)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// BlockDim is one entry of a BlockShape: a tile size, or the Mapped marker
// for a dimension tiled to size 1 by an enclosing grid and excluded from the
// block's logical shape.
type BlockDim int

// Mapped marks a block dimension as mapped away by the grid.
const Mapped BlockDim = -1

// BlockShape is the block-tiling shape of a variable: one BlockDim per
// dimension of the underlying memory region. A nil BlockShape means the
// variable has no tiling arrangement (e.g. it is not a block-mapped operand).
type BlockShape []BlockDim

// AsBlockShape converts plain dimensions into a BlockShape with no mapped
// entries.
func AsBlockShape(dims []int) BlockShape {
	bs := make(BlockShape, len(dims))
	for i, dim := range dims {
		bs[i] = BlockDim(dim)
	}
	return bs
}

// BlockDims returns the concrete per-dimension tile sizes, with mapped
// dimensions tiled to 1.
func (bs BlockShape) BlockDims() []int {
	dims := make([]int, len(bs))
	for i, b := range bs {
		if b == Mapped {
			dims[i] = 1
		} else {
			dims[i] = int(b)
		}
	}
	return dims
}
