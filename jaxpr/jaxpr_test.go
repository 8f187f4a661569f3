package jaxpr

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
)

func TestShapeEqual(t *testing.T) {
	assert.True(t, ShapeEqual(Array(dtypes.F32, 8, 128), Array(dtypes.F32, 8, 128)))
	assert.False(t, ShapeEqual(Array(dtypes.F32, 8, 128), Array(dtypes.F32, 8)))
	assert.False(t, ShapeEqual(Array(dtypes.F32, 8), Array(dtypes.S32, 8)))
	// A reference and an array never compare equal, even with the same shape.
	assert.False(t, ShapeEqual(MakeRef(dtypes.F32, 8), Array(dtypes.F32, 8)))
	assert.True(t, ShapeEqual(MakeRef(dtypes.F32, 8), MakeRef(dtypes.F32, 8)))
}

func TestBlockShape(t *testing.T) {
	bs := BlockShape{Mapped, 8, 128}
	assert.Equal(t, []int{1, 8, 128}, bs.BlockDims())
	assert.Equal(t, BlockShape{8, 128}, AsBlockShape([]int{8, 128}))
}

func TestVar_Identity(t *testing.T) {
	aval := ShapedScalar(dtypes.S32)
	a, b := NewVar(aval), NewVar(aval)
	assert.NotEqual(t, a, b)
	assert.Equal(t, aval, a.Aval())
}

func TestSlice_String(t *testing.T) {
	assert.Equal(t, "0:8", FullSlice(8).String())
	assert.Equal(t, "2:6", Slice{Start: 2, Size: 4}.String())
}
