package mosaic

import (
	"testing"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_FullSlices(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8, 128))
	prog := singleEqn("get", []*jaxpr.Var{ref}, []jaxpr.Atom{ref}, out,
		jaxpr.Params{"indexed_dims": []bool{false, false}})

	text := lowerText(t, prog, nil)
	assert.Contains(t, text, "%arg0: memref<8x128xf32, #tpu.memory_space<vmem>>")
	assert.Contains(t, text, `"arith.constant"() {value = 0 : index} : () -> (index)`)
	assert.Contains(t, text, `(memref<8x128xf32, #tpu.memory_space<vmem>>, index, index) -> (vector<8x128xf32>)`)
	assert.Contains(t, text, `"vector.load"`)
	// The memory slice already has the output shape, no reshaping needed.
	assert.NotContains(t, text, `"vector.shape_cast"`)
}

func TestGet_ScalarIndexInsertsUnitDim(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 8))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8))
	idx := jaxpr.NewLiteral(3, jaxpr.ShapedScalar(dtypes.S32))
	prog := singleEqn("get", []*jaxpr.Var{ref}, []jaxpr.Atom{ref, idx}, out,
		jaxpr.Params{"indexed_dims": []bool{true, false}})

	text := lowerText(t, prog, nil)
	assert.Contains(t, text, `"arith.constant"() {value = 3 : index}`)
	assert.Contains(t, text, "-> (vector<1x8xf32>)")
	assert.Contains(t, text, `(vector<1x8xf32>) -> (vector<8xf32>)`)
	assert.Contains(t, text, `"vector.shape_cast"`)
}

func TestGet_VectorIndexRejected(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 8))
	idx := jaxpr.NewVar(jaxpr.Array(dtypes.S32, 8))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{ref, idx},
		OutVars: []jaxpr.Atom{out},
		Eqns: []*jaxpr.Equation{jaxpr.NewEquation("get",
			[]jaxpr.Atom{ref, idx}, []*jaxpr.Var{out},
			jaxpr.Params{"indexed_dims": []bool{true, false}})},
	}
	_, err := New().LowerToModule(prog, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector dynamic indexing")
}

func TestLoad_SMEMScalar(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.S32, 4))
	out := jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))
	idx := jaxpr.NewLiteral(2, jaxpr.ShapedScalar(dtypes.S32))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref, idx}, out, jaxpr.Params{
		"indexed_dims": []bool{true},
		"masked":       false,
	})
	grid := &jaxpr.GridMapping{NumIndexOperands: 1}

	text := lowerText(t, prog, grid)
	assert.Contains(t, text, "%arg0: memref<4xi32, #tpu.memory_space<smem>>")
	assert.Contains(t, text, `"memref.load"(%arg0,`)
	assert.NotContains(t, text, `"vector.load"`)
}

func TestLoad_SMEMVectorRejected(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.S32, 4))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.S32, 4))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref}, out, jaxpr.Params{
		"indexed_dims": []bool{false},
		"masked":       false,
	})
	grid := &jaxpr.GridMapping{NumIndexOperands: 1}

	_, err := New().LowerToModule(prog, grid, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only load scalars from scalar memory")
}

func TestLoad_PartialSlice(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 4, 128))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref}, out, jaxpr.Params{
		"indexer": jaxpr.NDIndexer{
			jaxpr.SliceDim(jaxpr.Slice{Start: 2, Size: 4}),
			jaxpr.SliceDim(jaxpr.FullSlice(128)),
		},
		"masked": false,
	})

	text := lowerText(t, prog, nil)
	// The slice start becomes the load offset on its dimension.
	assert.Contains(t, text, `"arith.constant"() {value = 2 : index}`)
	assert.Contains(t, text, `"arith.constant"() {value = 0 : index}`)
	assert.Contains(t, text, `(memref<8x128xf32, #tpu.memory_space<vmem>>, index, index) -> (vector<4x128xf32>)`)
	assert.Contains(t, text, `"vector.load"`)
	assert.NotContains(t, text, `"vector.shape_cast"`)
}

func TestLoad_SliceAndScalarIndexMixed(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 64))
	idx := jaxpr.NewLiteral(3, jaxpr.ShapedScalar(dtypes.S32))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref, idx}, out, jaxpr.Params{
		"indexer": jaxpr.NDIndexer{
			jaxpr.IndexDim(),
			jaxpr.SliceDim(jaxpr.Slice{Start: 64, Size: 64}),
		},
		"masked": false,
	})

	text := lowerText(t, prog, nil)
	assert.Contains(t, text, `"arith.constant"() {value = 3 : index}`)
	assert.Contains(t, text, `"arith.constant"() {value = 64 : index}`)
	// The indexed-out dimension is re-inserted as 1 and squeezed away.
	assert.Contains(t, text, "-> (vector<1x64xf32>)")
	assert.Contains(t, text, `(vector<1x64xf32>) -> (vector<64xf32>)`)
}

func TestLoad_SliceOutOfBounds(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 4))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref}, out, jaxpr.Params{
		"indexer": jaxpr.NDIndexer{jaxpr.SliceDim(jaxpr.Slice{Start: 6, Size: 4})},
		"masked":  false,
	})
	_, err := New().LowerToModule(prog, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of bounds")
}

func TestSwap_PartialSlice(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	val := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 2, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 2, 128))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{ref, val},
		OutVars: []jaxpr.Atom{out},
		Eqns: []*jaxpr.Equation{jaxpr.NewEquation("masked_swap",
			[]jaxpr.Atom{ref, val}, []*jaxpr.Var{out},
			jaxpr.Params{
				"indexer": jaxpr.NDIndexer{
					jaxpr.SliceDim(jaxpr.Slice{Start: 4, Size: 2}),
					jaxpr.SliceDim(jaxpr.FullSlice(128)),
				},
				"masked": false,
			})},
	}

	text := lowerText(t, prog, nil)
	assert.Contains(t, text, `"arith.constant"() {value = 4 : index}`)
	assert.Contains(t, text, `(memref<8x128xf32, #tpu.memory_space<vmem>>, index, index) -> (vector<2x128xf32>)`)
	assert.Contains(t, text, `"vector.store"(%arg1, %arg0,`)
}

func TestLoad_MaskedRejected(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8))
	prog := singleEqn("load", []*jaxpr.Var{ref}, []jaxpr.Atom{ref}, out, jaxpr.Params{
		"indexed_dims": []bool{false},
		"masked":       true,
	})
	_, err := New().LowerToModule(prog, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "masked loads")
}

func TestSwap_ReturnsPreviousContents(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	val := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8, 128))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{ref, val},
		OutVars: []jaxpr.Atom{out},
		Eqns: []*jaxpr.Equation{jaxpr.NewEquation("swap",
			[]jaxpr.Atom{ref, val}, []*jaxpr.Var{out},
			jaxpr.Params{"indexed_dims": []bool{false, false}})},
	}

	text := lowerText(t, prog, nil)
	assert.Contains(t, text, `"vector.load"`)
	assert.Contains(t, text, `"vector.store"(%arg1, %arg0,`)
	// The previous contents, not the stored value, are the result.
	assert.Contains(t, text, `"vector.store"`)
	assert.NotContains(t, text, `"func.return"(%arg1)`)
}

func TestSwap_ScalarIndexShapeCasts(t *testing.T) {
	ref := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	val := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 128))
	out := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 128))
	idx := jaxpr.NewLiteral(0, jaxpr.ShapedScalar(dtypes.S32))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{ref, val},
		OutVars: []jaxpr.Atom{out},
		Eqns: []*jaxpr.Equation{jaxpr.NewEquation("swap",
			[]jaxpr.Atom{ref, val, idx}, []*jaxpr.Var{out},
			jaxpr.Params{"indexed_dims": []bool{true, false}})},
	}

	text := lowerText(t, prog, nil)
	// Both directions are reshaped: the loaded slice down to the value shape,
	// the stored value up to the memory slice shape.
	assert.Contains(t, text, `(vector<1x128xf32>) -> (vector<128xf32>)`)
	assert.Contains(t, text, `(vector<128xf32>) -> (vector<1x128xf32>)`)
	assert.Contains(t, text, `"vector.store"`)
}
