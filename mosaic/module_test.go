package mosaic

import (
	"strings"
	"testing"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identityIndexMap builds an index map returning the grid indices unchanged.
func identityIndexMap(gridRank int) *jaxpr.Program {
	invars := make([]*jaxpr.Var, gridRank)
	outvars := make([]jaxpr.Atom, gridRank)
	for i := range invars {
		invars[i] = jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))
		outvars[i] = invars[i]
	}
	return &jaxpr.Program{InVars: invars, OutVars: outvars}
}

// copyKernel builds a kernel copying one block from src to dst.
func copyKernel(src, dst *jaxpr.Var, shape ...int) *jaxpr.Program {
	loaded := jaxpr.NewVar(jaxpr.Array(dtypes.F32, shape...))
	stored := jaxpr.NewVar(jaxpr.Array(dtypes.F32, shape...))
	indexedDims := make([]bool, len(shape))
	return &jaxpr.Program{
		InVars: []*jaxpr.Var{src, dst},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("get", []jaxpr.Atom{src}, []*jaxpr.Var{loaded},
				jaxpr.Params{"indexed_dims": indexedDims}),
			jaxpr.NewEquation("swap", []jaxpr.Atom{dst, loaded}, []*jaxpr.Var{stored},
				jaxpr.Params{"indexed_dims": indexedDims}),
		},
	}
}

func TestLowerToModule_TrivialGrid(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	dst := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	prog := copyKernel(src, dst, 8, 128)

	m, err := New().LowerToModule(prog, nil, nil)
	require.NoError(t, err)
	require.Len(t, m.Functions, 1)

	text := m.String()
	assert.Contains(t, text, "func.func public @main(%arg0: memref<8x128xf32, #tpu.memory_space<vmem>>, %arg1: memref<8x128xf32, #tpu.memory_space<vmem>>)")
	assert.NotContains(t, text, "window_params")
	assert.NotContains(t, text, "iteration_bounds")
	assert.NotContains(t, text, "transform_")
}

func TestLowerToModule_Grid(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	dst := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	prog := copyKernel(src, dst, 8, 128)
	bs := jaxpr.AsBlockShape([]int{8, 128})
	grid := &jaxpr.GridMapping{
		Grid: []int{2, 4},
		BlockMappings: []*jaxpr.BlockMapping{
			{BlockShape: bs, IndexMap: identityIndexMap(2)},
			{BlockShape: bs, IndexMap: identityIndexMap(2)},
		},
	}

	m, err := New().LowerToModule(prog, grid, nil)
	require.NoError(t, err)
	require.Len(t, m.Functions, 3)
	require.NotNil(t, m.GetFunction("transform_0"))
	require.NotNil(t, m.GetFunction("transform_1"))

	text := m.String()
	// Grid indices come first, one i32 per grid dimension.
	assert.Contains(t, text, "func.func public @main(%arg0: i32, %arg1: i32, %arg2: memref<8x128xf32, #tpu.memory_space<vmem>>, %arg3: memref<8x128xf32, #tpu.memory_space<vmem>>)")
	assert.Contains(t, text, "scalar_prefetch = 0 : i64")
	assert.Contains(t, text, "iteration_bounds = array<i64: 2, 4>")
	assert.Contains(t, text, "{transform_indices = @transform_0, window_bounds = array<i64: 8, 128>}")
	assert.Contains(t, text, "dimension_semantics = [#tpu.dimension_semantics<arbitrary>, #tpu.dimension_semantics<arbitrary>]")
	// Transform functions are private.
	assert.Contains(t, text, "func.func @transform_0(%arg0: i32, %arg1: i32)")
}

func TestLowerToModule_MappedDimsBlockShape(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 128))
	dst := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 128))
	prog := copyKernel(src, dst, 128)
	bs := jaxpr.BlockShape{jaxpr.Mapped, 128}
	grid := &jaxpr.GridMapping{
		Grid: []int{4},
		BlockMappings: []*jaxpr.BlockMapping{
			{BlockShape: bs, IndexMap: identityIndexMap(1)},
			{BlockShape: bs, IndexMap: identityIndexMap(1)},
		},
		MappedDims: []int{0},
	}

	m, err := New().LowerToModule(prog, grid, nil)
	require.NoError(t, err)
	text := m.String()
	// Mapped dimensions collapse to 1 in the argument type and pin loads to
	// element 0.
	assert.Contains(t, text, "memref<1x128xf32, #tpu.memory_space<vmem>>")
	assert.Contains(t, text, "window_bounds = array<i64: 1, 128>")
	assert.Contains(t, text, "dimension_semantics = [#tpu.dimension_semantics<parallel>]")
	assert.Contains(t, text, `{value = 0 : index}`)
}

func TestLowerToModule_DimensionSemanticsOverride(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	dst := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	prog := copyKernel(src, dst, 8, 128)
	bs := jaxpr.AsBlockShape([]int{8, 128})
	grid := &jaxpr.GridMapping{
		Grid: []int{2, 4},
		BlockMappings: []*jaxpr.BlockMapping{
			{BlockShape: bs, IndexMap: identityIndexMap(2)},
			{BlockShape: bs, IndexMap: identityIndexMap(2)},
		},
	}

	m, err := New().LowerToModule(prog, grid, []string{"parallel", "arbitrary"})
	require.NoError(t, err)
	assert.Contains(t, m.String(),
		"dimension_semantics = [#tpu.dimension_semantics<parallel>, #tpu.dimension_semantics<arbitrary>]")

	_, err = New().LowerToModule(prog, grid, []string{"parallel"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension semantics")
}

func TestLowerToModule_ScalarPrefetch(t *testing.T) {
	idxRef := jaxpr.NewVar(jaxpr.MakeRef(dtypes.S32, 4))
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	loaded := jaxpr.NewVar(jaxpr.Array(dtypes.F32, 8, 128))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{idxRef, src},
		OutVars: []jaxpr.Atom{loaded},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("get", []jaxpr.Atom{src}, []*jaxpr.Var{loaded},
				jaxpr.Params{"indexed_dims": []bool{false, false}}),
		},
	}
	bs := jaxpr.AsBlockShape([]int{8, 128})
	indexMap := &jaxpr.Program{}
	gi := jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))
	pf := jaxpr.NewVar(jaxpr.MakeRef(dtypes.S32, 4))
	indexMap.InVars = []*jaxpr.Var{gi, pf}
	indexMap.OutVars = []jaxpr.Atom{gi}
	grid := &jaxpr.GridMapping{
		Grid:             []int{2},
		BlockMappings:    []*jaxpr.BlockMapping{{BlockShape: bs, IndexMap: indexMap}},
		NumIndexOperands: 1,
	}

	m, err := New().LowerToModule(prog, grid, nil)
	require.NoError(t, err)
	text := m.String()
	assert.Contains(t, text, "scalar_prefetch = 1 : i64")
	// The prefetch operand rides in scalar memory, in both the kernel and the
	// transform function.
	assert.Equal(t, 2, strings.Count(text, "memref<4xi32, #tpu.memory_space<smem>>"))
}

func TestProgramID_ResolvesGridIndex(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	pid := jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{src},
		OutVars: []jaxpr.Atom{pid},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("program_id", nil, []*jaxpr.Var{pid}, jaxpr.Params{"axis": 1}),
		},
	}
	bs := jaxpr.AsBlockShape([]int{8, 128})
	grid := &jaxpr.GridMapping{
		Grid:          []int{2, 4},
		BlockMappings: []*jaxpr.BlockMapping{{BlockShape: bs, IndexMap: identityIndexMap(2)}},
	}

	m, err := New().LowerToModule(prog, grid, nil)
	require.NoError(t, err)
	// Axis 1 resolves to the second grid-index argument, with no instruction.
	assert.Contains(t, m.String(), `"func.return"(%arg1)`)
}

func TestProgramID_AxisOutOfRange(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	pid := jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{src},
		OutVars: []jaxpr.Atom{pid},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("program_id", nil, []*jaxpr.Var{pid}, jaxpr.Params{"axis": 5}),
		},
	}
	bs := jaxpr.AsBlockShape([]int{8, 128})
	grid := &jaxpr.GridMapping{
		Grid:          []int{2},
		BlockMappings: []*jaxpr.BlockMapping{{BlockShape: bs, IndexMap: identityIndexMap(1)}},
	}
	_, err := New().LowerToModule(prog, grid, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "grid only has 1 dimensions")
}

func TestLowerToModule_IndexMapConstsRejected(t *testing.T) {
	src := jaxpr.NewVar(jaxpr.MakeRef(dtypes.F32, 8, 128))
	prog := &jaxpr.Program{InVars: []*jaxpr.Var{src}}
	indexMap := identityIndexMap(1)
	indexMap.ConstVars = []*jaxpr.Var{jaxpr.NewVar(jaxpr.ShapedScalar(dtypes.S32))}
	grid := &jaxpr.GridMapping{
		Grid: []int{2},
		BlockMappings: []*jaxpr.BlockMapping{
			{BlockShape: jaxpr.AsBlockShape([]int{8, 128}), IndexMap: indexMap},
		},
	}
	_, err := New().LowerToModule(prog, grid, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index map with embedded constants")
}
