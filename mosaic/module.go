package mosaic

import (
	"fmt"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// LowerToModule lowers a program to a complete MLIR module: the "main" kernel
// function, and, for block-mapped grid programs, one index-transform function
// per operand plus the grid metadata attributes the hardware compiler
// expects.
//
// grid may be nil for programs without an iteration space.
// dimensionSemantics, when non-nil, overrides the scheduling semantics of
// the non-mapped grid dimensions, one entry per such dimension (e.g.
// "parallel" or "arbitrary").
func (l *Lowerer) LowerToModule(prog *jaxpr.Program, grid *jaxpr.GridMapping, dimensionSemantics []string) (*mlir.Module, error) {
	m := mlir.NewModule("mosaic_kernel")
	main, err := l.lowerToFunc(m, "main", prog, grid)
	if err != nil {
		return nil, err
	}
	if grid == nil || !grid.HasBlockMappings() {
		// Trivial grid-map, no transform functions or window metadata.
		return m, nil
	}

	if len(grid.BlockMappings) != len(prog.InVars)-grid.NumIndexOperands {
		return nil, errors.Errorf("grid has %d block mappings for %d non-prefetch inputs",
			len(grid.BlockMappings), len(prog.InVars)-grid.NumIndexOperands)
	}
	windowParams := make(mlir.ArrayAttr, 0, len(grid.BlockMappings))
	for i, bm := range grid.BlockMappings {
		if bm == nil {
			return nil, errors.Errorf("input %d has no block mapping in a block-mapped grid", i)
		}
		name := fmt.Sprintf("transform_%d", i)
		if err := l.lowerTransformFunc(m, name, bm.IndexMap, grid); err != nil {
			return nil, errors.Wrapf(err, "lowering %s", name)
		}
		bounds := make(mlir.DenseI64ArrayAttr, len(bm.BlockShape))
		for j, d := range bm.BlockShape.BlockDims() {
			bounds[j] = int64(d)
		}
		windowParams = append(windowParams, mlir.DictAttr{
			"window_bounds":     bounds,
			"transform_indices": mlir.SymbolRefAttr(name),
		})
	}

	iterationBounds := make(mlir.DenseI64ArrayAttr, len(grid.Grid))
	for i, d := range grid.Grid {
		iterationBounds[i] = int64(d)
	}
	semantics, err := dimensionSemanticsAttr(grid, dimensionSemantics)
	if err != nil {
		return nil, err
	}
	main.SetAttr("scalar_prefetch", mlir.IntAttr{Value: int64(grid.NumIndexOperands), Type: mlir.Scalar(dtypes.S64)})
	main.SetAttr("window_params", windowParams)
	main.SetAttr("iteration_bounds", iterationBounds)
	main.SetAttr("dimension_semantics", semantics)
	return m, nil
}

// dimensionSemanticsAttr renders the per-grid-dimension scheduling semantics:
// mapped dimensions are always parallel, the rest default to arbitrary unless
// overridden.
func dimensionSemanticsAttr(grid *jaxpr.GridMapping, overrides []string) (mlir.ArrayAttr, error) {
	if overrides != nil {
		nonMapped := len(grid.Grid) - len(grid.MappedDims)
		if len(overrides) != nonMapped {
			return nil, errors.Errorf("%d dimension semantics given for %d non-mapped grid dimensions", len(overrides), nonMapped)
		}
	}
	attrs := make(mlir.ArrayAttr, len(grid.Grid))
	next := 0
	for i := range grid.Grid {
		s := "arbitrary"
		switch {
		case grid.IsDimMapped(i):
			s = "parallel"
		case overrides != nil:
			s = overrides[next]
			next++
		}
		attrs[i] = mlir.ParsedAttr(fmt.Sprintf("#tpu.dimension_semantics<%s>", s))
	}
	return attrs, nil
}

// lowerToFunc lowers the kernel program to one function. When a grid is
// given, the function takes one i32 grid index per grid dimension ahead of
// the program's own inputs; the leading NumIndexOperands inputs are
// scalar-prefetch references placed in scalar memory.
func (l *Lowerer) lowerToFunc(m *mlir.Module, name string, prog *jaxpr.Program, grid *jaxpr.GridMapping) (*mlir.Function, error) {
	var argTypes []mlir.Type
	gridRank := 0
	if grid != nil {
		gridRank = len(grid.Grid)
		for i := 0; i < gridRank; i++ {
			argTypes = append(argTypes, mlir.Scalar(dtypes.S32))
		}
	}

	blockShapes := make([]jaxpr.BlockShape, len(prog.InVars))
	for i, invar := range prog.InVars {
		aval := invar.Aval()
		space := mlir.MemorySpaceNone
		var bm *jaxpr.BlockMapping
		if grid != nil {
			if i < grid.NumIndexOperands {
				space = mlir.SMEM
			} else if j := i - grid.NumIndexOperands; j < len(grid.BlockMappings) {
				bm = grid.BlockMappings[j]
			}
		}
		var shape []int
		if bm != nil {
			shape = bm.BlockShape.BlockDims()
			blockShapes[i] = bm.BlockShape
		} else {
			blockShapes[i] = jaxpr.AsBlockShape(aval.Shape())
		}
		typ, err := avalToType(aval, shape, space)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		argTypes = append(argTypes, typ)
	}

	fn := m.NewFunction(name, true, argTypes)
	var gridIndices []*mlir.Value
	if grid != nil {
		for i := 0; i < gridRank; i++ {
			if grid.IsDimMapped(i) {
				continue
			}
			gridIndices = append(gridIndices, fn.Inputs[i])
		}
	}
	lc := &loweringContext{
		lowerer:     l,
		block:       fn.Body,
		gridIndices: gridIndices,
		blockShapes: blockShapes,
		nameStack:   []string{name},
	}
	klog.V(1).Infof("lowering %q: %d inputs, %d equations, grid rank %d", name, len(prog.InVars), len(prog.Eqns), gridRank)
	outs, err := l.lowerProgram(lc, prog, fn.Inputs[gridRank:]...)
	if err != nil {
		return nil, err
	}
	fn.Body.Return(outs...)
	for _, out := range outs {
		fn.ResultTypes = append(fn.ResultTypes, out.Type())
	}
	return fn, nil
}

// lowerTransformFunc lowers one block index-map program: it takes the grid
// indices plus the scalar-prefetch references and returns the operand's block
// offset for one grid step.
func (l *Lowerer) lowerTransformFunc(m *mlir.Module, name string, indexMap *jaxpr.Program, grid *jaxpr.GridMapping) error {
	if indexMap == nil {
		return errors.New("block mapping without an index map")
	}
	if len(indexMap.ConstVars) > 0 {
		return errors.Errorf("index map with embedded constants not supported (%d const vars)", len(indexMap.ConstVars))
	}
	want := len(grid.Grid) + grid.NumIndexOperands
	if len(indexMap.InVars) != want {
		return errors.Errorf("index map takes %d inputs, want %d grid indices + %d prefetch references",
			len(indexMap.InVars), len(grid.Grid), grid.NumIndexOperands)
	}
	argTypes := make([]mlir.Type, len(indexMap.InVars))
	blockShapes := make([]jaxpr.BlockShape, len(indexMap.InVars))
	for i, invar := range indexMap.InVars {
		aval := invar.Aval()
		space := mlir.MemorySpaceNone
		if i >= len(grid.Grid) {
			space = mlir.SMEM
		}
		typ, err := avalToType(aval, nil, space)
		if err != nil {
			return errors.Wrapf(err, "input %d", i)
		}
		argTypes[i] = typ
		blockShapes[i] = jaxpr.AsBlockShape(aval.Shape())
	}

	fn := m.NewFunction(name, false, argTypes)
	lc := &loweringContext{
		lowerer:     l,
		block:       fn.Body,
		blockShapes: blockShapes,
		nameStack:   []string{name},
	}
	outs, err := l.lowerProgram(lc, indexMap, fn.Inputs...)
	if err != nil {
		return err
	}
	fn.Body.Return(outs...)
	for _, out := range outs {
		fn.ResultTypes = append(fn.ResultTypes, out.Type())
	}
	return nil
}
