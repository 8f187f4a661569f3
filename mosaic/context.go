package mosaic

import (
	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
)

// loweringContext is the state threaded through nested walker calls: the
// insertion block, the grid index values, the block-tiling shapes of the
// current program's inputs and a name stack for diagnostics.
//
// A context is owned by one lowering invocation and never mutated in place:
// nested scopes derive copies with the constructors below.
type loweringContext struct {
	lowerer     *Lowerer
	block       *mlir.Block
	gridIndices []*mlir.Value
	blockShapes []jaxpr.BlockShape
	nameStack   []string
}

// forBlockShapes derives a context for a nested program with different input
// block shapes (inlined calls, loop bodies).
func (lc *loweringContext) forBlockShapes(blockShapes []jaxpr.BlockShape) *loweringContext {
	derived := *lc
	derived.blockShapes = blockShapes
	return &derived
}

// forRegion derives a context for lowering into a nested region (a branch of
// a conditional), with the region's own input block shapes.
func (lc *loweringContext) forRegion(block *mlir.Block, blockShapes []jaxpr.BlockShape) *loweringContext {
	derived := *lc
	derived.block = block
	derived.blockShapes = blockShapes
	return &derived
}

// pushName derives a context with one more entry on the diagnostics name
// stack.
func (lc *loweringContext) pushName(name string) *loweringContext {
	derived := *lc
	derived.nameStack = append(lc.nameStack[:len(lc.nameStack):len(lc.nameStack)], name)
	return &derived
}

// ruleContext is the per-equation context handed to a rule: the enclosing
// lowering context plus the equation's resolved input/output abstract values
// and input block shapes. It exists only for the duration of one rule
// invocation.
type ruleContext struct {
	lc          *loweringContext
	avalsIn     []jaxpr.AbstractValue
	avalsOut    []jaxpr.AbstractValue
	blockShapes []jaxpr.BlockShape
}

// forAvalsIn derives a rule context with the input abstract values and block
// shapes replaced; used by rules that re-dispatch to another rule with
// synthesized inputs (e.g. neg → sub(0, x)).
func (ctx *ruleContext) forAvalsIn(avalsIn []jaxpr.AbstractValue, blockShapes []jaxpr.BlockShape) *ruleContext {
	derived := *ctx
	derived.avalsIn = avalsIn
	derived.blockShapes = blockShapes
	return &derived
}

// block returns the current insertion block.
func (ctx *ruleContext) block() *mlir.Block { return ctx.lc.block }

// avalOut returns the single output abstract value of the equation.
func (ctx *ruleContext) avalOut() jaxpr.AbstractValue { return ctx.avalsOut[0] }

// outType returns the hardware type of the single output.
func (ctx *ruleContext) outType() (mlir.Type, error) {
	return avalToType(ctx.avalsOut[0], nil, mlir.MemorySpaceNone)
}
