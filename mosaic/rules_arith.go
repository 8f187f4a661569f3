package mosaic

import (
	"slices"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// bcastPair materializes literal operands and broadcasts both sides of an
// elementwise binary operation up to the declared output shape.
func bcastPair(ctx *ruleContext, x, y operand) (xv, yv *mlir.Value, err error) {
	xAval, yAval := ctx.avalsIn[0], ctx.avalsIn[1]
	if x.isLiteral() {
		typ := mlir.Scalar(xAval.DType())
		if !y.isLiteral() && y.value.Type().IsIndex() {
			typ = mlir.Index()
		}
		if xv, err = constant(ctx.block(), x.lit, typ); err != nil {
			return nil, nil, err
		}
	} else {
		xv = x.value
	}
	if y.isLiteral() {
		typ := mlir.Scalar(yAval.DType())
		if xv.Type().IsIndex() {
			typ = mlir.Index()
		}
		if yv, err = constant(ctx.block(), y.lit, typ); err != nil {
			return nil, nil, err
		}
	} else {
		yv = y.value
	}

	outAval := ctx.avalOut()
	outShape := outAval.Shape()
	if len(outShape) == 0 {
		return xv, yv, nil
	}
	bcastType := mlir.Vector(outAval.DType(), outShape...)
	if !slices.Equal(xAval.Shape(), outShape) {
		xv = ctx.block().AddOp1(optypes.Broadcast, bcastType, xv)
	}
	if !slices.Equal(yAval.Shape(), outShape) {
		yv = ctx.block().AddOp1(optypes.Broadcast, bcastType, yv)
	}
	return xv, yv, nil
}

// binaryOp dispatches an elementwise binary op on the output dtype: one
// instruction variant for integers, one for unsigned integers (when they
// differ) and one for floats. An invalid op means the variant has no
// hardware lowering and is rejected.
func binaryOp(ctx *ruleContext, x, y operand, signedOp, unsignedOp, floatOp optypes.OpType) (*mlir.Value, error) {
	xv, yv, err := bcastPair(ctx, x, y)
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	dt := ctx.avalOut().DType()
	switch {
	case isSignedInt(dt) && signedOp != optypes.Invalid:
		return ctx.block().AddOp1(signedOp, outType, xv, yv), nil
	case dt.IsUnsigned() && unsignedOp != optypes.Invalid:
		return ctx.block().AddOp1(unsignedOp, outType, xv, yv), nil
	case dt.IsFloat() && floatOp != optypes.Invalid:
		return ctx.block().AddOp1(floatOp, outType, xv, yv), nil
	}
	return nil, errors.Errorf("unsupported dtype %s", dt)
}

func lowerAdd(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.AddI, optypes.AddI, optypes.AddF)
	return []*mlir.Value{v}, err
}

func lowerSub(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.SubI, optypes.SubI, optypes.SubF)
	return []*mlir.Value{v}, err
}

func lowerMul(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.MulI, optypes.MulI, optypes.MulF)
	return []*mlir.Value{v}, err
}

func lowerDiv(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.DivSI, optypes.DivUI, optypes.DivF)
	return []*mlir.Value{v}, err
}

func lowerRem(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.RemSI, optypes.RemUI, optypes.RemF)
	return []*mlir.Value{v}, err
}

func lowerMax(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := binaryOp(ctx, args[0], args[1], optypes.MaxSI, optypes.MaxUI, optypes.MaxF)
	return []*mlir.Value{v}, err
}

func lowerAbs(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	dt := ctx.avalOut().DType()
	if !isInteger(dt) {
		return nil, errors.Errorf("unsupported dtype %s", dt)
	}
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(optypes.AbsI, outType, x)}, nil
}

// lowerNeg re-dispatches to sub(0, x) with a synthesized scalar-zero input.
func lowerNeg(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	xAval := ctx.avalsIn[0]
	subCtx := ctx.forAvalsIn(
		[]jaxpr.AbstractValue{jaxpr.ShapedScalar(xAval.DType()), xAval},
		append([]jaxpr.BlockShape{nil}, ctx.blockShapes...),
	)
	return lowerSub(subCtx, []operand{literalOperand(zeroLiteral(xAval.DType())), args[0]}, nil)
}

// zeroLiteral returns the host-side zero of the given dtype.
func zeroLiteral(dt dtypes.DType) any {
	switch {
	case dt.IsFloat():
		return float64(0)
	case dt == dtypes.Bool:
		return false
	default:
		return int64(0)
	}
}

// cmpi predicate codes of arith.cmpi (signed comparisons), and cmpf predicate
// codes of arith.cmpf (ordered comparisons). Only eq/ne have defined float
// lowerings here.
var (
	cmpiPredicates = map[string]int64{"eq": 0, "ne": 1, "lt": 2, "le": 3, "gt": 4, "ge": 5}
	cmpfPredicates = map[string]int64{"eq": 1, "ne": 6}
)

// cmpRule returns the lowering rule for one comparison primitive.
func cmpRule(prim string) ruleFunc {
	return func(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
		xAval, yAval := ctx.avalsIn[0], ctx.avalsIn[1]
		xDt, yDt := xAval.DType(), yAval.DType()
		xv, err := ctx.materialize(args[0], xAval)
		if err != nil {
			return nil, err
		}
		yv, err := ctx.materialize(args[1], yAval)
		if err != nil {
			return nil, err
		}
		bcastShape, err := broadcastShapes(xAval.Shape(), yAval.Shape())
		if err != nil {
			return nil, err
		}
		if len(bcastShape) > 0 {
			if !slices.Equal(xAval.Shape(), bcastShape) {
				xv = ctx.block().AddOp1(optypes.Broadcast, mlir.Vector(xDt, bcastShape...), xv)
			}
			if !slices.Equal(yAval.Shape(), bcastShape) {
				yv = ctx.block().AddOp1(optypes.Broadcast, mlir.Vector(yDt, bcastShape...), yv)
			}
		}
		outType, err := ctx.outType()
		if err != nil {
			return nil, err
		}
		i64 := mlir.Scalar(dtypes.S64)
		switch {
		case isInteger(xDt) && isInteger(yDt):
			stmt := ctx.block().AddOp(optypes.CmpI, []mlir.Type{outType}, xv, yv)
			stmt.SetAttr("predicate", mlir.IntAttr{Value: cmpiPredicates[prim], Type: i64})
			return []*mlir.Value{stmt.Result()}, nil
		case xDt.IsFloat() && yDt.IsFloat():
			pred, ok := cmpfPredicates[prim]
			if !ok {
				return nil, errors.Errorf("unsupported float comparison %q", prim)
			}
			stmt := ctx.block().AddOp(optypes.CmpF, []mlir.Type{outType}, xv, yv)
			stmt.SetAttr("predicate", mlir.IntAttr{Value: pred, Type: i64})
			return []*mlir.Value{stmt.Result()}, nil
		}
		return nil, errors.Errorf("unsupported dtype pair (%s, %s)", xDt, yDt)
	}
}

// logicalOp lowers a bitwise/logical binary op; the operation is dtype
// agnostic at the instruction level, so literals are simply materialized.
func logicalOp(ctx *ruleContext, args []operand, op optypes.OpType) ([]*mlir.Value, error) {
	xv, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	yv, err := ctx.materialize(args[1], ctx.avalsIn[1])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(op, outType, xv, yv)}, nil
}

func lowerAnd(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return logicalOp(ctx, args, optypes.AndI)
}

func lowerOr(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return logicalOp(ctx, args, optypes.OrI)
}

func lowerXor(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return logicalOp(ctx, args, optypes.XOrI)
}

func lowerShiftLeft(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return logicalOp(ctx, args, optypes.ShLI)
}

func lowerShiftRightLogical(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return logicalOp(ctx, args, optypes.ShRUI)
}

// lowerSelectN lowers a two-way select. Predicates that are not already
// boolean are normalized with an inlined `x != 0` program first.
func lowerSelectN(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	if len(args) > 3 {
		return nil, errors.Errorf("select_n only supported with <= 2 cases, got %d", len(args)-1)
	}
	predAval, xAval := ctx.avalsIn[0], ctx.avalsIn[1]
	pred, err := ctx.materialize(args[0], predAval)
	if err != nil {
		return nil, err
	}
	if predAval.DType() != dtypes.Bool {
		boolAval := jaxpr.Array(dtypes.Bool, predAval.Shape()...)
		pred, err = lowerHelper(ctx.forAvalsIn(
			[]jaxpr.AbstractValue{predAval}, []jaxpr.BlockShape{nil},
		), notZeroProgram(predAval, boolAval), valueOperand(pred))
		if err != nil {
			return nil, err
		}
	}
	x, err := ctx.materialize(args[1], xAval)
	if err != nil {
		return nil, err
	}
	if len(args) == 2 {
		return []*mlir.Value{x}, nil
	}
	y, err := ctx.materialize(args[2], xAval)
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(optypes.Select, x.Type(), pred, y, x)}, nil
}

// notZeroProgram builds the helper program `out = (x != 0)`.
func notZeroProgram(in jaxpr.AbstractValue, out jaxpr.AbstractValue) *jaxpr.Program {
	x := jaxpr.NewVar(in)
	o := jaxpr.NewVar(out)
	zero := jaxpr.NewLiteral(zeroLiteral(in.DType()), jaxpr.ShapedScalar(in.DType()))
	return &jaxpr.Program{
		InVars:  []*jaxpr.Var{x},
		OutVars: []jaxpr.Atom{o},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("ne", []jaxpr.Atom{x, zero}, []*jaxpr.Var{o}, nil),
		},
	}
}

// lowerHelper inlines a single-result helper program.
func lowerHelper(ctx *ruleContext, prog *jaxpr.Program, args ...operand) (*mlir.Value, error) {
	outs, err := ctx.inline(prog, args)
	if err != nil {
		return nil, err
	}
	return outs[0], nil
}
