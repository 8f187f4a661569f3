package mosaic

import (
	"github.com/chewxy/math32"
	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/pkg/errors"
)

// unaryMathOp lowers a one-input transcendental to its math-dialect
// instruction.
func unaryMathOp(ctx *ruleContext, args []operand, op optypes.OpType) ([]*mlir.Value, error) {
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(op, outType, x)}, nil
}

func lowerExp(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return unaryMathOp(ctx, args, optypes.Exp)
}

func lowerLog(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return unaryMathOp(ctx, args, optypes.Log)
}

func lowerTanh(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return unaryMathOp(ctx, args, optypes.Tanh)
}

func lowerRsqrt(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return unaryMathOp(ctx, args, optypes.Rsqrt)
}

// lowerExp2 decomposes 2^x into exp(x*ln2), which the hardware supports
// natively. The scalar ln2 constant is kept at single precision to match the
// operand dtypes in use.
func lowerExp2(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	xAval := ctx.avalsIn[0]
	ln2Aval := jaxpr.ShapedScalar(xAval.DType())

	x := jaxpr.NewVar(xAval)
	scaled := jaxpr.NewVar(mulAval(xAval))
	out := jaxpr.NewVar(ctx.avalOut())
	ln2 := jaxpr.NewLiteral(float32(math32.Ln2), ln2Aval)
	prog := &jaxpr.Program{
		InVars:  []*jaxpr.Var{x},
		OutVars: []jaxpr.Atom{out},
		Eqns: []*jaxpr.Equation{
			jaxpr.NewEquation("mul", []jaxpr.Atom{x, ln2}, []*jaxpr.Var{scaled}, nil),
			jaxpr.NewEquation("exp", []jaxpr.Atom{scaled}, []*jaxpr.Var{out}, nil),
		},
	}
	v, err := lowerHelper(ctx, prog, args[0])
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{v}, nil
}

func mulAval(a jaxpr.AbstractValue) jaxpr.ShapedArray {
	return jaxpr.Array(a.DType(), a.Shape()...)
}

// lowerPow only supports a compile-time base of exactly 2, which maps to the
// native exp2 instruction. General powers have no hardware lowering.
func lowerPow(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	if !args[0].isLiteral() {
		return nil, errors.New("pow only supported with a compile-time base of 2")
	}
	base, ok := toFloat64(args[0].lit)
	if !ok || base != 2 {
		return nil, errors.Errorf("pow only supported with a compile-time base of 2, got %v", args[0].lit)
	}
	y, err := ctx.materialize(args[1], ctx.avalsIn[1])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(optypes.Exp2, outType, y)}, nil
}

// lowerLogistic decomposes the sigmoid 1/(1+exp(-x)).
func lowerLogistic(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outAval := ctx.avalOut()
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	b := ctx.block()
	neg := b.AddOp1(optypes.NegF, outType, x)
	exp := b.AddOp1(optypes.Exp, outType, neg)
	one, err := constant(b, float32(1), mlir.Scalar(outAval.DType()))
	if err != nil {
		return nil, err
	}
	if len(outAval.Shape()) > 0 {
		one = b.AddOp1(optypes.Broadcast, outType, one)
	}
	sum := b.AddOp1(optypes.AddF, outType, one, exp)
	return []*mlir.Value{b.AddOp1(optypes.DivF, outType, one, sum)}, nil
}
