package mosaic

import (
	"strings"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// operand is one resolved input to a rule: either an already-lowered MLIR
// value or a raw host-side literal that has not been materialized yet.
type operand struct {
	value *mlir.Value
	lit   any
}

func valueOperand(v *mlir.Value) operand { return operand{value: v} }
func literalOperand(lit any) operand     { return operand{lit: lit} }

// isLiteral reports whether the operand is a raw host literal.
func (o operand) isLiteral() bool { return o.value == nil }

// avalToType maps an abstract value to its hardware-level type: a memref for
// references (defaulting to vector memory when no memory space is given), a
// scalar for rank-0 arrays, and a vector otherwise. The shape override, when
// non-nil, replaces the abstract value's own shape.
func avalToType(aval jaxpr.AbstractValue, shape []int, space mlir.MemorySpace) (mlir.Type, error) {
	if shape == nil {
		shape = aval.Shape()
	}
	switch a := aval.(type) {
	case jaxpr.Ref:
		if space == mlir.MemorySpaceNone {
			space = mlir.VMEM
		}
		return mlir.MemRef(a.Dtype, space, shape...), nil
	case jaxpr.ShapedArray:
		if len(shape) == 0 {
			return mlir.Scalar(a.Dtype), nil
		}
		return mlir.Vector(a.Dtype, shape...), nil
	}
	return mlir.Type{}, errors.Errorf("unimplemented abstract value variant %T (%s)", aval, aval)
}

// constant materializes a host-side literal as a hardware constant of the
// given type. A zero (invalid) type means "infer from the value": ints become
// i32 scalars, floats f32 scalars, matching the upstream tracer's defaults.
//
// This is the single chokepoint through which compile-time-known scalars
// enter the lowered program.
func constant(b *mlir.Block, x any, typ mlir.Type) (*mlir.Value, error) {
	if !typ.IsValid() {
		switch x.(type) {
		case int, int8, int16, int32, int64:
			typ = mlir.Scalar(dtypes.Int32)
		case float32, float64:
			typ = mlir.Scalar(dtypes.Float32)
		case bool:
			typ = mlir.Scalar(dtypes.Bool)
		case float16.Float16:
			typ = mlir.Scalar(dtypes.Float16)
		case bfloat16.BFloat16:
			typ = mlir.Scalar(dtypes.BFloat16)
		default:
			return nil, errors.Errorf("cannot infer constant type for value %v (%T)", x, x)
		}
	}
	if typ.IsIndex() {
		v, ok := toInt64(x)
		if !ok {
			return nil, errors.Errorf("cannot build index constant from %v (%T)", x, x)
		}
		return b.Constant(typ, mlir.IntAttr{Value: v, Type: mlir.Index()}), nil
	}

	var elem mlir.Attr
	switch dt := typ.DType; {
	case isInteger(dt):
		v, ok := toInt64(x)
		if !ok {
			return nil, errors.Errorf("cannot build %s constant from %v (%T)", dt, x, x)
		}
		elem = mlir.IntAttr{Value: v, Type: mlir.Scalar(dt)}
	case dt == dtypes.F32 || dt == dtypes.F64:
		v, ok := toFloat64(x)
		if !ok {
			return nil, errors.Errorf("cannot build %s constant from %v (%T)", dt, x, x)
		}
		elem = mlir.FloatAttr{Value: v, Type: mlir.Scalar(dt)}
	case dt == dtypes.Float16:
		v, ok := toFloat64(x)
		if !ok {
			return nil, errors.Errorf("cannot build f16 constant from %v (%T)", x, x)
		}
		rounded := float16.Fromfloat32(float32(v))
		elem = mlir.FloatAttr{Value: float64(rounded.Float32()), Type: mlir.Scalar(dt)}
	case dt == dtypes.BFloat16:
		v, ok := toFloat64(x)
		if !ok {
			return nil, errors.Errorf("cannot build bf16 constant from %v (%T)", x, x)
		}
		rounded := bfloat16.FromFloat32(float32(v))
		elem = mlir.FloatAttr{Value: float64(rounded.Float32()), Type: mlir.Scalar(dt)}
	case dt == dtypes.Bool:
		v, ok := x.(bool)
		if !ok {
			if i, iok := toInt64(x); iok {
				v, ok = i != 0, true
			}
		}
		if !ok {
			return nil, errors.Errorf("cannot build i1 constant from %v (%T)", x, x)
		}
		elem = mlir.BoolAttr(v)
	default:
		return nil, errors.Errorf("unimplemented constant dtype %s", dt)
	}

	if typ.IsVector() {
		return b.Constant(typ, mlir.SplatAttr{Value: elem, Type: typ}), nil
	}
	return b.Constant(typ, elem), nil
}

// makeIndex coerces an operand to the MLIR index type: literals become index
// constants, index-typed values pass through, everything else is index_cast.
func makeIndex(b *mlir.Block, o operand) (*mlir.Value, error) {
	if o.isLiteral() {
		return constant(b, o.lit, mlir.Index())
	}
	if o.value.Type().IsIndex() {
		return o.value, nil
	}
	return b.AddOp1(optypes.IndexCast, mlir.Index(), o.value), nil
}

// materialize resolves an operand to a value, building a constant of the
// abstract value's type for literals.
func (ctx *ruleContext) materialize(o operand, aval jaxpr.AbstractValue) (*mlir.Value, error) {
	if !o.isLiteral() {
		return o.value, nil
	}
	typ, err := avalToType(aval, nil, mlir.MemorySpaceNone)
	if err != nil {
		return nil, err
	}
	return constant(ctx.block(), o.lit, typ)
}

// lowerProgram is the structural walker: it performs a single forward pass
// over the program, invoking one rule per equation and threading the
// environment of lowered values. args must match the program's input arity
// and order.
//
// Outputs that are raw literals are materialized here, after all equations,
// so that literals flowing straight through to an output are built exactly
// once.
func (l *Lowerer) lowerProgram(lc *loweringContext, prog *jaxpr.Program, args ...*mlir.Value) ([]*mlir.Value, error) {
	if len(prog.ConstVars) > 0 {
		return nil, errors.Errorf("program with embedded constants not supported (%d const vars); constants must be specialized away upstream", len(prog.ConstVars))
	}
	if len(args) != len(prog.InVars) {
		return nil, errors.Errorf("program takes %d inputs, got %d lowered values", len(prog.InVars), len(args))
	}
	if lc.blockShapes != nil && len(lc.blockShapes) != len(prog.InVars) {
		return nil, errors.Errorf("program takes %d inputs, got %d block shapes", len(prog.InVars), len(lc.blockShapes))
	}
	klog.V(2).Infof("lowering program (%d equations) at %q", len(prog.Eqns), strings.Join(lc.nameStack, "/"))

	env := make(map[*jaxpr.Var]*mlir.Value, len(prog.InVars)+len(prog.Eqns))
	blockShapeEnv := make(map[*jaxpr.Var]jaxpr.BlockShape, len(prog.InVars))
	for i, invar := range prog.InVars {
		env[invar] = args[i]
		if lc.blockShapes != nil {
			blockShapeEnv[invar] = lc.blockShapes[i]
		}
	}

	for _, eqn := range prog.Eqns {
		r, ok := l.rules[eqn.Primitive]
		if !ok {
			return nil, errors.Errorf("unimplemented primitive in Mosaic lowering: %q", eqn.Primitive)
		}
		invals := make([]operand, len(eqn.Inputs))
		avalsIn := make([]jaxpr.AbstractValue, len(eqn.Inputs))
		blockShapes := make([]jaxpr.BlockShape, len(eqn.Inputs))
		for i, in := range eqn.Inputs {
			avalsIn[i] = in.Aval()
			switch atom := in.(type) {
			case *jaxpr.Var:
				v, bound := env[atom]
				if !bound {
					return nil, errors.Errorf("variable %s read before being written, program is not in topological order", atom)
				}
				invals[i] = valueOperand(v)
				blockShapes[i] = blockShapeEnv[atom]
			case *jaxpr.Literal:
				invals[i] = literalOperand(atom.Value)
			default:
				return nil, errors.Errorf("unknown atom type %T", in)
			}
		}
		avalsOut := make([]jaxpr.AbstractValue, len(eqn.Outputs))
		for i, outVar := range eqn.Outputs {
			avalsOut[i] = outVar.Aval()
		}
		rctx := &ruleContext{
			lc:          lc.pushName(eqn.Primitive),
			avalsIn:     avalsIn,
			avalsOut:    avalsOut,
			blockShapes: blockShapes,
		}
		outs, err := r.fn(rctx, invals, eqn.Params)
		if err != nil {
			return nil, errors.Wrapf(err, "lowering %q", eqn.Primitive)
		}
		if r.multipleResults {
			if len(outs) != len(eqn.Outputs) {
				return nil, errors.Errorf("rule for %q produced %d values for %d outputs", eqn.Primitive, len(outs), len(eqn.Outputs))
			}
			for i, outVar := range eqn.Outputs {
				env[outVar] = outs[i]
			}
		} else {
			if len(outs) != 1 || outs[0] == nil {
				return nil, errors.Errorf("rule for %q must produce exactly one value", eqn.Primitive)
			}
			env[eqn.Outputs[0]] = outs[0]
		}
	}

	outVals := make([]*mlir.Value, len(prog.OutVars))
	for i, out := range prog.OutVars {
		switch atom := out.(type) {
		case *jaxpr.Var:
			v, bound := env[atom]
			if !bound {
				return nil, errors.Errorf("output variable %s was never written", atom)
			}
			outVals[i] = v
		case *jaxpr.Literal:
			v, err := constant(lc.block, atom.Value, mlir.Type{})
			if err != nil {
				return nil, errors.Wrapf(err, "materializing literal output %d", i)
			}
			outVals[i] = v
		default:
			return nil, errors.Errorf("unknown atom type %T in program outputs", out)
		}
	}
	return outVals, nil
}

// inline lowers a sub-program in the caller's context, materializing literal
// arguments; used by rules that re-express a primitive as a small helper
// program (exp2, select_n's predicate normalization) and by nested-call
// rules.
func (ctx *ruleContext) inline(prog *jaxpr.Program, args []operand) ([]*mlir.Value, error) {
	vals := make([]*mlir.Value, len(args))
	for i, arg := range args {
		v, err := ctx.materialize(arg, prog.InVars[i].Aval())
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return ctx.lc.lowerer.lowerProgram(ctx.lc.forBlockShapes(ctx.blockShapes), prog, vals...)
}

// isInteger reports whether the dtype is a signed or unsigned integer.
func isInteger(dt dtypes.DType) bool {
	switch dt {
	case dtypes.S8, dtypes.S16, dtypes.S32, dtypes.S64,
		dtypes.U8, dtypes.U16, dtypes.U32, dtypes.U64:
		return true
	}
	return false
}

// isSignedInt reports whether the dtype is a signed integer.
func isSignedInt(dt dtypes.DType) bool {
	return isInteger(dt) && !dt.IsUnsigned()
}

func toInt64(x any) (int64, bool) {
	switch v := x.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat64(x any) (float64, bool) {
	switch v := x.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	case float16.Float16:
		return float64(v.Float32()), true
	case bfloat16.BFloat16:
		return float64(v.Float32()), true
	}
	if i, ok := toInt64(x); ok {
		return float64(i), true
	}
	return 0, false
}

// broadcastShapes returns the elementwise broadcast of two shapes, aligning
// them on the right; dimensions must be equal or 1.
func broadcastShapes(a, b []int) ([]int, error) {
	if len(a) < len(b) {
		a, b = b, a
	}
	out := make([]int, len(a))
	copy(out, a)
	offset := len(a) - len(b)
	for i, dim := range b {
		j := offset + i
		switch {
		case out[j] == dim || dim == 1:
		case out[j] == 1:
			out[j] = dim
		default:
			return nil, errors.Errorf("shapes %v and %v are not broadcast-compatible", a, b)
		}
	}
	return out, nil
}
