package mosaic

import (
	"slices"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// lowerBroadcastInDim first shape-casts the input so that its dimensions
// line up with their target positions, then broadcasts to the full output
// shape if anything is left to expand.
func lowerBroadcastInDim(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	shape, err := paramInts(params, "shape")
	if err != nil {
		return nil, err
	}
	bcastDims, err := paramInts(params, "broadcast_dimensions")
	if err != nil {
		return nil, err
	}
	inAval := ctx.avalsIn[0]
	outAval := ctx.avalOut()
	x, err := ctx.materialize(args[0], inAval)
	if err != nil {
		return nil, err
	}
	b := ctx.block()
	if len(bcastDims) > 0 {
		aligned := make([]int, len(shape))
		for i := range aligned {
			aligned[i] = 1
		}
		for i, dim := range inAval.Shape() {
			if bcastDims[i] >= len(aligned) {
				return nil, errors.Errorf("broadcast dimension %d out of range for shape %v", bcastDims[i], shape)
			}
			aligned[bcastDims[i]] = dim
		}
		x = b.AddOp1(optypes.ShapeCast, mlir.Vector(outAval.DType(), aligned...), x)
		if slices.Equal(aligned, outAval.Shape()) {
			return []*mlir.Value{x}, nil
		}
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{b.AddOp1(optypes.Broadcast, outType, x)}, nil
}

func lowerReshape(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	if dims, ok := params["dimensions"]; ok && dims != nil {
		return nil, errors.New("reshape with dimension permutation not supported")
	}
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{ctx.block().AddOp1(optypes.ShapeCast, outType, x)}, nil
}

func lowerTranspose(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	perm, err := paramInts(params, "permutation")
	if err != nil {
		return nil, err
	}
	if !slices.Equal(perm, []int{1, 0}) {
		return nil, errors.Errorf("only 2D transposition supported, got permutation %v", perm)
	}
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	stmt := ctx.block().AddOp(optypes.Transpose, []mlir.Type{outType}, x)
	stmt.SetAttr("transp", i64ArrayOf(perm))
	return []*mlir.Value{stmt.Result()}, nil
}

func lowerSlice(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	starts, err := paramInts(params, "start_indices")
	if err != nil {
		return nil, err
	}
	limits, err := paramInts(params, "limit_indices")
	if err != nil {
		return nil, err
	}
	strides := make([]int, len(starts))
	for i := range strides {
		strides[i] = 1
	}
	if raw, ok := params["strides"]; ok && raw != nil {
		if strides, err = paramInts(params, "strides"); err != nil {
			return nil, err
		}
	}
	sizes := make([]int, len(starts))
	for i := range sizes {
		sizes[i] = limits[i] - starts[i]
	}
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	stmt := ctx.block().AddOp(optypes.ExtractStridedSlice, []mlir.Type{outType}, x)
	stmt.SetAttr("offsets", i64ArrayOf(starts)).
		SetAttr("sizes", i64ArrayOf(sizes)).
		SetAttr("strides", i64ArrayOf(strides))
	return []*mlir.Value{stmt.Result()}, nil
}

func lowerIota(ctx *ruleContext, _ []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	dimension, err := paramInt(params, "dimension")
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	stmt := ctx.block().AddOp(optypes.Iota, []mlir.Type{outType})
	stmt.SetAttr("dimension", mlir.IntAttr{Value: int64(dimension), Type: mlir.Scalar(dtypes.S32)})
	return []*mlir.Value{stmt.Result()}, nil
}

func lowerRepeat(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	axis, err := paramInt(params, "axis")
	if err != nil {
		return nil, err
	}
	repeats, err := paramInt(params, "repeats")
	if err != nil {
		return nil, err
	}
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	stmt := ctx.block().AddOp(optypes.Repeat, []mlir.Type{outType}, x)
	stmt.SetAttr("dimension", mlir.IntAttr{Value: int64(axis), Type: mlir.Scalar(dtypes.S32)}).
		SetAttr("times", mlir.IntAttr{Value: int64(repeats), Type: mlir.Scalar(dtypes.S32)})
	return []*mlir.Value{stmt.Result()}, nil
}

// lowerConvertElementType lowers a dtype cast with the instruction selected
// by the (old, new) dtype pair. A same-dtype conversion is a no-op and emits
// nothing.
func lowerConvertElementType(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	newDt, ok := params["new_dtype"].(dtypes.DType)
	if !ok {
		return nil, errors.Errorf("bad \"new_dtype\" parameter: %v (%T)", params["new_dtype"], params["new_dtype"])
	}
	oldDt := ctx.avalsIn[0].DType()
	x, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	if oldDt == newDt {
		return []*mlir.Value{x}, nil
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	var op optypes.OpType
	switch {
	case oldDt.IsFloat() && newDt.IsFloat():
		if oldDt.Size() < newDt.Size() {
			op = optypes.ExtF
		} else {
			op = optypes.TruncF
		}
	case oldDt == dtypes.Bool && isInteger(newDt):
		op = optypes.ExtSI
	case isSignedInt(oldDt) && newDt.IsFloat():
		op = optypes.SIToFP
	case isSignedInt(oldDt) && isSignedInt(newDt):
		if oldDt.Size() < newDt.Size() {
			op = optypes.ExtSI
		} else {
			op = optypes.TruncI
		}
	case oldDt.IsFloat() && isSignedInt(newDt):
		op = optypes.FPToSI
	default:
		return nil, errors.Errorf("unsupported cast %s -> %s", oldDt, newDt)
	}
	return []*mlir.Value{ctx.block().AddOp1(op, outType, x)}, nil
}

// i64ArrayOf renders ints as an array attribute of i64 elements.
func i64ArrayOf(values []int) mlir.ArrayAttr {
	attrs := make(mlir.ArrayAttr, len(values))
	for i, v := range values {
		attrs[i] = mlir.IntAttr{Value: int64(v), Type: mlir.Scalar(dtypes.S64)}
	}
	return attrs
}

// paramInt reads an int static parameter.
func paramInt(params jaxpr.Params, name string) (int, error) {
	raw, ok := params[name]
	if !ok {
		return 0, errors.Errorf("missing %q parameter", name)
	}
	switch v := raw.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	}
	return 0, errors.Errorf("bad %q parameter: %v (%T)", name, raw, raw)
}
