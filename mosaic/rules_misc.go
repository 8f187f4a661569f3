package mosaic

import (
	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// lowerProgramID resolves a grid-axis query to the function argument carrying
// that axis' index. It emits no instruction.
func lowerProgramID(ctx *ruleContext, _ []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	axis, err := paramInt(params, "axis")
	if err != nil {
		return nil, err
	}
	indices := ctx.lc.gridIndices
	if indices == nil {
		return nil, errors.Errorf("program id of axis %d requested, but the program has no grid", axis)
	}
	if axis < 0 || axis >= len(indices) {
		return nil, errors.Errorf("program id of axis %d requested, but the grid only has %d dimensions", axis, len(indices))
	}
	return []*mlir.Value{indices[axis]}, nil
}

// lowerMultipleOf passes its input through; the divisibility hint only
// matters to the upstream tracer.
func lowerMultipleOf(ctx *ruleContext, args []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	v, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{v}, nil
}

// lowerDebugCallback drops host callbacks, which have no hardware lowering.
func lowerDebugCallback(_ *ruleContext, _ []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	return nil, nil
}

func lowerTraceStart(ctx *ruleContext, _ []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	message, ok := params["message"].(string)
	if !ok {
		return nil, errors.Errorf("bad \"message\" parameter: %v (%T)", params["message"], params["message"])
	}
	level, err := paramInt(params, "level")
	if err != nil {
		return nil, err
	}
	ctx.block().AddOp(optypes.TraceStart, nil).
		SetAttr("message", mlir.StringAttr(message)).
		SetAttr("level", mlir.IntAttr{Value: int64(level), Type: mlir.Scalar(dtypes.S32)})
	return nil, nil
}

func lowerTraceStop(ctx *ruleContext, _ []operand, _ jaxpr.Params) ([]*mlir.Value, error) {
	ctx.block().AddOp(optypes.TraceStop, nil)
	return nil, nil
}
