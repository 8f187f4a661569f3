package mosaic

import (
	"math"
	"slices"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// reduceOp lowers a float reduction over the given axes: a splat-identity
// accumulator constant followed by a multi-dimensional reduction. Integer
// reductions have no hardware lowering yet.
func reduceOp(ctx *ruleContext, args []operand, params jaxpr.Params, kind string, identity float64) ([]*mlir.Value, error) {
	xAval := ctx.avalsIn[0]
	dt := xAval.DType()
	switch {
	case dt.IsFloat():
	case isInteger(dt):
		return nil, errors.Errorf("unimplemented integer reduction over %s", dt)
	default:
		return nil, errors.Errorf("unsupported dtype %s", dt)
	}
	axes, err := paramInts(params, "axes")
	if err != nil {
		return nil, err
	}
	x, err := ctx.materialize(args[0], xAval)
	if err != nil {
		return nil, err
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	acc, err := constant(ctx.block(), identity, outType)
	if err != nil {
		return nil, err
	}
	axisAttrs := make(mlir.ArrayAttr, len(axes))
	for i, axis := range axes {
		axisAttrs[i] = mlir.IntAttr{Value: int64(axis), Type: mlir.Scalar(dtypes.S64)}
	}
	stmt := ctx.block().AddOp(optypes.MultiDimReduction, []mlir.Type{outType}, x, acc)
	stmt.SetAttr("kind", mlir.ParsedAttr(kind)).
		SetAttr("reduction_dims", axisAttrs)
	return []*mlir.Value{stmt.Result()}, nil
}

func lowerReduceSum(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	return reduceOp(ctx, args, params, "#vector.kind<add>", 0)
}

func lowerReduceMax(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	return reduceOp(ctx, args, params, "#vector.kind<maxf>", math.Inf(-1))
}

// Affine maps of the rank-2 contraction, keyed by contracting dimension.
var (
	lhsContractionMaps = map[int]mlir.ParsedAttr{
		1: "affine_map<(i, j, k) -> (i, k)>",
		0: "affine_map<(i, j, k) -> (k, i)>",
	}
	rhsContractionMaps = map[int]mlir.ParsedAttr{
		0: "affine_map<(i, j, k) -> (k, j)>",
		1: "affine_map<(i, j, k) -> (j, k)>",
	}
)

// lowerDotGeneral lowers a rank-2 matrix product to a vector contraction. A
// product whose right-hand side has a single row is really a matrix-vector
// product and is decomposed into broadcast, multiply and row reduction
// instead, which is what the hardware supports for that shape.
func lowerDotGeneral(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	dims, ok := params["dimension_numbers"].(jaxpr.DotDimensionNumbers)
	if !ok {
		return nil, errors.Errorf("dot_general: bad dimension_numbers parameter %T", params["dimension_numbers"])
	}
	lhsAval, rhsAval := ctx.avalsIn[0], ctx.avalsIn[1]
	outAval := ctx.avalOut()
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	outDt := outAval.DType()
	if outDt != dtypes.F32 && outDt != dtypes.Float16 {
		return nil, errors.Errorf("unimplemented output dtype %s", outDt)
	}
	if len(lhsAval.Shape()) != 2 || len(rhsAval.Shape()) != 2 {
		return nil, errors.Errorf("only rank-2 operands supported, got %s and %s", lhsAval, rhsAval)
	}
	x, err := ctx.materialize(args[0], lhsAval)
	if err != nil {
		return nil, err
	}
	y, err := ctx.materialize(args[1], rhsAval)
	if err != nil {
		return nil, err
	}
	b := ctx.block()

	matvec := slices.Equal(dims.LhsContracting, []int{1}) &&
		slices.Equal(dims.RhsContracting, []int{1}) &&
		rhsAval.Shape()[0] == 1
	if matvec {
		if !jaxpr.ShapeEqual(lhsAval, rhsAval) {
			bcastShape, err := broadcastShapes(lhsAval.Shape(), outAval.Shape())
			if err != nil {
				return nil, err
			}
			bcastType := mlir.Vector(outDt, bcastShape...)
			if !slices.Equal(lhsAval.Shape(), bcastShape) {
				x = b.AddOp1(optypes.Broadcast, bcastType, x)
			}
			if !slices.Equal(rhsAval.Shape(), bcastShape) {
				y = b.AddOp1(optypes.Broadcast, bcastType, y)
			}
		}
		redType := mlir.Vector(outDt, lhsAval.Shape()[0])
		acc, err := constant(b, float64(0), redType)
		if err != nil {
			return nil, err
		}
		prod := b.AddOp1(optypes.MulF, x.Type(), x, y)
		red := b.AddOp(optypes.MultiDimReduction, []mlir.Type{redType}, prod, acc)
		red.SetAttr("kind", mlir.ParsedAttr("#vector.kind<add>")).
			SetAttr("reduction_dims", mlir.ArrayAttr{mlir.IntAttr{Value: 1, Type: mlir.Scalar(dtypes.S64)}})
		return []*mlir.Value{b.AddOp1(optypes.ShapeCast, outType, red.Result())}, nil
	}

	var lhsMap, rhsMap mlir.ParsedAttr
	okL, okR := false, false
	if len(dims.LhsContracting) == 1 {
		lhsMap, okL = lhsContractionMaps[dims.LhsContracting[0]]
	}
	if !okL {
		return nil, errors.Errorf("unsupported lhs contracting dimensions %v", dims.LhsContracting)
	}
	if len(dims.RhsContracting) == 1 {
		rhsMap, okR = rhsContractionMaps[dims.RhsContracting[0]]
	}
	if !okR {
		return nil, errors.Errorf("unsupported rhs contracting dimensions %v", dims.RhsContracting)
	}

	acc, err := constant(b, float64(0), outType)
	if err != nil {
		return nil, err
	}
	stmt := b.AddOp(optypes.Contraction, []mlir.Type{outType}, x, y, acc)
	stmt.SetAttr("indexing_maps", mlir.ArrayAttr{
		lhsMap,
		rhsMap,
		mlir.ParsedAttr("affine_map<(i, j, k) -> (i, j)>"),
	}).SetAttr("iterator_types", mlir.ArrayAttr{
		mlir.ParsedAttr("#vector.iterator_type<parallel>"),
		mlir.ParsedAttr("#vector.iterator_type<parallel>"),
		mlir.ParsedAttr("#vector.iterator_type<reduction>"),
	})

	if rawPrecision, set := params["precision"]; set && rawPrecision != nil {
		pair, ok := rawPrecision.([]jaxpr.Precision)
		if !ok || len(pair) != 2 {
			return nil, errors.Errorf("dot_general: bad precision parameter %v", rawPrecision)
		}
		if pair[0] != pair[1] {
			return nil, errors.New("per-operand dot precision unsupported")
		}
		switch pair[0] {
		case jaxpr.PrecisionDefault:
			// Mosaic's default, no attribute needed.
		case jaxpr.PrecisionHighest:
			stmt.SetAttr("precision", mlir.ParsedAttr("#tpu.contract_precision<fp32>"))
		default:
			return nil, errors.Errorf("unsupported dot precision %v", pair[0])
		}
	}
	return []*mlir.Value{stmt.Result()}, nil
}

// paramInts reads a []int static parameter.
func paramInts(params jaxpr.Params, name string) ([]int, error) {
	raw, ok := params[name]
	if !ok {
		return nil, errors.Errorf("missing %q parameter", name)
	}
	ints, ok := raw.([]int)
	if !ok {
		return nil, errors.Errorf("bad %q parameter: %v (%T)", name, raw, raw)
	}
	return ints, nil
}
