package mosaic

import (
	"slices"

	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/pkg/errors"
)

// indexEntry is one reconstructed indexer dimension: either a static slice
// or a dynamic scalar index.
type indexEntry struct {
	slice *jaxpr.Slice
	index operand
	aval  jaxpr.AbstractValue // abstract value of the dynamic index
}

// indexEntries resolves the access arrangement of the equation: the
// "indexer" parameter carries an explicit per-dimension NDIndexer with
// static slices, the boolean "indexed_dims" form makes every non-indexed
// dimension a full slice.
func indexEntries(refAval jaxpr.AbstractValue, params jaxpr.Params, idx []operand, idxAvals []jaxpr.AbstractValue) ([]indexEntry, error) {
	if raw, ok := params["indexer"]; ok && raw != nil {
		indexer, ok := raw.(jaxpr.NDIndexer)
		if !ok {
			return nil, errors.Errorf("bad \"indexer\" parameter: %v (%T)", raw, raw)
		}
		return reconstructNDIndexer(refAval, indexer, idx, idxAvals)
	}
	indexedDims, err := paramBools(params, "indexed_dims")
	if err != nil {
		return nil, err
	}
	return reconstructIndexer(refAval, indexedDims, idx, idxAvals)
}

// reconstructNDIndexer rebuilds the per-dimension indexer from an explicit
// NDIndexer: slice dimensions keep their static range, index dimensions
// consume the next dynamic index operand.
func reconstructNDIndexer(refAval jaxpr.AbstractValue, indexer jaxpr.NDIndexer, idx []operand, idxAvals []jaxpr.AbstractValue) ([]indexEntry, error) {
	refShape := refAval.Shape()
	if len(indexer) != len(refShape) {
		return nil, errors.Errorf("indexer has %d dimensions for a rank-%d reference", len(indexer), len(refShape))
	}
	entries := make([]indexEntry, len(refShape))
	next := 0
	for i, dim := range indexer {
		if dim.Slice != nil {
			if dim.Slice.Start < 0 || dim.Slice.Start+dim.Slice.Size > refShape[i] {
				return nil, errors.Errorf("slice %s out of bounds for dimension %d of size %d", dim.Slice, i, refShape[i])
			}
			s := *dim.Slice
			entries[i] = indexEntry{slice: &s}
			continue
		}
		if next >= len(idx) {
			return nil, errors.Errorf("indexer requires %d dynamic indices, got %d", next+1, len(idx))
		}
		if len(idxAvals[next].Shape()) != 0 {
			return nil, errors.Errorf("cannot do vector dynamic indexing (index %d has shape %v)", next, idxAvals[next].Shape())
		}
		entries[i] = indexEntry{index: idx[next], aval: idxAvals[next]}
		next++
	}
	if next != len(idx) {
		return nil, errors.Errorf("indexer consumes %d dynamic indices, got %d", next, len(idx))
	}
	return entries, nil
}

// reconstructIndexer rebuilds the per-dimension indexer of a reference
// access: indexed dimensions consume the next dynamic index operand, all
// other dimensions become full slices of the reference's (block) shape.
func reconstructIndexer(refAval jaxpr.AbstractValue, indexedDims []bool, idx []operand, idxAvals []jaxpr.AbstractValue) ([]indexEntry, error) {
	refShape := refAval.Shape()
	if len(indexedDims) != len(refShape) {
		return nil, errors.Errorf("indexed_dims has %d entries for a rank-%d reference", len(indexedDims), len(refShape))
	}
	entries := make([]indexEntry, len(refShape))
	next := 0
	for i, indexed := range indexedDims {
		if !indexed {
			s := jaxpr.FullSlice(refShape[i])
			entries[i] = indexEntry{slice: &s}
			continue
		}
		if next >= len(idx) {
			return nil, errors.Errorf("indexed_dims requires %d dynamic indices, got %d", next+1, len(idx))
		}
		if len(idxAvals[next].Shape()) != 0 {
			return nil, errors.Errorf("cannot do vector dynamic indexing (index %d has shape %v)", next, idxAvals[next].Shape())
		}
		entries[i] = indexEntry{index: idx[next], aval: idxAvals[next]}
		next++
	}
	if next != len(idx) {
		return nil, errors.Errorf("indexed_dims consumes %d dynamic indices, got %d", next, len(idx))
	}
	return entries, nil
}

// memIndices lowers the indexer to per-dimension index values over the
// reference's block shape: slice starts and dynamic indices become index
// values, and grid-mapped dimensions are pinned to element 0.
func memIndices(b *mlir.Block, entries []indexEntry, refBlockShape jaxpr.BlockShape) ([]*mlir.Value, error) {
	starts := make([]*mlir.Value, len(entries))
	for i, e := range entries {
		var err error
		if e.slice != nil {
			starts[i], err = makeIndex(b, literalOperand(e.slice.Start))
		} else {
			starts[i], err = makeIndex(b, e.index)
		}
		if err != nil {
			return nil, err
		}
	}
	if refBlockShape == nil {
		return starts, nil
	}
	indices := make([]*mlir.Value, len(refBlockShape))
	next := 0
	for i, bd := range refBlockShape {
		if bd == jaxpr.Mapped {
			zero, err := makeIndex(b, literalOperand(0))
			if err != nil {
				return nil, err
			}
			indices[i] = zero
			continue
		}
		indices[i] = starts[next]
		next++
	}
	return indices, nil
}

// memSliceShape computes the shape of the memory slice an access touches:
// the output shape with size-1 dimensions re-inserted where scalars were
// indexed out, then expanded with 1s over grid-mapped dimensions.
func memSliceShape(outShape []int, entries []indexEntry, refBlockShape jaxpr.BlockShape) []int {
	shape := slices.Clone(outShape)
	for i, e := range entries {
		if e.slice == nil {
			shape = slices.Insert(shape, i, 1)
		}
	}
	if refBlockShape == nil {
		return shape
	}
	expanded := make([]int, len(refBlockShape))
	next := 0
	for i, bd := range refBlockShape {
		if bd == jaxpr.Mapped {
			expanded[i] = 1
			continue
		}
		expanded[i] = shape[next]
		next++
	}
	return expanded
}

// lowerLoadImpl lowers a read of a reference slice. Scalar-memory references
// only support whole-scalar loads; vector-memory loads go through a
// vector.load of the touched slice, reshaped to the declared output when the
// two differ.
func lowerLoadImpl(ctx *ruleContext, ref *mlir.Value, entries []indexEntry) ([]*mlir.Value, error) {
	refBlockShape := ctx.blockShapes[0]
	if len(refBlockShape) == 0 {
		return nil, errors.New("indexing into a ()-shaped reference is not supported")
	}
	outAval := ctx.avalOut()
	b := ctx.block()
	indices, err := memIndices(b, entries, refBlockShape)
	if err != nil {
		return nil, err
	}
	if ref.Type().Space == mlir.SMEM {
		if len(outAval.Shape()) != 0 {
			return nil, errors.Errorf("can only load scalars from scalar memory, output has shape %v", outAval.Shape())
		}
		return []*mlir.Value{b.AddOp1(optypes.MemRefLoad, mlir.Scalar(outAval.DType()), append([]*mlir.Value{ref}, indices...)...)}, nil
	}
	loadShape := memSliceShape(outAval.Shape(), entries, refBlockShape)
	loadType := mlir.Vector(outAval.DType(), loadShape...)
	loaded := b.AddOp1(optypes.VectorLoad, loadType, append([]*mlir.Value{ref}, indices...)...)
	if slices.Equal(loadShape, outAval.Shape()) {
		return []*mlir.Value{loaded}, nil
	}
	outType, err := ctx.outType()
	if err != nil {
		return nil, err
	}
	return []*mlir.Value{b.AddOp1(optypes.ShapeCast, outType, loaded)}, nil
}

// lowerSwapImpl lowers an atomic read-then-write of a reference slice: the
// previous contents are loaded, the new value stored, and the previous
// contents returned. Shape casts bridge the memory slice shape and the
// declared value shape when they differ.
func lowerSwapImpl(ctx *ruleContext, ref *mlir.Value, val operand, entries []indexEntry) ([]*mlir.Value, error) {
	valAval := ctx.avalsIn[1]
	refBlockShape := ctx.blockShapes[0]
	if len(refBlockShape) == 0 {
		return nil, errors.New("indexing into a ()-shaped reference is not supported")
	}
	outAval := ctx.avalOut()
	b := ctx.block()
	v, err := ctx.materialize(val, valAval)
	if err != nil {
		return nil, err
	}
	indices, err := memIndices(b, entries, refBlockShape)
	if err != nil {
		return nil, err
	}
	memShape := memSliceShape(outAval.Shape(), entries, refBlockShape)
	memType := mlir.Vector(outAval.DType(), memShape...)
	prev := b.AddOp1(optypes.VectorLoad, memType, append([]*mlir.Value{ref}, indices...)...)
	if !slices.Equal(memShape, outAval.Shape()) {
		outType, err := ctx.outType()
		if err != nil {
			return nil, err
		}
		prev = b.AddOp1(optypes.ShapeCast, outType, prev)
		v = b.AddOp1(optypes.ShapeCast, memType, v)
	}
	b.AddOp(optypes.VectorStore, nil, append([]*mlir.Value{v, ref}, indices...)...)
	return []*mlir.Value{prev}, nil
}

func lowerGet(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	ref, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	entries, err := indexEntries(ctx.avalsIn[0], params, args[1:], ctx.avalsIn[1:])
	if err != nil {
		return nil, err
	}
	return lowerLoadImpl(ctx, ref, entries)
}

func lowerLoad(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	if masked, _ := params["masked"].(bool); masked {
		return nil, errors.New("masked loads not supported")
	}
	return lowerGet(ctx, args, params)
}

func lowerSwap(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	ref, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	entries, err := indexEntries(ctx.avalsIn[0], params, args[2:], ctx.avalsIn[2:])
	if err != nil {
		return nil, err
	}
	return lowerSwapImpl(ctx, ref, args[1], entries)
}

func lowerMaskedSwap(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	if masked, _ := params["masked"].(bool); masked {
		return nil, errors.New("masked stores not supported")
	}
	return lowerSwap(ctx, args, params)
}

// paramBools reads a []bool static parameter.
func paramBools(params jaxpr.Params, name string) ([]bool, error) {
	raw, ok := params[name]
	if !ok {
		return nil, errors.Errorf("missing %q parameter", name)
	}
	bools, ok := raw.([]bool)
	if !ok {
		return nil, errors.Errorf("bad %q parameter: %v (%T)", name, raw, raw)
	}
	return bools, nil
}
