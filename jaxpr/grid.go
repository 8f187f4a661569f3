package jaxpr

import "slices"

// BlockMapping describes how one block-mapped operand is tiled: the tile
// (block) shape, and the index-map program computing the operand's block
// offset from the grid indices and scalar-prefetch values.
type BlockMapping struct {
	// BlockShape is the per-dimension tile shape, with Mapped markers for
	// grid-mapped dimensions.
	BlockShape BlockShape

	// IndexMap computes the block offset for one grid step. It must not carry
	// embedded constants.
	IndexMap *Program
}

// GridMapping is the iteration-space descriptor of a grid (data-parallel)
// program, produced by the upstream grid-program compiler.
type GridMapping struct {
	// Grid is the iteration-space shape.
	Grid []int

	// BlockMappings has one entry per non-prefetch operand; a nil entry means
	// the operand is not block-mapped.
	BlockMappings []*BlockMapping

	// NumIndexOperands is the number of leading scalar-prefetch operands,
	// passed through scalar memory.
	NumIndexOperands int

	// MappedDims lists the grid dimensions that are mapped away (purely
	// block-mapped and unconstrained).
	MappedDims []int
}

// IsDimMapped reports whether grid dimension i is mapped away.
func (g *GridMapping) IsDimMapped(i int) bool {
	return slices.Contains(g.MappedDims, i)
}

// HasBlockMappings reports whether any operand is block-mapped. A grid with
// no block mappings is trivial: no transform functions or window parameters
// are emitted for it.
func (g *GridMapping) HasBlockMappings() bool {
	for _, bm := range g.BlockMappings {
		if bm != nil {
			return true
		}
	}
	return false
}
