package jaxpr

import "fmt"

// Slice is a static half-open range over one dimension of a Ref:
// [Start, Start+Size).
type Slice struct {
	Start int
	Size  int
}

// FullSlice returns the slice covering a whole dimension of the given size.
func FullSlice(size int) Slice { return Slice{Start: 0, Size: size} }

// String implements fmt.Stringer.
func (s Slice) String() string { return fmt.Sprintf("%d:%d", s.Start, s.Start+s.Size) }

// IndexerDim is one dimension of an NDIndexer: a static Slice, or a marker
// that the dimension consumes the next dynamic scalar index operand.
type IndexerDim struct {
	// Slice is the static range of the dimension; nil when the dimension is
	// dynamically indexed.
	Slice *Slice
}

// SliceDim returns an indexer dimension covering the given static range.
func SliceDim(s Slice) IndexerDim { return IndexerDim{Slice: &s} }

// IndexDim returns an indexer dimension taking a dynamic scalar index.
func IndexDim() IndexerDim { return IndexerDim{} }

// NDIndexer is the per-dimension indexing arrangement of a reference access,
// one entry per dimension of the reference.
type NDIndexer []IndexerDim
