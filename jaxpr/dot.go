package jaxpr

// DotDimensionNumbers carries the contracting dimensions of a "dot_general"
// equation. Batch dimensions are not supported by the Mosaic lowering and so
// are not represented.
type DotDimensionNumbers struct {
	LhsContracting []int
	RhsContracting []int
}

// Precision selects the accumulation precision of a "dot_general" equation.
type Precision int

const (
	// PrecisionDefault lets the hardware pick its native precision.
	PrecisionDefault Precision = iota

	// PrecisionHighest forces full fp32 accumulation.
	PrecisionHighest
)
