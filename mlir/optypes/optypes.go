// Package optypes defines OpType and lists the operations emitted by the lowering.
package optypes

import "fmt"

// OpType is an enum of all operations the Mosaic lowering emits, across the
// arith, math, vector, memref, scf, func and tpu dialects.
type OpType int

const (
	Invalid OpType = iota

	// arith dialect.
	Constant
	AddI
	AddF
	SubI
	SubF
	MulI
	MulF
	DivSI
	DivUI
	DivF
	RemSI
	RemUI
	RemF
	MaxSI
	MaxUI
	MaxF
	NegF
	AndI
	OrI
	XOrI
	ShLI
	ShRUI
	CmpI
	CmpF
	ExtF
	TruncF
	ExtSI
	TruncI
	SIToFP
	FPToSI
	IndexCast
	Select

	// math dialect.
	AbsI
	Exp
	Exp2
	Log
	Tanh
	Rsqrt

	// vector dialect.
	VectorLoad
	VectorStore
	Broadcast
	ShapeCast
	Transpose
	MultiDimReduction
	Contraction
	ExtractStridedSlice

	// memref dialect.
	MemRefLoad

	// scf dialect.
	If
	Yield

	// func dialect.
	FuncReturn

	// tpu dialect.
	Iota
	Repeat
	TraceStart
	TraceStop

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

// opTypeNames maps each OpType to its dialect-qualified MLIR operation name.
//
// The names are dialect-qualified ("arith.addi") and so cannot be derived by
// enumer from the Go identifiers; they are kept in an explicit table instead.
var opTypeNames = [Last]string{
	Invalid: "<invalid>",

	Constant:  "arith.constant",
	AddI:      "arith.addi",
	AddF:      "arith.addf",
	SubI:      "arith.subi",
	SubF:      "arith.subf",
	MulI:      "arith.muli",
	MulF:      "arith.mulf",
	DivSI:     "arith.divsi",
	DivUI:     "arith.divui",
	DivF:      "arith.divf",
	RemSI:     "arith.remsi",
	RemUI:     "arith.remui",
	RemF:      "arith.remf",
	MaxSI:     "arith.maxsi",
	MaxUI:     "arith.maxui",
	MaxF:      "arith.maxf",
	NegF:      "arith.negf",
	AndI:      "arith.andi",
	OrI:       "arith.ori",
	XOrI:      "arith.xori",
	ShLI:      "arith.shli",
	ShRUI:     "arith.shrui",
	CmpI:      "arith.cmpi",
	CmpF:      "arith.cmpf",
	ExtF:      "arith.extf",
	TruncF:    "arith.truncf",
	ExtSI:     "arith.extsi",
	TruncI:    "arith.trunci",
	SIToFP:    "arith.sitofp",
	FPToSI:    "arith.fptosi",
	IndexCast: "arith.index_cast",
	Select:    "arith.select",

	AbsI:  "math.absi",
	Exp:   "math.exp",
	Exp2:  "math.exp2",
	Log:   "math.log",
	Tanh:  "math.tanh",
	Rsqrt: "math.rsqrt",

	VectorLoad:          "vector.load",
	VectorStore:         "vector.store",
	Broadcast:           "vector.broadcast",
	ShapeCast:           "vector.shape_cast",
	Transpose:           "vector.transpose",
	MultiDimReduction:   "vector.multi_reduction",
	Contraction:         "vector.contract",
	ExtractStridedSlice: "vector.extract_strided_slice",

	MemRefLoad: "memref.load",

	If:    "scf.if",
	Yield: "scf.yield",

	FuncReturn: "func.return",

	Iota:       "tpu.iota",
	Repeat:     "tpu.repeat",
	TraceStart: "tpu.trace_start",
	TraceStop:  "tpu.trace_stop",
}

// String returns the dialect-qualified MLIR operation name, e.g. "arith.addi".
func (op OpType) String() string {
	if op < 0 || op >= Last {
		return fmt.Sprintf("OpType(%d)", int(op))
	}
	return opTypeNames[op]
}
