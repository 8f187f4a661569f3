// Package mosaic lowers jaxpr programs (package jaxpr) to Mosaic-compatible
// MLIR modules (package mlir) for a TPU-like matrix accelerator.
//
// The engine is a single forward pass over the program graph: a Lowerer holds
// an immutable table mapping each primitive to its lowering rule, and the
// walker threads an environment of already-lowered values through the
// equations, invoking one rule per equation. Composite rules (loops,
// conditionals, nested calls) recursively invoke the walker on their
// sub-programs.
//
// A Lowerer is stateless across invocations and safe to reuse, but a single
// lowering invocation is strictly single-threaded: instructions must be
// emitted in program order. There is no partial recovery; any unsupported
// construct or dtype aborts the whole lowering with a descriptive error.
package mosaic

import (
	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
)

// ruleFunc lowers one equation: it receives the per-equation context, the
// resolved inputs (lowered values or raw literals) and the equation's static
// parameters, and returns the lowered outputs. Rules never touch the
// environment directly; their only side effect is emitting instructions into
// the context's block.
type ruleFunc func(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error)

// rule is one entry of the rule table: the lowering function plus the
// primitive's declared arity (single-result rules return exactly one value).
type rule struct {
	fn              ruleFunc
	multipleResults bool
}

// Lowerer owns the rule table and lowers programs with it. Create it with
// New; concurrent lowerings of independent programs are fine since the table
// is immutable after construction.
type Lowerer struct {
	rules map[string]rule
}

// New creates a Lowerer with the full rule table.
func New() *Lowerer {
	return &Lowerer{rules: newRules()}
}

// newRules builds the primitive→rule table. It is the single extensibility
// point of the engine: a primitive absent here fails lowering with an
// explicit error naming it.
func newRules() map[string]rule {
	return map[string]rule{
		// Indexing / load-store.
		"get":         {fn: lowerGet},
		"swap":        {fn: lowerSwap},
		"load":        {fn: lowerLoad},
		"masked_swap": {fn: lowerMaskedSwap},

		// Elementwise arithmetic.
		"add": {fn: lowerAdd},
		"sub": {fn: lowerSub},
		"mul": {fn: lowerMul},
		"div": {fn: lowerDiv},
		"rem": {fn: lowerRem},
		"max": {fn: lowerMax},
		"abs": {fn: lowerAbs},
		"neg": {fn: lowerNeg},

		// Comparison.
		"eq": {fn: cmpRule("eq")},
		"ne": {fn: cmpRule("ne")},
		"lt": {fn: cmpRule("lt")},
		"le": {fn: cmpRule("le")},
		"gt": {fn: cmpRule("gt")},
		"ge": {fn: cmpRule("ge")},

		// Logical / bitwise.
		"and":                 {fn: lowerAnd},
		"or":                  {fn: lowerOr},
		"xor":                 {fn: lowerXor},
		"shift_left":          {fn: lowerShiftLeft},
		"shift_right_logical": {fn: lowerShiftRightLogical},
		"select_n":            {fn: lowerSelectN},

		// Transcendental / activation.
		"exp":      {fn: lowerExp},
		"exp2":     {fn: lowerExp2},
		"log":      {fn: lowerLog},
		"tanh":     {fn: lowerTanh},
		"rsqrt":    {fn: lowerRsqrt},
		"logistic": {fn: lowerLogistic},
		"pow":      {fn: lowerPow},

		// Reductions and contractions.
		"reduce_sum":  {fn: lowerReduceSum},
		"reduce_max":  {fn: lowerReduceMax},
		"dot_general": {fn: lowerDotGeneral},

		// Shape manipulation and conversion.
		"broadcast_in_dim":     {fn: lowerBroadcastInDim},
		"reshape":              {fn: lowerReshape},
		"transpose":            {fn: lowerTranspose},
		"slice":                {fn: lowerSlice},
		"iota":                 {fn: lowerIota},
		"repeat":               {fn: lowerRepeat},
		"convert_element_type": {fn: lowerConvertElementType},

		// Control flow and nested calls.
		"for":             {fn: lowerFor, multipleResults: true},
		"scan":            {fn: lowerScan, multipleResults: true},
		"cond":            {fn: lowerCond, multipleResults: true},
		"pjit":            {fn: lowerPjit, multipleResults: true},
		"custom_jvp_call": {fn: lowerCustomJVPCall, multipleResults: true},

		// Grid metadata and debug/trace markers.
		"program_id":     {fn: lowerProgramID},
		"multiple_of":    {fn: lowerMultipleOf},
		"debug_callback": {fn: lowerDebugCallback, multipleResults: true},
		"trace_start":    {fn: lowerTraceStart, multipleResults: true},
		"trace_stop":     {fn: lowerTraceStop, multipleResults: true},
	}
}
