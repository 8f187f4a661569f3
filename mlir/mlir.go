// Package mlir builds MLIR modules (text format) targeting the Mosaic TPU
// dialects: arith, math, vector, memref, scf, func and tpu.
//
// Among its features:
//
//   - Translates an API to rendered (human-readable) generic-form MLIR text.
//   - A minimal type model: scalars, vectors, memrefs (with memory-space
//     attributes) and index.
//   - Structured-control-flow statements with nested regions (scf.if).
//   - Written purely in Go, no C/C++ external dependencies.
//
// The builder does not verify the emitted program beyond operation arity; the
// lowering engine in package mosaic is responsible for emitting well-typed
// instructions, and the downstream hardware compiler verifies the module.
package mlir
