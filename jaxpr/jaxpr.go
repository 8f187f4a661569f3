// Package jaxpr defines the typed, DAG-shaped intermediate representation
// consumed by the Mosaic lowering engine (package mosaic).
//
// A Program is an ordered sequence of Equations over variables; each variable
// is written exactly once and read any number of times, and equations appear
// in topological order. Programs are produced by an upstream tracer and are
// immutable once constructed.
package jaxpr

import (
	"fmt"
	"sync/atomic"
)

// Atom is one input reference of an equation (or one program output): either
// a bound *Var or an embedded *Literal.
type Atom interface {
	// Aval returns the abstract value of the atom.
	Aval() AbstractValue
}

// Var is a variable of a Program. Identity is pointer identity; the id is
// only used for printing.
type Var struct {
	id   int64
	aval AbstractValue
}

var varCounter atomic.Int64

// NewVar creates a new variable with the given abstract value.
func NewVar(aval AbstractValue) *Var {
	return &Var{id: varCounter.Add(1), aval: aval}
}

// Aval implements Atom.
func (v *Var) Aval() AbstractValue { return v.aval }

// String implements fmt.Stringer.
func (v *Var) String() string { return fmt.Sprintf("v%d:%s", v.id, v.aval) }

// Literal is a host-side compile-time constant embedded directly in an
// equation input or program output. Its value is a Go scalar (int, int32,
// int64, float32, float64 or bool).
type Literal struct {
	Value any
	aval  AbstractValue
}

// NewLiteral creates a new literal atom.
func NewLiteral(value any, aval AbstractValue) *Literal {
	return &Literal{Value: value, aval: aval}
}

// Aval implements Atom.
func (l *Literal) Aval() AbstractValue { return l.aval }

// String implements fmt.Stringer.
func (l *Literal) String() string { return fmt.Sprintf("%v:%s", l.Value, l.aval) }

// Params holds the static parameters of an equation: axis lists, booleans,
// nested sub-programs, etc. Parameter types are fixed per primitive and
// guaranteed by the upstream tracer.
type Params map[string]any

// Equation is a single operation in the program graph.
type Equation struct {
	// Primitive is the operation identifier, e.g. "add" or "dot_general".
	Primitive string

	// Inputs are the ordered input references.
	Inputs []Atom

	// Outputs are the ordered output variables.
	Outputs []*Var

	// Params are the static parameters of the operation.
	Params Params
}

// NewEquation creates an equation. A nil params is replaced by an empty map.
func NewEquation(primitive string, inputs []Atom, outputs []*Var, params Params) *Equation {
	if params == nil {
		params = Params{}
	}
	return &Equation{Primitive: primitive, Inputs: inputs, Outputs: outputs, Params: params}
}

// Program is a complete jaxpr: a DAG of equations with declared inputs,
// outputs and (possibly) constant variables.
//
// The Mosaic lowering only accepts programs whose ConstVars is empty; the
// upstream collaborator must specialize constants away first.
type Program struct {
	// InVars are the input variables, bound to the caller-provided values.
	InVars []*Var

	// OutVars are the outputs: variables bound by equations, input variables
	// flowing through, or literals.
	OutVars []Atom

	// ConstVars are variables bound to embedded constants.
	ConstVars []*Var

	// Eqns are the equations, in topological order.
	Eqns []*Equation
}
