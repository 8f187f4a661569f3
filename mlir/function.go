package mlir

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gomlx/gomosaic/mlir/optypes"
)

// Function represents a `func.func` in an MLIR module.
type Function struct {
	// Name of the function. It should not include the "@" prefix.
	Name string

	// IsPublic marks the function as public, which is rendered as `func.func public @...`.
	IsPublic bool

	// Inputs to the function (its block arguments, `%arg0`, `%arg1`, ...).
	Inputs []*Value

	// ResultTypes of the function.
	ResultTypes []Type

	// Attributes of the function, rendered after the signature as
	// `attributes {...}`.
	Attributes map[string]Attr

	// Body of the function.
	Body *Block

	// values holds all the values (e.g. %0, %1) created in the function's
	// scope, including inside nested regions.
	values []*Value
}

// Block is an ordered list of statements: a function body or one region of a
// structured-control-flow statement. Instructions are appended in program
// order, which is part of the produced artifact's semantics.
type Block struct {
	Statements []*Statement

	fn     *Function
	indent int
}

// SetAttr attaches a function-level attribute.
func (f *Function) SetAttr(name string, attr Attr) {
	if f.Attributes == nil {
		f.Attributes = make(map[string]Attr)
	}
	f.Attributes[name] = attr
}

// newValue creates a new unique value within the function's scope.
func (f *Function) newValue(typ Type) *Value {
	v := &Value{
		id:  len(f.values),
		typ: typ,
	}
	f.values = append(f.values, v)
	return v
}

// newArg creates a new named function argument value.
func (f *Function) newArg(name string, typ Type) *Value {
	v := &Value{
		id:   len(f.values),
		name: name,
		typ:  typ,
	}
	f.values = append(f.values, v)
	return v
}

// AddOp appends a new operation to the block, creating one result value per
// given result type.
func (b *Block) AddOp(op optypes.OpType, resultTypes []Type, inputs ...*Value) *Statement {
	stmt := &Statement{
		OpType: op,
		Inputs: inputs,
		block:  b,
	}
	for _, typ := range resultTypes {
		stmt.Results = append(stmt.Results, b.fn.newValue(typ))
	}
	b.Statements = append(b.Statements, stmt)
	return stmt
}

// AddOp1 appends a new single-result operation to the block and returns its
// result value.
func (b *Block) AddOp1(op optypes.OpType, resultType Type, inputs ...*Value) *Value {
	return b.AddOp(op, []Type{resultType}, inputs...).Results[0]
}

// Constant appends an `arith.constant` with the given value attribute and
// result type, and returns the resulting value.
func (b *Block) Constant(typ Type, value Attr) *Value {
	stmt := b.AddOp(optypes.Constant, []Type{typ})
	stmt.SetAttr("value", value)
	return stmt.Results[0]
}

// Return appends a `func.return` statement with the given return values.
func (b *Block) Return(values ...*Value) {
	b.AddOp(optypes.FuncReturn, nil, values...)
}

// write renders all statements of the block, one per line.
func (b *Block) write(writer io.Writer) error {
	indent := strings.Repeat("  ", b.indent+1)
	for _, stmt := range b.Statements {
		if err := stmt.Write(writer, indent); err != nil {
			return err
		}
		if _, err := io.WriteString(writer, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// String implements fmt.Stringer and renders the function in MLIR text format.
func (f *Function) String() string {
	var sb strings.Builder
	_ = f.Write(&sb)
	return sb.String()
}

// Write renders the function in MLIR text format to the given writer.
func (f *Function) Write(writer io.Writer) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}

	w("func.func ")
	if f.IsPublic {
		w("public ")
	}
	w("@%s(", f.Name)
	for i, input := range f.Inputs {
		if i > 0 {
			w(", ")
		}
		w("%s: %s", input, input.typ)
	}
	w(") -> (")
	for i, resultType := range f.ResultTypes {
		if i > 0 {
			w(", ")
		}
		w("%s", resultType)
	}
	w(")")

	if len(f.Attributes) > 0 {
		keys := make([]string, 0, len(f.Attributes))
		for key := range f.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		w(" attributes {")
		for i, key := range keys {
			if i > 0 {
				w(", ")
			}
			w("%s = ", key)
			if err != nil {
				return err
			}
			err = f.Attributes[key].WriteMLIR(writer)
		}
		w("}")
	}

	w(" {\n")
	if err != nil {
		return err
	}
	if f.Body != nil {
		err = f.Body.write(writer)
	}
	w("}")
	return err
}
