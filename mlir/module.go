package mlir

import (
	"fmt"
	"io"
	"strings"
)

// Module holds the functions of one lowered program. It is created empty and
// functions are added with NewFunction; Write renders it in MLIR text format
// for a downstream hardware compiler to consume.
type Module struct {
	// Name of the module, for diagnostics only; not rendered.
	Name string

	// Functions of the module, in insertion order.
	Functions []*Function
}

// NewModule creates a new empty module.
func NewModule(name string) *Module {
	return &Module{Name: name}
}

// NewFunction creates a new function, adds it to the module and returns it.
// The arguments are created from the given types and named `%arg0`, `%arg1`, ...
func (m *Module) NewFunction(name string, isPublic bool, argTypes []Type) *Function {
	fn := &Function{
		Name:     name,
		IsPublic: isPublic,
	}
	for i, typ := range argTypes {
		fn.Inputs = append(fn.Inputs, fn.newArg(fmt.Sprintf("arg%d", i), typ))
	}
	fn.Body = &Block{fn: fn}
	return m.addFunction(fn)
}

func (m *Module) addFunction(fn *Function) *Function {
	m.Functions = append(m.Functions, fn)
	return fn
}

// GetFunction returns the function with the given name, or nil.
func (m *Module) GetFunction(name string) *Function {
	for _, fn := range m.Functions {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// String implements fmt.Stringer and renders the module in MLIR text format.
func (m *Module) String() string {
	var sb strings.Builder
	_ = m.Write(&sb)
	return sb.String()
}

// Write renders the module in MLIR text format to the given writer.
func (m *Module) Write(writer io.Writer) error {
	if _, err := io.WriteString(writer, "module {\n"); err != nil {
		return err
	}
	for i, fn := range m.Functions {
		if i > 0 {
			if _, err := io.WriteString(writer, "\n"); err != nil {
				return err
			}
		}
		if err := fn.Write(writer); err != nil {
			return err
		}
		if _, err := io.WriteString(writer, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(writer, "}\n")
	return err
}
