package mlir

import (
	"fmt"
	"io"
	"sort"

	"github.com/gomlx/gomosaic/mlir/optypes"
)

// Statement represents a single operation line in an MLIR function body.
//
// Statements are rendered in the generic (quoted) operation form, which every
// MLIR dialect accepts, e.g.:
//
//	%2 = "arith.addf"(%0, %1) : (f32, f32) -> (f32)
type Statement struct {
	// OpType is the type of the operation.
	OpType optypes.OpType

	// Inputs to the operation.
	Inputs []*Value

	// Attributes of the operation, rendered in sorted key order.
	Attributes map[string]Attr

	// Results of the operation. It may be empty for operations like func.return.
	Results []*Value

	// Regions holds the nested blocks of structured-control-flow operations
	// (the then/else regions of scf.if). Empty for every other operation.
	Regions []*Block

	block *Block // the block this statement belongs to
}

// SetAttr attaches an attribute to the statement and returns the statement,
// so calls can be chained onto Block.AddOp.
func (s *Statement) SetAttr(name string, attr Attr) *Statement {
	if s.Attributes == nil {
		s.Attributes = make(map[string]Attr)
	}
	s.Attributes[name] = attr
	return s
}

// Result returns the only result of the statement, or nil if the statement
// has a different arity.
func (s *Statement) Result() *Value {
	if len(s.Results) != 1 {
		return nil
	}
	return s.Results[0]
}

// AddRegion appends a new nested block (region) to the statement and returns
// it. Values created inside the region share the enclosing function's
// numbering.
func (s *Statement) AddRegion() *Block {
	b := &Block{fn: s.block.fn, indent: s.block.indent + 1}
	s.Regions = append(s.Regions, b)
	return b
}

// elementWriter is anything that knows how to render itself to a writer.
type elementWriter interface {
	Write(w io.Writer) error
}

// Write writes a string representation of the statement to the given writer.
func (s *Statement) Write(writer io.Writer, indent string) error {
	var err error
	w := func(format string, args ...any) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		_, err = fmt.Fprintf(writer, format, args...)
	}
	we := func(e elementWriter) {
		if err != nil {
			// No op if an error was encountered earlier
			return
		}
		err = e.Write(writer)
	}

	// Result values are written first:
	w("%s", indent)
	if len(s.Results) > 0 {
		for i, result := range s.Results {
			if i > 0 {
				w(", ")
			}
			we(result)
		}
		w(" = ")
	}

	// Write op name and arguments:
	w("%q(", s.OpType.String())
	for i, input := range s.Inputs {
		if i > 0 {
			w(", ")
		}
		we(input)
	}
	w(")")

	// Write nested regions:
	if len(s.Regions) > 0 {
		w(" (")
		for i, region := range s.Regions {
			if i > 0 {
				w(", ")
			}
			w("{\n")
			if err != nil {
				return err
			}
			err = region.write(writer)
			w("%s}", indent)
		}
		w(")")
	}

	// Write attributes, in sorted key order so the output is deterministic:
	if len(s.Attributes) > 0 {
		keys := make([]string, 0, len(s.Attributes))
		for key := range s.Attributes {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		w(" {")
		for i, key := range keys {
			if i > 0 {
				w(", ")
			}
			w("%s = ", key)
			if err != nil {
				return err
			}
			err = s.Attributes[key].WriteMLIR(writer)
		}
		w("}")
	}

	// Write signature:
	w(" : (")
	for i, input := range s.Inputs {
		if i > 0 {
			w(", ")
		}
		w("%s", input.typ)
	}
	w(") -> (")
	for i, result := range s.Results {
		if i > 0 {
			w(", ")
		}
		w("%s", result.typ)
	}
	w(")")

	return err
}
