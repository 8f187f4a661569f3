package mlir

import (
	"fmt"
	"io"
)

// Value represents a value in an MLIR function, like `%0` or `%arg0`.
// It has a function-scoped id (or a name, for function arguments) and a type.
type Value struct {
	id   int
	name string // Optional name composed of letters, digits and underscore.
	typ  Type
}

// Type returns the MLIR type of the value.
func (v *Value) Type() Type { return v.typ }

// Write writes the value reference (`%0`, `%arg0`) to the given writer.
func (v *Value) Write(w io.Writer) error {
	if v.name != "" {
		_, err := fmt.Fprintf(w, "%%%s", v.name)
		return err
	}
	_, err := fmt.Fprintf(w, "%%%d", v.id)
	return err
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	if v.name != "" {
		return "%" + v.name
	}
	return fmt.Sprintf("%%%d", v.id)
}
