package mlir

import (
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
)

// Attr is one MLIR attribute value, as attached to a statement, function or
// module. The concrete variants below cover every attribute the Mosaic
// lowering emits.
type Attr interface {
	WriteMLIR(w io.Writer) error
}

// attrString is a small helper to render any Attr as a string.
func attrString(a Attr) string {
	var sb strings.Builder
	_ = a.WriteMLIR(&sb)
	return sb.String()
}

// IntAttr renders as a typed integer, e.g. `3 : i64`.
type IntAttr struct {
	Value int64
	Type  Type
}

func (a IntAttr) WriteMLIR(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d : %s", a.Value, a.Type)
	return err
}

// FloatAttr renders as a typed float, e.g. `1.000000e+00 : f32`.
//
// Infinities are rendered in the hexadecimal form MLIR requires for
// non-representable decimal floats.
type FloatAttr struct {
	Value float64
	Type  Type
}

func (a FloatAttr) WriteMLIR(w io.Writer) error {
	var err error
	switch {
	case math.IsInf(a.Value, 1):
		_, err = fmt.Fprintf(w, "0x7F800000 : %s", a.Type)
	case math.IsInf(a.Value, -1):
		_, err = fmt.Fprintf(w, "0xFF800000 : %s", a.Type)
	default:
		_, err = fmt.Fprintf(w, "%e : %s", a.Value, a.Type)
	}
	return err
}

// BoolAttr renders as `true` or `false`.
type BoolAttr bool

func (a BoolAttr) WriteMLIR(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%t", bool(a))
	return err
}

// StringAttr renders as a quoted string.
type StringAttr string

func (a StringAttr) WriteMLIR(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%q", string(a))
	return err
}

// DenseI64ArrayAttr renders as `array<i64: 8, 128>`.
type DenseI64ArrayAttr []int64

func (a DenseI64ArrayAttr) WriteMLIR(w io.Writer) error {
	var err error
	pw := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, format, args...)
	}
	pw("array<i64")
	if len(a) > 0 {
		pw(": ")
		for i, v := range a {
			if i > 0 {
				pw(", ")
			}
			pw("%d", v)
		}
	}
	pw(">")
	return err
}

// SplatAttr renders a dense splat constant, e.g. `dense<0.000000e+00> : vector<8x8xf32>`.
type SplatAttr struct {
	Value Attr // Elementary IntAttr, FloatAttr or BoolAttr; its type tag is dropped.
	Type  Type
}

func (a SplatAttr) WriteMLIR(w io.Writer) error {
	elem := attrString(a.Value)
	// Drop the " : type" suffix of the element attribute, the splat carries its own type.
	if idx := strings.LastIndex(elem, " : "); idx >= 0 {
		elem = elem[:idx]
	}
	_, err := fmt.Fprintf(w, "dense<%s> : %s", elem, a.Type)
	return err
}

// ArrayAttr renders as `[a, b, ...]`.
type ArrayAttr []Attr

func (a ArrayAttr) WriteMLIR(w io.Writer) error {
	var err error
	pw := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, format, args...)
	}
	pw("[")
	for i, elem := range a {
		if i > 0 {
			pw(", ")
		}
		if err != nil {
			return err
		}
		err = elem.WriteMLIR(w)
	}
	pw("]")
	return err
}

// DictAttr renders as `{key = value, ...}` with keys in sorted order, the
// order MLIR itself prints dictionary attributes in.
type DictAttr map[string]Attr

func (a DictAttr) WriteMLIR(w io.Writer) error {
	keys := make([]string, 0, len(a))
	for key := range a {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var err error
	pw := func(format string, args ...any) {
		if err != nil {
			return
		}
		_, err = fmt.Fprintf(w, format, args...)
	}
	pw("{")
	for i, key := range keys {
		if i > 0 {
			pw(", ")
		}
		pw("%s = ", key)
		if err != nil {
			return err
		}
		err = a[key].WriteMLIR(w)
	}
	pw("}")
	return err
}

// SymbolRefAttr renders a flat symbol reference, e.g. `@transform_0`.
type SymbolRefAttr string

func (a SymbolRefAttr) WriteMLIR(w io.Writer) error {
	_, err := fmt.Fprintf(w, "@%s", string(a))
	return err
}

// ParsedAttr is a pre-rendered dialect attribute kept verbatim, e.g.
// `#tpu.dimension_semantics<parallel>` or `affine_map<(i, j, k) -> (i, k)>`.
type ParsedAttr string

func (a ParsedAttr) WriteMLIR(w io.Writer) error {
	_, err := io.WriteString(w, string(a))
	return err
}
