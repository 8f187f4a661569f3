package mlir

import (
	"strings"
	"testing"

	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunction_Render(t *testing.T) {
	m := NewModule("test")
	vecType := Vector(dtypes.F32, 8, 128)
	fn := m.NewFunction("main", true, []Type{Scalar(dtypes.F32), vecType})

	c := fn.Body.Constant(Scalar(dtypes.F32), FloatAttr{Value: 1, Type: Scalar(dtypes.F32)})
	bcast := fn.Body.AddOp1(optypes.Broadcast, vecType, c)
	sum := fn.Body.AddOp1(optypes.AddF, vecType, bcast, fn.Inputs[1])
	fn.Body.Return(sum)
	fn.ResultTypes = []Type{sum.Type()}

	text := m.String()
	assert.Contains(t, text, "func.func public @main(%arg0: f32, %arg1: vector<8x128xf32>) -> (vector<8x128xf32>)")
	assert.Contains(t, text, `%2 = "arith.constant"() {value = 1.000000e+00 : f32} : () -> (f32)`)
	assert.Contains(t, text, `%3 = "vector.broadcast"(%2) : (f32) -> (vector<8x128xf32>)`)
	assert.Contains(t, text, `%4 = "arith.addf"(%3, %arg1) : (vector<8x128xf32>, vector<8x128xf32>) -> (vector<8x128xf32>)`)
	assert.Contains(t, text, `"func.return"(%4) : (vector<8x128xf32>) -> ()`)
	assert.True(t, strings.HasPrefix(text, "module {\n"))
	assert.True(t, strings.HasSuffix(text, "}\n"))
}

func TestStatement_AttributesSorted(t *testing.T) {
	m := NewModule("test")
	fn := m.NewFunction("main", false, []Type{Vector(dtypes.F32, 8, 8)})
	stmt := fn.Body.AddOp(optypes.Transpose, []Type{Vector(dtypes.F32, 8, 8)}, fn.Inputs[0])
	stmt.SetAttr("transp", ArrayAttr{
		IntAttr{Value: 1, Type: Scalar(dtypes.S64)},
		IntAttr{Value: 0, Type: Scalar(dtypes.S64)},
	})
	stmt.SetAttr("a_first", BoolAttr(true))

	text := fn.String()
	assert.Contains(t, text, `{a_first = true, transp = [1 : i64, 0 : i64]}`)
}

func TestStatement_Regions(t *testing.T) {
	m := NewModule("test")
	fn := m.NewFunction("main", false, []Type{Scalar(dtypes.Bool), Scalar(dtypes.F32)})
	ifStmt := fn.Body.AddOp(optypes.If, []Type{Scalar(dtypes.F32)}, fn.Inputs[0])
	thenBlock := ifStmt.AddRegion()
	thenBlock.AddOp(optypes.Yield, nil, fn.Inputs[1])
	elseBlock := ifStmt.AddRegion()
	neg := elseBlock.AddOp1(optypes.NegF, Scalar(dtypes.F32), fn.Inputs[1])
	elseBlock.AddOp(optypes.Yield, nil, neg)
	fn.Body.Return(ifStmt.Result())
	fn.ResultTypes = []Type{Scalar(dtypes.F32)}

	text := fn.String()
	require.Contains(t, text, `"scf.if"(%arg0) ({`)
	assert.Contains(t, text, `}, {`)
	assert.Equal(t, 2, strings.Count(text, `"scf.yield"`))
	assert.Contains(t, text, `"arith.negf"(%arg1) : (f32) -> (f32)`)
	assert.Contains(t, text, `}) : (i1) -> (f32)`)
}

func TestModule_GetFunction(t *testing.T) {
	m := NewModule("test")
	m.NewFunction("main", true, nil)
	m.NewFunction("transform_0", false, nil)
	require.NotNil(t, m.GetFunction("transform_0"))
	assert.Nil(t, m.GetFunction("transform_1"))
}
