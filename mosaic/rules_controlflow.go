package mosaic

import (
	"github.com/gomlx/gomosaic/jaxpr"
	"github.com/gomlx/gomosaic/mlir"
	"github.com/gomlx/gomosaic/mlir/optypes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// lowerFor unrolls a bounded stateful loop. The body program must already be
// in value-carrying form: it takes (loop index, inputs...) and returns one
// value per discharged (non-reference) input. References are threaded
// through unchanged.
func lowerFor(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	body, err := paramProgram(params, "jaxpr")
	if err != nil {
		return nil, err
	}
	nsteps, err := paramInt(params, "nsteps")
	if err != nil {
		return nil, err
	}
	reverse, _ := params["reverse"].(bool)

	discharged := make([]bool, len(ctx.avalsIn))
	for i, aval := range ctx.avalsIn {
		_, isRef := aval.(jaxpr.Ref)
		discharged[i] = !isRef
	}
	vals := make([]*mlir.Value, len(args))
	for i, arg := range args {
		if vals[i], err = ctx.materialize(arg, ctx.avalsIn[i]); err != nil {
			return nil, err
		}
	}

	bodyShapes := append([]jaxpr.BlockShape{nil}, ctx.blockShapes...)
	lc := ctx.lc.forBlockShapes(bodyShapes)
	for step := 0; step < nsteps; step++ {
		i := step
		if reverse {
			i = nsteps - step - 1
		}
		iv, err := constant(ctx.block(), i, mlir.Type{})
		if err != nil {
			return nil, err
		}
		outs, err := ctx.lc.lowerer.lowerProgram(lc, body, append([]*mlir.Value{iv}, vals...)...)
		if err != nil {
			return nil, errors.Wrapf(err, "loop step %d", i)
		}
		next := 0
		for j := range vals {
			if discharged[j] {
				vals[j] = outs[next]
				next++
			}
		}
		if next != len(outs) {
			return nil, errors.Errorf("loop body returned %d values for %d discharged inputs", len(outs), next)
		}
	}
	return vals, nil
}

// patternMatchScanToForiLoop recognizes the loop-index increment that a
// counted loop leaves in its scan body: the first carry is an i32 scalar
// counter, and one "add" equation produces counter+1 as the first output.
// The increment equation and the counter output are stripped out, leaving a
// body to be invoked with explicit counter constants.
func patternMatchScanToForiLoop(body *jaxpr.Program, numConsts, numCarry int) (*jaxpr.Program, bool, error) {
	if numCarry == 0 {
		return body, false, nil
	}
	if numConsts+numCarry > len(body.InVars) {
		return nil, false, errors.Errorf("scan body takes %d inputs, fewer than %d consts + %d carries", len(body.InVars), numConsts, numCarry)
	}
	counter := body.InVars[numConsts]
	counterAval := counter.Aval()
	if len(counterAval.Shape()) != 0 || !isInteger(counterAval.DType()) {
		return nil, false, errors.Errorf("scan carry 0 is not a scalar integer counter: %s", counterAval)
	}
	outCounter, ok := body.OutVars[0].(*jaxpr.Var)
	if !ok {
		return nil, false, errors.New("unable to match a counted loop pattern in scan")
	}
	incrementAt := -1
	for i, eqn := range body.Eqns {
		if eqn.Primitive != "add" || len(eqn.Inputs) != 2 || eqn.Outputs[0] != outCounter {
			continue
		}
		if eqn.Inputs[0] != jaxpr.Atom(counter) {
			continue
		}
		lit, isLit := eqn.Inputs[1].(*jaxpr.Literal)
		if !isLit {
			continue
		}
		if v, vok := toInt64(lit.Value); vok && v == 1 {
			incrementAt = i
			break
		}
	}
	if incrementAt < 0 {
		return nil, false, errors.New("unable to match a counted loop pattern in scan")
	}
	eqns := make([]*jaxpr.Equation, 0, len(body.Eqns)-1)
	eqns = append(eqns, body.Eqns[:incrementAt]...)
	eqns = append(eqns, body.Eqns[incrementAt+1:]...)
	stripped := &jaxpr.Program{
		InVars:  body.InVars,
		OutVars: body.OutVars[1:],
		Eqns:    eqns,
	}
	return stripped, true, nil
}

// lowerScan only handles scans that are counted loops in disguise: no
// extensive inputs or outputs, no reversal, no embedded constants. The body
// is unrolled like a bounded loop.
func lowerScan(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	body, err := paramProgram(params, "jaxpr")
	if err != nil {
		return nil, err
	}
	length, err := paramInt(params, "length")
	if err != nil {
		return nil, err
	}
	numConsts, err := paramInt(params, "num_consts")
	if err != nil {
		return nil, err
	}
	numCarry, err := paramInt(params, "num_carry")
	if err != nil {
		return nil, err
	}
	if reverse, _ := params["reverse"].(bool); reverse {
		return nil, errors.New("reversed scans not supported")
	}
	if extensive := len(args) - numConsts - numCarry; extensive != 0 {
		return nil, errors.Errorf("scans with extensive inputs not supported (%d extensive)", extensive)
	}
	if len(body.ConstVars) > 0 {
		return nil, errors.Errorf("scan body with embedded constants not supported (%d const vars)", len(body.ConstVars))
	}

	body, hasLoopIndex, err := patternMatchScanToForiLoop(body, numConsts, numCarry)
	if err != nil {
		return nil, err
	}
	consts, carry := args[:numConsts], args[numConsts:]
	start := 0
	if hasLoopIndex {
		if carry[0].isLiteral() {
			v, ok := toInt64(carry[0].lit)
			if !ok {
				return nil, errors.Errorf("bad loop counter start %v (%T)", carry[0].lit, carry[0].lit)
			}
			start = int(v)
		} else {
			return nil, errors.New("scans with a dynamic counter start not supported")
		}
		carry = carry[1:]
	}

	vals := make([]*mlir.Value, len(carry))
	for i, arg := range carry {
		avalIdx := numConsts + i
		if hasLoopIndex {
			avalIdx++
		}
		if vals[i], err = ctx.materialize(arg, ctx.avalsIn[avalIdx]); err != nil {
			return nil, err
		}
	}
	constVals := make([]*mlir.Value, numConsts)
	for i, arg := range consts {
		if constVals[i], err = ctx.materialize(arg, ctx.avalsIn[i]); err != nil {
			return nil, err
		}
	}

	lc := ctx.lc.forBlockShapes(ctx.blockShapes)
	i32 := mlir.Scalar(dtypes.S32)
	for step := start; step < start+length; step++ {
		bodyArgs := append([]*mlir.Value{}, constVals...)
		if hasLoopIndex {
			iv, err := constant(ctx.block(), step, i32)
			if err != nil {
				return nil, err
			}
			bodyArgs = append(bodyArgs, iv)
		}
		bodyArgs = append(bodyArgs, vals...)
		if vals, err = ctx.lc.lowerer.lowerProgram(lc, body, bodyArgs...); err != nil {
			return nil, errors.Wrapf(err, "loop step %d", step)
		}
	}
	if hasLoopIndex {
		// The counter carry after the last step is start+length, not length:
		// the loop may start from a non-zero literal.
		end, err := constant(ctx.block(), start+length, i32)
		if err != nil {
			return nil, err
		}
		vals = append([]*mlir.Value{end}, vals...)
	}
	return vals, nil
}

// lowerCond lowers a two-way branch to a structured conditional: the selector
// is truncated to i1 and each branch program is lowered into its own region,
// ending with a yield of the branch outputs.
func lowerCond(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	branches, ok := params["branches"].([]*jaxpr.Program)
	if !ok {
		return nil, errors.Errorf("bad \"branches\" parameter: %v (%T)", params["branches"], params["branches"])
	}
	if len(branches) > 2 {
		return nil, errors.Errorf("only two-way conditionals supported, got %d branches", len(branches))
	}
	pred, err := ctx.materialize(args[0], ctx.avalsIn[0])
	if err != nil {
		return nil, err
	}
	branchArgs := make([]*mlir.Value, len(args)-1)
	for i, arg := range args[1:] {
		if branchArgs[i], err = ctx.materialize(arg, ctx.avalsIn[i+1]); err != nil {
			return nil, err
		}
	}
	outTypes := make([]mlir.Type, len(ctx.avalsOut))
	for i, aval := range ctx.avalsOut {
		if outTypes[i], err = avalToType(aval, nil, mlir.MemorySpaceNone); err != nil {
			return nil, err
		}
	}

	b := ctx.block()
	predBit := b.AddOp1(optypes.TruncI, mlir.Scalar(dtypes.Bool), pred)
	ifStmt := b.AddOp(optypes.If, outTypes, predBit)
	thenBlock := ifStmt.AddRegion()
	elseBlock := ifStmt.AddRegion()

	branchShapes := ctx.blockShapes[1:]
	lowerBranch := func(block *mlir.Block, branch *jaxpr.Program) error {
		lc := ctx.lc.forRegion(block, branchShapes)
		outs, err := ctx.lc.lowerer.lowerProgram(lc, branch, branchArgs...)
		if err != nil {
			return err
		}
		block.AddOp(optypes.Yield, nil, outs...)
		return nil
	}
	// Branch 1 is the "true" branch by the selector's convention.
	if err := lowerBranch(thenBlock, branches[len(branches)-1]); err != nil {
		return nil, errors.Wrap(err, "then branch")
	}
	if err := lowerBranch(elseBlock, branches[0]); err != nil {
		return nil, errors.Wrap(err, "else branch")
	}
	return ifStmt.Results, nil
}

// lowerPjit inlines a nested jit call.
func lowerPjit(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	body, err := paramProgram(params, "jaxpr")
	if err != nil {
		return nil, err
	}
	return ctx.inline(body, args)
}

// lowerCustomJVPCall inlines the primal program of a custom-derivative call;
// derivative programs never reach the lowering.
func lowerCustomJVPCall(ctx *ruleContext, args []operand, params jaxpr.Params) ([]*mlir.Value, error) {
	body, err := paramProgram(params, "call_jaxpr")
	if err != nil {
		return nil, err
	}
	if numConsts, _ := params["num_consts"].(int); numConsts > 0 {
		return nil, errors.Errorf("custom_jvp_call with %d consts not supported", numConsts)
	}
	if symbolicZeros, _ := params["symbolic_zeros"].(bool); symbolicZeros {
		return nil, errors.New("custom_jvp_call with symbolic zeros not supported")
	}
	return ctx.inline(body, args)
}

// paramProgram reads a *jaxpr.Program static parameter.
func paramProgram(params jaxpr.Params, name string) (*jaxpr.Program, error) {
	raw, ok := params[name]
	if !ok {
		return nil, errors.Errorf("missing %q parameter", name)
	}
	prog, ok := raw.(*jaxpr.Program)
	if !ok {
		return nil, errors.Errorf("bad %q parameter: %v (%T)", name, raw, raw)
	}
	return prog, nil
}
