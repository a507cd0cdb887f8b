package transform

import (
	"context"

	"lax/internal/errors"
	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

// Vjp builds the reverse-mode pullback of f at primals: it traces f, evaluates the
// resulting jaxpr forward while keeping every intermediate binding, and
// returns a pullback that runs the equations in reverse, accumulating
// cotangents into each input.
//
// This applies each primitive's reverse-mode rule directly against the
// original (nonlinear) jaxpr using the primal values captured on the
// forward pass — textbook reverse-mode autodiff — rather than first
// building the jvp-linearized jaxpr (internal/jaxpr's registered
// Transpose rules target that linearized form, keyed by a "linearIn"
// param picking which operand is the fixed primal value; see
// jaxpr.Primitive.Transpose). A primitive missing a case in this
// package's backwardRule switch fails loudly rather than silently
// returning the wrong gradient.
func Vjp(ctx context.Context, f TracedFunc, primals []*frontend.Array) ([]*frontend.Array, func(ctx context.Context, cotangents []*frontend.Array) ([]*frontend.Array, error), error) {
	orig, err := jaxpr.Trace(avalsOf(primals), func(b jaxpr.Builder, a []jaxpr.Atom) ([]jaxpr.Atom, error) {
		return f(b, a)
	})
	if err != nil {
		return nil, nil, err
	}
	env, outs, err := evalJaxprFull(ctx, orig, primals)
	if err != nil {
		return nil, nil, err
	}

	pullback := func(ctx context.Context, cts []*frontend.Array) ([]*frontend.Array, error) {
		if len(cts) != len(orig.Outvars) {
			return nil, errors.Usage("transform", "pullback: got %d cotangents, jaxpr has %d outputs", len(cts), len(orig.Outvars))
		}
		cotangents := map[*jaxpr.Var]*frontend.Array{}
		addCt := func(v *jaxpr.Var, ct *frontend.Array) error {
			if existing, ok := cotangents[v]; ok {
				sum, err := frontend.Add(ctx, existing, ct)
				if err != nil {
					return err
				}
				cotangents[v] = sum
				return nil
			}
			cotangents[v] = ct
			return nil
		}
		for i, at := range orig.Outvars {
			if at.IsVar() {
				if err := addCt(at.V, cts[i]); err != nil {
					return nil, err
				}
			}
		}

		for i := len(orig.Eqns) - 1; i >= 0; i-- {
			eqn := orig.Eqns[i]
			ct, ok := cotangents[eqn.Outvars[0]]
			if !ok {
				continue
			}
			ins := make([]*frontend.Array, len(eqn.Invars))
			device := ""
			for j, at := range eqn.Invars {
				if at.IsVar() {
					ins[j] = env[at.V]
					device = ins[j].Device
				}
			}
			// Materialize const operands the way the forward walk does, so
			// rules like div's can use both primal inputs.
			for j, at := range eqn.Invars {
				if at.IsConst {
					ins[j] = frontend.Full(device, eqn.Outvars[0].Aval.DType, refShapeFor(ins, eqn), at.Const)
				}
			}
			grads, err := backwardRule(ctx, eqn, ct, ins, env)
			if err != nil {
				return nil, err
			}
			for j, at := range eqn.Invars {
				if at.IsVar() && grads[j] != nil {
					if err := addCt(at.V, grads[j]); err != nil {
						return nil, err
					}
				}
			}
		}

		result := make([]*frontend.Array, len(orig.Invars))
		for i, v := range orig.Invars {
			g, ok := cotangents[v]
			if !ok {
				g = frontend.Zeros(primals[i].Device, v.Aval.DType, v.Aval.Shape)
			}
			result[i] = g
		}
		return result, nil
	}
	return outs, pullback, nil
}

// backwardRule computes one gradient per input of eqn given the
// cotangent ct flowing into its single output, using env for any primal
// value (e.g. the other operand of a product, or the equation's own
// output) the rule needs. A nil entry means eqn is not differentiable in
// that input (e.g. where's boolean condition).
func backwardRule(ctx context.Context, eqn *jaxpr.Eqn, ct *frontend.Array, ins []*frontend.Array, env map[*jaxpr.Var]*frontend.Array) ([]*frontend.Array, error) {
	switch eqn.Primitive {
	case "add":
		return []*frontend.Array{ct, ct}, nil
	case "sub":
		negCt, err := frontend.Neg(ctx, ct)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{ct, negCt}, nil
	case "neg":
		negCt, err := frontend.Neg(ctx, ct)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{negCt}, nil
	case "mul":
		gx, err := frontend.Mul(ctx, ct, ins[1])
		if err != nil {
			return nil, err
		}
		gy, err := frontend.Mul(ctx, ct, ins[0])
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{gx, gy}, nil
	case "div":
		gx, err := frontend.Div(ctx, ct, ins[1])
		if err != nil {
			return nil, err
		}
		xOverY, err := frontend.Div(ctx, ins[0], ins[1])
		if err != nil {
			return nil, err
		}
		xOverY2, err := frontend.Div(ctx, xOverY, ins[1])
		if err != nil {
			return nil, err
		}
		ctxOverY2, err := frontend.Mul(ctx, ct, xOverY2)
		if err != nil {
			return nil, err
		}
		gy, err := frontend.Neg(ctx, ctxOverY2)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{gx, gy}, nil
	case "sin":
		cosx, err := frontend.Cos(ctx, ins[0])
		if err != nil {
			return nil, err
		}
		g, err := frontend.Mul(ctx, ct, cosx)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "cos":
		sinx, err := frontend.Sin(ctx, ins[0])
		if err != nil {
			return nil, err
		}
		negSinx, err := frontend.Neg(ctx, sinx)
		if err != nil {
			return nil, err
		}
		g, err := frontend.Mul(ctx, ct, negSinx)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "exp":
		primalOut := env[eqn.Outvars[0]]
		g, err := frontend.Mul(ctx, ct, primalOut)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "log":
		g, err := frontend.Div(ctx, ct, ins[0])
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "sqrt":
		primalOut := env[eqn.Outvars[0]]
		two := frontend.Full(primalOut.Device, primalOut.DType, primalOut.Shape, 2)
		denom, err := frontend.Mul(ctx, two, primalOut)
		if err != nil {
			return nil, err
		}
		g, err := frontend.Div(ctx, ct, denom)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "where":
		zero := frontend.Full(ct.Device, ct.DType, ct.Shape, 0)
		gx, err := frontend.Where(ctx, ins[0], ct, zero)
		if err != nil {
			return nil, err
		}
		gy, err := frontend.Where(ctx, ins[0], zero, ct)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{nil, gx, gy}, nil
	case "reduce_sum":
		axis := eqn.Params["axis"].(int)
		origShape := ins[0].Shape
		if axis < 0 {
			axis += len(origShape)
		}
		// Reshape the cotangent to the input shape minus the reduced axis
		// before broadcasting it back. This also normalizes the rank-1
		// case, where the forward pass reports shape [1] rather than [].
		nonReduced := make([]int, 0, len(origShape)-1)
		for i, d := range origShape {
			if i != axis {
				nonReduced = append(nonReduced, d)
			}
		}
		squeezed, err := ct.Reshape(ctx, nonReduced)
		if err != nil {
			return nil, err
		}
		g, err := squeezed.BroadcastInDim(ctx, origShape, axis)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "reshape":
		g, err := ct.Reshape(ctx, ins[0].Shape)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "transpose":
		perm := eqn.Params["perm"].([]int)
		inverse := make([]int, len(perm))
		for i, p := range perm {
			inverse[p] = i
		}
		g, err := ct.Transpose(ctx, inverse)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	case "broadcast_in_dim":
		axis := eqn.Params["axis"].(int)
		g, err := frontend.Sum(ctx, ct, axis, false)
		if err != nil {
			return nil, err
		}
		return []*frontend.Array{g}, nil
	default:
		return nil, errors.Capability("transform", "no reverse-mode rule for primitive %q", eqn.Primitive)
	}
}
