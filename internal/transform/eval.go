package transform

import (
	"context"

	"lax/internal/errors"
	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

// evalJaxpr replays j's equations against concrete arrays.
// Each primitive's concrete behavior is the corresponding internal/frontend
// op, which itself fuses ALU expressions lazily — so replaying a jaxpr of
// elementwise equations still realizes as a single fused dispatch;
// evalJaxpr's own job is only to pick the right
// frontend call and thread values through, not to re-implement fusion.
func evalJaxpr(ctx context.Context, j *jaxpr.Jaxpr, inputs []*frontend.Array) ([]*frontend.Array, error) {
	_, outs, err := evalJaxprFull(ctx, j, inputs)
	return outs, err
}

// evalJaxprFull is evalJaxpr's forward walk, additionally returning every
// intermediate var binding — vjp's backward pass needs the primal value
// bound to each equation's inputs and output, not just the jaxpr's final
// outvars.
func evalJaxprFull(ctx context.Context, j *jaxpr.Jaxpr, inputs []*frontend.Array) (map[*jaxpr.Var]*frontend.Array, []*frontend.Array, error) {
	env := map[*jaxpr.Var]*frontend.Array{}
	bind := func(v *jaxpr.Var, a *frontend.Array) { env[v] = a }
	resolve := func(at jaxpr.Atom) (*frontend.Array, error) {
		if at.IsConst {
			return nil, errors.Usage("transform", "evalJaxpr: bare constant atom needs a reference shape/device, unsupported outside a bound equation")
		}
		a, ok := env[at.V]
		if !ok {
			return nil, errors.Usage("transform", "evalJaxpr: use of unbound var %s", at.V)
		}
		return a, nil
	}

	if len(inputs) != len(j.Invars) {
		return nil, nil, errors.Usage("transform", "evalJaxpr: got %d inputs, jaxpr wants %d", len(inputs), len(j.Invars))
	}
	for i, v := range j.Invars {
		bind(v, inputs[i])
	}

	for _, eqn := range j.Eqns {
		ins := make([]*frontend.Array, len(eqn.Invars))
		device := ""
		for i, at := range eqn.Invars {
			if at.IsConst {
				continue
			}
			a, err := resolve(at)
			if err != nil {
				return nil, nil, err
			}
			ins[i] = a
			device = a.Device
		}
		for i, at := range eqn.Invars {
			if at.IsConst {
				ref := eqn.Outvars[0]
				ins[i] = frontend.Full(device, ref.Aval.DType, refShapeFor(ins, eqn), at.Const)
			}
		}

		outs, err := applyPrimitive(ctx, eqn, ins)
		if err != nil {
			return nil, nil, err
		}
		for i, v := range eqn.Outvars {
			bind(v, outs[i])
		}
	}

	results := make([]*frontend.Array, len(j.Outvars))
	for i, at := range j.Outvars {
		a, err := resolve(at)
		if err != nil {
			return nil, nil, err
		}
		results[i] = a
	}
	return env, results, nil
}

// refShapeFor picks a shape for materializing a bare-constant operand: the
// shape of whichever sibling operand is already concrete. Binary
// elementwise primitives are the only place a const atom appears in this
// implementation's primitive set (e.g. the "2" in sqrt's jvp rule).
func refShapeFor(ins []*frontend.Array, eqn *jaxpr.Eqn) []int {
	for _, in := range ins {
		if in != nil {
			return in.Shape
		}
	}
	return eqn.Outvars[0].Aval.Shape
}

func applyPrimitive(ctx context.Context, eqn *jaxpr.Eqn, ins []*frontend.Array) ([]*frontend.Array, error) {
	switch eqn.Primitive {
	case "add":
		a, err := frontend.Add(ctx, ins[0], ins[1])
		return one(a, err)
	case "sub":
		a, err := frontend.Sub(ctx, ins[0], ins[1])
		return one(a, err)
	case "mul":
		a, err := frontend.Mul(ctx, ins[0], ins[1])
		return one(a, err)
	case "div":
		a, err := frontend.Div(ctx, ins[0], ins[1])
		return one(a, err)
	case "neg":
		a, err := frontend.Neg(ctx, ins[0])
		return one(a, err)
	case "sin":
		a, err := frontend.Sin(ctx, ins[0])
		return one(a, err)
	case "cos":
		a, err := frontend.Cos(ctx, ins[0])
		return one(a, err)
	case "exp":
		a, err := frontend.ExpOf(ctx, ins[0])
		return one(a, err)
	case "log":
		a, err := frontend.Log(ctx, ins[0])
		return one(a, err)
	case "sqrt":
		a, err := frontend.Sqrt(ctx, ins[0])
		return one(a, err)
	case "where":
		a, err := frontend.Where(ctx, ins[0], ins[1], ins[2])
		return one(a, err)
	case "reduce_sum":
		axis := eqn.Params["axis"].(int)
		keepdims, _ := eqn.Params["keepdims"].(bool)
		a, err := frontend.Sum(ctx, ins[0], axis, keepdims)
		return one(a, err)
	case "reshape":
		shape := eqn.Params["shape"].([]int)
		a, err := ins[0].Reshape(ctx, shape)
		return one(a, err)
	case "transpose":
		perm := eqn.Params["perm"].([]int)
		a, err := ins[0].Transpose(ctx, perm)
		return one(a, err)
	case "broadcast_in_dim":
		shape := eqn.Params["shape"].([]int)
		axis := eqn.Params["axis"].(int)
		a, err := ins[0].BroadcastInDim(ctx, shape, axis)
		return one(a, err)
	default:
		return nil, errors.Capability("transform", "no concrete evaluator for primitive %q", eqn.Primitive)
	}
}

func one(a *frontend.Array, err error) ([]*frontend.Array, error) {
	if err != nil {
		return nil, err
	}
	return []*frontend.Array{a}, nil
}
