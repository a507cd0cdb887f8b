package transform

import (
	"context"

	"lax/internal/errors"
	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

// noBatch marks an inAxes entry whose argument carries no batch
// dimension at all — the same array is shared across every batch
// element.
const noBatch = -1

// Vmap adds a batch dimension to f, scoped to the common case
// every batched argument's axis is the leading dimension (inAxes[i] == 0
// or noBatch) rather than an arbitrary position per argument — tracking
// an arbitrary moving batch axis through every primitive's rewrite rule
// is full per-primitive vmap machinery this implementation narrows to
// the axis-0 convention most callers use (an explicit, documented scope
// decision, not an oversight).
//
// It traces f once against the per-example avals (batch axis stripped),
// then replays the resulting jaxpr against the real batched arrays:
// elementwise primitives need no rewriting at all since their ALU
// recipes are already shape-agnostic per element; reduction and
// movement primitives get their axis/shape params shifted to skip the
// new leading batch dimension.
func Vmap(ctx context.Context, f TracedFunc, inAxes []int, args []*frontend.Array) ([]*frontend.Array, error) {
	if len(inAxes) != len(args) {
		return nil, errors.Usage("transform", "vmap: inAxes has %d entries, got %d args", len(inAxes), len(args))
	}
	batchSize := -1
	exampleAvals := make([]jaxpr.Aval, len(args))
	for i, a := range args {
		switch inAxes[i] {
		case 0:
			if batchSize == -1 {
				batchSize = a.Shape[0]
			} else if batchSize != a.Shape[0] {
				return nil, errors.Usage("transform", "vmap: inconsistent batch size %d vs %d", batchSize, a.Shape[0])
			}
			exampleAvals[i] = jaxpr.Aval{Shape: a.Shape[1:], DType: a.DType}
		case noBatch:
			exampleAvals[i] = jaxpr.Aval{Shape: a.Shape, DType: a.DType}
		default:
			return nil, errors.Capability("transform", "vmap: only axis 0 or no-batch is supported, got %d", inAxes[i])
		}
	}
	if batchSize == -1 {
		return nil, errors.Usage("transform", "vmap: at least one argument must be batched")
	}

	orig, err := jaxpr.Trace(exampleAvals, func(b jaxpr.Builder, a []jaxpr.Atom) ([]jaxpr.Atom, error) {
		return f(b, a)
	})
	if err != nil {
		return nil, err
	}

	batched := make([]*frontend.Array, len(args))
	for i, a := range args {
		if inAxes[i] == noBatch {
			bc, err := a.BroadcastInDim(ctx, append([]int{batchSize}, a.Shape...), 0)
			if err != nil {
				return nil, err
			}
			batched[i] = bc
			continue
		}
		batched[i] = a
	}

	return evalBatchedJaxpr(ctx, orig, batched)
}

func evalBatchedJaxpr(ctx context.Context, j *jaxpr.Jaxpr, inputs []*frontend.Array) ([]*frontend.Array, error) {
	env := map[*jaxpr.Var]*frontend.Array{}
	for i, v := range j.Invars {
		env[v] = inputs[i]
	}
	resolve := func(at jaxpr.Atom) *frontend.Array {
		if at.IsConst {
			return nil
		}
		return env[at.V]
	}

	for _, eqn := range j.Eqns {
		ins := make([]*frontend.Array, len(eqn.Invars))
		device := ""
		for i, at := range eqn.Invars {
			if a := resolve(at); a != nil {
				ins[i] = a
				device = a.Device
			}
		}
		for i, at := range eqn.Invars {
			if at.IsConst {
				ins[i] = frontend.Full(device, eqn.Outvars[0].Aval.DType, refShapeFor(ins, eqn), at.Const)
			}
		}

		outs, err := applyBatchedPrimitive(ctx, eqn, ins)
		if err != nil {
			return nil, err
		}
		for i, v := range eqn.Outvars {
			env[v] = outs[i]
		}
	}

	results := make([]*frontend.Array, len(j.Outvars))
	for i, at := range j.Outvars {
		results[i] = resolve(at)
	}
	return results, nil
}

// applyBatchedPrimitive is applyPrimitive with every axis/shape param
// shifted past the new leading batch dimension.
func applyBatchedPrimitive(ctx context.Context, eqn *jaxpr.Eqn, ins []*frontend.Array) ([]*frontend.Array, error) {
	switch eqn.Primitive {
	case "reduce_sum":
		axis := eqn.Params["axis"].(int) + 1
		keepdims, _ := eqn.Params["keepdims"].(bool)
		a, err := frontend.Sum(ctx, ins[0], axis, keepdims)
		return one(a, err)
	case "reshape":
		shape := eqn.Params["shape"].([]int)
		a, err := ins[0].Reshape(ctx, append([]int{ins[0].Shape[0]}, shape...))
		return one(a, err)
	case "transpose":
		perm := eqn.Params["perm"].([]int)
		shifted := make([]int, len(perm)+1)
		shifted[0] = 0
		for i, p := range perm {
			shifted[i+1] = p + 1
		}
		a, err := ins[0].Transpose(ctx, shifted)
		return one(a, err)
	case "broadcast_in_dim":
		shape := eqn.Params["shape"].([]int)
		axis := eqn.Params["axis"].(int) + 1
		a, err := ins[0].BroadcastInDim(ctx, append([]int{ins[0].Shape[0]}, shape...), axis)
		return one(a, err)
	default:
		return applyPrimitive(ctx, eqn, ins)
	}
}
