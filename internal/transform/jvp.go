package transform

import (
	"context"

	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

// jvpJaxpr builds the combined forward-mode jaxpr for orig: its invars are
// orig's primal invars followed by one tangent invar per primal invar,
// and its outvars are orig's primal outvars followed by one tangent
// outvar per primal outvar. Every equation of orig is replayed verbatim
// for the primal half; each equation's registered Jvp rule supplies the
// matching tangent equations.
//
// Primitives with no Jvp rule propagate an implicit zero tangent — treated
// as locally constant, not an error, since not every primitive need be
// differentiable (e.g. a routine call).
func jvpJaxpr(orig *jaxpr.Jaxpr) (*jaxpr.Jaxpr, error) {
	avals := make([]jaxpr.Aval, 0, 2*len(orig.Invars))
	for _, v := range orig.Invars {
		avals = append(avals, v.Aval)
	}
	for _, v := range orig.Invars {
		avals = append(avals, v.Aval)
	}

	return jaxpr.Trace(avals, func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
		n := len(orig.Invars)
		primalArgs, tangentArgs := args[:n], args[n:]

		primalEnv := map[*jaxpr.Var]jaxpr.Atom{}
		tangentEnv := map[*jaxpr.Var]jaxpr.Atom{}
		for i, v := range orig.Invars {
			primalEnv[v] = primalArgs[i]
			tangentEnv[v] = tangentArgs[i]
		}
		resolvePrimal := func(at jaxpr.Atom) jaxpr.Atom {
			if at.IsConst {
				return at
			}
			return primalEnv[at.V]
		}
		resolveTangent := func(at jaxpr.Atom) jaxpr.Atom {
			if at.IsConst {
				return jaxpr.ConstAtom(0)
			}
			return tangentEnv[at.V]
		}

		for _, eqn := range orig.Eqns {
			prim, err := jaxpr.Lookup(eqn.Primitive)
			if err != nil {
				return nil, err
			}
			primalIns := make([]jaxpr.Atom, len(eqn.Invars))
			tangentIns := make([]jaxpr.Atom, len(eqn.Invars))
			for i, at := range eqn.Invars {
				primalIns[i] = resolvePrimal(at)
				tangentIns[i] = resolveTangent(at)
			}

			primalOuts, err := b.Emit(eqn.Primitive, primalIns, eqn.Params)
			if err != nil {
				return nil, err
			}
			for i, v := range eqn.Outvars {
				primalEnv[v] = primalOuts[i]
			}

			if prim.Jvp == nil {
				for _, v := range eqn.Outvars {
					tangentEnv[v] = jaxpr.ConstAtom(0)
				}
				continue
			}
			tOut, err := prim.Jvp(b, primalOuts[0], primalIns, tangentIns, eqn.Params)
			if err != nil {
				return nil, err
			}
			tangentEnv[eqn.Outvars[0]] = tOut
		}

		outs := make([]jaxpr.Atom, 0, 2*len(orig.Outvars))
		for _, at := range orig.Outvars {
			outs = append(outs, resolvePrimal(at))
		}
		for _, at := range orig.Outvars {
			outs = append(outs, resolveTangent(at))
		}
		return outs, nil
	})
}

// Jvp computes the forward-mode derivative of f at primals along
// tangents: it traces f,
// builds the combined forward-mode jaxpr, and evaluates it concretely
// against primals ++ tangents, splitting the result back into primal and
// tangent outputs.
func Jvp(ctx context.Context, f TracedFunc, primals, tangents []*frontend.Array) (primalOuts, tangentOuts []*frontend.Array, err error) {
	orig, err := jaxpr.Trace(avalsOf(primals), func(b jaxpr.Builder, a []jaxpr.Atom) ([]jaxpr.Atom, error) {
		return f(b, a)
	})
	if err != nil {
		return nil, nil, err
	}
	combined, err := jvpJaxpr(orig)
	if err != nil {
		return nil, nil, err
	}
	allArgs := make([]*frontend.Array, 0, len(primals)+len(tangents))
	allArgs = append(allArgs, primals...)
	allArgs = append(allArgs, tangents...)

	results, err := evalJaxpr(ctx, combined, allArgs)
	if err != nil {
		return nil, nil, err
	}
	n := len(orig.Outvars)
	return results[:n], results[n:], nil
}
