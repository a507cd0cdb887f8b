package jaxpr

import (
	"sync"

	"lax/internal/dtype"
)

// Tracer is the default Builder: it grows a Jaxpr by abstractly
// evaluating each Emit call and allocating a fresh Var for every output.
type Tracer struct {
	jaxpr  *Jaxpr
	nextID int
}

func NewTracer() *Tracer {
	return &Tracer{jaxpr: &Jaxpr{}}
}

func (t *Tracer) NewVar(aval Aval) *Var {
	v := &Var{id: t.nextID, Aval: aval}
	t.nextID++
	return v
}

// inputAvals resolves each input atom to an Aval, inferring a constant
// atom's dtype AND shape from the first non-constant sibling operand
// (weakly-typed literal promotion) — a bare literal stands in for a
// full-shape operand,
// matching how the concrete evaluator materializes it. Falls back to a
// scalar F32 when every operand is a bare constant.
func inputAvals(inputs []Atom) []Aval {
	ref := Aval{Shape: []int{}, DType: dtype.F32}
	for _, in := range inputs {
		if in.IsVar() {
			ref = in.V.Aval
			break
		}
	}
	avals := make([]Aval, len(inputs))
	for i, in := range inputs {
		if in.IsVar() {
			avals[i] = in.V.Aval
		} else {
			avals[i] = Aval{Shape: ref.Shape, DType: ref.DType}
		}
	}
	return avals
}

func (t *Tracer) Emit(primitive string, inputs []Atom, params map[string]interface{}) ([]Atom, error) {
	p, err := Lookup(primitive)
	if err != nil {
		return nil, err
	}
	outAvals, err := p.AbstractEval(inputAvals(inputs), params)
	if err != nil {
		return nil, err
	}
	outs := make([]*Var, len(outAvals))
	atoms := make([]Atom, len(outAvals))
	for i, av := range outAvals {
		v := t.NewVar(av)
		v.Name = primitive
		outs[i] = v
		atoms[i] = VarAtom(v)
	}
	t.jaxpr.Eqns = append(t.jaxpr.Eqns, &Eqn{
		Primitive: primitive,
		Invars:    inputs,
		Params:    params,
		Outvars:   outs,
	})
	return atoms, nil
}

// Trace runs fn under a fresh Tracer, pushed onto the process-wide
// interpreter stack for the duration of the call, and returns the
// resulting Jaxpr closed over avals as its formal parameters.
func Trace(avals []Aval, fn func(b Builder, args []Atom) ([]Atom, error)) (*Jaxpr, error) {
	t := NewTracer()
	pushInterpreter(t)
	defer popInterpreter()

	invars := make([]*Var, len(avals))
	args := make([]Atom, len(avals))
	for i, av := range avals {
		v := t.NewVar(av)
		v.Name = "in"
		invars[i] = v
		args[i] = VarAtom(v)
	}
	outs, err := fn(t, args)
	if err != nil {
		return nil, err
	}
	t.jaxpr.Invars = invars
	t.jaxpr.Outvars = outs
	return t.jaxpr, nil
}

var (
	stackMu sync.Mutex
	stack   []Builder
)

func pushInterpreter(b Builder) {
	stackMu.Lock()
	stack = append(stack, b)
	stackMu.Unlock()
}

func popInterpreter() {
	stackMu.Lock()
	stack = stack[:len(stack)-1]
	stackMu.Unlock()
}

// CurrentInterpreter returns the top-most active Builder, or nil if no
// Trace call is in progress.
func CurrentInterpreter() Builder {
	stackMu.Lock()
	defer stackMu.Unlock()
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}
