package jaxpr

import (
	"lax/internal/alu"
	"lax/internal/errors"
)

// Kind classifies how a primitive lowers, mirroring the fuser's "breaks
// fusion if... is a reduction of a different size, or is a routine"
// distinction.
type Kind int

const (
	Elementwise Kind = iota
	Reduction
	Movement
	RoutineCall
)

// AbstractEvalFn computes output avals from input avals and static params
// without touching any data.
type AbstractEvalFn func(invars []Aval, params map[string]interface{}) ([]Aval, error)

// LowerFn emits the ALU expression computing this primitive's single
// output element given its inputs' per-element ALU expressions. Only
// meaningful for Kind == Elementwise; Reduction/Movement/RoutineCall
// primitives are lowered directly by the transform package's fuser, which
// knows how to build the surrounding Kernel/Reduction/routine call.
type LowerFn func(args []*alu.Exp, params map[string]interface{}) *alu.Exp

// JvpFn produces a tangent atom for this primitive's single output given
// primal and tangent input atoms.
// Primitives with no differentiable inputs (e.g. integer-only ops) may
// leave this nil.
type JvpFn func(b Builder, primalOut Atom, invars, tangents []Atom, params map[string]interface{}) (Atom, error)

// TransposeFn runs the reverse-mode linear transpose for a primitive that
// is linear in (at least some of) its inputs: given the output cotangent,
// it returns one cotangent per input, with a nil entry for inputs the
// primitive is not linear in.
type TransposeFn func(b Builder, ct Atom, invars []Atom, params map[string]interface{}) ([]Atom, error)

// VmapFn rewrites a primitive application under a batch axis carried per
// input, returning the output atom and its own batch axis (-1 if the
// output carries no batch dimension at all, e.g. a reduction over it).
type VmapFn func(b Builder, invars []Atom, inAxes []int, params map[string]interface{}) (Atom, int, error)

// Primitive is the full rule set every primitive supplies, plus the Kind
// tag transform's fuser uses to decide fusability.
type Primitive struct {
	Name string
	Kind Kind

	AbstractEval AbstractEvalFn
	Lower        LowerFn
	Jvp          JvpFn
	Transpose    TransposeFn
	Vmap         VmapFn
}

var registry = map[string]*Primitive{}

// Register adds p to the primitive table, overwriting any prior
// registration under the same name — the same registration idiom
// backend.Register and routines use.
func Register(p *Primitive) {
	registry[p.Name] = p
}

func Lookup(name string) (*Primitive, error) {
	p, ok := registry[name]
	if !ok {
		return nil, errors.Capability("jaxpr", "no primitive registered for %q", name)
	}
	return p, nil
}

func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
