// Package jaxpr implements the higher-level equation IR program
// transformations trace into: an ordered list of constants, input
// variables, primitive equations, and output variables. Unlike the ALU IR,
// a jaxpr's equations name primitives (add, reduce_sum, reshape, ...)
// rather than scalar operations — one equation can lower to many ALU
// nodes, a whole Kernel, or a routine call.
package jaxpr

import (
	"fmt"

	"lax/internal/dtype"
)

// Aval is the abstract value program transformations track in place of
// concrete data: a shape and a dtype.
type Aval struct {
	Shape []int
	DType dtype.Type
}

func (a Aval) String() string {
	return fmt.Sprintf("%v:%s", a.Shape, a.DType)
}

func (a Aval) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func SameAval(a, b Aval) bool {
	if a.DType != b.DType || len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Var is a jaxpr-local SSA variable: either one of the jaxpr's declared
// invars/constvars, or the output of some equation within it.
type Var struct {
	id   int
	Aval Aval
	Name string
}

func (v *Var) String() string { return fmt.Sprintf("%s/%d", v.Name, v.id) }

// Atom is either a Var reference or an inlined literal constant — an
// equation's inputs and a jaxpr's outvars are atoms.
type Atom struct {
	V       *Var
	IsConst bool
	Const   float64
}

func VarAtom(v *Var) Atom            { return Atom{V: v} }
func ConstAtom(v float64) Atom       { return Atom{IsConst: true, Const: v} }
func (a Atom) IsVar() bool { return a.V != nil }

// IsNil reports whether a is the zero Atom a Transpose rule returns for an
// input it carries no cotangent for (neither a Var nor an explicit const).
func (a Atom) IsNil() bool { return a.V == nil && !a.IsConst }

func (a Atom) AvalOf(dt dtype.Type) Aval {
	if a.IsVar() {
		return a.V.Aval
	}
	return Aval{Shape: []int{}, DType: dt}
}

// Eqn records one primitive application: a primitive name, its input
// atoms, a bag of static parameters (axis, shape,...), and the variables
// it binds as output.
type Eqn struct {
	Primitive string
	Invars    []Atom
	Params    map[string]interface{}
	Outvars   []*Var
}

// Jaxpr is the traced program: ordered closed-over constants, ordered
// formal parameters, the equation list, and the output atoms.
type Jaxpr struct {
	Constvars []*Var
	Invars    []*Var
	Eqns      []*Eqn
	Outvars   []Atom
}

// Builder is what a tracer (and a transformation rule run during tracing)
// uses to grow a Jaxpr incrementally: allocate a fresh variable and record
// an abstractly-evaluated primitive application.
type Builder interface {
	NewVar(aval Aval) *Var
	Emit(primitive string, inputs []Atom, params map[string]interface{}) ([]Atom, error)
}
