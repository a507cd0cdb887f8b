package jaxpr

import (
	"testing"

	"lax/internal/dtype"
)

func TestTraceAddMul(t *testing.T) {
	avals := []Aval{
		{Shape: []int{4}, DType: dtype.F32},
		{Shape: []int{4}, DType: dtype.F32},
	}
	j, err := Trace(avals, func(b Builder, args []Atom) ([]Atom, error) {
		sum, err := b.Emit("add", []Atom{args[0], args[1]}, nil)
		if err != nil {
			return nil, err
		}
		prod, err := b.Emit("mul", []Atom{sum[0], args[0]}, nil)
		if err != nil {
			return nil, err
		}
		return prod, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(j.Invars) != 2 {
		t.Fatalf("expected 2 invars, got %d", len(j.Invars))
	}
	if len(j.Eqns) != 2 {
		t.Fatalf("expected 2 equations, got %d", len(j.Eqns))
	}
	if len(j.Outvars) != 1 {
		t.Fatalf("expected 1 outvar, got %d", len(j.Outvars))
	}
	out := j.Outvars[0]
	if !out.IsVar() || !SameAval(out.V.Aval, Aval{Shape: []int{4}, DType: dtype.F32}) {
		t.Errorf("unexpected output aval: %+v", out)
	}
}

func TestAbstractEvalShapeMismatch(t *testing.T) {
	avals := []Aval{
		{Shape: []int{4}, DType: dtype.F32},
		{Shape: []int{3}, DType: dtype.F32},
	}
	_, err := Trace(avals, func(b Builder, args []Atom) ([]Atom, error) {
		return b.Emit("add", []Atom{args[0], args[1]}, nil)
	})
	if err == nil {
		t.Fatal("expected shape-mismatch error")
	}
}

func TestUnknownPrimitive(t *testing.T) {
	avals := []Aval{{Shape: []int{1}, DType: dtype.F32}}
	_, err := Trace(avals, func(b Builder, args []Atom) ([]Atom, error) {
		return b.Emit("not_a_primitive", args, nil)
	})
	if err == nil {
		t.Fatal("expected capability error for unknown primitive")
	}
}

func TestMulJvpBuildsProductRule(t *testing.T) {
	p, err := Lookup("mul")
	if err != nil {
		t.Fatal(err)
	}
	avals := []Aval{
		{Shape: []int{2}, DType: dtype.F32},
		{Shape: []int{2}, DType: dtype.F32},
		{Shape: []int{2}, DType: dtype.F32},
		{Shape: []int{2}, DType: dtype.F32},
	}
	_, err = Trace(avals, func(b Builder, args []Atom) ([]Atom, error) {
		primalOut, err := b.Emit("mul", []Atom{args[0], args[1]}, nil)
		if err != nil {
			return nil, err
		}
		tOut, err := p.Jvp(b, primalOut[0], args[:2], args[2:], nil)
		if err != nil {
			return nil, err
		}
		return []Atom{tOut}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestReduceSumAbstractEval(t *testing.T) {
	p, err := Lookup("reduce_sum")
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.AbstractEval([]Aval{{Shape: []int{2, 3}, DType: dtype.F32}}, map[string]interface{}{"axis": 1, "keepdims": false})
	if err != nil {
		t.Fatal(err)
	}
	if !SameAval(out[0], (Aval{Shape: []int{2}, DType: dtype.F32})) {
		t.Errorf("unexpected reduce_sum aval: %+v", out[0])
	}
}

func TestReshapeAbstractEvalRejectsSizeMismatch(t *testing.T) {
	p, err := Lookup("reshape")
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.AbstractEval([]Aval{{Shape: []int{6}, DType: dtype.F32}}, map[string]interface{}{"shape": []int{4}})
	if err == nil {
		t.Fatal("expected size-mismatch error")
	}
}
