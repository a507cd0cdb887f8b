package routines

import (
	"math"
	"testing"

	"lax/internal/errors"
)

func TestLookupAndNames(t *testing.T) {
	for _, name := range []string{"sort", "argsort", "solve_triangular", "cholesky"} {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) = false, want true", name)
		}
	}
	if _, ok := Lookup("nonexistent"); ok {
		t.Error("Lookup(\"nonexistent\") = true, want false")
	}
	names := Names()
	if len(names) != 4 {
		t.Errorf("Names() returned %d entries, want 4: %v", len(names), names)
	}
}

func TestCallUnknownRoutine(t *testing.T) {
	_, err := Call("bogus", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown routine")
	}
	if !errors.Is(err, errors.CapabilityError) {
		t.Errorf("err kind = %v, want CapabilityError", err)
	}
}

func TestSortRoutine1D(t *testing.T) {
	out, err := Call("sort", []Array{{Data: []float64{3, 1, 4, 1, 5, 9, 2, 6}, Shape: []int{8}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 1, 2, 3, 4, 5, 6, 9}
	for i, v := range want {
		if out[0].Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestSortRoutineAxis(t *testing.T) {
	// rows: [3,1] [2,0] sorted ascending along axis 1
	out, err := Call("sort", []Array{{Data: []float64{3, 1, 2, 0}, Shape: []int{2, 2}}}, map[string]any{"axis": 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 3, 0, 2}
	for i, v := range want {
		if out[0].Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestSortScalarRejected(t *testing.T) {
	_, err := Call("sort", []Array{{Data: []float64{1}, Shape: nil}}, nil)
	if err == nil {
		t.Fatal("expected UsageError sorting a scalar")
	}
	if !errors.Is(err, errors.UsageError) {
		t.Errorf("err kind = %v, want UsageError", err)
	}
}

func TestArgsortStablePermutation(t *testing.T) {
	out, err := Call("argsort", []Array{{Data: []float64{3, 1, 4, 1, 5}, Shape: []int{5}}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	// ties at value 1 occur at indices 1 and 3; stability preserves that order.
	want := []float64{1, 3, 0, 2, 4}
	for i, v := range want {
		if out[0].Data[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestSolveTriangularLower(t *testing.T) {
	// [[2,0],[3,4]] x = [4,23] -> x = [2, 4.25]
	a := Array{Data: []float64{2, 0, 3, 4}, Shape: []int{2, 2}}
	b := Array{Data: []float64{4, 23}, Shape: []int{2}}
	out, err := Call("solve_triangular", []Array{a, b}, map[string]any{"lower": true})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 4.25}
	for i, v := range want {
		if math.Abs(out[0].Data[i]-v) > 1e-9 {
			t.Errorf("x[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestSolveTriangularUnitDiagonal(t *testing.T) {
	// unit-upper [[1,2],[0,1]] x = [5,3] -> x = [-1, 3]
	a := Array{Data: []float64{1, 2, 0, 1}, Shape: []int{2, 2}}
	b := Array{Data: []float64{5, 3}, Shape: []int{2}}
	out, err := Call("solve_triangular", []Array{a, b}, map[string]any{"unitDiagonal": true})
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{-1, 3}
	for i, v := range want {
		if math.Abs(out[0].Data[i]-v) > 1e-9 {
			t.Errorf("x[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestSolveTriangularShapeMismatch(t *testing.T) {
	a := Array{Data: []float64{1, 0, 0, 1}, Shape: []int{2, 2}}
	b := Array{Data: []float64{1, 2, 3}, Shape: []int{3}}
	if _, err := Call("solve_triangular", []Array{a, b}, nil); err == nil {
		t.Fatal("expected UsageError on mismatched b")
	}
}

func TestCholeskyIdentity(t *testing.T) {
	a := Array{Data: []float64{1, 0, 0, 1}, Shape: []int{2, 2}}
	out, err := Call("cholesky", []Array{a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 0, 0, 1}
	for i, v := range want {
		if math.Abs(out[0].Data[i]-v) > 1e-9 {
			t.Errorf("L[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestCholeskyKnownMatrix(t *testing.T) {
	// a = [[4,2],[2,3]] -> L = [[2,0],[1, sqrt(2)]]
	a := Array{Data: []float64{4, 2, 2, 3}, Shape: []int{2, 2}}
	out, err := Call("cholesky", []Array{a}, nil)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{2, 0, 1, math.Sqrt2}
	for i, v := range want {
		if math.Abs(out[0].Data[i]-v) > 1e-9 {
			t.Errorf("L[%d] = %v, want %v", i, out[0].Data[i], v)
		}
	}
}

func TestCholeskyNotPositiveDefinite(t *testing.T) {
	a := Array{Data: []float64{1, 2, 2, 1}, Shape: []int{2, 2}}
	_, err := Call("cholesky", []Array{a}, nil)
	if err == nil {
		t.Fatal("expected CompilationError for non-positive-definite matrix")
	}
	if !errors.Is(err, errors.CompilationError) {
		t.Errorf("err kind = %v, want CompilationError", err)
	}
}
