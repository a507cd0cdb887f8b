package wasmbackend

import (
	"context"
	"math"
	"testing"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/kernel"
)

func TestAddKernel(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}

	a, err := w.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}
	out, err := w.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.Write(ctx, a, []float64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := w.Write(ctx, b, []float64{10, 20, 30, 40}); err != nil {
		t.Fatal(err)
	}

	idx := alu.Special(dtype.I32, alu.Gidx, 4)
	exp := alu.Add(
		alu.GlobalIndex(dtype.F32, 0, idx),
		alu.GlobalIndex(dtype.F32, 1, idx),
	)
	k := &kernel.Kernel{NumInputs: 2, Size: 4, Exp: exp}

	c, err := w.Prepare(ctx, k, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Dispatch(ctx, c, []backend.Handle{a, b}, out); err != nil {
		t.Fatal(err)
	}

	got, err := w.Read(ctx, out, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 22, 33, 44}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	if s := w.Stats(); s.Dispatches != 1 || s.Allocations != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestSumReduction(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := w.Malloc(ctx, dtype.F32, 6)
	out, _ := w.Malloc(ctx, dtype.F32, 2)
	_ = w.Write(ctx, a, []float64{1, 2, 3, 4, 5, 6})

	gidx := alu.Special(dtype.I32, alu.Gidx, 2)
	ridx := alu.Special(dtype.I32, alu.Ridx, 3)
	linear := alu.Add(alu.Mul(gidx, alu.Const(dtype.I32, 3)), ridx)
	exp := alu.GlobalIndex(dtype.F32, 0, linear)
	k := &kernel.Kernel{
		NumInputs: 1, Size: 2, Exp: exp,
		Reduction: &kernel.Reduction{Op: kernel.ReduceSum, Size: 3},
	}

	c, err := w.Prepare(ctx, k, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Dispatch(ctx, c, []backend.Handle{a}, out); err != nil {
		t.Fatal(err)
	}

	got, _ := w.Read(ctx, out, 0, 2)
	want := []float64{6, 15}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("out[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestUnaryTranscendentalImport exercises the host-imported exp function
// end to end, checking the values a kernel computes through it.
func TestUnaryTranscendentalImport(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := w.Malloc(ctx, dtype.F32, 3)
	out, _ := w.Malloc(ctx, dtype.F32, 3)
	_ = w.Write(ctx, a, []float64{0, 1, 2})

	idx := alu.Special(dtype.I32, alu.Gidx, 3)
	exp := alu.ExpOf(alu.GlobalIndex(dtype.F32, 0, idx))
	k := &kernel.Kernel{NumInputs: 1, Size: 3, Exp: exp}

	c, err := w.Prepare(ctx, k, []int{3})
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Dispatch(ctx, c, []backend.Handle{a}, out); err != nil {
		t.Fatal(err)
	}

	got, _ := w.Read(ctx, out, 0, 3)
	want := []float64{math.Exp(0), math.Exp(1), math.Exp(2)}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("out[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecRefFreesAndRejectsDoubleFree(t *testing.T) {
	ctx := context.Background()
	w, err := New(ctx)
	if err != nil {
		t.Fatal(err)
	}
	h, _ := w.Malloc(ctx, dtype.F32, 1)
	if err := w.DecRef(h); err != nil {
		t.Fatal(err)
	}
	if err := w.DecRef(h); err == nil {
		t.Fatal("expected HandleError on double free")
	}
}
