package gpubackend

import (
	"context"
	"math"
	"strings"
	"testing"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/kernel"
	"lax/internal/tuner"
)

func approxEqual(t *testing.T, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("got %v, want %v (tol %v)", got, want, tol)
	}
}

func TestAddKernel(t *testing.T) {
	g := New()
	ctx := context.Background()

	a, err := g.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}
	b, err := g.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}
	out, err := g.Malloc(ctx, dtype.F32, 4)
	if err != nil {
		t.Fatal(err)
	}

	if err := g.Write(ctx, a, []float64{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := g.Write(ctx, b, []float64{10, 20, 30, 40}); err != nil {
		t.Fatal(err)
	}

	idx := alu.Special(dtype.I32, alu.Gidx, 4)
	exp := alu.Add(
		alu.GlobalIndex(dtype.F32, 0, idx),
		alu.GlobalIndex(dtype.F32, 1, idx),
	)
	k := &kernel.Kernel{NumInputs: 2, Size: 4, Exp: exp}

	c, err := g.Prepare(ctx, k, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Dispatch(ctx, c, []backend.Handle{a, b}, out); err != nil {
		t.Fatal(err)
	}

	got, err := g.Read(ctx, out, 0, 4)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 22, 33, 44}
	for i := range want {
		approxEqual(t, got[i], want[i], 1e-9)
	}

	if s := g.Stats(); s.Dispatches != 1 || s.Allocations != 3 {
		t.Errorf("unexpected stats: %+v", s)
	}
}

func TestSumReductionMatchesReference(t *testing.T) {
	g := New()
	ctx := context.Background()

	a, _ := g.Malloc(ctx, dtype.F32, 6)
	out, _ := g.Malloc(ctx, dtype.F32, 2)
	_ = g.Write(ctx, a, []float64{1, 2, 3, 4, 5, 6})

	gidx := alu.Special(dtype.I32, alu.Gidx, 2)
	ridx := alu.Special(dtype.I32, alu.Ridx, 3)
	linear := alu.Add(alu.Mul(gidx, alu.Const(dtype.I32, 3)), ridx)
	exp := alu.GlobalIndex(dtype.F32, 0, linear)
	k := &kernel.Kernel{
		NumInputs: 1, Size: 2, Exp: exp,
		Reduction: &kernel.Reduction{Op: kernel.ReduceSum, Size: 3},
	}

	c, err := g.Prepare(ctx, k, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Dispatch(ctx, c, []backend.Handle{a}, out); err != nil {
		t.Fatal(err)
	}

	got, _ := g.Read(ctx, out, 0, 2)
	want := []float64{6, 15}
	for i := range want {
		approxEqual(t, got[i], want[i], 1e-9)
	}
}

func TestDecRefFreesAndRejectsDoubleFree(t *testing.T) {
	g := New()
	ctx := context.Background()
	h, _ := g.Malloc(ctx, dtype.F32, 1)
	if err := g.DecRef(h); err != nil {
		t.Fatal(err)
	}
	if err := g.DecRef(h); err == nil {
		t.Fatal("expected HandleError on double free")
	}
}

func TestShaderTextNamesBuffersAndGrid(t *testing.T) {
	g := New()
	ctx := context.Background()

	idx := alu.Special(dtype.I32, alu.Gidx, 4)
	exp := alu.Add(alu.GlobalIndex(dtype.F32, 0, idx), alu.Const(dtype.F32, 1))
	k := &kernel.Kernel{NumInputs: 1, Size: 4, Exp: exp}

	c, err := g.Prepare(ctx, k, []int{4})
	if err != nil {
		t.Fatal(err)
	}
	src, ok := ShaderSource(c)
	if !ok {
		t.Fatal("expected a gpubackend.Compiled artifact")
	}
	for _, want := range []string{"RWStructuredBuffer<float> buf0", "RWStructuredBuffer<float> _out", "numthreads", "batch = wg.x + wg.y * 16384"} {
		if !strings.Contains(src, want) {
			t.Errorf("shader text missing %q:\n%s", want, src)
		}
	}
}

func TestGridDimsWrapAtPlatformLimit(t *testing.T) {
	if x, y := gridDims(100); x != 100 || y != 1 {
		t.Errorf("gridDims(100) = (%d,%d), want (100,1)", x, y)
	}
	x, y := gridDims(16384*3 + 5)
	if x != gridWrap || y != 4 {
		t.Errorf("gridDims(%d) = (%d,%d), want (%d,4)", 16384*3+5, x, y, gridWrap)
	}
	if got := batchIndex(5, 2); got != 5+2*gridWrap {
		t.Errorf("batchIndex(5,2) = %d, want %d", got, 5+2*gridWrap)
	}
}

// TestReplayTunedUpcastMatchesNull exercises replayTuned's upcast fan-out
// directly, independent of whether the tuner's heuristics would choose this
// exact Dims combination, by evaluating an expression that returns its own
// gidx and checking every output lands in the right slot.
func TestReplayTunedUpcastMatchesNull(t *testing.T) {
	outShape := []int{2, 8}
	size := 16
	gidx := alu.Special(dtype.I32, alu.Gidx, int64(size))
	exp := alu.Cast(dtype.F32, gidx) // identity: out[i] should equal float64(i)

	plan := &tuner.Plan{
		Exp:         exp,
		ThreadCount: size / 4,
		Dims:        tuner.Dims{Groups: 1, Reduce: 1, Unroll: 1, Upcast: 4},
		OutputShape: outShape,
		UpcastAxis:  1,
	}
	out := make([]float64, size)
	replayTuned(plan, func(int, int64) float64 { return 0 }, out)
	for i := range out {
		approxEqual(t, out[i], float64(i), 1e-9)
	}
}

// TestReplayTunedGroupedReductionMatchesStraightFold verifies evalGrouped's
// chunked-and-combined fold agrees with a straight-line reduction for a
// manually constructed multi-group Dims (reduce*unroll*groups == size).
func TestReplayTunedGroupedReductionMatchesStraightFold(t *testing.T) {
	size := 6
	data := []float64{1, 2, 3, 4, 5, 6}
	read := func(gid int, idx int64) float64 { return data[idx] }

	ridx := alu.Special(dtype.I32, alu.Ridx, int64(size))
	exp := alu.GlobalIndex(dtype.F32, 0, ridx)

	plan := &tuner.Plan{
		Exp:         exp,
		Reduction:   &kernel.Reduction{Op: kernel.ReduceSum, Size: size},
		ThreadCount: 1,
		Dims:        tuner.Dims{Groups: 3, Reduce: 2, Unroll: 1, Upcast: 1},
		UpcastAxis:  -1,
	}
	out := make([]float64, 1)
	replayTuned(plan, read, out)

	want := 1 + 2 + 3 + 4 + 5 + 6.0
	approxEqual(t, out[0], want, 1e-9)
}
