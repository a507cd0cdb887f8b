package tuner

import (
	"math/rand"
	"testing"

	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/kernel"
	"lax/internal/shapetracker"
)

// buildBroadcastAddKernel mirrors a (256, 512) + (512,) broadcast add: one
// input is physically 2D, the other broadcasts along axis 0.
func buildBroadcastAddKernel() (*kernel.Kernel, []int) {
	outShape := []int{256, 512}
	idx := kernel.OutputIndexVars(outShape, 256*512)

	ta := shapetracker.FromShape(outShape)
	tb := shapetracker.FromShape([]int{512}).Reshape([]int{1, 512}).Expand(outShape)

	av := alu.GlobalView(dtype.F32, 0, ta, idx)
	bv := alu.GlobalView(dtype.F32, 1, tb, idx)
	exp := alu.Add(av, bv)

	return &kernel.Kernel{NumInputs: 2, Size: 256 * 512, Exp: exp}, outShape
}

func TestNullPreservesSemanticsVsGPU(t *testing.T) {
	k, outShape := buildBroadcastAddKernel()

	nullPlan := Null(k)
	gpuPlan := GPU(k, outShape)

	if gpuPlan.Dims.Reduce*gpuPlan.Dims.Unroll*gpuPlan.Dims.Groups != 1 {
		t.Fatalf("non-reduction kernel must have Reduce*Unroll*Groups == 1, got %+v", gpuPlan.Dims)
	}

	// Evaluate both plans at a handful of random gidx and assert they agree
	// element-wise: tuning never changes values.
	a := make([]float64, 256*512)
	b := make([]float64, 512)
	rnd := rand.New(rand.NewSource(1))
	for i := range a {
		a[i] = rnd.Float64()
	}
	for i := range b {
		b[i] = rnd.Float64()
	}
	read := func(gid int, idx int64) float64 {
		if gid == 0 {
			return a[idx]
		}
		return b[idx]
	}

	for _, g := range []int64{0, 1, 300, 512, 131071} {
		got := nullPlan.Exp.Evaluate(alu.Vars{Gidx: g}, read)
		want := gpuPlan.Exp.Evaluate(alu.Vars{Gidx: g}, read)
		if got != want {
			t.Errorf("gidx=%d: null=%v gpu=%v", g, got, want)
		}
	}
}

func TestReductionTilingPostcondition(t *testing.T) {
	cases := []int{1, 2, 8, 17, 64, 100, 4096}
	for _, size := range cases {
		reduce, unroll, group := chooseReductionTiling(size, []int{32}, 1)
		if reduce*unroll*group != size {
			t.Errorf("size=%d: reduce=%d unroll=%d group=%d, product=%d", size, reduce, unroll, group, reduce*unroll*group)
		}
	}
}

func TestGPUFallsBackWhenGlobalViewShapeMismatches(t *testing.T) {
	outShape := []int{16, 16}
	idx := kernel.OutputIndexVars(outShape, 256)

	// A kernel whose GlobalView tracker shape doesn't match outShape can't
	// be tiled along outShape's axes; GPU must fall back to Null.
	mismatched := shapetracker.FromShape([]int{4, 4, 4, 4})
	k := &kernel.Kernel{NumInputs: 1, Size: 256, Exp: alu.GlobalView(dtype.F32, 0, mismatched, []*alu.Exp{idx[0], idx[1], idx[0], idx[1]})}
	plan := GPU(k, outShape)
	if plan.UpcastAxis != -1 {
		t.Fatalf("expected fallback to Null (UpcastAxis=-1), got %+v", plan.Dims)
	}
}
