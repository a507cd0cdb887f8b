package transform

import (
	"context"
	"math"
	"testing"

	"lax/internal/backend"
	"lax/internal/backend/refbackend"
	"lax/internal/dtype"
	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

func freshDevice(t *testing.T) string {
	t.Helper()
	backend.Register("reference", refbackend.New())
	if err := backend.SetDefault("reference"); err != nil {
		t.Fatal(err)
	}
	return "reference"
}

func approxEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > tol {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func mustData(t *testing.T, ctx context.Context, a *frontend.Array) []float64 {
	t.Helper()
	d, err := a.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

// squareThenSum traces f(x) = sum(x * x), the workhorse function several
// tests differentiate and batch.
func squareThenSum(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
	sq, err := b.Emit("mul", []jaxpr.Atom{args[0], args[0]}, nil)
	if err != nil {
		return nil, err
	}
	return b.Emit("reduce_sum", []jaxpr.Atom{sq[0]}, map[string]interface{}{"axis": 0, "keepdims": false})
}

func TestJitMatchesDirectEvaluation(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	x, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}

	j := Jit(squareThenSum)
	got1, err := j.Call(ctx, []*frontend.Array{x})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, got1[0]), []float64{30}, 1e-6)

	// Second call hits the trace cache; results must be identical.
	got2, err := j.Call(ctx, []*frontend.Array{x})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, got2[0]), []float64{30}, 1e-6)
}

func TestJitRetracesOnNewSignature(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	j := Jit(squareThenSum)

	x4, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	x2, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{2}, []float64{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	out4, err := j.Call(ctx, []*frontend.Array{x4})
	if err != nil {
		t.Fatal(err)
	}
	out2, err := j.Call(ctx, []*frontend.Array{x2})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, out4[0]), []float64{30}, 1e-6)
	approxEqual(t, mustData(t, ctx, out2[0]), []float64{61}, 1e-6)
}

// TestGradSumReciprocal: f(x) = sum(1/x) at
// x = [1, 2, 3] has gradient [-1, -0.25, -1/9].
func TestGradSumReciprocal(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	f := func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
		rec, err := b.Emit("div", []jaxpr.Atom{jaxpr.ConstAtom(1), args[0]}, nil)
		if err != nil {
			return nil, err
		}
		return b.Emit("reduce_sum", []jaxpr.Atom{rec[0]}, map[string]interface{}{"axis": 0, "keepdims": false})
	}
	x, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	grads, err := Grad(ctx, f, []*frontend.Array{x})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, grads[0]), []float64{-1, -0.25, -1.0 / 9}, 1e-6)
}

// TestGradMatchesFiniteDifference checks that the analytic gradient of
// f(x) = sum(x*x) agrees with a central finite
// difference at every coordinate.
func TestGradMatchesFiniteDifference(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	xs := []float64{0.5, -1.25, 2, 3.75}

	evalAt := func(vals []float64) float64 {
		a, err := frontend.NewFromData(ctx, dev, dtype.F64, []int{len(vals)}, vals)
		if err != nil {
			t.Fatal(err)
		}
		j, err := jaxpr.Trace([]jaxpr.Aval{{Shape: []int{len(vals)}, DType: dtype.F64}}, squareThenSum)
		if err != nil {
			t.Fatal(err)
		}
		out, err := evalJaxpr(ctx, j, []*frontend.Array{a})
		if err != nil {
			t.Fatal(err)
		}
		return mustData(t, ctx, out[0])[0]
	}

	x, err := frontend.NewFromData(ctx, dev, dtype.F64, []int{len(xs)}, xs)
	if err != nil {
		t.Fatal(err)
	}
	grads, err := Grad(ctx, squareThenSum, []*frontend.Array{x})
	if err != nil {
		t.Fatal(err)
	}
	analytic := mustData(t, ctx, grads[0])

	const h = 1e-6
	for i := range xs {
		hi := append([]float64(nil), xs...)
		lo := append([]float64(nil), xs...)
		hi[i] += h
		lo[i] -= h
		fd := (evalAt(hi) - evalAt(lo)) / (2 * h)
		if math.Abs(fd-analytic[i]) > 1e-4 {
			t.Errorf("coordinate %d: finite difference %v vs analytic %v", i, fd, analytic[i])
		}
	}
}

func TestJvpSinPropagatesCosineTangent(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	f := func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
		return b.Emit("sin", []jaxpr.Atom{args[0]}, nil)
	}
	xs := []float64{0, 0.5, 1, 2}
	x, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{4}, xs)
	if err != nil {
		t.Fatal(err)
	}
	tans, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{4}, []float64{1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	primals, tangents, err := Jvp(ctx, f, []*frontend.Array{x}, []*frontend.Array{tans})
	if err != nil {
		t.Fatal(err)
	}
	wantPrimal := make([]float64, len(xs))
	wantTangent := make([]float64, len(xs))
	for i, v := range xs {
		wantPrimal[i] = float64(float32(math.Sin(v)))
		wantTangent[i] = float64(float32(math.Cos(v)))
	}
	approxEqual(t, mustData(t, ctx, primals[0]), wantPrimal, 1e-6)
	approxEqual(t, mustData(t, ctx, tangents[0]), wantTangent, 1e-6)
}

// TestVmapMatchesLoop checks the batching transformation against the
// unbatched function applied row by row.
func TestVmapMatchesLoop(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	data := []float64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
		-1, 0, 1,
		2, -2, 0.5,
	}
	batched, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{5, 3}, data)
	if err != nil {
		t.Fatal(err)
	}
	outs, err := Vmap(ctx, squareThenSum, []int{0}, []*frontend.Array{batched})
	if err != nil {
		t.Fatal(err)
	}
	got := mustData(t, ctx, outs[0])

	want := make([]float64, 5)
	for r := 0; r < 5; r++ {
		for c := 0; c < 3; c++ {
			v := data[r*3+c]
			want[r] += v * v
		}
	}
	approxEqual(t, got, want, 1e-4)
}

func TestVmapRejectsNonLeadingAxis(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	x := frontend.Ones(dev, dtype.F32, []int{2, 3})
	if _, err := Vmap(ctx, squareThenSum, []int{1}, []*frontend.Array{x}); err == nil {
		t.Fatal("vmap over a non-leading axis should be rejected")
	}
}

// TestVjpMulUsesBothOperands pins reverse-mode through a two-operand
// product: d/dx sum(x*y) = y and d/dy sum(x*y) = x.
func TestVjpMulUsesBothOperands(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	f := func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
		prod, err := b.Emit("mul", []jaxpr.Atom{args[0], args[1]}, nil)
		if err != nil {
			return nil, err
		}
		return b.Emit("reduce_sum", []jaxpr.Atom{prod[0]}, map[string]interface{}{"axis": 0, "keepdims": false})
	}
	x, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	y, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{10, 20, 30})
	if err != nil {
		t.Fatal(err)
	}
	outs, pullback, err := Vjp(ctx, f, []*frontend.Array{x, y})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, outs[0]), []float64{140}, 1e-4)

	seed := frontend.Full(dev, dtype.F32, outs[0].Shape, 1)
	grads, err := pullback(ctx, []*frontend.Array{seed})
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, mustData(t, ctx, grads[0]), []float64{10, 20, 30}, 1e-6)
	approxEqual(t, mustData(t, ctx, grads[1]), []float64{1, 2, 3}, 1e-6)
}

func TestGradRejectsNonScalarOutput(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	identity := func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error) {
		return b.Emit("neg", []jaxpr.Atom{args[0]}, nil)
	}
	x := frontend.Ones(dev, dtype.F32, []int{3})
	if _, err := Grad(ctx, identity, []*frontend.Array{x}); err == nil {
		t.Fatal("grad of a vector-valued function should be rejected")
	}
}
