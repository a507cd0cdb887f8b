package frontend

import (
	"context"
	"math"
	"testing"

	"lax/internal/backend"
	"lax/internal/backend/refbackend"
	"lax/internal/dtype"
)

// freshDevice registers a brand new reference backend under "reference" so
// each test gets its own Stats() counters to assert against.
func freshDevice(t *testing.T) string {
	t.Helper()
	r := refbackend.New()
	backend.Register("reference", r)
	if err := backend.SetDefault("reference"); err != nil {
		t.Fatal(err)
	}
	return "reference"
}

func approxEqual(t *testing.T, got, want []float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

// TestElementwiseFusionSingleDispatch checks that
// y = (x + x) * (x - 1) on x = arange(8) realizes as exactly one
// kernel dispatch against one output buffer.
func TestElementwiseFusionSingleDispatch(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := Arange(device, dtype.F32, 0, 8, 1)
	if err != nil {
		t.Fatal(err)
	}
	one := Full(device, dtype.F32, x.Shape, 1)

	sum, err := Add(ctx, x, x)
	if err != nil {
		t.Fatal(err)
	}
	diff, err := Sub(ctx, x, one)
	if err != nil {
		t.Fatal(err)
	}
	y, err := Mul(ctx, sum, diff)
	if err != nil {
		t.Fatal(err)
	}
	if !y.IsLazy() {
		t.Fatal("y should still be a pure symbolic recipe before Data()")
	}

	got, err := y.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := make([]float64, 8)
	for i := range want {
		xi := float64(i)
		want[i] = (xi + xi) * (xi - 1)
	}
	approxEqual(t, got, want)

	be, err := backend.Get(device)
	if err != nil {
		t.Fatal(err)
	}
	if s := be.Stats(); s.Dispatches != 1 {
		t.Errorf("expected exactly 1 dispatch from full fusion, got %d", s.Dispatches)
	}
}

func TestMixedLazyAndRealizedAdd(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	y := Full(device, dtype.F32, []int{4}, 10)

	z, err := Add(ctx, x, y)
	if err != nil {
		t.Fatal(err)
	}
	got, err := z.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{11, 12, 13, 14})
}

func TestSumAxis(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Sum(ctx, x, 1, false)
	if err != nil {
		t.Fatal(err)
	}
	if !sameShape(s.Shape, []int{2}) {
		t.Fatalf("unexpected shape %v", s.Shape)
	}
	got, err := s.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{6, 15})
}

func TestSumAxisKeepdims(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Sum(ctx, x, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !sameShape(s.Shape, []int{1, 3}) {
		t.Fatalf("unexpected shape %v", s.Shape)
	}
	got, err := s.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{5, 7, 9})
}

func TestMaxAll(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{2, 2}, []float64{3, 1, 4, 1})
	if err != nil {
		t.Fatal(err)
	}
	m, err := MaxAll(ctx, x)
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{4})
}

func TestArgMaxAxis(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{2, 3}, []float64{1, 5, 2, 9, 0, 3})
	if err != nil {
		t.Fatal(err)
	}
	idx, err := ArgMax(ctx, x, 1)
	if err != nil {
		t.Fatal(err)
	}
	if idx.DType != dtype.I32 {
		t.Errorf("argmax dtype = %v, want I32", idx.DType)
	}
	got, err := idx.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 0})
}

func TestArgMaxEmptyAxisRejected(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x := Zeros(device, dtype.F32, []int{0, 3})
	if _, err := ArgMax(ctx, x, 0); err == nil {
		t.Fatal("argmax over an empty axis should be rejected")
	}
	if _, err := ArgMin(ctx, x, 0); err == nil {
		t.Fatal("argmin over an empty axis should be rejected")
	}
}

// TestReshapeTransposeReshape chains a reshape, transpose, then reshape;
// the result must still read back correctly even though the middle step
// leaves a non-contiguous view.
func TestReshapeTransposeReshape(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := NewFromData(ctx, device, dtype.F32, []int{6}, []float64{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	r, err := x.Reshape(ctx, []int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	tr, err := r.Transpose(ctx, []int{1, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !sameShape(tr.Shape, []int{3, 2}) {
		t.Fatalf("unexpected shape %v", tr.Shape)
	}
	flat, err := tr.Reshape(ctx, []int{6})
	if err != nil {
		t.Fatal(err)
	}
	got, err := flat.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{0, 3, 1, 4, 2, 5})
}

func TestEyeDiagonal(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	e := Eye(device, dtype.F32, 3, 3, 0)
	got, err := e.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func TestWhereSelection(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	cond, err := NewFromData(ctx, device, dtype.Bool, []int{4}, []float64{1, 0, 1, 0})
	if err != nil {
		t.Fatal(err)
	}
	x, err := NewFromData(ctx, device, dtype.F32, []int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	y, err := NewFromData(ctx, device, dtype.F32, []int{4}, []float64{10, 20, 30, 40})
	if err != nil {
		t.Fatal(err)
	}
	w, err := Where(ctx, cond, x, y)
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 20, 3, 40})
}

func TestReshapeSizeMismatchRejected(t *testing.T) {
	device := freshDevice(t)
	ctx := context.Background()

	x, err := Arange(device, dtype.F32, 0, 6, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := x.Reshape(ctx, []int{4, 2}); err == nil {
		t.Fatal("expected size-mismatch error")
	}
}
