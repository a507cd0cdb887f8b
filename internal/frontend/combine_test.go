package frontend

import (
	"context"
	"math"
	"testing"

	"lax/internal/dtype"
)

// TestMatmulOnes: all-ones 64x64 operands must
// produce a matrix of 64.0 everywhere.
func TestMatmulOnes(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a := Ones(dev, dtype.F32, []int{64, 64})
	b := Ones(dev, dtype.F32, []int{64, 64})
	c, err := Matmul(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 64*64 {
		t.Fatalf("got %d elements, want %d", len(got), 64*64)
	}
	for i, v := range got {
		if math.Abs(v-64) > 1e-4 {
			t.Fatalf("[%d] = %v, want 64", i, v)
		}
	}
}

func TestMatmulSmallKnown(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFromData(ctx, dev, dtype.F32, []int{3, 2}, []float64{7, 8, 9, 10, 11, 12})
	if err != nil {
		t.Fatal(err)
	}
	c, err := Matmul(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{58, 64, 139, 154})
}

func TestMatmulShapeMismatchRejected(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a := Ones(dev, dtype.F32, []int{2, 3})
	b := Ones(dev, dtype.F32, []int{2, 3})
	if _, err := Matmul(ctx, a, b); err == nil {
		t.Fatal("inner-dim mismatch should be rejected")
	}
}

func TestVecdot(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	d, err := Vecdot(ctx, a, b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := d.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{32})
}

func TestConcatenateAxis0(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2, 2}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFromData(ctx, dev, dtype.F32, []int{1, 2}, []float64{5, 6})
	if err != nil {
		t.Fatal(err)
	}
	c, err := Concatenate(ctx, 0, a, b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 2, 3, 4, 5, 6})
}

func TestConcatenateAxis1ThreeInputs(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	mk := func(shape []int, data []float64) *Array {
		t.Helper()
		a, err := NewFromData(ctx, dev, dtype.F32, shape, data)
		if err != nil {
			t.Fatal(err)
		}
		return a
	}
	a := mk([]int{2, 1}, []float64{1, 4})
	b := mk([]int{2, 2}, []float64{2, 3, 5, 6})
	c := mk([]int{2, 1}, []float64{7, 8})
	out, err := Concatenate(ctx, 1, a, b, c)
	if err != nil {
		t.Fatal(err)
	}
	got, err := out.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 2, 3, 7, 4, 5, 6, 8})
}

func TestStackAddsAxis(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{4, 5, 6})
	if err != nil {
		t.Fatal(err)
	}
	s, err := Stack(ctx, 0, a, b)
	if err != nil {
		t.Fatal(err)
	}
	if !sameShape(s.Shape, []int{2, 3}) {
		t.Fatalf("stack shape = %v, want [2 3]", s.Shape)
	}
	got, err := s.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 2, 3, 4, 5, 6})
}

func TestTile(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2}, []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	tl, err := Tile(ctx, a, []int{3})
	if err != nil {
		t.Fatal(err)
	}
	got, err := tl.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 2, 1, 2, 1, 2})
}

func TestRepeat(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	rp, err := Repeat(ctx, a, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := rp.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 1, 2, 2, 3, 3})
}

func TestFlipReversesAxis(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	f, err := a.Flip(ctx, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	got, err := f.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{2, 1, 0, 5, 4, 3})
}

func TestSliceWithStep(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := Arange(dev, dtype.F32, 0, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	s, err := a.Slice(ctx, []int{1}, []int{8}, []int{2})
	if err != nil {
		t.Fatal(err)
	}
	got, err := s.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 3, 5, 7})
}

func TestPadZeroFills(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2}, []float64{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.Pad(ctx, [][2]int{{1, 2}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{0, 1, 2, 0, 0})
}

func TestMeanPromotesInt(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.I32, []int{4}, []float64{1, 2, 3, 4})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Mean(ctx, a, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	if m.DType != dtype.F32 {
		t.Fatalf("mean dtype = %v, want f32", m.DType)
	}
	got, err := m.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{2.5})
}

func TestBroadcastTo(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{3}, []float64{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := a.BroadcastTo(ctx, []int{2, 3})
	if err != nil {
		t.Fatal(err)
	}
	got, err := b.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{1, 2, 3, 1, 2, 3})

	if _, err := a.BroadcastTo(ctx, []int{2, 4}); err == nil {
		t.Fatal("incompatible broadcast should be rejected")
	}
}

func TestMinMaxAlongAxis(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	x, err := NewFromData(ctx, dev, dtype.I32, []int{2, 3}, []float64{3, 1, 4, 2, 5, 0})
	if err != nil {
		t.Fatal(err)
	}
	mn, err := Min(ctx, x, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err := mn.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{2, 1, 0})

	mx, err := Max(ctx, x, 0, false)
	if err != nil {
		t.Fatal(err)
	}
	got, err = mx.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{3, 5, 4})

	all, err := MinAll(ctx, x)
	if err != nil {
		t.Fatal(err)
	}
	got, err = all.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{0})

	am, err := ArgMax(ctx, x, 1)
	if err != nil {
		t.Fatal(err)
	}
	got, err = am.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{2, 1})
}

func TestMoveAxis(t *testing.T) {
	dev := freshDevice(t)
	ctx := context.Background()
	a, err := NewFromData(ctx, dev, dtype.F32, []int{2, 3}, []float64{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatal(err)
	}
	m, err := a.MoveAxis(ctx, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !sameShape(m.Shape, []int{3, 2}) {
		t.Fatalf("moveaxis shape = %v, want [3 2]", m.Shape)
	}
	got, err := m.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	approxEqual(t, got, []float64{0, 3, 1, 4, 2, 5})
}
