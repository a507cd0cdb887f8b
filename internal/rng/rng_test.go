package rng

import (
	"context"
	"testing"

	"lax/internal/backend"
	"lax/internal/backend/refbackend"
	"lax/internal/dtype"
	"lax/internal/frontend"
)

func testDevice(t *testing.T) string {
	t.Helper()
	backend.Register("reference", refbackend.New())
	if err := backend.SetDefault("reference"); err != nil {
		t.Fatal(err)
	}
	return "reference"
}

// TestThreefryKnownAnswer pins the canonical test vector: the all-zero
// key and counter must produce (1797259609, 2579123966) bit-exactly.
func TestThreefryKnownAnswer(t *testing.T) {
	a, b := Threefry2x32(Key{}, 0, 0)
	if a != 1797259609 || b != 2579123966 {
		t.Fatalf("threefry2x32(0,0,0,0) = (%d, %d), want (1797259609, 2579123966)", a, b)
	}
}

func TestThreefryCounterSeparation(t *testing.T) {
	k := NewKey(1234)
	a0, b0 := Threefry2x32(k, 0, 0)
	a1, b1 := Threefry2x32(k, 0, 1)
	if a0 == a1 && b0 == b1 {
		t.Fatal("distinct counters produced identical blocks")
	}
}

func TestSplitDeterministicAndDistinct(t *testing.T) {
	k := NewKey(42)
	ks1, err := Split(k, 5)
	if err != nil {
		t.Fatal(err)
	}
	ks2, err := Split(k, 5)
	if err != nil {
		t.Fatal(err)
	}
	for i := range ks1 {
		if ks1[i] != ks2[i] {
			t.Fatalf("split is not deterministic at %d: %v vs %v", i, ks1[i], ks2[i])
		}
		for j := i + 1; j < len(ks1); j++ {
			if ks1[i] == ks1[j] {
				t.Fatalf("subkeys %d and %d collide: %v", i, j, ks1[i])
			}
		}
	}
	if _, err := Split(k, 0); err == nil {
		t.Fatal("split(k, 0) should be rejected")
	}
}

func TestUniformRangeAndDeterminism(t *testing.T) {
	dev := testDevice(t)
	ctx := context.Background()
	k := NewKey(7)
	a, err := Uniform(ctx, k, dev, dtype.F32, []int{100})
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range got {
		if v < 0 || v >= 1 {
			t.Errorf("[%d] = %v outside [0,1)", i, v)
		}
	}

	b, err := Uniform(ctx, k, dev, dtype.F32, []int{100})
	if err != nil {
		t.Fatal(err)
	}
	again, err := b.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i := range got {
		if got[i] != again[i] {
			t.Fatalf("same key produced different streams at %d: %v vs %v", i, got[i], again[i])
		}
	}
}

// TestSplitUniformMatchesPerKeyDraws checks determinism at the generator
// level: drawing again under each split subkey must reproduce the first
// draw exactly, element for element.
func TestSplitUniformMatchesPerKeyDraws(t *testing.T) {
	dev := testDevice(t)
	ctx := context.Background()
	ks, err := Split(NewKey(1234), 5)
	if err != nil {
		t.Fatal(err)
	}
	var flat []float64
	for _, ki := range ks {
		a, err := Uniform(ctx, ki, dev, dtype.F32, []int{100})
		if err != nil {
			t.Fatal(err)
		}
		d, err := a.Data(ctx)
		if err != nil {
			t.Fatal(err)
		}
		flat = append(flat, d...)
	}
	for i, ki := range ks {
		a, err := Uniform(ctx, ki, dev, dtype.F32, []int{100})
		if err != nil {
			t.Fatal(err)
		}
		d, err := a.Data(ctx)
		if err != nil {
			t.Fatal(err)
		}
		for j, v := range d {
			if flat[i*100+j] != v {
				t.Fatalf("row %d element %d: %v vs %v", i, j, flat[i*100+j], v)
			}
		}
	}
}

func TestNormalFinite(t *testing.T) {
	dev := testDevice(t)
	ctx := context.Background()
	a, err := Normal(ctx, NewKey(99), dev, dtype.F32, []int{1000})
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var mean float64
	for _, v := range got {
		if v != v {
			t.Fatal("normal produced NaN")
		}
		mean += v
	}
	mean /= float64(len(got))
	if mean < -0.2 || mean > 0.2 {
		t.Errorf("sample mean %v too far from 0 for n=1000", mean)
	}
}

func TestBernoulliRespectsProbabilityEdges(t *testing.T) {
	dev := testDevice(t)
	ctx := context.Background()
	k := NewKey(5)
	all, err := Bernoulli(ctx, k, dev, 1.0, []int{64})
	if err != nil {
		t.Fatal(err)
	}
	d, err := all.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range d {
		if v != 1 {
			t.Errorf("p=1 draw [%d] = %v, want 1", i, v)
		}
	}
	none, err := Bernoulli(ctx, k, dev, 0.0, []int{64})
	if err != nil {
		t.Fatal(err)
	}
	d, err = none.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range d {
		if v != 0 {
			t.Errorf("p=0 draw [%d] = %v, want 0", i, v)
		}
	}
	if _, err := Bernoulli(ctx, k, dev, 1.5, []int{4}); err == nil {
		t.Fatal("p=1.5 should be rejected")
	}
}

func TestCategoricalPicksDominantClass(t *testing.T) {
	dev := testDevice(t)
	ctx := context.Background()
	// One class is overwhelmingly more likely; Gumbel noise is bounded in
	// practice well below a 50-logit gap.
	logits, err := frontend.NewFromData(ctx, dev, dtype.F32, []int{3, 4}, []float64{
		50, 0, 0, 0,
		0, 0, 50, 0,
		0, 0, 0, 50,
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Categorical(ctx, NewKey(11), logits)
	if err != nil {
		t.Fatal(err)
	}
	d, err := got.Data(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{0, 2, 3}
	for i := range want {
		if d[i] != want[i] {
			t.Errorf("row %d sampled %v, want %v", i, d[i], want[i])
		}
	}
}
