// Package rng implements the counter-based PRNG surface: an
// explicit u32x2 key, key splitting, and the uniform/normal/bernoulli/
// categorical samplers, all derived from Threefry-2x32.
//
// Generation runs host-side: a counter-based generator is a pure function
// of (key, counter), so producing the words on the host and uploading them
// once yields bit-identical streams on every backend without needing u32
// rotate/xor ops in the ALU IR.
package rng

import (
	"context"
	"math"
	"math/bits"

	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/frontend"
)

// Key is the explicit PRNG state: two 32-bit words, never advanced in
// place — new streams come only from Split.
type Key struct {
	Hi, Lo uint32
}

// NewKey builds a key from a 64-bit seed, high word first.
func NewKey(seed uint64) Key {
	return Key{Hi: uint32(seed >> 32), Lo: uint32(seed)}
}

// threefry rotation constants for the 2x32 variant, alternating between
// the two sets per four-round block.
var threefryRot = [2][4]uint32{
	{13, 15, 26, 6},
	{17, 29, 16, 24},
}

const threefryParity = 0x1BD11BDA

// Threefry2x32 runs the 20-round (five four-round blocks) Threefry-2x32
// block cipher on one counter pair. Threefry2x32(Key{0,0}, 0, 0) ==
// (1797259609, 2579123966).
func Threefry2x32(k Key, c0, c1 uint32) (uint32, uint32) {
	ks := [3]uint32{k.Hi, k.Lo, k.Hi ^ k.Lo ^ threefryParity}
	x0 := c0 + ks[0]
	x1 := c1 + ks[1]
	for block := 0; block < 5; block++ {
		rot := threefryRot[block%2]
		for _, r := range rot {
			x0 += x1
			x1 = bits.RotateLeft32(x1, int(r))
			x1 ^= x0
		}
		x0 += ks[(block+1)%3]
		x1 += ks[(block+2)%3] + uint32(block) + 1
	}
	return x0, x1
}

// randomWords generates n words by running the cipher over counters
// (0,0), (0,1), … and taking both output words per invocation.
func randomWords(k Key, n int) []uint32 {
	out := make([]uint32, 0, n+1)
	for i := 0; len(out) < n; i++ {
		a, b := Threefry2x32(k, 0, uint32(i))
		out = append(out, a, b)
	}
	return out[:n]
}

// Split derives n statistically independent subkeys from k. Each subkey
// is one cipher invocation's output pair, so splitting never aliases the
// stream Uniform/Normal draw from: samplers consume counters under the
// key itself, subkeys are fresh keys.
func Split(k Key, n int) ([]Key, error) {
	if n <= 0 {
		return nil, errors.Usage("rng", "split: n must be positive, got %d", n)
	}
	out := make([]Key, n)
	for i := range out {
		hi, lo := Threefry2x32(k, 1, uint32(i))
		out[i] = Key{Hi: hi, Lo: lo}
	}
	return out, nil
}

func sizeOf(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Usage("rng", "negative dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	return n, nil
}

// uniform01 maps a word to [0, 1) using the top 24 bits, the widest
// mantissa an f32 sample can hold exactly.
func uniform01(w uint32) float64 {
	return float64(w>>8) * (1.0 / (1 << 24))
}

// Uniform samples shape-many values uniformly from [0, 1).
func Uniform(ctx context.Context, k Key, device string, dt dtype.Type, shape []int) (*frontend.Array, error) {
	if !dt.IsFloat() {
		return nil, errors.Usage("rng", "uniform: dtype must be floating, got %v", dt)
	}
	n, err := sizeOf(shape)
	if err != nil {
		return nil, err
	}
	words := randomWords(k, n)
	data := make([]float64, n)
	for i, w := range words {
		data[i] = uniform01(w)
	}
	return frontend.NewFromData(ctx, device, dt, shape, data)
}

// Normal samples shape-many standard normals via Box-Muller over pairs of
// uniform words.
func Normal(ctx context.Context, k Key, device string, dt dtype.Type, shape []int) (*frontend.Array, error) {
	if !dt.IsFloat() {
		return nil, errors.Usage("rng", "normal: dtype must be floating, got %v", dt)
	}
	n, err := sizeOf(shape)
	if err != nil {
		return nil, err
	}
	words := randomWords(k, 2*n)
	data := make([]float64, n)
	for i := 0; i < n; i++ {
		// Nudge u1 away from zero so log stays finite.
		u1 := uniform01(words[2*i]) + 0x1p-25
		u2 := uniform01(words[2*i+1])
		data[i] = math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	}
	return frontend.NewFromData(ctx, device, dt, shape, data)
}

// Bernoulli samples shape-many bool draws with success probability p.
func Bernoulli(ctx context.Context, k Key, device string, p float64, shape []int) (*frontend.Array, error) {
	if p < 0 || p > 1 {
		return nil, errors.Usage("rng", "bernoulli: p must be in [0,1], got %v", p)
	}
	n, err := sizeOf(shape)
	if err != nil {
		return nil, err
	}
	words := randomWords(k, n)
	data := make([]float64, n)
	for i, w := range words {
		if uniform01(w) < p {
			data[i] = 1
		}
	}
	return frontend.NewFromData(ctx, device, dtype.Bool, shape, data)
}

// Categorical draws one index per row of logits (shape [..., k]) via the
// Gumbel-max trick: argmax over logits + Gumbel noise. The logits array is
// realized and sampled host-side, the same way the routines package treats
// its non-fusible operations.
func Categorical(ctx context.Context, k Key, logits *frontend.Array) (*frontend.Array, error) {
	if len(logits.Shape) == 0 {
		return nil, errors.Usage("rng", "categorical: logits must have at least one axis")
	}
	classes := logits.Shape[len(logits.Shape)-1]
	if classes == 0 {
		return nil, errors.Usage("rng", "categorical: empty class axis")
	}
	data, err := logits.Data(ctx)
	if err != nil {
		return nil, err
	}
	rows := len(data) / classes
	words := randomWords(k, len(data))
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		best := math.Inf(-1)
		arg := 0
		for c := 0; c < classes; c++ {
			u := uniform01(words[r*classes+c]) + 0x1p-25
			g := -math.Log(-math.Log(u))
			if v := data[r*classes+c] + g; v > best {
				best = v
				arg = c
			}
		}
		out[r] = float64(arg)
	}
	outShape := append([]int(nil), logits.Shape[:len(logits.Shape)-1]...)
	return frontend.NewFromData(ctx, logits.Device, dtype.I32, outShape, out)
}
