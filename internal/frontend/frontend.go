// Package frontend implements the lazy array handle and scheduling layer:
// a handle carries either an ALU expression recipe (still purely symbolic,
// parameterized only by the output index) or a realized buffer, plus a
// shape tracker and the set of pending executables that must run before
// the handle's data can be read. Prepares run concurrently via
// golang.org/x/sync/errgroup; dispatch order stays FIFO per handle.
package frontend

import (
	"context"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/shapetracker"
)

// Array is the frontend's lazy array handle.
//
// Exactly one of (exp != nil) or (!buf.IsZero()) holds at any time: a
// handle is either a pure symbolic recipe over the output index, or it is
// already backed by a device buffer. srcs holds the backing arrays a
// symbolic exp's GlobalIndex/GlobalView nodes read from, aligned by gid.
type Array struct {
	Shape  []int
	DType  dtype.Type
	Device string

	tracker *shapetracker.Tracker

	exp  *alu.Exp
	srcs []*Array

	buf     backend.Handle
	pending []*pendingExec
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a *Array) backend() (backend.Backend, error) { return backend.Get(a.Device) }

// IsLazy reports whether a is still a pure symbolic recipe.
func (a *Array) IsLazy() bool { return a.exp != nil }

// gidxSpecial returns the alu.Gidx special this array's symbolic recipe is
// built over, sized to a's element count.
func gidxSpecial(shape []int) *alu.Exp {
	return alu.Special(dtype.I32, alu.Gidx, int64(size(shape)))
}

// NewFromData eagerly materializes an array from host data: there is no
// symbolic recipe for arbitrary data, so it is realized immediately.
func NewFromData(ctx context.Context, device string, dt dtype.Type, shape []int, data []float64) (*Array, error) {
	n := size(shape)
	if len(data) != n {
		return nil, errors.Usage("frontend", "array: data has %d elements, shape %v wants %d", len(data), shape, n)
	}
	be, err := backend.Get(device)
	if err != nil {
		return nil, err
	}
	h, err := be.Malloc(ctx, dt, n)
	if err != nil {
		return nil, err
	}
	if err := be.Write(ctx, h, data); err != nil {
		return nil, err
	}
	return &Array{
		Shape:   append([]int(nil), shape...),
		DType:   dt,
		Device:  device,
		tracker: shapetracker.FromShape(shape),
		buf:     h,
	}, nil
}

// lazy wraps a pure per-output-index expression (no host data, no backing
// sources) into a symbolic array — the recipe zeros/ones/arange/etc. use so
// that chains of elementwise ops built on them stay fusible until realize.
func lazy(device string, dt dtype.Type, shape []int, exp *alu.Exp) *Array {
	return &Array{
		Shape:  append([]int(nil), shape...),
		DType:  dt,
		Device: device,
		exp:    exp,
	}
}

// Zeros builds the all-zero array for shape/dtype.
func Zeros(device string, dt dtype.Type, shape []int) *Array {
	return Full(device, dt, shape, 0)
}

// Ones builds the all-one array for shape/dtype.
func Ones(device string, dt dtype.Type, shape []int) *Array {
	return Full(device, dt, shape, 1)
}

// Full builds an array of shape/dtype where every element equals v.
func Full(device string, dt dtype.Type, shape []int, v float64) *Array {
	return lazy(device, dt, shape, alu.Const(dt, v))
}

// Arange builds a 1-D array of ⌈(stop-start)/step⌉ values start, start+step, …
func Arange(device string, dt dtype.Type, start, stop, step float64) (*Array, error) {
	if step == 0 {
		return nil, errors.Usage("frontend", "arange: step must be nonzero")
	}
	n := int((stop-start)/step + 0.9999999)
	if n < 0 {
		n = 0
	}
	gidx := gidxSpecial([]int{n})
	exp := alu.Add(alu.Const(dt, start), alu.Mul(alu.Cast(dt, gidx), alu.Const(dt, step)))
	return lazy(device, dt, []int{n}, exp), nil
}

// Linspace builds a 1-D array of num evenly spaced values from start to
// stop inclusive.
func Linspace(device string, dt dtype.Type, start, stop float64, num int) (*Array, error) {
	if num <= 0 {
		return nil, errors.Usage("frontend", "linspace: num must be positive, got %d", num)
	}
	if num == 1 {
		return lazy(device, dt, []int{1}, alu.Const(dt, start)), nil
	}
	gidx := gidxSpecial([]int{num})
	step := (stop - start) / float64(num-1)
	exp := alu.Add(alu.Const(dt, start), alu.Mul(alu.Cast(dt, gidx), alu.Const(dt, step)))
	return lazy(device, dt, []int{num}, exp), nil
}

// Eye builds an n×m identity-like matrix with ones on diagonal k.
func Eye(device string, dt dtype.Type, n, m, k int) *Array {
	if m <= 0 {
		m = n
	}
	shape := []int{n, m}
	gidx := gidxSpecial(shape)
	row := alu.Idiv(gidx, alu.Const(dtype.I32, float64(m)))
	col := alu.Mod(gidx, alu.Const(dtype.I32, float64(m)))
	onDiag := alu.Eq(alu.Add(row, alu.Const(dtype.I32, float64(k))), col)
	exp := alu.Where(onDiag, alu.Const(dt, 1), alu.Const(dt, 0))
	return lazy(device, dt, shape, exp)
}
