package frontend

import (
	"context"

	"lax/internal/errors"
	"lax/internal/shapetracker"
)

// Reshape changes the logical shape. A symbolic (lazy) array's recipe
// is a pure function of the flat output index, so reshaping it to a
// size-compatible shape needs no new work — row-major flat order is
// invariant under reshape. A buffer-backed array delegates to its shape
// tracker, which may push a new view rather than mutate in place when the
// collapsed dimensions aren't contiguous.
func (a *Array) Reshape(ctx context.Context, newShape []int) (*Array, error) {
	if a.IsLazy() {
		if size(newShape) != size(a.Shape) {
			return nil, errors.Usage("frontend", "reshape: size mismatch %v -> %v", a.Shape, newShape)
		}
		return lazyWithSrcs(a.Device, a.DType, newShape, a.exp, a.srcs), nil
	}
	nt := a.tracker.Reshape(newShape)
	return &Array{
		Shape:   nt.Shape(),
		DType:   a.DType,
		Device:  a.Device,
		tracker: nt,
		buf:     a.buf,
		pending: a.pending,
	}, nil
}

// Transpose is a zero-cost permutation
// of the shape tracker's top view. Symbolic arrays are realized first,
// since permutation changes which flat index maps to which logical
// coordinate — something a pure function of the flat gidx can't express.
func (a *Array) Transpose(ctx context.Context, axes []int) (*Array, error) {
	r := a
	if a.IsLazy() {
		realized, err := a.Realize(ctx)
		if err != nil {
			return nil, err
		}
		r = realized
	}
	nt := r.tracker.Permute(axes)
	return &Array{
		Shape:   nt.Shape(),
		DType:   r.DType,
		Device:  r.Device,
		tracker: nt,
		buf:     r.buf,
		pending: r.pending,
	}, nil
}

// MoveAxis moves the axis at src to dst, shifting the others over — a
// Transpose with the permutation spelled out.
func (a *Array) MoveAxis(ctx context.Context, src, dst int) (*Array, error) {
	rank := len(a.Shape)
	if src < 0 {
		src += rank
	}
	if dst < 0 {
		dst += rank
	}
	if src < 0 || src >= rank || dst < 0 || dst >= rank {
		return nil, errors.Usage("frontend", "moveaxis: axes (%d, %d) out of bounds for rank %d", src, dst, rank)
	}
	axes := make([]int, 0, rank)
	for i := 0; i < rank; i++ {
		if i != src {
			axes = append(axes, i)
		}
	}
	axes = append(axes[:dst], append([]int{src}, axes[dst:]...)...)
	return a.Transpose(ctx, axes)
}

// viewRewrite applies a zero-cost shape-tracker rewrite to a, realizing a
// symbolic recipe first the way Transpose does.
func (a *Array) viewRewrite(ctx context.Context, f func(t *shapetracker.Tracker) *shapetracker.Tracker) (*Array, error) {
	r := a
	if a.IsLazy() {
		realized, err := a.Realize(ctx)
		if err != nil {
			return nil, err
		}
		r = realized
	}
	nt := f(r.tracker)
	return &Array{
		Shape:   nt.Shape(),
		DType:   r.DType,
		Device:  r.Device,
		tracker: nt,
		buf:     r.buf,
		pending: r.pending,
	}, nil
}

// Flip reverses the listed axes.
func (a *Array) Flip(ctx context.Context, axes []int) (*Array, error) {
	mask := make([]bool, len(a.Shape))
	for _, ax := range axes {
		if ax < 0 {
			ax += len(a.Shape)
		}
		if ax < 0 || ax >= len(a.Shape) {
			return nil, errors.Usage("frontend", "flip: axis out of bounds for rank %d", len(a.Shape))
		}
		mask[ax] = true
	}
	return a.viewRewrite(ctx, func(t *shapetracker.Tracker) *shapetracker.Tracker {
		return t.Flip(mask)
	})
}

// Slice takes the half-open range [starts, stops) per axis with optional
// non-unit steps.
func (a *Array) Slice(ctx context.Context, starts, stops, steps []int) (*Array, error) {
	if len(starts) != len(a.Shape) || len(stops) != len(a.Shape) {
		return nil, errors.Usage("frontend", "slice: want %d bounds, got %d/%d", len(a.Shape), len(starts), len(stops))
	}
	for i := range starts {
		step := 1
		if steps != nil {
			step = steps[i]
		}
		if step == 0 {
			return nil, errors.Usage("frontend", "slice: step must be nonzero on axis %d", i)
		}
		if starts[i] < 0 || stops[i] > a.Shape[i] || starts[i] > stops[i] {
			return nil, errors.Usage("frontend", "slice: bounds [%d,%d) invalid for axis %d of size %d", starts[i], stops[i], i, a.Shape[i])
		}
	}
	return a.viewRewrite(ctx, func(t *shapetracker.Tracker) *shapetracker.Tracker {
		return t.Slice(starts, stops, steps)
	})
}

// Pad surrounds each axis with widths[i] zeros before and after; the pad
// view's mask makes out-of-range reads yield the identity value.
func (a *Array) Pad(ctx context.Context, widths [][2]int) (*Array, error) {
	if len(widths) != len(a.Shape) {
		return nil, errors.Usage("frontend", "pad: want %d width pairs, got %d", len(a.Shape), len(widths))
	}
	for i, w := range widths {
		if w[0] < 0 || w[1] < 0 {
			return nil, errors.Usage("frontend", "pad: negative width on axis %d", i)
		}
	}
	return a.viewRewrite(ctx, func(t *shapetracker.Tracker) *shapetracker.Tracker {
		return t.Pad(widths)
	})
}

// BroadcastTo broadcasts a to shape: the shapes
// are right-aligned, missing leading axes are inserted as size 1, and
// size-1 axes expand stride-0 to the target size.
func (a *Array) BroadcastTo(ctx context.Context, shape []int) (*Array, error) {
	if len(shape) < len(a.Shape) {
		return nil, errors.Usage("frontend", "broadcast_to: target rank %d below input rank %d", len(shape), len(a.Shape))
	}
	aligned := make([]int, len(shape))
	for i := range aligned {
		aligned[i] = 1
	}
	copy(aligned[len(shape)-len(a.Shape):], a.Shape)
	for i, d := range aligned {
		if d != 1 && d != shape[i] {
			return nil, errors.Usage("frontend", "broadcast_to: cannot broadcast %v to %v", a.Shape, shape)
		}
	}
	r, err := a.Reshape(ctx, aligned)
	if err != nil {
		return nil, err
	}
	if r.IsLazy() {
		r, err = r.Realize(ctx)
		if err != nil {
			return nil, err
		}
	}
	nt := r.tracker.Expand(shape)
	return &Array{
		Shape:   nt.Shape(),
		DType:   r.DType,
		Device:  r.Device,
		tracker: nt,
		buf:     r.buf,
		pending: r.pending,
	}, nil
}

// BroadcastInDim inserts a size-1 axis at axis and expands it to shape —
// the movement op reduce_sum's reverse-mode transpose needs to replay a
// cotangent back across the axis it summed out. Forces realization first,
// for the same reason Transpose does: a broadcast changes which flat
// index maps to which logical coordinate.
func (a *Array) BroadcastInDim(ctx context.Context, shape []int, axis int) (*Array, error) {
	withAxis := make([]int, 0, len(a.Shape)+1)
	withAxis = append(withAxis, a.Shape[:axis]...)
	withAxis = append(withAxis, 1)
	withAxis = append(withAxis, a.Shape[axis:]...)
	r, err := a.Reshape(ctx, withAxis)
	if err != nil {
		return nil, err
	}
	if r.IsLazy() {
		r, err = r.Realize(ctx)
		if err != nil {
			return nil, err
		}
	}
	nt := r.tracker.Expand(shape)
	return &Array{
		Shape:   nt.Shape(),
		DType:   r.DType,
		Device:  r.Device,
		tracker: nt,
		buf:     r.buf,
		pending: r.pending,
	}, nil
}
