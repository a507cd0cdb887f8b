// Package shapetracker implements the view-stack representation of a
// logical tensor view over a contiguous buffer: a tracker is
// one or more (shape, strides, offset, optional per-axis mask) views,
// closed under reshape/permute/expand/flip/slice/pad/compose.
//
// Every movement op mutates the top (most recently pushed) view's four
// fields in place; only a non-mergeable reshape (and compose) ever pushes a
// new view onto the stack. Multi-view composition works by treating every
// non-bottom view as an affine map onto the flattened index space of the
// view beneath it: its own affine expression yields a flat index which is
// then unravelled (row-major) into the shape of the view below, and the
// walk continues down to the physical (bottom) view.
package shapetracker

import (
	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
)

const idxDtype = dtype.I32

// axisMask restricts axis indices to [Lo, Hi); nil on a View means no axis
// is masked.
type axisMask struct{ Lo, Hi int }

// View is one affine (shape, strides, offset, mask) layer.
type View struct {
	Shape   []int
	Strides []int
	Offset  int
	Mask    []axisMask // nil, or len(Mask) == len(Shape); zero-value axisMask{} means unrestricted on that axis
}

// Tracker is an ordered stack of Views; Views[0] is the physical (bottom)
// view, Views[len-1] is the current logical view users operate on.
type Tracker struct {
	Views []View
}

func canonicalStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func size(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// FromShape returns a tracker with a single contiguous view.
func FromShape(shape []int) *Tracker {
	sh := append([]int(nil), shape...)
	return &Tracker{Views: []View{{Shape: sh, Strides: canonicalStrides(sh), Offset: 0}}}
}

func (t *Tracker) top() *View { return &t.Views[len(t.Views)-1] }

// Shape returns the current logical shape (top view).
func (t *Tracker) Shape() []int { return append([]int(nil), t.top().Shape...) }

// Size returns the total element count of the current logical shape.
func (t *Tracker) Size() int { return size(t.top().Shape) }

// LastStrides returns the strides of the top view, used by the tuner's
// coalescing heuristics.
func (t *Tracker) LastStrides() []int { return append([]int(nil), t.top().Strides...) }

// Contiguous reports whether the tracker is a single contiguous view with
// zero offset and no mask.
func (t *Tracker) Contiguous() bool {
	if len(t.Views) != 1 {
		return false
	}
	v := t.Views[0]
	if v.Offset != 0 || v.Mask != nil {
		return false
	}
	want := canonicalStrides(v.Shape)
	for i := range want {
		if want[i] != v.Strides[i] {
			return false
		}
	}
	return true
}

// Reshape returns a new tracker with the top view reshaped to newShape
// (one dim may be -1, inferred from the total size). If the top view is
// already canonically strided, the reshape mutates it in place; otherwise
// a new view is pushed.
func (t *Tracker) Reshape(newShape []int) *Tracker {
	out := t.clone()
	top := out.top()
	resolved := inferShape(newShape, size(top.Shape))

	mergeable := top.Mask == nil && stridesEqual(top.Strides, canonicalStrides(top.Shape))
	nv := View{Shape: resolved, Strides: canonicalStrides(resolved)}
	if mergeable {
		nv.Offset = top.Offset
		out.Views[len(out.Views)-1] = nv
	} else {
		out.Views = append(out.Views, nv)
	}
	return out
}

func inferShape(newShape []int, total int) []int {
	resolved := append([]int(nil), newShape...)
	infer := -1
	known := 1
	for i, d := range resolved {
		if d == -1 {
			if infer != -1 {
				panic(errors.Usage("shapetracker", "reshape: at most one dimension may be -1"))
			}
			infer = i
			continue
		}
		if d < 0 {
			panic(errors.Usage("shapetracker", "reshape: invalid negative size %d", d))
		}
		known *= d
	}
	if infer >= 0 {
		if known == 0 || total%known != 0 {
			panic(errors.Usage("shapetracker", "reshape: cannot infer dimension for shape %v from size %d", newShape, total))
		}
		resolved[infer] = total / known
	} else if known != total {
		panic(errors.Usage("shapetracker", "reshape: total size mismatch, have %d want %d", total, known))
	}
	return resolved
}

func stridesEqual(a, b []int) bool {
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

// Permute returns a new tracker with the top view's axes permuted.
func (t *Tracker) Permute(axes []int) *Tracker {
	out := t.clone()
	top := out.top()
	if len(axes) != len(top.Shape) {
		panic(errors.Usage("shapetracker", "permute: axes length %d does not match rank %d", len(axes), len(top.Shape)))
	}
	seen := make([]bool, len(axes))
	newShape := make([]int, len(axes))
	newStrides := make([]int, len(axes))
	var newMask []axisMask
	if top.Mask != nil {
		newMask = make([]axisMask, len(axes))
	}
	for i, a := range axes {
		if a < 0 || a >= len(axes) || seen[a] {
			panic(errors.Usage("shapetracker", "permute: axes %v is not a permutation", axes))
		}
		seen[a] = true
		newShape[i] = top.Shape[a]
		newStrides[i] = top.Strides[a]
		if newMask != nil {
			newMask[i] = top.Mask[a]
		}
	}
	top.Shape, top.Strides, top.Mask = newShape, newStrides, newMask
	return out
}

// Expand broadcasts size-1 dims of the top view to newShape by setting
// their stride to 0.
func (t *Tracker) Expand(newShape []int) *Tracker {
	out := t.clone()
	top := out.top()
	if len(newShape) != len(top.Shape) {
		panic(errors.Usage("shapetracker", "expand: rank mismatch %d vs %d", len(newShape), len(top.Shape)))
	}
	newStrides := make([]int, len(newShape))
	var newMask []axisMask
	if top.Mask != nil {
		newMask = append([]axisMask(nil), top.Mask...)
	}
	for i, d := range newShape {
		if d == top.Shape[i] {
			newStrides[i] = top.Strides[i]
			continue
		}
		if top.Shape[i] != 1 {
			panic(errors.Usage("shapetracker", "expand: axis %d has size %d, cannot expand to %d", i, top.Shape[i], d))
		}
		newStrides[i] = 0
		if newMask != nil {
			newMask[i] = axisMask{}
		}
	}
	top.Shape = append([]int(nil), newShape...)
	top.Strides = newStrides
	top.Mask = newMask
	return out
}

// Flip negates the stride of every masked-true axis and adjusts offset so
// the view reads in reverse along that axis.
func (t *Tracker) Flip(mask []bool) *Tracker {
	out := t.clone()
	top := out.top()
	if len(mask) != len(top.Shape) {
		panic(errors.Usage("shapetracker", "flip: mask length %d does not match rank %d", len(mask), len(top.Shape)))
	}
	for i, flip := range mask {
		if !flip {
			continue
		}
		top.Offset += (top.Shape[i] - 1) * top.Strides[i]
		top.Strides[i] = -top.Strides[i]
		if top.Mask != nil {
			m := top.Mask[i]
			if m != (axisMask{}) {
				top.Mask[i] = axisMask{Lo: top.Shape[i] - m.Hi, Hi: top.Shape[i] - m.Lo}
			}
		}
	}
	return out
}

// Slice restricts the top view to [starts[i], stops[i]) along each axis,
// with an optional per-axis step (default 1).
func (t *Tracker) Slice(starts, stops []int, steps []int) *Tracker {
	out := t.clone()
	top := out.top()
	rank := len(top.Shape)
	if len(starts) != rank || len(stops) != rank {
		panic(errors.Usage("shapetracker", "slice: starts/stops length must match rank %d", rank))
	}
	if steps == nil {
		steps = make([]int, rank)
		for i := range steps {
			steps[i] = 1
		}
	}
	newShape := make([]int, rank)
	newStrides := make([]int, rank)
	var newMask []axisMask
	if top.Mask != nil {
		newMask = make([]axisMask, rank)
	}
	for i := 0; i < rank; i++ {
		step := steps[i]
		if step == 0 {
			panic(errors.Usage("shapetracker", "slice: step 0 on axis %d", i))
		}
		start, stop := starts[i], stops[i]
		if start < 0 || stop > top.Shape[i] || start > stop {
			panic(errors.Usage("shapetracker", "slice: invalid range [%d,%d) on axis %d of size %d", start, stop, i, top.Shape[i]))
		}
		span := stop - start
		n := 0
		if span > 0 {
			n = (span + step - 1) / step
		}
		newShape[i] = n
		newStrides[i] = top.Strides[i] * step
		top.Offset += start * top.Strides[i]
		if top.Mask != nil {
			m := top.Mask[i]
			if m == (axisMask{}) {
				newMask[i] = axisMask{}
			} else {
				lo := divCeil(max(m.Lo, start)-start, step)
				hi := divCeil(min(m.Hi, stop)-start, step)
				if hi < lo {
					hi = lo
				}
				newMask[i] = axisMask{Lo: lo, Hi: hi}
			}
		}
	}
	top.Shape = newShape
	top.Strides = newStrides
	top.Mask = newMask
	return out
}

// Pad extends the top view by widths[i] = [before, after] on each axis;
// reads outside the original extent are invalid (the executor substitutes
// the reduction/zero identity).
func (t *Tracker) Pad(widths [][2]int) *Tracker {
	out := t.clone()
	top := out.top()
	rank := len(top.Shape)
	if len(widths) != rank {
		panic(errors.Usage("shapetracker", "pad: widths length must match rank %d", rank))
	}
	newShape := make([]int, rank)
	newMask := make([]axisMask, rank)
	if top.Mask == nil {
		top.Mask = make([]axisMask, rank)
		for i := range top.Mask {
			top.Mask[i] = axisMask{Lo: 0, Hi: top.Shape[i]}
		}
	}
	for i, w := range widths {
		before, after := w[0], w[1]
		if before < 0 || after < 0 {
			panic(errors.Usage("shapetracker", "pad: negative width on axis %d", i))
		}
		newShape[i] = top.Shape[i] + before + after
		top.Offset -= before * top.Strides[i]
		m := top.Mask[i]
		newMask[i] = axisMask{Lo: m.Lo + before, Hi: m.Hi + before}
	}
	top.Shape = newShape
	top.Mask = newMask
	return out
}

// Compose stacks this tracker's views on top of other: other supplies the
// physical (bottom) views, this supplies the logical (top) views.
func (t *Tracker) Compose(other *Tracker) *Tracker {
	views := make([]View, 0, len(other.Views)+len(t.Views))
	views = append(views, cloneViews(other.Views)...)
	views = append(views, cloneViews(t.Views)...)
	return &Tracker{Views: views}
}

func (t *Tracker) clone() *Tracker { return &Tracker{Views: cloneViews(t.Views)} }

func cloneViews(vs []View) []View {
	out := make([]View, len(vs))
	for i, v := range vs {
		out[i] = View{
			Shape:   append([]int(nil), v.Shape...),
			Strides: append([]int(nil), v.Strides...),
			Offset:  v.Offset,
		}
		if v.Mask != nil {
			out[i].Mask = append([]axisMask(nil), v.Mask...)
		}
	}
	return out
}

// PhysicalBound returns the largest linear offset the bottom view can
// yield for an in-range, unmasked index. Backends that lower Where
// eagerly (wasm select, shader select) still compute the not-taken
// branch's read, so masked reads are clamped to [0, PhysicalBound()].
func (t *Tracker) PhysicalBound() int {
	v := t.Views[0]
	bound := v.Offset
	for i, s := range v.Strides {
		if s > 0 {
			bound += (v.Shape[i] - 1) * s
		}
	}
	if bound < 0 {
		return 0
	}
	return bound
}

// ToAluExp lowers a logical multi-index (one *alu.Exp per axis of the top
// view, each integer-typed) to a (linearOffset, valid) pair of ALU
// expressions over the physical buffer.
func (t *Tracker) ToAluExp(indices []*alu.Exp) (*alu.Exp, *alu.Exp) {
	if len(indices) != len(t.top().Shape) {
		panic(errors.Usage("shapetracker", "ToAluExp: index count %d does not match rank %d", len(indices), len(t.top().Shape)))
	}
	cur := indices
	valid := alu.Const(dtype.Bool, 1)
	for vi := len(t.Views) - 1; vi >= 0; vi-- {
		v := t.Views[vi]
		off, vmask := affineExpr(v, cur)
		valid = andExp(valid, vmask)
		if vi == 0 {
			return off, valid
		}
		cur = unravel(off, t.Views[vi-1].Shape)
	}
	panic(errors.Usage("shapetracker", "ToAluExp: tracker has no views"))
}

func affineExpr(v View, indices []*alu.Exp) (*alu.Exp, *alu.Exp) {
	offset := alu.Const(idxDtype, float64(v.Offset))
	valid := alu.Const(dtype.Bool, 1)
	for i, idx := range indices {
		if v.Strides[i] != 0 {
			offset = alu.Add(offset, alu.Mul(idx, alu.Const(idxDtype, float64(v.Strides[i]))))
		}
		if v.Mask != nil {
			m := v.Mask[i]
			if m != (axisMask{}) {
				cond := andExp(
					alu.Ge(idx, alu.Const(idxDtype, float64(m.Lo))),
					alu.Lt(idx, alu.Const(idxDtype, float64(m.Hi))),
				)
				valid = andExp(valid, cond)
			}
		}
	}
	return offset, valid
}

// andExp computes logical AND of two bool-typed ALU expressions. Booleans
// in this IR are 0/1-valued, so multiplication implements AND directly;
// the simplifier collapses the constant-true/false cases.
func andExp(a, b *alu.Exp) *alu.Exp {
	return alu.Mul(a, b)
}

// unravel decomposes a flat row-major index into a per-axis multi-index
// over shape, using a div/mod chain.
func unravel(flat *alu.Exp, shape []int) []*alu.Exp {
	strides := canonicalStrides(shape)
	out := make([]*alu.Exp, len(shape))
	for i, s := range strides {
		div := alu.Idiv(flat, alu.Const(idxDtype, float64(s)))
		out[i] = alu.Mod(div, alu.Const(idxDtype, float64(shape[i])))
	}
	return out
}

func divCeil(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
