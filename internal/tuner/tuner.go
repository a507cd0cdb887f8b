// Package tuner implements the kernel lowering and tuning pass: it
// resolves alu.OpGlobalView nodes into concrete buffer reads via
// their shape tracker, and for the GPU target it additionally chooses
// upcast/unroll/group factors to improve memory coalescing and reduce
// memory stalls. Tuning never changes numerical semantics — only the
// scheduling plan (Dims/ThreadCount) a backend's codegen consults to
// decide how to tile the dispatch.
package tuner

import (
	"sort"

	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// Dims records the tuner's chosen tiling factors. Reduce, Unroll and
// Groups tile the reduction axis: Reduce*Unroll*Groups always equals the
// kernel's original reduction size (or 1,1,1 if the kernel has no
// reduction). Upcast tiles the output axis independently and has no
// relationship to the reduction size.
type Dims struct {
	Groups int
	Reduce int
	Unroll int
	Upcast int
}

// Plan is the tuner's output: a GlobalView-free ALU expression plus the
// scheduling metadata a backend's codegen uses to tile the dispatch.
type Plan struct {
	Exp         *alu.Exp
	Reduction   *kernel.Reduction
	ThreadCount int
	Dims        Dims
	OutputShape []int
	UpcastAxis  int // -1 if no axis was upcast
}

// lowerGlobalViews rewrites every alu.OpGlobalView node into a masked
// alu.OpGlobalIndex read, `where(valid, globalIndex(gid, offset), 0)`:
// the shape tracker supplies the offset and validity mask, and a
// masked-out read yields the identity value 0.
func lowerGlobalViews(e *alu.Exp) *alu.Exp {
	return e.Rewrite(func(n *alu.Exp) *alu.Exp {
		if n.Op != alu.OpGlobalView {
			return nil
		}
		gv := n.Arg.(alu.GlobalViewArg)
		offset, valid := gv.Tracker.ToAluExp(n.Src)
		read := alu.GlobalIndex(n.Dtype, gv.Gid, alu.Cast(dtype.I32, offset))
		return alu.Where(valid, read, alu.Const(n.Dtype, 0))
	})
}

// Null builds the baseline lowering: GlobalView resolution only, no
// upcast/unroll/group tiling. Used by the reference backend and as the
// GPU tuner's fallback when preconditions for tiling don't hold.
func Null(k *kernel.Kernel) *Plan {
	exp := lowerGlobalViews(k.Exp).Simplify()
	dims := Dims{Groups: 1, Reduce: 1, Unroll: 1, Upcast: 1}
	if k.Reduction != nil {
		dims.Reduce = k.Reduction.Size
	}
	return &Plan{
		Exp:         exp,
		Reduction:   k.Reduction,
		ThreadCount: k.Size,
		Dims:        dims,
		UpcastAxis:  -1,
	}
}

// globalViewShapes returns, for every OpGlobalView node read by exp, its
// tracker's logical shape and last-view strides.
func globalViewShapes(exp *alu.Exp) []struct {
	shape   []int
	strides []int
} {
	nodes := exp.Collect(func(n *alu.Exp) bool { return n.Op == alu.OpGlobalView })
	out := make([]struct {
		shape   []int
		strides []int
	}, 0, len(nodes))
	for _, n := range nodes {
		gv := n.Arg.(alu.GlobalViewArg)
		out = append(out, struct {
			shape   []int
			strides []int
		}{shape: gv.Tracker.Shape(), strides: lastStrides(gv.Tracker)})
	}
	return out
}

type stridesProvider interface{ LastStrides() []int }

func lastStrides(t interface{ Shape() []int }) []int {
	if sp, ok := t.(stridesProvider); ok {
		return sp.LastStrides()
	}
	shape := t.Shape()
	out := make([]int, len(shape))
	return out
}

func shapesEqual(a, b []int) bool {
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

// GPU computes the tiled plan for the GPU backend.
// outShape is the kernel's logical (pre-flatten) output shape — the
// dimensions alu.Gidx was unravelled across when the kernel's expression
// was built via kernel.OutputIndexVars.
func GPU(k *kernel.Kernel, outShape []int) *Plan {
	views := globalViewShapes(k.Exp)
	for _, v := range views {
		if !shapesEqual(v.shape, outShape) {
			return Null(k) // precondition fails: fall back to the null path
		}
	}

	upcastAxis, upcastFactor := chooseUpcast(outShape, views)

	unroll := 1
	group := 1
	reduce := 1
	if k.Reduction != nil {
		reduce, unroll, group = chooseReductionTiling(k.Reduction.Size, outShape, upcastFactor)
	}

	exp := lowerGlobalViews(k.Exp).Simplify()
	threadCount := k.Size
	if upcastFactor > 1 {
		threadCount = k.Size / upcastFactor
	}
	threadCount *= group

	return &Plan{
		Exp:         exp,
		Reduction:   k.Reduction,
		ThreadCount: threadCount,
		Dims:        Dims{Groups: group, Reduce: reduce, Unroll: unroll, Upcast: upcastFactor},
		OutputShape: append([]int(nil), outShape...),
		UpcastAxis:  upcastAxis,
	}
}

type upcastCandidate struct {
	axis          int
	factor        int
	nonzeroStride int
	strideSum     int
}

// chooseUpcast repeatedly picks the best (axis, factor) pair — an axis
// some input broadcasts along (stride 0) whose size divides evenly by 3 or
// 4 — until the remaining non-upcast output volume drops below 1024 or no
// candidate remains. Ties break ascending by
// (nonzeroStrideCount, strideSum, axis, factor).
func chooseUpcast(outShape []int, views []struct {
	shape   []int
	strides []int
}) (axis, totalFactor int) {
	axis = -1
	totalFactor = 1
	remaining := append([]int(nil), outShape...)
	volume := func() int {
		v := 1
		for _, d := range remaining {
			v *= d
		}
		return v
	}
	for volume() >= 1024 {
		var candidates []upcastCandidate
		for a, dim := range remaining {
			if dim <= 1 {
				continue
			}
			for _, factor := range []int{4, 3} {
				if dim%factor != 0 {
					continue
				}
				nz, sum := 0, 0
				broadcast := false
				for _, v := range views {
					if a >= len(v.strides) {
						continue
					}
					if v.strides[a] == 0 {
						broadcast = true
						continue
					}
					nz++
					sum += v.strides[a]
				}
				if !broadcast {
					continue
				}
				candidates = append(candidates, upcastCandidate{axis: a, factor: factor, nonzeroStride: nz, strideSum: sum})
			}
		}
		if len(candidates) == 0 {
			break
		}
		sort.Slice(candidates, func(i, j int) bool {
			ci, cj := candidates[i], candidates[j]
			if ci.nonzeroStride != cj.nonzeroStride {
				return ci.nonzeroStride < cj.nonzeroStride
			}
			if ci.strideSum != cj.strideSum {
				return ci.strideSum < cj.strideSum
			}
			if ci.axis != cj.axis {
				return ci.axis < cj.axis
			}
			return ci.factor < cj.factor
		})
		best := candidates[0]
		if axis == -1 {
			axis = best.axis
		} else if axis != best.axis {
			// only ever tile a single axis in this implementation
			break
		}
		remaining[best.axis] /= best.factor
		totalFactor *= best.factor
	}
	if totalFactor == 1 {
		axis = -1
	}
	return axis, totalFactor
}

// chooseReductionTiling decides unroll/group for a reduction of the given
// size. Small reductions fully unroll; long reductions with low output
// parallelism after upcast get grouped cooperative threads. The return
// values always satisfy reduce*unroll*group == size.
func chooseReductionTiling(size int, outShape []int, upcastFactor int) (reduce, unroll, group int) {
	unroll = 1
	for _, f := range []int{8, 4, 2} {
		if size%f == 0 && f <= 8 {
			unroll = f
			break
		}
	}
	outputParallelism := 1
	for _, d := range outShape {
		outputParallelism *= d
	}
	if upcastFactor > 0 {
		outputParallelism /= upcastFactor
	}

	group = 1
	afterUnroll := size / unroll
	if afterUnroll >= 64 && outputParallelism < 1024 {
		for _, g := range []int{8, 4, 2} {
			if afterUnroll%g == 0 {
				group = g
				break
			}
		}
	}

	reduce = size / (unroll * group)
	if reduce*unroll*group != size {
		// unreachable: unroll divides size and group divides size/unroll
		panic(errors.Usage("tuner", "reduction tiling failed postcondition: %d*%d*%d != %d", reduce, unroll, group, size))
	}
	return reduce, unroll, group
}
