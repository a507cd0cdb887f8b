package gpubackend

import (
	"lax/internal/alu"
	"lax/internal/tuner"
)

// rowMajorStrides returns the row-major strides for shape, matching
// kernel.OutputIndexVars' unravelling so a (re-)ravelled index lands on the
// same flat gidx the kernel's expression tree was built to read.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func unravel(flat int, shape, strides []int) []int {
	coords := make([]int, len(shape))
	for i, s := range strides {
		coords[i] = (flat / s) % shape[i]
	}
	return coords
}

func ravel(coords, strides []int) int {
	idx := 0
	for i, c := range coords {
		idx += c * strides[i]
	}
	return idx
}

// replayTuned evaluates plan against read, writing one value per output
// element into out. When the plan carries no upcast axis it is numerically
// identical to evalOne run over every gidx (the Null-equivalent path); when
// it does, replayTuned fans each physical thread out across Dims.Upcast
// adjacent coordinates along UpcastAxis and folds the reduction axis in
// Dims.Groups chunks of Dims.Reduce*Dims.Unroll elements, combining the
// per-group partial folds with the reduction's associative op — the same
// decomposition a real compute shader would schedule across cooperating
// threads, deterministically replayed in-process.
func replayTuned(plan *tuner.Plan, read alu.GlobalReader, out []float64) {
	if plan.OutputShape == nil || plan.UpcastAxis < 0 || plan.Dims.Upcast <= 1 {
		for gidx := range out {
			out[gidx] = evalGrouped(plan, int64(gidx), read)
		}
		return
	}

	shape := plan.OutputShape
	axis := plan.UpcastAxis
	factor := plan.Dims.Upcast
	strides := rowMajorStrides(shape)

	reduced := append([]int(nil), shape...)
	reduced[axis] /= factor
	reducedStrides := rowMajorStrides(reduced)

	outerCount := 1
	for _, d := range reduced {
		outerCount *= d
	}

	for outer := 0; outer < outerCount; outer++ {
		coords := unravel(outer, reduced, reducedStrides)
		base := coords[axis] * factor
		for u := 0; u < factor; u++ {
			coords[axis] = base + u
			gidx := ravel(coords, strides)
			out[gidx] = evalGrouped(plan, int64(gidx), read)
		}
	}
}

// evalGrouped folds the reduction axis in Dims.Groups chunks instead of one
// straight pass, the way a cooperative-group GPU dispatch would.
func evalGrouped(plan *tuner.Plan, gidx int64, read alu.GlobalReader) float64 {
	if plan.Reduction == nil {
		return plan.Exp.Evaluate(alu.Vars{Gidx: gidx}, read)
	}
	groups := plan.Dims.Groups
	if groups <= 1 {
		return evalOne(plan, gidx, read)
	}
	chunk := plan.Dims.Reduce * plan.Dims.Unroll
	op := plan.Reduction.Op
	acc := op.Identity()
	for group := 0; group < groups; group++ {
		start := group * chunk
		partial := op.Identity()
		for i := 0; i < chunk; i++ {
			ridx := int64(start + i)
			v := plan.Exp.Evaluate(alu.Vars{Gidx: gidx, Ridx: ridx}, read)
			partial = op.Apply(partial, v)
		}
		acc = op.Apply(acc, partial)
	}
	if plan.Reduction.Fusion != nil {
		acc = plan.Reduction.Fusion.Evaluate(alu.Vars{Gidx: gidx, Acc: acc}, read)
	}
	return acc
}
