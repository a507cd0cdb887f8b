package frontend

import (
	"context"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// reduceAxis backs sum/prod/min/max(a, axis, keepdims): it
// forces a into a contiguous buffer, then builds a single Kernel whose
// Reduction folds reduction.size elements per output, fusing the source's
// own recipe directly into the per-(gidx,ridx) expression.
func reduceAxis(ctx context.Context, a *Array, axis int, keepdims bool, op kernel.ReductionOp) (*Array, error) {
	if axis < 0 {
		axis += len(a.Shape)
	}
	if axis < 0 || axis >= len(a.Shape) {
		return nil, errors.Usage("frontend", "reduce: axis %d out of bounds for rank %d", axis, len(a.Shape))
	}
	r, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}

	outShape := make([]int, 0, len(a.Shape))
	for i, d := range a.Shape {
		if i == axis {
			if keepdims {
				outShape = append(outShape, 1)
			}
			continue
		}
		outShape = append(outShape, d)
	}
	if len(outShape) == 0 {
		outShape = []int{1}
	}
	reduceSize := a.Shape[axis]
	n := size(outShape)

	strides := make([]int, len(a.Shape))
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= a.Shape[i]
	}

	outCoords := kernel.OutputIndexVars(nonReducedShape(a.Shape, axis), n)
	ridx := kernel.ReductionIndexVar(reduceSize)

	linear := alu.Const(dtype.I32, 0)
	ci := 0
	for i := range a.Shape {
		var coord *alu.Exp
		if i == axis {
			coord = ridx
		} else {
			coord = outCoords[ci]
			ci++
		}
		linear = alu.Add(linear, alu.Mul(coord, alu.Const(dtype.I32, float64(strides[i]))))
	}
	val := alu.GlobalIndex(r.DType, 0, linear)

	k := &kernel.Kernel{
		NumInputs: 1,
		Size:      n,
		Exp:       val,
		Reduction: &kernel.Reduction{Op: op, Size: reduceSize},
	}
	return scheduleKernel(ctx, r.DType, outShape, k, []*Array{r})
}

func nonReducedShape(shape []int, axis int) []int {
	out := make([]int, 0, len(shape)-1)
	for i, d := range shape {
		if i != axis {
			out = append(out, d)
		}
	}
	return out
}

func Sum(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return reduceAxis(ctx, a, axis, keepdims, kernel.ReduceSum)
}
func Prod(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return reduceAxis(ctx, a, axis, keepdims, kernel.ReduceProd)
}
func Min(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return reduceAxis(ctx, a, axis, keepdims, kernel.ReduceMin)
}
func Max(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return reduceAxis(ctx, a, axis, keepdims, kernel.ReduceMax)
}

// SumAll/MinAll/MaxAll reduce every axis to a scalar, the degenerate case
// reduceAxis's single-axis model handles by first flattening.
func reduceAll(ctx context.Context, a *Array, op kernel.ReductionOp) (*Array, error) {
	flat, err := a.Reshape(ctx, []int{size(a.Shape)})
	if err != nil {
		return nil, err
	}
	return reduceAxis(ctx, flat, 0, false, op)
}

func SumAll(ctx context.Context, a *Array) (*Array, error) { return reduceAll(ctx, a, kernel.ReduceSum) }
func MinAll(ctx context.Context, a *Array) (*Array, error) { return reduceAll(ctx, a, kernel.ReduceMin) }
func MaxAll(ctx context.Context, a *Array) (*Array, error) { return reduceAll(ctx, a, kernel.ReduceMax) }

// Mean reduces via Sum then scales by the reciprocal of the reduced
// count. Integer inputs promote to f32, since an integral mean truncates.
func Mean(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	if axis < 0 {
		axis += len(a.Shape)
	}
	if axis < 0 || axis >= len(a.Shape) {
		return nil, errors.Usage("frontend", "mean: axis %d out of bounds for rank %d", axis, len(a.Shape))
	}
	count := a.Shape[axis]
	s, err := Sum(ctx, a, axis, keepdims)
	if err != nil {
		return nil, err
	}
	dt := s.DType
	if !dt.IsFloat() {
		dt = dtype.F32
	}
	return fuseUnary(ctx, dt, s, func(x *alu.Exp) *alu.Exp {
		if x.Dtype != dt {
			x = alu.Cast(dt, x)
		}
		return alu.Mul(x, alu.Const(dt, 1/float64(count)))
	})
}

// ArgMax/ArgMin resist a pure ALU reduction (the fold needs to carry an
// index alongside a value), so — like the routines package's sort family —
// they realize their input and scan it on the host, the same opaque-to-
// fusion trade the routines make for operations ALU can't express
// directly.
func argExtreme(ctx context.Context, a *Array, axis int, pick func(best, cand float64) bool) (*Array, error) {
	if axis < 0 {
		axis += len(a.Shape)
	}
	if axis < 0 || axis >= len(a.Shape) {
		return nil, errors.Usage("frontend", "arg-reduce: axis %d out of bounds for rank %d", axis, len(a.Shape))
	}
	// Unlike sum/min/max, an arg-reduce has no identity to fall back to
	// over an empty axis.
	if a.Shape[axis] == 0 {
		return nil, errors.Usage("frontend", "arg-reduce: axis %d is empty", axis)
	}
	r, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	be, err := backend.Get(r.Device)
	if err != nil {
		return nil, err
	}
	data, err := be.Read(ctx, r.buf, 0, size(r.Shape))
	if err != nil {
		return nil, err
	}

	strides := make([]int, len(r.Shape))
	acc := 1
	for i := len(r.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= r.Shape[i]
	}
	outShape := nonReducedShape(r.Shape, axis)
	n := size(outShape)
	out := make([]float64, n)
	reduceSize := r.Shape[axis]

	for lin := 0; lin < n; lin++ {
		coords := unravelHost(lin, outShape)
		bestIdx, bestVal := 0, data[linearHost(coords, axis, 0, strides, r.Shape)]
		for k := 1; k < reduceSize; k++ {
			v := data[linearHost(coords, axis, k, strides, r.Shape)]
			if pick(bestVal, v) {
				bestVal, bestIdx = v, k
			}
		}
		out[lin] = float64(bestIdx)
	}
	return NewFromData(ctx, r.Device, dtype.I32, outShape, out)
}

func ArgMax(ctx context.Context, a *Array, axis int) (*Array, error) {
	return argExtreme(ctx, a, axis, func(best, cand float64) bool { return cand > best })
}
func ArgMin(ctx context.Context, a *Array, axis int) (*Array, error) {
	return argExtreme(ctx, a, axis, func(best, cand float64) bool { return cand < best })
}

func unravelHost(lin int, shape []int) []int {
	coords := make([]int, len(shape))
	for i := len(shape) - 1; i >= 0; i-- {
		coords[i] = lin % shape[i]
		lin /= shape[i]
	}
	return coords
}

func linearHost(outerCoords []int, axis, axisVal int, strides, fullShape []int) int {
	lin := 0
	ci := 0
	for i := range fullShape {
		var c int
		if i == axis {
			c = axisVal
		} else {
			c = outerCoords[ci]
			ci++
		}
		lin += c * strides[i]
	}
	return lin
}
