package frontend

import (
	"context"

	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// rowMajorStrides mirrors the tracker's canonical stride computation for
// kernels that index realized contiguous inputs directly.
func rowMajorStrides(shape []int) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	return strides
}

func linearFromCoords(coords []*alu.Exp, strides []int) *alu.Exp {
	linear := alu.Const(dtype.I32, 0)
	for i, c := range coords {
		linear = alu.Add(linear, alu.Mul(c, alu.Const(dtype.I32, float64(strides[i]))))
	}
	return linear
}

// clampI32 bounds an index expression to [0, limit-1]. Selection kernels
// evaluate both Where branches, so the not-taken branch's read must still
// land inside its buffer.
func clampI32(x *alu.Exp, limit int) *alu.Exp {
	return alu.Max(alu.Const(dtype.I32, 0), alu.Min(x, alu.Const(dtype.I32, float64(limit-1))))
}

// Concatenate joins arrays along axis. Lowered to a
// single kernel whose expression selects, per output index, which input's
// element to read — a Where chain over the axis coordinate.
func Concatenate(ctx context.Context, axis int, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, errors.Usage("frontend", "concatenate: need at least one array")
	}
	first := arrays[0]
	rank := len(first.Shape)
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.Usage("frontend", "concatenate: axis %d out of bounds for rank %d", axis, rank)
	}
	axisTotal := 0
	for _, a := range arrays {
		if len(a.Shape) != rank {
			return nil, errors.Usage("frontend", "concatenate: rank mismatch %d vs %d", len(a.Shape), rank)
		}
		if a.DType != first.DType {
			return nil, errors.Usage("frontend", "concatenate: dtype mismatch %v vs %v", a.DType, first.DType)
		}
		for i, d := range a.Shape {
			if i != axis && d != first.Shape[i] {
				return nil, errors.Usage("frontend", "concatenate: shape mismatch on axis %d: %v vs %v", i, a.Shape, first.Shape)
			}
		}
		axisTotal += a.Shape[axis]
	}

	realized := make([]*Array, len(arrays))
	for i, a := range arrays {
		r, err := realizeContiguous(ctx, a)
		if err != nil {
			return nil, err
		}
		realized[i] = r
	}

	outShape := append([]int(nil), first.Shape...)
	outShape[axis] = axisTotal
	n := size(outShape)
	coords := kernel.OutputIndexVars(outShape, n)

	readAt := func(gid int, in *Array, offset int) *alu.Exp {
		strides := rowMajorStrides(in.Shape)
		inCoords := make([]*alu.Exp, rank)
		for i := range coords {
			if i == axis {
				shifted := alu.Sub(coords[i], alu.Const(dtype.I32, float64(offset)))
				inCoords[i] = clampI32(shifted, in.Shape[axis])
			} else {
				inCoords[i] = coords[i]
			}
		}
		return alu.GlobalIndex(in.DType, gid, linearFromCoords(inCoords, strides))
	}

	offset := axisTotal - realized[len(realized)-1].Shape[axis]
	exp := readAt(len(realized)-1, realized[len(realized)-1], offset)
	for i := len(realized) - 2; i >= 0; i-- {
		offset -= realized[i].Shape[axis]
		bound := offset + realized[i].Shape[axis]
		cond := alu.Lt(coords[axis], alu.Const(dtype.I32, float64(bound)))
		exp = alu.Where(cond, readAt(i, realized[i], offset), exp)
	}

	k := &kernel.Kernel{NumInputs: len(realized), Size: n, Exp: exp}
	return scheduleKernel(ctx, first.DType, outShape, k, realized)
}

// Stack joins arrays of identical shape along a fresh axis.
func Stack(ctx context.Context, axis int, arrays ...*Array) (*Array, error) {
	if len(arrays) == 0 {
		return nil, errors.Usage("frontend", "stack: need at least one array")
	}
	rank := len(arrays[0].Shape) + 1
	if axis < 0 {
		axis += rank
	}
	if axis < 0 || axis >= rank {
		return nil, errors.Usage("frontend", "stack: axis %d out of bounds for result rank %d", axis, rank)
	}
	expanded := make([]*Array, len(arrays))
	for i, a := range arrays {
		if !sameShape(a.Shape, arrays[0].Shape) {
			return nil, errors.Usage("frontend", "stack: shape mismatch %v vs %v", a.Shape, arrays[0].Shape)
		}
		withAxis := make([]int, 0, rank)
		withAxis = append(withAxis, a.Shape[:axis]...)
		withAxis = append(withAxis, 1)
		withAxis = append(withAxis, a.Shape[axis:]...)
		r, err := a.Reshape(ctx, withAxis)
		if err != nil {
			return nil, err
		}
		expanded[i] = r
	}
	return Concatenate(ctx, axis, expanded...)
}

// Tile repeats a whole-array reps[i] times along each axis:
// out[c] = in[c mod shape] element-wise on the coordinate vector.
func Tile(ctx context.Context, a *Array, reps []int) (*Array, error) {
	if len(reps) != len(a.Shape) {
		return nil, errors.Usage("frontend", "tile: want %d reps, got %d", len(a.Shape), len(reps))
	}
	outShape := make([]int, len(a.Shape))
	for i, rep := range reps {
		if rep <= 0 {
			return nil, errors.Usage("frontend", "tile: reps must be positive, got %d on axis %d", rep, i)
		}
		outShape[i] = a.Shape[i] * rep
	}
	r, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	n := size(outShape)
	coords := kernel.OutputIndexVars(outShape, n)
	strides := rowMajorStrides(r.Shape)
	inCoords := make([]*alu.Exp, len(coords))
	for i, c := range coords {
		inCoords[i] = alu.Mod(c, alu.Const(dtype.I32, float64(r.Shape[i])))
	}
	exp := alu.GlobalIndex(r.DType, 0, linearFromCoords(inCoords, strides))
	k := &kernel.Kernel{NumInputs: 1, Size: n, Exp: exp}
	return scheduleKernel(ctx, r.DType, outShape, k, []*Array{r})
}

// Repeat repeats each element repeats times along axis:
// out coordinate c on the axis reads in coordinate c / repeats.
func Repeat(ctx context.Context, a *Array, repeats, axis int) (*Array, error) {
	if repeats <= 0 {
		return nil, errors.Usage("frontend", "repeat: repeats must be positive, got %d", repeats)
	}
	if axis < 0 {
		axis += len(a.Shape)
	}
	if axis < 0 || axis >= len(a.Shape) {
		return nil, errors.Usage("frontend", "repeat: axis %d out of bounds for rank %d", axis, len(a.Shape))
	}
	r, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	outShape := append([]int(nil), r.Shape...)
	outShape[axis] *= repeats
	n := size(outShape)
	coords := kernel.OutputIndexVars(outShape, n)
	strides := rowMajorStrides(r.Shape)
	inCoords := make([]*alu.Exp, len(coords))
	for i, c := range coords {
		if i == axis {
			inCoords[i] = alu.Idiv(c, alu.Const(dtype.I32, float64(repeats)))
		} else {
			inCoords[i] = c
		}
	}
	exp := alu.GlobalIndex(r.DType, 0, linearFromCoords(inCoords, strides))
	k := &kernel.Kernel{NumInputs: 1, Size: n, Exp: exp}
	return scheduleKernel(ctx, r.DType, outShape, k, []*Array{r})
}
