package frontend

import (
	"context"

	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// Matmul multiplies a [n,m] by b [m,p] into [n,p]. Lowered as one Kernel
// with a sum Reduction over the shared axis, so it rides the tuner's
// upcast/unroll path like any other reduction.
func Matmul(ctx context.Context, a, b *Array) (*Array, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, errors.Usage("frontend", "matmul: want 2-D operands, got %v x %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, errors.Usage("frontend", "matmul: inner dims differ, %v x %v", a.Shape, b.Shape)
	}
	if a.DType != b.DType {
		return nil, errors.Usage("frontend", "matmul: dtype mismatch %v vs %v", a.DType, b.DType)
	}
	ra, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	rb, err := realizeContiguous(ctx, b)
	if err != nil {
		return nil, err
	}
	n, m, p := a.Shape[0], a.Shape[1], b.Shape[1]
	outShape := []int{n, p}
	outN := n * p
	coords := kernel.OutputIndexVars(outShape, outN)
	ridx := kernel.ReductionIndexVar(m)

	aIdx := alu.Add(alu.Mul(coords[0], alu.Const(dtype.I32, float64(m))), ridx)
	bIdx := alu.Add(alu.Mul(ridx, alu.Const(dtype.I32, float64(p))), coords[1])
	exp := alu.Mul(
		alu.GlobalIndex(ra.DType, 0, aIdx),
		alu.GlobalIndex(rb.DType, 1, bIdx),
	)
	k := &kernel.Kernel{
		NumInputs: 2,
		Size:      outN,
		Exp:       exp,
		Reduction: &kernel.Reduction{Op: kernel.ReduceSum, Size: m},
	}
	return scheduleKernel(ctx, a.DType, outShape, k, []*Array{ra, rb})
}

// Vecdot contracts two equal-length 1-D arrays to a scalar: elementwise
// product fused into a sum Reduction.
func Vecdot(ctx context.Context, a, b *Array) (*Array, error) {
	if len(a.Shape) != 1 || len(b.Shape) != 1 || a.Shape[0] != b.Shape[0] {
		return nil, errors.Usage("frontend", "vecdot: want equal-length vectors, got %v and %v", a.Shape, b.Shape)
	}
	if a.DType != b.DType {
		return nil, errors.Usage("frontend", "vecdot: dtype mismatch %v vs %v", a.DType, b.DType)
	}
	ra, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	rb, err := realizeContiguous(ctx, b)
	if err != nil {
		return nil, err
	}
	m := a.Shape[0]
	ridx := kernel.ReductionIndexVar(m)
	exp := alu.Mul(
		alu.GlobalIndex(ra.DType, 0, ridx),
		alu.GlobalIndex(rb.DType, 1, ridx),
	)
	k := &kernel.Kernel{
		NumInputs: 2,
		Size:      1,
		Exp:       exp,
		Reduction: &kernel.Reduction{Op: kernel.ReduceSum, Size: m},
	}
	return scheduleKernel(ctx, a.DType, []int{1}, k, []*Array{ra, rb})
}

// Dot dispatches on rank the way the numpy-style surface does: vector·
// vector contracts, matrix·matrix multiplies.
func Dot(ctx context.Context, a, b *Array) (*Array, error) {
	switch {
	case len(a.Shape) == 1 && len(b.Shape) == 1:
		return Vecdot(ctx, a, b)
	case len(a.Shape) == 2 && len(b.Shape) == 2:
		return Matmul(ctx, a, b)
	default:
		return nil, errors.Usage("frontend", "dot: unsupported ranks %d and %d", len(a.Shape), len(b.Shape))
	}
}
