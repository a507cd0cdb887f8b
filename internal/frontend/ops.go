package frontend

import (
	"context"

	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// mergeSrcs concatenates a's and b's backing-array lists and rewrites b's
// exp so its GlobalIndex/GlobalView gids point past the end of a's list —
// the gid-remap a pure ALU-level fusion of two symbolic recipes needs.
func mergeSrcs(aSrcs []*Array, bSrcs []*Array, bExp *alu.Exp) ([]*Array, *alu.Exp) {
	if len(bSrcs) == 0 {
		return aSrcs, bExp
	}
	offset := len(aSrcs)
	merged := append(append([]*Array{}, aSrcs...), bSrcs...)
	remapped := bExp.Rewrite(func(n *alu.Exp) *alu.Exp {
		switch n.Op {
		case alu.OpGlobalIndex:
			arg := n.Arg.(alu.GlobalIndexArg)
			return alu.New(alu.OpGlobalIndex, n.Dtype, n.Src, alu.GlobalIndexArg{Gid: arg.Gid + offset})
		case alu.OpGlobalView:
			arg := n.Arg.(alu.GlobalViewArg)
			return alu.New(alu.OpGlobalView, n.Dtype, n.Src, alu.GlobalViewArg{Gid: arg.Gid + offset, Tracker: arg.Tracker})
		default:
			return nil
		}
	})
	return merged, remapped
}

// fuseBinary is the shared binary-op path: if both operands
// are still symbolic recipes their expressions fuse into one (still lazy);
// otherwise both are forced to contiguous buffers and a two-input Kernel is
// built, scheduling a PendingExecute rather than running anything yet.
func fuseBinary(ctx context.Context, resultDtype dtype.Type, a, b *Array, combine func(x, y *alu.Exp) *alu.Exp) (*Array, error) {
	if !sameShape(a.Shape, b.Shape) {
		return nil, errors.Usage("frontend", "binary op: shape mismatch %v vs %v", a.Shape, b.Shape)
	}
	if a.IsLazy() && b.IsLazy() {
		srcs, bExp := mergeSrcs(a.srcs, b.srcs, b.exp)
		return lazyWithSrcs(a.Device, resultDtype, a.Shape, combine(a.exp, bExp), srcs), nil
	}

	ra, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	rb, err := realizeContiguous(ctx, b)
	if err != nil {
		return nil, err
	}
	n := size(a.Shape)
	gidx := gidxSpecial(a.Shape)
	exp := combine(
		alu.GlobalIndex(ra.DType, 0, gidx),
		alu.GlobalIndex(rb.DType, 1, gidx),
	)
	return scheduleKernel(ctx, resultDtype, a.Shape, &kernel.Kernel{NumInputs: 2, Size: n, Exp: exp}, []*Array{ra, rb})
}

// fuseUnary mirrors fuseBinary for single-operand ops.
func fuseUnary(ctx context.Context, resultDtype dtype.Type, a *Array, apply func(x *alu.Exp) *alu.Exp) (*Array, error) {
	if a.IsLazy() {
		return lazyWithSrcs(a.Device, resultDtype, a.Shape, apply(a.exp), a.srcs), nil
	}
	ra, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	n := size(a.Shape)
	gidx := gidxSpecial(a.Shape)
	exp := apply(alu.GlobalIndex(ra.DType, 0, gidx))
	return scheduleKernel(ctx, resultDtype, a.Shape, &kernel.Kernel{NumInputs: 1, Size: n, Exp: exp}, []*Array{ra})
}

func lazyWithSrcs(device string, dt dtype.Type, shape []int, exp *alu.Exp, srcs []*Array) *Array {
	a := lazy(device, dt, shape, exp)
	a.srcs = srcs
	return a
}

func Add(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Add)
}
func Sub(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Sub)
}
func Mul(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Mul)
}
func Div(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Div)
}
func Minimum(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Min)
}
func Maximum(ctx context.Context, a, b *Array) (*Array, error) {
	return fuseBinary(ctx, a.DType, a, b, alu.Max)
}

func Neg(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Neg)
}
func Reciprocal(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Recip)
}
func ExpOf(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.ExpOf)
}
func Log(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Log)
}
func Sin(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Sin)
}
func Cos(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Cos)
}
func Sqrt(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Sqrt)
}
func Abs(ctx context.Context, a *Array) (*Array, error) {
	return fuseUnary(ctx, a.DType, a, alu.Abs)
}

// Where is the where(cond, x, y) selection primitive. cond
// must be bool-dtyped and all three operands share a shape.
func Where(ctx context.Context, cond, x, y *Array) (*Array, error) {
	if cond.DType != dtype.Bool {
		return nil, errors.Usage("frontend", "where: condition must be bool, got %v", cond.DType)
	}
	if !sameShape(cond.Shape, x.Shape) || !sameShape(x.Shape, y.Shape) {
		return nil, errors.Usage("frontend", "where: shape mismatch cond=%v x=%v y=%v", cond.Shape, x.Shape, y.Shape)
	}
	if cond.IsLazy() && x.IsLazy() && y.IsLazy() {
		srcs, xExp := mergeSrcs(cond.srcs, x.srcs, x.exp)
		srcs, yExp := mergeSrcs(srcs, y.srcs, y.exp)
		return lazyWithSrcs(x.Device, x.DType, x.Shape, alu.Where(cond.exp, xExp, yExp), srcs), nil
	}
	rc, err := realizeContiguous(ctx, cond)
	if err != nil {
		return nil, err
	}
	rx, err := realizeContiguous(ctx, x)
	if err != nil {
		return nil, err
	}
	ry, err := realizeContiguous(ctx, y)
	if err != nil {
		return nil, err
	}
	n := size(x.Shape)
	gidx := gidxSpecial(x.Shape)
	exp := alu.Where(
		alu.GlobalIndex(dtype.Bool, 0, gidx),
		alu.GlobalIndex(rx.DType, 1, gidx),
		alu.GlobalIndex(ry.DType, 2, gidx),
	)
	return scheduleKernel(ctx, x.DType, x.Shape, &kernel.Kernel{NumInputs: 3, Size: n, Exp: exp}, []*Array{rc, rx, ry})
}
