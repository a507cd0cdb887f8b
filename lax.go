// Package lax is a lazy, kernel-fusing array runtime: operations record a
// typed expression IR, fuse into kernels, and execute on pluggable
// backends (a tree-walk reference interpreter, an assembled-in-process
// WebAssembly backend, and a shader-text GPU backend). Program
// transformations — jit, vmap, jvp, vjp, grad — compose over the same
// traced primitive set.
//
// This file is the public surface; the machinery lives under internal/.
package lax

import (
	"context"

	"go.uber.org/zap"

	"lax/internal/backend"
	"lax/internal/backend/gpubackend"
	"lax/internal/backend/refbackend"
	"lax/internal/backend/wasmbackend"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/frontend"
	"lax/internal/rng"
	"lax/internal/routines"
	"lax/internal/transform"
)

// Array is the lazy array handle every operation consumes and returns.
type Array = frontend.Array

// DType enumerates the primitive element types.
type DType = dtype.Type

const (
	Bool = dtype.Bool
	I32  = dtype.I32
	U32  = dtype.U32
	F16  = dtype.F16
	F32  = dtype.F32
	F64  = dtype.F64
)

// Backend is the uniform device interface (alloc/read/prepare/dispatch).
type Backend = backend.Backend

// Key is the explicit PRNG state used by the random samplers.
type Key = rng.Key

// TracedFunc is the calling convention jit/vmap/jvp/vjp/grad drive.
type TracedFunc = transform.TracedFunc

// Init brings up the requested backends ("reference", "wasm", "gpu"), or
// all three when called with none, and returns the names that succeeded.
// Idempotent: an already-registered device is reported as available
// without being rebuilt.
func Init(ctx context.Context, devices ...string) []string {
	if len(devices) == 0 {
		devices = []string{"reference", "wasm", "gpu"}
	}
	var up []string
	for _, name := range devices {
		if _, err := backend.Get(name); err == nil {
			up = append(up, name)
			continue
		}
		switch name {
		case "reference":
			backend.Register(name, refbackend.New())
		case "wasm":
			w, err := wasmbackend.New(ctx)
			if err != nil {
				continue
			}
			backend.Register(name, w)
		case "gpu":
			backend.Register(name, gpubackend.New())
		default:
			continue
		}
		up = append(up, name)
	}
	return up
}

// DefaultDevice selects which backend unqualified operations run on.
func DefaultDevice(name string) error { return backend.SetDefault(name) }

// GetBackend resolves a backend by name; empty name means the default.
// Getting an uninitialised backend fails.
func GetBackend(name string) (Backend, error) { return backend.Get(name) }

// SetLogger injects the base structured logger component loggers derive
// from. Takes effect for backends initialised after the call.
func SetLogger(l *zap.Logger) { backend.SetLogger(l) }

// Construction. A device of "" targets the default backend.

func NewArray(ctx context.Context, device string, dt DType, shape []int, data []float64) (*Array, error) {
	return frontend.NewFromData(ctx, device, dt, shape, data)
}
func Zeros(device string, dt DType, shape []int) *Array { return frontend.Zeros(device, dt, shape) }
func Ones(device string, dt DType, shape []int) *Array  { return frontend.Ones(device, dt, shape) }
func Full(device string, dt DType, shape []int, v float64) *Array {
	return frontend.Full(device, dt, shape, v)
}
func Arange(device string, dt DType, start, stop, step float64) (*Array, error) {
	return frontend.Arange(device, dt, start, stop, step)
}
func Linspace(device string, dt DType, start, stop float64, num int) (*Array, error) {
	return frontend.Linspace(device, dt, start, stop, num)
}
func Eye(device string, dt DType, n, m, k int) *Array { return frontend.Eye(device, dt, n, m, k) }

// Elementwise and selection.

func Add(ctx context.Context, a, b *Array) (*Array, error)     { return frontend.Add(ctx, a, b) }
func Sub(ctx context.Context, a, b *Array) (*Array, error)     { return frontend.Sub(ctx, a, b) }
func Mul(ctx context.Context, a, b *Array) (*Array, error)     { return frontend.Mul(ctx, a, b) }
func Div(ctx context.Context, a, b *Array) (*Array, error)     { return frontend.Div(ctx, a, b) }
func Minimum(ctx context.Context, a, b *Array) (*Array, error) { return frontend.Minimum(ctx, a, b) }
func Maximum(ctx context.Context, a, b *Array) (*Array, error) { return frontend.Maximum(ctx, a, b) }
func Neg(ctx context.Context, a *Array) (*Array, error)        { return frontend.Neg(ctx, a) }
func Reciprocal(ctx context.Context, a *Array) (*Array, error) { return frontend.Reciprocal(ctx, a) }
func Exp(ctx context.Context, a *Array) (*Array, error)        { return frontend.ExpOf(ctx, a) }
func Log(ctx context.Context, a *Array) (*Array, error)        { return frontend.Log(ctx, a) }
func Sin(ctx context.Context, a *Array) (*Array, error)        { return frontend.Sin(ctx, a) }
func Cos(ctx context.Context, a *Array) (*Array, error)        { return frontend.Cos(ctx, a) }
func Sqrt(ctx context.Context, a *Array) (*Array, error)       { return frontend.Sqrt(ctx, a) }
func Abs(ctx context.Context, a *Array) (*Array, error)        { return frontend.Abs(ctx, a) }
func Where(ctx context.Context, cond, x, y *Array) (*Array, error) {
	return frontend.Where(ctx, cond, x, y)
}

// Reductions.

func Sum(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return frontend.Sum(ctx, a, axis, keepdims)
}
func Prod(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return frontend.Prod(ctx, a, axis, keepdims)
}
func Min(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return frontend.Min(ctx, a, axis, keepdims)
}
func Max(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return frontend.Max(ctx, a, axis, keepdims)
}
func Mean(ctx context.Context, a *Array, axis int, keepdims bool) (*Array, error) {
	return frontend.Mean(ctx, a, axis, keepdims)
}
func SumAll(ctx context.Context, a *Array) (*Array, error) { return frontend.SumAll(ctx, a) }
func MinAll(ctx context.Context, a *Array) (*Array, error) { return frontend.MinAll(ctx, a) }
func MaxAll(ctx context.Context, a *Array) (*Array, error) { return frontend.MaxAll(ctx, a) }
func ArgMax(ctx context.Context, a *Array, axis int) (*Array, error) {
	return frontend.ArgMax(ctx, a, axis)
}
func ArgMin(ctx context.Context, a *Array, axis int) (*Array, error) {
	return frontend.ArgMin(ctx, a, axis)
}

// Movement and combination.

func Concatenate(ctx context.Context, axis int, arrays ...*Array) (*Array, error) {
	return frontend.Concatenate(ctx, axis, arrays...)
}
func Stack(ctx context.Context, axis int, arrays ...*Array) (*Array, error) {
	return frontend.Stack(ctx, axis, arrays...)
}
func Tile(ctx context.Context, a *Array, reps []int) (*Array, error) {
	return frontend.Tile(ctx, a, reps)
}
func Repeat(ctx context.Context, a *Array, repeats, axis int) (*Array, error) {
	return frontend.Repeat(ctx, a, repeats, axis)
}

// BroadcastTo broadcasts a to shape, right-aligning the axes.
func BroadcastTo(ctx context.Context, a *Array, shape []int) (*Array, error) {
	return a.BroadcastTo(ctx, shape)
}

// Linear algebra.

func Matmul(ctx context.Context, a, b *Array) (*Array, error) { return frontend.Matmul(ctx, a, b) }
func Dot(ctx context.Context, a, b *Array) (*Array, error)    { return frontend.Dot(ctx, a, b) }
func Vecdot(ctx context.Context, a, b *Array) (*Array, error) { return frontend.Vecdot(ctx, a, b) }

// Einsum contracts one or two operands per a subscript spec, e.g.
// "ij,jk->ik" (matmul), "i,i->" (dot), "ii->" (trace), "ij->ji"
// (transpose).
func Einsum(ctx context.Context, spec string, operands ...*Array) (*Array, error) {
	return frontend.Einsum(ctx, spec, operands...)
}

// Transformations.

func Jit(f TracedFunc) *transform.Jitted { return transform.Jit(f) }
func Vmap(ctx context.Context, f TracedFunc, inAxes []int, args []*Array) ([]*Array, error) {
	return transform.Vmap(ctx, f, inAxes, args)
}
func Jvp(ctx context.Context, f TracedFunc, primals, tangents []*Array) ([]*Array, []*Array, error) {
	return transform.Jvp(ctx, f, primals, tangents)
}
func Vjp(ctx context.Context, f TracedFunc, primals []*Array) ([]*Array, func(context.Context, []*Array) ([]*Array, error), error) {
	return transform.Vjp(ctx, f, primals)
}
func Grad(ctx context.Context, f TracedFunc, primals []*Array) ([]*Array, error) {
	return transform.Grad(ctx, f, primals)
}

// Random.

func RandomKey(seed uint64) Key               { return rng.NewKey(seed) }
func RandomSplit(k Key, n int) ([]Key, error) { return rng.Split(k, n) }

func RandomUniform(ctx context.Context, k Key, device string, dt DType, shape []int) (*Array, error) {
	return rng.Uniform(ctx, k, device, dt, shape)
}
func RandomNormal(ctx context.Context, k Key, device string, dt DType, shape []int) (*Array, error) {
	return rng.Normal(ctx, k, device, dt, shape)
}
func RandomBernoulli(ctx context.Context, k Key, device string, p float64, shape []int) (*Array, error) {
	return rng.Bernoulli(ctx, k, device, p, shape)
}
func RandomCategorical(ctx context.Context, k Key, logits *Array) (*Array, error) {
	return rng.Categorical(ctx, k, logits)
}

// Routines: non-fusible named operations. The scheduler
// realizes arguments to contiguous host data before invoking them, then
// re-uploads the results as fresh arrays.

func callRoutine(ctx context.Context, name string, opts map[string]any, outDtypes []DType, args ...*Array) ([]*Array, error) {
	hostArgs := make([]routines.Array, len(args))
	for i, a := range args {
		data, err := a.Data(ctx)
		if err != nil {
			return nil, err
		}
		hostArgs[i] = routines.Array{Data: data, Shape: a.Shape}
	}
	results, err := routines.Call(name, hostArgs, opts)
	if err != nil {
		return nil, err
	}
	if len(outDtypes) != len(results) {
		return nil, errors.Capability("lax", "routine %q returned %d outputs, expected %d", name, len(results), len(outDtypes))
	}
	out := make([]*Array, len(results))
	for i, r := range results {
		a, err := frontend.NewFromData(ctx, args[0].Device, outDtypes[i], r.Shape, r.Data)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// Sort returns a sorted along axis (default last when axis == -1).
func Sort(ctx context.Context, a *Array, axis int) (*Array, error) {
	out, err := callRoutine(ctx, "sort", map[string]any{"axis": axis}, []DType{a.DType}, a)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Argsort returns the indices that would sort a along axis.
func Argsort(ctx context.Context, a *Array, axis int) (*Array, error) {
	out, err := callRoutine(ctx, "argsort", map[string]any{"axis": axis}, []DType{I32}, a)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// SolveTriangular solves a x = b for triangular a.
func SolveTriangular(ctx context.Context, a, b *Array, lower, unitDiagonal bool) (*Array, error) {
	opts := map[string]any{"lower": lower, "unitDiagonal": unitDiagonal}
	out, err := callRoutine(ctx, "solve_triangular", opts, []DType{b.DType}, a, b)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Cholesky returns the lower-triangular factor of a symmetric
// positive-definite a.
func Cholesky(ctx context.Context, a *Array) (*Array, error) {
	out, err := callRoutine(ctx, "cholesky", nil, []DType{a.DType}, a)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
