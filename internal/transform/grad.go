package transform

import (
	"context"

	"lax/internal/errors"
	"lax/internal/frontend"
)

// Grad is vjp specialized to scalar-valued f, seeded
// with a cotangent of 1 on the single output, returning the input
// cotangents.
func Grad(ctx context.Context, f TracedFunc, primals []*frontend.Array) ([]*frontend.Array, error) {
	outs, pullback, err := Vjp(ctx, f, primals)
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, errors.Usage("transform", "grad: function must return exactly one output, got %d", len(outs))
	}
	n := 1
	for _, d := range outs[0].Shape {
		n *= d
	}
	if n != 1 {
		return nil, errors.Usage("transform", "grad: function must return a scalar, got shape %v", outs[0].Shape)
	}
	seed := frontend.Full(outs[0].Device, outs[0].DType, outs[0].Shape, 1)
	return pullback(ctx, []*frontend.Array{seed})
}
