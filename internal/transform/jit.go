package transform

import (
	"context"

	"lax/internal/frontend"
	"lax/internal/jaxpr"
)

// defaultCacheLimit bounds the number of distinct signatures jit will
// trace and retain at once before evicting the least-recently-used entry.
const defaultCacheLimit = 256

// TracedFunc is the calling convention every transform in this package
// operates on: a function from jaxpr atoms to jaxpr atoms, built against
// whichever Builder is pushed on the interpreter stack for the duration
// of the call. A TracedFunc is written
// the same way regardless of which transformation (jit, jvp, vjp, vmap)
// ultimately drives it.
type TracedFunc func(b jaxpr.Builder, args []jaxpr.Atom) ([]jaxpr.Atom, error)

// Jitted wraps a TracedFunc with jit's signature-keyed trace cache: the
// function is traced once per input signature and the resulting Jaxpr is
// reused for every later call with the same signature.
type Jitted struct {
	fn    TracedFunc
	cache *traceCache
}

// Jit wraps f with a fresh trace cache.
func Jit(f TracedFunc) *Jitted {
	return &Jitted{fn: f, cache: newTraceCache(defaultCacheLimit)}
}

// Call runs the jitted function against concrete args: on a signature
// miss it traces fn into a Jaxpr and caches it; on a hit it replays the
// cached Jaxpr directly against args.
func (j *Jitted) Call(ctx context.Context, args []*frontend.Array) ([]*frontend.Array, error) {
	avals := avalsOf(args)
	sig := signatureFromAvals(avals)
	jx, err := j.cache.getOrTrace(sig, func() (*jaxpr.Jaxpr, error) {
		return jaxpr.Trace(avals, func(b jaxpr.Builder, a []jaxpr.Atom) ([]jaxpr.Atom, error) {
			return j.fn(b, a)
		})
	})
	if err != nil {
		return nil, err
	}
	return evalJaxpr(ctx, jx, args)
}

func avalsOf(args []*frontend.Array) []jaxpr.Aval {
	out := make([]jaxpr.Aval, len(args))
	for i, a := range args {
		out[i] = jaxpr.Aval{Shape: a.Shape, DType: a.DType}
	}
	return out
}
