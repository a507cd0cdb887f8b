// Package routines implements the non-fusible operations: sort, argsort,
// triangular solve, and Cholesky decomposition. A
// Routine always reads from contiguous (already-realized) host buffers —
// the scheduler realizes its arguments before invoking it — and its state
// machine (created -> prepared -> dispatched -> observable-after-read)
// collapses to a single synchronous Go call since there is no device to
// hand the work to.
//
// Dispatch is by name: a flat table of named operations looked up by
// string rather than fused into the surrounding program.
package routines

import "lax/internal/errors"

// Array is a flat, row-major host buffer plus its logical shape — the
// shape a routine's argument or result has once realized.
type Array struct {
	Data  []float64
	Shape []int
}

// Func computes a routine's result from its already-realized arguments
// and named options (e.g. "axis", "lower", "unitDiagonal").
type Func func(args []Array, opts map[string]any) ([]Array, error)

var registry = map[string]Func{}

func register(name string, fn Func) {
	registry[name] = fn
}

func init() {
	register("sort", sortRoutine)
	register("argsort", argsortRoutine)
	register("solve_triangular", solveTriangularRoutine)
	register("cholesky", choleskyRoutine)
}

// Lookup resolves a routine by its public surface name.
func Lookup(name string) (Func, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Call resolves and invokes a routine by name; lax.callRoutine goes
// through it.
func Call(name string, args []Array, opts map[string]any) ([]Array, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, capabilityErr(name)
	}
	return fn(args, opts)
}

// Names lists every registered routine, for capability-error messages that
// need to enumerate what's available.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

func capabilityErr(name string) error {
	return errors.Capability("routines", "unknown routine %q", name)
}
