// Package transform implements the composable program transformations
// built on top of internal/jaxpr and internal/frontend: jit (trace-cache),
// jvp (forward-mode), vjp/grad (reverse-mode), and vmap (batching).
package transform

import (
	"fmt"
	"strings"

	"lax/internal/jaxpr"
)

// signatureFromAvals is jit's cache key: the per-leaf (shape, dtype)
// tuple of each argument. This implementation has no pytree/nested
// container layer, so the tree-structure component collapses to
// "argument count" (documented open-question decision).
func signatureFromAvals(avals []jaxpr.Aval) string {
	var b strings.Builder
	fmt.Fprintf(&b, "n=%d|", len(avals))
	for _, av := range avals {
		fmt.Fprintf(&b, "%v:%s,", av.Shape, av.DType)
	}
	return b.String()
}
