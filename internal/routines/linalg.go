package routines

import (
	"gonum.org/v1/gonum/mat"

	"lax/internal/errors"
)

// solveTriangularRoutine implements solveTriangular(a, b, {lower,
// unitDiagonal}): back/forward substitution against a triangular
// coefficient matrix, backed by gonum's mat.TriDense for the CPU
// reference implementation.
func solveTriangularRoutine(args []Array, opts map[string]any) ([]Array, error) {
	if len(args) != 2 {
		return nil, errors.Usage("routines", "solve_triangular: expected 2 arguments, got %d", len(args))
	}
	a, b := args[0], args[1]
	if len(a.Shape) != 2 || a.Shape[0] != a.Shape[1] {
		return nil, errors.Usage("routines", "solve_triangular: a must be square, got shape %v", a.Shape)
	}
	n := a.Shape[0]
	if len(b.Shape) == 0 || b.Shape[0] != n {
		return nil, errors.Usage("routines", "solve_triangular: b's leading dimension must match a's size %d", n)
	}

	lower, _ := opts["lower"].(bool)
	unitDiagonal, _ := opts["unitDiagonal"].(bool)

	kind := mat.Upper
	if lower {
		kind = mat.Lower
	}
	tri := mat.NewTriDense(n, kind, append([]float64(nil), a.Data...))
	if unitDiagonal {
		for i := 0; i < n; i++ {
			tri.SetTri(i, i, 1)
		}
	}

	if len(b.Shape) == 1 {
		rhs := mat.NewVecDense(n, append([]float64(nil), b.Data...))
		var x mat.VecDense
		if err := x.SolveVec(tri, rhs); err != nil {
			return nil, errors.Compilation("routines", "solve_triangular: singular system: %v", err)
		}
		return []Array{{Data: append([]float64(nil), x.RawVector().Data...), Shape: b.Shape}}, nil
	}

	k := b.Shape[1]
	rhs := mat.NewDense(n, k, append([]float64(nil), b.Data...))
	var x mat.Dense
	if err := x.Solve(tri, rhs); err != nil {
		return nil, errors.Compilation("routines", "solve_triangular: singular system: %v", err)
	}
	out := make([]float64, n*k)
	for i := 0; i < n; i++ {
		for j := 0; j < k; j++ {
			out[i*k+j] = x.At(i, j)
		}
	}
	return []Array{{Data: out, Shape: b.Shape}}, nil
}

// choleskyRoutine implements cholesky(a): the lower-triangular
// factor L such that a = L*Lᵀ, backed by gonum's mat.Cholesky.
func choleskyRoutine(args []Array, opts map[string]any) ([]Array, error) {
	if len(args) != 1 {
		return nil, errors.Usage("routines", "cholesky: expected 1 argument, got %d", len(args))
	}
	a := args[0]
	if len(a.Shape) != 2 || a.Shape[0] != a.Shape[1] {
		return nil, errors.Usage("routines", "cholesky: a must be square, got shape %v", a.Shape)
	}
	n := a.Shape[0]
	sym := mat.NewSymDense(n, append([]float64(nil), a.Data...))

	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, errors.Compilation("routines", "cholesky: matrix is not positive-definite")
	}
	var lower mat.TriDense
	chol.LTo(&lower)

	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = lower.At(i, j)
		}
	}
	return []Array{{Data: out, Shape: []int{n, n}}}, nil
}
