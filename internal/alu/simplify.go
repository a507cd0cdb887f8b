package alu

import "lax/internal/dtype"

// Simplify applies constant folding, identity laws, commutative
// canonicalization and integer-indexing algebraic rewrites to a fixed
// point. The identity laws assume finite operands: x*0 becomes 0 and x/x
// becomes 1 even where x is NaN or infinite (or x is zero, for x/x), and a
// cast of a cast becomes one cast to the outer dtype, dropping any rounding
// or truncation the inner cast would have applied.
func (e *Exp) Simplify() *Exp {
	cur := e
	for {
		next := cur.simplifyOnce()
		if next == cur {
			return cur
		}
		cur = next
	}
}

func (e *Exp) simplifyOnce() *Exp {
	return e.Rewrite(func(n *Exp) *Exp {
		if r := foldConstant(n); r != nil {
			return r
		}
		if r := canonicalizeCommutative(n); r != nil {
			return r
		}
		if r := identityLaw(n); r != nil {
			return r
		}
		if r := integerIndexRewrite(n); r != nil {
			return r
		}
		return nil
	})
}

func isConst(n *Exp) (float64, bool) {
	if n.Op == OpConst {
		return n.Arg.(float64), true
	}
	return 0, false
}

// foldConstant evaluates n when every child is already a constant.
func foldConstant(n *Exp) *Exp {
	if n.Op == OpConst || n.Op == OpSpecial || n.Op == OpGlobalIndex || n.Op == OpGlobalView {
		return nil
	}
	for _, c := range n.Src {
		if _, ok := isConst(c); !ok {
			return nil
		}
	}
	if len(n.Src) == 0 {
		return nil
	}
	v := n.Evaluate(Vars{}, func(int, int64) float64 { return 0 })
	return Const(n.Dtype, v)
}

// canonicalizeCommutative orders the two children of a commutative binary
// op by structural hash so that `a+b` and `b+a` collapse to the same node,
// surfacing common sub-expressions.
func canonicalizeCommutative(n *Exp) *Exp {
	switch n.Op {
	case OpAdd, OpMul, OpMin, OpMax, OpEq, OpNe:
		a, b := n.Src[0], n.Src[1]
		if a.hash > b.hash {
			return New(n.Op, n.Dtype, []*Exp{b, a}, n.Arg)
		}
	}
	return nil
}

func zero(dt dtype.Type) *Exp { return Const(dt, 0) }
func one(dt dtype.Type) *Exp  { return Const(dt, 1) }

func identityLaw(n *Exp) *Exp {
	switch n.Op {
	case OpAdd:
		a, b := n.Src[0], n.Src[1]
		if v, ok := isConst(a); ok && v == 0 {
			return b
		}
		if v, ok := isConst(b); ok && v == 0 {
			return a
		}
	case OpSub:
		a, b := n.Src[0], n.Src[1]
		if v, ok := isConst(b); ok && v == 0 {
			return a
		}
		if a.Equal(b) {
			return zero(n.Dtype)
		}
	case OpMul:
		a, b := n.Src[0], n.Src[1]
		if v, ok := isConst(a); ok {
			if v == 1 {
				return b
			}
			if v == 0 {
				return zero(n.Dtype)
			}
		}
		if v, ok := isConst(b); ok {
			if v == 1 {
				return a
			}
			if v == 0 {
				return zero(n.Dtype)
			}
		}
	case OpDiv:
		a, b := n.Src[0], n.Src[1]
		if v, ok := isConst(b); ok && v == 1 {
			return a
		}
		if a.Equal(b) {
			return one(n.Dtype)
		}
	case OpMin, OpMax:
		a, b := n.Src[0], n.Src[1]
		if a.Equal(b) {
			return a
		}
	case OpNeg:
		if n.Src[0].Op == OpNeg {
			return n.Src[0].Src[0]
		}
	case OpCast:
		inner := n.Src[0]
		if inner.Dtype == n.Dtype {
			return inner
		}
		if inner.Op == OpCast {
			// cast-of-cast collapses to a single cast to the outer target
			return Cast(n.Dtype, inner.Src[0])
		}
	case OpWhere:
		cond, x, y := n.Src[0], n.Src[1], n.Src[2]
		if v, ok := isConst(cond); ok {
			if v != 0 {
				return x
			}
			return y
		}
		if x.Equal(y) {
			return x
		}
		// nested where flattening when the inner branch is constant-true/false
		if inner := x; inner.Op == OpWhere {
			if v, ok := isConst(inner.Src[0]); ok {
				if v != 0 {
					return Where(cond, inner.Src[1], y)
				}
				return Where(cond, inner.Src[2], y)
			}
		}
	}
	return nil
}

// integerIndexRewrite applies algebraic rewrites used by indexing
// expressions: a*k + b*k -> (a+b)*k, and removal of no-op casts between
// compatible integer dtypes already handled by identityLaw's OpCast case.
func integerIndexRewrite(n *Exp) *Exp {
	if n.Op != OpAdd || !n.Dtype.IsInt() {
		return nil
	}
	l, r := n.Src[0], n.Src[1]
	if l.Op != OpMul || r.Op != OpMul {
		return nil
	}
	// a*k + b*k -> (a+b)*k, trying all four cross pairings of factors.
	pairs := [][2]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	for _, p := range pairs {
		lk, la := l.Src[p[0]], l.Src[1-p[0]]
		rk, ra := r.Src[p[1]], r.Src[1-p[1]]
		if lk.Equal(rk) {
			return Mul(Add(la, ra), lk)
		}
	}
	return nil
}
