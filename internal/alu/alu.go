// Package alu implements the ALU IR: a small, pure, typed
// expression language over scalar primitive dtypes. Nodes are immutable;
// equality is structural and nodes are hash-consed through a process-wide
// intern table so that common sub-expressions collapse automatically.
package alu

import (
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"lax/internal/dtype"
	"lax/internal/errors"
)

// Op tags the operation an Exp node performs. Kept as a plain enum over a
// sealed tagged union rather than an interface hierarchy: dispatch is a
// switch, and the node layout stays one flat struct.
type Op uint8

const (
	OpConst Op = iota
	OpSpecial

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpIdiv
	OpMod
	OpMin
	OpMax
	OpNeg
	OpRecip
	OpExp
	OpLog
	OpSin
	OpCos
	OpTan
	OpAtan
	OpAsin
	OpSqrt
	OpAbs
	OpErf
	OpErfc
	OpPow

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpWhere
	OpCast

	OpGlobalIndex
	OpGlobalView
)

func (o Op) String() string {
	names := [...]string{
		"const", "special", "add", "sub", "mul", "div", "idiv", "mod",
		"min", "max", "neg", "recip", "exp", "log", "sin", "cos", "tan",
		"atan", "asin", "sqrt", "abs", "erf", "erfc", "pow",
		"eq", "ne", "lt", "le", "gt", "ge", "where", "cast",
		"global_index", "global_view",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return fmt.Sprintf("op(%d)", o)
}

// SpecialName enumerates the thread-index and scheduling specials:
// gidx (global output index), ridx (reduction index), group
// (cooperative-group id), acc (the in-flight reduction accumulator),
// unroll (unroll-loop index), upcast (upcast-lane index).
type SpecialName uint8

const (
	Gidx SpecialName = iota
	Ridx
	Group
	Acc
	Unroll
	Upcast
)

func (s SpecialName) String() string {
	names := [...]string{"gidx", "ridx", "group", "acc", "unroll", "upcast"}
	if int(s) < len(names) {
		return names[s]
	}
	return fmt.Sprintf("special(%d)", s)
}

// ShapeTrackerView is the subset of shapetracker.Tracker the ALU package
// needs to know about. Declared as an interface here (rather than importing
// the shapetracker package) to keep the IR's dependency graph leaf-like;
// shapetracker implements it directly.
type ShapeTrackerView interface {
	// ToAluExp lowers a logical multi-index into a (linearOffset, valid)
	// pair of ALU expressions.
	ToAluExp(indices []*Exp) (offset *Exp, valid *Exp)
	Shape() []int
}

// GlobalViewArg is the immutable auxiliary payload of an OpGlobalView node.
type GlobalViewArg struct {
	Gid     int
	Tracker ShapeTrackerView
}

// GlobalIndexArg is the immutable auxiliary payload of an OpGlobalIndex node.
type GlobalIndexArg struct {
	Gid int
}

// Exp is an immutable ALU expression tree node. Two nodes with the same
// Op/Dtype/Src/Arg are structurally equal and, via the intern table, are
// normally the same pointer.
type Exp struct {
	Op    Op
	Dtype dtype.Type
	Src   []*Exp
	Arg   interface{} // float64 (OpConst), SpecialArg (OpSpecial), GlobalIndexArg, GlobalViewArg
	hash  uint64
}

// SpecialArg is the auxiliary payload of an OpSpecial node.
type SpecialArg struct {
	Name SpecialName
	Size int64
}

var (
	internMu    sync.Mutex
	internTable = map[uint64][]*Exp{}
)

// New is the generic constructor. It validates arity/dtype consistency per
// op and hash-conses the result against structurally equal existing nodes.
func New(op Op, dt dtype.Type, src []*Exp, arg interface{}) *Exp {
	validate(op, dt, src, arg)
	e := &Exp{Op: op, Dtype: dt, Src: src, Arg: arg}
	e.hash = computeHash(e)
	return intern(e)
}

func validate(op Op, dt dtype.Type, src []*Exp, arg interface{}) {
	arity := map[Op]int{
		OpConst: 0, OpSpecial: 0,
		OpAdd: 2, OpSub: 2, OpMul: 2, OpDiv: 2, OpIdiv: 2, OpMod: 2,
		OpMin: 2, OpMax: 2, OpPow: 2,
		OpNeg: 1, OpRecip: 1, OpExp: 1, OpLog: 1, OpSin: 1, OpCos: 1,
		OpTan: 1, OpAtan: 1, OpAsin: 1, OpSqrt: 1, OpAbs: 1, OpErf: 1, OpErfc: 1,
		OpEq: 2, OpNe: 2, OpLt: 2, OpLe: 2, OpGt: 2, OpGe: 2,
		OpWhere: 3, OpCast: 1,
		OpGlobalIndex: 1, OpGlobalView: -1, // variadic (indices)
	}
	want, ok := arity[op]
	if !ok {
		panic(errors.Usage("alu", "unknown op %v", op))
	}
	if want >= 0 && len(src) != want {
		panic(errors.Usage("alu", "op %v expects %d children, got %d", op, want, len(src)))
	}
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		if dt != dtype.Bool {
			panic(errors.Usage("alu", "comparison op %v must produce bool, got %v", op, dt))
		}
		if len(src) == 2 && src[0].Dtype != src[1].Dtype {
			panic(errors.Usage("alu", "comparison op %v operands have mismatched dtypes %v/%v", op, src[0].Dtype, src[1].Dtype))
		}
	case OpWhere:
		if src[0].Dtype != dtype.Bool {
			panic(errors.Usage("alu", "where condition must be bool, got %v", src[0].Dtype))
		}
		if src[1].Dtype != dt || src[2].Dtype != dt {
			panic(errors.Usage("alu", "where branches must match result dtype %v", dt))
		}
	case OpAdd, OpSub, OpMul, OpDiv, OpIdiv, OpMod, OpMin, OpMax, OpPow:
		if src[0].Dtype != dt || src[1].Dtype != dt {
			panic(errors.Usage("alu", "op %v operand dtype mismatch: want %v, got %v/%v", op, dt, src[0].Dtype, src[1].Dtype))
		}
	case OpNeg, OpRecip, OpExp, OpLog, OpSin, OpCos, OpTan, OpAtan, OpAsin, OpSqrt, OpAbs, OpErf, OpErfc:
		if src[0].Dtype != dt {
			panic(errors.Usage("alu", "op %v operand dtype mismatch: want %v, got %v", op, dt, src[0].Dtype))
		}
	case OpCast:
		// any child dtype is legal; dt is the cast target
	case OpConst:
		if _, ok := arg.(float64); !ok {
			panic(errors.Usage("alu", "const requires a float64 arg"))
		}
	case OpSpecial:
		if _, ok := arg.(SpecialArg); !ok {
			panic(errors.Usage("alu", "special requires a SpecialArg"))
		}
	case OpGlobalIndex:
		if _, ok := arg.(GlobalIndexArg); !ok {
			panic(errors.Usage("alu", "global_index requires a GlobalIndexArg"))
		}
		if !src[0].Dtype.IsInt() {
			panic(errors.Usage("alu", "global_index linear index must be integer-typed, got %v", src[0].Dtype))
		}
	case OpGlobalView:
		gv, ok := arg.(GlobalViewArg)
		if !ok {
			panic(errors.Usage("alu", "global_view requires a GlobalViewArg"))
		}
		if len(src) != len(gv.Tracker.Shape()) {
			panic(errors.Usage("alu", "global_view index count %d does not match tracker rank %d", len(src), len(gv.Tracker.Shape())))
		}
	}
}

// --- constructors -----------------------------------------------------

func Const(dt dtype.Type, v float64) *Exp {
	return New(OpConst, dt, nil, dtype.CastFloat64(dt, v))
}

func Special(dt dtype.Type, name SpecialName, size int64) *Exp {
	return New(OpSpecial, dt, nil, SpecialArg{Name: name, Size: size})
}

func bin(op Op, a, b *Exp) *Exp {
	if a.Dtype != b.Dtype {
		panic(errors.Usage("alu", "%v requires matching dtypes, got %v/%v", op, a.Dtype, b.Dtype))
	}
	return New(op, a.Dtype, []*Exp{a, b}, nil)
}

func un(op Op, a *Exp) *Exp { return New(op, a.Dtype, []*Exp{a}, nil) }

func Add(a, b *Exp) *Exp   { return bin(OpAdd, a, b) }
func Sub(a, b *Exp) *Exp   { return bin(OpSub, a, b) }
func Mul(a, b *Exp) *Exp   { return bin(OpMul, a, b) }
func Div(a, b *Exp) *Exp   { return bin(OpDiv, a, b) }
func Idiv(a, b *Exp) *Exp  { return bin(OpIdiv, a, b) }
func Mod(a, b *Exp) *Exp   { return bin(OpMod, a, b) }
func Min(a, b *Exp) *Exp   { return bin(OpMin, a, b) }
func Max(a, b *Exp) *Exp   { return bin(OpMax, a, b) }
func Pow(a, b *Exp) *Exp   { return bin(OpPow, a, b) }
func Neg(a *Exp) *Exp      { return un(OpNeg, a) }
func Recip(a *Exp) *Exp    { return un(OpRecip, a) }
func ExpOf(a *Exp) *Exp    { return un(OpExp, a) }
func Log(a *Exp) *Exp      { return un(OpLog, a) }
func Sin(a *Exp) *Exp      { return un(OpSin, a) }
func Cos(a *Exp) *Exp      { return un(OpCos, a) }
func Tan(a *Exp) *Exp      { return un(OpTan, a) }
func Atan(a *Exp) *Exp     { return un(OpAtan, a) }
func Asin(a *Exp) *Exp     { return un(OpAsin, a) }
func Sqrt(a *Exp) *Exp     { return un(OpSqrt, a) }
func Abs(a *Exp) *Exp      { return un(OpAbs, a) }
func Erf(a *Exp) *Exp      { return un(OpErf, a) }
func Erfc(a *Exp) *Exp     { return un(OpErfc, a) }

func cmp(op Op, a, b *Exp) *Exp {
	if a.Dtype != b.Dtype {
		panic(errors.Usage("alu", "%v requires matching dtypes, got %v/%v", op, a.Dtype, b.Dtype))
	}
	return New(op, dtype.Bool, []*Exp{a, b}, nil)
}

func Eq(a, b *Exp) *Exp { return cmp(OpEq, a, b) }
func Ne(a, b *Exp) *Exp { return cmp(OpNe, a, b) }
func Lt(a, b *Exp) *Exp { return cmp(OpLt, a, b) }
func Le(a, b *Exp) *Exp { return cmp(OpLe, a, b) }
func Gt(a, b *Exp) *Exp { return cmp(OpGt, a, b) }
func Ge(a, b *Exp) *Exp { return cmp(OpGe, a, b) }

func Where(cond, x, y *Exp) *Exp {
	return New(OpWhere, x.Dtype, []*Exp{cond, x, y}, nil)
}

func Cast(target dtype.Type, x *Exp) *Exp {
	if target == x.Dtype {
		return x
	}
	return New(OpCast, target, []*Exp{x}, nil)
}

func GlobalIndex(dt dtype.Type, gid int, linearIndex *Exp) *Exp {
	return New(OpGlobalIndex, dt, []*Exp{linearIndex}, GlobalIndexArg{Gid: gid})
}

func GlobalView(dt dtype.Type, gid int, tracker ShapeTrackerView, indices []*Exp) *Exp {
	return New(OpGlobalView, dt, indices, GlobalViewArg{Gid: gid, Tracker: tracker})
}

// --- hashing / interning -----------------------------------------------

func computeHash(e *Exp) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%d|", e.Op, e.Dtype)
	for _, c := range e.Src {
		fmt.Fprintf(h, "%d,", c.hash)
	}
	fmt.Fprintf(h, "|%#v", e.Arg)
	return h.Sum64()
}

func (e *Exp) Equal(o *Exp) bool {
	if e == o {
		return true
	}
	if e == nil || o == nil {
		return false
	}
	if e.Op != o.Op || e.Dtype != o.Dtype || len(e.Src) != len(o.Src) {
		return false
	}
	for i := range e.Src {
		if !e.Src[i].Equal(o.Src[i]) {
			return false
		}
	}
	return argEqual(e.Op, e.Arg, o.Arg)
}

func argEqual(op Op, a, b interface{}) bool {
	switch op {
	case OpGlobalView:
		ga, oka := a.(GlobalViewArg)
		gb, okb := b.(GlobalViewArg)
		return oka && okb && ga.Gid == gb.Gid && ga.Tracker == gb.Tracker
	default:
		return fmt.Sprintf("%#v", a) == fmt.Sprintf("%#v", b)
	}
}

// Hash returns the cached structural hash used for hash-consing and for
// commutative-op canonicalization.
func (e *Exp) Hash() uint64 { return e.hash }

func intern(e *Exp) *Exp {
	internMu.Lock()
	defer internMu.Unlock()
	bucket := internTable[e.hash]
	for _, cand := range bucket {
		if cand.Equal(e) {
			return cand
		}
	}
	internTable[e.hash] = append(bucket, e)
	return e
}

// --- traversal -----------------------------------------------------

// Collect performs a post-order traversal, returning every distinct node
// (by pointer) for which pred returns true, each appearing once in the
// order it is first reached.
func (e *Exp) Collect(pred func(*Exp) bool) []*Exp {
	seen := map[*Exp]bool{}
	var out []*Exp
	var walk func(*Exp)
	walk = func(n *Exp) {
		if seen[n] {
			return
		}
		seen[n] = true
		for _, c := range n.Src {
			walk(c)
		}
		if pred(n) {
			out = append(out, n)
		}
	}
	walk(e)
	return out
}

// Rewrite applies fn bottom-up: children are rewritten first, then fn is
// offered the (possibly new) node; fn returning nil keeps the node as-is.
// The first non-nil replacement per node wins; rewriting does not recurse
// into the replacement.
func (e *Exp) Rewrite(fn func(*Exp) *Exp) *Exp {
	memo := map[*Exp]*Exp{}
	var walk func(*Exp) *Exp
	walk = func(n *Exp) *Exp {
		if r, ok := memo[n]; ok {
			return r
		}
		newSrc := make([]*Exp, len(n.Src))
		changed := false
		for i, c := range n.Src {
			nc := walk(c)
			newSrc[i] = nc
			if nc != c {
				changed = true
			}
		}
		cur := n
		if changed {
			cur = New(n.Op, n.Dtype, newSrc, n.Arg)
		}
		if r := fn(cur); r != nil {
			cur = r
		}
		memo[n] = cur
		return cur
	}
	return walk(e)
}

// Substitute replaces every OpSpecial node named by a key in repl with its
// mapped sub-expression.
func (e *Exp) Substitute(repl map[SpecialName]*Exp) *Exp {
	return e.Rewrite(func(n *Exp) *Exp {
		if n.Op != OpSpecial {
			return nil
		}
		sa := n.Arg.(SpecialArg)
		if r, ok := repl[sa.Name]; ok {
			return r
		}
		return nil
	})
}

// Vars holds the concrete integer bindings for thread-index specials
// during evaluation.
type Vars struct {
	Gidx, Ridx, Group, Unroll, Upcast int64
	Acc                               float64
}

// GlobalReader resolves a (gid, linearIndex) pair to a concrete value
// during evaluation; backends supply this from their buffer storage.
type GlobalReader func(gid int, linearIndex int64) float64

// Evaluate tree-walks e, resolving specials from vars and global reads via
// read. This is the reference backend's evaluator and is also used by the
// constant folder and the GPU backend's software executor.
func (e *Exp) Evaluate(vars Vars, read GlobalReader) float64 {
	switch e.Op {
	case OpConst:
		return e.Arg.(float64)
	case OpSpecial:
		switch e.Arg.(SpecialArg).Name {
		case Gidx:
			return float64(vars.Gidx)
		case Ridx:
			return float64(vars.Ridx)
		case Group:
			return float64(vars.Group)
		case Unroll:
			return float64(vars.Unroll)
		case Upcast:
			return float64(vars.Upcast)
		case Acc:
			return vars.Acc
		default:
			panic(errors.Usage("alu", "evaluate: missing special %v", e.Arg.(SpecialArg).Name))
		}
	case OpAdd:
		return dtype.CastFloat64(e.Dtype, e.Src[0].Evaluate(vars, read)+e.Src[1].Evaluate(vars, read))
	case OpSub:
		return dtype.CastFloat64(e.Dtype, e.Src[0].Evaluate(vars, read)-e.Src[1].Evaluate(vars, read))
	case OpMul:
		return dtype.CastFloat64(e.Dtype, e.Src[0].Evaluate(vars, read)*e.Src[1].Evaluate(vars, read))
	case OpDiv:
		return dtype.CastFloat64(e.Dtype, e.Src[0].Evaluate(vars, read)/e.Src[1].Evaluate(vars, read))
	case OpIdiv:
		a, b := e.Src[0].Evaluate(vars, read), e.Src[1].Evaluate(vars, read)
		return dtype.CastFloat64(e.Dtype, floorDiv(a, b, e.Dtype))
	case OpMod:
		a, b := e.Src[0].Evaluate(vars, read), e.Src[1].Evaluate(vars, read)
		return dtype.CastFloat64(e.Dtype, floorMod(a, b, e.Dtype))
	case OpMin:
		a, b := e.Src[0].Evaluate(vars, read), e.Src[1].Evaluate(vars, read)
		return math.Min(a, b)
	case OpMax:
		a, b := e.Src[0].Evaluate(vars, read), e.Src[1].Evaluate(vars, read)
		return math.Max(a, b)
	case OpPow:
		return dtype.CastFloat64(e.Dtype, math.Pow(e.Src[0].Evaluate(vars, read), e.Src[1].Evaluate(vars, read)))
	case OpNeg:
		return dtype.CastFloat64(e.Dtype, -e.Src[0].Evaluate(vars, read))
	case OpRecip:
		return dtype.CastFloat64(e.Dtype, 1/e.Src[0].Evaluate(vars, read))
	case OpExp:
		return math.Exp(e.Src[0].Evaluate(vars, read))
	case OpLog:
		return math.Log(e.Src[0].Evaluate(vars, read))
	case OpSin:
		return math.Sin(e.Src[0].Evaluate(vars, read))
	case OpCos:
		return math.Cos(e.Src[0].Evaluate(vars, read))
	case OpTan:
		return math.Tan(e.Src[0].Evaluate(vars, read))
	case OpAtan:
		return math.Atan(e.Src[0].Evaluate(vars, read))
	case OpAsin:
		return math.Asin(e.Src[0].Evaluate(vars, read))
	case OpSqrt:
		return math.Sqrt(e.Src[0].Evaluate(vars, read))
	case OpAbs:
		return math.Abs(e.Src[0].Evaluate(vars, read))
	case OpErf:
		return math.Erf(e.Src[0].Evaluate(vars, read))
	case OpErfc:
		return math.Erfc(e.Src[0].Evaluate(vars, read))
	case OpEq:
		return boolf(e.Src[0].Evaluate(vars, read) == e.Src[1].Evaluate(vars, read))
	case OpNe:
		return boolf(e.Src[0].Evaluate(vars, read) != e.Src[1].Evaluate(vars, read))
	case OpLt:
		return boolf(e.Src[0].Evaluate(vars, read) < e.Src[1].Evaluate(vars, read))
	case OpLe:
		return boolf(e.Src[0].Evaluate(vars, read) <= e.Src[1].Evaluate(vars, read))
	case OpGt:
		return boolf(e.Src[0].Evaluate(vars, read) > e.Src[1].Evaluate(vars, read))
	case OpGe:
		return boolf(e.Src[0].Evaluate(vars, read) >= e.Src[1].Evaluate(vars, read))
	case OpWhere:
		if e.Src[0].Evaluate(vars, read) != 0 {
			return e.Src[1].Evaluate(vars, read)
		}
		return e.Src[2].Evaluate(vars, read)
	case OpCast:
		return dtype.CastFloat64(e.Dtype, e.Src[0].Evaluate(vars, read))
	case OpGlobalIndex:
		idx := int64(e.Src[0].Evaluate(vars, read))
		return read(e.Arg.(GlobalIndexArg).Gid, idx)
	case OpGlobalView:
		panic(errors.Usage("alu", "evaluate: OpGlobalView must be lowered via the shape tracker before evaluation"))
	default:
		panic(errors.Usage("alu", "evaluate: unhandled op %v", e.Op))
	}
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func floorDiv(a, b float64, dt dtype.Type) float64 {
	if dt.IsFloat() {
		return math.Floor(a / b)
	}
	ai, bi := int64(a), int64(b)
	q := ai / bi
	if (ai%bi != 0) && ((ai < 0) != (bi < 0)) {
		q--
	}
	return float64(q)
}

func floorMod(a, b float64, dt dtype.Type) float64 {
	if dt.IsFloat() {
		return math.Mod(math.Mod(a, b)+b, b)
	}
	ai, bi := int64(a), int64(b)
	m := ai % bi
	if m != 0 && ((m < 0) != (bi < 0)) {
		m += bi
	}
	return float64(m)
}
