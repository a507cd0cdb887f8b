package wasmbackend

import (
	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
	"lax/internal/tuner"
)

func stackType(dt dtype.Type) valType {
	if dt.IsFloat() {
		return valF64
	}
	return valI32
}

// locals holds the fixed set of extra (non-parameter) locals every compiled
// kernel function declares, in declaration order.
type locals struct {
	base       int // first extra-local index (== number of params)
	gidx       int
	ridx       int // valid only when hasReduction
	acc        int // valid only when hasReduction
	scratchIdx int
	tiA, tiB, tiQ, tiR int
	tfA, tfB   int
}

func newLocals(paramCount int, hasReduction bool) locals {
	l := locals{base: paramCount}
	n := paramCount
	l.gidx = n
	n++
	if hasReduction {
		l.ridx = n
		n++
	}
	l.scratchIdx = n
	n++
	l.tiA, l.tiB, l.tiQ, l.tiR = n, n+1, n+2, n+3
	n += 4
	l.tfA, l.tfB = n, n+1
	if hasReduction {
		l.acc = n + 2
	}
	return l
}

func (l locals) declarations(hasReduction bool) [][]byte {
	var decls [][]byte
	i32Count := uint32(1) // gidx
	if hasReduction {
		i32Count++ // ridx
	}
	i32Count += 1 + 4 // scratchIdx + tiA..tiR
	decls = append(decls, localsDecl(i32Count, valI32))
	f64Count := uint32(2) // tfA, tfB
	if hasReduction {
		f64Count++ // acc
	}
	decls = append(decls, localsDecl(f64Count, valF64))
	return decls
}

// compiler turns a GlobalView-free alu.Exp into WASM instructions, tracking
// which host transcendental functions it needs to import.
type compiler struct {
	imports   []string       // ordered import names, e.g. "exp", "pow"
	importIdx map[string]int // name -> function index
	loc       locals
	offsetParamOf func(gid int) int
}

func unaryImportName(op alu.Op) (string, bool) {
	switch op {
	case alu.OpExp:
		return "exp", true
	case alu.OpLog:
		return "log", true
	case alu.OpSin:
		return "sin", true
	case alu.OpCos:
		return "cos", true
	case alu.OpTan:
		return "tan", true
	case alu.OpAtan:
		return "atan", true
	case alu.OpAsin:
		return "asin", true
	case alu.OpErf:
		return "erf", true
	case alu.OpErfc:
		return "erfc", true
	}
	return "", false
}

// collectImports walks exp (and, if present, the reduction fusion epilogue)
// for transcendental ops that need a host import.
func collectImports(plan *tuner.Plan) []string {
	seen := map[string]bool{}
	var order []string
	mark := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	walk := func(e *alu.Exp) {
		for _, n := range e.Collect(func(*alu.Exp) bool { return true }) {
			if name, ok := unaryImportName(n.Op); ok {
				mark(name)
			}
			if n.Op == alu.OpPow {
				mark("pow")
			}
		}
	}
	walk(plan.Exp)
	if plan.Reduction != nil && plan.Reduction.Fusion != nil {
		walk(plan.Reduction.Fusion)
	}
	return order
}

func (c *compiler) compile(e *alu.Exp) []byte {
	switch e.Op {
	case alu.OpConst:
		v := e.Arg.(float64)
		if stackType(e.Dtype) == valI32 {
			return append([]byte{opI32Const}, sleb128(int64(v))...)
		}
		return append([]byte{opF64Const}, f64bytes(v)...)

	case alu.OpSpecial:
		name := e.Arg.(alu.SpecialArg).Name
		switch name {
		case alu.Gidx:
			return localGet(c.loc.gidx)
		case alu.Ridx:
			return localGet(c.loc.ridx)
		case alu.Acc:
			return localGet(c.loc.acc)
		default:
			// group/unroll/upcast tiling specials are not scheduled by the
			// software WASM backend (it only ever runs the null plan).
			return append([]byte{opI32Const}, sleb128(0)...)
		}

	case alu.OpAdd, alu.OpSub, alu.OpMul, alu.OpDiv, alu.OpMin, alu.OpMax:
		return c.binArith(e)

	case alu.OpIdiv:
		return c.floorDivMod(e, false)
	case alu.OpMod:
		return c.floorDivMod(e, true)

	case alu.OpPow:
		out := c.compile(e.Src[0])
		out = append(out, c.compile(e.Src[1])...)
		return append(append(out, opCall), uleb128(uint64(c.importIdx["pow"]))...)

	case alu.OpNeg:
		x := c.compile(e.Src[0])
		if stackType(e.Dtype) == valI32 {
			return append(append([]byte{opI32Const, 0}, x...), opI32Sub)
		}
		return append(x, opF64Neg)

	case alu.OpRecip:
		x := c.compile(e.Src[0])
		if stackType(e.Dtype) == valI32 {
			return append(append([]byte{opI32Const, 1}, x...), opI32DivS)
		}
		one := append([]byte{opF64Const}, f64bytes(1)...)
		return append(append(one, x...), opF64Div)

	case alu.OpSqrt:
		return append(c.compile(e.Src[0]), opF64Sqrt)
	case alu.OpAbs:
		return append(c.compile(e.Src[0]), opF64Abs)

	case alu.OpExp, alu.OpLog, alu.OpSin, alu.OpCos, alu.OpTan, alu.OpAtan, alu.OpAsin, alu.OpErf, alu.OpErfc:
		name, _ := unaryImportName(e.Op)
		out := c.compile(e.Src[0])
		return append(append(out, opCall), uleb128(uint64(c.importIdx[name]))...)

	case alu.OpEq, alu.OpNe, alu.OpLt, alu.OpLe, alu.OpGt, alu.OpGe:
		return c.compare(e)

	case alu.OpWhere:
		x := c.compile(e.Src[1])
		y := c.compile(e.Src[2])
		cond := c.compile(e.Src[0])
		out := append(x, y...)
		out = append(out, cond...)
		return append(out, opSelect)

	case alu.OpCast:
		x := c.compile(e.Src[0])
		srcT, dstT := stackType(e.Src[0].Dtype), stackType(e.Dtype)
		if srcT == dstT {
			return x
		}
		if dstT == valI32 {
			return append(x, opI32TruncF64S)
		}
		return append(x, opF64ConvertI32S)

	case alu.OpGlobalIndex:
		return c.globalIndex(e)

	default:
		panic(errors.Capability("wasmbackend", "unsupported op for WASM codegen: %v", e.Op))
	}
}

func localGet(idx int) []byte { return append([]byte{opLocalGet}, uleb128(uint64(idx))...) }
func localSet(idx int) []byte { return append([]byte{opLocalSet}, uleb128(uint64(idx))...) }

func (c *compiler) binArith(e *alu.Exp) []byte {
	a := c.compile(e.Src[0])
	b := c.compile(e.Src[1])
	out := append(a, b...)
	isInt := stackType(e.Dtype) == valI32
	var op byte
	switch e.Op {
	case alu.OpAdd:
		if isInt {
			op = opI32Add
		} else {
			op = opF64Add
		}
	case alu.OpSub:
		if isInt {
			op = opI32Sub
		} else {
			op = opF64Sub
		}
	case alu.OpMul:
		if isInt {
			op = opI32Mul
		} else {
			op = opF64Mul
		}
	case alu.OpDiv:
		if isInt {
			op = opI32DivS
		} else {
			op = opF64Div
		}
	case alu.OpMin, alu.OpMax:
		if isInt {
			// integer min/max: a b a b cmp select
			cmp := byte(opI32LtS)
			if e.Op == alu.OpMax {
				cmp = opI32GtS
			}
			out = append(out, a...)
			out = append(out, b...)
			return append(out, cmp, opSelect)
		}
		op = opF64Min
		if e.Op == alu.OpMax {
			op = opF64Max
		}
	}
	return append(out, op)
}

func (c *compiler) compare(e *alu.Exp) []byte {
	a := c.compile(e.Src[0])
	b := c.compile(e.Src[1])
	out := append(a, b...)
	isInt := stackType(e.Src[0].Dtype) == valI32
	var op byte
	switch e.Op {
	case alu.OpEq:
		if isInt {
			op = opI32Eq
		} else {
			op = opF64Eq
		}
	case alu.OpNe:
		if isInt {
			op = opI32Ne
		} else {
			op = opF64Ne
		}
	case alu.OpLt:
		if isInt {
			op = opI32LtS
		} else {
			op = opF64Lt
		}
	case alu.OpLe:
		if isInt {
			op = opI32LeS
		} else {
			op = opF64Le
		}
	case alu.OpGt:
		if isInt {
			op = opI32GtS
		} else {
			op = opF64Gt
		}
	case alu.OpGe:
		if isInt {
			op = opI32GeS
		} else {
			op = opF64Ge
		}
	}
	return append(out, op)
}

// floorDivMod implements floor-semantics integer or float division/modulo,
// matching alu.floorDiv/floorMod, via a truncating op plus a sign-aware
// correction (WASM's native div_s/rem_s truncate toward zero).
func (c *compiler) floorDivMod(e *alu.Exp, wantMod bool) []byte {
	if stackType(e.Dtype) == valF64 {
		return c.floorDivModFloat(e, wantMod)
	}
	l := c.loc
	var out []byte
	out = append(out, c.compile(e.Src[0])...)
	out = append(out, localSet(l.tiA)...)
	out = append(out, c.compile(e.Src[1])...)
	out = append(out, localSet(l.tiB)...)

	out = append(out, localGet(l.tiA)...)
	out = append(out, localGet(l.tiB)...)
	out = append(out, opI32DivS)
	out = append(out, localSet(l.tiQ)...)

	out = append(out, localGet(l.tiA)...)
	out = append(out, localGet(l.tiB)...)
	out = append(out, opI32RemS)
	out = append(out, localSet(l.tiR)...)

	// adjust := (r != 0) && ((a < 0) != (b < 0))
	out = append(out, localGet(l.tiR)...)
	out = append(out, opI32Const, 0)
	out = append(out, opI32Ne)
	out = append(out, localGet(l.tiA)...)
	out = append(out, opI32Const, 0)
	out = append(out, opI32LtS)
	out = append(out, localGet(l.tiB)...)
	out = append(out, opI32Const, 0)
	out = append(out, opI32LtS)
	out = append(out, opI32Ne)
	out = append(out, opI32And)

	out = append(out, opIf, byte(valI32))
	if wantMod {
		out = append(out, localGet(l.tiR)...)
		out = append(out, localGet(l.tiB)...)
		out = append(out, opI32Add)
	} else {
		out = append(out, localGet(l.tiQ)...)
		out = append(out, opI32Const, 1)
		out = append(out, opI32Sub)
	}
	out = append(out, opElse)
	if wantMod {
		out = append(out, localGet(l.tiR)...)
	} else {
		out = append(out, localGet(l.tiQ)...)
	}
	out = append(out, opEnd)
	return out
}

// floorDivModFloat computes floor(a/b) or a - b*floor(a/b) without
// branching: f64.floor is a native opcode so no sign-correction is needed.
func (c *compiler) floorDivModFloat(e *alu.Exp, wantMod bool) []byte {
	l := c.loc
	var out []byte
	out = append(out, c.compile(e.Src[0])...)
	out = append(out, localSet(l.tfA)...)
	out = append(out, c.compile(e.Src[1])...)
	out = append(out, localSet(l.tfB)...)

	floorDiv := func() []byte {
		var fd []byte
		fd = append(fd, localGet(l.tfA)...)
		fd = append(fd, localGet(l.tfB)...)
		fd = append(fd, opF64Div, opF64Floor)
		return fd
	}
	if !wantMod {
		return append(out, floorDiv()...)
	}
	// mod = a - b*floor(a/b)
	out = append(out, localGet(l.tfA)...)
	out = append(out, floorDiv()...)
	out = append(out, localGet(l.tfB)...)
	out = append(out, opF64Mul)
	out = append(out, opF64Sub)
	return out
}

func (c *compiler) globalIndex(e *alu.Exp) []byte {
	gid := e.Arg.(alu.GlobalIndexArg).Gid
	var out []byte
	out = append(out, c.compile(e.Src[0])...)
	out = append(out, localSet(c.loc.scratchIdx)...)
	out = append(out, localGet(c.offsetParamOf(gid))...)
	out = append(out, localGet(c.loc.scratchIdx)...)
	out = append(out, opI32Const, 8)
	out = append(out, opI32Mul)
	out = append(out, opI32Add)
	if stackType(e.Dtype) == valF64 {
		out = append(out, opF64Load, 3, 0)
	} else {
		out = append(out, opI32Load, 2, 0)
	}
	return out
}

// buildPlan resolves the kernel via the Null tuning path (the WASM backend
// runs a single-threaded scalar loop; it never tiles).
func buildPlan(k *kernel.Kernel) *tuner.Plan {
	return tuner.Null(k)
}
