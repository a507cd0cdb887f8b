// Package kernel defines the fused single-output computation unit that
// backends compile and dispatch.
package kernel

import (
	"math"

	"lax/internal/alu"
	"lax/internal/dtype"
)

// ReductionOp names the fold applied across the reduction axis.
type ReductionOp uint8

const (
	ReduceSum ReductionOp = iota
	ReduceProd
	ReduceMin
	ReduceMax
)

func (r ReductionOp) String() string {
	switch r {
	case ReduceSum:
		return "sum"
	case ReduceProd:
		return "prod"
	case ReduceMin:
		return "min"
	case ReduceMax:
		return "max"
	default:
		return "reduce(?)"
	}
}

// Identity returns the fold's identity element.
func (r ReductionOp) Identity() float64 {
	switch r {
	case ReduceSum:
		return 0
	case ReduceProd:
		return 1
	case ReduceMin:
		return math.Inf(1)
	case ReduceMax:
		return math.Inf(-1)
	default:
		return 0
	}
}

// Apply folds acc and v per the reduction op.
func (r ReductionOp) Apply(acc, v float64) float64 {
	switch r {
	case ReduceSum:
		return acc + v
	case ReduceProd:
		return acc * v
	case ReduceMin:
		return minf(acc, v)
	case ReduceMax:
		return maxf(acc, v)
	default:
		return acc
	}
}

// Reduction describes the optional fold a Kernel performs while producing
// each output element.
type Reduction struct {
	Op   ReductionOp
	Size int
	// Fusion is an optional epilogue expression over alu.Acc applied to the
	// accumulator after the fold completes (e.g. dividing by Size for a
	// fused mean).
	Fusion *alu.Exp
}

// Kernel bundles everything a backend needs to compile and run a single
// fused computation: the input count, output element
// count, the expression producing one output scalar per output index
// (reading alu.Gidx and, if Reduction != nil, alu.Ridx), and the optional
// reduction descriptor.
type Kernel struct {
	NumInputs int
	Size      int
	Exp       *alu.Exp
	Reduction *Reduction
}

// OutputIndexVars builds the per-axis index expressions a kernel builder
// must use when constructing GlobalView nodes: the unravelling of a single
// alu.Gidx special (ranging over size) across outShape, row-major. Sharing
// this construction between the frontend's kernel builder and the tuner
// lets the tuner locate and replace these exact (hash-consed) sub-nodes by
// pointer identity when it re-tiles the iteration space.
func OutputIndexVars(outShape []int, size int) []*alu.Exp {
	g := alu.Special(dtype.I32, alu.Gidx, int64(size))
	return unravelRowMajor(g, outShape)
}

// ReductionIndexVar returns the alu.Ridx special a kernel's reduction reads.
func ReductionIndexVar(size int) *alu.Exp {
	return alu.Special(dtype.I32, alu.Ridx, int64(size))
}

func unravelRowMajor(flat *alu.Exp, shape []int) []*alu.Exp {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	out := make([]*alu.Exp, len(shape))
	for i, s := range strides {
		div := alu.Idiv(flat, alu.Const(dtype.I32, float64(s)))
		out[i] = alu.Mod(div, alu.Const(dtype.I32, float64(shape[i])))
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

