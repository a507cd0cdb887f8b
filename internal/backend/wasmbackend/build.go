package wasmbackend

import (
	"lax/internal/kernel"
	"lax/internal/tuner"
)

// compiledModule is the artifact Prepare hands back: the assembled WASM
// binary plus the parameter layout Dispatch needs to marshal its call
// arguments.
type compiledModule struct {
	binary       []byte
	numInputs    int
	hasReduction bool
	threadCount  int
	reduceSize   int
}

func paramCount(numInputs int) int { return numInputs + 3 } // offsets..., outOffset, threadCount, reductionSize

func offsetParam(gid int) int               { return gid }
func outOffsetParam(numInputs int) int      { return numInputs }
func threadCountParam(numInputs int) int    { return numInputs + 1 }
func reductionSizeParam(numInputs int) int  { return numInputs + 2 }

// buildModule lowers k (via the null tuning path) and assembles a complete
// WASM binary computing one output element per thread. The emitted code
// computes in f64 throughout and does not round intermediate results to the
// kernel dtype as the reference evaluator does, so F32/F16 results can
// differ from the reference backend in the last bits.
func buildModule(k *kernel.Kernel) *compiledModule {
	plan := buildPlan(k)
	hasReduction := plan.Reduction != nil
	numInputs := k.NumInputs
	params := paramCount(numInputs)
	loc := newLocals(params, hasReduction)

	importNames := collectImports(plan)
	needUnary, needPow := false, false
	for _, name := range importNames {
		if name == "pow" {
			needPow = true
		} else {
			needUnary = true
		}
	}

	var types [][]byte
	unaryTypeIdx, powTypeIdx := -1, -1
	if needUnary {
		unaryTypeIdx = len(types)
		types = append(types, funcType([]valType{valF64}, []valType{valF64}))
	}
	if needPow {
		powTypeIdx = len(types)
		types = append(types, funcType([]valType{valF64, valF64}, []valType{valF64}))
	}
	runParams := make([]valType, params)
	for i := range runParams {
		runParams[i] = valI32
	}
	runTypeIdx := len(types)
	types = append(types, funcType(runParams, nil))

	importIdx := map[string]int{}
	var importEntries [][]byte
	for i, name := range importNames {
		t := unaryTypeIdx
		if name == "pow" {
			t = powTypeIdx
		}
		importEntries = append(importEntries, importFunc("env", name, uint32(t)))
		importIdx[name] = i
	}

	c := &compiler{
		imports:       importNames,
		importIdx:     importIdx,
		loc:           loc,
		offsetParamOf: offsetParam,
	}
	body := buildBody(k, plan, loc, numInputs, hasReduction, c)

	runFuncIdx := uint32(len(importEntries))

	typeSec := section(sectionType, vec(types))
	importSec := section(sectionImport, vec(importEntries))
	funcSec := section(sectionFunction, vec([][]byte{uleb128(uint64(runTypeIdx))}))
	memSec := section(sectionMemory, vec([][]byte{memoryLimits(1)}))
	exportSec := section(sectionExport, vec([][]byte{
		exportEntry("memory", kindMemory, 0),
		exportEntry("run", kindFunc, runFuncIdx),
	}))
	codeSec := section(sectionCode, vec([][]byte{funcBody(loc.declarations(hasReduction), body)}))

	binary := assemble(typeSec, importSec, funcSec, memSec, exportSec, codeSec)

	reduceSize := 0
	if hasReduction {
		reduceSize = plan.Reduction.Size
	}
	return &compiledModule{
		binary:       binary,
		numInputs:    numInputs,
		hasReduction: hasReduction,
		threadCount:  plan.ThreadCount,
		reduceSize:   reduceSize,
	}
}

// buildBody emits the outer gidx loop (and, when present, the nested
// reduction loop) that evaluates plan.Exp once per output element and
// stores the result to outOffset + gidx*8.
func buildBody(k *kernel.Kernel, plan *tuner.Plan, loc locals, numInputs int, hasReduction bool, c *compiler) []byte {
	var b []byte

	// gidx = 0
	b = append(b, opI32Const, 0)
	b = append(b, localSet(loc.gidx)...)

	// outer loop: while gidx < threadCount
	b = append(b, opBlock, blockTypeVoid)
	b = append(b, opLoop, blockTypeVoid)
	b = append(b, localGet(loc.gidx)...)
	b = append(b, localGet(threadCountParam(numInputs))...)
	b = append(b, opI32GeS)
	b = append(b, opBrIf, 1) // branch to outer block (exit) when gidx >= threadCount

	// address = outOffset + gidx*8
	b = append(b, localGet(outOffsetParam(numInputs))...)
	b = append(b, localGet(loc.gidx)...)
	b = append(b, opI32Const, 8)
	b = append(b, opI32Mul)
	b = append(b, opI32Add)

	b = append(b, computeValue(plan, loc, numInputs, hasReduction, c)...)
	b = append(b, opF64Store, 3, 0)

	// gidx++
	b = append(b, localGet(loc.gidx)...)
	b = append(b, opI32Const, 1)
	b = append(b, opI32Add)
	b = append(b, localSet(loc.gidx)...)
	b = append(b, opBr, 0)
	b = append(b, opEnd) // loop
	b = append(b, opEnd) // block
	b = append(b, opEnd) // function

	return b
}

func computeValue(plan *tuner.Plan, loc locals, numInputs int, hasReduction bool, c *compiler) []byte {
	if !hasReduction {
		return c.compile(plan.Exp)
	}

	var b []byte
	b = append(b, opF64Const)
	b = append(b, f64bytes(plan.Reduction.Op.Identity())...)
	b = append(b, localSet(loc.acc)...)

	b = append(b, opI32Const, 0)
	b = append(b, localSet(loc.ridx)...)

	b = append(b, opBlock, blockTypeVoid)
	b = append(b, opLoop, blockTypeVoid)
	b = append(b, localGet(loc.ridx)...)
	b = append(b, localGet(reductionSizeParam(numInputs))...)
	b = append(b, opI32GeS)
	b = append(b, opBrIf, 1)

	b = append(b, localGet(loc.acc)...)
	b = append(b, c.compile(plan.Exp)...)
	b = append(b, reduceOpcode(plan.Reduction.Op))
	b = append(b, localSet(loc.acc)...)

	b = append(b, localGet(loc.ridx)...)
	b = append(b, opI32Const, 1)
	b = append(b, opI32Add)
	b = append(b, localSet(loc.ridx)...)
	b = append(b, opBr, 0)
	b = append(b, opEnd)
	b = append(b, opEnd)

	if plan.Reduction.Fusion != nil {
		b = append(b, c.compile(plan.Reduction.Fusion)...)
		return b
	}
	return append(b, localGet(loc.acc)...)
}

func reduceOpcode(op kernel.ReductionOp) byte {
	switch op {
	case kernel.ReduceSum:
		return opF64Add
	case kernel.ReduceProd:
		return opF64Mul
	case kernel.ReduceMin:
		return opF64Min
	case kernel.ReduceMax:
		return opF64Max
	default:
		return opF64Add
	}
}
