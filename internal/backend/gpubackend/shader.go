package gpubackend

import (
	"fmt"
	"strings"

	"lax/internal/alu"
	"lax/internal/errors"
	"lax/internal/kernel"
	"lax/internal/tuner"
)

// shaderText renders a tuned plan as HLSL-flavored compute shader source,
// for inspection and for surfacing compilation errors before any
// dispatch happens. It is
// never parsed or executed — the software executor in gpubackend.go
// replays the plan directly against the shared ALU evaluator.
func shaderText(k *kernel.Kernel, plan *tuner.Plan, workgroupSize int) (string, error) {
	var b strings.Builder
	for i := 0; i < k.NumInputs; i++ {
		fmt.Fprintf(&b, "RWStructuredBuffer<float> %s: register(u%d);\n", escapeIdent(fmt.Sprintf("buf%d", i)), i)
	}
	outName := escapeIdent("out")
	fmt.Fprintf(&b, "RWStructuredBuffer<float> %s: register(u%d);\n\n", outName, k.NumInputs)

	fmt.Fprintf(&b, "[numthreads(%d, 1, 1)]\n", workgroupSize)
	b.WriteString("void main(uint3 wg: SV_GroupID, uint3 local: SV_GroupThreadID) {\n")
	b.WriteString("    uint batch = wg.x + wg.y * 16384;\n")
	fmt.Fprintf(&b, "    uint %s = batch * %d + local.x;\n", escapeIdent("gidx"), workgroupSize)
	fmt.Fprintf(&b, "    if (%s >= %d) return;\n", escapeIdent("gidx"), plan.ThreadCount)

	sw := &shaderWriter{b: &b}
	if plan.Reduction == nil {
		expr, err := sw.emit(plan.Exp)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "    %s[gidx] = %s;\n", outName, expr)
	} else {
		fmt.Fprintf(&b, "    float acc = %g;\n", plan.Reduction.Op.Identity())
		fmt.Fprintf(&b, "    for (uint ridx = 0; ridx < %d; ridx++) {\n", plan.Reduction.Size)
		expr, err := sw.emit(plan.Exp)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "        acc = %s;\n", reduceCombine(plan.Reduction.Op, "acc", expr))
		b.WriteString("    }\n")
		if plan.Reduction.Fusion != nil {
			fused, err := sw.emit(plan.Reduction.Fusion)
			if err != nil {
				return "", err
			}
			fmt.Fprintf(&b, "    %s[gidx] = %s;\n", outName, fused)
		} else {
			fmt.Fprintf(&b, "    %s[gidx] = acc;\n", outName)
		}
	}
	b.WriteString("}\n")
	return b.String(), nil
}

func reduceCombine(op kernel.ReductionOp, acc, v string) string {
	switch op {
	case kernel.ReduceSum:
		return fmt.Sprintf("%s + %s", acc, v)
	case kernel.ReduceProd:
		return fmt.Sprintf("%s * %s", acc, v)
	case kernel.ReduceMin:
		return fmt.Sprintf("min(%s, %s)", acc, v)
	case kernel.ReduceMax:
		return fmt.Sprintf("max(%s, %s)", acc, v)
	default:
		return acc
	}
}

type shaderWriter struct{ b *strings.Builder }

func (w *shaderWriter) emit(e *alu.Exp) (string, error) {
	switch e.Op {
	case alu.OpConst:
		return fmt.Sprintf("%g", e.Arg.(float64)), nil
	case alu.OpSpecial:
		switch e.Arg.(alu.SpecialArg).Name {
		case alu.Gidx:
			return "gidx", nil
		case alu.Ridx:
			return "ridx", nil
		case alu.Acc:
			return "acc", nil
		default:
			return "0", nil
		}
	case alu.OpAdd:
		return w.bin(e, "+")
	case alu.OpSub:
		return w.bin(e, "-")
	case alu.OpMul:
		return w.bin(e, "*")
	case alu.OpDiv:
		return w.bin(e, "/")
	case alu.OpIdiv:
		return w.call("floor_div", e.Src...)
	case alu.OpMod:
		return w.call("floor_mod", e.Src...)
	case alu.OpMin:
		return w.call("min", e.Src...)
	case alu.OpMax:
		return w.call("max", e.Src...)
	case alu.OpNeg:
		x, err := w.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(-%s)", x), nil
	case alu.OpRecip:
		x, err := w.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(1.0 / %s)", x), nil
	case alu.OpExp, alu.OpLog, alu.OpSin, alu.OpCos, alu.OpTan, alu.OpAtan,
		alu.OpAsin, alu.OpSqrt, alu.OpAbs, alu.OpErf, alu.OpErfc:
		return w.call(e.Op.String(), e.Src...)
	case alu.OpPow:
		return w.call("pow", e.Src...)
	case alu.OpEq:
		return w.bin(e, "==")
	case alu.OpNe:
		return w.bin(e, "!=")
	case alu.OpLt:
		return w.bin(e, "<")
	case alu.OpLe:
		return w.bin(e, "<=")
	case alu.OpGt:
		return w.bin(e, ">")
	case alu.OpGe:
		return w.bin(e, ">=")
	case alu.OpWhere:
		cond, err := w.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		x, err := w.emit(e.Src[1])
		if err != nil {
			return "", err
		}
		y, err := w.emit(e.Src[2])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("select(%s, %s, %s)", cond, x, y), nil
	case alu.OpCast:
		x, err := w.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s)(%s)", hlslType(e.Dtype.String()), x), nil
	case alu.OpGlobalIndex:
		gid := e.Arg.(alu.GlobalIndexArg).Gid
		idx, err := w.emit(e.Src[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("buf%d[%s]", gid, idx), nil
	default:
		return "", errors.Capability("gpubackend", "no shader-text rendering for op %v", e.Op)
	}
}

func (w *shaderWriter) bin(e *alu.Exp, op string) (string, error) {
	a, err := w.emit(e.Src[0])
	if err != nil {
		return "", err
	}
	b, err := w.emit(e.Src[1])
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s %s %s)", a, op, b), nil
}

func (w *shaderWriter) call(name string, args ...*alu.Exp) (string, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := w.emit(a)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", ")), nil
}

func hlslType(dtypeName string) string {
	switch dtypeName {
	case "bool":
		return "bool"
	case "i32", "u32":
		return "int"
	default:
		return "float"
	}
}
