package frontend

import (
	"context"
	"sort"
	"strings"

	"lax/internal/errors"
)

// Einsum contracts one or two operands per a subscript spec such as
// "ij,jk->ik", "i,i->", "ij->ji" or "ii->". Labels are single letters;
// omitting "->" infers the output as the alphabetically sorted labels
// that appear exactly once, the numpy convention. An arbitrary
// contraction resists a single ALU reduction the same way the
// arg-reduces do (the loop nest depends on the spec, not just one axis),
// so operands are realized and contracted host-side, and the result is
// re-uploaded as a fresh array.
func Einsum(ctx context.Context, spec string, operands ...*Array) (*Array, error) {
	terms, outLabels, err := parseEinsum(spec, operands)
	if err != nil {
		return nil, err
	}

	// Bind every label to a dimension size, checking consistency.
	dims := map[rune]int{}
	for oi, term := range terms {
		for ai, l := range term {
			d := operands[oi].Shape[ai]
			if prev, ok := dims[l]; ok && prev != d {
				return nil, errors.Usage("frontend", "einsum: label %q bound to both %d and %d", string(l), prev, d)
			}
			dims[l] = d
		}
	}
	for _, l := range outLabels {
		if _, ok := dims[l]; !ok {
			return nil, errors.Usage("frontend", "einsum: output label %q does not appear in any operand", string(l))
		}
	}

	var summed []rune
	inOut := map[rune]bool{}
	for _, l := range outLabels {
		inOut[l] = true
	}
	for l := range dims {
		if !inOut[l] {
			summed = append(summed, l)
		}
	}
	sort.Slice(summed, func(i, j int) bool { return summed[i] < summed[j] })

	datas := make([][]float64, len(operands))
	for i, a := range operands {
		d, err := a.Data(ctx)
		if err != nil {
			return nil, err
		}
		datas[i] = d
	}

	outShape := make([]int, len(outLabels))
	for i, l := range outLabels {
		outShape[i] = dims[l]
	}
	resultShape := outShape
	if len(resultShape) == 0 {
		resultShape = []int{1}
	}

	// Precompute, per operand, the stride each loop label contributes.
	// Repeated labels within one term (e.g. "ii") sum their strides, so a
	// single coordinate walks the diagonal.
	loop := append(append([]rune(nil), outLabels...), summed...)
	strideFor := make([]map[rune]int, len(operands))
	for oi, term := range terms {
		strides := rowMajorStrides(operands[oi].Shape)
		m := map[rune]int{}
		for ai, l := range term {
			m[l] += strides[ai]
		}
		strideFor[oi] = m
	}

	coords := make(map[rune]int, len(loop))
	out := make([]float64, size(resultShape))
	var contract func(depth int, outIdx int)
	contract = func(depth int, outIdx int) {
		if depth == len(loop) {
			prod := 1.0
			for oi := range operands {
				off := 0
				for l, s := range strideFor[oi] {
					off += coords[l] * s
				}
				prod *= datas[oi][off]
			}
			out[outIdx] += prod
			return
		}
		l := loop[depth]
		for v := 0; v < dims[l]; v++ {
			coords[l] = v
			idx := outIdx
			if depth < len(outLabels) {
				idx = outIdx*dims[l] + v
			}
			contract(depth+1, idx)
		}
	}
	contract(0, 0)

	return NewFromData(ctx, operands[0].Device, operands[0].DType, resultShape, out)
}

// parseEinsum validates the spec against the operands and returns the
// per-operand label terms plus the output labels.
func parseEinsum(spec string, operands []*Array) ([][]rune, []rune, error) {
	if len(operands) == 0 || len(operands) > 2 {
		return nil, nil, errors.Usage("frontend", "einsum: want 1 or 2 operands, got %d", len(operands))
	}
	for _, a := range operands[1:] {
		if a.DType != operands[0].DType {
			return nil, nil, errors.Usage("frontend", "einsum: dtype mismatch %v vs %v", a.DType, operands[0].DType)
		}
	}
	s := strings.ReplaceAll(spec, " ", "")
	lhs := s
	rhs := ""
	explicit := false
	if i := strings.Index(s, "->"); i >= 0 {
		lhs, rhs = s[:i], s[i+2:]
		explicit = true
	}

	parts := strings.Split(lhs, ",")
	if len(parts) != len(operands) {
		return nil, nil, errors.Usage("frontend", "einsum: spec names %d operands, got %d", len(parts), len(operands))
	}
	terms := make([][]rune, len(parts))
	counts := map[rune]int{}
	for i, part := range parts {
		term := []rune(part)
		if len(term) != len(operands[i].Shape) {
			return nil, nil, errors.Usage("frontend", "einsum: term %q has %d labels, operand has rank %d", part, len(term), len(operands[i].Shape))
		}
		for _, l := range term {
			if !isEinsumLabel(l) {
				return nil, nil, errors.Usage("frontend", "einsum: invalid label %q", string(l))
			}
			counts[l]++
		}
		terms[i] = term
	}

	var outLabels []rune
	if explicit {
		seen := map[rune]bool{}
		for _, l := range rhs {
			if !isEinsumLabel(l) {
				return nil, nil, errors.Usage("frontend", "einsum: invalid output label %q", string(l))
			}
			if seen[l] {
				return nil, nil, errors.Usage("frontend", "einsum: duplicate output label %q", string(l))
			}
			seen[l] = true
			outLabels = append(outLabels, l)
		}
	} else {
		for l, c := range counts {
			if c == 1 {
				outLabels = append(outLabels, l)
			}
		}
		sort.Slice(outLabels, func(i, j int) bool { return outLabels[i] < outLabels[j] })
	}
	return terms, outLabels, nil
}

func isEinsumLabel(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
