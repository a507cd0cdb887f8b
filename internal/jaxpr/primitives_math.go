package jaxpr

import (
	"lax/internal/alu"
	"lax/internal/dtype"
	"lax/internal/errors"
)

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func binaryElementwiseEval(invars []Aval, params map[string]interface{}) ([]Aval, error) {
	if len(invars) != 2 {
		return nil, errors.Usage("jaxpr", "binary op wants 2 operands, got %d", len(invars))
	}
	if !sameShape(invars[0].Shape, invars[1].Shape) {
		return nil, errors.Usage("jaxpr", "binary op: shape mismatch %v vs %v", invars[0].Shape, invars[1].Shape)
	}
	return []Aval{{Shape: invars[0].Shape, DType: invars[0].DType}}, nil
}

func unaryElementwiseEval(invars []Aval, params map[string]interface{}) ([]Aval, error) {
	if len(invars) != 1 {
		return nil, errors.Usage("jaxpr", "unary op wants 1 operand, got %d", len(invars))
	}
	return []Aval{invars[0]}, nil
}

func emit1(b Builder, prim string, inputs []Atom, params map[string]interface{}) (Atom, error) {
	out, err := b.Emit(prim, inputs, params)
	if err != nil {
		return Atom{}, err
	}
	return out[0], nil
}

func init() {
	Register(&Primitive{
		Name: "add", Kind: Elementwise,
		AbstractEval: binaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Add(a[0], a[1]) },
		Jvp: func(b Builder, _ Atom, _, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "add", []Atom{t[0], t[1]}, nil)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, _ map[string]interface{}) ([]Atom, error) {
			return []Atom{ct, ct}, nil
		},
	})

	Register(&Primitive{
		Name: "sub", Kind: Elementwise,
		AbstractEval: binaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Sub(a[0], a[1]) },
		Jvp: func(b Builder, _ Atom, _, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "sub", []Atom{t[0], t[1]}, nil)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, _ map[string]interface{}) ([]Atom, error) {
			negCt, err := emit1(b, "neg", []Atom{ct}, nil)
			if err != nil {
				return nil, err
			}
			return []Atom{ct, negCt}, nil
		},
	})

	Register(&Primitive{
		Name: "mul", Kind: Elementwise,
		AbstractEval: binaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Mul(a[0], a[1]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			xty, err := emit1(b, "mul", []Atom{x[0], t[1]}, map[string]interface{}{"linearIn": 1})
			if err != nil {
				return Atom{}, err
			}
			txy, err := emit1(b, "mul", []Atom{t[0], x[1]}, map[string]interface{}{"linearIn": 0})
			if err != nil {
				return Atom{}, err
			}
			return emit1(b, "add", []Atom{xty, txy}, nil)
		},
		// mul only transposes through a linearized (jvp-emitted) program,
		// where by construction exactly one operand is the fixed primal
		// value and the other carries the cotangent. params["linearIn"]
		// (set by the tangent-linear builder) picks which.
		Transpose: func(b Builder, ct Atom, invars []Atom, params map[string]interface{}) ([]Atom, error) {
			linearIn := 0
			if v, ok := params["linearIn"]; ok {
				linearIn = v.(int)
			}
			other := invars[1-linearIn]
			ctIn, err := emit1(b, "mul", []Atom{ct, other}, nil)
			if err != nil {
				return nil, err
			}
			out := make([]Atom, 2)
			out[linearIn] = ctIn
			return out, nil
		},
	})

	Register(&Primitive{
		Name: "div", Kind: Elementwise,
		AbstractEval: binaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Div(a[0], a[1]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			txOverY, err := emit1(b, "div", []Atom{t[0], x[1]}, nil)
			if err != nil {
				return Atom{}, err
			}
			xOverY, err := emit1(b, "div", []Atom{x[0], x[1]}, nil)
			if err != nil {
				return Atom{}, err
			}
			xOverYTy, err := emit1(b, "mul", []Atom{xOverY, t[1]}, nil)
			if err != nil {
				return Atom{}, err
			}
			xOverYTyOverY, err := emit1(b, "div", []Atom{xOverYTy, x[1]}, nil)
			if err != nil {
				return Atom{}, err
			}
			return emit1(b, "sub", []Atom{txOverY, xOverYTyOverY}, nil)
		},
	})

	Register(&Primitive{
		Name: "neg", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Neg(a[0]) },
		Jvp: func(b Builder, _ Atom, _, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "neg", []Atom{t[0]}, nil)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, _ map[string]interface{}) ([]Atom, error) {
			negCt, err := emit1(b, "neg", []Atom{ct}, nil)
			if err != nil {
				return nil, err
			}
			return []Atom{negCt}, nil
		},
	})

	Register(&Primitive{
		Name: "sin", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Sin(a[0]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			cx, err := emit1(b, "cos", []Atom{x[0]}, nil)
			if err != nil {
				return Atom{}, err
			}
			return emit1(b, "mul", []Atom{cx, t[0]}, map[string]interface{}{"linearIn": 1})
		},
	})

	Register(&Primitive{
		Name: "cos", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Cos(a[0]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			sx, err := emit1(b, "sin", []Atom{x[0]}, nil)
			if err != nil {
				return Atom{}, err
			}
			negSx, err := emit1(b, "neg", []Atom{sx}, nil)
			if err != nil {
				return Atom{}, err
			}
			return emit1(b, "mul", []Atom{negSx, t[0]}, map[string]interface{}{"linearIn": 1})
		},
	})

	Register(&Primitive{
		Name: "exp", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.ExpOf(a[0]) },
		Jvp: func(b Builder, primalOut Atom, _, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "mul", []Atom{primalOut, t[0]}, map[string]interface{}{"linearIn": 1})
		},
	})

	Register(&Primitive{
		Name: "log", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Log(a[0]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "div", []Atom{t[0], x[0]}, nil)
		},
	})

	Register(&Primitive{
		Name: "sqrt", Kind: Elementwise,
		AbstractEval: unaryElementwiseEval,
		Lower:        func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Sqrt(a[0]) },
		Jvp: func(b Builder, primalOut Atom, _, t []Atom, _ map[string]interface{}) (Atom, error) {
			two := ConstAtom(2)
			twoSqrt, err := emit1(b, "mul", []Atom{two, primalOut}, nil)
			if err != nil {
				return Atom{}, err
			}
			return emit1(b, "div", []Atom{t[0], twoSqrt}, nil)
		},
	})

	Register(&Primitive{
		Name: "where", Kind: Elementwise,
		AbstractEval: func(invars []Aval, _ map[string]interface{}) ([]Aval, error) {
			if len(invars) != 3 {
				return nil, errors.Usage("jaxpr", "where wants 3 operands, got %d", len(invars))
			}
			if invars[0].DType != dtype.Bool {
				return nil, errors.Usage("jaxpr", "where: condition must be bool, got %v", invars[0].DType)
			}
			if !sameShape(invars[0].Shape, invars[1].Shape) || !sameShape(invars[1].Shape, invars[2].Shape) {
				return nil, errors.Usage("jaxpr", "where: shape mismatch")
			}
			return []Aval{{Shape: invars[1].Shape, DType: invars[1].DType}}, nil
		},
		Lower: func(a []*alu.Exp, _ map[string]interface{}) *alu.Exp { return alu.Where(a[0], a[1], a[2]) },
		Jvp: func(b Builder, _ Atom, x, t []Atom, _ map[string]interface{}) (Atom, error) {
			return emit1(b, "where", []Atom{x[0], t[1], t[2]}, nil)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, _ map[string]interface{}) ([]Atom, error) {
			zero := ConstAtom(0)
			ctX, err := emit1(b, "where", []Atom{invars[0], ct, zero}, nil)
			if err != nil {
				return nil, err
			}
			ctY, err := emit1(b, "where", []Atom{invars[0], zero, ct}, nil)
			if err != nil {
				return nil, err
			}
			return []Atom{noCotangent, ctX, ctY}, nil
		},
	})

	Register(&Primitive{
		Name: "reduce_sum", Kind: Reduction,
		AbstractEval: func(invars []Aval, params map[string]interface{}) ([]Aval, error) {
			axis := params["axis"].(int)
			keepdims, _ := params["keepdims"].(bool)
			if axis < 0 {
				axis += len(invars[0].Shape)
			}
			shape := make([]int, 0, len(invars[0].Shape))
			for i, d := range invars[0].Shape {
				if i == axis {
					if keepdims {
						shape = append(shape, 1)
					}
					continue
				}
				shape = append(shape, d)
			}
			if len(shape) == 0 {
				shape = []int{1}
			}
			return []Aval{{Shape: shape, DType: invars[0].DType}}, nil
		},
		Jvp: func(b Builder, _ Atom, _, t []Atom, params map[string]interface{}) (Atom, error) {
			return emit1(b, "reduce_sum", []Atom{t[0]}, params)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, params map[string]interface{}) ([]Atom, error) {
			bcast, err := emit1(b, "broadcast_in_dim", []Atom{ct}, map[string]interface{}{
				"shape": invars[0].AvalOf(dtype.F32).Shape,
				"axis":  params["axis"],
			})
			if err != nil {
				return nil, err
			}
			return []Atom{bcast}, nil
		},
	})

	Register(&Primitive{
		Name: "reshape", Kind: Movement,
		AbstractEval: func(invars []Aval, params map[string]interface{}) ([]Aval, error) {
			shape := params["shape"].([]int)
			in := invars[0]
			if in.Size() != (Aval{Shape: shape}).Size() {
				return nil, errors.Usage("jaxpr", "reshape: size mismatch %v -> %v", in.Shape, shape)
			}
			return []Aval{{Shape: shape, DType: in.DType}}, nil
		},
		Jvp: func(b Builder, _ Atom, _, t []Atom, params map[string]interface{}) (Atom, error) {
			return emit1(b, "reshape", []Atom{t[0]}, params)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, _ map[string]interface{}) ([]Atom, error) {
			orig, err := emit1(b, "reshape", []Atom{ct}, map[string]interface{}{"shape": invars[0].AvalOf(dtype.F32).Shape})
			if err != nil {
				return nil, err
			}
			return []Atom{orig}, nil
		},
	})

	Register(&Primitive{
		Name: "transpose", Kind: Movement,
		AbstractEval: func(invars []Aval, params map[string]interface{}) ([]Aval, error) {
			perm := params["perm"].([]int)
			in := invars[0]
			shape := make([]int, len(perm))
			for i, p := range perm {
				shape[i] = in.Shape[p]
			}
			return []Aval{{Shape: shape, DType: in.DType}}, nil
		},
		Jvp: func(b Builder, _ Atom, _, t []Atom, params map[string]interface{}) (Atom, error) {
			return emit1(b, "transpose", []Atom{t[0]}, params)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, params map[string]interface{}) ([]Atom, error) {
			perm := params["perm"].([]int)
			inverse := make([]int, len(perm))
			for i, p := range perm {
				inverse[p] = i
			}
			orig, err := emit1(b, "transpose", []Atom{ct}, map[string]interface{}{"perm": inverse})
			if err != nil {
				return nil, err
			}
			return []Atom{orig}, nil
		},
	})
}

func init() {
	Register(&Primitive{
		Name: "broadcast_in_dim", Kind: Movement,
		AbstractEval: func(invars []Aval, params map[string]interface{}) ([]Aval, error) {
			shape := params["shape"].([]int)
			return []Aval{{Shape: shape, DType: invars[0].DType}}, nil
		},
		Jvp: func(b Builder, _ Atom, _, t []Atom, params map[string]interface{}) (Atom, error) {
			return emit1(b, "broadcast_in_dim", []Atom{t[0]}, params)
		},
		Transpose: func(b Builder, ct Atom, invars []Atom, params map[string]interface{}) ([]Atom, error) {
			orig, err := emit1(b, "reduce_sum", []Atom{ct}, map[string]interface{}{
				"axis": params["axis"], "keepdims": false,
			})
			if err != nil {
				return nil, err
			}
			return []Atom{orig}, nil
		},
	})
}

// noCotangent marks an input a Transpose rule is not linear in — where's
// condition never carries a cotangent. The zero Atom (no Var, not a
// const) is unambiguous: a real cotangent is always either a Var or an
// explicit ConstAtom.
var noCotangent Atom
