package routines

import (
	"sort"

	"lax/internal/errors"
)

// sortAxis resolves the axis option (default -1, meaning the last axis)
// against shape's rank; -1 means the last axis.
func sortAxis(shape []int, opts map[string]any) (int, error) {
	axis := -1
	if v, ok := opts["axis"]; ok {
		axis, ok = v.(int)
		if !ok {
			return 0, errors.Usage("routines", "sort: axis must be an int")
		}
	}
	if len(shape) == 0 {
		return 0, errors.Usage("routines", "sort: cannot sort a scalar")
	}
	if axis < 0 {
		axis += len(shape)
	}
	if axis < 0 || axis >= len(shape) {
		return 0, errors.Usage("routines", "sort: axis %d out of bounds for rank %d", axis, len(shape))
	}
	return axis, nil
}

// lanes enumerates every 1D slice of data along axis, returning the
// starting offset and the stride between consecutive elements of the lane.
func lanes(shape []int, axis int) (offsets []int, stride int) {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= shape[i]
	}
	stride = strides[axis]
	outer := make([]int, 0, len(shape)-1)
	outerDims := make([]int, 0, len(shape)-1)
	for i, d := range shape {
		if i == axis {
			continue
		}
		outer = append(outer, strides[i])
		outerDims = append(outerDims, d)
	}
	total := 1
	for _, d := range outerDims {
		total *= d
	}
	offsets = make([]int, total)
	for lin := 0; lin < total; lin++ {
		rem := lin
		off := 0
		for i := len(outerDims) - 1; i >= 0; i-- {
			c := rem % outerDims[i]
			rem /= outerDims[i]
			off += c * outer[i]
		}
		offsets[lin] = off
	}
	return offsets, stride
}

// sortRoutine implements sort(a, axis): a stable ascending
// sort along the chosen axis (the CPU reference semantics every other
// backend must reproduce bit-equivalently).
func sortRoutine(args []Array, opts map[string]any) ([]Array, error) {
	if len(args) != 1 {
		return nil, errors.Usage("routines", "sort: expected 1 argument, got %d", len(args))
	}
	a := args[0]
	axis, err := sortAxis(a.Shape, opts)
	if err != nil {
		return nil, err
	}
	n := a.Shape[axis]
	offsets, stride := lanes(a.Shape, axis)

	out := append([]float64(nil), a.Data...)
	lane := make([]float64, n)
	for _, off := range offsets {
		for i := 0; i < n; i++ {
			lane[i] = out[off+i*stride]
		}
		sort.SliceStable(lane, func(i, j int) bool { return lane[i] < lane[j] })
		for i := 0; i < n; i++ {
			out[off+i*stride] = lane[i]
		}
	}
	return []Array{{Data: out, Shape: a.Shape}}, nil
}

// argsortRoutine implements argsort(a, axis): returns, per
// lane, the permutation of indices that would sort the lane ascending
// (stable, ties broken by original position).
func argsortRoutine(args []Array, opts map[string]any) ([]Array, error) {
	if len(args) != 1 {
		return nil, errors.Usage("routines", "argsort: expected 1 argument, got %d", len(args))
	}
	a := args[0]
	axis, err := sortAxis(a.Shape, opts)
	if err != nil {
		return nil, err
	}
	n := a.Shape[axis]
	offsets, stride := lanes(a.Shape, axis)

	out := make([]float64, len(a.Data))
	lane := make([]float64, n)
	idx := make([]int, n)
	for _, off := range offsets {
		for i := 0; i < n; i++ {
			lane[i] = a.Data[off+i*stride]
			idx[i] = i
		}
		sort.SliceStable(idx, func(i, j int) bool { return lane[idx[i]] < lane[idx[j]] })
		for i := 0; i < n; i++ {
			out[off+i*stride] = float64(idx[i])
		}
	}
	return []Array{{Data: out, Shape: a.Shape}}, nil
}
