// Package refbackend implements the reference backend: a tree-walking
// evaluator over the ALU IR with no tiling. It is the correctness oracle
// every other backend is tested against.
//
// The dispatch loop is a plain interpreter: a flat buffer store, a
// mutex-guarded refcount table, and a straight-line per-element evaluation
// rather than generated code.
package refbackend

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
	"lax/internal/tuner"
)

var log = backend.NewLogger("refbackend")

type buffer struct {
	dtype dtype.Type
	data  []float64
	refs  int32
}

// Ref is the reference backend's implementation of backend.Backend.
type Ref struct {
	mu      sync.RWMutex
	buffers map[uuid.UUID]*buffer

	allocs int64
	disp   int64
	reads  int64
}

// New constructs a reference backend instance.
func New() *Ref {
	return &Ref{buffers: map[uuid.UUID]*buffer{}}
}

func (r *Ref) Name() string { return "reference" }

func (r *Ref) Malloc(_ context.Context, dt dtype.Type, n int) (backend.Handle, error) {
	if n < 0 {
		return backend.Handle{}, errors.Usage("refbackend", "malloc: negative size %d", n)
	}
	h := backend.Handle{ID: uuid.New()}
	r.mu.Lock()
	r.buffers[h.ID] = &buffer{dtype: dt, data: make([]float64, n), refs: 1}
	r.mu.Unlock()
	atomic.AddInt64(&r.allocs, 1)
	log.Debug("malloc", zap.String("handle", h.ID.String()), zap.String("size", humanize.Bytes(uint64(n*8))))
	return h, nil
}

func (r *Ref) IncRef(h backend.Handle) {
	r.mu.RLock()
	b, ok := r.buffers[h.ID]
	r.mu.RUnlock()
	if ok {
		atomic.AddInt32(&b.refs, 1)
	}
}

func (r *Ref) DecRef(h backend.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.buffers[h.ID]
	if !ok {
		return errors.Handle("refbackend", "decref: unknown or already freed handle %s", h.ID)
	}
	if atomic.AddInt32(&b.refs, -1) <= 0 {
		delete(r.buffers, h.ID)
		log.Debug("freed", zap.String("handle", h.ID.String()))
	}
	return nil
}

func (r *Ref) Write(_ context.Context, h backend.Handle, data []float64) error {
	r.mu.RLock()
	b, ok := r.buffers[h.ID]
	r.mu.RUnlock()
	if !ok {
		return errors.Handle("refbackend", "write: unknown handle %s", h.ID)
	}
	if len(data) != len(b.data) {
		return errors.Usage("refbackend", "write: size mismatch, buffer holds %d elements, got %d", len(b.data), len(data))
	}
	copy(b.data, data)
	return nil
}

func (r *Ref) Read(_ context.Context, h backend.Handle, offset, n int) ([]float64, error) {
	r.mu.RLock()
	b, ok := r.buffers[h.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Handle("refbackend", "read: unknown handle %s", h.ID)
	}
	if offset < 0 || offset+n > len(b.data) {
		return nil, errors.Usage("refbackend", "read: range [%d,%d) out of bounds for buffer of size %d", offset, offset+n, len(b.data))
	}
	out := make([]float64, n)
	copy(out, b.data[offset:offset+n])
	atomic.AddInt64(&r.reads, int64(n)*8)
	return out, nil
}

// Compiled is the reference backend's prepared artifact: the lowered plan
// plus the dtype the output buffer must be read back as.
type Compiled struct {
	plan   *tuner.Plan
	dtype  dtype.Type
	size   int
	numIn  int
}

func (r *Ref) Prepare(_ context.Context, k *kernel.Kernel, outShape []int) (backend.Compiled, error) {
	_ = outShape // the reference backend never tiles; outShape is informational only
	plan := tuner.Null(k)
	log.Debug("prepared", zap.Int("threadCount", plan.ThreadCount), zap.Int("numInputs", k.NumInputs))
	return &Compiled{plan: plan, dtype: k.Exp.Dtype, size: k.Size, numIn: k.NumInputs}, nil
}

func (r *Ref) Dispatch(_ context.Context, c backend.Compiled, inputs []backend.Handle, output backend.Handle) error {
	comp, ok := c.(*Compiled)
	if !ok {
		return errors.Usage("refbackend", "dispatch: not a reference-backend artifact")
	}
	if len(inputs) != comp.numIn {
		return errors.Usage("refbackend", "dispatch: expected %d inputs, got %d", comp.numIn, len(inputs))
	}

	r.mu.RLock()
	inBufs := make([]*buffer, len(inputs))
	for i, h := range inputs {
		b, ok := r.buffers[h.ID]
		if !ok {
			r.mu.RUnlock()
			return errors.Handle("refbackend", "dispatch: unknown input handle %s", h.ID)
		}
		inBufs[i] = b
	}
	outBuf, ok := r.buffers[output.ID]
	r.mu.RUnlock()
	if !ok {
		return errors.Handle("refbackend", "dispatch: unknown output handle %s", output.ID)
	}

	read := func(gid int, idx int64) float64 {
		if gid < 0 || gid >= len(inBufs) {
			panic(errors.Usage("refbackend", "dispatch: global read references undeclared input %d", gid))
		}
		if idx < 0 || int(idx) >= len(inBufs[gid].data) {
			panic(errors.Usage("refbackend", "dispatch: global read index %d out of bounds for input %d", idx, gid))
		}
		return inBufs[gid].data[idx]
	}

	for g := 0; g < comp.plan.ThreadCount; g++ {
		outBuf.data[g] = evalOne(comp.plan, int64(g), read)
	}
	atomic.AddInt64(&r.disp, 1)
	log.Debug("dispatch", zap.Int("numInputs", len(inBufs)), zap.String("outputSize", humanize.Bytes(uint64(len(outBuf.data)*8))))
	return nil
}

// evalOne computes a single output scalar, running the reduction loop (if
// any) before evaluating the fusion epilogue.
func evalOne(plan *tuner.Plan, gidx int64, read alu.GlobalReader) float64 {
	if plan.Reduction == nil {
		return plan.Exp.Evaluate(alu.Vars{Gidx: gidx}, read)
	}
	acc := plan.Reduction.Op.Identity()
	for ridx := int64(0); ridx < int64(plan.Reduction.Size); ridx++ {
		v := plan.Exp.Evaluate(alu.Vars{Gidx: gidx, Ridx: ridx}, read)
		acc = plan.Reduction.Op.Apply(acc, v)
	}
	if plan.Reduction.Fusion != nil {
		acc = plan.Reduction.Fusion.Evaluate(alu.Vars{Gidx: gidx, Acc: acc}, read)
	}
	return acc
}

func (r *Ref) Stats() backend.Stats {
	return backend.Stats{
		Allocations: atomic.LoadInt64(&r.allocs),
		Dispatches:  atomic.LoadInt64(&r.disp),
		BytesRead:   atomic.LoadInt64(&r.reads),
	}
}
