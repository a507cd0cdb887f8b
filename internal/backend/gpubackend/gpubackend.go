// Package gpubackend implements the GPU backend: shader-text codegen for
// inspection plus a software executor that replays the tuner's chosen
// upcast/group/reduce decomposition against the shared ALU evaluator. No
// real GPU driver is reachable from a pure-Go module, and the replay keeps
// the null-tuner-vs-GPU-tuner equivalence checkable without one — several
// parallel execution strategies that must all agree with each other.
package gpubackend

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

var log = backend.NewLogger("gpubackend")

type buffer struct {
	dtype dtype.Type
	data  []float64
	refs  int32
}

// GPU is the software-executed implementation of backend.Backend.
type GPU struct {
	mu      sync.RWMutex
	buffers map[uuid.UUID]*buffer
	ids     idAllocator

	allocs int64
	disp   int64
	reads  int64
}

// New constructs a GPU backend instance.
func New() *GPU {
	return &GPU{buffers: map[uuid.UUID]*buffer{}}
}

func (g *GPU) Name() string { return "gpu" }

func (g *GPU) Malloc(_ context.Context, dt dtype.Type, n int) (backend.Handle, error) {
	if n < 0 {
		return backend.Handle{}, errors.Usage("gpubackend", "malloc: negative size %d", n)
	}
	h := backend.Handle{ID: uuid.New()}
	g.mu.Lock()
	g.buffers[h.ID] = &buffer{dtype: dt, data: make([]float64, n), refs: 1}
	g.mu.Unlock()
	atomic.AddInt64(&g.allocs, 1)
	log.Debug("malloc", zap.String("handle", h.ID.String()), zap.String("size", humanize.Bytes(uint64(n*8))))
	return h, nil
}

func (g *GPU) IncRef(h backend.Handle) {
	g.mu.RLock()
	b, ok := g.buffers[h.ID]
	g.mu.RUnlock()
	if ok {
		atomic.AddInt32(&b.refs, 1)
	}
}

func (g *GPU) DecRef(h backend.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	b, ok := g.buffers[h.ID]
	if !ok {
		return errors.Handle("gpubackend", "decref: unknown or already freed handle %s", h.ID)
	}
	if atomic.AddInt32(&b.refs, -1) <= 0 {
		delete(g.buffers, h.ID)
		log.Debug("freed", zap.String("handle", h.ID.String()))
	}
	return nil
}

func (g *GPU) Write(_ context.Context, h backend.Handle, data []float64) error {
	g.mu.RLock()
	b, ok := g.buffers[h.ID]
	g.mu.RUnlock()
	if !ok {
		return errors.Handle("gpubackend", "write: unknown handle %s", h.ID)
	}
	if len(data) != len(b.data) {
		return errors.Usage("gpubackend", "write: size mismatch, buffer holds %d elements, got %d", len(b.data), len(data))
	}
	copy(b.data, data)
	return nil
}

func (g *GPU) Read(_ context.Context, h backend.Handle, offset, n int) ([]float64, error) {
	g.mu.RLock()
	b, ok := g.buffers[h.ID]
	g.mu.RUnlock()
	if !ok {
		return nil, errors.Handle("gpubackend", "read: unknown handle %s", h.ID)
	}
	if offset < 0 || offset+n > len(b.data) {
		return nil, errors.Usage("gpubackend", "read: range [%d,%d) out of bounds for buffer of size %d", offset, offset+n, len(b.data))
	}
	out := make([]float64, n)
	copy(out, b.data[offset:offset+n])
	atomic.AddInt64(&g.reads, int64(n)*8)
	return out, nil
}

// Compiled is the GPU backend's prepared artifact: the tuned plan, its
// rendered shader text (kept for inspection/debugging), and the grid the
// shader would be dispatched over on real hardware.
type Compiled struct {
	plan      *tuner.Plan
	shaderSrc string
	gridX     int
	gridY     int
	numIn     int
	shaderMod ShaderModuleID
	pipeline  PipelineID
}

func (g *GPU) Prepare(_ context.Context, k *kernel.Kernel, outShape []int) (backend.Compiled, error) {
	plan := tuner.GPU(k, outShape)

	workgroupSize := 64
	if plan.ThreadCount < workgroupSize {
		workgroupSize = plan.ThreadCount
		if workgroupSize < 1 {
			workgroupSize = 1
		}
	}
	numWorkgroups := (plan.ThreadCount + workgroupSize - 1) / workgroupSize
	gridX, gridY := gridDims(numWorkgroups)

	src, err := shaderText(k, plan, workgroupSize)
	if err != nil {
		return nil, errors.Compilation("gpubackend", "shader codegen failed: %v", err)
	}

	log.Debug("prepared",
		zap.Int("threadCount", plan.ThreadCount),
		zap.Int("groups", plan.Dims.Groups),
		zap.Int("upcast", plan.Dims.Upcast),
		zap.String("grid", humanize.Comma(int64(gridX*gridY))),
	)
	return &Compiled{
		plan:      plan,
		shaderSrc: src,
		gridX:     gridX,
		gridY:     gridY,
		numIn:     k.NumInputs,
		shaderMod: ShaderModuleID(g.ids.next32()),
		pipeline:  PipelineID(g.ids.next32()),
	}, nil
}

func (g *GPU) Dispatch(_ context.Context, c backend.Compiled, inputs []backend.Handle, output backend.Handle) error {
	comp, ok := c.(*Compiled)
	if !ok {
		return errors.Usage("gpubackend", "dispatch: not a gpu-backend artifact")
	}
	if len(inputs) != comp.numIn {
		return errors.Usage("gpubackend", "dispatch: expected %d inputs, got %d", comp.numIn, len(inputs))
	}

	g.mu.RLock()
	inBufs := make([]*buffer, len(inputs))
	for i, h := range inputs {
		b, ok := g.buffers[h.ID]
		if !ok {
			g.mu.RUnlock()
			return errors.Handle("gpubackend", "dispatch: unknown input handle %s", h.ID)
		}
		inBufs[i] = b
	}
	outBuf, ok := g.buffers[output.ID]
	g.mu.RUnlock()
	if !ok {
		return errors.Handle("gpubackend", "dispatch: unknown output handle %s", output.ID)
	}

	read := func(gid int, idx int64) float64 {
		if gid < 0 || gid >= len(inBufs) {
			panic(errors.Usage("gpubackend", "dispatch: global read references undeclared input %d", gid))
		}
		if idx < 0 || int(idx) >= len(inBufs[gid].data) {
			panic(errors.Usage("gpubackend", "dispatch: global read index %d out of bounds for input %d", idx, gid))
		}
		return inBufs[gid].data[idx]
	}

	replayTuned(comp.plan, read, outBuf.data)
	atomic.AddInt64(&g.disp, 1)
	log.Debug("dispatch", zap.Int("numInputs", len(inBufs)), zap.String("outputSize", humanize.Bytes(uint64(len(outBuf.data)*8))))
	return nil
}

func (g *GPU) Stats() backend.Stats {
	return backend.Stats{
		Allocations: atomic.LoadInt64(&g.allocs),
		Dispatches:  atomic.LoadInt64(&g.disp),
		BytesRead:   atomic.LoadInt64(&g.reads),
	}
}

// ShaderSource exposes the rendered shader text for a prepared kernel, for
// callers that want to inspect what the tuner produced (tests, debugging
// tools) without reaching into the unexported Compiled struct.
func ShaderSource(c backend.Compiled) (string, bool) {
	comp, ok := c.(*Compiled)
	if !ok {
		return "", false
	}
	return comp.shaderSrc, true
}

// evalOne mirrors refbackend's evalOne: it computes one output scalar by
// folding the full reduction range in program order. replayTuned below
// instead folds the range in tuner-chosen Groups/Reduce/Unroll chunks,
// combining partials with the same associative op — arithmetically
// equivalent, just decomposed the way the tuned dispatch would schedule it
// across cooperating threads.
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
