package frontend

import (
	"context"

	"golang.org/x/sync/errgroup"

	"lax/internal/alu"
	"lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/kernel"
	"lax/internal/shapetracker"
)

// pendingExec is a kernel scheduled against concrete buffers but not yet
// submitted. Its output buffer is created at construction time; prepare
// (compile) may run concurrently with other pending executables, but
// dispatch (submission) must preserve insertion order so reads observe
// FIFO completion.
type pendingExec struct {
	be       backend.Backend
	k        *kernel.Kernel
	outShape []int
	inputs   []backend.Handle
	output   backend.Handle

	compiled  backend.Compiled
	prepared  bool
	submitted bool
}

func (p *pendingExec) prepare(ctx context.Context) error {
	if p.prepared {
		return nil
	}
	c, err := p.be.Prepare(ctx, p.k, p.outShape)
	if err != nil {
		return err
	}
	p.compiled = c
	p.prepared = true
	return nil
}

func (p *pendingExec) dispatch(ctx context.Context) error {
	if p.submitted {
		return nil
	}
	if err := p.be.Dispatch(ctx, p.compiled, p.inputs, p.output); err != nil {
		return err
	}
	p.submitted = true
	return nil
}

// unionPending merges pending-executable lists, preserving first-seen
// order: a result's pending set is the union of its inputs' sets plus its
// own new entry.
func unionPending(lists ...[]*pendingExec) []*pendingExec {
	seen := map[*pendingExec]bool{}
	var out []*pendingExec
	for _, l := range lists {
		for _, p := range l {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func handlesOf(srcs []*Array) []backend.Handle {
	out := make([]backend.Handle, len(srcs))
	for i, s := range srcs {
		out[i] = s.buf
	}
	return out
}

// scheduleKernel allocates the output buffer for a fused Kernel and records
// its PendingExecute against srcs' already-realized buffers.
func scheduleKernel(ctx context.Context, dt dtype.Type, shape []int, k *kernel.Kernel, srcs []*Array) (*Array, error) {
	device := srcs[0].Device
	be, err := backend.Get(device)
	if err != nil {
		return nil, err
	}
	out, err := be.Malloc(ctx, dt, size(shape))
	if err != nil {
		return nil, err
	}
	pend := make([][]*pendingExec, 0, len(srcs)+1)
	for _, s := range srcs {
		pend = append(pend, s.pending)
	}
	pe := &pendingExec{be: be, k: k, outShape: shape, inputs: handlesOf(srcs), output: out}
	pend = append(pend, []*pendingExec{pe})
	return &Array{
		Shape:   append([]int(nil), shape...),
		DType:   dt,
		Device:  device,
		tracker: shapetracker.FromShape(shape),
		buf:     out,
		pending: unionPending(pend...),
	}, nil
}

// Realize forces a handle to become backed by a contiguous buffer.
// Idempotent: realizing an already-contiguous buffer-backed array returns
// it unchanged.
func (a *Array) Realize(ctx context.Context) (*Array, error) {
	if !a.IsLazy() {
		if a.tracker.Contiguous() {
			return a, nil
		}
		return a.reindexCopy(ctx)
	}

	realizedSrcs := make([]*Array, len(a.srcs))
	pend := make([][]*pendingExec, 0, len(a.srcs)+1)
	handles := make([]backend.Handle, len(a.srcs))
	for i, s := range a.srcs {
		rs, err := realizeContiguous(ctx, s)
		if err != nil {
			return nil, err
		}
		realizedSrcs[i] = rs
		handles[i] = rs.buf
		pend = append(pend, rs.pending)
	}

	be, err := backend.Get(a.Device)
	if err != nil {
		return nil, err
	}
	n := size(a.Shape)
	out, err := be.Malloc(ctx, a.DType, n)
	if err != nil {
		return nil, err
	}
	pe := &pendingExec{
		be: be, outShape: a.Shape, inputs: handles, output: out,
		k: &kernel.Kernel{NumInputs: len(a.srcs), Size: n, Exp: a.exp},
	}
	pend = append(pend, []*pendingExec{pe})
	return &Array{
		Shape:   append([]int(nil), a.Shape...),
		DType:   a.DType,
		Device:  a.Device,
		tracker: shapetracker.FromShape(a.Shape),
		buf:     out,
		pending: unionPending(pend...),
	}, nil
}

// reindexCopy materializes a buffer-backed array whose shape tracker is
// non-contiguous (the result of a movement op) into a fresh contiguous
// buffer, reading through the tracker's view.
func (a *Array) reindexCopy(ctx context.Context) (*Array, error) {
	shape := a.tracker.Shape()
	n := a.tracker.Size()
	idxVars := kernel.OutputIndexVars(shape, n)
	offset, valid := a.tracker.ToAluExp(idxVars)
	// Clamp before reading: select-based backends evaluate both Where
	// branches, so a masked-out offset must still land inside the buffer.
	clamped := alu.Max(alu.Const(dtype.I32, 0), alu.Min(offset, alu.Const(dtype.I32, float64(a.tracker.PhysicalBound()))))
	read := alu.GlobalIndex(a.DType, 0, clamped)
	exp := alu.Where(valid, read, alu.Const(a.DType, 0))

	be, err := backend.Get(a.Device)
	if err != nil {
		return nil, err
	}
	out, err := be.Malloc(ctx, a.DType, n)
	if err != nil {
		return nil, err
	}
	pe := &pendingExec{
		be: be, outShape: shape, inputs: []backend.Handle{a.buf}, output: out,
		k: &kernel.Kernel{NumInputs: 1, Size: n, Exp: exp},
	}
	return &Array{
		Shape:   shape,
		DType:   a.DType,
		Device:  a.Device,
		tracker: shapetracker.FromShape(shape),
		buf:     out,
		pending: append(append([]*pendingExec{}, a.pending...), pe),
	}, nil
}

// realizeContiguous forces a into a buffer-backed, contiguous-tracker state
// — the form every elementwise/reduction op needs its operands in once it
// leaves the purely symbolic (lazy) fusion path.
func realizeContiguous(ctx context.Context, a *Array) (*Array, error) {
	r, err := a.Realize(ctx)
	if err != nil {
		return nil, err
	}
	if r.tracker.Contiguous() {
		return r, nil
	}
	return r.reindexCopy(ctx)
}

// drain prepares every not-yet-prepared pending executable concurrently,
// then dispatches them in recorded order, which is the FIFO guarantee the
// backend contract requires.
func drain(ctx context.Context, pending []*pendingExec) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range pending {
		p := p
		if p.prepared {
			continue
		}
		g.Go(func() error { return p.prepare(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, p := range pending {
		if err := p.dispatch(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Data realizes a, drains its pending work, and reads back its buffer as a
// flat host slice.
func (a *Array) Data(ctx context.Context) ([]float64, error) {
	r, err := realizeContiguous(ctx, a)
	if err != nil {
		return nil, err
	}
	if err := drain(ctx, r.pending); err != nil {
		return nil, err
	}
	be, err := backend.Get(r.Device)
	if err != nil {
		return nil, err
	}
	return be.Read(ctx, r.buf, 0, size(r.Shape))
}
