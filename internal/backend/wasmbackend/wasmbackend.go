// Package wasmbackend implements the WASM backend: kernels are
// assembled by hand into a WebAssembly binary module (see build.go/codegen.go)
// and executed with github.com/tetratelabs/wazero. Host-imported functions
// stand in for the handful of transcendentals WASM has no native opcode for
// — the same role libm plays for a real wasm32 target.
package wasmbackend

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	laxbackend "lax/internal/backend"
	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

var log = laxbackend.NewLogger("wasmbackend")

type buffer struct {
	dtype dtype.Type
	data  []float64
	refs  int32
}

// Wasm is the wazero-backed implementation of backend.Backend.
type Wasm struct {
	runtime wazero.Runtime

	mu      sync.RWMutex
	buffers map[uuid.UUID]*buffer

	allocs int64
	disp   int64
	reads  int64
}

// New builds a Wasm backend, instantiating the shared "env" host module that
// supplies transcendental functions to every compiled kernel.
func New(ctx context.Context) (*Wasm, error) {
	rt := wazero.NewRuntime(ctx)
	if err := instantiateEnv(ctx, rt); err != nil {
		return nil, errors.Resource("wasmbackend", "failed to instantiate host module: %v", err)
	}
	return &Wasm{runtime: rt, buffers: map[uuid.UUID]*buffer{}}, nil
}

func instantiateEnv(ctx context.Context, rt wazero.Runtime) error {
	unary := func(f func(float64) float64) func(float64) float64 { return f }
	b := rt.NewHostModuleBuilder("env")
	b.NewFunctionBuilder().WithFunc(unary(math.Exp)).Export("exp")
	b.NewFunctionBuilder().WithFunc(unary(math.Log)).Export("log")
	b.NewFunctionBuilder().WithFunc(unary(math.Sin)).Export("sin")
	b.NewFunctionBuilder().WithFunc(unary(math.Cos)).Export("cos")
	b.NewFunctionBuilder().WithFunc(unary(math.Tan)).Export("tan")
	b.NewFunctionBuilder().WithFunc(unary(math.Atan)).Export("atan")
	b.NewFunctionBuilder().WithFunc(unary(math.Asin)).Export("asin")
	b.NewFunctionBuilder().WithFunc(unary(math.Erf)).Export("erf")
	b.NewFunctionBuilder().WithFunc(unary(math.Erfc)).Export("erfc")
	b.NewFunctionBuilder().WithFunc(func(a, x float64) float64 { return math.Pow(a, x) }).Export("pow")
	_, err := b.Instantiate(ctx)
	return err
}

func (w *Wasm) Name() string { return "wasm" }

func (w *Wasm) Malloc(_ context.Context, dt dtype.Type, n int) (laxbackend.Handle, error) {
	if n < 0 {
		return laxbackend.Handle{}, errors.Usage("wasmbackend", "malloc: negative size %d", n)
	}
	h := laxbackend.Handle{ID: uuid.New()}
	w.mu.Lock()
	w.buffers[h.ID] = &buffer{dtype: dt, data: make([]float64, n), refs: 1}
	w.mu.Unlock()
	atomic.AddInt64(&w.allocs, 1)
	log.Debug("malloc", zap.String("handle", h.ID.String()), zap.String("size", humanize.Bytes(uint64(n*8))))
	return h, nil
}

func (w *Wasm) IncRef(h laxbackend.Handle) {
	w.mu.RLock()
	b, ok := w.buffers[h.ID]
	w.mu.RUnlock()
	if ok {
		atomic.AddInt32(&b.refs, 1)
	}
}

func (w *Wasm) DecRef(h laxbackend.Handle) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.buffers[h.ID]
	if !ok {
		return errors.Handle("wasmbackend", "decref: unknown or already freed handle %s", h.ID)
	}
	if atomic.AddInt32(&b.refs, -1) <= 0 {
		delete(w.buffers, h.ID)
		log.Debug("freed", zap.String("handle", h.ID.String()))
	}
	return nil
}

func (w *Wasm) Write(_ context.Context, h laxbackend.Handle, data []float64) error {
	w.mu.RLock()
	b, ok := w.buffers[h.ID]
	w.mu.RUnlock()
	if !ok {
		return errors.Handle("wasmbackend", "write: unknown handle %s", h.ID)
	}
	if len(data) != len(b.data) {
		return errors.Usage("wasmbackend", "write: size mismatch, buffer holds %d elements, got %d", len(b.data), len(data))
	}
	copy(b.data, data)
	return nil
}

func (w *Wasm) Read(_ context.Context, h laxbackend.Handle, offset, n int) ([]float64, error) {
	w.mu.RLock()
	b, ok := w.buffers[h.ID]
	w.mu.RUnlock()
	if !ok {
		return nil, errors.Handle("wasmbackend", "read: unknown handle %s", h.ID)
	}
	if offset < 0 || offset+n > len(b.data) {
		return nil, errors.Usage("wasmbackend", "read: range [%d,%d) out of bounds for buffer of size %d", offset, offset+n, len(b.data))
	}
	out := make([]float64, n)
	copy(out, b.data[offset:offset+n])
	atomic.AddInt64(&w.reads, int64(n)*8)
	return out, nil
}

// compiled wraps the assembled module with its wazero-precompiled form, so
// Dispatch only has to instantiate (cheap) rather than recompile (not).
type compiled struct {
	module     *compiledModule
	wazeroMod  wazero.CompiledModule
	threadCnt  int
	reduceSize int
}

func (w *Wasm) Prepare(ctx context.Context, k *kernel.Kernel, outShape []int) (laxbackend.Compiled, error) {
	_ = outShape // the WASM backend never tiles; it runs one scalar loop
	mod := buildModule(k)
	cm, err := w.runtime.CompileModule(ctx, mod.binary)
	if err != nil {
		return nil, errors.Compilation("wasmbackend", "failed to compile generated module: %v", err)
	}
	log.Debug("prepared", zap.Int("threads", mod.threadCount), zap.Int("reduceSize", mod.reduceSize), zap.String("binarySize", humanize.Bytes(uint64(len(mod.binary)))))
	return &compiled{module: mod, wazeroMod: cm, threadCnt: mod.threadCount, reduceSize: mod.reduceSize}, nil
}

func (w *Wasm) Dispatch(ctx context.Context, c laxbackend.Compiled, inputs []laxbackend.Handle, output laxbackend.Handle) error {
	comp, ok := c.(*compiled)
	if !ok {
		return errors.Usage("wasmbackend", "dispatch: not a wasm-backend artifact")
	}
	if len(inputs) != comp.module.numInputs {
		return errors.Usage("wasmbackend", "dispatch: expected %d inputs, got %d", comp.module.numInputs, len(inputs))
	}

	w.mu.RLock()
	inBufs := make([]*buffer, len(inputs))
	for i, h := range inputs {
		b, ok := w.buffers[h.ID]
		if !ok {
			w.mu.RUnlock()
			return errors.Handle("wasmbackend", "dispatch: unknown input handle %s", h.ID)
		}
		inBufs[i] = b
	}
	outBuf, ok := w.buffers[output.ID]
	w.mu.RUnlock()
	if !ok {
		return errors.Handle("wasmbackend", "dispatch: unknown output handle %s", output.ID)
	}

	offsets := make([]uint32, len(inBufs))
	cursor := uint32(0)
	for i, b := range inBufs {
		offsets[i] = cursor
		cursor += uint32(len(b.data)) * 8
	}
	outOffset := cursor
	cursor += uint32(len(outBuf.data)) * 8

	name := uuid.New().String()
	mod, err := w.runtime.InstantiateModule(ctx, comp.wazeroMod, wazero.NewModuleConfig().WithName(name))
	if err != nil {
		return errors.Resource("wasmbackend", "dispatch: instantiate failed: %v", err)
	}
	defer mod.Close(ctx)

	mem := mod.Memory()
	const pageSize = 65536
	needed := (cursor + pageSize - 1) / pageSize
	if cur := mem.Size() / pageSize; cur < needed {
		if _, ok := mem.Grow(ctx, needed-cur); !ok {
			return errors.Resource("wasmbackend", "dispatch: failed to grow memory to %d pages", needed)
		}
	}

	for i, b := range inBufs {
		if !writeFloats(mem, offsets[i], b.data) {
			return errors.Resource("wasmbackend", "dispatch: failed to write input %d", i)
		}
	}

	run := mod.ExportedFunction("run")
	args := make([]uint64, 0, len(offsets)+3)
	for _, o := range offsets {
		args = append(args, uint64(o))
	}
	args = append(args, uint64(outOffset), uint64(comp.threadCnt), uint64(comp.reduceSize))
	if _, err := run.Call(ctx, args...); err != nil {
		return errors.Compilation("wasmbackend", "dispatch: run failed: %v", err)
	}

	result, ok := readFloats(mem, outOffset, len(outBuf.data))
	if !ok {
		return errors.Resource("wasmbackend", "dispatch: failed to read back output")
	}
	copy(outBuf.data, result)
	atomic.AddInt64(&w.disp, 1)
	log.Debug("dispatch", zap.Int("numInputs", len(inBufs)), zap.String("outputSize", humanize.Bytes(uint64(len(outBuf.data)*8))))
	return nil
}

func (w *Wasm) Stats() laxbackend.Stats {
	return laxbackend.Stats{
		Allocations: atomic.LoadInt64(&w.allocs),
		Dispatches:  atomic.LoadInt64(&w.disp),
		BytesRead:   atomic.LoadInt64(&w.reads),
	}
}
