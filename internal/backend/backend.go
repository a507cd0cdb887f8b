// Package backend defines the uniform execution interface every compute
// target (reference tree-walker, WASM, GPU) implements, plus a process-wide
// registry. The registry starts empty; the public Init surface constructs
// and registers a backend the first time its name is requested, so getting
// a device that was never initialised fails.
package backend

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lax/internal/dtype"
	"lax/internal/errors"
	"lax/internal/kernel"
)

// Handle identifies a buffer allocated on a backend. The zero Handle never
// refers to a live allocation.
type Handle struct {
	ID uuid.UUID
}

func (h Handle) IsZero() bool { return h.ID == uuid.Nil }

// Compiled is whatever a backend's Prepare step produces from a tuned
// kernel — an opaque token the same backend's Dispatch consumes. Backends
// define their own concrete type; callers only pass it back.
type Compiled interface{}

// Stats reports cumulative dispatch counters, surfaced for diagnostics and
// exercised by tests asserting fusion actually happened.
type Stats struct {
	Allocations int64
	Dispatches  int64
	BytesRead   int64
}

// Backend is the uniform surface a device exposes to the frontend:
// allocate buffers, move data in and out, compile a tuned kernel, and
// run it. Implementations must be safe for concurrent use — the frontend
// calls Prepare concurrently for independent kernels via
// golang.org/x/sync/errgroup, then calls Dispatch for them one at a time
// in submission order.
type Backend interface {
	Name() string

	// Malloc allocates an uninitialized buffer of n elements of dt and
	// returns a handle with refcount 1.
	Malloc(ctx context.Context, dt dtype.Type, n int) (Handle, error)
	IncRef(h Handle)
	// DecRef drops a reference; the buffer is freed once the count reaches
	// zero. Decrementing an already-freed handle is a HandleError.
	DecRef(h Handle) error

	// Write copies host data into the buffer at h.
	Write(ctx context.Context, h Handle, data []float64) error
	// Read copies n elements starting at offset back to the host.
	Read(ctx context.Context, h Handle, offset, n int) ([]float64, error)

	// Prepare compiles a tuned kernel plan into a backend-specific
	// executable artifact, ready for repeated Dispatch calls.
	Prepare(ctx context.Context, k *kernel.Kernel, outShape []int) (Compiled, error)
	// Dispatch runs a prepared kernel against concrete input/output
	// buffers. inputs[i] corresponds to global id i in the kernel's ALU
	// expression.
	Dispatch(ctx context.Context, c Compiled, inputs []Handle, output Handle) error

	Stats() Stats
}

var (
	registry   = map[string]Backend{}
	defaultTag = ""
)

// Register adds a backend under name, overwriting any prior
// registration.
func Register(name string, b Backend) {
	registry[name] = b
	if defaultTag == "" {
		defaultTag = name
	}
}

// SetDefault changes which registered backend Get() returns when called
// with an empty name.
func SetDefault(name string) error {
	if _, ok := registry[name]; !ok {
		return errors.Usage("backend", "cannot set default: %q is not registered", name)
	}
	defaultTag = name
	return nil
}

// Get looks up a backend by name, or returns the default backend when name
// is empty.
func Get(name string) (Backend, error) {
	if name == "" {
		name = defaultTag
	}
	b, ok := registry[name]
	if !ok {
		return nil, errors.Capability("backend", "no backend registered for device %q", name)
	}
	return b, nil
}

// Names lists every registered backend, sorted by registration order is not
// guaranteed — callers that need determinism should sort.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

var baseLogger *zap.Logger

// SetLogger replaces the base logger NewLogger derives component loggers
// from. Backends constructed before the call keep their old logger.
func SetLogger(l *zap.Logger) { baseLogger = l }

// NewLogger builds the structured logger every backend implementation
// embeds.
func NewLogger(component string) *zap.Logger {
	if baseLogger != nil {
		return baseLogger.With(zap.String("component", component))
	}
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	return l.With(zap.String("component", component))
}
