package gpubackend

// Opaque resource handles, following gogpu's adapter-ID convention: every
// GPU resource is a small integer the backend hands out and resolves
// internally, rather than a pointer into driver memory the caller could
// hold onto past its lifetime.

// BufferID identifies a storage buffer bound to a compute dispatch.
type BufferID uint32

// ShaderModuleID identifies a compiled shader module.
type ShaderModuleID uint32

// PipelineID identifies a compute pipeline built from a shader module.
type PipelineID uint32

// InvalidID is the zero value: no resource.
const InvalidID = 0

type idAllocator struct {
	next uint32
}

func (a *idAllocator) next32() uint32 {
	a.next++
	return a.next
}
