package wasmbackend

// builder assembles a WASM binary one section at a time: an in-memory
// byte buffer grown by append-only "emit" calls, finalized once at the
// end.
type builder struct {
	buf []byte
}

func newBuilder() *builder { return &builder{} }

func (b *builder) emitByte(v byte)   { b.buf = append(b.buf, v) }
func (b *builder) emitBytes(v []byte) { b.buf = append(b.buf, v...) }
func (b *builder) emitU32LE(v uint32) {
	b.buf = append(b.buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb128(uint64(len(payload)))...)
	return append(out, payload...)
}

func vec(items [][]byte) []byte {
	out := uleb128(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

// funcType encodes a (params...) -> (results...) function signature.
func funcType(params, results []valType) []byte {
	out := []byte{0x60}
	out = append(out, uleb128(uint64(len(params)))...)
	for _, p := range params {
		out = append(out, byte(p))
	}
	out = append(out, uleb128(uint64(len(results)))...)
	for _, r := range results {
		out = append(out, byte(r))
	}
	return out
}

// importFunc encodes an import entry binding a host function to a module.field
// name, with the given type index.
func importFunc(module, field string, typeIdx uint32) []byte {
	out := encodeName(module)
	out = append(out, encodeName(field)...)
	out = append(out, kindFunc)
	out = append(out, uleb128(uint64(typeIdx))...)
	return out
}

func encodeName(s string) []byte {
	out := uleb128(uint64(len(s)))
	return append(out, []byte(s)...)
}

// exportEntry encodes an export entry.
func exportEntry(name string, kind byte, idx uint32) []byte {
	out := encodeName(name)
	out = append(out, kind)
	out = append(out, uleb128(uint64(idx))...)
	return out
}

// memoryLimits encodes a memory/table limits record with only a minimum
// page count (no maximum).
func memoryLimits(min uint32) []byte {
	out := []byte{0x00}
	return append(out, uleb128(uint64(min))...)
}

// localsDecl encodes one run of locals of the same type, as required by the
// code section's local declarations vector.
func localsDecl(count uint32, t valType) []byte {
	out := uleb128(uint64(count))
	return append(out, byte(t))
}

// funcBody wraps a compiled instruction stream (already ending in 0x0B) with
// its locals declarations and a leading size, as the code section requires.
func funcBody(locals [][]byte, body []byte) []byte {
	payload := vec(locals)
	payload = append(payload, body...)
	out := uleb128(uint64(len(payload)))
	return append(out, payload...)
}

// assemble concatenates the standard header with the given already-encoded
// sections, in section-id order.
func assemble(sections ...[]byte) []byte {
	out := make([]byte, 0, 64+len(sections)*16)
	out = append(out, byte(wasmMagic), byte(wasmMagic>>8), byte(wasmMagic>>16), byte(wasmMagic>>24))
	out = append(out, byte(wasmVersion), byte(wasmVersion>>8), byte(wasmVersion>>16), byte(wasmVersion>>24))
	for _, s := range sections {
		out = append(out, s...)
	}
	return out
}
