package wasmbackend

// WebAssembly binary format constants, trimmed to the subset the kernel
// codegen emits. Byte values follow the WebAssembly core binary format.

const (
	wasmMagic   uint32 = 0x6D736100
	wasmVersion uint32 = 0x01
)

type valType byte

const (
	valI32 valType = 0x7F
	valF64 valType = 0x7C
)

const (
	sectionType     byte = 1
	sectionImport   byte = 2
	sectionFunction byte = 3
	sectionMemory   byte = 5
	sectionExport   byte = 7
	sectionCode     byte = 10
)

const (
	kindFunc   byte = 0
	kindMemory byte = 2
)

const blockTypeVoid byte = 0x40

// Control / variable opcodes
const (
	opEnd      byte = 0x0B
	opCall     byte = 0x10
	opDrop     byte = 0x1A
	opLocalGet byte = 0x20
	opLocalSet byte = 0x21
	opLocalTee byte = 0x22

	opBlock byte = 0x02
	opLoop  byte = 0x03
	opBrIf  byte = 0x0D
	opBr    byte = 0x0C
)

// i32 numeric opcodes (index arithmetic)
const (
	opI32Const byte = 0x41
	opI32Eqz   byte = 0x45
	opI32Eq    byte = 0x46
	opI32LtS   byte = 0x48
	opI32GeS   byte = 0x4E
	opI32Add   byte = 0x6A
	opI32Sub   byte = 0x6B
	opI32Mul   byte = 0x6C
	opI32DivS  byte = 0x6D
	opI32RemS  byte = 0x6F
)

// f64 numeric opcodes (value arithmetic)
const (
	opF64Load  byte = 0x2B
	opF64Store byte = 0x39

	opF64Const byte = 0x44

	opF64Eq byte = 0x61
	opF64Ne byte = 0x62
	opF64Lt byte = 0x63
	opF64Gt byte = 0x64
	opF64Le byte = 0x65
	opF64Ge byte = 0x66

	opF64Abs   byte = 0x99
	opF64Neg   byte = 0x9A
	opF64Floor byte = 0x9C
	opF64Sqrt  byte = 0x9F
	opF64Add   byte = 0xA0
	opF64Sub   byte = 0xA1
	opF64Mul   byte = 0xA2
	opF64Div   byte = 0xA3
	opF64Min   byte = 0xA4
	opF64Max   byte = 0xA5

	opF64ConvertI32S byte = 0xB7
	opI32TruncF64S   byte = 0xAA

	opI32Load  byte = 0x28
	opI32LeS   byte = 0x4C
	opI32GtS   byte = 0x4A
	opI32Ne    byte = 0x47
	opI32And   byte = 0x71

	opIf   byte = 0x04
	opElse byte = 0x05

	opSelect byte = 0x1B
)
