package gpubackend

// Reserved identifiers for the generated shader text, trimmed from naga's
// HLSL keyword table to the names that could plausibly collide with a
// binding or local variable this codegen emits.
var reservedKeywords = map[string]struct{}{
	"in": {}, "out": {}, "inout": {}, "const": {}, "static": {},
	"struct": {}, "return": {}, "if": {}, "else": {}, "for": {}, "while": {},
	"discard": {}, "groupshared": {}, "register": {}, "cbuffer": {},
	"float": {}, "int": {}, "uint": {}, "bool": {}, "void": {},
	"RWStructuredBuffer": {}, "StructuredBuffer": {}, "numthreads": {},
	"SV_DispatchThreadID": {}, "SV_GroupID": {}, "SV_GroupThreadID": {},
}

// escapeIdent returns a safe shader identifier for name, prefixing it with
// an underscore when it collides with a reserved word.
func escapeIdent(name string) string {
	if name == "" {
		return "_unnamed"
	}
	if _, reserved := reservedKeywords[name]; reserved {
		return "_" + name
	}
	return name
}
