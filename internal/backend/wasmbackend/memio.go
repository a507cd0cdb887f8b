package wasmbackend

import "github.com/tetratelabs/wazero/api"

func writeFloats(mem api.Memory, offset uint32, data []float64) bool {
	for i, v := range data {
		if !mem.WriteFloat64Le(offset+uint32(i)*8, v) {
			return false
		}
	}
	return true
}

func readFloats(mem api.Memory, offset uint32, n int) ([]float64, bool) {
	out := make([]float64, n)
	for i := range out {
		v, ok := mem.ReadFloat64Le(offset + uint32(i)*8)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}
