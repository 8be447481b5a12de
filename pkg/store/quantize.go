package store

// QuantizationMode specifies how embeddings are stored in the exact index.
type QuantizationMode int

const (
	// QuantizeNone stores embeddings as float32 (4 bytes per element).
	QuantizeNone QuantizationMode = iota
	// QuantizeInt8 stores embeddings as int8 (1 byte per element, 4x smaller).
	QuantizeInt8
)

func (m QuantizationMode) String() string {
	if m == QuantizeInt8 {
		return "int8"
	}
	return "none"
}

// ParseQuantizationMode parses a string to QuantizationMode.
func ParseQuantizationMode(s string) QuantizationMode {
	switch s {
	case "int8", "scalar":
		return QuantizeInt8
	default:
		return QuantizeNone
	}
}

// QuantizeToInt8Unit converts normalized float32 embeddings [-1, 1] to int8.
// Embeddings are unit-normalized before indexing, so the fixed scale loses
// little precision for a fallback search path.
func QuantizeToInt8Unit(vec []float32) []int8 {
	result := make([]int8, len(vec))
	for i, v := range vec {
		clamped := v
		if clamped < -1 {
			clamped = -1
		} else if clamped > 1 {
			clamped = 1
		}
		result[i] = int8(clamped * 127)
	}
	return result
}

// DequantizeInt8Unit restores an approximate float32 vector from int8.
func DequantizeInt8Unit(vec []int8) []float32 {
	result := make([]float32, len(vec))
	for i, v := range vec {
		result[i] = float32(v) / 127.0
	}
	return result
}

// SerializeInt8 serializes an int8 vector to bytes for sqlite-vec.
func SerializeInt8(vec []int8) []byte {
	result := make([]byte, len(vec))
	for i, v := range vec {
		result[i] = byte(v)
	}
	return result
}
