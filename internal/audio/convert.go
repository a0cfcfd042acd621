package audio

// BytesToFloat32 converts little-endian signed 16-bit PCM bytes to float32
// samples in [-1, 1). A trailing odd byte is ignored.
func BytesToFloat32(data []byte) []float32 {
	n := len(data) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		s := int16(data[2*i]) | int16(data[2*i+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out
}
