package classifier

import "math"

// Normalize prepares an audio window for inference. Loud windows are scaled
// down to a 0.9 peak, quiet ones are lifted toward a 0.1 RMS with at most a
// tenfold gain, and near-silence is zeroed so the models never see amplified
// noise. The input is not modified.
func Normalize(samples []float32) []float32 {
	out := make([]float32, len(samples))

	var peak float32
	for _, s := range samples {
		if a := abs32(s); a > peak {
			peak = a
		}
	}
	if peak <= 0.0001 {
		return out
	}

	if peak > 0.1 {
		scaler := 0.9 / peak
		for i, s := range samples {
			out[i] = s * scaler
		}
		return out
	}

	var sumSq float64
	for _, s := range samples {
		sumSq += float64(s) * float64(s)
	}
	rms := math.Sqrt(sumSq / float64(len(samples)))
	scaler := float32(math.Min(0.1/(rms+1e-6), 10.0))
	for i, s := range samples {
		v := s * scaler
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		out[i] = v
	}
	return out
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
