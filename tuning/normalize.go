package tuning

import "math"

// DefaultThreshold is the denominator below which normalization is skipped.
const DefaultThreshold = 1e-12

// Normalize divides each value by denom. When denom is not above threshold,
// or a ratio is not finite, the value is returned unchanged.
func Normalize(values []float64, denom, threshold float64) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = normalizeScalar(v, denom, threshold)
	}
	return out
}

func normalizeScalar(v, denom, threshold float64) float64 {
	if !(denom > threshold) {
		return v
	}
	r := v / denom
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return v
	}
	return r
}
