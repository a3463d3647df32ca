package reembed

import "math"

// magnitude returns the Euclidean length of v, accumulated in float64.
func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// NormalizeVector scales v to unit length so dot products against stored
// chunks equal cosine similarity. It returns a new slice; a zero vector
// comes back as zeros.
func NormalizeVector(v []float32) []float32 {
	out := make([]float32, len(v))
	m := magnitude(v)
	if m == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / m)
	}
	return out
}
