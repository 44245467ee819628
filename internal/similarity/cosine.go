// Package similarity scores embedding vectors against each other.
package similarity

import "math"

// Cosine returns the cosine similarity of two vectors, in [-1, 1].
// Mismatched lengths indicate a model-version mismatch and score 0 rather
// than erroring, as does a zero-magnitude operand.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		av := float64(a[i])
		bv := float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
