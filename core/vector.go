package core

import "math"

// CosineSimilarity computes the cosine similarity of two embedding vectors.
// The second return value reports comparability: vectors are comparable when
// they have equal non-zero length, contain only finite values and neither
// has a zero norm. Non-comparable pairs yield (0, false) and are excluded
// from mean similarity aggregation rather than dragging it toward zero.
func CosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		if !isFinite(a[i]) || !isFinite(b[i]) {
			return 0, false
		}
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
