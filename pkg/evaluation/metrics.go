package evaluation

import "math"

// hitAtK reports whether any expected chunk id appears in the retrieved
// list. The retrieved list is already cut to k.
func hitAtK(retrieved, expected []string) bool {
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	for _, id := range retrieved {
		if want[id] {
			return true
		}
	}
	return false
}

// reciprocalRank is 1/rank of the first expected chunk in the retrieved
// list, 0 when none appears. Rank is 1-based.
func reciprocalRank(retrieved, expected []string) float64 {
	want := make(map[string]bool, len(expected))
	for _, id := range expected {
		want[id] = true
	}
	for i, id := range retrieved {
		if want[id] {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// cosineSimilarity between two vectors, 0 when either is zero-length or
// zero-norm.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
