package scorer

import "math"

// CosineSimilarity computes the cosine similarity between two feature
// vectors, clamped to [0, 1]. Embeddings are L2-normalized at extraction, so
// negative similarities indicate genuinely dissimilar faces and clamp to 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
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

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < 0 {
		sim = 0
	}
	return sim
}

// CosineDistance is 1 - similarity; lower means more similar. This is the
// raw distance metric recorded on match rows.
func CosineDistance(a, b []float32) float64 {
	return 1 - CosineSimilarity(a, b)
}
