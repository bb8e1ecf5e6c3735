package stages

import (
	"hash/fnv"
	"math"
	"strings"
)

// embedDim is the fixed dimensionality of the hashed bag-of-words
// embeddings used by Retrieve. No embedding-model client is wired (none
// of the retrieved adapters exposes one); this hashing trick keeps
// SearchSimilar's cosine-similarity contract exercised deterministically
// without a network call.
const embedDim = 64

// embedText produces a deterministic, pure pseudo-embedding: each token is
// hashed into a bucket and accumulated, then the vector is L2-normalized
// so cosineSimilarity behaves sensibly across texts of different length.
func embedText(text string) []float32 {
	vec := make([]float64, embedDim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		bucket := int(h.Sum32() % embedDim)
		vec[bucket]++
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, embedDim)
	if norm == 0 {
		return out
	}
	scale := 1.0 / math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v * scale)
	}
	return out
}
