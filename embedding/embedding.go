// Package embedding maps text to fixed-length vectors.
//
// HashEmbedder is a bag-of-hashed-words pseudo-embedding, not a learned
// semantic model: texts score as similar when they share words. It is
// deterministic and needs no external service. Anything implementing
// Embedder can replace it without changes to ranking.
package embedding

import (
	"math"
	"strings"
	"unicode/utf16"
)

// DefaultDim is the vector length produced by HashEmbedder.
const DefaultDim = 128

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(text string) []float32
	Dim() int
}

// HashEmbedder hashes each lowercased, whitespace-separated word into a
// bucket, adds a weaker positional signal, and L2-normalizes the result.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a HashEmbedder producing dim-length vectors.
// A non-positive dim selects DefaultDim.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashEmbedder{dim: dim}
}

func (h *HashEmbedder) Dim() int { return h.dim }

func (h *HashEmbedder) Embed(text string) []float32 {
	vec := make([]float64, h.dim)
	dim := int64(h.dim)
	for i, word := range strings.Fields(strings.ToLower(text)) {
		idx := abs64(int64(wordHash(word))) % dim
		vec[idx] += 1
		vec[(idx+int64(i))%dim] += 0.5
	}

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	out := make([]float32, h.dim)
	mag := math.Sqrt(sum)
	for i, v := range vec {
		if mag > 0 {
			v /= mag
		}
		out[i] = float32(v)
	}
	return out
}

// wordHash is the 31-multiplier rolling hash over UTF-16 code units,
// wrapped to a signed 32-bit value.
func wordHash(word string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(word)) {
		h = (h << 5) - h + int32(c)
	}
	return h
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

// Cosine returns the cosine similarity of a and b. It is 0 when the
// lengths differ or either vector has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
