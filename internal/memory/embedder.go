package memory

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
)

// Embedder turns text into a vector for similarity ranking. Real
// deployments plug in a model-backed implementation; the hash embedder
// below is a deterministic stand-in whose specific values are not a
// contract.
type Embedder interface {
	// Embed returns a fixed-length vector for the given text.
	Embed(text string) []float32
}

// HashEmbedder is a deterministic embedder seeded from a hash of the
// input text. Identical texts produce identical vectors, which is enough
// for exact-duplicate detection and stable tests.
type HashEmbedder struct {
	// Dim is the vector length. Zero defaults to 64.
	Dim int
}

// Embed returns a unit-normalized pseudo-random vector seeded from text.
func (e *HashEmbedder) Embed(text string) []float32 {
	dim := e.Dim
	if dim <= 0 {
		dim = 64
	}

	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, dim)
	var norm float64
	for i := range vec {
		vec[i] = float32(rng.NormFloat64())
		norm += float64(vec[i]) * float64(vec[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// or 0 when either is empty or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// encodeVector serializes a vector for BLOB storage.
func encodeVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector deserializes a vector from BLOB storage.
func decodeVector(buf []byte) []float32 {
	if len(buf) == 0 || len(buf)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
