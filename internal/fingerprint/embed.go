package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// Embedder turns observation text into a fixed-dimension vector for fuzzy
// fingerprint lookup. Implementations may call an embedding model; the core
// ships only the deterministic fallback below.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HashEmbedder is a model-free Embedder: it expands a SHA-256 stream over
// the text into a unit vector. Identical text always maps to the identical
// vector, which keeps warm/cold tests hermetic; it carries no semantic
// similarity beyond exact equality.
type HashEmbedder struct {
	Dimensions int
}

// Embed never fails.
func (e HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := e.Dimensions
	if dim <= 0 {
		dim = 384
	}

	vec := make([]float32, dim)
	seed := sha256.Sum256([]byte(text))
	block := seed
	var norm float64
	for i := 0; i < dim; i++ {
		if i%8 == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.BigEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		// Map to [-1, 1).
		v := float64(int64(bits)-math.MaxInt32) / math.MaxInt32
		vec[i] = float32(v)
		norm += v * v
	}

	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
