package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const defaultHashDimensions = 256

// Hash is a deterministic, model-free provider. Each token is hashed into a
// dimension bucket and the resulting bag-of-words vector is unit normalized,
// so cosine distance tracks lexical overlap. It is the fallback when no
// Ollama instance is available, and the provider used throughout tests.
type Hash struct {
	dim int
}

// NewHash creates a hash provider with the given vector length.
func NewHash(dim int) *Hash {
	if dim <= 0 {
		dim = defaultHashDimensions
	}
	return &Hash{dim: dim}
}

// Embed builds the token-bucket vector for text. Embedding the same text
// always yields the same vector.
func (h *Hash) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, token := range tokenize(text) {
		f := fnv.New32a()
		f.Write([]byte(token))
		vec[f.Sum32()%uint32(h.dim)]++
	}

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds texts sequentially; hashing is cheap enough that
// concurrency would only add noise.
func (h *Hash) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

// Dimensions returns the configured vector length.
func (h *Hash) Dimensions() int { return h.dim }

// ModelName identifies the hashing scheme for statistics reporting.
func (h *Hash) ModelName() string { return "hash-bow-v1" }

// tokenize lowercases, splits on non-alphanumerics, and strips common
// suffixes so inflected forms ("crashed", "crashes") share a bucket.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, stem(f))
	}
	return tokens
}

func stem(token string) string {
	switch {
	case len(token) > 5 && strings.HasSuffix(token, "ing"):
		return token[:len(token)-3]
	case len(token) > 4 && strings.HasSuffix(token, "es"):
		return token[:len(token)-2]
	case len(token) > 4 && strings.HasSuffix(token, "ed"):
		return token[:len(token)-2]
	case len(token) > 3 && strings.HasSuffix(token, "s"):
		return token[:len(token)-1]
	}
	return token
}
