package memory

import (
	"hash/fnv"
	"math"
	"regexp"
	"strings"
)

// Embedder maps text to a fixed-dimension vector. The default implementation
// is deterministic and local so retrieval works without a model endpoint.
type Embedder interface {
	ModelID() string
	Embed(text string) []float32
}

const chargramEmbeddingModel = "aki-chargram-384-v1"

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_\-]+`)

// NewChargramEmbedder returns the default local embedder: character
// trigrams plus whole tokens hashed into a 384-dim normalized vector.
func NewChargramEmbedder() Embedder {
	return &chargramEmbedder{dims: 384, modelID: chargramEmbeddingModel}
}

type chargramEmbedder struct {
	dims    int
	modelID string
}

func (e *chargramEmbedder) ModelID() string { return e.modelID }

func (e *chargramEmbedder) Embed(text string) []float32 {
	vec := make([]float32, e.dims)
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return vec
	}
	window := "#" + normalized + "#"
	for i := 0; i+3 <= len(window); i++ {
		gram := window[i : i+3]
		h := fnv.New64a()
		_, _ = h.Write([]byte(gram))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx] += 1
	}
	for _, token := range tokenize(normalized) {
		h := fnv.New64a()
		_, _ = h.Write([]byte("tok:" + token))
		idx := int(h.Sum64() % uint64(e.dims))
		vec[idx] += 1.25
	}
	normalizeVector(vec)
	return vec
}

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func normalizeVector(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
