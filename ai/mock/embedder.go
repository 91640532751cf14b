package mock

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
)

// DefaultDimension is the vector size the mock embedder produces.
const DefaultDimension = 384

// DefaultModel is the model name the mock embedder reports.
const DefaultModel = "mock-embed"

// MockEmbedder is a test double for ai.Embedder.
// It allows custom behavior injection via function fields.
//
// The default behavior hashes each word into a bucket and normalizes the
// result, so texts sharing vocabulary score higher than unrelated ones.
type MockEmbedder struct {
	// EmbedTextFunc is called by EmbedText if set.
	// If nil, uses default deterministic behavior.
	EmbedTextFunc func(ctx context.Context, text string) ([]float32, error)

	// EmbedTextsFunc is called by EmbedTexts if set.
	// If nil, uses default deterministic behavior.
	EmbedTextsFunc func(ctx context.Context, texts []string) ([][]float32, error)

	// Model is returned by ModelID.
	Model string

	// Dimension is the size of default vectors.
	Dimension int

	mu        sync.Mutex
	callCount int
	texts     int
}

var _ ai.Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder creates a mock embedder with default deterministic behavior.
// Note: Returns concrete type to allow test assertions.
func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{Model: DefaultModel, Dimension: DefaultDimension}
}

// ModelID returns the configured model name.
func (m *MockEmbedder) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Model
}

// EmbedText generates a deterministic embedding for text.
func (m *MockEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.texts++
	fn, dim := m.EmbedTextFunc, m.Dimension
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return BagOfWordsVector(text, dim), nil
}

// EmbedTexts generates deterministic embeddings for multiple texts.
func (m *MockEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.callCount++
	m.texts += len(texts)
	fn, dim := m.EmbedTextsFunc, m.Dimension
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, texts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = BagOfWordsVector(text, dim)
	}
	return vectors, nil
}

// CallCount returns the number of times any method was called.
func (m *MockEmbedder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// TextCount returns the number of texts embedded across all calls.
func (m *MockEmbedder) TextCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.texts
}

// Reset clears the call counts and injected behavior.
func (m *MockEmbedder) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.texts = 0
	m.EmbedTextFunc = nil
	m.EmbedTextsFunc = nil
}

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "is": {}, "are": {}, "was": {}, "it": {},
	"this": {}, "that": {}, "with": {}, "what": {}, "about": {}, "did": {},
	"say": {}, "subject": {},
}

// BagOfWordsVector hashes the lowercase words of text into dim buckets and
// normalizes the counts. Text without words maps to the first basis vector.
func BagOfWordsVector(text string, dim int) []float32 {
	if dim <= 0 {
		dim = DefaultDimension
	}
	vector := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	counted := 0
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		h := fnv.New32a()
		h.Write([]byte(w))
		vector[h.Sum32()%uint32(dim)]++
		counted++
	}
	if counted == 0 {
		vector[0] = 1
		return vector
	}
	return core.NormalizeVector(vector)
}
