// Package mock provides test doubles for the ai package interfaces.
//
// Every mock counts its calls and exposes function fields for injecting
// behavior, so tests can simulate outages and slow services:
//
//	embedder := mock.NewMockEmbedder()
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, core.ErrTransientExternal
//	}
//
// # Default Behavior
//
//   - MockEmbedder: bag-of-words vectors, so related texts score higher
//   - MockGenerator: a canned answer citing [1] when the prompt has sources
//   - MockRewriter: the question as topic with a search intent
//   - MockProvider: aggregates the three
//
// All mocks are safe for concurrent use.
package mock
