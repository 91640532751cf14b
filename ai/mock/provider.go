// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package mock

import "github.com/poiesic/newsrag/ai"

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder, generator and rewriter instances.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
	rewriter  *MockRewriter
	closed    bool
}

// NewMockProvider creates a new mock provider with default mock services.
// Query rewriting is disabled; use NewMockProviderWithServices to enable it.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		embedder:  NewMockEmbedder(),
		generator: NewMockGenerator(),
	}
}

// NewMockProviderWithServices creates a mock provider with custom mock services.
// A nil rewriter disables rewriting.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator, rewriter *MockRewriter) *MockProvider {
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
		rewriter:  rewriter,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the mock generator.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// QueryRewriter returns the mock rewriter, or nil when none was configured.
func (p *MockProvider) QueryRewriter() ai.QueryRewriter {
	if p.rewriter == nil {
		return nil
	}
	return p.rewriter
}

// MockEmbedder returns the concrete embedder for assertions.
func (p *MockProvider) MockEmbedder() *MockEmbedder { return p.embedder }

// MockGenerator returns the concrete generator for assertions.
func (p *MockProvider) MockGenerator() *MockGenerator { return p.generator }

// Closed reports whether Close was called.
func (p *MockProvider) Closed() bool { return p.closed }

// Close marks the provider closed.
func (p *MockProvider) Close() error {
	p.closed = true
	return nil
}
