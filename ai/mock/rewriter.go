package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/poiesic/newsrag/ai"
)

// MockRewriter is a test double for ai.QueryRewriter.
type MockRewriter struct {
	// RewriteFunc is called by Rewrite if set.
	// If nil, the question is returned as the topic with a search intent.
	RewriteFunc func(ctx context.Context, question string, companies []string) (*ai.Rewrite, error)

	mu        sync.Mutex
	callCount int
}

var _ ai.QueryRewriter = (*MockRewriter)(nil)

// NewMockRewriter creates a mock rewriter with default behavior.
func NewMockRewriter() *MockRewriter {
	return &MockRewriter{}
}

// Rewrite records the call and returns the injected or default rewrite.
func (m *MockRewriter) Rewrite(ctx context.Context, question string, companies []string) (*ai.Rewrite, error) {
	m.mu.Lock()
	m.callCount++
	fn := m.RewriteFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, question, companies)
	}
	return &ai.Rewrite{Intent: "search", Topic: strings.TrimSpace(question)}, nil
}

// CallCount returns the number of Rewrite calls.
func (m *MockRewriter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset clears the call count and injected behavior.
func (m *MockRewriter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.RewriteFunc = nil
}
