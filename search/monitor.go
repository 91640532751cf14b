package search

import "github.com/poiesic/newsrag/core"

// SearchMonitor provides hooks to observe the answering process.
// Implement this interface to track intermediate steps and results.
type SearchMonitor interface {
	Start(question string)
	AfterPlan(plan *core.PlannedQuery)
	AfterQuery(candidates []*core.ScoredRecord)
	AfterFilter(result *core.RetrievalResult)
	Finish(answer *core.Answer)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                     {}
func (n *noopMonitor) AfterPlan(_ *core.PlannedQuery)     {}
func (n *noopMonitor) AfterQuery(_ []*core.ScoredRecord)  {}
func (n *noopMonitor) AfterFilter(_ *core.RetrievalResult) {}
func (n *noopMonitor) Finish(_ *core.Answer)              {}
