package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/search"
)

type quietMonitor struct{}

func (quietMonitor) Start(string)                     {}
func (quietMonitor) AfterPlan(*core.PlannedQuery)     {}
func (quietMonitor) AfterQuery([]*core.ScoredRecord)  {}
func (quietMonitor) AfterFilter(*core.RetrievalResult) {}
func (quietMonitor) Finish(*core.Answer)              {}

// explainMonitor prints every answering stage for ask --explain.
type explainMonitor struct {
	w io.Writer
}

var (
	_ search.SearchMonitor = quietMonitor{}
	_ search.SearchMonitor = (*explainMonitor)(nil)
)

func (m *explainMonitor) Start(question string) {
	fmt.Fprintf(m.w, "Question: %s\n", question)
}

func (m *explainMonitor) AfterPlan(plan *core.PlannedQuery) {
	fmt.Fprintf(m.w, "Intent:   %s (rewritten: %t)\n", plan.Intent, plan.Rewritten)
	if plan.ExpandedText != plan.Question {
		fmt.Fprintf(m.w, "Expanded: %s\n", plan.ExpandedText)
	}
	fmt.Fprintf(m.w, "Filters:  %s\n", describeFilters(plan.Filters))
}

func (m *explainMonitor) AfterQuery(candidates []*core.ScoredRecord) {
	fmt.Fprintf(m.w, "Candidates: %d\n", len(candidates))
}

func (m *explainMonitor) AfterFilter(result *core.RetrievalResult) {
	fmt.Fprintf(m.w, "Retrieved: %d passages (low confidence: %t)\n", len(result.Entries), result.LowConfidence)
	for i, e := range result.Entries {
		fmt.Fprintf(m.w, "  %d. %.3f %s #%d %q\n", i+1, e.Score, e.Record.SourceID, e.Record.Ordinal, preview(e.Record.Text, 80))
	}
	fmt.Fprintln(m.w)
}

func (m *explainMonitor) Finish(*core.Answer) {}

func describeFilters(f core.Filters) string {
	var parts []string
	if f.Sender != "" {
		parts = append(parts, "sender="+f.Sender)
	}
	if f.Company != "" {
		parts = append(parts, "company="+f.Company)
	}
	if !f.Since.IsZero() {
		parts = append(parts, "since="+f.Since.Format(dateLayout))
	}
	if !f.Until.IsZero() {
		parts = append(parts, "until="+f.Until.Format(dateLayout))
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
