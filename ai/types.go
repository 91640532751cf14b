package ai

import (
	"strings"
	"time"
)

// Rewrite is the structured reading of a question.
type Rewrite struct {
	Intent       string
	Topic        string
	CoreConcepts []string
	RelatedTerms []string
	Aspects      []string
	Companies    []string
	Since        *time.Time
	Until        *time.Time
	Reasoning    string
}

// ExpandedText is the retrieval text: the topic followed by its core
// concepts and aspects.
func (r *Rewrite) ExpandedText() string {
	parts := []string{strings.TrimSpace(r.Topic)}
	if len(r.CoreConcepts) > 0 {
		parts = append(parts, "Including core concepts: "+strings.Join(r.CoreConcepts, ", "))
	}
	if len(r.Aspects) > 0 {
		parts = append(parts, "Considering aspects like: "+strings.Join(r.Aspects, ", "))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
