package core

import (
	"slices"
	"strings"
	"time"
)

// Filters narrow a retrieval to matching records. Zero values match everything.
type Filters struct {
	Sender  string // case-insensitive substring of the From header
	Company string // company key assigned at ingestion
	Since   time.Time
	Until   time.Time
}

// IsZero reports whether no filter is set.
func (f Filters) IsZero() bool {
	return f.Sender == "" && f.Company == "" && f.Since.IsZero() && f.Until.IsZero()
}

// Match reports whether r satisfies every set filter.
// Since is inclusive and Until is exclusive.
func (f Filters) Match(r *Record) bool {
	if f.Sender != "" && !strings.Contains(strings.ToLower(r.Sender), strings.ToLower(f.Sender)) {
		return false
	}
	if f.Company != "" && !strings.EqualFold(r.Company, f.Company) {
		return false
	}
	if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !r.Timestamp.Before(f.Until) {
		return false
	}
	return true
}

// Merge returns f with every unset field taken from fallback.
func (f Filters) Merge(fallback Filters) Filters {
	if f.Sender == "" {
		f.Sender = fallback.Sender
	}
	if f.Company == "" {
		f.Company = fallback.Company
	}
	if f.Since.IsZero() {
		f.Since = fallback.Since
	}
	if f.Until.IsZero() {
		f.Until = fallback.Until
	}
	return f
}

// Intent is the kind of answer a question asks for.
type Intent string

const (
	IntentSearch  Intent = "search"
	IntentCount   Intent = "count"
	IntentSummary Intent = "summary"
	IntentTrend   Intent = "trend"
	IntentList    Intent = "list"
	IntentLatest  Intent = "latest"
)

// ParseIntent maps free-form intent names to a known Intent.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentCount:
		return IntentCount
	case IntentSummary:
		return IntentSummary
	case IntentTrend:
		return IntentTrend
	case IntentList:
		return IntentList
	case IntentLatest:
		return IntentLatest
	default:
		return IntentSearch
	}
}

// PlannedQuery is a question ready for retrieval.
type PlannedQuery struct {
	Question     string
	ExpandedText string
	Vector       []float32
	Filters      Filters
	Intent       Intent
	Rewritten    bool // ExpandedText came from the rewrite service
}

// ScoredRecord is a record with its similarity to a query.
type ScoredRecord struct {
	Record        *Record
	Score         float32
	LowConfidence bool
}

// SortScored orders results by descending score, then newer message first,
// then ascending passage ID.
func SortScored(results []*ScoredRecord) {
	slices.SortFunc(results, func(a, b *ScoredRecord) int {
		if a.Score != b.Score {
			if a.Score > b.Score {
				return -1
			}
			return 1
		}
		if c := b.Record.Timestamp.Compare(a.Record.Timestamp); c != 0 {
			return c
		}
		if a.Record.ID < b.Record.ID {
			return -1
		}
		if a.Record.ID > b.Record.ID {
			return 1
		}
		return 0
	})
}

// RetrievalResult is ordered by descending score.
type RetrievalResult struct {
	Entries       []*ScoredRecord
	LowConfidence bool // every entry is below the confidence threshold
	// Matched counts the distinct source messages that matched the query
	// with confidence, before the TopK cut. Only count queries set it.
	Matched int
}

// Empty reports whether nothing was retrieved.
func (r *RetrievalResult) Empty() bool {
	return r == nil || len(r.Entries) == 0
}

// MatchedSources returns the number of source messages that matched,
// which is never less than the number of sources in Entries.
func (r *RetrievalResult) MatchedSources() int {
	if r == nil {
		return 0
	}
	return max(r.Matched, len(r.SourceIDs()))
}

// SourceIDs returns the distinct source message IDs in result order.
func (r *RetrievalResult) SourceIDs() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Entries))
	ids := make([]string, 0, len(r.Entries))
	for _, e := range r.Entries {
		if _, ok := seen[e.Record.SourceID]; ok {
			continue
		}
		seen[e.Record.SourceID] = struct{}{}
		ids = append(ids, e.Record.SourceID)
	}
	return ids
}

// Citation names a source message an answer relied on.
type Citation struct {
	SourceID  string
	Subject   string
	Sender    string
	Timestamp time.Time
	Score     float32
}

// Answer is the final response to a question.
type Answer struct {
	Text          string
	Citations     []Citation
	Intent        Intent
	LowConfidence bool
	Grounded      bool // the text was produced from retrieved passages
	Unavailable   bool // search could not run
}
