package core

import (
	"testing"
	"time"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "short content", content: "test content"},
		{name: "empty string", content: ""},
		{name: "long content", content: "This is a much longer piece of content that should still hash consistently"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)
			if id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestPassageID(t *testing.T) {
	if PassageID("m1", 0) != PassageID("m1", 0) {
		t.Fatal("PassageID() is not deterministic")
	}
	if PassageID("m1", 0) == PassageID("m1", 1) {
		t.Error("PassageID() ignores the ordinal")
	}
	if PassageID("m1", 0) == PassageID("m2", 0) {
		t.Error("PassageID() ignores the source")
	}
	if PassageID("m1", 11) == PassageID("m11", 1) {
		t.Error("PassageID() collides across source/ordinal boundaries")
	}
}

func TestContentHash(t *testing.T) {
	if ContentHash("a", "b") != ContentHash("a", "b") {
		t.Fatal("ContentHash() is not deterministic")
	}
	if ContentHash("ab", "c") == ContentHash("a", "bc") {
		t.Error("ContentHash() does not delimit parts")
	}
	if got := len(ContentHash("x")); got != 32 {
		t.Errorf("ContentHash() length = %d, want 32", got)
	}
}

func TestNewPassage(t *testing.T) {
	p := NewPassage("m1", Chunk{Ordinal: 2, Text: "héllo", Tokens: 1, HardSplit: true})
	if p.ID != PassageID("m1", 2) {
		t.Errorf("ID = %d, want %d", p.ID, PassageID("m1", 2))
	}
	if p.Chars != 5 {
		t.Errorf("Chars = %d, want 5", p.Chars)
	}
	if !p.HardSplit || p.SourceID != "m1" || p.Ordinal != 2 {
		t.Errorf("unexpected passage %+v", p)
	}
}

func TestRawMessage_IsHTML(t *testing.T) {
	tests := []struct {
		name string
		msg  RawMessage
		want bool
	}{
		{name: "declared html", msg: RawMessage{ContentType: "text/html; charset=utf-8", Body: "hi"}, want: true},
		{name: "declared plain", msg: RawMessage{ContentType: "text/plain", Body: "<p>literal</p>"}, want: false},
		{name: "sniffed html", msg: RawMessage{Body: "  <html><body>x</body></html>"}, want: true},
		{name: "sniffed plain", msg: RawMessage{Body: "Just words."}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.IsHTML(); got != tt.want {
				t.Errorf("IsHTML() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmbeddingInput(t *testing.T) {
	if got := EmbeddingInput("Weekly", "body", true); got != "Subject: Weekly\n\nbody" {
		t.Errorf("EmbeddingInput() = %q", got)
	}
	if got := EmbeddingInput("Weekly", "body", false); got != "body" {
		t.Errorf("EmbeddingInput() without prefix = %q", got)
	}
	if got := EmbeddingInput("  ", "body", true); got != "body" {
		t.Errorf("EmbeddingInput() with blank subject = %q", got)
	}
}

func TestFilters_Match(t *testing.T) {
	ts := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := &Record{Sender: "Insights <news@mckinsey.com>", Company: "mckinsey", Timestamp: ts}

	tests := []struct {
		name    string
		filters Filters
		want    bool
	}{
		{name: "zero filters", filters: Filters{}, want: true},
		{name: "sender substring", filters: Filters{Sender: "MCKINSEY"}, want: true},
		{name: "sender miss", filters: Filters{Sender: "bcg"}, want: false},
		{name: "company", filters: Filters{Company: "McKinsey"}, want: true},
		{name: "since inclusive", filters: Filters{Since: ts}, want: true},
		{name: "since after", filters: Filters{Since: ts.Add(time.Second)}, want: false},
		{name: "until exclusive", filters: Filters{Until: ts}, want: false},
		{name: "until after", filters: Filters{Until: ts.Add(time.Hour)}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filters.Match(rec); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilters_Merge(t *testing.T) {
	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	got := Filters{Sender: "a"}.Merge(Filters{Sender: "b", Company: "c", Since: since})
	if got.Sender != "a" || got.Company != "c" || !got.Since.Equal(since) {
		t.Errorf("Merge() = %+v", got)
	}
}

func TestParseIntent(t *testing.T) {
	tests := map[string]Intent{
		"count":    IntentCount,
		" Trend ":  IntentTrend,
		"LIST":     IntentList,
		"latest":   IntentLatest,
		"summary":  IntentSummary,
		"whatever": IntentSearch,
		"":         IntentSearch,
	}
	for in, want := range tests {
		if got := ParseIntent(in); got != want {
			t.Errorf("ParseIntent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MessageState
		want     bool
	}{
		{StateFetched, StateNormalized, true},
		{StateFetched, StateStored, false},
		{StateNormalized, StateSkipped, true},
		{StateNormalized, StateStored, true},
		{StateChunked, StateEmbedded, true},
		{StateEmbedded, StateStored, true},
		{StateEmbedded, StateFailed, true},
		{StateStored, StateFailed, false},
		{StateSkipped, StateNormalized, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestBatchSummary_Add(t *testing.T) {
	var s BatchSummary
	s.Add(MessageOutcome{SourceID: "a", State: StateStored, Passages: 3})
	s.Add(MessageOutcome{SourceID: "b", State: StateStored, Unchanged: true})
	s.Add(MessageOutcome{SourceID: "c", State: StateSkipped})
	s.Add(MessageOutcome{SourceID: "d", State: StateFailed})

	if s.Stored != 1 || s.Unchanged != 1 || s.Skipped != 1 || s.Failed != 1 || s.Passages != 3 {
		t.Errorf("unexpected summary %+v", s)
	}
	if len(s.Outcomes) != 4 {
		t.Errorf("Outcomes = %d, want 4", len(s.Outcomes))
	}
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	if v[0] != 0.6 || v[1] != 0.8 {
		t.Errorf("NormalizeVector() = %v", v)
	}
	zero := NormalizeVector([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("NormalizeVector(zero) = %v", zero)
	}
	if got := DotProduct([]float32{1, 0}, []float32{0.5, 0.5, 9}); got != 0.5 {
		t.Errorf("DotProduct() = %v", got)
	}
}

func TestSortScored(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)
	scored := func(id ID, score float32, ts time.Time) *ScoredRecord {
		r := &Record{Timestamp: ts}
		r.ID = id
		return &ScoredRecord{Record: r, Score: score}
	}

	results := []*ScoredRecord{
		scored(5, 0.5, newer),
		scored(3, 0.9, older),
		scored(2, 0.9, newer),
		scored(4, 0.5, newer),
		scored(1, 0.9, older),
	}
	SortScored(results)

	want := []ID{2, 1, 3, 4, 5}
	for i, r := range results {
		if r.Record.ID != want[i] {
			t.Fatalf("position %d: got id %d, want %d", i, r.Record.ID, want[i])
		}
	}
}
