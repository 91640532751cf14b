package search

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/poiesic/newsrag/ai"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/retry"
)

const (
	// NoResultsAnswer is returned when nothing relevant was retrieved.
	NoResultsAnswer = "No relevant newsletters found."

	// UnavailableAnswer is returned when retrieval could not run.
	UnavailableAnswer = "Search is unavailable right now. Please try again later."

	// SchemaMismatchAnswer is returned when the index holds vectors of a
	// different embedding model than the one configured.
	SchemaMismatchAnswer = "Search is unavailable: the index was built with a different embedding model. Re-embed it with the configured model."
)

const systemPrompt = `You answer questions about email newsletters.
Use only the numbered sources below. Cite every claim with the number of its source in square brackets, like [1] or [2].
If the sources do not answer the question, say so plainly instead of guessing.`

var citationMarker = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// Composer produces grounded answers with citations.
type Composer struct {
	generator ai.Generator
	config    Config
	logger    *slog.Logger
}

// NewComposer creates a composer.
func NewComposer(generator ai.Generator, cfg Config, logger *slog.Logger) (*Composer, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{generator: generator, config: cfg, logger: logger.With("component", "composer")}, nil
}

// Compose answers question from result. An empty result produces
// NoResultsAnswer without calling the generator. When the generator fails
// the answer lists the best matching newsletters instead.
func (c *Composer) Compose(ctx context.Context, question string, intent core.Intent, result *core.RetrievalResult) (*core.Answer, error) {
	if result.Empty() {
		return &core.Answer{Text: NoResultsAnswer, Intent: intent}, nil
	}

	sources := c.selectSources(intent, result.Entries)
	prompt := buildPrompt(question, intent, result, sources)

	var text string
	err := retry.Do(ctx, c.config.Retry, func(ctx context.Context) error {
		callCtx, cancel := c.config.callContext(ctx)
		defer cancel()
		var err error
		text, err = c.generator.Generate(callCtx, systemPrompt, prompt)
		return err
	}, retry.IsTransient)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		c.logger.Warn("generation failed, answering with the matching newsletters", "err", err)
		return &core.Answer{
			Text:          extractiveAnswer(sources),
			Citations:     citeAll(sources),
			Intent:        intent,
			LowConfidence: result.LowConfidence,
		}, nil
	}

	text = strings.TrimSpace(text)
	citations := citeMarked(text, sources)
	if len(citations) == 0 {
		citations = citeConfident(sources)
	}
	return &core.Answer{
		Text:          text,
		Citations:     citations,
		Intent:        intent,
		LowConfidence: result.LowConfidence,
		Grounded:      true,
	}, nil
}

// selectSources picks the passages shown to the generator for intent.
func (c *Composer) selectSources(intent core.Intent, entries []*core.ScoredRecord) []*core.ScoredRecord {
	selected := slices.Clone(entries)
	switch intent {
	case core.IntentSummary:
		selected = selected[:min(3, len(selected))]
	case core.IntentLatest:
		slices.SortStableFunc(selected, newestFirst)
	case core.IntentTrend:
		// newest passage per company
		slices.SortStableFunc(selected, newestFirst)
		seen := make(map[string]bool)
		trend := selected[:0]
		for _, e := range selected {
			if seen[e.Record.Company] {
				continue
			}
			seen[e.Record.Company] = true
			trend = append(trend, e)
		}
		selected = trend
	case core.IntentCount:
		selected = selected[:1]
	}
	return selected[:min(c.config.MaxContext, len(selected))]
}

func newestFirst(a, b *core.ScoredRecord) int {
	return b.Record.Timestamp.Compare(a.Record.Timestamp)
}

func buildPrompt(question string, intent core.Intent, result *core.RetrievalResult, sources []*core.ScoredRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user asked: %q\n", question)
	if intent == core.IntentCount {
		fmt.Fprintf(&b, "There are %d matching newsletters. One example follows.\n", result.MatchedSources())
	} else {
		fmt.Fprintf(&b, "Based on %d matching newsletters, here are the most relevant passages:\n", len(result.SourceIDs()))
	}
	if result.LowConfidence {
		b.WriteString("The passages are only loosely related to the question.\n")
	}
	b.WriteString("\n")

	for i, s := range sources {
		r := s.Record
		fmt.Fprintf(&b, "[%d] From: %s", i+1, r.Sender)
		if r.Company != "" {
			fmt.Fprintf(&b, " (%s)", r.Company)
		}
		fmt.Fprintf(&b, "\nDate: %s\nSubject: %s\nContent: %s\n\n", r.Timestamp.Format("2006-01-02"), r.Subject, r.Text)
	}

	switch intent {
	case core.IntentCount:
		b.WriteString("State the count and mention the example in one or two sentences.")
	case core.IntentTrend:
		b.WriteString("Describe the trend across these newsletters, noting which company said what.")
	case core.IntentSummary:
		b.WriteString("Provide a concise summary focusing on the key points.")
	case core.IntentList:
		b.WriteString("List the relevant newsletters with one line each.")
	case core.IntentLatest:
		b.WriteString("Answer from the most recent newsletters first, giving their dates.")
	default:
		b.WriteString("Answer the question concisely. Use quotes when relevant.")
	}
	return b.String()
}

// citeMarked returns the sources referenced by [n] markers in text, in
// order of first reference, one citation per source message.
func citeMarked(text string, sources []*core.ScoredRecord) []core.Citation {
	var marked []*core.ScoredRecord
	for _, m := range citationMarker.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n < 1 || n > len(sources) {
				continue
			}
			marked = append(marked, sources[n-1])
		}
	}
	return citeAll(marked)
}

// citeConfident is used when the answer carries no markers. It cites the
// sources that matched with confidence, or only the best one when none did.
func citeConfident(sources []*core.ScoredRecord) []core.Citation {
	var confident []*core.ScoredRecord
	for _, s := range sources {
		if !s.LowConfidence {
			confident = append(confident, s)
		}
	}
	if len(confident) == 0 {
		confident = sources[:min(1, len(sources))]
	}
	return citeAll(confident)
}

// citeAll returns one citation per distinct source message.
func citeAll(entries []*core.ScoredRecord) []core.Citation {
	seen := make(map[string]bool)
	var out []core.Citation
	for _, e := range entries {
		r := e.Record
		if seen[r.SourceID] {
			continue
		}
		seen[r.SourceID] = true
		out = append(out, core.Citation{
			SourceID:  r.SourceID,
			Subject:   r.Subject,
			Sender:    r.Sender,
			Timestamp: r.Timestamp,
			Score:     e.Score,
		})
	}
	return out
}

func extractiveAnswer(sources []*core.ScoredRecord) string {
	var b strings.Builder
	b.WriteString("The answer service is unavailable. The most relevant newsletters are:")
	for _, c := range citeAll(sources) {
		fmt.Fprintf(&b, "\n- %s (%s, %s)", c.Subject, c.Sender, c.Timestamp.Format("2006-01-02"))
	}
	return b.String()
}
