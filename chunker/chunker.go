// Package chunker splits normalized newsletter text into passages.
//
// Token counts are whitespace-delimited words. Passages are packed greedily
// from whole sentences and never cross a sentence boundary unless a single
// sentence is longer than the budget, in which case it is cut by words and
// the pieces are flagged HardSplit. The same input always yields the same
// boundaries.
package chunker

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/poiesic/newsrag/core"
)

// DefaultMaxTokens is the passage budget used when none is given.
const DefaultMaxTokens = 200

var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n`)

// Chunker is safe for concurrent use.
type Chunker struct {
	maxTokens int
	overlap   int
	logger    *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxTokens sets the default passage budget.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) error {
		if n < 1 {
			return fmt.Errorf("max tokens must be positive, got %d", n)
		}
		c.maxTokens = n
		return nil
	}
}

// WithOverlap repeats the last n sentences of a passage at the start of the
// next one, as long as they fit the budget.
func WithOverlap(n int) Option {
	return func(c *Chunker) error {
		if n < 0 {
			return fmt.Errorf("overlap must not be negative, got %d", n)
		}
		c.overlap = n
		return nil
	}
}

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "chunker")
		return nil
	}
}

// New creates a Chunker.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxTokens: DefaultMaxTokens,
		logger:    slog.Default().With("component", "chunker"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MaxTokens returns the default budget.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// Overlap returns the number of overlapping sentences.
func (c *Chunker) Overlap() int { return c.overlap }

// sentence is one packing unit.
type sentence struct {
	text      string
	tokens    int
	paragraph int
}

// Chunk splits text into passages of at most maxTokens words. A
// non-positive maxTokens selects the configured default. Empty text yields
// no chunks.
func (c *Chunker) Chunk(text core.NormalizedText, maxTokens int) []core.Chunk {
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	if text.Empty {
		return nil
	}

	var chunks []core.Chunk
	var current []sentence
	currentTokens := 0
	fresh := 0 // sentences in current not yet emitted

	emit := func(hard bool, text string, tokens int) {
		chunks = append(chunks, core.Chunk{
			Ordinal:   len(chunks),
			Text:      text,
			Tokens:    tokens,
			HardSplit: hard,
		})
	}
	flush := func() {
		if fresh == 0 {
			return
		}
		emit(false, joinSentences(current), currentTokens)
		current = c.carryOver(current, maxTokens)
		currentTokens = sumTokens(current)
		fresh = 0
	}

	for _, s := range splitSentences(text.Text) {
		if s.tokens > maxTokens {
			flush()
			current, currentTokens = nil, 0
			c.logger.Warn("sentence exceeds token budget, splitting by words",
				"source", text.SourceID, "tokens", s.tokens, "max_tokens", maxTokens)
			for _, piece := range hardSplit(s.text, maxTokens) {
				emit(true, piece, countTokens(piece))
			}
			continue
		}
		if currentTokens+s.tokens > maxTokens {
			flush()
			// overlap that would not leave room for s is dropped
			for len(current) > 0 && currentTokens+s.tokens > maxTokens {
				currentTokens -= current[0].tokens
				current = current[1:]
			}
		}
		current = append(current, s)
		currentTokens += s.tokens
		fresh++
	}
	flush()
	return chunks
}

// carryOver returns the sentences repeated at the start of the next passage.
func (c *Chunker) carryOver(prev []sentence, maxTokens int) []sentence {
	if c.overlap == 0 || len(prev) <= 1 {
		return nil
	}
	n := min(c.overlap, len(prev)-1)
	tail := prev[len(prev)-n:]
	if sumTokens(tail) >= maxTokens {
		return nil
	}
	return append([]sentence(nil), tail...)
}

func sumTokens(sentences []sentence) int {
	total := 0
	for _, s := range sentences {
		total += s.tokens
	}
	return total
}

// joinSentences separates sentences of one paragraph with a space and
// paragraphs with a blank line.
func joinSentences(sentences []sentence) string {
	var b strings.Builder
	for i, s := range sentences {
		if i > 0 {
			if s.paragraph != sentences[i-1].paragraph {
				b.WriteString("\n\n")
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(s.text)
	}
	return b.String()
}

// splitSentences breaks text into sentences, numbering paragraphs. Lines
// inside a paragraph are sentence boundaries too, since newsletter lists
// rarely end in punctuation.
func splitSentences(text string) []sentence {
	var out []sentence
	paragraph := 0
	for _, para := range paragraphBreak.Split(text, -1) {
		added := false
		for _, line := range strings.Split(para, "\n") {
			for _, s := range sentencesInLine(line) {
				out = append(out, sentence{text: s, tokens: countTokens(s), paragraph: paragraph})
				added = true
			}
		}
		if added {
			paragraph++
		}
	}
	return out
}

// sentencesInLine ends a sentence at '.', '!' or '?' (plus closing quotes
// or brackets) followed by whitespace, so decimals and URLs stay intact.
func sentencesInLine(line string) []string {
	runes := []rune(line)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminal(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && (isTerminal(runes[end]) || isCloser(runes[end])) {
			end++
		}
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			i = end - 1
			continue
		}
		if s := strings.Join(strings.Fields(string(runes[start:end])), " "); s != "" {
			out = append(out, s)
		}
		start = end
		i = end - 1
	}
	if s := strings.Join(strings.Fields(string(runes[start:])), " "); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’'
}

func countTokens(s string) int {
	return len(strings.Fields(s))
}

func hardSplit(s string, maxTokens int) []string {
	words := strings.Fields(s)
	var pieces []string
	for len(words) > 0 {
		n := min(maxTokens, len(words))
		pieces = append(pieces, strings.Join(words[:n], " "))
		words = words[n:]
	}
	return pieces
}
