// Package normalize turns raw newsletter bodies into clean text.
//
// HTML bodies are reduced to their visible text, preferring the main
// article when readability finds one. Quoted replies, "view in browser"
// links, decorative separators and subscription footers are removed.
// Messages left with too little text come back marked Empty rather than
// as an error.
package normalize

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"

	readability "github.com/go-shiori/go-readability"
	"github.com/poiesic/newsrag/core"
	"github.com/poiesic/newsrag/sender"
)

const (
	// DefaultMinChars is the shortest text considered meaningful.
	DefaultMinChars = 80

	// articleShare is the fraction of the full text an extracted article
	// must keep to be preferred over it.
	articleShare = 0.4
)

// Reasons reported in NormalizedText.EmptyReason.
const (
	ReasonEmptyBody = "empty body"
	ReasonTooShort  = "below minimum length"
)

// articleBase is handed to readability, which needs a base for relative links.
var articleBase = &url.URL{Scheme: "https", Host: "newsletter.invalid"}

// Normalizer cleans RawMessages. It is safe for concurrent use.
type Normalizer struct {
	minChars          int
	registry          *sender.Registry
	articleExtraction bool
	logger            *slog.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer) error

// WithMinChars sets the minimum length of meaningful text in characters.
func WithMinChars(n int) Option {
	return func(nz *Normalizer) error {
		if n < 0 {
			return fmt.Errorf("min chars must not be negative, got %d", n)
		}
		nz.minChars = n
		return nil
	}
}

// WithRegistry sets the registry used to assign company keys.
func WithRegistry(r *sender.Registry) Option {
	return func(nz *Normalizer) error {
		if r != nil {
			nz.registry = r
		}
		return nil
	}
}

// WithArticleExtraction toggles readability extraction for HTML bodies.
func WithArticleExtraction(enabled bool) Option {
	return func(nz *Normalizer) error {
		nz.articleExtraction = enabled
		return nil
	}
}

// WithLogger sets the logger. A nil logger selects slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(nz *Normalizer) error {
		if logger == nil {
			logger = slog.Default()
		}
		nz.logger = logger.With("component", "normalizer")
		return nil
	}
}

// New creates a Normalizer with the built-in sender registry.
func New(opts ...Option) (*Normalizer, error) {
	nz := &Normalizer{
		minChars:          DefaultMinChars,
		articleExtraction: true,
		logger:            slog.Default().With("component", "normalizer"),
	}
	for _, opt := range opts {
		if err := opt(nz); err != nil {
			return nil, err
		}
	}
	if nz.registry == nil {
		nz.registry = sender.DefaultRegistry()
	}
	return nz, nil
}

// MinChars returns the configured minimum length.
func (nz *Normalizer) MinChars() int {
	return nz.minChars
}

// Normalize extracts the clean text of msg. It never fails: messages without
// meaningful content are returned with Empty set and a reason.
func (nz *Normalizer) Normalize(msg *core.RawMessage) core.NormalizedText {
	out := core.NormalizedText{
		SourceID:  msg.ID,
		ThreadID:  msg.ThreadID,
		Sender:    strings.TrimSpace(msg.Sender),
		Company:   nz.registry.Match(msg.Sender),
		Subject:   strings.Join(strings.Fields(msg.Subject), " "),
		Timestamp: msg.Timestamp,
	}

	if strings.TrimSpace(msg.Body) == "" {
		out.Empty = true
		out.EmptyReason = ReasonEmptyBody
		return out
	}

	var text string
	if msg.IsHTML() {
		text = nz.fromHTML(msg)
	} else {
		text = cleanText(invisibleRunes.Replace(msg.Body))
	}

	out.Text = text
	if n := utf8.RuneCountInString(text); n < nz.minChars || n == 0 {
		out.Empty = true
		out.EmptyReason = fmt.Sprintf("%s (%d < %d characters)", ReasonTooShort, n, nz.minChars)
	}
	return out
}

func (nz *Normalizer) fromHTML(msg *core.RawMessage) string {
	full := cleanText(htmlToText(msg.Body))
	if !nz.articleExtraction {
		return full
	}

	article, err := readability.FromReader(strings.NewReader(msg.Body), articleBase)
	if err != nil {
		nz.logger.Debug("article extraction failed", "source", msg.ID, "err", err)
		return full
	}
	extracted := cleanText(htmlToText(article.Content))

	fullLen := utf8.RuneCountInString(full)
	need := max(nz.minChars, int(float64(fullLen)*articleShare))
	if utf8.RuneCountInString(extracted) < need {
		return full
	}
	return extracted
}
