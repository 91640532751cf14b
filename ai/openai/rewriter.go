package openai

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/poiesic/newsrag/ai"
	"github.com/tmc/langchaingo/llms"
)

// ErrMalformedRewrite is returned when the model never produced parseable JSON.
var ErrMalformedRewrite = errors.New("malformed rewrite response")

const rewriteAttempts = 3

// Rewriter implements ai.QueryRewriter using a chat model in JSON mode.
type Rewriter struct {
	client llms.Model
	now    func() time.Time
	logger *slog.Logger
}

var _ ai.QueryRewriter = (*Rewriter)(nil)

// rewriteResponse matches the JSON shape requested in the prompt.
type rewriteResponse struct {
	Type            string `json:"type"`
	Topic           string `json:"topic"`
	SemanticContext struct {
		CoreConcepts []string `json:"core_concepts"`
		RelatedTerms []string `json:"related_terms"`
		Aspects      []string `json:"aspects"`
	} `json:"semantic_context"`
	Filters struct {
		Companies []string `json:"companies"`
		TimeRange struct {
			Start *string `json:"start"`
			End   *string `json:"end"`
		} `json:"time_range"`
	} `json:"filters"`
	Reasoning string `json:"reasoning"`
}

func newRewriter(config *ai.Config) (*Rewriter, error) {
	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}
	return &Rewriter{
		client: client,
		now:    time.Now,
		logger: slog.Default().With("component", "openai-rewriter"),
	}, nil
}

// NewRewriter creates a new query rewriter.
func NewRewriter(config *ai.Config) (ai.QueryRewriter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newRewriter(config)
}

// Rewrite asks the model to analyze question. Companies outside the given
// list are dropped from the result.
func (r *Rewriter) Rewrite(ctx context.Context, question string, companies []string) (*ai.Rewrite, error) {
	content := chatMessages(buildRewritePrompt(r.now(), companies), question)

	// Try up to 3 times in case of malformed JSON
	var result rewriteResponse
	var lastErr error
	for attempt := 0; attempt < rewriteAttempts; attempt++ {
		response, err := r.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			r.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, classifyError(err)
		}
		if len(response.Choices) < 1 {
			return nil, ErrNoChoices
		}

		responseText := repairJSON(stripFences(response.Choices[0].Content))
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			r.logger.Warn("error parsing rewrite response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		r.logger.Error("failed to parse rewrite response after retries", "err", lastErr)
		return nil, errors.Join(ErrMalformedRewrite, lastErr)
	}
	if strings.TrimSpace(result.Topic) == "" {
		return nil, ErrMalformedRewrite
	}

	rewrite := &ai.Rewrite{
		Intent:       result.Type,
		Topic:        strings.TrimSpace(result.Topic),
		CoreConcepts: cleanTerms(result.SemanticContext.CoreConcepts),
		RelatedTerms: cleanTerms(result.SemanticContext.RelatedTerms),
		Aspects:      cleanTerms(result.SemanticContext.Aspects),
		Since:        parseDate(result.Filters.TimeRange.Start),
		Until:        parseDate(result.Filters.TimeRange.End),
		Reasoning:    result.Reasoning,
	}
	for _, c := range result.Filters.Companies {
		c = strings.ToLower(strings.TrimSpace(c))
		if slices.Contains(companies, c) && !slices.Contains(rewrite.Companies, c) {
			rewrite.Companies = append(rewrite.Companies, c)
		}
	}

	r.logger.Debug("rewrote query",
		"intent", rewrite.Intent,
		"topic", rewrite.Topic,
		"companies", rewrite.Companies)
	return rewrite, nil
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s *string) *time.Time {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, "null") {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
