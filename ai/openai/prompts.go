package openai

import (
	"fmt"
	"strings"
	"time"
)

const rewriteResponseSchema = `{
  "type": "search" | "count" | "summary" | "trend" | "list" | "latest",
  "topic": "main topic or subject",
  "semantic_context": {
    "core_concepts": ["core concepts of the topic"],
    "related_terms": ["related business or industry terms"],
    "aspects": ["different aspects or angles of the topic"]
  },
  "filters": {
    "companies": ["companies from the available list that the question names"],
    "time_range": {
      "start": "YYYY-MM-DD or null",
      "end": "YYYY-MM-DD or null"
    }
  },
  "reasoning": "one sentence explaining the analysis"
}`

const rewritePromptTemplate = `You analyze questions asked about a collection of email newsletters.

Today is %s.
Available companies: %s

For the question you receive:
1. Decide the intent.
   - "count" asks how many ("how many...")
   - "summary" asks for an overview of content
   - "trend" asks what is changing or emerging
   - "list" asks to show or enumerate newsletters
   - "latest" asks for the most recent news
   - "search" is anything else
2. Extract the core subject. Expand it with related concepts, industry terms and angles that help find relevant passages.
3. Identify companies. Use only names from the available list. Leave the list empty when none are named.
4. Fill the time range only when the question states or clearly implies one.

Output ONLY valid JSON that follows this shape. Start with { and end with }. No preamble and no markdown.

%s

Example for "supply chain trends":
{
  "type": "trend",
  "topic": "supply chain trends",
  "semantic_context": {
    "core_concepts": ["supply chain management", "logistics", "procurement"],
    "related_terms": ["inventory optimization", "warehousing", "last-mile delivery"],
    "aspects": ["risk management", "sustainability", "resilience"]
  },
  "filters": {"companies": [], "time_range": {"start": null, "end": null}},
  "reasoning": "asks how supply chain topics are changing"
}`

func buildRewritePrompt(now time.Time, companies []string) string {
	list := "none"
	if len(companies) > 0 {
		list = strings.Join(companies, ", ")
	}
	return fmt.Sprintf(rewritePromptTemplate, now.Format("2006-01-02"), list, rewriteResponseSchema)
}
