package search

import (
	"regexp"
	"strconv"
	"time"

	"github.com/poiesic/newsrag/core"
)

var lastNDays = regexp.MustCompile(`\b(?:last|past|previous) (\d{1,3}) (day|days|week|weeks|month|months)\b`)

// inferDates derives a time window from relative phrases in q, which must
// already be normalized. now is the reference time.
func inferDates(q string, now time.Time, latestWindow time.Duration) core.Filters {
	now = now.UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	if m := lastNDays.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch m[2] {
		case "day", "days":
			return core.Filters{Since: today.AddDate(0, 0, -n)}
		case "week", "weeks":
			return core.Filters{Since: today.AddDate(0, 0, -7*n)}
		default:
			return core.Filters{Since: today.AddDate(0, -n, 0)}
		}
	}

	switch {
	case containsAny(q, "today"):
		return core.Filters{Since: today}
	case containsAny(q, "yesterday"):
		return core.Filters{Since: today.AddDate(0, 0, -1), Until: today}
	case containsAny(q, "this week"):
		offset := (int(today.Weekday()) + 6) % 7 // days since Monday
		return core.Filters{Since: today.AddDate(0, 0, -offset)}
	case containsAny(q, "last week", "past week"):
		return core.Filters{Since: today.AddDate(0, 0, -7)}
	case containsAny(q, "this month"):
		return core.Filters{Since: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)}
	case containsAny(q, "last month", "past month"):
		return core.Filters{Since: today.AddDate(0, -1, 0)}
	case containsAny(q, "this year"):
		return core.Filters{Since: time.Date(now.Year(), 1, 1, 0, 0, 0, 0, time.UTC)}
	case containsAny(q, "latest", "recent", "recently", "newest", "lately"):
		return core.Filters{Since: now.Add(-latestWindow)}
	}
	return core.Filters{}
}

// detectIntent guesses the intent of a normalized question from keywords.
func detectIntent(q string) core.Intent {
	switch {
	case containsAny(q, "how many", "count", "number of"):
		return core.IntentCount
	case containsAny(q, "summarize", "summarise", "summary", "overview", "recap"):
		return core.IntentSummary
	case containsAny(q, "trend", "trends", "trending", "over time"):
		return core.IntentTrend
	case containsAny(q, "list", "which newsletters", "show me all", "all newsletters"):
		return core.IntentList
	case containsAny(q, "latest", "most recent", "newest"):
		return core.IntentLatest
	}
	return core.IntentSearch
}
