package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	replyHeader     = regexp.MustCompile(`(?i)^on\s.{0,200}\swrote:$`)
	originalMessage = regexp.MustCompile(`(?i)^-{2,}\s*original message\s*-{2,}$`)
	forwardedHeader = regexp.MustCompile(`(?i)^-{2,}\s*forwarded message\s*-{2,}$`)
)

// footerMarkers identify the start of subscription boilerplate.
var footerMarkers = []string{
	"unsubscribe",
	"manage your preferences",
	"update your preferences",
	"manage preferences",
	"email preferences",
	"you are receiving this",
	"you received this email",
	"you're receiving this",
	"privacy policy",
	"no longer wish to receive",
}

// browserLinks are "view online" lines that carry no content.
var browserLinks = []string{
	"view in browser",
	"view this email in your browser",
	"view it in your browser",
	"view online",
	"trouble viewing this email",
}

const (
	separatorChars    = "-=_*~#"
	footerLookback    = 3
	maxBoilerplateLen = 120
)

// cleanText collapses whitespace and removes quoted replies, browser links,
// decorative separators and footers.
func cleanText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.Join(strings.Fields(line), " ")
		if replyHeader.MatchString(line) || originalMessage.MatchString(line) {
			break
		}
		if strings.HasPrefix(line, ">") || forwardedHeader.MatchString(line) {
			continue
		}
		if isBrowserLink(line) {
			continue
		}
		lines = append(lines, line)
	}

	lines = cutFooter(lines)

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" || isSeparator(line) {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// cutFooter drops everything from the first footer marker in the second
// half of the message. A separator line just above the marker is taken as
// the footer start.
func cutFooter(lines []string) []string {
	nonEmpty := 0
	for _, l := range lines {
		if l != "" {
			nonEmpty++
		}
	}
	seen := 0
	for i, line := range lines {
		if line == "" {
			continue
		}
		seen++
		if seen*2 <= nonEmpty || !hasFooterMarker(line) {
			continue
		}
		cut := i
		for j := i - 1; j >= 0 && j >= i-footerLookback; j-- {
			if isSeparator(lines[j]) {
				cut = j
				break
			}
		}
		return lines[:cut]
	}
	return lines
}

func hasFooterMarker(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range footerMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isBrowserLink(line string) bool {
	if len(line) > maxBoilerplateLen {
		return false
	}
	lower := strings.ToLower(line)
	for _, m := range browserLinks {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// isSeparator reports whether line is a run of at least three decoration
// characters such as "-----" or "=*=*=".
func isSeparator(line string) bool {
	if utf8.RuneCountInString(line) < 3 {
		return false
	}
	for _, r := range line {
		if r == ' ' {
			continue
		}
		if !strings.ContainsRune(separatorChars, r) {
			return false
		}
	}
	return true
}
