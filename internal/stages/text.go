package stages

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/swm-sink/ai-pod-nobody-knows-sub000/internal/episode"
)

// listMarker matches a leading bullet or "1." / "1)" numbering.
var listMarker = regexp.MustCompile(`^(?:[-*•+]\s+|\d+[.)]\s*)`)

// listItems returns the non-empty lines of text with list markers removed.
func listItems(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(strings.TrimSpace(line), ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// bulletItems returns only the lines of text that carry a list marker.
func bulletItems(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if !listMarker.MatchString(line) {
			continue
		}
		if item := strings.TrimSpace(listMarker.ReplaceAllString(line, "")); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// firstSentence returns text up to and including its first sentence end.
func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return text[:i+1]
		}
	}
	return truncate(text, 200)
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

var verdictLine = regexp.MustCompile(`(?i)^\D*?(\d+)\D.*?\b(supported|disputed|unverified)\b`)

// parseVerdicts reads lines like "2. DISPUTED - ..." into a map from claim
// index (zero-based) to verdict. Indexes outside [0,n) are ignored.
func parseVerdicts(text string, n int) map[int]string {
	out := make(map[int]string)
	for _, line := range strings.Split(text, "\n") {
		m := verdictLine.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil || i < 1 || i > n {
			continue
		}
		switch strings.ToLower(m[2]) {
		case "supported":
			out[i-1] = episode.VerdictSupported
		case "disputed":
			out[i-1] = episode.VerdictDisputed
		default:
			out[i-1] = episode.VerdictUnverified
		}
	}
	return out
}
