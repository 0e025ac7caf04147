package analysis

import "strings"

// extractJSON pulls the JSON object out of an LLM reply. Models wrap
// output in markdown fences or chatter around it; we strip fences and
// take the span from the first '{' to the last '}'.
func extractJSON(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// truncateRunes caps a string at n characters, not bytes, so multi-byte
// text is never cut mid-rune.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
