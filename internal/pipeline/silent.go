package pipeline

import "strings"

// IsSilent reports whether a reply invokes the silent token: the model's
// way of saying "nothing worth sending". The token only counts when it
// stands alone at the start or end of the reply; mid-word or quoted
// occurrences do not suppress delivery.
func IsSilent(reply, token string) bool {
	if token == "" {
		return false
	}
	t := strings.TrimSpace(reply)
	if t == token {
		return true
	}
	if rest, ok := strings.CutPrefix(t, token); ok && startsWithSpace(rest) {
		return true
	}
	if rest, ok := strings.CutSuffix(t, token); ok && endsWithSpace(rest) {
		return true
	}
	return false
}

func startsWithSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t')
}

func endsWithSpace(s string) bool {
	if s == "" {
		return false
	}
	c := s[len(s)-1]
	return c == ' ' || c == '\n' || c == '\t'
}
