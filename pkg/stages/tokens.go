package stages

import "strings"

func uniqueTokens(text string) []string {
	seen := map[string]bool{}
	var out []string
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func containsToken(text, token string) bool {
	return strings.Contains(strings.ToLower(text), token)
}
