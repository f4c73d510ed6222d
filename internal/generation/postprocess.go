package generation

import "strings"

// stripWrappingQuotes removes one layer of quotes the model sometimes wraps
// the whole answer in.
func stripWrappingQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	pairs := [][2]byte{{'"', '"'}, {'\'', '\''}}
	for _, p := range pairs {
		if s[0] == p[0] && s[len(s)-1] == p[1] {
			return strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	// Curly quotes arrive as multi-byte runes.
	runes := []rune(s)
	if len(runes) >= 2 {
		first, last := runes[0], runes[len(runes)-1]
		if (first == '“' && last == '”') || (first == '‘' && last == '’') {
			return strings.TrimSpace(string(runes[1 : len(runes)-1]))
		}
	}
	return s
}

// splitParagraphs breaks a reply into the non-empty paragraphs that get
// sent as separate messages. A reply with no blank lines is one paragraph.
func splitParagraphs(s string) []string {
	var out []string
	for _, part := range strings.Split(s, "\n\n") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
