// Package normalize provides text cleanup helpers for provider payloads.
package normalize

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tagRe   = regexp.MustCompile(`<[^>]*>`)
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// "Display Name <addr@example.com>" as produced by mail headers.
	addrRe = regexp.MustCompile(`^\s*"?([^"<]*?)"?\s*<([^>]+)>\s*$`)
)

// CleanText strips markup and collapses whitespace so message bodies store
// as plain searchable text.
func CleanText(s string) string {
	s = tagRe.ReplaceAllString(s, " ")
	s = decodeEntities(s)

	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !lastSpace && b.Len() > 0 {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

// decodeEntities handles the handful of entities mail HTML actually uses.
func decodeEntities(s string) string {
	replacer := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
	)
	return replacer.Replace(s)
}

// Snippet truncates s to at most n runes at a word boundary.
func Snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	cut := string(runes[:n])
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}

// Participant is a parsed mail address or attendee.
type Participant struct {
	Name  string
	Email string
}

// ParseParticipant parses "Name <addr>" or a bare address. Returns false
// when no address can be found.
func ParseParticipant(s string) (Participant, bool) {
	if m := addrRe.FindStringSubmatch(s); m != nil {
		return Participant{
			Name:  strings.TrimSpace(m[1]),
			Email: strings.ToLower(strings.TrimSpace(m[2])),
		}, true
	}
	if addr := emailRe.FindString(s); addr != "" {
		return Participant{Email: strings.ToLower(addr)}, true
	}
	return Participant{}, false
}

// ExtractEmails returns the distinct lowercase addresses found in text,
// in order of first appearance.
func ExtractEmails(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, addr := range emailRe.FindAllString(text, -1) {
		addr = strings.ToLower(addr)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
