// Package extract pulls labeled values, ticket references and requester
// mentions out of loosely formatted workflow-automation message text.
//
// Labels and terminators are always matched against a lower-cased copy of
// the text; values are sliced from the original so their casing survives.
package extract

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"slackdigest/internal/domain"
)

// Rule describes one labeled field: the value starts after Label and runs to
// the earliest of Terminators, or Fallback characters (runes) when none follows.
type Rule struct {
	Field       string
	Label       string
	Terminators []string
	Fallback    int
}

var DefaultRules = []Rule{
	{
		Field:       domain.FieldRequestType,
		Label:       "request type:",
		Terminators: []string{"subrequest type:", "sub-request type:", "priority:", "summary:", "description:", "\n"},
		Fallback:    60,
	},
	{
		Field:       domain.FieldSubrequestType,
		Label:       "subrequest type:",
		Terminators: []string{"priority:", "summary:", "description:", "\n"},
		Fallback:    60,
	},
	{
		Field:       domain.FieldSummary,
		Label:       "summary:",
		Terminators: []string{"description:", "priority:", "\n"},
		Fallback:    160,
	},
	{
		Field:       domain.FieldDescription,
		Label:       "description:",
		Terminators: []string{"priority:", "attachments:", "requested by:", "\n\n"},
		Fallback:    600,
	},
}

const trimSet = "*_ \t\r\n"

var (
	ticketRe        = regexp.MustCompile(`\b[A-Z]+-\d+\b`)
	newRequestRe    = regexp.MustCompile(`(?i)new request from\s+<@([A-Z0-9]+)(?:\|[^>]*)?>\s+via`)
	mentionRe       = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
	requestPhraseRe = regexp.MustCompile(`(?i)new request from\b`)
)

// Extract returns the value following label in text. It reports false when
// the label is missing or the value is blank after trimming.
func Extract(text, label string, terminators []string, fallback int) (string, bool) {
	label = strings.ToLower(label)
	if label == "" {
		return "", false
	}
	lower := lowerSameLength(text)
	start := findLabel(lower, label)
	if start < 0 {
		return "", false
	}
	from := start + len(label)

	end := -1
	for _, term := range terminators {
		term = strings.ToLower(term)
		if term == "" {
			continue
		}
		if idx := strings.Index(lower[from:], term); idx >= 0 && (end < 0 || from+idx < end) {
			end = from + idx
		}
	}
	if end < 0 {
		end = advanceRunes(text, from, fallback)
	}

	value := strings.Trim(text[from:end], trimSet)
	if value == "" {
		return "", false
	}
	return value, true
}

// Fields applies DefaultRules and requester detection to text.
func Fields(text string) domain.Fields {
	return FieldsWith(text, DefaultRules)
}

func FieldsWith(text string, rules []Rule) domain.Fields {
	fields := make(domain.Fields)
	for _, r := range rules {
		if v, ok := Extract(text, r.Label, r.Terminators, r.Fallback); ok {
			fields[r.Field] = v
		}
	}
	if id, ok := RequesterID(text); ok {
		fields[domain.FieldActualRequesterID] = id
	}
	return fields
}

// TicketRefs returns distinct PROJ-123 style references in first-seen order.
// Matching is case-sensitive: "proj-45" is not a ticket key.
func TicketRefs(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range ticketRe.FindAllString(text, -1) {
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// RequesterID finds who a request is really from: the user in a
// "New request from <@U..> via" phrase, else the first mention in the text.
func RequesterID(text string) (string, bool) {
	if m := newRequestRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}
	if m := mentionRe.FindStringSubmatch(text); len(m) == 2 {
		return m[1], true
	}
	return "", false
}

// IsWorkflowAutomation reports whether text looks like a request posted by a
// workflow bot rather than free chat.
func IsWorkflowAutomation(text string) bool {
	if requestPhraseRe.MatchString(text) {
		return true
	}
	return findLabel(lowerSameLength(text), "request type:") >= 0
}

// findLabel returns the first index of label in lower that is not glued to
// a preceding letter or digit.
func findLabel(lower, label string) int {
	offset := 0
	for {
		idx := strings.Index(lower[offset:], label)
		if idx < 0 {
			return -1
		}
		pos := offset + idx
		if pos == 0 {
			return pos
		}
		prev, _ := utf8.DecodeLastRuneInString(lower[:pos])
		if !unicode.IsLetter(prev) && !unicode.IsDigit(prev) {
			return pos
		}
		offset = pos + len(label)
	}
}

// lowerSameLength lower-cases text while keeping byte offsets aligned with
// the original, so indexes found in the copy can slice the original.
func lowerSameLength(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size == 1 {
			b.WriteByte(text[i])
			i++
			continue
		}
		l := unicode.ToLower(r)
		if utf8.RuneLen(l) != size {
			l = r
		}
		b.WriteRune(l)
		i += size
	}
	return b.String()
}

// advanceRunes returns the byte offset n characters past from, clamped to
// the end of s.
func advanceRunes(s string, from, n int) int {
	i := from
	for ; n > 0 && i < len(s); n-- {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}
