// Package report renders a digest into Slack-flavoured text.
package report

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"slackdigest/internal/domain"
)

const (
	NoMessagesSentinel = "📭 No new messages to include in this weekly digest."
	DefaultTitle       = "Weekly Digest - Nucleus & Trust View"
	UnknownUser        = "Unknown User"

	previewBudget     = 120
	defaultMaxTickets = 3
)

// NameResolver turns a user id into a display name. Implementations own any
// caching; the renderer calls it once per rendered message.
type NameResolver interface {
	DisplayName(userID string) string
}

// TicketLookup returns tracker details for a ticket key, if any are known.
type TicketLookup interface {
	LookupTicket(key string) (domain.TicketInfo, bool)
}

type Document struct {
	ChannelID   string
	ChannelName string
	Range       domain.DateRange
	Buckets     []domain.DailyBucket
	Stats       domain.ReportStatistics
}

type Options struct {
	Title        string
	Tickets      TicketLookup
	WorkspaceURL string
	MaxTickets   int
	FilterNote   string
}

var severityMarker = map[domain.Severity]string{
	domain.SeverityHigh:   "🔴",
	domain.SeverityMedium: "🟡",
	domain.SeverityLow:    "🔵",
}

var statusMarker = map[domain.ResolutionStatus]string{
	domain.StatusResolved:       "✅",
	domain.StatusLikelyResolved: "🟠",
	domain.StatusNeedsAttention: "❓",
}

// Render produces the digest document. Output depends only on its inputs.
func Render(doc Document, names NameResolver, opts Options) string {
	if doc.Stats.Total == 0 {
		return NoMessagesSentinel
	}
	title := opts.Title
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	channel := doc.ChannelName
	if channel == "" {
		channel = doc.ChannelID
	}
	stats := doc.Stats

	var lines []string
	add := func(format string, args ...any) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}

	add("📊 *%s*", title)
	add("📢 *#%s*", channel)
	add("📅 %s - %s", doc.Range.Start.Format("Jan 02"), doc.Range.End.Format("Jan 02, 2006"))
	add("📈 *%s*", plural(stats.Total, "message"))
	add("")

	add("*🔑 Workflow Breakdown:*")
	for _, c := range stats.Workflows {
		add("• %s: %s", c.Key, plural(c.N, "message"))
	}
	add("")

	add("*📊 Resolution Status:* %s %d resolved (%.1f%%) · %s %d likely resolved (%.1f%%) · %s %d need attention (%.1f%%) · response rate %.1f%%",
		statusMarker[domain.StatusResolved], stats.Resolved, stats.Percent(stats.Resolved),
		statusMarker[domain.StatusLikelyResolved], stats.Likely, stats.Percent(stats.Likely),
		statusMarker[domain.StatusNeedsAttention], stats.NeedsAttention, stats.Percent(stats.NeedsAttention),
		stats.Percent(stats.Total-stats.NeedsAttention),
	)
	add("")

	for _, bucket := range doc.Buckets {
		add("*📅 %s (%s)*", bucket.Date.Format("Monday, 2006-01-02"), plural(len(bucket.Messages), "message"))
		for i, m := range bucket.Messages {
			add("%d. %s", i+1, messageLine(doc, m, names, opts))
			for _, p := range Preview(m.Message.Text, m.Fields) {
				add("      > %s", p)
			}
		}
		add("")
	}

	add("*🚨 Severity Breakdown:*")
	for _, c := range stats.Severities {
		add("• %s %s: %s (%.0f%%)", severityMarker[domain.Severity(c.Key)], c.Key, plural(c.N, "message"), stats.Percent(c.N))
	}
	add("")

	add("*🎫 Tickets & Questions:*")
	add("• Ticket references: %d in %s", stats.TicketRefs, plural(stats.MessagesWithTickets, "message"))
	add("• Questions asked: %d (%.0f%%)", stats.Questions, stats.Percent(stats.Questions))
	add("")

	lines = append(lines, legend...)
	add("")
	add("🤖 _Auto-generated weekly digest with resolution tracking_")
	if opts.FilterNote != "" {
		add("🔍 _Filtered for: %s_", opts.FilterNote)
	}
	return strings.Join(lines, "\n")
}

var legend = []string{
	"*🔍 Legend:*",
	"• 🔴 High / 🟡 Medium / 🔵 Low = severity from message keywords",
	"• ✅ = Resolved (confidence 0.8 or more)",
	"• 🟠 = Likely resolved (confidence 0.6 to 0.8)",
	"• ❓ = Needs attention (confidence below 0.6)",
	"• (0.0) = Engagement-based confidence from threads and reactions",
	"• 📝 = Has thread responses",
	"• 🎫 = Ticket referenced",
}

func messageLine(doc Document, m domain.ClassifiedMessage, names NameResolver, opts Options) string {
	c := m.Classification

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] *%s* · %s · %s %s | %s %s (%.1f)",
		m.Time.Format("15:04"),
		displayName(names, m.RequesterID()),
		typeLabel(m),
		severityMarker[c.Severity], c.Severity,
		statusMarker[c.Status()], c.Status(), c.ResolutionConfidence,
	)
	if c.HasThread {
		b.WriteString(" 📝")
	}

	maxTickets := opts.MaxTickets
	if maxTickets <= 0 {
		maxTickets = defaultMaxTickets
	}
	for i, key := range c.JiraTickets {
		if i == maxTickets {
			break
		}
		b.WriteString(" 🎫 ")
		b.WriteString(ticketRef(opts.Tickets, key))
	}

	if link := Permalink(opts.WorkspaceURL, doc.ChannelID, m.Message.TS); link != "" {
		fmt.Fprintf(&b, " <%s|(link)>", link)
	}
	return b.String()
}

func displayName(names NameResolver, userID string) string {
	if userID == "" {
		return UnknownUser
	}
	if names == nil {
		return userID
	}
	if name := strings.TrimSpace(names.DisplayName(userID)); name != "" {
		return name
	}
	return UnknownUser
}

func typeLabel(m domain.ClassifiedMessage) string {
	rt, ok := m.Fields.Get(domain.FieldRequestType)
	if !ok {
		return string(m.Classification.Workflow)
	}
	if sub, ok := m.Fields.Get(domain.FieldSubrequestType); ok {
		return rt + " / " + sub
	}
	return rt
}

func ticketRef(tickets TicketLookup, key string) string {
	if tickets == nil {
		return key
	}
	info, ok := tickets.LookupTicket(key)
	if !ok || info.URL == "" {
		return key
	}
	return fmt.Sprintf("<%s|%s>", info.URL, key)
}

// Permalink builds the archive link for a message, or "" without a
// workspace URL.
func Permalink(workspaceURL, channelID, ts string) string {
	workspaceURL = strings.TrimRight(strings.TrimSpace(workspaceURL), "/")
	if workspaceURL == "" || channelID == "" || ts == "" {
		return ""
	}
	return fmt.Sprintf("%s/archives/%s/p%s", workspaceURL, channelID, strings.ReplaceAll(ts, ".", ""))
}

// Preview returns up to three short lines summarising a message. The
// extracted description is preferred and split into two word-balanced
// lines, with the second split again when it is too long. Without a
// description the first two non-blank lines of the raw text are used.
func Preview(text string, fields domain.Fields) []string {
	if desc, ok := fields.Get(domain.FieldDescription); ok {
		if lines := descriptionLines(desc); len(lines) > 0 {
			return lines
		}
	}
	return rawLines(text)
}

func descriptionLines(desc string) []string {
	words := strings.Fields(desc)
	if len(words) == 0 {
		return nil
	}
	lines := splitWords(words)
	if len(lines) == 2 && utf8.RuneCountInString(lines[1]) > previewBudget {
		lines = append(lines[:1], splitWords(strings.Fields(lines[1]))...)
	}
	for i := range lines {
		lines[i] = truncate(lines[i], previewBudget)
	}
	return lines
}

func splitWords(words []string) []string {
	if len(words) < 2 {
		return []string{strings.Join(words, " ")}
	}
	mid := (len(words) + 1) / 2
	return []string{strings.Join(words[:mid], " "), strings.Join(words[mid:], " ")}
}

func rawLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, truncate(line, previewBudget))
		if len(out) == 2 {
			break
		}
	}
	return out
}

func truncate(s string, budget int) string {
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:budget]), " ") + "..."
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
