// Package classify derives severity, workflow, question and resolution
// attributes from a message and the fields extracted from it.
package classify

import (
	"sort"
	"strings"

	"slackdigest/internal/domain"
	"slackdigest/internal/extract"
)

// Keywords are matched case-insensitively against the message text.
type Keywords struct {
	High       []string `yaml:"high"`
	Low        []string `yaml:"low"`
	Question   []string `yaml:"question"`
	Nucleus    []string `yaml:"nucleus"`
	Trust      []string `yaml:"trust"`
	Search     []string `yaml:"search"`
	Deployment []string `yaml:"deployment"`
}

func DefaultKeywords() Keywords {
	return Keywords{
		High:       []string{"urgent", "critical", "emergency", "asap", "blocking"},
		Low:        []string{"low", "minor", "nice to have", "enhancement"},
		Question:   []string{"?", "question", "how", "what", "why", "when", "where", "can you", "could you", "help"},
		Nucleus:    []string{"nucleus", "nucleus dashboard"},
		Trust:      []string{"trust", "trust view", "trust dashboard"},
		Search:     []string{"search", "search 3.0", "ingestion"},
		Deployment: []string{"deployment", "production", "staging"},
	}
}

// Merge returns k with every list extended by the matching list in extra.
// Duplicates are dropped; order is preserved.
func (k Keywords) Merge(extra Keywords) Keywords {
	return Keywords{
		High:       mergeLists(k.High, extra.High),
		Low:        mergeLists(k.Low, extra.Low),
		Question:   mergeLists(k.Question, extra.Question),
		Nucleus:    mergeLists(k.Nucleus, extra.Nucleus),
		Trust:      mergeLists(k.Trust, extra.Trust),
		Search:     mergeLists(k.Search, extra.Search),
		Deployment: mergeLists(k.Deployment, extra.Deployment),
	}
}

type Classifier struct {
	kw Keywords
}

func New(kw Keywords) *Classifier {
	return &Classifier{kw: normalizeKeywords(kw)}
}

func Default() *Classifier {
	return New(DefaultKeywords())
}

// Classify is a pure function of msg and fields.
//
// ResolutionConfidence is an engagement heuristic (threads and reactions),
// not a tracked resolution state.
func (c *Classifier) Classify(msg domain.RawMessage, fields domain.Fields) domain.Classification {
	lower := strings.ToLower(msg.Text)

	tickets := extract.TicketRefs(msg.Text)
	sort.Strings(tickets)

	reactions := msg.ReactionCount()
	return domain.Classification{
		Severity:             c.severity(lower),
		Workflow:             c.workflow(lower, fields),
		IsQuestion:           containsAny(lower, c.kw.Question),
		JiraTickets:          tickets,
		HasThread:            msg.HasThread(),
		ReactionCount:        reactions,
		ResolutionConfidence: Confidence(msg.HasThread(), reactions),
	}
}

func (c *Classifier) severity(lower string) domain.Severity {
	if containsAny(lower, c.kw.High) {
		return domain.SeverityHigh
	}
	if containsAny(lower, c.kw.Low) {
		return domain.SeverityLow
	}
	return domain.SeverityMedium
}

func (c *Classifier) workflow(lower string, fields domain.Fields) domain.Workflow {
	if requestType, ok := fields.Get(domain.FieldRequestType); ok {
		rt := strings.ToLower(strings.TrimSpace(requestType))
		switch {
		case strings.Contains(rt, "nucleus"):
			return domain.WorkflowNucleus
		case strings.Contains(rt, "trust view"), strings.Contains(rt, "trust dashboard"):
			return domain.WorkflowTrustView
		default:
			return domain.WorkflowOther
		}
	}

	switch {
	case containsAny(lower, c.kw.Nucleus):
		return domain.WorkflowNucleus
	case containsAny(lower, c.kw.Trust):
		return domain.WorkflowTrustView
	case containsAny(lower, c.kw.Search):
		return domain.WorkflowSearch
	case containsAny(lower, c.kw.Deployment):
		return domain.WorkflowDeployment
	default:
		return domain.WorkflowOther
	}
}

// Confidence starts at 0.5, adds 0.3 for a thread and 0.1 per reaction, and
// is clamped to [0, 1]. It is computed in tenths so tier thresholds compare
// exactly.
func Confidence(hasThread bool, reactions int) float64 {
	tenths := 5
	if hasThread {
		tenths += 3
	}
	if reactions > 0 {
		tenths += min(reactions, 10)
	}
	tenths = max(0, min(tenths, 10))
	return float64(tenths) / 10
}

// IsRelevant decides whether a channel message belongs in the digest.
// People's messages always do; bot messages only when they are
// workflow-automation requests. Channel housekeeping never does.
func IsRelevant(msg domain.RawMessage) bool {
	switch msg.SubType {
	case "", "thread_broadcast", "file_share", "me_message":
	case "bot_message":
		return extract.IsWorkflowAutomation(msg.Text)
	default:
		return false
	}
	if msg.BotID != "" {
		return extract.IsWorkflowAutomation(msg.Text)
	}
	return strings.TrimSpace(msg.Text) != "" || len(msg.Attachments) > 0
}

// containsAny reports whether any keyword occurs in lower as a substring.
func containsAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func normalizeKeywords(kw Keywords) Keywords {
	return Keywords{
		High:       normalizeList(kw.High),
		Low:        normalizeList(kw.Low),
		Question:   normalizeList(kw.Question),
		Nucleus:    normalizeList(kw.Nucleus),
		Trust:      normalizeList(kw.Trust),
		Search:     normalizeList(kw.Search),
		Deployment: normalizeList(kw.Deployment),
	}
}

func normalizeList(list []string) []string {
	return mergeLists(nil, list)
}

func mergeLists(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, kw := range list {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" || seen[kw] {
				continue
			}
			seen[kw] = true
			out = append(out, kw)
		}
	}
	return out
}
