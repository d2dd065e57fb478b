package domain

import "time"

type Severity string

const (
	SeverityHigh   Severity = "High"
	SeverityMedium Severity = "Medium"
	SeverityLow    Severity = "Low"
)

type Workflow string

const (
	WorkflowNucleus    Workflow = "Nucleus"
	WorkflowTrustView  Workflow = "Trust View"
	WorkflowSearch     Workflow = "Search"
	WorkflowDeployment Workflow = "Deployment"
	WorkflowOther      Workflow = "Other"
)

// ParseWorkflow maps a configured workflow name onto a Workflow, ignoring
// case and spacing ("trustview" and "Trust View" are the same).
func ParseWorkflow(s string) (Workflow, bool) {
	key := normalizeKey(s)
	for _, w := range []Workflow{WorkflowNucleus, WorkflowTrustView, WorkflowSearch, WorkflowDeployment, WorkflowOther} {
		if normalizeKey(string(w)) == key {
			return w, true
		}
	}
	return "", false
}

// Names of the fields the extractor knows how to pull out of message text.
const (
	FieldRequestType       = "request_type"
	FieldSubrequestType    = "subrequest_type"
	FieldSummary           = "summary"
	FieldDescription       = "description"
	FieldActualRequesterID = "actual_requester_id"
)

// Fields holds extracted values keyed by field name. A field that was not
// found has no key; values are never empty.
type Fields map[string]string

func (f Fields) Get(name string) (string, bool) {
	v, ok := f[name]
	return v, ok
}

// Classification is derived once per message and never mutated.
type Classification struct {
	Severity             Severity
	Workflow             Workflow
	IsQuestion           bool
	JiraTickets          []string
	HasThread            bool
	ReactionCount        int
	ResolutionConfidence float64
}

type ResolutionStatus string

const (
	StatusResolved       ResolutionStatus = "RESOLVED"
	StatusLikelyResolved ResolutionStatus = "LIKELY_RESOLVED"
	StatusNeedsAttention ResolutionStatus = "NEEDS_ATTENTION"
)

const (
	ResolvedThreshold = 0.8
	LikelyThreshold   = 0.6
)

func StatusFor(confidence float64) ResolutionStatus {
	switch {
	case confidence >= ResolvedThreshold:
		return StatusResolved
	case confidence >= LikelyThreshold:
		return StatusLikelyResolved
	default:
		return StatusNeedsAttention
	}
}

func (c Classification) Status() ResolutionStatus {
	return StatusFor(c.ResolutionConfidence)
}

type ClassifiedMessage struct {
	Message        RawMessage
	Fields         Fields
	Classification Classification
	Time           time.Time
}

// RequesterID prefers the requester named inside the message content over
// the message author, which is often a workflow bot.
func (m ClassifiedMessage) RequesterID() string {
	if id, ok := m.Fields.Get(FieldActualRequesterID); ok {
		return id
	}
	return m.Message.UserID
}
