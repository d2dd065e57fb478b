// Package digest ties fetching, classification, rendering, persistence and
// delivery together for one or more channels.
package digest

import (
	"strings"
	"time"

	"slackdigest/internal/aggregate"
	"slackdigest/internal/classify"
	"slackdigest/internal/domain"
	"slackdigest/internal/report"
)

// Generator turns a channel's raw messages into a rendered digest. It does
// no I/O beyond what Names and Tickets do.
type Generator struct {
	Classifier     aggregate.Classifier
	Location       *time.Location
	Names          report.NameResolver
	Tickets        report.TicketLookup
	Title          string
	WorkspaceURL   string
	WorkflowFilter []domain.Workflow
}

type Result struct {
	Channel  domain.Channel
	Range    domain.DateRange
	Messages []domain.ClassifiedMessage
	Stats    domain.ReportStatistics
	Content  string

	// Skipped counts fetched messages that were not relevant or were
	// outside the workflow filter.
	Skipped int
}

func (g *Generator) Generate(channel domain.Channel, msgs []domain.RawMessage, rng domain.DateRange) (Result, error) {
	loc := g.location()
	classifier := g.Classifier
	if classifier == nil {
		classifier = classify.Default()
	}

	relevant := make([]domain.RawMessage, 0, len(msgs))
	for _, m := range msgs {
		if classify.IsRelevant(m) {
			relevant = append(relevant, m)
		}
	}

	buckets, stats, err := aggregate.AggregateWhere(relevant, classifier, loc, g.keep())
	if err != nil {
		return Result{}, err
	}

	rng = domain.DateRange{Start: rng.Start.In(loc), End: rng.End.In(loc)}
	doc := report.Document{
		ChannelID:   channel.ID,
		ChannelName: channel.Name,
		Range:       rng,
		Buckets:     buckets,
		Stats:       stats,
	}
	content := report.Render(doc, g.Names, report.Options{
		Title:        g.Title,
		Tickets:      g.Tickets,
		WorkspaceURL: g.WorkspaceURL,
		FilterNote:   g.filterNote(),
	})

	return Result{
		Channel:  channel,
		Range:    rng,
		Messages: aggregate.Messages(buckets),
		Stats:    stats,
		Content:  content,
		Skipped:  len(msgs) - stats.Total,
	}, nil
}

func (g *Generator) location() *time.Location {
	if g.Location == nil {
		return time.UTC
	}
	return g.Location
}

func (g *Generator) keep() aggregate.Filter {
	if len(g.WorkflowFilter) == 0 {
		return nil
	}
	allowed := make(map[domain.Workflow]bool, len(g.WorkflowFilter))
	for _, w := range g.WorkflowFilter {
		allowed[w] = true
	}
	return func(m domain.ClassifiedMessage) bool {
		return allowed[m.Classification.Workflow]
	}
}

func (g *Generator) filterNote() string {
	if len(g.WorkflowFilter) == 0 {
		return ""
	}
	names := make([]string, len(g.WorkflowFilter))
	for i, w := range g.WorkflowFilter {
		names[i] = string(w)
	}
	return strings.Join(names, " & ") + " workflows only"
}
