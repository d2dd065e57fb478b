// Package aggregate groups classified messages by calendar day and computes
// run-wide statistics.
package aggregate

import (
	"sort"
	"time"

	"slackdigest/internal/classify"
	"slackdigest/internal/domain"
	"slackdigest/internal/extract"
)

// Classifier is the subset of *classify.Classifier the aggregator needs.
type Classifier interface {
	Classify(msg domain.RawMessage, fields domain.Fields) domain.Classification
}

var _ Classifier = (*classify.Classifier)(nil)

// Filter decides whether a classified message is counted and bucketed.
type Filter func(domain.ClassifiedMessage) bool

// Aggregate classifies every message, buckets them by date in loc (newest
// day first, oldest message first within a day) and tallies statistics over
// the whole input. The first unparseable timestamp aborts the run.
func Aggregate(msgs []domain.RawMessage, c Classifier, loc *time.Location) ([]domain.DailyBucket, domain.ReportStatistics, error) {
	return AggregateWhere(msgs, c, loc, nil)
}

// AggregateWhere is Aggregate over the messages keep accepts. A nil keep
// accepts everything.
func AggregateWhere(msgs []domain.RawMessage, c Classifier, loc *time.Location, keep Filter) ([]domain.DailyBucket, domain.ReportStatistics, error) {
	if loc == nil {
		loc = time.UTC
	}
	classified, err := ClassifyAll(msgs, c, loc)
	if err != nil {
		return nil, domain.ReportStatistics{}, err
	}
	if keep != nil {
		kept := classified[:0]
		for _, m := range classified {
			if keep(m) {
				kept = append(kept, m)
			}
		}
		classified = kept
	}
	return Buckets(classified), Statistics(classified), nil
}

// Messages flattens buckets back into one list, in bucket order.
func Messages(buckets []domain.DailyBucket) []domain.ClassifiedMessage {
	var out []domain.ClassifiedMessage
	for _, b := range buckets {
		out = append(out, b.Messages...)
	}
	return out
}

// ClassifyAll runs extraction and classification over msgs in input order.
func ClassifyAll(msgs []domain.RawMessage, c Classifier, loc *time.Location) ([]domain.ClassifiedMessage, error) {
	out := make([]domain.ClassifiedMessage, 0, len(msgs))
	for _, msg := range msgs {
		ts, err := msg.Time()
		if err != nil {
			return nil, &domain.StageError{Stage: domain.StageAggregation, MessageTS: msg.TS, Err: err}
		}
		fields := extract.Fields(msg.Text)
		out = append(out, domain.ClassifiedMessage{
			Message:        msg,
			Fields:         fields,
			Classification: c.Classify(msg, fields),
			Time:           ts.In(loc),
		})
	}
	return out, nil
}

// Buckets groups already classified messages by their local calendar date.
func Buckets(msgs []domain.ClassifiedMessage) []domain.DailyBucket {
	sorted := make([]domain.ClassifiedMessage, len(msgs))
	copy(sorted, msgs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	index := make(map[string]int)
	var buckets []domain.DailyBucket
	for _, m := range sorted {
		key := m.Time.Format("2006-01-02")
		i, ok := index[key]
		if !ok {
			y, mo, d := m.Time.Date()
			buckets = append(buckets, domain.DailyBucket{Date: time.Date(y, mo, d, 0, 0, 0, 0, m.Time.Location())})
			i = len(buckets) - 1
			index[key] = i
		}
		buckets[i].Messages = append(buckets[i].Messages, m)
	}

	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].Date.After(buckets[j].Date)
	})
	return buckets
}

func Statistics(msgs []domain.ClassifiedMessage) domain.ReportStatistics {
	stats := domain.ReportStatistics{Total: len(msgs)}
	workflows := newTally()
	severities := newTally()

	for _, m := range msgs {
		c := m.Classification
		workflows.add(string(c.Workflow))
		severities.add(string(c.Severity))

		switch c.Status() {
		case domain.StatusResolved:
			stats.Resolved++
		case domain.StatusLikelyResolved:
			stats.Likely++
		default:
			stats.NeedsAttention++
		}
		if c.IsQuestion {
			stats.Questions++
		}
		if len(c.JiraTickets) > 0 {
			stats.MessagesWithTickets++
			stats.TicketRefs += len(c.JiraTickets)
		}
	}

	stats.Workflows = workflows.counts()
	stats.Severities = severities.counts()
	return stats
}

// tally counts keys and remembers first-seen order for tie-breaking.
type tally struct {
	order []string
	n     map[string]int
}

func newTally() *tally {
	return &tally{n: make(map[string]int)}
}

func (t *tally) add(key string) {
	if _, ok := t.n[key]; !ok {
		t.order = append(t.order, key)
	}
	t.n[key]++
}

func (t *tally) counts() []domain.Count {
	out := make([]domain.Count, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, domain.Count{Key: k, N: t.n[k]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].N > out[j].N
	})
	return out
}
