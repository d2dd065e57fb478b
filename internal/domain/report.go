package domain

import (
	"strings"
	"time"
)

// DailyBucket holds one calendar day's messages in ascending time order.
type DailyBucket struct {
	Date     time.Time
	Messages []ClassifiedMessage
}

type Count struct {
	Key string
	N   int
}

type ReportStatistics struct {
	Total      int
	Workflows  []Count // descending by N, ties in first-seen order
	Severities []Count

	Resolved       int
	Likely         int
	NeedsAttention int

	Questions           int
	TicketRefs          int
	MessagesWithTickets int
}

// Percent returns n as a percentage of Total, or 0 for an empty report.
func (s ReportStatistics) Percent(n int) float64 {
	if s.Total <= 0 || n <= 0 {
		return 0
	}
	p := float64(n) / float64(s.Total) * 100
	if p > 100 {
		return 100
	}
	return p
}

type DateRange struct {
	Start time.Time
	End   time.Time
}

// DigestRange returns the rolling window of daysBack days ending at now.
func DigestRange(now time.Time, daysBack int) DateRange {
	if daysBack < 1 {
		daysBack = 1
	}
	return DateRange{Start: now.AddDate(0, 0, -daysBack), End: now}
}

// PreviousWeekRange returns Monday 00:00 to the following Monday 00:00 of
// the last complete calendar week before now.
func PreviousWeekRange(now time.Time) DateRange {
	monday, _ := CurrentWeekRangeAt(now)
	return DateRange{Start: monday.AddDate(0, 0, -7), End: monday}
}

func CurrentWeekRangeAt(now time.Time) (time.Time, time.Time) {
	weekday := now.Weekday()
	if weekday == time.Sunday {
		weekday = 7
	}
	daysFromMonday := int(weekday) - int(time.Monday)
	monday := time.Date(now.Year(), now.Month(), now.Day()-daysFromMonday, 0, 0, 0, 0, now.Location())
	return monday, monday.AddDate(0, 0, 7)
}

func normalizeKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}

// DigestRun is one generated digest as it is persisted.
type DigestRun struct {
	ID          string
	ChannelID   string
	ChannelName string
	Range       DateRange
	Total       int
	Content     string
	CreatedAt   time.Time
}
