package domain

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// RawMessage is one channel message as handed over by the message source.
type RawMessage struct {
	UserID      string
	BotID       string
	SubType     string
	Text        string
	TS          string // Slack timestamp, "seconds.micros"
	ThreadTS    string // empty when the message is not part of a thread
	Reactions   []Reaction
	Attachments []Attachment
}

type Reaction struct {
	Name  string
	Count int
}

type Attachment struct {
	Title    string
	Text     string
	Fallback string
}

// Time parses TS as fractional seconds since the epoch.
func (m RawMessage) Time() (time.Time, error) {
	raw := strings.TrimSpace(m.TS)
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(secs) || math.IsInf(secs, 0) {
		if err == nil {
			err = strconv.ErrRange
		}
		return time.Time{}, &FormatError{Field: "timestamp", Value: m.TS, Err: err}
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)), nil
}

func (m RawMessage) HasThread() bool {
	return strings.TrimSpace(m.ThreadTS) != ""
}

// ReactionCount sums every reaction's count. Negative counts are ignored.
func (m RawMessage) ReactionCount() int {
	total := 0
	for _, r := range m.Reactions {
		if r.Count > 0 {
			total += r.Count
		}
	}
	return total
}

// Channel is the subset of conversation metadata the digest needs.
type Channel struct {
	ID         string
	Name       string
	Purpose    string
	Topic      string
	NumMembers int
	IsMember   bool
	IsPrivate  bool
}

// TicketInfo describes an issue-tracker item referenced from a message.
type TicketInfo struct {
	Key      string
	Summary  string
	Status   string
	Priority string
	Assignee string
	URL      string
}
