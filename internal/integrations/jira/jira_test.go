package jira

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"slackdigest/internal/domain"
)

func TestLookupTicketPlaceholder(t *testing.T) {
	c := New("https://jira.example.com/ ")

	info, ok := c.LookupTicket("PROJ-12")
	assert.True(t, ok)
	assert.Equal(t, domain.TicketInfo{
		Key:      "PROJ-12",
		Summary:  "Ticket PROJ-12",
		Status:   "Unknown",
		Priority: "Unknown",
		Assignee: "Unknown",
		URL:      "https://jira.example.com/browse/PROJ-12",
	}, info)

	again, ok := c.LookupTicket("PROJ-12")
	assert.True(t, ok)
	assert.Equal(t, info, again)
}

func TestLookupTicketWithoutBaseURL(t *testing.T) {
	_, ok := New("").LookupTicket("PROJ-12")
	assert.False(t, ok)

	var nilClient *Client
	_, ok = nilClient.LookupTicket("PROJ-12")
	assert.False(t, ok)
}
