// Package jira resolves ticket keys to links. There is no tracker client
// yet: answers are placeholders built from the configured base URL.
package jira

import (
	"strings"
	"sync"

	"slackdigest/internal/domain"
)

const unknown = "Unknown"

type Client struct {
	baseURL string

	mu    sync.Mutex
	cache map[string]domain.TicketInfo
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		cache:   make(map[string]domain.TicketInfo),
	}
}

// LookupTicket reports false when no base URL is configured. It never
// blocks on the network.
func (c *Client) LookupTicket(key string) (domain.TicketInfo, bool) {
	key = strings.TrimSpace(key)
	if c == nil || c.baseURL == "" || key == "" {
		return domain.TicketInfo{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if info, ok := c.cache[key]; ok {
		return info, true
	}
	info := domain.TicketInfo{
		Key:      key,
		Summary:  "Ticket " + key,
		Status:   unknown,
		Priority: unknown,
		Assignee: unknown,
		URL:      c.baseURL + "/browse/" + key,
	}
	c.cache[key] = info
	return info, true
}
