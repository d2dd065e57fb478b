package slackbot

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
)

// resolveRecipients turns configured recipients into user ids. Entries that
// already look like ids pass through; anything containing '@' is looked up
// by email. Unresolvable entries are returned separately.
func resolveRecipients(ctx context.Context, c *Client, entries []string) ([]string, []string, error) {
	var ids, unresolved []string
	for _, raw := range entries {
		val := strings.TrimSpace(raw)
		switch {
		case val == "":
			continue
		case isLikelySlackID(val):
			ids = append(ids, val)
		case strings.Contains(val, "@"):
			id, err := c.UserIDByEmail(ctx, val)
			if err != nil {
				if ctx.Err() != nil {
					return nil, nil, ctx.Err()
				}
				log.Warn().Err(err).Str("email", val).Msg("resolve recipient failed")
				unresolved = append(unresolved, val)
				continue
			}
			ids = append(ids, id)
		default:
			unresolved = append(unresolved, val)
		}
	}

	log.Debug().Int("ids", len(ids)).Int("unresolved", len(unresolved)).Msg("resolved recipients")
	return uniqueStrings(ids), unresolved, nil
}

func isLikelySlackID(val string) bool {
	if len(val) < 9 {
		return false
	}
	for i, r := range val {
		if i == 0 {
			if r != 'U' && r != 'W' {
				return false
			}
			continue
		}
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func uniqueStrings(vals []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, v := range vals {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
