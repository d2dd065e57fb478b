package slackbot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"slackdigest/internal/domain"
)

const (
	historyPageSize          = 200
	channelPageSize          = 200
	maxRateLimitRetries      = 3
	maxMessageChars          = 3900
	defaultRequestsPerMinute = 50
)

var channelTypes = []string{"public_channel", "private_channel", "mpim", "im"}

// API is the part of *slack.Client the digest uses.
type API interface {
	GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error)
	GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error)
	GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error)
	GetUserInfoContext(ctx context.Context, user string) (*slack.User, error)
	GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error)
	OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error)
}

// Client wraps Web API calls with a request rate limit and a circuit
// breaker. Slack rate-limit responses are waited out and retried.
type Client struct {
	api     API
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[any]
}

// New returns the wrapped client and the raw *slack.Client, which Socket
// Mode needs.
func New(token string, httpClient *http.Client, requestsPerMinute int, options ...slack.Option) (*Client, *slack.Client) {
	options = append([]slack.Option{slack.OptionHTTPClient(httpClient)}, options...)
	api := slack.New(token, options...)
	return NewWithAPI(api, requestsPerMinute), api
}

func NewWithAPI(api API, requestsPerMinute int) *Client {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}
	limiter := rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 5)
	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "slack",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var slackErr slack.SlackErrorResponse
			var rl *slack.RateLimitedError
			// API-level answers like channel_not_found mean Slack is up.
			return err == nil || errors.As(err, &slackErr) || errors.As(err, &rl) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	return &Client{api: api, limiter: limiter, breaker: breaker}
}

func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.breaker.Execute(func() (any, error) {
			return nil, fn(ctx)
		})
		var rl *slack.RateLimitedError
		if !errors.As(err, &rl) || attempt >= maxRateLimitRetries {
			if err != nil {
				return fmt.Errorf("slack %s: %w", op, err)
			}
			return nil
		}
		log.Warn().Str("op", op).Dur("retry_after", rl.RetryAfter).Int("attempt", attempt+1).Msg("slack rate limited")
		timer := time.NewTimer(rl.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) ChannelInfo(ctx context.Context, channelID string) (domain.Channel, error) {
	var ch *slack.Channel
	err := c.call(ctx, "conversations.info", func(ctx context.Context) error {
		var err error
		ch, err = c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{
			ChannelID:         channelID,
			IncludeNumMembers: true,
		})
		return err
	})
	if err != nil {
		return domain.Channel{}, err
	}
	return toChannel(*ch), nil
}

// ListChannels returns every conversation the bot can see across public,
// private, group DM and DM types. A type the token lacks scopes for is
// logged and skipped.
func (c *Client) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	var out []domain.Channel
	seen := make(map[string]bool)
	for _, typ := range channelTypes {
		cursor := ""
		for {
			var page []slack.Channel
			var next string
			err := c.call(ctx, "conversations.list", func(ctx context.Context) error {
				var err error
				page, next, err = c.api.GetConversationsContext(ctx, &slack.GetConversationsParameters{
					Cursor:          cursor,
					ExcludeArchived: true,
					Limit:           channelPageSize,
					Types:           []string{typ},
				})
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Warn().Err(err).Str("type", typ).Msg("could not list channels")
				break
			}
			for _, ch := range page {
				if seen[ch.ID] {
					continue
				}
				seen[ch.ID] = true
				out = append(out, toChannel(ch))
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	log.Info().Int("channels", len(out)).Msg("listed accessible channels")
	return out, nil
}

// MemberChannelIDs lists channels the bot has joined. DMs are never
// included.
func (c *Client) MemberChannelIDs(ctx context.Context) ([]string, error) {
	channels, err := c.ListChannels(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, ch := range channels {
		if ch.IsMember {
			ids = append(ids, ch.ID)
		}
	}
	return ids, nil
}

// ChannelByName finds a channel by name, with or without a leading '#'.
func (c *Client) ChannelByName(ctx context.Context, name string) (domain.Channel, error) {
	name = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#"))
	channels, err := c.ListChannels(ctx)
	if err != nil {
		return domain.Channel{}, err
	}
	for _, ch := range channels {
		if strings.ToLower(ch.Name) == name {
			return ch, nil
		}
	}
	return domain.Channel{}, fmt.Errorf("channel #%s not found", name)
}

// ChannelMessages pages through conversations.history for rng. Thread
// replies are not fetched; a thread shows up as ThreadTS on its parent.
func (c *Client) ChannelMessages(ctx context.Context, channelID string, rng domain.DateRange) ([]domain.RawMessage, error) {
	params := &slack.GetConversationHistoryParameters{
		ChannelID: channelID,
		Limit:     historyPageSize,
		Oldest:    slackTS(rng.Start),
		Latest:    slackTS(rng.End),
	}
	var out []domain.RawMessage
	for {
		var resp *slack.GetConversationHistoryResponse
		err := c.call(ctx, "conversations.history", func(ctx context.Context) error {
			var err error
			resp, err = c.api.GetConversationHistoryContext(ctx, params)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, m := range resp.Messages {
			if m.Type != "" && m.Type != slack.TYPE_MESSAGE {
				continue
			}
			out = append(out, toRawMessage(m))
		}
		next := resp.ResponseMetaData.NextCursor
		if !resp.HasMore || next == "" {
			break
		}
		params.Cursor = next
	}
	log.Debug().Str("channel", channelID).Int("messages", len(out)).Msg("fetched channel history")
	return out, nil
}

// LookupDisplayName prefers the real name, then the profile display name,
// then the handle.
func (c *Client) LookupDisplayName(ctx context.Context, userID string) (string, error) {
	var user *slack.User
	err := c.call(ctx, "users.info", func(ctx context.Context) error {
		var err error
		user, err = c.api.GetUserInfoContext(ctx, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	for _, name := range []string{user.RealName, user.Profile.RealName, user.Profile.DisplayName, user.Name} {
		if name = strings.TrimSpace(name); name != "" {
			return name, nil
		}
	}
	return "", fmt.Errorf("user %s has no name", userID)
}

func (c *Client) UserIDByEmail(ctx context.Context, email string) (string, error) {
	var user *slack.User
	err := c.call(ctx, "users.lookupByEmail", func(ctx context.Context) error {
		var err error
		user, err = c.api.GetUserByEmailContext(ctx, strings.TrimSpace(email))
		return err
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// SendDM posts text to the user's DM without link or media unfurls, split
// into several messages when it is too long for one.
func (c *Client) SendDM(ctx context.Context, userID, text string) error {
	var ch *slack.Channel
	err := c.call(ctx, "conversations.open", func(ctx context.Context) error {
		var err error
		ch, _, _, err = c.api.OpenConversationContext(ctx, &slack.OpenConversationParameters{
			Users:    []string{userID},
			ReturnIM: true,
		})
		return err
	})
	if err != nil {
		return err
	}
	for _, part := range splitMessage(text, maxMessageChars) {
		err := c.call(ctx, "chat.postMessage", func(ctx context.Context) error {
			_, _, err := c.api.PostMessageContext(ctx, ch.ID,
				slack.MsgOptionText(part, false),
				slack.MsgOptionDisableLinkUnfurl(),
				slack.MsgOptionDisableMediaUnfurl(),
			)
			return err
		})
		if err != nil {
			return err
		}
	}
	log.Info().Str("user_id", userID).Msg("digest sent by DM")
	return nil
}

func (c *Client) PostEphemeral(ctx context.Context, channelID, userID, text string) {
	err := c.call(ctx, "chat.postEphemeral", func(ctx context.Context) error {
		_, err := c.api.PostEphemeralContext(ctx, channelID, userID, slack.MsgOptionText(text, false))
		return err
	})
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Str("user_id", userID).Msg("error posting ephemeral")
	}
}

func toChannel(ch slack.Channel) domain.Channel {
	name := ch.Name
	if name == "" && ch.IsIM {
		name = "dm-" + ch.User
	}
	return domain.Channel{
		ID:         ch.ID,
		Name:       name,
		Purpose:    ch.Purpose.Value,
		Topic:      ch.Topic.Value,
		NumMembers: ch.NumMembers,
		IsMember:   ch.IsMember,
		IsPrivate:  ch.IsPrivate,
	}
}

func toRawMessage(m slack.Message) domain.RawMessage {
	raw := domain.RawMessage{
		UserID:   m.User,
		BotID:    m.BotID,
		SubType:  m.SubType,
		Text:     m.Text,
		TS:       m.Timestamp,
		ThreadTS: m.ThreadTimestamp,
	}
	if m.ReplyCount == 0 && m.ThreadTimestamp != "" && m.ThreadTimestamp != m.Timestamp {
		// A broadcast reply points at its parent; it has no thread of its own.
		raw.ThreadTS = ""
	}
	for _, r := range m.Reactions {
		raw.Reactions = append(raw.Reactions, domain.Reaction{Name: r.Name, Count: r.Count})
	}
	for _, a := range m.Attachments {
		raw.Attachments = append(raw.Attachments, domain.Attachment{Title: a.Title, Text: a.Text, Fallback: a.Fallback})
	}
	return raw
}

func slackTS(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// splitMessage breaks text on line boundaries into parts of at most limit
// runes. A single longer line is cut hard.
func splitMessage(text string, limit int) []string {
	if len([]rune(text)) <= limit {
		return []string{text}
	}
	var parts []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.TrimRight(string(cur), "\n"))
			cur = cur[:0]
		}
	}
	for _, line := range strings.SplitAfter(text, "\n") {
		r := []rune(line)
		for len(r) > limit {
			flush()
			parts = append(parts, string(r[:limit]))
			r = r[limit:]
		}
		if len(cur)+len(r) > limit {
			flush()
		}
		cur = append(cur, r...)
	}
	flush()
	return parts
}
