package slackbot

import (
	"context"
	"errors"
	"net/url"
	"sync"

	"github.com/slack-go/slack"
)

type postedMessage struct {
	Channel string
	User    string
	Values  url.Values
}

func (m postedMessage) Text() string { return m.Values.Get("text") }

func applyOptions(channelID string, options []slack.MsgOption) url.Values {
	_, values, _ := slack.UnsafeApplyMsgOptions("xoxb-test", channelID, "https://slack.com/api/", options...)
	return values
}

type fakeAPI struct {
	mu sync.Mutex

	channels    map[string][]slack.Channel // by conversation type
	info        map[string]slack.Channel
	history     [][]slack.Message // pages
	historyErr  error
	users       map[string]slack.User
	emails      map[string]string
	rateLimited int

	historyCalls []slack.GetConversationHistoryParameters
	posted       []postedMessage
	ephemeral    []postedMessage
	emailLookups int
}

func (f *fakeAPI) GetConversationInfoContext(ctx context.Context, input *slack.GetConversationInfoInput) (*slack.Channel, error) {
	ch, ok := f.info[input.ChannelID]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "channel_not_found"}
	}
	return &ch, nil
}

func (f *fakeAPI) GetConversationsContext(ctx context.Context, params *slack.GetConversationsParameters) ([]slack.Channel, string, error) {
	typ := params.Types[0]
	if typ == "mpim" {
		return nil, "", slack.SlackErrorResponse{Err: "missing_scope"}
	}
	all := f.channels[typ]
	// Two channels per page to exercise the cursor.
	start := 0
	if params.Cursor != "" {
		start = 2
	}
	end := min(start+2, len(all))
	next := ""
	if end < len(all) {
		next = "page2"
	}
	return all[start:end], next, nil
}

func (f *fakeAPI) GetConversationHistoryContext(ctx context.Context, params *slack.GetConversationHistoryParameters) (*slack.GetConversationHistoryResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateLimited > 0 {
		f.rateLimited--
		return nil, &slack.RateLimitedError{RetryAfter: 0}
	}
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	f.historyCalls = append(f.historyCalls, *params)
	page := len(f.historyCalls) - 1
	resp := &slack.GetConversationHistoryResponse{Messages: f.history[page]}
	if page+1 < len(f.history) {
		resp.HasMore = true
		resp.ResponseMetaData.NextCursor = "cursor-" + string(rune('a'+page))
	}
	return resp, nil
}

func (f *fakeAPI) GetUserInfoContext(ctx context.Context, user string) (*slack.User, error) {
	u, ok := f.users[user]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "user_not_found"}
	}
	return &u, nil
}

func (f *fakeAPI) GetUserByEmailContext(ctx context.Context, email string) (*slack.User, error) {
	f.mu.Lock()
	f.emailLookups++
	f.mu.Unlock()
	id, ok := f.emails[email]
	if !ok {
		return nil, slack.SlackErrorResponse{Err: "users_not_found"}
	}
	return &slack.User{ID: id}, nil
}

func (f *fakeAPI) OpenConversationContext(ctx context.Context, params *slack.OpenConversationParameters) (*slack.Channel, bool, bool, error) {
	if len(params.Users) != 1 {
		return nil, false, false, errors.New("expected one user")
	}
	ch := slack.Channel{}
	ch.ID = "D-" + params.Users[0]
	return &ch, false, false, nil
}

func (f *fakeAPI) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, postedMessage{Channel: channelID, Values: applyOptions(channelID, options)})
	return channelID, "1.0", nil
}

func (f *fakeAPI) PostEphemeralContext(ctx context.Context, channelID, userID string, options ...slack.MsgOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ephemeral = append(f.ephemeral, postedMessage{Channel: channelID, User: userID, Values: applyOptions(channelID, options)})
	return "1.0", nil
}

func channel(id, name string, member bool) slack.Channel {
	var ch slack.Channel
	ch.ID = id
	ch.Name = name
	ch.IsMember = member
	return ch
}
