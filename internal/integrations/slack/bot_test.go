package slackbot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackdigest/internal/digest"
	"slackdigest/internal/domain"
	"slackdigest/internal/storage/sqlite"
)

type fakeBuilder struct {
	err      error
	content  string
	total    int
	channels []string
	days     []int
}

func (f *fakeBuilder) Build(ctx context.Context, channelID string, rng domain.DateRange) (digest.Result, error) {
	f.channels = append(f.channels, channelID)
	if f.err != nil {
		return digest.Result{}, f.err
	}
	return digest.Result{
		Channel: domain.Channel{ID: channelID},
		Range:   rng,
		Content: f.content,
		Stats:   domain.ReportStatistics{Total: f.total},
	}, nil
}

func (f *fakeBuilder) DefaultRange(daysBack int) domain.DateRange {
	f.days = append(f.days, daysBack)
	end := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	return domain.DateRange{Start: end.AddDate(0, 0, -daysBack), End: end}
}

type fakeStats struct {
	stats map[bool]sqlite.ClassificationStats // keyed by since.IsZero()
	err   error
	since []time.Time
}

func (f *fakeStats) ClassificationStats(since time.Time) (sqlite.ClassificationStats, error) {
	f.since = append(f.since, since)
	if f.err != nil {
		return sqlite.ClassificationStats{}, f.err
	}
	return f.stats[since.IsZero()], nil
}

func newTestBot(api *fakeAPI, builder DigestBuilder) *Bot {
	return &Bot{
		Client:   newTestClient(api),
		Digests:  builder,
		DaysBack: 7,
		MaxDays:  30,
		Now:      func() time.Time { return time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC) },
	}
}

func ephemeralTexts(api *fakeAPI) []string {
	var out []string
	for _, p := range api.ephemeral {
		out = append(out, p.Text())
	}
	return out
}

func TestParseDigestArgs(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    digestArgs
		wantErr string
	}{
		{name: "empty", text: "", want: digestArgs{Days: 7}},
		{name: "days only", text: "14", want: digestArgs{Days: 14}},
		{name: "mention", text: "<#C012345678|ops> 3", want: digestArgs{ChannelID: "C012345678", Days: 3}},
		{name: "mention without name", text: "<#C012345678>", want: digestArgs{ChannelID: "C012345678", Days: 7}},
		{name: "hash name", text: "#nucleus-support", want: digestArgs{ChannelName: "nucleus-support", Days: 7}},
		{name: "raw id", text: "G0ABCDEF12 30", want: digestArgs{ChannelID: "G0ABCDEF12", Days: 30}},
		{name: "too many days", text: "31", wantErr: "between 1 and 30"},
		{name: "zero days", text: "0", wantErr: "between 1 and 30"},
		{name: "junk", text: "lastweek", wantErr: "unrecognized argument"},
		{name: "name and id", text: "#ops C012345678", wantErr: "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDigestArgs(tt.text, 7, 30)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandleDigestByChannelName(t *testing.T) {
	api := &fakeAPI{channels: map[string][]slack.Channel{
		"public_channel": {channel("C012345678", "ops", true)},
	}}
	builder := &fakeBuilder{content: "digest body", total: 4}
	bot := newTestBot(api, builder)

	bot.handleSlashCommand(context.Background(), slack.SlashCommand{
		Command: commandDigest, Text: "#ops 14", UserID: "U1", ChannelID: "C999",
	})

	assert.Equal(t, []string{"C012345678"}, builder.channels)
	assert.Equal(t, []int{14}, builder.days)
	require.Len(t, api.posted, 1)
	assert.Equal(t, "D-U1", api.posted[0].Channel)
	assert.Equal(t, "digest body", api.posted[0].Text())
	assert.Equal(t, []string{
		"⏳ Generating digest for <#C012345678> (last 14 days)...",
		"✅ Digest for <#C012345678> sent to your DMs (4 messages).",
	}, ephemeralTexts(api))
	for _, p := range api.ephemeral {
		assert.Equal(t, "C999", p.Channel)
		assert.Equal(t, "U1", p.User)
	}
}

func TestHandleDigestDefaultsToInvokingChannel(t *testing.T) {
	api := &fakeAPI{}
	builder := &fakeBuilder{content: "x"}
	bot := newTestBot(api, builder)

	bot.handleDigest(context.Background(), slack.SlashCommand{UserID: "U1", ChannelID: "C777"})

	assert.Equal(t, []string{"C777"}, builder.channels)
	assert.Equal(t, []int{7}, builder.days)
}

func TestHandleDigestErrors(t *testing.T) {
	t.Run("help", func(t *testing.T) {
		api := &fakeAPI{}
		builder := &fakeBuilder{}
		newTestBot(api, builder).handleDigest(context.Background(), slack.SlashCommand{Text: "HELP", UserID: "U1", ChannelID: "C1"})
		assert.Equal(t, []string{digestUsage}, ephemeralTexts(api))
		assert.Empty(t, builder.channels)
	})
	t.Run("bad args", func(t *testing.T) {
		api := &fakeAPI{}
		builder := &fakeBuilder{}
		newTestBot(api, builder).handleDigest(context.Background(), slack.SlashCommand{Text: "99", UserID: "U1", ChannelID: "C1"})
		texts := ephemeralTexts(api)
		require.Len(t, texts, 1)
		assert.Contains(t, texts[0], "days must be between 1 and 30")
		assert.Contains(t, texts[0], digestUsage)
		assert.Empty(t, builder.channels)
	})
	t.Run("unknown channel", func(t *testing.T) {
		api := &fakeAPI{}
		builder := &fakeBuilder{}
		newTestBot(api, builder).handleDigest(context.Background(), slack.SlashCommand{Text: "#nowhere", UserID: "U1", ChannelID: "C1"})
		assert.Equal(t, []string{"Could not find #nowhere. Is the bot a member?"}, ephemeralTexts(api))
		assert.Empty(t, builder.channels)
	})
	t.Run("build failure", func(t *testing.T) {
		api := &fakeAPI{}
		builder := &fakeBuilder{err: errors.New("history unavailable")}
		newTestBot(api, builder).handleDigest(context.Background(), slack.SlashCommand{UserID: "U1", ChannelID: "C1"})
		texts := ephemeralTexts(api)
		require.Len(t, texts, 2)
		assert.Equal(t, "Error generating digest: history unavailable", texts[1])
		assert.Empty(t, api.posted)
	})
}

func TestMemberJoinedPostsIntro(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(api, &fakeBuilder{})

	bot.handleEventsAPI(context.Background(), slackevents.EventsAPIEvent{
		Type: slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{
			Data: &slackevents.MemberJoinedChannelEvent{User: "U5", Channel: "C5"},
		},
	})

	require.Len(t, api.ephemeral, 1)
	assert.Equal(t, "C5", api.ephemeral[0].Channel)
	assert.Equal(t, "U5", api.ephemeral[0].User)
	assert.Contains(t, api.ephemeral[0].Text(), "/digest-stats")
}

func TestHandleStats(t *testing.T) {
	api := &fakeAPI{}
	bot := newTestBot(api, &fakeBuilder{})
	stats := &fakeStats{stats: map[bool]sqlite.ClassificationStats{
		true: {
			Runs: 3, TotalClassifications: 10, AvgConfidence: 0.62,
			Resolved: 2, Likely: 3, NeedsAttention: 5, Questions: 4,
			Workflows: []domain.Count{{Key: "Nucleus", N: 6}, {Key: "Other", N: 4}},
		},
		false: {Runs: 1},
	}}
	bot.Stats = stats

	bot.handleSlashCommand(context.Background(), slack.SlashCommand{Command: commandDigestStats, UserID: "U1", ChannelID: "C1"})

	require.Len(t, stats.since, 2)
	assert.True(t, stats.since[0].IsZero())
	assert.Equal(t, time.Date(2023, 12, 18, 9, 0, 0, 0, time.UTC), stats.since[1])

	texts := ephemeralTexts(api)
	require.Len(t, texts, 1)
	assert.True(t, strings.HasPrefix(texts[0], "*Digest Classification Stats*"))
	assert.Contains(t, texts[0], "- ✅ Resolved: 2 (20.0%) · 🟠 Likely: 3 (30.0%) · ❓ Needs attention: 5 (50.0%)")
	assert.Contains(t, texts[0], "  • Nucleus: 6")
	assert.Contains(t, texts[0], "*Last 4 Weeks*\n- Digests: 1\n- Messages classified: 0")
}

func TestHandleStatsWithoutStore(t *testing.T) {
	api := &fakeAPI{}
	newTestBot(api, &fakeBuilder{}).handleStats(context.Background(), slack.SlashCommand{UserID: "U1", ChannelID: "C1"})
	assert.Equal(t, []string{"Statistics are not available: no digest store configured."}, ephemeralTexts(api))
}

func TestFormatStatsEmpty(t *testing.T) {
	got := formatStats(sqlite.ClassificationStats{}, sqlite.ClassificationStats{})
	assert.Equal(t, "*Digest Classification Stats*\n\n*All-time*\n- Digests: 0\n- Messages classified: 0\n\n*Last 4 Weeks*\n- Digests: 0\n- Messages classified: 0", got)
}
