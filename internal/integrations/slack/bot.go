// Package slackbot talks to Slack: channel history, user names, DMs and the
// Socket Mode bot that serves on-demand digests.
package slackbot

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"slackdigest/internal/digest"
	"slackdigest/internal/domain"
	"slackdigest/internal/storage/sqlite"
)

const (
	commandDigest      = "/digest"
	commandDigestStats = "/digest-stats"

	defaultMaxDays = 90
)

var channelMentionRe = regexp.MustCompile(`^<#([A-Z0-9]+)(?:\|([^>]*))?>$`)

type DigestBuilder interface {
	Build(ctx context.Context, channelID string, rng domain.DateRange) (digest.Result, error)
	DefaultRange(daysBack int) domain.DateRange
}

type StatsSource interface {
	ClassificationStats(since time.Time) (sqlite.ClassificationStats, error)
}

type Bot struct {
	Client   *Client
	Digests  DigestBuilder
	Stats    StatsSource
	Location *time.Location
	DaysBack int
	MaxDays  int
	Now      func() time.Time
}

// StartBot serves slash commands and events over Socket Mode until ctx is
// done.
func StartBot(ctx context.Context, bot *Bot, api *slack.Client) error {
	client := socketmode.New(api)

	go func() {
		for {
			var evt socketmode.Event
			select {
			case <-ctx.Done():
				return
			case evt = <-client.Events:
			}
			switch evt.Type {
			case socketmode.EventTypeSlashCommand:
				client.Ack(*evt.Request)
				cmd, ok := evt.Data.(slack.SlashCommand)
				if !ok {
					continue
				}
				log.Info().Str("command", cmd.Command).Str("user_id", cmd.UserID).Str("channel", cmd.ChannelID).Msg("slash command received")
				go bot.handleSlashCommand(ctx, cmd)
			case socketmode.EventTypeEventsAPI:
				client.Ack(*evt.Request)
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				go bot.handleEventsAPI(ctx, eventsAPIEvent)
			}
		}
	}()

	log.Info().Msg("slack bot connected via socket mode")
	return client.RunContext(ctx)
}

func (b *Bot) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	switch cmd.Command {
	case commandDigest:
		b.handleDigest(ctx, cmd)
	case commandDigestStats:
		b.handleStats(ctx, cmd)
	}
}

func (b *Bot) handleEventsAPI(ctx context.Context, event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MemberJoinedChannelEvent:
		b.handleMemberJoined(ctx, ev)
	}
}

func (b *Bot) handleMemberJoined(ctx context.Context, ev *slackevents.MemberJoinedChannelEvent) {
	log.Info().Str("user_id", ev.User).Str("channel", ev.Channel).Msg("member joined")

	intro := "Welcome! I'm the digest bot. I summarise support channels into a weekly digest with severity, workflow and resolution tracking.\n\n" +
		"Here's how to get started:\n" +
		"• `/digest` — Get this channel's digest for the last week by DM\n" +
		"• `/digest #channel 14` — Digest another channel over the last 14 days\n" +
		"• `/digest-stats` — Classification statistics across past digests"
	b.Client.PostEphemeral(ctx, ev.Channel, ev.User, intro)
}

func (b *Bot) handleDigest(ctx context.Context, cmd slack.SlashCommand) {
	text := strings.TrimSpace(cmd.Text)
	if strings.EqualFold(text, "help") {
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, digestUsage)
		return
	}

	args, err := parseDigestArgs(text, b.daysBack(), b.maxDays())
	if err != nil {
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, err.Error()+"\n"+digestUsage)
		return
	}
	channelID := args.ChannelID
	if args.ChannelName != "" {
		ch, err := b.Client.ChannelByName(ctx, args.ChannelName)
		if err != nil {
			b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Could not find #%s. Is the bot a member?", args.ChannelName))
			return
		}
		channelID = ch.ID
	}
	if channelID == "" {
		channelID = cmd.ChannelID
	}

	b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID,
		fmt.Sprintf("⏳ Generating digest for <#%s> (last %d days)...", channelID, args.Days))

	res, err := b.Digests.Build(ctx, channelID, b.Digests.DefaultRange(args.Days))
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Str("user_id", cmd.UserID).Msg("on-demand digest failed")
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error generating digest: %v", err))
		return
	}
	if err := b.Client.SendDM(ctx, cmd.UserID, res.Content); err != nil {
		log.Error().Err(err).Str("user_id", cmd.UserID).Msg("on-demand digest DM failed")
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error sending digest: %v", err))
		return
	}
	b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID,
		fmt.Sprintf("✅ Digest for <#%s> sent to your DMs (%d messages).", channelID, res.Stats.Total))
}

const digestUsage = "Usage: /digest [#channel | channel ID] [days]\nExample: /digest #nucleus-support 14"

type digestArgs struct {
	ChannelID   string
	ChannelName string
	Days        int
}

func parseDigestArgs(text string, defaultDays, maxDays int) (digestArgs, error) {
	args := digestArgs{Days: defaultDays}
	for _, tok := range strings.Fields(text) {
		if m := channelMentionRe.FindStringSubmatch(tok); m != nil {
			args.ChannelID = m[1]
			continue
		}
		if strings.HasPrefix(tok, "#") && len(tok) > 1 {
			args.ChannelName = strings.TrimPrefix(tok, "#")
			continue
		}
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 1 || n > maxDays {
				return digestArgs{}, fmt.Errorf("days must be between 1 and %d, got %d", maxDays, n)
			}
			args.Days = n
			continue
		}
		if isLikelyChannelID(tok) {
			args.ChannelID = tok
			continue
		}
		return digestArgs{}, fmt.Errorf("unrecognized argument %q", tok)
	}
	if args.ChannelID != "" && args.ChannelName != "" {
		return digestArgs{}, fmt.Errorf("give either a channel name or a channel ID, not both")
	}
	return args, nil
}

func isLikelyChannelID(val string) bool {
	if len(val) < 9 || !strings.ContainsRune("CGD", rune(val[0])) {
		return false
	}
	for _, r := range val[1:] {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func (b *Bot) handleStats(ctx context.Context, cmd slack.SlashCommand) {
	if b.Stats == nil {
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, "Statistics are not available: no digest store configured.")
		return
	}
	allTime, err := b.Stats.ClassificationStats(time.Time{})
	if err != nil {
		b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, fmt.Sprintf("Error loading stats: %v", err))
		log.Error().Err(err).Msg("digest-stats all-time error")
		return
	}
	recent, err := b.Stats.ClassificationStats(b.now().AddDate(0, 0, -28))
	if err != nil {
		log.Warn().Err(err).Msg("digest-stats recent error (non-fatal)")
		recent = sqlite.ClassificationStats{}
	}
	b.Client.PostEphemeral(ctx, cmd.ChannelID, cmd.UserID, formatStats(allTime, recent))
}

func formatStats(allTime, recent sqlite.ClassificationStats) string {
	var sb strings.Builder
	sb.WriteString("*Digest Classification Stats*\n\n")
	writeStatsBlock(&sb, "All-time", allTime)
	sb.WriteString("\n")
	writeStatsBlock(&sb, "Last 4 Weeks", recent)
	return strings.TrimRight(sb.String(), "\n")
}

func writeStatsBlock(sb *strings.Builder, title string, s sqlite.ClassificationStats) {
	fmt.Fprintf(sb, "*%s*\n", title)
	fmt.Fprintf(sb, "- Digests: %d\n", s.Runs)
	fmt.Fprintf(sb, "- Messages classified: %d\n", s.TotalClassifications)
	if s.TotalClassifications == 0 {
		return
	}
	pct := func(n int) float64 { return 100 * float64(n) / float64(s.TotalClassifications) }
	fmt.Fprintf(sb, "- Avg confidence: %.2f\n", s.AvgConfidence)
	fmt.Fprintf(sb, "- ✅ Resolved: %d (%.1f%%) · 🟠 Likely: %d (%.1f%%) · ❓ Needs attention: %d (%.1f%%)\n",
		s.Resolved, pct(s.Resolved), s.Likely, pct(s.Likely), s.NeedsAttention, pct(s.NeedsAttention))
	fmt.Fprintf(sb, "- Questions: %d\n", s.Questions)
	for _, w := range s.Workflows {
		fmt.Fprintf(sb, "  • %s: %d\n", w.Key, w.N)
	}
}

func (b *Bot) daysBack() int {
	if b.DaysBack < 1 {
		return 7
	}
	return b.DaysBack
}

func (b *Bot) maxDays() int {
	if b.MaxDays < 1 {
		return defaultMaxDays
	}
	return b.MaxDays
}

func (b *Bot) now() time.Time {
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	if b.Location != nil {
		now = now.In(b.Location)
	}
	return now
}
