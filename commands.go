package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"slackdigest/internal/app"
	"slackdigest/internal/config"
	"slackdigest/internal/digest"
	"slackdigest/internal/domain"
)

func loadApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, version)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Socket Mode bot, the digest schedule and the metrics endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := a.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

type runFlags struct {
	channels []string
	days     int
	week     bool
	dryRun   bool
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate and deliver digests once",
		Long: "Generates a digest for each --channel, or for the configured channels,\n" +
			"or for every channel the bot is a member of. --dry-run prints the digests\n" +
			"without storing, writing or delivering them.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.week && f.days > 0 {
				return errors.New("--week and --days are mutually exclusive")
			}
			if f.days < 0 {
				return fmt.Errorf("--days must be positive, got %d", f.days)
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			opts := digest.RunOptions{
				Range:  runRange(time.Now().In(a.Config.Location), f, a.Runner),
				DryRun: f.dryRun,
			}
			results, err := a.Run(ctx, f.channels, opts)
			if err != nil && len(results) == 0 {
				return err
			}
			printResults(cmd.OutOrStdout(), results, f.dryRun)
			return runError(results, err)
		},
	}
	cmd.Flags().StringArrayVar(&f.channels, "channel", nil, "channel ID to digest (repeatable)")
	cmd.Flags().IntVar(&f.days, "days", 0, "days back from now (default: days_back from config)")
	cmd.Flags().BoolVar(&f.week, "week", false, "digest the previous Monday-to-Monday week")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print digests instead of storing and delivering them")
	return cmd
}

type rangeSource interface {
	DefaultRange(daysBack int) domain.DateRange
}

func runRange(now time.Time, f runFlags, rs rangeSource) domain.DateRange {
	if f.week {
		return domain.PreviousWeekRange(now)
	}
	return rs.DefaultRange(f.days)
}

func printResults(w io.Writer, results []digest.RunResult, dryRun bool) {
	if !dryRun {
		fmt.Fprintln(w, digest.FormatRunSummary(results))
		return
	}
	for i, res := range results {
		if i > 0 {
			fmt.Fprintln(w, strings.Repeat("-", 40))
		}
		if res.Err != nil {
			fmt.Fprintf(w, "❌ %s: %v\n", res.ChannelID, res.Err)
			continue
		}
		fmt.Fprintln(w, res.Result.Content)
	}
}

func runError(results []digest.RunResult, err error) error {
	if err != nil {
		return err
	}
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d channels failed", failed, len(results))
	}
	return nil
}

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List the channels the bot can see",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			channels, err := a.Channels(cmd.Context())
			if err != nil {
				return err
			}
			printChannels(cmd.OutOrStdout(), channels)
			return nil
		},
	}
}

func printChannels(w io.Writer, channels []domain.Channel) {
	for _, ch := range channels {
		var flags []string
		if ch.IsMember {
			flags = append(flags, "member")
		}
		if ch.IsPrivate {
			flags = append(flags, "private")
		}
		fmt.Fprintf(w, "%s\t#%s\t%d members\t%s\n", ch.ID, ch.Name, ch.NumMembers, strings.Join(flags, ","))
	}
}

type historyFlags struct {
	channel string
	days    int
}

func newHistoryCmd() *cobra.Command {
	var f historyFlags
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored digests, or print the latest digest for a channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.days < 1 {
				return fmt.Errorf("--days must be positive, got %d", f.days)
			}
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if f.channel != "" {
				run, found, err := a.LatestDigest(f.channel)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no stored digest for channel %s", f.channel)
				}
				fmt.Fprintln(cmd.OutOrStdout(), run.Content)
				return nil
			}

			since := time.Now().AddDate(0, 0, -f.days)
			runs, err := a.History(since)
			if err != nil {
				return err
			}
			printRuns(cmd.OutOrStdout(), runs, a.Config.Location)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.channel, "channel", "", "print the latest stored digest for this channel ID")
	cmd.Flags().IntVar(&f.days, "days", 7, "list digests created in the last N days")
	return cmd
}

func printRuns(w io.Writer, runs []domain.DigestRun, loc *time.Location) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No stored digests.")
		return
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, run := range runs {
		name := run.ChannelName
		if name == "" {
			name = run.ChannelID
		}
		fmt.Fprintf(w, "%s\t#%s\t%s to %s\t%d messages\n",
			run.CreatedAt.In(loc).Format("2006-01-02 15:04"),
			name,
			run.Range.Start.In(loc).Format("2006-01-02"),
			run.Range.End.In(loc).Format("2006-01-02"),
			run.Total,
		)
	}
}
