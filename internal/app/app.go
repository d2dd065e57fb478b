// Package app wires configuration, Slack, storage and delivery into a
// digest runner and bot.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
	"golang.org/x/sync/errgroup"

	"slackdigest/internal/classify"
	"slackdigest/internal/config"
	"slackdigest/internal/digest"
	"slackdigest/internal/domain"
	"slackdigest/internal/httpx"
	"slackdigest/internal/integrations/email"
	"slackdigest/internal/integrations/jira"
	slackbot "slackdigest/internal/integrations/slack"
	"slackdigest/internal/logging"
	"slackdigest/internal/metrics"
	"slackdigest/internal/namecache"
	"slackdigest/internal/storage/sqlite"
)

type App struct {
	Config  config.Config
	DB      *sql.DB
	API     *slack.Client
	Slack   *slackbot.Client
	Names   *namecache.Resolver
	Metrics *metrics.DigestMetrics
	Runner  *digest.Runner
	Bot     *slackbot.Bot
}

func New(cfg config.Config, version string) (*App, error) {
	logging.Setup(cfg.LogLevel, version)
	appliedHTTPTimeout := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	log.Info().
		Int("channels", len(cfg.ChannelIDs)).
		Int("dm_recipients", len(cfg.RecipientEmails)).
		Bool("email", cfg.EmailConfigured()).
		Str("timezone", cfg.Timezone).
		Str("schedule", cfg.DigestSchedule).
		Int("days_back", cfg.DaysBack).
		Strs("workflow_filter", cfg.WorkflowFilter).
		Dur("external_http_timeout", appliedHTTPTimeout).
		Msg("config loaded")

	classifier, err := classify.FromGlossary(cfg.KeywordGlossaryPath)
	if err != nil {
		return nil, fmt.Errorf("keyword glossary: %w", err)
	}

	db, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	log.Info().Str("path", cfg.DBPath).Msg("database initialized")

	var options []slack.Option
	if cfg.SlackAppToken != "" {
		options = append(options, slack.OptionAppLevelToken(cfg.SlackAppToken))
	}
	client, api := slackbot.New(cfg.SlackBotToken, httpx.ExternalHTTPClient(), cfg.SlackRequestsPerMinute, options...)

	m := metrics.New()
	names := namecache.NewResolver(client.LookupDisplayName, namecache.New(cfg.NameCacheSize))
	names.Observe = m.ObserveNameLookup

	gen := &digest.Generator{
		Classifier:     classifier,
		Location:       cfg.Location,
		Names:          names,
		Title:          cfg.DigestTitle,
		WorkspaceURL:   cfg.SlackWorkspaceURL,
		WorkflowFilter: cfg.Workflows(),
	}
	if cfg.JiraBaseURL != "" {
		gen.Tickets = jira.New(cfg.JiraBaseURL)
	}

	store := sqlite.Store{DB: db}
	runner := &digest.Runner{
		Generator:   gen,
		Source:      client,
		Store:       store,
		Deliverers:  deliverers(cfg, client),
		Metrics:     m,
		DaysBack:    cfg.DaysBack,
		OutputDir:   cfg.ReportOutputDir,
		MaxParallel: cfg.MaxParallelChannels,
	}
	bot := &slackbot.Bot{
		Client:   client,
		Digests:  runner,
		Stats:    store,
		Location: cfg.Location,
		DaysBack: cfg.DaysBack,
	}

	return &App{
		Config:  cfg,
		DB:      db,
		API:     api,
		Slack:   client,
		Names:   names,
		Metrics: m,
		Runner:  runner,
		Bot:     bot,
	}, nil
}

func deliverers(cfg config.Config, client *slackbot.Client) []digest.Deliverer {
	var out []digest.Deliverer
	if len(cfg.RecipientEmails) > 0 {
		out = append(out, &slackbot.DMDeliverer{Client: client, Recipients: cfg.RecipientEmails})
	}
	if cfg.EmailConfigured() {
		out = append(out, email.NewDeliverer(cfg.SendGridAPIKey, cfg.EmailFrom, cfg.EmailRecipients))
	}
	if len(out) == 0 {
		log.Warn().Msg("no digest recipients configured; digests are only stored and written to files")
	}
	return out
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// ChannelIDs returns the configured channels, or every channel the bot is a
// member of when none are configured.
func (a *App) ChannelIDs(ctx context.Context) ([]string, error) {
	if len(a.Config.ChannelIDs) > 0 {
		return a.Config.ChannelIDs, nil
	}
	ids, err := a.Slack.MemberChannelIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover member channels: %w", err)
	}
	log.Info().Int("channels", len(ids)).Msg("using every member channel")
	return ids, nil
}

// Run generates digests for channelIDs, or for ChannelIDs when empty.
func (a *App) Run(ctx context.Context, channelIDs []string, opts digest.RunOptions) ([]digest.RunResult, error) {
	if len(channelIDs) == 0 {
		var err error
		channelIDs, err = a.ChannelIDs(ctx)
		if err != nil {
			return nil, err
		}
	}
	return a.Runner.RunChannels(ctx, channelIDs, opts)
}

func (a *App) Channels(ctx context.Context) ([]domain.Channel, error) {
	return a.Slack.ListChannels(ctx)
}

// History lists stored digest runs created at or after since, oldest first.
func (a *App) History(since time.Time) ([]domain.DigestRun, error) {
	return sqlite.Store{DB: a.DB}.DigestRuns(since)
}

// LatestDigest returns the newest stored digest for channelID.
func (a *App) LatestDigest(channelID string) (domain.DigestRun, bool, error) {
	return sqlite.Store{DB: a.DB}.LatestDigestRun(channelID)
}

// Serve runs the scheduler, the metrics endpoint and the Socket Mode bot
// until ctx is done or one of them fails.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Config.RequireSocketMode(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// Before any goroutine starts, so a bad schedule leaves nothing running.
	if err := digest.StartScheduler(gctx, a.Config.DigestSchedule, a.Config.Location, a.runScheduled); err != nil {
		return err
	}
	if a.Config.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              a.Config.MetricsAddr,
			Handler:           a.Metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", srv.Addr).Msg("metrics listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		log.Info().Msg("starting slack digest bot")
		return slackbot.StartBot(gctx, a.Bot, a.API)
	})
	return g.Wait()
}

func (a *App) runScheduled(ctx context.Context) {
	log.Info().Msg("scheduled digest starting")
	results, err := a.Run(ctx, nil, digest.RunOptions{})
	if err != nil {
		log.Error().Err(err).Msg("scheduled digest failed")
		if len(results) == 0 {
			return
		}
	}
	log.Info().Msg(digest.FormatRunSummary(results))
}
