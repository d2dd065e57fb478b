package digest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"slackdigest/internal/domain"
	"slackdigest/internal/report"
)

type Source interface {
	ChannelInfo(ctx context.Context, channelID string) (domain.Channel, error)
	ChannelMessages(ctx context.Context, channelID string, rng domain.DateRange) ([]domain.RawMessage, error)
}

type Store interface {
	SaveDigestRun(run domain.DigestRun, msgs []domain.ClassifiedMessage) (string, error)
}

type Delivery struct {
	Channel domain.Channel
	Range   domain.DateRange
	Title   string
	Content string
}

type Deliverer interface {
	Name() string
	Deliver(ctx context.Context, d Delivery) error
}

// Recorder receives run metrics. *metrics.DigestMetrics implements it.
type Recorder interface {
	StartRun()
	FinishRun(duration time.Duration, err error)
	ObserveMessages(msgs []domain.ClassifiedMessage)
}

type Runner struct {
	Generator   *Generator
	Source      Source
	Store       Store
	Deliverers  []Deliverer
	Metrics     Recorder
	Now         func() time.Time
	DaysBack    int
	OutputDir   string
	MaxParallel int
}

type RunOptions struct {
	// Range overrides the rolling DaysBack window when set.
	Range domain.DateRange
	// DryRun generates without persisting, writing files or delivering.
	DryRun bool
}

type RunResult struct {
	ChannelID string
	Result    Result
	RunID     string
	FilePath  string
	Delivered []string

	// Err is set when the digest could not be generated at all.
	Err error
	// Errors holds persistence and delivery failures; the digest itself
	// was still produced.
	Errors []error
}

// DefaultRange is the rolling window ending now.
func (r *Runner) DefaultRange(daysBack int) domain.DateRange {
	if daysBack < 1 {
		daysBack = r.DaysBack
	}
	return domain.DigestRange(r.now(), daysBack)
}

// Build fetches and renders one channel without side effects.
func (r *Runner) Build(ctx context.Context, channelID string, rng domain.DateRange) (Result, error) {
	channel, err := r.Source.ChannelInfo(ctx, channelID)
	if err != nil {
		return Result{}, &domain.StageError{Stage: domain.StageFetch, Err: fmt.Errorf("channel info %s: %w", channelID, err)}
	}
	msgs, err := r.Source.ChannelMessages(ctx, channelID, rng)
	if err != nil {
		return Result{}, &domain.StageError{Stage: domain.StageFetch, Err: fmt.Errorf("history %s: %w", channelID, err)}
	}
	log.Debug().Str("channel", channelID).Int("fetched", len(msgs)).Msg("digest fetched history")
	return r.Generator.Generate(channel, msgs, rng)
}

func (r *Runner) RunChannel(ctx context.Context, channelID string, opts RunOptions) (RunResult, error) {
	rng := opts.Range
	if rng.Start.IsZero() && rng.End.IsZero() {
		rng = r.DefaultRange(0)
	}

	start := time.Now()
	if r.Metrics != nil {
		r.Metrics.StartRun()
	}
	res := RunResult{ChannelID: channelID}
	res.Result, res.Err = r.Build(ctx, channelID, rng)
	if r.Metrics != nil {
		r.Metrics.FinishRun(time.Since(start), res.Err)
	}
	if res.Err != nil {
		log.Error().Err(res.Err).Str("channel", channelID).Msg("digest run failed")
		return res, res.Err
	}
	if r.Metrics != nil {
		r.Metrics.ObserveMessages(res.Result.Messages)
	}
	log.Info().
		Str("channel", channelID).
		Int("messages", res.Result.Stats.Total).
		Int("skipped", res.Result.Skipped).
		Bool("dry_run", opts.DryRun).
		Msg("digest generated")

	if opts.DryRun {
		return res, nil
	}
	if res.Result.Stats.Total == 0 {
		log.Info().Str("channel", channelID).Msg("no messages in range; nothing stored or delivered")
		return res, nil
	}

	r.persist(&res)
	r.writeFile(&res)
	r.deliver(ctx, &res)
	return res, nil
}

func (r *Runner) persist(res *RunResult) {
	if r.Store == nil {
		return
	}
	id, err := r.Store.SaveDigestRun(domain.DigestRun{
		ChannelID:   res.Result.Channel.ID,
		ChannelName: res.Result.Channel.Name,
		Range:       res.Result.Range,
		Total:       res.Result.Stats.Total,
		Content:     res.Result.Content,
		CreatedAt:   r.now(),
	}, res.Result.Messages)
	if err != nil {
		log.Error().Err(err).Str("channel", res.ChannelID).Msg("digest persist failed")
		res.Errors = append(res.Errors, &domain.StageError{Stage: domain.StagePersist, Err: err})
		return
	}
	res.RunID = id
}

func (r *Runner) writeFile(res *RunResult) {
	if r.OutputDir == "" {
		return
	}
	name := res.Result.Channel.Name
	if name == "" {
		name = res.ChannelID
	}
	path, err := report.WriteReportFile(res.Result.Content, r.OutputDir, res.Result.Range.End, name)
	if err != nil {
		log.Error().Err(err).Str("channel", res.ChannelID).Msg("digest file write failed")
		res.Errors = append(res.Errors, &domain.StageError{Stage: domain.StagePersist, Err: err})
		return
	}
	res.FilePath = path
}

func (r *Runner) deliver(ctx context.Context, res *RunResult) {
	d := Delivery{
		Channel: res.Result.Channel,
		Range:   res.Result.Range,
		Title:   r.Generator.Title,
		Content: res.Result.Content,
	}
	for _, dl := range r.Deliverers {
		if err := dl.Deliver(ctx, d); err != nil {
			log.Error().Err(err).Str("channel", res.ChannelID).Str("deliverer", dl.Name()).Msg("digest delivery failed")
			res.Errors = append(res.Errors, &domain.StageError{Stage: domain.StageDeliver, Err: fmt.Errorf("%s: %w", dl.Name(), err)})
			continue
		}
		res.Delivered = append(res.Delivered, dl.Name())
	}
}

// RunChannels runs every channel, at most MaxParallel at a time, and returns
// results in input order. A failing channel does not stop the others; the
// returned error is only set when ctx is cancelled.
func (r *Runner) RunChannels(ctx context.Context, channelIDs []string, opts RunOptions) ([]RunResult, error) {
	if opts.Range.Start.IsZero() && opts.Range.End.IsZero() {
		opts.Range = r.DefaultRange(0)
	}
	results := make([]RunResult, len(channelIDs))

	g, gctx := errgroup.WithContext(ctx)
	limit := r.MaxParallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, id := range channelIDs {
		i, id := i, id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = RunResult{ChannelID: id, Err: err}
				return nil
			}
			results[i], _ = r.RunChannel(gctx, id, opts)
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (r *Runner) now() time.Time {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	if r.Generator != nil && r.Generator.Location != nil {
		now = now.In(r.Generator.Location)
	}
	return now
}
