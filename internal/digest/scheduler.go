package digest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSchedule parses a standard five-field cron expression.
func ParseSchedule(spec string) (cron.Schedule, error) {
	return scheduleParser.Parse(strings.TrimSpace(spec))
}

// NextRun returns the first time after now that schedule fires, evaluated in
// loc.
func NextRun(schedule string, now time.Time, loc *time.Location) (time.Time, error) {
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return time.Time{}, err
	}
	if loc != nil {
		now = now.In(loc)
	}
	return sched.Next(now), nil
}

// StartScheduler runs job on a standard 5-field cron schedule in loc until
// ctx is done. An empty schedule disables it.
// Examples: "0 7 * * 1" (Mondays 7am), "0 9 * * 1-5" (weekdays 9am).
func StartScheduler(ctx context.Context, schedule string, loc *time.Location, job func(context.Context)) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		log.Info().Msg("digest schedule disabled (digest_schedule not set)")
		return nil
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid digest_schedule '%s': %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	log.Info().Str("cron", schedule).Str("timezone", loc.String()).Msg("digest scheduled")

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Info().Str("next", next.Format("Mon Jan 2 15:04")).Dur("in", wait.Round(time.Minute)).Msg("next scheduled digest")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				log.Info().Msg("digest scheduler stopped")
				return
			case <-timer.C:
			}
			job(ctx)
		}
	}()
	return nil
}
