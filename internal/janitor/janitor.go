// Package janitor runs periodic cleanup: expired auth challenges and
// stale rate-limit windows.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alphabot-ai/threadly/internal/logging"
)

// ChallengePurger deletes expired challenges.
type ChallengePurger interface {
	PurgeChallenges(ctx context.Context) (int, error)
}

// Sweeper drops expired limiter state.
type Sweeper interface {
	Sweep() int
}

type Janitor struct {
	cron       *cron.Cron
	challenges ChallengePurger
	limiter    Sweeper
	log        logging.Logger
	timeout    time.Duration
}

func New(challenges ChallengePurger, limiter Sweeper, log logging.Logger) *Janitor {
	return &Janitor{
		cron:       cron.New(),
		challenges: challenges,
		limiter:    limiter,
		log:        log.With("component", "janitor"),
		timeout:    time.Minute,
	}
}

// Start schedules RunOnce with a cron spec such as "@every 10m".
func (j *Janitor) Start(spec string) error {
	if _, err := j.cron.AddFunc(spec, func() { j.RunOnce(context.Background()) }); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info(context.Background(), "janitor scheduled", "schedule", spec)
	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	if j.challenges != nil {
		n, err := j.challenges.PurgeChallenges(ctx)
		if err != nil {
			j.log.Error(ctx, "purge challenges failed", "error", err)
		} else if n > 0 {
			j.log.Info(ctx, "purged expired challenges", "count", n)
		}
	}
	if j.limiter != nil {
		if n := j.limiter.Sweep(); n > 0 {
			j.log.Debug(ctx, "swept rate windows", "count", n)
		}
	}
}
