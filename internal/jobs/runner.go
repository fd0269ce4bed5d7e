package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Job func(ctx context.Context) error

type Runner struct {
	ctx context.Context
	log *zap.SugaredLogger
}

func New(ctx context.Context, log *zap.SugaredLogger) *Runner {
	return &Runner{ctx: ctx, log: log}
}

// Every runs fn on a fixed interval until the runner context is cancelled.
// The first run happens after one interval, not immediately.
func (r *Runner) Every(interval time.Duration, name string, fn Job) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-t.C:
				start := time.Now()
				if err := fn(r.ctx); err != nil {
					r.log.Warnw("job failed", "job", name, "err", err)
					jobErrors.WithLabelValues(name).Inc()
				}
				jobRuns.WithLabelValues(name).Inc()
				jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
		}
	}()
}

// Daily runs fn once a day at the given local hour.
func (r *Runner) Daily(hour int, loc *time.Location, name string, fn Job) {
	go func() {
		for {
			now := time.Now().In(loc)
			next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
			if !now.Before(next) {
				next = next.Add(24 * time.Hour)
			}
			select {
			case <-r.ctx.Done():
				return
			case <-time.After(next.Sub(now)):
			}
			start := time.Now()
			if err := fn(r.ctx); err != nil {
				r.log.Warnw("job failed", "job", name, "err", err)
				jobErrors.WithLabelValues(name).Inc()
			}
			jobRuns.WithLabelValues(name).Inc()
			jobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}()
}
