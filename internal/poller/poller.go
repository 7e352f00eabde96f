// Package poller runs a work function on a fixed cadence with
// exponential error backoff and a cooldown after repeated failures.
package poller

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/agent"
	"github.com/DeadManOfficial/HF-Agent-Infinite/internal/metrics"
)

// sleepChunk bounds each uninterrupted sleep so cancellation is
// noticed within a minute even during long cooldowns.
const sleepChunk = time.Minute

// Func is one unit of polled work.
type Func func(ctx context.Context) error

// Options tunes the polling cadence and failure handling.
type Options struct {
	Interval             time.Duration
	MaxConsecutiveErrors int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
	Cooldown             time.Duration
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = time.Minute
	}
	if o.MaxConsecutiveErrors <= 0 {
		o.MaxConsecutiveErrors = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 30 * time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 5 * time.Minute
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Hour
	}
	return o
}

// Poller drives a Func forever until its context is canceled.
type Poller struct {
	name     string
	fn       Func
	opts     Options
	log      *zap.Logger
	notifier agent.Notifier
}

// New creates a Poller. The notifier may be nil.
func New(name string, fn Func, opts Options, logger *zap.Logger, notifier agent.Notifier) (*Poller, error) {
	if fn == nil {
		return nil, fmt.Errorf("poller %q: fn is nil", name)
	}
	if logger == nil {
		return nil, fmt.Errorf("poller %q: logger is required", name)
	}
	return &Poller{
		name:     name,
		fn:       fn,
		opts:     opts.withDefaults(),
		log:      logger.With(zap.String("poller", name)),
		notifier: notifier,
	}, nil
}

// Run loops until ctx is canceled. A successful cycle resets the
// error counter and sleeps one interval. A failing cycle backs off
// exponentially; when failures reach the limit the poller pauses for
// the cooldown and starts fresh.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info("poller started",
		zap.Duration("interval", p.opts.Interval),
		zap.Int("max_consecutive_errors", p.opts.MaxConsecutiveErrors))

	consecutive := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := p.fn(ctx)
		switch {
		case err == nil:
			if consecutive > 0 {
				p.log.Info("poller recovered",
					zap.Int("failures", consecutive))
				p.alert(ctx, agent.Alert{
					Title:   "Poller recovered",
					Message: fmt.Sprintf("%s succeeded after %d consecutive failures", p.name, consecutive),
					Level:   agent.AlertSuccess,
				})
			}
			consecutive = 0
			metrics.ObservePollCycle("success")
			if slept := p.sleep(ctx, p.opts.Interval); slept != nil {
				return slept
			}

		case ctx.Err() != nil:
			return ctx.Err()

		default:
			consecutive++
			metrics.ObservePollCycle("error")

			if consecutive >= p.opts.MaxConsecutiveErrors {
				p.log.Error("too many consecutive failures, entering cooldown",
					zap.Int("failures", consecutive),
					zap.Duration("cooldown", p.opts.Cooldown),
					zap.Error(err))
				p.alert(ctx, agent.Alert{
					Title:   "Poller in cooldown",
					Message: fmt.Sprintf("%s hit %d consecutive failures, pausing for %s: %s", p.name, consecutive, p.opts.Cooldown, err),
					Level:   agent.AlertWarning,
				})
				consecutive = 0
				if slept := p.sleep(ctx, p.opts.Cooldown); slept != nil {
					return slept
				}
				continue
			}

			delay := p.backoff(consecutive)
			p.log.Warn("poll cycle failed, backing off",
				zap.Int("failures", consecutive),
				zap.Duration("backoff", delay),
				zap.Error(err))
			p.alert(ctx, agent.Alert{
				Title:   "Poll cycle failed",
				Message: fmt.Sprintf("%s failed (%d of %d): %s", p.name, consecutive, p.opts.MaxConsecutiveErrors, err),
				Level:   agent.AlertError,
			})
			if slept := p.sleep(ctx, delay); slept != nil {
				return slept
			}
		}
	}
}

// backoff returns base * 2^failures clamped to the ceiling.
func (p *Poller) backoff(failures int) time.Duration {
	delay := p.opts.BackoffBase
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= p.opts.BackoffMax {
			return p.opts.BackoffMax
		}
	}
	return delay
}

// sleep waits for d in bounded chunks, returning early when ctx is
// canceled.
func (p *Poller) sleep(ctx context.Context, d time.Duration) error {
	for d > 0 {
		chunk := d
		if chunk > sleepChunk {
			chunk = sleepChunk
		}
		timer := time.NewTimer(chunk)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		d -= chunk
	}
	return nil
}

func (p *Poller) alert(ctx context.Context, alert agent.Alert) {
	if p.notifier == nil {
		return
	}
	if err := p.notifier.Send(ctx, alert); err != nil {
		p.log.Warn("send poller alert", zap.Error(err))
	}
}
