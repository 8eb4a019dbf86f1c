package shardpager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// poller enforces the absolute deadline of one polling call and sleeps
// between reads of results that are not available yet.
type poller struct {
	ctx      context.Context
	cancel   context.CancelFunc
	start    time.Time
	timeout  time.Duration
	interval backoff.BackOff
	logger   logrus.FieldLogger
	waits    prometheus.Counter
}

func newPoller(ctx context.Context, opts Options, logger logrus.FieldLogger, mode string) *poller {
	start := time.Now()
	ctx, cancel := context.WithDeadline(ctx, start.Add(opts.QueryTimeout))
	return &poller{
		ctx:      ctx,
		cancel:   cancel,
		start:    start,
		timeout:  opts.QueryTimeout,
		interval: backoff.WithContext(backoff.NewConstantBackOff(opts.PollInterval), ctx),
		logger:   logger,
		waits:    opts.Metrics.PollWaits.WithLabelValues(mode),
	}
}

// Context returns the context bound to the poller's deadline.
func (p *poller) Context() context.Context { return p.ctx }

func (p *poller) stop() { p.cancel() }

func (p *poller) elapsed() time.Duration { return time.Since(p.start) }

// check fails with a query-timeout error once the deadline has passed or
// the caller's context is done.
func (p *poller) check() error {
	elapsed := p.elapsed()
	if elapsed <= p.timeout && p.ctx.Err() == nil {
		return nil
	}
	err := timeoutError(elapsed, p.timeout, p.ctx.Err())
	p.logger.WithFields(logrus.Fields{
		"elapsed": elapsed,
		"limit":   p.timeout,
	}).Error(err.Message)
	return err
}

// wait sleeps one poll interval. An interrupted sleep is not an error; the
// next check decides whether the call goes on.
func (p *poller) wait() {
	d := p.interval.NextBackOff()
	if d == backoff.Stop {
		return
	}
	p.waits.Inc()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-p.ctx.Done():
		p.logger.WithField("elapsed", p.elapsed()).Warn("poll sleep interrupted")
	}
}
