package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Batos41/cloud-computing-hw/failure"
	"github.com/Batos41/cloud-computing-hw/quarantine"
	"github.com/Batos41/cloud-computing-hw/sink"
	"github.com/Batos41/cloud-computing-hw/source"
	"github.com/Batos41/cloud-computing-hw/transformer"
	"github.com/Batos41/cloud-computing-hw/widget"
)

type Options struct {
	// IdleTimeout stops Run after this much consecutive time without requests.
	IdleTimeout time.Duration
	// PollInterval is the pause after an empty listing.
	PollInterval time.Duration
	// Workers bounds how many requests of one listing run at once.
	Workers int
	// MaxDeferrals is how many passes in a row a fetched request may fail
	// transiently before it is quarantined and deleted. It only applies when
	// Quarantine is set; zero disables the limit.
	MaxDeferrals int
	// ShutdownGrace bounds how long an in-flight request may keep running
	// after the run context is canceled.
	ShutdownGrace time.Duration

	Retry      RetryPolicy
	Quarantine quarantine.Quarantiner
	Logger     logrus.FieldLogger
	Clock      Clock
}

func (o Options) validate() error {
	if o.IdleTimeout <= 0 {
		return errors.New("idle timeout must be > 0")
	}
	if o.PollInterval <= 0 {
		return errors.New("poll interval must be > 0")
	}
	if o.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if o.MaxDeferrals < 0 {
		return errors.New("max deferrals must be >= 0")
	}
	if o.ShutdownGrace <= 0 {
		return errors.New("shutdown grace must be > 0")
	}
	return nil
}

// DefaultRetry retries transient and unclassified store errors three times
// with jittered exponential backoff.
var DefaultRetry = SimpleRetry{
	Attempts:  3,
	BaseDelay: 200 * time.Millisecond,
	MaxDelay:  5 * time.Second,
	Jitter:    true,
	Retryable: retryable,
}

var DefaultOptions = Options{
	IdleTimeout:   30 * time.Second,
	PollInterval:  time.Second,
	Workers:       1,
	MaxDeferrals:  5,
	ShutdownGrace: 30 * time.Second,
	Retry:         DefaultRetry,
}

func retryable(err error) bool {
	switch failure.KindOf(err) {
	case failure.Transient, failure.Unknown:
		return true
	}
	return false
}

// Stats counts per-request outcomes since the consumer was created.
type Stats struct {
	Passes      int64
	Processed   int64
	Poison      int64
	Skipped     int64
	Deferred    int64
	Quarantined int64
}

type counters struct {
	passes      atomic.Int64
	processed   atomic.Int64
	poison      atomic.Int64
	skipped     atomic.Int64
	deferred    atomic.Int64
	quarantined atomic.Int64
}

// Consumer drains a request bucket into a destination store until the bucket
// has stayed empty for the idle timeout.
type Consumer struct {
	src  source.Sourcer
	tr   transformer.Transformer[transformer.Result]
	dst  sink.Sinkr
	opts Options

	log   logrus.FieldLogger
	clock Clock
	retry RetryPolicy

	// deferrals counts consecutive failed passes per request key.
	mu        sync.Mutex
	deferrals map[string]int

	stats counters
	// consumed counts requests removed from the source, written or not.
	consumed atomic.Int64
}

func New(
	src source.Sourcer,
	tr transformer.Transformer[transformer.Result],
	dst sink.Sinkr,
	opts Options,
) (*Consumer, error) {
	if src == nil {
		return nil, fmt.Errorf("source is nil")
	}
	if tr == nil {
		return nil, fmt.Errorf("transformer is nil")
	}
	if dst == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	c := &Consumer{
		src:       src,
		tr:        tr,
		dst:       dst,
		opts:      opts,
		log:       opts.Logger,
		clock:     opts.Clock,
		retry:     opts.Retry,
		deferrals: make(map[string]int),
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.retry == nil {
		c.retry = nopRetry{}
	}
	return c, nil
}

func (c *Consumer) Stats() Stats {
	return Stats{
		Passes:      c.stats.passes.Load(),
		Processed:   c.stats.processed.Load(),
		Poison:      c.stats.poison.Load(),
		Skipped:     c.stats.skipped.Load(),
		Deferred:    c.stats.deferred.Load(),
		Quarantined: c.stats.quarantined.Load(),
	}
}

// Run polls until the source has been empty for IdleTimeout or ctx is
// canceled; both return nil. It returns an error only for fatal failures
// (permission or configuration problems).
//
// Idle time is an explicit accumulator: every empty pass adds its measured
// duration, and any pass that yields at least one request resets it. A
// non-empty pass that consumed nothing is followed by a PollInterval pause
// that does not count as idle.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.WithFields(logrus.Fields{
		"idle_timeout":  c.opts.IdleTimeout,
		"poll_interval": c.opts.PollInterval,
		"workers":       c.opts.Workers,
	}).Info("consumer started")

	var idle time.Duration
	for {
		if ctx.Err() != nil {
			c.log.WithField("stats", c.Stats()).Info("termination requested, consumer stopped")
			return nil
		}

		start := c.clock.Now()
		before := c.consumed.Load()
		n, err := c.Pass(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			idle = 0
			if c.consumed.Load() == before {
				// Everything listed was skipped or deferred; listing again
				// right away would spin on the same keys.
				_ = c.clock.Sleep(ctx, c.opts.PollInterval)
			}
			continue
		}

		wait := c.opts.PollInterval
		if left := c.opts.IdleTimeout - idle; left < wait {
			wait = left
		}
		if err := c.clock.Sleep(ctx, wait); err != nil {
			continue
		}

		idle += c.clock.Now().Sub(start)
		if idle >= c.opts.IdleTimeout {
			c.log.WithFields(logrus.Fields{
				"idle":  idle,
				"stats": c.Stats(),
			}).Info("idle timeout reached, consumer stopped")
			return nil
		}
	}
}

// Pass lists the source once and processes every listed request. It returns
// how many requests were listed and a non-nil error only for fatal failures.
func (c *Consumer) Pass(ctx context.Context) (int, error) {
	c.stats.passes.Add(1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Workers)

	var (
		n       int
		listErr error
	)
	listed := make(map[string]struct{})

	for h, err := range c.src.List(ctx) {
		if err != nil {
			listErr = err
			break
		}
		// Stop dispatching after a fatal item error or cancellation.
		if gctx.Err() != nil {
			break
		}
		n++
		listed[h.Key] = struct{}{}
		g.Go(func() error {
			return c.handle(ctx, h)
		})
	}

	if err := g.Wait(); err != nil {
		return n, err
	}

	if listErr != nil {
		if failure.KindOf(listErr) == failure.Permission {
			c.log.WithError(listErr).Error("listing requests denied")
			return n, listErr
		}
		if ctx.Err() == nil {
			c.log.WithError(listErr).Warn("listing requests failed")
		}
		return n, nil
	}

	c.forgetUnlisted(listed)
	if n > 0 {
		c.log.WithField("requests", n).Debug("pass finished")
	}
	return n, nil
}

// itemContext detaches request processing from ctx so an in-flight request
// can finish its write-then-delete sequence after shutdown begins, bounded by
// ShutdownGrace.
func (c *Consumer) itemContext(ctx context.Context) (context.Context, context.CancelFunc) {
	itemCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(c.opts.ShutdownGrace, cancel)
	})
	return itemCtx, func() {
		stop()
		cancel()
	}
}

// handle runs fetch, transform, write and delete for one request. Only fatal
// errors are returned; everything else is logged and classified here.
func (c *Consumer) handle(parent context.Context, h source.Handle) error {
	// Requests not yet started when shutdown begins stay for the next run.
	if parent.Err() != nil {
		return nil
	}
	ctx, done := c.itemContext(parent)
	defer done()

	log := c.log.WithField("key", h.Key)

	var req source.Request
	err := c.do(ctx, log, "fetch", func(ctx context.Context) error {
		var err error
		req, err = c.src.Fetch(ctx, h)
		return err
	})
	if err != nil {
		// A rejected oversized body still comes back, truncated, for the
		// quarantine copy.
		var fetched *source.Request
		if req.Key != "" {
			fetched = &req
		}
		return c.fail(ctx, log, h, fetched, "fetch", err)
	}

	res, err := c.tr.Transform(ctx, req)
	if err != nil {
		return c.fail(ctx, log, h, &req, "transform", err)
	}
	log = log.WithFields(logrus.Fields{"widget": res.Widget.ID, "op": res.Op})
	if res.RequestID != "" {
		log = log.WithField("request_id", res.RequestID)
	}

	switch res.Op {
	case widget.OpDelete:
		err = c.do(ctx, log, "delete widget", func(ctx context.Context) error {
			return c.dst.Delete(ctx, res.Widget)
		})
		if errors.Is(err, failure.ErrNotFound) {
			log.Warn("widget not found for deletion, no action taken")
			err = nil
		}
	case widget.OpUpdate:
		log.Warn("update requested but updates are not supported, consuming request")
	default:
		err = c.do(ctx, log, "write widget", func(ctx context.Context) error {
			return c.dst.Write(ctx, res.Widget)
		})
	}
	if err != nil {
		return c.fail(ctx, log, h, &req, "write", err)
	}

	if err := c.do(ctx, log, "delete request", func(ctx context.Context) error {
		return c.src.Delete(ctx, h)
	}); err != nil {
		return c.fail(ctx, log, h, &req, "delete", err)
	}

	c.forget(h.Key)
	c.consumed.Add(1)
	c.stats.processed.Add(1)
	log.Info("request processed")
	return nil
}

// do runs fn under the retry policy, logging every failed attempt.
func (c *Consumer) do(ctx context.Context, log logrus.FieldLogger, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return c.retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && retryable(err) {
			log.WithError(err).WithFields(logrus.Fields{
				"stage":   op,
				"attempt": attempt,
			}).Debug("store call failed")
		}
		return err
	})
}

// fail applies the per-request failure policy. req is nil when the request
// could not be fetched.
func (c *Consumer) fail(ctx context.Context, log logrus.FieldLogger, h source.Handle, req *source.Request, stage string, err error) error {
	kind := failure.KindOf(err)
	log = log.WithError(err).WithFields(logrus.Fields{
		"stage": stage,
		"kind":  kind.String(),
	})

	switch kind {
	case failure.NotFound:
		c.forget(h.Key)
		c.stats.skipped.Add(1)
		log.Debug("request already gone, skipping")
		return nil

	case failure.Malformed:
		c.stats.poison.Add(1)
		log.Error("poison request, consuming without writing")
		if req == nil {
			req = &source.Request{Key: h.Key}
		}
		return c.discard(ctx, log, h, *req, err)

	case failure.Permission:
		log.Error("permission denied, stopping consumer")
		return err

	default:
		n := c.deferral(h.Key)
		c.stats.deferred.Add(1)
		log = log.WithField("deferrals", n)
		if req != nil && c.opts.Quarantine != nil && c.opts.MaxDeferrals > 0 && n >= c.opts.MaxDeferrals {
			log.Error("request keeps failing, giving up on it")
			return c.discard(ctx, log, h, *req, err)
		}
		log.Warn("request left in place for a later pass")
		return nil
	}
}

// discard quarantines req when a quarantine is configured and then deletes it
// from the source. A request that cannot be quarantined is left in place.
func (c *Consumer) discard(ctx context.Context, log logrus.FieldLogger, h source.Handle, req source.Request, reason error) error {
	if q := c.opts.Quarantine; q != nil {
		err := c.do(ctx, log, "quarantine", func(ctx context.Context) error {
			return q.Quarantine(ctx, req, reason)
		})
		if err != nil {
			if failure.KindOf(err) == failure.Permission {
				log.WithError(err).Error("quarantine denied, stopping consumer")
				return err
			}
			log.WithError(err).Warn("quarantine failed, request left in place")
			return nil
		}
		c.stats.quarantined.Add(1)
		log.Info("request quarantined")
	}

	err := c.do(ctx, log, "delete request", func(ctx context.Context) error {
		return c.src.Delete(ctx, h)
	})
	switch {
	case err == nil:
		c.forget(h.Key)
		c.consumed.Add(1)
		return nil
	case failure.KindOf(err) == failure.Permission:
		log.WithError(err).Error("permission denied, stopping consumer")
		return err
	default:
		log.WithError(err).Warn("could not delete request, it will be seen again")
		return nil
	}
}

func (c *Consumer) deferral(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deferrals[key]++
	return c.deferrals[key]
}

func (c *Consumer) forget(key string) {
	c.mu.Lock()
	delete(c.deferrals, key)
	c.mu.Unlock()
}

// forgetUnlisted drops deferral counts of requests that disappeared, so the
// map only tracks what is still pending.
func (c *Consumer) forgetUnlisted(listed map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.deferrals {
		if _, ok := listed[key]; !ok {
			delete(c.deferrals, key)
		}
	}
}
