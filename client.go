// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const defaultSerialQueueSize = 256

// Option configures a Client at construction.
type Option func(*options)

type options struct {
	transport       Transport
	log             logrus.FieldLogger
	metrics         *Metrics
	tracerProvider  trace.TracerProvider
	maxConcurrent   int64
	rateLimit       rate.Limit
	rateBurst       int
	serialQueueSize int
	logQueueSize    int
}

// WithTransport uses t for every request instead of picking one by the base
// URL scheme. The caller keeps ownership; Close does not close it.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithLogger sets the logger. The default is logrus.StandardLogger().
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithMetrics sets the collectors dispatches are recorded in. The default is
// an unregistered set.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithTracerProvider sets the provider dispatch spans come from. The default
// is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithMaxConcurrent bounds the number of concurrent-lane dispatches running at
// once. Zero means unbounded.
func WithMaxConcurrent(n int64) Option {
	return func(o *options) { o.maxConcurrent = n }
}

// WithRateLimit paces concurrent-lane admissions.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(o *options) {
		o.rateLimit = r
		o.rateBurst = burst
	}
}

// WithSerialQueueSize sets how many serial requests may wait for the lane
// before Send blocks.
func WithSerialQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.serialQueueSize = n
		}
	}
}

// WithLogQueueSize sets the diagnostic log queue length.
func WithLogQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.logQueueSize = n
		}
	}
}

// Client dispatches requests. It is safe for concurrent use.
//
// Serial requests run one at a time in submission order, each through its
// whole pipeline before the next starts. Other requests run concurrently
// with no ordering guarantee.
type Client struct {
	opts    options
	log     logrus.FieldLogger
	metrics *Metrics
	tracer  trace.Tracer
	diag    *diagLog

	cfg atomic.Pointer[snapshot]

	transportsMu sync.Mutex
	transports   map[string]Transport

	mu     sync.RWMutex
	gen    *generation
	closed bool
}

// generation is the admission state a Flush replaces wholesale.
type generation struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	serial  *serialLane
}

// New creates a client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	o := options{
		serialQueueSize: defaultSerialQueueSize,
		logQueueSize:    defaultLogQueueSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics(nil)
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}

	c := &Client{
		opts:       o,
		log:        o.log.WithField("component", "courier"),
		metrics:    o.metrics,
		tracer:     o.tracerProvider.Tracer(tracerName),
		transports: make(map[string]Transport),
	}
	if err := c.store(cfg); err != nil {
		return nil, err
	}
	c.diag = newDiagLog(c.log, o.logQueueSize, o.metrics.logLinesDropped)
	c.gen = c.newGeneration(nil)
	return c, nil
}

// Configure replaces the configuration. Dispatches already running keep the
// snapshot they read; encryption and decryption read the newest one.
func (c *Client) Configure(cfg Config) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return c.store(cfg)
}

// Config returns the current configuration.
func (c *Client) Config() Config {
	return c.snapshot().cfg
}

func (c *Client) store(cfg Config) error {
	snap, err := newSnapshot(cfg)
	if err != nil {
		return err
	}
	t, err := c.transportFor(snap.base)
	if err != nil {
		return err
	}
	snap.transport = t
	c.cfg.Store(snap)
	return nil
}

func (c *Client) snapshot() *snapshot {
	return c.cfg.Load()
}

// transportFor returns one transport per scheme and host for the client's lifetime.
func (c *Client) transportFor(base *url.URL) (Transport, error) {
	if c.opts.transport != nil {
		return c.opts.transport, nil
	}
	key := base.Scheme + "://" + base.Host
	c.transportsMu.Lock()
	defer c.transportsMu.Unlock()
	if t, ok := c.transports[key]; ok {
		return t, nil
	}
	t, err := transportFor(base)
	if err != nil {
		return nil, err
	}
	c.transports[key] = t
	return t, nil
}

// newGeneration builds fresh admission state. Its serial lane waits for prev
// to drain before running anything.
func (c *Client) newGeneration(prev *serialLane) *generation {
	ctx, cancel := context.WithCancelCause(context.Background())
	g := &generation{
		ctx:    ctx,
		cancel: cancel,
		serial: newSerialLane(c.opts.serialQueueSize, c.metrics.serialQueued, prev),
	}
	if c.opts.maxConcurrent > 0 {
		g.sem = semaphore.NewWeighted(c.opts.maxConcurrent)
	}
	if c.opts.rateLimit > 0 {
		burst := c.opts.rateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(c.opts.rateLimit, burst)
	}
	return g
}

// Send runs d through the ordering gate and the dispatch pipeline and decodes
// the response into out, which must be a pointer or nil. It returns nil on
// success.
func (c *Client) Send(ctx context.Context, d Descriptor, out interface{}) *Error {
	start := time.Now()
	info := d.Info()
	info.ID = newRequestID()
	if info.Serial {
		return c.sendSerial(ctx, d, info, out, start)
	}
	return c.sendConcurrent(ctx, d, info, out, start)
}

func (c *Client) sendConcurrent(ctx context.Context, d Descriptor, info RequestInfo, out interface{}, start time.Time) *Error {
	c.mu.RLock()
	closed, gen := c.closed, c.gen
	c.mu.RUnlock()
	if closed {
		return c.settle(laneConcurrent, start, cancelled(info, ErrClosed))
	}

	ctx, cancel := gen.bind(ctx)
	defer cancel()

	if gen.sem != nil {
		if err := gen.sem.Acquire(ctx, 1); err != nil {
			return c.settle(laneConcurrent, start, cancelled(info, context.Cause(ctx)))
		}
		defer gen.sem.Release(1)
	}
	if gen.limiter != nil {
		if err := gen.limiter.Wait(ctx); err != nil {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = err
			}
			return c.settle(laneConcurrent, start, cancelled(info, cause))
		}
	}
	return c.run(ctx, d, info, out, laneConcurrent, start)
}

func (c *Client) sendSerial(ctx context.Context, d Descriptor, info RequestInfo, out interface{}, start time.Time) *Error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return c.settle(laneSerial, start, cancelled(info, ErrClosed))
	}
	gen := c.gen
	ctx, cancel := gen.bind(ctx)
	defer cancel()

	job := newSerialJob(ctx, func(ctx context.Context) *Error {
		return c.run(ctx, d, info, out, laneSerial, start)
	})
	// Enqueue under the read lock so Flush cannot retire the lane between
	// reading c.gen and handing it the job.
	queued := gen.serial.enqueue(job)
	c.mu.RUnlock()
	if !queued {
		return c.settle(laneSerial, start, cancelled(info, context.Cause(ctx)))
	}

	if err, ran := job.wait(); ran {
		return err
	}
	return c.settle(laneSerial, start, cancelled(info, context.Cause(ctx)))
}

// bind derives a context cancelled by either the caller or the generation.
func (g *generation) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(g.ctx, func() {
		cancel(context.Cause(g.ctx))
	})
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}

// Flush cancels every queued and in-flight request in both lanes. They
// resolve as cancelled. Requests sent after Flush returns are admitted
// normally.
func (c *Client) Flush() {
	c.mu.RLock()
	old, closed := c.gen, c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	// Cancel first: it unblocks senders waiting on a full serial queue while
	// holding the read lock.
	old.cancel(ErrFlushed)

	c.mu.Lock()
	if c.gen == old && !c.closed {
		c.gen = c.newGeneration(old.serial)
	}
	c.mu.Unlock()
	old.serial.seal()
	c.log.Debug("flushed")
}

// Close cancels outstanding work, stops the serial worker and the diagnostic
// log writer, and closes the transports the client created. Sending on a
// closed client resolves as cancelled.
func (c *Client) Close() error {
	for {
		c.mu.RLock()
		gen, closed := c.gen, c.closed
		c.mu.RUnlock()
		if closed {
			return nil
		}
		gen.cancel(ErrClosed)

		c.mu.Lock()
		if c.gen == gen && !c.closed {
			c.closed = true
			c.mu.Unlock()
			gen.serial.seal()
			<-gen.serial.done
			c.diag.close()
			return c.closeTransports()
		}
		c.mu.Unlock()
	}
}

func (c *Client) closeTransports() error {
	c.transportsMu.Lock()
	defer c.transportsMu.Unlock()
	var errs []error
	for key, t := range c.transports {
		if closer, ok := t.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(c.transports, key)
	}
	return errors.Join(errs...)
}
