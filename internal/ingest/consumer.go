// Package ingest drives the Jetstream subscription: it pulls one event at a
// time, classifies it with the record decoder and applies accepted mutations
// to the projection together with the event's cursor.
//
// Transport failures are retried with exponential backoff from the last
// durably saved cursor. Any other failure (in practice a store error) stops
// the consumer, because continuing would let the cursor run ahead of the
// projection.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-statusphere/internal/domain"
	"github.com/tbourn/go-statusphere/internal/jetstream"
	"github.com/tbourn/go-statusphere/internal/record"
)

// Projector is the write side the consumer feeds. It is satisfied by
// *services.ProjectionService.
type Projector interface {
	// Apply commits m and advances the cursor to cursor atomically.
	Apply(ctx context.Context, m domain.StatusMutation, cursor int64) error
	// Advance moves the cursor without a projection change.
	Advance(ctx context.Context, cursor int64) error
	// Cursor returns the durably saved position, if any.
	Cursor(ctx context.Context) (int64, bool, error)
}

// Options tunes a Consumer. Zero values select the defaults noted.
type Options struct {
	// StartLookback rewinds the first subscription by this much when no
	// cursor has been saved. Zero starts at the live edge.
	StartLookback time.Duration
	// DialTimeout bounds each connect attempt. Default 15s.
	DialTimeout time.Duration
	// BackoffInitial is the first reconnect delay. Default 1s.
	BackoffInitial time.Duration
	// BackoffMax caps the reconnect delay. Default 1m.
	BackoffMax time.Duration
	// CursorEvery persists the cursor after this many consecutive events
	// that did not change the projection. Default 1 (every event).
	CursorEvery int
	// Now returns the wall clock. Default time.Now.
	Now func() time.Time
	// Logger overrides the global zerolog logger.
	Logger *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 15 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.CursorEvery <= 0 {
		o.CursorEvery = 1
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Consumer owns the subscription lifecycle. It is the only writer of the
// projection; run exactly one per database.
type Consumer struct {
	sub    jetstream.Subscriber
	proj   Projector
	opts   Options
	log    zerolog.Logger
	tracer trace.Tracer

	state atomic.Int32

	mu  sync.Mutex
	err error
}

// NewConsumer returns a Consumer reading from sub and writing to proj.
func NewConsumer(sub jetstream.Subscriber, proj Projector, opts Options) *Consumer {
	opts = opts.withDefaults()
	lg := log.Logger
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	return &Consumer{
		sub:    sub,
		proj:   proj,
		opts:   opts,
		log:    lg.With().Str("component", "ingest").Logger(),
		tracer: otel.Tracer("github.com/tbourn/go-statusphere/internal/ingest"),
	}
}

// State returns the current lifecycle state.
func (c *Consumer) State() State { return State(c.state.Load()) }

// Err returns the fatal error that stopped the consumer, or nil.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// String implements fmt.Stringer; suture uses it in its log events.
func (c *Consumer) String() string { return "jetstream-consumer" }

// Serve implements suture.Service. A fatal error terminates the whole
// supervisor tree instead of being restarted; Err reports the cause.
func (c *Consumer) Serve(ctx context.Context) error {
	if err := c.Run(ctx); err != nil {
		return suture.ErrTerminateSupervisorTree
	}
	return ctx.Err()
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
	stateGauge.Set(float64(s))
}

func (c *Consumer) fail(err error) error {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.setState(Disconnected)
	c.log.Error().Err(err).Msg("consumer stopped on fatal error")
	return err
}

func (c *Consumer) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.BackoffInitial
	bo.MaxInterval = c.opts.BackoffMax
	bo.MaxElapsedTime = 0 // never give up
	bo.Reset()
	return bo
}

// Run consumes until ctx is cancelled (returns nil) or a non-transport
// error occurs (returned as is, typically wrapping services.ErrStore).
func (c *Consumer) Run(ctx context.Context) error {
	bo := c.newBackOff()
	defer c.setState(Disconnected)

	for {
		if ctx.Err() != nil {
			return nil
		}
		c.setState(Connecting)

		cursor, err := c.startCursor(ctx)
		if err != nil {
			return c.fail(err)
		}

		err = c.session(ctx, cursor, bo)
		if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err()) || errors.Is(err, jetstream.ErrTransport)) {
			c.log.Info().Msg("consumer shut down")
			return nil
		}
		if !errors.Is(err, jetstream.ErrTransport) {
			return c.fail(err)
		}

		c.setState(Reconnecting)
		reconnectsTotal.Inc()
		delay := bo.NextBackOff()
		c.log.Warn().Err(err).Dur("backoff", delay).Msg("firehose connection lost, reconnecting")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			c.log.Info().Msg("consumer shut down")
			return nil
		case <-t.C:
		}
	}
}

// startCursor returns the saved cursor, or the configured start policy when
// none exists (nil means the live edge).
func (c *Consumer) startCursor(ctx context.Context) (*int64, error) {
	cur, ok, err := c.proj.Cursor(ctx)
	if err != nil {
		return nil, err
	}
	if ok {
		cursorGauge.Set(float64(cur))
		return &cur, nil
	}
	if c.opts.StartLookback > 0 {
		start := c.opts.Now().Add(-c.opts.StartLookback).UnixMicro()
		return &start, nil
	}
	return nil, nil
}

// session runs one subscription. It returns nil or ctx's error on shutdown,
// a jetstream.ErrTransport error when the connection fails, and any other
// error when the projection could not be written.
func (c *Consumer) session(ctx context.Context, cursor *int64, bo backoff.BackOff) (err error) {
	lg := c.log.With().Logger()
	if cursor != nil {
		lg = lg.With().Int64("cursor", *cursor).Logger()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	stream, err := c.sub.Subscribe(dialCtx, cursor)
	cancel()
	if err != nil {
		if !errors.Is(err, jetstream.ErrTransport) {
			err = fmt.Errorf("%w: subscribe: %w", jetstream.ErrTransport, err)
		}
		return err
	}
	defer stream.Close()

	c.setState(Streaming)
	lg.Info().Bool("live_edge", cursor == nil).Msg("firehose subscribed")

	var (
		pending int64
		skipped int
	)
	// Events that changed nothing are durable once their cursor is saved;
	// flush the throttled position before leaving the session.
	defer func() {
		if pending == 0 {
			return
		}
		ferr := c.advance(context.WithoutCancel(ctx), pending)
		if ferr != nil && (err == nil || errors.Is(err, jetstream.ErrTransport) || ctx.Err() != nil) {
			err = ferr
		}
	}()

	for {
		// Shutdown observed after a commit stops before the next pull.
		if err := ctx.Err(); err != nil {
			return err
		}
		ev, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		bo.Reset()

		out := record.Decode(ev)
		eventsTotal.WithLabelValues(out.Kind.String()).Inc()

		if out.Kind == record.Accepted {
			if err := c.apply(ctx, ev, out.Mutation); err != nil {
				return err
			}
			pending, skipped = 0, 0
			continue
		}

		c.logSkipped(ev, out)
		if ev.TimeUS <= 0 {
			continue
		}
		pending = ev.TimeUS
		skipped++
		if skipped >= c.opts.CursorEvery {
			if err := c.advance(context.WithoutCancel(ctx), pending); err != nil {
				return err
			}
			pending, skipped = 0, 0
		}
	}
}

// apply commits an accepted mutation with its cursor. The write is detached
// from ctx so that shutdown never interrupts a transaction.
func (c *Consumer) apply(ctx context.Context, ev jetstream.Event, m domain.StatusMutation) error {
	ctx, span := c.tracer.Start(ctx, "ingest.apply",
		trace.WithAttributes(
			attribute.String("did", m.AuthorDID),
			attribute.String("rkey", m.RKey),
			attribute.String("op", m.Op.String()),
			attribute.Int64("cursor", ev.TimeUS),
		),
	)
	defer span.End()

	start := time.Now()
	err := c.proj.Apply(context.WithoutCancel(ctx), m, ev.TimeUS)
	applyLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply failed")
		return err
	}
	cursorGauge.Set(float64(ev.TimeUS))

	c.log.Debug().
		Str("op", m.Op.String()).
		Str("did", m.AuthorDID).
		Str("rkey", m.RKey).
		Int64("cursor", ev.TimeUS).
		Msg("status applied")
	return nil
}

func (c *Consumer) advance(ctx context.Context, cursor int64) error {
	if err := c.proj.Advance(ctx, cursor); err != nil {
		return err
	}
	cursorGauge.Set(float64(cursor))
	return nil
}

func (c *Consumer) logSkipped(ev jetstream.Event, out record.Outcome) {
	var e *zerolog.Event
	if out.Kind == record.Malformed {
		e = c.log.Warn()
	} else {
		e = c.log.Debug()
	}
	e = e.Str("outcome", out.Kind.String()).
		Str("reason", out.Reason).
		Str("kind", ev.Kind).
		Str("did", ev.DID).
		Int64("cursor", ev.TimeUS)
	if ev.Commit != nil {
		e = e.Str("collection", ev.Commit.Collection).
			Str("rkey", ev.Commit.RKey).
			Str("operation", ev.Commit.Operation)
	}
	e.Msg("event skipped")
}
