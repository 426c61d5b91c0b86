// Package agent queues and retries outbound deliveries over a bounded pool
// of browser sessions. The pool is the single shared resource in the
// pipeline: sessions are checked out exclusively, used for one attempt, and
// checked back in (or replaced) before the next waiter is served.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hookbridge/hookbridge/internal/delivery"
	"github.com/hookbridge/hookbridge/internal/logging"
	"github.com/hookbridge/hookbridge/internal/metrics"
	"github.com/hookbridge/hookbridge/internal/tracing"
)

// Session is one exclusively-owned automation handle. browser.Session is the
// production implementation; tests substitute fakes.
type Session interface {
	ID() string
	Deliver(ctx context.Context, payload []byte, destination string, timeout time.Duration) delivery.Outcome
	Corrupted() bool
	Close()
}

// SessionFactory constructs a fresh session, used at startup and whenever a
// corrupted session is replaced.
type SessionFactory func(ctx context.Context) (Session, error)

// Config carries the process-wide delivery settings. The destination is
// fixed at startup, not per call.
type Config struct {
	Destination    string
	PoolSize       int
	AttemptTimeout time.Duration
	Policy         delivery.RetryPolicy
}

// Agent owns the session pool and applies the retry policy. Checkout order
// under contention follows channel receive order, so waiting deliveries are
// served roughly first-come first-served.
type Agent struct {
	cfg     Config
	factory SessionFactory
	log     *logging.Logger

	pool      chan Session
	lifecycle context.Context
	stop      context.CancelFunc
}

// New builds an agent; no sessions exist until Start.
func New(cfg Config, factory SessionFactory, log *logging.Logger) *Agent {
	if cfg.PoolSize < 1 {
		cfg.PoolSize = 1
	}
	return &Agent{
		cfg:     cfg,
		factory: factory,
		log:     log,
		pool:    make(chan Session, cfg.PoolSize),
	}
}

// Start eagerly constructs the configured number of sessions so the first
// delivery is not penalized by browser cold start.
func (a *Agent) Start(ctx context.Context) error {
	a.lifecycle, a.stop = context.WithCancel(ctx)
	for i := 0; i < a.cfg.PoolSize; i++ {
		sess, err := a.factory(a.lifecycle)
		if err != nil {
			a.Stop()
			return err
		}
		a.pool <- sess
		a.log.Plain().WithSession(sess.ID()).Info("browser session started")
	}
	return nil
}

// Stop closes every pooled session. Sessions checked out at the time of the
// call are closed when their delivery checks them back in.
func (a *Agent) Stop() {
	if a.stop != nil {
		a.stop()
	}
	for {
		select {
		case sess := <-a.pool:
			sess.Close()
		default:
			return
		}
	}
}

// Available reports how many sessions are idle right now.
func (a *Agent) Available() int { return len(a.pool) }

// PoolSize reports the configured pool capacity.
func (a *Agent) PoolSize() int { return a.cfg.PoolSize }

// Deliver runs the request to a terminal outcome: success, a non-retryable
// failure, or the last failure once the attempt budget is spent. The caller's
// context bounds waiting for a free session and the pauses between attempts;
// an attempt that has started always runs to its own timeout.
func (a *Agent) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	ctx, span := tracing.StartSpan(ctx, "agent.deliver",
		attribute.String("delivery_id", req.DeliveryID),
		attribute.String("destination", a.cfg.Destination),
	)
	defer span.End()

	var out delivery.Outcome
	for attempt := 1; ; attempt++ {
		req.Attempt = attempt
		out = a.attempt(ctx, req)

		if out.Success() {
			span.SetAttributes(attribute.Int("attempts", attempt))
			metrics.RecordDelivery("delivered")
			a.log.WithContext(ctx).WithDelivery(req.DeliveryID).WithAttempt(attempt).
				WithField("http_status", out.HTTPStatus).Info("delivery succeeded")
			return out
		}

		if out.Error == delivery.ErrPoolExhausted {
			// Never got a session; nothing reached the destination.
			metrics.RecordDelivery("failed")
			a.log.WithContext(ctx).WithDelivery(req.DeliveryID).Warn("no session available within wait budget")
			return out
		}

		if !delivery.Retryable(out.Error) || a.cfg.Policy.Exhausted(attempt) {
			break
		}

		metrics.RecordRetry(string(out.Error))
		delay := a.cfg.Policy.Delay(attempt)
		tracing.AddSpanEvent(ctx, "delivery.retry",
			attribute.Int("attempt", attempt),
			attribute.String("reason", string(out.Error)),
			attribute.String("delay", delay.String()),
		)
		a.log.WithContext(ctx).WithDelivery(req.DeliveryID).WithAttempt(attempt).WithFields(map[string]any{
			"reason": string(out.Error),
			"delay":  delay.String(),
		}).Info("retrying delivery")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			// Caller is gone; the attempt already completed, report it as-is.
			metrics.RecordDelivery("failed")
			return out
		}
	}

	metrics.RecordDelivery("failed")
	tf := delivery.NewTerminalFailure(req, req.Attempt, out)
	b, _ := json.Marshal(tf)
	a.log.WithContext(ctx).WithDelivery(req.DeliveryID).WithAttempt(req.Attempt).
		WithField("record", json.RawMessage(b)).Error("delivery failed terminally")
	span.SetAttributes(
		attribute.Int("attempts", req.Attempt),
		attribute.String("failure_reason", string(out.Error)),
	)
	return out
}

// attempt checks out a session, performs one submission, and returns the
// session to the pool, swapping in a replacement if it came back corrupted.
func (a *Agent) attempt(ctx context.Context, req delivery.Request) delivery.Outcome {
	var sess Session
	select {
	case sess = <-a.pool:
	case <-ctx.Done():
		return delivery.Failure(delivery.ErrPoolExhausted)
	}

	tracing.AddSpanEvent(ctx, "session.dispatch", attribute.String("session_id", sess.ID()))
	a.log.WithContext(ctx).WithDelivery(req.DeliveryID).WithSession(sess.ID()).
		WithAttempt(req.Attempt).Debug("dispatching to session")

	metrics.SessionsBusy.Inc()
	start := time.Now()
	out := sess.Deliver(ctx, req.Payload, a.cfg.Destination, a.cfg.AttemptTimeout)
	metrics.RecordAttemptLatency(time.Since(start))
	metrics.SessionsBusy.Dec()

	a.log.WithContext(ctx).WithDelivery(req.DeliveryID).WithSession(sess.ID()).
		WithAttempt(req.Attempt).WithFields(map[string]any{
		"ok":          out.Success(),
		"http_status": out.HTTPStatus,
		"error":       string(out.Error),
		"latency_ms":  time.Since(start).Milliseconds(),
	}).Info("attempt finished")

	a.checkin(ctx, sess)
	return out
}

// checkin returns a session to the pool. A corrupted session is closed and
// replaced so the pool always recovers to its configured size; if the agent
// is already stopping, the session is simply closed.
func (a *Agent) checkin(ctx context.Context, sess Session) {
	if a.lifecycle != nil && a.lifecycle.Err() != nil {
		sess.Close()
		return
	}
	if !sess.Corrupted() {
		a.pool <- sess
		return
	}

	sess.Close()
	metrics.RecordSessionReplaced()
	a.log.WithContext(ctx).WithSession(sess.ID()).Warn("session corrupted, replacing")

	fresh, err := a.factory(a.lifecycle)
	if err != nil {
		// Keep trying in the background; the pool stays short until a
		// replacement comes up.
		a.log.WithContext(ctx).WithError(err).Error("session replacement failed, retrying in background")
		go a.replaceLater()
		return
	}
	a.pool <- fresh
	a.log.WithContext(ctx).WithSession(fresh.ID()).Info("replacement session started")
}

func (a *Agent) replaceLater() {
	for {
		select {
		case <-a.lifecycle.Done():
			return
		case <-time.After(time.Second):
		}
		fresh, err := a.factory(a.lifecycle)
		if err != nil {
			a.log.Plain().WithError(err).Error("session replacement failed, retrying in background")
			continue
		}
		select {
		case a.pool <- fresh:
			a.log.Plain().WithSession(fresh.ID()).Info("replacement session started")
		case <-a.lifecycle.Done():
			fresh.Close()
		}
		return
	}
}
