package relay

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookbridge/hookbridge/internal/agent"
	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/delivery"
	"github.com/hookbridge/hookbridge/internal/health"
	"github.com/hookbridge/hookbridge/internal/logging"
)

// maxBodyBytes caps inbound payload size. Payloads are held in memory for
// the whole delivery, so unbounded bodies are not acceptable.
const maxBodyBytes = 4 << 20

// Coordinator wires the receiver, the delivery agent, and the session pool
// together and owns their lifecycles. It is the only component the HTTP
// front end talks to.
type Coordinator struct {
	cfg   config.Config
	log   *logging.Logger
	agent *agent.Agent

	browserRx *Receiver
	directRx  *Receiver

	lifecycle context.Context
	cancel    context.CancelFunc
	inflight  sync.WaitGroup
	draining  atomic.Bool
}

// NewCoordinator builds the pipeline. The session factory is injected so
// tests can run without a browser.
func NewCoordinator(cfg config.Config, factory agent.SessionFactory, log *logging.Logger) *Coordinator {
	c := &Coordinator{cfg: cfg, log: log}
	c.agent = agent.New(agent.Config{
		Destination:    cfg.DestinationURL,
		PoolSize:       cfg.Agent.PoolSize,
		AttemptTimeout: cfg.Agent.AttemptTimeout,
		Policy: delivery.RetryPolicy{
			MaxAttempts: cfg.Agent.MaxAttempts,
			Backoff:     cfg.Agent.BackoffSchedule,
			JitterPct:   cfg.Agent.JitterPercent,
		},
	}, factory, log)
	return c
}

// Start brings up the session pool and arms the receivers. The pool is
// created eagerly so the first inbound request is not penalized by browser
// cold start.
func (c *Coordinator) Start(ctx context.Context) error {
	c.lifecycle, c.cancel = context.WithCancel(ctx)

	if err := c.agent.Start(c.lifecycle); err != nil {
		c.cancel()
		return err
	}

	c.browserRx = NewReceiver(c.lifecycle, c.agent, c.cfg.DestinationURL, c.cfg.Relay.InboundWait, c.log)
	c.browserRx.track = &c.inflight
	c.directRx = NewReceiver(c.lifecycle, NewDirectDeliverer(c.cfg.Agent.AttemptTimeout), c.cfg.DestinationURL, c.cfg.Relay.InboundWait, c.log)
	c.directRx.track = &c.inflight

	c.log.Plain().WithFields(map[string]any{
		"destination": c.cfg.DestinationURL,
		"pool_size":   c.cfg.Agent.PoolSize,
	}).Info("relay coordinator started")
	return nil
}

// Handler builds the HTTP surface: the webhook endpoints, health, and
// metrics.
func (c *Coordinator) Handler(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(c.log))

	r.Post("/webhook", c.webhookHandler(c.browserRx))
	r.Post("/webhook/direct", c.webhookHandler(c.directRx))
	r.Get("/", health.HTTPHandler(c.cfg.AppName, c.cfg.DestinationURL, c.agent))
	r.Get("/health", health.HTTPHandler(c.cfg.AppName, c.cfg.DestinationURL, c.agent))
	if reg != nil {
		r.Get("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP)
	}
	return r
}

// Shutdown drains in-flight deliveries up to the configured grace period,
// then tears the session pool down. No inbound work is accepted once the
// drain begins.
func (c *Coordinator) Shutdown() {
	c.draining.Store(true)
	c.log.Plain().WithField("grace", c.cfg.Relay.DrainGrace.String()).Info("draining in-flight deliveries")

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.log.Plain().Info("drain complete")
	case <-time.After(c.cfg.Relay.DrainGrace):
		c.log.Plain().Warn("drain grace elapsed, terminating remaining sessions")
	}

	c.cancel()
	c.agent.Stop()
	c.log.Plain().Info("relay coordinator stopped")
}

func (c *Coordinator) webhookHandler(rx *Receiver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if c.draining.Load() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "shutting down"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable body"})
			return
		}

		resp := rx.Handle(r.Context(), body)
		writeJSON(w, resp.Status, resp.Body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
