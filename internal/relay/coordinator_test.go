package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookbridge/hookbridge/internal/agent"
	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/delivery"
)

// scriptedSession satisfies agent.Session without a browser. Outcomes are
// consumed in order; the last one repeats.
type scriptedSession struct {
	id       string
	outcomes []delivery.Outcome

	mu       sync.Mutex
	calls    int
	payloads []string
	closed   bool
	corrupt  bool
}

func (s *scriptedSession) ID() string { return s.id }

func (s *scriptedSession) Deliver(ctx context.Context, payload []byte, destination string, timeout time.Duration) delivery.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++
	s.payloads = append(s.payloads, string(payload))
	out := s.outcomes[i]
	if out.Error == delivery.ErrSessionCorrupted {
		s.corrupt = true
	}
	return out
}

func (s *scriptedSession) Corrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.corrupt
}

func (s *scriptedSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func testConfig() config.Config {
	cfg := config.Config{
		AppName:        "hookbridge-test",
		DestinationURL: "https://dest.example.com/hook",
	}
	cfg.Agent.PoolSize = 1
	cfg.Agent.AttemptTimeout = time.Second
	cfg.Agent.MaxAttempts = 3
	cfg.Agent.BackoffSchedule = []time.Duration{time.Millisecond, time.Millisecond}
	cfg.Agent.JitterPercent = 0
	cfg.Relay.InboundWait = 2 * time.Second
	cfg.Relay.DrainGrace = time.Second
	return cfg
}

func startCoordinator(t *testing.T, cfg config.Config, factory agent.SessionFactory) (*Coordinator, *httptest.Server) {
	t.Helper()
	c := NewCoordinator(cfg, factory, quietLogger())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(c.Handler(prometheus.NewRegistry()))
	t.Cleanup(func() {
		srv.Close()
		c.Shutdown()
	})
	return c, srv
}

func postJSON(t *testing.T, url, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("response body %q is not JSON: %v", raw, err)
		}
	}
	return resp.StatusCode, decoded
}

func TestCoordinatorWebhookSuccess(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200, Body: "ok"}}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	status, body := postJSON(t, srv.URL+"/webhook", `{"event":"order.created","id":42}`)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %v", status, body)
	}
	if body["message"] != "webhook processed successfully" {
		t.Errorf("message = %v", body["message"])
	}
	if body["forwarded_to"] != "https://dest.example.com/hook" {
		t.Errorf("forwarded_to = %v", body["forwarded_to"])
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.payloads) != 1 || sess.payloads[0] != `{"event":"order.created","id":42}` {
		t.Errorf("session received %v, want the original payload once", sess.payloads)
	}
}

func TestCoordinatorWebhookMalformed(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200}}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	status, body := postJSON(t, srv.URL+"/webhook", `{"event":`)

	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if body["error"] != string(delivery.ErrMalformedPayload) {
		t.Errorf("error = %v", body["error"])
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.calls != 0 {
		t.Errorf("session used %d times for malformed payload, want 0", sess.calls)
	}
}

func TestCoordinatorWebhookRetriesThenFails(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{
		delivery.Classify(503, "down"),
	}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	status, body := postJSON(t, srv.URL+"/webhook", `{"event":"x"}`)

	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %v", status, body)
	}
	if body["error"] != string(delivery.ErrTransientNetwork) {
		t.Errorf("error = %v", body["error"])
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.calls != 3 {
		t.Errorf("attempts = %d, want the full budget of 3", sess.calls)
	}
}

func TestCoordinatorWebhookPermanentNoRetry(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{
		delivery.Classify(404, "no such hook"),
	}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	status, body := postJSON(t, srv.URL+"/webhook", `{"event":"x"}`)

	if status != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", status)
	}
	if body["error"] != string(delivery.ErrPermanent) {
		t.Errorf("error = %v", body["error"])
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.calls != 1 {
		t.Errorf("attempts = %d, want exactly 1 for a permanent error", sess.calls)
	}
}

func TestCoordinatorCorruptedSessionReplaced(t *testing.T) {
	var built atomic.Int32
	first := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{
		delivery.Failure(delivery.ErrSessionCorrupted),
	}}
	second := &scriptedSession{id: "s-2", outcomes: []delivery.Outcome{
		{OK: true, HTTPStatus: 200},
	}}
	factory := func(ctx context.Context) (agent.Session, error) {
		switch built.Add(1) {
		case 1:
			return first, nil
		default:
			return second, nil
		}
	}
	c, srv := startCoordinator(t, testConfig(), factory)

	status, _ := postJSON(t, srv.URL+"/webhook", `{"event":"x"}`)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200 after the replacement session succeeds", status)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("corrupted session was not closed")
	}
	if c.agent.PoolSize() != 1 {
		t.Errorf("pool size = %d, want 1", c.agent.PoolSize())
	}
}

func TestCoordinatorHealthEndpoints(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200}}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	for _, path := range []string{"/", "/health"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		var st map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d", path, resp.StatusCode)
		}
		if st["ok"] != true {
			t.Errorf("GET %s ok = %v", path, st["ok"])
		}
		sessions, _ := st["sessions"].(map[string]any)
		if sessions == nil || sessions["pool_size"] != float64(1) {
			t.Errorf("GET %s sessions = %v", path, st["sessions"])
		}
	}
}

func TestCoordinatorMetricsEndpoint(t *testing.T) {
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200}}}
	_, srv := startCoordinator(t, testConfig(), func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics status = %d", resp.StatusCode)
	}
}

func TestCoordinatorDirectEndpoint(t *testing.T) {
	var gotBody string
	dest := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer dest.Close()

	cfg := testConfig()
	cfg.DestinationURL = dest.URL
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200}}}
	_, srv := startCoordinator(t, cfg, func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	})

	status, body := postJSON(t, srv.URL+"/webhook/direct", `{"event":"bypass"}`)

	if status != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %v", status, body)
	}
	if gotBody != `{"event":"bypass"}` {
		t.Errorf("destination received %q", gotBody)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.calls != 0 {
		t.Errorf("browser session used %d times on the direct path, want 0", sess.calls)
	}
}

func TestCoordinatorRejectsWhileDraining(t *testing.T) {
	cfg := testConfig()
	cfg.Relay.DrainGrace = 10 * time.Millisecond
	sess := &scriptedSession{id: "s-1", outcomes: []delivery.Outcome{{OK: true, HTTPStatus: 200}}}
	c := NewCoordinator(cfg, func(ctx context.Context) (agent.Session, error) {
		return sess, nil
	}, quietLogger())
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	srv := httptest.NewServer(c.Handler(prometheus.NewRegistry()))
	defer srv.Close()

	c.Shutdown()

	status, body := postJSON(t, srv.URL+"/webhook", `{"event":"late"}`)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 while draining", status)
	}
	if body["error"] != "shutting down" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestCoordinatorConcurrencyBoundedByPool(t *testing.T) {
	var busy, maxBusy atomic.Int32
	cfg := testConfig()
	cfg.Agent.PoolSize = 2
	cfg.Agent.MaxAttempts = 1

	factory := func(ctx context.Context) (agent.Session, error) {
		return &gaugeSession{id: fmt.Sprintf("s-%d", busy.Load()), busy: &busy, maxBusy: &maxBusy}, nil
	}
	_, srv := startCoordinator(t, cfg, factory)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _ := postJSON(t, srv.URL+"/webhook", `{"event":"burst"}`)
			if status != http.StatusOK {
				t.Errorf("status = %d, want 200", status)
			}
		}()
	}
	wg.Wait()

	if maxBusy.Load() > 2 {
		t.Errorf("peak concurrent sessions = %d, want at most pool size 2", maxBusy.Load())
	}
}

// gaugeSession tracks peak concurrent deliveries across all instances.
type gaugeSession struct {
	id      string
	busy    *atomic.Int32
	maxBusy *atomic.Int32
}

func (g *gaugeSession) ID() string { return g.id }

func (g *gaugeSession) Deliver(ctx context.Context, payload []byte, destination string, timeout time.Duration) delivery.Outcome {
	n := g.busy.Add(1)
	for {
		prev := g.maxBusy.Load()
		if n <= prev || g.maxBusy.CompareAndSwap(prev, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	g.busy.Add(-1)
	return delivery.Outcome{OK: true, HTTPStatus: 200}
}

func (g *gaugeSession) Corrupted() bool { return false }
func (g *gaugeSession) Close()          {}
