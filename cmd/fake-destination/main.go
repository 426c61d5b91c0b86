package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"

	"github.com/hookbridge/hookbridge/internal/config"
)

// fake-destination is a local stand-in for an operator's webhook endpoint.
// A GET serves a minimal page for the browser to land on; a POST echoes the
// payload back. FAIL_FIRST_N and RESPONSE_DELAY_MS simulate flaky and slow
// destinations for exercising the retry path.

var (
	reqCount atomic.Int64
	cfg      config.FakeDestination
)

func main() {
	_ = godotenv.Load()
	cfg = config.FromEnv().FakeDestination

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-destination listening on %s (fail_first_n=%d delay_ms=%d)", cfg.Port, cfg.FailFirstN, cfg.ResponseDelayMS)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	if cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(cfg.ResponseDelayMS) * time.Millisecond)
	}

	// The relay's browser session lands here with a GET before posting.
	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<!doctype html><title>fake destination</title><body>ready</body>"))
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	n := reqCount.Add(1)
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	// Simulate flakiness: first N posts -> 500
	if n <= int64(cfg.FailFirstN) {
		log.Printf("FAILING (%d/%d) %s body=%s", n, cfg.FailFirstN, r.URL.Path, truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	if !json.Valid(b) {
		log.Printf("fake-destination rejected non-JSON body=%q", truncate(string(b), 160))
		http.Error(w, "expected JSON", http.StatusUnprocessableEntity)
		return
	}

	log.Printf("fake-destination OK %s body=%q", r.URL.Path, truncate(string(b), 160))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"received": true,
		"bytes":    len(b),
	})
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
