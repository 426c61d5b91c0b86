// Package browser owns the headless Chrome handles used for outbound
// delivery. Each Session wraps one browser tab driven over CDP; a session
// performs exactly one submission at a time and is never shared across
// concurrent deliveries. A session that reports corruption is closed and
// discarded by its owner, never reused.
package browser

import (
	"context"
	"errors"
	"time"

	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"

	"github.com/hookbridge/hookbridge/internal/delivery"
)

// Options configures the Chrome process behind a session.
type Options struct {
	ExecPath  string // explicit Chrome binary, empty means chromedp's lookup
	Headless  bool
	NoSandbox bool
}

// Session is one exclusively-owned browser automation handle.
type Session struct {
	id string

	allocCancel context.CancelFunc
	tab         context.Context
	tabCancel   context.CancelFunc

	corrupted bool
}

// New launches a Chrome process and opens the tab the session will drive.
// The browser is started eagerly so the first delivery does not pay the
// cold-start cost.
func New(parent context.Context, opts Options) (*Session, error) {
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now.
	if err := chromedp.Run(tab); err != nil {
		tabCancel()
		allocCancel()
		return nil, err
	}

	return &Session{
		id:          uuid.New().String(),
		allocCancel: allocCancel,
		tab:         tab,
		tabCancel:   tabCancel,
	}, nil
}

// ID returns the session's identifier, used in logs and metrics.
func (s *Session) ID() string { return s.id }

// Corrupted reports whether the session's automation handle is unusable.
func (s *Session) Corrupted() bool { return s.corrupted }

// Deliver navigates the tab to the destination and submits the payload from
// inside the page. Automation faults never escape as raw errors; every
// result is folded into a delivery.Outcome. A timeout aborts the in-flight
// CDP actions and leaves the tab reusable; any other automation error marks
// the session corrupted.
func (s *Session) Deliver(ctx context.Context, payload []byte, destination string, timeout time.Duration) delivery.Outcome {
	if s.corrupted {
		return delivery.Failure(delivery.ErrSessionCorrupted)
	}
	if err := ctx.Err(); err != nil {
		return delivery.Failure(delivery.ErrTimeout)
	}

	script, err := submitScript(payload)
	if err != nil {
		// Payload text that cannot be embedded never reaches the wire.
		return delivery.Failure(delivery.ErrPermanent)
	}

	runCtx, cancel := context.WithTimeout(s.tab, timeout)
	defer cancel()

	var res fetchResult
	err = chromedp.Run(runCtx,
		chromedp.Navigate(destination),
		chromedp.Evaluate(script, &res, func(p *cdpruntime.EvaluateParams) *cdpruntime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return delivery.Failure(delivery.ErrTimeout)
		}
		// Anything else means the CDP connection or browser process is gone.
		s.corrupted = true
		return delivery.Failure(delivery.ErrSessionCorrupted)
	}

	return delivery.Classify(res.Status, res.Body)
}

// Close tears down the tab and the Chrome process behind it.
func (s *Session) Close() {
	s.tabCancel()
	s.allocCancel()
}
