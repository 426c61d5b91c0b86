package relay

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/hookbridge/hookbridge/internal/delivery"
)

// DirectDeliverer forwards payloads with a plain HTTP client, bypassing the
// browser pool. It backs the /webhook/direct escape hatch and makes a single
// attempt; callers wanting retries go through the browser agent.
type DirectDeliverer struct {
	client  *http.Client
	timeout time.Duration
}

func NewDirectDeliverer(timeout time.Duration) *DirectDeliverer {
	return &DirectDeliverer{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (d *DirectDeliverer) Deliver(ctx context.Context, req delivery.Request) delivery.Outcome {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Destination, bytes.NewReader(req.Payload))
	if err != nil {
		return delivery.Failure(delivery.ErrPermanent)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return delivery.Failure(delivery.ErrTimeout)
		}
		var urlTimeout interface{ Timeout() bool }
		if errors.As(err, &urlTimeout) && urlTimeout.Timeout() {
			return delivery.Failure(delivery.ErrTimeout)
		}
		return delivery.Failure(delivery.ErrTransientNetwork)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return delivery.Classify(resp.StatusCode, string(body))
}
