package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookbridge/hookbridge/internal/delivery"
	"github.com/hookbridge/hookbridge/internal/logging"
	"github.com/hookbridge/hookbridge/internal/metrics"
	"github.com/hookbridge/hookbridge/internal/tracing"
)

// Deliverer runs a request to a terminal outcome. agent.Agent is the
// production implementation; tests substitute doubles.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) delivery.Outcome
}

// InboundResponse is what the webhook caller gets back.
type InboundResponse struct {
	Status int
	Body   map[string]any
}

// Receiver parses inbound payloads and maps delivery outcomes to inbound
// responses. It holds a reference to the deliverer, never ownership.
type Receiver struct {
	deliverer   Deliverer
	destination string
	inboundWait time.Duration
	log         *logging.Logger

	// background is the context deliveries run on. An inbound connection
	// closing early must not cancel a dispatched delivery, so the request
	// context is never used for the outbound leg.
	background context.Context

	// track, when set, counts dispatched deliveries so the coordinator's
	// drain can wait for detached ones too.
	track *sync.WaitGroup
}

// NewReceiver wires a receiver to its deliverer. background bounds the
// lifetime of detached deliveries and comes from the coordinator.
func NewReceiver(background context.Context, d Deliverer, destination string, inboundWait time.Duration, log *logging.Logger) *Receiver {
	return &Receiver{
		deliverer:   d,
		destination: destination,
		inboundWait: inboundWait,
		log:         log,
		background:  background,
	}
}

// Handle accepts a raw inbound body and returns the response to send. The
// caller waits at most inboundWait for the delivery outcome; if the wait
// elapses first the response is 202 and the delivery continues in the
// background with its outcome only logged.
func (r *Receiver) Handle(ctx context.Context, rawBody []byte) InboundResponse {
	ctx, span := tracing.StartSpan(ctx, "relay.receive")
	defer span.End()

	if !json.Valid(rawBody) {
		metrics.RecordReceived("malformed")
		r.log.WithContext(ctx).Warn("rejected malformed payload")
		span.SetAttributes(attribute.String("result", "malformed"))
		return InboundResponse{
			Status: http.StatusBadRequest,
			Body:   map[string]any{"error": string(delivery.ErrMalformedPayload)},
		}
	}

	req := delivery.Request{
		DeliveryID:  uuid.New().String(),
		Payload:     json.RawMessage(rawBody),
		Destination: r.destination,
		ReceivedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	metrics.RecordReceived("accepted")
	span.SetAttributes(attribute.String("delivery_id", req.DeliveryID))
	r.log.WithContext(ctx).WithDelivery(req.DeliveryID).
		WithField("bytes", len(rawBody)).Info("payload received")

	if r.track != nil {
		r.track.Add(1)
	}
	result := make(chan delivery.Outcome, 1)
	go func() {
		if r.track != nil {
			defer r.track.Done()
		}
		result <- r.deliverer.Deliver(r.background, req)
	}()

	select {
	case out := <-result:
		return r.respond(req, out)
	case <-time.After(r.inboundWait):
		// Detach: log the outcome whenever the delivery finishes.
		go func() {
			out := <-result
			r.log.Plain().WithDelivery(req.DeliveryID).WithFields(map[string]any{
				"ok":          out.Success(),
				"http_status": out.HTTPStatus,
				"error":       string(out.Error),
			}).Info("detached delivery finished")
		}()
		span.SetAttributes(attribute.String("result", "accepted_pending"))
		return InboundResponse{
			Status: http.StatusAccepted,
			Body: map[string]any{
				"message":     "accepted, delivery outcome not yet known",
				"delivery_id": req.DeliveryID,
			},
		}
	}
}

// respond maps a terminal outcome to the inbound response. Destination
// response bodies are logged elsewhere, never surfaced to the caller.
func (r *Receiver) respond(req delivery.Request, out delivery.Outcome) InboundResponse {
	if out.Success() {
		return InboundResponse{
			Status: http.StatusOK,
			Body: map[string]any{
				"message":      "webhook processed successfully",
				"forwarded_to": r.destination,
				"result": map[string]any{
					"status": out.HTTPStatus,
				},
				"delivery_id": req.DeliveryID,
			},
		}
	}

	status := http.StatusBadGateway
	if out.Error == delivery.ErrPoolExhausted {
		status = http.StatusServiceUnavailable
	}
	return InboundResponse{
		Status: status,
		Body: map[string]any{
			"error":       string(out.Error),
			"delivery_id": req.DeliveryID,
		},
	}
}
