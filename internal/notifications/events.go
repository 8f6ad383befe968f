package notifications

import (
	"context"
	"time"
)

// Event types emitted by the marketplace workflow.
const (
	EventJobRequestCreated     = "job_request.created"
	EventOfferSubmitted        = "offer.submitted"
	EventOfferAccepted         = "offer.accepted"
	EventOfferRejected         = "offer.rejected"
	EventOfferWithdrawn        = "offer.withdrawn"
	EventNegotiationUpdated    = "negotiation.updated"
	EventNegotiationConfirmed  = "negotiation.confirmed"
	EventNegotiationReset      = "negotiation.reset"
	EventEscrowFunded          = "escrow.funded"
	EventServiceCompleted      = "service.completed"
	EventCancellationRequested = "cancellation.requested"
	EventCancellationProcessed = "cancellation.processed"
	EventReviewSubmitted       = "review.submitted"
)

// Event is a domain event published for downstream consumers such as
// notification fan-out and analytics.
type Event struct {
	Type         string         `json:"type"`
	JobRequestID string         `json:"jobRequestId,omitempty"`
	OfferID      string         `json:"offerId,omitempty"`
	ActorID      string         `json:"actorId,omitempty"`
	OccurredAt   time.Time      `json:"occurredAt"`
	Payload      map[string]any `json:"payload,omitempty"`
}

// Publisher delivers domain events to the configured transport.
type Publisher interface {
	Publish(ctx context.Context, event Event) (string, error)
}

// NoopPublisher discards events. Used when no event topic is configured.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) (string, error) {
	return "", nil
}
