package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/platform/auth"
	"github.com/craftlink/api/internal/platform/httpx"
)

const maxRequestBodySize = 64 * 1024

type moneyPayload struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type budgetPayload struct {
	Min      int64  `json:"min"`
	Max      int64  `json:"max"`
	Currency string `json:"currency"`
}

type locationPayload struct {
	City    string   `json:"city"`
	Area    string   `json:"area,omitempty"`
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

type slotPayload struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type completionProofPayload struct {
	ImageURLs   []string  `json:"imageUrls,omitempty"`
	Description string    `json:"description,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}

type negotiationTermsPayload struct {
	Price     *moneyPayload `json:"price,omitempty"`
	Materials string        `json:"materials,omitempty"`
	Scope     string        `json:"scope,omitempty"`
	Slot      *slotPayload  `json:"slot,omitempty"`
}

type negotiationPayload struct {
	Terms             negotiationTermsPayload `json:"terms"`
	SeekerConfirmed   bool                    `json:"seekerConfirmed"`
	ProviderConfirmed bool                    `json:"providerConfirmed"`
	UpdatedAt         *time.Time              `json:"updatedAt,omitempty"`
}

type refundQuotePayload struct {
	Percentage  int       `json:"percentage"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Reason      string    `json:"reason,omitempty"`
	RequestedBy string    `json:"requestedBy"`
	RequestedAt time.Time `json:"requestedAt"`
}

type jobRequestPayload struct {
	ID                 string                  `json:"id"`
	SeekerID           string                  `json:"seekerId"`
	CategoryID         string                  `json:"categoryId"`
	Title              string                  `json:"title"`
	Description        string                  `json:"description,omitempty"`
	Budget             budgetPayload           `json:"budget"`
	Deadline           time.Time               `json:"deadline"`
	ScheduledAt        time.Time               `json:"scheduledAt"`
	Location           locationPayload         `json:"location"`
	Status             string                  `json:"status"`
	AssignedProviderID *string                 `json:"assignedProviderId,omitempty"`
	AssignedOfferID    *string                 `json:"assignedOfferId,omitempty"`
	CompletionProof    *completionProofPayload `json:"completionProof,omitempty"`
	CancelReason       *string                 `json:"cancelReason,omitempty"`
	CreatedAt          time.Time               `json:"createdAt"`
	UpdatedAt          time.Time               `json:"updatedAt"`
}

type offerPayload struct {
	ID               string              `json:"id"`
	JobRequestID     string              `json:"jobRequestId"`
	ProviderID       string              `json:"providerId"`
	Price            moneyPayload        `json:"price"`
	Message          string              `json:"message,omitempty"`
	EstimatedMinutes int                 `json:"estimatedMinutes"`
	Negotiation      negotiationPayload  `json:"negotiation"`
	Status           string              `json:"status"`
	EscrowStatus     string              `json:"escrowStatus"`
	PaymentReference *string             `json:"paymentReference,omitempty"`
	RefundQuote      *refundQuotePayload `json:"refundQuote,omitempty"`
	CreatedAt        time.Time           `json:"createdAt"`
	UpdatedAt        time.Time           `json:"updatedAt"`
}

type negotiationEventPayload struct {
	ID         string                  `json:"id"`
	OfferID    string                  `json:"offerId"`
	ActorID    string                  `json:"actorId"`
	ActorRole  string                  `json:"actorRole"`
	Action     string                  `json:"action"`
	Terms      negotiationTermsPayload `json:"terms"`
	OccurredAt time.Time               `json:"occurredAt"`
}

type reviewPayload struct {
	ID           string    `json:"id"`
	JobRequestID string    `json:"jobRequestId"`
	SeekerID     string    `json:"seekerId"`
	ProviderID   string    `json:"providerId"`
	Rating       int       `json:"rating"`
	Comment      string    `json:"comment,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

func newJobRequestPayload(request domain.JobRequest) jobRequestPayload {
	payload := jobRequestPayload{
		ID:          request.ID,
		SeekerID:    request.SeekerID,
		CategoryID:  request.CategoryID,
		Title:       request.Title,
		Description: request.Description,
		Budget: budgetPayload{
			Min:      request.Budget.Min,
			Max:      request.Budget.Max,
			Currency: request.Budget.Currency,
		},
		Deadline:    request.Deadline,
		ScheduledAt: request.ScheduledAt,
		Location: locationPayload{
			City:    request.Location.City,
			Area:    request.Location.Area,
			Address: request.Location.Address,
			Lat:     request.Location.Lat,
			Lng:     request.Location.Lng,
		},
		Status:             string(request.Status),
		AssignedProviderID: request.AssignedProviderID,
		AssignedOfferID:    request.AssignedOfferID,
		CancelReason:       request.CancelReason,
		CreatedAt:          request.CreatedAt,
		UpdatedAt:          request.UpdatedAt,
	}
	if proof := request.CompletionProof; proof != nil {
		payload.CompletionProof = &completionProofPayload{
			ImageURLs:   proof.ImageURLs,
			Description: proof.Description,
			CompletedAt: proof.CompletedAt,
		}
	}
	return payload
}

func newNegotiationTermsPayload(terms domain.NegotiationTerms) negotiationTermsPayload {
	payload := negotiationTermsPayload{
		Materials: terms.Materials,
		Scope:     terms.Scope,
	}
	if terms.Price != nil {
		payload.Price = &moneyPayload{Amount: terms.Price.Amount, Currency: terms.Price.Currency}
	}
	if terms.Slot != nil {
		payload.Slot = &slotPayload{Start: terms.Slot.Start, End: terms.Slot.End}
	}
	return payload
}

func newOfferPayload(offer domain.Offer) offerPayload {
	payload := offerPayload{
		ID:           offer.ID,
		JobRequestID: offer.JobRequestID,
		ProviderID:   offer.ProviderID,
		Price: moneyPayload{
			Amount:   offer.Price.Amount,
			Currency: offer.Price.Currency,
		},
		Message:          offer.Message,
		EstimatedMinutes: offer.EstimatedMinutes,
		Negotiation: negotiationPayload{
			Terms:             newNegotiationTermsPayload(offer.Negotiation.Terms),
			SeekerConfirmed:   offer.Negotiation.SeekerConfirmed,
			ProviderConfirmed: offer.Negotiation.ProviderConfirmed,
			UpdatedAt:         offer.Negotiation.UpdatedAt,
		},
		Status:           string(offer.Status),
		EscrowStatus:     string(offer.EscrowStatus),
		PaymentReference: offer.PaymentReference,
		CreatedAt:        offer.CreatedAt,
		UpdatedAt:        offer.UpdatedAt,
	}
	if quote := offer.RefundQuote; quote != nil {
		payload.RefundQuote = &refundQuotePayload{
			Percentage:  quote.Percentage,
			Amount:      quote.Amount,
			Currency:    quote.Currency,
			Reason:      quote.Reason,
			RequestedBy: quote.RequestedBy,
			RequestedAt: quote.RequestedAt,
		}
	}
	return payload
}

func newNegotiationEventPayload(event domain.NegotiationEvent) negotiationEventPayload {
	return negotiationEventPayload{
		ID:         event.ID,
		OfferID:    event.OfferID,
		ActorID:    event.ActorID,
		ActorRole:  event.ActorRole,
		Action:     string(event.Action),
		Terms:      newNegotiationTermsPayload(event.Terms),
		OccurredAt: event.OccurredAt,
	}
}

func newReviewPayload(review domain.Review) reviewPayload {
	return reviewPayload{
		ID:           review.ID,
		JobRequestID: review.JobRequestID,
		SeekerID:     review.SeekerID,
		ProviderID:   review.ProviderID,
		Rating:       review.Rating,
		Comment:      review.Comment,
		CreatedAt:    review.CreatedAt,
	}
}

// principalFromContext resolves the authenticated actor placed by the auth middleware.
func principalFromContext(ctx context.Context) (domain.Principal, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		return domain.Principal{}, false
	}
	return domain.Principal{ID: identity.UID, Roles: identity.Roles}, true
}

func requirePrincipal(ctx context.Context, w http.ResponseWriter) (domain.Principal, bool) {
	principal, ok := principalFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
	}
	return principal, ok
}

// decodeJSON reads a bounded JSON request body into dst, writing the error
// response itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body too large", http.StatusRequestEntityTooLarge))
			return false
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
