package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/platform/auth"
	"github.com/craftlink/api/internal/platform/httpx"
	"github.com/craftlink/api/internal/services"
)

const (
	defaultHistoryPageSize = 50
	maxHistoryPageSize     = 200
)

type negotiationUpdateRequest struct {
	Price     *moneyPayload `json:"price"`
	Materials string        `json:"materials"`
	Scope     string        `json:"scope"`
	Slot      *slotPayload  `json:"slot"`
}

type processPaymentRequest struct {
	PaymentReference string `json:"paymentReference"`
}

type completeJobRequestRequest struct {
	ImageURLs   []string `json:"imageUrls"`
	Description string   `json:"description"`
}

type cancelRequestRequest struct {
	Reason string `json:"reason"`
}

type negotiationHistoryResponse struct {
	Items         []negotiationEventPayload `json:"items"`
	NextPageToken string                    `json:"nextPageToken,omitempty"`
}

// OfferHandlers exposes the /offers surface: decisions, negotiation, and the
// escrow lifecycle of a single offer.
type OfferHandlers struct {
	authn    *auth.Authenticator
	workflow services.WorkflowService
}

// NewOfferHandlers constructs a new OfferHandlers instance.
func NewOfferHandlers(authn *auth.Authenticator, workflow services.WorkflowService) *OfferHandlers {
	return &OfferHandlers{
		authn:    authn,
		workflow: workflow,
	}
}

// Routes registers the /offers endpoints.
func (h *OfferHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/{offerID}/reject", h.rejectOffer)
	r.Post("/{offerID}/withdraw", h.withdrawOffer)
	r.Patch("/{offerID}/negotiation", h.updateNegotiation)
	r.Post("/{offerID}/confirm-negotiation", h.confirmNegotiation)
	r.Post("/{offerID}/reset-confirmation", h.resetNegotiation)
	r.Get("/{offerID}/negotiation-history", h.negotiationHistory)
	r.Post("/{offerID}/process-payment", h.processPayment)
	r.Post("/{offerID}/complete", h.completeJobRequest)
	r.Post("/{offerID}/cancel-request", h.requestCancellation)
	r.Post("/{offerID}/process-cancellation", h.processCancellation)
}

func (h *OfferHandlers) rejectOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, h.workflow.RejectOffer)
}

func (h *OfferHandlers) withdrawOffer(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, h.workflow.WithdrawOffer)
}

func (h *OfferHandlers) confirmNegotiation(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, h.workflow.ConfirmNegotiation)
}

func (h *OfferHandlers) resetNegotiation(w http.ResponseWriter, r *http.Request) {
	h.offerAction(w, r, h.workflow.ResetNegotiation)
}

type offerActionFunc func(ctx context.Context, cmd services.OfferActionCommand) (services.Offer, error)

func (h *OfferHandlers) offerAction(w http.ResponseWriter, r *http.Request, action offerActionFunc) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	offer, err := action(ctx, services.OfferActionCommand{
		Actor:   principal,
		OfferID: chi.URLParam(r, "offerID"),
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOfferPayload(offer))
}

func (h *OfferHandlers) updateNegotiation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body negotiationUpdateRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	terms := domain.NegotiationTerms{
		Materials: strings.TrimSpace(body.Materials),
		Scope:     strings.TrimSpace(body.Scope),
	}
	if body.Price != nil {
		terms.Price = &domain.Money{Amount: body.Price.Amount, Currency: body.Price.Currency}
	}
	if body.Slot != nil {
		terms.Slot = &domain.ScheduleSlot{Start: body.Slot.Start, End: body.Slot.End}
	}

	offer, err := h.workflow.UpdateNegotiation(ctx, services.UpdateNegotiationCommand{
		Actor:   principal,
		OfferID: chi.URLParam(r, "offerID"),
		Terms:   terms,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOfferPayload(offer))
}

func (h *OfferHandlers) negotiationHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	pageSize := defaultHistoryPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultHistoryPageSize
		case size > maxHistoryPageSize:
			pageSize = maxHistoryPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.workflow.NegotiationHistory(ctx, services.NegotiationHistoryQuery{
		Actor:   principal,
		OfferID: chi.URLParam(r, "offerID"),
		Page: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	items := make([]negotiationEventPayload, 0, len(page.Items))
	for _, event := range page.Items {
		items = append(items, newNegotiationEventPayload(event))
	}
	writeJSON(w, http.StatusOK, negotiationHistoryResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OfferHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body processPaymentRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	request, offer, err := h.workflow.ProcessEscrowPayment(ctx, services.ProcessPaymentCommand{
		Actor:            principal,
		OfferID:          chi.URLParam(r, "offerID"),
		PaymentReference: body.PaymentReference,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, assignmentResponse{
		JobRequest: newJobRequestPayload(request),
		Offer:      newOfferPayload(offer),
	})
}

func (h *OfferHandlers) completeJobRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body completeJobRequestRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	request, offer, err := h.workflow.CompleteJobRequest(ctx, services.CompleteJobRequestCommand{
		Actor:       principal,
		OfferID:     chi.URLParam(r, "offerID"),
		ImageURLs:   body.ImageURLs,
		Description: body.Description,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, assignmentResponse{
		JobRequest: newJobRequestPayload(request),
		Offer:      newOfferPayload(offer),
	})
}

func (h *OfferHandlers) requestCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body cancelRequestRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	offer, err := h.workflow.RequestCancellation(ctx, services.RequestCancellationCommand{
		Actor:   principal,
		OfferID: chi.URLParam(r, "offerID"),
		Reason:  body.Reason,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOfferPayload(offer))
}

func (h *OfferHandlers) processCancellation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	request, offer, err := h.workflow.ProcessCancellation(ctx, services.ProcessCancellationCommand{
		Actor:   principal,
		OfferID: chi.URLParam(r, "offerID"),
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, assignmentResponse{
		JobRequest: newJobRequestPayload(request),
		Offer:      newOfferPayload(offer),
	})
}
