package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/services"
)

// schedulerPrincipal is the identity batch endpoints act under. The HMAC
// middleware has already proven the caller holds the shared secret.
var schedulerPrincipal = domain.Principal{
	ID:    "internal-scheduler",
	Roles: []string{domain.RoleSystem},
}

type processCancellationsRequest struct {
	Limit int `json:"limit"`
}

type processCancellationsResponse struct {
	Processed []string                   `json:"processed"`
	Failures  []cancellationFailureEntry `json:"failures,omitempty"`
}

type cancellationFailureEntry struct {
	OfferID string `json:"offerId"`
	Reason  string `json:"reason"`
}

// InternalHandlers exposes the HMAC-guarded automation endpoints.
type InternalHandlers struct {
	workflow services.WorkflowService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(workflow services.WorkflowService) *InternalHandlers {
	return &InternalHandlers{workflow: workflow}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/cancellations/process", h.processCancellations)
}

func (h *InternalHandlers) processCancellations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := processCancellationsRequest{}
	if r.ContentLength > 0 {
		if !decodeJSON(w, r, &body) {
			return
		}
	}

	result, err := h.workflow.ProcessPendingCancellations(ctx, services.BatchCancellationCommand{
		Actor: schedulerPrincipal,
		Limit: body.Limit,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	response := processCancellationsResponse{
		Processed: result.ProcessedOfferIDs,
	}
	if response.Processed == nil {
		response.Processed = []string{}
	}
	for _, failure := range result.Failures {
		response.Failures = append(response.Failures, cancellationFailureEntry{
			OfferID: failure.OfferID,
			Reason:  failure.Reason,
		})
	}

	writeJSON(w, http.StatusOK, response)
}
