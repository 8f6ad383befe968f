package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/platform/auth"
	"github.com/craftlink/api/internal/platform/httpx"
	"github.com/craftlink/api/internal/services"
)

const (
	defaultRequestPageSize = 20
	maxRequestPageSize     = 100
)

type createJobRequestRequest struct {
	CategoryID  string          `json:"categoryId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Budget      budgetPayload   `json:"budget"`
	Deadline    time.Time       `json:"deadline"`
	ScheduledAt time.Time       `json:"scheduledAt"`
	Location    locationPayload `json:"location"`
}

type submitOfferRequest struct {
	Price            moneyPayload `json:"price"`
	Message          string       `json:"message"`
	EstimatedMinutes int          `json:"estimatedMinutes"`
}

type submitReviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

type jobRequestListResponse struct {
	Items         []jobRequestPayload `json:"items"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}

type offerListResponse struct {
	Items []offerPayload `json:"items"`
}

// RequestHandlers exposes the /requests surface: job request CRUD-lite,
// offer submission and listing, assignment, and reviews.
type RequestHandlers struct {
	authn    *auth.Authenticator
	workflow services.WorkflowService
}

// NewRequestHandlers constructs a new RequestHandlers instance.
func NewRequestHandlers(authn *auth.Authenticator, workflow services.WorkflowService) *RequestHandlers {
	return &RequestHandlers{
		authn:    authn,
		workflow: workflow,
	}
}

// Routes registers the /requests endpoints.
func (h *RequestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createJobRequest)
	r.Get("/", h.listJobRequests)
	r.Get("/{requestID}", h.getJobRequest)
	r.Post("/{requestID}/offers", h.submitOffer)
	r.Get("/{requestID}/offers", h.listOffers)
	r.Post("/{requestID}/assign/{offerID}", h.assignOffer)
	r.Post("/{requestID}/review", h.submitReview)
	r.Get("/{requestID}/review", h.getReview)
}

func (h *RequestHandlers) createJobRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body createJobRequestRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	request, err := h.workflow.CreateJobRequest(ctx, services.CreateJobRequestCommand{
		Actor:       principal,
		CategoryID:  body.CategoryID,
		Title:       body.Title,
		Description: body.Description,
		Budget: domain.BudgetRange{
			Min:      body.Budget.Min,
			Max:      body.Budget.Max,
			Currency: body.Budget.Currency,
		},
		Deadline:    body.Deadline,
		ScheduledAt: body.ScheduledAt,
		Location: domain.Location{
			City:    body.Location.City,
			Area:    body.Location.Area,
			Address: body.Location.Address,
			Lat:     body.Location.Lat,
			Lng:     body.Location.Lng,
		},
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newJobRequestPayload(request))
}

func (h *RequestHandlers) getJobRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	request, err := h.workflow.GetJobRequest(ctx, principal, chi.URLParam(r, "requestID"))
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, newJobRequestPayload(request))
}

func (h *RequestHandlers) listJobRequests(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	var statuses []domain.JobRequestStatus
	for _, raw := range query["status"] {
		for _, value := range strings.Split(raw, ",") {
			value = strings.TrimSpace(value)
			if value == "" {
				continue
			}
			status := domain.JobRequestStatus(value)
			if !domain.ValidJobRequestStatus(status) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown status filter "+value, http.StatusBadRequest))
				return
			}
			statuses = append(statuses, status)
		}
	}

	var from, to *time.Time
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_after must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		from = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "created_before must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		to = &ts
	}

	pageSize := defaultRequestPageSize
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case size <= 0:
			pageSize = defaultRequestPageSize
		case size > maxRequestPageSize:
			pageSize = maxRequestPageSize
		default:
			pageSize = size
		}
	}

	page, err := h.workflow.ListJobRequests(ctx, services.ListJobRequestsQuery{
		Actor:    principal,
		SeekerID: strings.TrimSpace(query.Get("seeker_id")),
		Status:   statuses,
		From:     from,
		To:       to,
		Page: services.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	items := make([]jobRequestPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, newJobRequestPayload(request))
	}
	writeJSON(w, http.StatusOK, jobRequestListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *RequestHandlers) submitOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body submitOfferRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	offer, err := h.workflow.SubmitOffer(ctx, services.SubmitOfferCommand{
		Actor:        principal,
		JobRequestID: chi.URLParam(r, "requestID"),
		Price: domain.Money{
			Amount:   body.Price.Amount,
			Currency: body.Price.Currency,
		},
		Message:          body.Message,
		EstimatedMinutes: body.EstimatedMinutes,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newOfferPayload(offer))
}

func (h *RequestHandlers) listOffers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	offers, err := h.workflow.ListOffers(ctx, principal, chi.URLParam(r, "requestID"))
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	items := make([]offerPayload, 0, len(offers))
	for _, offer := range offers {
		items = append(items, newOfferPayload(offer))
	}
	writeJSON(w, http.StatusOK, offerListResponse{Items: items})
}

func (h *RequestHandlers) assignOffer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	request, offer, err := h.workflow.AcceptOffer(ctx, services.AcceptOfferCommand{
		Actor:        principal,
		JobRequestID: chi.URLParam(r, "requestID"),
		OfferID:      chi.URLParam(r, "offerID"),
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

func (h *RequestHandlers) submitReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	var body submitReviewRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	review, err := h.workflow.SubmitReview(ctx, services.SubmitReviewCommand{
		Actor:        principal,
		JobRequestID: chi.URLParam(r, "requestID"),
		Rating:       body.Rating,
		Comment:      body.Comment,
	})
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newReviewPayload(review))
}

func (h *RequestHandlers) getReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal, ok := requirePrincipal(ctx, w)
	if !ok {
		return
	}

	review, err := h.workflow.GetReview(ctx, principal, chi.URLParam(r, "requestID"))
	if err != nil {
		writeWorkflowError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, newReviewPayload(review))
}

// assignmentResponse pairs the two records updated by acceptance and the
// escrow transitions.
type assignmentResponse struct {
	JobRequest jobRequestPayload `json:"jobRequest"`
	Offer      offerPayload      `json:"offer"`
}
