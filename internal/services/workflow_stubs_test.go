package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
	"github.com/craftlink/api/internal/payments"
	"github.com/craftlink/api/internal/repositories"
)

// repoError is the in-memory stand-in for categorised persistence failures.
type repoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return e.msg }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

func notFoundErr(format string, args ...any) error {
	return &repoError{msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflictErr(format string, args ...any) error {
	return &repoError{msg: fmt.Sprintf(format, args...), conflict: true}
}

// memStore backs the stub repositories with shared mutable state so the
// guarded-write semantics match the real transactional layer.
type memStore struct {
	mu         sync.Mutex
	requests   map[string]domain.JobRequest
	offers     map[string]domain.Offer
	trail      []domain.NegotiationEvent
	categories map[string]domain.Category
	reviews    map[string]domain.Review
}

func newMemStore() *memStore {
	return &memStore{
		requests:   map[string]domain.JobRequest{},
		offers:     map[string]domain.Offer{},
		categories: map[string]domain.Category{},
		reviews:    map[string]domain.Review{},
	}
}

type memJobRequestRepo struct {
	store  *memStore
	findFn func(ctx context.Context, requestID string) (domain.JobRequest, error)
}

func (r *memJobRequestRepo) Insert(_ context.Context, request domain.JobRequest) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.requests[request.ID]; ok {
		return conflictErr("job request %s exists", request.ID)
	}
	r.store.requests[request.ID] = request
	return nil
}

func (r *memJobRequestRepo) FindByID(ctx context.Context, requestID string) (domain.JobRequest, error) {
	if r.findFn != nil {
		return r.findFn(ctx, requestID)
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	request, ok := r.store.requests[requestID]
	if !ok {
		return domain.JobRequest{}, notFoundErr("job request %s not found", requestID)
	}
	return request, nil
}

func (r *memJobRequestRepo) ListBySeeker(_ context.Context, seekerID string, _ repositories.JobRequestListFilter) (domain.CursorPage[domain.JobRequest], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var items []domain.JobRequest
	for _, request := range r.store.requests {
		if request.SeekerID == seekerID {
			items = append(items, request)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return domain.CursorPage[domain.JobRequest]{Items: items}, nil
}

type memOfferRepo struct {
	store *memStore
}

func (r *memOfferRepo) Insert(_ context.Context, offer domain.Offer) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, existing := range r.store.offers {
		if existing.JobRequestID == offer.JobRequestID && existing.ProviderID == offer.ProviderID && !existing.Terminal() {
			return conflictErr("provider %s already has an active offer on %s", offer.ProviderID, offer.JobRequestID)
		}
	}
	r.store.offers[offer.ID] = offer
	return nil
}

func (r *memOfferRepo) FindByID(_ context.Context, offerID string) (domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[offerID]
	if !ok {
		return domain.Offer{}, notFoundErr("offer %s not found", offerID)
	}
	return offer, nil
}

func (r *memOfferRepo) ListByJobRequest(_ context.Context, requestID string) ([]domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var offers []domain.Offer
	for _, offer := range r.store.offers {
		if offer.JobRequestID == requestID {
			offers = append(offers, offer)
		}
	}
	sort.Slice(offers, func(i, j int) bool { return offers[i].ID < offers[j].ID })
	return offers, nil
}

func (r *memOfferRepo) UpdateStatusGuarded(_ context.Context, offerID string, expected, target domain.OfferStatus, now time.Time) (domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[offerID]
	if !ok {
		return domain.Offer{}, notFoundErr("offer %s not found", offerID)
	}
	if offer.Status != expected {
		return domain.Offer{}, conflictErr("offer %s is %s, expected %s", offerID, offer.Status, expected)
	}
	offer.Status = target
	offer.UpdatedAt = now
	r.store.offers[offerID] = offer
	return offer, nil
}

func (r *memOfferRepo) SetNegotiation(_ context.Context, offerID string, expected domain.OfferStatus, expectedNegotiatedAt *time.Time, negotiation domain.Negotiation, now time.Time) (domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[offerID]
	if !ok {
		return domain.Offer{}, notFoundErr("offer %s not found", offerID)
	}
	if offer.Status != expected {
		return domain.Offer{}, conflictErr("offer %s is %s, expected %s", offerID, offer.Status, expected)
	}
	stored := offer.Negotiation.UpdatedAt
	if (stored == nil) != (expectedNegotiatedAt == nil) ||
		(stored != nil && !stored.Equal(*expectedNegotiatedAt)) {
		return domain.Offer{}, conflictErr("offer %s negotiation was updated concurrently", offerID)
	}
	offer.Negotiation = negotiation
	offer.UpdatedAt = now
	r.store.offers[offerID] = offer
	return offer, nil
}

type memEscrowRepo struct {
	store *memStore
}

func (r *memEscrowRepo) AcceptOffer(_ context.Context, write repositories.AcceptOfferWrite) (domain.JobRequest, domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	request, ok := r.store.requests[write.JobRequestID]
	if !ok {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("job request %s not found", write.JobRequestID)
	}
	offer, ok := r.store.offers[write.OfferID]
	if !ok || offer.JobRequestID != write.JobRequestID {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("offer %s not found on %s", write.OfferID, write.JobRequestID)
	}
	if request.Status != domain.JobRequestStatusOpen {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("job request %s is %s", request.ID, request.Status)
	}
	if offer.Status != domain.OfferStatusPending {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("offer %s is %s", offer.ID, offer.Status)
	}

	offer.Status = domain.OfferStatusAccepted
	offer.UpdatedAt = write.Now
	request.Status = domain.JobRequestStatusAssigned
	request.AssignedProviderID = &write.ProviderID
	offerID := write.OfferID
	request.AssignedOfferID = &offerID
	request.UpdatedAt = write.Now

	r.store.offers[offer.ID] = offer
	r.store.requests[request.ID] = request
	return request, offer, nil
}

func (r *memEscrowRepo) BeginEscrowPayment(_ context.Context, offerID string, now time.Time) (domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[offerID]
	if !ok {
		return domain.Offer{}, notFoundErr("offer %s not found", offerID)
	}
	if offer.Status != domain.OfferStatusAccepted || offer.EscrowStatus != domain.EscrowStatusNone {
		return domain.Offer{}, conflictErr("offer %s is %s/%s", offerID, offer.Status, offer.EscrowStatus)
	}
	offer.EscrowStatus = domain.EscrowStatusPaymentPending
	offer.UpdatedAt = now
	r.store.offers[offerID] = offer
	return offer, nil
}

func (r *memEscrowRepo) AbortEscrowPayment(_ context.Context, offerID string, now time.Time) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[offerID]
	if !ok {
		return notFoundErr("offer %s not found", offerID)
	}
	if offer.EscrowStatus != domain.EscrowStatusPaymentPending {
		return conflictErr("offer %s escrow is %s", offerID, offer.EscrowStatus)
	}
	offer.EscrowStatus = domain.EscrowStatusNone
	offer.UpdatedAt = now
	r.store.offers[offerID] = offer
	return nil
}

func (r *memEscrowRepo) SettleEscrowPayment(_ context.Context, write repositories.SettleEscrowWrite) (domain.JobRequest, domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[write.OfferID]
	if !ok {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("offer %s not found", write.OfferID)
	}
	request, ok := r.store.requests[offer.JobRequestID]
	if !ok {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("job request %s not found", offer.JobRequestID)
	}
	if offer.EscrowStatus != domain.EscrowStatusPaymentPending {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("offer %s escrow is %s", offer.ID, offer.EscrowStatus)
	}
	if request.Status != domain.JobRequestStatusAssigned {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("job request %s is %s", request.ID, request.Status)
	}

	reference := write.PaymentReference
	offer.EscrowStatus = domain.EscrowStatusEscrowed
	offer.PaymentReference = &reference
	offer.UpdatedAt = write.Now
	request.Status = domain.JobRequestStatusInProgress
	request.UpdatedAt = write.Now

	r.store.offers[offer.ID] = offer
	r.store.requests[request.ID] = request
	return request, offer, nil
}

func (r *memEscrowRepo) ReleaseEscrow(_ context.Context, write repositories.ReleaseEscrowWrite) (domain.JobRequest, domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[write.OfferID]
	if !ok {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("offer %s not found", write.OfferID)
	}
	request := r.store.requests[offer.JobRequestID]
	if offer.EscrowStatus != domain.EscrowStatusEscrowed {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("offer %s escrow is %s", offer.ID, offer.EscrowStatus)
	}
	if request.Status != domain.JobRequestStatusInProgress {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("job request %s is %s", request.ID, request.Status)
	}

	proof := write.Proof
	offer.EscrowStatus = domain.EscrowStatusReleased
	offer.UpdatedAt = write.Now
	request.Status = domain.JobRequestStatusCompleted
	request.CompletionProof = &proof
	request.UpdatedAt = write.Now

	r.store.offers[offer.ID] = offer
	r.store.requests[request.ID] = request
	return request, offer, nil
}

func (r *memEscrowRepo) RecordRefundRequest(_ context.Context, write repositories.RefundRequestWrite) (domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[write.OfferID]
	if !ok {
		return domain.Offer{}, notFoundErr("offer %s not found", write.OfferID)
	}
	funded := offer.EscrowStatus == domain.EscrowStatusEscrowed
	unfunded := offer.EscrowStatus == domain.EscrowStatusNone && offer.Status == domain.OfferStatusAccepted
	if !funded && !unfunded {
		return domain.Offer{}, conflictErr("offer %s escrow is %s", offer.ID, offer.EscrowStatus)
	}
	quote := write.Quote
	offer.EscrowStatus = domain.EscrowStatusRefundPending
	offer.RefundQuote = &quote
	offer.UpdatedAt = write.Now
	r.store.offers[offer.ID] = offer
	return offer, nil
}

func (r *memEscrowRepo) FinalizeRefund(_ context.Context, write repositories.FinalizeRefundWrite) (domain.JobRequest, domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	offer, ok := r.store.offers[write.OfferID]
	if !ok {
		return domain.JobRequest{}, domain.Offer{}, notFoundErr("offer %s not found", write.OfferID)
	}
	request := r.store.requests[offer.JobRequestID]
	if offer.EscrowStatus != domain.EscrowStatusRefundPending {
		return domain.JobRequest{}, domain.Offer{}, conflictErr("offer %s escrow is %s", offer.ID, offer.EscrowStatus)
	}

	offer.EscrowStatus = domain.EscrowStatusRefunded
	offer.UpdatedAt = write.Now
	request.Status = domain.JobRequestStatusCancelled
	if offer.RefundQuote != nil && offer.RefundQuote.Reason != "" {
		reason := offer.RefundQuote.Reason
		request.CancelReason = &reason
	}
	request.UpdatedAt = write.Now

	r.store.offers[offer.ID] = offer
	r.store.requests[request.ID] = request
	return request, offer, nil
}

func (r *memEscrowRepo) ListRefundPending(_ context.Context, limit int) ([]domain.Offer, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var pending []domain.Offer
	for _, offer := range r.store.offers {
		if offer.EscrowStatus == domain.EscrowStatusRefundPending {
			pending = append(pending, offer)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

type memNegotiationEventRepo struct {
	store *memStore
}

func (r *memNegotiationEventRepo) Append(_ context.Context, event domain.NegotiationEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.trail = append(r.store.trail, event)
	return nil
}

func (r *memNegotiationEventRepo) ListByOffer(_ context.Context, offerID string, _ domain.Pagination) (domain.CursorPage[domain.NegotiationEvent], error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var items []domain.NegotiationEvent
	for _, event := range r.store.trail {
		if event.OfferID == offerID {
			items = append(items, event)
		}
	}
	return domain.CursorPage[domain.NegotiationEvent]{Items: items}, nil
}

type memCategoryRepo struct {
	store *memStore
}

func (r *memCategoryRepo) FindByID(_ context.Context, categoryID string) (domain.Category, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	category, ok := r.store.categories[categoryID]
	if !ok {
		return domain.Category{}, notFoundErr("category %s not found", categoryID)
	}
	return category, nil
}

type memReviewRepo struct {
	store *memStore
}

func (r *memReviewRepo) Insert(_ context.Context, review domain.Review) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.reviews[review.JobRequestID]; ok {
		return conflictErr("job request %s already reviewed", review.JobRequestID)
	}
	r.store.reviews[review.JobRequestID] = review
	return nil
}

func (r *memReviewRepo) FindByJobRequest(_ context.Context, requestID string) (domain.Review, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	review, ok := r.store.reviews[requestID]
	if !ok {
		return domain.Review{}, notFoundErr("no review for job request %s", requestID)
	}
	return review, nil
}

type stubGateway struct {
	mu        sync.Mutex
	confirmFn func(ctx context.Context, req payments.ConfirmRequest) (payments.PaymentDetails, error)
	refundFn  func(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error)
	lookupFn  func(ctx context.Context, reference string) (payments.PaymentDetails, error)
	confirms  []payments.ConfirmRequest
	refunds   []payments.RefundRequest
}

func (g *stubGateway) Confirm(ctx context.Context, req payments.ConfirmRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	g.confirms = append(g.confirms, req)
	g.mu.Unlock()
	if g.confirmFn != nil {
		return g.confirmFn(ctx, req)
	}
	return payments.PaymentDetails{Reference: req.Reference, Status: payments.StatusSucceeded}, nil
}

func (g *stubGateway) Refund(ctx context.Context, req payments.RefundRequest) (payments.PaymentDetails, error) {
	g.mu.Lock()
	g.refunds = append(g.refunds, req)
	g.mu.Unlock()
	if g.refundFn != nil {
		return g.refundFn(ctx, req)
	}
	return payments.PaymentDetails{Reference: req.Reference, Status: payments.StatusRefunded}, nil
}

func (g *stubGateway) Lookup(ctx context.Context, reference string) (payments.PaymentDetails, error) {
	if g.lookupFn != nil {
		return g.lookupFn(ctx, reference)
	}
	return payments.PaymentDetails{}, notFoundErr("payment %s not found", reference)
}

type captureEvents struct {
	mu     sync.Mutex
	events []notifications.Event
}

func (c *captureEvents) Publish(_ context.Context, event notifications.Event) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return fmt.Sprintf("msg-%d", len(c.events)), nil
}

func (c *captureEvents) byType(eventType string) []notifications.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []notifications.Event
	for _, event := range c.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// workflowHarness wires a workflow service over the in-memory stubs.
type workflowHarness struct {
	svc      WorkflowService
	store    *memStore
	requests *memJobRequestRepo
	offers   *memOfferRepo
	escrow   *memEscrowRepo
	gateway  *stubGateway
	events   *captureEvents
	now      time.Time
}

func newWorkflowHarness() *workflowHarness {
	store := newMemStore()
	store.categories["cat_plumbing"] = domain.Category{
		ID:     "cat_plumbing",
		Name:   "Plumbing",
		Active: true,
	}
	store.categories["cat_retired"] = domain.Category{
		ID:     "cat_retired",
		Name:   "Retired",
		Active: false,
	}

	h := &workflowHarness{
		store:    store,
		requests: &memJobRequestRepo{store: store},
		offers:   &memOfferRepo{store: store},
		escrow:   &memEscrowRepo{store: store},
		gateway:  &stubGateway{},
		events:   &captureEvents{},
		now:      time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC),
	}

	seq := 0
	svc, err := NewWorkflowService(WorkflowServiceDeps{
		JobRequests:       h.requests,
		Offers:            h.offers,
		Escrow:            h.escrow,
		NegotiationEvents: &memNegotiationEventRepo{store: store},
		Categories:        &memCategoryRepo{store: store},
		Reviews:           &memReviewRepo{store: store},
		Gateway:           h.gateway,
		Clock:             func() time.Time { return h.now },
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("%06d", seq)
		},
		Events: h.events,
	})
	if err != nil {
		panic(err)
	}
	h.svc = svc
	return h
}

func seekerPrincipal(id string) domain.Principal {
	return domain.Principal{ID: id, Roles: []string{domain.RoleSeeker}}
}

func providerPrincipal(id string) domain.Principal {
	return domain.Principal{ID: id, Roles: []string{domain.RoleProvider}}
}

func adminPrincipal(id string) domain.Principal {
	return domain.Principal{ID: id, Roles: []string{domain.RoleAdmin}}
}

// seedAssignedEscrow walks a request through create, offer, accept, and
// optionally payment so escrow tests start from a realistic state.
func (h *workflowHarness) seedAssignedEscrow(ctx context.Context, fund bool) (domain.JobRequest, domain.Offer, error) {
	seeker := seekerPrincipal("user_seeker")
	provider := providerPrincipal("user_provider")

	request, err := h.svc.CreateJobRequest(ctx, CreateJobRequestCommand{
		Actor:       seeker,
		CategoryID:  "cat_plumbing",
		Title:       "Fix kitchen sink",
		Description: "Leaking trap under the sink",
		Budget:      domain.BudgetRange{Min: 10000, Max: 20000, Currency: "EGP"},
		Deadline:    h.now.Add(72 * time.Hour),
		ScheduledAt: h.now.Add(48 * time.Hour),
		Location:    domain.Location{City: "Cairo", Area: "Maadi"},
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, err
	}

	offer, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            provider,
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 15000, Currency: "EGP"},
		Message:          "Can fix today",
		EstimatedMinutes: 90,
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, err
	}

	request, offer, err = h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, err
	}

	if fund {
		request, offer, err = h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
			Actor:            seeker,
			OfferID:          offer.ID,
			PaymentReference: "pi_test_123",
		})
		if err != nil {
			return domain.JobRequest{}, domain.Offer{}, err
		}
	}

	return request, offer, nil
}
