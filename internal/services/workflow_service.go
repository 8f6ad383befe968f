package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
	"github.com/craftlink/api/internal/payments"
	"github.com/craftlink/api/internal/platform/textutil"
	"github.com/craftlink/api/internal/repositories"
)

const (
	jobRequestIDPrefix       = "req_"
	offerIDPrefix            = "off_"
	negotiationEventIDPrefix = "neg_"
	reviewIDPrefix           = "rev_"

	maxReviewRating = 5

	defaultCancellationBatchLimit = 50
)

// WorkflowServiceDeps bundles collaborators required to construct the workflow service.
type WorkflowServiceDeps struct {
	JobRequests       repositories.JobRequestRepository
	Offers            repositories.OfferRepository
	Escrow            repositories.EscrowRepository
	NegotiationEvents repositories.NegotiationEventRepository
	Categories        repositories.CategoryRepository
	Reviews           repositories.ReviewRepository
	Gateway           payments.Gateway
	RefundPolicy      domain.RefundPolicy
	Clock             func() time.Time
	IDGenerator       func() string
	Events            notifications.Publisher
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type workflowService struct {
	jobRequests       repositories.JobRequestRepository
	offers            repositories.OfferRepository
	escrow            repositories.EscrowRepository
	negotiationEvents repositories.NegotiationEventRepository
	categories        repositories.CategoryRepository
	reviews           repositories.ReviewRepository
	gateway           payments.Gateway
	refundPolicy      domain.RefundPolicy
	clock             func() time.Time
	newID             func() string
	events            notifications.Publisher
	logger            func(context.Context, string, map[string]any)
}

var _ WorkflowService = (*workflowService)(nil)

// NewWorkflowService wires dependencies into a concrete WorkflowService implementation.
func NewWorkflowService(deps WorkflowServiceDeps) (WorkflowService, error) {
	if deps.JobRequests == nil {
		return nil, errors.New("workflow service: job request repository is required")
	}
	if deps.Offers == nil {
		return nil, errors.New("workflow service: offer repository is required")
	}
	if deps.Escrow == nil {
		return nil, errors.New("workflow service: escrow repository is required")
	}
	if deps.NegotiationEvents == nil {
		return nil, errors.New("workflow service: negotiation event repository is required")
	}
	if deps.Categories == nil {
		return nil, errors.New("workflow service: category repository is required")
	}
	if deps.Reviews == nil {
		return nil, errors.New("workflow service: review repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("workflow service: payment gateway is required")
	}

	refundPolicy := deps.RefundPolicy
	if refundPolicy.FullRefundWindow <= 0 {
		refundPolicy = domain.DefaultRefundPolicy()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	events := deps.Events
	if events == nil {
		events = notifications.NoopPublisher{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &workflowService{
		jobRequests:       deps.JobRequests,
		offers:            deps.Offers,
		escrow:            deps.Escrow,
		negotiationEvents: deps.NegotiationEvents,
		categories:        deps.Categories,
		reviews:           deps.Reviews,
		gateway:           deps.Gateway,
		refundPolicy:      refundPolicy,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: events,
		logger: logger,
	}, nil
}

func (s *workflowService) CreateJobRequest(ctx context.Context, cmd CreateJobRequestCommand) (JobRequest, error) {
	if err := Authorize(cmd.Actor, ActionCreateJobRequest, AccessSubject{SeekerID: cmd.Actor.ID}); err != nil {
		return JobRequest{}, err
	}

	title := textutil.SanitizeText(cmd.Title)
	if title == "" {
		return JobRequest{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	categoryID := strings.TrimSpace(cmd.CategoryID)
	if categoryID == "" {
		return JobRequest{}, fmt.Errorf("%w: category id is required", ErrValidation)
	}
	if err := validateBudget(cmd.Budget); err != nil {
		return JobRequest{}, err
	}
	if strings.TrimSpace(cmd.Location.City) == "" {
		return JobRequest{}, fmt.Errorf("%w: location city is required", ErrValidation)
	}

	now := s.now()
	if !cmd.Deadline.After(now) {
		return JobRequest{}, fmt.Errorf("%w: deadline must be in the future", ErrValidation)
	}
	if cmd.ScheduledAt.IsZero() || !cmd.ScheduledAt.After(now) {
		return JobRequest{}, fmt.Errorf("%w: scheduled time must be in the future", ErrValidation)
	}

	category, err := s.categories.FindByID(ctx, categoryID)
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return JobRequest{}, fmt.Errorf("%w: unknown category %q", ErrValidation, categoryID)
		}
		return JobRequest{}, mapRepositoryError(err)
	}
	if !category.Active {
		return JobRequest{}, fmt.Errorf("%w: category %q is inactive", ErrValidation, categoryID)
	}

	actorID := cmd.Actor.ID
	request := JobRequest{
		ID:          jobRequestIDPrefix + s.newID(),
		SeekerID:    actorID,
		CategoryID:  categoryID,
		Title:       title,
		Description: textutil.SanitizeText(cmd.Description),
		Budget:      cmd.Budget,
		Deadline:    cmd.Deadline.UTC(),
		ScheduledAt: cmd.ScheduledAt.UTC(),
		Location:    cmd.Location,
		Status:      domain.JobRequestStatusOpen,
		Audit: domain.JobRequestAudit{
			CreatedBy: &actorID,
			UpdatedBy: &actorID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.jobRequests.Insert(ctx, request); err != nil {
		return JobRequest{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventJobRequestCreated,
		JobRequestID: request.ID,
		ActorID:      actorID,
		OccurredAt:   now,
		Payload: map[string]any{
			"categoryId": categoryID,
			"budgetMin":  request.Budget.Min,
			"budgetMax":  request.Budget.Max,
			"currency":   request.Budget.Currency,
		},
	})

	return request, nil
}

func (s *workflowService) GetJobRequest(ctx context.Context, actor Principal, requestID string) (JobRequest, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return JobRequest{}, fmt.Errorf("%w: request id is required", ErrValidation)
	}

	request, err := s.jobRequests.FindByID(ctx, requestID)
	if err != nil {
		return JobRequest{}, mapRepositoryError(err)
	}

	if err := Authorize(actor, ActionViewJobRequest, AccessSubject{SeekerID: request.SeekerID}); err != nil {
		return JobRequest{}, err
	}

	return request, nil
}

func (s *workflowService) ListJobRequests(ctx context.Context, query ListJobRequestsQuery) (domain.CursorPage[JobRequest], error) {
	seekerID := strings.TrimSpace(query.SeekerID)
	if seekerID == "" {
		seekerID = query.Actor.ID
	}

	if err := Authorize(query.Actor, ActionListJobRequests, AccessSubject{SeekerID: seekerID}); err != nil {
		return domain.CursorPage[JobRequest]{}, err
	}

	page, err := s.jobRequests.ListBySeeker(ctx, seekerID, repositories.JobRequestListFilter{
		Status:     query.Status,
		DateRange:  domain.RangeQuery[time.Time]{From: query.From, To: query.To},
		Pagination: query.Page,
	})
	if err != nil {
		return domain.CursorPage[JobRequest]{}, mapRepositoryError(err)
	}
	return page, nil
}

func (s *workflowService) SubmitOffer(ctx context.Context, cmd SubmitOfferCommand) (Offer, error) {
	if err := Authorize(cmd.Actor, ActionSubmitOffer, AccessSubject{ProviderID: cmd.Actor.ID}); err != nil {
		return Offer{}, err
	}

	requestID := strings.TrimSpace(cmd.JobRequestID)
	if requestID == "" {
		return Offer{}, fmt.Errorf("%w: request id is required", ErrValidation)
	}
	if cmd.Price.Amount <= 0 {
		return Offer{}, fmt.Errorf("%w: offer price must be positive", ErrValidation)
	}
	if cmd.EstimatedMinutes <= 0 {
		return Offer{}, fmt.Errorf("%w: estimated duration must be positive", ErrValidation)
	}

	request, err := s.jobRequests.FindByID(ctx, requestID)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}
	if request.Status != domain.JobRequestStatusOpen {
		return Offer{}, fmt.Errorf("%w: job request %s is not open", ErrValidation, requestID)
	}
	if request.SeekerID == cmd.Actor.ID {
		return Offer{}, fmt.Errorf("%w: providers cannot offer on their own request", ErrValidation)
	}
	if !strings.EqualFold(cmd.Price.Currency, request.Budget.Currency) {
		return Offer{}, fmt.Errorf("%w: offer currency %q does not match request currency %q",
			ErrValidation, cmd.Price.Currency, request.Budget.Currency)
	}

	now := s.now()
	offer := Offer{
		ID:           offerIDPrefix + s.newID(),
		JobRequestID: requestID,
		ProviderID:   cmd.Actor.ID,
		Price: Money{
			Amount:   cmd.Price.Amount,
			Currency: strings.ToUpper(strings.TrimSpace(cmd.Price.Currency)),
		},
		Message:          textutil.SanitizeText(cmd.Message),
		EstimatedMinutes: cmd.EstimatedMinutes,
		Status:           domain.OfferStatusPending,
		EscrowStatus:     domain.EscrowStatusNone,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.offers.Insert(ctx, offer); err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventOfferSubmitted,
		JobRequestID: requestID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"amount":   offer.Price.Amount,
			"currency": offer.Price.Currency,
		},
	})

	return offer, nil
}

func (s *workflowService) ListOffers(ctx context.Context, actor Principal, requestID string) ([]Offer, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, fmt.Errorf("%w: request id is required", ErrValidation)
	}

	request, err := s.jobRequests.FindByID(ctx, requestID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	if err := Authorize(actor, ActionListOffers, AccessSubject{SeekerID: request.SeekerID}); err != nil {
		return nil, err
	}

	offers, err := s.offers.ListByJobRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepositoryError(err)
	}
	return offers, nil
}

func (s *workflowService) RejectOffer(ctx context.Context, cmd OfferActionCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionRejectOffer, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}
	if offer.Status != domain.OfferStatusPending {
		return Offer{}, fmt.Errorf("%w: offer %s is %s, only pending offers can be rejected",
			ErrValidation, offer.ID, offer.Status)
	}

	now := s.now()
	updated, err := s.offers.UpdateStatusGuarded(ctx, offer.ID, domain.OfferStatusPending, domain.OfferStatusRejected, now)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventOfferRejected,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
	})

	return updated, nil
}

func (s *workflowService) WithdrawOffer(ctx context.Context, cmd OfferActionCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionWithdrawOffer, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}
	if offer.Status != domain.OfferStatusPending {
		return Offer{}, fmt.Errorf("%w: offer %s is %s, only pending offers can be withdrawn",
			ErrValidation, offer.ID, offer.Status)
	}

	now := s.now()
	updated, err := s.offers.UpdateStatusGuarded(ctx, offer.ID, domain.OfferStatusPending, domain.OfferStatusWithdrawn, now)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventOfferWithdrawn,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
	})

	return updated, nil
}

func (s *workflowService) SubmitReview(ctx context.Context, cmd SubmitReviewCommand) (Review, error) {
	requestID := strings.TrimSpace(cmd.JobRequestID)
	if requestID == "" {
		return Review{}, fmt.Errorf("%w: request id is required", ErrValidation)
	}
	if cmd.Rating < 1 || cmd.Rating > maxReviewRating {
		return Review{}, fmt.Errorf("%w: rating must be between 1 and %d", ErrValidation, maxReviewRating)
	}

	request, err := s.jobRequests.FindByID(ctx, requestID)
	if err != nil {
		return Review{}, mapRepositoryError(err)
	}
	if err := Authorize(cmd.Actor, ActionSubmitReview, AccessSubject{SeekerID: request.SeekerID}); err != nil {
		return Review{}, err
	}
	if request.Status != domain.JobRequestStatusCompleted {
		return Review{}, fmt.Errorf("%w: job request %s is not completed", ErrValidation, requestID)
	}
	if request.AssignedProviderID == nil {
		return Review{}, fmt.Errorf("%w: job request %s has no assigned provider", ErrValidation, requestID)
	}

	now := s.now()
	review := Review{
		ID:           reviewIDPrefix + s.newID(),
		JobRequestID: requestID,
		SeekerID:     request.SeekerID,
		ProviderID:   *request.AssignedProviderID,
		Rating:       cmd.Rating,
		Comment:      textutil.SanitizeText(cmd.Comment),
		CreatedAt:    now,
	}

	if err := s.reviews.Insert(ctx, review); err != nil {
		return Review{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventReviewSubmitted,
		JobRequestID: requestID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"rating": review.Rating,
		},
	})

	return review, nil
}

func (s *workflowService) GetReview(ctx context.Context, actor Principal, requestID string) (Review, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Review{}, fmt.Errorf("%w: request id is required", ErrValidation)
	}

	request, err := s.jobRequests.FindByID(ctx, requestID)
	if err != nil {
		return Review{}, mapRepositoryError(err)
	}

	subject := AccessSubject{SeekerID: request.SeekerID}
	if request.AssignedProviderID != nil {
		subject.ProviderID = *request.AssignedProviderID
	}
	if err := Authorize(actor, ActionViewReview, subject); err != nil {
		return Review{}, err
	}

	review, err := s.reviews.FindByJobRequest(ctx, requestID)
	if err != nil {
		return Review{}, mapRepositoryError(err)
	}
	return review, nil
}

// loadPair resolves an offer and its parent job request.
func (s *workflowService) loadPair(ctx context.Context, offerID string) (JobRequest, Offer, error) {
	offerID = strings.TrimSpace(offerID)
	if offerID == "" {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer id is required", ErrValidation)
	}

	offer, err := s.offers.FindByID(ctx, offerID)
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	request, err := s.jobRequests.FindByID(ctx, offer.JobRequestID)
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	return request, offer, nil
}

func validateBudget(budget BudgetRange) error {
	if budget.Min <= 0 {
		return fmt.Errorf("%w: budget minimum must be positive", ErrValidation)
	}
	if budget.Max < budget.Min {
		return fmt.Errorf("%w: budget maximum must be at least the minimum", ErrValidation)
	}
	if strings.TrimSpace(budget.Currency) == "" {
		return fmt.Errorf("%w: budget currency is required", ErrValidation)
	}
	return nil
}

func (s *workflowService) now() time.Time {
	return s.clock()
}

func (s *workflowService) publish(ctx context.Context, event notifications.Event) {
	if _, err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "workflow.event.publish.failed", map[string]any{
			"type":    event.Type,
			"request": event.JobRequestID,
			"offer":   event.OfferID,
			"error":   err.Error(),
		})
	}
}
