package services

import (
	"context"
	"time"

	domain "github.com/craftlink/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Principal          = domain.Principal
	Money              = domain.Money
	BudgetRange        = domain.BudgetRange
	Location           = domain.Location
	JobRequest         = domain.JobRequest
	Offer              = domain.Offer
	NegotiationTerms   = domain.NegotiationTerms
	NegotiationEvent   = domain.NegotiationEvent
	CompletionProof    = domain.CompletionProof
	Review             = domain.Review
	SystemHealthReport = domain.SystemHealthReport
)

// WorkflowService is the single mutation surface for job requests and offers.
// Every operation validates input, consults the authorisation policy table,
// applies guarded writes, and emits one domain event per state change.
type WorkflowService interface {
	CreateJobRequest(ctx context.Context, cmd CreateJobRequestCommand) (JobRequest, error)
	GetJobRequest(ctx context.Context, actor Principal, requestID string) (JobRequest, error)
	ListJobRequests(ctx context.Context, query ListJobRequestsQuery) (domain.CursorPage[JobRequest], error)

	SubmitOffer(ctx context.Context, cmd SubmitOfferCommand) (Offer, error)
	ListOffers(ctx context.Context, actor Principal, requestID string) ([]Offer, error)
	AcceptOffer(ctx context.Context, cmd AcceptOfferCommand) (JobRequest, Offer, error)
	RejectOffer(ctx context.Context, cmd OfferActionCommand) (Offer, error)
	WithdrawOffer(ctx context.Context, cmd OfferActionCommand) (Offer, error)

	UpdateNegotiation(ctx context.Context, cmd UpdateNegotiationCommand) (Offer, error)
	ConfirmNegotiation(ctx context.Context, cmd OfferActionCommand) (Offer, error)
	ResetNegotiation(ctx context.Context, cmd OfferActionCommand) (Offer, error)
	NegotiationHistory(ctx context.Context, query NegotiationHistoryQuery) (domain.CursorPage[NegotiationEvent], error)

	ProcessEscrowPayment(ctx context.Context, cmd ProcessPaymentCommand) (JobRequest, Offer, error)
	CompleteJobRequest(ctx context.Context, cmd CompleteJobRequestCommand) (JobRequest, Offer, error)
	RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Offer, error)
	ProcessCancellation(ctx context.Context, cmd ProcessCancellationCommand) (JobRequest, Offer, error)
	ProcessPendingCancellations(ctx context.Context, cmd BatchCancellationCommand) (BatchCancellationResult, error)

	SubmitReview(ctx context.Context, cmd SubmitReviewCommand) (Review, error)
	GetReview(ctx context.Context, actor Principal, requestID string) (Review, error)
}

// SystemService aggregates utility surfaces exposed by the health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Command and DTO definitions ------------------------------------------------

type CreateJobRequestCommand struct {
	Actor       Principal
	CategoryID  string
	Title       string
	Description string
	Budget      BudgetRange
	Deadline    time.Time
	ScheduledAt time.Time
	Location    Location
}

type ListJobRequestsQuery struct {
	Actor    Principal
	SeekerID string
	Status   []domain.JobRequestStatus
	From     *time.Time
	To       *time.Time
	Page     Pagination
}

type SubmitOfferCommand struct {
	Actor            Principal
	JobRequestID     string
	Price            Money
	Message          string
	EstimatedMinutes int
}

type AcceptOfferCommand struct {
	Actor        Principal
	JobRequestID string
	OfferID      string
}

// OfferActionCommand covers the single-offer operations that need no payload
// beyond the target: reject, withdraw, confirm, reset.
type OfferActionCommand struct {
	Actor   Principal
	OfferID string
}

type UpdateNegotiationCommand struct {
	Actor   Principal
	OfferID string
	Terms   NegotiationTerms
}

type NegotiationHistoryQuery struct {
	Actor   Principal
	OfferID string
	Page    Pagination
}

type ProcessPaymentCommand struct {
	Actor            Principal
	OfferID          string
	PaymentReference string
}

type CompleteJobRequestCommand struct {
	Actor       Principal
	OfferID     string
	ImageURLs   []string
	Description string
}

type RequestCancellationCommand struct {
	Actor   Principal
	OfferID string
	Reason  string
}

type ProcessCancellationCommand struct {
	Actor   Principal
	OfferID string
}

type BatchCancellationCommand struct {
	Actor Principal
	Limit int
}

// BatchCancellationFailure records one offer the batch finalizer could not settle.
type BatchCancellationFailure struct {
	OfferID string
	Reason  string
}

// BatchCancellationResult summarises a scheduled finalizer run.
type BatchCancellationResult struct {
	ProcessedOfferIDs []string
	Failures          []BatchCancellationFailure
}

type SubmitReviewCommand struct {
	Actor        Principal
	JobRequestID string
	Rating       int
	Comment      string
}
