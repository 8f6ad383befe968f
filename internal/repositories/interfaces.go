package repositories

import (
	"context"
	"time"

	domain "github.com/craftlink/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	JobRequests() JobRequestRepository
	Offers() OfferRepository
	Escrow() EscrowRepository
	NegotiationEvents() NegotiationEventRepository
	Categories() CategoryRepository
	Reviews() ReviewRepository
}

// HealthRepository evaluates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// JobRequestListFilter controls seeker-scoped job request listings.
type JobRequestListFilter struct {
	Status     []domain.JobRequestStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

// JobRequestRepository persists job request documents.
type JobRequestRepository interface {
	Insert(ctx context.Context, request domain.JobRequest) error
	FindByID(ctx context.Context, requestID string) (domain.JobRequest, error)
	ListBySeeker(ctx context.Context, seekerID string, filter JobRequestListFilter) (domain.CursorPage[domain.JobRequest], error)
}

// OfferRepository persists offer documents. Insert enforces the
// one-non-terminal-offer-per-provider invariant; status mutations are guarded
// compare-and-set writes that fail with a conflict when the expected
// pre-transition status no longer holds.
type OfferRepository interface {
	Insert(ctx context.Context, offer domain.Offer) error
	FindByID(ctx context.Context, offerID string) (domain.Offer, error)
	ListByJobRequest(ctx context.Context, requestID string) ([]domain.Offer, error)
	UpdateStatusGuarded(ctx context.Context, offerID string, expected, target domain.OfferStatus, now time.Time) (domain.Offer, error)
	SetNegotiation(ctx context.Context, offerID string, expected domain.OfferStatus, expectedNegotiatedAt *time.Time, negotiation domain.Negotiation, now time.Time) (domain.Offer, error)
}

// AcceptOfferWrite atomically promotes an offer to accepted and its job
// request to assigned, verifying both records still hold their expected
// pre-transition statuses at write time.
type AcceptOfferWrite struct {
	JobRequestID string
	OfferID      string
	ProviderID   string
	ActorID      string
	Now          time.Time
}

// SettleEscrowWrite records a confirmed gateway payment: the offer moves from
// payment_pending to escrowed with its immutable payment reference, and the
// job request from assigned to in_progress.
type SettleEscrowWrite struct {
	OfferID          string
	PaymentReference string
	Now              time.Time
}

// ReleaseEscrowWrite completes the job request with proof and releases the
// escrowed funds exactly once.
type ReleaseEscrowWrite struct {
	OfferID string
	Proof   domain.CompletionProof
	ActorID string
	Now     time.Time
}

// RefundRequestWrite parks an escrowed offer in refund_pending with the
// computed refund quote awaiting admin or scheduled finalisation.
type RefundRequestWrite struct {
	OfferID string
	Quote   domain.RefundQuote
	Now     time.Time
}

// FinalizeRefundWrite settles a pending refund: offer refunded, job request cancelled.
type FinalizeRefundWrite struct {
	OfferID string
	ActorID string
	Now     time.Time
}

// EscrowRepository owns the multi-document transitions of the escrow
// workflow. Every method runs a single transaction with explicit
// expected-status preconditions; a failed precondition surfaces as a conflict
// and writes nothing.
type EscrowRepository interface {
	AcceptOffer(ctx context.Context, write AcceptOfferWrite) (domain.JobRequest, domain.Offer, error)
	BeginEscrowPayment(ctx context.Context, offerID string, now time.Time) (domain.Offer, error)
	AbortEscrowPayment(ctx context.Context, offerID string, now time.Time) error
	SettleEscrowPayment(ctx context.Context, write SettleEscrowWrite) (domain.JobRequest, domain.Offer, error)
	ReleaseEscrow(ctx context.Context, write ReleaseEscrowWrite) (domain.JobRequest, domain.Offer, error)
	RecordRefundRequest(ctx context.Context, write RefundRequestWrite) (domain.Offer, error)
	FinalizeRefund(ctx context.Context, write FinalizeRefundWrite) (domain.JobRequest, domain.Offer, error)
	ListRefundPending(ctx context.Context, limit int) ([]domain.Offer, error)
}

// NegotiationEventRepository stores the append-only negotiation audit trail.
type NegotiationEventRepository interface {
	Append(ctx context.Context, event domain.NegotiationEvent) error
	ListByOffer(ctx context.Context, offerID string, pager domain.Pagination) (domain.CursorPage[domain.NegotiationEvent], error)
}

// CategoryRepository resolves the categories job requests reference.
type CategoryRepository interface {
	FindByID(ctx context.Context, categoryID string) (domain.Category, error)
}

// ReviewRepository persists seeker reviews, at most one per job request.
type ReviewRepository interface {
	Insert(ctx context.Context, review domain.Review) error
	FindByJobRequest(ctx context.Context, requestID string) (domain.Review, error)
}
