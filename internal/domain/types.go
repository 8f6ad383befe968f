package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the token for the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Role constants used when evaluating authorisation policies.
const (
	RoleSeeker   = "seeker"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

// Principal identifies the authenticated actor performing an operation.
type Principal struct {
	ID    string
	Roles []string
}

// HasRole reports whether the principal carries the given role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal may exercise admin overrides.
func (p Principal) IsAdmin() bool {
	return p.HasRole(RoleAdmin) || p.HasRole(RoleSystem)
}

// Money is an amount in the currency's minor unit.
type Money struct {
	Amount   int64
	Currency string
}

// BudgetRange bounds the price a seeker is willing to pay, in minor units.
type BudgetRange struct {
	Min      int64
	Max      int64
	Currency string
}

// Location describes where the requested service takes place.
type Location struct {
	City    string
	Area    string
	Address string
	Lat     *float64
	Lng     *float64
}

// Category is a referenced service category; job requests may only reference active ones.
type Category struct {
	ID        string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobRequestStatus enumerates valid lifecycle states for job requests.
type JobRequestStatus string

const (
	// JobRequestStatusOpen indicates the request accepts new offers.
	JobRequestStatusOpen JobRequestStatus = "open"
	// JobRequestStatusAssigned indicates an offer was accepted and escrow funding is awaited.
	JobRequestStatusAssigned JobRequestStatus = "assigned"
	// JobRequestStatusInProgress indicates escrow is funded and the service is underway.
	JobRequestStatusInProgress JobRequestStatus = "in_progress"
	// JobRequestStatusCompleted indicates the service finished and funds were released.
	JobRequestStatusCompleted JobRequestStatus = "completed"
	// JobRequestStatusCancelled indicates the request was cancelled and any escrow refunded.
	JobRequestStatusCancelled JobRequestStatus = "cancelled"
)

// CompletionProof captures the evidence recorded when a job request completes.
type CompletionProof struct {
	ImageURLs   []string
	Description string
	CompletedAt time.Time
}

// JobRequestAudit tracks the actors behind create/update mutations.
type JobRequestAudit struct {
	CreatedBy *string
	UpdatedBy *string
}

// JobRequest is a seeker's posted task seeking providers.
type JobRequest struct {
	ID                 string
	SeekerID           string
	CategoryID         string
	Title              string
	Description        string
	Budget             BudgetRange
	Deadline           time.Time
	ScheduledAt        time.Time
	Location           Location
	Status             JobRequestStatus
	AssignedProviderID *string
	AssignedOfferID    *string
	CompletionProof    *CompletionProof
	CancelReason       *string
	Audit              JobRequestAudit
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OfferStatus enumerates valid lifecycle states for offers.
type OfferStatus string

const (
	// OfferStatusPending indicates the offer awaits a seeker decision.
	OfferStatusPending OfferStatus = "pending"
	// OfferStatusAccepted indicates the seeker accepted the offer.
	OfferStatusAccepted OfferStatus = "accepted"
	// OfferStatusRejected indicates the seeker rejected the offer.
	OfferStatusRejected OfferStatus = "rejected"
	// OfferStatusWithdrawn indicates the provider withdrew the offer before acceptance.
	OfferStatusWithdrawn OfferStatus = "withdrawn"
)

// EscrowStatus enumerates the escrow funding states of an accepted offer.
type EscrowStatus string

const (
	// EscrowStatusNone indicates no payment activity has occurred.
	EscrowStatusNone EscrowStatus = "none"
	// EscrowStatusPaymentPending indicates a gateway confirmation is in flight.
	EscrowStatusPaymentPending EscrowStatus = "payment_pending"
	// EscrowStatusEscrowed indicates funds are held by the gateway.
	EscrowStatusEscrowed EscrowStatus = "escrowed"
	// EscrowStatusReleased indicates funds were released to the provider.
	EscrowStatusReleased EscrowStatus = "released"
	// EscrowStatusRefundPending indicates a cancellation awaits refund finalisation.
	EscrowStatusRefundPending EscrowStatus = "refund_pending"
	// EscrowStatusRefunded indicates the stored refund was issued to the seeker.
	EscrowStatusRefunded EscrowStatus = "refunded"
)

// ScheduleSlot is one of the concrete service windows proposed during negotiation.
type ScheduleSlot struct {
	Start time.Time
	End   time.Time
}

// NegotiationTerms are the mutable commercial terms under two-party negotiation.
type NegotiationTerms struct {
	Price     *Money
	Materials string
	Scope     string
	Slot      *ScheduleSlot
}

// Negotiation tracks proposed terms plus the two independent confirmation flags.
// Any term update resets both flags; confirming sets only the caller's flag.
type Negotiation struct {
	Terms             NegotiationTerms
	SeekerConfirmed   bool
	ProviderConfirmed bool
	UpdatedAt         *time.Time
}

// Used reports whether either party has engaged the negotiation handshake.
func (n Negotiation) Used() bool {
	return n.UpdatedAt != nil || n.SeekerConfirmed || n.ProviderConfirmed
}

// Finalized reports whether both parties have confirmed the current terms.
func (n Negotiation) Finalized() bool {
	return n.SeekerConfirmed && n.ProviderConfirmed
}

// RefundQuote stores the refund computed when a cancellation was requested.
type RefundQuote struct {
	Percentage  int
	Amount      int64
	Currency    string
	Reason      string
	RequestedBy string
	RequestedAt time.Time
}

// Offer is a provider's priced proposal against a job request.
type Offer struct {
	ID               string
	JobRequestID     string
	ProviderID       string
	Price            Money
	Message          string
	EstimatedMinutes int
	Negotiation      Negotiation
	Status           OfferStatus
	EscrowStatus     EscrowStatus
	PaymentReference *string
	RefundQuote      *RefundQuote
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Terminal reports whether the offer can no longer change state.
func (o Offer) Terminal() bool {
	switch {
	case o.Status == OfferStatusRejected, o.Status == OfferStatusWithdrawn:
		return true
	case o.EscrowStatus == EscrowStatusReleased, o.EscrowStatus == EscrowStatusRefunded:
		return true
	}
	return false
}

// NegotiationAction enumerates the recorded negotiation audit actions.
type NegotiationAction string

const (
	// NegotiationActionProposed records a term update by either party.
	NegotiationActionProposed NegotiationAction = "proposed"
	// NegotiationActionConfirmed records a single-party confirmation.
	NegotiationActionConfirmed NegotiationAction = "confirmed"
	// NegotiationActionReset records an explicit confirmation reset.
	NegotiationActionReset NegotiationAction = "reset"
)

// NegotiationEvent is one entry of the append-only negotiation audit trail.
type NegotiationEvent struct {
	ID         string
	OfferID    string
	ActorID    string
	ActorRole  string
	Action     NegotiationAction
	Terms      NegotiationTerms
	OccurredAt time.Time
}

// Review is the seeker's rating of a completed job request.
type Review struct {
	ID           string
	JobRequestID string
	SeekerID     string
	ProviderID   string
	Rating       int
	Comment      string
	CreatedAt    time.Time
}
