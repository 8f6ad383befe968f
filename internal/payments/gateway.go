package payments

import (
	"context"
	"time"
)

// Status enumerates the normalised payment states reported by the gateway.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway holds the funds.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been fully refunded.
	StatusRefunded Status = "refunded"
)

// ConfirmRequest asks the gateway to confirm the escrow payment intent.
type ConfirmRequest struct {
	Reference      string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest asks the gateway to return part or all of a held payment.
type RefundRequest struct {
	Reference      string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// PaymentDetails normalises gateway specific fields for storage and replay checks.
type PaymentDetails struct {
	Reference  string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
}

// Gateway is the payment provider contract used by the escrow workflow.
// Confirm and Refund must be safe to retry with the same idempotency key.
type Gateway interface {
	Confirm(ctx context.Context, req ConfirmRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	Lookup(ctx context.Context, reference string) (PaymentDetails, error)
}
