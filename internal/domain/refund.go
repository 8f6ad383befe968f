package domain

import (
	"time"
)

// Default cancellation policy: a full refund when the cancellation lands at
// least FullRefundWindow ahead of the scheduled service, a partial refund of
// LatePercentage otherwise.
const (
	DefaultFullRefundWindow  = 12 * time.Hour
	DefaultLateRefundPercent = 70
	fullRefundPercent        = 100
)

// RefundPolicy parameterises ComputeRefund. The zero value is not usable;
// construct with DefaultRefundPolicy or from configuration.
type RefundPolicy struct {
	FullRefundWindow  time.Duration
	LateRefundPercent int
}

// DefaultRefundPolicy returns the policy mandated for the marketplace.
func DefaultRefundPolicy() RefundPolicy {
	return RefundPolicy{
		FullRefundWindow:  DefaultFullRefundWindow,
		LateRefundPercent: DefaultLateRefundPercent,
	}
}

// RefundComputation is the result of applying the cancellation policy.
type RefundComputation struct {
	Percentage int
	Amount     int64
}

// ComputeRefund applies the time-based cancellation policy to the full
// escrowed amount (minor units). Cancellations at or beyond the full-refund
// window before the scheduled service refund 100%; later cancellations refund
// the late percentage, truncated to the minor unit. Pure function: no clock,
// no persistence, no gateway.
func (p RefundPolicy) ComputeRefund(scheduledAt, requestedAt time.Time, amount int64) RefundComputation {
	if amount <= 0 {
		return RefundComputation{Percentage: 0, Amount: 0}
	}
	if scheduledAt.Sub(requestedAt) >= p.FullRefundWindow {
		return RefundComputation{Percentage: fullRefundPercent, Amount: amount}
	}
	pct := p.LateRefundPercent
	if pct < 0 {
		pct = 0
	}
	if pct > fullRefundPercent {
		pct = fullRefundPercent
	}
	return RefundComputation{
		Percentage: pct,
		Amount:     amount * int64(pct) / 100,
	}
}
