package domain

import "testing"

func TestJobRequestTransitions(t *testing.T) {
	cases := []struct {
		from, to JobRequestStatus
		want     bool
	}{
		{JobRequestStatusOpen, JobRequestStatusAssigned, true},
		{JobRequestStatusOpen, JobRequestStatusCancelled, true},
		{JobRequestStatusOpen, JobRequestStatusInProgress, false},
		{JobRequestStatusAssigned, JobRequestStatusInProgress, true},
		{JobRequestStatusAssigned, JobRequestStatusCancelled, true},
		{JobRequestStatusInProgress, JobRequestStatusCompleted, true},
		{JobRequestStatusInProgress, JobRequestStatusCancelled, true},
		{JobRequestStatusCompleted, JobRequestStatusCancelled, false},
		{JobRequestStatusCancelled, JobRequestStatusOpen, false},
	}
	for _, tc := range cases {
		if got := CanTransitionJobRequest(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionJobRequest(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOfferTransitions(t *testing.T) {
	cases := []struct {
		from, to OfferStatus
		want     bool
	}{
		{OfferStatusPending, OfferStatusAccepted, true},
		{OfferStatusPending, OfferStatusRejected, true},
		{OfferStatusPending, OfferStatusWithdrawn, true},
		{OfferStatusAccepted, OfferStatusWithdrawn, false},
		{OfferStatusRejected, OfferStatusPending, false},
		{OfferStatusWithdrawn, OfferStatusAccepted, false},
	}
	for _, tc := range cases {
		if got := CanTransitionOffer(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionOffer(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestEscrowTransitions(t *testing.T) {
	cases := []struct {
		from, to EscrowStatus
		want     bool
	}{
		{EscrowStatusNone, EscrowStatusPaymentPending, true},
		{EscrowStatusPaymentPending, EscrowStatusEscrowed, true},
		{EscrowStatusPaymentPending, EscrowStatusNone, true},
		{EscrowStatusEscrowed, EscrowStatusReleased, true},
		{EscrowStatusEscrowed, EscrowStatusRefundPending, true},
		{EscrowStatusRefundPending, EscrowStatusRefunded, true},
		{EscrowStatusNone, EscrowStatusRefundPending, true},
		{EscrowStatusReleased, EscrowStatusRefunded, false},
		{EscrowStatusRefunded, EscrowStatusEscrowed, false},
		{EscrowStatusNone, EscrowStatusEscrowed, false},
	}
	for _, tc := range cases {
		if got := CanTransitionEscrow(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransitionEscrow(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOfferTerminal(t *testing.T) {
	if (Offer{Status: OfferStatusPending, EscrowStatus: EscrowStatusNone}).Terminal() {
		t.Error("pending offer should not be terminal")
	}
	if !(Offer{Status: OfferStatusRejected, EscrowStatus: EscrowStatusNone}).Terminal() {
		t.Error("rejected offer should be terminal")
	}
	if !(Offer{Status: OfferStatusAccepted, EscrowStatus: EscrowStatusReleased}).Terminal() {
		t.Error("released offer should be terminal")
	}
	if !(Offer{Status: OfferStatusAccepted, EscrowStatus: EscrowStatusRefunded}).Terminal() {
		t.Error("refunded offer should be terminal")
	}
	if (Offer{Status: OfferStatusAccepted, EscrowStatus: EscrowStatusEscrowed}).Terminal() {
		t.Error("escrowed offer should not be terminal")
	}
}
