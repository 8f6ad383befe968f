package domain

// jobRequestTransitions is the authoritative transition table for job requests.
// Only "open" accepts new offers; leaving "open" happens exclusively through a
// guarded compare-and-set so two offers can never both win the same request.
var jobRequestTransitions = map[JobRequestStatus][]JobRequestStatus{
	JobRequestStatusOpen:       {JobRequestStatusAssigned, JobRequestStatusCancelled},
	JobRequestStatusAssigned:   {JobRequestStatusInProgress, JobRequestStatusCancelled},
	JobRequestStatusInProgress: {JobRequestStatusCompleted, JobRequestStatusCancelled},
	JobRequestStatusCompleted:  {},
	JobRequestStatusCancelled:  {},
}

var offerTransitions = map[OfferStatus][]OfferStatus{
	OfferStatusPending:   {OfferStatusAccepted, OfferStatusRejected, OfferStatusWithdrawn},
	OfferStatusAccepted:  {},
	OfferStatusRejected:  {},
	OfferStatusWithdrawn: {},
}

// escrowTransitions orders the funding states of an accepted offer. The
// pending intermediates exist so a crash between the gateway call and the
// settlement write leaves a re-drivable record instead of a stuck one.
var escrowTransitions = map[EscrowStatus][]EscrowStatus{
	EscrowStatusNone:           {EscrowStatusPaymentPending, EscrowStatusRefundPending},
	EscrowStatusPaymentPending: {EscrowStatusEscrowed, EscrowStatusNone},
	EscrowStatusEscrowed:       {EscrowStatusReleased, EscrowStatusRefundPending},
	EscrowStatusRefundPending:  {EscrowStatusRefunded},
	EscrowStatusReleased:       {},
	EscrowStatusRefunded:       {},
}

// CanTransitionJobRequest reports whether a job request may move between the two statuses.
func CanTransitionJobRequest(from, to JobRequestStatus) bool {
	for _, allowed := range jobRequestTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionOffer reports whether an offer may move between the two statuses.
func CanTransitionOffer(from, to OfferStatus) bool {
	for _, allowed := range offerTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// CanTransitionEscrow reports whether an offer's escrow may move between the two states.
func CanTransitionEscrow(from, to EscrowStatus) bool {
	for _, allowed := range escrowTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// JobRequestTerminal reports whether the status admits no further transitions.
func JobRequestTerminal(status JobRequestStatus) bool {
	return len(jobRequestTransitions[status]) == 0
}

// ValidJobRequestStatus reports whether the value belongs to the status vocabulary.
func ValidJobRequestStatus(status JobRequestStatus) bool {
	_, ok := jobRequestTransitions[status]
	return ok
}

// ValidOfferStatus reports whether the value belongs to the status vocabulary.
func ValidOfferStatus(status OfferStatus) bool {
	_, ok := offerTransitions[status]
	return ok
}

// ValidEscrowStatus reports whether the value belongs to the status vocabulary.
func ValidEscrowStatus(status EscrowStatus) bool {
	_, ok := escrowTransitions[status]
	return ok
}
