package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
	"github.com/craftlink/api/internal/payments"
	"github.com/craftlink/api/internal/platform/textutil"
	"github.com/craftlink/api/internal/repositories"
)

// Escrow coordination. Acceptance and every funding transition are guarded
// compare-and-set transactions; the two-phase payment write brackets the
// gateway call so a crash mid-flight leaves a re-drivable payment_pending
// record instead of a stuck one. No lock is held across gateway I/O.

func (s *workflowService) AcceptOffer(ctx context.Context, cmd AcceptOfferCommand) (JobRequest, Offer, error) {
	requestID := strings.TrimSpace(cmd.JobRequestID)
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return JobRequest{}, Offer{}, err
	}
	if requestID != "" && request.ID != requestID {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s does not belong to request %s",
			ErrNotFound, offer.ID, requestID)
	}
	if err := Authorize(cmd.Actor, ActionAcceptOffer, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return JobRequest{}, Offer{}, err
	}

	if request.Status != domain.JobRequestStatusOpen {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: job request %s is not open", ErrValidation, request.ID)
	}
	if offer.Status != domain.OfferStatusPending {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s is %s", ErrValidation, offer.ID, offer.Status)
	}
	if offer.Negotiation.Used() && !offer.Negotiation.Finalized() {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: both parties must confirm the negotiated terms before acceptance",
			ErrAgreementIncomplete)
	}

	now := s.now()
	updatedRequest, updatedOffer, err := s.escrow.AcceptOffer(ctx, repositories.AcceptOfferWrite{
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ProviderID:   offer.ProviderID,
		ActorID:      cmd.Actor.ID,
		Now:          now,
	})
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventOfferAccepted,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"providerId": offer.ProviderID,
			"amount":     offer.Price.Amount,
			"currency":   offer.Price.Currency,
		},
	})

	return updatedRequest, updatedOffer, nil
}

func (s *workflowService) ProcessEscrowPayment(ctx context.Context, cmd ProcessPaymentCommand) (JobRequest, Offer, error) {
	reference := strings.TrimSpace(cmd.PaymentReference)
	if reference == "" {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: payment reference is required", ErrValidation)
	}

	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return JobRequest{}, Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionProcessPayment, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return JobRequest{}, Offer{}, err
	}

	// Replay of an already settled payment succeeds without touching the
	// gateway; a different reference against a settled offer is a conflict.
	if offer.PaymentReference != nil {
		if *offer.PaymentReference != reference {
			return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s already settled with a different payment reference",
				ErrConflict, offer.ID)
		}
		return request, offer, nil
	}

	if offer.Status != domain.OfferStatusAccepted {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s must be accepted before payment", ErrValidation, offer.ID)
	}

	switch offer.EscrowStatus {
	case domain.EscrowStatusNone:
		if _, err := s.escrow.BeginEscrowPayment(ctx, offer.ID, s.now()); err != nil {
			return JobRequest{}, Offer{}, mapRepositoryError(err)
		}
	case domain.EscrowStatusPaymentPending:
		// Re-driving an interrupted attempt; the pending record is ours to finish.
	default:
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s escrow is %s", ErrValidation, offer.ID, offer.EscrowStatus)
	}

	if err := s.confirmEscrowPayment(ctx, offer, reference); err != nil {
		return JobRequest{}, Offer{}, err
	}

	now := s.now()
	updatedRequest, updatedOffer, err := s.escrow.SettleEscrowPayment(ctx, repositories.SettleEscrowWrite{
		OfferID:          offer.ID,
		PaymentReference: reference,
		Now:              now,
	})
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventEscrowFunded,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"paymentReference": reference,
			"amount":           offer.Price.Amount,
			"currency":         offer.Price.Currency,
		},
	})

	return updatedRequest, updatedOffer, nil
}

// confirmEscrowPayment drives the gateway side of the two-phase write. A
// payment the gateway already captured is settled without a second Confirm.
func (s *workflowService) confirmEscrowPayment(ctx context.Context, offer Offer, reference string) error {
	if details, err := s.gateway.Lookup(ctx, reference); err == nil && details.Status == payments.StatusSucceeded {
		return nil
	}

	details, err := s.gateway.Confirm(ctx, payments.ConfirmRequest{
		Reference:      reference,
		IdempotencyKey: offer.ID + ":" + reference,
		Metadata: map[string]string{
			"offerId":      offer.ID,
			"jobRequestId": offer.JobRequestID,
		},
	})
	if err != nil {
		s.abortEscrowPayment(ctx, offer.ID)
		return fmt.Errorf("%w: payment confirmation failed: %v", ErrUpstreamFailure, err)
	}

	switch details.Status {
	case payments.StatusSucceeded:
		return nil
	case payments.StatusFailed:
		s.abortEscrowPayment(ctx, offer.ID)
		return fmt.Errorf("%w: gateway declined payment %s", ErrValidation, reference)
	default:
		// Still pending at the gateway. Leave payment_pending so the seeker can retry.
		return fmt.Errorf("%w: payment %s not captured yet", ErrUpstreamFailure, reference)
	}
}

func (s *workflowService) abortEscrowPayment(ctx context.Context, offerID string) {
	if err := s.escrow.AbortEscrowPayment(ctx, offerID, s.now()); err != nil {
		s.logger(ctx, "workflow.escrow.abort.failed", map[string]any{
			"offer": offerID,
			"error": err.Error(),
		})
	}
}

func (s *workflowService) CompleteJobRequest(ctx context.Context, cmd CompleteJobRequestCommand) (JobRequest, Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return JobRequest{}, Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionCompleteRequest, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return JobRequest{}, Offer{}, err
	}

	// Repeated completion is a no-op once the funds were released.
	if offer.EscrowStatus == domain.EscrowStatusReleased && request.Status == domain.JobRequestStatusCompleted {
		return request, offer, nil
	}

	if request.Status != domain.JobRequestStatusInProgress {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: job request %s is not in progress", ErrValidation, request.ID)
	}
	if offer.EscrowStatus != domain.EscrowStatusEscrowed {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s escrow is %s, funds must be escrowed before release",
			ErrValidation, offer.ID, offer.EscrowStatus)
	}

	description := textutil.SanitizeText(cmd.Description)
	if description == "" && len(cmd.ImageURLs) == 0 {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: completion proof requires a description or at least one image", ErrValidation)
	}

	now := s.now()
	updatedRequest, updatedOffer, err := s.escrow.ReleaseEscrow(ctx, repositories.ReleaseEscrowWrite{
		OfferID: offer.ID,
		Proof: CompletionProof{
			ImageURLs:   cmd.ImageURLs,
			Description: description,
			CompletedAt: now,
		},
		ActorID: cmd.Actor.ID,
		Now:     now,
	})
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventServiceCompleted,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"providerId": offer.ProviderID,
		},
	})

	return updatedRequest, updatedOffer, nil
}

func (s *workflowService) RequestCancellation(ctx context.Context, cmd RequestCancellationCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionRequestCancel, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}

	now := s.now()
	var refund domain.RefundComputation
	switch {
	case offer.EscrowStatus == domain.EscrowStatusRefundPending:
		return offer, nil
	case offer.EscrowStatus == domain.EscrowStatusEscrowed:
		refund = s.refundPolicy.ComputeRefund(request.ScheduledAt, now, offer.Price.Amount)
	case offer.EscrowStatus == domain.EscrowStatusNone && offer.Status == domain.OfferStatusAccepted:
		// Accepted but never funded. A zero-amount quote still routes the
		// pair through the finalizer so the request ends cancelled.
	default:
		return Offer{}, fmt.Errorf("%w: offer %s escrow is %s, cancellation requires an assigned or funded offer",
			ErrValidation, offer.ID, offer.EscrowStatus)
	}

	updated, err := s.escrow.RecordRefundRequest(ctx, repositories.RefundRequestWrite{
		OfferID: offer.ID,
		Quote: domain.RefundQuote{
			Percentage:  refund.Percentage,
			Amount:      refund.Amount,
			Currency:    offer.Price.Currency,
			Reason:      textutil.SanitizeText(cmd.Reason),
			RequestedBy: cmd.Actor.ID,
			RequestedAt: now,
		},
		Now: now,
	})
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventCancellationRequested,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"refundPercentage": refund.Percentage,
			"refundAmount":     refund.Amount,
			"currency":         offer.Price.Currency,
		},
	})

	return updated, nil
}

func (s *workflowService) ProcessCancellation(ctx context.Context, cmd ProcessCancellationCommand) (JobRequest, Offer, error) {
	if err := Authorize(cmd.Actor, ActionProcessCancel, AccessSubject{}); err != nil {
		return JobRequest{}, Offer{}, err
	}

	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return JobRequest{}, Offer{}, err
	}

	// Repeated processing of a finalised cancellation is a no-op.
	if offer.EscrowStatus == domain.EscrowStatusRefunded && request.Status == domain.JobRequestStatusCancelled {
		return request, offer, nil
	}

	if offer.EscrowStatus != domain.EscrowStatusRefundPending {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s escrow is %s, no refund is pending",
			ErrValidation, offer.ID, offer.EscrowStatus)
	}
	if offer.RefundQuote == nil {
		return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s has no stored refund quote", ErrValidation, offer.ID)
	}

	if offer.RefundQuote.Amount > 0 {
		if offer.PaymentReference == nil {
			return JobRequest{}, Offer{}, fmt.Errorf("%w: offer %s has no payment reference to refund against",
				ErrValidation, offer.ID)
		}
		amount := offer.RefundQuote.Amount
		if _, err := s.gateway.Refund(ctx, payments.RefundRequest{
			Reference:      *offer.PaymentReference,
			Amount:         &amount,
			Reason:         offer.RefundQuote.Reason,
			IdempotencyKey: offer.ID + ":refund",
			Metadata: map[string]string{
				"offerId":      offer.ID,
				"jobRequestId": offer.JobRequestID,
			},
		}); err != nil {
			// refund_pending survives so the finalizer can retry.
			return JobRequest{}, Offer{}, fmt.Errorf("%w: gateway refund failed: %v", ErrUpstreamFailure, err)
		}
	}

	now := s.now()
	updatedRequest, updatedOffer, err := s.escrow.FinalizeRefund(ctx, repositories.FinalizeRefundWrite{
		OfferID: offer.ID,
		ActorID: cmd.Actor.ID,
		Now:     now,
	})
	if err != nil {
		return JobRequest{}, Offer{}, mapRepositoryError(err)
	}

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventCancellationProcessed,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"refundPercentage": offer.RefundQuote.Percentage,
			"refundAmount":     offer.RefundQuote.Amount,
			"currency":         offer.RefundQuote.Currency,
		},
	})

	return updatedRequest, updatedOffer, nil
}

func (s *workflowService) ProcessPendingCancellations(ctx context.Context, cmd BatchCancellationCommand) (BatchCancellationResult, error) {
	if err := Authorize(cmd.Actor, ActionProcessCancel, AccessSubject{}); err != nil {
		return BatchCancellationResult{}, err
	}

	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultCancellationBatchLimit
	}

	pending, err := s.escrow.ListRefundPending(ctx, limit)
	if err != nil {
		return BatchCancellationResult{}, mapRepositoryError(err)
	}

	result := BatchCancellationResult{}
	for _, offer := range pending {
		if _, _, err := s.ProcessCancellation(ctx, ProcessCancellationCommand{
			Actor:   cmd.Actor,
			OfferID: offer.ID,
		}); err != nil {
			result.Failures = append(result.Failures, BatchCancellationFailure{
				OfferID: offer.ID,
				Reason:  err.Error(),
			})
			s.logger(ctx, "workflow.cancellation.batch.failed", map[string]any{
				"offer": offer.ID,
				"error": err.Error(),
			})
			continue
		}
		result.ProcessedOfferIDs = append(result.ProcessedOfferIDs, offer.ID)
	}

	return result, nil
}
