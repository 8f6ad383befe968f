package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
	"github.com/craftlink/api/internal/payments"
)

func TestAcceptOfferAssignsSingleWinner(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	request, err := h.svc.CreateJobRequest(ctx, CreateJobRequestCommand{
		Actor:       seeker,
		CategoryID:  "cat_plumbing",
		Title:       "Bathroom repaint",
		Budget:      domain.BudgetRange{Min: 10000, Max: 20000, Currency: "EGP"},
		Deadline:    h.now.Add(96 * time.Hour),
		ScheduledAt: h.now.Add(48 * time.Hour),
		Location:    domain.Location{City: "Cairo"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	offerA, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            providerPrincipal("provider_a"),
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 15000, Currency: "EGP"},
		EstimatedMinutes: 120,
	})
	if err != nil {
		t.Fatalf("submit offer a: %v", err)
	}
	offerB, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            providerPrincipal("provider_b"),
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 18000, Currency: "EGP"},
		EstimatedMinutes: 90,
	})
	if err != nil {
		t.Fatalf("submit offer b: %v", err)
	}

	updatedRequest, updatedOffer, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offerA.ID,
	})
	if err != nil {
		t.Fatalf("accept offer a: %v", err)
	}
	if updatedRequest.Status != domain.JobRequestStatusAssigned {
		t.Fatalf("expected request assigned, got %s", updatedRequest.Status)
	}
	if updatedOffer.Status != domain.OfferStatusAccepted {
		t.Fatalf("expected offer accepted, got %s", updatedOffer.Status)
	}
	if updatedRequest.AssignedProviderID == nil || *updatedRequest.AssignedProviderID != "provider_a" {
		t.Fatalf("expected provider_a assigned, got %v", updatedRequest.AssignedProviderID)
	}

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offerB.ID,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error accepting a second offer, got %v", err)
	}

	// The losing offer stays pending and inert.
	remaining, err := h.offers.FindByID(ctx, offerB.ID)
	if err != nil {
		t.Fatalf("find offer b: %v", err)
	}
	if remaining.Status != domain.OfferStatusPending {
		t.Fatalf("expected offer b still pending, got %s", remaining.Status)
	}
}

func TestAcceptOfferLostRaceSurfacesConflict(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	request, _, err := h.seedAssignedEscrow(ctx, false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Request already assigned, so a late submission is rejected at read time.
	if _, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            providerPrincipal("provider_late"),
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 18000, Currency: "EGP"},
		EstimatedMinutes: 90,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error on late submit, got %v", err)
	}

	// Simulate the race: the service reads a stale open request while the
	// guarded write sees the assigned one.
	stale := h.store.requests[request.ID]
	stale.Status = domain.JobRequestStatusOpen
	h.requests.findFn = func(context.Context, string) (domain.JobRequest, error) {
		return stale, nil
	}
	h.store.mu.Lock()
	raceOffer := domain.Offer{
		ID:           "off_race",
		JobRequestID: request.ID,
		ProviderID:   "provider_race",
		Price:        domain.Money{Amount: 17000, Currency: "EGP"},
		Status:       domain.OfferStatusPending,
		EscrowStatus: domain.EscrowStatusNone,
	}
	h.store.offers[raceOffer.ID] = raceOffer
	h.store.mu.Unlock()

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      raceOffer.ID,
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict from guarded write, got %v", err)
	}
}

func TestAcceptOfferRequiresFinalizedNegotiation(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")
	provider := providerPrincipal("user_provider")

	request, err := h.svc.CreateJobRequest(ctx, CreateJobRequestCommand{
		Actor:       seeker,
		CategoryID:  "cat_plumbing",
		Title:       "Install water heater",
		Budget:      domain.BudgetRange{Min: 10000, Max: 20000, Currency: "EGP"},
		Deadline:    h.now.Add(96 * time.Hour),
		ScheduledAt: h.now.Add(48 * time.Hour),
		Location:    domain.Location{City: "Giza"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	offer, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            provider,
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 16000, Currency: "EGP"},
		EstimatedMinutes: 60,
	})
	if err != nil {
		t.Fatalf("submit offer: %v", err)
	}

	if _, err := h.svc.UpdateNegotiation(ctx, UpdateNegotiationCommand{
		Actor:   provider,
		OfferID: offer.ID,
		Terms: domain.NegotiationTerms{
			Price: &domain.Money{Amount: 15500, Currency: "EGP"},
			Scope: "heater plus valve replacement",
		},
	}); err != nil {
		t.Fatalf("update negotiation: %v", err)
	}

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
	}); !errors.Is(err, ErrAgreementIncomplete) {
		t.Fatalf("expected agreement incomplete, got %v", err)
	}

	if _, err := h.svc.ConfirmNegotiation(ctx, OfferActionCommand{Actor: seeker, OfferID: offer.ID}); err != nil {
		t.Fatalf("seeker confirm: %v", err)
	}

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
	}); !errors.Is(err, ErrAgreementIncomplete) {
		t.Fatalf("expected agreement incomplete with one confirmation, got %v", err)
	}

	if _, err := h.svc.ConfirmNegotiation(ctx, OfferActionCommand{Actor: provider, OfferID: offer.ID}); err != nil {
		t.Fatalf("provider confirm: %v", err)
	}

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
	}); err != nil {
		t.Fatalf("accept after both confirmations: %v", err)
	}
}

func TestProcessEscrowPaymentFundsEscrow(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	request, offer, err := h.seedAssignedEscrow(ctx, false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	updatedRequest, updatedOffer, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seekerPrincipal("user_seeker"),
		OfferID:          offer.ID,
		PaymentReference: "pi_fund_1",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if updatedOffer.EscrowStatus != domain.EscrowStatusEscrowed {
		t.Fatalf("expected escrowed, got %s", updatedOffer.EscrowStatus)
	}
	if updatedOffer.PaymentReference == nil || *updatedOffer.PaymentReference != "pi_fund_1" {
		t.Fatalf("expected stored reference pi_fund_1, got %v", updatedOffer.PaymentReference)
	}
	if updatedRequest.Status != domain.JobRequestStatusInProgress {
		t.Fatalf("expected request in_progress, got %s", updatedRequest.Status)
	}
	if updatedRequest.ID != request.ID {
		t.Fatalf("unexpected request id %s", updatedRequest.ID)
	}

	if len(h.gateway.confirms) != 1 {
		t.Fatalf("expected one gateway confirm, got %d", len(h.gateway.confirms))
	}
	confirm := h.gateway.confirms[0]
	if confirm.IdempotencyKey != offer.ID+":pi_fund_1" {
		t.Fatalf("unexpected idempotency key %q", confirm.IdempotencyKey)
	}

	if funded := h.events.byType(notifications.EventEscrowFunded); len(funded) != 1 {
		t.Fatalf("expected one escrow.funded event, got %d", len(funded))
	}
}

func TestProcessEscrowPaymentIdempotentReplay(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	replayRequest, replayOffer, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seeker,
		OfferID:          offer.ID,
		PaymentReference: "pi_test_123",
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replayOffer.EscrowStatus != domain.EscrowStatusEscrowed {
		t.Fatalf("expected escrowed after replay, got %s", replayOffer.EscrowStatus)
	}
	if replayRequest.Status != domain.JobRequestStatusInProgress {
		t.Fatalf("expected in_progress after replay, got %s", replayRequest.Status)
	}
	if len(h.gateway.confirms) != 1 {
		t.Fatalf("expected replay to skip the gateway, got %d confirms", len(h.gateway.confirms))
	}

	if _, _, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seeker,
		OfferID:          offer.ID,
		PaymentReference: "pi_other_999",
	}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for a different reference, got %v", err)
	}
}

func TestProcessEscrowPaymentGatewayFailureIsRecoverable(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	_, offer, err := h.seedAssignedEscrow(ctx, false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	h.gateway.confirmFn = func(context.Context, payments.ConfirmRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, errors.New("gateway timeout")
	}

	if _, _, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seeker,
		OfferID:          offer.ID,
		PaymentReference: "pi_retry_1",
	}); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	after, err := h.offers.FindByID(ctx, offer.ID)
	if err != nil {
		t.Fatalf("find offer: %v", err)
	}
	if after.EscrowStatus != domain.EscrowStatusNone {
		t.Fatalf("expected escrow rolled back to none, got %s", after.EscrowStatus)
	}
	if after.PaymentReference != nil {
		t.Fatalf("expected no payment reference after failure, got %v", after.PaymentReference)
	}

	h.gateway.confirmFn = nil
	if _, _, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seeker,
		OfferID:          offer.ID,
		PaymentReference: "pi_retry_1",
	}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestCompleteJobRequestReleasesExactlyOnce(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	request, released, err := h.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:       seeker,
		OfferID:     offer.ID,
		ImageURLs:   []string{"https://cdn.example.com/proof-1.jpg"},
		Description: "Sink repaired and tested",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if request.Status != domain.JobRequestStatusCompleted {
		t.Fatalf("expected completed, got %s", request.Status)
	}
	if released.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected released, got %s", released.EscrowStatus)
	}
	if request.CompletionProof == nil || request.CompletionProof.Description != "Sink repaired and tested" {
		t.Fatalf("expected completion proof stored, got %+v", request.CompletionProof)
	}

	// Second completion is a no-op, not a second release.
	again, againOffer, err := h.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:       seeker,
		OfferID:     offer.ID,
		Description: "duplicate",
	})
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if again.Status != domain.JobRequestStatusCompleted || againOffer.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected unchanged terminal state, got %s/%s", again.Status, againOffer.EscrowStatus)
	}
	if completed := h.events.byType(notifications.EventServiceCompleted); len(completed) != 1 {
		t.Fatalf("expected one completion event, got %d", len(completed))
	}
}

func TestCompleteJobRequestByAssignedProvider(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	request, released, err := h.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:       providerPrincipal("user_provider"),
		OfferID:     offer.ID,
		ImageURLs:   []string{"https://cdn.example.com/proof-2.jpg"},
		Description: "Job done, photos attached",
	})
	if err != nil {
		t.Fatalf("provider complete: %v", err)
	}
	if request.Status != domain.JobRequestStatusCompleted {
		t.Fatalf("expected completed, got %s", request.Status)
	}
	if released.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("expected released, got %s", released.EscrowStatus)
	}

	// Someone outside the pair still cannot close the job.
	h2 := newWorkflowHarness()
	_, offer2, err := h2.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := h2.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:       providerPrincipal("user_other"),
		OfferID:     offer2.ID,
		Description: "not my job",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for stranger, got %v", err)
	}
}

func TestCompleteJobRequestRequiresProof(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, _, err := h.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:   seekerPrincipal("user_seeker"),
		OfferID: offer.ID,
	}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error without proof, got %v", err)
	}
}

func TestRequestCancellationStoresQuote(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	// Scheduled 48h out; cancellation lands well before the 12h cutoff.
	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	updated, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seeker,
		OfferID: offer.ID,
		Reason:  "found another provider",
	})
	if err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if updated.EscrowStatus != domain.EscrowStatusRefundPending {
		t.Fatalf("expected refund_pending, got %s", updated.EscrowStatus)
	}
	if updated.RefundQuote == nil {
		t.Fatal("expected refund quote stored")
	}
	if updated.RefundQuote.Percentage != 100 || updated.RefundQuote.Amount != 15000 {
		t.Fatalf("expected full refund quote, got %d%% / %d", updated.RefundQuote.Percentage, updated.RefundQuote.Amount)
	}

	// Repeat request is idempotent.
	if _, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seeker,
		OfferID: offer.ID,
		Reason:  "again",
	}); err != nil {
		t.Fatalf("repeat cancellation request: %v", err)
	}
}

func TestRequestCancellationLateQuotesPartialRefund(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Move the clock to 5h before the scheduled slot.
	h.now = h.now.Add(43 * time.Hour)

	updated, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seekerPrincipal("user_seeker"),
		OfferID: offer.ID,
		Reason:  "provider unreachable",
	})
	if err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if updated.RefundQuote.Percentage != 70 {
		t.Fatalf("expected 70%% refund, got %d%%", updated.RefundQuote.Percentage)
	}
	if updated.RefundQuote.Amount != 10500 {
		t.Fatalf("expected refund amount 10500, got %d", updated.RefundQuote.Amount)
	}
}

func TestRequestCancellationBeforeFundingQuotesZero(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	// Assigned but never funded: no payment, nothing to refund.
	_, offer, err := h.seedAssignedEscrow(ctx, false)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	updated, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seekerPrincipal("user_seeker"),
		OfferID: offer.ID,
		Reason:  "postponing the renovation",
	})
	if err != nil {
		t.Fatalf("request cancellation: %v", err)
	}
	if updated.EscrowStatus != domain.EscrowStatusRefundPending {
		t.Fatalf("expected refund_pending, got %s", updated.EscrowStatus)
	}
	if updated.RefundQuote == nil || updated.RefundQuote.Amount != 0 {
		t.Fatalf("expected zero-amount quote, got %+v", updated.RefundQuote)
	}

	request, processed, err := h.svc.ProcessCancellation(ctx, ProcessCancellationCommand{
		Actor:   adminPrincipal("admin_1"),
		OfferID: offer.ID,
	})
	if err != nil {
		t.Fatalf("process cancellation: %v", err)
	}
	if processed.EscrowStatus != domain.EscrowStatusRefunded {
		t.Fatalf("expected refunded, got %s", processed.EscrowStatus)
	}
	if request.Status != domain.JobRequestStatusCancelled {
		t.Fatalf("expected cancelled, got %s", request.Status)
	}
	if len(h.gateway.refunds) != 0 {
		t.Fatalf("expected no gateway refund for unfunded offer, got %d", len(h.gateway.refunds))
	}
}

func TestProcessCancellationRefundsAndCancels(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("user_seeker")

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seeker,
		OfferID: offer.ID,
		Reason:  "changed plans",
	}); err != nil {
		t.Fatalf("request cancellation: %v", err)
	}

	if _, _, err := h.svc.ProcessCancellation(ctx, ProcessCancellationCommand{
		Actor:   seeker,
		OfferID: offer.ID,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for non-admin, got %v", err)
	}

	request, processed, err := h.svc.ProcessCancellation(ctx, ProcessCancellationCommand{
		Actor:   adminPrincipal("admin_1"),
		OfferID: offer.ID,
	})
	if err != nil {
		t.Fatalf("process cancellation: %v", err)
	}
	if processed.EscrowStatus != domain.EscrowStatusRefunded {
		t.Fatalf("expected refunded, got %s", processed.EscrowStatus)
	}
	if request.Status != domain.JobRequestStatusCancelled {
		t.Fatalf("expected cancelled, got %s", request.Status)
	}
	if request.CancelReason == nil || *request.CancelReason != "changed plans" {
		t.Fatalf("expected cancel reason recorded, got %v", request.CancelReason)
	}

	if len(h.gateway.refunds) != 1 {
		t.Fatalf("expected one gateway refund, got %d", len(h.gateway.refunds))
	}
	refund := h.gateway.refunds[0]
	if refund.Reference != "pi_test_123" {
		t.Fatalf("expected refund against pi_test_123, got %s", refund.Reference)
	}
	if refund.Amount == nil || *refund.Amount != 15000 {
		t.Fatalf("expected full refund amount, got %v", refund.Amount)
	}

	// Re-processing the settled cancellation changes nothing.
	if _, _, err := h.svc.ProcessCancellation(ctx, ProcessCancellationCommand{
		Actor:   adminPrincipal("admin_1"),
		OfferID: offer.ID,
	}); err != nil {
		t.Fatalf("repeat processing: %v", err)
	}
	if len(h.gateway.refunds) != 1 {
		t.Fatalf("expected no second refund, got %d", len(h.gateway.refunds))
	}
}

func TestProcessCancellationGatewayFailureKeepsPending(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seekerPrincipal("user_seeker"),
		OfferID: offer.ID,
	}); err != nil {
		t.Fatalf("request cancellation: %v", err)
	}

	h.gateway.refundFn = func(context.Context, payments.RefundRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, errors.New("gateway unavailable")
	}

	if _, _, err := h.svc.ProcessCancellation(ctx, ProcessCancellationCommand{
		Actor:   adminPrincipal("admin_1"),
		OfferID: offer.ID,
	}); !errors.Is(err, ErrUpstreamFailure) {
		t.Fatalf("expected upstream failure, got %v", err)
	}

	after, err := h.offers.FindByID(ctx, offer.ID)
	if err != nil {
		t.Fatalf("find offer: %v", err)
	}
	if after.EscrowStatus != domain.EscrowStatusRefundPending {
		t.Fatalf("expected refund_pending preserved, got %s", after.EscrowStatus)
	}
}

func TestProcessPendingCancellationsBatch(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()

	_, offer, err := h.seedAssignedEscrow(ctx, true)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := h.svc.RequestCancellation(ctx, RequestCancellationCommand{
		Actor:   seekerPrincipal("user_seeker"),
		OfferID: offer.ID,
	}); err != nil {
		t.Fatalf("request cancellation: %v", err)
	}

	result, err := h.svc.ProcessPendingCancellations(ctx, BatchCancellationCommand{
		Actor: domain.Principal{ID: "scheduler", Roles: []string{domain.RoleSystem}},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(result.ProcessedOfferIDs) != 1 || result.ProcessedOfferIDs[0] != offer.ID {
		t.Fatalf("expected offer %s processed, got %v", offer.ID, result.ProcessedOfferIDs)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("expected no failures, got %v", result.Failures)
	}

	after, err := h.offers.FindByID(ctx, offer.ID)
	if err != nil {
		t.Fatalf("find offer: %v", err)
	}
	if after.EscrowStatus != domain.EscrowStatusRefunded {
		t.Fatalf("expected refunded, got %s", after.EscrowStatus)
	}
}

func TestMarketplaceEndToEnd(t *testing.T) {
	h := newWorkflowHarness()
	ctx := context.Background()
	seeker := seekerPrincipal("seeker_mona")
	providerA := providerPrincipal("provider_ali")
	providerB := providerPrincipal("provider_badr")

	request, err := h.svc.CreateJobRequest(ctx, CreateJobRequestCommand{
		Actor:       seeker,
		CategoryID:  "cat_plumbing",
		Title:       "Replace bathroom mixer",
		Description: "Old mixer drips constantly",
		Budget:      domain.BudgetRange{Min: 10000, Max: 20000, Currency: "EGP"},
		Deadline:    h.now.Add(7 * 24 * time.Hour),
		ScheduledAt: h.now.Add(48 * time.Hour),
		Location:    domain.Location{City: "Cairo", Area: "Nasr City"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	offerA, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            providerA,
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 15000, Currency: "EGP"},
		Message:          "Mixer included",
		EstimatedMinutes: 60,
	})
	if err != nil {
		t.Fatalf("offer a: %v", err)
	}
	offerB, err := h.svc.SubmitOffer(ctx, SubmitOfferCommand{
		Actor:            providerB,
		JobRequestID:     request.ID,
		Price:            domain.Money{Amount: 18000, Currency: "EGP"},
		EstimatedMinutes: 45,
	})
	if err != nil {
		t.Fatalf("offer b: %v", err)
	}

	offers, err := h.svc.ListOffers(ctx, seeker, request.ID)
	if err != nil {
		t.Fatalf("list offers: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}

	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offerA.ID,
	}); err != nil {
		t.Fatalf("accept a: %v", err)
	}
	if _, _, err := h.svc.AcceptOffer(ctx, AcceptOfferCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		OfferID:      offerB.ID,
	}); err == nil {
		t.Fatal("expected second acceptance to fail")
	}

	if _, _, err := h.svc.ProcessEscrowPayment(ctx, ProcessPaymentCommand{
		Actor:            seeker,
		OfferID:          offerA.ID,
		PaymentReference: "pi_pay_1",
	}); err != nil {
		t.Fatalf("process payment: %v", err)
	}

	h.now = h.now.Add(49 * time.Hour)
	request2, released, err := h.svc.CompleteJobRequest(ctx, CompleteJobRequestCommand{
		Actor:       seeker,
		OfferID:     offerA.ID,
		ImageURLs:   []string{"https://cdn.example.com/mixer-after.jpg"},
		Description: "New mixer installed, no drips",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if request2.Status != domain.JobRequestStatusCompleted || released.EscrowStatus != domain.EscrowStatusReleased {
		t.Fatalf("unexpected terminal state %s/%s", request2.Status, released.EscrowStatus)
	}

	review, err := h.svc.SubmitReview(ctx, SubmitReviewCommand{
		Actor:        seeker,
		JobRequestID: request.ID,
		Rating:       5,
		Comment:      "Fast and clean work",
	})
	if err != nil {
		t.Fatalf("submit review: %v", err)
	}
	if review.ProviderID != "provider_ali" {
		t.Fatalf("expected review against provider_ali, got %s", review.ProviderID)
	}
}
