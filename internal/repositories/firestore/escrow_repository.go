package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftlink/api/internal/domain"
	pfirestore "github.com/craftlink/api/internal/platform/firestore"
	"github.com/craftlink/api/internal/repositories"
)

// EscrowRepository owns the transitions that touch an offer and its job
// request together. Every method runs one transaction that re-reads both
// documents and verifies their expected statuses before writing, so a racing
// mutation makes the whole transition fail with a conflict instead of leaving
// the pair inconsistent.
type EscrowRepository struct {
	provider    *pfirestore.Provider
	offers      *pfirestore.BaseRepository[offerDocument]
	jobRequests *pfirestore.BaseRepository[jobRequestDocument]
}

func NewEscrowRepository(provider *pfirestore.Provider) (*EscrowRepository, error) {
	if provider == nil {
		return nil, errors.New("escrow repository requires firestore provider")
	}
	return &EscrowRepository{
		provider:    provider,
		offers:      pfirestore.NewBaseRepository[offerDocument](provider, offerCollection),
		jobRequests: pfirestore.NewBaseRepository[jobRequestDocument](provider, jobRequestCollection),
	}, nil
}

func (r *EscrowRepository) AcceptOffer(ctx context.Context, write repositories.AcceptOfferWrite) (domain.JobRequest, domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.JobRequest{}, domain.Offer{}, errors.New("escrow repository not initialised")
	}

	now := write.Now.UTC()
	var request domain.JobRequest
	var offer domain.Offer

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		requestRef, requestDoc, err := r.getJobRequest(ctx, tx, write.JobRequestID)
		if err != nil {
			return err
		}
		offerRef, offerDoc, err := r.getOffer(ctx, tx, write.OfferID)
		if err != nil {
			return err
		}

		if offerDoc.JobRequestID != write.JobRequestID {
			return pfirestore.NewNotFound("escrow.accept",
				fmt.Errorf("offer %s does not belong to request %s", write.OfferID, write.JobRequestID))
		}
		if requestDoc.Status != string(domain.JobRequestStatusOpen) {
			return pfirestore.NewConflict("escrow.accept",
				fmt.Errorf("request %s is %s, expected open", write.JobRequestID, requestDoc.Status))
		}
		if offerDoc.Status != string(domain.OfferStatusPending) {
			return pfirestore.NewConflict("escrow.accept",
				fmt.Errorf("offer %s is %s, expected pending", write.OfferID, offerDoc.Status))
		}

		offerDoc.Status = string(domain.OfferStatusAccepted)
		offerDoc.UpdatedAt = now
		if err := tx.Set(offerRef, offerDoc); err != nil {
			return err
		}

		providerID := strings.TrimSpace(write.ProviderID)
		if providerID == "" {
			providerID = offerDoc.ProviderID
		}
		offerID := write.OfferID
		actorID := strings.TrimSpace(write.ActorID)

		requestDoc.Status = string(domain.JobRequestStatusAssigned)
		requestDoc.AssignedProviderID = &providerID
		requestDoc.AssignedOfferID = &offerID
		if actorID != "" {
			requestDoc.UpdatedBy = &actorID
		}
		requestDoc.UpdatedAt = now
		if err := tx.Set(requestRef, requestDoc); err != nil {
			return err
		}

		request = requestDoc.toDomain(write.JobRequestID)
		offer = offerDoc.toDomain(write.OfferID)
		return nil
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, wrapRepositoryError("escrow.accept", err)
	}
	return request, offer, nil
}

// BeginEscrowPayment parks the accepted offer in payment_pending before any
// gateway call is made, so a crash mid-payment is visible in stored state.
func (r *EscrowRepository) BeginEscrowPayment(ctx context.Context, offerID string, now time.Time) (domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.Offer{}, errors.New("escrow repository not initialised")
	}

	var offer domain.Offer
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if doc.Status != string(domain.OfferStatusAccepted) {
			return pfirestore.NewConflict("escrow.beginPayment",
				fmt.Errorf("offer %s is %s, expected accepted", offerID, doc.Status))
		}
		if doc.EscrowStatus != string(domain.EscrowStatusNone) {
			return pfirestore.NewConflict("escrow.beginPayment",
				fmt.Errorf("offer %s escrow is %s, expected none", offerID, doc.EscrowStatus))
		}

		doc.EscrowStatus = string(domain.EscrowStatusPaymentPending)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		offer = doc.toDomain(offerID)
		return nil
	})
	if err != nil {
		return domain.Offer{}, wrapRepositoryError("escrow.beginPayment", err)
	}
	return offer, nil
}

// AbortEscrowPayment returns a payment_pending offer to none after a failed
// gateway call so the seeker can retry.
func (r *EscrowRepository) AbortEscrowPayment(ctx context.Context, offerID string, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("escrow repository not initialised")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getOffer(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if doc.EscrowStatus != string(domain.EscrowStatusPaymentPending) {
			return pfirestore.NewConflict("escrow.abortPayment",
				fmt.Errorf("offer %s escrow is %s, expected payment_pending", offerID, doc.EscrowStatus))
		}

		doc.EscrowStatus = string(domain.EscrowStatusNone)
		doc.UpdatedAt = now.UTC()
		return tx.Set(ref, doc)
	})
	return wrapRepositoryError("escrow.abortPayment", err)
}

func (r *EscrowRepository) SettleEscrowPayment(ctx context.Context, write repositories.SettleEscrowWrite) (domain.JobRequest, domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.JobRequest{}, domain.Offer{}, errors.New("escrow repository not initialised")
	}
	reference := strings.TrimSpace(write.PaymentReference)
	if reference == "" {
		return domain.JobRequest{}, domain.Offer{}, errors.New("escrow settle: payment reference is required")
	}

	now := write.Now.UTC()
	var request domain.JobRequest
	var offer domain.Offer

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		offerRef, offerDoc, err := r.getOffer(ctx, tx, write.OfferID)
		if err != nil {
			return err
		}
		if offerDoc.EscrowStatus != string(domain.EscrowStatusPaymentPending) {
			return pfirestore.NewConflict("escrow.settle",
				fmt.Errorf("offer %s escrow is %s, expected payment_pending", write.OfferID, offerDoc.EscrowStatus))
		}

		requestRef, requestDoc, err := r.getJobRequest(ctx, tx, offerDoc.JobRequestID)
		if err != nil {
			return err
		}
		if requestDoc.Status != string(domain.JobRequestStatusAssigned) {
			return pfirestore.NewConflict("escrow.settle",
				fmt.Errorf("request %s is %s, expected assigned", offerDoc.JobRequestID, requestDoc.Status))
		}

		offerDoc.EscrowStatus = string(domain.EscrowStatusEscrowed)
		offerDoc.PaymentReference = &reference
		offerDoc.UpdatedAt = now
		if err := tx.Set(offerRef, offerDoc); err != nil {
			return err
		}

		requestDoc.Status = string(domain.JobRequestStatusInProgress)
		requestDoc.UpdatedAt = now
		if err := tx.Set(requestRef, requestDoc); err != nil {
			return err
		}

		request = requestDoc.toDomain(offerDoc.JobRequestID)
		offer = offerDoc.toDomain(write.OfferID)
		return nil
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, wrapRepositoryError("escrow.settle", err)
	}
	return request, offer, nil
}

func (r *EscrowRepository) ReleaseEscrow(ctx context.Context, write repositories.ReleaseEscrowWrite) (domain.JobRequest, domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.JobRequest{}, domain.Offer{}, errors.New("escrow repository not initialised")
	}

	now := write.Now.UTC()
	var request domain.JobRequest
	var offer domain.Offer

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		offerRef, offerDoc, err := r.getOffer(ctx, tx, write.OfferID)
		if err != nil {
			return err
		}
		if offerDoc.EscrowStatus != string(domain.EscrowStatusEscrowed) {
			return pfirestore.NewConflict("escrow.release",
				fmt.Errorf("offer %s escrow is %s, expected escrowed", write.OfferID, offerDoc.EscrowStatus))
		}

		requestRef, requestDoc, err := r.getJobRequest(ctx, tx, offerDoc.JobRequestID)
		if err != nil {
			return err
		}
		if requestDoc.Status != string(domain.JobRequestStatusInProgress) {
			return pfirestore.NewConflict("escrow.release",
				fmt.Errorf("request %s is %s, expected in_progress", offerDoc.JobRequestID, requestDoc.Status))
		}

		offerDoc.EscrowStatus = string(domain.EscrowStatusReleased)
		offerDoc.UpdatedAt = now
		if err := tx.Set(offerRef, offerDoc); err != nil {
			return err
		}

		actorID := strings.TrimSpace(write.ActorID)
		requestDoc.Status = string(domain.JobRequestStatusCompleted)
		requestDoc.CompletionProof = &completionProofDocument{
			ImageURLs:   write.Proof.ImageURLs,
			Description: strings.TrimSpace(write.Proof.Description),
			CompletedAt: write.Proof.CompletedAt.UTC(),
		}
		if actorID != "" {
			requestDoc.UpdatedBy = &actorID
		}
		requestDoc.UpdatedAt = now
		if err := tx.Set(requestRef, requestDoc); err != nil {
			return err
		}

		request = requestDoc.toDomain(offerDoc.JobRequestID)
		offer = offerDoc.toDomain(write.OfferID)
		return nil
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, wrapRepositoryError("escrow.release", err)
	}
	return request, offer, nil
}

func (r *EscrowRepository) RecordRefundRequest(ctx context.Context, write repositories.RefundRequestWrite) (domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.Offer{}, errors.New("escrow repository not initialised")
	}

	now := write.Now.UTC()
	var offer domain.Offer

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getOffer(ctx, tx, write.OfferID)
		if err != nil {
			return err
		}
		funded := doc.EscrowStatus == string(domain.EscrowStatusEscrowed)
		unfunded := doc.EscrowStatus == string(domain.EscrowStatusNone) && doc.Status == string(domain.OfferStatusAccepted)
		if !funded && !unfunded {
			return pfirestore.NewConflict("escrow.recordRefund",
				fmt.Errorf("offer %s escrow is %s, expected escrowed or an unfunded accepted offer", write.OfferID, doc.EscrowStatus))
		}

		doc.EscrowStatus = string(domain.EscrowStatusRefundPending)
		doc.RefundQuote = &refundQuoteDocument{
			Percentage:  write.Quote.Percentage,
			Amount:      write.Quote.Amount,
			Currency:    strings.TrimSpace(write.Quote.Currency),
			Reason:      strings.TrimSpace(write.Quote.Reason),
			RequestedBy: strings.TrimSpace(write.Quote.RequestedBy),
			RequestedAt: write.Quote.RequestedAt.UTC(),
		}
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		offer = doc.toDomain(write.OfferID)
		return nil
	})
	if err != nil {
		return domain.Offer{}, wrapRepositoryError("escrow.recordRefund", err)
	}
	return offer, nil
}

func (r *EscrowRepository) FinalizeRefund(ctx context.Context, write repositories.FinalizeRefundWrite) (domain.JobRequest, domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.JobRequest{}, domain.Offer{}, errors.New("escrow repository not initialised")
	}

	now := write.Now.UTC()
	var request domain.JobRequest
	var offer domain.Offer

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		offerRef, offerDoc, err := r.getOffer(ctx, tx, write.OfferID)
		if err != nil {
			return err
		}
		if offerDoc.EscrowStatus != string(domain.EscrowStatusRefundPending) {
			return pfirestore.NewConflict("escrow.finalizeRefund",
				fmt.Errorf("offer %s escrow is %s, expected refund_pending", write.OfferID, offerDoc.EscrowStatus))
		}

		requestRef, requestDoc, err := r.getJobRequest(ctx, tx, offerDoc.JobRequestID)
		if err != nil {
			return err
		}

		offerDoc.EscrowStatus = string(domain.EscrowStatusRefunded)
		offerDoc.UpdatedAt = now
		if err := tx.Set(offerRef, offerDoc); err != nil {
			return err
		}

		actorID := strings.TrimSpace(write.ActorID)
		requestDoc.Status = string(domain.JobRequestStatusCancelled)
		if offerDoc.RefundQuote != nil && offerDoc.RefundQuote.Reason != "" {
			reason := offerDoc.RefundQuote.Reason
			requestDoc.CancelReason = &reason
		}
		if actorID != "" {
			requestDoc.UpdatedBy = &actorID
		}
		requestDoc.UpdatedAt = now
		if err := tx.Set(requestRef, requestDoc); err != nil {
			return err
		}

		request = requestDoc.toDomain(offerDoc.JobRequestID)
		offer = offerDoc.toDomain(write.OfferID)
		return nil
	})
	if err != nil {
		return domain.JobRequest{}, domain.Offer{}, wrapRepositoryError("escrow.finalizeRefund", err)
	}
	return request, offer, nil
}

func (r *EscrowRepository) ListRefundPending(ctx context.Context, limit int) ([]domain.Offer, error) {
	if r == nil || r.offers == nil {
		return nil, errors.New("escrow repository not initialised")
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	docs, err := r.offers.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("escrowStatus", "==", string(domain.EscrowStatusRefundPending)).
			OrderBy("updatedAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	offers := make([]domain.Offer, 0, len(docs))
	for _, doc := range docs {
		offers = append(offers, doc.Data.toDomain(doc.ID))
	}
	return offers, nil
}

func (r *EscrowRepository) getOffer(ctx context.Context, tx *firestore.Transaction, offerID string) (*firestore.DocumentRef, offerDocument, error) {
	ref, err := r.offers.DocumentRef(ctx, offerID)
	if err != nil {
		return nil, offerDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, offerDocument{}, pfirestore.NewNotFound("escrow.getOffer", fmt.Errorf("offer %s not found", offerID))
		}
		return nil, offerDocument{}, err
	}
	var doc offerDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, offerDocument{}, fmt.Errorf("decode offer %s: %w", offerID, err)
	}
	return ref, doc, nil
}

func (r *EscrowRepository) getJobRequest(ctx context.Context, tx *firestore.Transaction, requestID string) (*firestore.DocumentRef, jobRequestDocument, error) {
	ref, err := r.jobRequests.DocumentRef(ctx, requestID)
	if err != nil {
		return nil, jobRequestDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, jobRequestDocument{}, pfirestore.NewNotFound("escrow.getRequest", fmt.Errorf("job request %s not found", requestID))
		}
		return nil, jobRequestDocument{}, err
	}
	var doc jobRequestDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, jobRequestDocument{}, fmt.Errorf("decode job request %s: %w", requestID, err)
	}
	return ref, doc, nil
}
