package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/craftlink/api/internal/domain"
	pfirestore "github.com/craftlink/api/internal/platform/firestore"
)

const offerCollection = "offers"

type OfferRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[offerDocument]
}

func NewOfferRepository(provider *pfirestore.Provider) (*OfferRepository, error) {
	if provider == nil {
		return nil, errors.New("offer repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[offerDocument](provider, offerCollection)
	return &OfferRepository{provider: provider, base: base}, nil
}

// Insert stores a new offer after checking the provider holds no other live
// offer on the same job request. The duplicate check and the create run in one
// transaction so concurrent submissions cannot both pass.
func (r *OfferRepository) Insert(ctx context.Context, offer domain.Offer) error {
	if r == nil || r.provider == nil {
		return errors.New("offer repository not initialised")
	}
	if strings.TrimSpace(offer.ID) == "" {
		return errors.New("offer insert: id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		coll, err := r.base.CollectionRef(ctx)
		if err != nil {
			return err
		}

		query := coll.Query.
			Where("jobRequestId", "==", offer.JobRequestID).
			Where("providerId", "==", offer.ProviderID)
		iter := tx.Documents(query)
		defer iter.Stop()
		for {
			snap, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				break
			}
			if err != nil {
				return err
			}
			var existing offerDocument
			if err := snap.DataTo(&existing); err != nil {
				return fmt.Errorf("decode offer %s: %w", snap.Ref.ID, err)
			}
			if !existing.toDomain(snap.Ref.ID).Terminal() {
				return pfirestore.NewConflict("offers.insert",
					fmt.Errorf("provider %s already has a live offer on request %s", offer.ProviderID, offer.JobRequestID))
			}
		}

		ref, err := r.base.DocumentRef(ctx, offer.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newOfferDocument(offer)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return pfirestore.NewConflict("offers.insert", fmt.Errorf("offer %s already exists", offer.ID))
			}
			return err
		}
		return nil
	})
	return wrapRepositoryError("offers.insert", err)
}

func (r *OfferRepository) FindByID(ctx context.Context, offerID string) (domain.Offer, error) {
	if r == nil || r.base == nil {
		return domain.Offer{}, errors.New("offer repository not initialised")
	}
	doc, err := r.base.Get(ctx, offerID)
	if err != nil {
		return domain.Offer{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *OfferRepository) ListByJobRequest(ctx context.Context, requestID string) ([]domain.Offer, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("offer repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil, errors.New("offer list: job request id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("jobRequestId", "==", requestID).
			OrderBy("createdAt", firestore.Asc)
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

// UpdateStatusGuarded moves the offer to target only while its stored status
// still equals expected. A lost race surfaces as a conflict.
func (r *OfferRepository) UpdateStatusGuarded(ctx context.Context, offerID string, expected, target domain.OfferStatus, now time.Time) (domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.Offer{}, errors.New("offer repository not initialised")
	}

	var updated domain.Offer
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if doc.Status != string(expected) {
			return pfirestore.NewConflict("offers.updateStatus",
				fmt.Errorf("offer %s is %s, expected %s", offerID, doc.Status, expected))
		}

		doc.Status = string(target)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(offerID)
		return nil
	})
	if err != nil {
		return domain.Offer{}, wrapRepositoryError("offers.updateStatus", err)
	}
	return updated, nil
}

// SetNegotiation replaces the negotiation block while the offer still holds
// the expected status and the negotiation has not moved past the revision the
// caller read. A stale expectedNegotiatedAt is a conflict, so a confirmation
// can never reinstate terms that were edited concurrently.
func (r *OfferRepository) SetNegotiation(ctx context.Context, offerID string, expected domain.OfferStatus, expectedNegotiatedAt *time.Time, negotiation domain.Negotiation, now time.Time) (domain.Offer, error) {
	if r == nil || r.provider == nil {
		return domain.Offer{}, errors.New("offer repository not initialised")
	}

	var updated domain.Offer
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, doc, err := r.getForUpdate(ctx, tx, offerID)
		if err != nil {
			return err
		}
		if doc.Status != string(expected) {
			return pfirestore.NewConflict("offers.setNegotiation",
				fmt.Errorf("offer %s is %s, expected %s", offerID, doc.Status, expected))
		}
		if !timesMatch(doc.Negotiation.UpdatedAt, expectedNegotiatedAt) {
			return pfirestore.NewConflict("offers.setNegotiation",
				fmt.Errorf("offer %s negotiation was updated concurrently", offerID))
		}

		doc.Negotiation = newNegotiationDocument(negotiation)
		doc.UpdatedAt = now.UTC()
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		updated = doc.toDomain(offerID)
		return nil
	})
	if err != nil {
		return domain.Offer{}, wrapRepositoryError("offers.setNegotiation", err)
	}
	return updated, nil
}

func (r *OfferRepository) getForUpdate(ctx context.Context, tx *firestore.Transaction, offerID string) (*firestore.DocumentRef, offerDocument, error) {
	ref, err := r.base.DocumentRef(ctx, offerID)
	if err != nil {
		return nil, offerDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, offerDocument{}, pfirestore.NewNotFound("offers.get", fmt.Errorf("offer %s not found", offerID))
		}
		return nil, offerDocument{}, err
	}
	var doc offerDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, offerDocument{}, fmt.Errorf("decode offer %s: %w", offerID, err)
	}
	return ref, doc, nil
}

func timesMatch(stored, expected *time.Time) bool {
	if stored == nil || expected == nil {
		return stored == nil && expected == nil
	}
	return stored.Equal(*expected)
}

func wrapRepositoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr
	}
	return pfirestore.WrapError(op, err)
}

// Document mapping -----------------------------------------------------------

type offerDocument struct {
	JobRequestID     string               `firestore:"jobRequestId"`
	ProviderID       string               `firestore:"providerId"`
	PriceAmount      int64                `firestore:"priceAmount"`
	PriceCurrency    string               `firestore:"priceCurrency"`
	Message          string               `firestore:"message,omitempty"`
	EstimatedMinutes int                  `firestore:"estimatedMinutes,omitempty"`
	Negotiation      negotiationDocument  `firestore:"negotiation"`
	Status           string               `firestore:"status"`
	EscrowStatus     string               `firestore:"escrowStatus"`
	PaymentReference *string              `firestore:"paymentReference,omitempty"`
	RefundQuote      *refundQuoteDocument `firestore:"refundQuote,omitempty"`
	CreatedAt        time.Time            `firestore:"createdAt"`
	UpdatedAt        time.Time            `firestore:"updatedAt"`
}

type negotiationDocument struct {
	PriceAmount       *int64                `firestore:"priceAmount,omitempty"`
	PriceCurrency     string                `firestore:"priceCurrency,omitempty"`
	Materials         string                `firestore:"materials,omitempty"`
	Scope             string                `firestore:"scope,omitempty"`
	Slot              *scheduleSlotDocument `firestore:"slot,omitempty"`
	SeekerConfirmed   bool                  `firestore:"seekerConfirmed"`
	ProviderConfirmed bool                  `firestore:"providerConfirmed"`
	UpdatedAt         *time.Time            `firestore:"updatedAt,omitempty"`
}

type scheduleSlotDocument struct {
	Start time.Time `firestore:"start"`
	End   time.Time `firestore:"end"`
}

type refundQuoteDocument struct {
	Percentage  int       `firestore:"percentage"`
	Amount      int64     `firestore:"amount"`
	Currency    string    `firestore:"currency"`
	Reason      string    `firestore:"reason,omitempty"`
	RequestedBy string    `firestore:"requestedBy"`
	RequestedAt time.Time `firestore:"requestedAt"`
}

func newOfferDocument(offer domain.Offer) offerDocument {
	doc := offerDocument{
		JobRequestID:     strings.TrimSpace(offer.JobRequestID),
		ProviderID:       strings.TrimSpace(offer.ProviderID),
		PriceAmount:      offer.Price.Amount,
		PriceCurrency:    strings.TrimSpace(offer.Price.Currency),
		Message:          strings.TrimSpace(offer.Message),
		EstimatedMinutes: offer.EstimatedMinutes,
		Negotiation:      newNegotiationDocument(offer.Negotiation),
		Status:           string(offer.Status),
		EscrowStatus:     string(offer.EscrowStatus),
		PaymentReference: offer.PaymentReference,
		CreatedAt:        offer.CreatedAt.UTC(),
		UpdatedAt:        offer.UpdatedAt.UTC(),
	}
	if offer.RefundQuote != nil {
		doc.RefundQuote = &refundQuoteDocument{
			Percentage:  offer.RefundQuote.Percentage,
			Amount:      offer.RefundQuote.Amount,
			Currency:    strings.TrimSpace(offer.RefundQuote.Currency),
			Reason:      strings.TrimSpace(offer.RefundQuote.Reason),
			RequestedBy: strings.TrimSpace(offer.RefundQuote.RequestedBy),
			RequestedAt: offer.RefundQuote.RequestedAt.UTC(),
		}
	}
	return doc
}

func newNegotiationDocument(negotiation domain.Negotiation) negotiationDocument {
	doc := negotiationDocument{
		Materials:         strings.TrimSpace(negotiation.Terms.Materials),
		Scope:             strings.TrimSpace(negotiation.Terms.Scope),
		SeekerConfirmed:   negotiation.SeekerConfirmed,
		ProviderConfirmed: negotiation.ProviderConfirmed,
		UpdatedAt:         negotiation.UpdatedAt,
	}
	if negotiation.Terms.Price != nil {
		amount := negotiation.Terms.Price.Amount
		doc.PriceAmount = &amount
		doc.PriceCurrency = strings.TrimSpace(negotiation.Terms.Price.Currency)
	}
	if negotiation.Terms.Slot != nil {
		doc.Slot = &scheduleSlotDocument{
			Start: negotiation.Terms.Slot.Start.UTC(),
			End:   negotiation.Terms.Slot.End.UTC(),
		}
	}
	return doc
}

func (d negotiationDocument) toDomain() domain.Negotiation {
	negotiation := domain.Negotiation{
		Terms: domain.NegotiationTerms{
			Materials: d.Materials,
			Scope:     d.Scope,
		},
		SeekerConfirmed:   d.SeekerConfirmed,
		ProviderConfirmed: d.ProviderConfirmed,
		UpdatedAt:         d.UpdatedAt,
	}
	if d.PriceAmount != nil {
		negotiation.Terms.Price = &domain.Money{Amount: *d.PriceAmount, Currency: d.PriceCurrency}
	}
	if d.Slot != nil {
		negotiation.Terms.Slot = &domain.ScheduleSlot{Start: d.Slot.Start, End: d.Slot.End}
	}
	return negotiation
}

func (d offerDocument) toDomain(id string) domain.Offer {
	offer := domain.Offer{
		ID:               id,
		JobRequestID:     d.JobRequestID,
		ProviderID:       d.ProviderID,
		Price:            domain.Money{Amount: d.PriceAmount, Currency: d.PriceCurrency},
		Message:          d.Message,
		EstimatedMinutes: d.EstimatedMinutes,
		Negotiation:      d.Negotiation.toDomain(),
		Status:           domain.OfferStatus(d.Status),
		EscrowStatus:     domain.EscrowStatus(d.EscrowStatus),
		PaymentReference: d.PaymentReference,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
	if d.RefundQuote != nil {
		offer.RefundQuote = &domain.RefundQuote{
			Percentage:  d.RefundQuote.Percentage,
			Amount:      d.RefundQuote.Amount,
			Currency:    d.RefundQuote.Currency,
			Reason:      d.RefundQuote.Reason,
			RequestedBy: d.RefundQuote.RequestedBy,
			RequestedAt: d.RefundQuote.RequestedAt,
		}
	}
	return offer
}
