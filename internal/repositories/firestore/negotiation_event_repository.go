package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	domain "github.com/craftlink/api/internal/domain"
	pfirestore "github.com/craftlink/api/internal/platform/firestore"
	"github.com/craftlink/api/internal/platform/pagination"
)

const negotiationEventCollection = "negotiationEvents"

// NegotiationEventRepository stores the append-only negotiation audit trail.
type NegotiationEventRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[negotiationEventDocument]
}

func NewNegotiationEventRepository(provider *pfirestore.Provider) (*NegotiationEventRepository, error) {
	if provider == nil {
		return nil, errors.New("negotiation event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[negotiationEventDocument](provider, negotiationEventCollection)
	return &NegotiationEventRepository{provider: provider, base: base}, nil
}

func (r *NegotiationEventRepository) Append(ctx context.Context, event domain.NegotiationEvent) error {
	if r == nil || r.base == nil {
		return errors.New("negotiation event repository not initialised")
	}
	if strings.TrimSpace(event.ID) == "" {
		return errors.New("negotiation event append: id is required")
	}
	if strings.TrimSpace(event.OfferID) == "" {
		return errors.New("negotiation event append: offer id is required")
	}
	_, err := r.base.Create(ctx, event.ID, newNegotiationEventDocument(event))
	return err
}

func (r *NegotiationEventRepository) ListByOffer(ctx context.Context, offerID string, pager domain.Pagination) (domain.CursorPage[domain.NegotiationEvent], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.NegotiationEvent]{}, errors.New("negotiation event repository not initialised")
	}
	offerID = strings.TrimSpace(offerID)
	if offerID == "" {
		return domain.CursorPage[domain.NegotiationEvent]{}, errors.New("negotiation event list: offer id is required")
	}

	pageSize := pager.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.NegotiationEvent]{}, pfirestore.WrapError("negotiationEvents.list", err)
	}

	query := client.Collection(negotiationEventCollection).Query.
		Where("offerId", "==", offerID).
		OrderBy("occurredAt", firestore.Asc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(pager.PageToken); token != "" {
		cursor, err := pagination.DecodeToken[negotiationEventPageToken](token)
		if err != nil {
			return domain.CursorPage[domain.NegotiationEvent]{}, pfirestore.WrapError("negotiationEvents.list", err)
		}
		query = query.StartAfter(cursor.OccurredAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []domain.NegotiationEvent
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.NegotiationEvent]{}, pfirestore.WrapError("negotiationEvents.list", err)
		}
		var doc negotiationEventDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.NegotiationEvent]{}, fmt.Errorf("decode negotiation event %s: %w", snap.Ref.ID, err)
		}
		events = append(events, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(events) > pageSize
	if hasMore {
		events = events[:pageSize]
	}
	var nextToken string
	if hasMore && len(events) > 0 {
		last := events[len(events)-1]
		encoded, err := pagination.EncodeToken(negotiationEventPageToken{ID: last.ID, OccurredAt: last.OccurredAt})
		if err != nil {
			return domain.CursorPage[domain.NegotiationEvent]{}, pfirestore.WrapError("negotiationEvents.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.NegotiationEvent]{Items: events, NextPageToken: nextToken}, nil
}

type negotiationEventPageToken struct {
	ID         string
	OccurredAt time.Time
}

// Document mapping -----------------------------------------------------------

type negotiationEventDocument struct {
	OfferID    string              `firestore:"offerId"`
	ActorID    string              `firestore:"actorId"`
	ActorRole  string              `firestore:"actorRole"`
	Action     string              `firestore:"action"`
	Terms      negotiationDocument `firestore:"terms"`
	OccurredAt time.Time           `firestore:"occurredAt"`
}

func newNegotiationEventDocument(event domain.NegotiationEvent) negotiationEventDocument {
	return negotiationEventDocument{
		OfferID:    strings.TrimSpace(event.OfferID),
		ActorID:    strings.TrimSpace(event.ActorID),
		ActorRole:  strings.TrimSpace(event.ActorRole),
		Action:     string(event.Action),
		Terms:      newNegotiationDocument(domain.Negotiation{Terms: event.Terms}),
		OccurredAt: event.OccurredAt.UTC(),
	}
}

func (d negotiationEventDocument) toDomain(id string) domain.NegotiationEvent {
	return domain.NegotiationEvent{
		ID:         id,
		OfferID:    d.OfferID,
		ActorID:    d.ActorID,
		ActorRole:  d.ActorRole,
		Action:     domain.NegotiationAction(d.Action),
		Terms:      d.Terms.toDomain().Terms,
		OccurredAt: d.OccurredAt,
	}
}
