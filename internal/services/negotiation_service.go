package services

import (
	"context"
	"fmt"
	"strings"

	domain "github.com/craftlink/api/internal/domain"
	"github.com/craftlink/api/internal/notifications"
)

// Negotiation handshake: any term update clears both confirmation flags,
// Confirm sets only the caller's flag, and acceptance requires both flags
// once the handshake has been used at all. Every write carries the
// negotiation revision it was read against, so a confirmation racing a term
// edit conflicts instead of reinstating the stale terms. Every mutation lands
// one entry in the append-only negotiation audit trail.

func (s *workflowService) UpdateNegotiation(ctx context.Context, cmd UpdateNegotiationCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionUpdateNegotiation, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}
	if offer.Status != domain.OfferStatusPending {
		return Offer{}, fmt.Errorf("%w: offer %s is %s, negotiation is only open on pending offers",
			ErrValidation, offer.ID, offer.Status)
	}
	if err := validateNegotiationTerms(cmd.Terms, offer.Price.Currency); err != nil {
		return Offer{}, err
	}

	now := s.now()
	negotiation := domain.Negotiation{
		Terms:     cmd.Terms,
		UpdatedAt: &now,
	}

	updated, err := s.offers.SetNegotiation(ctx, offer.ID, domain.OfferStatusPending, offer.Negotiation.UpdatedAt, negotiation, now)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.recordNegotiationEvent(ctx, request, updated, cmd.Actor, domain.NegotiationActionProposed, negotiation.Terms)

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventNegotiationUpdated,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
	})

	return updated, nil
}

func (s *workflowService) ConfirmNegotiation(ctx context.Context, cmd OfferActionCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionConfirmAgreement, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}
	if offer.Status != domain.OfferStatusPending {
		return Offer{}, fmt.Errorf("%w: offer %s is %s, negotiation is only open on pending offers",
			ErrValidation, offer.ID, offer.Status)
	}

	isSeeker := cmd.Actor.ID == request.SeekerID
	negotiation := offer.Negotiation
	if isSeeker {
		if negotiation.SeekerConfirmed {
			return offer, nil
		}
		negotiation.SeekerConfirmed = true
	} else {
		if negotiation.ProviderConfirmed {
			return offer, nil
		}
		negotiation.ProviderConfirmed = true
	}

	now := s.now()
	negotiation.UpdatedAt = &now

	updated, err := s.offers.SetNegotiation(ctx, offer.ID, domain.OfferStatusPending, offer.Negotiation.UpdatedAt, negotiation, now)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.recordNegotiationEvent(ctx, request, updated, cmd.Actor, domain.NegotiationActionConfirmed, negotiation.Terms)

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventNegotiationConfirmed,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
		Payload: map[string]any{
			"seekerConfirmed":   negotiation.SeekerConfirmed,
			"providerConfirmed": negotiation.ProviderConfirmed,
		},
	})

	return updated, nil
}

func (s *workflowService) ResetNegotiation(ctx context.Context, cmd OfferActionCommand) (Offer, error) {
	request, offer, err := s.loadPair(ctx, cmd.OfferID)
	if err != nil {
		return Offer{}, err
	}
	if err := Authorize(cmd.Actor, ActionResetAgreement, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return Offer{}, err
	}
	if offer.Status != domain.OfferStatusPending {
		return Offer{}, fmt.Errorf("%w: offer %s is %s, negotiation is only open on pending offers",
			ErrValidation, offer.ID, offer.Status)
	}
	if !offer.Negotiation.SeekerConfirmed && !offer.Negotiation.ProviderConfirmed {
		return offer, nil
	}

	now := s.now()
	negotiation := offer.Negotiation
	negotiation.SeekerConfirmed = false
	negotiation.ProviderConfirmed = false
	negotiation.UpdatedAt = &now

	updated, err := s.offers.SetNegotiation(ctx, offer.ID, domain.OfferStatusPending, offer.Negotiation.UpdatedAt, negotiation, now)
	if err != nil {
		return Offer{}, mapRepositoryError(err)
	}

	s.recordNegotiationEvent(ctx, request, updated, cmd.Actor, domain.NegotiationActionReset, negotiation.Terms)

	s.publish(ctx, notifications.Event{
		Type:         notifications.EventNegotiationReset,
		JobRequestID: request.ID,
		OfferID:      offer.ID,
		ActorID:      cmd.Actor.ID,
		OccurredAt:   now,
	})

	return updated, nil
}

func (s *workflowService) NegotiationHistory(ctx context.Context, query NegotiationHistoryQuery) (domain.CursorPage[NegotiationEvent], error) {
	request, offer, err := s.loadPair(ctx, query.OfferID)
	if err != nil {
		return domain.CursorPage[NegotiationEvent]{}, err
	}
	if err := Authorize(query.Actor, ActionViewNegotiation, AccessSubject{SeekerID: request.SeekerID, ProviderID: offer.ProviderID}); err != nil {
		return domain.CursorPage[NegotiationEvent]{}, err
	}

	page, err := s.negotiationEvents.ListByOffer(ctx, offer.ID, query.Page)
	if err != nil {
		return domain.CursorPage[NegotiationEvent]{}, mapRepositoryError(err)
	}
	return page, nil
}

// recordNegotiationEvent appends to the audit trail. Trail failures are
// logged, not surfaced: the guarded offer write already committed.
func (s *workflowService) recordNegotiationEvent(ctx context.Context, request JobRequest, offer Offer, actor Principal, action domain.NegotiationAction, terms NegotiationTerms) {
	event := NegotiationEvent{
		ID:         negotiationEventIDPrefix + s.newID(),
		OfferID:    offer.ID,
		ActorID:    actor.ID,
		ActorRole:  negotiationRole(actor, request),
		Action:     action,
		Terms:      terms,
		OccurredAt: s.now(),
	}
	if err := s.negotiationEvents.Append(ctx, event); err != nil {
		s.logger(ctx, "workflow.negotiation.audit.failed", map[string]any{
			"offer":  offer.ID,
			"action": string(action),
			"error":  err.Error(),
		})
	}
}

func negotiationRole(actor Principal, request JobRequest) string {
	if actor.ID == request.SeekerID {
		return domain.RoleSeeker
	}
	return domain.RoleProvider
}

func validateNegotiationTerms(terms NegotiationTerms, offerCurrency string) error {
	if terms.Price != nil {
		if terms.Price.Amount <= 0 {
			return fmt.Errorf("%w: proposed price must be positive", ErrValidation)
		}
		if !strings.EqualFold(terms.Price.Currency, offerCurrency) {
			return fmt.Errorf("%w: proposed currency %q does not match offer currency %q",
				ErrValidation, terms.Price.Currency, offerCurrency)
		}
	}
	if terms.Slot != nil {
		if terms.Slot.End.IsZero() || terms.Slot.Start.IsZero() {
			return fmt.Errorf("%w: schedule slot requires start and end", ErrValidation)
		}
		if !terms.Slot.End.After(terms.Slot.Start) {
			return fmt.Errorf("%w: schedule slot must end after it starts", ErrValidation)
		}
	}
	return nil
}
