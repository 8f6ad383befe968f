package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/craftlink/api/internal/platform/firestore"
	"github.com/craftlink/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the
// repositories.Registry interface.
type Registry struct {
	provider *pfirestore.Provider

	jobRequests       *JobRequestRepository
	offers            *OfferRepository
	escrow            *EscrowRepository
	negotiationEvents *NegotiationEventRepository
	categories        *CategoryRepository
	reviews           *ReviewRepository
}

// NewRegistry wires every repository against the shared provider.
func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	jobRequests, err := NewJobRequestRepository(provider)
	if err != nil {
		return nil, err
	}
	offers, err := NewOfferRepository(provider)
	if err != nil {
		return nil, err
	}
	escrow, err := NewEscrowRepository(provider)
	if err != nil {
		return nil, err
	}
	negotiationEvents, err := NewNegotiationEventRepository(provider)
	if err != nil {
		return nil, err
	}
	categories, err := NewCategoryRepository(provider)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:          provider,
		jobRequests:       jobRequests,
		offers:            offers,
		escrow:            escrow,
		negotiationEvents: negotiationEvents,
		categories:        categories,
		reviews:           reviews,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) JobRequests() repositories.JobRequestRepository { return r.jobRequests }

func (r *Registry) Offers() repositories.OfferRepository { return r.offers }

func (r *Registry) Escrow() repositories.EscrowRepository { return r.escrow }

func (r *Registry) NegotiationEvents() repositories.NegotiationEventRepository {
	return r.negotiationEvents
}

func (r *Registry) Categories() repositories.CategoryRepository { return r.categories }

func (r *Registry) Reviews() repositories.ReviewRepository { return r.reviews }
