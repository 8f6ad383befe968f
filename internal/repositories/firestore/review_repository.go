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

const reviewCollection = "reviews"

type ReviewRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[reviewDocument]
}

func NewReviewRepository(provider *pfirestore.Provider) (*ReviewRepository, error) {
	if provider == nil {
		return nil, errors.New("review repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[reviewDocument](provider, reviewCollection)
	return &ReviewRepository{provider: provider, base: base}, nil
}

// Insert stores the review after checking no review exists for the job
// request yet. The check and create share a transaction, so double submission
// resolves to a conflict.
func (r *ReviewRepository) Insert(ctx context.Context, review domain.Review) error {
	if r == nil || r.provider == nil {
		return errors.New("review repository not initialised")
	}
	if strings.TrimSpace(review.ID) == "" {
		return errors.New("review insert: id is required")
	}
	if strings.TrimSpace(review.JobRequestID) == "" {
		return errors.New("review insert: job request id is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		coll, err := r.base.CollectionRef(ctx)
		if err != nil {
			return err
		}

		query := coll.Query.Where("jobRequestId", "==", review.JobRequestID).Limit(1)
		iter := tx.Documents(query)
		defer iter.Stop()
		if _, err := iter.Next(); err == nil {
			return pfirestore.NewConflict("reviews.insert",
				fmt.Errorf("request %s already has a review", review.JobRequestID))
		} else if !errors.Is(err, iterator.Done) {
			return err
		}

		ref, err := r.base.DocumentRef(ctx, review.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(ref, newReviewDocument(review)); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return pfirestore.NewConflict("reviews.insert", fmt.Errorf("review %s already exists", review.ID))
			}
			return err
		}
		return nil
	})
	return wrapRepositoryError("reviews.insert", err)
}

func (r *ReviewRepository) FindByJobRequest(ctx context.Context, requestID string) (domain.Review, error) {
	if r == nil || r.base == nil {
		return domain.Review{}, errors.New("review repository not initialised")
	}
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return domain.Review{}, errors.New("review find: job request id is required")
	}

	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("jobRequestId", "==", requestID).Limit(1)
	})
	if err != nil {
		return domain.Review{}, err
	}
	if len(docs) == 0 {
		return domain.Review{}, pfirestore.NewNotFound("reviews.find",
			fmt.Errorf("no review for request %s", requestID))
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

type reviewDocument struct {
	JobRequestID string    `firestore:"jobRequestId"`
	SeekerID     string    `firestore:"seekerId"`
	ProviderID   string    `firestore:"providerId"`
	Rating       int       `firestore:"rating"`
	Comment      string    `firestore:"comment,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func newReviewDocument(review domain.Review) reviewDocument {
	return reviewDocument{
		JobRequestID: strings.TrimSpace(review.JobRequestID),
		SeekerID:     strings.TrimSpace(review.SeekerID),
		ProviderID:   strings.TrimSpace(review.ProviderID),
		Rating:       review.Rating,
		Comment:      strings.TrimSpace(review.Comment),
		CreatedAt:    review.CreatedAt.UTC(),
	}
}

func (d reviewDocument) toDomain(id string) domain.Review {
	return domain.Review{
		ID:           id,
		JobRequestID: d.JobRequestID,
		SeekerID:     d.SeekerID,
		ProviderID:   d.ProviderID,
		Rating:       d.Rating,
		Comment:      d.Comment,
		CreatedAt:    d.CreatedAt,
	}
}
