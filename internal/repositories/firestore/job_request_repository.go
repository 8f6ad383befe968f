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
	"github.com/craftlink/api/internal/repositories"
)

const jobRequestCollection = "jobRequests"

type JobRequestRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[jobRequestDocument]
}

func NewJobRequestRepository(provider *pfirestore.Provider) (*JobRequestRepository, error) {
	if provider == nil {
		return nil, errors.New("job request repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[jobRequestDocument](provider, jobRequestCollection)
	return &JobRequestRepository{provider: provider, base: base}, nil
}

func (r *JobRequestRepository) Insert(ctx context.Context, request domain.JobRequest) error {
	if r == nil || r.base == nil {
		return errors.New("job request repository not initialised")
	}
	if strings.TrimSpace(request.ID) == "" {
		return errors.New("job request insert: id is required")
	}
	_, err := r.base.Create(ctx, request.ID, newJobRequestDocument(request))
	return err
}

func (r *JobRequestRepository) FindByID(ctx context.Context, requestID string) (domain.JobRequest, error) {
	if r == nil || r.base == nil {
		return domain.JobRequest{}, errors.New("job request repository not initialised")
	}
	doc, err := r.base.Get(ctx, requestID)
	if err != nil {
		return domain.JobRequest{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

func (r *JobRequestRepository) ListBySeeker(ctx context.Context, seekerID string, filter repositories.JobRequestListFilter) (domain.CursorPage[domain.JobRequest], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.JobRequest]{}, errors.New("job request repository not initialised")
	}
	seekerID = strings.TrimSpace(seekerID)
	if seekerID == "" {
		return domain.CursorPage[domain.JobRequest]{}, errors.New("job request list: seeker id is required")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}
	if pageSize > 200 {
		pageSize = 200
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.CursorPage[domain.JobRequest]{}, pfirestore.WrapError("jobRequests.list", err)
	}

	query := client.Collection(jobRequestCollection).Query.
		Where("seekerId", "==", seekerID)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		query = query.Where("status", "in", statuses)
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	query = query.
		OrderBy("createdAt", firestore.Desc).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Limit(pageSize + 1)

	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		cursor, err := pagination.DecodeToken[jobRequestPageToken](token)
		if err != nil {
			return domain.CursorPage[domain.JobRequest]{}, pfirestore.WrapError("jobRequests.list", err)
		}
		query = query.StartAfter(cursor.CreatedAt, cursor.ID)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.JobRequest
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.CursorPage[domain.JobRequest]{}, pfirestore.WrapError("jobRequests.list", err)
		}
		var doc jobRequestDocument
		if err := snap.DataTo(&doc); err != nil {
			return domain.CursorPage[domain.JobRequest]{}, fmt.Errorf("decode job request %s: %w", snap.Ref.ID, err)
		}
		items = append(items, doc.toDomain(snap.Ref.ID))
	}

	hasMore := len(items) > pageSize
	if hasMore {
		items = items[:pageSize]
	}
	var nextToken string
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		encoded, err := pagination.EncodeToken(jobRequestPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.JobRequest]{}, pfirestore.WrapError("jobRequests.list", err)
		}
		nextToken = encoded
	}

	return domain.CursorPage[domain.JobRequest]{Items: items, NextPageToken: nextToken}, nil
}

type jobRequestPageToken struct {
	ID        string
	CreatedAt time.Time
}

// Document mapping -----------------------------------------------------------

type jobRequestDocument struct {
	SeekerID           string                   `firestore:"seekerId"`
	CategoryID         string                   `firestore:"categoryId"`
	Title              string                   `firestore:"title"`
	Description        string                   `firestore:"description"`
	BudgetMin          int64                    `firestore:"budgetMin"`
	BudgetMax          int64                    `firestore:"budgetMax"`
	Currency           string                   `firestore:"currency"`
	Deadline           time.Time                `firestore:"deadline"`
	ScheduledAt        time.Time                `firestore:"scheduledAt"`
	Location           locationDocument         `firestore:"location"`
	Status             string                   `firestore:"status"`
	AssignedProviderID *string                  `firestore:"assignedProviderId,omitempty"`
	AssignedOfferID    *string                  `firestore:"assignedOfferId,omitempty"`
	CompletionProof    *completionProofDocument `firestore:"completionProof,omitempty"`
	CancelReason       *string                  `firestore:"cancelReason,omitempty"`
	CreatedBy          *string                  `firestore:"createdBy,omitempty"`
	UpdatedBy          *string                  `firestore:"updatedBy,omitempty"`
	CreatedAt          time.Time                `firestore:"createdAt"`
	UpdatedAt          time.Time                `firestore:"updatedAt"`
}

type locationDocument struct {
	City    string   `firestore:"city"`
	Area    string   `firestore:"area,omitempty"`
	Address string   `firestore:"address,omitempty"`
	Lat     *float64 `firestore:"lat,omitempty"`
	Lng     *float64 `firestore:"lng,omitempty"`
}

type completionProofDocument struct {
	ImageURLs   []string  `firestore:"imageUrls"`
	Description string    `firestore:"description,omitempty"`
	CompletedAt time.Time `firestore:"completedAt"`
}

func newJobRequestDocument(request domain.JobRequest) jobRequestDocument {
	doc := jobRequestDocument{
		SeekerID:           strings.TrimSpace(request.SeekerID),
		CategoryID:         strings.TrimSpace(request.CategoryID),
		Title:              strings.TrimSpace(request.Title),
		Description:        strings.TrimSpace(request.Description),
		BudgetMin:          request.Budget.Min,
		BudgetMax:          request.Budget.Max,
		Currency:           strings.TrimSpace(request.Budget.Currency),
		Deadline:           request.Deadline.UTC(),
		ScheduledAt:        request.ScheduledAt.UTC(),
		Status:             string(request.Status),
		AssignedProviderID: request.AssignedProviderID,
		AssignedOfferID:    request.AssignedOfferID,
		CancelReason:       request.CancelReason,
		CreatedBy:          request.Audit.CreatedBy,
		UpdatedBy:          request.Audit.UpdatedBy,
		CreatedAt:          request.CreatedAt.UTC(),
		UpdatedAt:          request.UpdatedAt.UTC(),
		Location: locationDocument{
			City:    strings.TrimSpace(request.Location.City),
			Area:    strings.TrimSpace(request.Location.Area),
			Address: strings.TrimSpace(request.Location.Address),
			Lat:     request.Location.Lat,
			Lng:     request.Location.Lng,
		},
	}
	if request.CompletionProof != nil {
		doc.CompletionProof = &completionProofDocument{
			ImageURLs:   request.CompletionProof.ImageURLs,
			Description: strings.TrimSpace(request.CompletionProof.Description),
			CompletedAt: request.CompletionProof.CompletedAt.UTC(),
		}
	}
	return doc
}

func (d jobRequestDocument) toDomain(id string) domain.JobRequest {
	request := domain.JobRequest{
		ID:          id,
		SeekerID:    d.SeekerID,
		CategoryID:  d.CategoryID,
		Title:       d.Title,
		Description: d.Description,
		Budget: domain.BudgetRange{
			Min:      d.BudgetMin,
			Max:      d.BudgetMax,
			Currency: d.Currency,
		},
		Deadline:    d.Deadline,
		ScheduledAt: d.ScheduledAt,
		Location: domain.Location{
			City:    d.Location.City,
			Area:    d.Location.Area,
			Address: d.Location.Address,
			Lat:     d.Location.Lat,
			Lng:     d.Location.Lng,
		},
		Status:             domain.JobRequestStatus(d.Status),
		AssignedProviderID: d.AssignedProviderID,
		AssignedOfferID:    d.AssignedOfferID,
		CancelReason:       d.CancelReason,
		Audit: domain.JobRequestAudit{
			CreatedBy: d.CreatedBy,
			UpdatedBy: d.UpdatedBy,
		},
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	if d.CompletionProof != nil {
		request.CompletionProof = &domain.CompletionProof{
			ImageURLs:   d.CompletionProof.ImageURLs,
			Description: d.CompletionProof.Description,
			CompletedAt: d.CompletionProof.CompletedAt,
		}
	}
	return request
}
