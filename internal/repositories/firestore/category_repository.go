package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/craftlink/api/internal/domain"
	pfirestore "github.com/craftlink/api/internal/platform/firestore"
)

const categoryCollection = "categories"

type CategoryRepository struct {
	base *pfirestore.BaseRepository[categoryDocument]
}

func NewCategoryRepository(provider *pfirestore.Provider) (*CategoryRepository, error) {
	if provider == nil {
		return nil, errors.New("category repository requires firestore provider")
	}
	return &CategoryRepository{base: pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection)}, nil
}

func (r *CategoryRepository) FindByID(ctx context.Context, categoryID string) (domain.Category, error) {
	if r == nil || r.base == nil {
		return domain.Category{}, errors.New("category repository not initialised")
	}
	doc, err := r.base.Get(ctx, categoryID)
	if err != nil {
		return domain.Category{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{
		ID:        id,
		Name:      strings.TrimSpace(d.Name),
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
