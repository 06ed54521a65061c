package product

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

// Service encapsulates catalog administration and review logic.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a catalog Service backed by repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns a page of active products matching f. Out-of-range paging
// parameters are clamped rather than rejected.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if f.Category != "" && !f.Category.Valid() {
		return nil, &InvalidFieldError{Field: "category", Reason: "unknown category"}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageLimit
	}
	if f.Limit > maxPageLimit {
		f.Limit = maxPageLimit
	}
	switch f.SortBy {
	case SortCreatedAt, SortPrice, SortName, SortRating:
	case "":
		f.SortBy, f.Desc = SortCreatedAt, true
	default:
		return nil, &InvalidFieldError{Field: "sort", Reason: "unsupported sort field"}
	}
	f.Search = strings.TrimSpace(f.Search)

	page, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	page.Number, page.Limit = f.Page, f.Limit
	return page, nil
}

// Get returns a single product. Deactivated products are reported as missing.
func (s *Service) Get(ctx context.Context, id string) (*Product, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, ErrNotFound
	}
	return p, nil
}

// Create validates and stores a new product.
func (s *Service) Create(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	now := s.now().UTC()
	p.ID = uuid.New().String()
	p.Active = true
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.repo.Create(ctx, p); err != nil {
		return errors.Wrap(err, "create product")
	}
	return nil
}

// Update replaces the editable attributes of an existing product. Historical
// orders keep their own price snapshot and are unaffected.
func (s *Service) Update(ctx context.Context, p *Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	current, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.Active = current.Active
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, p); err != nil {
		return errors.Wrapf(err, "update product %s", p.ID)
	}
	return nil
}

// Delete soft-deletes a product by clearing its active flag.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Deactivate(ctx, id)
}

// AddReview records a rating from userID and returns the refreshed product.
func (s *Service) AddReview(ctx context.Context, productID, userID string, rating int, review string) (*Product, error) {
	if rating < 1 || rating > 5 {
		return nil, &InvalidFieldError{Field: "rating", Reason: "must be between 1 and 5"}
	}
	if strings.TrimSpace(review) == "" {
		return nil, &InvalidFieldError{Field: "review", Reason: "required"}
	}

	p, err := s.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.ReviewedBy(userID) {
		return nil, ErrAlreadyReviewed
	}

	r := Rating{UserID: userID, Rating: rating, Review: review, Date: s.now().UTC()}
	if err := s.repo.AddRating(ctx, productID, r); err != nil {
		if errors.Is(err, ErrAlreadyReviewed) {
			return nil, err
		}
		return nil, errors.Wrap(err, "add rating")
	}
	return s.repo.GetByID(ctx, productID)
}
