package product

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Category enumerates the fragrance families a product can belong to.
type Category string

const (
	CategoryFloral   Category = "floral"
	CategoryWoody    Category = "woody"
	CategoryFresh    Category = "fresh"
	CategoryOriental Category = "oriental"
	CategoryCitrus   Category = "citrus"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryFloral, CategoryWoody, CategoryFresh, CategoryOriental, CategoryCitrus:
		return true
	default:
		return false
	}
}

// DefaultUnit is assigned to size variants created without a unit.
const DefaultUnit = "ml"

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrAlreadyReviewed is returned when a user reviews the same product twice.
	ErrAlreadyReviewed = errors.New("product already reviewed")
	// ErrDuplicateSize is returned when two size variants share (value, unit).
	ErrDuplicateSize = errors.New("duplicate size variant")
)

// InvalidFieldError reports a product attribute that failed domain validation.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SizeVariant is a purchasable volume of a product with its own price and
// stock counter.
type SizeVariant struct {
	Value int
	Unit  string
	Price decimal.Decimal
	Stock int
}

// Matches reports whether the variant is identified by (value, unit).
func (v SizeVariant) Matches(value int, unit string) bool {
	return v.Value == value && v.Unit == unit
}

// Rating is a single customer review.
type Rating struct {
	UserID string
	Rating int
	Review string
	Date   time.Time
}

// Product represents a catalog item available for purchase.
type Product struct {
	ID            string
	Name          string
	Description   string
	Price         decimal.Decimal
	Sizes         []SizeVariant
	Category      Category
	Images        []string
	Ingredients   []string
	Ratings       []Rating
	AverageRating float64
	TotalReviews  int
	Active        bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Size returns the variant identified by (value, unit).
func (p *Product) Size(value int, unit string) (SizeVariant, bool) {
	for _, s := range p.Sizes {
		if s.Matches(value, unit) {
			return s, true
		}
	}
	return SizeVariant{}, false
}

// ReviewedBy reports whether userID has already rated the product.
func (p *Product) ReviewedBy(userID string) bool {
	for _, r := range p.Ratings {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// AddRating appends r and recomputes the aggregate rating fields.
func (p *Product) AddRating(r Rating) error {
	if p.ReviewedBy(r.UserID) {
		return ErrAlreadyReviewed
	}
	p.Ratings = append(p.Ratings, r)

	var sum int
	for _, rt := range p.Ratings {
		sum += rt.Rating
	}
	p.TotalReviews = len(p.Ratings)
	p.AverageRating = float64(sum) / float64(p.TotalReviews)
	return nil
}

// Validate checks the attributes an administrator is allowed to set.
func (p *Product) Validate() error {
	switch {
	case p.Name == "":
		return &InvalidFieldError{Field: "name", Reason: "required"}
	case p.Description == "":
		return &InvalidFieldError{Field: "description", Reason: "required"}
	case p.Price.IsNegative():
		return &InvalidFieldError{Field: "price", Reason: "must not be negative"}
	case !p.Category.Valid():
		return &InvalidFieldError{Field: "category", Reason: fmt.Sprintf("unknown category %q", p.Category)}
	case len(p.Sizes) == 0:
		return &InvalidFieldError{Field: "size", Reason: "at least one size is required"}
	}

	seen := make(map[string]struct{}, len(p.Sizes))
	for i := range p.Sizes {
		s := &p.Sizes[i]
		if s.Unit == "" {
			s.Unit = DefaultUnit
		}
		if s.Value <= 0 {
			return &InvalidFieldError{Field: "size.value", Reason: "must be positive"}
		}
		if s.Price.IsNegative() {
			return &InvalidFieldError{Field: "size.price", Reason: "must not be negative"}
		}
		if s.Stock < 0 {
			return &InvalidFieldError{Field: "size.stock", Reason: "must not be negative"}
		}
		key := fmt.Sprintf("%d%s", s.Value, s.Unit)
		if _, dup := seen[key]; dup {
			return errors.Wrapf(ErrDuplicateSize, "%d%s", s.Value, s.Unit)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// SortField enumerates the columns a listing can be ordered by.
type SortField string

const (
	SortCreatedAt SortField = "createdAt"
	SortPrice     SortField = "price"
	SortName      SortField = "name"
	SortRating    SortField = "averageRating"
)

// Filter narrows a catalog listing.
type Filter struct {
	Category Category
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
	Search   string
	SortBy   SortField
	Desc     bool
	Page     int
	Limit    int
}

// Offset returns the number of rows to skip for the filter's page.
func (f Filter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Page is one page of a catalog listing. Number and Limit are the paging
// values the listing was actually run with.
type Page struct {
	Products []Product
	Total    int
	Number   int
	Limit    int
}

// TotalPages returns how many pages of Limit products Total spans.
func (p *Page) TotalPages() int {
	if p.Limit <= 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

// Repository defines persistence operations for the product catalog.
type Repository interface {
	List(ctx context.Context, f Filter) (*Page, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	Create(ctx context.Context, p *Product) error
	Update(ctx context.Context, p *Product) error
	Deactivate(ctx context.Context, id string) error
	AddRating(ctx context.Context, productID string, r Rating) error
}
