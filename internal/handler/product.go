package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/lascentlo/internal/domain/product"
)

type sizeRequest struct {
	Value int             `json:"value" validate:"gt=0"`
	Unit  string          `json:"unit" validate:"omitempty,max=8"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock" validate:"gte=0"`
}

type productRequest struct {
	Name        string          `json:"name" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category" validate:"required,oneof=floral woody fresh oriental citrus"`
	Sizes       []sizeRequest   `json:"size" validate:"required,min=1,dive"`
	Images      []string        `json:"images" validate:"omitempty,dive,url"`
	Ingredients []string        `json:"ingredients"`
}

func (req productRequest) toDomain(id string) *product.Product {
	sizes := make([]product.SizeVariant, len(req.Sizes))
	for i, s := range req.Sizes {
		sizes[i] = product.SizeVariant{Value: s.Value, Unit: s.Unit, Price: s.Price, Stock: s.Stock}
	}
	return &product.Product{
		ID:          id,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Price:       req.Price,
		Sizes:       sizes,
		Category:    product.Category(req.Category),
		Images:      req.Images,
		Ingredients: req.Ingredients,
	}
}

type reviewRequest struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5"`
	Review string `json:"review" validate:"required"`
}

type sizeResponse struct {
	Value int     `json:"value"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
	Stock int     `json:"stock"`
}

type ratingResponse struct {
	User   string    `json:"user"`
	Rating int       `json:"rating"`
	Review string    `json:"review"`
	Date   time.Time `json:"date"`
}

type productResponse struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Description   string           `json:"description"`
	Price         float64          `json:"price"`
	Sizes         []sizeResponse   `json:"size"`
	Category      string           `json:"category"`
	Images        []string         `json:"images"`
	Ingredients   []string         `json:"ingredients"`
	Ratings       []ratingResponse `json:"ratings"`
	AverageRating float64          `json:"averageRating"`
	TotalReviews  int              `json:"totalReviews"`
	IsActive      bool             `json:"isActive"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

type productListResponse struct {
	Products    []productResponse `json:"products"`
	TotalPages  int               `json:"totalPages"`
	CurrentPage int               `json:"currentPage"`
	Total       int               `json:"total"`
}

func toProductResponse(p *product.Product) productResponse {
	resp := productResponse{
		ID:            p.ID,
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price.InexactFloat64(),
		Sizes:         make([]sizeResponse, len(p.Sizes)),
		Category:      string(p.Category),
		Images:        nonNil(p.Images),
		Ingredients:   nonNil(p.Ingredients),
		Ratings:       make([]ratingResponse, len(p.Ratings)),
		AverageRating: p.AverageRating,
		TotalReviews:  p.TotalReviews,
		IsActive:      p.Active,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
	for i, s := range p.Sizes {
		resp.Sizes[i] = sizeResponse{Value: s.Value, Unit: s.Unit, Price: s.Price.InexactFloat64(), Stock: s.Stock}
	}
	for i, r := range p.Ratings {
		resp.Ratings[i] = ratingResponse{User: r.UserID, Rating: r.Rating, Review: r.Review, Date: r.Date}
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// parseFilter reads the catalog query string:
// page, limit, category, minPrice, maxPrice, search and sort=field[:asc|desc].
func parseFilter(r *http.Request) (product.Filter, error) {
	q := r.URL.Query()
	f := product.Filter{
		Category: product.Category(q.Get("category")),
		Search:   q.Get("search"),
	}
	var err error
	if f.Page, err = intParam(q.Get("page"), "page"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return f, err
	}
	if f.MinPrice, err = priceParam(q.Get("minPrice"), "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = priceParam(q.Get("maxPrice"), "maxPrice"); err != nil {
		return f, err
	}
	if f.MinPrice != nil && f.MaxPrice != nil && f.MinPrice.GreaterThan(*f.MaxPrice) {
		return f, badRequest("minPrice must not exceed maxPrice")
	}
	if sort := q.Get("sort"); sort != "" {
		field, dir, _ := strings.Cut(sort, ":")
		switch dir {
		case "", "asc":
		case "desc":
			f.Desc = true
		default:
			return f, badRequest("sort direction must be asc or desc")
		}
		f.SortBy = product.SortField(field)
	}
	return f, nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest(name + " must be an integer")
	}
	return n, nil
}

func priceParam(raw, name string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || d.IsNegative() {
		return nil, badRequest(name + " must be a non-negative number")
	}
	return &d, nil
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := h.products.List(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := productListResponse{
		Products:    make([]productResponse, len(page.Products)),
		TotalPages:  page.TotalPages(),
		CurrentPage: page.Number,
		Total:       page.Total,
	}
	for i := range page.Products {
		resp.Products[i] = toProductResponse(&page.Products[i])
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := req.toDomain("")
	if err := h.products.Create(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := req.toDomain(chi.URLParam(r, "id"))
	if err := h.products.Update(r.Context(), p); err != nil {
		writeError(w, r, err)
		return
	}
	// Reviews are not part of the update payload; reload them.
	if fresh, err := h.products.Get(r.Context(), p.ID); err == nil {
		p = fresh
	}
	writeJSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.products.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Product removed"})
}

func (h *Handler) addReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.products.AddReview(r.Context(), chi.URLParam(r, "id"), principal(r).UserID, req.Rating, req.Review)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProductResponse(p))
}
