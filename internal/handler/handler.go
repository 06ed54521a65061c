// Package handler exposes the storefront domain services as a JSON HTTP API
// routed with chi.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/xenking/lascentlo/internal/domain/auth"
	"github.com/xenking/lascentlo/internal/domain/order"
	"github.com/xenking/lascentlo/internal/domain/product"
	"github.com/xenking/lascentlo/internal/domain/user"
)

// OrderService is the checkout and fulfilment surface used by the API.
type OrderService interface {
	Checkout(ctx context.Context, who order.Requester, req order.CheckoutRequest) (*order.CheckoutResult, error)
	ConfirmPayment(ctx context.Context, who order.Requester, orderID, intentID string) (*order.Order, error)
	UpdateStatus(ctx context.Context, orderID string, next order.Status) (*order.Order, error)
	Get(ctx context.Context, who order.Requester, orderID string) (*order.Order, error)
	ListMine(ctx context.Context, who order.Requester) ([]order.Order, error)
	ListAll(ctx context.Context, status order.Status) ([]order.Order, error)
}

// ProductService is the catalog surface used by the API.
type ProductService interface {
	List(ctx context.Context, f product.Filter) (*product.Page, error)
	Get(ctx context.Context, id string) (*product.Product, error)
	Create(ctx context.Context, p *product.Product) error
	Update(ctx context.Context, p *product.Product) error
	Delete(ctx context.Context, id string) error
	AddReview(ctx context.Context, productID, userID string, rating int, review string) (*product.Product, error)
}

// AccountService is the account surface used by the API.
type AccountService interface {
	Register(ctx context.Context, in user.RegisterInput) (*user.Session, error)
	Login(ctx context.Context, email, password string) (*user.Session, error)
	Me(ctx context.Context, userID string) (*user.User, error)
	UpdateProfile(ctx context.Context, userID string, in user.ProfileInput) (*user.User, error)
	ChangePassword(ctx context.Context, userID, current, next string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, rawToken, password string) (*user.Session, error)
	SendVerification(ctx context.Context, userID string) error
	VerifyEmail(ctx context.Context, rawToken string) (*user.User, error)
}

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// AuthLimit, when set, guards the credential endpoints under /api/auth.
	AuthLimit func(http.Handler) http.Handler
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	products ProductService
	accounts AccountService
	tokens   TokenVerifier

	validate  *validator.Validate
	authLimit func(http.Handler) http.Handler
	maxBody   int64
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	orders OrderService,
	products ProductService,
	accounts AccountService,
	tokens TokenVerifier,
) *Handler {
	h := &Handler{
		orders:    orders,
		products:  products,
		accounts:  accounts,
		tokens:    tokens,
		validate:  newValidator(),
		authLimit: cfg.AuthLimit,
		maxBody:   cfg.MaxBodyBytes,
	}
	if h.authLimit == nil {
		h.authLimit = func(next http.Handler) http.Handler { return next }
	}
	if h.maxBody <= 0 {
		h.maxBody = 1 << 20
	}
	return h
}

// Mount registers every API route on r under /api.
func (h *Handler) Mount(r chi.Router) {
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &apiError{Code: http.StatusNotFound, Kind: kindNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, &apiError{Code: http.StatusMethodNotAllowed, Kind: kindValidation, Message: "method not allowed"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(h.authLimit)
			r.Post("/register", h.register)
			r.Post("/login", h.login)
			r.Post("/forgot-password", h.forgotPassword)
			r.Post("/reset-password", h.resetPassword)
			r.Get("/verify-email/{token}", h.verifyEmail)
			r.With(h.authenticate).Post("/send-verification", h.sendVerification)
			r.With(h.authenticate).Get("/me", h.me)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(h.authenticate)
			r.Get("/profile", h.me)
			r.Put("/profile", h.updateProfile)
			r.Put("/password", h.changePassword)
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Get("/{id}", h.getProduct)
			r.Group(func(r chi.Router) {
				r.Use(h.authenticate)
				r.Post("/{id}/reviews", h.addReview)
				r.Group(func(r chi.Router) {
					r.Use(requireAdmin)
					r.Post("/", h.createProduct)
					r.Put("/{id}", h.updateProduct)
					r.Delete("/{id}", h.deleteProduct)
				})
			})
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(h.authenticate)
			r.Post("/", h.checkout)
			r.Post("/confirm-payment", h.confirmPayment)
			r.Get("/mine", h.myOrders)
			r.Get("/my-orders", h.myOrders)
			r.Get("/{id}", h.getOrder)
			r.With(requireAdmin).Patch("/{id}/status", h.updateOrderStatus)
		})

		r.With(h.authenticate, requireAdmin).Get("/admin/orders", h.listOrders)
	})
}
