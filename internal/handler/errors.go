package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/lascentlo/internal/domain/auth"
	"github.com/xenking/lascentlo/internal/domain/order"
	"github.com/xenking/lascentlo/internal/domain/payment"
	"github.com/xenking/lascentlo/internal/domain/product"
	"github.com/xenking/lascentlo/internal/domain/user"
)

// Error kinds reported in the "kind" field of error bodies.
const (
	kindValidation        = "validation_error"
	kindUnauthorized      = "unauthorized"
	kindNotSettled        = "payment_not_settled"
	kindForbidden         = "forbidden"
	kindNotFound          = "not_found"
	kindInvalidSize       = "invalid_size"
	kindInsufficientStock = "insufficient_stock"
	kindStockExhausted    = "stock_exhausted"
	kindConflict          = "conflict"
	kindInvalidTransition = "invalid_transition"
	kindAlreadyReviewed   = "already_reviewed"
	kindAlreadyVerified   = "already_verified"
	kindProcessorError    = "payment_processor_error"
	kindProcessorUnavail  = "payment_processor_unavailable"
	kindInternal          = "internal"
	internalMessage       = "internal server error"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// apiError is the body of every non-2xx response.
type apiError struct {
	Code    int          `json:"code"`
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Details []fieldError `json:"details,omitempty"`
}

func (e *apiError) Error() string { return e.Message }

func badRequest(msg string) *apiError {
	return &apiError{Code: http.StatusBadRequest, Kind: kindValidation, Message: msg}
}

type sentinel struct {
	err  error
	code int
	kind string
}

// Processor sentinels come first: their wrapped causes carry processor
// details that must not reach the client.
var sentinels = []sentinel{
	{payment.ErrUnavailable, http.StatusServiceUnavailable, kindProcessorUnavail},
	{payment.ErrProcessor, http.StatusBadGateway, kindProcessorError},

	{order.ErrEmptyItems, http.StatusBadRequest, kindValidation},
	{order.ErrInvalidMethod, http.StatusBadRequest, kindValidation},
	{order.ErrIntentMismatch, http.StatusBadRequest, kindValidation},
	{product.ErrDuplicateSize, http.StatusBadRequest, kindValidation},
	{user.ErrWrongPassword, http.StatusBadRequest, kindValidation},
	{user.ErrInvalidToken, http.StatusBadRequest, kindValidation},

	{auth.ErrInvalidToken, http.StatusUnauthorized, kindUnauthorized},
	{user.ErrInvalidCredentials, http.StatusUnauthorized, kindUnauthorized},

	{order.ErrPaymentNotSettled, http.StatusPaymentRequired, kindNotSettled},
	{order.ErrForbidden, http.StatusForbidden, kindForbidden},

	{order.ErrNotFound, http.StatusNotFound, kindNotFound},
	{product.ErrNotFound, http.StatusNotFound, kindNotFound},
	{user.ErrNotFound, http.StatusNotFound, kindNotFound},

	{order.ErrConcurrentUpdate, http.StatusConflict, kindConflict},
	{order.ErrAlreadyPaid, http.StatusConflict, kindConflict},
	{user.ErrEmailExists, http.StatusConflict, kindConflict},
	{product.ErrAlreadyReviewed, http.StatusConflict, kindAlreadyReviewed},
	{user.ErrAlreadyVerified, http.StatusConflict, kindAlreadyVerified},
}

// toAPIError classifies err. Unknown errors become a generic 500.
func toAPIError(err error) *apiError {
	var (
		ae          *apiError
		ve          validator.ValidationErrors
		notFound    *order.ProductNotFoundError
		badQty      *order.InvalidQuantityError
		badSize     *order.InvalidSizeError
		shortStock  *order.InsufficientStockError
		exhausted   *order.StockExhaustedError
		transition  *order.InvalidTransitionError
		productAttr *product.InvalidFieldError
		userAttr    *user.InvalidFieldError
	)
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.As(err, &ve):
		return validationError(ve)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return &apiError{Code: s.code, Kind: s.kind, Message: s.err.Error()}
		}
	}
	switch {
	case errors.As(err, &notFound):
		return &apiError{Code: http.StatusNotFound, Kind: kindNotFound, Message: notFound.Error()}
	case errors.As(err, &badQty):
		return &apiError{Code: http.StatusBadRequest, Kind: kindValidation, Message: badQty.Error()}
	case errors.As(err, &productAttr):
		return &apiError{Code: http.StatusBadRequest, Kind: kindValidation, Message: productAttr.Error()}
	case errors.As(err, &userAttr):
		return &apiError{Code: http.StatusBadRequest, Kind: kindValidation, Message: userAttr.Error()}
	case errors.As(err, &badSize):
		return &apiError{Code: http.StatusUnprocessableEntity, Kind: kindInvalidSize, Message: badSize.Error()}
	case errors.As(err, &shortStock):
		return &apiError{Code: http.StatusUnprocessableEntity, Kind: kindInsufficientStock, Message: shortStock.Error()}
	case errors.As(err, &exhausted):
		return &apiError{Code: http.StatusConflict, Kind: kindStockExhausted, Message: exhausted.Error()}
	case errors.As(err, &transition):
		return &apiError{Code: http.StatusConflict, Kind: kindInvalidTransition, Message: transition.Error()}
	}
	return &apiError{Code: http.StatusInternalServerError, Kind: kindInternal, Message: internalMessage}
}

func validationError(ve validator.ValidationErrors) *apiError {
	details := make([]fieldError, 0, len(ve))
	for _, fe := range ve {
		details = append(details, fieldError{Field: fe.Namespace(), Message: describe(fe)})
	}
	return &apiError{
		Code:    http.StatusBadRequest,
		Kind:    kindValidation,
		Message: "request validation failed",
		Details: details,
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "uuid":
		return "must be a valid id"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be less than " + fe.Param()
	case "url":
		return "must be a valid URL"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// writeError classifies err and writes its JSON body. Internal errors are
// logged with their full cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := toAPIError(err)
	if ae.Code >= http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("kind", ae.Kind),
			zap.Error(err),
		)
	}
	writeJSON(w, ae.Code, ae)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
