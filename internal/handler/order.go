package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/lascentlo/internal/domain/order"
)

type sizeRef struct {
	Value int    `json:"value" validate:"gt=0"`
	Unit  string `json:"unit" validate:"omitempty,max=8"`
}

type cartItemRequest struct {
	Product  string  `json:"product" validate:"required,uuid"`
	Size     sizeRef `json:"size"`
	Quantity int     `json:"quantity" validate:"min=1"`
}

type addressRequest struct {
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

type checkoutRequest struct {
	Items           []cartItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress addressRequest    `json:"shippingAddress"`
	PaymentMethod   string            `json:"paymentMethod" validate:"required,oneof=stripe paypal"`
}

func (req checkoutRequest) toDomain() order.CheckoutRequest {
	items := make([]order.CartItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = order.CartItem{
			ProductID: it.Product,
			Value:     it.Size.Value,
			Unit:      it.Size.Unit,
			Quantity:  it.Quantity,
		}
	}
	a := req.ShippingAddress
	return order.CheckoutRequest{
		Items: items,
		ShippingAddress: order.Address{
			Street:     a.Street,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		},
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
	}
}

type confirmPaymentRequest struct {
	OrderID         string `json:"orderId" validate:"required,uuid"`
	PaymentIntentID string `json:"paymentIntentId" validate:"required"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending processing shipped delivered cancelled"`
}

type snapshotResponse struct {
	Value int     `json:"value"`
	Unit  string  `json:"unit"`
	Price float64 `json:"price"`
}

type lineItemResponse struct {
	Product  string           `json:"product"`
	Name     string           `json:"name"`
	Size     snapshotResponse `json:"size"`
	Quantity int              `json:"quantity"`
}

type addressResponse struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

type paymentResponse struct {
	Method          string `json:"method"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	TransactionID   string `json:"transactionId,omitempty"`
	Status          string `json:"status"`
}

type orderResponse struct {
	ID                string             `json:"id"`
	User              string             `json:"user"`
	Items             []lineItemResponse `json:"items"`
	ShippingAddress   addressResponse    `json:"shippingAddress"`
	PaymentInfo       paymentResponse    `json:"paymentInfo"`
	Status            string             `json:"status"`
	Subtotal          float64            `json:"subtotal"`
	ShippingCost      float64            `json:"shippingCost"`
	Tax               float64            `json:"tax"`
	Total             float64            `json:"total"`
	TrackingNumber    string             `json:"trackingNumber,omitempty"`
	EstimatedDelivery *time.Time         `json:"estimatedDelivery,omitempty"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

func toOrderResponse(o *order.Order) orderResponse {
	resp := orderResponse{
		ID:    o.ID,
		User:  o.UserID,
		Items: make([]lineItemResponse, len(o.Items)),
		ShippingAddress: addressResponse{
			Street:     o.ShippingAddress.Street,
			City:       o.ShippingAddress.City,
			State:      o.ShippingAddress.State,
			PostalCode: o.ShippingAddress.PostalCode,
			Country:    o.ShippingAddress.Country,
		},
		PaymentInfo: paymentResponse{
			Method:          string(o.Payment.Method),
			PaymentIntentID: o.Payment.IntentID,
			TransactionID:   o.Payment.TransactionID,
			Status:          string(o.Payment.Status),
		},
		Status:            string(o.Status),
		Subtotal:          o.Subtotal.InexactFloat64(),
		ShippingCost:      o.ShippingCost.InexactFloat64(),
		Tax:               o.Tax.InexactFloat64(),
		Total:             o.Total.InexactFloat64(),
		TrackingNumber:    o.TrackingNumber,
		EstimatedDelivery: o.EstimatedDelivery,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for i, li := range o.Items {
		resp.Items[i] = lineItemResponse{
			Product:  li.ProductID,
			Name:     li.Name,
			Size:     snapshotResponse{Value: li.Size.Value, Unit: li.Size.Unit, Price: li.Size.Price.InexactFloat64()},
			Quantity: li.Quantity,
		}
	}
	return resp
}

func toOrderList(orders []order.Order) []orderResponse {
	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	return out
}

type checkoutResponse struct {
	Order        orderResponse `json:"order"`
	ClientSecret string        `json:"clientSecret"`
}

type confirmPaymentResponse struct {
	Message string        `json:"message"`
	Order   orderResponse `json:"order"`
}

func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.Checkout(r.Context(), requester(r), req.toDomain())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, checkoutResponse{
		Order:        toOrderResponse(res.Order),
		ClientSecret: res.ClientSecret,
	})
}

func (h *Handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.ConfirmPayment(r.Context(), requester(r), req.OrderID, req.PaymentIntentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, confirmPaymentResponse{Message: "Payment confirmed", Order: toOrderResponse(o)})
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListMine(r.Context(), requester(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), requester(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "id"), order.Status(req.Status))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var status order.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		s, err := order.ParseStatus(raw)
		if err != nil {
			writeError(w, r, badRequest(err.Error()))
			return
		}
		status = s
	}
	orders, err := h.orders.ListAll(r.Context(), status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderList(orders))
}
