package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saltyorg/cookieshop/internal/checkout"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/store"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

// Orders lists the signed-in user's orders, newest first
func (h *Handlers) Orders(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	orders, err := h.store.GetAllOrders(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, orders)
}

// Order returns one of the signed-in user's orders
func (h *Handlers) Order(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	order, err := h.store.GetOrderByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if order == nil || order.UserID != user.ID {
		h.jsonError(w, "Order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

type quoteRequest struct {
	PromoCode string `json:"promoCode"`
}

type checkoutRequest struct {
	ShippingInfo  store.ShippingInfo `json:"shippingInfo"`
	PaymentMethod string             `json:"paymentMethod"`
	PromoCode     string             `json:"promoCode"`
}

// discount resolves a promo code, answering 400 for unknown codes
func (h *Handlers) discount(w http.ResponseWriter, code string) (float64, bool) {
	d, ok := checkout.DiscountFor(code)
	if !ok {
		h.jsonError(w, "Invalid promo code", http.StatusBadRequest)
	}
	return d, ok
}

// Quote prices the cart without placing an order
func (h *Handlers) Quote(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req quoteRequest
	if !h.decode(w, r, &req) {
		return
	}
	discount, ok := h.discount(w, req.PromoCode)
	if !ok {
		return
	}

	summary, err := h.checkout.Quote(r.Context(), user.ID, discount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

// Checkout places an order from the cart and clears it
func (h *Handlers) Checkout(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var req checkoutRequest
	if !h.decode(w, r, &req) {
		return
	}
	discount, ok := h.discount(w, req.PromoCode)
	if !ok {
		return
	}

	order, err := h.checkout.PlaceOrder(r.Context(), user.ID, req.ShippingInfo, req.PaymentMethod, discount)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.EventOrderPlaced, map[string]any{"orderId": order.ID, "total": order.Total})
	h.writeJSON(w, http.StatusCreated, order)
}
