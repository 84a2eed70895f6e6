package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

// Products lists the catalog, optionally filtered by ?category= and ?q=
func (h *Handlers) Products(w http.ResponseWriter, r *http.Request) {
	products := h.catalog.ByCategory(r.URL.Query().Get("category"))
	if q := r.URL.Query().Get("q"); q != "" {
		matches := make(map[string]bool)
		for _, p := range h.catalog.Search(q) {
			matches[p.ID] = true
		}
		filtered := make([]catalog.Product, 0, len(products))
		for _, p := range products {
			if matches[p.ID] {
				filtered = append(filtered, p)
			}
		}
		products = filtered
	}
	if products == nil {
		products = []catalog.Product{}
	}
	h.writeJSON(w, http.StatusOK, products)
}

// Product returns one catalog product
func (h *Handlers) Product(w http.ResponseWriter, r *http.Request) {
	p, ok := h.catalog.Get(chi.URLParam(r, "id"))
	if !ok {
		h.jsonError(w, "Product not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, p)
}

// Categories lists the catalog categories
func (h *Handlers) Categories(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.catalog.Categories())
}

// Cart returns the signed-in user's cart with its count and total
func (h *Handlers) Cart(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	items, err := h.store.GetCartItems(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	count, err := h.store.GetCartCount(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	total, err := h.store.GetCartTotal(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"items": items, "count": count, "total": total})
}

type addToCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// AddToCart adds a catalog product to the cart
func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	req := addToCartRequest{Quantity: 1}
	if !h.decode(w, r, &req) {
		return
	}
	product, ok := h.catalog.Get(req.ProductID)
	if !ok {
		h.jsonError(w, "Product not found", http.StatusNotFound)
		return
	}

	item, err := h.store.AddToCart(r.Context(), user.ID, product, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateCartItem sets a line's quantity; zero removes it
func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	if !h.ownsCartItem(w, r) {
		return
	}

	var req quantityRequest
	if !h.decode(w, r, &req) {
		return
	}

	item, err := h.store.UpdateCartItemQuantity(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

// RemoveCartItem deletes one cart line
func (h *Handlers) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	if !h.ownsCartItem(w, r) {
		return
	}

	item, err := h.store.RemoveFromCart(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

// ownsCartItem answers 404 unless the line belongs to the signed-in user
func (h *Handlers) ownsCartItem(w http.ResponseWriter, r *http.Request) bool {
	user := middleware.GetUser(r.Context())
	items, err := h.store.GetCartItems(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return false
	}
	id := chi.URLParam(r, "id")
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	h.jsonError(w, "Cart item not found", http.StatusNotFound)
	return false
}

// ClearCart empties the cart
func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if err := h.store.ClearCart(r.Context(), user.ID); err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonSuccess(w, "Cart cleared")
}

// Favorites returns the favorites and their product ids
func (h *Handlers) Favorites(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	items, err := h.store.GetFavoriteItems(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items, "productIds": ids})
}

// ToggleFavorite flips a product's favorite state
func (h *Handlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	productID := chi.URLParam(r, "productId")
	if _, ok := h.catalog.Get(productID); !ok {
		h.jsonError(w, "Product not found", http.StatusNotFound)
		return
	}

	on, err := h.store.ToggleFavorite(r.Context(), user.ID, productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"productId": productID, "favorite": on})
}

// AddFavorite favorites a product
func (h *Handlers) AddFavorite(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	productID := chi.URLParam(r, "productId")
	if _, ok := h.catalog.Get(productID); !ok {
		h.jsonError(w, "Product not found", http.StatusNotFound)
		return
	}

	item, err := h.store.AddToFavorites(r.Context(), user.ID, productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

// RemoveFavorite unfavorites a product
func (h *Handlers) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	removed, err := h.store.RemoveFromFavorites(r.Context(), user.ID, chi.URLParam(r, "productId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}
