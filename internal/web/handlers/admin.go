package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

// Stats summarizes the signed-in user's activity
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	stats, err := h.store.GetStats(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Export returns the signed-in user's data. Stored passwords are omitted.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	export, err := h.store.ExportData(r.Context(), h.sess)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="cookieshop-export.json"`)
	h.writeJSON(w, http.StatusOK, map[string]any{
		"users":       viewsOf(export.Users),
		"currentUser": viewOf(export.CurrentUser),
		"cart":        export.Cart,
		"favorites":   export.Favorites,
		"orders":      export.Orders,
		"exportedAt":  export.ExportedAt,
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateOrderStatus moves an order to a new status
func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !h.decode(w, r, &req) {
		return
	}

	order, err := h.store.UpdateOrderStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if order == nil {
		h.jsonError(w, "Order not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

// DeleteOrder removes an order and its items
func (h *Handlers) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !deleted {
		h.jsonError(w, "Order not found", http.StatusNotFound)
		return
	}
	h.jsonSuccess(w, "Order deleted")
}

// Users lists every account
func (h *Handlers) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.GetAllUsers(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewsOf(users))
}

// DeleteUser removes an account with its cart, favorites and orders
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	deleted, err := h.store.DeleteUser(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !deleted {
		h.jsonError(w, "User not found", http.StatusNotFound)
		return
	}
	if h.sess.IsCurrent(id) {
		if err := h.store.Logout(r.Context(), h.sess); err != nil {
			h.fail(w, r, err)
			return
		}
		h.publish(events.EventSessionChanged, map[string]any{"userId": nil})
	}
	h.jsonSuccess(w, "User deleted")
}

// Reset wipes all stored data
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAllData(r.Context(), h.sess); err != nil {
		h.fail(w, r, err)
		return
	}
	h.publish(events.EventDataCleared, nil)
	h.jsonSuccess(w, "All data cleared")
}

// MaintenanceStatus reports the maintenance scheduler state
func (h *Handlers) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		h.jsonError(w, "Maintenance is not configured", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, h.maintenance.Status())
}

// RunMaintenance optimizes the storage immediately
func (h *Handlers) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.maintenance == nil {
		h.jsonError(w, "Maintenance is not configured", http.StatusServiceUnavailable)
		return
	}
	if err := h.maintenance.RunNow(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.maintenance.Status())
}
