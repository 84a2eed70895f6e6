package handlers

import (
	"net/http"
	"strings"

	"github.com/saltyorg/cookieshop/internal/auth"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/store"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

// userView is a user without the stored password
type userView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func viewOf(u *store.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		ProfileImage: u.ProfileImage,
		Phone:        u.Phone,
		Address:      u.Address,
		CreatedAt:    u.CreatedAt,
	}
}

func viewsOf(users []store.User) []userView {
	out := make([]userView, len(users))
	for i := range users {
		out[i] = *viewOf(&users[i])
	}
	return out
}

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Signup creates an account and signs it in
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.auth.Signup(r.Context(), h.sess, req.Name, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.publish(events.EventSessionChanged, map[string]any{"userId": user.ID})
	h.writeJSON(w, http.StatusCreated, viewOf(user))
}

// Login signs a user in
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.auth.Login(r.Context(), h.sess, req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if user == nil {
		h.jsonError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	h.publish(events.EventSessionChanged, map[string]any{"userId": user.ID})
	h.writeJSON(w, http.StatusOK, viewOf(user))
}

// Logout signs the active user out
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context(), h.sess); err != nil {
		h.fail(w, r, err)
		return
	}
	h.publish(events.EventSessionChanged, map[string]any{"userId": nil})
	h.jsonSuccess(w, "Signed out")
}

// Me returns the signed-in user, or null
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"user": viewOf(h.sess.Current())})
}

// UpdateProfile patches the signed-in user. A new password is hashed first.
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())

	var patch store.UserPatch
	if !h.decode(w, r, &patch) {
		return
	}
	if err := auth.ValidatePatch(patch); err != nil {
		h.fail(w, r, err)
		return
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		patch.Name = &name
	}
	if patch.Password != nil {
		hash, err := h.auth.Hasher().Hash(*patch.Password)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		patch.Password = &hash
	}

	updated, err := h.store.UpdateUser(r.Context(), h.sess, user.ID, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if updated == nil {
		h.jsonError(w, "User not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, http.StatusOK, viewOf(updated))
}
