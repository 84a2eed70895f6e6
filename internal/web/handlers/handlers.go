package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/auth"
	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/checkout"
	"github.com/saltyorg/cookieshop/internal/database"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/maintenance"
	"github.com/saltyorg/cookieshop/internal/store"
)

// maxBodyBytes caps decoded request bodies
const maxBodyBytes = 1 << 20

// VersionInfo holds application version information
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Deps are the services the handlers call into
type Deps struct {
	Store       *store.Store
	Session     *store.Session
	Auth        *auth.Service
	Checkout    *checkout.Service
	Catalog     *catalog.Catalog
	Broker      *events.Broker
	Maintenance *maintenance.Scheduler
	Version     VersionInfo
	PingPeriod  time.Duration
}

// Handlers contains all HTTP handlers
type Handlers struct {
	store       *store.Store
	sess        *store.Session
	auth        *auth.Service
	checkout    *checkout.Service
	catalog     *catalog.Catalog
	broker      *events.Broker
	maintenance *maintenance.Scheduler
	version     VersionInfo
	pingPeriod  time.Duration
}

// New creates a new Handlers instance
func New(d Deps) *Handlers {
	ping := d.PingPeriod
	if ping <= 0 {
		ping = 30 * time.Second
	}
	return &Handlers{
		store:       d.Store,
		sess:        d.Session,
		auth:        d.Auth,
		checkout:    d.Checkout,
		catalog:     d.Catalog,
		broker:      d.Broker,
		maintenance: d.Maintenance,
		version:     d.Version,
		pingPeriod:  ping,
	}
}

// publish sends an event if the broker is configured
func (h *Handlers) publish(t events.EventType, data any) {
	if h.broker != nil {
		h.broker.Publish(t, data)
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

// jsonError sends a JSON error response
func (h *Handlers) jsonError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// jsonSuccess sends a JSON success response
func (h *Handlers) jsonSuccess(w http.ResponseWriter, message string) {
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": message})
}

// decode reads a JSON body into dst and answers 400 on failure
func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// fail maps service errors to responses
func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	var fields checkout.FieldErrors
	switch {
	case errors.As(err, &fields):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid shipping info", "fields": fields})
	case errors.Is(err, auth.ErrEmailTaken), errors.Is(err, store.ErrDuplicateEmail):
		h.jsonError(w, "Email already registered", http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, store.ErrInvalidQuantity),
		errors.Is(err, store.ErrInvalidStatus),
		errors.Is(err, store.ErrUnknownProduct),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidDiscount),
		errors.Is(err, checkout.ErrPaymentMethod):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, maintenance.ErrBusy):
		h.jsonError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, database.ErrConstraint):
		h.jsonError(w, "Request conflicts with stored data", http.StatusConflict)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		h.jsonError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Health reports readiness of the storage layer
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	db := h.store.DB()
	status := http.StatusOK
	if err := db.Initialize(r.Context()); err != nil {
		log.Error().Err(err).Msg("Health check failed")
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"ready":   db.Ready(),
		"backend": db.Backend(),
		"version": h.version,
	})
}
