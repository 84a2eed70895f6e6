package web

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/saltyorg/cookieshop/internal/auth"
	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/checkout"
	"github.com/saltyorg/cookieshop/internal/database"
	"github.com/saltyorg/cookieshop/internal/events"
	"github.com/saltyorg/cookieshop/internal/kvstore"
	"github.com/saltyorg/cookieshop/internal/maintenance"
	"github.com/saltyorg/cookieshop/internal/store"
	"github.com/saltyorg/cookieshop/internal/web/handlers"
	"github.com/saltyorg/cookieshop/internal/web/middleware"
)

const testAdminToken = "0123456789abcdef"

type testEnv struct {
	server *Server
	broker *events.Broker
	sess   *store.Session
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	kv := kvstore.NewMemoryStore()
	db, err := database.Open(database.Config{Kind: database.KindKV, KV: kv})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	products := catalog.New([]catalog.Product{
		{ID: "choco", Name: "Chocolate Chip", Price: 85, Category: "classic"},
		{ID: "oat", Name: "Oatmeal", Price: 75, Category: "classic"},
		{ID: "matcha", Name: "Matcha", Price: 105.5, Category: "specialty"},
	})
	st := store.New(db, products)
	sess := store.NewSession(kv)

	broker := events.NewBroker(events.WithHeartbeat(time.Hour))
	t.Cleanup(broker.Stop)
	db.OnChange(broker.OnChange)

	sched := maintenance.NewScheduler(db, maintenance.Config{})
	sched.SetBroker(broker)

	srv := NewServer(handlers.Deps{
		Store:       st,
		Session:     sess,
		Auth:        auth.NewService(st, auth.NewHasher(bcrypt.MinCost)),
		Checkout:    checkout.NewService(st, checkout.DefaultPricing()),
		Catalog:     products,
		Broker:      broker,
		Maintenance: sched,
	}, Config{Addr: ":0", AdminToken: testAdminToken, AllowedOrigins: []string{"http://localhost:5173"}})

	return &testEnv{server: srv, broker: broker, sess: sess}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func signup(t *testing.T, e *testEnv) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Jane Doe", "email": "jane@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

var shipping = map[string]string{
	"firstName": "Jane", "lastName": "Doe", "email": "jane@example.com",
	"phone": "0917", "address": "1 Main St", "city": "Makati",
	"state": "NCR", "zipCode": "1200",
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ready"])
	assert.Equal(t, "kv", body["backend"])
}

func TestProducts(t *testing.T) {
	e := newTestEnv(t)

	all := decodeBody[[]catalog.Product](t, e.do(t, http.MethodGet, "/api/products", nil))
	assert.Len(t, all, 3)

	classic := decodeBody[[]catalog.Product](t, e.do(t, http.MethodGet, "/api/products?category=classic&q=oat", nil))
	require.Len(t, classic, 1)
	assert.Equal(t, "oat", classic[0].ID)

	none := e.do(t, http.MethodGet, "/api/products?category=vegan", nil)
	assert.JSONEq(t, "[]", none.Body.String())

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/products/nope", nil).Code)
	assert.Equal(t, []string{"classic", "specialty"},
		decodeBody[[]string](t, e.do(t, http.MethodGet, "/api/categories", nil)))
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(t, http.MethodGet, "/api/cart", nil).Code)

	signup(t, e)
	dup := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "Jane Again", "email": "JANE@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, dup.Code)

	bad := e.do(t, http.MethodPost, "/api/auth/signup", map[string]string{
		"name": "J", "email": "nope", "password": "1",
	})
	assert.Equal(t, http.StatusBadRequest, bad.Code)

	me := decodeBody[map[string]map[string]any](t, e.do(t, http.MethodGet, "/api/auth/me", nil))
	assert.Equal(t, "jane@example.com", me["user"]["email"])
	assert.NotContains(t, me["user"], "password")

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/auth/logout", nil).Code)
	assert.Nil(t, e.sess.Current())

	wrong := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "jane@example.com", "password": "wrong!!",
	})
	assert.Equal(t, http.StatusUnauthorized, wrong.Code)

	ok := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "Jane@Example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusOK, ok.Code, ok.Body.String())

	name := "Jane Q. Doe"
	rec := e.do(t, http.MethodPatch, "/api/profile", map[string]any{"name": name})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, name, e.sess.Current().Name)
}

func TestUpdateProfileValidation(t *testing.T) {
	e := newTestEnv(t)
	signup(t, e)

	tests := []struct {
		name  string
		patch map[string]any
	}{
		{"empty email and name", map[string]any{"email": "", "name": ""}},
		{"malformed email", map[string]any{"email": "jane.example.com"}},
		{"short name", map[string]any{"name": " J "}},
		{"short password", map[string]any{"password": "12345"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPatch, "/api/profile", tt.patch)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	current := e.sess.Current()
	require.NotNil(t, current)
	assert.Equal(t, "Jane Doe", current.Name)
	assert.Equal(t, "jane@example.com", current.Email)

	// the account stays reachable with the original credentials
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/auth/logout", nil).Code)
	login := e.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "jane@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusOK, login.Code, login.Body.String())

	rec := e.do(t, http.MethodPatch, "/api/profile", map[string]any{"name": "  Janet  ", "password": "newsecret"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Janet", e.sess.Current().Name)
}

func TestCartAndCheckout(t *testing.T) {
	e := newTestEnv(t)
	signup(t, e)

	rec := e.do(t, http.MethodPost, "/api/cart", map[string]any{"productId": "choco", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decodeBody[store.CartItem](t, rec)

	assert.Equal(t, http.StatusNotFound,
		e.do(t, http.MethodPost, "/api/cart", map[string]any{"productId": "nope"}).Code)

	cart := decodeBody[map[string]any](t, e.do(t, http.MethodGet, "/api/cart", nil))
	assert.Equal(t, float64(2), cart["count"])
	assert.Equal(t, float64(170), cart["total"])

	rec = e.do(t, http.MethodPatch, "/api/cart/"+item.ID, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusNotFound,
		e.do(t, http.MethodPatch, "/api/cart/cart_missing", map[string]int{"quantity": 1}).Code)

	quote := decodeBody[checkout.Summary](t, e.do(t, http.MethodPost, "/api/checkout/quote", map[string]string{}))
	assert.Equal(t, checkout.Summary{Subtotal: 255, Shipping: 50, Tax: 30.6, Total: 335.6, Items: 3}, quote)

	assert.Equal(t, http.StatusBadRequest,
		e.do(t, http.MethodPost, "/api/checkout/quote", map[string]string{"promoCode": "FREE"}).Code)

	missing := e.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"shippingInfo": map[string]string{"firstName": "Jane"}, "paymentMethod": "cod",
	})
	require.Equal(t, http.StatusBadRequest, missing.Code)
	fields := decodeBody[map[string]any](t, missing)
	assert.Contains(t, fields["fields"], "zipCode")

	rec = e.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"shippingInfo": shipping, "paymentMethod": "cod", "promoCode": "cookie20",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[store.Order](t, rec)
	assert.Equal(t, store.StatusPending, order.Status)
	assert.Equal(t, 255.0, order.Subtotal)
	assert.Equal(t, 278.48, order.Total)
	require.Len(t, order.Items, 1)
	assert.Equal(t, 3, order.Items[0].Quantity)

	cart = decodeBody[map[string]any](t, e.do(t, http.MethodGet, "/api/cart", nil))
	assert.Equal(t, float64(0), cart["count"])

	orders := decodeBody[[]store.Order](t, e.do(t, http.MethodGet, "/api/orders", nil))
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/orders/"+order.ID, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/orders/ord_missing", nil).Code)

	stats := decodeBody[store.Stats](t, e.do(t, http.MethodGet, "/api/stats", nil))
	assert.Equal(t, 1, stats.TotalOrders)
	assert.Equal(t, order.Total, stats.TotalSpent)

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"shippingInfo": shipping, "paymentMethod": "cod",
	}).Code)
}

func TestFavorites(t *testing.T) {
	e := newTestEnv(t)
	signup(t, e)

	on := decodeBody[map[string]any](t, e.do(t, http.MethodPost, "/api/favorites/matcha/toggle", nil))
	assert.Equal(t, true, on["favorite"])

	require.Equal(t, http.StatusOK, e.do(t, http.MethodPut, "/api/favorites/oat", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodPut, "/api/favorites/nope", nil).Code)

	favs := decodeBody[map[string][]any](t, e.do(t, http.MethodGet, "/api/favorites", nil))
	assert.ElementsMatch(t, []any{"matcha", "oat"}, favs["productIds"])

	off := decodeBody[map[string]any](t, e.do(t, http.MethodPost, "/api/favorites/matcha/toggle", nil))
	assert.Equal(t, false, off["favorite"])

	removed := decodeBody[map[string]bool](t, e.do(t, http.MethodDelete, "/api/favorites/oat", nil))
	assert.True(t, removed["removed"])
}

func TestAdminRoutes(t *testing.T) {
	e := newTestEnv(t)
	signup(t, e)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/admin/users", nil).Code)
	assert.Equal(t, http.StatusForbidden,
		e.do(t, http.MethodGet, "/api/admin/users", nil, middleware.AdminTokenHeader, "wrong").Code)

	rec := e.do(t, http.MethodGet, "/api/admin/users", nil, middleware.AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	users := decodeBody[[]map[string]any](t, rec)
	require.Len(t, users, 1)

	e.do(t, http.MethodPost, "/api/cart", map[string]any{"productId": "oat", "quantity": 1})
	order := decodeBody[store.Order](t, e.do(t, http.MethodPost, "/api/checkout", map[string]any{
		"shippingInfo": shipping, "paymentMethod": "card",
	}))

	rec = e.do(t, http.MethodPatch, "/api/admin/orders/"+order.ID+"/status", map[string]string{"status": "shipped"},
		middleware.AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "shipped", decodeBody[store.Order](t, rec).Status)

	rec = e.do(t, http.MethodPatch, "/api/admin/orders/"+order.ID+"/status", map[string]string{"status": "lost"},
		middleware.AdminTokenHeader, testAdminToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/admin/maintenance/run", nil, middleware.AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decodeBody[map[string]any](t, rec)["runs"])

	rec = e.do(t, http.MethodDelete, "/api/admin/users/"+users[0]["id"].(string), nil,
		middleware.AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, e.sess.Current())

	rec = e.do(t, http.MethodPost, "/api/admin/reset", nil, middleware.AdminTokenHeader, testAdminToken)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/admin/users", nil, middleware.AdminTokenHeader, testAdminToken)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	e := newTestEnv(t)
	srv := NewServer(e.server.deps, Config{Addr: ":0"})

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAllowSubnet(t *testing.T) {
	e := newTestEnv(t)
	signup(t, e)

	_, allowed, err := net.ParseCIDR("10.0.0.0/8")
	require.NoError(t, err)
	srv := NewServer(e.server.deps, Config{Addr: ":0", AllowedNet: allowed})

	tests := []struct {
		name       string
		remoteAddr string
		realIP     string
		want       int
	}{
		{"inside subnet", "10.1.2.3:5555", "", http.StatusOK},
		{"outside subnet", "192.0.2.1:1234", "", http.StatusForbidden},
		{"spoofed forwarding header", "192.0.2.1:1234", "10.1.2.3", http.StatusForbidden},
		{"unparseable address", "garbage", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}
			rec := httptest.NewRecorder()
			srv.Router().ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestCORS(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/categories", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestWebSocketEvents(t *testing.T) {
	e := newTestEnv(t)
	ts := httptest.NewServer(e.server.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() events.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	assert.Equal(t, events.EventConnected, read().Type)
	require.Eventually(t, func() bool { return e.broker.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	signup(t, e)

	seen := map[events.EventType]bool{}
	for !seen[events.EventSessionChanged] || !seen[events.EventDataChanged] {
		seen[read().Type] = true
	}

	e.broker.Stop()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
