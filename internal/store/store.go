// Package store is the storefront's data access layer. It is built only on
// the database.Manager primitives, so it behaves the same on every backend.
package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/database"
)

// TimeFormat is the persisted timestamp layout. Lexical order equals
// chronological order.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Id prefixes
const (
	PrefixUser      = "USER"
	PrefixCart      = "CART"
	PrefixFavorite  = "FAV"
	PrefixOrder     = "ORD"
	PrefixOrderItem = "ORDITEM"
)

var (
	// ErrDuplicateEmail is returned when another user already has the email
	ErrDuplicateEmail = errors.New("email already registered")
	// ErrInvalidQuantity is returned for cart additions below one
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
	// ErrInvalidStatus is returned for order statuses outside database.OrderStatuses
	ErrInvalidStatus = errors.New("invalid order status")
	// ErrUnknownProduct is returned when an order line has no product snapshot
	ErrUnknownProduct = errors.New("unknown product")
)

// Products resolves catalog ids for cart hydration and order snapshots
type Products interface {
	Get(id string) (catalog.Product, bool)
}

// Store is the repository over a database.Manager
type Store struct {
	db       *database.Manager
	products Products
	now      func() time.Time
}

// New creates a store. products may be nil, in which case cart items are
// returned without product details.
func New(db *database.Manager, products Products) *Store {
	return &Store{db: db, products: products, now: time.Now}
}

// DB returns the underlying manager
func (s *Store) DB() *database.Manager {
	return s.db
}

func (s *Store) product(id string) *catalog.Product {
	if s.products == nil {
		return nil
	}
	p, ok := s.products.Get(id)
	if !ok {
		return nil
	}
	return &p
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeFormat)
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newID returns PREFIX_<unix millis>_<9 random base36 chars>. Unique within a
// process for this workload, not collision proof.
func (s *Store) newID(prefix string) string {
	return fmt.Sprintf("%s_%d_%s", prefix, s.now().UnixMilli(), randomSuffix(9))
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return string(buf)
}
