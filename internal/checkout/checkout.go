package checkout

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/store"
)

var (
	// ErrEmptyCart is returned when placing an order with nothing in the cart
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInvalidShipping is returned when shipping details are incomplete
	ErrInvalidShipping = errors.New("invalid shipping info")
	// ErrPaymentMethod is returned when no payment method is given
	ErrPaymentMethod = errors.New("payment method is required")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// FieldErrors maps a shipping field to its problem
type FieldErrors map[string]string

func (f FieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for _, field := range shippingFields {
		if msg, ok := f[field.name]; ok {
			parts = append(parts, field.name+": "+msg)
		}
	}
	return strings.Join(parts, ", ")
}

func (f FieldErrors) Unwrap() error { return ErrInvalidShipping }

var shippingFields = []struct {
	name  string
	value func(store.ShippingInfo) string
}{
	{"firstName", func(i store.ShippingInfo) string { return i.FirstName }},
	{"lastName", func(i store.ShippingInfo) string { return i.LastName }},
	{"email", func(i store.ShippingInfo) string { return i.Email }},
	{"phone", func(i store.ShippingInfo) string { return i.Phone }},
	{"address", func(i store.ShippingInfo) string { return i.Address }},
	{"city", func(i store.ShippingInfo) string { return i.City }},
	{"state", func(i store.ShippingInfo) string { return i.State }},
	{"zipCode", func(i store.ShippingInfo) string { return i.ZipCode }},
}

// ValidateShipping checks that every required field is present and the email
// looks like an address. Country is optional.
func ValidateShipping(info store.ShippingInfo) error {
	errs := FieldErrors{}
	for _, field := range shippingFields {
		if strings.TrimSpace(field.value(info)) == "" {
			errs[field.name] = "is required"
		}
	}
	if _, missing := errs["email"]; !missing && !emailPattern.MatchString(strings.TrimSpace(info.Email)) {
		errs["email"] = "is invalid"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Service places orders from a user's cart
type Service struct {
	store   *store.Store
	pricing Pricing
}

// NewService creates a checkout service
func NewService(st *store.Store, pricing Pricing) *Service {
	return &Service{store: st, pricing: pricing}
}

// Quote prices the user's current cart
func (s *Service) Quote(ctx context.Context, userID string, discount float64) (Summary, error) {
	items, err := s.store.GetCartItems(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return s.pricing.Totals(items, discount)
}

// PlaceOrder snapshots the priced cart into an order and empties the cart.
// The order is written in one transaction; the cart is cleared after it
// commits.
func (s *Service) PlaceOrder(ctx context.Context, userID string, info store.ShippingInfo, paymentMethod string, discount float64) (*store.Order, error) {
	if err := ValidateShipping(info); err != nil {
		return nil, err
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return nil, ErrPaymentMethod
	}

	items, err := s.store.GetCartItems(ctx, userID)
	if err != nil {
		return nil, err
	}

	priced := make([]store.CartItem, 0, len(items))
	for _, item := range items {
		if item.Product == nil {
			log.Warn().Str("product_id", item.ProductID).Msg("Skipping cart line for product no longer in catalog")
			continue
		}
		priced = append(priced, item)
	}
	if len(priced) == 0 {
		return nil, ErrEmptyCart
	}

	summary, err := s.pricing.Totals(priced, discount)
	if err != nil {
		return nil, err
	}

	order, err := s.store.CreateOrder(ctx, store.NewOrder{
		UserID:        userID,
		Items:         priced,
		ShippingInfo:  info,
		PaymentMethod: strings.TrimSpace(paymentMethod),
		Subtotal:      summary.Subtotal,
		Shipping:      summary.Shipping,
		Tax:           summary.Tax,
		Total:         summary.Total,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.ClearCart(ctx, userID); err != nil {
		return nil, fmt.Errorf("order %s placed but cart not cleared: %w", order.ID, err)
	}
	return order, nil
}
