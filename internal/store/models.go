package store

import (
	"encoding/json"
	"fmt"

	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/database"
)

// User is a storefront account. Password holds a bcrypt hash, or a legacy
// SHA-256 hex digest or plaintext value for accounts created before hashing.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	ProfileImage string `json:"profileImage,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Address      string `json:"address,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

// NewUser holds the caller-supplied fields of CreateUser
type NewUser struct {
	Name         string
	Email        string
	Password     string
	ProfileImage string
	Phone        string
	Address      string
}

// UserPatch lists the fields UpdateUser overwrites; nil fields are kept
type UserPatch struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	Password     *string `json:"password,omitempty"`
	ProfileImage *string `json:"profileImage,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Address      *string `json:"address,omitempty"`
}

// CartItem is one cart line. Product is resolved from the catalog on read.
type CartItem struct {
	ID        string           `json:"id"`
	UserID    string           `json:"userId"`
	ProductID string           `json:"productId"`
	Quantity  int              `json:"quantity"`
	AddedAt   string           `json:"addedAt"`
	Product   *catalog.Product `json:"product,omitempty"`
}

// FavoriteItem marks a product as favorited by a user
type FavoriteItem struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	ProductID string `json:"productId"`
	AddedAt   string `json:"addedAt"`
}

// ShippingInfo is stored as JSON in orders.shippingAddress
type ShippingInfo struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zipCode"`
	Country   string `json:"country"`
}

// OrderItem is a snapshot of a purchased product at order time
type OrderItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"orderId"`
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image"`
}

// Order is an order header with its items
type Order struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Date          string       `json:"date"`
	Items         []OrderItem  `json:"items"`
	Subtotal      float64      `json:"subtotal"`
	Shipping      float64      `json:"shipping"`
	Tax           float64      `json:"tax"`
	Total         float64      `json:"total"`
	Status        string       `json:"status"`
	ShippingInfo  ShippingInfo `json:"shippingInfo"`
	PaymentMethod string       `json:"paymentMethod"`
}

// NewOrder holds the inputs of CreateOrder. Items without a Product are
// resolved from the catalog.
type NewOrder struct {
	UserID        string
	Items         []CartItem
	ShippingInfo  ShippingInfo
	PaymentMethod string
	Subtotal      float64
	Shipping      float64
	Tax           float64
	Total         float64
}

// Stats summarizes a user's activity
type Stats struct {
	TotalOrders    int     `json:"totalOrders"`
	TotalFavorites int     `json:"totalFavorites"`
	CartItemsCount int     `json:"cartItemsCount"`
	TotalSpent     float64 `json:"totalSpent"`
}

// Export is a snapshot of the stored data
type Export struct {
	Users       []User         `json:"users"`
	CurrentUser *User          `json:"currentUser"`
	Cart        []CartItem     `json:"cart,omitempty"`
	Favorites   []FavoriteItem `json:"favorites,omitempty"`
	Orders      []Order        `json:"orders,omitempty"`
	ExportedAt  string         `json:"exportedAt"`
}

func userFromRow(r database.Row) User {
	return User{
		ID:           r.String("id"),
		Name:         r.String("name"),
		Email:        r.String("email"),
		Password:     r.String("password"),
		ProfileImage: r.String("profileImage"),
		Phone:        r.String("phone"),
		Address:      r.String("address"),
		CreatedAt:    r.String("createdAt"),
	}
}

func cartItemFromRow(r database.Row) CartItem {
	return CartItem{
		ID:        r.String("id"),
		UserID:    r.String("userId"),
		ProductID: r.String("productId"),
		Quantity:  int(r.Int64("quantity")),
		AddedAt:   r.String("addedAt"),
	}
}

func favoriteFromRow(r database.Row) FavoriteItem {
	return FavoriteItem{
		ID:        r.String("id"),
		UserID:    r.String("userId"),
		ProductID: r.String("productId"),
		AddedAt:   r.String("addedAt"),
	}
}

func orderItemFromRow(r database.Row) OrderItem {
	return OrderItem{
		ID:        r.String("id"),
		OrderID:   r.String("orderId"),
		ProductID: r.String("productId"),
		Name:      r.String("name"),
		Price:     r.Float64("price"),
		Quantity:  int(r.Int64("quantity")),
		Image:     r.String("image"),
	}
}

func orderFromRow(r database.Row) (Order, error) {
	o := Order{
		ID:            r.String("id"),
		UserID:        r.String("userId"),
		Date:          r.String("date"),
		Subtotal:      r.Float64("subtotal"),
		Shipping:      r.Float64("shipping"),
		Tax:           r.Float64("tax"),
		Total:         r.Float64("total"),
		Status:        r.String("status"),
		PaymentMethod: r.String("paymentMethod"),
	}
	if raw := r.String("shippingAddress"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &o.ShippingInfo); err != nil {
			return Order{}, fmt.Errorf("failed to decode shipping address of order %s: %w", o.ID, err)
		}
	}
	return o, nil
}

// nullable maps "" to NULL for optional columns
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
