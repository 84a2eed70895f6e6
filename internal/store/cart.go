package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/saltyorg/cookieshop/internal/catalog"
	"github.com/saltyorg/cookieshop/internal/database"
)

// GetCartItems returns the user's cart lines with product details
func (s *Store) GetCartItems(ctx context.Context, userID string) ([]CartItem, error) {
	rows, err := s.db.Query(ctx, database.From(database.TableCartItems, database.Eq("userId", userID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	items := make([]CartItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, s.hydrate(cartItemFromRow(r)))
	}
	return items, nil
}

func (s *Store) hydrate(item CartItem) CartItem {
	item.Product = s.product(item.ProductID)
	return item
}

// AddToCart adds quantity of product to the user's cart. An existing line for
// the product is incremented in place, so a user never has two lines for the
// same product. Returns the resulting line.
func (s *Store) AddToCart(ctx context.Context, userID string, product catalog.Product, quantity int) (*CartItem, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var item *CartItem
	err := s.db.Transaction(ctx, func(tx database.Executor) error {
		_, err := tx.Run(ctx, database.Upsert{
			Insert: database.InsertRow(database.TableCartItems,
				database.Set("id", s.newID(PrefixCart)),
				database.Set("userId", userID),
				database.Set("productId", product.ID),
				database.Set("quantity", quantity),
				database.Set("addedAt", s.timestamp()),
			),
			ConflictColumns: []string{"userId", "productId"},
			Increment:       []string{"quantity"},
		})
		if err != nil {
			return err
		}

		rows, err := tx.Query(ctx, database.From(database.TableCartItems,
			database.Eq("userId", userID),
			database.Eq("productId", product.ID),
		))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("cart line for %s vanished", product.ID)
		}
		line := cartItemFromRow(rows[0])
		line.Product = &product
		item = &line
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add to cart: %w", err)
	}
	return item, nil
}

// UpdateCartItemQuantity sets a line's quantity. A quantity of zero or less
// removes the line instead. Returns nil when the line does not exist or was
// removed.
func (s *Store) UpdateCartItemQuantity(ctx context.Context, cartItemID string, quantity int) (*CartItem, error) {
	if quantity <= 0 {
		if _, err := s.RemoveFromCart(ctx, cartItemID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	_, err := s.db.Run(ctx, database.Update{
		Table: database.TableCartItems,
		Set:   []database.Assignment{database.Set("quantity", quantity)},
		Where: []database.Cond{database.Eq("id", cartItemID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update cart item: %w", err)
	}

	return s.getCartItem(ctx, cartItemID)
}

func (s *Store) getCartItem(ctx context.Context, id string) (*CartItem, error) {
	rows, err := s.db.Query(ctx, database.From(database.TableCartItems, database.Eq("id", id)))
	if err != nil {
		return nil, fmt.Errorf("failed to get cart item: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	item := s.hydrate(cartItemFromRow(rows[0]))
	return &item, nil
}

// RemoveFromCart deletes a line and returns it, or nil when it did not exist
func (s *Store) RemoveFromCart(ctx context.Context, cartItemID string) (*CartItem, error) {
	var removed *CartItem
	err := s.db.Transaction(ctx, func(tx database.Executor) error {
		rows, err := tx.Query(ctx, database.From(database.TableCartItems, database.Eq("id", cartItemID)))
		if err != nil || len(rows) == 0 {
			return err
		}

		if _, err := tx.Run(ctx, database.Delete{
			Table: database.TableCartItems,
			Where: []database.Cond{database.Eq("id", cartItemID)},
		}); err != nil {
			return err
		}
		item := s.hydrate(cartItemFromRow(rows[0]))
		removed = &item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove cart item: %w", err)
	}
	return removed, nil
}

// ClearCart removes every line of the user's cart
func (s *Store) ClearCart(ctx context.Context, userID string) error {
	if _, err := s.db.Run(ctx, database.Delete{
		Table: database.TableCartItems,
		Where: []database.Cond{database.Eq("userId", userID)},
	}); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// GetCartCount returns the total quantity in the user's cart. The sum is
// taken here rather than in SQL so every backend can answer it.
func (s *Store) GetCartCount(ctx context.Context, userID string) (int, error) {
	rows, err := s.db.Query(ctx, database.Select{
		Table:   database.TableCartItems,
		Columns: []string{"quantity"},
		Where:   []database.Cond{database.Eq("userId", userID)},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count cart: %w", err)
	}

	total := 0
	for _, r := range rows {
		total += int(r.Int64("quantity"))
	}
	return total, nil
}

// GetCartTotal prices the user's cart from the catalog, rounded to cents.
// Lines whose product is no longer in the catalog are skipped.
func (s *Store) GetCartTotal(ctx context.Context, userID string) (float64, error) {
	items, err := s.GetCartItems(ctx, userID)
	if err != nil {
		return 0, err
	}

	total := decimal.Zero
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		line := decimal.NewFromFloat(item.Product.Price).Mul(decimal.NewFromInt(int64(item.Quantity)))
		total = total.Add(line)
	}
	return total.Round(2).InexactFloat64(), nil
}
