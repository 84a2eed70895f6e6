package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/saltyorg/cookieshop/internal/database"
)

// clearOrder deletes children before parents so no cascade is needed
var clearOrder = []string{
	database.TableOrderItems,
	database.TableOrders,
	database.TableFavorites,
	database.TableCartItems,
	database.TableUsers,
}

// ClearAllData wipes every table and signs out
func (s *Store) ClearAllData(ctx context.Context, sess *Session) error {
	err := s.db.Transaction(ctx, func(tx database.Executor) error {
		for _, table := range clearOrder {
			res, err := tx.Run(ctx, database.Delete{Table: table})
			if err != nil {
				return err
			}
			log.Debug().Str("table", table).Int64("rows", res.Changes).Msg("Cleared table")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear data: %w", err)
	}

	log.Warn().Msg("All stored data cleared")
	if sess != nil {
		return sess.Save(nil)
	}
	return nil
}

// GetStats summarizes the user's orders, favorites and cart
func (s *Store) GetStats(ctx context.Context, userID string) (*Stats, error) {
	orders, err := s.GetAllOrders(ctx, userID)
	if err != nil {
		return nil, err
	}
	favorites, err := s.GetFavoriteItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	cartCount, err := s.GetCartCount(ctx, userID)
	if err != nil {
		return nil, err
	}

	spent := decimal.Zero
	for _, o := range orders {
		spent = spent.Add(decimal.NewFromFloat(o.Total))
	}

	return &Stats{
		TotalOrders:    len(orders),
		TotalFavorites: len(favorites),
		CartItemsCount: cartCount,
		TotalSpent:     spent.Round(2).InexactFloat64(),
	}, nil
}

// ExportData returns every user and, when someone is signed in, their cart,
// favorites and orders
func (s *Store) ExportData(ctx context.Context, sess *Session) (*Export, error) {
	users, err := s.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	out := &Export{Users: users, ExportedAt: s.timestamp()}
	if sess == nil {
		return out, nil
	}

	out.CurrentUser = sess.Current()
	if out.CurrentUser == nil {
		return out, nil
	}

	id := out.CurrentUser.ID
	if out.Cart, err = s.GetCartItems(ctx, id); err != nil {
		return nil, err
	}
	if out.Favorites, err = s.GetFavoriteItems(ctx, id); err != nil {
		return nil, err
	}
	if out.Orders, err = s.GetAllOrders(ctx, id); err != nil {
		return nil, err
	}
	return out, nil
}
