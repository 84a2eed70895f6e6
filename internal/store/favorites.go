package store

import (
	"context"
	"fmt"

	"github.com/saltyorg/cookieshop/internal/database"
)

// GetFavoriteItems returns the user's favorites, oldest first
func (s *Store) GetFavoriteItems(ctx context.Context, userID string) ([]FavoriteItem, error) {
	rows, err := s.db.Query(ctx, database.Select{
		Table:   database.TableFavorites,
		Where:   []database.Cond{database.Eq("userId", userID)},
		OrderBy: []database.Order{database.Asc("addedAt")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get favorites: %w", err)
	}

	items := make([]FavoriteItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, favoriteFromRow(r))
	}
	return items, nil
}

// GetFavoriteProductIDs returns the ids of the user's favorited products
func (s *Store) GetFavoriteProductIDs(ctx context.Context, userID string) ([]string, error) {
	items, err := s.GetFavoriteItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ProductID
	}
	return ids, nil
}

// AddToFavorites favorites a product. Adding an existing favorite returns
// the existing row.
func (s *Store) AddToFavorites(ctx context.Context, userID, productID string) (*FavoriteItem, error) {
	var fav *FavoriteItem
	err := s.db.Transaction(ctx, func(tx database.Executor) error {
		if _, err := tx.Run(ctx, database.Upsert{
			Insert: database.InsertRow(database.TableFavorites,
				database.Set("id", s.newID(PrefixFavorite)),
				database.Set("userId", userID),
				database.Set("productId", productID),
				database.Set("addedAt", s.timestamp()),
			),
			ConflictColumns: []string{"userId", "productId"},
		}); err != nil {
			return err
		}

		rows, err := tx.Query(ctx, database.From(database.TableFavorites,
			database.Eq("userId", userID),
			database.Eq("productId", productID),
		))
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("favorite for %s vanished", productID)
		}
		item := favoriteFromRow(rows[0])
		fav = &item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add favorite: %w", err)
	}
	return fav, nil
}

// RemoveFromFavorites reports whether a favorite was removed
func (s *Store) RemoveFromFavorites(ctx context.Context, userID, productID string) (bool, error) {
	res, err := s.db.Run(ctx, database.Delete{
		Table: database.TableFavorites,
		Where: []database.Cond{database.Eq("userId", userID), database.Eq("productId", productID)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to remove favorite: %w", err)
	}
	return res.Changes > 0, nil
}

// ToggleFavorite flips the favorite state of a product and returns true when
// it is now favorited.
func (s *Store) ToggleFavorite(ctx context.Context, userID, productID string) (bool, error) {
	var favorited bool
	err := s.db.Transaction(ctx, func(tx database.Executor) error {
		res, err := tx.Run(ctx, database.Delete{
			Table: database.TableFavorites,
			Where: []database.Cond{database.Eq("userId", userID), database.Eq("productId", productID)},
		})
		if err != nil {
			return err
		}
		if res.Changes > 0 {
			favorited = false
			return nil
		}

		if _, err := tx.Run(ctx, database.InsertRow(database.TableFavorites,
			database.Set("id", s.newID(PrefixFavorite)),
			database.Set("userId", userID),
			database.Set("productId", productID),
			database.Set("addedAt", s.timestamp()),
		)); err != nil {
			return err
		}
		favorited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to toggle favorite: %w", err)
	}
	return favorited, nil
}

// IsFavorite reports whether the user has favorited the product
func (s *Store) IsFavorite(ctx context.Context, userID, productID string) (bool, error) {
	rows, err := s.db.Query(ctx, database.Select{
		Table:   database.TableFavorites,
		Columns: []string{"id"},
		Where:   []database.Cond{database.Eq("userId", userID), database.Eq("productId", productID)},
		Limit:   1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to check favorite: %w", err)
	}
	return len(rows) > 0, nil
}
