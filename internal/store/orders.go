package store

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/saltyorg/cookieshop/internal/database"
)

// StatusPending is the status of a newly placed order
const StatusPending = "pending"

// GetAllOrders returns the user's orders with their items, newest first
func (s *Store) GetAllOrders(ctx context.Context, userID string) ([]Order, error) {
	rows, err := s.db.Query(ctx, database.Select{
		Table:   database.TableOrders,
		Where:   []database.Cond{database.Eq("userId", userID)},
		OrderBy: []database.Order{database.Desc("date")},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get orders: %w", err)
	}

	orders := make([]Order, 0, len(rows))
	for _, r := range rows {
		o, err := s.withItems(ctx, r)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// GetOrderByID returns an order with its items, or nil
func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*Order, error) {
	rows, err := s.db.Query(ctx, database.From(database.TableOrders, database.Eq("id", orderID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	o, err := s.withItems(ctx, rows[0])
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Store) withItems(ctx context.Context, r database.Row) (Order, error) {
	o, err := orderFromRow(r)
	if err != nil {
		return Order{}, err
	}
	if o.Items, err = s.GetOrderItems(ctx, o.ID); err != nil {
		return Order{}, err
	}
	return o, nil
}

// GetOrderItems returns the items of an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := s.db.Query(ctx, database.From(database.TableOrderItems, database.Eq("orderId", orderID)))
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	items := make([]OrderItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, orderItemFromRow(r))
	}
	return items, nil
}

// CreateOrder writes an order header and one item per cart line in a single
// transaction. Item name, price and image are snapshotted from the product so
// later catalog changes do not alter past orders. New orders are pending.
func (s *Store) CreateOrder(ctx context.Context, in NewOrder) (*Order, error) {
	shipping, err := json.Marshal(in.ShippingInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode shipping address: %w", err)
	}

	order := Order{
		ID:            s.newID(PrefixOrder),
		UserID:        in.UserID,
		Date:          s.timestamp(),
		Subtotal:      in.Subtotal,
		Shipping:      in.Shipping,
		Tax:           in.Tax,
		Total:         in.Total,
		Status:        StatusPending,
		ShippingInfo:  in.ShippingInfo,
		PaymentMethod: in.PaymentMethod,
		Items:         make([]OrderItem, 0, len(in.Items)),
	}

	for _, line := range in.Items {
		product := line.Product
		if product == nil {
			product = s.product(line.ProductID)
		}
		if product == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, line.ProductID)
		}
		order.Items = append(order.Items, OrderItem{
			ID:        s.newID(PrefixOrderItem),
			OrderID:   order.ID,
			ProductID: line.ProductID,
			Name:      product.Name,
			Price:     product.Price,
			Quantity:  line.Quantity,
			Image:     product.Image,
		})
	}

	err = s.db.Transaction(ctx, func(tx database.Executor) error {
		if _, err := tx.Run(ctx, database.InsertRow(database.TableOrders,
			database.Set("id", order.ID),
			database.Set("userId", order.UserID),
			database.Set("date", order.Date),
			database.Set("subtotal", order.Subtotal),
			database.Set("tax", order.Tax),
			database.Set("shipping", order.Shipping),
			database.Set("total", order.Total),
			database.Set("status", order.Status),
			database.Set("shippingAddress", string(shipping)),
			database.Set("paymentMethod", order.PaymentMethod),
		)); err != nil {
			return err
		}

		for _, item := range order.Items {
			if _, err := tx.Run(ctx, database.InsertRow(database.TableOrderItems,
				database.Set("id", item.ID),
				database.Set("orderId", item.OrderID),
				database.Set("productId", item.ProductID),
				database.Set("name", item.Name),
				database.Set("price", item.Price),
				database.Set("quantity", item.Quantity),
				database.Set("image", item.Image),
			)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	log.Info().Str("order_id", order.ID).Int("items", len(order.Items)).Float64("total", order.Total).Msg("Order created")
	return &order, nil
}

// UpdateOrderStatus changes an order's status and returns the updated order,
// or nil when it does not exist
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID, status string) (*Order, error) {
	if !slices.Contains(database.OrderStatuses, status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	if _, err := s.db.Run(ctx, database.Update{
		Table: database.TableOrders,
		Set:   []database.Assignment{database.Set("status", status)},
		Where: []database.Cond{database.Eq("id", orderID)},
	}); err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}
	return s.GetOrderByID(ctx, orderID)
}

// DeleteOrder removes an order and its items. Reports whether it existed.
func (s *Store) DeleteOrder(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.Run(ctx, database.Delete{
		Table: database.TableOrders,
		Where: []database.Cond{database.Eq("id", orderID)},
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete order: %w", err)
	}
	return res.Changes > 0, nil
}
