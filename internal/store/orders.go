package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const orderColumns = `
	id, buyer_id, seller_id, listing_id, listing_title, quantity, unit,
	base_price, delivery_fee, total_price, status, delivery_address,
	COALESCE(buyer_exchange_code, '') AS buyer_exchange_code,
	COALESCE(seller_exchange_code, '') AS seller_exchange_code,
	cancellation_reason, cancelled_by, confirmed_at, shipped_at, completed_at,
	cancelled_at, created_at, updated_at`

// CreateOrderWithinCeiling inserts an order unless the seller already has
// ceiling or more non-terminal orders. It returns the seller's active count
// observed before the insert. A transaction-scoped advisory lock on the
// seller serializes concurrent placements against the same seller.
func (s *Store) CreateOrderWithinCeiling(ctx context.Context, order *models.Order, ceiling int) (int, error) {
	order.RecomputeTotal()

	var active int
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", order.SellerID.String()); err != nil {
			return fmt.Errorf("failed to lock seller: %w", err)
		}

		if err := tx.GetContext(ctx, &active,
			"SELECT COUNT(*) FROM orders WHERE seller_id = $1 AND status IN ('pending', 'confirmed', 'shipped')",
			order.SellerID); err != nil {
			return fmt.Errorf("failed to count active orders: %w", err)
		}
		if ceiling > 0 && active >= ceiling {
			return ErrCeilingReached
		}

		query := `
			INSERT INTO orders (id, buyer_id, seller_id, listing_id, listing_title, quantity, unit,
				base_price, delivery_fee, total_price, status, delivery_address, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

		_, err := tx.ExecContext(ctx, query,
			order.ID, order.BuyerID, order.SellerID, order.ListingID, order.ListingTitle, order.Quantity, order.Unit,
			order.BasePrice, order.DeliveryFee, order.TotalPrice, order.Status, order.DeliveryAddress, order.CreatedAt)
		return translate(err)
	})
	return active, err
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves orders where the user is buyer or seller
func (s *Store) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrder writes every mutable order field if the stored status still
// equals expected.
func (s *Store) UpdateOrder(ctx context.Context, order *models.Order, expected models.OrderStatus) error {
	order.RecomputeTotal()
	return updateOrder(ctx, s.db, order, expected)
}

func updateOrder(ctx context.Context, exec sqlx.ExecerContext, order *models.Order, expected models.OrderStatus) error {
	query := `
		UPDATE orders SET
			base_price = $3, delivery_fee = $4, total_price = $5, status = $6,
			buyer_exchange_code = NULLIF($7, ''), seller_exchange_code = NULLIF($8, ''),
			cancellation_reason = $9, cancelled_by = $10, confirmed_at = $11, shipped_at = $12,
			completed_at = $13, cancelled_at = $14, updated_at = $15
		WHERE id = $1 AND status = $2`

	res, err := exec.ExecContext(ctx, query,
		order.ID, expected,
		order.BasePrice, order.DeliveryFee, order.TotalPrice, order.Status,
		order.BuyerExchangeCode, order.SellerExchangeCode,
		order.CancellationReason, order.CancelledBy, order.ConfirmedAt, order.ShippedAt,
		order.CompletedAt, order.CancelledAt, order.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

// GetListing retrieves the catalog snapshot of a listing
func (s *Store) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.GetContext(ctx, &listing, "SELECT * FROM listings WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}
