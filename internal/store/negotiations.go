package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type negotiationRow struct {
	ID               uuid.UUID           `db:"id"`
	OrderID          uuid.UUID           `db:"order_id"`
	BuyerID          uuid.UUID           `db:"buyer_id"`
	SellerID         uuid.UUID           `db:"seller_id"`
	ListingID        uuid.UUID           `db:"listing_id"`
	Status           string              `db:"status"`
	FinalBasePrice   decimal.NullDecimal `db:"final_base_price"`
	FinalDeliveryFee decimal.NullDecimal `db:"final_delivery_fee"`
	FinalTotalPrice  decimal.NullDecimal `db:"final_total_price"`
	CancelReason     string              `db:"cancel_reason"`
	ExpiresAt        time.Time           `db:"expires_at"`
	LastActivity     time.Time           `db:"last_activity"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

func (r negotiationRow) toModel() models.Negotiation {
	n := models.Negotiation{
		ID:           r.ID,
		OrderID:      r.OrderID,
		BuyerID:      r.BuyerID,
		SellerID:     r.SellerID,
		ListingID:    r.ListingID,
		Status:       models.NegotiationStatus(r.Status),
		CancelReason: r.CancelReason,
		ExpiresAt:    r.ExpiresAt,
		LastActivity: r.LastActivity,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.FinalTotalPrice.Valid {
		n.FinalPrice = &models.PriceOffer{
			BasePrice:   r.FinalBasePrice.Decimal,
			DeliveryFee: r.FinalDeliveryFee.Decimal,
			TotalPrice:  r.FinalTotalPrice.Decimal,
		}
	}
	return n
}

type negotiationMessageRow struct {
	ID               uuid.UUID           `db:"id"`
	NegotiationID    uuid.UUID           `db:"negotiation_id"`
	SenderID         uuid.UUID           `db:"sender_id"`
	Kind             string              `db:"kind"`
	Text             string              `db:"text"`
	OfferBasePrice   decimal.NullDecimal `db:"offer_base_price"`
	OfferDeliveryFee decimal.NullDecimal `db:"offer_delivery_fee"`
	OfferTotalPrice  decimal.NullDecimal `db:"offer_total_price"`
	CreatedAt        time.Time           `db:"created_at"`
}

func (r negotiationMessageRow) toModel() models.NegotiationMessage {
	m := models.NegotiationMessage{
		ID:            r.ID,
		NegotiationID: r.NegotiationID,
		SenderID:      r.SenderID,
		Kind:          models.MessageKind(r.Kind),
		Text:          r.Text,
		CreatedAt:     r.CreatedAt,
	}
	if r.OfferTotalPrice.Valid {
		m.Offer = &models.PriceOffer{
			BasePrice:   r.OfferBasePrice.Decimal,
			DeliveryFee: r.OfferDeliveryFee.Decimal,
			TotalPrice:  r.OfferTotalPrice.Decimal,
		}
	}
	return m
}

func nullable(offer *models.PriceOffer) (base, fee, total decimal.NullDecimal) {
	if offer == nil {
		return
	}
	return decimal.NewNullDecimal(offer.BasePrice), decimal.NewNullDecimal(offer.DeliveryFee), decimal.NewNullDecimal(offer.TotalPrice)
}

const negotiationColumns = `
	id, order_id, buyer_id, seller_id, listing_id, status, final_base_price, final_delivery_fee,
	final_total_price, cancel_reason, expires_at, last_activity, created_at, updated_at`

// CreateNegotiation inserts a negotiation with its opening messages. A second
// negotiation for the same order fails with ErrDuplicate.
func (s *Store) CreateNegotiation(ctx context.Context, n *models.Negotiation) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		query := `
			INSERT INTO negotiations (id, order_id, buyer_id, seller_id, listing_id, status, cancel_reason,
				expires_at, last_activity, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8, $9, $9)`

		if _, err := tx.ExecContext(ctx, query,
			n.ID, n.OrderID, n.BuyerID, n.SellerID, n.ListingID, n.Status,
			n.ExpiresAt, n.LastActivity, n.CreatedAt); err != nil {
			return translate(err)
		}
		return insertNegotiationMessages(ctx, tx, n.Messages)
	})
}

func insertNegotiationMessages(ctx context.Context, tx *sqlx.Tx, msgs []models.NegotiationMessage) error {
	for _, m := range msgs {
		base, fee, total := nullable(m.Offer)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO negotiation_messages (id, negotiation_id, sender_id, kind, text,
				offer_base_price, offer_delivery_fee, offer_total_price, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			m.ID, m.NegotiationID, m.SenderID, m.Kind, m.Text, base, fee, total, m.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert negotiation message: %w", err)
		}
	}
	return nil
}

func (s *Store) loadNegotiation(ctx context.Context, where string, arg any) (*models.Negotiation, error) {
	var row negotiationRow
	err := s.db.GetContext(ctx, &row, "SELECT "+negotiationColumns+" FROM negotiations WHERE "+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	threads, err := s.loadNegotiationMessages(ctx, []uuid.UUID{row.ID})
	if err != nil {
		return nil, err
	}
	n := row.toModel()
	n.Messages = threads[row.ID]
	if n.Messages == nil {
		n.Messages = []models.NegotiationMessage{}
	}
	return &n, nil
}

// loadNegotiationMessages fetches the threads of ids in one query, keyed by
// negotiation and in send order
func (s *Store) loadNegotiationMessages(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]models.NegotiationMessage, error) {
	threads := make(map[uuid.UUID][]models.NegotiationMessage, len(ids))
	if len(ids) == 0 {
		return threads, nil
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}

	var rows []negotiationMessageRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, negotiation_id, sender_id, kind, text, offer_base_price, offer_delivery_fee,
			offer_total_price, created_at
		FROM negotiation_messages WHERE negotiation_id = ANY($1::uuid[]) ORDER BY negotiation_id, seq`,
		pq.Array(keys))
	if err != nil {
		return nil, fmt.Errorf("failed to load negotiation messages: %w", err)
	}
	for _, r := range rows {
		msg := r.toModel()
		threads[msg.NegotiationID] = append(threads[msg.NegotiationID], msg)
	}
	return threads, nil
}

// GetNegotiationByID retrieves a negotiation with its messages
func (s *Store) GetNegotiationByID(ctx context.Context, id uuid.UUID) (*models.Negotiation, error) {
	return s.loadNegotiation(ctx, "id = $1", id)
}

// GetNegotiationByOrderID retrieves the negotiation attached to an order
func (s *Store) GetNegotiationByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Negotiation, error) {
	return s.loadNegotiation(ctx, "order_id = $1", orderID)
}

// ListNegotiationsByUser retrieves negotiations with their threads, most
// recently active first
func (s *Store) ListNegotiationsByUser(ctx context.Context, userID uuid.UUID) ([]models.Negotiation, error) {
	var rows []negotiationRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT "+negotiationColumns+" FROM negotiations WHERE buyer_id = $1 OR seller_id = $1 ORDER BY last_activity DESC",
		userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	threads, err := s.loadNegotiationMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.Negotiation, 0, len(rows))
	for _, r := range rows {
		n := r.toModel()
		n.Messages = threads[r.ID]
		out = append(out, n)
	}
	return out, nil
}

// UpdateNegotiation writes the negotiation header and appends msgs if the
// stored status still equals expected.
func (s *Store) UpdateNegotiation(ctx context.Context, n *models.Negotiation, expected models.NegotiationStatus, msgs ...models.NegotiationMessage) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateNegotiation(ctx, tx, n, expected); err != nil {
			return err
		}
		return insertNegotiationMessages(ctx, tx, msgs)
	})
}

// AgreeNegotiation commits an accepted offer together with the repriced
// order. Both writes are compare-and-set on the prior statuses.
func (s *Store) AgreeNegotiation(ctx context.Context, n *models.Negotiation, msg models.NegotiationMessage, order *models.Order) error {
	order.RecomputeTotal()
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := updateNegotiation(ctx, tx, n, models.NegotiationStatusActive); err != nil {
			return err
		}
		if err := insertNegotiationMessages(ctx, tx, []models.NegotiationMessage{msg}); err != nil {
			return err
		}
		return updateOrder(ctx, tx, order, models.OrderStatusPending)
	})
}

func updateNegotiation(ctx context.Context, tx *sqlx.Tx, n *models.Negotiation, expected models.NegotiationStatus) error {
	base, fee, total := nullable(n.FinalPrice)
	res, err := tx.ExecContext(ctx, `
		UPDATE negotiations SET status = $3, final_base_price = $4, final_delivery_fee = $5,
			final_total_price = $6, cancel_reason = $7, last_activity = $8, updated_at = $9
		WHERE id = $1 AND status = $2`,
		n.ID, expected, n.Status, base, fee, total, n.CancelReason, n.LastActivity, n.UpdatedAt)
	if err != nil {
		return err
	}
	return expectOne(res)
}
