package store

import (
	"context"
	"database/sql"
	"errors"

	"tradehub/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const sampleColumns = `
	id, receiver_id, supplier_id, listing_id, listing_title, quantity, unit,
	delivery_address, note, status, COALESCE(exchange_code, '') AS exchange_code,
	delivered_at, received_at, reviewed_at, created_at, updated_at`

// CreateSample inserts a sample request. A second non-reviewed request for
// the same receiver and listing fails with ErrDuplicate.
func (s *Store) CreateSample(ctx context.Context, sample *models.Sample) error {
	query := `
		INSERT INTO samples (id, receiver_id, supplier_id, listing_id, listing_title, quantity, unit,
			delivery_address, note, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := s.db.ExecContext(ctx, query,
		sample.ID, sample.ReceiverID, sample.SupplierID, sample.ListingID, sample.ListingTitle,
		sample.Quantity, sample.Unit, sample.DeliveryAddress, sample.Note, sample.Status, sample.CreatedAt)
	return translate(err)
}

// GetSampleByID retrieves a sample by ID
func (s *Store) GetSampleByID(ctx context.Context, id uuid.UUID) (*models.Sample, error) {
	var sample models.Sample
	err := s.db.GetContext(ctx, &sample, "SELECT "+sampleColumns+" FROM samples WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sample, nil
}

// ListSamplesByUser retrieves samples where the user is receiver or supplier
func (s *Store) ListSamplesByUser(ctx context.Context, userID uuid.UUID) ([]models.Sample, error) {
	var samples []models.Sample
	err := s.db.SelectContext(ctx, &samples,
		"SELECT "+sampleColumns+" FROM samples WHERE receiver_id = $1 OR supplier_id = $1 ORDER BY created_at DESC",
		userID)
	return samples, err
}

// UpdateSample writes the mutable sample fields if the stored status still equals expected
func (s *Store) UpdateSample(ctx context.Context, sample *models.Sample, expected models.SampleStatus) error {
	return updateSample(ctx, s.db, sample, expected)
}

func updateSample(ctx context.Context, exec sqlx.ExecerContext, sample *models.Sample, expected models.SampleStatus) error {
	query := `
		UPDATE samples SET status = $3, exchange_code = NULLIF($4, ''), delivered_at = $5,
			received_at = $6, reviewed_at = $7, updated_at = $8
		WHERE id = $1 AND status = $2`

	res, err := exec.ExecContext(ctx, query,
		sample.ID, expected, sample.Status, sample.ExchangeCode,
		sample.DeliveredAt, sample.ReceivedAt, sample.ReviewedAt, sample.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return expectOne(res)
}

// DeleteSample removes a sample if its stored status still equals expected
func (s *Store) DeleteSample(ctx context.Context, id uuid.UUID, expected models.SampleStatus) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM samples WHERE id = $1 AND status = $2", id, expected)
	if err != nil {
		return err
	}
	return expectOne(res)
}
