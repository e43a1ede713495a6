package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/exchange"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SampleService handles free sample requests
type SampleService struct {
	samples  SampleRepository
	listings ListingCatalog
	effects  effects
	now      func() time.Time
	logger   *zap.Logger
}

// NewSampleService creates a new sample service
func NewSampleService(samples SampleRepository, listings ListingCatalog, fx Effects) *SampleService {
	return &SampleService{
		samples:  samples,
		listings: listings,
		effects:  newEffects(fx),
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// RequestSampleRequest represents a sample request
type RequestSampleRequest struct {
	ListingID       uuid.UUID `json:"listing_id" binding:"required"`
	Quantity        int       `json:"quantity" binding:"omitempty,min=1"`
	DeliveryAddress string    `json:"delivery_address" binding:"max=500"`
	Note            string    `json:"note" binding:"max=500"`
}

// SampleView is a sample as seen by one participant
type SampleView struct {
	models.Sample
	NextAction string `json:"next_action"`
}

func sampleView(s *models.Sample, viewer uuid.UUID) *SampleView {
	return &SampleView{Sample: s.Redacted(viewer), NextAction: models.SampleNextAction(s, viewer)}
}

// RequestSample creates a pending sample request. A receiver may hold only
// one unreviewed request per listing.
func (s *SampleService) RequestSample(ctx context.Context, receiver uuid.UUID, req *RequestSampleRequest) (*SampleView, error) {
	ctx, span := util.StartSpan(ctx, "SampleService.RequestSample")
	defer span.End()

	listing, err := s.listings.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, storeError("listing", err)
	}
	if !listing.Active {
		return nil, apperror.Validation("listing is not active")
	}
	if listing.SellerID == receiver {
		return nil, apperror.Forbidden("cannot request a sample of your own listing")
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	now := s.now().UTC()
	sample := &models.Sample{
		ID:              uuid.New(),
		ReceiverID:      receiver,
		SupplierID:      listing.SellerID,
		ListingID:       listing.ID,
		ListingTitle:    listing.Title,
		Quantity:        quantity,
		Unit:            listing.Unit,
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Note:            strings.TrimSpace(req.Note),
		Status:          models.SampleStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.samples.CreateSample(ctx, sample); err != nil {
		if isDuplicate(err) {
			return nil, apperror.New(apperror.KindAlreadyExists,
				"you already have an open sample request for this listing")
		}
		return nil, storeError("sample", err)
	}

	s.afterTransition(ctx, sample, "", receiver, models.EventTypeSampleRequested, "")
	s.effects.notify(ctx, NotificationInput{
		RecipientID:    sample.SupplierID,
		Type:           models.NotificationSampleRequested,
		Title:          "New sample request",
		Message:        fmt.Sprintf("A sample of %s was requested", sample.ListingTitle),
		Payload:        samplePayload(sample),
		ActionRequired: true,
	})
	return sampleView(sample, receiver), nil
}

func (s *SampleService) load(ctx context.Context, actor, id uuid.UUID) (*models.Sample, error) {
	sample, err := s.samples.GetSampleByID(ctx, id)
	if err != nil {
		return nil, storeError("sample", err)
	}
	if !sample.IsParty(actor) {
		return nil, apperror.Forbidden("not a party to this sample")
	}
	return sample, nil
}

// GetSample returns a sample to one of its parties
func (s *SampleService) GetSample(ctx context.Context, viewer, id uuid.UUID) (*SampleView, error) {
	ctx, span := util.StartSpan(ctx, "SampleService.GetSample")
	defer span.End()

	sample, err := s.load(ctx, viewer, id)
	if err != nil {
		return nil, err
	}
	return sampleView(sample, viewer), nil
}

// ListSamples returns the samples where viewer is receiver or supplier
func (s *SampleService) ListSamples(ctx context.Context, viewer uuid.UUID) ([]*SampleView, error) {
	ctx, span := util.StartSpan(ctx, "SampleService.ListSamples")
	defer span.End()

	samples, err := s.samples.ListSamplesByUser(ctx, viewer)
	if err != nil {
		return nil, storeError("sample", err)
	}
	out := make([]*SampleView, 0, len(samples))
	for i := range samples {
		out = append(out, sampleView(&samples[i], viewer))
	}
	return out, nil
}

// Accept moves a pending sample to delivered and issues its exchange code
func (s *SampleService) Accept(ctx context.Context, actor, id uuid.UUID) (*SampleView, error) {
	ctx, span := util.StartSpan(ctx, "SampleService.Accept")
	defer span.End()

	sample, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	prev := sample.Status
	now := s.now().UTC()
	if err := sample.Accept(actor, now); err != nil {
		return nil, err
	}
	sample.UpdatedAt = now

	hadCode := sample.ExchangeCode != ""
	err = exchange.Retry(isDuplicate, func() error {
		if !hadCode {
			sample.ExchangeCode = ""
		}
		if err := sample.AssignExchangeCode(); err != nil {
			return err
		}
		return s.samples.UpdateSample(ctx, sample, prev)
	})
	if errors.Is(err, exchange.ErrExhausted) {
		return nil, apperror.Internal(err)
	}
	if err != nil {
		return nil, storeError("sample", err)
	}

	s.afterTransition(ctx, sample, prev, actor, models.EventTypeSampleAccepted, "")
	s.effects.notify(ctx, NotificationInput{
		RecipientID: sample.ReceiverID,
		Type:        models.NotificationSampleAccepted,
		Title:       "Sample request accepted",
		Message:     fmt.Sprintf("Your sample of %s is on its way", sample.ListingTitle),
		Payload:     samplePayload(sample),
	})
	return sampleView(sample, actor), nil
}

// Reject deletes a pending sample request. The deletion is kept in the
// status history.
func (s *SampleService) Reject(ctx context.Context, actor, id uuid.UUID, reason string) error {
	ctx, span := util.StartSpan(ctx, "SampleService.Reject")
	defer span.End()

	sample, err := s.load(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := sample.CanReject(actor); err != nil {
		return err
	}
	if err := s.samples.DeleteSample(ctx, sample.ID, sample.Status); err != nil {
		return storeError("sample", err)
	}

	reason = strings.TrimSpace(reason)
	prev := sample.Status
	sample.Status = models.SampleStatusRejected
	s.afterTransition(ctx, sample, prev, actor, models.EventTypeSampleRejected, reason)

	msg := fmt.Sprintf("Your sample request for %s was declined", sample.ListingTitle)
	if reason != "" {
		msg += ": " + reason
	}
	s.effects.notify(ctx, NotificationInput{
		RecipientID: sample.ReceiverID,
		Type:        models.NotificationSampleRejected,
		Title:       "Sample request declined",
		Message:     msg,
		Payload:     map[string]any{"sample_id": sample.ID, "listing_id": sample.ListingID},
	})
	return nil
}

// MarkReceived moves a delivered sample to received. A supplied code must
// match the sample's exchange code.
func (s *SampleService) MarkReceived(ctx context.Context, actor, id uuid.UUID, code string) (*SampleView, error) {
	ctx, span := util.StartSpan(ctx, "SampleService.MarkReceived")
	defer span.End()

	sample, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	prev := sample.Status
	now := s.now().UTC()
	if err := sample.MarkReceived(actor, code, now); err != nil {
		if apperror.KindOf(err) == apperror.KindVerificationFailed {
			util.ExchangeVerificationsFailed.WithLabelValues("sample").Inc()
		}
		return nil, err
	}
	sample.UpdatedAt = now
	if err := s.samples.UpdateSample(ctx, sample, prev); err != nil {
		return nil, storeError("sample", err)
	}

	s.afterTransition(ctx, sample, prev, actor, models.EventTypeSampleReceived, "")
	s.effects.notify(ctx, NotificationInput{
		RecipientID: sample.SupplierID,
		Type:        models.NotificationSampleReceived,
		Title:       "Sample received",
		Message:     fmt.Sprintf("Your sample of %s was received", sample.ListingTitle),
		Payload:     samplePayload(sample),
	})
	return sampleView(sample, actor), nil
}

func (s *SampleService) afterTransition(ctx context.Context, sample *models.Sample, prev models.SampleStatus, actor uuid.UUID, eventType, reason string) {
	util.TransitionsTotal.WithLabelValues("sample", string(sample.Status)).Inc()
	s.logger.Info("Sample transitioned",
		zap.String("sample_id", sample.ID.String()),
		zap.String("from", string(prev)),
		zap.String("to", string(sample.Status)))

	s.effects.record(ctx, "sample", sample.ID.String(), string(prev), string(sample.Status), actor.String(), reason)

	event := models.NewTransactionEvent(eventType, "sample",
		sample.ID, actor, sample.ReceiverID, sample.SupplierID, string(sample.Status))
	event.Reason = reason
	s.effects.publish(ctx, event)
}

func samplePayload(s *models.Sample) map[string]any {
	return map[string]any{
		"sample_id":  s.ID,
		"listing_id": s.ListingID,
		"status":     s.Status,
	}
}
