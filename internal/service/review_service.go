package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReviewService records reviews of completed orders and received samples
type ReviewService struct {
	reviews ReviewRepository
	orders  OrderRepository
	samples SampleRepository
	effects effects
	now     func() time.Time
	logger  *zap.Logger
}

// NewReviewService creates a new review service
func NewReviewService(reviews ReviewRepository, orders OrderRepository, samples SampleRepository, fx Effects) *ReviewService {
	return &ReviewService{
		reviews: reviews,
		orders:  orders,
		samples: samples,
		effects: newEffects(fx),
		now:     time.Now,
		logger:  util.GetLogger(),
	}
}

// CreateReviewRequest targets exactly one of an order or a sample
type CreateReviewRequest struct {
	OrderID  *uuid.UUID `json:"order_id"`
	SampleID *uuid.UUID `json:"sample_id"`
	Rating   int        `json:"rating" binding:"required,min=1,max=5"`
	Comment  string     `json:"comment" binding:"max=2000"`
}

// Create stores a review. Reviewing a sample moves it to reviewed in the
// same write.
func (s *ReviewService) Create(ctx context.Context, reviewer uuid.UUID, req *CreateReviewRequest) (*models.Review, error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.Create")
	defer span.End()

	if (req.OrderID == nil) == (req.SampleID == nil) {
		return nil, apperror.Validation("exactly one of order_id or sample_id is required")
	}
	if req.Rating < 1 || req.Rating > 5 {
		return nil, apperror.Validation("rating must be between 1 and 5")
	}

	now := s.now().UTC()
	review := &models.Review{
		ID:         uuid.New(),
		ReviewerID: reviewer,
		OrderID:    req.OrderID,
		SampleID:   req.SampleID,
		Rating:     req.Rating,
		Comment:    strings.TrimSpace(req.Comment),
		CreatedAt:  now,
	}

	var subject string
	if req.OrderID != nil {
		order, err := s.orders.GetOrderByID(ctx, *req.OrderID)
		if err != nil {
			return nil, storeError("order", err)
		}
		if !order.IsParty(reviewer) {
			return nil, apperror.Forbidden("not a party to this order")
		}
		if !order.Reviewable() {
			return nil, apperror.IllegalTransition("order", "review", string(order.Status))
		}
		review.TargetUserID = order.Counterpart(reviewer)
		subject = order.ListingTitle
		if err := s.reviews.CreateOrderReview(ctx, review); err != nil {
			return nil, s.reviewError(err)
		}
	} else {
		sample, err := s.samples.GetSampleByID(ctx, *req.SampleID)
		if err != nil {
			return nil, storeError("sample", err)
		}
		if sample.ReceiverID != reviewer {
			return nil, apperror.Forbidden("only the receiver can review a sample")
		}
		if err := sample.MarkReviewed(now); err != nil {
			return nil, err
		}
		sample.UpdatedAt = now
		review.TargetUserID = sample.SupplierID
		subject = sample.ListingTitle
		if err := s.reviews.CreateSampleReview(ctx, review, sample); err != nil {
			return nil, s.reviewError(err)
		}
		util.TransitionsTotal.WithLabelValues("sample", string(sample.Status)).Inc()
		s.effects.record(ctx, "sample", sample.ID.String(), string(models.SampleStatusReceived),
			string(sample.Status), reviewer.String(), "")
		s.effects.publish(ctx, models.NewTransactionEvent(models.EventTypeSampleReviewed, "sample",
			sample.ID, reviewer, sample.ReceiverID, sample.SupplierID, string(sample.Status)))
	}

	s.logger.Info("Review created",
		zap.String("review_id", review.ID.String()),
		zap.String("target_user_id", review.TargetUserID.String()),
		zap.Int("rating", review.Rating))

	s.effects.publish(ctx, models.NewTransactionEvent(models.EventTypeReviewCreated, "review",
		review.ID, reviewer, reviewer, review.TargetUserID, "created"))
	s.effects.notify(ctx, NotificationInput{
		RecipientID: review.TargetUserID,
		Type:        models.NotificationReviewReceived,
		Title:       "New review",
		Message:     fmt.Sprintf("You received a %d star review for %s", review.Rating, subject),
		Payload:     map[string]any{"review_id": review.ID, "rating": review.Rating},
		Priority:    models.PriorityLow,
	})
	return review, nil
}

func (s *ReviewService) reviewError(err error) error {
	if isDuplicate(err) {
		return apperror.New(apperror.KindAlreadyExists, "you have already reviewed this")
	}
	return storeError("review", err)
}
