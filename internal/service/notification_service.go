package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventNewNotification is the push event carrying a freshly dispatched notification
const EventNewNotification = "new_notification"

const summaryRecentLimit = 10

// NotificationInput describes one notification to dispatch
type NotificationInput struct {
	RecipientID    uuid.UUID
	Type           models.NotificationType
	Title          string
	Message        string
	Payload        any
	ActionRequired bool
	Priority       models.NotificationPriority
	Category       models.NotificationCategory
	ExpiresAt      *time.Time
}

// NotificationService persists notifications and pushes them to live connections
type NotificationService struct {
	repo   NotificationRepository
	pusher Pusher
	now    func() time.Time
	logger *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(repo NotificationRepository) *NotificationService {
	return &NotificationService{
		repo:   repo,
		now:    time.Now,
		logger: util.GetLogger(),
	}
}

// SetPusher attaches the realtime delivery path. Without one every
// notification is stored for later retrieval.
func (s *NotificationService) SetPusher(p Pusher) {
	s.pusher = p
}

func (s *NotificationService) build(in NotificationInput, now time.Time) (*models.Notification, error) {
	if in.RecipientID == uuid.Nil {
		return nil, apperror.Validation("notification recipient is required")
	}
	if !in.Type.Valid() {
		return nil, apperror.Validation("unknown notification type %q", in.Type)
	}
	if in.Title == "" || in.Message == "" {
		return nil, apperror.Validation("notification title and message are required")
	}

	payload := json.RawMessage("{}")
	if in.Payload != nil {
		raw, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindValidation, err, "notification payload is not serializable")
		}
		payload = raw
	}

	priority := in.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	category := in.Category
	if category == "" {
		category = in.Type.Category()
	}

	return &models.Notification{
		ID:             uuid.New(),
		RecipientID:    in.RecipientID,
		Type:           in.Type,
		Title:          in.Title,
		Message:        in.Message,
		Payload:        payload,
		ActionRequired: in.ActionRequired,
		Priority:       priority,
		Category:       category,
		ExpiresAt:      in.ExpiresAt,
		CreatedAt:      now,
	}, nil
}

// Dispatch stores a notification and then pushes it if the recipient is
// connected. An offline recipient is not an error.
func (s *NotificationService) Dispatch(ctx context.Context, in NotificationInput) (*models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.Dispatch")
	defer span.End()

	n, err := s.build(in, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CreateNotifications(ctx, []*models.Notification{n}); err != nil {
		util.NotificationsDispatchedTotal.WithLabelValues("failed").Inc()
		return nil, apperror.Internal(fmt.Errorf("failed to store notification: %w", err))
	}
	s.push(n)
	return n, nil
}

// DispatchBulk stores one notification per recipient in a single batch and
// attempts delivery to each recipient independently
func (s *NotificationService) DispatchBulk(ctx context.Context, recipients []uuid.UUID, template NotificationInput) ([]*models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.DispatchBulk")
	defer span.End()

	now := s.now()
	seen := make(map[uuid.UUID]bool, len(recipients))
	batch := make([]*models.Notification, 0, len(recipients))
	for _, r := range recipients {
		if seen[r] {
			continue
		}
		seen[r] = true
		in := template
		in.RecipientID = r
		n, err := s.build(in, now)
		if err != nil {
			return nil, err
		}
		batch = append(batch, n)
	}

	if err := s.repo.CreateNotifications(ctx, batch); err != nil {
		util.NotificationsDispatchedTotal.WithLabelValues("failed").Add(float64(len(batch)))
		return nil, apperror.Internal(fmt.Errorf("failed to store notifications: %w", err))
	}
	for _, n := range batch {
		s.push(n)
	}
	return batch, nil
}

func (s *NotificationService) push(n *models.Notification) {
	if s.pusher != nil && s.pusher.Push(n.RecipientID, EventNewNotification, n) {
		util.NotificationsDispatchedTotal.WithLabelValues("pushed").Inc()
		return
	}
	util.NotificationsDispatchedTotal.WithLabelValues("deferred").Inc()
	s.logger.Debug("Notification deferred, recipient offline",
		zap.String("recipient_id", n.RecipientID.String()),
		zap.String("notification_id", n.ID.String()))
}

// Summary returns the unread count and most recent notifications of a recipient
func (s *NotificationService) Summary(ctx context.Context, recipientID uuid.UUID) (*models.NotificationSummary, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.Summary")
	defer span.End()

	now := s.now()
	count, err := s.repo.CountUnreadNotifications(ctx, recipientID, now)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to count notifications: %w", err))
	}
	recent, err := s.repo.ListNotifications(ctx, recipientID, models.NotificationFilter{Limit: summaryRecentLimit}, now)
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to list notifications: %w", err))
	}
	if recent == nil {
		recent = []models.Notification{}
	}
	return &models.NotificationSummary{UnreadCount: count, Recent: recent}, nil
}

// List returns a page of a recipient's visible notifications
func (s *NotificationService) List(ctx context.Context, recipientID uuid.UUID, filter models.NotificationFilter) ([]models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.List")
	defer span.End()

	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	out, err := s.repo.ListNotifications(ctx, recipientID, filter, s.now())
	if err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to list notifications: %w", err))
	}
	if out == nil {
		out = []models.Notification{}
	}
	return out, nil
}

// MarkRead marks one of the recipient's notifications read. Notifications of
// other recipients and expired ones are reported as not found.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, id uuid.UUID) (*models.Notification, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.MarkRead")
	defer span.End()

	now := s.now()
	n, err := s.repo.GetNotificationByID(ctx, id)
	if err != nil {
		return nil, storeError("notification", err)
	}
	if n.RecipientID != recipientID || n.Expired(now) {
		return nil, apperror.NotFound("notification")
	}
	if n.IsRead {
		return n, nil
	}
	updated, err := s.repo.MarkNotificationRead(ctx, id, now)
	if err != nil {
		return nil, storeError("notification", err)
	}
	return updated, nil
}

// MarkAllRead marks every unread notification of the recipient read and
// returns how many changed. Repeating it is harmless.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.MarkAllRead")
	defer span.End()

	n, err := s.repo.MarkAllNotificationsRead(ctx, recipientID, s.now())
	if err != nil {
		return 0, apperror.Internal(fmt.Errorf("failed to mark notifications read: %w", err))
	}
	return n, nil
}

// SweepExpired deletes notifications past their expiry. Expired
// notifications are already invisible, so this only reclaims storage.
func (s *NotificationService) SweepExpired(ctx context.Context) (int64, error) {
	ctx, span := util.StartSpan(ctx, "NotificationService.SweepExpired")
	defer span.End()

	n, err := s.repo.DeleteExpiredNotifications(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	util.NotificationsSweptTotal.Add(float64(n))
	return n, nil
}
