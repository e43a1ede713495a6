package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradehub/internal/apperror"
	"tradehub/internal/models"
	"tradehub/internal/store"
	"tradehub/internal/util"

	"go.uber.org/zap"
)

// Effects runs the side effects of a committed transition. Every member is
// optional; failures are logged and never undo the transition.
type Effects struct {
	Notifier Notifier
	Events   EventPublisher
	History  HistoryRecorder
}

type effects struct {
	Effects
	logger *zap.Logger
}

func newEffects(e Effects) effects {
	return effects{Effects: e, logger: util.GetLogger()}
}

// detach keeps request values but drops cancellation, so side effects of a
// committed write finish even if the caller goes away.
func detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func (e effects) publish(ctx context.Context, event *models.TransactionEvent) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(detach(ctx), event); err != nil {
		e.logger.Error("Failed to publish transaction event",
			zap.String("event_type", event.EventType),
			zap.String("entity_id", event.EntityID.String()),
			zap.Error(err))
	}
}

func (e effects) record(ctx context.Context, entity, id, from, to, actor, reason string) {
	if e.History == nil {
		return
	}
	change := models.StatusChange{
		EntityType: entity,
		EntityID:   id,
		OldStatus:  from,
		NewStatus:  to,
		ActorID:    actor,
		Reason:     reason,
		Timestamp:  time.Now().UTC(),
	}
	if err := e.History.Record(detach(ctx), change); err != nil {
		e.logger.Error("Failed to record status history",
			zap.String("entity_type", entity),
			zap.String("entity_id", id),
			zap.Error(err))
	}
}

func (e effects) notify(ctx context.Context, in NotificationInput) {
	if e.Notifier == nil {
		return
	}
	if _, err := e.Notifier.Dispatch(detach(ctx), in); err != nil {
		e.logger.Error("Failed to dispatch notification",
			zap.String("type", string(in.Type)),
			zap.String("recipient_id", in.RecipientID.String()),
			zap.Error(err))
	}
}

// storeError maps store sentinels onto caller-facing error kinds.
func storeError(entity string, err error) error {
	var appErr *apperror.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, store.ErrNotFound):
		return apperror.NotFound(entity)
	case errors.Is(err, store.ErrConflict):
		util.TransitionConflictsTotal.WithLabelValues(entity).Inc()
		return apperror.Conflict("%s was modified concurrently, reload and retry", entity)
	case errors.Is(err, store.ErrDuplicate):
		return apperror.Wrap(apperror.KindAlreadyExists, err, entity+" already exists")
	default:
		return apperror.Internal(fmt.Errorf("failed to persist %s: %w", entity, err))
	}
}

func isDuplicate(err error) bool {
	return errors.Is(err, store.ErrDuplicate)
}
