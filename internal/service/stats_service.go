package service

import (
	"context"
	"fmt"

	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatsService maintains per-user counters from transaction events
type StatsService struct {
	repo   StatsRepository
	logger *zap.Logger
}

// NewStatsService creates a new stats service
func NewStatsService(repo StatsRepository) *StatsService {
	return &StatsService{repo: repo, logger: util.GetLogger()}
}

// HandleTransactionEvent applies the counters implied by event exactly once per event id
func (s *StatsService) HandleTransactionEvent(ctx context.Context, event *models.TransactionEvent) error {
	ctx, span := util.StartSpan(ctx, "StatsService.HandleTransactionEvent")
	defer span.End()

	deltas := models.StatsDeltas(event)
	applied, err := s.repo.ApplyStatsEvent(ctx, event.EventID, event.EventType, deltas)
	if err != nil {
		util.StatsEventsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("failed to apply stats event: %w", err)
	}
	if !applied {
		util.StatsEventsTotal.WithLabelValues("duplicate").Inc()
		s.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	util.StatsEventsTotal.WithLabelValues("applied").Inc()
	s.logger.Debug("Stats applied",
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.Int("deltas", len(deltas)))
	return nil
}

// Get returns the counters of a user
func (s *StatsService) Get(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	ctx, span := util.StartSpan(ctx, "StatsService.Get")
	defer span.End()

	stats, err := s.repo.GetUserStats(ctx, userID)
	if err != nil {
		return nil, storeError("stats", err)
	}
	return stats, nil
}
