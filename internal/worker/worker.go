package worker

import (
	"context"
	"time"

	"tradehub/internal/broker"
	"tradehub/internal/models"
	"tradehub/internal/util"

	"go.uber.org/zap"
)

// MessageSource is the consuming side of a Kafka topic
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// EventSink applies a decoded transaction event
type EventSink interface {
	HandleTransactionEvent(ctx context.Context, event *models.TransactionEvent) error
}

// StatsWorker consumes transaction events and folds them into user statistics
type StatsWorker struct {
	consumer     MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewStatsWorker creates a new stats worker
func NewStatsWorker(consumer MessageSource, stats EventSink) *StatsWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnTransaction(stats.HandleTransactionEvent)

	return &StatsWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming events until ctx is cancelled
func (w *StatsWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stats worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StatsWorker) Stop() error {
	w.logger.Info("Stopping stats worker")
	return w.consumer.Close()
}

// Sweeper is the expiry side of NotificationService
type Sweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// NotificationSweeper periodically deletes expired notifications
type NotificationSweeper struct {
	sweeper  Sweeper
	interval time.Duration
	logger   *zap.Logger
}

// NewNotificationSweeper creates a sweeper running every interval
func NewNotificationSweeper(sweeper Sweeper, interval time.Duration) *NotificationSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &NotificationSweeper{
		sweeper:  sweeper,
		interval: interval,
		logger:   util.GetLogger(),
	}
}

// Start sweeps on every tick until ctx is cancelled
func (s *NotificationSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting notification sweeper", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Notification sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *NotificationSweeper) sweep(ctx context.Context) {
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("Failed to sweep expired notifications", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Swept expired notifications", zap.Int64("deleted", n))
	}
}
