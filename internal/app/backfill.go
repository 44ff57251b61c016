package app

import (
	"context"
	"time"

	"github.com/edwork/tutorhub/internal/service"
	"go.uber.org/zap"
)

// BackfillWorker управляет фоновой материализацией чатов
type BackfillWorker struct {
	assignmentService *service.AssignmentService
	interval          time.Duration
	logger            *zap.Logger
	stopChan          chan struct{}
}

// NewBackfillWorker создаёт новый фоновый воркер
func NewBackfillWorker(assignmentService *service.AssignmentService, interval time.Duration, logger *zap.Logger) *BackfillWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &BackfillWorker{
		assignmentService: assignmentService,
		interval:          interval,
		logger:            logger,
		stopChan:          make(chan struct{}),
	}
}

// Start запускает фоновую задачу
func (w *BackfillWorker) Start(ctx context.Context) {
	w.logger.Info("Starting assignment backfill worker")

	go w.runBackfillTask(ctx)
}

// Stop останавливает фоновую задачу
func (w *BackfillWorker) Stop() {
	w.logger.Info("Stopping assignment backfill worker")
	close(w.stopChan)
}

// runBackfillTask периодически материализует чаты для назначений без чата.
// Это серверный аналог ленивого бэкфилла в инбоксе: чаты появляются, даже
// если учитель ни разу не открыл инбокс.
func (w *BackfillWorker) runBackfillTask(ctx context.Context) {
	// Первый запуск сразу при старте
	w.backfill(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.backfill(ctx)
		case <-w.stopChan:
			w.logger.Info("Backfill task stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Backfill task cancelled")
			return
		}
	}
}

func (w *BackfillWorker) backfill(ctx context.Context) {
	err := w.assignmentService.BackfillConversations(ctx)
	if err != nil {
		w.logger.Error("Failed to backfill conversations", zap.Error(err))
		return
	}
}
