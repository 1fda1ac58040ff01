package worker

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"leadpulse/engine"
)

// QueueWorker periodically dispatches PENDING attempts and sweeps due
// SCHEDULED attempts back through the router.
type QueueWorker struct {
	router    *engine.Router
	scheduler *engine.Scheduler
	interval  time.Duration
	log       *logrus.Entry
}

func NewQueueWorker(router *engine.Router, scheduler *engine.Scheduler, interval time.Duration, log *logrus.Entry) *QueueWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &QueueWorker{router: router, scheduler: scheduler, interval: interval, log: log}
}

func (w *QueueWorker) Start(ctx context.Context) {
	w.log.Info("queue worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("queue worker shutting down")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *QueueWorker) tick(ctx context.Context) {
	if result, err := w.router.ProcessQueue(ctx); err != nil {
		sentry.CaptureException(err)
		w.log.WithError(err).Error("queue sweep failed")
	} else {
		w.report("queue", result)
	}

	if result, err := w.scheduler.ProcessScheduledContacts(ctx, w.router); err != nil {
		sentry.CaptureException(err)
		w.log.WithError(err).Error("scheduled contact sweep failed")
	} else {
		w.report("scheduled", result)
	}
}

func (w *QueueWorker) report(name string, result *engine.SweepResult) {
	for _, msg := range result.Errors {
		w.log.WithField("sweep", name).Warn(msg)
	}
}
