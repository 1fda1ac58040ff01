package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"leadpulse/engine"
)

// SequenceWorker periodically runs the sequence processor: advancing due
// steps and auto-enrolling new leads.
type SequenceWorker struct {
	processor *engine.Processor
	interval  time.Duration
	log       *logrus.Entry
}

func NewSequenceWorker(processor *engine.Processor, interval time.Duration, log *logrus.Entry) *SequenceWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SequenceWorker{processor: processor, interval: interval, log: log}
}

func (w *SequenceWorker) Start(ctx context.Context) {
	w.log.Info("sequence worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("sequence worker shutting down")
			return
		case <-ticker.C:
			result := w.processor.RunAll(ctx)
			for _, msg := range result.Errors {
				w.log.Warn(msg)
			}
		}
	}
}
