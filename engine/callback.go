package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"leadpulse/channel"
	"leadpulse/models"
	"leadpulse/store"
)

// ApplyCallback processes one provider delivery callback for a channel.
// Handling is idempotent per (providerRef, eventType): replays are dropped
// before any state changes. Delivery outcomes propagate into the linked
// sequence step execution when one exists.
func (r *Router) ApplyCallback(ctx context.Context, ch models.Channel, payload []byte) error {
	adapter, err := r.adapters.Get(ch)
	if err != nil {
		return err
	}
	event, err := adapter.HandleCallback(payload)
	if err != nil {
		return fmt.Errorf("parse %s callback: %w", ch, err)
	}

	fresh, err := r.store.RecordWebhookEvent(ctx, &models.WebhookEvent{
		Provider:    string(ch),
		ProviderRef: event.ProviderRef,
		EventType:   event.EventType,
		Payload:     string(payload),
	})
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	if !fresh {
		r.log.WithFields(logrus.Fields{
			"provider_ref": event.ProviderRef,
			"event_type":   event.EventType,
		}).Debug("duplicate callback dropped")
		return nil
	}

	attempt, err := r.store.GetAttemptByProviderRef(ctx, event.ProviderRef)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Entity: "attempt"}
	}
	if err != nil {
		return fmt.Errorf("load attempt by ref %s: %w", event.ProviderRef, err)
	}

	r.applyEvent(attempt, event)
	if err := r.store.UpdateAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("update attempt %d: %w", attempt.ID, err)
	}

	if err := r.propagateToExecution(ctx, attempt, event); err != nil {
		return err
	}

	r.log.WithFields(logrus.Fields{
		"attempt_id": attempt.ID,
		"event_type": event.EventType,
		"status":     attempt.Status,
	}).Info("callback applied")
	return nil
}

func (r *Router) applyEvent(attempt *models.ContactAttempt, event *channel.CallbackEvent) {
	now := r.clock.Now()
	attempt.Result.RawEvent = event.EventType
	switch event.EventType {
	case channel.EventDelivered:
		attempt.Result.Delivered = true
		attempt.Status = models.AttemptSuccess
		attempt.CompletedAt = &now
	case channel.EventOpened:
		attempt.Result.Opened = true
	case channel.EventClicked:
		attempt.Result.Clicked = true
	case channel.EventCompleted:
		attempt.Result.Delivered = true
		attempt.Result.DurationSec = event.DurationSec
		attempt.Status = models.AttemptCompleted
		attempt.CompletedAt = &now
	case channel.EventNoAnswer:
		attempt.Status = models.AttemptNoAnswer
		attempt.CompletedAt = &now
	case channel.EventFailed:
		attempt.Status = models.AttemptFailed
		attempt.CompletedAt = &now
		attempt.Notes = event.Detail
	}
}

func (r *Router) propagateToExecution(ctx context.Context, attempt *models.ContactAttempt, event *channel.CallbackEvent) error {
	exec, err := r.store.GetExecutionByAttempt(ctx, attempt.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load execution for attempt %d: %w", attempt.ID, err)
	}

	switch event.EventType {
	case channel.EventDelivered, channel.EventCompleted:
		if exec.Status == models.ExecutionSent {
			exec.Status = models.ExecutionDelivered
		}
	case channel.EventFailed, channel.EventNoAnswer:
		if exec.Status == models.ExecutionSent {
			exec.Status = models.ExecutionFailed
			exec.LastError = event.Detail
		}
	default:
		return nil
	}
	if err := r.store.UpdateExecution(ctx, exec); err != nil {
		return fmt.Errorf("update execution %d: %w", exec.ID, err)
	}
	return nil
}
