package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"leadpulse/models"
)

// PushAdapter delivers push notifications through an HTTP push gateway.
type PushAdapter struct {
	client providerClient
}

func NewPushAdapter(baseURL, apiKey string) *PushAdapter {
	return &PushAdapter{client: newProviderClient(baseURL, apiKey)}
}

func (a *PushAdapter) Channel() models.Channel { return models.ChannelPush }

func (a *PushAdapter) Send(ctx context.Context, lead *models.Lead, script *models.Script, _ Meta) (string, error) {
	if lead.PushToken == "" {
		return "", fmt.Errorf("lead %d has no push token", lead.ID)
	}
	resp, err := a.client.postJSON(ctx, "/notifications", map[string]string{
		"token": lead.PushToken,
		"title": script.Subject,
		"body":  script.Body,
	})
	if err != nil {
		return "", fmt.Errorf("push send failed: %w", err)
	}
	return resp.Ref, nil
}

func (a *PushAdapter) GetStatus(ctx context.Context, providerRef string) (models.AttemptStatus, error) {
	resp, err := a.client.getJSON(ctx, "/notifications/"+providerRef)
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case "delivered":
		return models.AttemptSuccess, nil
	case "failed", "expired":
		return models.AttemptFailed, nil
	}
	return models.AttemptInProgress, nil
}

type pushCallbackPayload struct {
	Ref    string `json:"ref"`
	Status string `json:"status"` // delivered, opened, failed
	Reason string `json:"reason,omitempty"`
}

func (a *PushAdapter) HandleCallback(payload []byte) (*CallbackEvent, error) {
	var p pushCallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed push callback: %w", err)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("push callback missing ref")
	}
	event := &CallbackEvent{ProviderRef: p.Ref, Detail: p.Reason}
	switch p.Status {
	case "delivered":
		event.EventType = EventDelivered
	case "opened":
		event.EventType = EventOpened
	case "failed", "expired":
		event.EventType = EventFailed
	default:
		return nil, fmt.Errorf("unknown push status %q", p.Status)
	}
	return event, nil
}

func (a *PushAdapter) TestConnection(ctx context.Context) error {
	return a.client.ping(ctx)
}
