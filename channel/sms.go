package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"leadpulse/models"
	"leadpulse/utils"
)

// SMSAdapter sends SMS attempts through an HTTP messaging gateway.
type SMSAdapter struct {
	client providerClient
	from   string
}

func NewSMSAdapter(baseURL, apiKey, fromNumber string) *SMSAdapter {
	return &SMSAdapter{client: newProviderClient(baseURL, apiKey), from: fromNumber}
}

func (a *SMSAdapter) Channel() models.Channel { return models.ChannelSMS }

func (a *SMSAdapter) Send(ctx context.Context, lead *models.Lead, script *models.Script, _ Meta) (string, error) {
	if lead.Phone == "" {
		return "", fmt.Errorf("lead %d has no phone number", lead.ID)
	}
	body, err := utils.RenderScript(script.Body, lead)
	if err != nil {
		return "", err
	}
	resp, err := a.client.postJSON(ctx, "/messages", map[string]string{
		"from": a.from,
		"to":   lead.Phone,
		"body": body,
	})
	if err != nil {
		return "", fmt.Errorf("sms send failed: %w", err)
	}
	return resp.Ref, nil
}

func (a *SMSAdapter) GetStatus(ctx context.Context, providerRef string) (models.AttemptStatus, error) {
	resp, err := a.client.getJSON(ctx, "/messages/"+providerRef)
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case "delivered":
		return models.AttemptSuccess, nil
	case "failed", "undelivered":
		return models.AttemptFailed, nil
	}
	return models.AttemptInProgress, nil
}

type smsCallbackPayload struct {
	Ref    string `json:"ref"`
	Status string `json:"status"` // delivered, failed
	Reason string `json:"reason,omitempty"`
}

func (a *SMSAdapter) HandleCallback(payload []byte) (*CallbackEvent, error) {
	var p smsCallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed sms callback: %w", err)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("sms callback missing ref")
	}
	event := &CallbackEvent{ProviderRef: p.Ref, Detail: p.Reason}
	switch p.Status {
	case "delivered":
		event.EventType = EventDelivered
	case "failed", "undelivered":
		event.EventType = EventFailed
	default:
		return nil, fmt.Errorf("unknown sms status %q", p.Status)
	}
	return event, nil
}

func (a *SMSAdapter) TestConnection(ctx context.Context) error {
	return a.client.ping(ctx)
}
