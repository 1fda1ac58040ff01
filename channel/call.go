package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"leadpulse/models"
)

// CallAdapter places outbound voice calls through an HTTP telephony gateway.
type CallAdapter struct {
	client providerClient
	from   string
}

func NewCallAdapter(baseURL, apiKey, fromNumber string) *CallAdapter {
	return &CallAdapter{client: newProviderClient(baseURL, apiKey), from: fromNumber}
}

func (a *CallAdapter) Channel() models.Channel { return models.ChannelCall }

func (a *CallAdapter) Send(ctx context.Context, lead *models.Lead, script *models.Script, meta Meta) (string, error) {
	if lead.Phone == "" {
		return "", fmt.Errorf("lead %d has no phone number", lead.ID)
	}
	body := map[string]interface{}{
		"from":   a.from,
		"to":     lead.Phone,
		"script": script.Body,
	}
	if meta.Voice != nil {
		if meta.Voice.AgentID != "" {
			body["agent_id"] = meta.Voice.AgentID
		}
		body["leave_voicemail"] = meta.Voice.LeaveVoicemail
		if meta.Voice.MaxDurationSec > 0 {
			body["max_duration_sec"] = meta.Voice.MaxDurationSec
		}
	}
	resp, err := a.client.postJSON(ctx, "/calls", body)
	if err != nil {
		return "", fmt.Errorf("call dispatch failed: %w", err)
	}
	return resp.Ref, nil
}

func (a *CallAdapter) GetStatus(ctx context.Context, providerRef string) (models.AttemptStatus, error) {
	resp, err := a.client.getJSON(ctx, "/calls/"+providerRef)
	if err != nil {
		return "", err
	}
	switch resp.Status {
	case "completed":
		return models.AttemptCompleted, nil
	case "no_answer", "busy":
		return models.AttemptNoAnswer, nil
	case "failed":
		return models.AttemptFailed, nil
	}
	return models.AttemptInProgress, nil
}

type callCallbackPayload struct {
	Ref         string `json:"ref"`
	Status      string `json:"status"` // completed, no_answer, busy, failed
	Reason      string `json:"reason,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

func (a *CallAdapter) HandleCallback(payload []byte) (*CallbackEvent, error) {
	var p callCallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed call callback: %w", err)
	}
	if p.Ref == "" {
		return nil, fmt.Errorf("call callback missing ref")
	}
	event := &CallbackEvent{ProviderRef: p.Ref, Detail: p.Reason, DurationSec: p.DurationSec}
	switch p.Status {
	case "completed":
		event.EventType = EventCompleted
	case "no_answer", "busy":
		event.EventType = EventNoAnswer
	case "failed":
		event.EventType = EventFailed
	default:
		return nil, fmt.Errorf("unknown call status %q", p.Status)
	}
	return event, nil
}

func (a *CallAdapter) TestConnection(ctx context.Context) error {
	return a.client.ping(ctx)
}
