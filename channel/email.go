package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"leadpulse/models"
	"leadpulse/utils"
)

// SMTPConfig configures the email adapter's outbound connection.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string

	// TrackingBaseURL, when set, enables open and click tracking on
	// outbound bodies.
	TrackingBaseURL string
}

// EmailAdapter sends EMAIL attempts over SMTP via gomail.
type EmailAdapter struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
}

func NewEmailAdapter(cfg SMTPConfig) *EmailAdapter {
	return &EmailAdapter{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

func (a *EmailAdapter) Channel() models.Channel { return models.ChannelEmail }

func (a *EmailAdapter) Send(_ context.Context, lead *models.Lead, script *models.Script, meta Meta) (string, error) {
	if lead.Email == "" {
		return "", fmt.Errorf("lead %d has no email address", lead.ID)
	}

	messageID := uuid.New().String()

	subject, err := utils.RenderScript(script.Subject, lead)
	if err != nil {
		return "", err
	}
	body, err := utils.RenderScript(script.Body, lead)
	if err != nil {
		return "", err
	}
	if a.cfg.TrackingBaseURL != "" {
		body = utils.InjectTracking(body, a.cfg.TrackingBaseURL, messageID)
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", a.cfg.FromEmail, a.cfg.FromName)
	m.SetHeader("To", lead.Email)
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@leadpulse>", messageID))
	if meta.EmailTemplateID != nil {
		m.SetHeader("X-Template-ID", fmt.Sprintf("%d", *meta.EmailTemplateID))
	}
	m.SetBody("text/html", body)

	if err := a.dialer.DialAndSend(m); err != nil {
		return "", fmt.Errorf("smtp send failed: %w", err)
	}
	return messageID, nil
}

// GetStatus: SMTP gives no post-accept visibility, delivery state arrives via
// bounce/open callbacks instead.
func (a *EmailAdapter) GetStatus(_ context.Context, _ string) (models.AttemptStatus, error) {
	return models.AttemptInProgress, nil
}

type emailCallbackPayload struct {
	MessageID string `json:"message_id"`
	Event     string `json:"event"` // delivered, opened, clicked, bounced
	Reason    string `json:"reason,omitempty"`
}

func (a *EmailAdapter) HandleCallback(payload []byte) (*CallbackEvent, error) {
	var p emailCallbackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("malformed email callback: %w", err)
	}
	if p.MessageID == "" {
		return nil, fmt.Errorf("email callback missing message_id")
	}
	event := &CallbackEvent{ProviderRef: p.MessageID, Detail: p.Reason}
	switch p.Event {
	case "delivered":
		event.EventType = EventDelivered
	case "opened":
		event.EventType = EventOpened
	case "clicked":
		event.EventType = EventClicked
	case "bounced", "failed":
		event.EventType = EventFailed
	default:
		return nil, fmt.Errorf("unknown email event %q", p.Event)
	}
	return event, nil
}

func (a *EmailAdapter) TestConnection(_ context.Context) error {
	closer, err := a.dialer.Dial()
	if err != nil {
		return fmt.Errorf("smtp dial failed: %w", err)
	}
	return closer.Close()
}
