// Package channel holds the provider adapters for each communication medium
// and the dispatch table the router selects them from.
package channel

import (
	"context"
	"fmt"

	"leadpulse/models"
)

// Meta carries per-send context the adapter may need beyond the script.
type Meta struct {
	AttemptID       uint
	CampaignID      *uint
	Voice           *models.VoiceConfig
	EmailTemplateID *uint
}

// CallbackEvent is a provider delivery event normalized by an adapter.
type CallbackEvent struct {
	ProviderRef string `json:"provider_ref"`
	EventType   string `json:"event_type"`
	Detail      string `json:"detail,omitempty"`
	DurationSec int    `json:"duration_sec,omitempty"`
}

// Event types adapters normalize provider callbacks into.
const (
	EventDelivered = "delivered"
	EventOpened    = "opened"
	EventClicked   = "clicked"
	EventFailed    = "failed"
	EventNoAnswer  = "no_answer"
	EventCompleted = "completed"
)

// Adapter is the uniform per-channel provider contract. Send must resolve to
// a definite provider ref or error; timeouts and provider-side retries are
// the adapter's own business.
type Adapter interface {
	Channel() models.Channel
	Send(ctx context.Context, lead *models.Lead, script *models.Script, meta Meta) (string, error)
	GetStatus(ctx context.Context, providerRef string) (models.AttemptStatus, error)
	HandleCallback(payload []byte) (*CallbackEvent, error)
	TestConnection(ctx context.Context) error
}

// Registry is the channel → adapter dispatch table.
type Registry struct {
	adapters map[models.Channel]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Channel]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Channel()] = a
	}
	return r
}

// Register replaces the adapter for its channel.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Channel()] = a
}

// Get returns the adapter for the channel or an error if none is registered.
func (r *Registry) Get(ch models.Channel) (Adapter, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %s", ch)
	}
	return a, nil
}

// Channels lists the channels that have an adapter registered.
func (r *Registry) Channels() []models.Channel {
	var out []models.Channel
	for _, ch := range models.AllChannels {
		if _, ok := r.adapters[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}
