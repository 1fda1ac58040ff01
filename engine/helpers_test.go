package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"leadpulse/abtest"
	"leadpulse/channel"
	"leadpulse/models"
	"leadpulse/store"
)

type fixedClock struct{ t time.Time }

func (c *fixedClock) Now() time.Time          { return c.t }
func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
func (c *fixedClock) Set(t time.Time)         { c.t = t }

// sendLog records the cross-adapter dispatch order.
type sendLog struct {
	mu    sync.Mutex
	order []models.Channel
}

func (l *sendLog) add(ch models.Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, ch)
}

func (l *sendLog) snapshot() []models.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Channel(nil), l.order...)
}

// fakeAdapter records sends and can be flipped into failure mode. Callbacks
// are raw CallbackEvent JSON so tests can inject any provider event.
type fakeAdapter struct {
	ch   models.Channel
	fail bool
	log  *sendLog

	mu    sync.Mutex
	sends []fakeSend
	refs  int
}

type fakeSend struct {
	LeadID   uint
	ScriptID uint
	Meta     channel.Meta
}

func (a *fakeAdapter) Channel() models.Channel { return a.ch }

func (a *fakeAdapter) Send(_ context.Context, lead *models.Lead, script *models.Script, meta channel.Meta) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", errors.New("provider unavailable")
	}
	a.refs++
	a.sends = append(a.sends, fakeSend{LeadID: lead.ID, ScriptID: script.ID, Meta: meta})
	if a.log != nil {
		a.log.add(a.ch)
	}
	return fmt.Sprintf("%s-ref-%d", a.ch, a.refs), nil
}

func (a *fakeAdapter) GetStatus(context.Context, string) (models.AttemptStatus, error) {
	return models.AttemptInProgress, nil
}

func (a *fakeAdapter) HandleCallback(payload []byte) (*channel.CallbackEvent, error) {
	var event channel.CallbackEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if event.ProviderRef == "" {
		return nil, errors.New("callback missing provider_ref")
	}
	return &event, nil
}

func (a *fakeAdapter) TestConnection(context.Context) error { return nil }

func (a *fakeAdapter) sentCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sends)
}

func (a *fakeAdapter) lastSend() fakeSend {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sends[len(a.sends)-1]
}

// rig wires the engine against the in-memory store and fake adapters.
type rig struct {
	st       *store.MemoryStore
	clock    *fixedClock
	adapters map[models.Channel]*fakeAdapter
	sends    *sendLog

	scheduler  *Scheduler
	router     *Router
	sequences  *SequenceEngine
	processor  *Processor
	leadRouter *LeadRouter
}

// newRig starts at a fixed Monday morning so window tests are deterministic.
func newRig(t *testing.T) *rig {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logger.WithField("test", t.Name())

	st := store.NewMemoryStore()
	clock := &fixedClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)}

	sends := &sendLog{}
	adapters := make(map[models.Channel]*fakeAdapter, len(models.AllChannels))
	var list []channel.Adapter
	for _, ch := range models.AllChannels {
		a := &fakeAdapter{ch: ch, log: sends}
		adapters[ch] = a
		list = append(list, a)
	}

	scheduler := NewScheduler(st, clock, log)
	router := NewRouter(st, channel.NewRegistry(list...), abtest.NewWeightedSelector(st, 1), scheduler, clock, log)
	sequences := NewSequenceEngine(st, router, clock, log)
	processor := NewProcessor(st, sequences, clock, ProcessorConfig{}, log)
	leadRouter := NewLeadRouter(st, router, log)

	return &rig{
		st:         st,
		clock:      clock,
		adapters:   adapters,
		sends:      sends,
		scheduler:  scheduler,
		router:     router,
		sequences:  sequences,
		processor:  processor,
		leadRouter: leadRouter,
	}
}

func (r *rig) dispatchOrder() []models.Channel {
	return r.sends.snapshot()
}

func (r *rig) addLead(t *testing.T, lead models.Lead) *models.Lead {
	t.Helper()
	if lead.Status == "" {
		lead.Status = models.LeadNew
	}
	require.NoError(t, r.st.CreateLead(context.Background(), &lead))
	return &lead
}

func (r *rig) addCampaign(t *testing.T, campaign models.Campaign) *models.Campaign {
	t.Helper()
	if campaign.Status == "" {
		campaign.Status = models.CampaignActive
	}
	require.NoError(t, r.st.CreateCampaign(context.Background(), &campaign))
	return &campaign
}

func (r *rig) addDefaultScript(t *testing.T, ch models.Channel) *models.Script {
	t.Helper()
	script := models.Script{Name: "default " + string(ch), Channel: ch, Body: "hello", IsDefault: true}
	require.NoError(t, r.st.CreateScript(context.Background(), &script))
	return &script
}

func (r *rig) addSequence(t *testing.T, seq models.RetentionSequence) *models.RetentionSequence {
	t.Helper()
	if seq.Status == "" {
		seq.Status = models.SequenceActive
	}
	if seq.TriggerType == "" {
		seq.TriggerType = models.TriggerManual
	}
	for i := range seq.Steps {
		if seq.Steps[i].DelayUnit == "" {
			seq.Steps[i].DelayUnit = models.DelayHours
		}
		seq.Steps[i].IsActive = true
	}
	require.NoError(t, r.st.CreateSequence(context.Background(), &seq))
	return &seq
}

func intPtr(v int) *int { return &v }
