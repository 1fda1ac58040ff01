package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadpulse/abtest"
	"leadpulse/channel"
	"leadpulse/config"
	"leadpulse/engine"
	"leadpulse/models"
	"leadpulse/store"
	"leadpulse/utils"
	"leadpulse/worker"
)

// stubAdapter stands in for a provider so handler tests never touch the
// network. Callbacks accept both the provider shape and the tracking shape.
type stubAdapter struct {
	ch   models.Channel
	mu   sync.Mutex
	refs int
}

func (a *stubAdapter) Channel() models.Channel { return a.ch }

func (a *stubAdapter) Send(ctx context.Context, lead *models.Lead, script *models.Script, meta channel.Meta) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refs++
	return fmt.Sprintf("%s-stub-%d", a.ch, a.refs), nil
}

func (a *stubAdapter) GetStatus(ctx context.Context, providerRef string) (models.AttemptStatus, error) {
	return models.AttemptInProgress, nil
}

func (a *stubAdapter) HandleCallback(payload []byte) (*channel.CallbackEvent, error) {
	var in struct {
		ProviderRef string `json:"provider_ref"`
		EventType   string `json:"event_type"`
		Detail      string `json:"detail"`
		MessageID   string `json:"message_id"`
		Event       string `json:"event"`
	}
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, err
	}
	ev := &channel.CallbackEvent{ProviderRef: in.ProviderRef, EventType: in.EventType, Detail: in.Detail}
	if ev.ProviderRef == "" {
		ev.ProviderRef, ev.EventType = in.MessageID, in.Event
	}
	if ev.ProviderRef == "" {
		return nil, errors.New("callback missing reference")
	}
	return ev, nil
}

func (a *stubAdapter) TestConnection(ctx context.Context) error { return nil }

type testEnv struct {
	app       *fiber.App
	st        *store.MemoryStore
	sequences *engine.SequenceEngine
}

// newTestEnv wires the real engine onto the in-memory store and registers
// the handlers without the auth middleware in between.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	log := logger.WithField("test", t.Name())

	st := store.NewMemoryStore()
	clock := engine.SystemClock{}

	var adapters []channel.Adapter
	for _, ch := range models.AllChannels {
		adapters = append(adapters, &stubAdapter{ch: ch})
	}
	registry := channel.NewRegistry(adapters...)

	selector := abtest.NewWeightedSelector(st, 1)
	scheduler := engine.NewScheduler(st, clock, log)
	router := engine.NewRouter(st, registry, selector, scheduler, clock, log)
	sequences := engine.NewSequenceEngine(st, router, clock, log)
	leadRouter := engine.NewLeadRouter(st, router, log)

	ctx, cancel := context.WithCancel(context.Background())
	executor := worker.NewExecutor(1, 16, log)
	executor.Start(ctx)
	t.Cleanup(func() {
		cancel()
		executor.Shutdown()
	})

	leads := NewLeadController(st, leadRouter, sequences, executor, log)
	campaigns := NewCampaignController(st, router, executor, log)
	webhooks := NewWebhookController(router, log)

	app := fiber.New()
	app.Post("/webhooks/:channel", webhooks.HandleCallback)
	app.Get("/t/open/:messageID/:token", webhooks.TrackOpen)
	app.Get("/t/click/:messageID/:token", webhooks.TrackClick)

	api := app.Group("/api/v1")
	api.Post("/leads", leads.CreateLead)
	api.Get("/leads/:id", leads.GetLead)
	api.Put("/leads/:id/status", leads.UpdateLeadStatus)
	api.Post("/leads/:id/conversions", leads.RecordConversion)
	api.Put("/campaigns/:id/status", campaigns.UpdateCampaignStatus)
	api.Post("/campaigns/:id/leads", campaigns.AssignLead)
	api.Post("/campaigns/:id/route", campaigns.RouteContact)

	return &testEnv{app: app, st: st, sequences: sequences}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, raw
}

func TestCreateLeadPersistsLead(t *testing.T) {
	e := newTestEnv(t)

	resp, raw := e.request(t, http.MethodPost, "/api/v1/leads", fiber.Map{
		"email":      "ada@example.com",
		"first_name": "Ada",
		"source":     "webinar",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Lead
	require.NoError(t, json.Unmarshal(raw, &created))
	require.NotZero(t, created.ID)

	stored, err := e.st.GetLead(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadNew, stored.Status)
	assert.Equal(t, "webinar", stored.Source)
}

func TestCreateLeadRequiresContactMethod(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.request(t, http.MethodPost, "/api/v1/leads", fiber.Map{
		"first_name": "Ada",
		"source":     "webinar",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateLeadRejectsBadEmail(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.request(t, http.MethodPost, "/api/v1/leads", fiber.Map{
		"email":  "not-an-address",
		"source": "webinar",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetLeadNotFound(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.request(t, http.MethodGet, "/api/v1/leads/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateLeadStatusDoNotContactIsTerminal(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadDoNotContact, Source: "import"}
	require.NoError(t, e.st.CreateLead(ctx, lead))

	resp, _ := e.request(t, http.MethodPut, fmt.Sprintf("/api/v1/leads/%d/status", lead.ID), fiber.Map{
		"status": "CONTACTED",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stored, err := e.st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadDoNotContact, stored.Status)
}

func TestRecordConversionConvertsEnrollments(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadEngaged, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))

	seq := &models.RetentionSequence{
		Name:        "winback",
		Status:      models.SequenceActive,
		TriggerType: models.TriggerManual,
		Steps: []models.SequenceStep{
			{StepOrder: 1, Channel: models.ChannelEmail, DelayValue: 1, DelayUnit: models.DelayDays, IsActive: true},
		},
	}
	require.NoError(t, e.st.CreateSequence(ctx, seq))
	enrollment, err := e.sequences.EnrollLead(ctx, seq.ID, lead.ID)
	require.NoError(t, err)

	resp, raw := e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/leads/%d/conversions", lead.ID), fiber.Map{
		"value":   4900,
		"details": "annual plan",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		ConversionID         uint `json:"conversion_id"`
		EnrollmentsConverted int  `json:"enrollments_converted"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.NotZero(t, out.ConversionID)
	assert.Equal(t, 1, out.EnrollmentsConverted)

	stored, err := e.st.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadConverted, stored.Status)

	enr, err := e.st.GetEnrollment(ctx, enrollment.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EnrollmentConverted, enr.Status)
}

func TestAssignLeadDuplicateConflict(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	campaign := &models.Campaign{Name: "q2", Status: models.CampaignDraft, Channels: []models.Channel{models.ChannelEmail}}
	require.NoError(t, e.st.CreateCampaign(ctx, campaign))
	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadNew, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))

	path := fmt.Sprintf("/api/v1/campaigns/%d/leads", campaign.ID)
	resp, _ := e.request(t, http.MethodPost, path, fiber.Map{"lead_id": lead.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	cl, err := e.st.GetCampaignLead(ctx, campaign.ID, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignLeadPending, cl.Status)

	resp, _ = e.request(t, http.MethodPost, path, fiber.Map{"lead_id": lead.ID})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAssignLeadRejectsOptedOut(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	campaign := &models.Campaign{Name: "q2", Status: models.CampaignDraft, Channels: []models.Channel{models.ChannelEmail}}
	require.NoError(t, e.st.CreateCampaign(ctx, campaign))
	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadDoNotContact, Source: "import"}
	require.NoError(t, e.st.CreateLead(ctx, lead))

	resp, _ := e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/leads", campaign.ID), fiber.Map{
		"lead_id": lead.ID,
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestUpdateCampaignStatusRejectsInvalidTransition(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	campaign := &models.Campaign{Name: "q2", Status: models.CampaignDraft, Channels: []models.Channel{models.ChannelEmail}}
	require.NoError(t, e.st.CreateCampaign(ctx, campaign))

	resp, _ := e.request(t, http.MethodPut, fmt.Sprintf("/api/v1/campaigns/%d/status", campaign.ID), fiber.Map{
		"status": "COMPLETED",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	stored, err := e.st.GetCampaign(ctx, campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignDraft, stored.Status)
}

func TestRouteContactEndpointDispatches(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	campaign := &models.Campaign{Name: "q2", Status: models.CampaignActive, Channels: []models.Channel{models.ChannelEmail}}
	require.NoError(t, e.st.CreateCampaign(ctx, campaign))
	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadNew, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))
	script := &models.Script{Name: "hello", Channel: models.ChannelEmail, Body: "Hi {{.FirstName}}", IsDefault: true}
	require.NoError(t, e.st.CreateScript(ctx, script))

	resp, raw := e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/route", campaign.ID), fiber.Map{
		"lead_id": lead.ID,
		"channel": "EMAIL",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		AttemptID uint `json:"attempt_id"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	require.NotZero(t, out.AttemptID)

	attempt, err := e.st.GetAttempt(ctx, out.AttemptID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptInProgress, attempt.Status)
	assert.NotEmpty(t, attempt.ProviderRef)
}

func TestRouteContactEndpointRejectsUnknownChannel(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	campaign := &models.Campaign{Name: "q2", Status: models.CampaignActive, Channels: []models.Channel{models.ChannelEmail}}
	require.NoError(t, e.st.CreateCampaign(ctx, campaign))
	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadNew, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))

	resp, _ := e.request(t, http.MethodPost, fmt.Sprintf("/api/v1/campaigns/%d/route", campaign.ID), fiber.Map{
		"lead_id": lead.ID,
		"channel": "FAX",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleCallbackUpdatesAttempt(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadContacted, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))
	attempt := &models.ContactAttempt{
		LeadID:      lead.ID,
		Channel:     models.ChannelEmail,
		Status:      models.AttemptInProgress,
		ProviderRef: "em-123",
	}
	require.NoError(t, e.st.CreateAttempt(ctx, attempt))

	resp, _ := e.request(t, http.MethodPost, "/webhooks/email", fiber.Map{
		"provider_ref": "em-123",
		"event_type":   "delivered",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := e.st.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptSuccess, stored.Status)
	assert.True(t, stored.Result.Delivered)
}

func TestHandleCallbackUnknownChannel(t *testing.T) {
	e := newTestEnv(t)

	resp, _ := e.request(t, http.MethodPost, "/webhooks/fax", fiber.Map{
		"provider_ref": "x-1",
		"event_type":   "delivered",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTrackOpenServesPixelAndRecordsOpen(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	prev := config.AppConfig.JWTSecret
	config.AppConfig.JWTSecret = "test-secret"
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })

	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadContacted, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))
	attempt := &models.ContactAttempt{
		LeadID:      lead.ID,
		Channel:     models.ChannelEmail,
		Status:      models.AttemptInProgress,
		ProviderRef: "em-open-1",
	}
	require.NoError(t, e.st.CreateAttempt(ctx, attempt))

	token := utils.TrackingToken("em-open-1")
	resp, raw := e.request(t, http.MethodGet, "/t/open/em-open-1/"+token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/gif", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, raw)

	stored, err := e.st.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.True(t, stored.Result.Opened)
}

func TestTrackOpenIgnoresBadToken(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	prev := config.AppConfig.JWTSecret
	config.AppConfig.JWTSecret = "test-secret"
	t.Cleanup(func() { config.AppConfig.JWTSecret = prev })

	lead := &models.Lead{Email: "ada@example.com", Status: models.LeadContacted, Source: "webinar"}
	require.NoError(t, e.st.CreateLead(ctx, lead))
	attempt := &models.ContactAttempt{
		LeadID:      lead.ID,
		Channel:     models.ChannelEmail,
		Status:      models.AttemptInProgress,
		ProviderRef: "em-open-2",
	}
	require.NoError(t, e.st.CreateAttempt(ctx, attempt))

	resp, _ := e.request(t, http.MethodGet, "/t/open/em-open-2/forged", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := e.st.GetAttempt(ctx, attempt.ID)
	require.NoError(t, err)
	assert.False(t, stored.Result.Opened)
}
