package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	controller "leadpulse/controllers"
	"leadpulse/middleware"
	"leadpulse/utils"
)

// Controllers bundles the request handlers the router wires up.
type Controllers struct {
	Leads     *controller.LeadController
	Campaigns *controller.CampaignController
	Sequences *controller.SequenceController
	Webhooks  *controller.WebhookController
	Stats     *controller.StatsController
}

func SetupRoutes(app *fiber.App, c Controllers) {
	app.Get("/health", func(ctx *fiber.Ctx) error {
		return ctx.JSON(fiber.Map{"status": "ok"})
	})

	// Provider callbacks are authenticated by provider reference, not tokens.
	app.Post("/webhooks/:channel", c.Webhooks.HandleCallback)

	// Email open and click tracking
	app.Get("/t/open/:messageID/:token", c.Webhooks.TrackOpen)
	app.Get("/t/click/:messageID/:token", c.Webhooks.TrackClick)

	api := app.Group("/api/v1", middleware.Protected(), logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))

	// Lead routes
	lead := api.Group("/leads")
	lead.Post("/", middleware.IntakeRateLimiter(), c.Leads.CreateLead)
	lead.Get("/:id", c.Leads.GetLead)
	lead.Put("/:id/status", c.Leads.UpdateLeadStatus)
	lead.Post("/:id/conversions", c.Leads.RecordConversion)

	// Campaign routes; lifecycle writes need the admin role
	campaign := api.Group("/campaigns")
	campaign.Post("/", middleware.Protected(utils.RoleAdmin), c.Campaigns.CreateCampaign)
	campaign.Get("/:id", c.Campaigns.GetCampaign)
	campaign.Put("/:id", middleware.Protected(utils.RoleAdmin), c.Campaigns.UpdateCampaign)
	campaign.Put("/:id/status", middleware.Protected(utils.RoleAdmin), c.Campaigns.UpdateCampaignStatus)
	campaign.Post("/:id/leads", c.Campaigns.AssignLead)
	campaign.Post("/:id/route", c.Campaigns.RouteContact)
	campaign.Get("/:id/stats", c.Stats.GetCampaignStats)

	// Script routes
	api.Post("/scripts", middleware.Protected(utils.RoleAdmin), c.Campaigns.CreateScript)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", middleware.Protected(utils.RoleAdmin), c.Sequences.CreateSequence)
	sequence.Get("/:id", c.Sequences.GetSequence)
	sequence.Put("/:id/status", middleware.Protected(utils.RoleAdmin), c.Sequences.UpdateSequenceStatus)
	sequence.Post("/:id/enrollments", c.Sequences.EnrollLead)
	sequence.Get("/:id/enrollments", c.Sequences.ListEnrollments)
	sequence.Get("/:id/stats", c.Stats.GetSequenceStats)

	// 404 handler
	app.Use(func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
