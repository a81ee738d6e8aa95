package routes

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/config"
	"github.com/theteta-ops/controltower-backend/internal/handlers"
	"github.com/theteta-ops/controltower-backend/internal/middleware"
	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, settings *config.Settings, store storage.Store,
	conversationService *services.ConversationService, twilioService *services.TwilioService,
	insightsService *services.InsightsService, seedService *services.SeedService) {

	authHandler := handlers.NewAuthHandler(settings)
	webhookHandler := handlers.NewWebhookHandler(conversationService)
	conversationHandler := handlers.NewConversationHandler(store, conversationService, twilioService, insightsService, settings)
	dashboardHandler := handlers.NewDashboardHandler(store, conversationService)
	agentHandler := handlers.NewAgentHandler(store)
	seedHandler := handlers.NewSeedHandler(seedService)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"name":    "WhatsApp Control Tower CRM API",
			"version": "0.2.0",
			"endpoints": fiber.Map{
				"health":    "/health",
				"login":     "/auth/login",
				"api":       "/api",
				"dashboard": "/api/dashboard/summary",
				"webhook":   "/webhook/whatsapp",
			},
		})
	})

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Public auth endpoint
	app.Post("/auth/login", authHandler.Login)

	// Provider webhook, protected by the shared token rather than a JWT
	webhooks := app.Group("/webhook")
	webhooks.Post("/whatsapp", middleware.ValidateWebhookToken(settings.WebhookToken), webhookHandler.HandleProviderWebhook)

	// Everything else requires a bearer token
	api := app.Group("/api", middleware.RequireAuth(settings))

	api.Get("/dashboard/summary", dashboardHandler.Summary)

	conversations := api.Group("/conversations")
	conversations.Get("/", conversationHandler.List)
	conversations.Get("/recent-clients", conversationHandler.RecentClients)
	conversations.Get("/:id", conversationHandler.Detail)
	conversations.Patch("/:id", conversationHandler.Patch)
	conversations.Post("/:id/messages", conversationHandler.AddMessage)
	conversations.Post("/:id/analyze", conversationHandler.Analyze)

	agents := api.Group("/agents")
	agents.Get("/", agentHandler.List)
	agents.Post("/", agentHandler.Create)

	// ========== DEMO ROUTES ==========
	if settings.AllowDemoRoutes {
		api.Post("/seed", seedHandler.Seed)
		api.Post("/webhook/mock", webhookHandler.HandleMockWebhook)
		log.Println("⚠️  Demo routes enabled (seed + mock webhook)")
	}
}
