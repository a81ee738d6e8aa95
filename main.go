package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/theteta-ops/controltower-backend/database"
	"github.com/theteta-ops/controltower-backend/internal/config"
	"github.com/theteta-ops/controltower-backend/internal/jobs"
	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/routes"
	"github.com/theteta-ops/controltower-backend/internal/services"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

func main() {
	// Load .env file for local development
	if os.Getenv("INSTANCE_CONNECTION_NAME") == "" {
		if err := godotenv.Load(".env"); err != nil {
			log.Println("⚠️  No .env file found - checking environment variables")
		}
	}

	settings := config.Load()
	if err := settings.ValidateRuntimeSecurity(); err != nil {
		log.Fatal("Refusing to start: ", err)
	}

	// Initialize storage
	var store storage.Store

	if settings.UseMemoryStore {
		log.Println("⚠️  Using in-memory storage (not for production!)")
		store = storage.NewMemoryStore()
	} else {
		log.Println("📦 Connecting to PostgreSQL database...")
		database.Connect()

		log.Println("🔄 Running database migrations...")
		err := database.DB.AutoMigrate(
			&models.Client{},
			&models.Agent{},
			&models.Conversation{},
			&models.Message{},
		)
		if err != nil {
			log.Fatal("Failed to migrate database:", err)
		}
		log.Println("✅ Database migrations completed!")

		store = storage.NewDatabaseStore(database.DB)
		log.Println("✅ Using PostgreSQL database storage")
	}
	storage.SetStore(store)

	// Twilio is optional: without credentials the CRM runs on local data only
	twilioService, err := services.NewTwilioService()
	if err != nil {
		log.Println("⚠️  Twilio not configured - outbound send and history sync disabled")
		twilioService = nil
	} else {
		log.Println("✅ Twilio service initialized")
	}

	insightsService := services.NewInsightsService(settings.DeepSeekAPIKey, settings.DeepSeekBaseURL, settings.DeepSeekModel)
	if settings.DeepSeekAPIKey == "" {
		log.Println("⚠️  DEEPSEEK_API_KEY not set - insights run in mock mode")
	}

	conversationService := services.NewConversationService(store, twilioService)
	conversationService.SetHistorySync(settings.HistorySyncEnabled, settings.HistorySyncLimit)
	seedService := services.NewSeedService(store, insightsService)

	// Background risk refresh keeps SLA flags honest between requests
	riskJob := jobs.NewRiskRefreshJob(store, conversationService,
		time.Duration(settings.RiskRefreshMinutes)*time.Minute)
	riskJob.Start()

	// Create fiber app
	app := fiber.New(fiber.Config{
		AppName: "Control Tower CRM v0.2.0",
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: settings.CORSAllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Webhook-Token",
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))

	routes.SetupRoutes(app, settings, store, conversationService, twilioService, insightsService, seedService)

	// Handle graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("\n🛑 Gracefully shutting down...")
		riskJob.Stop()
		_ = app.Shutdown()
	}()

	// Start server
	log.Println("========================================")
	log.Printf("🚀 Control Tower CRM starting on port %s", settings.Port)
	log.Printf("📊 Storage: %s", storageType(settings))
	log.Printf("🌍 Environment: %s", settings.AppEnv)
	log.Printf("📱 WhatsApp: %s", whatsappStatus(twilioService))
	log.Println("========================================")

	log.Fatal(app.Listen(":" + settings.Port))
}

func storageType(settings *config.Settings) string {
	if settings.UseMemoryStore {
		return "In-Memory (Testing)"
	}
	return "PostgreSQL Database"
}

func whatsappStatus(twilioService *services.TwilioService) string {
	if twilioService == nil {
		return "Not configured"
	}
	return "Configured"
}
