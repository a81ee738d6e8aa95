package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/services"
)

// SeedHandler regenerates the demo dataset. The route is only mounted when
// demo routes are enabled.
type SeedHandler struct {
	seeder *services.SeedService
}

func NewSeedHandler(seeder *services.SeedService) *SeedHandler {
	return &SeedHandler{seeder: seeder}
}

// Seed wipes the store and generates a fresh synthetic dataset
func (h *SeedHandler) Seed(c *fiber.Ctx) error {
	req := services.DefaultSeedRequest()
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid seed payload"})
		}
	}

	stats, err := h.seeder.SeedDatabase(c.Context(), req)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"ok": true, "stats": stats})
}
