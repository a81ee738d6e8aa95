package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/theteta-ops/controltower-backend/internal/models"
	"github.com/theteta-ops/controltower-backend/internal/storage"
)

// AgentHandler manages the agent roster conversations are assigned to
type AgentHandler struct {
	store storage.Store
}

func NewAgentHandler(store storage.Store) *AgentHandler {
	return &AgentHandler{store: store}
}

// List returns every agent
func (h *AgentHandler) List(c *fiber.Ctx) error {
	agents, err := h.store.GetAllAgents()
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(agents)
}

type createAgentRequest struct {
	Name string `json:"name"`
}

// Create registers a new active agent
func (h *AgentHandler) Create(c *fiber.Ctx) error {
	var payload createAgentRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid agent payload"})
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Agent name cannot be empty"})
	}

	agent, err := h.store.CreateAgent(&models.Agent{Name: name, Active: true})
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}
