package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/theteta-ops/controltower-backend/internal/config"
	"github.com/theteta-ops/controltower-backend/internal/utils"
)

// AuthHandler issues access tokens for the dashboard API
type AuthHandler struct {
	settings *config.Settings
}

func NewAuthHandler(settings *config.Settings) *AuthHandler {
	return &AuthHandler{settings: settings}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	ExpiresInSeconds int    `json:"expires_in_seconds"`
}

// Login validates credentials and returns a signed HS256 bearer token
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var payload loginRequest
	if err := c.BodyParser(&payload); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid login payload",
		})
	}

	if !h.authenticate(payload.Username, payload.Password) {
		c.Set("WWW-Authenticate", "Bearer")
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid username or password",
		})
	}

	expires := time.Duration(h.settings.AccessTokenExpireMinutes) * time.Minute
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   payload.Username,
		"iat":   now.Unix(),
		"exp":   now.Add(expires).Unix(),
		"scope": "api",
	})
	signed, err := token.SignedString([]byte(h.settings.JWTSecretKey))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to sign token",
		})
	}

	return c.JSON(tokenResponse{
		AccessToken:      signed,
		TokenType:        "bearer",
		ExpiresInSeconds: int(expires.Seconds()),
	})
}

func (h *AuthHandler) authenticate(username, password string) bool {
	if !utils.SecureCompare(username, h.settings.AuthUsername) {
		return false
	}
	if h.settings.AuthPasswordHash != "" {
		return utils.VerifyPasswordHash(password, h.settings.AuthPasswordHash)
	}
	return utils.SecureCompare(password, h.settings.AuthPassword)
}
