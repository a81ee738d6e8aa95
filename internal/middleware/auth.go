package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/theteta-ops/controltower-backend/internal/config"
	"github.com/theteta-ops/controltower-backend/internal/utils"
)

// RequireAuth validates the Bearer JWT on every API request and stores the
// authenticated username in c.Locals("username").
func RequireAuth(settings *config.Settings) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return unauthorized(c)
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(settings.JWTSecretKey), nil
		}, jwt.WithValidMethods([]string{"HS256"}))
		if err != nil || !token.Valid {
			return unauthorized(c)
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c)
		}
		username, _ := claims["sub"].(string)
		if username == "" || !utils.SecureCompare(username, settings.AuthUsername) {
			return unauthorized(c)
		}

		c.Locals("username", username)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	c.Set("WWW-Authenticate", "Bearer")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Invalid or expired token",
	})
}
