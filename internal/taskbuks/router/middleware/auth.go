package middleware

import (
	"crypto/subtle"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
)

func Protected(jwtSecret []byte) func(*fiber.Ctx) error {
	return jwtware.New(jwtware.Config{
		SigningKey:   jwtware.SigningKey{Key: jwtSecret},
		ErrorHandler: jwtError,
	})
}

func jwtError(c *fiber.Ctx, _ error) error {
	c.Status(fiber.StatusUnauthorized)
	return c.JSON(fiber.Map{"status": "error", "message": "Authorization required"})
}

// AdminOnly gates the admin surface on the shared x-admin-key header. A
// missing key and a wrong key answer identically.
func AdminOnly(adminKey string) func(*fiber.Ctx) error {
	return func(c *fiber.Ctx) error {
		got := c.Get("x-admin-key")
		if subtle.ConstantTimeCompare([]byte(got), []byte(adminKey)) != 1 {
			c.Status(fiber.StatusForbidden)
			return c.JSON(fiber.Map{"status": "error", "message": "Forbidden"})
		}
		return c.Next()
	}
}
