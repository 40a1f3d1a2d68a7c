package middlewares

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	//QueryToken token in query name
	QueryToken = "auth"

	//CookieToken token in cookie name
	CookieToken = "auth_token"

	//TokenRaw raw bearer credential, set c.locals name
	TokenRaw = "token"
)

// ExtractToken find bearer credential from header, query or cookie
func ExtractToken(c *fiber.Ctx) string {
	if h := c.Get(fiber.HeaderAuthorization); len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if t := c.Query(QueryToken); t != "" {
		return t
	}
	return c.Cookies(CookieToken)
}

// TokenRequired reject request without credential, the token is verified later
func TokenRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := ExtractToken(c)
		if tokenStr == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing token",
			})
		}
		c.Locals(TokenRaw, tokenStr)
		return c.Next()
	}
}
