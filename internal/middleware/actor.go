package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	actorIDHeader = "X-Actor-ID"

	// ActorIDKey is the fiber local holding the acting human or agent id.
	ActorIDKey = "actor_id"
)

// Actor copies the upstream-authenticated actor id into the request locals.
// Authentication happens in front of this service; the header is trusted.
// With required set, unsafe methods without an actor are rejected.
func Actor(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := strings.TrimSpace(c.Get(actorIDHeader))
		if id == "" && required {
			switch c.Method() {
			case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			default:
				return fiber.NewError(http.StatusUnauthorized, "missing "+actorIDHeader+" header")
			}
		}
		if id != "" {
			c.Locals(ActorIDKey, id)
		}
		return c.Next()
	}
}
