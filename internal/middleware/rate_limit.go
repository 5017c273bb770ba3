package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "rl:actor:"

// ActorRateLimit caps mutating requests per actor (or client IP when no actor
// is set) per minute using a fixed Redis window. It fails open when Redis is
// unavailable.
func ActorRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 120
	}
	return func(c *fiber.Ctx) error {
		if cache == nil {
			return c.Next()
		}
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		who, _ := c.Locals(ActorIDKey).(string)
		if who == "" {
			who = "ip:" + c.IP()
		}
		window := time.Now().UTC().Unix() / 60
		key := rateLimitPrefix + who + ":" + strconv.FormatInt(window, 10)

		ctx := c.UserContext()
		var incr *redis.IntCmd
		_, err := cache.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, 2*time.Minute)
			return nil
		})
		if err != nil {
			return c.Next()
		}
		if incr.Val() > int64(maxPerMin) {
			c.Set(fiber.HeaderRetryAfter, "60")
			return fiber.NewError(http.StatusTooManyRequests, "rate limit exceeded")
		}
		return c.Next()
	}
}
