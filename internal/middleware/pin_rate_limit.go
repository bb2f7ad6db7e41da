package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/expense-tracker/expense_tracker/internal/gate"
)

const pinRateLimitPrefix = "rl:pin:"

// PinRateLimit caps completed PIN entries per device per minute. Single digit
// presses only count when they complete an entry, as marked by the gate
// handler under gate.PinAttemptLocalsKey. maxPerMin <= 0 or a nil cache
// disables it; the gate itself allows unlimited retries.
func PinRateLimit(cache *redis.Client, maxPerMin int, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 {
			return c.Next()
		}
		deviceID := c.Params("device_id")
		if deviceID == "" {
			deviceID = c.IP()
		}
		key := pinRateLimitPrefix + deviceID

		used, err := cache.Get(c.UserContext(), key).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			logger.Warn("pin rate limit unavailable", slog.Any("error", err))
			return c.Next()
		}
		if used >= maxPerMin {
			return fiber.NewError(http.StatusTooManyRequests, "too many PIN attempts, try again later")
		}

		if err := c.Next(); err != nil {
			return err
		}
		if attempt, _ := c.Locals(gate.PinAttemptLocalsKey).(bool); !attempt {
			return nil
		}
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			logger.Warn("pin rate limit not recorded", slog.Any("error", err))
			return nil
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		return nil
	}
}
