package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	apperrors "github.com/tripph/promptfeed/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP.
func newRateLimiter(ratePerSecond float64, burst int) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return HandleError(c, apperrors.RateLimitedError("rate limit exceeded"))
		},
	})
}

// promptLimiter is the per-connection token bucket for prompt frames.
type promptLimiter struct {
	limiter *rate.Limiter
}

func newPromptLimiter(ratePerSecond float64, burst int) *promptLimiter {
	return &promptLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (l *promptLimiter) allow(now time.Time) bool {
	return l.limiter.AllowN(now, 1)
}
