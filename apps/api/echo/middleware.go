package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// staffOnly rejects requests from users that are neither teachers nor admins.
func staffOnly(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if claims.IsTeacher || claims.IsAdmin {
		return nil
	}
	return errHttpForbidden
}

const limiterIdleTTL = 10 * time.Minute

type (
	// rateLimiter is a token bucket per user and route.
	rateLimiter struct {
		limit rate.Limit
		burst int

		mu       sync.Mutex
		visitors map[string]*visitor
		lastGC   time.Time
	}

	visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
)

func newRateLimiter(perSecond float64, burst int) *rateLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{limit: limit, burst: burst, visitors: make(map[string]*visitor)}
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > limiterIdleTTL {
		for k, v := range rl.visitors {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(rl.visitors, k)
			}
		}
		rl.lastGC = now
	}

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// middleware must run after the JWT middleware; anonymous requests are keyed by IP.
func (rl *rateLimiter) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		who := ctx.RealIP()
		if id, err := contextUserID(ctx); err == nil {
			who = id
		}
		if !rl.allow(who+" "+ctx.Request().Method+" "+ctx.Path(), time.Now()) {
			return errTooManyRequests
		}
		return next(ctx)
	}
}
