package middleware

import (
	"net/http"
	"sync"
	"time"

	httpdto "github.com/vibast-solutions/ms-go-session-auth/app/dto/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const throttleSweepInterval = 10 * time.Minute

// Throttle keeps one token bucket per client IP.
type Throttle struct {
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
	rate      rate.Limit
	burst     int
	lastSweep time.Time
}

func NewThrottle(rps float64, burst int) *Throttle {
	return &Throttle{
		limiters:  make(map[string]*rate.Limiter),
		rate:      rate.Limit(rps),
		burst:     burst,
		lastSweep: time.Now(),
	}
}

func (t *Throttle) limiter(ip string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	if now := time.Now(); now.Sub(t.lastSweep) > throttleSweepInterval {
		for key, l := range t.limiters {
			if l.TokensAt(now) >= float64(t.burst) {
				delete(t.limiters, key)
			}
		}
		t.lastSweep = now
	}

	l, ok := t.limiters[ip]
	if !ok {
		l = rate.NewLimiter(t.rate, t.burst)
		t.limiters[ip] = l
	}
	return l
}

func (t *Throttle) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !t.limiter(ip).Allow() {
				logrus.WithFields(logrus.Fields{
					"ip":     ip,
					"path":   c.Path(),
					"method": c.Request().Method,
				}).Warn("Request throttled")
				return c.JSON(http.StatusTooManyRequests, httpdto.ErrorResponse{Error: "rate limit exceeded, please try again later"})
			}
			return next(c)
		}
	}
}
