package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/echovault/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// requestLog logs every request once it completes and records its metrics.
func requestLog(logger *zap.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)
		m.HTTPRequest(c.Request.Method, route, c.Writer.Status(), elapsed)
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", elapsed),
			zap.String("client_ip", c.ClientIP()))
	}
}

// recovery turns panics into a 500 and logs them.
func recovery(logger *zap.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		logger.Error("handler panic", zap.Any("panic", err), zap.String("route", c.FullPath()))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}

// ipLimiter hands out one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*ipClient
	swept   time.Time
}

type ipClient struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(perMinute int) *ipLimiter {
	if perMinute <= 0 {
		return nil
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		clients: make(map[string]*ipClient),
	}
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > time.Minute {
		for k, cl := range l.clients {
			if now.Sub(cl.seen) > 10*time.Minute {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}
	cl, ok := l.clients[ip]
	if !ok {
		cl = &ipClient{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.seen = now
	return cl.lim.AllowN(now, 1)
}

// middleware rejects clients over their rate with 429. A nil limiter lets
// everything through.
func (l *ipLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if l != nil && !l.allow(c.ClientIP(), time.Now()) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
