package gin

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mark3labs/x402-facilitator/encoding"
	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/internal/auth"
	"github.com/mark3labs/x402-facilitator/metrics"
)

// adminClaimsKey is where adminOnly stores the verified claims in the gin context.
const adminClaimsKey = "x402_admin_claims"

func requestLogger(logger zerolog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.ObserveRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		event := logger.Debug()
		if status >= http.StatusInternalServerError {
			event = logger.Warn()
		}
		event.
			Str("method", c.Request.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", c.Writer.Size()).
			Dur("duration", elapsed).
			Msg("request")
	}
}

func cors() gin.HandlerFunc {
	allowed := strings.Join(httpx402.AllowedHeaders, ", ")
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", allowed)
		c.Header("Access-Control-Expose-Headers", encoding.PaymentResponseHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// adminOnly aborts requests without a valid admin token.
func adminOnly(tokens *auth.TokenAuth, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := httpx402.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWith(c, httpx402.Unauthorized("missing bearer token"))
			return
		}
		claims, err := tokens.Verify(token)
		if err != nil {
			logger.Warn().Err(err).Str("route", c.FullPath()).Msg("admin token rejected")
			abortWith(c, httpx402.Unauthorized("invalid admin token"))
			return
		}
		c.Set(adminClaimsKey, claims)
		c.Next()
	}
}

func abortWith(c *gin.Context, resp *httpx402.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.AbortWithStatusJSON(resp.Status, resp.Body)
}
