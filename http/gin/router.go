// Package gin mounts the facilitator API on a gin engine.
//
// It is a thin adapter: request handling lives in the http package, and the
// routes, status codes and bodies are the same as the chi router's.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mark3labs/x402-facilitator/encoding"
	httpx402 "github.com/mark3labs/x402-facilitator/http"
)

// NewRouter mounts api on a new gin engine.
//
// Example usage:
//
//	api := httpx402.NewAPI(chain, verifier, settler, logger)
//	r := gin.NewRouter(api, httpx402.RouterConfig{Logger: logger})
//	_ = r.Run(":3402")
func NewRouter(api *httpx402.API, cfg httpx402.RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(cfg.Logger, api.Metrics()), cors())

	r.GET("/", func(c *gin.Context) {
		write(c, api.Info(c.Request.Context()))
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/requirements", func(c *gin.Context) {
		write(c, api.Requirements())
	})
	r.POST("/verify", func(c *gin.Context) {
		write(c, api.Verify(c.Request.Context(), c.Request.Body, c.GetHeader(encoding.PaymentHeader)))
	})
	r.POST("/settle", func(c *gin.Context) {
		write(c, api.Settle(c.Request.Context(), c.Request.Body, c.GetHeader(encoding.PaymentHeader)))
	})
	r.GET("/bounty", func(c *gin.Context) {
		write(c, api.BountyStatus(c.Request.Context()))
	})
	r.GET("/bounty/check/:address", func(c *gin.Context) {
		write(c, api.BountyCheck(c.Request.Context(), c.Param("address")))
	})

	if m := api.Metrics(); m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
	if cfg.MCP != nil {
		r.Any("/mcp", gin.WrapH(cfg.MCP))
	}

	if cfg.Auth != nil {
		admin := r.Group("/admin", adminOnly(cfg.Auth, cfg.Logger))
		admin.GET("/whitelist", func(c *gin.Context) {
			write(c, api.AdminListWhitelist(c.Request.Context()))
		})
		admin.POST("/whitelist", func(c *gin.Context) {
			write(c, api.AdminAddWhitelist(c.Request.Context(), c.Request.Body))
		})
		admin.DELETE("/whitelist/:address", func(c *gin.Context) {
			write(c, api.AdminRemoveWhitelist(c.Request.Context(), c.Param("address")))
		})
		admin.POST("/reconcile", func(c *gin.Context) {
			write(c, api.AdminReconcile(c.Request.Context()))
		})
		admin.GET("/audit", func(c *gin.Context) {
			write(c, api.AdminAudit(c.Request.Context()))
		})
		admin.POST("/claims/:address/release", func(c *gin.Context) {
			write(c, api.AdminRelease(c.Request.Context(), c.Param("address")))
		})
	}
	return r
}

func write(c *gin.Context, resp *httpx402.Response) {
	for key, values := range resp.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	c.JSON(resp.Status, resp.Body)
}
