// Package server serves the facilitator's MCP tools over streamable HTTP.
package server

import (
	"context"
	"io"
	"net/http"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/mcp"
)

// Facilitator is the request handling behind the tools. *httpx402.API implements it.
type Facilitator interface {
	Verify(ctx context.Context, body io.Reader, paymentHeader string) *httpx402.Response
	BountyStatus(ctx context.Context) *httpx402.Response
	BountyCheck(ctx context.Context, address string) *httpx402.Response
}

var _ Facilitator = (*httpx402.API)(nil)

// Server wraps an MCP server carrying the facilitator tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	api       Facilitator
	logger    zerolog.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(api Facilitator, version string, logger zerolog.Logger) *Server {
	s := &Server{
		api:    api,
		logger: logger.With().Str("component", "mcp").Logger(),
	}
	s.mcpServer = mcpserver.NewMCPServer("x402-facilitator", version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithToolHandlerMiddleware(callLogger(s.logger)),
		mcpserver.WithRecovery(),
	)

	s.mcpServer.AddTool(mcpproto.NewTool(mcp.ToolBountyStatus,
		mcpproto.WithDescription("Bounty pool status: amount, claims so far, remaining slots and how to claim"),
	), s.bountyStatus)

	s.mcpServer.AddTool(mcpproto.NewTool(mcp.ToolBountyCheck,
		mcpproto.WithDescription("Whether an address is whitelisted for the bounty and whether it has claimed"),
		mcpproto.WithString(mcp.ArgAddress, mcpproto.Required(), mcpproto.Description("EVM address, 0x-prefixed")),
	), s.bountyCheck)

	s.mcpServer.AddTool(mcpproto.NewTool(mcp.ToolVerifyPayment,
		mcpproto.WithDescription("Verify an EIP-3009 payment authorization. A valid authorization from a whitelisted address that has not claimed pays the bounty"),
		mcpproto.WithObject(mcp.ArgPayment, mcpproto.Required(),
			mcpproto.Description("The /verify body {x402Version, accepted, payload}, or the base64 X-PAYMENT header value as a string")),
	), s.verifyPayment)

	return s
}

// Handler returns the streamable HTTP handler.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer, mcpserver.WithStateLess(true))
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
