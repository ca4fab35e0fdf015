package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/mcp"
)

func (s *Server) bountyStatus(ctx context.Context, _ mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	return toolResult(s.api.BountyStatus(ctx))
}

func (s *Server) bountyCheck(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	address, ok := req.GetArguments()[mcp.ArgAddress].(string)
	if !ok || strings.TrimSpace(address) == "" {
		return argumentError(mcp.ToolBountyCheck, mcp.ArgAddress, mcp.ErrMissingArgument), nil
	}
	return toolResult(s.api.BountyCheck(ctx, strings.TrimSpace(address)))
}

func (s *Server) verifyPayment(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	body, header, err := paymentArgument(req.GetArguments()[mcp.ArgPayment])
	if err != nil {
		return argumentError(mcp.ToolVerifyPayment, mcp.ArgPayment, err), nil
	}
	return toolResult(s.api.Verify(ctx, body, header))
}

// paymentArgument accepts the payment as a JSON object, a JSON string or a
// base64 X-PAYMENT value.
func paymentArgument(v any) (io.Reader, string, error) {
	switch p := v.(type) {
	case nil:
		return nil, "", mcp.ErrMissingArgument
	case map[string]any:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", mcp.ErrInvalidArgument, err)
		}
		return bytes.NewReader(data), "", nil
	case string:
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, "", mcp.ErrMissingArgument
		}
		if strings.HasPrefix(p, "{") {
			return strings.NewReader(p), "", nil
		}
		return strings.NewReader(""), p, nil
	default:
		return nil, "", fmt.Errorf("%w: expected an object or string, got %T", mcp.ErrInvalidArgument, v)
	}
}

// toolResult renders an API response as JSON text. Non-2xx replies are tool
// errors so agents can tell them apart.
func toolResult(resp *httpx402.Response) (*mcpproto.CallToolResult, error) {
	data, err := json.MarshalIndent(resp.Body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	if resp.Status >= 300 {
		return mcpproto.NewToolResultError(string(data)), nil
	}
	return mcpproto.NewToolResultText(string(data)), nil
}

func argumentError(tool, arg string, err error) *mcpproto.CallToolResult {
	return mcpproto.NewToolResultError((&mcp.ArgumentError{Tool: tool, Argument: arg, Err: err}).Error())
}
