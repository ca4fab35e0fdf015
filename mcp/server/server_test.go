package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	mcpproto "github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"

	httpx402 "github.com/mark3labs/x402-facilitator/http"
	"github.com/mark3labs/x402-facilitator/mcp"
)

// stubFacilitator records what the tools pass through.
type stubFacilitator struct {
	body    string
	header  string
	address string
	status  int
}

func (s *stubFacilitator) Verify(_ context.Context, body io.Reader, header string) *httpx402.Response {
	data, _ := io.ReadAll(body)
	s.body, s.header = string(data), header
	return &httpx402.Response{Status: s.statusOr(http.StatusOK), Body: map[string]any{"valid": true}}
}

func (s *stubFacilitator) BountyStatus(context.Context) *httpx402.Response {
	return &httpx402.Response{Status: s.statusOr(http.StatusOK), Body: map[string]any{"active": true, "remaining": 7}}
}

func (s *stubFacilitator) BountyCheck(_ context.Context, address string) *httpx402.Response {
	s.address = address
	return &httpx402.Response{Status: s.statusOr(http.StatusOK), Body: map[string]any{"address": address, "canClaim": true}}
}

func (s *stubFacilitator) statusOr(def int) int {
	if s.status != 0 {
		return s.status
	}
	return def
}

func callRequest(name string, args map[string]any) mcpproto.CallToolRequest {
	return mcpproto.CallToolRequest{
		Params: mcpproto.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcpproto.CallToolResult) string {
	t.Helper()
	if result == nil || len(result.Content) == 0 {
		t.Fatal("empty tool result")
	}
	switch c := result.Content[0].(type) {
	case mcpproto.TextContent:
		return c.Text
	case *mcpproto.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content %T", c)
		return ""
	}
}

func TestBountyTools(t *testing.T) {
	api := &stubFacilitator{}
	s := NewServer(api, "test", zerolog.Nop())
	ctx := context.Background()

	result, err := s.bountyStatus(ctx, callRequest(mcp.ToolBountyStatus, nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("bounty_status returned a tool error: %s", resultText(t, result))
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(resultText(t, result)), &status); err != nil {
		t.Fatal(err)
	}
	if status["remaining"] != float64(7) {
		t.Errorf("remaining = %v", status["remaining"])
	}

	result, err = s.bountyCheck(ctx, callRequest(mcp.ToolBountyCheck, map[string]any{
		mcp.ArgAddress: " 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266 ",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError || api.address != "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266" {
		t.Errorf("bounty_check: error=%v address=%q", result.IsError, api.address)
	}

	result, err = s.bountyCheck(ctx, callRequest(mcp.ToolBountyCheck, map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError || !strings.Contains(resultText(t, result), mcp.ArgAddress) {
		t.Errorf("missing address should be a tool error, got %q", resultText(t, result))
	}
}

func TestVerifyPaymentTool(t *testing.T) {
	tests := []struct {
		name       string
		payment    any
		wantBody   string
		wantHeader string
		wantError  bool
	}{
		{
			name:     "object",
			payment:  map[string]any{"x402Version": 2},
			wantBody: `{"x402Version":2}`,
		},
		{
			name:     "json string",
			payment:  `{"x402Version":2}`,
			wantBody: `{"x402Version":2}`,
		},
		{
			name:       "header value",
			payment:    "eyJ4NDAyVmVyc2lvbiI6Mn0=",
			wantHeader: "eyJ4NDAyVmVyc2lvbiI6Mn0=",
		},
		{name: "missing", payment: nil, wantError: true},
		{name: "wrong type", payment: 42.0, wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubFacilitator{}
			s := NewServer(api, "test", zerolog.Nop())

			args := map[string]any{}
			if tt.payment != nil {
				args[mcp.ArgPayment] = tt.payment
			}
			result, err := s.verifyPayment(context.Background(), callRequest(mcp.ToolVerifyPayment, args))
			if err != nil {
				t.Fatal(err)
			}
			if result.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v: %s", result.IsError, tt.wantError, resultText(t, result))
			}
			if tt.wantError {
				return
			}
			if api.body != tt.wantBody || api.header != tt.wantHeader {
				t.Errorf("got body=%q header=%q, want body=%q header=%q", api.body, api.header, tt.wantBody, tt.wantHeader)
			}
		})
	}
}

func TestToolResult_ErrorStatus(t *testing.T) {
	api := &stubFacilitator{status: http.StatusBadRequest}
	s := NewServer(api, "test", zerolog.Nop())

	result, err := s.bountyStatus(context.Background(), callRequest(mcp.ToolBountyStatus, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("4xx reply should be a tool error")
	}
}

func TestToolsList(t *testing.T) {
	s := NewServer(&stubFacilitator{}, "test", zerolog.Nop())
	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatal(err)
	}

	names := map[string]bool{}
	for _, tool := range resp.Result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{mcp.ToolBountyStatus, mcp.ToolBountyCheck, mcp.ToolVerifyPayment} {
		if !names[want] {
			t.Errorf("tools/list is missing %s: %s", want, data)
		}
	}
}
