package server

import (
	"context"
	"time"

	"github.com/google/uuid"
	mcpproto "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// callLogger tags every tool call with an id and logs its outcome.
func callLogger(logger zerolog.Logger) mcpserver.ToolHandlerMiddleware {
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return func(ctx context.Context, req mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
			callID := uuid.NewString()
			start := time.Now()

			result, err := next(ctx, req)

			event := logger.Debug()
			switch {
			case err != nil:
				event = logger.Error().Err(err)
			case result != nil && result.IsError:
				event = logger.Info().Bool("tool_error", true)
			}
			event.
				Str("call_id", callID).
				Str("tool", req.Params.Name).
				Dur("duration", time.Since(start)).
				Msg("tool call")
			return result, err
		}
	}
}
