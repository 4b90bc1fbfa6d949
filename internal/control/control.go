// Package control exposes the decoder over the Model Context Protocol:
// a status tool, a reset tool, and a verbosity tool, each acting on a
// live flex.Decoder.
package control

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/cwsl/flexcore/internal/flex"
	"github.com/cwsl/flexcore/internal/status"
)

// Server wraps a decoder in an MCP tool server.
type Server struct {
	decoder    *flex.Decoder
	reporter   *status.Reporter
	mcpServer  *server.MCPServer
	httpServer *server.StreamableHTTPServer
}

// New builds an MCP server exposing decoder control tools, backed by
// dec and reporting host stats through reporter.
func New(dec *flex.Decoder, reporter *status.Reporter) *Server {
	s := &Server{decoder: dec, reporter: reporter}

	s.mcpServer = server.NewMCPServer(
		"flexcore",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	s.httpServer = server.NewStreamableHTTPServer(s.mcpServer)

	return s
}

// HTTPServer returns the underlying streamable HTTP handler, ready to
// be mounted by a cmd/flexcore host process.
func (s *Server) HTTPServer() *server.StreamableHTTPServer {
	return s.httpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool("flex_get_status",
			mcp.WithDescription("Get the current decoder status: protocol state, signal lock, and host resource usage."),
		),
		s.handleGetStatus,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("flex_reset",
			mcp.WithDescription("Reset the decoder's demodulator, synchronizer, collector, and group registry back to their initial state."),
		),
		s.handleReset,
	)

	s.mcpServer.AddTool(
		mcp.NewTool("flex_set_verbosity",
			mcp.WithDescription("Change the decoder's diagnostic logging verbosity. 0 is silent, higher values are progressively chattier."),
			mcp.WithNumber("level",
				mcp.Description("Verbosity level, typically 0-3"),
				mcp.DefaultNumber(1),
			),
		),
		s.handleSetVerbosity,
	)
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	quality := s.decoder.SignalQuality()

	payload := map[string]interface{}{
		"state":       quality.State.String(),
		"locked":      quality.Locked,
		"envelope":    quality.Envelope,
		"symbol_rate": quality.SymbolRate,
		"dc_offset":   quality.DCOffset,
		"session_id":  s.decoder.SessionID.String(),
	}

	if s.reporter != nil {
		payload["host"] = s.reporter.Snapshot()
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal status: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) handleReset(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.decoder.Reset()
	return mcp.NewToolResultText("decoder reset"), nil
}

func (s *Server) handleSetVerbosity(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	level := int(request.GetFloat("level", 1))
	s.decoder.SetVerbosity(level)
	return mcp.NewToolResultText(fmt.Sprintf("verbosity set to %d", level)), nil
}
