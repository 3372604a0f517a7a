package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all settlement tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("settlement", "1.0.0")
	h := NewHandlers(NewSettlementClient(cfg))

	s.AddTool(ToolPriceTask, h.HandlePriceTask)
	s.AddTool(ToolGetReviewTask, h.HandleGetReviewTask)
	s.AddTool(ToolListReviewTasks, h.HandleListReviewTasks)
	s.AddTool(ToolPayReviewTask, h.HandlePayReviewTask)
	s.AddTool(ToolConfirmReviewTask, h.HandleConfirmReviewTask)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)
	s.AddTool(ToolListFinanceRecords, h.HandleListFinanceRecords)

	return s
}
