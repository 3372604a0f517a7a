// Settlement MCP Server - Exposes review-task settlement as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/praisedesk/settlement/internal/mcpserver"
)

func main() {
	cfg := mcpserver.Config{
		APIURL:    envOrDefault("SETTLEMENT_API_URL", "http://localhost:8080"),
		APIKey:    os.Getenv("SETTLEMENT_API_KEY"),
		AccountID: os.Getenv("SETTLEMENT_ACCOUNT_ID"),
	}

	if cfg.APIKey == "" {
		fmt.Fprintln(os.Stderr, "SETTLEMENT_API_KEY is required")
		os.Exit(1)
	}
	if cfg.AccountID == "" {
		fmt.Fprintln(os.Stderr, "SETTLEMENT_ACCOUNT_ID is required")
		os.Exit(1)
	}

	s := mcpserver.NewMCPServer(cfg)
	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
