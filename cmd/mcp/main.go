// KrishiConnect MCP Server - Exposes marketplace operations as MCP tools for LLMs
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/krishiconnect/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	cfg := mcpserver.Config{
		APIURL: envOrDefault("KRISHICONNECT_API_URL", "http://localhost:8080"),
		Token:  os.Getenv("KRISHICONNECT_TOKEN"),
	}

	if cfg.Token == "" {
		fmt.Fprintln(os.Stderr, "KRISHICONNECT_TOKEN is required (a bearer token from /v1/auth/login)")
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
