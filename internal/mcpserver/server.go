package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all KrishiConnect tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("krishiconnect", "1.0.0")
	h := NewHandlers(NewClient(cfg))

	s.AddTool(ToolCheckWallet, h.HandleCheckWallet)
	s.AddTool(ToolBrowseListings, h.HandleBrowseListings)
	s.AddTool(ToolListContracts, h.HandleListContracts)
	s.AddTool(ToolContractDashboard, h.HandleContractDashboard)
	s.AddTool(ToolProposeContract, h.HandleProposeContract)
	s.AddTool(ToolCounterOffer, h.HandleCounterOffer)
	s.AddTool(ToolRespondToContract, h.HandleRespondToContract)
	s.AddTool(ToolReleaseMilestone, h.HandleReleaseMilestone)
	s.AddTool(ToolSendMessage, h.HandleSendMessage)
	s.AddTool(ToolRecommendCrops, h.HandleRecommendCrops)
	s.AddTool(ToolWeatherAdvice, h.HandleWeatherAdvice)

	return s
}
