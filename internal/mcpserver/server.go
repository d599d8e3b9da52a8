// Package mcpserver exposes the platform registries as MCP tools so an LLM
// can browse agents, plugins, data sources and workflows for one tenant.
package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "1.0.0"

// NewMCPServer creates an MCP server with every tool registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	return NewMCPServerWithClient(NewClient(cfg))
}

// NewMCPServerWithClient registers every tool against an existing client,
// typically one that has already logged in.
func NewMCPServerWithClient(client *Client) *server.MCPServer {
	s := server.NewMCPServer("agentplatform", Version)
	h := NewHandlers(client)

	s.AddTool(ToolListResources, h.HandleListResources)
	s.AddTool(ToolGetResource, h.HandleGetResource)
	s.AddTool(ToolRegistryStats, h.HandleRegistryStats)
	s.AddTool(ToolWorkflowOrder, h.HandleWorkflowOrder)
	s.AddTool(ToolFetchData, h.HandleFetchData)
	s.AddTool(ToolListDocuments, h.HandleListDocuments)
	s.AddTool(ToolStartAgent, h.HandleStartAgent)
	s.AddTool(ToolCurrentTenant, h.HandleCurrentTenant)

	return s
}
