// Package mcp exposes search over stdio for MCP clients.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/docsift/docsift/internal/search"
)

const (
	// ServerName is the MCP server name
	ServerName = "docsift"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with the search service.
type Server struct {
	mcp    *server.MCPServer
	search *search.Service
}

// NewServer creates a new MCP server instance
func NewServer(svc *search.Service) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion),
		search: svc,
	}
	s.mcp.AddTool(searchDocsTool(), s.handleSearchDocs)
	s.mcp.AddTool(getChunkTool(), s.handleGetChunk)
	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp)
}

func searchDocsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_docs",
		Description: "Search the documentation with hybrid semantic + keyword retrieval",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or keywords)",
				},
				"max_results": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-20)",
					"default":     search.DefaultMaxResults,
					"minimum":     search.MinResults,
					"maximum":     search.MaxResults,
				},
				"max_tokens": map[string]interface{}{
					"type":        "integer",
					"description": "Approximate token budget for result content (100-5000)",
					"default":     search.DefaultMaxTokens,
					"minimum":     search.MinTokens,
					"maximum":     search.MaxTokens,
				},
				"framework": map[string]interface{}{
					"type":        "string",
					"description": "Restrict results to one framework (common content always matches)",
					"enum":        []string{"flow", "hilla", "common"},
				},
			},
			Required: []string{"query"},
		},
	}
}

func getChunkTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_chunk",
		Description: "Fetch one documentation chunk by its identifier",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"id": map[string]interface{}{
					"type":        "string",
					"description": "Chunk identifier as returned by search_docs",
				},
			},
			Required: []string{"id"},
		},
	}
}
