// Package mcp exposes the library tools over the Model Context
// Protocol, so external MCP clients (editors, other agents) can query
// the same index and skills the chat orchestrator uses.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/librarian-ai/librarian/internal/tool"
)

// Server wraps the MCP SDK server around a tool.Library.
type Server struct {
	mcpServer *mcp.Server
	library   *tool.Library
}

// Config holds MCP server configuration.
type Config struct {
	Name    string
	Version string
	Library *tool.Library
}

// NewServer creates a new MCP server with all library tools registered.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("server name is required")
	}
	if cfg.Version == "" {
		return nil, fmt.Errorf("server version is required")
	}
	if cfg.Library == nil {
		return nil, fmt.Errorf("library is required")
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)

	s := &Server{
		mcpServer: mcpServer,
		library:   cfg.Library,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("registering tools: %w", err)
	}

	return s, nil
}

// Run starts the MCP server on the given transport.
// This is a blocking call that handles all MCP protocol communication.
func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

// registerTools registers the library tools with inferred schemas.
func (s *Server) registerTools() error {
	if err := addTool(s.mcpServer, tool.SearchDocsName,
		"Search the library index for relevant documents using semantic similarity.",
		s.library.SearchDocs); err != nil {
		return err
	}

	if err := addTool(s.mcpServer, tool.GetCatalogName,
		"List the documents available in the library catalog and the loaded skills.",
		s.library.GetCatalog); err != nil {
		return err
	}

	if s.library.HasSkills() {
		if err := addTool(s.mcpServer, tool.QuerySkillName,
			"Get the full content of a specific skill by name.",
			s.library.QuerySkill); err != nil {
			return err
		}
	}

	if s.library.HasIngester() {
		return addTool(s.mcpServer, tool.IngestDocumentName,
			"Download a web page, extract the readable article text, and store it in the library index.",
			s.library.IngestDocument)
	}
	return nil
}

// addTool registers one typed handler, inferring the input schema from
// the handler's input struct.
func addTool[In, Out any](srv *mcp.Server, name, description string, fn func(context.Context, In) (Out, error)) error {
	inputSchema, err := jsonschema.For[In](nil)
	if err != nil {
		return fmt.Errorf("schema for %s: %w", name, err)
	}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: inputSchema,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		out, err := fn(ctx, in)
		if err != nil {
			// Tool-level failures go back to the client as error results,
			// not protocol errors, so the calling agent can react to them.
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
				IsError: true,
			}, nil, nil
		}

		data, err := json.Marshal(out)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal %s result: %w", name, err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil, nil
	})
	return nil
}
