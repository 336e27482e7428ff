package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const mcpDialTimeout = 10 * time.Second

// mcpSession is the narrow surface the registry needs from a connected MCP
// server. The production implementation wraps the official SDK; tests swap
// the dialer.
type mcpSession interface {
	Tools(ctx context.Context) ([]mcpToolDesc, error)
	Call(ctx context.Context, name string, args map[string]any) (string, error)
	Close() error
}

type mcpToolDesc struct {
	Name        string
	Description string
	Schema      *Schema
}

type mcpDialFunc func(ctx context.Context, server string) (mcpSession, error)

// buildMCPUnits connects to the manifest's server and registers one item per
// advertised tool. The session is owned by the snapshot and closed with it.
func (r *Registry) buildMCPUnits(ctx context.Context, m Manifest) ([]Item, func() error, error) {
	opCtx, cancel := context.WithTimeout(ctx, mcpDialTimeout)
	defer cancel()

	session, err := r.mcpDial(opCtx, m.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("dial MCP server: %w", err)
	}
	tools, err := session.Tools(opCtx)
	if err != nil {
		_ = session.Close()
		return nil, nil, fmt.Errorf("list MCP tools: %w", err)
	}
	if len(tools) == 0 {
		_ = session.Close()
		return nil, nil, fmt.Errorf("MCP server %s advertised no tools", m.Server)
	}

	items := make([]Item, 0, len(tools))
	for _, desc := range tools {
		if strings.TrimSpace(desc.Name) == "" {
			_ = session.Close()
			return nil, nil, fmt.Errorf("MCP server %s advertised a tool with empty name", m.Server)
		}
		tool := desc
		items = append(items, Item{
			Name:        tool.Name,
			Kind:        KindTool,
			Description: tool.Description,
			Schema:      tool.Schema,
			Source:      m.Path,
			Execute: func(ctx context.Context, args map[string]any, _ map[string]any) (any, error) {
				return session.Call(ctx, tool.Name, args)
			},
		})
	}
	return items, session.Close, nil
}

type sdkSession struct {
	session *mcp.ClientSession
}

// dialMCP opens a session through the official SDK. server accepts an
// http(s) URL or a stdio command line, optionally prefixed "stdio://".
func dialMCP(ctx context.Context, server string) (mcpSession, error) {
	transport, err := mcpTransport(server)
	if err != nil {
		return nil, err
	}
	client := mcp.NewClient(&mcp.Implementation{Name: "perch", Version: "dev"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, err
	}
	return &sdkSession{session: session}, nil
}

func mcpTransport(server string) (mcp.Transport, error) {
	server = strings.TrimSpace(server)
	switch {
	case server == "":
		return nil, fmt.Errorf("server is empty")
	case strings.HasPrefix(server, "http://"), strings.HasPrefix(server, "https://"):
		return &mcp.StreamableClientTransport{Endpoint: server}, nil
	default:
		if after, ok := strings.CutPrefix(server, "stdio://"); ok {
			server = after
		}
		parts := strings.Fields(server)
		if len(parts) == 0 {
			return nil, fmt.Errorf("invalid stdio server %q", server)
		}
		return &mcp.CommandTransport{Command: exec.Command(parts[0], parts[1:]...)}, nil
	}
}

func (s *sdkSession) Tools(ctx context.Context) ([]mcpToolDesc, error) {
	res, err := s.session.ListTools(ctx, nil)
	if err != nil {
		return nil, err
	}
	out := make([]mcpToolDesc, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, mcpToolDesc{
			Name:        t.Name,
			Description: t.Description,
			Schema:      convertMCPSchema(t.InputSchema),
		})
	}
	return out, nil
}

func (s *sdkSession) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return "", err
	}
	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}
	joined := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("mcp tool %s: %s", name, joined)
	}
	return joined, nil
}

func (s *sdkSession) Close() error {
	return s.session.Close()
}

// convertMCPSchema maps whatever schema shape the server sent into the
// registry's own Schema through a JSON round trip, tolerating both typed and
// free-form schemas.
func convertMCPSchema(raw any) *Schema {
	if raw == nil {
		return nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var generic struct {
		Type        string         `json:"type"`
		Description string         `json:"description"`
		Properties  map[string]any `json:"properties"`
		Required    []string       `json:"required"`
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil
	}
	return &Schema{
		Type:        generic.Type,
		Description: generic.Description,
		Properties:  generic.Properties,
		Required:    generic.Required,
	}
}
