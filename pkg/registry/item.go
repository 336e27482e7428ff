// Package registry holds the named executable units (tools and agents) the
// dispatcher resolves against. The current unit set is an immutable snapshot
// behind an atomic pointer; hot reload builds a complete replacement and
// swaps it in one assignment.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// Kind distinguishes the unit classes a manifest may declare.
type Kind string

const (
	KindTool  Kind = "tool"
	KindAgent Kind = "agent"
	KindMCP   Kind = "mcp"
)

// ExecuteFunc is the async contract every unit fulfils. args carries the
// explicit call arguments, call the ambient per-call bag the dispatcher
// assembles.
type ExecuteFunc func(ctx context.Context, args map[string]any, call map[string]any) (any, error)

// Factory builds the executable for a manifest that names it. Factories form
// the compiled half of unit discovery; manifests on disk are the dynamic
// half.
type Factory func(m Manifest) (ExecuteFunc, error)

// Schema is the JSON-schema-like parameter description attached to a unit.
type Schema struct {
	Type        string         `yaml:"type" json:"type,omitempty"`
	Description string         `yaml:"description" json:"description,omitempty"`
	Properties  map[string]any `yaml:"properties" json:"properties,omitempty"`
	Required    []string       `yaml:"required" json:"required,omitempty"`
}

// Manifest mirrors one unit's on-disk descriptor.
type Manifest struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"`
	Description string  `yaml:"description"`
	Factory     string  `yaml:"factory"`
	Schema      *Schema `yaml:"schema"`
	// Server names the MCP server backing a kind: mcp unit. Accepts an
	// http(s) URL or a stdio command line.
	Server string `yaml:"server"`
	// DynamicTools points an agent at its own tool directory, scanned per
	// call by the dispatcher. Relative paths resolve against the manifest.
	DynamicTools string `yaml:"dynamic_tools"`
	// Extra passes opaque settings through to the factory.
	Extra map[string]any `yaml:"extra"`

	// Path is the manifest location, filled in by the scanner.
	Path string `yaml:"-"`
}

func (m Manifest) validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("unit name is required")
	}
	switch Kind(m.Kind) {
	case KindTool, KindAgent:
		if strings.TrimSpace(m.Factory) == "" {
			return fmt.Errorf("unit %s: factory is required", m.Name)
		}
	case KindMCP:
		if strings.TrimSpace(m.Server) == "" {
			return fmt.Errorf("unit %s: server is required", m.Name)
		}
	default:
		return fmt.Errorf("unit %s: unknown kind %q", m.Name, m.Kind)
	}
	return nil
}

// Item is one resolvable unit inside a snapshot.
type Item struct {
	Name        string
	Kind        Kind
	Description string
	Schema      *Schema
	Execute     ExecuteFunc
	// DynamicToolsDir is the resolved per-call tool directory of an agent,
	// empty for plain tools.
	DynamicToolsDir string
	// Source is the manifest path the item was built from.
	Source string
}
