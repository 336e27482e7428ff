package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	tools  []mcpToolDesc
	closed bool
	calls  []string
}

func (f *fakeSession) Tools(context.Context) ([]mcpToolDesc, error) { return f.tools, nil }

func (f *fakeSession) Call(_ context.Context, name string, args map[string]any) (string, error) {
	f.calls = append(f.calls, name)
	return fmt.Sprintf("%s(%v)", name, args["q"]), nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func writeMCPUnit(t *testing.T, dir string) {
	t.Helper()
	manifest := `name: remote
kind: mcp
server: stdio://fake-server
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "remote.unit.yaml"), []byte(manifest), 0o600))
}

func TestMCPUnitExpandsIntoRemoteTools(t *testing.T) {
	dir := t.TempDir()
	writeMCPUnit(t, dir)

	session := &fakeSession{tools: []mcpToolDesc{
		{Name: "search", Description: "find things"},
		{Name: "fetch", Schema: &Schema{Type: "object"}},
	}}
	reg := newTestRegistry(t, dir)
	reg.mcpDial = func(context.Context, string) (mcpSession, error) { return session, nil }

	snap, err := reg.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, snap.Len())

	item, ok := snap.Lookup("search")
	require.True(t, ok)
	require.Equal(t, KindTool, item.Kind)

	out, err := item.Execute(context.Background(), map[string]any{"q": "birds"}, nil)
	require.NoError(t, err)
	require.Equal(t, "search(birds)", out)
	require.Equal(t, []string{"search"}, session.calls)

	// The session belongs to the snapshot and closes with it.
	require.NoError(t, snap.Close())
	require.True(t, session.closed)
}

func TestMCPDialFailureSkipsOnlyThatUnit(t *testing.T) {
	dir := t.TempDir()
	writeMCPUnit(t, dir)
	writeUnit(t, dir, "local")

	reg := newTestRegistry(t, dir)
	reg.mcpDial = func(context.Context, string) (mcpSession, error) {
		return nil, errors.New("connection refused")
	}

	snap, err := reg.Reload(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, snap.Len())
	_, ok := snap.Lookup("local")
	require.True(t, ok)
}

func TestMCPTransportParsing(t *testing.T) {
	_, err := mcpTransport("")
	require.Error(t, err)

	tr, err := mcpTransport("https://example.com/mcp")
	require.NoError(t, err)
	require.NotNil(t, tr)

	tr, err = mcpTransport("stdio:///usr/bin/server --flag")
	require.NoError(t, err)
	require.NotNil(t, tr)
}

func TestConvertMCPSchema(t *testing.T) {
	require.Nil(t, convertMCPSchema(nil))

	schema := convertMCPSchema(map[string]any{
		"type":     "object",
		"required": []string{"q"},
		"properties": map[string]any{
			"q": map[string]any{"type": "string"},
		},
	})
	require.NotNil(t, schema)
	require.Equal(t, "object", schema.Type)
	require.Equal(t, []string{"q"}, schema.Required)
	require.Contains(t, schema.Properties, "q")
}
