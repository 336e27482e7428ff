package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/perchbot/perch/pkg/dispatch"
	"github.com/perchbot/perch/pkg/modelpool"
	"github.com/perchbot/perch/pkg/registry"
)

type outcome struct {
	result any
	err    error
}

func newTestRuntime(t *testing.T, interval time.Duration) (*Runtime, string) {
	t.Helper()
	dir := t.TempDir()
	rt, err := New(Options{
		UnitDirs:        []string{dir},
		PreferencesPath: filepath.Join(t.TempDir(), "prefs.json"),
		Backends: map[string]modelpool.BackendConfig{
			"main": {Name: "main", ModelName: "gpt-main"},
		},
		Factories: map[string]registry.Factory{
			"echo": func(registry.Manifest) (registry.ExecuteFunc, error) {
				return func(_ context.Context, args map[string]any, _ map[string]any) (any, error) {
					return args["text"], nil
				}, nil
			},
			"inspect": func(registry.Manifest) (registry.ExecuteFunc, error) {
				return func(_ context.Context, _ map[string]any, call map[string]any) (any, error) {
					copied := make(map[string]any, len(call))
					for k, v := range call {
						copied[k] = v
					}
					return copied, nil
				}, nil
			},
		},
		Ambient:         map[string]any{"session": "test-session"},
		DefaultInterval: interval,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, rt.Shutdown(ctx))
	})
	return rt, dir
}

func writeUnit(t *testing.T, dir, name, factory string) {
	t.Helper()
	manifest := fmt.Sprintf("name: %s\nkind: tool\nfactory: %s\n", name, factory)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".unit.yaml"), []byte(manifest), 0o600))
}

func TestEnqueueToResult(t *testing.T) {
	rt, dir := newTestRuntime(t, 5*time.Millisecond)
	writeUnit(t, dir, "echo", "echo")
	_, err := rt.Registry().Reload(context.Background())
	require.NoError(t, err)

	done := make(chan outcome, 1)
	rt.EnqueuePrivateRequest("main", Request{
		Unit: "echo",
		Args: map[string]any{"text": "hello"},
		OnResult: func(result any, err error) {
			done <- outcome{result, err}
		},
	})

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, "hello", got.result)
	case <-time.After(5 * time.Second):
		t.Fatal("request never executed")
	}
}

func TestCallBagCarriesIdentityAndAmbient(t *testing.T) {
	rt, dir := newTestRuntime(t, 5*time.Millisecond)
	writeUnit(t, dir, "inspect", "inspect")
	_, err := rt.Registry().Reload(context.Background())
	require.NoError(t, err)

	done := make(chan outcome, 1)
	rt.EnqueueGroupMentionRequest("main", Request{
		Unit:  "inspect",
		Scope: modelpool.Scope{GroupID: "g7", UserID: "u3"},
		OnResult: func(result any, err error) {
			done <- outcome{result, err}
		},
	})

	select {
	case got := <-done:
		require.NoError(t, got.err)
		bag := got.result.(map[string]any)
		require.Equal(t, "main", bag[dispatch.KeyBackend])
		require.Equal(t, "g7", bag[dispatch.KeyGroupID])
		require.Equal(t, "u3", bag[dispatch.KeyUserID])
		require.Equal(t, "test-session", bag["session"])
		require.NotEmpty(t, bag[dispatch.KeyRequestID])
	case <-time.After(5 * time.Second):
		t.Fatal("request never executed")
	}
}

func TestUnknownUnitReportedThroughCallback(t *testing.T) {
	rt, _ := newTestRuntime(t, 5*time.Millisecond)
	_, err := rt.Registry().Reload(context.Background())
	require.NoError(t, err)

	done := make(chan outcome, 1)
	rt.EnqueueSuperadminRequest("main", Request{
		Unit: "missing",
		OnResult: func(result any, err error) {
			done <- outcome{result, err}
		},
	})

	select {
	case got := <-done:
		require.ErrorIs(t, got.err, registry.ErrUnitNotFound)
	case <-time.After(5 * time.Second):
		t.Fatal("request never executed")
	}
}

func TestQueueStatusReflectsPendingWork(t *testing.T) {
	rt, _ := newTestRuntime(t, time.Hour)

	rt.EnqueueGroupNormalRequest("main", Request{Unit: "echo"})
	rt.EnqueueGroupNormalRequest("main", Request{Unit: "echo"})
	rt.EnqueuePrivateRequest("main", Request{Unit: "echo"})

	status := rt.GetQueueStatus("main")
	require.Equal(t, 1, status["private"])
	require.Equal(t, 2, status["group_normal"])
	require.Equal(t, 0, status["superadmin"])
}

func TestUpdateModelIntervalsWakesIdleBackend(t *testing.T) {
	rt, dir := newTestRuntime(t, time.Hour)
	writeUnit(t, dir, "echo", "echo")
	_, err := rt.Registry().Reload(context.Background())
	require.NoError(t, err)

	done := make(chan outcome, 1)
	rt.EnqueuePrivateRequest("main", Request{
		Unit: "echo",
		Args: map[string]any{"text": "later"},
		OnResult: func(result any, err error) {
			done <- outcome{result, err}
		},
	})

	// Nothing should run on the hour-long cadence; shrink it live.
	rt.UpdateModelIntervals(map[string]int{"main": 1})

	select {
	case got := <-done:
		require.NoError(t, got.err)
		require.Equal(t, "later", got.result)
	case <-time.After(10 * time.Second):
		t.Fatal("interval update never took effect")
	}
}

func TestSetBackendSuppliesPrimaryForSelection(t *testing.T) {
	rt, dir := newTestRuntime(t, 5*time.Millisecond)
	writeUnit(t, dir, "inspect", "inspect")
	_, err := rt.Registry().Reload(context.Background())
	require.NoError(t, err)

	rt.SetBackend("alt", modelpool.BackendConfig{Name: "alt", ModelName: "gpt-alt"})

	done := make(chan outcome, 1)
	rt.EnqueuePrivateRequest("alt", Request{
		Unit: "inspect",
		OnResult: func(result any, err error) {
			done <- outcome{result, err}
		},
	})

	select {
	case got := <-done:
		require.NoError(t, got.err)
		bag := got.result.(map[string]any)
		cfg, ok := bag[dispatch.KeyModelConfig].(modelpool.BackendConfig)
		require.True(t, ok)
		require.Equal(t, "gpt-alt", cfg.ModelName)
	case <-time.After(5 * time.Second):
		t.Fatal("request never executed")
	}
}
