package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// idleDispatch is used where the test only cares about lane state; the huge
// interval keeps the scheduler from draining anything.
func idleAdmission(t *testing.T, opts ...Option) *Admission {
	t.Helper()
	a := NewAdmission(func(string, Lane, Entry) {},
		append([]Option{WithDefaultInterval(time.Hour)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, a.Shutdown(ctx))
	})
	return a
}

func TestEnqueueAssignsIDAndTimestamp(t *testing.T) {
	a := idleAdmission(t)
	a.EnqueuePrivate("chat", Entry{})

	status := a.Status("chat")
	require.Equal(t, 1, status["private"])
}

func TestGroupNormalTrimScenario(t *testing.T) {
	a := idleAdmission(t)

	a.EnqueueSuperadmin("chat", Entry{})
	a.EnqueuePrivate("chat", Entry{})
	for i := 0; i < 12; i++ {
		a.EnqueueGroupNormal("chat", Entry{})
	}

	status := a.Status("chat")
	require.Equal(t, 2, status["group_normal"])
	require.Equal(t, 1, status["superadmin"])
	require.Equal(t, 1, status["private"])
	require.Equal(t, 0, status["group_mention"])

	total := 0
	for _, depth := range status {
		total += depth
	}
	require.Equal(t, 4, total)
}

func TestOnlyGroupNormalIsTrimmed(t *testing.T) {
	a := idleAdmission(t)
	for i := 0; i < 50; i++ {
		a.EnqueuePrivate("chat", Entry{})
		a.EnqueueGroupMention("chat", Entry{})
	}
	status := a.Status("chat")
	require.Equal(t, 50, status["private"])
	require.Equal(t, 50, status["group_mention"])
}

func TestStatusUnknownBackendReportsZeroLanes(t *testing.T) {
	a := idleAdmission(t)
	status := a.Status("nowhere")
	require.Len(t, status, 4)
	for lane, depth := range status {
		require.Zero(t, depth, lane)
	}
}

func TestGroupsAreIsolatedPerBackend(t *testing.T) {
	a := idleAdmission(t)
	a.EnqueuePrivate("alpha", Entry{})
	a.EnqueuePrivate("alpha", Entry{})
	a.EnqueuePrivate("beta", Entry{})

	require.Equal(t, 2, a.Status("alpha")["private"])
	require.Equal(t, 1, a.Status("beta")["private"])
	require.ElementsMatch(t, []string{"alpha", "beta"}, a.Backends())
}

func TestShutdownStopsLoops(t *testing.T) {
	a := NewAdmission(func(string, Lane, Entry) {}, WithDefaultInterval(10*time.Millisecond))
	a.EnqueuePrivate("chat", Entry{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	// A second shutdown has nothing left to stop.
	require.NoError(t, a.Shutdown(ctx))
}
