package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func entryN(n int) Entry {
	return Entry{RequestID: fmt.Sprintf("r%d", n)}
}

func TestFIFOOrder(t *testing.T) {
	q := &fifo{}
	for i := 0; i < 5; i++ {
		q.push(entryN(i))
	}
	for i := 0; i < 5; i++ {
		e, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("r%d", i), e.RequestID)
	}
	_, ok := q.pop()
	require.False(t, ok)
}

func TestPushTrimmedBelowCapKeepsEverything(t *testing.T) {
	q := &fifo{}
	for i := 0; i < 10; i++ {
		dropped := q.pushTrimmed(entryN(i), 10, 2)
		require.Zero(t, dropped)
	}
	require.Equal(t, 10, q.len())
}

func TestPushTrimmedShedsOldestFirst(t *testing.T) {
	q := &fifo{}
	for i := 0; i < 11; i++ {
		q.pushTrimmed(entryN(i), 10, 2)
	}
	require.Equal(t, 11, q.len())

	dropped := q.pushTrimmed(entryN(11), 10, 2)
	require.Equal(t, 10, dropped)
	require.Equal(t, 2, q.len())

	// The newest pre-trim entry and the incoming one survive, in order.
	first, _ := q.pop()
	second, _ := q.pop()
	require.Equal(t, "r10", first.RequestID)
	require.Equal(t, "r11", second.RequestID)
}
