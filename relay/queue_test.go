package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/wire"
)

func TestDequeueStrictPriorityOrder(t *testing.T) {
	q := NewPriorityMessageQueue(10)
	low, _ := wire.NewTransaction([]byte("low"))
	crit := wire.NewHeartbeat()

	q.Enqueue(low, "p1", PriorityLow)
	q.Enqueue(crit, "p1", PriorityCritical)

	item, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, wire.TypeHeartbeat, item.Message.Type())

	item, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, wire.TypeTransaction, item.Message.Type())
}

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	q := NewPriorityMessageQueue(1)
	first, _ := wire.NewTransaction([]byte("first"))
	second, _ := wire.NewTransaction([]byte("second"))

	q.Enqueue(first, "p1", PriorityLow)
	q.Enqueue(second, "p1", PriorityLow)

	item, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, second.Payload(), item.Message.Payload())
}

func TestDequeueBlocksUntilShutdown(t *testing.T) {
	q := NewPriorityMessageQueue(1)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not unblock on Close")
	}
}
