package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/postchain/node/wire"
)

func TestMarkAndCheckIfNewDedup(t *testing.T) {
	tr := NewMessageTracker(TrackerConfig{MessageLifetime: 50 * time.Millisecond, MaxTracked: 10})
	tx, err := wire.NewTransaction(make([]byte, 16))
	require.NoError(t, err)

	require.True(t, tr.MarkAndCheckIfNew(tx))
	require.False(t, tr.MarkAndCheckIfNew(tx))

	time.Sleep(80 * time.Millisecond)
	require.True(t, tr.MarkAndCheckIfNew(tx))
}

func TestHasSeenNonMutating(t *testing.T) {
	tr := NewMessageTracker(DefaultTrackerConfig())
	tx, err := wire.NewTransaction(make([]byte, 16))
	require.NoError(t, err)

	require.False(t, tr.HasSeen(tx))
	tr.MarkAndCheckIfNew(tx)
	require.True(t, tr.HasSeen(tx))
}

func TestCleanupEnforcesMaxTracked(t *testing.T) {
	tr := NewMessageTracker(TrackerConfig{MessageLifetime: time.Hour, MaxTracked: 3})
	for i := 0; i < 10; i++ {
		tx, err := wire.NewTransaction([]byte{byte(i)})
		require.NoError(t, err)
		tr.MarkAndCheckIfNew(tx)
	}
	require.LessOrEqual(t, tr.Len(), 3)
}
