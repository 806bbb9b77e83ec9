package engine

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/insthync/reqres/message"
	"github.com/stretchr/testify/require"
)

func TestPendingTableRefusesOutstandingID(t *testing.T) {
	table := newPendingTable()
	first := &pendingCall{id: 5}
	require.True(t, table.add(first, 0, nil))
	require.False(t, table.add(&pendingCall{id: 5}, 0, nil))

	got, ok := table.removeIfPresent(5, nil)
	require.True(t, ok)
	require.Same(t, first, got)

	_, ok = table.removeIfPresent(5, nil)
	require.False(t, ok)
	require.True(t, table.add(&pendingCall{id: 5}, 0, nil))
}

func TestPendingTableOwnerGuard(t *testing.T) {
	table := newPendingTable()
	stale := &pendingCall{id: 1}
	current := &pendingCall{id: 1}
	require.True(t, table.add(current, 0, nil))

	_, ok := table.removeIfPresent(1, stale)
	require.False(t, ok)
	require.Equal(t, 1, table.len())
}

func TestPendingTableSingleWinner(t *testing.T) {
	table := newPendingTable()
	var expired atomic.Int32
	call := &pendingCall{id: 9}
	require.True(t, table.add(call, time.Millisecond, func(c *pendingCall) {
		if _, ok := table.removeIfPresent(c.id, c); ok {
			expired.Add(1)
		}
	}))

	var removed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := table.removeIfPresent(9, nil); ok {
				removed.Add(1)
			}
		}()
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, int32(1), removed.Load()+expired.Load())
}

func TestPendingTableRemoveFromRecipientOnly(t *testing.T) {
	table := newPendingTable()
	call := &pendingCall{id: 3, recipient: 7}
	require.True(t, table.add(call, 0, nil))

	_, ok := table.removeFrom(3, 8)
	require.False(t, ok)
	_, ok = table.removeFrom(3, message.AuthorityID)
	require.False(t, ok)
	require.Equal(t, 1, table.len())

	got, ok := table.removeFrom(3, 7)
	require.True(t, ok)
	require.Same(t, call, got)
	require.Zero(t, table.len())
}
