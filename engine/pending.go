package engine

import (
	"sync"
	"time"

	"github.com/insthync/reqres/message"
)

// pendingCall tracks one outstanding request until a response or its timeout
// removes it from the table.
type pendingCall struct {
	id        uint32
	recipient message.PeerID // Only this sender may answer
	invoker   ResponseInvoker
	callback  Callback
	timer     *time.Timer // Written under the table lock in add
}

func (c *pendingCall) stop() {
	if c.timer != nil {
		c.timer.Stop()
	}
}

// pendingTable is the single serialization point between the response path and
// the timeout path. Whoever removes a call completes it; the other finds nothing.
type pendingTable struct {
	mu    sync.Mutex
	calls map[uint32]*pendingCall
}

func newPendingTable() *pendingTable {
	return &pendingTable{calls: make(map[uint32]*pendingCall)}
}

// add inserts call and, when timeout is positive, arms a timer that invokes
// onExpire. It refuses an ID that is still outstanding.
func (t *pendingTable) add(call *pendingCall, timeout time.Duration, onExpire func(*pendingCall)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.calls[call.id]; ok {
		return false
	}
	t.calls[call.id] = call
	if timeout > 0 {
		call.timer = time.AfterFunc(timeout, func() { onExpire(call) })
	}
	return true
}

// removeIfPresent atomically removes and returns the call registered under id.
// A non-nil owner restricts removal to that exact call, so a timer that lost
// its race can never evict a later call that reused the ID.
func (t *pendingTable) removeIfPresent(id uint32, owner *pendingCall) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok || (owner != nil && call != owner) {
		return nil, false
	}
	delete(t.calls, id)
	return call, true
}

// removeFrom removes the call registered under id if it was addressed to
// sender. A mismatch leaves the call pending for its real recipient.
func (t *pendingTable) removeFrom(id uint32, sender message.PeerID) (*pendingCall, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	call, ok := t.calls[id]
	if !ok || call.recipient != sender {
		return nil, false
	}
	delete(t.calls, id)
	return call, true
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
