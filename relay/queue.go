package relay

import (
	"sync"

	"github.com/postchain/node/wire"
)

// Priority is one of the four PriorityMessageQueue lanes (§4.11).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
	numPriorities
)

// PriorityFor maps a MessageType to its relay priority (§4.11).
func PriorityFor(t wire.MessageType) Priority {
	switch t {
	case wire.TypePing, wire.TypePong, wire.TypeHeartbeat:
		return PriorityCritical
	case wire.TypeBlock, wire.TypeNewBlock, wire.TypeBlockAccepted:
		return PriorityHigh
	case wire.TypeProofSubmission, wire.TypeGetHeaders, wire.TypeHeaders, wire.TypeGetBlock:
		return PriorityNormal
	case wire.TypeTransaction:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// QueuedMessage pairs a message with its destination peer.
type QueuedMessage struct {
	Message wire.Message
	PeerID  string
}

// PriorityMessageQueue is four bounded FIFO lanes serviced strictly in
// priority order, dropping the oldest element of a lane on overflow
// (§4.11). Hand-rolled over plain slices rather than Go channels because
// the drop-oldest-on-overflow behavior and "dequeue blocks until any lane
// has an item or the queue is shut down" contract don't map onto buffered
// channel semantics (a full channel send blocks instead of evicting).
type PriorityMessageQueue struct {
	capacityPerLane int

	mu     sync.Mutex
	cond   *sync.Cond
	lanes  [numPriorities][]QueuedMessage
	closed bool
}

// NewPriorityMessageQueue constructs a queue with capacityPerLane slots in
// each of the four lanes.
func NewPriorityMessageQueue(capacityPerLane int) *PriorityMessageQueue {
	q := &PriorityMessageQueue{capacityPerLane: capacityPerLane}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue inserts m into priority's lane; if full, the oldest element in
// that lane is dropped to make room (§4.11).
func (q *PriorityMessageQueue) Enqueue(m wire.Message, peerID string, priority Priority) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	lane := q.lanes[priority]
	if len(lane) >= q.capacityPerLane {
		lane = lane[1:]
	}
	q.lanes[priority] = append(lane, QueuedMessage{Message: m, PeerID: peerID})
	q.cond.Signal()
}

// Dequeue returns the oldest item from the highest non-empty priority
// lane, blocking until one is available or the queue is shut down (in
// which case ok is false).
func (q *PriorityMessageQueue) Dequeue() (item QueuedMessage, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		for p := numPriorities - 1; p >= 0; p-- {
			lane := q.lanes[p]
			if len(lane) > 0 {
				item = lane[0]
				q.lanes[p] = lane[1:]
				return item, true
			}
		}
		if q.closed {
			return QueuedMessage{}, false
		}
		q.cond.Wait()
	}
}

// Close shuts the queue down; subsequent Enqueue calls are no-ops and a
// blocked Dequeue returns (QueuedMessage{}, false). Pending items are
// discarded.
func (q *PriorityMessageQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for p := range q.lanes {
		q.lanes[p] = nil
	}
	q.cond.Broadcast()
}
