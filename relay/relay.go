package relay

import (
	"sync"
	"sync/atomic"

	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
)

// relayableTypes are the message types should_relay permits (§4.12).
var relayableTypes = map[wire.MessageType]bool{
	wire.TypeBlock:           true,
	wire.TypeNewBlock:        true,
	wire.TypeTransaction:     true,
	wire.TypeProofSubmission: true,
	wire.TypeBlockAccepted:   true,
}

// Config holds MessageRelay tunables, composing the tracker/limiter/
// bandwidth/queue sub-configs.
type Config struct {
	Tracker         TrackerConfig
	RateLimiter     RateLimiterConfig
	Bandwidth       BandwidthConfig
	QueueCapacity   int
}

// DefaultConfig composes every sub-component's §6 defaults.
func DefaultConfig() Config {
	return Config{
		Tracker:       DefaultTrackerConfig(),
		RateLimiter:   DefaultRateLimiterConfig(),
		Bandwidth:     DefaultBandwidthConfig(),
		QueueCapacity: 1000,
	}
}

// MessageRelay is the background propagation engine described in §4.12: at
// most one worker, started at construction, stopped at shutdown. Grounded
// on the teacher's tx/block broadcast fan-out, generalized to drive off the
// PriorityMessageQueue instead of a flat peer loop.
type MessageRelay struct {
	tracker   *MessageTracker
	limiter   *RateLimiter
	bandwidth *BandwidthMonitor
	queue     *PriorityMessageQueue
	tp        *transport.ConnectionManager
	peers     *peer.Manager
	log       log.Logger

	relayed    int64
	duplicates int64
	dropped    int64

	wg sync.WaitGroup
}

// New constructs a MessageRelay and starts its single background worker.
func New(cfg Config, tp *transport.ConnectionManager, peers *peer.Manager) *MessageRelay {
	r := &MessageRelay{
		tracker:   NewMessageTracker(cfg.Tracker),
		limiter:   NewRateLimiter(cfg.RateLimiter),
		bandwidth: NewBandwidthMonitor(cfg.Bandwidth),
		queue:     NewPriorityMessageQueue(cfg.QueueCapacity),
		tp:        tp,
		peers:     peers,
		log:       log.New("subsystem", "relay"),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Broadcast validates m (dropping and counting invalid messages), marks it
// seen, and enqueues it for every active connection whose peer id differs
// from source (§4.12).
func (r *MessageRelay) Broadcast(m wire.Message, source string) {
	if !wire.Valid(m) {
		atomic.AddInt64(&r.dropped, 1)
		return
	}
	r.tracker.MarkAndCheckIfNew(m)
	priority := PriorityFor(m.Type())
	for _, conn := range r.tp.GetActiveConnections() {
		if conn.ID() == source {
			continue
		}
		r.queue.Enqueue(m, conn.ID(), priority)
	}
}

// Relay implements relay(m, source): drop non-relayable/duplicate messages,
// consume a rate-limit token from source, mark seen, broadcast, and return
// whether the message was accepted (§4.12).
func (r *MessageRelay) Relay(m wire.Message, source string) bool {
	if !wire.Valid(m) || !relayableTypes[m.Type()] {
		atomic.AddInt64(&r.dropped, 1)
		return false
	}
	if r.tracker.HasSeen(m) {
		atomic.AddInt64(&r.dropped, 1)
		atomic.AddInt64(&r.duplicates, 1)
		return false
	}
	if !r.limiter.TryConsume(source, 1) {
		atomic.AddInt64(&r.dropped, 1)
		if r.peers != nil {
			r.peers.RecordFailure(source)
		}
		return false
	}
	r.tracker.MarkAndCheckIfNew(m)
	r.Broadcast(m, source)
	return true
}

func (r *MessageRelay) worker() {
	defer r.wg.Done()
	for {
		item, ok := r.queue.Dequeue()
		if !ok {
			return
		}
		conn, ok := r.tp.Get(item.PeerID)
		if !ok || !conn.IsConnected() {
			continue
		}
		n := int64(len(item.Message.Payload()))
		if !r.bandwidth.CanSend(item.PeerID, n) {
			atomic.AddInt64(&r.dropped, 1)
			continue
		}
		if err := conn.Send(item.Message); err != nil {
			atomic.AddInt64(&r.dropped, 1)
			if r.peers != nil {
				r.peers.RecordFailure(item.PeerID)
			}
			continue
		}
		r.bandwidth.RecordSent(item.PeerID, n)
		atomic.AddInt64(&r.relayed, 1)
		if r.peers != nil {
			r.peers.RecordSuccess(item.PeerID)
		}
	}
}

// Shutdown closes the queue (discarding pending items) and awaits the
// background worker's exit.
func (r *MessageRelay) Shutdown() {
	r.queue.Close()
	r.wg.Wait()
}

// Counters returns (total_messages_relayed, total_duplicates_filtered,
// total_messages_dropped).
func (r *MessageRelay) Counters() (relayed, duplicates, dropped int64) {
	return atomic.LoadInt64(&r.relayed), atomic.LoadInt64(&r.duplicates), atomic.LoadInt64(&r.dropped)
}
