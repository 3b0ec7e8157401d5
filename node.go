// Package node wires the networking core's subsystems into a single
// runnable service, grounded on the teacher's probe.Probeum/handler split
// (probe/backend.go, probe/handler.go): one struct owning every
// long-lived component, a single onPeer hook that starts a per-connection
// receive loop, and Start/Stop lifecycle methods that bring every
// subsystem up and down in dependency order.
package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/route53"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/api"
	"github.com/postchain/node/chainstore"
	"github.com/postchain/node/chainsync"
	"github.com/postchain/node/discovery"
	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/relay"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
)

// Config composes every subsystem's tunables plus this node's own listen
// endpoint.
type Config struct {
	ListenEndpoint peer.Endpoint

	Peer      peer.Config
	AddrBook  addrbook.Config
	Transport transport.Config
	Discovery discovery.Config
	Exchange  discovery.ExchangeConfig
	Gossip    discovery.GossipConfig
	Relay     relay.Config
	Sync      chainsync.Config
	API       api.Config
}

// DefaultConfig composes every subsystem's documented defaults.
func DefaultConfig() Config {
	return Config{
		Peer:      peer.DefaultConfig(),
		AddrBook:  addrbook.DefaultConfig(),
		Transport: transport.DefaultConfig(),
		Discovery: discovery.DefaultConfig(),
		Exchange:  discovery.DefaultExchangeConfig(),
		Gossip:    discovery.DefaultGossipConfig(),
		Relay:     relay.DefaultConfig(),
		Sync:      chainsync.DefaultConfig(),
		API:       api.DefaultConfig(),
	}
}

// Node is the assembled networking core: peer registry, address book,
// transport, discovery/exchange/gossip, message relay, block synchronizer
// and the read-only status API, all sharing one ConnectionManager.
type Node struct {
	cfg Config
	log log.Logger

	peers     *peer.Manager
	book      *addrbook.Book
	tp        *transport.ConnectionManager
	discovery *discovery.PeerDiscovery
	exchange  *discovery.PeerExchange
	gossiper  *discovery.PeerGossiper
	relay     *relay.MessageRelay
	sync      *chainsync.BlockSynchronizer
	apiServer *api.Server

	connWG sync.WaitGroup
}

// New assembles a Node. store/codec/validator are the external chain-store
// contract (§6). route53API may be nil when DNS-seed resolution is not
// configured; DNS self-announcement is configured separately via
// cfg.Transport.DNSAnnounce, which builds its own Cloudflare client.
func New(
	cfg Config,
	store chainstore.Storage,
	codec chainstore.Codec,
	validator chainstore.Validator,
	route53API *route53.Client,
) (*Node, error) {
	n := &Node{
		cfg:   cfg,
		log:   log.New("subsystem", "node"),
		peers: peer.NewManager(cfg.Peer),
		book:  addrbook.New(cfg.AddrBook),
	}

	n.tp = transport.New(cfg.Transport, n.peers, n.onPeer)

	n.discovery = discovery.New(cfg.Discovery, n.tp, route53API)
	n.exchange = discovery.NewPeerExchange(cfg.Exchange, n.book)
	n.gossiper = discovery.NewPeerGossiper(cfg.Gossip, n.book, n.tp)
	n.relay = relay.New(cfg.Relay, n.tp, n.peers)
	n.sync = chainsync.New(cfg.Sync, n.tp, n.peers, store, codec, validator)

	apiSrv, err := api.New(cfg.API, n.peers, n.book, n.sync)
	if err != nil {
		return nil, fmt.Errorf("node: building status API: %w", err)
	}
	n.apiServer = apiSrv

	return n, nil
}

// Synchronizer exposes the BlockSynchronizer for callers that want to drive
// Start/Resume/Stop directly (e.g. on an IBD-threshold trigger).
func (n *Node) Synchronizer() *chainsync.BlockSynchronizer { return n.sync }

// Relay exposes the MessageRelay for inbound-message handlers to call
// Relay/Broadcast on.
func (n *Node) Relay() *relay.MessageRelay { return n.relay }

// AddressBook exposes the address catalog for callers seeding bootstrap
// addresses before Start.
func (n *Node) AddressBook() *addrbook.Book { return n.book }

// Discovery exposes PeerDiscovery for callers driving seed dialing and
// DNS-seed resolution, which Start deliberately leaves to the caller.
func (n *Node) Discovery() *discovery.PeerDiscovery { return n.discovery }

// Start binds the listener, launches the gossiper, and begins serving the
// status API. Dialing seed peers is left to the caller via Discovery's
// ResolveDNSSeeds/static seed list, matching the teacher's separation of
// "construct" from "dial out".
func (n *Node) Start() error {
	if err := n.tp.Start(n.cfg.ListenEndpoint); err != nil {
		return fmt.Errorf("node: starting transport: %w", err)
	}
	n.gossiper.Start()
	if err := n.apiServer.Start(); err != nil {
		return fmt.Errorf("node: starting status API: %w", err)
	}
	n.log.Info("node started", "listen", n.cfg.ListenEndpoint.String())
	return nil
}

// Stop tears every subsystem down in reverse dependency order and waits for
// every per-connection receive loop to exit.
func (n *Node) Stop(ctx context.Context) error {
	n.sync.Stop()
	if err := n.apiServer.Stop(ctx); err != nil {
		n.log.Warn("status API shutdown error", "err", err)
	}
	n.gossiper.Stop()
	n.relay.Shutdown()
	n.tp.Stop()
	n.connWG.Wait()
	n.log.Info("node stopped")
	return nil
}

// onPeer is ConnectionManager's per-connection callback (§4.5): it spawns
// the receive loop that dispatches every inbound message to the subsystem
// that owns its type, the way the teacher's handler.runPeer loop dispatches
// by devp2p message code.
func (n *Node) onPeer(conn *transport.PeerConnection) {
	n.connWG.Add(1)
	go func() {
		defer n.connWG.Done()
		n.servePeer(conn)
	}()
}

func (n *Node) servePeer(conn *transport.PeerConnection) {
	peerLog := n.log.New("peer", conn.ID())
	for {
		msg, err := conn.Receive()
		if err != nil {
			peerLog.Debug("connection closed", "err", err)
			n.peers.RecordFailure(conn.ID())
			return
		}
		if msg == nil {
			return
		}
		if err := n.dispatch(conn, msg); err != nil {
			peerLog.Warn("message handling failed", "type", msg.Type(), "err", err)
		}
	}
}

// dispatch routes one inbound message to its owning subsystem. Request/
// reply messages BlockSynchronizer issues itself (GetHeaders/Headers,
// GetBlock/Block) are read directly off the connection by sync.go's own
// request calls and never reach here during an active sync; outside a
// sync they're simply unsolicited and ignored below.
func (n *Node) dispatch(conn *transport.PeerConnection, msg wire.Message) error {
	switch msg.Type() {
	case wire.TypeGetPeers:
		req, ok := msg.(*wire.GetPeersMessage)
		if !ok {
			return nil
		}
		resp, err := n.exchange.HandlePeerRequest(req, conn.ID())
		if err != nil {
			return err
		}
		return conn.Send(resp)
	case wire.TypePeers:
		m, ok := msg.(*wire.PeersMessage)
		if !ok {
			return nil
		}
		n.gossiper.ProcessReceivedAddresses(m.Endpoints, conn.ID())
		return nil
	case wire.TypeTransaction, wire.TypeNewBlock, wire.TypeProofSubmission, wire.TypeBlockAccepted:
		if n.relay.Relay(msg, conn.ID()) {
			n.peers.RecordSuccess(conn.ID())
		}
		return nil
	default:
		return nil
	}
}
