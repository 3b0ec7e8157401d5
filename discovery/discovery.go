// Package discovery implements peer bootstrapping and ongoing address
// exchange/gossip (§4.7): PeerDiscovery dials seeds and performs a
// GetPeers<->Peers handshake; PeerExchange answers inbound requests under
// per-requester rate limiting; PeerGossiper periodically pushes the best
// known addresses to every connected peer. Grounded on the teacher's seed
// dial loop, generalized from devp2p's node-table lookups to the plain
// GetPeers/Peers wire round-trip described here, enriched with AWS Route53
// for DNS-seed resolution the way the teacher resolves bootnodes via DNS
// discovery trees.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	"github.com/aws/aws-sdk-go-v2/service/route53/types"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
)

// DNSSeedConfig names a Route53 hosted zone to resolve for bootstrap peers.
type DNSSeedConfig struct {
	HostedZoneID string
	RecordName   string
}

// Config holds PeerDiscovery tunables.
type Config struct {
	Seeds          []peer.Endpoint
	DNSSeeds       []DNSSeedConfig
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig returns sane defaults (§5: connect timeout default 10s).
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

// PeerDiscovery bootstraps the node's peer set from a static seed list and,
// optionally, a DNS seed resolved via Route53.
type PeerDiscovery struct {
	cfg        Config
	transport  *transport.ConnectionManager
	route53API *route53.Client
	log        log.Logger
}

// New constructs a PeerDiscovery. route53API may be nil if no DNS seeds are
// configured.
func New(cfg Config, tp *transport.ConnectionManager, route53API *route53.Client) *PeerDiscovery {
	return &PeerDiscovery{cfg: cfg, transport: tp, route53API: route53API, log: log.New("subsystem", "discovery")}
}

// ResolveDNSSeeds queries each configured Route53 hosted zone for A/AAAA
// records, returning every resolved endpoint (supplemental, SPEC_FULL.md).
func (d *PeerDiscovery) ResolveDNSSeeds(ctx context.Context, port uint16) ([]peer.Endpoint, error) {
	if d.route53API == nil || len(d.cfg.DNSSeeds) == 0 {
		return nil, nil
	}
	var out []peer.Endpoint
	for _, seed := range d.cfg.DNSSeeds {
		resp, err := d.route53API.ListResourceRecordSets(ctx, &route53.ListResourceRecordSetsInput{
			HostedZoneId:    aws.String(seed.HostedZoneID),
			StartRecordName: aws.String(seed.RecordName),
			MaxItems:        aws.Int32(50),
		})
		if err != nil {
			d.log.Warn("dns seed resolution failed", "zone", seed.HostedZoneID, "err", err)
			continue
		}
		for _, rrset := range resp.ResourceRecordSets {
			if rrset.Type != types.RRTypeA && rrset.Type != types.RRTypeAaaa {
				continue
			}
			for _, rr := range rrset.ResourceRecords {
				if rr.Value == nil {
					continue
				}
				ep, err := peer.ParseEndpoint(*rr.Value, port)
				if err != nil {
					continue
				}
				out = append(out, ep)
			}
		}
	}
	return out, nil
}

// DiscoverPeers dials each seed concurrently, performs a GetPeers->Peers
// round-trip on every surviving connection, and registers returned
// endpoints with the address book. Individual seed failures are swallowed
// (§4.7 Discovery).
func (d *PeerDiscovery) DiscoverPeers(ctx context.Context, book *addrbook.Book) {
	var wg sync.WaitGroup
	for _, seed := range d.cfg.Seeds {
		seed := seed
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.discoverOne(ctx, seed, book)
		}()
	}
	wg.Wait()
}

func (d *PeerDiscovery) discoverOne(ctx context.Context, seed peer.Endpoint, book *addrbook.Book) {
	conn, err := d.transport.Connect(ctx, seed, d.cfg.ConnectTimeout)
	if err != nil || conn == nil {
		d.log.Debug("seed dial failed", "seed", seed, "err", err)
		return
	}
	defer conn.Close()

	req, err := wire.NewGetPeers(200, nil)
	if err != nil {
		return
	}
	if err := conn.Send(req); err != nil {
		d.log.Debug("seed GetPeers send failed", "seed", seed, "err", err)
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	defer cancel()
	msg, err := receiveWithDeadline(reqCtx, conn)
	if err != nil || msg == nil {
		return
	}
	peersMsg, ok := msg.(*wire.PeersMessage)
	if !ok {
		return
	}
	for _, entry := range peersMsg.Endpoints {
		ep := peer.Endpoint{IP: entry.Address, Port: entry.Port}
		_ = book.Add(ep, "seed:"+seed.String())
	}
}

// receiveWithDeadline wraps conn.Receive with a context-bound timeout by
// racing it against ctx.Done.
func receiveWithDeadline(ctx context.Context, conn *transport.PeerConnection) (wire.Message, error) {
	type result struct {
		msg wire.Message
		err error
	}
	ch := make(chan result, 1)
	go func() {
		m, err := conn.Receive()
		ch <- result{m, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.msg, r.err
	}
}
