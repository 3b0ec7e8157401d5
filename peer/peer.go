// Package peer implements the runtime peer registry and reputation system
// (§3 PeerInfo, §4.3 PeerManager). It is grounded on the teacher's peerSet
// idiom in probe/handler.go (registerPeer/unregisterPeer/peersWithout*) and
// the snap/probe peer wrappers in go-probe-master/probe/peer.go, generalized
// from a protocol-session wrapper into a standalone reputation ledger.
package peer

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// Endpoint is a bare IP:port pair, reused across peer/addrbook/transport.
type Endpoint struct {
	IP   net.IP
	Port uint16
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), portString(e.Port))
}

func portString(p uint16) string {
	const digits = "0123456789"
	if p == 0 {
		return "0"
	}
	var buf [5]byte
	i := len(buf)
	for p > 0 {
		i--
		buf[i] = digits[p%10]
		p /= 10
	}
	return string(buf[i:])
}

// Info is the runtime state tracked per known peer (§3 PeerInfo). Its
// mutable fields are owned exclusively by Manager; nothing outside this
// package writes to an Info after it's handed out.
type Info struct {
	ID               string
	Endpoint         Endpoint
	ProtocolVersion  int32
	ReputationScore  int32
	LastSeen         time.Time
	IsConnected      bool
	FailureCount     int32
}

// snapshot returns a defensive copy so callers can't mutate manager state.
func (i *Info) snapshot() *Info {
	cp := *i
	return &cp
}

// NewPeerID generates a stable id for a peer discovered at dial or accept
// time, per §3 ("stable, assigned at dial or accept").
func NewPeerID() string { return uuid.New().String() }

// ParseEndpoint builds an Endpoint from a bare host string (as resolved
// from a DNS seed record) and a fixed port.
func ParseEndpoint(host string, port uint16) (Endpoint, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return Endpoint{}, fmt.Errorf("peer: cannot resolve %q", host)
		}
		ip = ips[0]
	}
	return Endpoint{IP: ip, Port: port}, nil
}
