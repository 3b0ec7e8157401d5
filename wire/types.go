// Package wire implements the core's binary wire format: the MessageType
// tag enum, the typed Message variants with their payload bounds (§3), and
// the frame codec (§4.1). It is grounded on the teacher's tagged-dispatch
// idiom (probe/protocols/probe) generalized the way AlexVanin-neo-go's
// pkg/network/message.go dispatches payload.Payload by CommandType, but
// with the exact framing §4.1 mandates rather than neo-go's compressed
// varint framing.
package wire

import "fmt"

// MessageType is the single-byte wire tag. Numeric assignments are stable
// on the wire and must never be renumbered.
type MessageType byte

const (
	TypeHandshake     MessageType = 0x01
	TypeHandshakeAck  MessageType = 0x02
	TypeHeartbeat     MessageType = 0x03
	TypePing          MessageType = 0x04
	TypePong          MessageType = 0x05
	TypeGetPeers      MessageType = 0x10
	TypePeers         MessageType = 0x11
	TypeGetHeaders    MessageType = 0x20
	TypeHeaders       MessageType = 0x21
	TypeGetBlock      MessageType = 0x22
	TypeBlock         MessageType = 0x23
	TypeTransaction   MessageType = 0x30
	TypeNewBlock      MessageType = 0x31
	TypeTxPoolRequest MessageType = 0x32
	TypeProofSubmission MessageType = 0x40
	TypeBlockAccepted MessageType = 0x41
	TypeError         MessageType = 0xFF
)

func (t MessageType) String() string {
	switch t {
	case TypeHandshake:
		return "Handshake"
	case TypeHandshakeAck:
		return "HandshakeAck"
	case TypeHeartbeat:
		return "Heartbeat"
	case TypePing:
		return "Ping"
	case TypePong:
		return "Pong"
	case TypeGetPeers:
		return "GetPeers"
	case TypePeers:
		return "Peers"
	case TypeGetHeaders:
		return "GetHeaders"
	case TypeHeaders:
		return "Headers"
	case TypeGetBlock:
		return "GetBlock"
	case TypeBlock:
		return "Block"
	case TypeTransaction:
		return "Transaction"
	case TypeNewBlock:
		return "NewBlock"
	case TypeTxPoolRequest:
		return "TxPoolRequest"
	case TypeProofSubmission:
		return "ProofSubmission"
	case TypeBlockAccepted:
		return "BlockAccepted"
	case TypeError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", byte(t))
	}
}

// IsKnown reports whether t has a registered variant.
func IsKnown(t MessageType) bool {
	switch t {
	case TypeHandshake, TypeHandshakeAck, TypeHeartbeat, TypePing, TypePong,
		TypeGetPeers, TypePeers, TypeGetHeaders, TypeHeaders, TypeGetBlock,
		TypeBlock, TypeTransaction, TypeNewBlock, TypeTxPoolRequest,
		TypeProofSubmission, TypeBlockAccepted, TypeError:
		return true
	default:
		return false
	}
}

// Message is the common interface every wire variant implements. Payload
// returns the variant's cached serialized bytes (computed once, at
// construction/decode time, never recomputed on the hot path).
type Message interface {
	Type() MessageType
	Payload() []byte
}

// Sizing limits from §3/§4.1.
const (
	MaxFrameLen       = 16 * 1024 * 1024 // 16 MiB, includes the type byte
	MaxHeartbeatLen   = 1024
	MaxPeersEntries    = 1000
	MaxHeadersEntries  = 2000
	MaxHeaderBlobLen   = 10 * 1024 * 1024
	MaxBlockBlobLen    = 16 * 1024 * 1024
	MaxTxBlobLen       = 1 * 1024 * 1024
	MaxProofDataLen    = 1 * 1024 * 1024
	HashLen            = 32
	MinerIDLen         = 33
)
