package wire

import (
	"fmt"
	"net"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dlclark/regexp2"
	"golang.org/x/text/unicode/norm"

	"github.com/postchain/node/wireerr"
)

// userAgentPattern matches "name/major.minor.patch"-shaped user agents, e.g.
// "postchain/1.4.0". regexp2 is used (rather than stdlib regexp) because
// the corpus's dlclark/regexp2 dependency is already wired for this check
// and its backtracking engine is exercised nowhere else in the core.
var userAgentPattern = regexp2.MustCompile(`^[A-Za-z0-9_.-]+/\d+\.\d+\.\d+$`, regexp2.None)

func validUserAgent(s string) bool {
	ok, err := userAgentPattern.MatchString(s)
	return err == nil && ok
}

// ---- Handshake / HandshakeAck ----------------------------------------------

type HandshakeMessage struct {
	ack             bool
	ProtocolVersion int32
	NodeID          string
	UserAgent       string
	Timestamp       int64
	payload         []byte
}

func NewHandshake(protocolVersion int32, nodeID, userAgent string, timestamp int64) (*HandshakeMessage, error) {
	return newHandshake(false, protocolVersion, nodeID, userAgent, timestamp)
}

func NewHandshakeAck(protocolVersion int32, nodeID, userAgent string, timestamp int64) (*HandshakeMessage, error) {
	return newHandshake(true, protocolVersion, nodeID, userAgent, timestamp)
}

func newHandshake(ack bool, protocolVersion int32, nodeID, userAgent string, timestamp int64) (*HandshakeMessage, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("%w: node_id must not be empty", wireerr.ErrPayloadOutOfRange)
	}
	if userAgent == "" {
		return nil, fmt.Errorf("%w: user_agent must not be empty", wireerr.ErrPayloadOutOfRange)
	}
	if !validUserAgent(userAgent) {
		return nil, fmt.Errorf("%w: user_agent %q is not name/semver", wireerr.ErrPayloadOutOfRange, userAgent)
	}
	m := &HandshakeMessage{ack: ack, ProtocolVersion: protocolVersion, NodeID: nodeID, UserAgent: userAgent, Timestamp: timestamp}
	e := newEncoder()
	e.putInt32(protocolVersion)
	e.putString(nodeID)
	e.putString(userAgent)
	e.putInt64(timestamp)
	m.payload = e.bytes()
	return m, nil
}

func (m *HandshakeMessage) Type() MessageType {
	if m.ack {
		return TypeHandshakeAck
	}
	return TypeHandshake
}
func (m *HandshakeMessage) Payload() []byte { return m.payload }

func decodeHandshake(ack bool, payload []byte) (*HandshakeMessage, error) {
	d := newDecoder(payload)
	version, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	nodeID, err := d.getString()
	if err != nil {
		return nil, err
	}
	userAgent, err := d.getString()
	if err != nil {
		return nil, err
	}
	ts, err := d.getInt64()
	if err != nil {
		return nil, err
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	// NFC-normalize so two byte-distinct but canonically-equal handshake
	// identifiers compare equal after decode; scoped to these two fields,
	// the only ones compared for equality elsewhere (peer.Manager keys on
	// node_id).
	nodeID = norm.NFC.String(nodeID)
	userAgent = norm.NFC.String(userAgent)
	return newHandshake(ack, version, nodeID, userAgent, ts)
}

// ---- Heartbeat --------------------------------------------------------

type HeartbeatMessage struct{ payload []byte }

func NewHeartbeat() *HeartbeatMessage { return &HeartbeatMessage{payload: nil} }

func (m *HeartbeatMessage) Type() MessageType { return TypeHeartbeat }
func (m *HeartbeatMessage) Payload() []byte   { return m.payload }

func decodeHeartbeat(payload []byte) (*HeartbeatMessage, error) {
	if len(payload) > MaxHeartbeatLen {
		return nil, fmt.Errorf("%w: heartbeat payload %d bytes", wireerr.ErrPayloadOutOfRange, len(payload))
	}
	return &HeartbeatMessage{payload: payload}, nil
}

// ---- Ping / Pong --------------------------------------------------------

type PingPongMessage struct {
	pong      bool
	Nonce     int64
	Timestamp int64
	payload   []byte
}

func NewPing(nonce, timestamp int64) *PingPongMessage { return newPingPong(false, nonce, timestamp) }
func NewPong(nonce, timestamp int64) *PingPongMessage { return newPingPong(true, nonce, timestamp) }

func newPingPong(pong bool, nonce, timestamp int64) *PingPongMessage {
	m := &PingPongMessage{pong: pong, Nonce: nonce, Timestamp: timestamp}
	e := newEncoder()
	e.putInt64(nonce)
	e.putInt64(timestamp)
	m.payload = e.bytes()
	return m
}

func (m *PingPongMessage) Type() MessageType {
	if m.pong {
		return TypePong
	}
	return TypePing
}
func (m *PingPongMessage) Payload() []byte { return m.payload }

func decodePingPong(pong bool, payload []byte) (*PingPongMessage, error) {
	if len(payload) != 16 {
		return nil, fmt.Errorf("%w: ping/pong payload must be 16 bytes, got %d", wireerr.ErrPayloadOutOfRange, len(payload))
	}
	d := newDecoder(payload)
	nonce, _ := d.getInt64()
	ts, _ := d.getInt64()
	return newPingPong(pong, nonce, ts), nil
}

// ---- GetPeers -----------------------------------------------------------

type GetPeersMessage struct {
	MaxCount         int32
	ExcludeAddresses []string
	payload          []byte
}

func NewGetPeers(maxCount int32, exclude []string) (*GetPeersMessage, error) {
	if maxCount < 1 || maxCount > 1000 {
		return nil, fmt.Errorf("%w: max_count %d not in [1,1000]", wireerr.ErrPayloadOutOfRange, maxCount)
	}
	m := &GetPeersMessage{MaxCount: maxCount, ExcludeAddresses: append([]string(nil), exclude...)}
	e := newEncoder()
	e.putInt32(maxCount)
	e.putInt32(int32(len(exclude)))
	for _, a := range exclude {
		e.putString(a)
	}
	m.payload = e.bytes()
	return m, nil
}

func (m *GetPeersMessage) Type() MessageType { return TypeGetPeers }
func (m *GetPeersMessage) Payload() []byte   { return m.payload }

func decodeGetPeers(payload []byte) (*GetPeersMessage, error) {
	d := newDecoder(payload)
	maxCount, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	count, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > MaxPeersEntries {
		return nil, fmt.Errorf("%w: exclude count %d", wireerr.ErrPayloadOutOfRange, count)
	}
	exclude := make([]string, 0, count)
	for i := int32(0); i < count; i++ {
		s, err := d.getString()
		if err != nil {
			return nil, err
		}
		exclude = append(exclude, s)
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewGetPeers(maxCount, exclude)
}

// ---- Peers ----------------------------------------------------------------

// PeerEndpoint is one entry of a Peers message: a 4- or 16-byte address and
// a port.
type PeerEndpoint struct {
	Address net.IP
	Port    uint16
}

func (e PeerEndpoint) String() string {
	return net.JoinHostPort(e.Address.String(), strconv.Itoa(int(e.Port)))
}

type PeersMessage struct {
	Endpoints []PeerEndpoint
	payload   []byte
}

func NewPeers(endpoints []PeerEndpoint) (*PeersMessage, error) {
	if len(endpoints) > MaxPeersEntries {
		return nil, fmt.Errorf("%w: %d peer entries exceeds %d", wireerr.ErrPayloadOutOfRange, len(endpoints), MaxPeersEntries)
	}
	for _, ep := range endpoints {
		b := addrBytes(ep.Address)
		if len(b) != 4 && len(b) != 16 {
			return nil, fmt.Errorf("%w: address %v is not 4 or 16 bytes", wireerr.ErrPayloadOutOfRange, ep.Address)
		}
	}
	m := &PeersMessage{Endpoints: append([]PeerEndpoint(nil), endpoints...)}
	e := newEncoder()
	e.putInt32(int32(len(endpoints)))
	for _, ep := range endpoints {
		b := addrBytes(ep.Address)
		e.putByte(byte(len(b)))
		e.putRaw(b)
		e.putUint16(ep.Port)
	}
	m.payload = e.bytes()
	return m, nil
}

func addrBytes(ip net.IP) []byte {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip.To16()
}

func (m *PeersMessage) Type() MessageType { return TypePeers }
func (m *PeersMessage) Payload() []byte   { return m.payload }

func decodePeers(payload []byte) (*PeersMessage, error) {
	d := newDecoder(payload)
	count, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > MaxPeersEntries {
		return nil, fmt.Errorf("%w: peer entry count %d", wireerr.ErrPayloadOutOfRange, count)
	}
	endpoints := make([]PeerEndpoint, 0, count)
	for i := int32(0); i < count; i++ {
		n, err := d.getByte()
		if err != nil {
			return nil, err
		}
		if n != 4 && n != 16 {
			return nil, fmt.Errorf("%w: address length %d", wireerr.ErrPayloadOutOfRange, n)
		}
		raw, err := d.getRaw(int(n))
		if err != nil {
			return nil, err
		}
		port, err := d.getUint16()
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, PeerEndpoint{Address: append(net.IP(nil), raw...), Port: port})
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewPeers(endpoints)
}

// ---- GetHeaders -----------------------------------------------------------

type GetHeadersMessage struct {
	LocatorHash chainhash.Hash
	StopHash    *chainhash.Hash
	MaxHeaders  int32
	payload     []byte
}

func NewGetHeaders(locator chainhash.Hash, stop *chainhash.Hash, maxHeaders int32) (*GetHeadersMessage, error) {
	if maxHeaders <= 0 {
		return nil, fmt.Errorf("%w: max_headers %d must be > 0", wireerr.ErrPayloadOutOfRange, maxHeaders)
	}
	m := &GetHeadersMessage{LocatorHash: locator, StopHash: stop, MaxHeaders: maxHeaders}
	e := newEncoder()
	e.putRaw(locator[:])
	if stop == nil {
		e.putByte(0)
	} else {
		e.putByte(32)
		e.putRaw(stop[:])
	}
	e.putInt32(maxHeaders)
	m.payload = e.bytes()
	return m, nil
}

func (m *GetHeadersMessage) Type() MessageType { return TypeGetHeaders }
func (m *GetHeadersMessage) Payload() []byte   { return m.payload }

func decodeGetHeaders(payload []byte) (*GetHeadersMessage, error) {
	d := newDecoder(payload)
	locRaw, err := d.getRaw(HashLen)
	if err != nil {
		return nil, err
	}
	var locator chainhash.Hash
	copy(locator[:], locRaw)
	n, err := d.getByte()
	if err != nil {
		return nil, err
	}
	var stop *chainhash.Hash
	switch n {
	case 0:
	case 32:
		raw, err := d.getRaw(32)
		if err != nil {
			return nil, err
		}
		var h chainhash.Hash
		copy(h[:], raw)
		stop = &h
	default:
		return nil, fmt.Errorf("%w: stop_hash length %d", wireerr.ErrPayloadOutOfRange, n)
	}
	maxHeaders, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewGetHeaders(locator, stop, maxHeaders)
}

// ---- Headers ----------------------------------------------------------

type HeadersMessage struct {
	Headers [][]byte
	payload []byte
}

func NewHeaders(headers [][]byte) (*HeadersMessage, error) {
	if len(headers) > MaxHeadersEntries {
		return nil, fmt.Errorf("%w: %d headers exceeds %d", wireerr.ErrPayloadOutOfRange, len(headers), MaxHeadersEntries)
	}
	for _, h := range headers {
		if len(h) == 0 || len(h) > MaxHeaderBlobLen {
			return nil, fmt.Errorf("%w: header blob %d bytes", wireerr.ErrPayloadOutOfRange, len(h))
		}
	}
	m := &HeadersMessage{Headers: headers}
	e := newEncoder()
	e.putInt32(int32(len(headers)))
	for _, h := range headers {
		e.putInt32(int32(len(h)))
		e.putRaw(h)
	}
	m.payload = e.bytes()
	return m, nil
}

func (m *HeadersMessage) Type() MessageType { return TypeHeaders }
func (m *HeadersMessage) Payload() []byte   { return m.payload }

func decodeHeaders(payload []byte) (*HeadersMessage, error) {
	d := newDecoder(payload)
	count, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if count < 0 || count > MaxHeadersEntries {
		return nil, fmt.Errorf("%w: header count %d", wireerr.ErrPayloadOutOfRange, count)
	}
	headers := make([][]byte, 0, count)
	for i := int32(0); i < count; i++ {
		n, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		if n <= 0 || int(n) > MaxHeaderBlobLen {
			return nil, fmt.Errorf("%w: header blob length %d", wireerr.ErrPayloadOutOfRange, n)
		}
		raw, err := d.getRaw(int(n))
		if err != nil {
			return nil, err
		}
		headers = append(headers, append([]byte(nil), raw...))
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewHeaders(headers)
}

// ---- GetBlock -----------------------------------------------------------

type GetBlockMessage struct {
	BlockHash chainhash.Hash
	payload   []byte
}

func NewGetBlock(hash chainhash.Hash) *GetBlockMessage {
	m := &GetBlockMessage{BlockHash: hash}
	e := newEncoder()
	e.putRaw(hash[:])
	m.payload = e.bytes()
	return m
}

func (m *GetBlockMessage) Type() MessageType { return TypeGetBlock }
func (m *GetBlockMessage) Payload() []byte   { return m.payload }

func decodeGetBlock(payload []byte) (*GetBlockMessage, error) {
	d := newDecoder(payload)
	raw, err := d.getRaw(HashLen)
	if err != nil {
		return nil, err
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	var h chainhash.Hash
	copy(h[:], raw)
	return NewGetBlock(h), nil
}

// ---- Block / NewBlock ---------------------------------------------------

type BlockMessage struct {
	announce bool
	Data     []byte
	payload  []byte
}

func NewBlockMsg(data []byte) (*BlockMessage, error)    { return newBlockMsg(false, data) }
func NewNewBlockMsg(data []byte) (*BlockMessage, error) { return newBlockMsg(true, data) }

func newBlockMsg(announce bool, data []byte) (*BlockMessage, error) {
	if len(data) == 0 || len(data) > MaxBlockBlobLen {
		return nil, fmt.Errorf("%w: block blob %d bytes", wireerr.ErrPayloadOutOfRange, len(data))
	}
	return &BlockMessage{announce: announce, Data: data, payload: data}, nil
}

func (m *BlockMessage) Type() MessageType {
	if m.announce {
		return TypeNewBlock
	}
	return TypeBlock
}
func (m *BlockMessage) Payload() []byte { return m.payload }

func decodeBlock(announce bool, payload []byte) (*BlockMessage, error) {
	return newBlockMsg(announce, payload)
}

// ---- Transaction ----------------------------------------------------------

type TransactionMessage struct {
	Data    []byte
	payload []byte
}

func NewTransaction(data []byte) (*TransactionMessage, error) {
	if len(data) == 0 || len(data) > MaxTxBlobLen {
		return nil, fmt.Errorf("%w: transaction blob %d bytes", wireerr.ErrPayloadOutOfRange, len(data))
	}
	return &TransactionMessage{Data: data, payload: data}, nil
}

func (m *TransactionMessage) Type() MessageType { return TypeTransaction }
func (m *TransactionMessage) Payload() []byte   { return m.payload }

func decodeTransaction(payload []byte) (*TransactionMessage, error) { return NewTransaction(payload) }

// ---- ProofSubmission ------------------------------------------------------

type ProofSubmissionMessage struct {
	BlockHeight int64
	MinerID     [MinerIDLen]byte
	ProofData   []byte
	payload     []byte
}

func NewProofSubmission(height int64, minerID [MinerIDLen]byte, proofData []byte) (*ProofSubmissionMessage, error) {
	if height < 0 {
		return nil, fmt.Errorf("%w: block_height %d must be >= 0", wireerr.ErrPayloadOutOfRange, height)
	}
	if len(proofData) == 0 || len(proofData) > MaxProofDataLen {
		return nil, fmt.Errorf("%w: proof_data %d bytes", wireerr.ErrPayloadOutOfRange, len(proofData))
	}
	m := &ProofSubmissionMessage{BlockHeight: height, MinerID: minerID, ProofData: proofData}
	e := newEncoder()
	e.putInt64(height)
	e.putRaw(minerID[:])
	e.putRaw(proofData)
	m.payload = e.bytes()
	return m, nil
}

func (m *ProofSubmissionMessage) Type() MessageType { return TypeProofSubmission }
func (m *ProofSubmissionMessage) Payload() []byte   { return m.payload }

func decodeProofSubmission(payload []byte) (*ProofSubmissionMessage, error) {
	d := newDecoder(payload)
	height, err := d.getInt64()
	if err != nil {
		return nil, err
	}
	idRaw, err := d.getRaw(MinerIDLen)
	if err != nil {
		return nil, err
	}
	proofData, err := d.getRaw(d.remaining())
	if err != nil {
		return nil, err
	}
	var id [MinerIDLen]byte
	copy(id[:], idRaw)
	return NewProofSubmission(height, id, append([]byte(nil), proofData...))
}

// ---- BlockAccepted --------------------------------------------------------

type BlockAcceptedMessage struct {
	BlockHash   chainhash.Hash
	BlockHeight int64
	payload     []byte
}

func NewBlockAccepted(hash chainhash.Hash, height int64) (*BlockAcceptedMessage, error) {
	if height < 0 {
		return nil, fmt.Errorf("%w: block_height %d must be >= 0", wireerr.ErrPayloadOutOfRange, height)
	}
	m := &BlockAcceptedMessage{BlockHash: hash, BlockHeight: height}
	e := newEncoder()
	e.putRaw(hash[:])
	e.putInt64(height)
	m.payload = e.bytes()
	return m, nil
}

func (m *BlockAcceptedMessage) Type() MessageType { return TypeBlockAccepted }
func (m *BlockAcceptedMessage) Payload() []byte   { return m.payload }

func decodeBlockAccepted(payload []byte) (*BlockAcceptedMessage, error) {
	if len(payload) != 40 {
		return nil, fmt.Errorf("%w: block_accepted payload must be 40 bytes, got %d", wireerr.ErrPayloadOutOfRange, len(payload))
	}
	d := newDecoder(payload)
	raw, _ := d.getRaw(HashLen)
	height, err := d.getInt64()
	if err != nil {
		return nil, err
	}
	var h chainhash.Hash
	copy(h[:], raw)
	return NewBlockAccepted(h, height)
}

// ---- TxPoolRequest ----------------------------------------------------

type TxPoolRequestMessage struct {
	MaxTransactions       int32
	IncludeTransactionData bool
	payload                []byte
}

func NewTxPoolRequest(maxTransactions int32, includeData bool) (*TxPoolRequestMessage, error) {
	if maxTransactions <= 0 {
		return nil, fmt.Errorf("%w: max_transactions %d must be > 0", wireerr.ErrPayloadOutOfRange, maxTransactions)
	}
	m := &TxPoolRequestMessage{MaxTransactions: maxTransactions, IncludeTransactionData: includeData}
	e := newEncoder()
	e.putInt32(maxTransactions)
	e.putBool(includeData)
	m.payload = e.bytes()
	return m, nil
}

func (m *TxPoolRequestMessage) Type() MessageType { return TypeTxPoolRequest }
func (m *TxPoolRequestMessage) Payload() []byte   { return m.payload }

func decodeTxPoolRequest(payload []byte) (*TxPoolRequestMessage, error) {
	d := newDecoder(payload)
	maxTx, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	include, err := d.getBool()
	if err != nil {
		return nil, err
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewTxPoolRequest(maxTx, include)
}

// ---- ErrorMessage -----------------------------------------------------

// ErrorMessage carries a human-readable reason for a protocol-level
// rejection; it has no further structural validation.
type ErrorMessage struct {
	Reason  string
	payload []byte
}

func NewError(reason string) *ErrorMessage {
	m := &ErrorMessage{Reason: reason}
	e := newEncoder()
	e.putString(reason)
	m.payload = e.bytes()
	return m
}

func (m *ErrorMessage) Type() MessageType { return TypeError }
func (m *ErrorMessage) Payload() []byte   { return m.payload }

func decodeErrorMessage(payload []byte) (*ErrorMessage, error) {
	d := newDecoder(payload)
	reason, err := d.getString()
	if err != nil {
		return nil, err
	}
	if err := d.trailingBytesErr(); err != nil {
		return nil, err
	}
	return NewError(reason), nil
}

// Deserialize dispatches a frame's type byte and payload to the matching
// variant decoder, the single factory mentioned in §9.
func Deserialize(t MessageType, payload []byte) (Message, error) {
	switch t {
	case TypeHandshake:
		return decodeHandshake(false, payload)
	case TypeHandshakeAck:
		return decodeHandshake(true, payload)
	case TypeHeartbeat:
		return decodeHeartbeat(payload)
	case TypePing:
		return decodePingPong(false, payload)
	case TypePong:
		return decodePingPong(true, payload)
	case TypeGetPeers:
		return decodeGetPeers(payload)
	case TypePeers:
		return decodePeers(payload)
	case TypeGetHeaders:
		return decodeGetHeaders(payload)
	case TypeHeaders:
		return decodeHeaders(payload)
	case TypeGetBlock:
		return decodeGetBlock(payload)
	case TypeBlock:
		return decodeBlock(false, payload)
	case TypeNewBlock:
		return decodeBlock(true, payload)
	case TypeTransaction:
		return decodeTransaction(payload)
	case TypeTxPoolRequest:
		return decodeTxPoolRequest(payload)
	case TypeProofSubmission:
		return decodeProofSubmission(payload)
	case TypeBlockAccepted:
		return decodeBlockAccepted(payload)
	case TypeError:
		return decodeErrorMessage(payload)
	default:
		return nil, fmt.Errorf("%w: 0x%02x", wireerr.ErrUnknownMessageType, byte(t))
	}
}
