package api

import "time"

// graphqlSchema mirrors the REST views field-for-field, generalized from
// hashkey-chain's graphql/service.go single-root-Query style: one Query
// type composing the same three snapshots /peers, /addresses and /sync
// expose over REST.
const graphqlSchema = `
schema {
	query: Query
}

type Query {
	peers: [Peer!]!
	addresses: [Address!]!
	sync: Sync!
}

type Peer {
	id: String!
	address: String!
	protocolVersion: Int!
	reputationScore: Int!
	isConnected: Boolean!
	failureCount: Int!
	lastSeen: String!
}

type Address {
	address: String!
	source: String!
	qualityScore: Float!
	successCount: Int!
	failureCount: Int!
	firstSeen: String!
	lastSeen: String!
}

type Sync {
	active: Boolean!
	state: String!
	currentHeight: Int!
	targetHeight: Int!
	percentComplete: Float!
	estimatedTimeRemaining: Float!
	failReason: String!
	blocksDownloaded: Int!
	blocksValidated: Int!
	bytesDownloaded: Int!
}
`

// resolver is the GraphQL root, delegating every field to the same
// Server snapshot methods the REST handlers use so the two surfaces never
// drift apart.
type resolver struct {
	s *Server
}

func (r *resolver) Peers() []*peerResolver {
	all := r.s.peers.All()
	out := make([]*peerResolver, 0, len(all))
	for _, i := range all {
		v := toPeerView(i)
		out = append(out, &peerResolver{v: v})
	}
	return out
}

func (r *resolver) Addresses() []*addressResolver {
	snap := r.s.book.Snapshot()
	out := make([]*addressResolver, 0, len(snap))
	for _, a := range snap {
		out = append(out, &addressResolver{v: toAddressView(a)})
	}
	return out
}

func (r *resolver) Sync() *syncResolver {
	return &syncResolver{v: r.s.syncSnapshot()}
}

type peerResolver struct{ v peerView }

func (p *peerResolver) ID() string              { return p.v.ID }
func (p *peerResolver) Address() string         { return p.v.Address }
func (p *peerResolver) ProtocolVersion() int32   { return p.v.ProtocolVersion }
func (p *peerResolver) ReputationScore() int32    { return p.v.ReputationScore }
func (p *peerResolver) IsConnected() bool         { return p.v.IsConnected }
func (p *peerResolver) FailureCount() int32       { return p.v.FailureCount }
func (p *peerResolver) LastSeen() string          { return p.v.LastSeen.Format(time.RFC3339) }

type addressResolver struct{ v addressView }

func (a *addressResolver) Address() string      { return a.v.Address }
func (a *addressResolver) Source() string       { return a.v.Source }
func (a *addressResolver) QualityScore() float64 { return a.v.QualityScore }
func (a *addressResolver) SuccessCount() int32  { return a.v.SuccessCount }
func (a *addressResolver) FailureCount() int32  { return a.v.FailureCount }
func (a *addressResolver) FirstSeen() string    { return a.v.FirstSeen.Format(time.RFC3339) }
func (a *addressResolver) LastSeen() string     { return a.v.LastSeen.Format(time.RFC3339) }

type syncResolver struct{ v syncView }

func (s *syncResolver) Active() bool                     { return s.v.Active }
func (s *syncResolver) State() string                    { return s.v.State }
func (s *syncResolver) CurrentHeight() int32             { return int32(s.v.CurrentHeight) }
func (s *syncResolver) TargetHeight() int32              { return int32(s.v.TargetHeight) }
func (s *syncResolver) PercentComplete() float64         { return s.v.PercentComplete }
func (s *syncResolver) EstimatedTimeRemaining() float64  { return s.v.EstimatedTimeRemaining }
func (s *syncResolver) FailReason() string               { return s.v.FailReason }
func (s *syncResolver) BlocksDownloaded() int32          { return int32(s.v.BlocksDownloaded) }
func (s *syncResolver) BlocksValidated() int32           { return int32(s.v.BlocksValidated) }
func (s *syncResolver) BytesDownloaded() int32           { return int32(s.v.BytesDownloaded) }
