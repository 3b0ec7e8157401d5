// Package addrbook implements the durable, diverse catalog of known peer
// addresses (§3 PeerAddress/AddressBook, §4.4). It is grounded on the
// teacher's dependency on goleveldb for its own chain database (probedb)
// generalized to a small peer-address KV store, plus golang/snappy for
// record compression the same way the teacher compresses state data.
package addrbook

import (
	"time"

	"github.com/postchain/node/peer"
)

// schemaVersion is embedded in every persisted record (§9 open note):
// loaders skip records from an unrecognized future version rather than
// aborting the whole load.
const schemaVersion = 1

// Address is an immutable-by-convention catalog entry; AddressBook always
// replaces the map entry wholesale rather than mutating one in place (§3,
// §9 "Shared mutable state").
type Address struct {
	SchemaVersion int
	Endpoint      peer.Endpoint
	FirstSeen     time.Time
	LastSeen      time.Time
	LastAttempt   time.Time
	SuccessCount  int32
	FailureCount  int32
	Source        string
}

// QualityScore is success_count / (success_count + failure_count),
// defaulting to 0.5 when untested (§3, GLOSSARY).
func (a Address) QualityScore() float64 {
	total := a.SuccessCount + a.FailureCount
	if total == 0 {
		return 0.5
	}
	return float64(a.SuccessCount) / float64(total)
}

func (a Address) key() string { return a.Endpoint.String() }

func newAddress(ep peer.Endpoint, source string) Address {
	now := time.Now()
	return Address{
		SchemaVersion: schemaVersion,
		Endpoint:      ep,
		FirstSeen:     now,
		LastSeen:      now,
		Source:        source,
	}
}
