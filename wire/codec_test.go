package wire

import (
	"bytes"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	fuzz "github.com/google/gofuzz"
	"gotest.tools/v3/assert"
)

// roundTrip encodes m, decodes the frame back, and returns the result.
func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	var buf bytes.Buffer
	assert.NilError(t, Encode(&buf, m))
	got, err := Decode(&buf)
	assert.NilError(t, err)
	return got
}

// TestCodecRoundTripFuzz feeds gofuzz-generated nonce/timestamp values
// through NewPing, encodes and decodes the result, and
// diffs the outcome against the original with go-cmp, the way the teacher's
// own rlp/trie fuzz tests generate random field values rather than hand
// enumerating cases. A mismatch dumps both sides with go-spew, since %+v
// elides the unexported payload/cache fields that usually explain the diff.
func TestCodecRoundTripFuzz(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 8)

	for i := 0; i < 50; i++ {
		var nonce, ts int64
		f.Fuzz(&nonce)
		f.Fuzz(&ts)

		want := NewPing(nonce, ts)
		got := roundTrip(t, want)
		gotPing, ok := got.(*PingPongMessage)
		assert.Assert(t, ok)

		if diff := cmp.Diff(want, gotPing, cmpopts.IgnoreUnexported(PingPongMessage{})); diff != "" {
			t.Fatalf("ping round trip mismatch (-want +got):\n%s\nwant=%s\ngot=%s", diff, spew.Sdump(want), spew.Sdump(gotPing))
		}
		assert.Equal(t, want.Type(), gotPing.Type())
	}
}

// TestCodecRoundTripHandshakeFuzz exercises the validated Handshake
// constructor, whose node_id/user_agent fields gofuzz would otherwise
// generate as empty or malformed strings the constructor rejects — so the
// fuzzer only drives the numeric fields and a fixed pool of valid agents.
func TestCodecRoundTripHandshakeFuzz(t *testing.T) {
	f := fuzz.New()
	agents := []string{"postchain/1.4.0", "postchain/0.9.12", "postchain/2.0.1"}

	for i := 0; i < 50; i++ {
		var version int32
		var ts int64
		f.Fuzz(&version)
		f.Fuzz(&ts)
		agent := agents[i%len(agents)]

		want, err := NewHandshake(version, "node-under-test", agent, ts)
		assert.NilError(t, err)
		got := roundTrip(t, want)
		gotHs, ok := got.(*HandshakeMessage)
		assert.Assert(t, ok)

		if diff := cmp.Diff(want, gotHs, cmpopts.IgnoreUnexported(HandshakeMessage{})); diff != "" {
			t.Fatalf("handshake round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestCodecRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	assert.NilError(t, Encode(&buf, NewHeartbeat()))
	raw := buf.Bytes()
	raw[4] = 0x77 // overwrite the type byte with an unregistered tag

	_, err := Decode(bytes.NewReader(raw))
	assert.ErrorContains(t, err, "unknown message type")
}

func TestNewTransactionRejectsOversizeBlob(t *testing.T) {
	big := make([]byte, MaxTxBlobLen)
	tx, err := NewTransaction(big)
	assert.NilError(t, err)
	assert.NilError(t, Encode(&bytes.Buffer{}, tx)) // under the cap, must still succeed

	tooBig := make([]byte, MaxTxBlobLen+1)
	_, err = NewTransaction(tooBig)
	assert.ErrorContains(t, err, "payload field out of range")
}
