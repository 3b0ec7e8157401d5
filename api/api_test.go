package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/chainsync"
	"github.com/postchain/node/peer"
)

type fakeSync struct{ p chainsync.Progress }

func (f fakeSync) Progress() chainsync.Progress { return f.p }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	peers := peer.NewManager(peer.DefaultConfig())
	peers.Add("peer-1", peer.Endpoint{IP: []byte{127, 0, 0, 1}, Port: 9000}, 1)
	peers.RecordSuccess("peer-1")

	book := addrbook.New(addrbook.DefaultConfig())
	require.NoError(t, book.Add(peer.Endpoint{IP: []byte{8, 8, 8, 8}, Port: 9000}, "dns-seed"))

	sync := fakeSync{p: chainsync.Progress{
		State:           chainsync.StateDownloadingBlocks,
		CurrentHeight:   5,
		TargetHeight:    10,
		PercentComplete: 50,
	}}

	s, err := New(DefaultConfig(), peers, book, sync)
	require.NoError(t, err)
	return s
}

func doGet(t *testing.T, handler httprouter.Handle, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler(rec, req, nil)
	return rec
}

func TestHandlePeers(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s.handlePeers, "/peers")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []peerView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "peer-1", out[0].ID)
	require.EqualValues(t, 1, out[0].ReputationScore)
}

func TestHandleAddresses(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s.handleAddresses, "/addresses")
	require.Equal(t, http.StatusOK, rec.Code)

	var out []addressView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	require.Equal(t, "dns-seed", out[0].Source)
	require.InDelta(t, 0.5, out[0].QualityScore, 0.0001)
}

func TestHandleSync(t *testing.T) {
	s := newTestServer(t)
	rec := doGet(t, s.handleSync, "/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var out syncView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Active)
	require.Equal(t, "DownloadingBlocks", out.State)
	require.EqualValues(t, 5, out.CurrentHeight)
	require.EqualValues(t, 10, out.TargetHeight)
}

func TestHandleSyncAbsent(t *testing.T) {
	peers := peer.NewManager(peer.DefaultConfig())
	book := addrbook.New(addrbook.DefaultConfig())
	s, err := New(DefaultConfig(), peers, book, nil)
	require.NoError(t, err)

	rec := doGet(t, s.handleSync, "/sync")
	require.Equal(t, http.StatusOK, rec.Code)

	var out syncView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.False(t, out.Active)
	require.Equal(t, "Absent", out.State)
}

func TestGraphQLPeersQuery(t *testing.T) {
	s := newTestServer(t)
	body := `{"query":"{ peers { id reputationScore } sync { state currentHeight } }"}`
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.handleGraphQL(rec, req, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Peers []struct {
				ID              string `json:"id"`
				ReputationScore int32  `json:"reputationScore"`
			} `json:"peers"`
			Sync struct {
				State         string `json:"state"`
				CurrentHeight int32  `json:"currentHeight"`
			} `json:"sync"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Peers, 1)
	require.Equal(t, "peer-1", resp.Data.Peers[0].ID)
	require.Equal(t, "DownloadingBlocks", resp.Data.Sync.State)
	require.EqualValues(t, 5, resp.Data.Sync.CurrentHeight)
}
