// Package api implements the read-only status/introspection surface (§8
// supplemental monitoring contract): a REST+GraphQL view over the live
// PeerManager, AddressBook and BlockSynchronizer state, plus host resource
// stats. It is deliberately not a control plane — nothing here mutates the
// node, matching the teacher's separation between probeapi's read RPCs and
// the admin/personal namespaces it never exposes over HTTP by default.
//
// Grounded on the teacher's probe/api_backend.go + node.RegisterHandler
// idiom for surfacing subsystem state over HTTP, generalized from JSON-RPC
// to a plain REST+GraphQL pair the way hashkey-chain's graphql/service.go
// layers a GraphQL handler next to the JSON-RPC one.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/postchain/node/addrbook"
	"github.com/postchain/node/chainsync"
	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
)

// Config holds Server tunables.
type Config struct {
	ListenAddress  string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// DefaultConfig returns reasonable development-time defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddress:  "127.0.0.1:8585",
		AllowedOrigins: []string{"*"},
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Sync is the narrow view of chainsync.BlockSynchronizer the API needs; a
// node run without a synchronizer wired (e.g. a pure relay node) passes nil
// and /sync reports an idle/absent status instead of erroring.
type Sync interface {
	Progress() chainsync.Progress
}

// Server exposes PeerManager/AddressBook/Sync snapshots over HTTP. It owns
// no subsystem state itself; it is a thin read-only window onto the
// components the caller wires in at construction.
type Server struct {
	cfg    Config
	peers  *peer.Manager
	book   *addrbook.Book
	sync   Sync
	log    log.Logger
	schema *graphql.Schema

	httpSrv *http.Server
}

// New builds a Server. sync may be nil if the node runs without a
// synchronizer.
func New(cfg Config, peers *peer.Manager, book *addrbook.Book, sync Sync) (*Server, error) {
	s := &Server{
		cfg:   cfg,
		peers: peers,
		book:  book,
		sync:  sync,
		log:   log.New("subsystem", "api"),
	}

	schema, err := graphql.ParseSchema(graphqlSchema, &resolver{s: s})
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return s, nil
}

// Start begins serving HTTP in the background. It returns once the
// listener is bound; ListenAndServe errors surface asynchronously via the
// returned error channel-free style used by the teacher's node.Start:
// Stop is always safe to call even if Start failed to bind.
func (s *Server) Start() error {
	router := httprouter.New()
	router.GET("/peers", s.handlePeers)
	router.GET("/addresses", s.handleAddresses)
	router.GET("/sync", s.handleSync)
	router.GET("/host", s.handleHost)
	router.POST("/graphql", s.handleGraphQL)
	router.GET("/graphql", s.handleGraphQL)

	handler := cors.New(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(router)

	s.httpSrv = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	ln, err := newListener(s.cfg.ListenAddress)
	if err != nil {
		return err
	}
	s.log.Info("status API listening", "addr", ln.Addr().String())
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("status API server exited", "err", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// peerView is the wire shape for a single peer in the /peers response; it
// flattens peer.Info and drops nothing, but gives the API its own JSON tags
// independent of the internal struct's field names.
type peerView struct {
	ID              string    `json:"id"`
	Address         string    `json:"address"`
	ProtocolVersion int32     `json:"protocolVersion"`
	ReputationScore int32     `json:"reputationScore"`
	IsConnected     bool      `json:"isConnected"`
	FailureCount    int32     `json:"failureCount"`
	LastSeen        time.Time `json:"lastSeen"`
}

func toPeerView(i *peer.Info) peerView {
	return peerView{
		ID:              i.ID,
		Address:         i.Endpoint.String(),
		ProtocolVersion: i.ProtocolVersion,
		ReputationScore: i.ReputationScore,
		IsConnected:     i.IsConnected,
		FailureCount:    i.FailureCount,
		LastSeen:        i.LastSeen,
	}
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	all := s.peers.All()
	out := make([]peerView, 0, len(all))
	for _, i := range all {
		out = append(out, toPeerView(i))
	}
	writeJSON(w, http.StatusOK, out)
}

// addressView is the wire shape for a single address-book entry in the
// /addresses response.
type addressView struct {
	Address      string    `json:"address"`
	Source       string    `json:"source"`
	QualityScore float64   `json:"qualityScore"`
	SuccessCount int32     `json:"successCount"`
	FailureCount int32     `json:"failureCount"`
	FirstSeen    time.Time `json:"firstSeen"`
	LastSeen     time.Time `json:"lastSeen"`
}

func toAddressView(a addrbook.Address) addressView {
	return addressView{
		Address:      a.Endpoint.String(),
		Source:       a.Source,
		QualityScore: a.QualityScore(),
		SuccessCount: a.SuccessCount,
		FailureCount: a.FailureCount,
		FirstSeen:    a.FirstSeen,
		LastSeen:     a.LastSeen,
	}
}

func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	snap := s.book.Snapshot()
	out := make([]addressView, 0, len(snap))
	for _, a := range snap {
		out = append(out, toAddressView(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// syncView is the wire shape for /sync; Active is false when the node was
// wired without a BlockSynchronizer.
type syncView struct {
	Active                 bool    `json:"active"`
	State                  string  `json:"state"`
	CurrentHeight          int64   `json:"currentHeight"`
	TargetHeight           int64   `json:"targetHeight"`
	PercentComplete        float64 `json:"percentComplete"`
	EstimatedTimeRemaining float64 `json:"estimatedTimeRemaining"`
	FailReason             string  `json:"failReason,omitempty"`
	BlocksDownloaded       int64   `json:"blocksDownloaded"`
	BlocksValidated        int64   `json:"blocksValidated"`
	BytesDownloaded        int64   `json:"bytesDownloaded"`
}

func (s *Server) syncSnapshot() syncView {
	if s.sync == nil {
		return syncView{Active: false, State: "Absent"}
	}
	p := s.sync.Progress()
	return syncView{
		Active:                 true,
		State:                  p.State.String(),
		CurrentHeight:          p.CurrentHeight,
		TargetHeight:           p.TargetHeight,
		PercentComplete:        p.PercentComplete,
		EstimatedTimeRemaining: p.EstimatedTimeRemaining,
		FailReason:             p.FailReason,
		BlocksDownloaded:       p.BlocksDownloaded,
		BlocksValidated:        p.BlocksValidated,
		BytesDownloaded:        p.BytesDownloaded,
	}
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.syncSnapshot())
}

// hostView reports host resource stats for the /host endpoint, the way the
// teacher's metrics package exposes runtime.MemStats for the debug/metrics
// namespace. Nothing else in the node reads these figures.
type hostView struct {
	CPUPercent   float64 `json:"cpuPercent"`
	MemoryUsed   uint64  `json:"memoryUsedBytes"`
	MemoryTotal  uint64  `json:"memoryTotalBytes"`
	UptimeSecs   uint64  `json:"uptimeSeconds"`
	GoroutineCPU int     `json:"cpuCount"`
}

func (s *Server) handleHost(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	v := hostView{}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		v.CPUPercent = pct[0]
	} else if err != nil {
		s.log.Warn("host cpu stats unavailable", "err", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		v.MemoryUsed = vm.Used
		v.MemoryTotal = vm.Total
	} else {
		s.log.Warn("host memory stats unavailable", "err", err)
	}
	if info, err := host.Info(); err == nil {
		v.UptimeSecs = info.Uptime
	} else {
		s.log.Warn("host uptime unavailable", "err", err)
	}
	if counts, err := cpu.Counts(true); err == nil {
		v.GoroutineCPU = counts
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var params struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	response := s.schema.Exec(r.Context(), params.Query, params.OperationName, params.Variables)
	if len(response.Errors) > 0 {
		w.WriteHeader(http.StatusBadRequest)
	}
	writeJSON(w, http.StatusOK, response)
}
