package chainsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"golang.org/x/sync/errgroup"

	"github.com/postchain/node/chainstore"
	"github.com/postchain/node/log"
	"github.com/postchain/node/peer"
	"github.com/postchain/node/transport"
	"github.com/postchain/node/wire"
	"github.com/postchain/node/wireerr"
)

// BlockSynchronizer drives a behind node's chain up to the network's best
// tip through the four-phase state machine described in §4.13. It owns no
// storage of its own beyond the in-flight headers/blocks being assembled;
// durable state lives behind the chainstore.Storage contract.
type BlockSynchronizer struct {
	cfg       Config
	tp        *transport.ConnectionManager
	peers     *peer.Manager
	store     chainstore.Storage
	codec     chainstore.Codec
	validator chainstore.Validator
	log       log.Logger

	mu       sync.RWMutex
	state    State
	progress Progress
	started  time.Time

	cancelFn context.CancelFunc
	doneCh   chan struct{}

	downloadedHeaders map[int64]chainstore.Header
	downloadedBlocks  map[int64]chainstore.Block

	dlRoundRobin int64
}

// New constructs an idle BlockSynchronizer.
func New(cfg Config, tp *transport.ConnectionManager, peers *peer.Manager, store chainstore.Storage, codec chainstore.Codec, validator chainstore.Validator) *BlockSynchronizer {
	return &BlockSynchronizer{
		cfg:       cfg,
		tp:        tp,
		peers:     peers,
		store:     store,
		codec:     codec,
		validator: validator,
		log:       log.New("subsystem", "chainsync"),
		state:     StateIdle,
	}
}

// Progress returns a snapshot of the synchronizer's current status,
// readable at any time (§4.13 "Progress").
func (s *BlockSynchronizer) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

func (s *BlockSynchronizer) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.progress.State = st
}

func (s *BlockSynchronizer) reportProgress(current, target int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.CurrentHeight = current
	s.progress.TargetHeight = target
	if target > 0 {
		pct := float64(current) / float64(target) * 100
		if pct > 100 {
			pct = 100
		}
		s.progress.PercentComplete = pct
	}
	elapsed := time.Since(s.started).Seconds()
	if elapsed > 0 && target > current {
		rate := float64(current) / elapsed
		if rate > 0 {
			s.progress.EstimatedTimeRemaining = float64(target-current) / rate
		}
	} else {
		s.progress.EstimatedTimeRemaining = 0
	}
}

// resetCounters zeroes the §3 "Synchronizer state" byte/block counters at
// the start of a fresh (non-resuming) run.
func (s *BlockSynchronizer) resetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.BlocksDownloaded = 0
	s.progress.BlocksValidated = 0
	s.progress.BytesDownloaded = 0
}

// recordDownload accounts one successfully fetched block (§4.13 Phase 3).
func (s *BlockSynchronizer) recordDownload(bytes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.BlocksDownloaded++
	s.progress.BytesDownloaded += int64(bytes)
}

// recordValidation accounts one block applied to the chain store (§4.13
// Phase 4).
func (s *BlockSynchronizer) recordValidation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress.BlocksValidated++
}

func (s *BlockSynchronizer) failWith(reason string, cause error) error {
	s.mu.Lock()
	s.state = StateFailed
	s.progress.State = StateFailed
	s.progress.FailReason = reason
	s.mu.Unlock()
	return wireerr.NewFailed(reason, cause)
}

// Start runs the full sync pipeline: Discover -> Headers -> Blocks ->
// Validating -> Synced. It requires the synchronizer to be Idle. A single
// cancellation signal is linked into every phase (§5).
func (s *BlockSynchronizer) Start(ctx context.Context) error {
	return s.run(ctx, false)
}

func (s *BlockSynchronizer) run(ctx context.Context, resuming bool) error {
	s.mu.Lock()
	if resuming {
		if s.state != StateCancelled && s.state != StateFailed {
			s.mu.Unlock()
			return fmt.Errorf("chainsync: resume requires a prior Cancelled or Failed run, got %s", s.state)
		}
	} else if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("chainsync: start requires Idle, got %s", s.state)
	}
	priorTarget := s.progress.TargetHeight
	priorHeaders := s.downloadedHeaders
	priorBlocks := s.downloadedBlocks
	s.started = time.Now()
	s.state = StateIdle
	if !resuming {
		s.downloadedHeaders = make(map[int64]chainstore.Header)
		s.downloadedBlocks = make(map[int64]chainstore.Block)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.doneCh = make(chan struct{})
	s.mu.Unlock()
	defer close(s.doneCh)

	appliedHeight, appliedHash, err := s.chainTip(runCtx)
	if err != nil {
		return s.failWith("reading chain tip", err)
	}

	// §9 "resume is equivalent to a fresh start" made concrete: if the
	// previous attempt's downloaded headers still cover every height up to
	// its target and the chain store's tip hasn't moved past what that
	// attempt assumed, skip straight to downloading blocks instead of
	// re-running Discover/Headers.
	if resuming && priorTarget > appliedHeight && headersCoverRange(priorHeaders, appliedHeight+1, priorTarget) {
		s.downloadedHeaders = priorHeaders
		if priorBlocks != nil {
			s.downloadedBlocks = priorBlocks
		} else {
			s.downloadedBlocks = make(map[int64]chainstore.Block)
		}
		return s.runFromBlocks(runCtx, appliedHeight, priorTarget)
	}

	s.downloadedHeaders = make(map[int64]chainstore.Header)
	s.downloadedBlocks = make(map[int64]chainstore.Block)
	s.resetCounters()

	s.setState(StateDiscovering)
	targetHeight, err := s.discoverPhase(runCtx, appliedHeight)
	if err != nil {
		return s.terminalErr(runCtx, err)
	}

	s.setState(StateDownloadingHeaders)
	headerHeight, _, err := s.headersPhase(runCtx, appliedHeight, appliedHash, targetHeight)
	if err != nil {
		return s.terminalErr(runCtx, err)
	}

	return s.runFromBlocks(runCtx, appliedHeight, headerHeight)
}

func headersCoverRange(headers map[int64]chainstore.Header, from, to int64) bool {
	if headers == nil {
		return false
	}
	for h := from; h <= to; h++ {
		if _, ok := headers[h]; !ok {
			return false
		}
	}
	return true
}

func (s *BlockSynchronizer) runFromBlocks(ctx context.Context, appliedHeight, targetHeight int64) error {
	s.setState(StateDownloadingBlocks)
	if err := s.blocksPhase(ctx, appliedHeight, targetHeight); err != nil {
		return s.terminalErr(ctx, err)
	}

	s.setState(StateValidating)
	if err := s.validatePhase(ctx, appliedHeight, targetHeight); err != nil {
		return s.terminalErr(ctx, err)
	}

	s.setState(StateSynced)
	return nil
}

func (s *BlockSynchronizer) terminalErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		s.setState(StateCancelled)
		return wireerr.ErrCancelled
	}
	if failed, ok := err.(*wireerr.Failed); ok {
		return failed
	}
	return s.failWith(err.Error(), err)
}

// Stop trips the cancellation signal and awaits the in-flight task (§4.13
// Cancellation).
func (s *BlockSynchronizer) Stop() {
	s.mu.RLock()
	cancel := s.cancelFn
	done := s.doneCh
	s.mu.RUnlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}

// Resume continues a Cancelled or Failed run. When the in-memory headers
// downloaded by that attempt still cover the chain store's current tip up
// to its target, Resume skips straight to downloading blocks; otherwise it
// behaves exactly like a fresh Start (§9 "resume is equivalent to a fresh
// start").
func (s *BlockSynchronizer) Resume(ctx context.Context) error {
	return s.run(ctx, true)
}

func (s *BlockSynchronizer) chainTip(ctx context.Context) (int64, chainhash.Hash, error) {
	height, err := s.store.Metadata().GetChainHeight(ctx)
	if err != nil {
		return 0, chainhash.Hash{}, err
	}
	var h int64
	if height != nil {
		h = *height
	}
	hash, err := s.store.Metadata().GetBestBlockHash(ctx)
	if err != nil {
		return 0, chainhash.Hash{}, err
	}
	var bh chainhash.Hash
	if hash != nil {
		bh = *hash
	}
	return h, bh, nil
}

// discoverPhase probes up to max_peers connected peers in parallel with
// GetHeaders, estimating height from the reply's header count (§4.13
// Phase 1).
func (s *BlockSynchronizer) discoverPhase(ctx context.Context, currentHeight int64) (int64, error) {
	conns := s.tp.GetActiveConnections()
	if len(conns) == 0 {
		return 0, wireerr.ErrNoPeersAvailable
	}
	if len(conns) > s.cfg.MaxPeers {
		conns = conns[:s.cfg.MaxPeers]
	}

	target := currentHeight
	var mu sync.Mutex
	g, gCtx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			if !conn.IsConnected() {
				return nil
			}
			reqCtx, cancel := context.WithTimeout(gCtx, s.cfg.DownloadTimeout)
			defer cancel()
			headers, err := s.requestHeaders(reqCtx, conn, chainhash.Hash{}, s.cfg.MaxHeadersPerRequest)
			if err != nil {
				return nil // individual peer failures are isolated
			}
			estimated := currentHeight + int64(len(headers.Headers))
			mu.Lock()
			if estimated > target {
				target = estimated
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return target, nil
}

func (s *BlockSynchronizer) requestHeaders(ctx context.Context, conn *transport.PeerConnection, locator chainhash.Hash, max int32) (*wire.HeadersMessage, error) {
	req, err := wire.NewGetHeaders(locator, nil, max)
	if err != nil {
		return nil, err
	}
	if err := conn.Send(req); err != nil {
		return nil, err
	}
	msg, err := receiveWithin(ctx, conn)
	if err != nil {
		return nil, err
	}
	headers, ok := msg.(*wire.HeadersMessage)
	if !ok {
		return nil, wireerr.ErrTimeout
	}
	return headers, nil
}

func receiveWithin(ctx context.Context, conn *transport.PeerConnection) (wire.Message, error) {
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
		if r.msg == nil && r.err == nil {
			return nil, wireerr.ErrStreamClosed
		}
		return r.msg, r.err
	}
}

// headersPhase walks the locator forward until current_height reaches
// target, round-robining over connected peers (§4.13 Phase 2).
func (s *BlockSynchronizer) headersPhase(ctx context.Context, currentHeight int64, currentHash chainhash.Hash, target int64) (int64, chainhash.Hash, error) {
	conns := s.tp.GetActiveConnections()
	if len(conns) == 0 {
		return currentHeight, currentHash, wireerr.ErrNoPeersAvailable
	}
	idx := 0
	for currentHeight < target {
		if ctx.Err() != nil {
			return currentHeight, currentHash, ctx.Err()
		}
		conn := conns[idx%len(conns)]
		idx++

		remaining := target - currentHeight
		batchSize := int32(remaining)
		if batchSize > s.cfg.MaxHeadersPerRequest {
			batchSize = s.cfg.MaxHeadersPerRequest
		}

		reqCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
		headers, err := s.requestHeaders(reqCtx, conn, currentHash, batchSize)
		cancel()
		if err != nil {
			continue // empty/failed reply advances to the next peer
		}
		if len(headers.Headers) == 0 {
			continue
		}
		for _, raw := range headers.Headers {
			hdr, err := s.codec.DecodeHeader(raw)
			if err != nil {
				continue
			}
			currentHeight = hdr.Height()
			hash, err := hdr.ComputeHash()
			if err != nil {
				continue
			}
			currentHash = hash
			s.mu.Lock()
			s.downloadedHeaders[currentHeight] = hdr
			s.mu.Unlock()
		}
		s.reportProgress(currentHeight, target)
	}
	return currentHeight, currentHash, nil
}

// blockDownloadRequest tracks one queued block fetch (§4.13 Phase 3).
type blockDownloadRequest struct {
	hash    chainhash.Hash
	height  int64
	retries int
}

// blocksPhase downloads every block in (current, target] using a bounded
// worker pool, retrying failed downloads up to max_retries with a 100ms
// backoff when no peer is available (§4.13 Phase 3).
func (s *BlockSynchronizer) blocksPhase(ctx context.Context, currentHeight, target int64) error {
	var pending []*blockDownloadRequest
	for h := currentHeight + 1; h <= target; h++ {
		s.mu.RLock()
		hdr, ok := s.downloadedHeaders[h]
		s.mu.RUnlock()
		if !ok {
			continue
		}
		hash, err := hdr.ComputeHash()
		if err != nil {
			continue
		}
		pending = append(pending, &blockDownloadRequest{hash: hash, height: h})
	}
	if len(pending) == 0 {
		return nil
	}

	jobs := make(chan *blockDownloadRequest, len(pending)*(s.cfg.MaxRetries+1))
	for _, req := range pending {
		jobs <- req
	}

	var remaining sync.WaitGroup
	remaining.Add(len(pending))

	var firstErr error
	var errMu sync.Mutex

	parallel := s.cfg.ParallelDownloads
	if parallel < 1 {
		parallel = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				if ctx.Err() != nil {
					remaining.Done()
					continue
				}
				settled, err := s.downloadOne(ctx, req, target)
				if !settled {
					jobs <- req
					continue
				}
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					errMu.Unlock()
				}
				remaining.Done()
			}
		}()
	}

	go func() {
		remaining.Wait()
		close(jobs)
	}()

	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return firstErr
}

// downloadOne attempts a single block fetch. settled is true once the
// request's fate (success, or retries exhausted) is decided; false means
// the caller should requeue it.
func (s *BlockSynchronizer) downloadOne(ctx context.Context, req *blockDownloadRequest, target int64) (settled bool, err error) {
	conns := s.tp.GetActiveConnections()
	if len(conns) == 0 {
		time.Sleep(100 * time.Millisecond)
		req.retries++
		if req.retries >= s.cfg.MaxRetries {
			return true, fmt.Errorf("no peers available for block at height %d", req.height)
		}
		return false, nil
	}
	idx := int(atomic.AddInt64(&s.dlRoundRobin, 1))
	conn := conns[idx%len(conns)]

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.DownloadTimeout)
	blockMsg, fetchErr := s.requestBlock(reqCtx, conn, req.hash)
	cancel()
	if fetchErr != nil {
		s.peers.RecordFailure(conn.ID())
		req.retries++
		if req.retries >= s.cfg.MaxRetries {
			return true, fmt.Errorf("block at height %d: %w", req.height, fetchErr)
		}
		return false, nil
	}

	block, decodeErr := s.codec.DecodeBlock(blockMsg.Data)
	if decodeErr != nil {
		s.peers.RecordFailure(conn.ID())
		req.retries++
		if req.retries >= s.cfg.MaxRetries {
			return true, fmt.Errorf("block at height %d: %w", req.height, decodeErr)
		}
		return false, nil
	}

	result, valErr := s.validator.ValidateBlock(ctx, block)
	if valErr != nil || !result.Valid {
		s.peers.RecordFailure(conn.ID())
		req.retries++
		if req.retries >= s.cfg.MaxRetries {
			return true, fmt.Errorf("block at height %d failed validation after %d retries", req.height, req.retries)
		}
		return false, nil
	}

	s.mu.Lock()
	s.downloadedBlocks[req.height] = block
	s.mu.Unlock()
	s.recordDownload(len(blockMsg.Data))
	s.peers.RecordSuccess(conn.ID())
	s.reportProgress(req.height, target)
	return true, nil
}

func (s *BlockSynchronizer) requestBlock(ctx context.Context, conn *transport.PeerConnection, hash chainhash.Hash) (*wire.BlockMessage, error) {
	req := wire.NewGetBlock(hash)
	if err := conn.Send(req); err != nil {
		return nil, err
	}
	msg, err := receiveWithin(ctx, conn)
	if err != nil {
		return nil, err
	}
	block, ok := msg.(*wire.BlockMessage)
	if !ok {
		return nil, wireerr.ErrTimeout
	}
	return block, nil
}

// validatePhase applies downloaded blocks to the chain store in strictly
// increasing height order (§4.13 Phase 4).
func (s *BlockSynchronizer) validatePhase(ctx context.Context, currentHeight, target int64) error {
	for h := currentHeight + 1; h <= target; h++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.mu.Lock()
		block, ok := s.downloadedBlocks[h]
		s.mu.Unlock()
		if !ok {
			return fmt.Errorf("missing block at height %d", h)
		}
		if err := s.store.Blocks().StoreBlock(ctx, block); err != nil {
			return fmt.Errorf("%w: %v", wireerr.ErrChainStoreError, err)
		}
		hash, err := block.ComputeHash()
		if err != nil {
			return fmt.Errorf("%w: %v", wireerr.ErrChainStoreError, err)
		}
		if err := s.store.Metadata().SetChainHeight(ctx, h); err != nil {
			return fmt.Errorf("%w: %v", wireerr.ErrChainStoreError, err)
		}
		if err := s.store.Metadata().SetBestBlockHash(ctx, hash); err != nil {
			return fmt.Errorf("%w: %v", wireerr.ErrChainStoreError, err)
		}
		s.mu.Lock()
		delete(s.downloadedBlocks, h)
		s.mu.Unlock()
		s.recordValidation()
		s.reportProgress(h, target)
	}
	return nil
}
