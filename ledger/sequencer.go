package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"flapgate/crypto"
	"flapgate/observability"
)

// ErrSequencerClosed is returned for submissions after Close.
var ErrSequencerClosed = errors.New("sequencer closed")

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = errors.New("sequencer queue full")

const submitRetries = 2

// txSubmitter is the slice of the ledger client the sequencer needs.
type txSubmitter interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

type call struct {
	to   common.Address
	data []byte
}

type submission struct {
	ctx    context.Context
	call   call
	result chan submitResult
}

type submitResult struct {
	hash common.Hash
	err  error
}

// Sequencer serializes every state-mutating submission issued with the
// backend signer. A single worker goroutine owns the account nonce: it
// assigns nonces from a local counter and resyncs from the ledger whenever a
// submission is rejected, so two concurrent sagas can never race the same
// nonce onto the wire.
type Sequencer struct {
	backend txSubmitter
	signer  *crypto.Signer
	chainID *big.Int
	logger  *slog.Logger
	metrics *observability.SagaMetrics

	jobs chan *submission

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	nonce       uint64
	nonceSynced bool
}

// NewSequencer starts the single submission worker. depth bounds the queue.
func NewSequencer(backend txSubmitter, signer *crypto.Signer, chainID *big.Int, depth int, logger *slog.Logger, metrics *observability.SagaMetrics) *Sequencer {
	if depth <= 0 {
		depth = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sequencer{
		backend: backend,
		signer:  signer,
		chainID: chainID,
		logger:  logger,
		metrics: metrics,
		jobs:    make(chan *submission, depth),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Submit enqueues one contract call and blocks until the ledger accepts or
// rejects the signed transaction. Confirmation is the caller's concern.
func (s *Sequencer) Submit(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	job := &submission{
		ctx:    ctx,
		call:   call{to: to, data: data},
		result: make(chan submitResult, 1),
	}
	start := time.Now()

	// The enqueue happens under the same lock Close takes before closing
	// the jobs channel, so a send can never race the close. The send is
	// non-blocking, so holding the lock across it cannot stall Close.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return common.Hash{}, ErrSequencerClosed
	}
	select {
	case s.jobs <- job:
	default:
		s.mu.Unlock()
		return common.Hash{}, ErrQueueFull
	}
	s.mu.Unlock()
	s.metrics.SetQueueDepth(len(s.jobs))

	select {
	case res := <-job.result:
		s.metrics.ObserveSubmit(time.Since(start))
		return res.hash, res.err
	case <-ctx.Done():
		// The worker still drains the job; the caller just stops waiting.
		return common.Hash{}, ctx.Err()
	}
}

// Depth reports the current backlog.
func (s *Sequencer) Depth() int {
	return len(s.jobs)
}

// Close stops accepting submissions and waits for the worker to drain.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.done
}

func (s *Sequencer) run() {
	defer close(s.done)
	for job := range s.jobs {
		s.metrics.SetQueueDepth(len(s.jobs))
		if err := job.ctx.Err(); err != nil {
			job.result <- submitResult{err: err}
			continue
		}
		hash, err := s.submitOnce(job.ctx, job.call)
		job.result <- submitResult{hash: hash, err: err}
	}
}

func (s *Sequencer) submitOnce(ctx context.Context, c call) (common.Hash, error) {
	var lastErr error
	for attempt := 0; attempt <= submitRetries; attempt++ {
		nonce, err := s.currentNonce(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("read account nonce: %w", err)
		}
		gasPrice, err := s.backend.SuggestGasPrice(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("suggest gas price: %w", err)
		}
		gas, err := s.backend.EstimateGas(ctx, ethereum.CallMsg{
			From: s.signer.Address(),
			To:   &c.to,
			Data: c.data,
		})
		if err != nil {
			// Estimation runs the call; a failure here is a revert caught
			// before anything hits the wire.
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}

		tx := types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			To:       &c.to,
			Gas:      gas,
			GasPrice: gasPrice,
			Data:     c.data,
		})
		signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.signer.Key())
		if err != nil {
			return common.Hash{}, fmt.Errorf("sign transaction: %w", err)
		}

		if err := s.backend.SendTransaction(ctx, signed); err != nil {
			lastErr = err
			if isNonceError(err) {
				s.invalidateNonce()
				s.logger.Warn("nonce out of sync, resyncing", "error", err)
				continue
			}
			if attempt < submitRetries && isTransient(err) {
				s.logger.Warn("transient submit failure, retrying", "attempt", attempt+1, "error", err)
				continue
			}
			return common.Hash{}, fmt.Errorf("send transaction: %w", err)
		}
		s.advanceNonce(nonce)
		return signed.Hash(), nil
	}
	return common.Hash{}, fmt.Errorf("send transaction: %w", lastErr)
}

func (s *Sequencer) currentNonce(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	synced := s.nonceSynced
	nonce := s.nonce
	s.mu.Unlock()
	if synced {
		return nonce, nil
	}
	fresh, err := s.backend.PendingNonceAt(ctx, s.signer.Address())
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	s.nonce = fresh
	s.nonceSynced = true
	s.mu.Unlock()
	return fresh, nil
}

func (s *Sequencer) advanceNonce(used uint64) {
	s.mu.Lock()
	if s.nonceSynced && s.nonce == used {
		s.nonce = used + 1
	}
	s.mu.Unlock()
}

func (s *Sequencer) invalidateNonce() {
	s.mu.Lock()
	s.nonceSynced = false
	s.mu.Unlock()
}

func isNonceError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") ||
		strings.Contains(msg, "nonce too high") ||
		strings.Contains(msg, "replacement transaction underpriced")
}

func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection") ||
		strings.Contains(msg, "temporarily")
}
