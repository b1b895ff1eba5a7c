package economy

import (
	"context"
	crand "crypto/rand"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"flapgate/ledger"
	"flapgate/observability"
)

// Fixed prices in FLAP base units (18 decimals). Security-critical amounts
// are always derived here, never read from a request body.
var (
	ClaimReward    = flap(500)
	GachaCost      = flap(50)
	SkillGachaCost = flap(80)
	ItemUnitCost   = flap(80)

	// RewardPerPoint is 0.5 FLAP per score point.
	RewardPerPoint = new(big.Int).Div(flap(1), big.NewInt(2))
)

// maxRewardScore bounds how much a single session report can mint.
const maxRewardScore = 100_000

func flap(units int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(units), scale)
}

// SagaRecord is one audit row describing a finished saga.
type SagaRecord struct {
	ID      string
	Actor   string
	Saga    string
	Outcome string
	TxRef   string
	At      time.Time
}

// Store is the durable state the engine needs: the one-time claim ledger and
// the saga audit log.
type Store interface {
	// ReserveClaim atomically marks actor as claimed, reporting false when
	// the actor already holds a claim.
	ReserveClaim(ctx context.Context, actor string) (bool, error)
	// ReleaseClaim undoes a reservation whose mint never landed.
	ReleaseClaim(ctx context.Context, actor string) error
	RecordSaga(ctx context.Context, rec SagaRecord) error

	// The lister record identifies the player behind each custodial
	// marketplace listing; on chain the seller is always the backend signer.
	RecordLister(ctx context.Context, tokenID uint64, seller string) error
	Lister(ctx context.Context, tokenID uint64) (string, bool, error)
	ClearLister(ctx context.Context, tokenID uint64) error
}

// Engine hosts every economy saga over one ledger gateway and one durable
// store.
type Engine struct {
	gw      ledger.Gateway
	store   Store
	logger  *slog.Logger
	metrics *observability.SagaMetrics

	now       func() time.Time
	freshness time.Duration

	rollMu sync.Mutex
	roll   func(n int) int

	pools map[Rarity][]uint8
}

// Option tweaks engine construction.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRoll overrides the uniform randomness source. Production draws come
// from a ChaCha8 generator seeded from crypto/rand so outcomes cannot be
// predicted or replayed from player input.
func WithRoll(roll func(n int) int) Option {
	return func(e *Engine) { e.roll = roll }
}

// WithFreshness overrides the signed-timestamp tolerance window.
func WithFreshness(window time.Duration) Option {
	return func(e *Engine) { e.freshness = window }
}

// WithSkillPools overrides the tier pool table.
func WithSkillPools(pools map[Rarity][]uint8) Option {
	return func(e *Engine) { e.pools = pools }
}

// NewEngine wires the saga engine.
func NewEngine(gw ledger.Gateway, store Store, logger *slog.Logger, metrics *observability.SagaMetrics, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		gw:        gw,
		store:     store,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
		freshness: 5 * time.Minute,
		roll:      seededRoll(),
		pools:     skillPools,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func seededRoll() func(n int) int {
	var seed [32]byte
	if _, err := crand.Read(seed[:]); err != nil {
		panic("economy: cannot seed randomness: " + err.Error())
	}
	rng := rand.New(rand.NewChaCha8(seed))
	return rng.IntN
}

func (e *Engine) rollN(n int) int {
	e.rollMu.Lock()
	defer e.rollMu.Unlock()
	return e.roll(n)
}

// finish records the saga outcome in metrics, the audit log, and the service
// log, then returns err unchanged.
func (e *Engine) finish(ctx context.Context, saga string, actor common.Address, started time.Time, ref ledger.TxRef, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = string(CodeOf(err))
	}
	took := e.now().Sub(started)
	e.metrics.ObserveSaga(saga, outcome, took)
	if err != nil && CodeOf(err) == CodePaymentCollectedRewardFailed {
		e.metrics.ObservePaymentOrphan()
	}

	rec := SagaRecord{
		ID:      uuid.NewString(),
		Actor:   actor.Hex(),
		Saga:    saga,
		Outcome: outcome,
		TxRef:   string(ref),
		At:      e.now().UTC(),
	}
	if e.store != nil {
		if auditErr := e.store.RecordSaga(ctx, rec); auditErr != nil {
			e.logger.Warn("audit write failed", "saga", saga, "error", auditErr)
		}
	}

	if err != nil {
		level := e.logger.Warn
		if CodeOf(err) == CodePaymentCollectedRewardFailed {
			level = e.logger.Error
		}
		level("saga failed", "saga", saga, "actor", rec.Actor, "outcome", outcome, "error", err)
	} else {
		e.logger.Info("saga completed", "saga", saga, "actor", rec.Actor, "tx", string(ref))
	}
	return err
}
