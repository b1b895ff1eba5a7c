package economy

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"flapgate/ledger"
)

var (
	backendAddr = common.HexToAddress("0x00000000000000000000000000000000000000be")
	marketAddr  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// mockGateway is an in-memory Gateway recording every submission.
type mockGateway struct {
	mu sync.Mutex

	owners    map[uint64]common.Address
	skills    map[uint64]ledger.SkillData
	approvals map[uint64]common.Address
	listings  map[uint64]ledger.Listing
	items     map[string]*big.Int

	permitErr    error
	transferErr  error
	mintTokenErr error
	mintCharErr  error
	mintSkillErr error
	burnSkillErr error
	mintItemErr  error
	burnItemErr  error
	approveErr   error
	listErr      error
	buyErr       error
	cancelErr    error
	confirmErrs  map[ledger.TxRef]error

	calls []string
	seq   int
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		owners:      map[uint64]common.Address{},
		skills:      map[uint64]ledger.SkillData{},
		approvals:   map[uint64]common.Address{},
		listings:    map[uint64]ledger.Listing{},
		items:       map[string]*big.Int{},
		confirmErrs: map[ledger.TxRef]error{},
	}
}

func itemKey(owner common.Address, id *big.Int) string {
	return owner.Hex() + "/" + id.String()
}

func (g *mockGateway) record(call string, err error) (ledger.TxRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		return "", err
	}
	g.seq++
	g.calls = append(g.calls, call)
	return ledger.TxRef(fmt.Sprintf("0xtx%04d", g.seq)), nil
}

func (g *mockGateway) callCount(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (g *mockGateway) FlapBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (g *mockGateway) PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (g *mockGateway) SkillOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owners[tokenID.Uint64()], nil
}

func (g *mockGateway) SkillData(ctx context.Context, tokenID *big.Int) (ledger.SkillData, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.skills[tokenID.Uint64()], nil
}

func (g *mockGateway) SkillApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approvals[tokenID.Uint64()], nil
}

func (g *mockGateway) NextSkillTokenID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (g *mockGateway) Listing(ctx context.Context, tokenID *big.Int) (ledger.Listing, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l, ok := g.listings[tokenID.Uint64()]; ok {
		return l, nil
	}
	return ledger.Listing{Price: big.NewInt(0)}, nil
}

func (g *mockGateway) ItemBalance(ctx context.Context, owner common.Address, itemID *big.Int) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.items[itemKey(owner, itemID)]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (g *mockGateway) SubmitPermit(ctx context.Context, p ledger.PermitCall) (ledger.TxRef, error) {
	return g.record("permit", g.permitErr)
}

func (g *mockGateway) SubmitTransferFrom(ctx context.Context, from, to common.Address, value *big.Int) (ledger.TxRef, error) {
	return g.record("transferFrom", g.transferErr)
}

func (g *mockGateway) SubmitMintToken(ctx context.Context, to common.Address, amount *big.Int) (ledger.TxRef, error) {
	return g.record("mintToken", g.mintTokenErr)
}

func (g *mockGateway) SubmitMintCharacter(ctx context.Context, to common.Address, rarity uint8) (ledger.TxRef, error) {
	return g.record("mintCharacter", g.mintCharErr)
}

func (g *mockGateway) SubmitMintSkill(ctx context.Context, to common.Address, skillType, level uint8) (ledger.TxRef, error) {
	return g.record(fmt.Sprintf("mintSkill(%d,%d)", skillType, level), g.mintSkillErr)
}

func (g *mockGateway) SubmitBurnSkill(ctx context.Context, tokenID *big.Int) (ledger.TxRef, error) {
	return g.record("burnSkill", g.burnSkillErr)
}

func (g *mockGateway) SubmitMintItem(ctx context.Context, to common.Address, itemID, amount *big.Int) (ledger.TxRef, error) {
	return g.record("mintItem", g.mintItemErr)
}

func (g *mockGateway) SubmitBurnItem(ctx context.Context, owner common.Address, itemID, amount *big.Int) (ledger.TxRef, error) {
	return g.record(fmt.Sprintf("burnItem(%s,%s)", itemID, amount), g.burnItemErr)
}

func (g *mockGateway) SubmitApproveSkill(ctx context.Context, spender common.Address, tokenID *big.Int) (ledger.TxRef, error) {
	return g.record("approveSkill", g.approveErr)
}

func (g *mockGateway) SubmitList(ctx context.Context, tokenID, price *big.Int) (ledger.TxRef, error) {
	return g.record("list", g.listErr)
}

func (g *mockGateway) SubmitBuy(ctx context.Context, tokenID *big.Int) (ledger.TxRef, error) {
	return g.record("buy", g.buyErr)
}

func (g *mockGateway) SubmitCancel(ctx context.Context, tokenID *big.Int) (ledger.TxRef, error) {
	return g.record("cancel", g.cancelErr)
}

func (g *mockGateway) WaitConfirmed(ctx context.Context, ref ledger.TxRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.confirmErrs[ref]
}

func (g *mockGateway) BackendAddress() common.Address {
	return backendAddr
}

func (g *mockGateway) MarketplaceAddress() common.Address {
	return marketAddr
}

// memStore is an in-memory Store for engine tests.
type memStore struct {
	mu      sync.Mutex
	claimed map[string]bool
	listers map[uint64]string
	records []SagaRecord
}

func newMemStore() *memStore {
	return &memStore{claimed: map[string]bool{}, listers: map[uint64]string{}}
}

func (s *memStore) ReserveClaim(ctx context.Context, actor string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[actor] {
		return false, nil
	}
	s.claimed[actor] = true
	return true, nil
}

func (s *memStore) ReleaseClaim(ctx context.Context, actor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claimed, actor)
	return nil
}

func (s *memStore) RecordLister(ctx context.Context, tokenID uint64, seller string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listers[tokenID] = strings.ToLower(seller)
	return nil
}

func (s *memStore) Lister(ctx context.Context, tokenID uint64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seller, ok := s.listers[tokenID]
	return seller, ok, nil
}

func (s *memStore) ClearLister(ctx context.Context, tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listers, tokenID)
	return nil
}

func (s *memStore) RecordSaga(ctx context.Context, rec SagaRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// --- helpers ---

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, gw ledger.Gateway, store Store) *Engine {
	t.Helper()
	return NewEngine(gw, store, nil, nil,
		WithClock(func() time.Time { return testNow }),
		WithRoll(func(n int) int { return 0 }),
	)
}

func newActor(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	return key, ethcrypto.PubkeyToAddress(key.PublicKey)
}

func signText(t *testing.T, key *ecdsa.PrivateKey, message string) string {
	t.Helper()
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	require.NoError(t, err)
	sig[64] += 27
	return hexutil.Encode(sig)
}

// validPermit returns a structurally valid permit; the mock ledger does not
// check the signature cryptographically, matching the real division of labor
// where the token contract enforces it.
func validPermit() Permit {
	raw := make([]byte, 65)
	for i := range raw {
		raw[i] = byte(i + 1)
	}
	raw[64] = 27
	return Permit{Signature: hexutil.Encode(raw), Deadline: testNow.Add(time.Hour).Unix()}
}
