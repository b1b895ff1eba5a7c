package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"flapgate/config"
	"flapgate/crypto"
	"flapgate/observability"
)

// TxRef identifies a submitted transaction. Submission returning a reference
// says nothing about inclusion; callers wait via WaitConfirmed.
type TxRef string

// Hash converts the reference back to a transaction hash.
func (r TxRef) Hash() common.Hash {
	return common.HexToHash(string(r))
}

// SkillData is the on-chain metadata of one Skill NFT.
type SkillData struct {
	SkillType uint8
	Level     uint8
}

// Listing pairs a seller with an asking price. Price zero means not listed.
type Listing struct {
	Seller common.Address
	Price  *big.Int
}

// Listed reports whether the entry represents an active listing.
func (l Listing) Listed() bool {
	return l.Price != nil && l.Price.Sign() > 0
}

// PermitCall carries the decoded components of an ERC-2612 permit.
type PermitCall struct {
	Owner    common.Address
	Spender  common.Address
	Value    *big.Int
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// ErrReverted marks a transaction that was mined but failed.
var ErrReverted = errors.New("transaction reverted")

// ErrConfirmTimeout marks a confirmation wait that gave up.
var ErrConfirmTimeout = errors.New("confirmation timed out")

// Gateway is the typed read/write surface of the external ledger. Every
// write is serialized through the backend signer sequencer; reads go straight
// to the RPC endpoint.
type Gateway interface {
	FlapBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error)
	SkillOwner(ctx context.Context, tokenID *big.Int) (common.Address, error)
	SkillData(ctx context.Context, tokenID *big.Int) (SkillData, error)
	SkillApproved(ctx context.Context, tokenID *big.Int) (common.Address, error)
	NextSkillTokenID(ctx context.Context) (*big.Int, error)
	Listing(ctx context.Context, tokenID *big.Int) (Listing, error)
	ItemBalance(ctx context.Context, owner common.Address, itemID *big.Int) (*big.Int, error)

	SubmitPermit(ctx context.Context, p PermitCall) (TxRef, error)
	SubmitTransferFrom(ctx context.Context, from, to common.Address, value *big.Int) (TxRef, error)
	SubmitMintToken(ctx context.Context, to common.Address, amount *big.Int) (TxRef, error)
	SubmitMintCharacter(ctx context.Context, to common.Address, rarity uint8) (TxRef, error)
	SubmitMintSkill(ctx context.Context, to common.Address, skillType, level uint8) (TxRef, error)
	SubmitBurnSkill(ctx context.Context, tokenID *big.Int) (TxRef, error)
	SubmitMintItem(ctx context.Context, to common.Address, itemID, amount *big.Int) (TxRef, error)
	SubmitBurnItem(ctx context.Context, owner common.Address, itemID, amount *big.Int) (TxRef, error)
	SubmitApproveSkill(ctx context.Context, spender common.Address, tokenID *big.Int) (TxRef, error)
	SubmitList(ctx context.Context, tokenID, price *big.Int) (TxRef, error)
	SubmitBuy(ctx context.Context, tokenID *big.Int) (TxRef, error)
	SubmitCancel(ctx context.Context, tokenID *big.Int) (TxRef, error)

	WaitConfirmed(ctx context.Context, ref TxRef) error

	BackendAddress() common.Address
	MarketplaceAddress() common.Address
}

// rpcBackend is the slice of ethclient.Client the gateway uses; tests provide
// a fake.
type rpcBackend interface {
	txSubmitter
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client implements Gateway against an EVM JSON-RPC endpoint.
type Client struct {
	backend   rpcBackend
	sequencer *Sequencer
	signer    *crypto.Signer
	abis      *contractABIs
	logger    *slog.Logger
	metrics   *observability.SagaMetrics

	flapToken   common.Address
	flappymon   common.Address
	skillNFT    common.Address
	gameItem    common.Address
	marketplace common.Address

	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// Dial connects to the configured RPC endpoint and wires the sequencer.
func Dial(ctx context.Context, cfg *config.Config, signer *crypto.Signer, logger *slog.Logger, metrics *observability.SagaMetrics) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	return NewClient(eth, cfg, signer, logger, metrics)
}

// NewClient builds a gateway over an existing backend connection.
func NewClient(backend rpcBackend, cfg *config.Config, signer *crypto.Signer, logger *slog.Logger, metrics *observability.SagaMetrics) (*Client, error) {
	abis, err := parseContractABIs()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	chainID := big.NewInt(cfg.ChainID)
	return &Client{
		backend:        backend,
		sequencer:      NewSequencer(backend, signer, chainID, cfg.SequencerDepth, logger, metrics),
		signer:         signer,
		abis:           abis,
		logger:         logger,
		metrics:        metrics,
		flapToken:      common.HexToAddress(cfg.FlapTokenAddress),
		flappymon:      common.HexToAddress(cfg.FlappymonAddress),
		skillNFT:       common.HexToAddress(cfg.SkillNFTAddress),
		gameItem:       common.HexToAddress(cfg.GameItemAddress),
		marketplace:    common.HexToAddress(cfg.MarketplaceAddress),
		confirmTimeout: cfg.ConfirmTimeout.Duration,
		pollInterval:   2 * time.Second,
	}, nil
}

// Close drains the sequencer.
func (c *Client) Close() {
	c.sequencer.Close()
}

func (c *Client) BackendAddress() common.Address {
	return c.signer.Address()
}

func (c *Client) MarketplaceAddress() common.Address {
	return c.marketplace
}

// --- Reads ---

func (c *Client) read(ctx context.Context, to common.Address, a interface {
	Pack(name string, args ...interface{}) ([]byte, error)
	Unpack(name string, data []byte) ([]interface{}, error)
}, method string, args ...interface{}) ([]interface{}, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveLedgerCall(method, time.Since(start)) }()
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := a.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Client) FlapBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := c.read(ctx, c.flapToken, &c.abis.flap, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values, 0)
}

func (c *Client) PermitNonce(ctx context.Context, owner common.Address) (*big.Int, error) {
	values, err := c.read(ctx, c.flapToken, &c.abis.flap, "nonces", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(values, 0)
}

func (c *Client) SkillOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	values, err := c.read(ctx, c.skillNFT, &c.abis.skill, "ownerOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values, 0)
}

func (c *Client) SkillData(ctx context.Context, tokenID *big.Int) (SkillData, error) {
	values, err := c.read(ctx, c.skillNFT, &c.abis.skill, "getSkillData", tokenID)
	if err != nil {
		return SkillData{}, err
	}
	if len(values) < 2 {
		return SkillData{}, fmt.Errorf("getSkillData returned %d values", len(values))
	}
	skillType, okType := values[0].(uint8)
	level, okLevel := values[1].(uint8)
	if !okType || !okLevel {
		return SkillData{}, errors.New("getSkillData returned unexpected types")
	}
	return SkillData{SkillType: skillType, Level: level}, nil
}

func (c *Client) SkillApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	values, err := c.read(ctx, c.skillNFT, &c.abis.skill, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return asAddress(values, 0)
}

func (c *Client) NextSkillTokenID(ctx context.Context) (*big.Int, error) {
	values, err := c.read(ctx, c.skillNFT, &c.abis.skill, "nextTokenId")
	if err != nil {
		return nil, err
	}
	return asBigInt(values, 0)
}

func (c *Client) Listing(ctx context.Context, tokenID *big.Int) (Listing, error) {
	values, err := c.read(ctx, c.marketplace, &c.abis.marketplace, "getListing", tokenID)
	if err != nil {
		return Listing{}, err
	}
	seller, err := asAddress(values, 0)
	if err != nil {
		return Listing{}, err
	}
	price, err := asBigInt(values, 1)
	if err != nil {
		return Listing{}, err
	}
	return Listing{Seller: seller, Price: price}, nil
}

func (c *Client) ItemBalance(ctx context.Context, owner common.Address, itemID *big.Int) (*big.Int, error) {
	values, err := c.read(ctx, c.gameItem, &c.abis.item, "balanceOf", owner, itemID)
	if err != nil {
		return nil, err
	}
	return asBigInt(values, 0)
}

// --- Writes ---

func (c *Client) submit(ctx context.Context, to common.Address, a interface {
	Pack(name string, args ...interface{}) ([]byte, error)
}, method string, args ...interface{}) (TxRef, error) {
	start := time.Now()
	defer func() { c.metrics.ObserveLedgerCall(method, time.Since(start)) }()
	data, err := a.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", method, err)
	}
	hash, err := c.sequencer.Submit(ctx, to, data)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", method, err)
	}
	c.logger.Info("transaction submitted", "method", method, "tx", hash.Hex())
	return TxRef(hash.Hex()), nil
}

func (c *Client) SubmitPermit(ctx context.Context, p PermitCall) (TxRef, error) {
	return c.submit(ctx, c.flapToken, &c.abis.flap, "permit", p.Owner, p.Spender, p.Value, p.Deadline, p.V, p.R, p.S)
}

func (c *Client) SubmitTransferFrom(ctx context.Context, from, to common.Address, value *big.Int) (TxRef, error) {
	return c.submit(ctx, c.flapToken, &c.abis.flap, "transferFrom", from, to, value)
}

func (c *Client) SubmitMintToken(ctx context.Context, to common.Address, amount *big.Int) (TxRef, error) {
	return c.submit(ctx, c.flapToken, &c.abis.flap, "mint", to, amount)
}

func (c *Client) SubmitMintCharacter(ctx context.Context, to common.Address, rarity uint8) (TxRef, error) {
	return c.submit(ctx, c.flappymon, &c.abis.flappymon, "safeMint", to, rarity)
}

func (c *Client) SubmitMintSkill(ctx context.Context, to common.Address, skillType, level uint8) (TxRef, error) {
	return c.submit(ctx, c.skillNFT, &c.abis.skill, "mint", to, skillType, level)
}

func (c *Client) SubmitBurnSkill(ctx context.Context, tokenID *big.Int) (TxRef, error) {
	return c.submit(ctx, c.skillNFT, &c.abis.skill, "burn", tokenID)
}

func (c *Client) SubmitMintItem(ctx context.Context, to common.Address, itemID, amount *big.Int) (TxRef, error) {
	return c.submit(ctx, c.gameItem, &c.abis.item, "mint", to, itemID, amount)
}

func (c *Client) SubmitBurnItem(ctx context.Context, owner common.Address, itemID, amount *big.Int) (TxRef, error) {
	return c.submit(ctx, c.gameItem, &c.abis.item, "burn", owner, itemID, amount)
}

func (c *Client) SubmitApproveSkill(ctx context.Context, spender common.Address, tokenID *big.Int) (TxRef, error) {
	return c.submit(ctx, c.skillNFT, &c.abis.skill, "approve", spender, tokenID)
}

func (c *Client) SubmitList(ctx context.Context, tokenID, price *big.Int) (TxRef, error) {
	return c.submit(ctx, c.marketplace, &c.abis.marketplace, "listSkill", tokenID, price)
}

func (c *Client) SubmitBuy(ctx context.Context, tokenID *big.Int) (TxRef, error) {
	return c.submit(ctx, c.marketplace, &c.abis.marketplace, "buySkill", tokenID)
}

func (c *Client) SubmitCancel(ctx context.Context, tokenID *big.Int) (TxRef, error) {
	return c.submit(ctx, c.marketplace, &c.abis.marketplace, "cancelListing", tokenID)
}

// WaitConfirmed polls until the transaction is mined, failing on revert.
func (c *Client) WaitConfirmed(ctx context.Context, ref TxRef) error {
	start := time.Now()
	defer func() { c.metrics.ObserveLedgerCall("waitConfirmed", time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	hash := ref.Hash()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		receipt, err := c.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("%w: %s", ErrReverted, ref)
			}
			return nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Warn("receipt poll failed", "tx", string(ref), "error", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrConfirmTimeout, ref)
		case <-ticker.C:
		}
	}
}

func asBigInt(values []interface{}, idx int) (*big.Int, error) {
	if idx >= len(values) {
		return nil, fmt.Errorf("missing return value %d", idx)
	}
	v, ok := values[idx].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("return value %d is %T, want *big.Int", idx, values[idx])
	}
	return v, nil
}

func asAddress(values []interface{}, idx int) (common.Address, error) {
	if idx >= len(values) {
		return common.Address{}, fmt.Errorf("missing return value %d", idx)
	}
	v, ok := values[idx].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("return value %d is %T, want common.Address", idx, values[idx])
	}
	return v, nil
}
