// Package registry maintains the read-side marketplace view. It is a
// disposable cache: the ledger stays authoritative and a stale row can only
// produce a late, ledger-rejected transaction.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"flapgate/ledger"
)

// SkillToken is one cached row of the marketplace view.
type SkillToken struct {
	TokenID    uint64    `gorm:"primaryKey" json:"tokenId"`
	Owner      string    `gorm:"index" json:"owner"`
	SkillType  uint8     `json:"skillType"`
	SkillLevel uint8     `json:"skillLevel"`
	Listed     bool      `gorm:"index" json:"listed"`
	Seller     string    `json:"seller,omitempty"`
	Price      string    `json:"price"`
	UpdatedAt  time.Time `json:"-"`
}

// ChainReader is the slice of the ledger gateway the refresher needs.
type ChainReader interface {
	NextSkillTokenID(ctx context.Context) (*big.Int, error)
	SkillOwner(ctx context.Context, tokenID *big.Int) (common.Address, error)
	SkillData(ctx context.Context, tokenID *big.Int) (ledger.SkillData, error)
	Listing(ctx context.Context, tokenID *big.Int) (ledger.Listing, error)
}

// Registry persists the cached view and refreshes it from the chain.
type Registry struct {
	db       *gorm.DB
	chain    ChainReader
	logger   *slog.Logger
	interval time.Duration
}

// Open creates or opens the registry database at path.
func Open(path string, chain ChainReader, logger *slog.Logger, interval time.Duration) (*Registry, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open registry db: %w", err)
	}
	if err := db.AutoMigrate(&SkillToken{}); err != nil {
		return nil, fmt.Errorf("migrate registry schema: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Registry{db: db, chain: chain, logger: logger, interval: interval}, nil
}

// Start refreshes the view on a fixed cadence until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.RefreshOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn("registry refresh failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RefreshOnce scans every minted skill token and upserts its current state.
// Tokens that fail to read (burned, mid-fusion) are skipped; the next sweep
// picks them up or leaves them deleted.
func (r *Registry) RefreshOnce(ctx context.Context) error {
	next, err := r.chain.NextSkillTokenID(ctx)
	if err != nil {
		return fmt.Errorf("read next token id: %w", err)
	}
	total := next.Uint64()
	seen := make([]uint64, 0, total)
	for id := uint64(0); id < total; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := r.snapshotToken(ctx, id)
		if err != nil {
			continue
		}
		if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token_id"}},
			UpdateAll: true,
		}).Create(row).Error; err != nil {
			return fmt.Errorf("upsert token %d: %w", id, err)
		}
		seen = append(seen, id)
	}
	// Drop rows for tokens that no longer resolve (burned inputs).
	prune := r.db.WithContext(ctx).Where("token_id < ?", total)
	if len(seen) > 0 {
		prune = prune.Where("token_id NOT IN ?", seen)
	}
	if err := prune.Delete(&SkillToken{}).Error; err != nil {
		return fmt.Errorf("prune burned tokens: %w", err)
	}
	return nil
}

func (r *Registry) snapshotToken(ctx context.Context, id uint64) (*SkillToken, error) {
	tokenID := new(big.Int).SetUint64(id)
	owner, err := r.chain.SkillOwner(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if owner == (common.Address{}) {
		return nil, errors.New("token unowned")
	}
	data, err := r.chain.SkillData(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	listing, err := r.chain.Listing(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	row := &SkillToken{
		TokenID:    id,
		Owner:      owner.Hex(),
		SkillType:  data.SkillType,
		SkillLevel: data.Level,
		Listed:     listing.Listed(),
		Price:      "0",
	}
	if listing.Listed() {
		row.Seller = listing.Seller.Hex()
		row.Price = listing.Price.String()
	}
	return row, nil
}

// Listings returns the cached active listings.
func (r *Registry) Listings(ctx context.Context) ([]SkillToken, error) {
	var rows []SkillToken
	if err := r.db.WithContext(ctx).Where("listed = ?", true).Order("token_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	return rows, nil
}

// Token returns one cached token, reporting false when unknown.
func (r *Registry) Token(ctx context.Context, tokenID uint64) (SkillToken, bool, error) {
	var row SkillToken
	err := r.db.WithContext(ctx).First(&row, "token_id = ?", tokenID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SkillToken{}, false, nil
	}
	if err != nil {
		return SkillToken{}, false, fmt.Errorf("query token: %w", err)
	}
	return row, true, nil
}

// TokensOwnedBy returns the cached tokens held by owner.
func (r *Registry) TokensOwnedBy(ctx context.Context, owner common.Address) ([]SkillToken, error) {
	var rows []SkillToken
	if err := r.db.WithContext(ctx).Where("owner = ?", owner.Hex()).Order("token_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query owned tokens: %w", err)
	}
	return rows, nil
}
