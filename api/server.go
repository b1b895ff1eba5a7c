// Package api exposes the economy engine over a JSON HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flapgate/api/middleware"
	"flapgate/config"
	"flapgate/economy"
	"flapgate/registry"
)

// maxBodyBytes caps request bodies; the largest legitimate payload is a
// settlement batch, well under this.
const maxBodyBytes = 1 << 16

// Economy is the saga surface the handlers drive.
type Economy interface {
	Claim(ctx context.Context, actor common.Address, timestamp int64, signature string) (*economy.ClaimResult, error)
	Reward(ctx context.Context, actor common.Address, score, timestamp int64, signature string) (*economy.RewardResult, error)
	RollGacha(ctx context.Context, actor common.Address, timestamp int64, signature string, permit economy.Permit) (*economy.GachaResult, error)
	RollSkillGacha(ctx context.Context, actor common.Address, timestamp int64, signature string, permit economy.Permit) (*economy.SkillGachaResult, error)
	LevelUp(ctx context.Context, actor common.Address, tokenA, tokenB uint64, signature string) (*economy.LevelUpResult, error)
	Unlock(ctx context.Context, actor common.Address, tokenA, tokenB uint64, signature string) (*economy.UnlockResult, error)
	List(ctx context.Context, actor common.Address, tokenID uint64, price *big.Int, signature string) (*economy.ListResult, error)
	Buy(ctx context.Context, buyer common.Address, tokenID uint64, expectedPrice *big.Int, permit economy.Permit) (*economy.BuyResult, error)
	Cancel(ctx context.Context, actor common.Address, tokenID uint64, signature string) (*economy.CancelResult, error)
	BuyItem(ctx context.Context, actor common.Address, itemID, quantity int64, permit economy.Permit) (*economy.ShopResult, error)
	SettleItems(ctx context.Context, actor common.Address, usage []economy.ItemUsage) ([]economy.SettleItemResult, error)
}

// ListingView serves the cached marketplace read side.
type ListingView interface {
	Listings(ctx context.Context) ([]registry.SkillToken, error)
	Token(ctx context.Context, tokenID uint64) (registry.SkillToken, bool, error)
	TokensOwnedBy(ctx context.Context, owner common.Address) ([]registry.SkillToken, error)
}

// WalletReader covers the direct chain reads the wallet routes need.
type WalletReader interface {
	FlapBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	ItemBalance(ctx context.Context, owner common.Address, itemID *big.Int) (*big.Int, error)
}

// Config carries the server's dependencies.
type Config struct {
	Economy  Economy
	Listings ListingView
	Wallet   WalletReader
	ItemIDs  []int64
	Limits   map[string]config.RateLimit
	Logger   *slog.Logger
}

// Server is the HTTP front of the service.
type Server struct {
	economy  Economy
	listings ListingView
	wallet   WalletReader
	itemIDs  []int64
	logger   *slog.Logger

	router http.Handler
}

// New builds the routed server.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		economy:  cfg.Economy,
		listings: cfg.Listings,
		wallet:   cfg.Wallet,
		itemIDs:  cfg.ItemIDs,
		logger:   logger,
	}
	s.router = s.buildRouter(cfg.Limits)
	return s
}

// Handler exposes the configured router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(limits map[string]config.RateLimit) http.Handler {
	rl := middleware.NewRateLimiter(limits, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.With(rl.Limit("claim")).Post("/claim", s.handleClaim)
	r.With(rl.Limit("reward")).Post("/reward", s.handleReward)
	r.With(rl.Limit("gacha")).Post("/gacha/roll", s.handleGachaRoll)
	r.With(rl.Limit("gacha")).Post("/skill-gacha/roll", s.handleSkillGachaRoll)
	r.With(rl.Limit("fusion")).Post("/fusion/level-up", s.handleLevelUp)
	r.With(rl.Limit("fusion")).Post("/fusion/unlock", s.handleUnlock)
	r.With(rl.Limit("market")).Post("/marketplace/list", s.handleList)
	r.With(rl.Limit("market")).Post("/marketplace/buy", s.handleBuy)
	r.With(rl.Limit("market")).Post("/marketplace/cancel", s.handleCancel)
	r.With(rl.Limit("shop")).Post("/shop/buy", s.handleShopBuy)
	r.With(rl.Limit("items")).Post("/items/settle", s.handleSettleItems)

	r.Get("/marketplace/listings", s.handleListings)
	r.Get("/marketplace/listings/{id}", s.handleListing)
	r.Get("/wallet/{address}", s.handleWallet)
	r.Get("/shop/balance", s.handleShopBalance)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// decode parses the size-capped JSON body into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, economy.Errf(economy.CodeInvalidRequest, "malformed request body"))
		return false
	}
	return true
}

func parseActor(raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseAmount(raw string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}

// writeOK wraps a saga result in the success envelope.
func (s *Server) writeOK(w http.ResponseWriter, r *http.Request, result any) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"result":    result,
		"requestId": chimw.GetReqID(r.Context()),
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := economy.CodeOf(err)
	status := statusFor(code)
	if errors.Is(err, context.Canceled) {
		status = 499
	}
	s.writeJSON(w, status, map[string]any{
		"success":   false,
		"errorCode": code,
		"reason":    economy.ReasonOf(err),
		"requestId": chimw.GetReqID(r.Context()),
	})
}

func (s *Server) badRequest(w http.ResponseWriter, r *http.Request, reason string) {
	s.writeError(w, r, economy.Errf(economy.CodeInvalidRequest, "%s", reason))
}
