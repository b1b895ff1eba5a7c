package api

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"flapgate/economy"
)

type claimRequest struct {
	Actor     string `json:"actor"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.Claim(r.Context(), actor, req.Timestamp, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type rewardRequest struct {
	Actor     string `json:"actor"`
	Score     int64  `json:"score"`
	Timestamp int64  `json:"timestamp"`
	Signature string `json:"signature"`
}

func (s *Server) handleReward(w http.ResponseWriter, r *http.Request) {
	var req rewardRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.Reward(r.Context(), actor, req.Score, req.Timestamp, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type gachaRequest struct {
	Actor     string         `json:"actor"`
	Timestamp int64          `json:"timestamp"`
	Signature string         `json:"signature"`
	Permit    economy.Permit `json:"permit"`
}

func (s *Server) handleGachaRoll(w http.ResponseWriter, r *http.Request) {
	var req gachaRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.RollGacha(r.Context(), actor, req.Timestamp, req.Signature, req.Permit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

func (s *Server) handleSkillGachaRoll(w http.ResponseWriter, r *http.Request) {
	var req gachaRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.RollSkillGacha(r.Context(), actor, req.Timestamp, req.Signature, req.Permit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type fusionRequest struct {
	Actor     string `json:"actor"`
	TokenA    uint64 `json:"tokenA"`
	TokenB    uint64 `json:"tokenB"`
	Signature string `json:"signature"`
}

func (s *Server) handleLevelUp(w http.ResponseWriter, r *http.Request) {
	var req fusionRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.LevelUp(r.Context(), actor, req.TokenA, req.TokenB, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	var req fusionRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.Unlock(r.Context(), actor, req.TokenA, req.TokenB, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type listRequest struct {
	Actor     string `json:"actor"`
	TokenID   uint64 `json:"tokenId"`
	Price     string `json:"price"`
	Signature string `json:"signature"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req listRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	price, ok := parseAmount(req.Price)
	if !ok {
		s.badRequest(w, r, "price must be a decimal amount")
		return
	}
	result, err := s.economy.List(r.Context(), actor, req.TokenID, price, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type buyRequest struct {
	Actor         string         `json:"actor"`
	TokenID       uint64         `json:"tokenId"`
	ExpectedPrice string         `json:"expectedPrice"`
	Permit        economy.Permit `json:"permit"`
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if !s.decode(w, r, &req) {
		return
	}
	buyer, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	price, ok := parseAmount(req.ExpectedPrice)
	if !ok {
		s.badRequest(w, r, "expectedPrice must be a decimal amount")
		return
	}
	result, err := s.economy.Buy(r.Context(), buyer, req.TokenID, price, req.Permit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type cancelRequest struct {
	Actor     string `json:"actor"`
	TokenID   uint64 `json:"tokenId"`
	Signature string `json:"signature"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.Cancel(r.Context(), actor, req.TokenID, req.Signature)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type shopRequest struct {
	Actor    string         `json:"actor"`
	ItemID   int64          `json:"itemId"`
	Quantity int64          `json:"quantity"`
	Permit   economy.Permit `json:"permit"`
}

func (s *Server) handleShopBuy(w http.ResponseWriter, r *http.Request) {
	var req shopRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	result, err := s.economy.BuyItem(r.Context(), actor, req.ItemID, req.Quantity, req.Permit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, result)
}

type settleRequest struct {
	Actor string              `json:"actor"`
	Items []economy.ItemUsage `json:"items"`
}

func (s *Server) handleSettleItems(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor, ok := parseActor(req.Actor)
	if !ok {
		s.badRequest(w, r, "actor must be a hex address")
		return
	}
	results, err := s.economy.SettleItems(r.Context(), actor, req.Items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, results)
}

func (s *Server) handleListings(w http.ResponseWriter, r *http.Request) {
	rows, err := s.listings.Listings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeOK(w, r, rows)
}

func (s *Server) handleListing(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.badRequest(w, r, "listing id must be a token id")
		return
	}
	row, found, err := s.listings.Token(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !found || !row.Listed {
		s.writeError(w, r, economy.Errf(economy.CodeNotListed, "token %d is not listed", id))
		return
	}
	s.writeOK(w, r, row)
}

type walletOverview struct {
	Address     string           `json:"address"`
	FlapBalance string           `json:"flapBalance"`
	Items       map[int64]string `json:"items"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseActor(chi.URLParam(r, "address"))
	if !ok {
		s.badRequest(w, r, "address must be a hex address")
		return
	}
	balance, err := s.wallet.FlapBalance(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	overview := walletOverview{
		Address:     owner.Hex(),
		FlapBalance: balance.String(),
		Items:       make(map[int64]string, len(s.itemIDs)),
	}
	for _, id := range s.itemIDs {
		held, err := s.wallet.ItemBalance(r.Context(), owner, big.NewInt(id))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		overview.Items[id] = held.String()
	}
	s.writeOK(w, r, overview)
}

func (s *Server) handleShopBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseActor(r.URL.Query().Get("address"))
	if !ok {
		s.badRequest(w, r, "address must be a hex address")
		return
	}
	ids := s.itemIDs
	if raw := r.URL.Query().Get("itemId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			s.badRequest(w, r, "itemId must be a non-negative integer")
			return
		}
		ids = []int64{id}
	}
	balances := make(map[int64]string, len(ids))
	for _, id := range ids {
		held, err := s.wallet.ItemBalance(r.Context(), owner, big.NewInt(id))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		balances[id] = held.String()
	}
	s.writeOK(w, r, balances)
}
