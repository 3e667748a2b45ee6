package rpc

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "CAD-COIN Blockchain Server",
		"version": Version,
		"status":  "active",
		"features": []string{
			"Adaptive difficulty adjustment",
			"Progressive reward halving",
			"Enhanced validation system",
			"Chain integrity verification",
			"Transaction fee system",
			"Priority-based mining",
			"Timeout protection",
			"Advanced caching",
		},
		"endpoints": map[string]map[string]string{
			"auth": {
				"/auth/register": "POST",
				"/auth/login":    "POST",
			},
			"blockchain": {
				"/chain":                    "GET (paginated)",
				"/info":                     "GET",
				"/balance/{address}":        "GET",
				"/balance/{address}/{coin}": "GET",
				"/mine":                     "POST (auth)",
				"/transaction":              "POST (auth)",
			},
			"stablecoins": {
				"/stable_coin":      "POST (auth)",
				"/mint":             "POST (auth)",
				"/authorize_minter": "POST (auth)",
				"/stable_coins":     "GET",
			},
			"ops": {
				"/pending_transactions": "GET",
				"/health":               "GET",
				"/validate_chain":       "GET",
				"/mining_stats":         "GET",
			},
		},
	})
}

type credentialsRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "address and password required")
		return
	}
	if err := s.auth.Register(req.Address, req.Password); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":            "User created",
		"initial_reputation": 100,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Address == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "address and password required")
		return
	}
	session, err := s.auth.Login(req.Address, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.queries.ChainInfo()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit/offset must be integers")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit/offset must be integers")
		return
	}
	limit = clamp(limit, 1, 200)
	if offset < 0 {
		offset = 0
	}

	blocks, err := s.queries.Blocks(limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"blocks": blocks,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	view, err := s.queries.BalancesOf(r.PathValue("address"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	coin := strings.ToUpper(r.PathValue("coin"))
	balance, err := s.queries.BalanceOf(address, coin)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"address":           address,
		"coin_type":         coin,
		"balance":           balance,
		"balance_formatted": fmt.Sprintf("%.8f", balance),
	})
}

type transactionRequest struct {
	Receiver string   `json:"receiver"`
	Amount   *float64 `json:"amount"`
	CoinType string   `json:"coin_type"`
	Fee      *float64 `json:"fee"`
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, user string) {
	var req transactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Receiver == "" || req.Amount == nil {
		writeError(w, http.StatusBadRequest, "missing fields: receiver, amount")
		return
	}
	coin := ledger.NativeCoin
	if req.CoinType != "" {
		coin = strings.ToUpper(req.CoinType)
	}
	fee := -1.0
	if req.Fee != nil {
		fee = *req.Fee
	}

	txn, err := s.pool.SubmitTransfer(user, req.Receiver, *req.Amount, coin, fee)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Transaction added to pending pool",
		"tx_id":   txn.ID,
		"fee":     txn.Fee,
	})
}

func (s *Server) handleMine(w http.ResponseWriter, r *http.Request, user string) {
	res, err := s.miner.Mine(r.Context(), user)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      res.Message,
		"miner":        user,
		"block_index":  res.BlockIndex,
		"block_hash":   res.BlockHash,
		"reward":       res.Reward,
		"difficulty":   res.Difficulty,
		"mining_time":  res.MiningTime,
		"transactions": res.TxCount,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	pending, err := s.pool.Select(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pending == nil {
		pending = []ledger.PendingTx{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":     pending,
		"count":       len(pending),
		"max_pending": s.cfg.MaxPendingTransactions,
	})
}

type stableCoinRequest struct {
	Name            string   `json:"name"`
	Symbol          string   `json:"symbol"`
	CollateralRatio *float64 `json:"collateral_ratio"`
	BackedBy        string   `json:"backed_by"`
	MaxSupply       *float64 `json:"max_supply"`
}

func (s *Server) handleCreateStableCoin(w http.ResponseWriter, r *http.Request, user string) {
	var req stableCoinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || req.Symbol == "" || req.BackedBy == "" {
		writeError(w, http.StatusBadRequest, "missing: name, symbol, backed_by")
		return
	}
	ratio := 1.0
	if req.CollateralRatio != nil {
		ratio = *req.CollateralRatio
	}
	if err := s.registry.Create(req.Name, req.Symbol, ratio, req.BackedBy, req.MaxSupply); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("StableCoin %s (%s) created", req.Name, strings.ToUpper(req.Symbol)),
	})
}

type mintRequest struct {
	CoinSymbol string   `json:"coin_symbol"`
	Recipient  string   `json:"recipient"`
	Amount     *float64 `json:"amount"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request, user string) {
	var req mintRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CoinSymbol == "" || req.Recipient == "" || req.Amount == nil {
		writeError(w, http.StatusBadRequest, "missing: coin_symbol, recipient, amount")
		return
	}
	txn, err := s.registry.Mint(req.CoinSymbol, user, req.Recipient, *req.Amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Mint queued: %.8f %s to %s (fee: %.8f)",
			txn.Amount, txn.CoinType, txn.Receiver, txn.Fee),
		"tx_id": txn.ID,
	})
}

type authorizeMinterRequest struct {
	CoinSymbol    string `json:"coin_symbol"`
	MinterAddress string `json:"minter_address"`
}

func (s *Server) handleAuthorizeMinter(w http.ResponseWriter, r *http.Request, user string) {
	var req authorizeMinterRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.CoinSymbol == "" || req.MinterAddress == "" {
		writeError(w, http.StatusBadRequest, "missing: coin_symbol, minter_address")
		return
	}
	if err := s.registry.AuthorizeMinter(req.CoinSymbol, req.MinterAddress, user); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Minter %s authorized for %s", req.MinterAddress, strings.ToUpper(req.CoinSymbol)),
	})
}

func (s *Server) handleStableCoins(w http.ResponseWriter, r *http.Request) {
	coins, err := s.queries.StableCoins()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stable_coins": coins,
		"count":        len(coins),
	})
}

func (s *Server) handleValidateChain(w http.ResponseWriter, r *http.Request) {
	depth, err := queryInt(r, "depth", s.cfg.BlockValidationDepth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "depth must be an integer")
		return
	}
	valid, message := s.store.ValidateChain(depth)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":            valid,
		"message":          message,
		"validation_depth": depth,
		"timestamp":        tx.Now(),
	})
}

func (s *Server) handleMiningStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.queries.MiningStats()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	err := s.store.View(func(t *ledger.Tx) error {
		_, err := t.Tip()
		return err
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	s.cache.Set("health_test", "ok", 10*time.Second)
	var probe string
	cacheStatus := "error"
	if s.cache.Get("health_test", &probe) && probe == "ok" {
		cacheStatus = "ok"
	}

	valid, message := s.store.ValidateChain(s.cfg.BlockValidationDepth)
	integrity := "valid"
	if !valid {
		integrity = "invalid"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"database":           "ok",
		"cache":              cacheStatus,
		"chain_integrity":    integrity,
		"validation_message": message,
		"version":            Version,
		"timestamp":          tx.Now(),
	})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
