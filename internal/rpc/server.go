// Package rpc exposes the ledger over an HTTP/JSON API.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/cadcoin/cadcoind/config"
	"github.com/cadcoin/cadcoind/internal/auth"
	"github.com/cadcoin/cadcoind/internal/cache"
	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/internal/mempool"
	"github.com/cadcoin/cadcoind/internal/miner"
	"github.com/cadcoin/cadcoind/internal/stablecoin"
	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/block"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// maxBodySize bounds request bodies; every payload here is small JSON.
const maxBodySize = 1 << 20

// Version is reported by the root and health endpoints.
const Version = "3.0"

// Server is the HTTP front end. All domain logic lives in the injected
// collaborators; handlers only translate requests and errors.
type Server struct {
	cfg      *config.Config
	queries  *ledger.Queries
	pool     *mempool.Pool
	registry *stablecoin.Registry
	miner    *miner.Miner
	auth     *auth.Manager
	store    *ledger.Store
	cache    *cache.Cache

	limits   routeLimits
	httpSrv  *http.Server
	listener net.Listener
}

// Deps bundles the server's collaborators.
type Deps struct {
	Queries  *ledger.Queries
	Pool     *mempool.Pool
	Registry *stablecoin.Registry
	Miner    *miner.Miner
	Auth     *auth.Manager
	Store    *ledger.Store
	Cache    *cache.Cache
}

// NewServer creates the HTTP server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		queries:  deps.Queries,
		pool:     deps.Pool,
		registry: deps.Registry,
		miner:    deps.Miner,
		auth:     deps.Auth,
		store:    deps.Store,
		cache:    deps.Cache,
		limits:   newRouteLimits(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /auth/register", s.limit(s.limits.register, s.handleRegister))
	mux.HandleFunc("POST /auth/login", s.limit(s.limits.login, s.handleLogin))
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /chain", s.handleChain)
	mux.HandleFunc("GET /balance/{address}", s.handleBalances)
	mux.HandleFunc("GET /balance/{address}/{coin}", s.handleBalance)
	mux.HandleFunc("POST /transaction", s.limit(s.limits.transaction, s.authed(s.handleTransaction)))
	mux.HandleFunc("POST /mine", s.limit(s.limits.mine, s.authed(s.handleMine)))
	mux.HandleFunc("GET /pending_transactions", s.handlePending)
	mux.HandleFunc("POST /stable_coin", s.limit(s.limits.coinCreate, s.authed(s.handleCreateStableCoin)))
	mux.HandleFunc("POST /mint", s.limit(s.limits.mint, s.authed(s.handleMint)))
	mux.HandleFunc("POST /authorize_minter", s.limit(s.limits.authorize, s.authed(s.handleAuthorizeMinter)))
	mux.HandleFunc("GET /stable_coins", s.handleStableCoins)
	mux.HandleFunc("GET /validate_chain", s.handleValidateChain)
	mux.HandleFunc("GET /mining_stats", s.handleMiningStats)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      cors.AllowAll().Handler(s.globalLimit(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.MiningTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpSrv.Addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.RPC.Error().Err(err).Msg("http server stopped")
		}
	}()

	log.RPC.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
	return nil
}

// Addr returns the bound address, useful when the port was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.httpSrv.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.RPC.Warn().Err(err).Msg("response encode failed")
	}
}

// writeError writes the shared error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps domain sentinels to HTTP statuses. Unknown errors are
// internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrTokenExpired),
		errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, miner.ErrLostRace),
		errors.Is(err, storage.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, block.ErrMiningTimeout):
		return http.StatusRequestTimeout
	case isBadRequest(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// isBadRequest reports whether the error is a client fault.
func isBadRequest(err error) bool {
	for _, sentinel := range []error{
		tx.ErrAmountNotPositive,
		tx.ErrNegativeFee,
		tx.ErrBadAddress,
		tx.ErrSelfTransfer,
		auth.ErrAddressTaken,
		mempool.ErrPoolFull,
		mempool.ErrInsufficientBalance,
		mempool.ErrUnknownCoin,
		mempool.ErrFeeTooLow,
		stablecoin.ErrCoinExists,
		stablecoin.ErrCoinNotFound,
		stablecoin.ErrNotAuthorized,
		stablecoin.ErrExceedsMaxSupply,
		stablecoin.ErrWeakAuthorizer,
		stablecoin.ErrPoolFull,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// decodeBody parses a bounded JSON request body.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
