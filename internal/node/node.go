// Package node wires the daemon's components together and owns their
// lifecycle.
package node

import (
	"context"
	"fmt"

	"github.com/cadcoin/cadcoind/config"
	"github.com/cadcoin/cadcoind/internal/auth"
	"github.com/cadcoin/cadcoind/internal/cache"
	"github.com/cadcoin/cadcoind/internal/consensus"
	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/internal/mempool"
	"github.com/cadcoin/cadcoind/internal/miner"
	"github.com/cadcoin/cadcoind/internal/rpc"
	"github.com/cadcoin/cadcoind/internal/stablecoin"
	"github.com/cadcoin/cadcoind/internal/storage"
)

// Node is the assembled daemon.
type Node struct {
	cfg    *config.Config
	db     storage.DB
	hot    *cache.Cache
	server *rpc.Server
}

// New opens the database, seeds the genesis state and builds every
// component. Nothing is listening until Start.
func New(cfg *config.Config) (*Node, error) {
	db, err := storage.NewBadger(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	store := ledger.NewStore(db)
	created, err := ledger.EnsureGenesis(store, cfg.BaseDifficulty, cfg.BaseMiningReward)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize chain: %w", err)
	}
	if created {
		log.Node.Info().Str("hash", ledger.GenesisHash()).Msg("genesis block created")
	}

	hot, err := cache.New()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	engine := consensus.NewEngine(consensus.Params{
		BaseMiningReward:   cfg.BaseMiningReward,
		BaseDifficulty:     cfg.BaseDifficulty,
		MaxDifficulty:      cfg.MaxDifficulty,
		AdjustmentInterval: cfg.DifficultyAdjustmentInterval,
		HalvingInterval:    cfg.HalvingInterval,
		TargetBlockTime:    cfg.TargetBlockTime,
	})
	pool := mempool.New(store, mempool.Config{
		MaxPending: cfg.MaxPendingTransactions,
		MinFee:     cfg.MinTransactionFee,
	})
	registry := stablecoin.New(store, stablecoin.Config{
		MinFee:     cfg.MinTransactionFee,
		MaxPending: cfg.MaxPendingTransactions,
	})
	mnr := miner.New(store, pool, engine, hot, miner.Config{
		MaxBlockSize:       cfg.MaxBlockSize,
		Timeout:            cfg.MiningTimeout,
		AdjustmentInterval: cfg.DifficultyAdjustmentInterval,
	})
	queries := ledger.NewQueries(store, hot, engine, cfg)
	authMgr := auth.New(store, cfg.JWTSecret, cfg.JWTExpiry)

	server := rpc.NewServer(cfg, rpc.Deps{
		Queries:  queries,
		Pool:     pool,
		Registry: registry,
		Miner:    mnr,
		Auth:     authMgr,
		Store:    store,
		Cache:    hot,
	})

	return &Node{
		cfg:    cfg,
		db:     db,
		hot:    hot,
		server: server,
	}, nil
}

// Start begins serving the API.
func (n *Node) Start() error {
	log.Node.Info().
		Str("database", n.cfg.DatabasePath).
		Float64("base_reward", n.cfg.BaseMiningReward).
		Int("base_difficulty", n.cfg.BaseDifficulty).
		Int("max_difficulty", n.cfg.MaxDifficulty).
		Float64("target_block_time", n.cfg.TargetBlockTime).
		Int("difficulty_adjustment_interval", n.cfg.DifficultyAdjustmentInterval).
		Int("halving_interval", n.cfg.HalvingInterval).
		Float64("min_transaction_fee", n.cfg.MinTransactionFee).
		Int("max_block_size", n.cfg.MaxBlockSize).
		Dur("mining_timeout", n.cfg.MiningTimeout).
		Msg("starting cadcoind")

	return n.server.Start()
}

// Addr returns the API listen address.
func (n *Node) Addr() string {
	return n.server.Addr()
}

// Stop shuts the node down in dependency order: API first, then cache and
// store.
func (n *Node) Stop(ctx context.Context) error {
	err := n.server.Stop(ctx)
	n.hot.Close()
	if cerr := n.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	log.Node.Info().Msg("cadcoind stopped")
	return err
}
