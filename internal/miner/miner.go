// Package miner orchestrates block production: transaction selection,
// proof-of-work, validation and the atomic chain commit.
package miner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cadcoin/cadcoind/internal/cache"
	"github.com/cadcoin/cadcoind/internal/consensus"
	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/internal/mempool"
	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/block"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// ErrLostRace is returned when another miner committed the same height
// first. The attempt is wasted work, not a fault.
var ErrLostRace = errors.New("block was mined by another miner")

// Config carries the miner's policy knobs.
type Config struct {
	MaxBlockSize       int
	Timeout            time.Duration
	AdjustmentInterval int
}

// Result summarizes a successful mining round.
type Result struct {
	BlockIndex uint64  `json:"block_index"`
	BlockHash  string  `json:"block_hash"`
	Reward     float64 `json:"reward"`
	Difficulty int     `json:"difficulty"`
	MiningTime float64 `json:"mining_time"`
	TxCount    int     `json:"transactions"`
	Message    string  `json:"message"`
}

// Miner produces blocks over the ledger store.
type Miner struct {
	store  *ledger.Store
	pool   *mempool.Pool
	engine *consensus.Engine
	cache  *cache.Cache
	cfg    Config
}

// New creates a miner.
func New(store *ledger.Store, pool *mempool.Pool, engine *consensus.Engine, hot *cache.Cache, cfg Config) *Miner {
	return &Miner{store: store, pool: pool, engine: engine, cache: hot, cfg: cfg}
}

// Mine assembles and mines one block credited to minerAddr. Selection and
// the PoW search run outside any store transaction; the commit is a single
// atomic unit that re-checks the tip, so a concurrent winner surfaces as
// ErrLostRace and the loser's state is untouched except its attempt row.
func (m *Miner) Mine(ctx context.Context, minerAddr string) (*Result, error) {
	var (
		tip     ledger.BlockRecord
		samples []consensus.Sample
	)
	err := m.store.View(func(t *ledger.Tx) error {
		var err error
		tip, err = t.Tip()
		if err != nil {
			return err
		}
		recent, err := t.RecentBlocks(m.cfg.AdjustmentInterval + 1)
		if err != nil {
			return err
		}
		samples = make([]consensus.Sample, len(recent))
		for i, b := range recent {
			samples[i] = consensus.Sample{Timestamp: b.Timestamp, Difficulty: b.Difficulty}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tip: %w", err)
	}

	nextIndex := tip.Index + 1
	difficulty := m.engine.NextDifficulty(samples)
	reward := m.engine.Reward(nextIndex)

	// One block slot is reserved for the reward transaction.
	pending, err := m.pool.Select(m.cfg.MaxBlockSize - 1)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}

	attemptStart := tx.Now()
	err = m.store.Update(func(t *ledger.Tx) error {
		return t.PutAttempt(ledger.MiningAttempt{
			BlockIndex: nextIndex,
			Miner:      minerAddr,
			StartTime:  attemptStart,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	txs := make([]*tx.Transaction, 0, len(pending)+1)
	var totalFees float64
	for _, p := range pending {
		txs = append(txs, p.Tx())
		totalFees += p.Fee
	}
	rewardTx := tx.New(tx.RewardSender, minerAddr, reward+totalFees, ledger.NativeCoin)
	rewardTx.Type = tx.TypeMiningReward
	txs = append(txs, rewardTx)

	blk := block.New(nextIndex, txs, tip.Hash, minerAddr, difficulty)

	log.Miner.Info().
		Uint64("index", nextIndex).
		Int("transactions", len(txs)).
		Int("difficulty", difficulty).
		Float64("reward", reward+totalFees).
		Msg("mining block")

	err = blk.Mine(ctx, m.cfg.Timeout, func(attempts uint64, hashRate float64, elapsed time.Duration) {
		log.Miner.Debug().
			Uint64("index", nextIndex).
			Uint64("attempts", attempts).
			Float64("hash_rate", hashRate).
			Dur("elapsed", elapsed).
			Msg("mining progress")
	})
	if err != nil {
		m.recordFailure(nextIndex, minerAddr, blk.Nonce)
		log.Miner.Warn().Uint64("index", nextIndex).Err(err).Msg("mining failed")
		return nil, err
	}

	if err := blk.Validate(tip.Hash); err != nil {
		m.recordFailure(nextIndex, minerAddr, blk.Nonce)
		return nil, fmt.Errorf("mined block validation failed: %w", err)
	}

	if err := m.commit(blk, pending, reward, minerAddr); err != nil {
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, ledger.ErrBlockExists) {
			m.recordFailure(nextIndex, minerAddr, blk.Nonce)
			return nil, fmt.Errorf("%w: height %d", ErrLostRace, nextIndex)
		}
		return nil, err
	}

	m.cache.InvalidatePattern("latest_block*")
	m.cache.InvalidatePattern("chain_info*")
	m.cache.InvalidatePattern(fmt.Sprintf("balance_%s*", minerAddr))
	for _, p := range pending {
		if p.TransactionType == tx.TypeMintStable {
			m.cache.InvalidatePattern("stable_coins*")
			break
		}
	}

	log.Miner.Info().
		Uint64("index", blk.Index).
		Str("hash", blk.Hash).
		Float64("reward", reward+totalFees).
		Float64("mining_time", blk.MiningTime).
		Msg("block mined")

	return &Result{
		BlockIndex: blk.Index,
		BlockHash:  blk.Hash,
		Reward:     reward + totalFees,
		Difficulty: difficulty,
		MiningTime: blk.MiningTime,
		TxCount:    len(txs),
		Message: fmt.Sprintf("Mined block %d. Reward: %.8f CAD-COIN. Difficulty: %d, Time: %.2fs",
			blk.Index, reward+totalFees, difficulty, blk.MiningTime),
	}, nil
}

// commit persists the block, its transactions, balance effects, stats and
// attempt outcome, and clears the included pending rows, all atomically.
func (m *Miner) commit(blk *block.Block, included []ledger.PendingTx, reward float64, minerAddr string) error {
	return m.store.Update(func(t *ledger.Tx) error {
		rec := ledger.BlockRecord{
			Index:            blk.Index,
			Hash:             blk.Hash,
			PreviousHash:     blk.PreviousHash,
			Miner:            blk.Miner,
			Nonce:            blk.Nonce,
			Difficulty:       blk.Difficulty,
			Timestamp:        blk.Timestamp,
			MiningTime:       blk.MiningTime,
			BlockSize:        blk.BlockSize,
			TotalFees:        blk.TotalFees,
			ValidationStatus: "validated",
		}
		rows := make([]ledger.TxRecord, len(blk.Transactions))
		for i, txn := range blk.Transactions {
			rows[i] = ledger.TxRecord{
				TxID:             txn.ID,
				BlockIndex:       blk.Index,
				Sender:           txn.Sender,
				Receiver:         txn.Receiver,
				Amount:           txn.Amount,
				Fee:              txn.Fee,
				CoinType:         txn.CoinType,
				TransactionType:  txn.Type,
				Metadata:         txn.Metadata,
				Timestamp:        txn.Timestamp,
				ValidationStatus: "validated",
			}
		}

		if err := t.PutBlock(rec, rows); err != nil {
			return err
		}
		if err := ledger.ApplyTransactions(t, rows); err != nil {
			return err
		}

		hashRate := 0.0
		if blk.MiningTime > 0 {
			hashRate = float64(blk.Nonce) / blk.MiningTime
		}
		if err := t.PutStats(ledger.ChainStats{
			BlockIndex:        blk.Index,
			CurrentDifficulty: blk.Difficulty,
			CurrentReward:     reward,
			AvgBlockTime:      blk.MiningTime,
			HashRate:          hashRate,
		}); err != nil {
			return err
		}

		attempt, err := t.Attempt(blk.Index, minerAddr)
		if err != nil {
			return err
		}
		attempt.EndTime = tx.Now()
		attempt.Success = true
		attempt.AttemptsCount = blk.Nonce
		if err := t.PutAttempt(attempt); err != nil {
			return err
		}

		for _, p := range included {
			if err := t.DeletePending(p.TxID); err != nil {
				return err
			}
		}
		return nil
	})
}

// recordFailure closes the attempt row after a timeout, validation failure
// or lost commit race. Best effort; the attempt log never blocks the error
// path.
func (m *Miner) recordFailure(index uint64, minerAddr string, nonce uint64) {
	err := m.store.Update(func(t *ledger.Tx) error {
		attempt, err := t.Attempt(index, minerAddr)
		if err != nil {
			return err
		}
		attempt.EndTime = tx.Now()
		attempt.Success = false
		attempt.AttemptsCount = nonce
		return t.PutAttempt(attempt)
	})
	if err != nil {
		log.Miner.Warn().Uint64("index", index).Err(err).Msg("attempt update failed")
	}
}
