package ledger

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/cadcoin/cadcoind/config"
	"github.com/cadcoin/cadcoind/internal/cache"
	"github.com/cadcoin/cadcoind/internal/consensus"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Cache TTLs for the read surface. Everything here is rebuilt from the
// store on a miss, so staleness is bounded and harmless.
const (
	chainInfoTTL = 60 * time.Second
	balanceTTL   = 300 * time.Second
	coinsTTL     = 300 * time.Second
)

// hashRateWindow is how many recent blocks feed the network hash rate
// estimate.
const hashRateWindow = 10

// statsWindow is how many recent stats rows feed the mining averages.
const statsWindow = 100

// ChainInfo is the aggregate chain state returned by the info endpoint.
type ChainInfo struct {
	ChainLength                  uint64          `json:"chain_length"`
	CurrentDifficulty            int             `json:"current_difficulty"`
	BaseDifficulty               int             `json:"base_difficulty"`
	MaxDifficulty                int             `json:"max_difficulty"`
	PendingTransactions          int             `json:"pending_transactions"`
	MaxPendingTransactions       int             `json:"max_pending_transactions"`
	CurrentMiningReward          float64         `json:"current_mining_reward"`
	BaseMiningReward             float64         `json:"base_mining_reward"`
	TargetBlockTime              float64         `json:"target_block_time"`
	AvgMiningTime                float64         `json:"avg_mining_time"`
	EstimatedNetworkHashRate     float64         `json:"estimated_network_hash_rate"`
	MinTransactionFee            float64         `json:"min_transaction_fee"`
	MaxBlockSize                 int             `json:"max_block_size"`
	HalvingInterval              int             `json:"halving_interval"`
	DifficultyAdjustmentInterval int             `json:"difficulty_adjustment_interval"`
	StableCoins                  map[string]Coin `json:"stable_coins"`
	LatestBlockHash              string          `json:"latest_block_hash"`
	ChainIntegrityStatus         string          `json:"chain_integrity_status"`
}

// TxView is a committed transaction as exposed by the chain listing.
type TxView struct {
	ID               string            `json:"id"`
	Sender           string            `json:"sender"`
	Receiver         string            `json:"receiver"`
	Amount           float64           `json:"amount"`
	Fee              float64           `json:"fee"`
	CoinType         string            `json:"coin_type"`
	TransactionType  tx.Type           `json:"transaction_type"`
	Metadata         map[string]string `json:"metadata"`
	Timestamp        float64           `json:"timestamp"`
	ValidationStatus string            `json:"validation_status"`
}

// BlockView is a block joined with its stats row and transactions.
type BlockView struct {
	BlockRecord
	HashRate     float64  `json:"hash_rate"`
	AvgBlockTime float64  `json:"avg_block_time"`
	Transactions []TxView `json:"transactions"`
}

// BalancesView is the all-coin balance sheet for one address.
type BalancesView struct {
	Address       string             `json:"address"`
	Balances      map[string]float64 `json:"balances"`
	TotalCoins    int                `json:"total_coins"`
	TotalValueCAD float64            `json:"total_value_cad"`
}

// MinerStanding aggregates one miner's attempts over the stats window.
type MinerStanding struct {
	Miner      string  `json:"miner"`
	Attempts   int     `json:"attempts"`
	Successful int     `json:"successful"`
	AvgTime    float64 `json:"avg_time"`
}

// MiningStats is the detailed mining statistics view.
type MiningStats struct {
	TopMiners24h      []MinerStanding `json:"top_miners_24h"`
	AvgDifficulty     float64         `json:"avg_difficulty"`
	AvgReward         float64         `json:"avg_reward"`
	AvgHashRate       float64         `json:"avg_hash_rate"`
	CurrentDifficulty int             `json:"current_difficulty"`
	NextReward        float64         `json:"next_reward"`
	TargetBlockTime   float64         `json:"target_block_time"`
	Timestamp         float64         `json:"timestamp"`
}

// Queries is the read surface over the ledger, memoized through the hot
// cache. All writes bypass it; the miner invalidates affected keys after
// each commit.
type Queries struct {
	store  *Store
	cache  *cache.Cache
	engine *consensus.Engine
	cfg    *config.Config
}

// NewQueries creates the query surface.
func NewQueries(store *Store, hot *cache.Cache, engine *consensus.Engine, cfg *config.Config) *Queries {
	return &Queries{store: store, cache: hot, engine: engine, cfg: cfg}
}

// LatestBlock returns the tip, cached briefly.
func (q *Queries) LatestBlock() (BlockRecord, error) {
	var rec BlockRecord
	if q.cache.Get("latest_block", &rec) {
		return rec, nil
	}
	err := q.store.View(func(t *Tx) error {
		var err error
		rec, err = t.Tip()
		return err
	})
	if err != nil {
		return BlockRecord{}, err
	}
	q.cache.Set("latest_block", rec, balanceTTL)
	return rec, nil
}

// ChainInfo assembles the aggregate chain view.
func (q *Queries) ChainInfo() (ChainInfo, error) {
	var info ChainInfo
	if q.cache.Get("chain_info", &info) {
		return info, nil
	}

	err := q.store.View(func(t *Tx) error {
		length, err := t.ChainLength()
		if err != nil {
			return err
		}
		pending, err := t.PendingCount()
		if err != nil {
			return err
		}
		tip, err := t.Tip()
		if err != nil {
			return err
		}
		recent, err := t.RecentBlocks(q.cfg.DifficultyAdjustmentInterval + 1)
		if err != nil {
			return err
		}
		samples := make([]consensus.Sample, len(recent))
		for i, b := range recent {
			samples[i] = consensus.Sample{Timestamp: b.Timestamp, Difficulty: b.Difficulty}
		}
		coins, err := t.Coins()
		if err != nil {
			return err
		}
		stats, err := t.RecentStats(hashRateWindow)
		if err != nil {
			return err
		}
		var avgMining float64
		if len(stats) > 0 {
			for _, st := range stats {
				avgMining += st.AvgBlockTime
			}
			avgMining /= float64(len(stats))
		}

		info = ChainInfo{
			ChainLength:                  length,
			CurrentDifficulty:            q.engine.NextDifficulty(samples),
			BaseDifficulty:               q.cfg.BaseDifficulty,
			MaxDifficulty:                q.cfg.MaxDifficulty,
			PendingTransactions:          pending,
			MaxPendingTransactions:       q.cfg.MaxPendingTransactions,
			CurrentMiningReward:          q.engine.Reward(tip.Index + 1),
			BaseMiningReward:             q.cfg.BaseMiningReward,
			TargetBlockTime:              q.cfg.TargetBlockTime,
			AvgMiningTime:                avgMining,
			EstimatedNetworkHashRate:     networkHashRate(recent),
			MinTransactionFee:            q.cfg.MinTransactionFee,
			MaxBlockSize:                 q.cfg.MaxBlockSize,
			HalvingInterval:              q.cfg.HalvingInterval,
			DifficultyAdjustmentInterval: q.cfg.DifficultyAdjustmentInterval,
			StableCoins:                  coins,
			LatestBlockHash:              tip.Hash,
			ChainIntegrityStatus:         "validated",
		}
		return nil
	})
	if err != nil {
		return ChainInfo{}, err
	}
	q.cache.Set("chain_info", info, chainInfoTTL)
	return info, nil
}

// networkHashRate estimates the network hash rate as the mean of
// 2^difficulty / mining_time over the recent non-genesis blocks.
func networkHashRate(recent []BlockRecord) float64 {
	var sum float64
	n := 0
	for _, b := range recent {
		if b.Index == 0 || b.MiningTime <= 0 {
			continue
		}
		sum += math.Pow(2, float64(b.Difficulty)) / b.MiningTime
		n++
		if n >= hashRateWindow {
			break
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// BalanceOf returns the balance of one address in one coin, cached.
func (q *Queries) BalanceOf(address, coinType string) (float64, error) {
	key := fmt.Sprintf("balance_%s_%s", address, coinType)
	var balance float64
	if q.cache.Get(key, &balance) {
		return balance, nil
	}
	err := q.store.View(func(t *Tx) error {
		var err error
		balance, err = t.Balance(address, coinType)
		return err
	})
	if err != nil {
		return 0, err
	}
	q.cache.Set(key, balance, balanceTTL)
	return balance, nil
}

// BalancesOf returns the full balance sheet for an address, with the coin
// count and the naive cross-coin total.
func (q *Queries) BalancesOf(address string) (BalancesView, error) {
	var balances map[string]float64
	err := q.store.View(func(t *Tx) error {
		var err error
		balances, err = t.Balances(address)
		return err
	})
	if err != nil {
		return BalancesView{}, err
	}
	var total float64
	for _, b := range balances {
		total += b
	}
	return BalancesView{
		Address:       address,
		Balances:      balances,
		TotalCoins:    len(balances),
		TotalValueCAD: total,
	}, nil
}

// Blocks returns a tip-first page of blocks joined with stats and
// transactions.
func (q *Queries) Blocks(limit, offset int) ([]BlockView, error) {
	var views []BlockView
	err := q.store.View(func(t *Tx) error {
		blocks, err := t.BlocksPage(limit, offset)
		if err != nil {
			return err
		}
		views = make([]BlockView, 0, len(blocks))
		for _, b := range blocks {
			view := BlockView{BlockRecord: b}
			if st, err := t.Stats(b.Index); err == nil {
				view.HashRate = st.HashRate
				view.AvgBlockTime = st.AvgBlockTime
			} else if err != ErrNotFound {
				return err
			}
			rows, err := t.BlockTransactions(b.Index)
			if err != nil {
				return err
			}
			view.Transactions = make([]TxView, len(rows))
			for i, row := range rows {
				view.Transactions[i] = TxView{
					ID:               row.TxID,
					Sender:           row.Sender,
					Receiver:         row.Receiver,
					Amount:           row.Amount,
					Fee:              row.Fee,
					CoinType:         row.CoinType,
					TransactionType:  row.TransactionType,
					Metadata:         row.Metadata,
					Timestamp:        row.Timestamp,
					ValidationStatus: row.ValidationStatus,
				}
			}
			views = append(views, view)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return views, nil
}

// StableCoins returns the registry, cached.
func (q *Queries) StableCoins() (map[string]Coin, error) {
	var coins map[string]Coin
	if q.cache.Get("stable_coins", &coins) {
		return coins, nil
	}
	err := q.store.View(func(t *Tx) error {
		var err error
		coins, err = t.Coins()
		return err
	})
	if err != nil {
		return nil, err
	}
	q.cache.Set("stable_coins", coins, coinsTTL)
	return coins, nil
}

// MiningStats aggregates the last 24 hours of attempts and the windowed
// network averages.
func (q *Queries) MiningStats() (MiningStats, error) {
	var out MiningStats
	err := q.store.View(func(t *Tx) error {
		attempts, err := t.AttemptsSince(tx.Now() - 86400)
		if err != nil {
			return err
		}
		out.TopMiners24h = rankMiners(attempts, 10)

		length, err := t.ChainLength()
		if err != nil {
			return err
		}
		window := statsWindow
		if uint64(window) > length {
			window = int(length)
		}
		stats, err := t.RecentStats(window)
		if err != nil {
			return err
		}
		if len(stats) > 0 {
			for _, st := range stats {
				out.AvgDifficulty += float64(st.CurrentDifficulty)
				out.AvgReward += st.CurrentReward
				out.AvgHashRate += st.HashRate
			}
			n := float64(len(stats))
			out.AvgDifficulty /= n
			out.AvgReward /= n
			out.AvgHashRate /= n
		}

		tip, err := t.Tip()
		if err != nil {
			return err
		}
		recent, err := t.RecentBlocks(q.cfg.DifficultyAdjustmentInterval + 1)
		if err != nil {
			return err
		}
		samples := make([]consensus.Sample, len(recent))
		for i, b := range recent {
			samples[i] = consensus.Sample{Timestamp: b.Timestamp, Difficulty: b.Difficulty}
		}
		out.CurrentDifficulty = q.engine.NextDifficulty(samples)
		out.NextReward = q.engine.Reward(tip.Index + 1)
		return nil
	})
	if err != nil {
		return MiningStats{}, err
	}
	out.TargetBlockTime = q.cfg.TargetBlockTime
	out.Timestamp = tx.Now()
	return out, nil
}

// rankMiners groups attempts per miner and orders by success count.
func rankMiners(attempts []MiningAttempt, limit int) []MinerStanding {
	byMiner := make(map[string]*MinerStanding)
	successTime := make(map[string]float64)
	var order []string
	for _, a := range attempts {
		st, ok := byMiner[a.Miner]
		if !ok {
			st = &MinerStanding{Miner: a.Miner}
			byMiner[a.Miner] = st
			order = append(order, a.Miner)
		}
		st.Attempts++
		if a.Success {
			st.Successful++
			successTime[a.Miner] += a.EndTime - a.StartTime
		}
	}

	out := make([]MinerStanding, 0, len(order))
	for _, m := range order {
		st := byMiner[m]
		if st.Successful > 0 {
			st.AvgTime = successTime[m] / float64(st.Successful)
		}
		out = append(out, *st)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Successful > out[j].Successful
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
