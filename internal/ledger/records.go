// Package ledger implements the durable ledger state: block and transaction
// persistence, balances, the stablecoin and minter registries, chain
// statistics, and the read queries built on top of them.
package ledger

import "github.com/cadcoin/cadcoind/pkg/tx"

// BlockRecord is the persisted block header row. Transactions are stored
// separately, keyed by block index and insertion sequence.
type BlockRecord struct {
	Index            uint64  `json:"index"`
	Hash             string  `json:"hash"`
	PreviousHash     string  `json:"previous_hash"`
	Miner            string  `json:"miner"`
	Nonce            uint64  `json:"nonce"`
	Difficulty       int     `json:"difficulty"`
	Timestamp        float64 `json:"timestamp"`
	MiningTime       float64 `json:"mining_time"`
	BlockSize        int     `json:"block_size"`
	TotalFees        float64 `json:"total_fees"`
	ValidationStatus string  `json:"validation_status"`
}

// TxRecord is a committed transaction row.
type TxRecord struct {
	TxID             string            `json:"tx_id"`
	BlockIndex       uint64            `json:"block_index"`
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

// PendingTx is a mempool row: transaction fields plus the static priority
// score assigned at insertion.
type PendingTx struct {
	TxID            string            `json:"tx_id"`
	Sender          string            `json:"sender"`
	Receiver        string            `json:"receiver"`
	Amount          float64           `json:"amount"`
	Fee             float64           `json:"fee"`
	CoinType        string            `json:"coin_type"`
	TransactionType tx.Type           `json:"transaction_type"`
	Metadata        map[string]string `json:"metadata"`
	Timestamp       float64           `json:"timestamp"`
	PriorityScore   int               `json:"priority_score"`
	CreatedAt       float64           `json:"created_at"`
}

// NewPending builds a mempool row from a transaction. The priority score is
// derived from the fee at insertion time.
func NewPending(t *tx.Transaction) PendingTx {
	return PendingTx{
		TxID:            t.ID,
		Sender:          t.Sender,
		Receiver:        t.Receiver,
		Amount:          t.Amount,
		Fee:             t.Fee,
		CoinType:        t.CoinType,
		TransactionType: t.Type,
		Metadata:        t.Metadata,
		Timestamp:       t.Timestamp,
		PriorityScore:   int(t.Fee * 1000),
		CreatedAt:       tx.Now(),
	}
}

// Tx reconstructs the transaction value object from the pending row.
func (p PendingTx) Tx() *tx.Transaction {
	return &tx.Transaction{
		ID:        p.TxID,
		Sender:    p.Sender,
		Receiver:  p.Receiver,
		Amount:    p.Amount,
		Fee:       p.Fee,
		CoinType:  p.CoinType,
		Type:      p.TransactionType,
		Metadata:  p.Metadata,
		Timestamp: p.Timestamp,
	}
}

// Balance is a per-address, per-coin balance row.
type Balance struct {
	Address       string  `json:"address"`
	CoinType      string  `json:"coin_type"`
	Balance       float64 `json:"balance"`
	FrozenBalance float64 `json:"frozen_balance"`
	UpdatedAt     float64 `json:"updated_at"`
}

// Coin is a stablecoin registry row. MaxSupply is nil for unbounded coins.
type Coin struct {
	Symbol          string   `json:"symbol"`
	Name            string   `json:"name"`
	CollateralRatio float64  `json:"collateral_ratio"`
	BackedBy        string   `json:"backed_by"`
	MaxSupply       *float64 `json:"max_supply"`
	TotalSupply     float64  `json:"total_supply"`
	CreationDate    float64  `json:"creation_date"`
}

// Minter is an authorized-minter row.
type Minter struct {
	CoinSymbol    string  `json:"coin_symbol"`
	MinterAddress string  `json:"minter_address"`
	Authorizer    string  `json:"authorizer"`
	CreatedAt     float64 `json:"created_at"`
}

// ChainStats is the per-block statistics row.
type ChainStats struct {
	BlockIndex        uint64  `json:"block_index"`
	CurrentDifficulty int     `json:"current_difficulty"`
	CurrentReward     float64 `json:"current_reward"`
	AvgBlockTime      float64 `json:"avg_block_time"`
	HashRate          float64 `json:"hash_rate"`
}

// MiningAttempt is an audit row for one invocation of the miner.
type MiningAttempt struct {
	BlockIndex    uint64  `json:"block_index"`
	Miner         string  `json:"miner"`
	StartTime     float64 `json:"start_time"`
	EndTime       float64 `json:"end_time"`
	Success       bool    `json:"success"`
	AttemptsCount uint64  `json:"attempts_count"`
}

// User is a registered account row.
type User struct {
	Address         string  `json:"address"`
	PasswordHash    string  `json:"password_hash"`
	ReputationScore int     `json:"reputation_score"`
	CreatedAt       float64 `json:"created_at"`
	LastActivity    float64 `json:"last_activity"`
}
