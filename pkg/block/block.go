// Package block defines the block aggregate and its proof-of-work search.
package block

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Block errors.
var (
	ErrMiningTimeout    = errors.New("mining timed out")
	ErrBadPreviousHash  = errors.New("invalid previous hash")
	ErrInsufficientWork = errors.New("invalid block hash or difficulty")
	ErrHashMismatch     = errors.New("block hash verification failed")
	ErrEmptyBlock       = errors.New("block cannot be empty")
)

// checkInterval is how often the mining loop reads the wall clock and
// reports progress, in nonce iterations.
const checkInterval = 100_000

// ProgressFunc receives periodic mining progress reports.
type ProgressFunc func(attempts uint64, hashRate float64, elapsed time.Duration)

// Block aggregates transactions under a proof-of-work header.
type Block struct {
	Index        uint64            `json:"index"`
	Transactions []*tx.Transaction `json:"transactions"`
	PreviousHash string            `json:"previous_hash"`
	Miner        string            `json:"miner"`
	Timestamp    float64           `json:"timestamp"`
	Difficulty   int               `json:"difficulty"`
	Nonce        uint64            `json:"nonce"`
	Hash         string            `json:"hash"`

	// Mining observations, populated by Mine.
	MiningTime float64 `json:"mining_time"`
	BlockSize  int     `json:"block_size"`
	TotalFees  float64 `json:"total_fees"`
}

// New creates an unmined block on top of the given predecessor hash.
// The timestamp is set at construction.
func New(index uint64, transactions []*tx.Transaction, previousHash, miner string, difficulty int) *Block {
	var totalFees float64
	for _, t := range transactions {
		totalFees += t.Fee
	}
	return &Block{
		Index:        index,
		Transactions: transactions,
		PreviousHash: previousHash,
		Miner:        miner,
		Timestamp:    tx.Now(),
		Difficulty:   difficulty,
		BlockSize:    len(transactions),
		TotalFees:    totalFees,
	}
}

// CalculateHash returns the hex SHA-256 digest of the block's canonical JSON
// encoding: {index, transactions, previous_hash, miner, timestamp, nonce}
// with sorted keys. Transactions are encoded in their own canonical form, so
// the digest is independent of field ordering anywhere in the structure.
func (b *Block) CalculateHash() string {
	txs := make([]map[string]interface{}, len(b.Transactions))
	for i, t := range b.Transactions {
		txs[i] = t.CanonicalMap()
	}
	payload := map[string]interface{}{
		"index":         b.Index,
		"transactions":  txs,
		"previous_hash": b.PreviousHash,
		"miner":         b.Miner,
		"timestamp":     b.Timestamp,
		"nonce":         b.Nonce,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("block canonical marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Mine searches the nonce space from zero until the block hash carries the
// required leading-zero prefix or the timeout elapses. The deadline and the
// context are checked every checkInterval iterations to amortize the clock
// read; progress (when non-nil) is reported on the same cadence.
func (b *Block) Mine(ctx context.Context, timeout time.Duration, progress ProgressFunc) error {
	target := strings.Repeat("0", b.Difficulty)
	start := time.Now()

	for b.Nonce = 0; ; b.Nonce++ {
		b.Hash = b.CalculateHash()
		if strings.HasPrefix(b.Hash, target) {
			b.MiningTime = time.Since(start).Seconds()
			return nil
		}

		if b.Nonce > 0 && b.Nonce%checkInterval == 0 {
			elapsed := time.Since(start)
			if progress != nil {
				progress(b.Nonce, float64(b.Nonce)/elapsed.Seconds(), elapsed)
			}
			if elapsed > timeout {
				b.MiningTime = elapsed.Seconds()
				return fmt.Errorf("%w after %.1fs", ErrMiningTimeout, elapsed.Seconds())
			}
			select {
			case <-ctx.Done():
				b.MiningTime = elapsed.Seconds()
				return ctx.Err()
			default:
			}
		}
	}
}

// Validate checks the mined block against its expected predecessor:
// linkage, difficulty prefix, hash integrity, non-emptiness, and the
// individual validity of every contained transaction.
func (b *Block) Validate(expectedPreviousHash string) error {
	if b.PreviousHash != expectedPreviousHash {
		return fmt.Errorf("%w: expected %s, got %s", ErrBadPreviousHash, expectedPreviousHash, b.PreviousHash)
	}
	if b.Hash == "" || !strings.HasPrefix(b.Hash, strings.Repeat("0", b.Difficulty)) {
		return ErrInsufficientWork
	}
	if b.CalculateHash() != b.Hash {
		return ErrHashMismatch
	}
	if len(b.Transactions) == 0 {
		return ErrEmptyBlock
	}
	for _, t := range b.Transactions {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("invalid transaction %s: %w", t.ID, err)
		}
	}
	return nil
}
