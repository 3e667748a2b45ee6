// Package mempool manages the pending transaction pool: admission policy,
// fee defaulting and priority ordering for block inclusion.
package mempool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Admission errors.
var (
	// ErrPoolFull is returned when the pool holds the configured maximum.
	ErrPoolFull = errors.New("too many pending transactions")
	// ErrInsufficientBalance is returned when the sender cannot cover
	// amount plus fee out of their spendable balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnknownCoin is returned for transfers in a coin that was never
	// registered.
	ErrUnknownCoin = errors.New("coin type does not exist")
	// ErrFeeTooLow is returned when an explicit fee is below the minimum.
	ErrFeeTooLow = errors.New("fee below minimum")
)

// Config carries the pool's policy knobs.
type Config struct {
	MaxPending int
	MinFee     float64
}

// Pool is the fee-prioritized pending pool. All state lives in the ledger
// store; the pool itself is stateless and safe for concurrent use.
type Pool struct {
	store *ledger.Store
	cfg   Config
}

// New creates a pool over the given store.
func New(store *ledger.Store, cfg Config) *Pool {
	return &Pool{store: store, cfg: cfg}
}

// SubmitTransfer validates and admits a transfer. A negative fee selects
// the default fee policy (0.1% of amount, floored at the minimum fee).
// Admission runs in one store transaction so the spendable-balance check
// and the insert cannot interleave with a concurrent commit.
func (p *Pool) SubmitTransfer(sender, receiver string, amount float64, coinType string, fee float64) (*tx.Transaction, error) {
	if fee < 0 {
		fee = tx.DefaultFee(amount, p.cfg.MinFee)
	}

	txn := tx.New(sender, receiver, amount, coinType)
	txn.Fee = fee
	if err := txn.Validate(); err != nil {
		return nil, err
	}
	if fee < p.cfg.MinFee {
		return nil, fmt.Errorf("%w: minimum %v", ErrFeeTooLow, p.cfg.MinFee)
	}

	err := p.store.Update(func(t *ledger.Tx) error {
		if ok, err := t.HasCoin(coinType); err != nil {
			return err
		} else if !ok {
			return ErrUnknownCoin
		}

		count, err := t.PendingCount()
		if err != nil {
			return err
		}
		if count >= p.cfg.MaxPending {
			return ErrPoolFull
		}

		// Spendable balance excludes amounts already promised to queued
		// transfers, so a sender cannot double-spend across the pool.
		committed, err := t.Balance(sender, coinType)
		if err != nil {
			return err
		}
		pending, err := t.PendingDebits(sender, coinType)
		if err != nil {
			return err
		}
		required := amount + fee
		if committed-pending < required {
			return fmt.Errorf("%w: required %.8f (amount + fee)", ErrInsufficientBalance, required)
		}

		return t.PutPending(ledger.NewPending(txn))
	})
	if err != nil {
		return nil, err
	}

	log.Mempool.Info().
		Str("tx_id", txn.ID).
		Str("sender", sender).
		Str("receiver", receiver).
		Float64("amount", amount).
		Float64("fee", fee).
		Str("coin_type", coinType).
		Msg("transaction admitted")
	return txn, nil
}

// Enqueue admits an already validated synthetic transaction (mints). The
// balance and coin checks are the caller's responsibility.
func (p *Pool) Enqueue(txn *tx.Transaction) error {
	err := p.store.Update(func(t *ledger.Tx) error {
		count, err := t.PendingCount()
		if err != nil {
			return err
		}
		if count >= p.cfg.MaxPending {
			return ErrPoolFull
		}
		return t.PutPending(ledger.NewPending(txn))
	})
	if err != nil {
		return err
	}
	log.Mempool.Info().
		Str("tx_id", txn.ID).
		Str("type", string(txn.Type)).
		Str("coin_type", txn.CoinType).
		Float64("amount", txn.Amount).
		Msg("synthetic transaction enqueued")
	return nil
}

// Select returns up to limit pending transactions in mining priority
// order: effective priority (fee plus hours of age) descending, insertion
// time ascending as the tiebreak.
func (p *Pool) Select(limit int) ([]ledger.PendingTx, error) {
	var rows []ledger.PendingTx
	err := p.store.View(func(t *ledger.Tx) error {
		var err error
		rows, err = t.PendingAll()
		return err
	})
	if err != nil {
		return nil, err
	}
	SortByPriority(rows, tx.Now())
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// Count returns the pool size.
func (p *Pool) Count() (int, error) {
	var n int
	err := p.store.View(func(t *ledger.Tx) error {
		var err error
		n, err = t.PendingCount()
		return err
	})
	return n, err
}

// SortByPriority orders rows in place by effective priority at time now.
func SortByPriority(rows []ledger.PendingTx, now float64) {
	sort.SliceStable(rows, func(i, j int) bool {
		pi := effectivePriority(rows[i], now)
		pj := effectivePriority(rows[j], now)
		if pi != pj {
			return pi > pj
		}
		return rows[i].CreatedAt < rows[j].CreatedAt
	})
}

// effectivePriority is the fee plus one point per hour the transaction has
// waited, so starved low-fee transactions eventually surface.
func effectivePriority(row ledger.PendingTx, now float64) float64 {
	return row.Fee + (now-row.Timestamp)/3600
}
