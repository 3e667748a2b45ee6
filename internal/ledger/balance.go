package ledger

import (
	"fmt"

	"github.com/cadcoin/cadcoind/pkg/tx"
)

// ApplyTransactions replays a committed block's transactions onto the
// balance table inside the caller's transaction. Transfers debit the sender
// with amount plus fee and credit the receiver with the amount only; the
// fee reaches the miner through the reward transaction. Mints and rewards
// credit the receiver from nothing; mints additionally grow the coin's
// recorded supply, so supply only moves when the mint actually commits.
func ApplyTransactions(t *Tx, rows []TxRecord) error {
	for _, row := range rows {
		switch row.TransactionType {
		case tx.TypeMintStable:
			if err := t.AddBalance(row.Receiver, row.CoinType, row.Amount); err != nil {
				return fmt.Errorf("mint credit %s: %w", row.Receiver, err)
			}
			if err := t.AddSupply(row.CoinType, row.Amount); err != nil {
				return fmt.Errorf("mint supply %s: %w", row.CoinType, err)
			}
		case tx.TypeMiningReward:
			if err := t.AddBalance(row.Receiver, row.CoinType, row.Amount); err != nil {
				return fmt.Errorf("reward credit %s: %w", row.Receiver, err)
			}
		default:
			if err := t.AddBalance(row.Sender, row.CoinType, -(row.Amount + row.Fee)); err != nil {
				return fmt.Errorf("transfer debit %s: %w", row.Sender, err)
			}
			if err := t.AddBalance(row.Receiver, row.CoinType, row.Amount); err != nil {
				return fmt.Errorf("transfer credit %s: %w", row.Receiver, err)
			}
		}
	}
	return nil
}
