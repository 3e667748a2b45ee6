// Package tx defines the transaction value object and its validation.
package tx

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type classifies a transaction.
type Type string

// Transaction types.
const (
	TypeTransfer     Type = "transfer"
	TypeMiningReward Type = "mining_reward"
	TypeMintStable   Type = "mint_stable"
)

// RewardSender is the synthetic sender address on mining reward transactions.
const RewardSender = "mining_reward"

// MintSender is the synthetic sender address on mint transactions.
const MintSender = "mint"

// Validation errors.
var (
	ErrAmountNotPositive = errors.New("amount must be positive")
	ErrNegativeFee       = errors.New("fee cannot be negative")
	ErrBadAddress        = errors.New("invalid address format")
	ErrSelfTransfer      = errors.New("cannot transfer to self")
)

// minAddressLen is the minimum accepted account identifier length.
const minAddressLen = 3

// Transaction is an immutable ledger transaction. Once published to the
// mempool its fields must not be mutated.
type Transaction struct {
	ID        string            `json:"id"`
	Sender    string            `json:"sender"`
	Receiver  string            `json:"receiver"`
	Amount    float64           `json:"amount"`
	Fee       float64           `json:"fee"`
	CoinType  string            `json:"coin_type"`
	Type      Type              `json:"transaction_type"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp float64           `json:"timestamp"`
}

// New creates a transfer transaction with a fresh identifier and the
// current timestamp. The fee defaults to zero; callers apply fee policy.
func New(sender, receiver string, amount float64, coinType string) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receiver:  receiver,
		Amount:    amount,
		CoinType:  coinType,
		Type:      TypeTransfer,
		Metadata:  map[string]string{},
		Timestamp: Now(),
	}
}

// Now returns the current time as fractional seconds since the epoch.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// CanonicalMap returns the transaction as a plain map for canonical JSON
// encoding. encoding/json serializes map keys in sorted order, so two
// transactions with equal fields always produce identical bytes.
func (t *Transaction) CanonicalMap() map[string]interface{} {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	return map[string]interface{}{
		"id":               t.ID,
		"sender":           t.Sender,
		"receiver":         t.Receiver,
		"amount":           t.Amount,
		"fee":              t.Fee,
		"coin_type":        t.CoinType,
		"transaction_type": string(t.Type),
		"metadata":         metadata,
		"timestamp":        t.Timestamp,
	}
}

// Canonical returns the canonical JSON encoding (sorted keys).
func (t *Transaction) Canonical() []byte {
	data, err := json.Marshal(t.CanonicalMap())
	if err != nil {
		// A map of strings and numbers cannot fail to marshal.
		panic(fmt.Sprintf("tx canonical marshal: %v", err))
	}
	return data
}

// Hash returns the hex SHA-256 digest of the canonical encoding.
func (t *Transaction) Hash() string {
	sum := sha256.Sum256(t.Canonical())
	return hex.EncodeToString(sum[:])
}

// Validate checks the transaction invariants.
func (t *Transaction) Validate() error {
	if t.Amount <= 0 {
		return ErrAmountNotPositive
	}
	if t.Fee < 0 {
		return ErrNegativeFee
	}
	if len(t.Sender) < minAddressLen || len(t.Receiver) < minAddressLen {
		return ErrBadAddress
	}
	if t.Sender == t.Receiver && t.Type == TypeTransfer {
		return ErrSelfTransfer
	}
	return nil
}
